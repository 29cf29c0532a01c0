package models

import (
	"errors"
	"fmt"
)

// ErrValidation is wrapped by every ValidationError.
var ErrValidation = errors.New("invalid price cache entry")

type ValidationError struct {
	Key    string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid price cache entry %s: %s %s", e.Key, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// Validate applies the write-time structural rules to an entry.
func (e PriceCacheEntry) Validate() error {
	key := e.Key()
	switch {
	case e.Symbol == "":
		return &ValidationError{Key: key, Field: "symbol", Reason: "is empty"}
	case !e.AssetType.Valid():
		return &ValidationError{Key: key, Field: "asset_type", Reason: fmt.Sprintf("%q is not supported", e.AssetType)}
	case e.Currency == "":
		return &ValidationError{Key: key, Field: "currency", Reason: "is empty"}
	case e.Source == "":
		return &ValidationError{Key: key, Field: "source", Reason: "is empty"}
	case e.LastUpdated.IsZero():
		return &ValidationError{Key: key, Field: "last_updated", Reason: "is not set"}
	case !e.Price.IsPositive():
		return &ValidationError{Key: key, Field: "price", Reason: fmt.Sprintf("must be positive, got %s", e.Price)}
	}
	return nil
}
