package database

import (
	"database/sql/driver"
	"fmt"

	"github.com/shopspring/decimal"
)

// Decimal is a wrapper for shopspring.Decimal with DB compatibility.
type Decimal struct {
	decimal.Decimal
}

// Value implements the driver.Valuer interface for database serialization.
func (d Decimal) Value() (driver.Value, error) {
	return d.Decimal.String(), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
// NUMERIC columns arrive from lib/pq as []byte.
func (d *Decimal) Scan(value interface{}) error {
	switch v := value.(type) {
	case []byte:
		dec, err := decimal.NewFromString(string(v))
		if err != nil {
			return err
		}
		d.Decimal = dec
	case string:
		dec, err := decimal.NewFromString(v)
		if err != nil {
			return err
		}
		d.Decimal = dec
	case float64:
		d.Decimal = decimal.NewFromFloat(v)
	case int64:
		d.Decimal = decimal.NewFromInt(v)
	case nil:
		d.Decimal = decimal.Zero
	default:
		return fmt.Errorf("cannot scan decimal value: %v", value)
	}
	return nil
}
