// Package api exposes the cache facade over HTTP for the dashboard loader.
package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/finboard/price-cache/services/price-cache/internal/service"
	"github.com/finboard/price-cache/services/price-cache/pkg/models"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type CacheService interface {
	GetPortfolioData(ctx context.Context, userID string, symbols models.PortfolioSymbols) *service.PortfolioData
	UpdatePortfolioCache(ctx context.Context, userID string, symbols models.PortfolioSymbols) *service.CacheUpdateResult
	ShouldUpdateCache(ctx context.Context, userID string, symbols models.PortfolioSymbols) *service.UpdateRecommendation
	GetCacheStats(ctx context.Context, userID string, symbols models.PortfolioSymbols) *service.CacheStats
	ValidateCacheIntegrity(ctx context.Context, symbols models.PortfolioSymbols) *service.IntegrityReport
}

type Handler struct {
	svc    CacheService
	logger *logrus.Logger
}

func NewHandler(svc CacheService, logger *logrus.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// UpdateRequest is the body of POST /api/portfolio/update.
type UpdateRequest struct {
	UserID string   `json:"user_id" binding:"required"`
	Stocks []string `json:"stocks"`
	Crypto []string `json:"crypto"`
}

func (h *Handler) RegisterRoutes(r gin.IRouter) {
	g := r.Group("/api")
	g.GET("/portfolio", h.getPortfolio)
	g.POST("/portfolio/update", h.updatePortfolio)
	g.GET("/portfolio/should-update", h.shouldUpdate)
	g.GET("/portfolio/stats", h.getStats)
	g.GET("/cache/integrity", h.validateIntegrity)
}

// NewEngine builds a gin engine with request logging through logger.
func NewEngine(logger *logrus.Logger, routes ...interface{ RegisterRoutes(gin.IRouter) }) *gin.Engine {
	if logger.GetLevel() < logrus.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(logger))
	for _, r := range routes {
		r.RegisterRoutes(engine)
	}
	return engine
}

func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.WithFields(logrus.Fields{
			"method":      c.Request.Method,
			"path":        c.FullPath(),
			"status":      c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
		}).Debug("Handled request")
	}
}

func (h *Handler) getPortfolio(c *gin.Context) {
	userID, symbols, ok := portfolioQuery(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.svc.GetPortfolioData(c.Request.Context(), userID, symbols))
}

func (h *Handler) updatePortfolio(c *gin.Context) {
	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result := h.svc.UpdatePortfolioCache(c.Request.Context(), req.UserID, models.PortfolioSymbols{
		Stocks: req.Stocks,
		Crypto: req.Crypto,
	})

	code := http.StatusOK
	switch {
	case result.Success:
	case len(result.UpdatedSymbols) > 0:
		code = http.StatusMultiStatus
	default:
		code = http.StatusBadGateway
	}
	c.JSON(code, result)
}

func (h *Handler) shouldUpdate(c *gin.Context) {
	userID, symbols, ok := portfolioQuery(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.svc.ShouldUpdateCache(c.Request.Context(), userID, symbols))
}

func (h *Handler) getStats(c *gin.Context) {
	userID, symbols, ok := portfolioQuery(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.svc.GetCacheStats(c.Request.Context(), userID, symbols))
}

func (h *Handler) validateIntegrity(c *gin.Context) {
	report := h.svc.ValidateCacheIntegrity(c.Request.Context(), symbolsQuery(c))
	c.JSON(http.StatusOK, report)
}

// portfolioQuery reads ?user=...&stocks=A,B&crypto=C and writes a 400 when
// the user is missing.
func portfolioQuery(c *gin.Context) (string, models.PortfolioSymbols, bool) {
	userID := strings.TrimSpace(c.Query("user"))
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user is required"})
		return "", models.PortfolioSymbols{}, false
	}
	return userID, symbolsQuery(c), true
}

func symbolsQuery(c *gin.Context) models.PortfolioSymbols {
	return models.PortfolioSymbols{
		Stocks: splitList(c.QueryArray("stocks")),
		Crypto: splitList(c.QueryArray("crypto")),
	}
}

// splitList accepts both repeated params and comma-separated values.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
