package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const checkTimeout = 5 * time.Second

// Pinger is any dependency that can report its own reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthChecker struct {
	mu     sync.RWMutex
	checks map[string]Pinger
	logger *logrus.Logger
}

type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Services  map[string]string `json:"services"`
}

func NewHealthChecker(logger *logrus.Logger) *HealthChecker {
	return &HealthChecker{
		checks: make(map[string]Pinger),
		logger: logger,
	}
}

func (h *HealthChecker) Register(name string, p Pinger) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = p
}

func (h *HealthChecker) CheckHealth(ctx context.Context) HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	services := make(map[string]string, len(h.checks))
	overallStatus := "healthy"

	for name, p := range h.checks {
		if err := p.Ping(ctx); err != nil {
			services[name] = "unhealthy: " + err.Error()
			overallStatus = "unhealthy"
			h.logger.WithError(err).WithField("service", name).Error("Health check failed")
			continue
		}
		services[name] = "healthy"
	}

	return HealthStatus{
		Status:    overallStatus,
		Timestamp: time.Now(),
		Services:  services,
	}
}

func (h *HealthChecker) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), checkTimeout)
		defer cancel()

		status := h.CheckHealth(ctx)
		code := http.StatusOK
		if status.Status != "healthy" {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, status)
	}
}

func (h *HealthChecker) RegisterRoutes(r gin.IRouter) {
	r.GET("/health", h.Handler())
	r.GET("/ready", h.Handler()) // Kubernetes readiness probe
}
