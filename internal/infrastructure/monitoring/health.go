package monitoring

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// CheckFunc probes one dependency. A nil return means healthy.
type CheckFunc func(ctx context.Context) error

// HealthChecker aggregates dependency probes behind a single endpoint.
type HealthChecker struct {
	timeout time.Duration

	mu     sync.RWMutex
	checks map[string]CheckFunc
}

func NewHealthChecker(timeout time.Duration) *HealthChecker {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &HealthChecker{
		timeout: timeout,
		checks:  make(map[string]CheckFunc),
	}
}

func (h *HealthChecker) Register(name string, check CheckFunc) {
	h.mu.Lock()
	h.checks[name] = check
	h.mu.Unlock()
}

// Handler serves the aggregate health status. Any failing probe flips the
// response to 503 with per-check detail.
func (h *HealthChecker) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		h.mu.RLock()
		checks := make(map[string]CheckFunc, len(h.checks))
		for name, fn := range h.checks {
			checks[name] = fn
		}
		h.mu.RUnlock()

		results := make(map[string]string, len(checks))
		healthy := true

		for name, fn := range checks {
			ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
			err := fn(ctx)
			cancel()

			if err != nil {
				healthy = false
				results[name] = err.Error()
			} else {
				results[name] = "ok"
			}
		}

		status := http.StatusOK
		state := "healthy"
		if !healthy {
			status = http.StatusServiceUnavailable
			state = "unhealthy"
		}
		c.JSON(status, gin.H{
			"status":    state,
			"timestamp": time.Now().Unix(),
			"checks":    results,
		})
	}
}
