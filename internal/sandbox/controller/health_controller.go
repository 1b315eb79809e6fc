package controller

import (
	"context"
	"sort"
	"time"

	appErr "ownide/pkg/errors"
	"ownide/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

const welcomeMessage = "Welcome to the Own IDE API!"

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// HealthController serves liveness endpoints.
type HealthController struct {
	checks  map[string]HealthCheck
	timeout time.Duration
}

// NewHealthController creates a controller probing checks on /healthz.
func NewHealthController(checks map[string]HealthCheck, timeout time.Duration) *HealthController {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HealthController{checks: checks, timeout: timeout}
}

// Welcome answers the root path.
func (h *HealthController) Welcome(c *gin.Context) {
	response.Success(c, gin.H{"message": welcomeMessage})
}

// Healthz runs every check and fails if any of them fails.
func (h *HealthController) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make(map[string]string, len(names))
	healthy := true
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			results[name] = err.Error()
			healthy = false
			continue
		}
		results[name] = "ok"
	}
	if !healthy {
		response.Error(c, appErr.New(appErr.ServiceUnavailable).WithDetail("checks", results))
		return
	}
	response.Success(c, gin.H{"status": "ok", "checks": results})
}
