package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthChecker is implemented by every backend engine.
type HealthChecker interface {
	HealthCheck(ctx context.Context) (bool, error)
	Name() string
}

// HandleHealth probes the configured backends. The endpoint answers 200 when
// the server itself is up; degraded backends are reported in the body so load
// balancers keep routing while operators see what is down.
// GET /health
func HandleHealth(checkers ...HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		backends := make(map[string]string, len(checkers))
		healthy := true
		for _, chk := range checkers {
			ok, err := chk.HealthCheck(ctx)
			switch {
			case err != nil:
				backends[chk.Name()] = "error: " + err.Error()
				healthy = false
			case !ok:
				backends[chk.Name()] = "unavailable"
				healthy = false
			default:
				backends[chk.Name()] = "ok"
			}
		}

		status := "ok"
		if !healthy {
			status = "degraded"
		}
		c.JSON(http.StatusOK, gin.H{
			"status":   status,
			"backends": backends,
		})
	}
}
