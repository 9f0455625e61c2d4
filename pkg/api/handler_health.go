package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/open-meetsum/meetsum/pkg/database"
)

const (
	healthStatusHealthy     = "healthy"
	healthStatusDegraded    = "degraded"
	healthStatusUnhealthy   = "unhealthy"
	healthStatusUnreachable = "unreachable"
)

// healthHandler handles GET /healthz. The database is the only hard
// dependency: an unreachable inference backend degrades the status but
// does not fail the check, so orchestrators don't restart this service
// when an external one is down.
func (s *Server) healthHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	status := healthStatusHealthy

	dbHealth, err := database.Health(reqCtx, s.dbClient.DB())
	if err != nil {
		status = healthStatusUnhealthy
	}

	inferenceStatus := healthStatusHealthy
	if s.inference != nil {
		if err := s.inference.Healthy(reqCtx); err != nil {
			inferenceStatus = healthStatusUnreachable
			if status == healthStatusHealthy {
				status = healthStatusDegraded
			}
		}
	}

	resp := &HealthResponse{
		Status:    status,
		Database:  dbHealth,
		Inference: inferenceStatus,
		Timestamp: time.Now().UTC(),
	}
	if s.workerPool != nil {
		poolHealth := s.workerPool.Health(reqCtx)
		resp.Workers = &poolHealth
	}

	httpStatus := http.StatusOK
	if status == healthStatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}
	return c.JSON(httpStatus, resp)
}
