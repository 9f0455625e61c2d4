package api

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"
)

// defaultJobListLimit bounds GET /jobs when no limit is supplied.
const defaultJobListLimit = 50

// getJobHandler handles GET /jobs/:id.
func (s *Server) getJobHandler(c *echo.Context) error {
	job, err := s.service.GetJob(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, toJobResponse(job))
}

// listJobsHandler handles GET /jobs?limit=N.
func (s *Server) listJobsHandler(c *echo.Context) error {
	limit := defaultJobListLimit
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return errorJSON(c, http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = n
	}

	jobs, total, err := s.service.ListJobs(c.Request().Context(), limit)
	if err != nil {
		return mapServiceError(c, err)
	}

	resp := ListJobsResponse{Jobs: make([]JobResponse, 0, len(jobs)), Total: total}
	for i := range jobs {
		resp.Jobs = append(resp.Jobs, *toJobResponse(&jobs[i]))
	}
	return c.JSON(http.StatusOK, resp)
}

// statsHandler handles GET /stats.
func (s *Server) statsHandler(c *echo.Context) error {
	stats, err := s.service.Stats(c.Request().Context())
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, &StatsResponse{
		Total:     stats.Total,
		ByStatus:  stats.ByStatus,
		QueueSize: stats.QueueSize,
	})
}
