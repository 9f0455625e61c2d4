package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/open-meetsum/meetsum/pkg/models"
)

// createMeetingHandler handles POST /meetings.
func (s *Server) createMeetingHandler(c *echo.Context) error {
	var req CreateMeetingRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}

	meeting, err := s.service.CreateMeeting(c.Request().Context(), req.Title, req.Metadata)
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusCreated, toMeetingResponse(meeting))
}

// getSummaryHandler handles GET /meetings/:id/summary. The summary_type
// query parameter selects incremental or final (default final); a meeting
// with no summary of that type yet returns a JSON null body rather than an
// error, so clients can poll without special-casing 404.
func (s *Server) getSummaryHandler(c *echo.Context) error {
	meetingID := c.Param("id")

	summaryType := models.SummaryTypeFinal
	switch c.QueryParam("summary_type") {
	case "", string(models.SummaryTypeFinal):
	case string(models.SummaryTypeIncremental):
		summaryType = models.SummaryTypeIncremental
	default:
		return errorJSON(c, http.StatusBadRequest, "summary_type must be incremental or final")
	}

	summary, err := s.service.GetSummary(c.Request().Context(), meetingID, summaryType)
	if err != nil {
		return mapServiceError(c, err)
	}
	if summary == nil {
		return c.JSON(http.StatusOK, nil)
	}

	return c.JSON(http.StatusOK, toSummaryResponse(summary))
}

// finalizeMeetingHandler handles POST /meetings/:id/finalize. Idempotent:
// a second call reports already_finalized without enqueueing more jobs.
func (s *Server) finalizeMeetingHandler(c *echo.Context) error {
	status, err := s.service.Finalize(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusOK, &FinalizeResponse{Status: status})
}
