package api

import (
	"io"
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// appendSegmentHandler handles POST /ingest/segment.
func (s *Server) appendSegmentHandler(c *echo.Context) error {
	var req AppendSegmentRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}
	if req.MeetingID == "" {
		return errorJSON(c, http.StatusBadRequest, "meeting_id is required")
	}
	if req.TextSegment == "" {
		return errorJSON(c, http.StatusBadRequest, "text_segment is required")
	}

	segmentID, err := s.service.AppendSegment(c.Request().Context(), req.MeetingID, req.Speaker, req.TimestampISO, req.TextSegment)
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusAccepted, &AppendSegmentResponse{
		SegmentID: segmentID,
		Status:    "accepted",
	})
}

// processAudioHandler handles POST /process-audio: a multipart audio file
// is stored under the input directory and an AUDIO_TRANSCRIBE job is
// enqueued for it.
func (s *Server) processAudioHandler(c *echo.Context) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, "multipart field 'file' is required")
	}

	f, err := fileHeader.Open()
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, "could not read uploaded file")
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, "could not read uploaded file")
	}

	job, err := s.service.ProcessAudioUpload(c.Request().Context(), fileHeader.Filename, data)
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusAccepted, &ProcessAudioResponse{
		JobID:    job.ID,
		Filename: fileHeader.Filename,
		Status:   string(job.Status),
	})
}
