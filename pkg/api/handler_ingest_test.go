package api

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-meetsum/meetsum/pkg/config"
	"github.com/open-meetsum/meetsum/pkg/pipeline"
)

// multipartBody builds a multipart request body with a single file field.
func multipartBody(t *testing.T, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func TestProcessAudioHandler_RejectsUnsupportedFormat(t *testing.T) {
	// Validation happens before any repository access, so a zero-value
	// Service is enough to exercise the rejection path.
	s := &Server{service: pipeline.NewService(nil, nil, nil, nil, nil, nil, config.PipelineConfig{}, t.TempDir())}

	body, contentType := multipartBody(t, "meeting.txt", []byte("not audio"))
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/process-audio", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	require.NoError(t, s.processAudioHandler(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.Detail, "unsupported audio format")
}

func TestProcessAudioHandler_RequiresFileField(t *testing.T) {
	s := &Server{service: pipeline.NewService(nil, nil, nil, nil, nil, nil, config.PipelineConfig{}, t.TempDir())}

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/process-audio", bytes.NewReader(nil))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	require.NoError(t, s.processAudioHandler(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAppendSegmentHandler_RequiresMeetingIDAndText(t *testing.T) {
	s := &Server{service: pipeline.NewService(nil, nil, nil, nil, nil, nil, config.PipelineConfig{}, t.TempDir())}

	for _, body := range []string{
		`{"speaker":"Alice","timestamp_iso":"2025-06-01T09:00:00Z","text_segment":"hello"}`,
		`{"meeting_id":"m1","speaker":"Alice","timestamp_iso":"2025-06-01T09:00:00Z"}`,
	} {
		e := echo.New()
		req := httptest.NewRequest(http.MethodPost, "/ingest/segment", bytes.NewReader([]byte(body)))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)

		require.NoError(t, s.appendSegmentHandler(c))
		assert.Equal(t, http.StatusBadRequest, rec.Code, "body: %s", body)
	}
}
