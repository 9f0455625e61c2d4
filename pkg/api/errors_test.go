package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-meetsum/meetsum/pkg/apperr"
)

// renderError runs mapServiceError inside a throwaway echo context and
// returns the recorded status code and {detail} body.
func renderError(t *testing.T, err error) (int, string) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	require.NoError(t, mapServiceError(c, err))

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body.Detail
}

func TestMapServiceError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		expectCode int
		expectMsg  string
	}{
		{
			name:       "validation error maps to 400",
			err:        apperr.NewValidationError("timestamp_iso", "must be RFC3339"),
			expectCode: http.StatusBadRequest,
			expectMsg:  "must be RFC3339",
		},
		{
			name:       "not found maps to 404",
			err:        fmt.Errorf("wrapped: %w", apperr.ErrNotFound),
			expectCode: http.StatusNotFound,
			expectMsg:  "resource not found",
		},
		{
			name:       "conflict maps to 409",
			err:        apperr.ErrConflict,
			expectCode: http.StatusConflict,
			expectMsg:  "finalized",
		},
		{
			name:       "fatal maps to opaque 500",
			err:        apperr.WrapFatal(fmt.Errorf("repository consistency violated")),
			expectCode: http.StatusInternalServerError,
			expectMsg:  "internal server error",
		},
		{
			name:       "unknown error maps to opaque 500",
			err:        fmt.Errorf("something unexpected happened"),
			expectCode: http.StatusInternalServerError,
			expectMsg:  "internal server error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, detail := renderError(t, tt.err)
			assert.Equal(t, tt.expectCode, code)
			assert.Contains(t, detail, tt.expectMsg)
		})
	}
}
