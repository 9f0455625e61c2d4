package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/open-meetsum/meetsum/pkg/apperr"
)

// errorJSON writes the single {detail} error envelope every user-visible
// failure is rendered as.
func errorJSON(c *echo.Context, status int, detail string) error {
	return c.JSON(status, ErrorResponse{Detail: detail})
}

// mapServiceError maps service-layer errors onto HTTP statuses per the
// error taxonomy: validation 400, not-found 404, conflict 409, everything
// else an opaque 500 (transient/fatal details belong in logs and
// jobs.last_error, not in API responses).
func mapServiceError(c *echo.Context, err error) error {
	var validErr *apperr.ValidationError
	if errors.As(err, &validErr) {
		return errorJSON(c, http.StatusBadRequest, validErr.Error())
	}
	if errors.Is(err, apperr.ErrValidation) {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}
	if errors.Is(err, apperr.ErrNotFound) {
		return errorJSON(c, http.StatusNotFound, "resource not found")
	}
	if errors.Is(err, apperr.ErrConflict) {
		return errorJSON(c, http.StatusConflict, "meeting is finalized")
	}

	// Unexpected error
	slog.Error("unexpected service error", "error", err)
	return errorJSON(c, http.StatusInternalServerError, "internal server error")
}
