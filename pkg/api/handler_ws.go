package api

import (
	"errors"
	"net/http"

	"github.com/coder/websocket"
	echo "github.com/labstack/echo/v5"

	"github.com/open-meetsum/meetsum/pkg/apperr"
	"github.com/open-meetsum/meetsum/pkg/events"
)

// wsHandler handles GET /meetings/:id/stream: upgrades to WebSocket and
// subscribes the connection to the meeting's event channel. The meeting
// must exist before the upgrade so unknown ids get a plain 404 instead of
// a dropped socket.
func (s *Server) wsHandler(c *echo.Context) error {
	if s.connManager == nil {
		return errorJSON(c, http.StatusServiceUnavailable, "event streaming not available")
	}

	meetingID := c.Param("id")
	if _, err := s.service.GetMeeting(c.Request().Context(), meetingID); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return errorJSON(c, http.StatusNotFound, "resource not found")
		}
		return mapServiceError(c, err)
	}

	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		// Accept all origins; this service sits behind a reverse proxy
		// that owns origin policy.
		InsecureSkipVerify: true,
	})
	if err != nil {
		return err
	}

	// HandleConnection blocks until the WebSocket closes.
	s.connManager.HandleConnection(c.Request().Context(), conn, events.MeetingChannel(meetingID))
	return nil
}
