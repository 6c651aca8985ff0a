package server

import (
	"errors"
	"strings"

	"github.com/Tyrowin/roomchat/internal/admission"
)

var (
	// ErrMissingUserID is returned when a connection request carries no user id.
	ErrMissingUserID = errors.New("server: missing user id")
	// ErrHubClosed is returned when attaching to a hub that is shutting down.
	ErrHubClosed = errors.New("server: hub is shut down")
)

// Identity is who a new connection belongs to, resolved before upgrade.
type Identity struct {
	UserID string
	RoomID string
	IP     string
	Tier   admission.Tier
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
