package server

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/roomchat/internal/admission"
)

// Server binds a Hub to its HTTP surface.
type Server struct {
	cfg      Config
	hub      *Hub
	origins  *originPolicy
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// New creates a Server and its Hub from cfg. The hub's Run loop is not
// started; call Start or run Hub().Run yourself.
func New(cfg Config, opts ...HubOption) *Server {
	hub := NewHub(cfg, opts...)
	s := &Server{
		cfg:    hub.cfg,
		hub:    hub,
		logger: hub.logger,
	}
	s.origins = newOriginPolicy(s.cfg.AllowedOrigins, s.logger)
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.check,
	}
	return s
}

// Hub returns the server's hub.
func (s *Server) Hub() *Hub { return s.hub }

// Config returns the sanitized configuration in use.
func (s *Server) Config() Config { return s.cfg }

// Start runs the hub loop in a separate goroutine.
func (s *Server) Start() {
	go s.hub.Run()
	s.logger.Info("Hub started and ready to manage WebSocket connections")
}

// Shutdown drains httpServer first, so no new sessions are upgraded, then
// shuts the hub down. Each step gets its own timeout.
func (s *Server) Shutdown(httpServer *http.Server, timeout time.Duration) error {
	httpErr := ShutdownServer(httpServer, timeout, s.logger)
	return errors.Join(httpErr, s.hub.Shutdown(timeout))
}

// identify resolves who a WebSocket request is for. The user id comes from
// the path or the user_id query parameter.
func (s *Server) identify(r *http.Request) admission.Identity {
	userID := r.PathValue("user_id")
	if userID == "" {
		userID = r.URL.Query().Get("user_id")
	}
	return admission.Identity{
		UserID: userID,
		IP:     admission.ClientIP(r, s.cfg.TrustForwardedFor),
		Tier:   admission.ParseTier(r.Header.Get("X-User-Tier")),
	}
}
