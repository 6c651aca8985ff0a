package server

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/Tyrowin/roomchat/internal/admission"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// State is the lifecycle stage of a Session.
type State int32

// Session states. Transitions only move forward.
const (
	StateConnecting State = iota
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Conn is the subset of *websocket.Conn a Session uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Session is one live connection: identity, current room, activity and
// typing flags, plus the outbound queue drained by the write pump.
type Session struct {
	id          string
	userID      string
	ip          string
	tier        admission.Tier
	connectedAt time.Time

	conn           Conn
	hub            *Hub
	logger         *slog.Logger
	maxMessageSize int64
	throttle       *rate.Limiter
	rateLimit      RateLimitConfig

	state        atomic.Int32
	lastActivity atomic.Int64
	typing       atomic.Bool

	// moveMu serializes room membership changes with the close sequence.
	moveMu sync.Mutex
	roomMu sync.Mutex
	roomID string

	sendMu     sync.Mutex
	send       chan []byte
	sendClosed bool
}

func newSession(h *Hub, conn Conn, id Identity) *Session {
	cfg := h.cfg
	now := h.now()
	s := &Session{
		id:             h.newID(),
		userID:         id.UserID,
		ip:             id.IP,
		tier:           id.Tier,
		connectedAt:    now,
		conn:           conn,
		hub:            h,
		maxMessageSize: cfg.MaxMessageSize,
		rateLimit:      cfg.RateLimit,
		throttle: rate.NewLimiter(
			rate.Limit(float64(cfg.RateLimit.Burst)/cfg.RateLimit.RefillInterval.Seconds()),
			cfg.RateLimit.Burst,
		),
		roomID: id.RoomID,
		send:   make(chan []byte, cfg.SendBufferSize),
	}
	s.logger = h.logger.With("connection_id", s.id, "user_id", s.userID)
	s.lastActivity.Store(now.UnixNano())
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}
	return s
}

// ID returns the connection id.
func (s *Session) ID() string { return s.id }

// UserID returns the external user id.
func (s *Session) UserID() string { return s.userID }

// ConnectedAt returns when the connection was accepted.
func (s *Session) ConnectedAt() time.Time { return s.connectedAt }

// LastActivity returns when a frame was last received or sent.
func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load()).UTC()
}

// State returns the lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// Room returns the room the session currently belongs to.
func (s *Session) Room() string {
	s.roomMu.Lock()
	defer s.roomMu.Unlock()
	return s.roomID
}

// IsTyping reports the typing flag.
func (s *Session) IsTyping() bool { return s.typing.Load() }

func (s *Session) setRoom(roomID string) {
	s.roomMu.Lock()
	s.roomID = roomID
	s.roomMu.Unlock()
}

func (s *Session) touch() {
	s.lastActivity.Store(s.hub.now().UnixNano())
}

// Deliver queues data for the write pump. It never blocks; a full or closed
// queue returns false.
func (s *Session) Deliver(data []byte) bool {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if s.sendClosed {
		return false
	}
	select {
	case s.send <- data:
		return true
	default:
		return false
	}
}

// closeSend closes the outbound queue once; the write pump then sends a close
// frame and exits.
func (s *Session) closeSend() {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if !s.sendClosed {
		s.sendClosed = true
		close(s.send)
	}
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (s *Session) setupReadConnection() {
	if err := s.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		s.logger.Error("Error setting initial read deadline", "error", err)
	}
	s.conn.SetPongHandler(func(string) error {
		if err := s.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			s.logger.Error("Error setting read deadline in pong handler", "error", err)
		}
		return nil
	})
}

// handleReadError logs the read failure at a level matching how expected it is.
func (s *Session) handleReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		s.logger.Warn("Message exceeded maximum size", "limit", s.maxMessageSize)
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		s.logger.Info("Client disconnected", "reason", err)
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		s.logger.Info("Client connection closed", "reason", err)
	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig):
		s.logger.Error("Unexpected WebSocket error", "error", err)
	default:
		s.logger.Error("WebSocket read error", "error", err)
	}
}

// allowFrame applies the inbound frame throttle.
func (s *Session) allowFrame() bool {
	if s.throttle.Allow() {
		return true
	}
	s.logger.Warn("Rate limit exceeded; discarding message",
		"burst", s.rateLimit.Burst, "interval", s.rateLimit.RefillInterval)
	return false
}

func (s *Session) readPump() {
	defer func() {
		s.hub.closeSession(s)
		if err := s.conn.Close(); err != nil && !isExpectedCloseError(err) {
			s.logger.Error("Error closing connection in readPump", "error", err)
		}
	}()

	s.setupReadConnection()

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			s.handleReadError(err)
			return
		}
		s.touch()

		if !s.allowFrame() {
			continue
		}
		s.hub.dispatcher.Dispatch(s, raw)
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.closeConnection()
	}()

	for s.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (s *Session) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message, ok := <-s.send:
		return s.handleMessage(message, ok)
	case <-ticker.C:
		return s.handlePing()
	}
}

// closeConnection safely closes the WebSocket connection with proper error handling
func (s *Session) closeConnection() {
	if err := s.conn.Close(); err != nil && !isExpectedCloseError(err) {
		s.logger.Error("Error closing connection in writePump", "error", err)
	}
}

// handleMessage writes one queued event, one JSON object per frame, and
// returns false if the connection should be closed.
func (s *Session) handleMessage(message []byte, ok bool) bool {
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		s.logger.Error("Error setting write deadline", "error", err)
		return false
	}

	if !ok {
		return s.writeCloseMessage()
	}

	if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			s.logger.Warn("Error writing message", "error", err)
		}
		s.hub.closeSession(s)
		return false
	}
	s.touch()
	return true
}

// writeCloseMessage sends a close message to the client
func (s *Session) writeCloseMessage() bool {
	if err := s.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
		if !isExpectedCloseError(err) {
			s.logger.Warn("Error writing close message", "error", err)
		}
	}
	return false
}

// handlePing sends a ping message to keep the connection alive
func (s *Session) handlePing() bool {
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		s.logger.Error("Error setting write deadline for ping", "error", err)
		return false
	}
	if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		s.logger.Warn("Error writing ping message", "error", err)
		s.hub.closeSession(s)
		return false
	}
	return true
}
