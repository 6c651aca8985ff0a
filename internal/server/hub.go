package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/Tyrowin/roomchat/internal/admission"
	"github.com/Tyrowin/roomchat/internal/completion"
	"github.com/Tyrowin/roomchat/internal/event"
	"github.com/Tyrowin/roomchat/internal/room"
)

// Hub owns every live session and the shared state they act on.
type Hub struct {
	cfg        Config
	logger     *slog.Logger
	now        func() time.Time
	newID      func() string
	stamper    *event.Stamper
	rooms      *room.Registry
	router     *Router
	dispatcher *Dispatcher
	admission  *admission.Controller
	completer  completion.Completer
	aiSlots    *semaphore.Weighted

	mutex    sync.RWMutex
	sessions map[string]*Session
	closing  bool

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithLogger sets the hub logger.
func WithLogger(logger *slog.Logger) HubOption {
	return func(h *Hub) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithClock sets the time source for timestamps and admission windows.
func WithClock(now func() time.Time) HubOption {
	return func(h *Hub) {
		if now != nil {
			h.now = now
		}
	}
}

// WithAdmission replaces the admission controller built from the config.
func WithAdmission(ctrl *admission.Controller) HubOption {
	return func(h *Hub) { h.admission = ctrl }
}

// WithCompleter replaces the completer built from the config.
func WithCompleter(c completion.Completer) HubOption {
	return func(h *Hub) { h.completer = c }
}

// WithIDGenerator sets how connection and message ids are minted.
func WithIDGenerator(fn func() string) HubOption {
	return func(h *Hub) {
		if fn != nil {
			h.newID = fn
		}
	}
}

// NewHub creates a Hub for cfg. The returned Hub is ready to attach
// sessions; Run drives periodic maintenance and shutdown.
func NewHub(cfg Config, opts ...HubOption) *Hub {
	cfg = cfg.Sanitize()
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		cfg:      cfg,
		logger:   slog.Default(),
		now:      time.Now,
		newID:    uuid.NewString,
		sessions: make(map[string]*Session),
		aiSlots:  semaphore.NewWeighted(cfg.AI.MaxConcurrent),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}

	if h.admission == nil {
		h.admission = admission.New(
			admission.WithLimits(cfg.Admission.Limits()),
			admission.WithClock(h.now),
			admission.WithLogger(h.logger),
		)
	}
	if h.completer == nil {
		h.completer = defaultCompleter(cfg.AI)
	}

	h.stamper = event.NewStamper(h.now)
	h.rooms = room.NewRegistry(cfg.Rooms.HistorySize, h.stamper)
	h.router = NewRouter(h.rooms, h.evict, h.logger)
	h.dispatcher = NewDispatcher(h.logger)
	h.registerHandlers()
	return h
}

func defaultCompleter(cfg AIConfig) completion.Completer {
	if cfg.Endpoint == "" {
		return completion.Simulated{Delay: 500 * time.Millisecond}
	}
	return completion.NewOpenAI(&http.Client{}, completion.OpenAIConfig{
		Endpoint: cfg.Endpoint,
		Model:    cfg.Model,
		APIKey:   cfg.APIKey,
	})
}

// Admission returns the hub's admission controller.
func (h *Hub) Admission() *admission.Controller { return h.admission }

// Rooms returns the room registry.
func (h *Hub) Rooms() *room.Registry { return h.rooms }

// Router returns the broadcast router.
func (h *Hub) Router() *Router { return h.router }

// Session looks up a live session by connection id.
func (h *Hub) Session(connID string) (*Session, bool) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	s, ok := h.sessions[connID]
	return s, ok
}

// Attach registers a session for conn, joins it to its room and starts its
// pumps. Identity must already have passed admission.
func (h *Hub) Attach(conn Conn, id Identity) (*Session, error) {
	if id.UserID == "" {
		return nil, ErrMissingUserID
	}
	if id.RoomID == "" {
		id.RoomID = h.cfg.Rooms.DefaultRoom
	}

	s := newSession(h, conn, id)
	if err := h.register(s, 2); err != nil {
		return nil, err
	}
	h.activate(s)

	go func() {
		defer h.wg.Done()
		s.writePump()
	}()
	go func() {
		defer h.wg.Done()
		s.readPump()
	}()
	return s, nil
}

// register records s and reserves pumps slots in the wait group.
func (h *Hub) register(s *Session, pumps int) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.closing {
		return ErrHubClosed
	}
	h.sessions[s.id] = s
	h.wg.Add(pumps)
	h.logger.Info("Client registered", "connection_id", s.id, "user_id", s.userID,
		"addr", s.ip, "total_clients", len(h.sessions))
	return nil
}

// activate moves s to Active, joins its room, greets it and announces it.
func (h *Hub) activate(s *Session) {
	s.moveMu.Lock()
	defer s.moveMu.Unlock()

	if !s.state.CompareAndSwap(int32(StateConnecting), int32(StateActive)) {
		return
	}
	roomID := s.Room()
	if err := h.rooms.Join(roomID, s, func(v room.View) event.Outbound {
		return event.NewWelcome(s.id, roomID, v.Members(), v.Recent(h.cfg.Rooms.RecentOnJoin))
	}); err != nil {
		h.logger.Error("Error sending welcome", "connection_id", s.id, "error", err)
	}
	h.announceJoin(roomID, s)
}

func (h *Hub) announceJoin(roomID string, s *Session) {
	h.router.BroadcastFunc(roomID, s.id, event.UserJoined, func(v room.View) event.Outbound {
		return event.NewPresence(event.UserJoined, s.userID, s.id, v.Members())
	})
}

// announceLeave tells the rest of roomID that s left and clears its typing
// indicator if it had one.
func (h *Hub) announceLeave(roomID string, s *Session, res room.LeaveResult) {
	if !res.Removed || res.RoomDeleted {
		return
	}
	h.router.BroadcastFunc(roomID, "", event.UserLeft, func(v room.View) event.Outbound {
		return event.NewPresence(event.UserLeft, s.userID, s.id, v.Members())
	})
	if res.WasTyping {
		h.router.BroadcastFunc(roomID, "", event.TypingUpdate, func(v room.View) event.Outbound {
			return event.NewTyping(v.TypingUsers())
		})
	}
}

// closeSession runs the close sequence for s once; later calls are no-ops.
func (h *Hub) closeSession(s *Session) {
	for {
		st := s.state.Load()
		if st >= int32(StateClosing) {
			return
		}
		if s.state.CompareAndSwap(st, int32(StateClosing)) {
			break
		}
	}

	s.moveMu.Lock()
	h.mutex.Lock()
	delete(h.sessions, s.id)
	clientCount := len(h.sessions)
	h.mutex.Unlock()

	roomID := s.Room()
	res := h.rooms.Leave(roomID, s.id)
	s.typing.Store(false)
	h.announceLeave(roomID, s, res)
	s.moveMu.Unlock()

	s.closeSend()
	s.state.Store(int32(StateClosed))
	h.logger.Info("Client unregistered", "connection_id", s.id, "user_id", s.userID,
		"room_id", roomID, "total_clients", clientCount)
}

// evict schedules the close sequence for a member whose queue refused an
// event. The caller may hold a session move lock, so it runs asynchronously.
func (h *Hub) evict(m room.Member) {
	if s, ok := m.(*Session); ok {
		go h.closeSession(s)
	}
}

// Disconnect closes the session with connID. It reports whether one was found.
func (h *Hub) Disconnect(connID string) bool {
	s, ok := h.Session(connID)
	if !ok {
		return false
	}
	h.closeSession(s)
	return true
}

// Stats is a point-in-time summary of the hub.
type Stats struct {
	ActiveConnections   int            `json:"active_connections"`
	ActiveRooms         int            `json:"active_rooms"`
	TotalDistinctUsers  int            `json:"total_distinct_users"`
	PerRoomMemberCounts map[string]int `json:"per_room_member_counts"`
}

// Stats returns a snapshot of connection and room counts.
func (h *Hub) Stats() Stats {
	h.mutex.RLock()
	users := make(map[string]struct{}, len(h.sessions))
	for _, s := range h.sessions {
		users[s.userID] = struct{}{}
	}
	connections := len(h.sessions)
	h.mutex.RUnlock()

	counts := h.rooms.Counts()
	return Stats{
		ActiveConnections:   connections,
		ActiveRooms:         len(counts),
		TotalDistinctUsers:  len(users),
		PerRoomMemberCounts: counts,
	}
}

// ClientCount returns the number of live sessions.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.sessions)
}

// Run starts the hub's maintenance loop. It sweeps idle admission state on
// every tick and closes all sessions once Shutdown is called.
func (h *Hub) Run() {
	defer close(h.done)

	ticker := time.NewTicker(h.cfg.Admission.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownSessions()
			return
		case <-ticker.C:
			if removed := h.admission.Sweep(); removed > 0 {
				h.logger.Debug("Swept idle admission state", "removed", removed)
			}
		}
	}
}

// shutdownSessions refuses new sessions and closes the live ones.
func (h *Hub) shutdownSessions() {
	h.logger.Info("Shutting down all client connections...")

	h.mutex.Lock()
	h.closing = true
	sessions := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mutex.Unlock()

	for _, s := range sessions {
		h.closeSession(s)
	}

	h.logger.Info("Closed client connections", "count", len(sessions))
}

// Shutdown stops the hub and waits for every pump and in-flight AI call to
// finish, or for timeout to pass. Run must have been started.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.logger.Info("Initiating hub shutdown...")

	h.cancel()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-h.done:
	case <-timer.C:
		h.logger.Warn("Hub shutdown timeout reached before the run loop exited")
		return context.DeadlineExceeded
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info("Hub shutdown completed successfully")
		return nil
	case <-timer.C:
		h.logger.Warn("Hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
