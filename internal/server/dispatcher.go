package server

import (
	"errors"
	"log/slog"

	"github.com/Tyrowin/roomchat/internal/event"
)

// HandlerFunc handles one decoded envelope from s.
type HandlerFunc func(s *Session, env event.Envelope)

// Dispatcher routes decoded envelopes to the handler registered for their
// type. Bad frames are logged and dropped; the connection stays open.
type Dispatcher struct {
	handlers map[event.Type]HandlerFunc
	logger   *slog.Logger
}

// NewDispatcher returns a Dispatcher with no handlers.
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		handlers: make(map[event.Type]HandlerFunc),
		logger:   logger,
	}
}

// Handle registers fn for t, replacing any previous handler.
func (d *Dispatcher) Handle(t event.Type, fn HandlerFunc) {
	d.handlers[t] = fn
}

// Dispatch decodes raw and runs the matching handler.
func (d *Dispatcher) Dispatch(s *Session, raw []byte) {
	env, err := event.Decode(raw)
	switch {
	case errors.Is(err, event.ErrUnknownType):
		d.logger.Warn("Dropping message with unknown type",
			"connection_id", s.ID(), "type", env.Type)
		return
	case err != nil:
		d.logger.Warn("Invalid message", "connection_id", s.ID(), "error", err)
		return
	}

	fn, ok := d.handlers[env.Type]
	if !ok {
		d.logger.Warn("No handler for message type", "connection_id", s.ID(), "type", env.Type)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Recovered from panic in handler",
				"connection_id", s.ID(), "type", env.Type, "panic", r)
		}
	}()
	fn(s, env)
}
