package server

import (
	"log/slog"

	"github.com/Tyrowin/roomchat/internal/event"
	"github.com/Tyrowin/roomchat/internal/room"
)

// Router delivers events to rooms and hands members whose queue refused an
// event to evict.
type Router struct {
	rooms  *room.Registry
	evict  func(room.Member)
	logger *slog.Logger
}

// NewRouter returns a Router over rooms.
func NewRouter(rooms *room.Registry, evict func(room.Member), logger *slog.Logger) *Router {
	return &Router{rooms: rooms, evict: evict, logger: logger}
}

// Broadcast sends ev to every member of roomID except exclude.
func (r *Router) Broadcast(roomID string, ev event.Outbound, exclude string) room.Delivery {
	d, err := r.rooms.Publish(roomID, exclude, ev)
	return r.settle(roomID, event.Kind(ev), d, err)
}

// BroadcastFunc builds the event from the room state at send time.
func (r *Router) BroadcastFunc(roomID, exclude string, kind event.Type, build func(room.View) event.Outbound) room.Delivery {
	d, err := r.rooms.PublishFunc(roomID, exclude, build)
	return r.settle(roomID, kind, d, err)
}

// SendTo delivers an event built from the room state to one member only.
func (r *Router) SendTo(roomID, connID string, kind event.Type, build func(room.View) event.Outbound) room.Delivery {
	d, err := r.rooms.SendTo(roomID, connID, build)
	return r.settle(roomID, kind, d, err)
}

// Typing updates the typing set and broadcasts the change.
func (r *Router) Typing(roomID, connID string, typing bool) room.Delivery {
	d, err := r.rooms.Typing(roomID, connID, typing)
	return r.settle(roomID, event.TypingUpdate, d, err)
}

func (r *Router) settle(roomID string, kind event.Type, d room.Delivery, err error) room.Delivery {
	if err != nil {
		r.logger.Error("Error encoding event", "room_id", roomID, "type", kind, "error", err)
		return d
	}
	if d.Delivered > 0 || len(d.Failed) > 0 {
		r.logger.Debug("Broadcasting message", "room_id", roomID, "type", kind,
			"delivered", d.Delivered, "failed", len(d.Failed))
	}
	for _, m := range d.Failed {
		r.logger.Warn("Client removed due to full send buffer",
			"room_id", roomID, "connection_id", m.ID(), "user_id", m.UserID())
		r.evict(m)
	}
	return d
}
