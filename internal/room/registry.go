// Package room keeps the set of live rooms, their members, typing state and
// bounded chat history. Every mutation and every fan-out for a room happens
// under that room's lock, which gives each member FIFO delivery and a total
// order of history.
package room

import (
	"cmp"
	"slices"
	"sync"
	"time"

	"github.com/Tyrowin/roomchat/internal/event"
	"github.com/Tyrowin/roomchat/internal/ring"
)

// DefaultHistorySize is the number of chat events a room keeps.
const DefaultHistorySize = 100

// Member is a connection that can sit in a room.
type Member interface {
	ID() string
	UserID() string
	ConnectedAt() time.Time
	LastActivity() time.Time
	// Deliver queues data for the connection without blocking and reports
	// whether it was accepted.
	Deliver(data []byte) bool
}

type room struct {
	id string

	mu      sync.Mutex
	members map[string]Member
	typing  map[string]string // connection id -> user id
	history *ring.Buffer[event.Chat]
	closed  bool
}

// Registry maps room ids to rooms. Lock order is registry, then room.
type Registry struct {
	mu          sync.RWMutex
	rooms       map[string]*room
	historySize int
	stamper     *event.Stamper
}

// NewRegistry returns an empty Registry. A non-positive historySize uses
// DefaultHistorySize; a nil stamper uses the wall clock.
func NewRegistry(historySize int, stamper *event.Stamper) *Registry {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	if stamper == nil {
		stamper = event.NewStamper(nil)
	}
	return &Registry{
		rooms:       make(map[string]*room),
		historySize: historySize,
		stamper:     stamper,
	}
}

// Stamper returns the timestamp source used for emitted events.
func (reg *Registry) Stamper() *event.Stamper {
	return reg.stamper
}

func (reg *Registry) lookup(roomID string) *room {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return reg.rooms[roomID]
}

func (reg *Registry) getOrCreate(roomID string) *room {
	if r := reg.lookup(roomID); r != nil {
		return r
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()
	if r, ok := reg.rooms[roomID]; ok {
		return r
	}
	r := &room{
		id:      roomID,
		members: make(map[string]Member),
		typing:  make(map[string]string),
		history: ring.New[event.Chat](reg.historySize),
	}
	reg.rooms[roomID] = r
	return r
}

// locked runs fn under the lock of an existing, open room. It reports false
// when the room does not exist.
func (reg *Registry) locked(roomID string, fn func(r *room)) bool {
	r := reg.lookup(roomID)
	if r == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	fn(r)
	return true
}

// Join adds m to roomID, creating the room if needed. When greet is non-nil
// its event is delivered to m before any later event published to the room.
func (reg *Registry) Join(roomID string, m Member, greet func(View) event.Outbound) error {
	for {
		r := reg.getOrCreate(roomID)
		r.mu.Lock()
		if r.closed {
			// Lost a race with the last member leaving; the room is gone.
			r.mu.Unlock()
			continue
		}
		r.members[m.ID()] = m

		var err error
		if greet != nil {
			if ev := greet(View{r: r}); ev != nil {
				var data []byte
				if data, err = event.Marshal(ev, reg.stamper); err == nil {
					m.Deliver(data)
				}
			}
		}
		r.mu.Unlock()
		return err
	}
}

// LeaveResult describes what Leave changed.
type LeaveResult struct {
	Removed     bool
	WasTyping   bool
	RoomDeleted bool
}

// Leave removes connID from roomID and deletes the room once empty. Leaving a
// room twice, or a room that does not exist, is a no-op.
func (reg *Registry) Leave(roomID, connID string) LeaveResult {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	r, ok := reg.rooms[roomID]
	if !ok {
		return LeaveResult{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var res LeaveResult
	if _, ok := r.members[connID]; ok {
		res.Removed = true
		delete(r.members, connID)
	}
	if _, ok := r.typing[connID]; ok {
		res.WasTyping = true
		delete(r.typing, connID)
	}
	if len(r.members) == 0 {
		r.closed = true
		r.history.Reset()
		delete(reg.rooms, roomID)
		res.RoomDeleted = true
	}
	return res
}

// Members returns a snapshot of the members of roomID.
func (reg *Registry) Members(roomID string) []Member {
	var out []Member
	reg.locked(roomID, func(r *room) {
		out = make([]Member, 0, len(r.members))
		for _, m := range r.members {
			out = append(out, m)
		}
	})
	return out
}

// Users returns the presence list of roomID.
func (reg *Registry) Users(roomID string) []event.RoomUser {
	var out []event.RoomUser
	reg.locked(roomID, func(r *room) {
		out = View{r: r}.Members()
	})
	return out
}

// AppendHistory records a chat event in roomID, evicting the oldest entry
// once the room is at capacity. It reports false if the room does not exist.
func (reg *Registry) AppendHistory(roomID string, c event.Chat) bool {
	return reg.locked(roomID, func(r *room) {
		r.history.Push(c)
	})
}

// RecentHistory returns up to n of the newest chat events, oldest first.
func (reg *Registry) RecentHistory(roomID string, n int) []event.Chat {
	var out []event.Chat
	reg.locked(roomID, func(r *room) {
		out = r.history.Last(n)
	})
	return out
}

// SetTyping marks connID as typing or not in roomID. changed is false when
// the flag already had that value or connID is not a member.
func (reg *Registry) SetTyping(roomID, connID string, typing bool) (changed bool) {
	reg.locked(roomID, func(r *room) {
		changed = r.setTyping(connID, typing)
	})
	return changed
}

// TypingUsers returns the distinct user ids currently typing in roomID.
func (reg *Registry) TypingUsers(roomID string) []string {
	var out []string
	reg.locked(roomID, func(r *room) {
		out = View{r: r}.TypingUsers()
	})
	return out
}

// Has reports whether roomID exists.
func (reg *Registry) Has(roomID string) bool {
	return reg.lookup(roomID) != nil
}

// Len returns the number of live rooms.
func (reg *Registry) Len() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.rooms)
}

// Counts returns the member count of every live room.
func (reg *Registry) Counts() map[string]int {
	reg.mu.RLock()
	rooms := make([]*room, 0, len(reg.rooms))
	for _, r := range reg.rooms {
		rooms = append(rooms, r)
	}
	reg.mu.RUnlock()

	counts := make(map[string]int, len(rooms))
	for _, r := range rooms {
		r.mu.Lock()
		if !r.closed {
			counts[r.id] = len(r.members)
		}
		r.mu.Unlock()
	}
	return counts
}

func (r *room) setTyping(connID string, typing bool) bool {
	m, ok := r.members[connID]
	if !ok {
		return false
	}
	_, was := r.typing[connID]
	if was == typing {
		return false
	}
	if typing {
		r.typing[connID] = m.UserID()
	} else {
		delete(r.typing, connID)
	}
	return true
}

// View is a read-only look at a room, valid only inside the callback it was
// passed to.
type View struct {
	r *room
}

// ID returns the room id.
func (v View) ID() string { return v.r.id }

// Members returns the presence list ordered by connect time.
func (v View) Members() []event.RoomUser {
	users := make([]event.RoomUser, 0, len(v.r.members))
	for _, m := range v.r.members {
		users = append(users, event.RoomUser{
			UserID:       m.UserID(),
			ConnectionID: m.ID(),
			ConnectedAt:  m.ConnectedAt(),
			LastActivity: m.LastActivity(),
		})
	}
	slices.SortFunc(users, func(a, b event.RoomUser) int {
		if c := a.ConnectedAt.Compare(b.ConnectedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ConnectionID, b.ConnectionID)
	})
	return users
}

// TypingUsers returns the sorted distinct user ids currently typing.
func (v View) TypingUsers() []string {
	ids := make([]string, 0, len(v.r.typing))
	for _, userID := range v.r.typing {
		ids = append(ids, userID)
	}
	slices.Sort(ids)
	return slices.Compact(ids)
}

// Recent returns up to n of the newest chat events, oldest first.
func (v View) Recent(n int) []event.Chat {
	return v.r.history.Last(n)
}

// Size returns the number of members.
func (v View) Size() int { return len(v.r.members) }
