package room

import (
	"github.com/Tyrowin/roomchat/internal/event"
)

// Delivery is the outcome of a publish.
type Delivery struct {
	// Found is false when the room did not exist; nothing was sent.
	Found bool
	// Delivered counts members whose queue accepted the event.
	Delivered int
	// Failed holds members whose queue refused the event.
	Failed []Member
}

// Publish sends ev to every member of roomID except exclude (which may be
// empty). Chat events are stamped and appended to history before fan-out.
func (reg *Registry) Publish(roomID, exclude string, ev event.Outbound) (Delivery, error) {
	return reg.PublishFunc(roomID, exclude, func(View) event.Outbound { return ev })
}

// PublishFunc builds the event from the room state and publishes it under the
// same lock, so presence lists and typing sets are consistent with what the
// members receive. A nil event from build publishes nothing.
func (reg *Registry) PublishFunc(roomID, exclude string, build func(View) event.Outbound) (Delivery, error) {
	var (
		d   Delivery
		err error
	)
	d.Found = reg.locked(roomID, func(r *room) {
		ev := build(View{r: r})
		if ev == nil {
			return
		}
		var data []byte
		if data, err = event.Marshal(ev, reg.stamper); err != nil {
			return
		}
		if chat, ok := ev.(*event.Chat); ok {
			r.history.Push(*chat)
		}
		d.Delivered, d.Failed = r.fanOut(data, exclude)
	})
	return d, err
}

// Typing updates the typing flag of connID and sends the refreshed
// typing_update to the rest of the room, even when the flag was already set.
func (reg *Registry) Typing(roomID, connID string, typing bool) (Delivery, error) {
	var (
		d   Delivery
		err error
	)
	d.Found = reg.locked(roomID, func(r *room) {
		if _, ok := r.members[connID]; !ok {
			return
		}
		r.setTyping(connID, typing)
		var data []byte
		if data, err = event.Marshal(event.NewTyping(View{r: r}.TypingUsers()), reg.stamper); err != nil {
			return
		}
		d.Delivered, d.Failed = r.fanOut(data, connID)
	})
	return d, err
}

// SendTo delivers ev to a single member of roomID under the room lock, which
// keeps it ordered with the room's broadcasts.
func (reg *Registry) SendTo(roomID, connID string, build func(View) event.Outbound) (Delivery, error) {
	var (
		d   Delivery
		err error
	)
	d.Found = reg.locked(roomID, func(r *room) {
		m, ok := r.members[connID]
		if !ok {
			return
		}
		ev := build(View{r: r})
		if ev == nil {
			return
		}
		var data []byte
		if data, err = event.Marshal(ev, reg.stamper); err != nil {
			return
		}
		if m.Deliver(data) {
			d.Delivered = 1
		} else {
			d.Failed = []Member{m}
		}
	})
	return d, err
}

// fanOut hands data to every member but exclude. A refusing member does not
// stop delivery to the rest.
func (r *room) fanOut(data []byte, exclude string) (delivered int, failed []Member) {
	for id, m := range r.members {
		if id == exclude {
			continue
		}
		if m.Deliver(data) {
			delivered++
		} else {
			failed = append(failed, m)
		}
	}
	return delivered, failed
}
