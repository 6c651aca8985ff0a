package server

import (
	"context"
	"errors"
	"strings"

	"github.com/Tyrowin/roomchat/internal/completion"
	"github.com/Tyrowin/roomchat/internal/event"
	"github.com/Tyrowin/roomchat/internal/room"
)

func (h *Hub) registerHandlers() {
	h.dispatcher.Handle(event.ChatMessage, h.handleChat)
	h.dispatcher.Handle(event.TypingStart, func(s *Session, _ event.Envelope) { h.setTyping(s, true) })
	h.dispatcher.Handle(event.TypingStop, func(s *Session, _ event.Envelope) { h.setTyping(s, false) })
	h.dispatcher.Handle(event.JoinRoom, func(s *Session, env event.Envelope) { h.changeRoom(s, env.RoomID) })
	h.dispatcher.Handle(event.AIRequest, h.handleAIRequest)
	h.dispatcher.Handle(event.CollaborationAction, h.handleCollaboration)
}

// handleChat broadcasts a chat message to the sender's room, sender included.
func (h *Hub) handleChat(s *Session, env event.Envelope) {
	if strings.TrimSpace(env.Content) == "" {
		s.logger.Warn("Dropping empty chat message")
		return
	}
	h.router.Broadcast(s.Room(), event.NewChat(s.userID, s.id, env.Content, h.newID()), "")
}

func (h *Hub) setTyping(s *Session, typing bool) {
	s.typing.Store(typing)
	h.router.Typing(s.Room(), s.id, typing)
}

func (h *Hub) handleCollaboration(s *Session, env event.Envelope) {
	h.router.Broadcast(s.Room(), event.NewCollaboration(s.userID, env.Action, env.Data), s.id)
}

// changeRoom moves s to roomID: user_left in the old room, room_changed to s,
// then user_joined in the new room. Asking for the current room only
// re-sends room_changed.
func (h *Hub) changeRoom(s *Session, roomID string) {
	s.moveMu.Lock()
	defer s.moveMu.Unlock()

	if s.State() != StateActive {
		return
	}

	greet := func(v room.View) event.Outbound {
		return event.NewRoomChange(v.ID(), v.Members(), v.Recent(h.cfg.Rooms.RecentOnJoin))
	}

	oldRoom := s.Room()
	if oldRoom == roomID {
		h.router.SendTo(roomID, s.id, event.RoomChanged, greet)
		return
	}

	res := h.rooms.Leave(oldRoom, s.id)
	s.typing.Store(false)
	h.announceLeave(oldRoom, s, res)

	s.setRoom(roomID)
	if err := h.rooms.Join(roomID, s, greet); err != nil {
		s.logger.Error("Error sending room change", "room_id", roomID, "error", err)
	}
	h.announceJoin(roomID, s)

	s.logger.Info("Client changed room", "from", oldRoom, "to", roomID)
}

// handleAIRequest admits the request, then relays it to the completer on its
// own goroutine so the read pump keeps serving other frames.
func (h *Hub) handleAIRequest(s *Session, env event.Envelope) {
	decision := h.admission.Check(s.userID, s.ip, s.tier)
	if !decision.Allowed {
		s.logger.Warn("AI request denied by admission control",
			"request_id", env.RequestID, "reason", decision.Reason)
		h.sendDirect(s, event.NewAIFailure(env.RequestID, decision.Reason))
		return
	}

	// The reply goes to the room the request was made from.
	roomID := s.Room()
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.relayAI(s, roomID, env)
	}()
}

func (h *Hub) relayAI(s *Session, roomID string, env event.Envelope) {
	ctx, cancel := context.WithTimeout(h.ctx, h.cfg.AI.Timeout)
	defer cancel()

	if err := h.aiSlots.Acquire(ctx, 1); err != nil {
		h.aiFailed(s, env.RequestID, err)
		return
	}

	// The slot stays held until the completer returns, even when the
	// request has already been answered with ai_error.
	results := make(chan aiResult, 1)
	go func() {
		defer h.aiSlots.Release(1)
		reply, err := h.completer.Complete(ctx, env.Content, env.Personality)
		results <- aiResult{reply: reply, err: err}
	}()

	var res aiResult
	select {
	case res = <-results:
		if res.err == nil && ctx.Err() != nil {
			res.err = ctx.Err()
		}
	case <-ctx.Done():
		res.err = ctx.Err()
	}
	if res.err != nil {
		h.aiFailed(s, env.RequestID, res.err)
		return
	}

	h.router.Broadcast(roomID,
		event.NewAIReply(env.RequestID, res.reply, env.Personality, h.cfg.AI.SenderName), "")
}

type aiResult struct {
	reply string
	err   error
}

func (h *Hub) aiFailed(s *Session, requestID string, err error) {
	reason := "AI service unavailable"
	switch {
	case completion.IsTimeout(err):
		reason = "timeout"
	case errors.Is(err, context.Canceled) && h.ctx.Err() != nil:
		reason = "server shutting down"
	}
	s.logger.Error("AI request failed", "request_id", requestID, "error", err)
	h.sendDirect(s, event.NewAIFailure(requestID, reason))
}

// sendDirect queues ev for s alone.
func (h *Hub) sendDirect(s *Session, ev event.Outbound) {
	data, err := event.Marshal(ev, h.stamper)
	if err != nil {
		s.logger.Error("Error encoding event", "type", event.Kind(ev), "error", err)
		return
	}
	if !s.Deliver(data) && s.State() == StateActive {
		s.logger.Warn("Client removed due to full send buffer")
		h.evict(s)
	}
}
