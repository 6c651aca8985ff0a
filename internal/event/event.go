// Package event defines the JSON envelopes exchanged over a room connection:
// the inbound client envelope and one struct per server-emitted event type.
package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Type identifies an envelope.
type Type string

// Client-originated types.
const (
	ChatMessage         Type = "chat_message"
	TypingStart         Type = "typing_start"
	TypingStop          Type = "typing_stop"
	JoinRoom            Type = "join_room"
	AIRequest           Type = "ai_request"
	CollaborationAction Type = "collaboration_action"
)

// Server-emitted types. ChatMessage and CollaborationAction are emitted too.
const (
	UserJoined   Type = "user_joined"
	UserLeft     Type = "user_left"
	Welcome      Type = "welcome"
	TypingUpdate Type = "typing_update"
	RoomChanged  Type = "room_changed"
	AIResponse   Type = "ai_response"
	AIError      Type = "ai_error"
)

// DefaultPersonality is used when an ai_request omits one.
const DefaultPersonality = "default"

var (
	// ErrMalformed reports a frame that is not a JSON object with a type.
	ErrMalformed = errors.New("event: malformed envelope")
	// ErrUnknownType reports a well-formed envelope with an unsupported type.
	ErrUnknownType = errors.New("event: unknown type")
	// ErrMissingField reports an envelope lacking a field its type requires.
	ErrMissingField = errors.New("event: missing required field")
)

// Envelope is a decoded client frame. Only the fields relevant to Type are set.
type Envelope struct {
	Type        Type            `json:"type"`
	Content     string          `json:"content,omitempty"`
	RoomID      string          `json:"room_id,omitempty"`
	RequestID   string          `json:"request_id,omitempty"`
	Personality string          `json:"personality,omitempty"`
	Action      string          `json:"action,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// Decode parses a client frame. Unknown types are reported with
// ErrUnknownType alongside the decoded envelope so callers can log the type.
func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return env, ErrMalformed
	}
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return env, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if env.Type == "" {
		return env, fmt.Errorf("%w: no type", ErrMalformed)
	}

	switch env.Type {
	case ChatMessage, TypingStart, TypingStop:
	case JoinRoom:
		if env.RoomID == "" {
			return env, fmt.Errorf("%w: room_id", ErrMissingField)
		}
	case CollaborationAction:
		if env.Action == "" {
			return env, fmt.Errorf("%w: action", ErrMissingField)
		}
	case AIRequest:
		switch {
		case env.RequestID == "":
			return env, fmt.Errorf("%w: request_id", ErrMissingField)
		case strings.TrimSpace(env.Content) == "":
			return env, fmt.Errorf("%w: content", ErrMissingField)
		}
		if env.Personality == "" {
			env.Personality = DefaultPersonality
		}
	default:
		return env, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	return env, nil
}

// Outbound is implemented by every server-emitted event.
type Outbound interface {
	header() *Header
}

// Header carries the fields every outbound event has.
type Header struct {
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

func (h *Header) header() *Header { return h }

// Kind returns the event type of ev.
func Kind(ev Outbound) Type { return ev.header().Type }

// Marshal stamps ev when its timestamp is unset and encodes it.
func Marshal(ev Outbound, stamper *Stamper) ([]byte, error) {
	h := ev.header()
	if h.Timestamp.IsZero() && stamper != nil {
		h.Timestamp = stamper.Next()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("event: encoding %s: %w", h.Type, err)
	}
	return data, nil
}

// RoomUser describes one member connection in presence lists.
type RoomUser struct {
	UserID       string    `json:"user_id"`
	ConnectionID string    `json:"connection_id"`
	ConnectedAt  time.Time `json:"connected_at"`
	LastActivity time.Time `json:"last_activity"`
}

// Chat is a chat_message as broadcast and kept in room history.
type Chat struct {
	Header
	UserID       string `json:"user_id"`
	ConnectionID string `json:"connection_id"`
	Content      string `json:"content"`
	MessageID    string `json:"message_id"`
}

// NewChat builds a chat_message event.
func NewChat(userID, connectionID, content, messageID string) *Chat {
	return &Chat{
		Header:       Header{Type: ChatMessage},
		UserID:       userID,
		ConnectionID: connectionID,
		Content:      content,
		MessageID:    messageID,
	}
}

// WelcomeEvent is sent to a connection once it is active.
type WelcomeEvent struct {
	Header
	ConnectionID   string     `json:"connection_id"`
	RoomID         string     `json:"room_id"`
	Message        string     `json:"message"`
	RoomUsers      []RoomUser `json:"room_users"`
	RecentMessages []Chat     `json:"recent_messages"`
}

// NewWelcome builds a welcome event. Nil slices are encoded as empty arrays.
func NewWelcome(connectionID, roomID string, users []RoomUser, recent []Chat) *WelcomeEvent {
	return &WelcomeEvent{
		Header:         Header{Type: Welcome},
		ConnectionID:   connectionID,
		RoomID:         roomID,
		Message:        "Connected to room: " + roomID,
		RoomUsers:      nonNil(users),
		RecentMessages: nonNil(recent),
	}
}

// Presence is a user_joined or user_left event.
type Presence struct {
	Header
	UserID       string     `json:"user_id"`
	ConnectionID string     `json:"connection_id"`
	RoomUsers    []RoomUser `json:"room_users"`
}

// NewPresence builds a user_joined or user_left event.
func NewPresence(t Type, userID, connectionID string, users []RoomUser) *Presence {
	return &Presence{
		Header:       Header{Type: t},
		UserID:       userID,
		ConnectionID: connectionID,
		RoomUsers:    nonNil(users),
	}
}

// Typing is a typing_update event.
type Typing struct {
	Header
	TypingUsers []string `json:"typing_users"`
}

// NewTyping builds a typing_update event.
func NewTyping(userIDs []string) *Typing {
	return &Typing{Header: Header{Type: TypingUpdate}, TypingUsers: nonNil(userIDs)}
}

// RoomChange is sent to a connection after it moved rooms.
type RoomChange struct {
	Header
	RoomID         string     `json:"room_id"`
	RoomUsers      []RoomUser `json:"room_users"`
	RecentMessages []Chat     `json:"recent_messages"`
}

// NewRoomChange builds a room_changed event.
func NewRoomChange(roomID string, users []RoomUser, recent []Chat) *RoomChange {
	return &RoomChange{
		Header:         Header{Type: RoomChanged},
		RoomID:         roomID,
		RoomUsers:      nonNil(users),
		RecentMessages: nonNil(recent),
	}
}

// AIReply is an ai_response broadcast to a room.
type AIReply struct {
	Header
	RequestID   string `json:"request_id"`
	Content     string `json:"content"`
	Personality string `json:"personality"`
	UserID      string `json:"user_id"`
}

// NewAIReply builds an ai_response event attributed to sender.
func NewAIReply(requestID, content, personality, sender string) *AIReply {
	return &AIReply{
		Header:      Header{Type: AIResponse},
		RequestID:   requestID,
		Content:     content,
		Personality: personality,
		UserID:      sender,
	}
}

// AIFailure is an ai_error sent only to the requesting connection.
type AIFailure struct {
	Header
	RequestID string `json:"request_id"`
	Error     string `json:"error"`
}

// NewAIFailure builds an ai_error event.
func NewAIFailure(requestID, reason string) *AIFailure {
	return &AIFailure{Header: Header{Type: AIError}, RequestID: requestID, Error: reason}
}

// Collaboration relays an opaque collaboration action.
type Collaboration struct {
	Header
	UserID string          `json:"user_id"`
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data"`
}

// NewCollaboration builds a collaboration_action event. Missing data is sent as null.
func NewCollaboration(userID, action string, data json.RawMessage) *Collaboration {
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	return &Collaboration{
		Header: Header{Type: CollaborationAction},
		UserID: userID,
		Action: action,
		Data:   data,
	}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
