package coachsync

import (
	"errors"
	"time"
)

// ============================================================================
// Errors
// ============================================================================

// APIError represents a server-reported request failure.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return e.Code + ": " + e.Message
}

// ErrUnauthenticated is returned for 401/403-class failures. It is fatal to
// the whole engine: the caller must force re-authentication, nothing here
// retries past it.
var ErrUnauthenticated = errors.New("coachsync: session unauthenticated")

// ErrConnClosed is returned when operating on a connection that was shut down
// by an explicit Disconnect.
var ErrConnClosed = errors.New("coachsync: connection closed")

// ============================================================================
// Message Model
// ============================================================================

// MessageKind classifies message content.
type MessageKind string

const (
	KindText  MessageKind = "text"
	KindImage MessageKind = "image"
	KindVideo MessageKind = "video"
	KindFile  MessageKind = "file"
)

// MessageStatus is the delivery state of a message. Transitions are monotonic
// pending → sent → delivered → read; pending → failed is terminal for the
// attempt.
type MessageStatus string

const (
	StatusPending   MessageStatus = "pending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusFailed    MessageStatus = "failed"
)

var statusRank = map[MessageStatus]int{
	StatusPending:   0,
	StatusSent:      1,
	StatusDelivered: 2,
	StatusRead:      3,
}

// Message is one entry in a room's ordered log. LocalID is always present and
// client-generated; ServerID is empty until the entry is confirmed and never
// changes once assigned.
type Message struct {
	LocalID       string        `json:"localId"`
	ServerID      string        `json:"serverId,omitempty"`
	RoomID        string        `json:"roomId"`
	SenderIsSelf  bool          `json:"senderIsSelf"`
	Body          string        `json:"body"`
	Kind          MessageKind   `json:"kind"`
	AttachmentRef string        `json:"attachmentRef,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
	Status        MessageStatus `json:"status"`
	Reactions     []string      `json:"reactions,omitempty"`
}

// Draft is the input to an optimistic send.
type Draft struct {
	Body          string
	Kind          MessageKind
	AttachmentRef string
}

// ServerMessage is the wire shape of a confirmed message, as returned by the
// create/upload endpoints and carried in push frames.
type ServerMessage struct {
	ID            string      `json:"id"`
	RoomID        string      `json:"roomId"`
	SenderID      string      `json:"senderId"`
	SenderIsSelf  bool        `json:"senderIsSelf,omitempty"`
	Content       string      `json:"content"`
	Type          MessageKind `json:"type"`
	AttachmentURL string      `json:"attachmentUrl,omitempty"`
	Status        string      `json:"status,omitempty"` // "sent" or "delivered"
	CreatedAt     time.Time   `json:"createdAt"`
}

// ============================================================================
// Room Model
// ============================================================================

// Room identifies one client↔trainer (or client↔support) conversation thread.
type Room struct {
	ID                 string    `json:"id"`
	CounterpartID      string    `json:"counterpartId"`
	CounterpartName    string    `json:"counterpartName"`
	IsSupportRoom      bool      `json:"isSupportRoom"`
	LastMessagePreview string    `json:"lastMessagePreview,omitempty"`
	LastMessageTime    time.Time `json:"lastMessageTime,omitempty"`
	UnreadCount        int       `json:"unreadCount"`
	IsOnline           bool      `json:"isOnline"`
}

// ============================================================================
// Push Frames
// ============================================================================

// Push frame types. Every inbound frame carries one of these in its "type"
// field and is routed through a single dispatch point in the Coordinator.
const (
	FrameMessage  = "message"
	FrameTyping   = "typing"
	FramePresence = "online_status"
	FrameReaction = "reaction"
)

// MessageEvent is an inbound or outbound "message" frame.
type MessageEvent struct {
	Type    string        `json:"type"`
	RoomID  string        `json:"roomId"`
	Message ServerMessage `json:"message"`
}

// TypingEvent is an inbound "typing" frame.
type TypingEvent struct {
	Type     string `json:"type"`
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

// PresenceEvent is an inbound "online_status" frame.
type PresenceEvent struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
	Online bool   `json:"online"`
}

// ReactionEvent is an inbound "reaction" frame.
type ReactionEvent struct {
	Type     string `json:"type"`
	RoomID   string `json:"roomId"`
	ServerID string `json:"messageId"`
	UserID   string `json:"userId"`
	Emoji    string `json:"emoji"`
}
