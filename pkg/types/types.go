package types

import (
	"time"
)

// Inbound frame types accepted from clients
const (
	FrameDirectMessage  = "direct_message"
	FrameGetHistory     = "get_history"
	FramePing           = "ping"
	FrameGetOnlineUsers = "get_online_users"
)

// Outbound frame types pushed to clients
const (
	FrameMessageAck     = "message_ack"
	FrameMessageHistory = "message_history"
	FrameOnlineUsers    = "online_users"
	FramePresence       = "presence"
	FramePong           = "pong"
	FrameError          = "error"
)

// Delivery outcomes reported in message_ack
const (
	StatusDelivered = "delivered"
	StatusQueued    = "queued"
)

// Presence states
const (
	PresenceOnline  = "online"
	PresenceOffline = "offline"
)

// Message is a single direct message between two identities.
// ARCHITECTURAL DISCOVERY: Messages are immutable once created; the Delivered
// flag records the state at creation time and is never mutated in storage.
type Message struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	Delivered bool      `json:"delivered"`
}

// Timestamp returns the creation time in Unix milliseconds, the wire format.
func (m *Message) Timestamp() int64 {
	return m.CreatedAt.UnixMilli()
}

// Wire returns the client-facing view of the message.
func (m *Message) Wire() WireMessage {
	return WireMessage{
		ID:        m.ID,
		From:      m.From,
		Content:   m.Content,
		Timestamp: m.Timestamp(),
	}
}

// ConversationKey returns the canonical key for the pair, independent of order.
func ConversationKey(a, b string) string {
	if a < b {
		return a + ":" + b
	}
	return b + ":" + a
}

// Frame is a validated, normalized inbound frame.
// Only the fields relevant to Type are populated.
type Frame struct {
	Type    string
	To      string
	Content string
	With    string
	Limit   int
}

// WireMessage is the message shape carried by outbound envelopes.
type WireMessage struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// DirectMessageEnvelope delivers a message to a recipient connection.
// Queued marks catch-up traffic drained from the offline queue.
type DirectMessageEnvelope struct {
	Type    string      `json:"type"`
	Message WireMessage `json:"message"`
	Queued  bool        `json:"queued,omitempty"`
}

// AckEnvelope reports the delivery outcome to the sender.
type AckEnvelope struct {
	Type      string `json:"type"`
	MessageID string `json:"messageId"`
	To        string `json:"to"`
	Timestamp int64  `json:"timestamp"`
	Status    string `json:"status"`
}

// HistoryEnvelope answers get_history.
type HistoryEnvelope struct {
	Type     string        `json:"type"`
	With     string        `json:"with"`
	Messages []WireMessage `json:"messages"`
}

// OnlineUsersEnvelope is the snapshot of online identities.
type OnlineUsersEnvelope struct {
	Type  string   `json:"type"`
	Users []string `json:"users"`
}

// PresenceEnvelope announces an online/offline transition.
type PresenceEnvelope struct {
	Type        string   `json:"type"`
	UserID      string   `json:"userId"`
	Status      string   `json:"status"`
	OnlineUsers []string `json:"onlineUsers"`
}

// PongEnvelope answers an application-level ping.
type PongEnvelope struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// ErrorEnvelope reports a per-frame failure. The connection stays open.
type ErrorEnvelope struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewDirectMessage builds the delivery envelope for m.
func NewDirectMessage(m *Message, queued bool) DirectMessageEnvelope {
	return DirectMessageEnvelope{Type: FrameDirectMessage, Message: m.Wire(), Queued: queued}
}

// NewAck builds the sender acknowledgement for m.
func NewAck(m *Message, status string) AckEnvelope {
	return AckEnvelope{
		Type:      FrameMessageAck,
		MessageID: m.ID,
		To:        m.To,
		Timestamp: m.Timestamp(),
		Status:    status,
	}
}

// NewHistory builds a history envelope; messages are kept in the given order.
func NewHistory(with string, messages []*Message) HistoryEnvelope {
	wire := make([]WireMessage, 0, len(messages))
	for _, m := range messages {
		wire = append(wire, m.Wire())
	}
	return HistoryEnvelope{Type: FrameMessageHistory, With: with, Messages: wire}
}

// NewOnlineUsers builds an online_users snapshot.
func NewOnlineUsers(users []string) OnlineUsersEnvelope {
	if users == nil {
		users = []string{}
	}
	return OnlineUsersEnvelope{Type: FrameOnlineUsers, Users: users}
}

// NewPresence builds a presence transition frame.
func NewPresence(userID, status string, online []string) PresenceEnvelope {
	if online == nil {
		online = []string{}
	}
	return PresenceEnvelope{Type: FramePresence, UserID: userID, Status: status, OnlineUsers: online}
}

// NewPong builds a pong frame.
func NewPong(now time.Time) PongEnvelope {
	return PongEnvelope{Type: FramePong, Timestamp: now.UnixMilli()}
}

// NewError builds an error frame.
func NewError(code, message string) ErrorEnvelope {
	return ErrorEnvelope{Type: FrameError, Code: code, Message: message}
}
