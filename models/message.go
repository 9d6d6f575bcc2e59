package models

import (
	"encoding/json"
	"time"
)

// Reserved content fields understood by this agent.
const (
	MsgTypeReminder    = "smack.reminder"
	MsgTypeReminderDue = "smack.reminder.due"

	RelReplace = "replace"
)

// Relation links a message to another one, e.g. a due notice back to the
// reminder that produced it.
type Relation struct {
	Type      string `json:"rel_type"`
	MessageID string `json:"message_id"`
}

// MessageContent is the structured body of a message. Body is the plain-text
// fallback every client can render; the reminder block rides under a reserved
// key that unaware clients ignore.
type MessageContent struct {
	Body      string           `json:"body"`
	MsgType   string           `json:"msgtype,omitempty"`
	Reminder  *ReminderContent `json:"com.smack.reminder,omitempty"`
	RelatesTo *Relation        `json:"relates_to,omitempty"`
}

type Message struct {
	ID        string         `json:"id"`
	ChannelID string         `json:"channel_id"`
	UserID    string         `json:"user_id"`
	Content   MessageContent `json:"content"`
	ThreadID  *string        `json:"thread_id,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

type SendMessageRequest struct {
	ChannelID string         `json:"channel_id"`
	Content   MessageContent `json:"content"`
	ThreadID  *string        `json:"thread_id,omitempty"`
	ClientKey string         `json:"client_key,omitempty"`
}

// Event is one delivery from the live stream.
type Event struct {
	Message     Message
	RoomID      string
	Historical  bool // replayed backlog, not a live arrival
	Removed     bool // deletion/redaction of Message.ID
	Live        bool
	Sealed      bool // payload still encrypted; content not yet readable
	Provisional bool // local echo; Message.ID is not yet server-confirmed
}

// EchoUpdate reports that a locally-sent message's provisional id has been
// replaced by the server-confirmed one.
type EchoUpdate struct {
	Message    Message
	RoomID     string
	PreviousID string
}

// WebSocket frame types
type WSMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

const (
	WSTypeWelcome        = "welcome"
	WSTypeNewMessage     = "new_message"
	WSTypeSealedMessage  = "sealed_message"
	WSTypeMessageDeleted = "message_deleted"
	WSTypeTyping         = "typing"
	WSTypeReminder       = "reminder"
)

type MessageDeletedPayload struct {
	MessageID string `json:"message_id"`
	ChannelID string `json:"channel_id"`
}
