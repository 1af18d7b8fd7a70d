package chat

import (
	"time"

	"github.com/google/uuid"
)

// Sender identifies who authored a message.
type Sender string

const (
	SenderUser Sender = "user"
	SenderAI   Sender = "ai"
)

// Status tracks delivery of a user message.
type Status string

const (
	StatusSending Status = "sending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusSending, StatusSent, StatusFailed:
		return true
	}
	return false
}

// DefaultConversationID is used when a client does not pick its own conversation.
const DefaultConversationID = "mock-conversation-id"

// Message is a single chat turn as exchanged with the browser client.
type Message struct {
	ID        string `json:"id"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	Sender    Sender `json:"sender"`
	Status    Status `json:"status"`
}

// NewUserMessage builds an optimistic user message in the sending state.
func NewUserMessage(content string, now time.Time) Message {
	return Message{
		ID:        uuid.NewString(),
		Message:   content,
		Timestamp: FormatTimestamp(now),
		Sender:    SenderUser,
		Status:    StatusSending,
	}
}

// NewAIMessage builds a reply. AI messages are always created as sent.
func NewAIMessage(content string, now time.Time) Message {
	return Message{
		ID:        uuid.NewString(),
		Message:   content,
		Timestamp: FormatTimestamp(now),
		Sender:    SenderAI,
		Status:    StatusSent,
	}
}

// FormatTimestamp renders t the way the browser's toISOString does.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

// SendRequest is the body of POST /api/chat/send.
// MessageID is the client's id for the user message; the server records the
// turn under it so a later history load lines up with the client's entry.
type SendRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId,omitempty"`
}

// HistoryResponse is the body of GET /api/chat/history.
type HistoryResponse struct {
	Messages       []Message `json:"messages"`
	ConversationID string    `json:"conversationId"`
}

// ErrorResponse is returned with every non-2xx status.
type ErrorResponse struct {
	Error string `json:"error"`
}
