package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/zhouzirui/mockchat/backend/internal/model/chat"
)

var (
	ErrConversationRequired = errors.New("conversation id is required")
	ErrConversationNotFound = errors.New("conversation not found")
)

// Service keeps per-conversation transcripts for the mock backend.
type Service struct {
	mu            sync.RWMutex
	conversations map[string]chat.Conversation
	messages      map[string][]chat.Message
	now           func() time.Time
}

// NewService bootstraps an empty in-memory transcript store.
func NewService() *Service {
	return &Service{
		conversations: make(map[string]chat.Conversation),
		messages:      make(map[string][]chat.Message),
		now:           time.Now,
	}
}

// EnsureConversation returns the conversation with id, creating it on first use.
func (s *Service) EnsureConversation(_ context.Context, id string) (chat.Conversation, error) {
	if id == "" {
		return chat.Conversation{}, ErrConversationRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureLocked(id), nil
}

func (s *Service) ensureLocked(id string) chat.Conversation {
	if conv, ok := s.conversations[id]; ok {
		return conv
	}
	conv := chat.Conversation{ID: id, CreatedAt: s.now().UTC()}
	s.conversations[id] = conv
	s.messages[id] = make([]chat.Message, 0, 16)
	return conv
}

// AppendTurn records a delivered user message and the reply it produced.
// Both are stored as sent; the transcript only ever holds completed turns.
func (s *Service) AppendTurn(_ context.Context, conversationID string, user, reply chat.Message) error {
	if conversationID == "" {
		return ErrConversationRequired
	}

	user.Sender, user.Status = chat.SenderUser, chat.StatusSent
	reply.Sender, reply.Status = chat.SenderAI, chat.StatusSent

	s.mu.Lock()
	defer s.mu.Unlock()

	s.ensureLocked(conversationID)
	s.messages[conversationID] = append(s.messages[conversationID], user, reply)
	return nil
}

// GetConversation retrieves a conversation by identifier.
func (s *Service) GetConversation(_ context.Context, id string) (chat.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[id]
	if !ok {
		return chat.Conversation{}, ErrConversationNotFound
	}
	return conv, nil
}

// LoadTranscript returns stored messages for the conversation. An unknown
// conversation has an empty transcript.
func (s *Service) LoadTranscript(_ context.Context, conversationID string) ([]chat.Message, error) {
	if conversationID == "" {
		return nil, ErrConversationRequired
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	messages := s.messages[conversationID]
	copied := make([]chat.Message, len(messages))
	copy(copied, messages)
	return copied, nil
}

// Clear drops the transcript of the conversation and reports whether it existed.
func (s *Service) Clear(_ context.Context, conversationID string) (bool, error) {
	if conversationID == "" {
		return false, ErrConversationRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[conversationID]; !ok {
		return false, nil
	}
	delete(s.conversations, conversationID)
	delete(s.messages, conversationID)
	return true, nil
}
