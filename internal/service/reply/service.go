// Package reply produces the AI side of a conversation for the mock backend.
// Replies run through an eino chain so the canned model and a real Ark model
// are interchangeable.
package reply

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/mockchat/backend/internal/clock"
	"github.com/zhouzirui/mockchat/backend/internal/model/chat"
)

const systemPrompt = "You are a friendly assistant in a demo chat. Keep answers short."

var (
	// ErrInjectedFailure is returned when the configured failure rate fires.
	ErrInjectedFailure = errors.New("injected reply failure")
	// ErrEmptyReply means the model produced no text.
	ErrEmptyReply = errors.New("model returned empty reply")
)

// Config controls simulated latency and failure injection.
type Config struct {
	MinLatency  time.Duration
	MaxLatency  time.Duration
	FailureRate float64
}

// Service generates replies with a configurable delay.
type Service struct {
	chain  compose.Runnable[map[string]any, *schema.Message]
	cfg    Config
	sched  clock.Scheduler
	rnd    Rand
	logger zerolog.Logger
}

// NewService compiles the reply chain around chatModel. A nil chatModel
// uses the canned model. A nil sched or rnd falls back to the runtime clock
// and math/rand/v2.
func NewService(ctx context.Context, chatModel model.BaseChatModel, cfg Config, sched clock.Scheduler, rnd Rand, logger *zerolog.Logger) (*Service, error) {
	if cfg.MaxLatency < cfg.MinLatency {
		return nil, fmt.Errorf("max latency %s is below min latency %s", cfg.MaxLatency, cfg.MinLatency)
	}
	if sched == nil {
		sched = clock.Real{}
	}
	if rnd == nil {
		rnd = globalRand{}
	}
	if chatModel == nil {
		chatModel = NewCannedModel(rnd)
	}
	l := zerolog.Nop()
	if logger != nil {
		l = *logger
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile reply chain: %w", err)
	}

	return &Service{
		chain:  runnable,
		cfg:    cfg,
		sched:  sched,
		rnd:    rnd,
		logger: l.With().Str("component", "reply").Logger(),
	}, nil
}

// Generate waits out the simulated latency and answers content. history is
// the prior transcript of the conversation, oldest first.
func (s *Service) Generate(ctx context.Context, conversationID, content string, history []chat.Message) (chat.Message, error) {
	delay := s.latency()
	if err := clock.Sleep(ctx, s.sched, delay); err != nil {
		return chat.Message{}, err
	}

	if s.cfg.FailureRate > 0 && s.rnd.Float64() < s.cfg.FailureRate {
		s.logger.Debug().Str("conversation_id", conversationID).Msg("injecting reply failure")
		return chat.Message{}, ErrInjectedFailure
	}

	response, err := s.chain.Invoke(ctx, map[string]any{
		"system":  systemPrompt,
		"history": historyMessages(history),
		"query":   content,
	})
	if err != nil {
		return chat.Message{}, fmt.Errorf("failed to run reply chain: %w", err)
	}

	text := strings.TrimSpace(response.Content)
	if text == "" {
		return chat.Message{}, ErrEmptyReply
	}

	s.logger.Debug().
		Str("conversation_id", conversationID).
		Dur("latency", delay).
		Int("length", len(text)).
		Msg("generated reply")
	return chat.NewAIMessage(text, s.sched.Now()), nil
}

// latency draws uniformly from [MinLatency, MaxLatency].
func (s *Service) latency() time.Duration {
	span := s.cfg.MaxLatency - s.cfg.MinLatency
	if span <= 0 {
		return s.cfg.MinLatency
	}
	return s.cfg.MinLatency + time.Duration(s.rnd.Float64()*float64(span))
}

func historyMessages(history []chat.Message) []*schema.Message {
	messages := make([]*schema.Message, 0, len(history))
	for _, msg := range history {
		switch msg.Sender {
		case chat.SenderUser:
			messages = append(messages, schema.UserMessage(msg.Message))
		case chat.SenderAI:
			messages = append(messages, schema.AssistantMessage(msg.Message, nil))
		}
	}
	return messages
}
