package reply

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// maxQuotedRunes bounds how much of the user's message is echoed back.
const maxQuotedRunes = 50

var openers = []string{
	"That's an interesting question! Let me think about it...",
	"I understand what you're asking. Here's my perspective:",
	"Based on what you've shared, I would suggest:",
	"That's a great point! Here are some thoughts:",
}

var errNoUserMessage = errors.New("no user message to reply to")

// Rand supplies random draws for latency, failure injection and opener choice.
type Rand interface {
	Float64() float64
}

type globalRand struct{}

func (globalRand) Float64() float64 { return rand.Float64() }

// CannedModel is a chat model that never leaves the process. It answers the
// last user message with a canned opener and a quote of that message.
type CannedModel struct {
	rnd Rand
}

var _ model.ChatModel = (*CannedModel)(nil)

// NewCannedModel returns a canned model. A nil rnd uses math/rand/v2.
func NewCannedModel(rnd Rand) *CannedModel {
	if rnd == nil {
		rnd = globalRand{}
	}
	return &CannedModel{rnd: rnd}
}

// Generate implements model.BaseChatModel.
func (m *CannedModel) Generate(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for i := len(input) - 1; i >= 0; i-- {
		if input[i] != nil && input[i].Role == schema.User {
			return schema.AssistantMessage(FormatReply(m.pickOpener(), input[i].Content), nil), nil
		}
	}
	return nil, errNoUserMessage
}

// Stream implements model.BaseChatModel with a single-chunk stream.
func (m *CannedModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

// BindTools is a no-op; the canned model has no tool support.
func (m *CannedModel) BindTools([]*schema.ToolInfo) error {
	return nil
}

func (m *CannedModel) pickOpener() string {
	idx := int(m.rnd.Float64() * float64(len(openers)))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(openers) {
		idx = len(openers) - 1
	}
	return openers[idx]
}

// FormatReply renders opener followed by a quote of content, cut to fifty
// characters with a trailing ellipsis when longer.
func FormatReply(opener, content string) string {
	return fmt.Sprintf("%s (Replying to: \"%s\")", opener, truncate(content))
}

func truncate(content string) string {
	runes := []rune(content)
	if len(runes) <= maxQuotedRunes {
		return content
	}
	return string(runes[:maxQuotedRunes]) + "..."
}
