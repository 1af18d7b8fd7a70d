package reply

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/zhouzirui/mockchat/backend/internal/clock"
	"github.com/zhouzirui/mockchat/backend/internal/model/chat"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fixedRand struct {
	mu     sync.Mutex
	values []float64
}

func (r *fixedRand) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	v := r.values[0]
	if len(r.values) > 1 {
		r.values = r.values[1:]
	}
	return v
}

// recordingModel captures the prompt it was given.
type recordingModel struct {
	reply string
	input []*schema.Message
}

func (m *recordingModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.input = input
	return schema.AssistantMessage(m.reply, nil), nil
}

func (m *recordingModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func (m *recordingModel) BindTools([]*schema.ToolInfo) error { return nil }

func TestFormatReply(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{name: "short", content: "Hello", want: `Op (Replying to: "Hello")`},
		{name: "exactly fifty", content: strings.Repeat("a", 50), want: `Op (Replying to: "` + strings.Repeat("a", 50) + `")`},
		{name: "long", content: strings.Repeat("b", 51), want: `Op (Replying to: "` + strings.Repeat("b", 50) + `...")`},
		{name: "multibyte", content: strings.Repeat("你", 60), want: `Op (Replying to: "` + strings.Repeat("你", 50) + `...")`},
		{name: "quotes kept", content: `say "hi"`, want: `Op (Replying to: "say "hi"")`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, FormatReply("Op", tt.content))
		})
	}
}

func TestCannedModelPicksOpener(t *testing.T) {
	tests := []struct {
		roll float64
		want string
	}{
		{roll: 0, want: openers[0]},
		{roll: 0.3, want: openers[1]},
		{roll: 0.6, want: openers[2]},
		{roll: 0.99, want: openers[3]},
	}

	for _, tt := range tests {
		m := NewCannedModel(&fixedRand{values: []float64{tt.roll}})
		msg, err := m.Generate(context.Background(), []*schema.Message{schema.UserMessage("Hello")})
		require.NoError(t, err)
		require.Equal(t, schema.Assistant, msg.Role)
		require.Equal(t, FormatReply(tt.want, "Hello"), msg.Content)
	}
}

func TestCannedModelRequiresUserMessage(t *testing.T) {
	m := NewCannedModel(&fixedRand{values: []float64{0}})
	_, err := m.Generate(context.Background(), []*schema.Message{schema.SystemMessage("sys")})
	require.Error(t, err)
}

func TestCannedModelStream(t *testing.T) {
	m := NewCannedModel(&fixedRand{values: []float64{0}})
	stream, err := m.Stream(context.Background(), []*schema.Message{schema.UserMessage("Hello")})
	require.NoError(t, err)
	defer stream.Close()

	chunk, err := stream.Recv()
	require.NoError(t, err)
	require.Contains(t, chunk.Content, `(Replying to: "Hello")`)
}

func TestGenerateWithCannedModel(t *testing.T) {
	m := clock.NewManual(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	svc, err := NewService(context.Background(), nil, Config{}, m, &fixedRand{values: []float64{0}}, nil)
	require.NoError(t, err)

	msg, err := svc.Generate(context.Background(), "conv", "Hello", nil)
	require.NoError(t, err)
	require.Equal(t, chat.SenderAI, msg.Sender)
	require.Equal(t, chat.StatusSent, msg.Status)
	require.NotEmpty(t, msg.ID)
	require.Equal(t, "2026-01-01T00:00:00.000Z", msg.Timestamp)
	require.Equal(t, FormatReply(openers[0], "Hello"), msg.Message)
}

func TestGeneratePassesHistoryToModel(t *testing.T) {
	rec := &recordingModel{reply: "  answer  "}
	svc, err := NewService(context.Background(), rec, Config{}, clock.NewManual(time.Unix(0, 0)), &fixedRand{values: []float64{0}}, nil)
	require.NoError(t, err)

	history := []chat.Message{
		{ID: "1", Message: "first", Sender: chat.SenderUser, Status: chat.StatusSent},
		{ID: "2", Message: "reply", Sender: chat.SenderAI, Status: chat.StatusSent},
	}
	msg, err := svc.Generate(context.Background(), "conv", "second", history)
	require.NoError(t, err)
	require.Equal(t, "answer", msg.Message)

	require.Len(t, rec.input, 4)
	require.Equal(t, schema.System, rec.input[0].Role)
	require.Equal(t, schema.User, rec.input[1].Role)
	require.Equal(t, "first", rec.input[1].Content)
	require.Equal(t, schema.Assistant, rec.input[2].Role)
	require.Equal(t, "second", rec.input[3].Content)
}

func TestGenerateEmptyReply(t *testing.T) {
	svc, err := NewService(context.Background(), &recordingModel{reply: " "}, Config{}, clock.NewManual(time.Unix(0, 0)), &fixedRand{values: []float64{0}}, nil)
	require.NoError(t, err)

	_, err = svc.Generate(context.Background(), "conv", "Hello", nil)
	require.ErrorIs(t, err, ErrEmptyReply)
}

func TestGenerateInjectedFailure(t *testing.T) {
	cfg := Config{FailureRate: 0.5}
	// latency span is zero, so the only roll is the failure roll
	svc, err := NewService(context.Background(), nil, cfg, clock.NewManual(time.Unix(0, 0)), &fixedRand{values: []float64{0.2}}, nil)
	require.NoError(t, err)

	_, err = svc.Generate(context.Background(), "conv", "Hello", nil)
	require.ErrorIs(t, err, ErrInjectedFailure)
}

func TestGenerateWaitsForLatency(t *testing.T) {
	m := clock.NewManual(time.Unix(0, 0))
	cfg := Config{MinLatency: time.Second, MaxLatency: 3 * time.Second}
	// latency roll 0.5 → 2s, then opener roll
	svc, err := NewService(context.Background(), nil, cfg, m, &fixedRand{values: []float64{0.5, 0}}, nil)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := svc.Generate(context.Background(), "conv", "Hello", nil)
		done <- err
	}()

	waitPending(t, m)
	m.Advance(1999 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("reply returned before the latency elapsed")
	default:
	}

	m.Advance(time.Millisecond)
	require.NoError(t, <-done)
}

func TestGenerateHonoursCancellation(t *testing.T) {
	m := clock.NewManual(time.Unix(0, 0))
	svc, err := NewService(context.Background(), nil, Config{MinLatency: time.Second, MaxLatency: time.Second}, m, &fixedRand{values: []float64{0}}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := svc.Generate(ctx, "conv", "Hello", nil)
		done <- err
	}()

	waitPending(t, m)
	cancel()
	require.True(t, errors.Is(<-done, context.Canceled))
}

func TestNewServiceRejectsInvertedWindow(t *testing.T) {
	_, err := NewService(context.Background(), nil, Config{MinLatency: 2 * time.Second, MaxLatency: time.Second}, nil, nil, nil)
	require.Error(t, err)
}

func waitPending(t *testing.T, m *clock.Manual) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for m.Pending() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for the latency timer")
		}
		time.Sleep(time.Millisecond)
	}
}
