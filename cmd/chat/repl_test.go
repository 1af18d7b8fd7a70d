package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/mockchat/backend/internal/clock"
	"github.com/zhouzirui/mockchat/backend/internal/conversation"
	"github.com/zhouzirui/mockchat/backend/internal/model/chat"
)

type scriptedResponder struct {
	mu      sync.Mutex
	results []error
}

func (s *scriptedResponder) Reply(_ context.Context, _ string, msg chat.Message) (chat.Message, error) {
	s.mu.Lock()
	var err error
	if len(s.results) > 0 {
		err = s.results[0]
		s.results = s.results[1:]
	}
	s.mu.Unlock()
	if err != nil {
		return chat.Message{}, err
	}
	return chat.Message{Message: "echo " + msg.Message}, nil
}

type recordingClearer struct {
	cleared []string
}

func (c *recordingClearer) ClearHistory(_ context.Context, conversationID string) error {
	c.cleared = append(c.cleared, conversationID)
	return nil
}

// safeBuffer lets the test read output written by delivery goroutines.
type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *safeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestREPL(t *testing.T, results ...error) (*repl, *safeBuffer, *recordingClearer) {
	t.Helper()
	wf, err := conversation.New(conversation.Options{
		Responder: &scriptedResponder{results: results},
		Clock:     clock.NewManual(time.Unix(0, 0)),
	})
	require.NoError(t, err)
	t.Cleanup(wf.Close)

	out := &safeBuffer{}
	clearer := &recordingClearer{}
	r := newREPL(wf, nil, clearer, out)
	r.attach()
	return r, out, clearer
}

func waitPending(t *testing.T, p *conversation.Pending) conversation.Outcome {
	t.Helper()
	require.NotNil(t, p)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	outcome, err := p.Wait(ctx)
	require.NoError(t, err)
	return outcome
}

func TestREPLSendPrintsTranscript(t *testing.T) {
	r, out, _ := newTestREPL(t)

	pending, quit := r.handleLine(context.Background(), "Hello")
	require.False(t, quit)
	outcome := waitPending(t, pending)
	require.Equal(t, chat.StatusSent, outcome.Status)

	got := out.String()
	require.Contains(t, got, "You: Hello  ["+shortID(pending.ID())+" sending]")
	require.Contains(t, got, "You: Hello  ["+shortID(pending.ID())+" sent]")
	require.Contains(t, got, "AI:  echo Hello")
}

func TestREPLRetryByPrefix(t *testing.T) {
	r, out, _ := newTestREPL(t, conversation.ErrNetwork)

	pending, _ := r.handleLine(context.Background(), "Hello")
	outcome := waitPending(t, pending)
	require.Equal(t, chat.StatusFailed, outcome.Status)
	require.Contains(t, out.String(), "failed]")

	retry, _ := r.handleLine(context.Background(), "/retry "+pending.ID()[:6])
	outcome = waitPending(t, retry)
	require.Equal(t, chat.StatusSent, outcome.Status)
	require.Equal(t, pending.ID(), retry.ID())
}

func TestREPLRetryUnknownID(t *testing.T) {
	r, out, _ := newTestREPL(t)

	pending, _ := r.handleLine(context.Background(), "/retry nope")
	require.Nil(t, pending)
	require.Contains(t, out.String(), `no message matches "nope"`)
}

func TestREPLClearAlsoClearsServer(t *testing.T) {
	r, out, clearer := newTestREPL(t)

	waitPending(t, mustSend(t, r, "Hello"))
	r.handleLine(context.Background(), "/clear")

	require.Equal(t, 0, r.wf.Store().Len())
	require.Equal(t, []string{chat.DefaultConversationID}, clearer.cleared)
	require.Contains(t, out.String(), "(conversation cleared)")
}

func TestREPLCommands(t *testing.T) {
	r, out, _ := newTestREPL(t)

	_, quit := r.handleLine(context.Background(), "/bogus")
	require.False(t, quit)
	require.Contains(t, out.String(), "unknown command /bogus")

	_, quit = r.handleLine(context.Background(), "   ")
	require.False(t, quit)

	_, quit = r.handleLine(context.Background(), "/quit")
	require.True(t, quit)
}

func TestREPLRunStopsOnQuit(t *testing.T) {
	r, _, _ := newTestREPL(t)

	err := r.run(context.Background(), strings.NewReader("/reconnect\n/quit\nnever sent\n"))
	require.NoError(t, err)
	require.Equal(t, 0, r.wf.Store().Len())
}

func TestREPLRunEndsAtEOF(t *testing.T) {
	r, _, _ := newTestREPL(t)

	err := r.run(context.Background(), strings.NewReader(""))
	require.False(t, errors.Is(err, context.Canceled))
	require.NoError(t, err)
}

func mustSend(t *testing.T, r *repl, line string) *conversation.Pending {
	t.Helper()
	pending, _ := r.handleLine(context.Background(), line)
	require.NotNil(t, pending)
	return pending
}
