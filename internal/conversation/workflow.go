// Package conversation holds the client-side chat core: the message store,
// the optimistic send/retry workflow and the debounced typing indicator.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/mockchat/backend/internal/clock"
	"github.com/zhouzirui/mockchat/backend/internal/model/chat"
)

const (
	DefaultTypingStartDelay = 500 * time.Millisecond
	DefaultTypingStopDelay  = 1000 * time.Millisecond
)

// Responder produces the AI reply for a user message.
type Responder interface {
	Reply(ctx context.Context, conversationID string, msg chat.Message) (chat.Message, error)
}

// HistoryLoader fetches the stored transcript of a conversation.
type HistoryLoader interface {
	History(ctx context.Context, conversationID string) (chat.HistoryResponse, error)
}

// Options configures a Workflow. Responder is required.
type Options struct {
	Responder      Responder
	History        HistoryLoader
	Store          *Store
	Typing         *Typing
	Clock          clock.Scheduler
	Logger         *zerolog.Logger
	ConversationID string

	TypingStartDelay time.Duration
	TypingStopDelay  time.Duration
}

// Outcome describes how a send or retry ended.
type Outcome struct {
	MessageID string
	Status    chat.Status
	Reply     *chat.Message
	Err       error
	// Stale is set when the store was cleared before the reply arrived and
	// the result was discarded.
	Stale bool
}

// Pending is the handle for the asynchronous half of a send or retry.
type Pending struct {
	id      string
	done    chan struct{}
	outcome Outcome
}

// ID returns the id of the user message being delivered.
func (p *Pending) ID() string { return p.id }

// Done is closed once reconciliation has been applied.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Wait blocks until the delivery finishes or ctx ends.
func (p *Pending) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-p.done:
		return p.outcome, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Workflow drives user messages through sending → sent/failed.
type Workflow struct {
	responder  Responder
	history    HistoryLoader
	store      *Store
	typing     *Typing
	clock      clock.Scheduler
	logger     zerolog.Logger
	startDelay time.Duration
	stopDelay  time.Duration

	mu             sync.Mutex
	conversationID string
	closed         bool
	inflight       int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New validates opts and fills in defaults.
func New(opts Options) (*Workflow, error) {
	if opts.Responder == nil {
		return nil, errors.New("conversation: responder is required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Store == nil {
		opts.Store = NewStore()
	}
	if opts.Typing == nil {
		opts.Typing = NewTyping(opts.Clock)
	}
	if opts.ConversationID == "" {
		opts.ConversationID = chat.DefaultConversationID
	}
	if opts.TypingStartDelay == 0 {
		opts.TypingStartDelay = DefaultTypingStartDelay
	}
	if opts.TypingStopDelay == 0 {
		opts.TypingStopDelay = DefaultTypingStopDelay
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Workflow{
		responder:      opts.Responder,
		history:        opts.History,
		store:          opts.Store,
		typing:         opts.Typing,
		clock:          opts.Clock,
		logger:         logger.With().Str("component", "conversation").Logger(),
		startDelay:     opts.TypingStartDelay,
		stopDelay:      opts.TypingStopDelay,
		conversationID: opts.ConversationID,
		ctx:            ctx,
		cancel:         cancel,
	}, nil
}

// Store exposes the message store backing the workflow.
func (w *Workflow) Store() *Store { return w.store }

// Typing exposes the typing indicator.
func (w *Workflow) Typing() *Typing { return w.typing }

// ConversationID returns the conversation the workflow talks to.
func (w *Workflow) ConversationID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conversationID
}

// Send appends content as a sending user message and delivers it in the
// background. Empty content is rejected with ErrValidation before anything
// is stored.
func (w *Workflow) Send(ctx context.Context, content string) (*Pending, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: message is empty", ErrValidation)
	}
	if !w.acquire() {
		return nil, ErrClosed
	}

	msg := chat.NewUserMessage(trimmed, w.clock.Now())
	gen := w.store.appendCurrent(msg)
	w.logger.Debug().Str("message_id", msg.ID).Msg("message queued")

	return w.dispatch(ctx, gen, msg), nil
}

// Retry redelivers a user message that is not currently sending. It returns
// false and leaves the store untouched for unknown ids, AI messages and
// messages still in flight.
func (w *Workflow) Retry(ctx context.Context, id string) (*Pending, bool) {
	if !w.acquire() {
		return nil, false
	}
	msg, gen, ok := w.store.beginRetry(id)
	if !ok {
		w.release(false)
		w.wg.Done()
		return nil, false
	}
	w.logger.Debug().Str("message_id", id).Msg("retrying message")
	return w.dispatch(ctx, gen, msg), true
}

// ClearAll empties the store. Deliveries still in flight are discarded when
// they complete.
func (w *Workflow) ClearAll() {
	w.store.Clear()
	w.logger.Debug().Msg("conversation cleared")
}

// LoadHistory fetches the transcript once and puts it ahead of anything sent
// meanwhile. A failure is logged, leaves the store as it was and is returned
// wrapped in ErrHistoryLoad.
func (w *Workflow) LoadHistory(ctx context.Context) error {
	if w.history == nil {
		return nil
	}
	gen := w.store.Generation()
	resp, err := w.history.History(ctx, w.ConversationID())
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrHistoryLoad, err)
		w.logger.Error().Err(err).Msg("failed to load chat history")
		return err
	}

	if resp.ConversationID != "" {
		w.mu.Lock()
		w.conversationID = resp.ConversationID
		w.mu.Unlock()
	}
	if !w.store.load(gen, resp.Messages) {
		w.logger.Debug().Msg("history discarded after clear")
		return nil
	}
	w.logger.Info().Int("messages", len(resp.Messages)).Msg("chat history loaded")
	return nil
}

// Close stops accepting work, cancels in-flight deliveries and waits for them
// to settle, then releases the typing timer.
func (w *Workflow) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.mu.Unlock()

	w.cancel()
	w.wg.Wait()
	w.typing.Close()
}

// acquire registers one delivery with the wait group unless the workflow is
// closed. The caller owns the matching wg.Done.
func (w *Workflow) acquire() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return false
	}
	w.wg.Add(1)
	w.inflight++
	return true
}

// release drops the in-flight count. The typing stop is only scheduled once
// no other delivery is running.
func (w *Workflow) release(scheduleStop bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.inflight--
	if scheduleStop && w.inflight == 0 {
		w.typing.Set(false, w.stopDelay)
	}
}

func (w *Workflow) dispatch(ctx context.Context, gen uint64, msg chat.Message) *Pending {
	w.mu.Lock()
	w.typing.Set(true, w.startDelay)
	w.mu.Unlock()

	p := &Pending{id: msg.ID, done: make(chan struct{})}
	deliverCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(w.ctx, cancel)

	go func() {
		defer w.wg.Done()
		defer cancel()
		defer stop()

		p.outcome = w.deliver(deliverCtx, gen, msg)
		w.release(true)
		close(p.done)
	}()
	return p
}

func (w *Workflow) deliver(ctx context.Context, gen uint64, msg chat.Message) Outcome {
	outcome := Outcome{MessageID: msg.ID}
	log := w.logger.With().Str("message_id", msg.ID).Logger()

	reply, err := w.responder.Reply(ctx, w.ConversationID(), msg)
	if err == nil {
		reply, err = w.normalizeReply(reply)
	}
	if err != nil {
		if !errors.Is(err, ErrNetwork) && !errors.Is(err, ErrMalformedResponse) {
			err = fmt.Errorf("%w: %w", ErrNetwork, err)
		}
		outcome.Status = chat.StatusFailed
		outcome.Err = err
		log.Warn().Err(err).Msg("failed to send message")
		if !w.store.reconcile(gen, true, msg.ID, chat.StatusFailed, nil) {
			outcome.Stale = true
		}
		return outcome
	}

	outcome.Status = chat.StatusSent
	if !w.store.reconcile(gen, true, msg.ID, chat.StatusSent, &reply) {
		outcome.Stale = true
		log.Debug().Msg("reply discarded, conversation was cleared")
		return outcome
	}
	outcome.Reply = &reply
	return outcome
}

// normalizeReply enforces the reply invariants: non-empty text, sender ai,
// status sent and an id and timestamp.
func (w *Workflow) normalizeReply(reply chat.Message) (chat.Message, error) {
	if reply.Message == "" {
		return chat.Message{}, fmt.Errorf("%w: empty reply text", ErrMalformedResponse)
	}
	reply.Sender = chat.SenderAI
	reply.Status = chat.StatusSent
	if reply.ID == "" {
		reply.ID = uuid.NewString()
	}
	if reply.Timestamp == "" {
		reply.Timestamp = chat.FormatTimestamp(w.clock.Now())
	}
	return reply, nil
}
