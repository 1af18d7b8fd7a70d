package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/zhouzirui/mockchat/backend/internal/connection"
	"github.com/zhouzirui/mockchat/backend/internal/conversation"
	"github.com/zhouzirui/mockchat/backend/internal/model/chat"
)

const shortIDLen = 8

type historyClearer interface {
	ClearHistory(ctx context.Context, conversationID string) error
}

// repl reads commands and prints conversation changes. Output may come from
// delivery goroutines and timers, so every write goes through printf.
type repl struct {
	wf      *conversation.Workflow
	sim     *connection.Simulator
	remote  historyClearer
	out     io.Writer
	mu      sync.Mutex
	printed map[string]chat.Status
}

func newREPL(wf *conversation.Workflow, sim *connection.Simulator, remote historyClearer, out io.Writer) *repl {
	return &repl{
		wf:      wf,
		sim:     sim,
		remote:  remote,
		out:     out,
		printed: make(map[string]chat.Status),
	}
}

// attach subscribes the printer to the store, typing indicator and simulator.
func (r *repl) attach() {
	r.wf.Store().OnChange(r.render)
	r.wf.Typing().OnChange(func(active bool) {
		if active {
			r.printf("  … AI is typing\n")
		}
	})
	if r.sim != nil {
		r.sim.Subscribe(func(state connection.State) {
			r.printf("  [connection: %s]\n", state)
		})
	}
}

func (r *repl) run(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-readErr:
					return err
				default:
					return nil
				}
			}
			if _, quit := r.handleLine(ctx, line); quit {
				return nil
			}
		}
	}
}

// handleLine executes one input line. It returns the pending delivery for
// sends and retries, and whether the user asked to quit.
func (r *repl) handleLine(ctx context.Context, line string) (*conversation.Pending, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, false
	}

	if !strings.HasPrefix(line, "/") {
		pending, err := r.wf.Send(ctx, line)
		if err != nil {
			r.printf("  ! %v\n", err)
			return nil, false
		}
		return pending, false
	}

	cmd, arg, _ := strings.Cut(line, " ")
	switch cmd {
	case "/quit", "/exit":
		return nil, true
	case "/retry":
		id, ok := r.resolveID(strings.TrimSpace(arg))
		if !ok {
			r.printf("  ! no message matches %q\n", arg)
			return nil, false
		}
		pending, ok := r.wf.Retry(ctx, id)
		if !ok {
			r.printf("  ! message %s cannot be retried right now\n", shortID(id))
			return nil, false
		}
		return pending, false
	case "/clear":
		r.wf.ClearAll()
		if r.remote != nil {
			if err := r.remote.ClearHistory(ctx, r.wf.ConversationID()); err != nil {
				r.printf("  ! server transcript not cleared: %v\n", err)
			}
		}
	case "/reconnect":
		if r.sim != nil {
			r.sim.Reconnect()
		}
	default:
		r.printf("  ! unknown command %s\n", cmd)
	}
	return nil, false
}

// resolveID accepts a full id or a unique prefix of a user message id.
func (r *repl) resolveID(prefix string) (string, bool) {
	if prefix == "" {
		return "", false
	}
	match := ""
	for _, msg := range r.wf.Store().Snapshot() {
		if msg.Sender != chat.SenderUser || !strings.HasPrefix(msg.ID, prefix) {
			continue
		}
		if match != "" && match != msg.ID {
			return "", false
		}
		match = msg.ID
	}
	return match, match != ""
}

// render prints entries that are new or whose status changed.
func (r *repl) render(snapshot []chat.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(snapshot) == 0 {
		if len(r.printed) > 0 {
			fmt.Fprintln(r.out, "  (conversation cleared)")
		}
		r.printed = make(map[string]chat.Status)
		return
	}

	for _, msg := range snapshot {
		prev, seen := r.printed[msg.ID]
		if seen && prev == msg.Status {
			continue
		}
		r.printed[msg.ID] = msg.Status
		fmt.Fprintln(r.out, formatEntry(msg))
	}
}

func (r *repl) printf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, format, args...)
}

func formatEntry(msg chat.Message) string {
	if msg.Sender == chat.SenderAI {
		return fmt.Sprintf("AI:  %s", msg.Message)
	}
	return fmt.Sprintf("You: %s  [%s %s]", msg.Message, shortID(msg.ID), msg.Status)
}

func shortID(id string) string {
	if len(id) <= shortIDLen {
		return id
	}
	return id[:shortIDLen]
}
