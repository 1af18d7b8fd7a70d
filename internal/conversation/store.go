package conversation

import (
	"sync"

	"github.com/zhouzirui/mockchat/backend/internal/model/chat"
)

// Store holds the ordered messages of the active conversation.
//
// Every mutation builds a fresh slice and swaps it in, so a slice handed out
// by Snapshot is never written to again. Clear bumps the generation;
// reconciliations started under an older generation are dropped.
type Store struct {
	mu         sync.Mutex
	messages   []chat.Message
	generation uint64
	listeners  []func([]chat.Message)
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{}
}

// OnChange registers fn to receive every new snapshot.
func (s *Store) OnChange(fn func([]chat.Message)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Snapshot returns the current ordered messages. Callers must not modify it.
func (s *Store) Snapshot() []chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messages
}

// Len returns the number of stored messages.
func (s *Store) Len() int {
	return len(s.Snapshot())
}

// Generation counts how many times the store has been cleared.
func (s *Store) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// Find looks up a message by id.
func (s *Store) Find(id string) (chat.Message, bool) {
	snapshot := s.Snapshot()
	if i := indexOf(snapshot, id); i >= 0 {
		return snapshot[i], true
	}
	return chat.Message{}, false
}

// Append adds msg at the end of the conversation.
func (s *Store) Append(msg chat.Message) {
	s.appendCurrent(msg)
}

// UpdateStatus sets the status of the user message id. It reports false and
// leaves the store untouched when id is unknown or not a user message.
func (s *Store) UpdateStatus(id string, status chat.Status) bool {
	return s.reconcile(0, false, id, status, nil)
}

// AppendAndUpdate sets the status of the user message id and appends reply in
// a single replacement. Nothing changes when id is unknown.
func (s *Store) AppendAndUpdate(id string, status chat.Status, reply chat.Message) bool {
	return s.reconcile(0, false, id, status, &reply)
}

// Clear empties the store and starts a new generation.
func (s *Store) Clear() {
	s.mu.Lock()
	s.messages = nil
	s.generation++
	s.mu.Unlock()

	s.notify(nil)
}

// reconcile applies a status change (and optional reply append) to id. When
// checkGen is set the change is only applied if the store is still on
// generation gen.
func (s *Store) reconcile(gen uint64, checkGen bool, id string, status chat.Status, reply *chat.Message) bool {
	s.mu.Lock()
	if checkGen && s.generation != gen {
		s.mu.Unlock()
		return false
	}
	i := indexOf(s.messages, id)
	if i < 0 || s.messages[i].Sender != chat.SenderUser {
		s.mu.Unlock()
		return false
	}

	size := len(s.messages)
	if reply != nil {
		size++
	}
	next := make([]chat.Message, len(s.messages), size)
	copy(next, s.messages)
	next[i].Status = status
	if reply != nil {
		next = append(next, *reply)
	}
	s.messages = next
	s.mu.Unlock()

	s.notify(next)
	return true
}

// beginRetry flips a failed or sent user message back to sending and returns
// it together with the generation the retry runs under.
func (s *Store) beginRetry(id string) (chat.Message, uint64, bool) {
	s.mu.Lock()
	i := indexOf(s.messages, id)
	if i < 0 || s.messages[i].Sender != chat.SenderUser || s.messages[i].Status == chat.StatusSending {
		s.mu.Unlock()
		return chat.Message{}, 0, false
	}

	next := make([]chat.Message, len(s.messages))
	copy(next, s.messages)
	next[i].Status = chat.StatusSending
	s.messages = next
	msg, gen := next[i], s.generation
	s.mu.Unlock()

	s.notify(next)
	return msg, gen, true
}

// appendCurrent appends msg and returns the generation it was appended under.
func (s *Store) appendCurrent(msg chat.Message) uint64 {
	s.mu.Lock()
	next := make([]chat.Message, len(s.messages), len(s.messages)+1)
	copy(next, s.messages)
	next = append(next, msg)
	s.messages = next
	gen := s.generation
	s.mu.Unlock()

	s.notify(next)
	return gen
}

// load places history in front of whatever was appended since gen was read.
// A clear in between wins and the history is dropped.
func (s *Store) load(gen uint64, history []chat.Message) bool {
	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		return false
	}
	next := make([]chat.Message, 0, len(history)+len(s.messages))
	for _, msg := range history {
		if indexOf(s.messages, msg.ID) < 0 {
			next = append(next, msg)
		}
	}
	next = append(next, s.messages...)
	s.messages = next
	s.mu.Unlock()

	s.notify(next)
	return true
}

func (s *Store) notify(snapshot []chat.Message) {
	s.mu.Lock()
	listeners := s.listeners
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(snapshot)
	}
}

func indexOf(messages []chat.Message, id string) int {
	for i := range messages {
		if messages[i].ID == id {
			return i
		}
	}
	return -1
}
