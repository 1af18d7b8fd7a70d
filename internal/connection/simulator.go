// Package connection fabricates a connectivity signal for display. Nothing
// is gated on it; it only mimics how a real socket would come and go.
package connection

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/zhouzirui/mockchat/backend/internal/clock"
)

// State is the simulated connection status.
type State string

const (
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateError        State = "error"
)

// Rand supplies the probabilities rolled by the simulator. *rand.Rand from
// math/rand/v2 satisfies it.
type Rand interface {
	Float64() float64
}

type globalRand struct{}

func (globalRand) Float64() float64 { return rand.Float64() }

// Config tunes the simulator.
type Config struct {
	ConnectDelay          time.Duration
	ReconnectDelay        time.Duration
	PollInterval          time.Duration
	FailureProbability    float64
	DisconnectProbability float64
}

// DefaultConfig connects after a second, never fails to connect and drops
// with a 5% chance on every 30 second check.
func DefaultConfig() Config {
	return Config{
		ConnectDelay:          time.Second,
		ReconnectDelay:        time.Second,
		PollInterval:          30 * time.Second,
		FailureProbability:    0,
		DisconnectProbability: 0.05,
	}
}

// Simulator is the connecting → connected/error → disconnected state machine.
type Simulator struct {
	cfg    Config
	sched  clock.Scheduler
	rnd    Rand
	logger zerolog.Logger

	mu           sync.Mutex
	state        State
	started      bool
	stopped      bool
	connectTimer clock.Timer
	connectToken uint64
	pollTimer    clock.Timer
	subs         map[int]func(State)
	nextSub      int
	seq          uint64

	// emitMu orders notifications. emitted is the seq of the last transition
	// handed to subscribers.
	emitMu  sync.Mutex
	emitted uint64
}

// New builds a stopped simulator in the disconnected state. A nil sched or
// rnd falls back to the runtime clock and math/rand/v2.
func New(cfg Config, sched clock.Scheduler, rnd Rand, logger *zerolog.Logger) *Simulator {
	if sched == nil {
		sched = clock.Real{}
	}
	if rnd == nil {
		rnd = globalRand{}
	}
	l := zerolog.Nop()
	if logger != nil {
		l = *logger
	}
	return &Simulator{
		cfg:    cfg,
		sched:  sched,
		rnd:    rnd,
		logger: l.With().Str("component", "connection").Logger(),
		state:  StateDisconnected,
		subs:   make(map[int]func(State)),
	}
}

// State returns the current status.
func (s *Simulator) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connected reports whether the status is connected.
func (s *Simulator) Connected() bool {
	return s.State() == StateConnected
}

// Subscribe registers fn for every transition. The returned func removes it.
// Calls are serialised and never go back in time: a transition overtaken by a
// newer one before it was delivered is skipped. fn must not call back into the
// simulator.
func (s *Simulator) Subscribe(fn func(State)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Start enters connecting and begins the periodic drop check. Calling it
// again has no effect.
func (s *Simulator) Start() {
	s.mu.Lock()
	if s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.armPollLocked()
	emit := s.connectLocked()
	s.mu.Unlock()

	emit()
}

// Reconnect forces disconnected and restarts the connecting sequence after
// the reconnect delay.
func (s *Simulator) Reconnect() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	if !s.started {
		s.started = true
		s.armPollLocked()
	}
	s.cancelConnectLocked()
	emit := s.setLocked(StateDisconnected)
	token := s.connectToken
	s.connectTimer = s.sched.AfterFunc(s.cfg.ReconnectDelay, func() {
		s.mu.Lock()
		if s.stopped || token != s.connectToken {
			s.mu.Unlock()
			return
		}
		emit := s.connectLocked()
		s.mu.Unlock()
		emit()
	})
	s.mu.Unlock()

	emit()
}

// Stop cancels every timer and leaves the simulator disconnected. It is safe
// to call more than once.
func (s *Simulator) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.cancelConnectLocked()
	if s.pollTimer != nil {
		s.pollTimer.Stop()
		s.pollTimer = nil
	}
	emit := s.setLocked(StateDisconnected)
	s.mu.Unlock()

	emit()
}

func (s *Simulator) connectLocked() func() {
	s.cancelConnectLocked()
	emit := s.setLocked(StateConnecting)
	token := s.connectToken
	s.connectTimer = s.sched.AfterFunc(s.cfg.ConnectDelay, func() { s.finishConnect(token) })
	return emit
}

func (s *Simulator) finishConnect(token uint64) {
	s.mu.Lock()
	if s.stopped || token != s.connectToken {
		s.mu.Unlock()
		return
	}
	s.connectTimer = nil
	next := StateConnected
	if s.rnd.Float64() < s.cfg.FailureProbability {
		next = StateError
	}
	emit := s.setLocked(next)
	s.mu.Unlock()

	emit()
}

func (s *Simulator) armPollLocked() {
	if s.cfg.PollInterval <= 0 {
		return
	}
	s.pollTimer = s.sched.AfterFunc(s.cfg.PollInterval, s.poll)
}

func (s *Simulator) poll() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	emit := func() {}
	if s.state == StateConnected && s.rnd.Float64() < s.cfg.DisconnectProbability {
		emit = s.setLocked(StateDisconnected)
	}
	s.armPollLocked()
	s.mu.Unlock()

	emit()
}

func (s *Simulator) cancelConnectLocked() {
	s.connectToken++
	if s.connectTimer != nil {
		s.connectTimer.Stop()
		s.connectTimer = nil
	}
}

// setLocked records next and returns the notification to run once the lock
// is released.
func (s *Simulator) setLocked(next State) func() {
	if s.state == next {
		return func() {}
	}
	prev := s.state
	s.state = next
	s.seq++
	seq := s.seq
	subs := make([]func(State), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.logger.Debug().Str("from", string(prev)).Str("to", string(next)).Msg("connection state changed")

	return func() {
		s.emitMu.Lock()
		defer s.emitMu.Unlock()
		if seq <= s.emitted {
			s.logger.Debug().Str("state", string(next)).Msg("skipping superseded transition")
			return
		}
		s.emitted = seq
		for _, fn := range subs {
			fn(next)
		}
	}
}
