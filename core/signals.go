package orchestration

import (
	"context"
	"sync"
	"time"
)

// flag is a level-triggered boolean whose transitions can be awaited. Only
// the owner of a flag raises or lowers it; everyone else watches.
type flag struct {
	mu      sync.Mutex
	set     bool
	raised  chan struct{} // closed while set
	lowered chan struct{} // closed while not set
}

func newFlag(initial bool) *flag {
	f := &flag{raised: make(chan struct{}), lowered: make(chan struct{})}
	if initial {
		f.set = true
		close(f.raised)
	} else {
		close(f.lowered)
	}
	return f
}

// Raise sets the flag and reports whether it changed.
func (f *flag) Raise() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.set {
		return false
	}

	f.set = true
	close(f.raised)
	f.lowered = make(chan struct{})
	return true
}

// Lower clears the flag and reports whether it changed.
func (f *flag) Lower() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.set {
		return false
	}

	f.set = false
	close(f.lowered)
	f.raised = make(chan struct{})
	return true
}

// Consume lowers the flag if it is set and reports whether it was.
func (f *flag) Consume() bool {
	return f.Lower()
}

func (f *flag) IsSet() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.set
}

// Raised returns a channel that is closed once the flag is set.
func (f *flag) Raised() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.raised
}

// Lowered returns a channel that is closed once the flag is cleared.
func (f *flag) Lowered() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lowered
}

// sessionSignals are the condition signals the session root exposes to its
// workers. permission, interrupt and stop are written by the control
// goroutine only; the one exception is interrupt consumption, which is
// atomic with the read.
type sessionSignals struct {
	permission *flag
	interrupt  *flag
	stop       *flag

	// assistantSpeaking is owned by the output arbiter.
	assistantSpeaking *flag
	// userSpeaking is owned by the utterance accumulator.
	userSpeaking *flag
}

func newSessionSignals() *sessionSignals {
	return &sessionSignals{
		permission:        newFlag(true),
		interrupt:         newFlag(false),
		stop:              newFlag(false),
		assistantSpeaking: newFlag(false),
		userSpeaking:      newFlag(false),
	}
}

// checkpoint is evaluated by workers before each unit of work. It returns
// taskRunning when work may proceed, blocking while permission is withheld.
func (s *sessionSignals) checkpoint(ctx context.Context, honorPause bool) TaskStatus {
	for {
		if ctx.Err() != nil || s.stop.IsSet() {
			return TaskCancelled
		}
		if s.interrupt.Consume() {
			return TaskInterrupted
		}
		if !honorPause || s.permission.IsSet() {
			return taskRunning
		}

		select {
		case <-ctx.Done():
		case <-s.interrupt.Raised():
		case <-s.permission.Raised():
		case <-s.stop.Raised():
		}
	}
}

// sleep waits for d, returning early when the context ends or an interrupt
// arrives.
func (s *sessionSignals) sleep(ctx context.Context, d time.Duration) TaskStatus {
	if d <= 0 {
		return taskRunning
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return taskRunning
	case <-ctx.Done():
		return TaskCancelled
	case <-s.stop.Raised():
		return TaskCancelled
	case <-s.interrupt.Raised():
		if s.interrupt.Consume() {
			return TaskInterrupted
		}
		return taskRunning
	}
}
