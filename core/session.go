package orchestration

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/koscakluka/ema-demo/core/utterances"
)

type SessionState string

const (
	StateIdle           SessionState = "idle"
	StateRunning        SessionState = "running"
	StatePausedForInput SessionState = "paused_for_input"
	StateStopped        SessionState = "stopped"
)

const detourHistoryLimit = 3

// demoSession is the root of orchestration state. It is only touched by the
// control goroutine.
type demoSession struct {
	id        string
	state     SessionState
	target    SessionTarget
	knowledge string
	degraded  bool

	stopRequested bool
	stopReason    utterances.StopReason
	endReason     string

	task         *loopTask
	loopsStarted int
	lastLoop     LoopResult

	grace *time.Timer

	detours   []string
	startedAt time.Time
	stoppedAt time.Time
}

// loopTask is the handle of one running autonomous loop.
type loopTask struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}
	// result is written before done is closed.
	result LoopResult
}

func (t *loopTask) alive() bool {
	if t == nil {
		return false
	}
	select {
	case <-t.done:
		return false
	default:
		return true
	}
}

// contextSummary describes the demo so far for the command planner and the
// question answerer.
func (s *demoSession) contextSummary() string {
	var summary strings.Builder
	if s.target.Goal != "" {
		fmt.Fprintf(&summary, "Demonstration goal: %s.", s.target.Goal)
	}
	if s.lastLoop.PageState != "" {
		fmt.Fprintf(&summary, " Last known page: %s.", s.lastLoop.PageState)
	}
	if len(s.detours) > 0 {
		summary.WriteString(" Recent requests: ")
		summary.WriteString(strings.Join(s.detours, "; "))
		summary.WriteString(".")
	}
	return strings.TrimSpace(summary.String())
}

func (s *demoSession) rememberDetour(text, result string) {
	s.detours = append(s.detours, fmt.Sprintf("%q (%s)", text, result))
	if len(s.detours) > detourHistoryLimit {
		s.detours = s.detours[len(s.detours)-detourHistoryLimit:]
	}
}

// SessionSnapshot is a point-in-time copy of the session root.
type SessionSnapshot struct {
	ID    string
	State SessionState

	// Permitted mirrors the permission signal: true while the demo may make
	// progress.
	Permitted     bool
	Interrupted   bool
	StopRequested bool
	Degraded      bool

	LoopID       string
	LoopAlive    bool
	LoopsStarted int
	LiveLoops    int
	LastLoop     LoopResult

	StartedAt time.Time
	EndReason string
}

type SessionSummary struct {
	ID        string
	EndReason string
	Loops     int
	LastLoop  LoopResult
	Duration  time.Duration
}
