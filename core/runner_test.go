package orchestration

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/koscakluka/ema-demo/core/planning"
	"github.com/koscakluka/ema-demo/core/surface"
)

type spokenLines struct {
	mu    sync.Mutex
	lines []string
}

func (s *spokenLines) speak(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, text)
	return nil
}

func (s *spokenLines) all() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lines...)
}

func newTestRunner(s surface.ControlSurface) (*actionRunner, *sessionSignals, *spokenLines) {
	signals := newSessionSignals()
	spoken := &spokenLines{}
	return &actionRunner{
		surface:   s,
		timings:   testTimings(),
		narration: DefaultNarration(),
		signals:   signals,
		speak:     spoken.speak,
	}, signals, spoken
}

func interactable() *fakeElement {
	return &fakeElement{visible: true, enabled: true}
}

func TestRunnerClickExpectingNavigationTimesOutAsFailed(t *testing.T) {
	s := newFakeSurface()
	s.element("#next", interactable())
	runner, _, spoken := newTestRunner(s)

	step := planning.ActionStep{Kind: planning.ActionClick, Target: "#next", ExpectsNavigation: true}
	result := runner.runSequence(t.Context(), []planning.ActionStep{step}, sequenceOptions{honorPause: true})

	if result.Status != TaskCompleted {
		t.Fatalf("expected completed sequence, got %s", result.Status)
	}
	if result.Outcome.Kind != OutcomeFailed {
		t.Fatalf("expected failed outcome, got %s", result.Outcome)
	}
	lines := spoken.all()
	if len(lines) != 1 || lines[0] != "Tried to click, but ran into an issue." {
		t.Fatalf("expected one failure narration, got %q", lines)
	}
}

func TestRunnerClickObservesNavigation(t *testing.T) {
	s := newFakeSurface()
	element := s.element("#docs", interactable())
	element.onClick = s.fireNavigation
	runner, _, _ := newTestRunner(s)

	step := planning.ActionStep{Kind: planning.ActionClick, Target: "#docs", ExpectsNavigation: true}
	outcome, status := runner.runStep(t.Context(), step)
	if status != taskRunning {
		t.Fatalf("expected step to run, got %s", status)
	}
	if outcome.Kind != OutcomePageChanged {
		t.Fatalf("expected page changed, got %s", outcome)
	}
}

func TestRunnerClickSwitchesToNewSurface(t *testing.T) {
	s := newFakeSurface()
	element := s.element("a[href='/pricing']", interactable())
	element.onClick = func() { s.openSurface("tab-2") }
	runner, _, _ := newTestRunner(s)

	outcome, _ := runner.runStep(t.Context(), clickStep("a[href='/pricing']"))
	if outcome.Kind != OutcomeNewSurface || outcome.Surface != "tab-2" {
		t.Fatalf("expected new surface tab-2, got %s", outcome)
	}
	if current := s.CurrentSurface(); current != "tab-2" {
		t.Fatalf("expected to switch to tab-2, got %s", current)
	}
}

func TestRunnerClickFallsBackToForcedClick(t *testing.T) {
	s := newFakeSurface()
	element := s.element("#hidden", &fakeElement{visible: false, enabled: true})
	runner, _, _ := newTestRunner(s)

	outcome, _ := runner.runStep(t.Context(), clickStep("#hidden"))
	if outcome.Kind != OutcomeContinue {
		t.Fatalf("expected continue after forced click, got %s", outcome)
	}
	if element.forceClicks != 1 || element.clicks != 0 {
		t.Fatalf("expected exactly one forced click, got %d forced and %d normal", element.forceClicks, element.clicks)
	}
}

func TestRunnerClickMissingElementFails(t *testing.T) {
	runner, _, _ := newTestRunner(newFakeSurface())

	outcome, status := runner.runStep(t.Context(), clickStep("#missing"))
	if status != taskRunning || outcome.Kind != OutcomeFailed {
		t.Fatalf("expected failed outcome, got %s (%s)", outcome, status)
	}
}

func TestRunnerBackWithOnlySurfaceFails(t *testing.T) {
	runner, _, _ := newTestRunner(newFakeSurface())

	outcome, _ := runner.runStep(t.Context(), planning.ActionStep{Kind: planning.ActionBack})
	if outcome.Kind != OutcomeFailed {
		t.Fatalf("expected failed outcome, got %s", outcome)
	}
}

func TestRunnerBackNavigatesHistory(t *testing.T) {
	s := newFakeSurface()
	s.canGoBack = true
	runner, _, _ := newTestRunner(s)

	outcome, _ := runner.runStep(t.Context(), planning.ActionStep{Kind: planning.ActionBack})
	if outcome.Kind != OutcomePageChanged {
		t.Fatalf("expected page changed, got %s", outcome)
	}
}

func TestRunnerBackClosesSurfaceWithoutHistory(t *testing.T) {
	s := newFakeSurface()
	s.open = []surface.Handle{"tab-1", "tab-2"}
	s.current = "tab-2"
	runner, _, _ := newTestRunner(s)

	outcome, _ := runner.runStep(t.Context(), planning.ActionStep{Kind: planning.ActionBack})
	if outcome.Kind != OutcomeNewSurface || outcome.Surface != "tab-1" {
		t.Fatalf("expected new surface tab-1, got %s", outcome)
	}
	if open := s.ListOpenSurfaces(); len(open) != 1 || open[0] != "tab-1" {
		t.Fatalf("expected tab-2 to be closed, got %v", open)
	}
	if current := s.CurrentSurface(); current != "tab-1" {
		t.Fatalf("expected current surface tab-1, got %s", current)
	}
}

func TestRunnerFillMismatchFails(t *testing.T) {
	s := newFakeSurface()
	s.element("#phone", &fakeElement{visible: true, enabled: true, fillTransform: func(v string) string { return "(" + v + ")" }})
	runner, _, _ := newTestRunner(s)

	outcome, _ := runner.runStep(t.Context(), planning.ActionStep{Kind: planning.ActionFill, Target: "#phone", Value: "555"})
	if outcome.Kind != OutcomeFailed {
		t.Fatalf("expected failed outcome, got %s", outcome)
	}
}

func TestRunnerFillSubstitutesCredentials(t *testing.T) {
	s := newFakeSurface()
	element := s.element("#password", interactable())
	runner, _, _ := newTestRunner(s)
	runner.credentials = planning.Credentials{Username: "demo@example.com", Password: "hunter2"}

	outcome, _ := runner.runStep(t.Context(), planning.ActionStep{Kind: planning.ActionFill, Target: "#password", Value: "{password}"})
	if outcome.Kind != OutcomeContinue {
		t.Fatalf("expected continue, got %s", outcome)
	}
	if value, _ := element.Value(t.Context()); value != "hunter2" {
		t.Fatalf("expected substituted password, got %q", value)
	}
}

func TestRunnerWaitUsesDefaultForUnparseableValue(t *testing.T) {
	runner, _, _ := newTestRunner(newFakeSurface())

	started := time.Now()
	outcome, status := runner.runStep(t.Context(), planning.ActionStep{Kind: planning.ActionWait, Value: "a while"})
	elapsed := time.Since(started)

	if status != taskRunning || outcome.Kind != OutcomeContinue {
		t.Fatalf("expected continue, got %s (%s)", outcome, status)
	}
	if elapsed < runner.timings.DefaultWait {
		t.Fatalf("expected to wait at least %s, waited %s", runner.timings.DefaultWait, elapsed)
	}
}

func TestParseWait(t *testing.T) {
	fallback := 1500 * time.Millisecond
	cases := map[string]time.Duration{
		"":      fallback,
		"2":     2 * time.Second,
		"0.5s":  500 * time.Millisecond,
		" 3 s ": 3 * time.Second,
		"-1":    fallback,
		"soon":  fallback,
		"120":   maxWait,
	}
	for value, expected := range cases {
		if got := parseWait(value, fallback); got != expected {
			t.Fatalf("parseWait(%q): expected %s, got %s", value, expected, got)
		}
	}
}

func TestRunnerStopHaltsSequence(t *testing.T) {
	s := newFakeSurface()
	after := s.element("#after", interactable())
	runner, _, _ := newTestRunner(s)

	result := runner.runSequence(t.Context(), []planning.ActionStep{
		{Kind: planning.ActionStop},
		clickStep("#after"),
	}, sequenceOptions{honorPause: true})

	if result.Outcome.Kind != OutcomeStop || result.Executed != 1 {
		t.Fatalf("expected stop after one step, got %s after %d", result.Outcome, result.Executed)
	}
	if after.clicks != 0 {
		t.Fatalf("expected no step after stop to run")
	}
}

func TestRunnerInterruptEndsSequence(t *testing.T) {
	s := newFakeSurface()
	first := s.element("#first", interactable())
	second := s.element("#second", interactable())
	runner, signals, _ := newTestRunner(s)
	first.onClick = func() { signals.interrupt.Raise() }

	result := runner.runSequence(t.Context(), []planning.ActionStep{clickStep("#first"), clickStep("#second")}, sequenceOptions{honorPause: true})

	if result.Status != TaskInterrupted {
		t.Fatalf("expected interrupted, got %s", result.Status)
	}
	if result.Executed != 1 || second.clicks != 0 {
		t.Fatalf("expected only the first step to run, executed %d", result.Executed)
	}
	if signals.interrupt.IsSet() {
		t.Fatalf("expected interrupt to be consumed")
	}
}

func TestRunnerWaitsWhilePaused(t *testing.T) {
	s := newFakeSurface()
	element := s.element("#go", interactable())
	runner, signals, _ := newTestRunner(s)
	signals.permission.Lower()

	done := make(chan SequenceResult, 1)
	go func() {
		done <- runner.runSequence(t.Context(), []planning.ActionStep{clickStep("#go")}, sequenceOptions{honorPause: true})
	}()

	select {
	case <-done:
		t.Fatalf("expected sequence to wait for permission")
	case <-time.After(30 * time.Millisecond):
	}
	if ops := s.operations(); len(ops) != 0 {
		t.Fatalf("expected no surface operation while paused, got %v", ops)
	}

	signals.permission.Raise()
	select {
	case result := <-done:
		if result.Outcome.Kind != OutcomeContinue || element.clicks != 1 {
			t.Fatalf("expected the click to run after resume, got %s", result.Outcome)
		}
	case <-time.After(time.Second):
		t.Fatalf("sequence did not resume")
	}
}

func TestRunnerCommandSequenceIgnoresPause(t *testing.T) {
	s := newFakeSurface()
	s.element("#go", interactable())
	runner, signals, _ := newTestRunner(s)
	signals.permission.Lower()

	result := runner.runSequence(t.Context(), []planning.ActionStep{clickStep("#go")}, sequenceOptions{honorPause: false})
	if result.Status != TaskCompleted || result.Executed != 1 {
		t.Fatalf("expected command sequence to run while paused, got %s after %d", result.Status, result.Executed)
	}
}

func TestRunnerCancelledDuringWait(t *testing.T) {
	runner, _, _ := newTestRunner(newFakeSurface())
	ctx, cancel := context.WithCancel(t.Context())
	time.AfterFunc(5*time.Millisecond, cancel)

	result := runner.runSequence(ctx, []planning.ActionStep{{Kind: planning.ActionWait, Value: "10"}}, sequenceOptions{honorPause: true})
	if result.Status != TaskCancelled {
		t.Fatalf("expected cancelled, got %s", result.Status)
	}
}
