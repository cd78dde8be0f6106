package orchestration

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/koscakluka/ema-demo/core/events"
	"github.com/koscakluka/ema-demo/core/planning"
	"github.com/koscakluka/ema-demo/core/speechtotext"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

var testTarget = SessionTarget{URL: "https://demo.example.com/", Goal: "Show how to create a project"}

type testSession struct {
	orchestrator *Orchestrator
	surface      *fakeSurface
	renderer     *recordingRenderer
	events       *eventLog
}

// longRunningTimings keep the loop cycling idle until something stops it.
func longRunningTimings() Timings {
	timings := testTimings()
	timings.MaxCycles = 1 << 20
	timings.ObservationInterval = 5 * time.Millisecond
	return timings
}

func idlePlanner() *scriptedPlanner {
	return &scriptedPlanner{plans: []planning.Plan{inProgress()}}
}

func startSession(t *testing.T, ctx context.Context, planner Planner, timings Timings, opts ...OrchestratorOption) *testSession {
	t.Helper()
	ts := &testSession{
		surface:  newFakeSurface(),
		renderer: &recordingRenderer{},
		events:   &eventLog{},
	}
	opts = append([]OrchestratorOption{
		WithControlSurface(ts.surface),
		WithPlanner(planner),
		WithSpeechRenderer(ts.renderer),
		WithTimings(timings),
	}, opts...)
	ts.orchestrator = NewOrchestrator(opts...)

	err := ts.orchestrator.Orchestrate(ctx, testTarget,
		WithEventCallback(ts.events.record),
		WithoutIntro(),
		WithoutKnowledgeBuilding(),
	)
	if err != nil {
		t.Fatalf("failed to start session: %v", err)
	}
	t.Cleanup(ts.orchestrator.Close)
	return ts
}

func (ts *testSession) awaitState(t *testing.T, state SessionState) {
	t.Helper()
	eventually(t, 2*time.Second, func() bool {
		return ts.orchestrator.Snapshot().State == state
	}, "expected session state %s, got %s", state, ts.orchestrator.Snapshot().State)
}

func (ts *testSession) awaitSpoken(t *testing.T, text string) {
	t.Helper()
	eventually(t, 2*time.Second, func() bool { return ts.renderer.count(text) > 0 }, "expected %q to be spoken, got %q", text, ts.renderer.texts())
}

// hear sends a transcript once the idle loop has spoken and gone quiet, so the
// transcript is not dropped as the assistant's own voice.
func (ts *testSession) hear(t *testing.T, text string) {
	t.Helper()
	reevaluate := DefaultNarration().Reevaluate
	eventually(t, 2*time.Second, func() bool {
		return ts.renderer.count(reevaluate) > 0 && !ts.orchestrator.signals.assistantSpeaking.IsSet()
	}, "assistant never went quiet")
	ts.orchestrator.SendTranscript(text)
}

func (ts *testSession) wait(t *testing.T) SessionSummary {
	t.Helper()
	done := make(chan SessionSummary, 1)
	go func() { done <- ts.orchestrator.Wait() }()
	select {
	case summary := <-done:
		return summary
	case <-time.After(3 * time.Second):
		t.Fatalf("session did not stop")
	}
	return SessionSummary{}
}

func TestOrchestrateRequiresSurfaceAndPlanner(t *testing.T) {
	o := NewOrchestrator(WithPlanner(idlePlanner()))
	if err := o.Orchestrate(t.Context(), testTarget); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected not configured, got %v", err)
	}

	o = NewOrchestrator(WithControlSurface(newFakeSurface()))
	if err := o.Orchestrate(t.Context(), testTarget); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected not configured, got %v", err)
	}
}

func TestOrchestrateOnlyOnce(t *testing.T) {
	ts := startSession(t, t.Context(), idlePlanner(), longRunningTimings())
	if err := ts.orchestrator.Orchestrate(t.Context(), testTarget); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("expected already started, got %v", err)
	}
}

func TestSessionSoftStopsAfterGoalComplete(t *testing.T) {
	planner := &scriptedPlanner{plans: []planning.Plan{
		inProgress(clickStep("#new-project")),
		{GoalStatus: planning.GoalComplete},
	}}
	commands := &fakeCommandPlanner{}
	answerer := &fakeAnswerer{}
	ts := startSession(t, t.Context(), planner, testTimings(),
		WithCommandPlanner(commands), WithQuestionAnswerer(answerer))
	ts.surface.element("#new-project", interactable())

	summary := ts.wait(t)

	if summary.EndReason != "completed" || summary.Loops != 1 {
		t.Fatalf("expected one loop ending in completion, got %+v", summary)
	}
	if summary.LastLoop.Reason != LoopReasonGoalReached {
		t.Fatalf("expected goal reached, got %s", summary.LastLoop.Reason)
	}
	narration := DefaultNarration()
	if ts.renderer.count(narration.GoalComplete) != 1 || ts.renderer.count(narration.Closing) != 1 {
		t.Fatalf("expected completion and closing lines once, got %q", ts.renderer.texts())
	}
	if commands.callCount() != 0 || answerer.callCount() != 0 {
		t.Fatalf("expected no detours")
	}

	kinds := ts.events.kinds()
	if kinds[0] != events.KindSessionStarted || kinds[len(kinds)-1] != events.KindSessionStopped {
		t.Fatalf("expected session events to bracket the log, got %v", kinds)
	}
	if snapshot := ts.orchestrator.Snapshot(); snapshot.State != StateStopped || snapshot.LiveLoops != 0 {
		t.Fatalf("expected a stopped session without live loops, got %+v", snapshot)
	}
}

func TestQuestionDetourPausesUntilResume(t *testing.T) {
	answerer := &fakeAnswerer{answer: "This page lists all of your projects."}
	planner := idlePlanner()
	ts := startSession(t, t.Context(), planner, longRunningTimings(), WithQuestionAnswerer(answerer))
	eventually(t, time.Second, func() bool { return planner.callCount() > 0 }, "loop never planned")

	ts.hear(t, "what is this page")
	ts.awaitSpoken(t, answerer.answer)
	narration := DefaultNarration()
	ts.awaitSpoken(t, narration.ResumePrompt)

	snapshot := ts.orchestrator.Snapshot()
	if snapshot.State != StatePausedForInput || snapshot.LoopAlive || snapshot.Permitted {
		t.Fatalf("expected paused session without a loop, got %+v", snapshot)
	}

	ts.hear(t, "resume")
	ts.awaitSpoken(t, narration.RestartingDemo)
	ts.awaitState(t, StateRunning)
	if snapshot := ts.orchestrator.Snapshot(); snapshot.LoopsStarted != 2 {
		t.Fatalf("expected a second loop, got %d", snapshot.LoopsStarted)
	}

	ts.orchestrator.Stop()
	summary := ts.wait(t)
	if summary.EndReason != "external" {
		t.Fatalf("expected external end, got %q", summary.EndReason)
	}
	if ts.renderer.count(narration.EndDemoFarewell) != 0 || ts.renderer.count(narration.GoodbyeFarewell) != 0 {
		t.Fatalf("expected no farewell on external stop")
	}
}

func TestShortAnswerUsesFallback(t *testing.T) {
	answerer := &fakeAnswerer{answer: "Yes."}
	ts := startSession(t, t.Context(), idlePlanner(), longRunningTimings(), WithQuestionAnswerer(answerer))

	ts.hear(t, "is this free?")
	ts.awaitSpoken(t, DefaultNarration().QuestionFallback)
	if ts.renderer.count("Yes.") != 0 {
		t.Fatalf("expected the short answer not to be spoken")
	}
}

func TestCommandDetourNavigates(t *testing.T) {
	commands := &fakeCommandPlanner{plan: planning.CommandPlan{Actions: []planning.ActionStep{
		{Kind: planning.ActionNavigate, Value: "https://demo.example.com/settings"},
	}}}
	planner := idlePlanner()
	ts := startSession(t, t.Context(), planner, longRunningTimings(), WithCommandPlanner(commands))

	ts.hear(t, "go to the settings page")
	narration := DefaultNarration()
	ts.awaitSpoken(t, narration.CommandNavigated)

	if ts.renderer.count(narration.CommandAccepted) != 1 {
		t.Fatalf("expected the command to be acknowledged once, got %q", ts.renderer.texts())
	}
	if location := ts.surface.CurrentLocation(); location != "https://demo.example.com/settings" {
		t.Fatalf("expected to navigate, got %s", location)
	}
	ts.awaitState(t, StatePausedForInput)

	ts.orchestrator.Resume()
	ts.awaitState(t, StateRunning)
	eventually(t, time.Second, func() bool { return ts.orchestrator.Snapshot().LoopAlive }, "expected a new loop after resume")
	eventually(t, time.Second, func() bool {
		planner.mu.Lock()
		defer planner.mu.Unlock()
		for _, req := range planner.requests {
			if strings.Contains(req.Memory, surfaceMovedNote) {
				return true
			}
		}
		return false
	}, "expected the restarted loop to know the surface moved")
	if ts.orchestrator.signals.interrupt.IsSet() {
		t.Fatalf("expected the restarted loop to consume the interrupt mark")
	}
}

func TestCommandWithoutPlannerIsUnactionable(t *testing.T) {
	ts := startSession(t, t.Context(), idlePlanner(), longRunningTimings())

	ts.hear(t, "click the settings button")
	ts.awaitSpoken(t, DefaultNarration().CommandUnactionable)
	ts.awaitState(t, StatePausedForInput)
}

func TestCaptureFailureDuringDetour(t *testing.T) {
	answerer := &fakeAnswerer{answer: "A long enough answer to speak."}
	ts := startSession(t, t.Context(), idlePlanner(), longRunningTimings(), WithQuestionAnswerer(answerer))
	ts.awaitSpoken(t, DefaultNarration().Reevaluate)

	// Gate the loop so only the detour captures.
	ts.orchestrator.Pause()
	ts.awaitState(t, StatePausedForInput)
	time.Sleep(50 * time.Millisecond)
	ts.surface.mu.Lock()
	ts.surface.captureErr = errFake
	ts.surface.mu.Unlock()

	ts.hear(t, "what does this do")
	ts.awaitSpoken(t, DefaultNarration().CannotSee)
	if answerer.callCount() != 0 {
		t.Fatalf("expected no answer without an observation")
	}
}

func TestResumeIsIdempotentWhileRunning(t *testing.T) {
	ts := startSession(t, t.Context(), idlePlanner(), longRunningTimings())
	ts.awaitState(t, StateRunning)

	ts.orchestrator.Resume()
	ts.orchestrator.Resume()
	ts.hear(t, "resume")
	time.Sleep(150 * time.Millisecond)

	snapshot := ts.orchestrator.Snapshot()
	if snapshot.LoopsStarted != 1 || snapshot.State != StateRunning {
		t.Fatalf("expected resume to be a no-op while running, got %+v", snapshot)
	}
	narration := DefaultNarration()
	if ts.renderer.count(narration.Resuming) != 0 || ts.renderer.count(narration.RestartingDemo) != 0 {
		t.Fatalf("expected no resume narration, got %q", ts.renderer.texts())
	}
}

func TestPauseKeepsLoopAlive(t *testing.T) {
	ts := startSession(t, t.Context(), idlePlanner(), longRunningTimings())
	ts.awaitState(t, StateRunning)

	ts.orchestrator.Pause()
	ts.awaitState(t, StatePausedForInput)
	snapshot := ts.orchestrator.Snapshot()
	if snapshot.Permitted || !snapshot.LoopAlive {
		t.Fatalf("expected a gated live loop, got %+v", snapshot)
	}

	ts.orchestrator.Resume()
	ts.awaitSpoken(t, DefaultNarration().Resuming)
	ts.awaitState(t, StateRunning)
	snapshot = ts.orchestrator.Snapshot()
	if snapshot.State != StateRunning || !snapshot.Permitted || snapshot.LoopsStarted != 1 {
		t.Fatalf("expected the same loop to continue, got %+v", snapshot)
	}
}

func TestVoiceStopSpeaksFarewell(t *testing.T) {
	cases := map[string]struct {
		text     string
		farewell string
		reason   string
	}{
		"end demo": {"please stop demo now", DefaultNarration().EndDemoFarewell, "end_demo"},
		"goodbye":  {"okay goodbye", DefaultNarration().GoodbyeFarewell, "goodbye"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			ts := startSession(t, t.Context(), idlePlanner(), longRunningTimings())
			ts.awaitState(t, StateRunning)

			ts.hear(t, tc.text)
			summary := ts.wait(t)

			if summary.EndReason != tc.reason {
				t.Fatalf("expected %s, got %q", tc.reason, summary.EndReason)
			}
			if ts.renderer.count(tc.farewell) != 1 {
				t.Fatalf("expected farewell %q, got %q", tc.farewell, ts.renderer.texts())
			}
			if snapshot := ts.orchestrator.Snapshot(); !snapshot.StopRequested || snapshot.LiveLoops != 0 {
				t.Fatalf("expected stop to be recorded with no live loops, got %+v", snapshot)
			}
		})
	}
}

func TestContextCancellationStopsSession(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	ts := startSession(t, ctx, idlePlanner(), longRunningTimings())
	ts.awaitState(t, StateRunning)

	cancel()
	summary := ts.wait(t)
	if summary.EndReason != "external" {
		t.Fatalf("expected external end, got %q", summary.EndReason)
	}
}

func TestCrashedLoopIsReported(t *testing.T) {
	planner := plannerFunc(func(context.Context, planning.Request) (planning.Plan, error) {
		panic("planner exploded")
	})
	ts := startSession(t, t.Context(), planner, testTimings())

	summary := ts.wait(t)
	if summary.LastLoop.Reason != LoopReasonCrashed {
		t.Fatalf("expected crashed loop, got %s", summary.LastLoop.Reason)
	}
	if ts.renderer.count(DefaultNarration().LoopCrashed) != 1 {
		t.Fatalf("expected crash narration, got %q", ts.renderer.texts())
	}
}

func TestSessionWithoutSpeechInputIsDegraded(t *testing.T) {
	ts := startSession(t, t.Context(), idlePlanner(), longRunningTimings(),
		WithSpeechToTextClient(failingSpeechToText{}))
	ts.awaitState(t, StateRunning)

	if !ts.orchestrator.Snapshot().Degraded {
		t.Fatalf("expected a degraded session")
	}

	// Typed transcripts still reach the session.
	ts.hear(t, "stop demo")
	if summary := ts.wait(t); summary.EndReason != "end_demo" {
		t.Fatalf("expected end_demo, got %q", summary.EndReason)
	}
}

func TestSingleLiveLoopUnderRandomInput(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 5
	properties := gopter.NewProperties(parameters)

	inputs := []func(ts *testSession){
		func(ts *testSession) { ts.orchestrator.SendTranscript("what is this page") },
		func(ts *testSession) { ts.orchestrator.SendTranscript("click the settings button") },
		func(ts *testSession) { ts.orchestrator.SendTranscript("resume") },
		func(ts *testSession) { ts.orchestrator.Pause() },
		func(ts *testSession) { ts.orchestrator.Resume() },
	}

	properties.Property("at most one loop and one surface operation at a time", prop.ForAll(
		func(script []int, seed int64) bool {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			commands := &fakeCommandPlanner{plan: planning.CommandPlan{Actions: []planning.ActionStep{clickStep("#settings")}}}
			answerer := &fakeAnswerer{answer: "It is the project overview."}
			ts := startSession(t, ctx, idlePlanner(), longRunningTimings(),
				WithCommandPlanner(commands), WithQuestionAnswerer(answerer))
			ts.surface.element("#settings", interactable())

			random := rand.New(rand.NewSource(seed))
			for _, input := range script {
				inputs[input](ts)
				time.Sleep(time.Duration(random.Intn(40)) * time.Millisecond)
			}
			ts.orchestrator.Stop()
			ts.orchestrator.Wait()

			return ts.orchestrator.peakLoops.Load() <= 1 &&
				ts.surface.maxInFlight.Load() <= 1 &&
				ts.renderer.maxActive.Load() <= 1 &&
				ts.orchestrator.liveLoops.Load() == 0
		},
		gen.SliceOfN(6, gen.IntRange(0, len(inputs)-1)),
		gen.Int64(),
	))

	properties.TestingRun(t)
}

type plannerFunc func(ctx context.Context, req planning.Request) (planning.Plan, error)

func (f plannerFunc) PlanNext(ctx context.Context, req planning.Request) (planning.Plan, error) {
	return f(ctx, req)
}

type failingSpeechToText struct{}

func (failingSpeechToText) Transcribe(context.Context, ...speechtotext.TranscriptionOption) error {
	return errFake
}

func (failingSpeechToText) SendAudio([]byte) error { return errFake }

type closingSurface struct {
	*fakeSurface
	closed atomic.Int32
}

func (s *closingSurface) Close() error {
	s.closed.Add(1)
	return nil
}

func TestCloseReleasesCollaborators(t *testing.T) {
	s := &closingSurface{fakeSurface: newFakeSurface()}
	o := NewOrchestrator(
		WithControlSurface(s),
		WithPlanner(idlePlanner()),
		WithSpeechRenderer(&recordingRenderer{}),
		WithTimings(longRunningTimings()),
	)
	if err := o.Orchestrate(t.Context(), testTarget, WithoutIntro(), WithoutKnowledgeBuilding()); err != nil {
		t.Fatalf("failed to start session: %v", err)
	}

	o.Close()
	o.Close()

	if n := s.closed.Load(); n != 1 {
		t.Fatalf("expected the surface to be closed once, got %d", n)
	}
	if n := o.liveLoops.Load(); n != 0 {
		t.Fatalf("expected no live loop after close, got %d", n)
	}
}

func TestCloseWithoutSessionStillReleases(t *testing.T) {
	s := &closingSurface{fakeSurface: newFakeSurface()}
	NewOrchestrator(WithControlSurface(s)).Close()

	if n := s.closed.Load(); n != 1 {
		t.Fatalf("expected the surface to be closed, got %d", n)
	}
}
