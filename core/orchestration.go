package orchestration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jinzhu/copier"
	"github.com/koscakluka/ema-demo/core/events"
	"github.com/koscakluka/ema-demo/core/speechtotext"
	"github.com/koscakluka/ema-demo/core/surface"
	"github.com/koscakluka/ema-demo/core/utterances"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrNotConfigured  = errors.New("orchestrator is missing a required component")
	ErrAlreadyStarted = errors.New("orchestration already started")
)

const utteranceBuffer = 16

type controlRequest int

const (
	controlStop controlRequest = iota
	controlPause
	controlResume
)

// Orchestrator runs one interruptible demo session: an autonomous loop
// driving the control surface, with spoken questions and commands handled
// as detours in between.
type Orchestrator struct {
	surface          surface.ControlSurface
	planner          Planner
	commandPlanner   CommandPlanner
	answerer         QuestionAnswerer
	knowledgeBuilder KnowledgeBuilder
	speechToText     SpeechToText
	renderer         SpeechRenderer
	audioInput       AudioInput

	timings   Timings
	narration Narration

	started     atomic.Bool
	closeOnce   sync.Once
	cancel      context.CancelFunc
	onEvent     func(events.Event)
	signals     *sessionSignals
	arbiter     *outputArbiter
	accumulator *utteranceAccumulator
	utterances  chan Utterance
	controls    chan controlRequest
	done        chan struct{}

	// session is owned by the control goroutine.
	session demoSession

	liveLoops atomic.Int32
	peakLoops atomic.Int32

	snapshotMu sync.Mutex
	snapshot   SessionSnapshot
	summary    SessionSummary
}

func NewOrchestrator(opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		timings:    DefaultTimings(),
		narration:  DefaultNarration(),
		utterances: make(chan Utterance, utteranceBuffer),
		controls:   make(chan controlRequest, 4),
		done:       make(chan struct{}),
		snapshot:   SessionSnapshot{State: StateIdle, Permitted: true},
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// Orchestrate starts the session and returns once its workers are running.
// The session ends when it is stopped by voice, by Stop, or by ctx.
func (o *Orchestrator) Orchestrate(ctx context.Context, target SessionTarget, opts ...OrchestrateOption) error {
	if o.surface == nil || o.planner == nil {
		return fmt.Errorf("failed to start orchestration: %w", ErrNotConfigured)
	}
	if !o.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	options := OrchestrateOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	o.onEvent = options.onEvent

	sessionCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.signals = newSessionSignals()
	o.arbiter = newOutputArbiter(o.renderer, o.timings, o.signals, o.emit)
	o.accumulator = newUtteranceAccumulator(o.timings.SilenceThreshold, o.timings.MinUtteranceWords, o.signals, o.emit)
	o.session = demoSession{
		id:        uuid.NewString(),
		state:     StateIdle,
		target:    target,
		knowledge: target.Knowledge,
		startedAt: time.Now(),
	}

	go o.accumulator.run(sessionCtx, o.utterances)
	o.startSpeechInput(sessionCtx)
	o.publish()

	go o.run(sessionCtx, options)
	return nil
}

func (o *Orchestrator) startSpeechInput(ctx context.Context) {
	if o.speechToText == nil {
		logger.Info("No speech-to-text configured, continuing without voice input")
		o.session.degraded = true
		return
	}

	transcriptionOptions := []speechtotext.TranscriptionOption{
		speechtotext.WithPartialTranscriptionCallback(o.accumulator.Push),
		speechtotext.WithPartialInterimTranscriptionCallback(func(string) { o.accumulator.NoteActivity() }),
		speechtotext.WithSpeechStartedCallback(o.accumulator.NoteActivity),
		speechtotext.WithSuppression(o.signals.assistantSpeaking.IsSet),
	}
	if o.audioInput != nil {
		transcriptionOptions = append(transcriptionOptions, speechtotext.WithEncodingInfo(o.audioInput.EncodingInfo()))
	}

	if err := o.speechToText.Transcribe(ctx, transcriptionOptions...); err != nil {
		logger.Error("Speech input unavailable, continuing without voice input", "error", err)
		o.session.degraded = true
		return
	}

	if o.audioInput == nil {
		return
	}
	err := o.audioInput.StartCapture(ctx, func(audio []byte) {
		if err := o.speechToText.SendAudio(audio); err != nil {
			logger.Debug("Failed to forward captured audio", "error", err)
		}
	})
	if err != nil {
		logger.Error("Audio capture unavailable, continuing without voice input", "error", err)
		o.session.degraded = true
		return
	}
	context.AfterFunc(ctx, func() {
		if err := o.audioInput.StopCapture(); err != nil {
			logger.Warn("Failed to stop audio capture", "error", err)
		}
	})
}

// SendTranscript feeds a finalized transcript fragment into the session as if
// it was heard.
func (o *Orchestrator) SendTranscript(text string) {
	if o.accumulator == nil {
		return
	}
	o.accumulator.Push(text)
}

// Pause withholds permission from the autonomous loop without cancelling
// it. The loop waits at its next checkpoint until Resume.
func (o *Orchestrator) Pause() { o.request(controlPause) }

// Resume behaves like a spoken "resume".
func (o *Orchestrator) Resume() { o.request(controlResume) }

// Stop ends the session. It does not wait for it to wind down; use Wait.
func (o *Orchestrator) Stop() { o.request(controlStop) }

func (o *Orchestrator) request(req controlRequest) {
	if !o.started.Load() {
		return
	}
	select {
	case o.controls <- req:
	case <-o.done:
	}
}

// Wait blocks until the session has stopped and every worker it owns has
// terminated.
func (o *Orchestrator) Wait() SessionSummary {
	if !o.started.Load() {
		return SessionSummary{}
	}
	<-o.done
	return o.summary
}

// Close stops the session, waits for it and then releases every collaborator
// that can be closed. Collaborators passed in as options are owned by the
// orchestrator from then on.
func (o *Orchestrator) Close() {
	o.closeOnce.Do(func() {
		if o.started.Load() {
			o.Stop()
			o.Wait()
		}

		for _, c := range []struct {
			name   string
			client any
		}{
			{"speech-to-text client", o.speechToText},
			{"audio input", o.audioInput},
			{"speech renderer", o.renderer},
			{"control surface", o.surface},
		} {
			if c.client == nil {
				continue
			}
			if err := closeClient(c.client); err != nil {
				logger.Warn("Failed to close "+c.name, "error", err)
			}
		}
	})
}

func closeClient(client any) error {
	switch c := client.(type) {
	case interface{ Close() error }:
		return c.Close()
	case interface{ Close() }:
		c.Close()
	}
	return nil
}

func (o *Orchestrator) Snapshot() SessionSnapshot {
	o.snapshotMu.Lock()
	defer o.snapshotMu.Unlock()

	var snapshot SessionSnapshot
	if err := copier.Copy(&snapshot, &o.snapshot); err != nil {
		logger.Warn("Failed to copy session snapshot", "error", err)
		return o.snapshot
	}
	return snapshot
}

func (o *Orchestrator) publish() {
	s := &o.session
	snapshot := SessionSnapshot{
		ID:            s.id,
		State:         s.state,
		StopRequested: s.stopRequested,
		Degraded:      s.degraded,
		LoopsStarted:  s.loopsStarted,
		LiveLoops:     int(o.liveLoops.Load()),
		LastLoop:      s.lastLoop,
		StartedAt:     s.startedAt,
		EndReason:     s.endReason,
	}
	if o.signals != nil {
		snapshot.Permitted = o.signals.permission.IsSet()
		snapshot.Interrupted = o.signals.interrupt.IsSet()
	}
	if s.task != nil {
		snapshot.LoopID = s.task.id
		snapshot.LoopAlive = s.task.alive()
	}

	o.snapshotMu.Lock()
	o.snapshot = snapshot
	o.snapshotMu.Unlock()
}

// run is the control goroutine. It is the only writer of the session root
// and of the permission, interrupt and stop signals.
func (o *Orchestrator) run(ctx context.Context, options OrchestrateOptions) {
	defer close(o.done)

	ctx, span := tracer.Start(ctx, "demo session", trace.WithAttributes(
		attribute.String("session.id", o.session.id),
		attribute.String("session.target", o.session.target.URL),
	))
	defer span.End()
	defer o.finish()

	o.emit(events.NewSessionStarted(o.session.id, o.session.target.URL, o.session.target.Goal))
	logger.Info("Demo session started", "session", o.session.id, "target", o.session.target.URL, "goal", o.session.target.Goal)

	if !options.skipIntro {
		o.say(ctx, o.narration.Intro)
	}
	if !options.knowledgeOff {
		o.initKnowledge(ctx)
	}

	if ctx.Err() == nil {
		o.setState(StateRunning)
		o.spawnLoop(ctx, true)
	}

	for o.session.state != StateStopped {
		select {
		case <-ctx.Done():
			o.stop(ctx, utterances.StopReasonExternal)
		case req := <-o.controls:
			o.handleControl(ctx, req)
		case utterance := <-o.utterances:
			o.handleUtterance(ctx, utterance)
		case <-o.taskDone():
			o.handleLoopExit(ctx)
		case <-o.graceExpired():
			o.handleGraceExpired(ctx)
		}
		o.publish()
	}

	if o.session.lastLoop.Reason == LoopReasonCrashed {
		span.SetStatus(codes.Error, "demo loop crashed")
	}
}

func (o *Orchestrator) finish() {
	s := &o.session
	if t := s.task; t != nil {
		o.cancelAndAwait(t)
		s.lastLoop = t.result
		s.task = nil
	}
	o.stopGrace()
	s.stoppedAt = time.Now()
	if s.state != StateStopped {
		o.setState(StateStopped)
	}
	o.cancel()

	o.summary = SessionSummary{
		ID:        s.id,
		EndReason: s.endReason,
		Loops:     s.loopsStarted,
		LastLoop:  s.lastLoop,
		Duration:  s.stoppedAt.Sub(s.startedAt),
	}
	o.publish()
	o.emit(events.NewSessionStopped(s.endReason))
	logger.Info("Demo session stopped", "session", s.id, "reason", s.endReason, "loops", s.loopsStarted)
}

func (o *Orchestrator) handleControl(ctx context.Context, req controlRequest) {
	switch req {
	case controlStop:
		o.stop(ctx, utterances.StopReasonExternal)
	case controlPause:
		if o.session.state != StateRunning {
			return
		}
		o.stopGrace()
		o.signals.permission.Lower()
		o.setState(StatePausedForInput)
	case controlResume:
		o.resume(ctx)
	}
}

func (o *Orchestrator) handleUtterance(ctx context.Context, utterance Utterance) {
	logger.Info("Utterance", "text", utterance.Text, "kind", string(utterance.Kind))

	switch kind := utterance.Kind; {
	case kind == utterances.KindStopControl:
		o.stop(ctx, utterance.StopReason)
	case kind == utterances.KindResumeControl:
		o.resume(ctx)
	case kind == utterances.KindAcknowledgement:
		o.say(ctx, o.narration.Acknowledgement)
	case kind.IsDetour():
		o.detour(ctx, utterance)
	default:
		logger.Debug("Ignoring utterance", "text", utterance.Text)
	}
}

// resume is idempotent: it does nothing unless the session is paused for
// input.
func (o *Orchestrator) resume(ctx context.Context) {
	if o.session.state != StatePausedForInput {
		return
	}

	if o.session.task.alive() {
		o.signals.permission.Raise()
		o.setState(StateRunning)
		o.say(ctx, o.narration.Resuming)
		return
	}

	o.setState(StateRunning)
	o.say(ctx, o.narration.RestartingDemo)
	o.spawnLoop(ctx, false)
}

func (o *Orchestrator) stop(ctx context.Context, reason utterances.StopReason) {
	s := &o.session
	if s.state == StateStopped {
		return
	}

	s.stopRequested = true
	s.stopReason = reason
	o.signals.stop.Raise()
	o.stopGrace()
	if t := s.task; t != nil {
		o.cancelAndAwait(t)
		s.lastLoop = t.result
		s.task = nil
	}

	if ctx.Err() == nil {
		switch reason {
		case utterances.StopReasonEndDemo:
			o.say(ctx, o.narration.EndDemoFarewell)
		case utterances.StopReasonGoodbye:
			o.say(ctx, o.narration.GoodbyeFarewell)
		}
	}

	s.endReason = string(reason)
	o.setState(StateStopped)
}

// spawnLoop starts a fresh autonomous loop. The previous one, if any, is
// cancelled and awaited first so at most one loop is ever live.
func (o *Orchestrator) spawnLoop(ctx context.Context, first bool) {
	s := &o.session
	if t := s.task; t != nil {
		o.cancelAndAwait(t)
		s.lastLoop = t.result
		s.task = nil
	}
	if s.stopRequested {
		return
	}

	o.stopGrace()
	moved := o.signals.interrupt.Consume()
	o.signals.permission.Raise()

	loop := &autonomousLoop{
		id:           uuid.NewString(),
		surface:      o.surface,
		planner:      o.planner,
		runner:       o.newRunner(),
		signals:      o.signals,
		timings:      o.timings,
		narration:    o.narration,
		speak:        o.speak,
		emitEvent:    o.emit,
		target:       s.target,
		knowledge:    s.knowledge,
		openTarget:   first,
		surfaceMoved: moved,
	}

	loopCtx, cancel := context.WithCancel(ctx)
	task := &loopTask{id: loop.id, cancel: cancel, done: make(chan struct{})}
	s.task = task
	s.loopsStarted++

	o.trackLiveLoop(o.liveLoops.Add(1))

	go func() {
		defer close(task.done)
		defer o.liveLoops.Add(-1)

		result, err := runGuarded(loopCtx, "demo loop", loop.Run)
		if err != nil {
			logger.Error("Demo loop crashed", "loop", task.id, "error", err)
			result = LoopResult{Status: TaskCompleted, Reason: LoopReasonCrashed}
		}
		task.result = result
	}()
}

// cancelAndAwait cancels the task and waits for it to terminate. A task that
// ignores cancellation is waited on regardless; the warning makes the stall
// visible.
func (o *Orchestrator) cancelAndAwait(task *loopTask) {
	task.cancel()

	warn := time.NewTimer(o.timings.CancelWarnAfter)
	defer warn.Stop()

	select {
	case <-task.done:
	case <-warn.C:
		logger.Warn("Demo loop did not stop after cancellation, still waiting", "loop", task.id)
		<-task.done
	}
}

func (o *Orchestrator) handleLoopExit(ctx context.Context) {
	s := &o.session
	task := s.task
	s.task = nil
	s.lastLoop = task.result

	switch task.result.Status {
	case TaskInterrupted:
		if s.state == StateRunning {
			o.spawnLoop(ctx, false)
		}
	case TaskCompleted:
		if task.result.Reason == LoopReasonCrashed {
			o.say(ctx, o.narration.LoopCrashed)
		}
		if s.state == StateRunning {
			s.grace = time.NewTimer(o.timings.SoftStopGrace)
		}
	}
}

// handleGraceExpired ends a session whose loop finished on its own and which
// nobody spoke to afterwards.
func (o *Orchestrator) handleGraceExpired(ctx context.Context) {
	o.session.grace = nil
	if o.session.state != StateRunning || o.session.task != nil {
		return
	}

	o.say(ctx, o.narration.Closing)
	o.session.endReason = "completed"
	o.setState(StateStopped)
}

func (o *Orchestrator) trackLiveLoop(live int32) {
	for {
		peak := o.peakLoops.Load()
		if live <= peak || o.peakLoops.CompareAndSwap(peak, live) {
			return
		}
	}
}

func (o *Orchestrator) taskDone() <-chan struct{} {
	if o.session.task == nil {
		return nil
	}
	return o.session.task.done
}

func (o *Orchestrator) graceExpired() <-chan time.Time {
	if o.session.grace == nil {
		return nil
	}
	return o.session.grace.C
}

func (o *Orchestrator) stopGrace() {
	if o.session.grace != nil {
		o.session.grace.Stop()
		o.session.grace = nil
	}
}

func (o *Orchestrator) setState(state SessionState) {
	from := o.session.state
	if from == state {
		return
	}
	o.session.state = state
	o.emit(events.NewSessionStateChanged(string(from), string(state)))
	logger.Debug("Session state changed", "from", string(from), "to", string(state))
}

func (o *Orchestrator) newRunner() *actionRunner {
	return &actionRunner{
		surface:     o.surface,
		timings:     o.timings,
		narration:   o.narration,
		signals:     o.signals,
		speak:       o.speak,
		credentials: o.session.target.Credentials,
		emitEvent:   o.emit,
	}
}

func (o *Orchestrator) speak(ctx context.Context, text string) error {
	return o.arbiter.Speak(ctx, SpeakRequest{Text: text, MinHold: o.timings.MinSpeechHold})
}

func (o *Orchestrator) say(ctx context.Context, text string) {
	if ctx.Err() != nil {
		return
	}
	_ = o.speak(ctx, text)
}
