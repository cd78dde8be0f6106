package orchestration

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/cenkalti/backoff/v5"
	"github.com/koscakluka/ema-demo/core/events"
	"github.com/koscakluka/ema-demo/core/planning"
	"github.com/koscakluka/ema-demo/core/surface"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

const surfaceMovedNote = "The user moved the page during a pause. Continue from the current page."

type loopPhase string

const (
	phaseObserving  loopPhase = "observing"
	phasePlanning   loopPhase = "planning"
	phaseActing     loopPhase = "acting"
	phaseTerminated loopPhase = "terminated"
)

// autonomousLoop drives the demo: observe, plan, act, until the planner
// declares the goal done or a budget runs out. One instance runs at most
// once; its memory dies with it.
type autonomousLoop struct {
	id        string
	surface   surface.ControlSurface
	planner   Planner
	runner    *actionRunner
	signals   *sessionSignals
	timings   Timings
	narration Narration
	speak     speakFunc
	emitEvent func(events.Event)

	target    SessionTarget
	knowledge string
	// openTarget navigates to the target URL before the first cycle.
	openTarget bool
	// surfaceMoved is set when a command moved the surface while the demo
	// was paused.
	surfaceMoved bool

	memory *planning.Memory
}

func (l *autonomousLoop) Run(ctx context.Context) LoopResult {
	ctx, span := tracer.Start(ctx, "demo loop", trace.WithAttributes(attribute.String("loop.id", l.id)))
	defer span.End()

	l.emit(events.NewLoopStarted(l.id))
	result := l.run(ctx)
	l.phase(result.Cycles, phaseTerminated)

	span.SetAttributes(
		attribute.String("loop.status", result.Status.String()),
		attribute.String("loop.reason", string(result.Reason)),
		attribute.Int("loop.cycles", result.Cycles),
	)
	logger.Info("Demo loop finished", "loop", l.id, "status", result.Status.String(), "reason", string(result.Reason), "cycles", result.Cycles)
	l.emit(events.NewLoopFinished(l.id, result.Status.String(), string(result.Reason), result.Cycles))
	return result
}

func (l *autonomousLoop) run(ctx context.Context) LoopResult {
	if l.memory == nil {
		l.memory = planning.NewMemory(l.timings.MemoryLimit)
	}

	limiter := rate.NewLimiter(rate.Every(l.timings.ObservationInterval), 1)
	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = l.timings.RetryBackoff
	retry.MaxInterval = 4 * l.timings.RetryBackoff
	retry.RandomizationFactor = 0.2

	var (
		cycles          int
		plannerFailures int
		captureFailures int
		actionFailures  int
		idleNarrated    bool
		pageState       string
	)
	finish := func(status TaskStatus, reason LoopReason) LoopResult {
		return LoopResult{Status: status, Reason: reason, Cycles: cycles, PageState: pageState}
	}
	backOff := func() TaskStatus {
		delay := retry.NextBackOff()
		if delay < 0 {
			delay = l.timings.RetryBackoff
		}
		return l.signals.sleep(ctx, delay)
	}

	if l.openTarget {
		if status := l.openTargetURL(ctx); status != taskRunning {
			return finish(status, LoopReasonNone)
		}
	}
	if l.surfaceMoved {
		logger.Info("Demo loop resuming on a moved surface", "loop", l.id)
		l.memory.Append(surfaceMovedNote)
	}

	for {
		if status := l.signals.checkpoint(ctx, true); status != taskRunning {
			return finish(status, LoopReasonNone)
		}
		if cycles >= l.timings.MaxCycles {
			l.say(ctx, l.narration.StepLimit)
			return finish(TaskCompleted, LoopReasonStepLimitReached)
		}
		if err := limiter.Wait(ctx); err != nil {
			return finish(TaskCancelled, LoopReasonNone)
		}

		cycles++
		cycleCounter.Add(ctx, 1)

		l.phase(cycles, phaseObserving)
		observation, err := l.capture(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return finish(TaskCancelled, LoopReasonNone)
			}
			captureFailures++
			logger.Warn("Failed to capture surface", "loop", l.id, "error", err, "failures", captureFailures)
			l.say(ctx, l.narration.CaptureFailed)
			if captureFailures >= l.timings.ObservationFailureBudget {
				return finish(TaskCompleted, LoopReasonObservationFailed)
			}
			if status := backOff(); status != taskRunning {
				return finish(status, LoopReasonNone)
			}
			continue
		}
		captureFailures = 0

		l.phase(cycles, phasePlanning)
		plan, err := l.plan(ctx, observation)
		if err != nil {
			if ctx.Err() != nil {
				return finish(TaskCancelled, LoopReasonNone)
			}
			plannerFailures++
			logger.Warn("Planner failed", "loop", l.id, "error", err, "failures", plannerFailures)
			if plannerFailures >= l.timings.PlannerRetryBudget {
				l.say(ctx, l.narration.PlannerGaveUp)
				return finish(TaskCompleted, LoopReasonPlannerFailuresExhausted)
			}
			l.say(ctx, l.narration.PlannerRetry)
			if status := backOff(); status != taskRunning {
				return finish(status, LoopReasonNone)
			}
			continue
		}
		plannerFailures = 0
		retry.Reset()
		if plan.PageState != "" {
			pageState = plan.PageState
		}
		l.memory.Record(cycles, plan)

		switch plan.GoalStatus {
		case planning.GoalComplete:
			l.say(ctx, l.narration.GoalComplete)
			return finish(TaskCompleted, LoopReasonGoalReached)
		case planning.GoalBlocked:
			l.say(ctx, l.narration.GoalBlocked)
			return finish(TaskCompleted, LoopReasonGoalBlocked)
		}

		if len(plan.Actions) == 0 {
			if !plan.NextObservationNeeded {
				l.say(ctx, l.narration.Stuck)
				return finish(TaskCompleted, LoopReasonStuck)
			}
			if !idleNarrated {
				l.say(ctx, l.narration.Reevaluate)
				idleNarrated = true
			}
			if status := l.signals.sleep(ctx, l.timings.IdleDelay); status != taskRunning {
				return finish(status, LoopReasonNone)
			}
			continue
		}
		idleNarrated = false

		l.phase(cycles, phaseActing)
		sequence := l.runner.runSequence(ctx, plan.Actions, sequenceOptions{honorPause: true})
		if sequence.Status != TaskCompleted {
			return finish(sequence.Status, LoopReasonNone)
		}

		switch outcome := sequence.Outcome; {
		case outcome.Kind == OutcomeStop:
			l.say(ctx, l.narration.GoalComplete)
			return finish(TaskCompleted, LoopReasonGoalReached)
		case outcome.Kind == OutcomeFailed:
			actionFailures++
			if actionFailures >= l.timings.ActionFailureBudget {
				l.say(ctx, l.narration.ActionsGaveUp)
				return finish(TaskCompleted, LoopReasonActionFailuresExhausted)
			}
		case outcome.MovedSurface():
			actionFailures = 0
			continue
		default:
			actionFailures = 0
		}

		if !plan.NextObservationNeeded {
			l.say(ctx, l.narration.Stuck)
			return finish(TaskCompleted, LoopReasonStuck)
		}
	}
}

func (l *autonomousLoop) capture(ctx context.Context) (surface.Observation, error) {
	captureCtx, cancel := context.WithTimeout(ctx, l.timings.CaptureTimeout)
	defer cancel()

	observation, err := l.surface.Capture(captureCtx)
	if err != nil {
		return surface.Observation{}, fmt.Errorf("failed to capture surface: %w", err)
	}
	return observation, nil
}

func (l *autonomousLoop) plan(ctx context.Context, observation surface.Observation) (planning.Plan, error) {
	ctx, span := tracer.Start(ctx, "plan next")
	defer span.End()

	planCtx, cancel := context.WithTimeout(ctx, l.timings.PlannerTimeout)
	defer cancel()

	plan, err := l.planner.PlanNext(planCtx, planning.Request{
		Observation: observation,
		Goal:        l.target.Goal,
		Memory:      l.memory.String(),
		Credentials: l.target.Credentials,
		Knowledge:   l.knowledge,
	})
	if err != nil {
		err = fmt.Errorf("failed to plan next actions: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return planning.Plan{}, err
	}

	span.SetAttributes(
		attribute.String("plan.goal_status", string(plan.GoalStatus)),
		attribute.Int("plan.actions", len(plan.Actions)),
		attribute.Int("plan.rejected", plan.Rejected),
	)
	return plan, nil
}

// openTargetURL brings the surface to the demonstrated site unless it is
// already there.
func (l *autonomousLoop) openTargetURL(ctx context.Context) TaskStatus {
	if l.target.URL == "" || sameSite(l.surface.CurrentLocation(), l.target.URL) {
		return taskRunning
	}

	navCtx, cancel := context.WithTimeout(ctx, l.timings.NavigationTimeout)
	defer cancel()
	if err := l.surface.Navigate(navCtx, l.target.URL); err != nil {
		if ctx.Err() != nil {
			return TaskCancelled
		}
		logger.Warn("Failed to open demo target", "url", l.target.URL, "error", err)
	}
	return taskRunning
}

func (l *autonomousLoop) say(ctx context.Context, text string) {
	if l.speak == nil || ctx.Err() != nil {
		return
	}
	_ = l.speak(ctx, text)
}

func (l *autonomousLoop) phase(cycle int, phase loopPhase) {
	l.emit(events.NewLoopPhaseChanged(l.id, cycle, string(phase)))
}

func (l *autonomousLoop) emit(event events.Event) {
	if l.emitEvent != nil {
		l.emitEvent(event)
	}
}

func sameSite(current, target string) bool {
	if current == "" {
		return false
	}
	currentURL, err := url.Parse(current)
	if err != nil {
		return false
	}
	targetURL, err := url.Parse(target)
	if err != nil {
		return false
	}
	return strings.EqualFold(strings.TrimPrefix(currentURL.Hostname(), "www."), strings.TrimPrefix(targetURL.Hostname(), "www."))
}
