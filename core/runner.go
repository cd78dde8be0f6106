package orchestration

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/koscakluka/ema-demo/core/events"
	"github.com/koscakluka/ema-demo/core/planning"
	"github.com/koscakluka/ema-demo/core/surface"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	maxWait        = 30 * time.Second
	visibilityPoll = 100 * time.Millisecond
)

var (
	errFillMismatch      = errors.New("filled value does not match")
	errNotInteractable   = errors.New("element is not interactable")
	errNoNavigation      = errors.New("neither navigation nor new surface followed the click")
	errOnlySurface       = errors.New("cannot close the only open surface")
	errUnsupportedAction = errors.New("unsupported action")
)

type speakFunc func(ctx context.Context, text string) error

// actionRunner executes planned steps against the control surface.
type actionRunner struct {
	surface     surface.ControlSurface
	timings     Timings
	narration   Narration
	signals     *sessionSignals
	speak       speakFunc
	credentials planning.Credentials
	emitEvent   func(events.Event)
}

type sequenceOptions struct {
	// honorPause makes the runner wait while permission is withheld. Command
	// sequences run while the session is paused and do not honor it.
	honorPause bool
}

// runSequence executes steps in order until one of them halts the sequence.
// Partial completion is normal: callers receive the outcome of the last
// executed step.
func (r *actionRunner) runSequence(ctx context.Context, steps []planning.ActionStep, opts sequenceOptions) SequenceResult {
	result := SequenceResult{Status: TaskCompleted, Outcome: ActionOutcome{Kind: OutcomeContinue}}

	for i, step := range steps {
		if i > 0 {
			if status := r.signals.sleep(ctx, r.timings.InterStepDelay); status != taskRunning {
				return SequenceResult{Status: status, Executed: result.Executed}
			}
		}
		if status := r.signals.checkpoint(ctx, opts.honorPause); status != taskRunning {
			return SequenceResult{Status: status, Executed: result.Executed}
		}

		outcome, status := r.runStep(ctx, step)
		if status != taskRunning {
			return SequenceResult{Status: status, Executed: result.Executed}
		}

		result.Executed++
		result.Outcome = outcome
		if outcome.halts() {
			break
		}
	}

	return result
}

func (r *actionRunner) runStep(ctx context.Context, step planning.ActionStep) (ActionOutcome, TaskStatus) {
	ctx, span := tracer.Start(ctx, "execute action", trace.WithAttributes(
		attribute.String("action.kind", step.Kind.String()),
		attribute.String("action.target", step.Target),
	))
	defer span.End()

	switch step.Kind {
	case planning.ActionStop:
		r.record(ctx, step, ActionOutcome{Kind: OutcomeStop})
		return ActionOutcome{Kind: OutcomeStop}, taskRunning
	case planning.ActionWait:
		if status := r.signals.sleep(ctx, parseWait(step.Value, r.timings.DefaultWait)); status != taskRunning {
			return ActionOutcome{}, status
		}
		r.record(ctx, step, ActionOutcome{Kind: OutcomeContinue})
		return ActionOutcome{Kind: OutcomeContinue}, taskRunning
	}

	r.narrate(ctx, step.PreNarration)
	if ctx.Err() != nil {
		return ActionOutcome{}, TaskCancelled
	}

	var (
		outcome ActionOutcome
		err     error
	)
	switch step.Kind {
	case planning.ActionFill:
		err = r.fill(ctx, step)
		outcome = ActionOutcome{Kind: OutcomeContinue}
	case planning.ActionClick:
		outcome, err = r.click(ctx, step)
	case planning.ActionNavigate:
		err = r.navigate(ctx, step.Value)
		outcome = ActionOutcome{Kind: OutcomePageChanged}
	case planning.ActionBack:
		outcome, err = r.back(ctx)
	default:
		err = fmt.Errorf("%w: %s", errUnsupportedAction, step.Kind)
	}

	if ctx.Err() != nil {
		return ActionOutcome{}, TaskCancelled
	}

	if err != nil {
		outcome = ActionOutcome{Kind: OutcomeFailed}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Warn("Action failed", "action", step.Kind.String(), "target", step.Target, "error", err)
		r.narrate(ctx, fmt.Sprintf(r.narration.ActionFailed, step.Kind))
	} else {
		r.narrate(ctx, step.PostNarration)
	}

	span.SetAttributes(attribute.String("action.outcome", outcome.String()))
	r.record(ctx, step, outcome)
	return outcome, taskRunning
}

func (r *actionRunner) record(ctx context.Context, step planning.ActionStep, outcome ActionOutcome) {
	actionCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action.kind", step.Kind.String()),
		attribute.String("action.outcome", outcome.Kind.String()),
	))
	if r.emitEvent != nil {
		r.emitEvent(events.NewActionExecuted(step.Kind.String(), step.Target, outcome.String()))
	}
}

func (r *actionRunner) narrate(ctx context.Context, text string) {
	if r.speak == nil || strings.TrimSpace(text) == "" {
		return
	}
	_ = r.speak(ctx, text)
}

func (r *actionRunner) fill(ctx context.Context, step planning.ActionStep) error {
	element, err := r.locateInteractable(ctx, step.Target)
	if err != nil {
		return err
	}

	value := r.credentials.Substitute(step.Value)

	fillCtx, cancel := context.WithTimeout(ctx, r.timings.FillTimeout)
	defer cancel()

	clickCtx, cancelClick := context.WithTimeout(fillCtx, r.timings.ClickTimeout)
	_ = element.Click(clickCtx, false)
	cancelClick()

	if err := element.Clear(fillCtx); err != nil {
		return fmt.Errorf("failed to clear %q: %w", step.Target, err)
	}
	if err := element.Fill(fillCtx, value); err != nil {
		return fmt.Errorf("failed to fill %q: %w", step.Target, err)
	}

	got, err := element.Value(fillCtx)
	if err != nil {
		return fmt.Errorf("failed to read back %q: %w", step.Target, err)
	}
	if got != value {
		// Values may hold credentials, so only their lengths are reported.
		return fmt.Errorf("%w for %q: expected %d characters, got %d", errFillMismatch, step.Target, len(value), len(got))
	}
	return nil
}

func (r *actionRunner) click(ctx context.Context, step planning.ActionStep) (ActionOutcome, error) {
	element, err := r.locate(ctx, step.Target)
	if err != nil {
		return ActionOutcome{}, err
	}

	if !step.MovesSurface() {
		if err := r.clickElement(ctx, element); err != nil {
			return ActionOutcome{}, err
		}
		return ActionOutcome{Kind: OutcomeContinue}, nil
	}

	// Watches are armed before the click so a fast navigation is not missed.
	raceCtx, cancel := context.WithTimeout(ctx, r.timings.ExpectNavigationTimeout)
	defer cancel()
	navigated := r.surface.WatchNavigation(raceCtx)
	opened := r.surface.WatchNewSurface(raceCtx)

	if err := r.clickElement(ctx, element); err != nil {
		return ActionOutcome{}, err
	}

	select {
	case _, ok := <-navigated:
		if ok {
			return ActionOutcome{Kind: OutcomePageChanged}, nil
		}
	case handle, ok := <-opened:
		if ok {
			if err := r.surface.SwitchTo(ctx, handle); err != nil {
				return ActionOutcome{}, fmt.Errorf("failed to switch to new surface: %w", err)
			}
			return ActionOutcome{Kind: OutcomeNewSurface, Surface: handle}, nil
		}
	case <-raceCtx.Done():
	}

	return ActionOutcome{}, fmt.Errorf("%w within %s", errNoNavigation, r.timings.ExpectNavigationTimeout)
}

// clickElement clicks when the element is interactable and falls back to a
// forced click otherwise.
func (r *actionRunner) clickElement(ctx context.Context, element surface.Element) error {
	if r.waitVisible(ctx, element) && r.isEnabled(ctx, element) {
		clickCtx, cancel := context.WithTimeout(ctx, r.timings.ClickTimeout)
		err := element.Click(clickCtx, false)
		cancel()
		if err == nil {
			return nil
		}
		logger.Debug("Click failed, retrying with force", "error", err)
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}

	forceCtx, cancel := context.WithTimeout(ctx, r.timings.ClickTimeout)
	defer cancel()
	if err := element.Click(forceCtx, true); err != nil {
		return fmt.Errorf("failed to click: %w", err)
	}
	return nil
}

func (r *actionRunner) navigate(ctx context.Context, url string) error {
	navCtx, cancel := context.WithTimeout(ctx, r.timings.NavigationTimeout)
	defer cancel()

	if err := r.surface.Navigate(navCtx, url); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

// back navigates back in history. Without history it closes the current
// surface and continues on the previous one.
func (r *actionRunner) back(ctx context.Context) (ActionOutcome, error) {
	backCtx, cancel := context.WithTimeout(ctx, r.timings.BackTimeout)
	navigated, err := r.surface.GoBack(backCtx)
	cancel()
	if err == nil && navigated {
		return ActionOutcome{Kind: OutcomePageChanged}, nil
	}
	if err != nil {
		logger.Debug("Back navigation did not happen", "error", err)
	}

	open := r.surface.ListOpenSurfaces()
	if len(open) <= 1 {
		return ActionOutcome{}, errOnlySurface
	}

	current := r.surface.CurrentSurface()
	previous := previousSurface(open, current)
	if err := r.surface.CloseSurface(ctx, current); err != nil {
		return ActionOutcome{}, fmt.Errorf("failed to close surface: %w", err)
	}
	if err := r.surface.SwitchTo(ctx, previous); err != nil {
		return ActionOutcome{}, fmt.Errorf("failed to switch surface: %w", err)
	}
	return ActionOutcome{Kind: OutcomeNewSurface, Surface: previous}, nil
}

func previousSurface(open []surface.Handle, current surface.Handle) surface.Handle {
	for i, handle := range open {
		if handle != current {
			continue
		}
		if i > 0 {
			return open[i-1]
		}
		return open[i+1]
	}
	return open[len(open)-2]
}

func (r *actionRunner) locate(ctx context.Context, selector string) (surface.Element, error) {
	attachCtx, cancel := context.WithTimeout(ctx, r.timings.ElementAttachTimeout)
	defer cancel()

	element, err := r.surface.Locate(attachCtx, selector)
	if err != nil {
		return nil, fmt.Errorf("failed to locate %q: %w", selector, err)
	}
	if err := element.WaitAttached(attachCtx); err != nil {
		return nil, fmt.Errorf("element %q never attached: %w", selector, err)
	}
	return element, nil
}

func (r *actionRunner) locateInteractable(ctx context.Context, selector string) (surface.Element, error) {
	element, err := r.locate(ctx, selector)
	if err != nil {
		return nil, err
	}
	if !r.waitVisible(ctx, element) {
		return nil, fmt.Errorf("%w: %q is not visible", errNotInteractable, selector)
	}
	return element, nil
}

// waitVisible polls visibility; the driver offers no notification for it.
func (r *actionRunner) waitVisible(ctx context.Context, element surface.Element) bool {
	visibleCtx, cancel := context.WithTimeout(ctx, r.timings.ElementVisibleTimeout)
	defer cancel()

	ticker := time.NewTicker(visibilityPoll)
	defer ticker.Stop()
	for {
		if visible, err := element.IsVisible(visibleCtx); err == nil && visible {
			return true
		}
		select {
		case <-visibleCtx.Done():
			return false
		case <-ticker.C:
		}
	}
}

func (r *actionRunner) isEnabled(ctx context.Context, element surface.Element) bool {
	enabledCtx, cancel := context.WithTimeout(ctx, r.timings.ElementEnabledTimeout)
	defer cancel()

	enabled, err := element.IsEnabled(enabledCtx)
	return err == nil && enabled
}

func parseWait(value string, fallback time.Duration) time.Duration {
	value = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(value), "s"))
	seconds, err := strconv.ParseFloat(value, 64)
	if err != nil || seconds <= 0 {
		return fallback
	}
	return min(time.Duration(seconds*float64(time.Second)), maxWait)
}
