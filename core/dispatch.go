package orchestration

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/koscakluka/ema-demo/core/events"
	"github.com/koscakluka/ema-demo/core/planning"
	"github.com/koscakluka/ema-demo/core/surface"
	"github.com/koscakluka/ema-demo/core/utterances"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// minAnswerLength is the shortest answer worth speaking instead of the
// fallback line.
const minAnswerLength = 10

const (
	detourAnswered     = "answered"
	detourFallback     = "fallback"
	detourCaptureFail  = "capture_failed"
	detourUnsupported  = "unsupported"
	detourFailed       = "failed"
	detourUnactionable = "unactionable"
	detourNavigated    = "navigated"
	detourNewSurface   = "new_surface"
	detourDone         = "done"
)

// detour pauses the demo for a question or command. The running loop is
// cancelled and awaited before anything touches the surface, and the session
// stays paused for input afterwards until the user resumes.
func (o *Orchestrator) detour(ctx context.Context, utterance Utterance) {
	ctx, span := tracer.Start(ctx, "detour", trace.WithAttributes(
		attribute.String("utterance.kind", string(utterance.Kind)),
		attribute.String("utterance.text", utterance.Text),
	))
	defer span.End()

	o.emit(events.NewDetourStarted(string(utterance.Kind), utterance.Text))

	s := &o.session
	o.stopGrace()
	o.signals.permission.Lower()
	o.signals.interrupt.Lower()
	o.setState(StatePausedForInput)
	if t := s.task; t != nil {
		o.cancelAndAwait(t)
		s.lastLoop = t.result
		s.task = nil
	}
	o.publish()

	result := o.runDetour(ctx, utterance)
	if ctx.Err() != nil {
		result = TaskCancelled.String()
	}
	span.SetAttributes(attribute.String("detour.result", result))
	if result == detourFailed || result == detourCaptureFail {
		span.SetStatus(codes.Error, result)
	}

	s.rememberDetour(utterance.Text, result)
	o.emit(events.NewDetourFinished(string(utterance.Kind), result))
}

func (o *Orchestrator) runDetour(ctx context.Context, utterance Utterance) string {
	if o.signals.sleep(ctx, o.timings.SettleDelay) != taskRunning {
		return TaskCancelled.String()
	}

	observation, err := o.capture(ctx)
	if err != nil {
		logger.Warn("Failed to capture surface for detour", "error", err)
		o.say(ctx, o.narration.CannotSee)
		return detourCaptureFail
	}

	switch utterance.Kind {
	case utterances.KindCommand:
		return o.handleCommand(ctx, utterance, observation)
	default:
		return o.handleQuestion(ctx, utterance, observation)
	}
}

func (o *Orchestrator) handleCommand(ctx context.Context, utterance Utterance, observation surface.Observation) string {
	if o.commandPlanner == nil {
		o.say(ctx, o.narration.CommandUnactionable)
		return detourUnsupported
	}

	var plan planning.CommandPlan
	g, groupCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		o.say(groupCtx, o.narration.CommandAccepted)
		return nil
	})
	g.Go(func() error {
		planCtx, cancel := context.WithTimeout(groupCtx, o.timings.PlannerTimeout)
		defer cancel()

		p, err := o.commandPlanner.PlanCommand(planCtx, planning.CommandRequest{
			Observation: observation,
			Command:     utterance.Text,
			Context:     o.session.contextSummary(),
			Credentials: o.session.target.Credentials,
		})
		if err != nil {
			return fmt.Errorf("failed to plan command: %w", err)
		}
		plan = p
		return nil
	})
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return TaskCancelled.String()
		}
		logger.Warn("Command planning failed", "command", utterance.Text, "error", err)
		o.say(ctx, o.narration.CommandFailed)
		return detourFailed
	}

	if len(plan.Actions) == 0 {
		o.say(ctx, o.narration.CommandUnactionable)
		return detourUnactionable
	}

	sequence := o.newRunner().runSequence(ctx, plan.Actions, sequenceOptions{honorPause: false})
	if sequence.Status != TaskCompleted {
		return sequence.Status.String()
	}

	switch {
	case sequence.Outcome.Kind == OutcomeNewSurface:
		o.signals.interrupt.Raise()
		o.say(ctx, o.narration.CommandNewSurface)
		return detourNewSurface
	case sequence.Outcome.Kind == OutcomePageChanged:
		o.signals.interrupt.Raise()
		o.say(ctx, o.narration.CommandNavigated)
		return detourNavigated
	case sequence.Outcome.Kind == OutcomeFailed:
		o.say(ctx, o.narration.ResumePrompt)
		return detourFailed
	}

	o.say(ctx, o.narration.CommandDone)
	return detourDone
}

func (o *Orchestrator) handleQuestion(ctx context.Context, utterance Utterance, observation surface.Observation) string {
	var answer string
	if o.answerer != nil {
		answerCtx, cancel := context.WithTimeout(ctx, o.timings.PlannerTimeout)
		a, err := o.answerer.Answer(answerCtx, planning.QuestionRequest{
			Observation: observation,
			Question:    utterance.Text,
			Context:     o.session.contextSummary(),
			Knowledge:   o.session.knowledge,
		})
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return TaskCancelled.String()
			}
			logger.Warn("Failed to answer question", "question", utterance.Text, "error", err)
		}
		answer = strings.TrimSpace(a)
	}

	if len(answer) <= minAnswerLength {
		o.say(ctx, o.narration.QuestionFallback)
		return detourFallback
	}

	o.say(ctx, answer)
	if o.signals.sleep(ctx, o.timings.AnswerPause) != taskRunning {
		return TaskCancelled.String()
	}
	o.say(ctx, o.narration.ResumePrompt)
	return detourAnswered
}

// initKnowledge builds website knowledge once per session, before the first
// loop starts. Failures leave the session without knowledge.
func (o *Orchestrator) initKnowledge(ctx context.Context) {
	s := &o.session
	if s.knowledge != "" || o.knowledgeBuilder == nil {
		return
	}

	ctx, span := tracer.Start(ctx, "build knowledge")
	defer span.End()

	o.say(ctx, o.narration.AnalyzingWebsite)
	if s.target.URL != "" && !sameSite(o.surface.CurrentLocation(), s.target.URL) {
		navCtx, cancel := context.WithTimeout(ctx, o.timings.NavigationTimeout)
		err := o.surface.Navigate(navCtx, s.target.URL)
		cancel()
		if err != nil {
			logger.Warn("Failed to open demo target", "url", s.target.URL, "error", err)
		}
	}

	observation, err := o.capture(ctx)
	if err != nil {
		span.RecordError(err)
		logger.Warn("Skipping website knowledge", "error", err)
		return
	}

	buildCtx, cancel := context.WithTimeout(ctx, o.timings.PlannerTimeout)
	defer cancel()
	knowledge, err := o.knowledgeBuilder.BuildKnowledge(buildCtx, observation, s.target.URL)
	if err != nil {
		err = fmt.Errorf("failed to build website knowledge: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Warn("Skipping website knowledge", "error", err)
		return
	}
	s.knowledge = strings.TrimSpace(knowledge)
	logger.Info("Website knowledge ready", "length", len(s.knowledge))
}

func (o *Orchestrator) capture(ctx context.Context) (surface.Observation, error) {
	captureCtx, cancel := context.WithTimeout(ctx, o.timings.CaptureTimeout)
	defer cancel()

	started := time.Now()
	observation, err := o.surface.Capture(captureCtx)
	if err != nil {
		return surface.Observation{}, fmt.Errorf("failed to capture surface: %w", err)
	}
	logger.Debug("Captured surface", "location", observation.Location, "took", time.Since(started))
	return observation, nil
}
