package orchestration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/koscakluka/ema-demo/core/events"
	"github.com/koscakluka/ema-demo/core/utterances"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/semaphore"
)

var (
	ErrOutputBusy       = errors.New("output channel busy")
	ErrSpeechSuppressed = errors.New("speech suppressed while user is speaking")
)

// SpeakRequest asks for text to be spoken and the floor held for at least
// MinHold.
type SpeakRequest struct {
	Text    string
	MinHold time.Duration
}

// outputArbiter grants the voice output to one speaker at a time.
type outputArbiter struct {
	renderer       SpeechRenderer
	lock           *semaphore.Weighted
	lockTimeout    time.Duration
	wordsPerSecond float64
	signals        *sessionSignals
	emitEvent      func(events.Event)
}

func newOutputArbiter(renderer SpeechRenderer, timings Timings, signals *sessionSignals, emitEvent func(events.Event)) *outputArbiter {
	if emitEvent == nil {
		emitEvent = func(events.Event) {}
	}
	return &outputArbiter{
		renderer:       renderer,
		lock:           semaphore.NewWeighted(1),
		lockTimeout:    timings.LockTimeout,
		wordsPerSecond: timings.WordsPerSecond,
		signals:        signals,
		emitEvent:      emitEvent,
	}
}

// Speak renders the text and holds the floor for the longer of the estimated
// spoken duration and the requested minimum. A nil error means the text was
// rendered; any error means it must be assumed unheard.
func (a *outputArbiter) Speak(ctx context.Context, req SpeakRequest) (err error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil
	}

	ctx, span := tracer.Start(ctx, "speak")
	defer span.End()
	span.SetAttributes(attribute.String("speech.text", text))

	result := "spoken"
	defer func() {
		if err != nil {
			result = speakResult(err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			logger.Warn("Speech did not happen", "text", text, "error", err)
		}
		speakCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("speech.result", result)))
	}()

	if a.renderer == nil {
		return fmt.Errorf("failed to speak: %w", ErrNotConfigured)
	}
	if a.signals.userSpeaking.IsSet() {
		return ErrSpeechSuppressed
	}

	lockCtx, cancel := context.WithTimeout(ctx, a.lockTimeout)
	err = a.lock.Acquire(lockCtx, 1)
	cancel()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return ErrOutputBusy
	}
	defer a.lock.Release(1)

	// The user may have started talking while the lock was contended.
	if a.signals.userSpeaking.IsSet() {
		return ErrSpeechSuppressed
	}

	a.signals.assistantSpeaking.Raise()
	a.emitEvent(events.NewAssistantSpeechStarted(text))
	defer func() {
		a.signals.assistantSpeaking.Lower()
		a.emitEvent(events.NewAssistantSpeechEnded(text, result))
	}()

	if err := a.renderer.Render(ctx, text); err != nil {
		result = "failed"
		return fmt.Errorf("failed to render speech: %w", err)
	}

	hold := max(a.estimate(text), req.MinHold)
	timer := time.NewTimer(hold)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-a.signals.userSpeaking.Raised():
		result = "cut_short"
		span.AddEvent("cut short by user speech")
	case <-ctx.Done():
		result = "cut_short"
	}
	return nil
}

func (a *outputArbiter) estimate(text string) time.Duration {
	if a.wordsPerSecond <= 0 {
		return 0
	}
	seconds := float64(utterances.WordCount(text)) / a.wordsPerSecond
	return time.Duration(seconds * float64(time.Second))
}

func speakResult(err error) string {
	switch {
	case errors.Is(err, ErrOutputBusy):
		return "busy"
	case errors.Is(err, ErrSpeechSuppressed):
		return "suppressed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	}
	return "failed"
}
