package orchestration

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/koscakluka/ema-demo/core/events"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func newTestArbiter(renderer SpeechRenderer, timings Timings) (*outputArbiter, *sessionSignals, *eventLog) {
	signals := newSessionSignals()
	log := &eventLog{}
	return newOutputArbiter(renderer, timings, signals, log.record), signals, log
}

func TestArbiterNeverRendersConcurrently(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 15
	properties := gopter.NewProperties(parameters)

	properties.Property("at most one render at a time", prop.ForAll(
		func(delays []int) bool {
			renderer := &recordingRenderer{}
			timings := testTimings()
			timings.LockTimeout = time.Second
			arbiter, signals, _ := newTestArbiter(renderer, timings)

			var wg sync.WaitGroup
			errs := make(chan error, len(delays))
			for i, delay := range delays {
				wg.Add(1)
				go func() {
					defer wg.Done()
					time.Sleep(time.Duration(delay) * time.Millisecond)
					errs <- arbiter.Speak(context.Background(), SpeakRequest{Text: "line number " + string(rune('a'+i))})
				}()
			}
			wg.Wait()
			close(errs)

			for err := range errs {
				if err != nil {
					return false
				}
			}
			return renderer.maxActive.Load() <= 1 &&
				len(renderer.texts()) == len(delays) &&
				!signals.assistantSpeaking.IsSet()
		},
		gen.SliceOfN(5, gen.IntRange(0, 3)),
	))

	properties.TestingRun(t)
}

func TestArbiterSuppressedWhileUserSpeaks(t *testing.T) {
	renderer := &recordingRenderer{}
	arbiter, signals, _ := newTestArbiter(renderer, testTimings())
	signals.userSpeaking.Raise()

	err := arbiter.Speak(t.Context(), SpeakRequest{Text: "Now I'll click the button."})
	if !errors.Is(err, ErrSpeechSuppressed) {
		t.Fatalf("expected suppressed, got %v", err)
	}
	if len(renderer.texts()) != 0 {
		t.Fatalf("expected nothing to be rendered")
	}
}

func TestArbiterBusyAfterLockTimeout(t *testing.T) {
	renderer := &recordingRenderer{delay: 200 * time.Millisecond}
	timings := testTimings()
	timings.LockTimeout = 20 * time.Millisecond
	arbiter, _, _ := newTestArbiter(renderer, timings)

	first := make(chan error, 1)
	go func() { first <- arbiter.Speak(t.Context(), SpeakRequest{Text: "a long explanation"}) }()
	eventually(t, time.Second, func() bool { return renderer.active.Load() == 1 }, "first render never started")

	err := arbiter.Speak(t.Context(), SpeakRequest{Text: "an impatient line"})
	if !errors.Is(err, ErrOutputBusy) {
		t.Fatalf("expected busy, got %v", err)
	}
	if err := <-first; err != nil {
		t.Fatalf("expected first speech to succeed, got %v", err)
	}
}

func TestArbiterHoldCutShortByUserSpeech(t *testing.T) {
	renderer := &recordingRenderer{}
	arbiter, signals, log := newTestArbiter(renderer, testTimings())

	time.AfterFunc(20*time.Millisecond, func() { signals.userSpeaking.Raise() })

	started := time.Now()
	err := arbiter.Speak(t.Context(), SpeakRequest{Text: "hold on", MinHold: 5 * time.Second})
	if err != nil {
		t.Fatalf("expected speech to count as spoken, got %v", err)
	}
	if elapsed := time.Since(started); elapsed > time.Second {
		t.Fatalf("expected the hold to be cut short, took %s", elapsed)
	}

	log.mu.Lock()
	defer log.mu.Unlock()
	var ended *events.AssistantSpeechEnded
	for _, event := range log.events {
		if e, ok := event.(events.AssistantSpeechEnded); ok {
			ended = &e
		}
	}
	if ended == nil || ended.Result != "cut_short" {
		t.Fatalf("expected a cut_short speech ended event, got %+v", ended)
	}
}

func TestArbiterRaisesAssistantSpeakingDuringRender(t *testing.T) {
	signalsSeen := make(chan bool, 1)
	var arbiter *outputArbiter
	var signals *sessionSignals
	renderer := renderFunc(func(context.Context, string) error {
		signalsSeen <- signals.assistantSpeaking.IsSet()
		return nil
	})
	arbiter, signals, _ = newTestArbiter(renderer, testTimings())

	if err := arbiter.Speak(t.Context(), SpeakRequest{Text: "hello"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !<-signalsSeen {
		t.Fatalf("expected assistant speaking to be raised during render")
	}
	if signals.assistantSpeaking.IsSet() {
		t.Fatalf("expected assistant speaking to be lowered afterwards")
	}
}

func TestArbiterRenderFailure(t *testing.T) {
	renderer := &recordingRenderer{err: errFake}
	arbiter, signals, _ := newTestArbiter(renderer, testTimings())

	err := arbiter.Speak(t.Context(), SpeakRequest{Text: "hello there"})
	if !errors.Is(err, errFake) {
		t.Fatalf("expected render error, got %v", err)
	}
	if signals.assistantSpeaking.IsSet() {
		t.Fatalf("expected assistant speaking to be lowered after failure")
	}

	// The lock is released after a failure.
	renderer.mu.Lock()
	renderer.err = nil
	renderer.mu.Unlock()
	if err := arbiter.Speak(t.Context(), SpeakRequest{Text: "hello again"}); err != nil {
		t.Fatalf("expected second speech to succeed, got %v", err)
	}
}

func TestArbiterWithoutRenderer(t *testing.T) {
	arbiter, _, _ := newTestArbiter(nil, testTimings())
	if err := arbiter.Speak(t.Context(), SpeakRequest{Text: "hello"}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected not configured, got %v", err)
	}
	if err := arbiter.Speak(t.Context(), SpeakRequest{Text: "   "}); err != nil {
		t.Fatalf("expected empty text to be a no-op, got %v", err)
	}
}

type renderFunc func(ctx context.Context, text string) error

func (f renderFunc) Render(ctx context.Context, text string) error { return f(ctx, text) }
