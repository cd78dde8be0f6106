package orchestration

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/koscakluka/ema-demo/core/events"
	"github.com/koscakluka/ema-demo/core/utterances"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Fragment is one piece of transcribed user speech. Seq orders fragments and
// lets replays of an already seen fragment be recognised.
type Fragment struct {
	Seq        uint64
	Text       string
	ReceivedAt time.Time

	suppressed bool
	activity   bool
}

// Utterance is one finalized, classified span of user speech.
type Utterance struct {
	Text       string
	ReceivedAt time.Time
	utterances.Classification
}

// utteranceAccumulator turns the fragment stream into utterances bounded by
// silence. Fragments that arrive while the assistant is speaking are marked
// seen and dropped.
type utteranceAccumulator struct {
	silenceThreshold time.Duration
	minWords         int
	signals          *sessionSignals
	emitEvent        func(events.Event)

	input chan Fragment

	// pushMu keeps channel order equal to sequence order for Push.
	pushMu  sync.Mutex
	nextSeq uint64

	// owned by run
	seen    seenSequences
	parts   []string
	started time.Time
}

// seenSequences records which sequence numbers were processed. Everything at
// or below floor was seen; above holds the stragglers past a gap.
type seenSequences struct {
	floor uint64
	above map[uint64]struct{}
}

// mark records seq and reports whether it was new.
func (s *seenSequences) mark(seq uint64) bool {
	if seq <= s.floor {
		return false
	}
	if _, ok := s.above[seq]; ok {
		return false
	}
	if s.above == nil {
		s.above = map[uint64]struct{}{}
	}
	s.above[seq] = struct{}{}
	for {
		if _, ok := s.above[s.floor+1]; !ok {
			return true
		}
		delete(s.above, s.floor+1)
		s.floor++
	}
}

func newUtteranceAccumulator(silenceThreshold time.Duration, minWords int, signals *sessionSignals, emitEvent func(events.Event)) *utteranceAccumulator {
	if emitEvent == nil {
		emitEvent = func(events.Event) {}
	}
	return &utteranceAccumulator{
		silenceThreshold: silenceThreshold,
		minWords:         minWords,
		signals:          signals,
		emitEvent:        emitEvent,
		input:            make(chan Fragment, 64),
	}
}

// Push records a fragment with the next sequence number.
func (a *utteranceAccumulator) Push(text string) {
	a.pushMu.Lock()
	defer a.pushMu.Unlock()
	a.nextSeq++
	a.enqueue(Fragment{Seq: a.nextSeq, Text: text})
}

// PushFragment records a fragment carrying its own sequence number. A fragment
// whose sequence number was already seen is ignored.
func (a *utteranceAccumulator) PushFragment(fragment Fragment) {
	a.pushMu.Lock()
	defer a.pushMu.Unlock()
	a.nextSeq = max(a.nextSeq, fragment.Seq)
	a.enqueue(fragment)
}

func (a *utteranceAccumulator) enqueue(fragment Fragment) {
	if fragment.ReceivedAt.IsZero() {
		fragment.ReceivedAt = time.Now()
	}
	// Suppression is decided on arrival, not when the fragment is processed.
	fragment.suppressed = a.signals.assistantSpeaking.IsSet()

	select {
	case a.input <- fragment:
	default:
		logger.Warn("Dropping transcript fragment, accumulator is full", "seq", fragment.Seq)
	}
}

// NoteActivity reports voice activity without text, keeping the current
// utterance open.
func (a *utteranceAccumulator) NoteActivity() {
	if a.signals.assistantSpeaking.IsSet() {
		return
	}
	select {
	case a.input <- Fragment{activity: true, ReceivedAt: time.Now()}:
	default:
	}
}

func (a *utteranceAccumulator) run(ctx context.Context, out chan<- Utterance) {
	var (
		silence   *time.Timer
		silenceCh <-chan time.Time
	)
	armSilence := func() {
		if silence == nil {
			silence = time.NewTimer(a.silenceThreshold)
		} else {
			silence.Stop()
			silence.Reset(a.silenceThreshold)
		}
		silenceCh = silence.C
	}
	defer func() {
		if silence != nil {
			silence.Stop()
		}
		a.signals.userSpeaking.Lower()
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case fragment := <-a.input:
			if fragment.activity {
				a.signals.userSpeaking.Raise()
				armSilence()
				continue
			}

			if !a.seen.mark(fragment.Seq) {
				continue
			}

			text := strings.TrimSpace(fragment.Text)
			if text == "" {
				continue
			}
			if fragment.suppressed {
				a.emitEvent(events.NewUserTranscriptSuppressed(text))
				continue
			}

			if len(a.parts) == 0 {
				a.started = fragment.ReceivedAt
				a.emitEvent(events.NewUserSpeechStarted())
			}
			a.parts = append(a.parts, text)
			a.signals.userSpeaking.Raise()
			a.emitEvent(events.NewUserTranscriptSegment(text))
			armSilence()

		case <-silenceCh:
			silenceCh = nil
			utterance, ok := a.finalize()
			if !ok {
				continue
			}
			select {
			case out <- utterance:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (a *utteranceAccumulator) finalize() (Utterance, bool) {
	defer a.signals.userSpeaking.Lower()

	text := utterances.Normalize(strings.Join(a.parts, " "))
	a.parts = nil
	if text == "" {
		return Utterance{}, false
	}

	classification := utterances.Classify(text)
	if utterances.WordCount(text) < a.minWords && !classification.Kind.IsControl() {
		logger.Debug("Discarding short utterance", "text", text)
		a.emitEvent(events.NewUtteranceDiscarded(text))
		return Utterance{}, false
	}

	utteranceCounter.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("utterance.kind", classification.Kind.String())))
	a.emitEvent(events.NewUtteranceFinalized(text, classification.Kind.String(), string(classification.StopReason)))

	return Utterance{
		Text:           text,
		ReceivedAt:     a.started,
		Classification: classification,
	}, true
}
