package events

const (
	// KindUserSpeechStarted identifies the start of an utterance.
	KindUserSpeechStarted Kind = "user_input.speech_started"
	// KindUserTranscriptSegment identifies an accepted transcript fragment.
	KindUserTranscriptSegment Kind = "user_input.transcript_segment"
	// KindUserTranscriptSuppressed identifies a fragment dropped during
	// assistant speech.
	KindUserTranscriptSuppressed Kind = "user_input.transcript_suppressed"
	// KindUtteranceFinalized identifies a finalized and classified utterance.
	KindUtteranceFinalized Kind = "user_input.utterance_finalized"
	// KindUtteranceDiscarded identifies a candidate rejected as noise.
	KindUtteranceDiscarded Kind = "user_input.utterance_discarded"
)

// UserSpeechStarted marks when an utterance starts accumulating.
type UserSpeechStarted struct{ Base }

// NewUserSpeechStarted creates a user speech started event.
func NewUserSpeechStarted() UserSpeechStarted {
	return UserSpeechStarted{Base: NewBase(KindUserSpeechStarted)}
}

// UserTranscriptSegment carries one accepted transcript fragment.
type UserTranscriptSegment struct {
	Base
	Segment string
}

// NewUserTranscriptSegment creates a transcript segment event.
func NewUserTranscriptSegment(segment string) UserTranscriptSegment {
	return UserTranscriptSegment{Base: NewBase(KindUserTranscriptSegment), Segment: segment}
}

// UserTranscriptSuppressed carries a fragment dropped while the assistant
// was speaking.
type UserTranscriptSuppressed struct {
	Base
	Segment string
}

// NewUserTranscriptSuppressed creates a suppressed transcript event.
func NewUserTranscriptSuppressed(segment string) UserTranscriptSuppressed {
	return UserTranscriptSuppressed{Base: NewBase(KindUserTranscriptSuppressed), Segment: segment}
}

// UtteranceFinalized carries a classified utterance.
type UtteranceFinalized struct {
	Base
	Text           string
	Classification string
	StopReason     string
}

// NewUtteranceFinalized creates an utterance finalized event.
func NewUtteranceFinalized(text, classification, stopReason string) UtteranceFinalized {
	return UtteranceFinalized{
		Base:           NewBase(KindUtteranceFinalized),
		Text:           text,
		Classification: classification,
		StopReason:     stopReason,
	}
}

// UtteranceDiscarded carries a candidate utterance that was too short.
type UtteranceDiscarded struct {
	Base
	Text string
}

// NewUtteranceDiscarded creates an utterance discarded event.
func NewUtteranceDiscarded(text string) UtteranceDiscarded {
	return UtteranceDiscarded{Base: NewBase(KindUtteranceDiscarded), Text: text}
}
