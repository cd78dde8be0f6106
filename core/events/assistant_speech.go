package events

const (
	// KindAssistantSpeechStarted identifies the start of assistant speech.
	KindAssistantSpeechStarted Kind = "assistant_speech.started"
	// KindAssistantSpeechEnded identifies release of the output channel.
	KindAssistantSpeechEnded Kind = "assistant_speech.ended"
)

// AssistantSpeechStarted carries the text about to be rendered.
type AssistantSpeechStarted struct {
	Base
	Text string
}

// NewAssistantSpeechStarted creates an assistant speech started event.
func NewAssistantSpeechStarted(text string) AssistantSpeechStarted {
	return AssistantSpeechStarted{Base: NewBase(KindAssistantSpeechStarted), Text: text}
}

// AssistantSpeechEnded carries the text and how the speak call ended
// ("spoken", "cut_short", "failed").
type AssistantSpeechEnded struct {
	Base
	Text   string
	Result string
}

// NewAssistantSpeechEnded creates an assistant speech ended event.
func NewAssistantSpeechEnded(text, result string) AssistantSpeechEnded {
	return AssistantSpeechEnded{Base: NewBase(KindAssistantSpeechEnded), Text: text, Result: result}
}
