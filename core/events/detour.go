package events

const (
	KindDetourStarted  Kind = "detour.started"
	KindDetourFinished Kind = "detour.finished"
)

type DetourStarted struct {
	Base
	Classification string
	Text           string
}

func NewDetourStarted(classification, text string) DetourStarted {
	return DetourStarted{Base: NewBase(KindDetourStarted), Classification: classification, Text: text}
}

// DetourFinished carries a short description of how the detour ended, e.g.
// "answered" or "navigated".
type DetourFinished struct {
	Base
	Classification string
	Result         string
}

func NewDetourFinished(classification, result string) DetourFinished {
	return DetourFinished{Base: NewBase(KindDetourFinished), Classification: classification, Result: result}
}
