package utterances

import (
	"strings"
	"unicode"
)

type Kind string

const (
	KindQuestion        Kind = "question"
	KindCommand         Kind = "command"
	KindResumeControl   Kind = "resume_control"
	KindStopControl     Kind = "stop_control"
	KindAcknowledgement Kind = "acknowledgement"
	KindIgnored         Kind = "ignored"
)

func (k Kind) String() string { return string(k) }

// IsControl reports whether the kind steers the session itself rather than
// asking something of it.
func (k Kind) IsControl() bool {
	return k == KindResumeControl || k == KindStopControl
}

// IsDetour reports whether the kind pauses the demo to be handled.
func (k Kind) IsDetour() bool {
	return k == KindQuestion || k == KindCommand
}

type StopReason string

const (
	StopReasonNone     StopReason = ""
	StopReasonEndDemo  StopReason = "end_demo"
	StopReasonGoodbye  StopReason = "goodbye"
	StopReasonExternal StopReason = "external"
)

type Classification struct {
	Kind       Kind
	StopReason StopReason
}

var (
	endDemoPhrases = []string{"stop demo", "end demo"}
	goodbyeWords   = []string{"bye", "goodbye"}

	commandWords   = []string{"click", "back", "fill", "type", "enter", "navigate", "scroll", "press", "select", "open", "close", "find", "search", "previous", "button"}
	commandPhrases = []string{"go back", "go to"}

	questionWords   = []string{"what", "why", "how", "when", "who", "which", "where", "can", "could", "would", "is", "are", "do", "does"}
	questionPhrases = []string{"can you", "could you", "would you", "tell me", "show me", "explain", "is this", "are you", "do you", "i wonder", "please"}
)

// Classify maps finalized utterance text onto exactly one kind. Rules are
// evaluated in order and the first match wins.
func Classify(text string) Classification {
	normalized := Normalize(text)
	words := Words(normalized)

	switch {
	case containsAnyPhrase(normalized, endDemoPhrases):
		return Classification{Kind: KindStopControl, StopReason: StopReasonEndDemo}
	case containsAnyWord(words, goodbyeWords):
		return Classification{Kind: KindStopControl, StopReason: StopReasonGoodbye}
	case containsAnyWord(words, []string{"resume"}):
		return Classification{Kind: KindResumeControl}
	case containsWordWithPrefix(words, "thank"):
		return Classification{Kind: KindAcknowledgement}
	case containsAnyWord(words, commandWords) || containsAnyPhrase(normalized, commandPhrases):
		return Classification{Kind: KindCommand}
	case isQuestion(normalized, words):
		return Classification{Kind: KindQuestion}
	}

	return Classification{Kind: KindIgnored}
}

func isQuestion(normalized string, words []string) bool {
	if strings.Contains(normalized, "?") {
		return true
	}
	if len(words) > 0 && containsAnyWord(words[:1], questionWords) {
		return true
	}
	// Words like "is" are too common to count anywhere in the sentence, so
	// past the first word only the interrogative pronouns qualify.
	if containsAnyWord(words, questionWords[:7]) {
		return true
	}
	return containsAnyPhrase(normalized, questionPhrases)
}

// Normalize lower-cases the text and collapses surrounding whitespace.
func Normalize(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// Words splits text into lower-case words with surrounding punctuation
// stripped.
func Words(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	words := make([]string, 0, len(fields))
	for _, field := range fields {
		word := strings.TrimFunc(field, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
		})
		if word != "" {
			words = append(words, word)
		}
	}
	return words
}

func WordCount(text string) int {
	return len(Words(text))
}

func containsAnyWord(words []string, candidates []string) bool {
	for _, word := range words {
		for _, candidate := range candidates {
			if word == candidate {
				return true
			}
		}
	}
	return false
}

func containsWordWithPrefix(words []string, prefix string) bool {
	for _, word := range words {
		if strings.HasPrefix(word, prefix) {
			return true
		}
	}
	return false
}

func containsAnyPhrase(text string, phrases []string) bool {
	padded := " " + strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'' {
			return r
		}
		return ' '
	}, text) + " "
	padded = " " + strings.Join(strings.Fields(padded), " ") + " "
	for _, phrase := range phrases {
		if strings.Contains(padded, " "+phrase+" ") {
			return true
		}
	}
	return false
}
