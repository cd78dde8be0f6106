package speechtotext

import "github.com/koscakluka/ema-demo/core/audio"

type TranscriptionOptions struct {
	PartialInterimTranscriptionCallback func(transcript string)
	InterimTranscriptionCallback        func(transcript string)
	PartialTranscriptionCallback        func(transcript string)
	TranscriptionCallback               func(transcript string)

	SpeechStartedCallback func()
	SpeechEndedCallback   func()

	// Suppressed reports whether the listener is currently hearing its own
	// output. While it returns true, speech activity and interim results are
	// not reported. Final transcripts are still delivered so the receiver can
	// mark them as seen.
	Suppressed func() bool

	EncodingInfo audio.EncodingInfo
}

func (o TranscriptionOptions) IsSuppressed() bool {
	return o.Suppressed != nil && o.Suppressed()
}

type TranscriptionOption func(*TranscriptionOptions)

func WithTranscriptionCallback(callback func(transcript string)) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		o.TranscriptionCallback = callback
	}
}

func WithPartialTranscriptionCallback(callback func(transcript string)) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		o.PartialTranscriptionCallback = callback
	}
}

func WithSpeechStartedCallback(callback func()) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		o.SpeechStartedCallback = callback
	}
}

func WithSpeechEndedCallback(callback func()) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		o.SpeechEndedCallback = callback
	}
}

func WithPartialInterimTranscriptionCallback(callback func(transcript string)) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		o.PartialInterimTranscriptionCallback = callback
	}
}

func WithInterimTranscriptionCallback(callback func(transcript string)) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		o.InterimTranscriptionCallback = callback
	}
}

func WithSuppression(suppressed func() bool) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		o.Suppressed = suppressed
	}
}

func WithEncodingInfo(encodingInfo audio.EncodingInfo) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		o.EncodingInfo = encodingInfo
	}
}
