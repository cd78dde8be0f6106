package texttospeech

import (
	"context"

	"github.com/koscakluka/ema-demo/core/audio"
)

// AudioOutput plays synthesized audio.
type AudioOutput interface {
	SendAudio(audio []byte) error
	// AwaitMark blocks until everything sent so far has been played.
	AwaitMark(ctx context.Context) error
	// ClearBuffer drops audio that has not been played yet.
	ClearBuffer()
}

type RenderOptions struct {
	EncodingInfo audio.EncodingInfo
	// SpeechAudioCallback receives a copy of every audio chunk as it is
	// produced.
	SpeechAudioCallback func(audio []byte)
}

type RenderOption func(*RenderOptions)

func WithSpeechAudioCallback(callback func([]byte)) RenderOption {
	return func(o *RenderOptions) { o.SpeechAudioCallback = callback }
}

func WithEncodingInfo(encodingInfo audio.EncodingInfo) RenderOption {
	return func(o *RenderOptions) {
		if encodingInfo.IsZero() {
			return
		}
		o.EncodingInfo = encodingInfo
	}
}
