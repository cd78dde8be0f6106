package deepgram

import (
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/koscakluka/ema-demo/core/audio"
	"github.com/koscakluka/ema-demo/core/texttospeech"
)

type Voice string

const (
	VoiceThalia    Voice = "aura-2-thalia-en"
	VoiceAndromeda Voice = "aura-2-andromeda-en"
	VoiceHelena    Voice = "aura-2-helena-en"
	VoiceApollo    Voice = "aura-2-apollo-en"
	VoiceArcas     Voice = "aura-2-arcas-en"
	VoiceAsteria   Voice = "aura-asteria-en"

	defaultVoice = VoiceThalia
)

var (
	ErrInvalidVoice  = errors.New("invalid voice")
	errMissingAPIKey = errors.New("deepgram api key not found")
)

func GetAvailableVoices() []Voice {
	return []Voice{VoiceThalia, VoiceAndromeda, VoiceHelena, VoiceApollo, VoiceArcas, VoiceAsteria}
}

// Renderer speaks text through Deepgram's streaming speak API, one
// connection per utterance.
type Renderer struct {
	output  texttospeech.AudioOutput
	options texttospeech.RenderOptions

	apiKey  string
	voice   Voice
	baseURL string
}

type RendererOption func(*Renderer)

func WithVoice(voice Voice) RendererOption {
	return func(r *Renderer) { r.voice = voice }
}

// WithAPIKey overrides the DEEPGRAM_API_KEY environment variable.
func WithAPIKey(apiKey string) RendererOption {
	return func(r *Renderer) { r.apiKey = apiKey }
}

// WithBaseURL points the renderer at a different speak endpoint.
func WithBaseURL(baseURL string) RendererOption {
	return func(r *Renderer) { r.baseURL = baseURL }
}

func WithRenderOptions(opts ...texttospeech.RenderOption) RendererOption {
	return func(r *Renderer) {
		for _, opt := range opts {
			opt(&r.options)
		}
	}
}

func NewRenderer(output texttospeech.AudioOutput, opts ...RendererOption) (*Renderer, error) {
	r := &Renderer{
		output:  output,
		options: texttospeech.RenderOptions{EncodingInfo: audio.GetDefaultEncodingInfo()},
		apiKey:  os.Getenv("DEEPGRAM_API_KEY"),
		voice:   defaultVoice,
		baseURL: "wss://api.deepgram.com/v1/speak",
	}
	for _, opt := range opts {
		opt(r)
	}

	if !slices.Contains(GetAvailableVoices(), r.voice) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidVoice, r.voice)
	}
	if r.apiKey == "" {
		return nil, errMissingAPIKey
	}
	return r, nil
}
