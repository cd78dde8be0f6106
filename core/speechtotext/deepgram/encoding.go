package deepgram

import (
	"errors"
	"fmt"

	"github.com/koscakluka/ema-demo/core/audio"
)

var errUnsupportedEncoding = errors.New("unsupported encoding")

type encodingInfo struct {
	SampleRate int
	Format     encodingFormat
}

type encodingFormat string

func (e encodingFormat) Name() string { return string(e) }

const (
	encodingLinear16 encodingFormat = "linear16"
	encodingALaw     encodingFormat = "alaw"
	encodingMulaw    encodingFormat = "mulaw"
)

func convertEncoding(encoding audio.EncodingInfo) (*encodingInfo, error) {
	converted := encodingInfo{}
	switch encoding.SampleRate {
	case 8000, 16000, 24000, 32000, 48000:
		converted.SampleRate = encoding.SampleRate
	default:
		return nil, fmt.Errorf("%w: sample rate %d", errUnsupportedEncoding, encoding.SampleRate)
	}

	switch encoding.Format {
	case audio.FormatLinear16:
		converted.Format = encodingLinear16
	case audio.FormatALaw:
		converted.Format = encodingALaw
	case audio.FormatMulaw:
		converted.Format = encodingMulaw
	default:
		return nil, fmt.Errorf("%w: format %q", errUnsupportedEncoding, encoding.Format.Name())
	}

	// Companded formats are telephony only.
	if converted.Format != encodingLinear16 && converted.SampleRate != 8000 {
		return nil, fmt.Errorf("%w: %s requires 8000 Hz", errUnsupportedEncoding, converted.Format)
	}

	return &converted, nil
}
