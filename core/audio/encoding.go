// Package audio describes the raw audio exchanged between local devices and
// the speech services.
package audio

import "time"

// DefaultSampleRate is what both audio backends open the devices with.
const DefaultSampleRate = 16000

// Format names a mono sample encoding.
type Format string

const (
	FormatLinear16 Format = "linear16"
	FormatALaw     Format = "alaw"
	FormatMulaw    Format = "mulaw"
)

func (f Format) Name() string { return string(f) }

// SampleSize is the number of bytes per sample, or 0 for unknown formats.
func (f Format) SampleSize() int {
	switch f {
	case FormatLinear16:
		return 2
	case FormatALaw, FormatMulaw:
		return 1
	}
	return 0
}

// EncodingInfo describes a stream of mono audio.
type EncodingInfo struct {
	SampleRate int
	Format     Format
}

func GetDefaultEncodingInfo() EncodingInfo {
	return EncodingInfo{SampleRate: DefaultSampleRate, Format: FormatLinear16}
}

func (e EncodingInfo) IsZero() bool {
	return e.SampleRate == 0 || e.Format == ""
}

// BytesFor is the size of d worth of audio.
func (e EncodingInfo) BytesFor(d time.Duration) int {
	return int(int64(e.SampleRate) * int64(e.Format.SampleSize()) * int64(d) / int64(time.Second))
}

// DurationOf is how long n bytes of audio play for.
func (e EncodingInfo) DurationOf(n int) time.Duration {
	perSecond := e.SampleRate * e.Format.SampleSize()
	if perSecond == 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(perSecond)
}

// Silence returns d worth of silent audio. Companded formats do not encode
// silence as zero.
func (e EncodingInfo) Silence(d time.Duration) []byte {
	chunk := make([]byte, e.BytesFor(d))
	var value byte
	switch e.Format {
	case FormatALaw:
		value = 0x55
	case FormatMulaw:
		value = 0xFF
	}
	if value != 0 {
		for i := range chunk {
			chunk[i] = value
		}
	}
	return chunk
}
