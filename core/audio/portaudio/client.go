package portaudio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/koscakluka/ema-demo/core/audio"
	"go.opentelemetry.io/contrib/bridges/otelslog"
)

const scopeName = "github.com/koscakluka/ema-demo/core/audio/portaudio"

var logger = otelslog.NewLogger(scopeName)

var errCaptureRunning = errors.New("capture already running")

// Client is a blocking duplex PortAudio stream. Playback writes are
// synchronous, so AwaitMark only has to flush the partial frame.
type Client struct {
	bufferSize int
	stream     *portaudio.Stream

	in  []int16
	out []int16

	writeMu sync.Mutex
	pending []byte

	captureMu     sync.Mutex
	captureCancel context.CancelFunc
	captureDone   chan struct{}
}

func NewClient(bufferSize int) (*Client, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize portaudio: %w", err)
	}

	in := make([]int16, bufferSize)
	out := make([]int16, bufferSize)
	stream, err := portaudio.OpenDefaultStream(1, 1, audio.DefaultSampleRate, bufferSize, in, out)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("failed to open portaudio stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("failed to start portaudio stream: %w", err)
	}

	return &Client{bufferSize: bufferSize, stream: stream, in: in, out: out}, nil
}

func (c *Client) StartCapture(ctx context.Context, onAudio func(audio []byte)) error {
	c.captureMu.Lock()
	defer c.captureMu.Unlock()
	if c.captureCancel != nil {
		return errCaptureRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.captureCancel, c.captureDone = cancel, done

	go func() {
		defer close(done)
		frame := make([]byte, 2*c.bufferSize)
		for ctx.Err() == nil {
			if err := c.stream.Read(); err != nil {
				logger.Warn("Failed to read from portaudio stream", "error", err)
				continue
			}
			for i, sample := range c.in {
				binary.LittleEndian.PutUint16(frame[2*i:], uint16(sample))
			}
			onAudio(append([]byte(nil), frame...))
		}
	}()
	return nil
}

func (c *Client) StopCapture() error {
	c.captureMu.Lock()
	cancel, done := c.captureCancel, c.captureDone
	c.captureCancel, c.captureDone = nil, nil
	c.captureMu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

// SendAudio plays whole frames immediately and keeps the remainder for the
// next call.
func (c *Client) SendAudio(audio []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.pending = append(c.pending, audio...)
	frameBytes := 2 * c.bufferSize
	for len(c.pending) >= frameBytes {
		if err := c.writeFrame(c.pending[:frameBytes]); err != nil {
			return err
		}
		c.pending = c.pending[frameBytes:]
	}
	return nil
}

func (c *Client) ClearBuffer() {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.pending = nil
}

// AwaitMark pads and plays the partial frame left over from SendAudio.
func (c *Client) AwaitMark(ctx context.Context) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if len(c.pending) == 0 || ctx.Err() != nil {
		c.pending = nil
		return ctx.Err()
	}
	frame := make([]byte, 2*c.bufferSize)
	copy(frame, c.pending)
	c.pending = nil
	return c.writeFrame(frame)
}

// writeFrame expects exactly one frame; caller holds writeMu.
func (c *Client) writeFrame(frame []byte) error {
	for i := range c.out {
		c.out[i] = int16(binary.LittleEndian.Uint16(frame[2*i:]))
	}
	if err := c.stream.Write(); err != nil {
		return fmt.Errorf("failed to write to portaudio stream: %w", err)
	}
	return nil
}

func (c *Client) Close() {
	_ = c.StopCapture()
	_ = c.stream.Stop()
	_ = c.stream.Close()
	_ = portaudio.Terminate()
}

func (c *Client) EncodingInfo() audio.EncodingInfo {
	return audio.GetDefaultEncodingInfo()
}
