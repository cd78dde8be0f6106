package miniaudio

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/koscakluka/ema-demo/core/audio"
)

var (
	errDeviceNotInitialized = errors.New("device not initialized")
	errDeviceNotStarted     = errors.New("device not started")
)

type playbackClient struct {
	device *malgo.Device
	config malgo.DeviceConfig

	mu sync.Mutex

	// bufferMu guards pending and marks, which the device callback drains.
	bufferMu sync.Mutex
	pending  []byte
	marks    []playbackMark
}

type playbackMark struct {
	position int
	reached  chan struct{}
}

func (c *playbackClient) Init(audioContext *malgo.AllocatedContext) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.config = deviceConfig(malgo.Playback)
	c.config.PeriodSizeInFrames = audio.DefaultSampleRate / 10 // ~100ms of audio
	c.config.Periods = 4
	bytesPerFrame := frameSize(c.config.Playback.Format, c.config.Playback.Channels)

	device, err := malgo.InitDevice(audioContext.Context, c.config, malgo.DeviceCallbacks{
		Data: c.processAudio(bytesPerFrame),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize playback device: %w", err)
	}
	c.device = device
	return nil
}

func (c *playbackClient) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device == nil {
		return errDeviceNotInitialized
	}
	if err := c.device.Start(); err != nil {
		return fmt.Errorf("failed to start playback device: %w", err)
	}
	return nil
}

// SendAudio queues audio for playback.
func (c *playbackClient) SendAudio(audio []byte) error {
	c.mu.Lock()
	started := c.device != nil && c.device.IsStarted()
	initialized := c.device != nil
	c.mu.Unlock()
	if !initialized {
		return errDeviceNotInitialized
	} else if !started {
		return errDeviceNotStarted
	}

	c.bufferMu.Lock()
	defer c.bufferMu.Unlock()
	c.pending = append(c.pending, audio...)
	return nil
}

// ClearBuffer drops queued audio. Waiters on AwaitMark are released.
func (c *playbackClient) ClearBuffer() {
	c.bufferMu.Lock()
	defer c.bufferMu.Unlock()
	c.pending = nil
	for _, mark := range c.marks {
		close(mark.reached)
	}
	c.marks = nil
}

// AwaitMark blocks until everything queued so far has been played.
func (c *playbackClient) AwaitMark(ctx context.Context) error {
	c.bufferMu.Lock()
	if len(c.pending) == 0 {
		c.bufferMu.Unlock()
		return nil
	}
	mark := playbackMark{position: len(c.pending), reached: make(chan struct{})}
	c.marks = append(c.marks, mark)
	c.bufferMu.Unlock()

	select {
	case <-mark.reached:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *playbackClient) Uninit() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device == nil {
		return errDeviceNotInitialized
	}

	c.device.Uninit()
	c.device = nil
	c.ClearBuffer()
	return nil
}

func (c *playbackClient) processAudio(bytesPerFrame int) malgo.DataProc {
	return func(pOutput, _ []byte, frameCount uint32) {
		need := int(frameCount) * bytesPerFrame

		c.bufferMu.Lock()
		defer c.bufferMu.Unlock()

		n := copy(pOutput[:min(need, len(pOutput))], c.pending)
		clear(pOutput[n:])
		c.pending = c.pending[n:]
		c.advanceMarks(n)
	}
}

// advanceMarks moves marks forward by played bytes; caller holds bufferMu.
func (c *playbackClient) advanceMarks(played int) {
	kept := c.marks[:0]
	for _, mark := range c.marks {
		mark.position -= played
		if mark.position <= 0 {
			close(mark.reached)
			continue
		}
		kept = append(kept, mark)
	}
	c.marks = kept
}
