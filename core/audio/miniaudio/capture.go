package miniaudio

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
	"github.com/koscakluka/ema-demo/core/audio"
)

type captureClient struct {
	device *malgo.Device
	config malgo.DeviceConfig

	onAudio atomic.Pointer[func(audio []byte)]

	mu sync.Mutex
}

func (c *captureClient) Init(audioContext *malgo.AllocatedContext) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.config = deviceConfig(malgo.Capture)
	c.config.PerformanceProfile = malgo.LowLatency
	// 30ms periods keep speech onset detection responsive.
	c.config.PeriodSizeInFrames = audio.DefaultSampleRate * 30 / 1000
	c.config.Periods = 3
	bytesPerFrame := frameSize(c.config.Capture.Format, c.config.Capture.Channels)

	device, err := malgo.InitDevice(audioContext.Context, c.config, malgo.DeviceCallbacks{
		Data: func(_, pInput []byte, frameCount uint32) {
			n := int(frameCount) * bytesPerFrame
			if len(pInput) < n || n == 0 {
				return
			}
			if onAudio := c.onAudio.Load(); onAudio != nil {
				// The device reuses its buffer after the callback returns.
				(*onAudio)(append([]byte(nil), pInput[:n]...))
			}
		},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize capture device: %w", err)
	}
	c.device = device
	return nil
}

func (c *captureClient) Start(onAudio func(audio []byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device == nil {
		return errDeviceNotInitialized
	}

	c.onAudio.Store(&onAudio)
	if c.device.IsStarted() {
		return nil
	}
	if err := c.device.Start(); err != nil {
		c.onAudio.Store(nil)
		return fmt.Errorf("failed to start capture device: %w", err)
	}
	return nil
}

func (c *captureClient) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device == nil {
		return errDeviceNotInitialized
	}

	c.onAudio.Store(nil)
	if !c.device.IsStarted() {
		return nil
	}
	if err := c.device.Stop(); err != nil {
		return fmt.Errorf("failed to stop capture device: %w", err)
	}
	return nil
}

func (c *captureClient) Uninit() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.onAudio.Store(nil)
	if c.device != nil {
		c.device.Uninit()
		c.device = nil
	}
	return nil
}
