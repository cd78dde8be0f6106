package miniaudio

import (
	"context"
	"fmt"

	"github.com/gen2brain/malgo"
	"github.com/koscakluka/ema-demo/core/audio"
)

// Client plays synthesized speech and captures the microphone through the
// local audio devices.
type Client struct {
	// audioContext is only kept so it can be released in Close.
	audioContext *malgo.AllocatedContext
	playbackClient
	captureClient
}

func NewClient() (*Client, error) {
	audioCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		logger.Debug("malgo", "message", message)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audio context: %w", err)
	}

	client := Client{audioContext: audioCtx}

	if err := client.playbackClient.Init(audioCtx); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to initialize playback client: %w", err)
	}
	if err := client.playbackClient.Start(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to start playback device: %w", err)
	}
	if err := client.captureClient.Init(audioCtx); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to initialize capture client: %w", err)
	}

	return &client, nil
}

func (c *Client) StartCapture(_ context.Context, onAudio func(audio []byte)) error {
	return c.captureClient.Start(onAudio)
}

func (c *Client) StopCapture() error {
	return c.captureClient.Stop()
}

func (c *Client) Close() {
	_ = c.captureClient.Uninit()
	_ = c.playbackClient.Uninit()
	if c.audioContext != nil {
		_ = c.audioContext.Uninit()
		c.audioContext.Free()
		c.audioContext = nil
	}
}

func (c *Client) EncodingInfo() audio.EncodingInfo {
	return audio.GetDefaultEncodingInfo()
}

// deviceConfig opens mono 16 bit devices at the default sample rate, the
// format the speech services exchange.
func deviceConfig(kind malgo.DeviceType) malgo.DeviceConfig {
	config := malgo.DefaultDeviceConfig(kind)
	config.SampleRate = audio.DefaultSampleRate
	config.Alsa.NoMMap = 1
	switch kind {
	case malgo.Capture:
		config.Capture.Format = malgo.FormatS16
		config.Capture.Channels = 1
	case malgo.Playback:
		config.Playback.Format = malgo.FormatS16
		config.Playback.Channels = 1
	}
	return config
}

func frameSize(format malgo.FormatType, channels uint32) int {
	return malgo.SampleSizeInBytes(format) * int(channels)
}
