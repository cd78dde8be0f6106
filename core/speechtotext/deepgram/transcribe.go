package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	api "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/websocket/interfaces"
	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-demo/core/audio"
	"github.com/koscakluka/ema-demo/core/speechtotext"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var (
	errMissingAPIKey = errors.New("deepgram api key not found")
	errNotConnected  = errors.New("deepgram stream is not open")
)

type callbacks struct {
	partialInterimTranscriptionCallback func(string)
	interimTranscriptionCallback        func(string)
	partialTranscriptionCallback        func(string)
	transcriptionCallback               func(string)
	startSpeechCallback                 func()
	endSpeechCallback                   func()
	suppressed                          func() bool
}

type wsConfig struct {
	shouldDetectSpeechStart            bool
	shouldEnhanceSpeechEndingDetection bool
	shouldRequestInterimResults        bool
}

// newCallbackConfig fills unset callbacks with no-ops and derives which
// optional stream features have to be requested.
func newCallbackConfig(options speechtotext.TranscriptionOptions) (callbacks, wsConfig) {
	config := wsConfig{
		shouldDetectSpeechStart: options.SpeechStartedCallback != nil,
		shouldEnhanceSpeechEndingDetection: options.TranscriptionCallback != nil ||
			options.SpeechEndedCallback != nil,
		shouldRequestInterimResults: options.InterimTranscriptionCallback != nil ||
			options.PartialInterimTranscriptionCallback != nil,
	}

	orNoop := func(callback func(string)) func(string) {
		if callback == nil {
			return func(string) {}
		}
		return callback
	}
	orNoopSignal := func(callback func()) func() {
		if callback == nil {
			return func() {}
		}
		return callback
	}

	return callbacks{
		partialInterimTranscriptionCallback: orNoop(options.PartialInterimTranscriptionCallback),
		interimTranscriptionCallback:        orNoop(options.InterimTranscriptionCallback),
		partialTranscriptionCallback:        orNoop(options.PartialTranscriptionCallback),
		transcriptionCallback:               orNoop(options.TranscriptionCallback),
		startSpeechCallback:                 orNoopSignal(options.SpeechStartedCallback),
		endSpeechCallback:                   orNoopSignal(options.SpeechEndedCallback),
		suppressed:                          options.IsSuppressed,
	}, config
}

func (s *TranscriptionClient) Transcribe(ctx context.Context, opts ...speechtotext.TranscriptionOption) error {
	_, span := tracer.Start(ctx, "open transcription stream")
	defer span.End()

	options := speechtotext.TranscriptionOptions{EncodingInfo: audio.GetDefaultEncodingInfo()}
	for _, opt := range opts {
		opt(&options)
	}
	if options.EncodingInfo.IsZero() {
		options.EncodingInfo = audio.GetDefaultEncodingInfo()
	}

	encoding, err := convertEncoding(options.EncodingInfo)
	if err != nil {
		err = fmt.Errorf("invalid encoding: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetAttributes(
		attribute.String("stt.encoding", encoding.Format.Name()),
		attribute.Int("stt.sample_rate", encoding.SampleRate),
	)

	callbacks, config := newCallbackConfig(options)
	conn, err := s.connectWebsocket(ctx, encoding, config)
	if err != nil {
		err = fmt.Errorf("failed to open websocket: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	s.connMu.Lock()
	s.conn = conn
	s.lastMsgTs = time.Now()
	s.connMu.Unlock()

	go s.readAndProcessMessages(ctx, conn, callbacks, options.EncodingInfo)
	return nil
}

func (s *TranscriptionClient) connectWebsocket(ctx context.Context, encoding *encodingInfo, config wsConfig) (*websocket.Conn, error) {
	if s.apiKey == "" {
		return nil, errMissingAPIKey
	}

	queryParams := url.Values{}
	queryParams.Set("encoding", encoding.Format.Name())
	queryParams.Set("sample_rate", strconv.Itoa(encoding.SampleRate))
	queryParams.Set("channels", "1")
	queryParams.Set("model", s.model)
	queryParams.Set("language", s.language)
	queryParams.Set("smart_format", "true")
	if config.shouldEnhanceSpeechEndingDetection {
		queryParams.Set("utterance_end_ms", "1000")
		queryParams.Set("interim_results", "true")
	} else if config.shouldRequestInterimResults {
		queryParams.Set("interim_results", "true")
	}
	queryParams.Set("endpointing", "300")
	if config.shouldDetectSpeechStart || config.shouldEnhanceSpeechEndingDetection {
		queryParams.Set("vad_events", "true")
	}

	listenURL := url.URL{Scheme: "wss", Host: "api.deepgram.com", Path: "/v1/listen", RawQuery: queryParams.Encode()}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, listenURL.String(),
		http.Header{"Authorization": {"Token " + s.apiKey}})
	if err != nil {
		return nil, fmt.Errorf("failed to open socket connection to deepgram: %w", err)
	}

	return conn, nil
}

func (s *TranscriptionClient) sendKeepAlive() {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.conn == nil {
		return
	}
	if err := s.conn.WriteJSON(struct {
		Type string `json:"type"`
	}{Type: "KeepAlive"}); err != nil {
		logger.Warn("Failed to write keep alive to deepgram", "error", err)
	}
}

func (s *TranscriptionClient) SendAudio(audio []byte) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.conn == nil {
		return errNotConnected
	}
	s.lastMsgTs = time.Now()
	if err := s.conn.WriteMessage(websocket.BinaryMessage, audio); err != nil {
		return fmt.Errorf("failed to write to deepgram client: %w", err)
	}
	return nil
}

func (s *TranscriptionClient) sendSilence(audio []byte) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.conn == nil {
		return errNotConnected
	}
	if err := s.conn.WriteMessage(websocket.BinaryMessage, audio); err != nil {
		return fmt.Errorf("failed to write to deepgram client: %w", err)
	}
	return nil
}

func (s *TranscriptionClient) StopStream() error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.conn != nil {
		if err := s.conn.WriteJSON(struct {
			Type string `json:"type"`
		}{Type: string(api.TypeCloseStreamResponse)}); err != nil {
			return fmt.Errorf("failed to close deepgram stream: %w", err)
		}
	}
	return nil
}

func (s *TranscriptionClient) sinceLastAudio() time.Duration {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return time.Since(s.lastMsgTs)
}

func (s *TranscriptionClient) readAndProcessMessages(ctx context.Context, conn *websocket.Conn, callbacks callbacks, encoding audio.EncodingInfo) {
	silenceCtx, silenceCancel := context.WithCancel(ctx)
	defer silenceCancel()

	go s.generateSilence(silenceCtx, encoding)
	closeOnDone := make(chan struct{})
	defer close(closeOnDone)
	go func() {
		select {
		case <-ctx.Done():
			_ = s.StopStream()
			_ = conn.Close()
		case <-closeOnDone:
		}
	}()

	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) && ctx.Err() == nil {
				logger.Error("Failed to read deepgram websocket message", "error", err)
			}

			s.connMu.Lock()
			s.conn = nil
			s.connMu.Unlock()
			_ = conn.Close()
			return
		}
		if msgType != websocket.BinaryMessage {
			s.processMessage(msg, callbacks)
		}
	}
}

// processMessage runs on the reader goroutine so transcripts are delivered in
// the order Deepgram finalized them.
func (s *TranscriptionClient) processMessage(msg []byte, callbacks callbacks) {
	var parsedMsg struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(msg, &parsedMsg); err != nil {
		logger.Warn("Failed to unmarshal deepgram message", "error", err)
		return
	}

	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	switch api.TypeResponse(parsedMsg.Type) {
	case api.TypeMessageResponse:
		var msgResp api.MessageResponse
		if err := json.Unmarshal(msg, &msgResp); err != nil {
			logger.Warn("Failed to unmarshal deepgram transcript", "error", err)
			return
		}
		transcript := ""
		if len(msgResp.Channel.Alternatives) > 0 {
			transcript = strings.TrimSpace(msgResp.Channel.Alternatives[0].Transcript)
		}

		if msgResp.IsFinal {
			if transcript != "" {
				s.accumulatedTranscript += " " + transcript
				callbacks.partialTranscriptionCallback(transcript)
			}
			if msgResp.SpeechFinal {
				s.onSpeechEnded(callbacks)
			}
			return
		}
		if transcript != "" && !callbacks.suppressed() {
			callbacks.partialInterimTranscriptionCallback(transcript)
			callbacks.interimTranscriptionCallback(strings.TrimSpace(s.accumulatedTranscript + " " + transcript))
		}

	case api.TypeUtteranceEndResponse:
		if s.unendedSegment {
			s.onSpeechEnded(callbacks)
		}

	case api.TypeSpeechStartedResponse:
		s.unendedSegment = true
		if !callbacks.suppressed() {
			callbacks.startSpeechCallback()
		}
	}
}

func (s *TranscriptionClient) onSpeechEnded(callbacks callbacks) {
	s.unendedSegment = false
	fullTranscript := strings.TrimSpace(s.accumulatedTranscript)
	s.accumulatedTranscript = ""
	if fullTranscript != "" {
		callbacks.transcriptionCallback(fullTranscript)
	}
	callbacks.endSpeechCallback()
}

// generateSilence keeps the stream alive while no audio is being sent: short
// gaps are filled with silence, longer ones with keep alive messages.
func (s *TranscriptionClient) generateSilence(ctx context.Context, encoding audio.EncodingInfo) {
	type silenceGeneratorState string
	const (
		silenceGeneratorStateWaiting   silenceGeneratorState = "waiting"
		silenceGeneratorStateSilence   silenceGeneratorState = "silence"
		silenceGeneratorStateKeepAlive silenceGeneratorState = "keepAlive"
	)

	const chunkDuration = 50 * time.Millisecond
	ticker := time.NewTicker(chunkDuration)
	defer ticker.Stop()

	chunk := encoding.Silence(chunkDuration)

	state := silenceGeneratorStateWaiting
	var firstSilenceTime, lastKeepAliveTime time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			idle := s.sinceLastAudio()
			switch state {
			case silenceGeneratorStateWaiting:
				if idle > chunkDuration {
					state = silenceGeneratorStateSilence
					firstSilenceTime = time.Now()
				}

			case silenceGeneratorStateSilence:
				if idle < chunkDuration {
					state = silenceGeneratorStateWaiting
					continue
				}
				if time.Since(firstSilenceTime) >= time.Second {
					state = silenceGeneratorStateKeepAlive
					lastKeepAliveTime = time.Now()
					continue
				}
				if err := s.sendSilence(chunk); err != nil {
					logger.Debug("Failed to send silence", "error", err)
				}

			case silenceGeneratorStateKeepAlive:
				if idle < chunkDuration {
					state = silenceGeneratorStateWaiting
					continue
				}
				if time.Since(lastKeepAliveTime) >= 5*time.Second {
					lastKeepAliveTime = time.Now()
					s.sendKeepAlive()
				}
			}
		}
	}
}
