package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var errStreamClosed = errors.New("speak stream closed before flush")

type controlMessage struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

var (
	flushMsg = controlMessage{Type: "Flush"}
	clearMsg = controlMessage{Type: "Clear"}
	closeMsg = controlMessage{Type: "Close"}
)

// Render speaks text and returns once it has been played or ctx ends. On
// cancellation unplayed audio is dropped.
func (r *Renderer) Render(ctx context.Context, text string) (err error) {
	ctx, span := tracer.Start(ctx, "render speech", trace.WithAttributes(
		attribute.String("tts.voice", string(r.voice)),
		attribute.Int("tts.text_length", len(text)),
	))
	defer func() {
		if err != nil && !errors.Is(err, context.Canceled) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	conn, err := r.connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.WriteJSON(controlMessage{Type: "Speak", Text: text}); err != nil {
		return fmt.Errorf("failed to send text: %w", err)
	}
	if err := conn.WriteJSON(flushMsg); err != nil {
		return fmt.Errorf("failed to flush text: %w", err)
	}

	flushed := make(chan error, 1)
	var received int
	go r.receive(conn, flushed, &received)

	select {
	case err := <-flushed:
		if err != nil {
			return err
		}
		span.SetAttributes(attribute.Int64("tts.audio_ms", r.options.EncodingInfo.DurationOf(received).Milliseconds()))
	case <-ctx.Done():
		_ = conn.WriteJSON(clearMsg)
		r.output.ClearBuffer()
		return ctx.Err()
	}

	if err := conn.WriteJSON(closeMsg); err != nil {
		logger.Debug("Failed to close speak stream", "error", err)
	}
	if err := r.output.AwaitMark(ctx); err != nil {
		r.output.ClearBuffer()
		return fmt.Errorf("failed to await playback: %w", err)
	}
	return nil
}

func (r *Renderer) connect(ctx context.Context) (*websocket.Conn, error) {
	speakURL, err := url.Parse(r.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid speak url: %w", err)
	}
	query := speakURL.Query()
	query.Set("encoding", r.options.EncodingInfo.Format.Name())
	query.Set("sample_rate", strconv.Itoa(r.options.EncodingInfo.SampleRate))
	query.Set("model", string(r.voice))
	query.Set("container", "none")
	speakURL.RawQuery = query.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, speakURL.String(),
		http.Header{"Authorization": {"token " + r.apiKey}})
	if err != nil {
		return nil, fmt.Errorf("failed to open socket connection to deepgram: %w", err)
	}
	return conn, nil
}

// receive forwards audio to the output until the flush is confirmed.
// received is only safe to read once flushed has been signalled.
func (r *Renderer) receive(conn *websocket.Conn, flushed chan<- error, received *int) {
	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				err = errStreamClosed
			}
			flushed <- fmt.Errorf("failed to read speech: %w", err)
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			if r.options.SpeechAudioCallback != nil {
				r.options.SpeechAudioCallback(msg)
			}
			*received += len(msg)
			if err := r.output.SendAudio(msg); err != nil {
				flushed <- fmt.Errorf("failed to play speech: %w", err)
				return
			}
		case websocket.TextMessage:
			var parsed controlMessage
			if err := json.Unmarshal(msg, &parsed); err != nil {
				logger.Debug("Failed to unmarshal deepgram message", "error", err)
				continue
			}
			if parsed.Type == "Flushed" {
				flushed <- nil
				return
			}
		}
	}
}
