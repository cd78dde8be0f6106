package deepgram

import (
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const defaultModel = "nova-3"

// TranscriptionClient streams captured audio to Deepgram's live listen API.
type TranscriptionClient struct {
	apiKey   string
	model    string
	language string

	conn   *websocket.Conn
	connMu sync.Mutex

	lastMsgTs             time.Time
	accumulatedTranscript string
	unendedSegment        bool
	stateMu               sync.Mutex
}

type ClientOption func(*TranscriptionClient)

// WithAPIKey overrides the DEEPGRAM_API_KEY environment variable.
func WithAPIKey(apiKey string) ClientOption {
	return func(c *TranscriptionClient) { c.apiKey = apiKey }
}

func WithModel(model string) ClientOption {
	return func(c *TranscriptionClient) { c.model = model }
}

func WithLanguage(language string) ClientOption {
	return func(c *TranscriptionClient) { c.language = language }
}

func NewTranscriptionClient(opts ...ClientOption) *TranscriptionClient {
	c := &TranscriptionClient{
		apiKey:   os.Getenv("DEEPGRAM_API_KEY"),
		model:    defaultModel,
		language: "en-US",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}
