package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"google.golang.org/genai"
)

const DefaultModel = "gemini-2.5-flash"

var errMissingAPIKey = errors.New("missing Gemini API key")

// Client plans demo actions and answers questions with a Gemini vision
// model. It implements every planning role the orchestrator knows about.
type Client struct {
	client      *genai.Client
	model       string
	temperature float32
}

type clientOptions struct {
	apiKey      string
	model       string
	baseURL     string
	temperature float32
}

type ClientOption func(*clientOptions)

func WithAPIKey(apiKey string) ClientOption {
	return func(o *clientOptions) { o.apiKey = apiKey }
}

func WithModel(model string) ClientOption {
	return func(o *clientOptions) { o.model = model }
}

// WithBaseURL points the client at a different endpoint, mostly for tests
// and proxies.
func WithBaseURL(baseURL string) ClientOption {
	return func(o *clientOptions) { o.baseURL = baseURL }
}

func WithTemperature(temperature float32) ClientOption {
	return func(o *clientOptions) { o.temperature = temperature }
}

func NewClient(ctx context.Context, opts ...ClientOption) (*Client, error) {
	options := clientOptions{
		apiKey:      os.Getenv("GEMINI_API_KEY"),
		model:       DefaultModel,
		temperature: 0.2,
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.apiKey == "" {
		return nil, errMissingAPIKey
	}

	config := &genai.ClientConfig{
		APIKey:     options.apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
	if options.baseURL != "" {
		config.HTTPOptions = genai.HTTPOptions{BaseURL: options.baseURL}
	}

	client, err := genai.NewClient(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &Client{
		client:      client,
		model:       options.model,
		temperature: options.temperature,
	}, nil
}
