package groq

import (
	"errors"
	"net/http"
	"os"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	defaultURL = "https://api.groq.com/openai/v1/chat/completions"
	// DefaultModel is a Groq hosted model that accepts images.
	DefaultModel = "meta-llama/llama-4-scout-17b-16e-instruct"
)

var errMissingAPIKey = errors.New("missing Groq API key")

// Client plans demo actions through Groq's OpenAI compatible chat API.
type Client struct {
	apiKey string
	model  string
	url    string
	client *http.Client
}

type ClientOption func(*Client)

func WithAPIKey(apiKey string) ClientOption {
	return func(c *Client) { c.apiKey = apiKey }
}

func WithModel(model string) ClientOption {
	return func(c *Client) { c.model = model }
}

func WithURL(url string) ClientOption {
	return func(c *Client) { c.url = url }
}

func NewClient(opts ...ClientOption) (*Client, error) {
	client := &Client{
		apiKey: os.Getenv("GROQ_API_KEY"),
		model:  DefaultModel,
		url:    defaultURL,
		client: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.apiKey == "" {
		return nil, errMissingAPIKey
	}
	return client, nil
}
