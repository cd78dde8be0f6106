package groq

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/cenkalti/backoff/v5"
	"github.com/invopop/jsonschema"
	"github.com/koscakluka/ema-demo/core/planning"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const maxAttempts = 3

// complete sends one chat completion. With a schema the reply is constrained
// to JSON matching it. Overloaded and rate limited responses are retried.
func (c *Client) complete(ctx context.Context, name string, messages []message, schema any) (string, error) {
	ctx, span := tracer.Start(ctx, name, trace.WithAttributes(attribute.String("request.model", c.model)))
	defer span.End()

	reqBody := schemaRequestBody{
		Model:       c.model,
		Messages:    messages,
		Temperature: 0.2,
	}
	if schema != nil {
		reflected := planning.Schema(schema)
		reqBody.ResponseFormat = &chatResponseFormat{
			Type: "json_schema",
			JSONSchema: &jsonSchema{
				Name:   planning.SchemaName(schema),
				Schema: *reflected,
			},
		}
		schemaString, _ := reflected.MarshalJSON()
		span.SetAttributes(attribute.String("request.schema", string(schemaString)))
	}

	requestBodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fail(span, fmt.Errorf("error marshalling JSON: %w", err))
	}

	attempt := 0
	content, err := backoff.Retry(ctx, func() (string, error) {
		attempt++
		return c.send(ctx, span, requestBodyBytes)
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(maxAttempts))
	span.SetAttributes(attribute.Int("request.attempts", attempt))
	if err != nil {
		return "", fail(span, err)
	}
	return strings.TrimSpace(content), nil
}

func (c *Client) send(ctx context.Context, span trace.Span, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("error creating HTTP request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", backoff.Permanent(fmt.Errorf("error sending request: %w", err))
		}
		return "", fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("response.status_code", resp.StatusCode))
	if resp.StatusCode != http.StatusOK {
		if errorBody, err := io.ReadAll(resp.Body); err == nil {
			span.SetAttributes(attribute.String("response.error", string(errorBody)))
		}
		err := fmt.Errorf("non-OK HTTP status: %s", resp.Status)
		switch resp.StatusCode {
		case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusServiceUnavailable:
			logger.Warn("Groq request failed, retrying", "status", resp.StatusCode)
			return "", err
		}
		return "", backoff.Permanent(err)
	}

	var responseBody schemaResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&responseBody); err != nil {
		return "", backoff.Permanent(fmt.Errorf("error unmarshalling response: %w", err))
	}
	if len(responseBody.Choices) == 0 {
		return "", backoff.Permanent(fmt.Errorf("response has no choices"))
	}
	if usage := responseBody.Usage; usage != nil {
		span.SetAttributes(
			attribute.Int("response.prompt_tokens", usage.PromptTokens),
			attribute.Int("response.completion_tokens", usage.CompletionTokens),
		)
	}
	return responseBody.Choices[0].Message.Content, nil
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

type schemaRequestBody struct {
	Model          string              `json:"model"`
	Messages       []message           `json:"messages"`
	Temperature    float32             `json:"temperature"`
	ResponseFormat *chatResponseFormat `json:"response_format,omitempty"`
}

type chatResponseFormat struct {
	Type       string      `json:"type"`
	JSONSchema *jsonSchema `json:"json_schema,omitempty"`
}

type jsonSchema struct {
	// Name identifies the schema in the response.
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Schema      jsonschema.Schema `json:"schema"`
	Strict      bool              `json:"strict"`
}

type schemaResponseBody struct {
	Choices []struct {
		Message struct {
			Role         string  `json:"role,omitempty"`
			Content      string  `json:"content,omitempty"`
			FinishReason *string `json:"finish_reason,omitempty"`
		} `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int     `json:"prompt_tokens"`
		CompletionTokens int     `json:"completion_tokens"`
		TotalTokens      int     `json:"total_tokens"`
		TotalTime        float64 `json:"total_time"`
	} `json:"usage"`
}
