package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/koscakluka/ema-demo/core/planning"
	"github.com/koscakluka/ema-demo/core/surface"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/genai"
)

var errEmptyResponse = errors.New("model returned an empty response")

func (c *Client) PlanNext(ctx context.Context, req planning.Request) (planning.Plan, error) {
	prompt, err := req.Prompt()
	if err != nil {
		return planning.Plan{}, err
	}

	text, err := c.generate(ctx, "plan next", prompt, req.Observation, planning.RawPlan{})
	if err != nil {
		return planning.Plan{}, err
	}

	plan, err := planning.DecodePlan([]byte(text))
	if err != nil {
		return planning.Plan{}, fmt.Errorf("failed to decode plan: %w", err)
	}
	if plan.Rejected > 0 {
		logger.Warn("Dropped invalid planned actions", "rejected", plan.Rejected)
	}
	return plan, nil
}

func (c *Client) PlanCommand(ctx context.Context, req planning.CommandRequest) (planning.CommandPlan, error) {
	prompt, err := req.Prompt()
	if err != nil {
		return planning.CommandPlan{}, err
	}

	text, err := c.generate(ctx, "plan command", prompt, req.Observation, planning.RawCommandPlan{})
	if err != nil {
		return planning.CommandPlan{}, err
	}

	plan, err := planning.DecodeCommandPlan([]byte(text))
	if err != nil {
		return planning.CommandPlan{}, fmt.Errorf("failed to decode command plan: %w", err)
	}
	return plan, nil
}

// Answer answers a viewer's question in a few spoken sentences.
func (c *Client) Answer(ctx context.Context, req planning.QuestionRequest) (string, error) {
	prompt, err := req.Prompt()
	if err != nil {
		return "", err
	}
	return c.generate(ctx, "answer question", prompt, req.Observation, nil)
}

func (c *Client) BuildKnowledge(ctx context.Context, observation surface.Observation, location string) (string, error) {
	prompt, err := planning.KnowledgePrompt(location)
	if err != nil {
		return "", err
	}
	return c.generate(ctx, "build knowledge", prompt, observation, nil)
}

// generate sends the prompt together with the screenshot. With a schema the
// model is asked for JSON matching it, otherwise for plain text.
func (c *Client) generate(ctx context.Context, name, prompt string, observation surface.Observation, schema any) (string, error) {
	ctx, span := tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("request.model", c.model),
		attribute.Bool("request.structured", schema != nil),
	))
	defer span.End()

	parts := []*genai.Part{genai.NewPartFromText(prompt)}
	if !observation.IsZero() {
		mimeType := observation.MIMEType
		if mimeType == "" {
			mimeType = "image/png"
		}
		parts = append(parts, genai.NewPartFromBytes(observation.Image, mimeType))
	}

	config := &genai.GenerateContentConfig{Temperature: genai.Ptr(c.temperature)}
	if schema != nil {
		config.ResponseMIMEType = "application/json"
		config.ResponseJsonSchema = planning.Schema(schema)
	}

	response, err := c.client.Models.GenerateContent(ctx, c.model,
		[]*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}, config)
	if err != nil {
		err = fmt.Errorf("failed to generate content: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	text := strings.TrimSpace(response.Text())
	if text == "" {
		span.RecordError(errEmptyResponse)
		span.SetStatus(codes.Error, errEmptyResponse.Error())
		return "", errEmptyResponse
	}
	if usage := response.UsageMetadata; usage != nil {
		span.SetAttributes(
			attribute.Int("response.prompt_tokens", int(usage.PromptTokenCount)),
			attribute.Int("response.total_tokens", int(usage.TotalTokenCount)),
		)
	}
	return text, nil
}
