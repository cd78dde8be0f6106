package groq

import (
	"context"
	"errors"
	"fmt"

	"github.com/koscakluka/ema-demo/core/planning"
	"github.com/koscakluka/ema-demo/core/surface"
)

var errEmptyResponse = errors.New("model returned an empty response")

const jsonInstructions = "Reply with a single JSON object that matches the requested schema."

func (c *Client) PlanNext(ctx context.Context, req planning.Request) (planning.Plan, error) {
	prompt, err := req.Prompt()
	if err != nil {
		return planning.Plan{}, err
	}

	content, err := c.complete(ctx, "plan next", toMessages(jsonInstructions, prompt, req.Observation), planning.RawPlan{})
	if err != nil {
		return planning.Plan{}, err
	}

	plan, err := planning.DecodePlan([]byte(content))
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

	content, err := c.complete(ctx, "plan command", toMessages(jsonInstructions, prompt, req.Observation), planning.RawCommandPlan{})
	if err != nil {
		return planning.CommandPlan{}, err
	}

	plan, err := planning.DecodeCommandPlan([]byte(content))
	if err != nil {
		return planning.CommandPlan{}, fmt.Errorf("failed to decode command plan: %w", err)
	}
	return plan, nil
}

func (c *Client) Answer(ctx context.Context, req planning.QuestionRequest) (string, error) {
	prompt, err := req.Prompt()
	if err != nil {
		return "", err
	}
	return c.text(ctx, "answer question", prompt, req.Observation)
}

func (c *Client) BuildKnowledge(ctx context.Context, observation surface.Observation, location string) (string, error) {
	prompt, err := planning.KnowledgePrompt(location)
	if err != nil {
		return "", err
	}
	return c.text(ctx, "build knowledge", prompt, observation)
}

func (c *Client) text(ctx context.Context, name, prompt string, observation surface.Observation) (string, error) {
	content, err := c.complete(ctx, name, toMessages("", prompt, observation), nil)
	if err != nil {
		return "", err
	}
	if content == "" {
		return "", errEmptyResponse
	}
	return content, nil
}
