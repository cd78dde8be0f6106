package planning

import (
	_ "embed"
	"fmt"
	"strings"
	"text/template"
)

//go:embed prompts/autonomous.tmpl
var autonomousPromptText string

//go:embed prompts/command.tmpl
var commandPromptText string

//go:embed prompts/question.tmpl
var questionPromptText string

//go:embed prompts/knowledge.tmpl
var knowledgePromptText string

var (
	autonomousPrompt = template.Must(template.New("autonomous").Parse(autonomousPromptText))
	commandPrompt    = template.Must(template.New("command").Parse(commandPromptText))
	questionPrompt   = template.Must(template.New("question").Parse(questionPromptText))
	knowledgePrompt  = template.Must(template.New("knowledge").Parse(knowledgePromptText))
)

// PromptMemoryLimit bounds how much of the rolling memory reaches a prompt.
const PromptMemoryLimit = 2000

func (r Request) Prompt() (string, error) {
	memory := r.Memory
	if len(memory) > PromptMemoryLimit {
		memory = trimFront(memory, PromptMemoryLimit)
	}

	return render(autonomousPrompt, map[string]any{
		"Goal":           r.Goal,
		"Location":       r.Observation.Location,
		"Knowledge":      r.Knowledge,
		"HasCredentials": !r.Credentials.IsZero(),
		"Memory":         strings.TrimSpace(memory),
	})
}

func (r CommandRequest) Prompt() (string, error) {
	return render(commandPrompt, map[string]any{
		"Command":        r.Command,
		"Location":       r.Observation.Location,
		"Context":        r.Context,
		"HasCredentials": !r.Credentials.IsZero(),
	})
}

func (r QuestionRequest) Prompt() (string, error) {
	return render(questionPrompt, map[string]any{
		"Question":  r.Question,
		"Location":  r.Observation.Location,
		"Knowledge": r.Knowledge,
		"Context":   r.Context,
	})
}

func KnowledgePrompt(location string) (string, error) {
	return render(knowledgePrompt, map[string]any{"Location": location})
}

func render(tmpl *template.Template, data map[string]any) (string, error) {
	var out strings.Builder
	if err := tmpl.Execute(&out, data); err != nil {
		return "", fmt.Errorf("failed to render %s prompt: %w", tmpl.Name(), err)
	}
	return out.String(), nil
}
