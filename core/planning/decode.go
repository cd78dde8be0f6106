package planning

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/invopop/jsonschema"
)

var ErrMalformedPlan = errors.New("malformed plan")

// RawAction is the wire shape of an action as returned by planners.
type RawAction struct {
	Action        string `json:"action" jsonschema:"enum=fill,enum=click,enum=navigate,enum=back,enum=wait,enum=stop"`
	Selector      string `json:"selector" jsonschema:"description=CSS selector of the target element, empty when not applicable"`
	Value         string `json:"value" jsonschema:"description=Text to fill, URL to open or seconds to wait"`
	Reasoning     string `json:"reasoning"`
	PreNarration  string `json:"pre_narration" jsonschema:"description=Short sentence spoken before the action"`
	PostNarration string `json:"post_narration" jsonschema:"description=Short sentence spoken after the action succeeds"`
	ExpectNewPage bool   `json:"expect_new_page"`
	Confidence    string `json:"confidence" jsonschema:"enum=high,enum=medium,enum=low"`
}

type RawPlan struct {
	Actions               []RawAction `json:"actions"`
	PageState             string      `json:"page_state"`
	GoalStatus            string      `json:"goal_status" jsonschema:"enum=not_started,enum=in_progress,enum=complete,enum=blocked"`
	NextObservationNeeded *bool       `json:"next_observation_needed"`
}

type RawCommandPlan struct {
	UnderstoodCommand string      `json:"understood_command"`
	Actions           []RawAction `json:"actions"`
	Confidence        string      `json:"confidence" jsonschema:"enum=high,enum=medium,enum=low"`
}

// DecodePlan validates a planner payload into a Plan. Invalid actions are
// dropped and counted; the payload as a whole fails only when it cannot be
// read at all.
func DecodePlan(payload []byte) (Plan, error) {
	var raw RawPlan
	if err := unmarshalPayload(payload, &raw); err != nil {
		return Plan{}, err
	}

	actions, rejected := validateActions(raw.Actions)
	plan := Plan{
		Actions:               actions,
		PageState:             strings.TrimSpace(raw.PageState),
		GoalStatus:            normalizeGoalStatus(raw.GoalStatus),
		NextObservationNeeded: raw.NextObservationNeeded == nil || *raw.NextObservationNeeded,
		Rejected:              rejected,
	}
	return plan, nil
}

func DecodeCommandPlan(payload []byte) (CommandPlan, error) {
	var raw RawCommandPlan
	if err := unmarshalPayload(payload, &raw); err != nil {
		return CommandPlan{}, err
	}

	actions, rejected := validateActions(raw.Actions)
	return CommandPlan{
		Actions:    actions,
		Understood: strings.TrimSpace(raw.UnderstoodCommand),
		Confidence: normalizeConfidence(raw.Confidence),
		Rejected:   rejected,
	}, nil
}

func unmarshalPayload(payload []byte, into any) error {
	content := strings.TrimSpace(string(payload))
	if split := strings.Split(content, "```"); len(split) > 2 {
		content = strings.TrimSpace(split[1])
		content = strings.TrimSpace(strings.TrimPrefix(content, "json"))
	}
	if content == "" {
		return fmt.Errorf("%w: empty payload", ErrMalformedPlan)
	}

	if err := json.Unmarshal([]byte(content), into); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedPlan, err)
	}
	return nil
}

func validateActions(raw []RawAction) ([]ActionStep, int) {
	steps := make([]ActionStep, 0, len(raw))
	rejected := 0
	for _, action := range raw {
		step, ok := validateAction(action)
		if !ok {
			rejected++
			continue
		}
		steps = append(steps, step)
	}
	return steps, rejected
}

func validateAction(raw RawAction) (ActionStep, bool) {
	kind := ActionKind(strings.ToLower(strings.TrimSpace(raw.Action)))
	step := ActionStep{
		Kind:              kind,
		Target:            strings.TrimSpace(raw.Selector),
		Value:             raw.Value,
		PreNarration:      strings.TrimSpace(raw.PreNarration),
		PostNarration:     strings.TrimSpace(raw.PostNarration),
		ExpectsNavigation: raw.ExpectNewPage,
		Reasoning:         strings.TrimSpace(raw.Reasoning),
	}

	switch kind {
	case ActionFill, ActionClick:
		if step.Target == "" {
			return ActionStep{}, false
		}
	case ActionNavigate:
		step.Value = strings.TrimSpace(step.Value)
		if !strings.HasPrefix(step.Value, "http://") && !strings.HasPrefix(step.Value, "https://") {
			return ActionStep{}, false
		}
	case ActionBack, ActionWait, ActionStop:
	default:
		return ActionStep{}, false
	}

	return step, true
}

func normalizeGoalStatus(status string) GoalStatus {
	switch GoalStatus(strings.ToLower(strings.TrimSpace(status))) {
	case GoalNotStarted:
		return GoalNotStarted
	case GoalComplete:
		return GoalComplete
	case GoalBlocked:
		return GoalBlocked
	}
	return GoalInProgress
}

func normalizeConfidence(confidence string) Confidence {
	switch Confidence(strings.ToLower(strings.TrimSpace(confidence))) {
	case ConfidenceHigh:
		return ConfidenceHigh
	case ConfidenceLow:
		return ConfidenceLow
	}
	return ConfidenceMedium
}

// Schema reflects the JSON schema planners are asked to answer with.
func Schema(of any) *jsonschema.Schema {
	reflector := jsonschema.Reflector{DoNotReference: true}
	if t := reflect.TypeOf(of); t.Kind() == reflect.Ptr {
		return reflector.ReflectFromType(t.Elem())
	}
	return reflector.Reflect(of)
}

func SchemaName(of any) string {
	t := reflect.TypeOf(of)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}
