package planning

import (
	"strings"

	"github.com/koscakluka/ema-demo/core/surface"
)

type ActionKind string

const (
	ActionFill     ActionKind = "fill"
	ActionClick    ActionKind = "click"
	ActionNavigate ActionKind = "navigate"
	ActionBack     ActionKind = "back"
	ActionWait     ActionKind = "wait"
	ActionStop     ActionKind = "stop"
)

func (k ActionKind) String() string { return string(k) }

// ActionStep is one validated unit of planned work. Steps are only produced
// by the decoders in this package.
type ActionStep struct {
	Kind              ActionKind
	Target            string
	Value             string
	PreNarration      string
	PostNarration     string
	ExpectsNavigation bool
	Reasoning         string
}

// NeedsTarget reports whether the step kind acts on an element.
func (k ActionKind) NeedsTarget() bool {
	return k == ActionFill || k == ActionClick
}

// MovesSurface reports whether executing the step is expected to change what
// is displayed.
func (s ActionStep) MovesSurface() bool {
	if s.Kind == ActionNavigate || s.Kind == ActionBack {
		return true
	}
	return s.Kind == ActionClick && (s.ExpectsNavigation || strings.HasPrefix(s.Target, "a[href"))
}

type GoalStatus string

const (
	GoalNotStarted GoalStatus = "not_started"
	GoalInProgress GoalStatus = "in_progress"
	GoalComplete   GoalStatus = "complete"
	GoalBlocked    GoalStatus = "blocked"
)

type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Plan is the autonomous planner's answer for one observation.
type Plan struct {
	Actions               []ActionStep
	PageState             string
	GoalStatus            GoalStatus
	NextObservationNeeded bool
	// Rejected counts raw actions dropped during validation.
	Rejected int
}

// CommandPlan is the planner's answer for one spoken command.
type CommandPlan struct {
	Actions    []ActionStep
	Understood string
	Confidence Confidence
	Rejected   int
}

type Credentials struct {
	Username string
	Password string
}

func (c Credentials) IsZero() bool {
	return c.Username == "" && c.Password == ""
}

// Substitute replaces credential placeholders in a fill value.
func (c Credentials) Substitute(value string) string {
	if c.IsZero() {
		return value
	}
	return strings.NewReplacer(
		"{email}", c.Username,
		"{username}", c.Username,
		"{password}", c.Password,
	).Replace(value)
}

type Request struct {
	Observation surface.Observation
	Goal        string
	Memory      string
	Credentials Credentials
	Knowledge   string
}

type CommandRequest struct {
	Observation surface.Observation
	Command     string
	Context     string
	Credentials Credentials
}

type QuestionRequest struct {
	Observation surface.Observation
	Question    string
	Context     string
	Knowledge   string
}
