package orchestration

import "github.com/koscakluka/ema-demo/core/surface"

// TaskStatus tags how a unit of cancellable work ended. Every caller has to
// handle all three terminal values.
type TaskStatus int

const (
	taskRunning TaskStatus = iota
	TaskCompleted
	TaskInterrupted
	TaskCancelled
)

func (s TaskStatus) String() string {
	switch s {
	case taskRunning:
		return "running"
	case TaskCompleted:
		return "completed"
	case TaskInterrupted:
		return "interrupted"
	case TaskCancelled:
		return "cancelled"
	}
	return "unknown"
}

type OutcomeKind int

const (
	OutcomeContinue OutcomeKind = iota
	OutcomeStop
	OutcomePageChanged
	OutcomeFailed
	OutcomeNewSurface
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeContinue:
		return "continue"
	case OutcomeStop:
		return "stop"
	case OutcomePageChanged:
		return "page_changed"
	case OutcomeFailed:
		return "failed"
	case OutcomeNewSurface:
		return "new_surface"
	}
	return "unknown"
}

// ActionOutcome is the result of one step or a whole sequence. Surface is
// only set for OutcomeNewSurface.
type ActionOutcome struct {
	Kind    OutcomeKind
	Surface surface.Handle
}

func (o ActionOutcome) String() string {
	if o.Kind == OutcomeNewSurface {
		return o.Kind.String() + "(" + o.Surface.String() + ")"
	}
	return o.Kind.String()
}

// MovedSurface reports whether the observable world changed under the plan.
func (o ActionOutcome) MovedSurface() bool {
	return o.Kind == OutcomePageChanged || o.Kind == OutcomeNewSurface
}

// halts reports whether the outcome ends the sequence it occurred in.
func (o ActionOutcome) halts() bool {
	return o.Kind != OutcomeContinue
}

type SequenceResult struct {
	Status  TaskStatus
	Outcome ActionOutcome
	// Executed counts steps that ran to an outcome.
	Executed int
}

type LoopReason string

const (
	LoopReasonNone                     LoopReason = ""
	LoopReasonGoalReached              LoopReason = "goal_reached"
	LoopReasonGoalBlocked              LoopReason = "goal_blocked"
	LoopReasonStepLimitReached         LoopReason = "step_limit_reached"
	LoopReasonPlannerFailuresExhausted LoopReason = "planner_failures_exhausted"
	LoopReasonActionFailuresExhausted  LoopReason = "action_failures_exhausted"
	LoopReasonObservationFailed        LoopReason = "observation_failed"
	LoopReasonStuck                    LoopReason = "stuck"
	LoopReasonCrashed                  LoopReason = "crashed"
)

type LoopResult struct {
	Status TaskStatus
	Reason LoopReason
	Cycles int
	// PageState is the planner's last description of the page.
	PageState string
}
