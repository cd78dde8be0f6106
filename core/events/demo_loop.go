package events

const (
	KindLoopStarted      Kind = "demo_loop.started"
	KindLoopPhaseChanged Kind = "demo_loop.phase_changed"
	KindActionExecuted   Kind = "demo_loop.action_executed"
	KindLoopFinished     Kind = "demo_loop.finished"
)

type LoopStarted struct {
	Base
	LoopID string
}

func NewLoopStarted(loopID string) LoopStarted {
	return LoopStarted{Base: NewBase(KindLoopStarted), LoopID: loopID}
}

type LoopPhaseChanged struct {
	Base
	LoopID string
	Cycle  int
	Phase  string
}

func NewLoopPhaseChanged(loopID string, cycle int, phase string) LoopPhaseChanged {
	return LoopPhaseChanged{Base: NewBase(KindLoopPhaseChanged), LoopID: loopID, Cycle: cycle, Phase: phase}
}

// ActionExecuted reports one executed step and its outcome.
type ActionExecuted struct {
	Base
	Action  string
	Target  string
	Outcome string
}

func NewActionExecuted(action, target, outcome string) ActionExecuted {
	return ActionExecuted{Base: NewBase(KindActionExecuted), Action: action, Target: target, Outcome: outcome}
}

type LoopFinished struct {
	Base
	LoopID string
	Status string
	Reason string
	Cycles int
}

func NewLoopFinished(loopID, status, reason string, cycles int) LoopFinished {
	return LoopFinished{Base: NewBase(KindLoopFinished), LoopID: loopID, Status: status, Reason: reason, Cycles: cycles}
}
