package orchestration

import (
	"context"
	"time"

	"github.com/koscakluka/ema-demo/core/audio"
	"github.com/koscakluka/ema-demo/core/events"
	"github.com/koscakluka/ema-demo/core/planning"
	"github.com/koscakluka/ema-demo/core/speechtotext"
	"github.com/koscakluka/ema-demo/core/surface"
)

type OrchestratorOption func(*Orchestrator)

// Planner decides the next actions of the autonomous demo.
type Planner interface {
	PlanNext(ctx context.Context, req planning.Request) (planning.Plan, error)
}

// CommandPlanner turns a spoken command into actions.
type CommandPlanner interface {
	PlanCommand(ctx context.Context, req planning.CommandRequest) (planning.CommandPlan, error)
}

type QuestionAnswerer interface {
	Answer(ctx context.Context, req planning.QuestionRequest) (string, error)
}

// KnowledgeBuilder summarises the demonstrated website before the first
// cycle. It is optional.
type KnowledgeBuilder interface {
	BuildKnowledge(ctx context.Context, observation surface.Observation, location string) (string, error)
}

type SpeechToText interface {
	Transcribe(ctx context.Context, opts ...speechtotext.TranscriptionOption) error
	SendAudio(audio []byte) error
}

// SpeechRenderer speaks text. Render blocks until the audio has been handed
// to the output and played.
type SpeechRenderer interface {
	Render(ctx context.Context, text string) error
}

type AudioInput interface {
	EncodingInfo() audio.EncodingInfo
	StartCapture(ctx context.Context, onAudio func(audio []byte)) error
	StopCapture() error
}

func WithControlSurface(s surface.ControlSurface) OrchestratorOption {
	return func(o *Orchestrator) { o.surface = s }
}

func WithPlanner(p Planner) OrchestratorOption {
	return func(o *Orchestrator) { o.planner = p }
}

func WithCommandPlanner(p CommandPlanner) OrchestratorOption {
	return func(o *Orchestrator) { o.commandPlanner = p }
}

func WithQuestionAnswerer(a QuestionAnswerer) OrchestratorOption {
	return func(o *Orchestrator) { o.answerer = a }
}

func WithKnowledgeBuilder(b KnowledgeBuilder) OrchestratorOption {
	return func(o *Orchestrator) { o.knowledgeBuilder = b }
}

func WithSpeechToTextClient(client SpeechToText) OrchestratorOption {
	return func(o *Orchestrator) { o.speechToText = client }
}

func WithSpeechRenderer(renderer SpeechRenderer) OrchestratorOption {
	return func(o *Orchestrator) { o.renderer = renderer }
}

func WithAudioInput(client AudioInput) OrchestratorOption {
	return func(o *Orchestrator) { o.audioInput = client }
}

func WithTimings(timings Timings) OrchestratorOption {
	return func(o *Orchestrator) { o.timings = timings.withDefaults() }
}

func WithNarration(narration Narration) OrchestratorOption {
	return func(o *Orchestrator) { o.narration = narration.withDefaults() }
}

// Timings holds every threshold and timeout of a session. Zero fields fall
// back to DefaultTimings.
type Timings struct {
	SilenceThreshold  time.Duration
	MinUtteranceWords int

	LockTimeout    time.Duration
	WordsPerSecond float64
	MinSpeechHold  time.Duration

	ElementAttachTimeout    time.Duration
	ElementVisibleTimeout   time.Duration
	ElementEnabledTimeout   time.Duration
	ClickTimeout            time.Duration
	FillTimeout             time.Duration
	NavigationTimeout       time.Duration
	BackTimeout             time.Duration
	ExpectNavigationTimeout time.Duration
	DefaultWait             time.Duration
	InterStepDelay          time.Duration

	CaptureTimeout           time.Duration
	PlannerTimeout           time.Duration
	MaxCycles                int
	PlannerRetryBudget       int
	ActionFailureBudget      int
	ObservationFailureBudget int
	RetryBackoff             time.Duration
	IdleDelay                time.Duration
	ObservationInterval      time.Duration
	MemoryLimit              int

	SettleDelay     time.Duration
	AnswerPause     time.Duration
	SoftStopGrace   time.Duration
	CancelWarnAfter time.Duration
}

func DefaultTimings() Timings {
	return Timings{
		SilenceThreshold:  1400 * time.Millisecond,
		MinUtteranceWords: 2,

		LockTimeout:    5 * time.Second,
		WordsPerSecond: 3.0,
		MinSpeechHold:  600 * time.Millisecond,

		ElementAttachTimeout:    5 * time.Second,
		ElementVisibleTimeout:   3 * time.Second,
		ElementEnabledTimeout:   1 * time.Second,
		ClickTimeout:            4 * time.Second,
		FillTimeout:             7 * time.Second,
		NavigationTimeout:       15 * time.Second,
		BackTimeout:             5 * time.Second,
		ExpectNavigationTimeout: 7 * time.Second,
		DefaultWait:             1500 * time.Millisecond,
		InterStepDelay:          200 * time.Millisecond,

		CaptureTimeout:           10 * time.Second,
		PlannerTimeout:           45 * time.Second,
		MaxCycles:                18,
		PlannerRetryBudget:       3,
		ActionFailureBudget:      3,
		ObservationFailureBudget: 2,
		RetryBackoff:             1500 * time.Millisecond,
		IdleDelay:                1 * time.Second,
		ObservationInterval:      500 * time.Millisecond,
		MemoryLimit:              2500,

		SettleDelay:     500 * time.Millisecond,
		AnswerPause:     400 * time.Millisecond,
		SoftStopGrace:   5 * time.Second,
		CancelWarnAfter: 10 * time.Second,
	}
}

func (t Timings) withDefaults() Timings {
	d := DefaultTimings()
	orDuration := func(v *time.Duration, fallback time.Duration) {
		if *v <= 0 {
			*v = fallback
		}
	}
	orInt := func(v *int, fallback int) {
		if *v <= 0 {
			*v = fallback
		}
	}

	orDuration(&t.SilenceThreshold, d.SilenceThreshold)
	orInt(&t.MinUtteranceWords, d.MinUtteranceWords)
	orDuration(&t.LockTimeout, d.LockTimeout)
	if t.WordsPerSecond <= 0 {
		t.WordsPerSecond = d.WordsPerSecond
	}
	orDuration(&t.MinSpeechHold, d.MinSpeechHold)
	orDuration(&t.ElementAttachTimeout, d.ElementAttachTimeout)
	orDuration(&t.ElementVisibleTimeout, d.ElementVisibleTimeout)
	orDuration(&t.ElementEnabledTimeout, d.ElementEnabledTimeout)
	orDuration(&t.ClickTimeout, d.ClickTimeout)
	orDuration(&t.FillTimeout, d.FillTimeout)
	orDuration(&t.NavigationTimeout, d.NavigationTimeout)
	orDuration(&t.BackTimeout, d.BackTimeout)
	orDuration(&t.ExpectNavigationTimeout, d.ExpectNavigationTimeout)
	orDuration(&t.DefaultWait, d.DefaultWait)
	orDuration(&t.InterStepDelay, d.InterStepDelay)
	orDuration(&t.CaptureTimeout, d.CaptureTimeout)
	orDuration(&t.PlannerTimeout, d.PlannerTimeout)
	orInt(&t.MaxCycles, d.MaxCycles)
	orInt(&t.PlannerRetryBudget, d.PlannerRetryBudget)
	orInt(&t.ActionFailureBudget, d.ActionFailureBudget)
	orInt(&t.ObservationFailureBudget, d.ObservationFailureBudget)
	orDuration(&t.RetryBackoff, d.RetryBackoff)
	orDuration(&t.IdleDelay, d.IdleDelay)
	orDuration(&t.ObservationInterval, d.ObservationInterval)
	orInt(&t.MemoryLimit, d.MemoryLimit)
	orDuration(&t.SettleDelay, d.SettleDelay)
	orDuration(&t.AnswerPause, d.AnswerPause)
	orDuration(&t.SoftStopGrace, d.SoftStopGrace)
	orDuration(&t.CancelWarnAfter, d.CancelWarnAfter)
	return t
}

// Narration holds the fixed lines spoken by the session. Empty fields fall
// back to DefaultNarration.
type Narration struct {
	Intro               string
	AnalyzingWebsite    string
	Resuming            string
	RestartingDemo      string
	EndDemoFarewell     string
	GoodbyeFarewell     string
	Acknowledgement     string
	Closing             string
	CommandAccepted     string
	CommandFailed       string
	CommandUnactionable string
	CommandNewSurface   string
	CommandNavigated    string
	CommandDone         string
	QuestionFallback    string
	ResumePrompt        string
	CannotSee           string
	CaptureFailed       string
	PlannerRetry        string
	PlannerGaveUp       string
	ActionsGaveUp       string
	Reevaluate          string
	GoalComplete        string
	GoalBlocked         string
	Stuck               string
	StepLimit           string
	LoopCrashed         string
	ActionFailed        string
}

func DefaultNarration() Narration {
	return Narration{
		Intro:               "Now I'll demonstrate how this works. Feel free to ask questions or give me commands at any time.",
		AnalyzingWebsite:    "Let me take a quick look at the website first.",
		Resuming:            "Resuming.",
		RestartingDemo:      "Resuming the demonstration.",
		EndDemoFarewell:     "Stopping demo.",
		GoodbyeFarewell:     "Goodbye!",
		Acknowledgement:     "You're welcome!",
		Closing:             "Thank you for watching the demonstration. Any final questions?",
		CommandAccepted:     "Understood, let me do that.",
		CommandFailed:       "I'm having trouble with that command.",
		CommandUnactionable: "I can't do that from here.",
		CommandNewSurface:   "Okay, moved to the new page.",
		CommandNavigated:    "Okay, I've moved there. Say 'resume' when ready.",
		CommandDone:         "Done! Say 'resume' when ready.",
		QuestionFallback:    "Good question. Let me know when to resume.",
		ResumePrompt:        "Let me know when to resume.",
		CannotSee:           "Sorry, I can't see the screen.",
		CaptureFailed:       "Unable to capture the screen state.",
		PlannerRetry:        "Let me take another look.",
		PlannerGaveUp:       "I'm having trouble understanding the page right now. Let me stop here.",
		ActionsGaveUp:       "I keep running into issues on this page. Let me stop here.",
		Reevaluate:          "Hmm, let me re-evaluate.",
		GoalComplete:        "That completes the demonstration of this flow.",
		GoalBlocked:         "I can't get any further on this page, so I'll stop here.",
		Stuck:               "It seems I'm stuck here, so I'll stop.",
		StepLimit:           "Reached the maximum steps for this task. Stopping here.",
		LoopCrashed:         "Sorry, there was an issue during the demonstration.",
		ActionFailed:        "Tried to %s, but ran into an issue.",
	}
}

func (n Narration) withDefaults() Narration {
	d := DefaultNarration()
	fill := func(v *string, fallback string) {
		if *v == "" {
			*v = fallback
		}
	}

	fill(&n.Intro, d.Intro)
	fill(&n.AnalyzingWebsite, d.AnalyzingWebsite)
	fill(&n.Resuming, d.Resuming)
	fill(&n.RestartingDemo, d.RestartingDemo)
	fill(&n.EndDemoFarewell, d.EndDemoFarewell)
	fill(&n.GoodbyeFarewell, d.GoodbyeFarewell)
	fill(&n.Acknowledgement, d.Acknowledgement)
	fill(&n.Closing, d.Closing)
	fill(&n.CommandAccepted, d.CommandAccepted)
	fill(&n.CommandFailed, d.CommandFailed)
	fill(&n.CommandUnactionable, d.CommandUnactionable)
	fill(&n.CommandNewSurface, d.CommandNewSurface)
	fill(&n.CommandNavigated, d.CommandNavigated)
	fill(&n.CommandDone, d.CommandDone)
	fill(&n.QuestionFallback, d.QuestionFallback)
	fill(&n.ResumePrompt, d.ResumePrompt)
	fill(&n.CannotSee, d.CannotSee)
	fill(&n.CaptureFailed, d.CaptureFailed)
	fill(&n.PlannerRetry, d.PlannerRetry)
	fill(&n.PlannerGaveUp, d.PlannerGaveUp)
	fill(&n.ActionsGaveUp, d.ActionsGaveUp)
	fill(&n.Reevaluate, d.Reevaluate)
	fill(&n.GoalComplete, d.GoalComplete)
	fill(&n.GoalBlocked, d.GoalBlocked)
	fill(&n.Stuck, d.Stuck)
	fill(&n.StepLimit, d.StepLimit)
	fill(&n.LoopCrashed, d.LoopCrashed)
	fill(&n.ActionFailed, d.ActionFailed)
	return n
}

// SessionTarget is what a session demonstrates.
type SessionTarget struct {
	URL         string
	Goal        string
	Credentials planning.Credentials
	// Knowledge seeds what is known about the website. When empty and a
	// KnowledgeBuilder is configured, it is built at session start.
	Knowledge string
}

type OrchestrateOptions struct {
	onEvent      func(events.Event)
	skipIntro    bool
	knowledgeOff bool
}

type OrchestrateOption func(*OrchestrateOptions)

// WithEventCallback registers a receiver for every session event. The
// callback runs inline on the emitting goroutine and should not block.
func WithEventCallback(callback func(events.Event)) OrchestrateOption {
	return func(o *OrchestrateOptions) {
		o.onEvent = callback
	}
}

// WithoutIntro skips the intro narration.
func WithoutIntro() OrchestrateOption {
	return func(o *OrchestrateOptions) {
		o.skipIntro = true
	}
}

// WithoutKnowledgeBuilding skips website knowledge initialization even when a
// KnowledgeBuilder is configured.
func WithoutKnowledgeBuilding() OrchestrateOption {
	return func(o *OrchestrateOptions) {
		o.knowledgeOff = true
	}
}
