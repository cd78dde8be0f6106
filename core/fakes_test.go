package orchestration

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/koscakluka/ema-demo/core/events"
	"github.com/koscakluka/ema-demo/core/planning"
	"github.com/koscakluka/ema-demo/core/surface"
)

func testTimings() Timings {
	return Timings{
		SilenceThreshold:  60 * time.Millisecond,
		MinUtteranceWords: 2,

		LockTimeout:    300 * time.Millisecond,
		WordsPerSecond: 1000,
		MinSpeechHold:  time.Millisecond,

		ElementAttachTimeout:    100 * time.Millisecond,
		ElementVisibleTimeout:   40 * time.Millisecond,
		ElementEnabledTimeout:   40 * time.Millisecond,
		ClickTimeout:            100 * time.Millisecond,
		FillTimeout:             100 * time.Millisecond,
		NavigationTimeout:       100 * time.Millisecond,
		BackTimeout:             100 * time.Millisecond,
		ExpectNavigationTimeout: 60 * time.Millisecond,
		DefaultWait:             20 * time.Millisecond,
		InterStepDelay:          time.Millisecond,

		CaptureTimeout:           100 * time.Millisecond,
		PlannerTimeout:           500 * time.Millisecond,
		MaxCycles:                8,
		PlannerRetryBudget:       3,
		ActionFailureBudget:      3,
		ObservationFailureBudget: 2,
		RetryBackoff:             2 * time.Millisecond,
		IdleDelay:                2 * time.Millisecond,
		ObservationInterval:      time.Millisecond,
		MemoryLimit:              2500,

		SettleDelay:     time.Millisecond,
		AnswerPause:     time.Millisecond,
		SoftStopGrace:   80 * time.Millisecond,
		CancelWarnAfter: time.Second,
	}.withDefaults()
}

// eventually polls cond until it holds or the timeout passes.
func eventually(t *testing.T, timeout time.Duration, cond func() bool, format string, args ...any) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf(format, args...)
}

type fakeElement struct {
	mu sync.Mutex

	visible     bool
	enabled     bool
	clickErr    error
	forceClicks int
	clicks      int
	value       string
	// fillTransform alters the filled value to simulate inputs that reformat
	// what is typed.
	fillTransform func(string) string
	onClick       func()
}

func (e *fakeElement) WaitAttached(context.Context) error { return nil }

func (e *fakeElement) IsVisible(context.Context) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.visible, nil
}

func (e *fakeElement) IsEnabled(context.Context) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enabled, nil
}

func (e *fakeElement) Click(_ context.Context, force bool) error {
	e.mu.Lock()
	if force {
		e.forceClicks++
	} else {
		e.clicks++
	}
	err, onClick := e.clickErr, e.onClick
	e.mu.Unlock()

	if err != nil && !force {
		return err
	}
	if onClick != nil {
		onClick()
	}
	return nil
}

func (e *fakeElement) Clear(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.value = ""
	return nil
}

func (e *fakeElement) Fill(_ context.Context, value string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fillTransform != nil {
		value = e.fillTransform(value)
	}
	e.value = value
	return nil
}

func (e *fakeElement) Value(context.Context) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.value, nil
}

// fakeSurface records every operation and reports how many were in flight at
// once.
type fakeSurface struct {
	mu sync.Mutex

	location  string
	elements  map[string]*fakeElement
	open      []surface.Handle
	current   surface.Handle
	canGoBack bool

	captureErr   error
	captureDelay time.Duration
	captures     atomic.Int32
	navigations  []string
	ops          []string

	navWatchers     []chan struct{}
	surfaceWatchers []chan surface.Handle

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func newFakeSurface() *fakeSurface {
	return &fakeSurface{
		location: "https://demo.example.com/",
		elements: map[string]*fakeElement{},
		open:     []surface.Handle{"tab-1"},
		current:  "tab-1",
	}
}

func (s *fakeSurface) enter(op string) func() {
	s.mu.Lock()
	s.ops = append(s.ops, op)
	s.mu.Unlock()

	n := s.inFlight.Add(1)
	for {
		peak := s.maxInFlight.Load()
		if n <= peak || s.maxInFlight.CompareAndSwap(peak, n) {
			break
		}
	}
	return func() { s.inFlight.Add(-1) }
}

func (s *fakeSurface) element(selector string, element *fakeElement) *fakeElement {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.elements[selector] = element
	return element
}

func (s *fakeSurface) Capture(ctx context.Context) (surface.Observation, error) {
	defer s.enter("capture")()
	s.captures.Add(1)

	if s.captureDelay > 0 {
		select {
		case <-time.After(s.captureDelay):
		case <-ctx.Done():
			return surface.Observation{}, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.captureErr != nil {
		return surface.Observation{}, s.captureErr
	}
	return surface.Observation{
		Image:      []byte{0x89, 'P', 'N', 'G'},
		MIMEType:   "image/png",
		Location:   s.location,
		Surface:    s.current,
		CapturedAt: time.Now(),
	}, nil
}

func (s *fakeSurface) Locate(_ context.Context, selector string) (surface.Element, error) {
	defer s.enter("locate " + selector)()
	s.mu.Lock()
	defer s.mu.Unlock()
	element, ok := s.elements[selector]
	if !ok {
		return nil, surface.ErrElementNotFound
	}
	return element, nil
}

func (s *fakeSurface) CurrentLocation() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.location
}

func (s *fakeSurface) GoBack(context.Context) (bool, error) {
	defer s.enter("back")()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canGoBack, nil
}

func (s *fakeSurface) Navigate(_ context.Context, url string) error {
	defer s.enter("navigate " + url)()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.location = url
	s.navigations = append(s.navigations, url)
	return nil
}

func (s *fakeSurface) WatchNavigation(ctx context.Context) <-chan struct{} {
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	s.navWatchers = append(s.navWatchers, ch)
	s.mu.Unlock()
	return ch
}

func (s *fakeSurface) WatchNewSurface(ctx context.Context) <-chan surface.Handle {
	ch := make(chan surface.Handle, 1)
	s.mu.Lock()
	s.surfaceWatchers = append(s.surfaceWatchers, ch)
	s.mu.Unlock()
	return ch
}

// fireNavigation notifies every armed navigation watcher.
func (s *fakeSurface) fireNavigation() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.navWatchers {
		ch <- struct{}{}
	}
	s.navWatchers = nil
}

// openSurface adds a surface and notifies new surface watchers.
func (s *fakeSurface) openSurface(handle surface.Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = append(s.open, handle)
	for _, ch := range s.surfaceWatchers {
		ch <- handle
	}
	s.surfaceWatchers = nil
}

func (s *fakeSurface) ListOpenSurfaces() []surface.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.open)
}

func (s *fakeSurface) CurrentSurface() surface.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *fakeSurface) CloseSurface(_ context.Context, handle surface.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = slices.DeleteFunc(s.open, func(h surface.Handle) bool { return h == handle })
	return nil
}

func (s *fakeSurface) SwitchTo(_ context.Context, handle surface.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !slices.Contains(s.open, handle) {
		return surface.ErrNoSurface
	}
	s.current = handle
	return nil
}

func (s *fakeSurface) operations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.ops)
}

// scriptedPlanner replays plans in order and repeats the last one.
type scriptedPlanner struct {
	mu    sync.Mutex
	plans []planning.Plan
	errs  []error
	calls int
	// block makes PlanNext wait for ctx, simulating a slow planner.
	block    bool
	requests []planning.Request
}

func (p *scriptedPlanner) PlanNext(ctx context.Context, req planning.Request) (planning.Plan, error) {
	p.mu.Lock()
	i := p.calls
	p.calls++
	p.requests = append(p.requests, req)
	block := p.block
	p.mu.Unlock()

	if block {
		<-ctx.Done()
		return planning.Plan{}, ctx.Err()
	}
	if i < len(p.errs) && p.errs[i] != nil {
		return planning.Plan{}, p.errs[i]
	}
	if len(p.plans) == 0 {
		return planning.Plan{GoalStatus: planning.GoalInProgress, NextObservationNeeded: true}, nil
	}
	return p.plans[min(i, len(p.plans)-1)], nil
}

func (p *scriptedPlanner) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type fakeCommandPlanner struct {
	mu    sync.Mutex
	plan  planning.CommandPlan
	err   error
	calls int
}

func (p *fakeCommandPlanner) PlanCommand(_ context.Context, _ planning.CommandRequest) (planning.CommandPlan, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.plan, p.err
}

func (p *fakeCommandPlanner) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type fakeAnswerer struct {
	mu     sync.Mutex
	answer string
	err    error
	calls  int
}

func (a *fakeAnswerer) Answer(_ context.Context, _ planning.QuestionRequest) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	return a.answer, a.err
}

func (a *fakeAnswerer) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

// recordingRenderer records what was spoken and how many renders overlapped.
type recordingRenderer struct {
	mu     sync.Mutex
	spoken []string
	delay  time.Duration
	err    error

	active    atomic.Int32
	maxActive atomic.Int32
}

func (r *recordingRenderer) Render(ctx context.Context, text string) error {
	n := r.active.Add(1)
	defer r.active.Add(-1)
	for {
		peak := r.maxActive.Load()
		if n <= peak || r.maxActive.CompareAndSwap(peak, n) {
			break
		}
	}

	if r.delay > 0 {
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.spoken = append(r.spoken, text)
	return nil
}

func (r *recordingRenderer) texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.spoken)
}

func (r *recordingRenderer) count(text string) int {
	n := 0
	for _, spoken := range r.texts() {
		if spoken == text {
			n++
		}
	}
	return n
}

type eventLog struct {
	mu     sync.Mutex
	events []events.Event
}

func (l *eventLog) record(event events.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *eventLog) kinds() []events.Kind {
	l.mu.Lock()
	defer l.mu.Unlock()
	kinds := make([]events.Kind, 0, len(l.events))
	for _, event := range l.events {
		kinds = append(kinds, event.Kind())
	}
	return kinds
}

var errFake = errors.New("fake failure")

func inProgress(actions ...planning.ActionStep) planning.Plan {
	return planning.Plan{Actions: actions, GoalStatus: planning.GoalInProgress, NextObservationNeeded: true}
}

func clickStep(target string) planning.ActionStep {
	return planning.ActionStep{Kind: planning.ActionClick, Target: target}
}
