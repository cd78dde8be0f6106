// Package surface describes the control surface the demo is driven on: a set
// of navigable display contexts (browser tabs) and the elements inside them.
package surface

import (
	"context"
	"errors"
	"time"
)

var (
	ErrElementNotFound = errors.New("element not found")
	ErrNoSurface       = errors.New("no surface open")
)

// Handle identifies one open surface.
type Handle string

func (h Handle) String() string { return string(h) }

type Observation struct {
	Image      []byte
	MIMEType   string
	Location   string
	Title      string
	Surface    Handle
	CapturedAt time.Time
}

func (o Observation) IsZero() bool {
	return len(o.Image) == 0
}

// Element is a located target inside the current surface. All operations are
// bounded by the deadline of the passed context.
type Element interface {
	WaitAttached(ctx context.Context) error
	IsVisible(ctx context.Context) (bool, error)
	IsEnabled(ctx context.Context) (bool, error)
	Click(ctx context.Context, force bool) error
	Clear(ctx context.Context) error
	Fill(ctx context.Context, value string) error
	Value(ctx context.Context) (string, error)
}

type ControlSurface interface {
	Capture(ctx context.Context) (Observation, error)
	Locate(ctx context.Context, selector string) (Element, error)
	CurrentLocation() string

	// GoBack reports whether a navigation took place.
	GoBack(ctx context.Context) (bool, error)
	Navigate(ctx context.Context, url string) error

	// WatchNavigation fires once when the current surface finishes loading a
	// new document. The channel is closed without a value when ctx ends.
	WatchNavigation(ctx context.Context) <-chan struct{}
	// WatchNewSurface delivers the first surface opened after the call.
	WatchNewSurface(ctx context.Context) <-chan Handle

	ListOpenSurfaces() []Handle
	CurrentSurface() Handle
	CloseSurface(ctx context.Context, handle Handle) error
	SwitchTo(ctx context.Context, handle Handle) error
}
