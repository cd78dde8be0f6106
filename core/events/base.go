package events

import (
	"strings"
	"time"
)

// Kind is namespaced as "<namespace>.<name>", e.g. "demo_loop.started".
type Kind string

// Namespace is the part of the kind before the first dot.
func (k Kind) Namespace() string {
	namespace, _, _ := strings.Cut(string(k), ".")
	return namespace
}

type Event interface {
	Kind() Kind
	Timestamp() time.Time
}

// Base is embedded by every event.
type Base struct {
	kind Kind
	at   time.Time
}

func NewBase(kind Kind) Base {
	return Base{kind: kind, at: time.Now()}
}

func (b Base) Kind() Kind { return b.kind }

func (b Base) Timestamp() time.Time { return b.at }
