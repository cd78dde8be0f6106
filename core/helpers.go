package orchestration

import (
	"context"
	"fmt"

	"github.com/koscakluka/ema-demo/core/events"
)

// runGuarded reports a panic in fn as an error so one misbehaving worker
// cannot take the session down with it.
func runGuarded[T any](ctx context.Context, name string, fn func(context.Context) T) (result T, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("%s panicked: %v", name, recovered)
		}
	}()
	return fn(ctx), nil
}

func (o *Orchestrator) emit(event events.Event) {
	if o.onEvent != nil {
		o.onEvent(event)
	}
}
