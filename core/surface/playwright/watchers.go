package playwright

import (
	"context"
	"math"
	"sync"
	"time"
)

// watcher delivers at most one value. It is closed without a value when it
// is cancelled first.
type watcher[T any] struct {
	ch   chan T
	once sync.Once
}

func newWatcher[T any]() *watcher[T] {
	return &watcher[T]{ch: make(chan T, 1)}
}

func (w *watcher[T]) fire(v T) {
	w.once.Do(func() { w.ch <- v })
}

func (w *watcher[T]) cancel() {
	w.once.Do(func() { close(w.ch) })
}

// watchers is a set of pending watchers of one kind.
type watchers[T any] struct {
	mu      sync.Mutex
	pending map[*watcher[T]]struct{}
}

func (ws *watchers[T]) add(ctx context.Context) <-chan T {
	w := newWatcher[T]()

	ws.mu.Lock()
	if ws.pending == nil {
		ws.pending = map[*watcher[T]]struct{}{}
	}
	ws.pending[w] = struct{}{}
	ws.mu.Unlock()

	context.AfterFunc(ctx, func() {
		ws.mu.Lock()
		delete(ws.pending, w)
		ws.mu.Unlock()
		w.cancel()
	})
	return w.ch
}

// fire delivers v to every pending watcher and forgets them.
func (ws *watchers[T]) fire(v T) {
	ws.mu.Lock()
	pending := ws.pending
	ws.pending = nil
	ws.mu.Unlock()

	for w := range pending {
		w.fire(v)
	}
}

// timeoutFrom converts the context deadline into a Playwright timeout in
// milliseconds. Without a deadline the fallback applies.
func timeoutFrom(ctx context.Context, fallback time.Duration) *float64 {
	timeout := fallback
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	ms := math.Max(1, float64(timeout.Milliseconds()))
	return &ms
}
