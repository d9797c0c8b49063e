// Package coalesce provides a generic keyed work pool: identical keys
// share one in-flight result, and overall concurrency is bounded (spec
// §4.5). Used by the Writer to guarantee at-most-one concurrent upload
// per source item identifier even when multiple album memberships
// reference the same item in the same run.
package coalesce

import (
	"context"
	"fmt"
	"sync"
)

// WorkFunc performs the actual work for one key.
type WorkFunc[K comparable, V any] func(ctx context.Context, key K) (V, error)

type result[V any] struct {
	value V
	err   error
}

type waiter[V any] struct {
	ch chan result[V]
}

// Worker dispatches WorkFunc calls for distinct keys, collapsing
// concurrent calls for the same key into a single execution and
// notifying every waiter with that execution's outcome (spec §4.5:
// "identical keys share one in-flight result").
//
// Grounded on original_source/src/copier.rs's Copier, whose spawn guard
// is `waiters.len() == 1` — spawn only for the first waiter on a key.
// The sibling original_source/src/coalescing_worker.rs instead guards on
// `waiters.len() > 0`, which is true immediately after every push and so
// would spawn a worker for every single call, defeating coalescing
// entirely; that version's guard is not used here.
type Worker[K comparable, V any] struct {
	work WorkFunc[K, V]
	sem  chan struct{}

	mu       sync.Mutex
	inFlight map[K][]waiter[V]
}

// New builds a Worker that runs at most concurrency keys' work functions
// at once.
func New[K comparable, V any](concurrency int, work WorkFunc[K, V]) *Worker[K, V] {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Worker[K, V]{
		work:     work,
		sem:      make(chan struct{}, concurrency),
		inFlight: make(map[K][]waiter[V]),
	}
}

// Do requests the result for key, running the work function if no call
// for this key is already in flight, or joining the in-flight call's
// waiters otherwise. Blocks until a result is available, ctx is
// canceled, or the request is spawned and the work function itself
// respects ctx.
func (w *Worker[K, V]) Do(ctx context.Context, key K) (V, error) {
	ch := make(chan result[V], 1)

	w.mu.Lock()
	waiters, inFlight := w.inFlight[key]
	w.inFlight[key] = append(waiters, waiter[V]{ch: ch})
	isFirst := !inFlight
	w.mu.Unlock()

	if isFirst {
		go w.run(ctx, key)
	}

	select {
	case r := <-ch:
		return r.value, r.err
	case <-ctx.Done():
		var zero V
		return zero, fmt.Errorf("coalesce: waiting for key %v: %w", key, ctx.Err())
	}
}

// run executes the work function for key, bounded by the concurrency
// semaphore, then fans the outcome out to every waiter that joined while
// it was in flight (including ones that arrived after run started but
// before the map entry was cleared).
func (w *Worker[K, V]) run(ctx context.Context, key K) {
	select {
	case w.sem <- struct{}{}:
	case <-ctx.Done():
		w.fanOut(key, result[V]{err: fmt.Errorf("coalesce: key %v: %w", key, ctx.Err())})
		return
	}
	defer func() { <-w.sem }()

	value, err := w.work(ctx, key)
	w.fanOut(key, result[V]{value: value, err: err})
}

func (w *Worker[K, V]) fanOut(key K, r result[V]) {
	w.mu.Lock()
	waiters := w.inFlight[key]
	delete(w.inFlight, key)
	w.mu.Unlock()

	for _, wt := range waiters {
		wt.ch <- r
	}
}
