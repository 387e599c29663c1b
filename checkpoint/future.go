// Package checkpoint implements the Checkpoint Controller (C3): a
// dedicated flush cycle for the defragmentation regions, a re-entrant
// checkpoint read-lock, and the future/compound-future plumbing the
// partition pipeline and coordinator use to wait for flushes to land.
package checkpoint

import "sync"

// Future is the Go analogue of Ignite's GridFutureAdapter — a one-shot
// completion signal with late-attach listeners, the shape ForceCheckpoint
// returns so callers can either block on Get or Listen for the result.
type Future struct {
	mu        sync.Mutex
	done      bool
	err       error
	listeners []func(error)
	ch        chan struct{}
}

func newFuture() *Future {
	return &Future{ch: make(chan struct{})}
}

// Finished returns an already-completed future. The coordinator records it
// as the previous group's index-defragmentation future once that group's
// index rebuild has already run to completion, so there is nothing left to
// wait for.
func Finished() *Future {
	f := newFuture()
	f.complete(nil)
	return f
}

func (f *Future) complete(err error) {
	f.mu.Lock()
	if f.done {
		f.mu.Unlock()
		return
	}
	f.done = true
	f.err = err
	listeners := f.listeners
	f.listeners = nil
	close(f.ch)
	f.mu.Unlock()

	for _, l := range listeners {
		l(err)
	}
}

// Listen registers fn to run once the future completes, immediately if it
// already has.
func (f *Future) Listen(fn func(error)) {
	f.mu.Lock()
	if f.done {
		err := f.err
		f.mu.Unlock()
		fn(err)
		return
	}
	f.listeners = append(f.listeners, fn)
	f.mu.Unlock()
}

// Get blocks until the future completes and returns its error, if any.
func (f *Future) Get() error {
	<-f.ch
	return f.err
}

// Done reports whether the future has completed without blocking.
func (f *Future) Done() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.done
}
