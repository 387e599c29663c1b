package checkpoint

import "golang.org/x/sync/errgroup"

// CompoundFuture waits on a set of Futures as one, the Go analogue of
// Ignite's GridCompoundFuture — the coordinator (C9) uses it to wait for
// the closing checkpoint of every partition of one cache group before any
// of those partitions is renamed into place.
type CompoundFuture struct {
	futures []*Future
}

// NewCompoundFuture starts empty; Add as futures are produced.
func NewCompoundFuture() *CompoundFuture {
	return &CompoundFuture{}
}

// Add registers another future to wait on.
func (c *CompoundFuture) Add(f *Future) {
	if f == nil {
		return
	}
	c.futures = append(c.futures, f)
}

// Wait blocks until every added future has completed, returning the first
// non-nil error encountered (if several fail, the rest are still awaited
// so nothing leaks, but only the first error is surfaced — mirroring
// errgroup.Group's own "first error wins" semantics).
func (c *CompoundFuture) Wait() error {
	var g errgroup.Group
	for _, f := range c.futures {
		f := f
		g.Go(func() error {
			return f.Get()
		})
	}
	return g.Wait()
}
