package checkpoint

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ErrStopped is returned by ForceCheckpoint once the controller has been
// stopped.
var ErrStopped = errors.New("checkpoint: controller stopped")

// FlushFunc performs the actual checkpoint work — syncing every page store
// the caller has registered for this defragmentation run — and is invoked
// by the controller's own goroutine with no readers holding the checkpoint
// read-lock.
type FlushFunc func(reason string) error

// request is one queued ForceCheckpoint call awaiting its turn on the
// controller goroutine.
type request struct {
	reason string
	fut    *Future
}

// Controller is the Checkpoint Controller (C3). It exposes a re-entrant
// checkpoint read-lock — ReadLock/ReadUnlock — that the partition pipeline
// holds while touching page memory, and forceCheckpoint, which queues a
// flush that the controller goroutine runs once no reader holds the lock;
// while that flush runs, new read-lock holders block, and they are let
// back in when it ends. Readers arriving while the controller is still
// waiting for the lock to drain are not held back. This mirrors Ignite's checkpointReadLock /
// checkpointReadUnlock plus the checkpointer thread's own write lock,
// collapsed onto a single mutex+condvar since this engine only ever runs
// one checkpointer goroutine at a time (spec §5 concurrency model).
type Controller struct {
	log      logrus.FieldLogger
	mu       sync.Mutex
	cond     *sync.Cond
	readers  int
	flushing bool
	stopped  bool
	flush    FlushFunc

	queue   []*request
	queueC  *sync.Cond
	started bool
	done    chan struct{}
}

// New builds a Controller around flush. log may be nil, in which case a
// disabled logger is used — the controller logs each checkpoint at debug
// level and nothing else.
func New(flush FlushFunc, log logrus.FieldLogger) *Controller {
	if log == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		log = l
	}
	c := &Controller{
		log:   log,
		flush: flush,
		done:  make(chan struct{}),
	}
	c.cond = sync.NewCond(&c.mu)
	c.queueC = sync.NewCond(&c.mu)
	return c
}

// Start launches the controller's checkpointer goroutine. Calling
// ForceCheckpoint before Start just queues the request.
func (c *Controller) Start() {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()
	go c.run()
}

// Stop drains the queue, refusing any further ForceCheckpoint calls, and
// waits for an in-flight flush to finish.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	c.queueC.Broadcast()
	c.mu.Unlock()
	if c.started {
		<-c.done
	}
}

func (c *Controller) run() {
	defer close(c.done)
	for {
		c.mu.Lock()
		for len(c.queue) == 0 && !c.stopped {
			c.queueC.Wait()
		}
		if len(c.queue) == 0 && c.stopped {
			c.mu.Unlock()
			return
		}
		req := c.queue[0]
		c.queue = c.queue[1:]
		for c.readers > 0 {
			c.cond.Wait()
		}
		c.flushing = true
		c.mu.Unlock()

		c.log.WithField("reason", req.reason).Debug("checkpoint: flush start")
		err := c.flush(req.reason)
		if err != nil {
			c.log.WithError(err).WithField("reason", req.reason).Error("checkpoint: flush failed")
		}

		c.mu.Lock()
		c.flushing = false
		c.cond.Broadcast()
		c.mu.Unlock()

		req.fut.complete(err)

		if c.stopped {
			c.mu.Lock()
			drained := len(c.queue) == 0
			c.mu.Unlock()
			if drained {
				return
			}
		}
	}
}

// ForceCheckpoint queues a checkpoint and returns a Future that resolves
// once it has run (spec §4.1 "forceCheckpoint(reason) → Future").
func (c *Controller) ForceCheckpoint(reason string) (*Future, error) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil, ErrStopped
	}
	fut := newFuture()
	c.queue = append(c.queue, &request{reason: reason, fut: fut})
	c.queueC.Broadcast()
	c.mu.Unlock()
	return fut, nil
}

// ReadLock acquires the checkpoint read-lock. It is re-entrant in the sense
// that any number of callers (in this engine, the single partition-pipeline
// goroutine looping over entries) may hold it concurrently; it only blocks
// while a checkpoint is actively flushing.
func (c *Controller) ReadLock() {
	c.mu.Lock()
	for c.flushing {
		c.cond.Wait()
	}
	c.readers++
	c.mu.Unlock()
}

// ReadUnlock releases one hold of the checkpoint read-lock, waking a
// waiting checkpointer once the last reader drains.
func (c *Controller) ReadUnlock() {
	c.mu.Lock()
	c.readers--
	if c.readers < 0 {
		c.readers = 0
	}
	if c.readers == 0 {
		c.cond.Broadcast()
	}
	c.mu.Unlock()
}
