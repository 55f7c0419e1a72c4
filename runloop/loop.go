// Package runloop provides the single-goroutine task loops that the transport
// runtime schedules all socket and protocol work onto.
//
// A Loop is a long-lived goroutine draining an unbounded FIFO queue of tasks.
// All state handed to a loop is owned by that loop: callers never touch it
// directly, they post closures instead. This gives the same thread-affinity
// guarantees a native message pump would, without any locking in the code that
// runs on the loop.
//
// Example:
//
//	io := runloop.New("io")
//	defer io.Stop()
//
//	io.Post(func() {
//	    // runs on the io loop goroutine
//	})
package runloop

import (
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrStopped is returned by Post and PostDelayed once the loop has been
// stopped. Tasks already queued before Stop still run.
var ErrStopped = errors.New("runloop: loop is stopped")

// Task is a unit of work executed on the loop goroutine.
type Task func()

// Loop is a single-goroutine cooperative task queue. The zero value is not
// usable; create loops with New.
type Loop struct {
	name string

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []Task
	stopped bool

	done chan struct{}
}

// New creates a loop and starts its goroutine immediately.
func New(name string) *Loop {
	l := &Loop{
		name: name,
		done: make(chan struct{}),
	}
	l.cond = sync.NewCond(&l.mu)

	go l.run()

	logrus.WithFields(logrus.Fields{
		"function": "runloop.New",
		"loop":     name,
	}).Debug("Run loop started")

	return l
}

// Name returns the name the loop was created with.
func (l *Loop) Name() string {
	return l.name
}

// Post appends a task to the loop's queue. It never blocks: the queue is
// unbounded, so a task running on the loop may safely post to its own loop.
func (l *Loop) Post(t Task) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stopped {
		return ErrStopped
	}
	l.queue = append(l.queue, t)
	l.cond.Signal()
	return nil
}

// PostDelayed schedules a task to be posted to the loop after d has elapsed.
// If the loop stops before the delay fires, the task is dropped.
func (l *Loop) PostDelayed(t Task, d time.Duration) error {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return ErrStopped
	}
	l.mu.Unlock()

	time.AfterFunc(d, func() {
		// The loop may have stopped in the meantime; Post handles that.
		_ = l.Post(t)
	})
	return nil
}

// Stop prevents further posts, lets already-queued tasks finish, and waits for
// the loop goroutine to exit. It is idempotent. Stop must not be called from a
// task running on the loop itself.
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.stopped {
		l.stopped = true
		l.cond.Signal()
	}
	l.mu.Unlock()

	<-l.done

	logrus.WithFields(logrus.Fields{
		"function": "Loop.Stop",
		"loop":     l.name,
	}).Debug("Run loop stopped")
}

func (l *Loop) run() {
	for {
		l.mu.Lock()
		for len(l.queue) == 0 && !l.stopped {
			l.cond.Wait()
		}
		if len(l.queue) == 0 {
			// Stopped and drained.
			l.mu.Unlock()
			close(l.done)
			return
		}
		t := l.queue[0]
		l.queue = l.queue[1:]
		l.mu.Unlock()

		t()
	}
}
