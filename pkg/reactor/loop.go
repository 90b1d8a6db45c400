package reactor

import (
	"sync"
	"sync/atomic"
	"time"
)

// Loop is the concrete Reactor: a goroutine draining a buffered channel of
// posted closures. Post plays the role of an event-loop's post/dispatch
// primitive, AfterFunc the role of a one-shot timer callback.
type Loop struct {
	tasks  chan func()
	done   chan struct{}
	once   sync.Once
	closed chan struct{}
}

// NewLoop starts a Loop and its dispatch goroutine.
func NewLoop() *Loop {
	l := &Loop{
		tasks:  make(chan func(), 256),
		done:   make(chan struct{}),
		closed: make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *Loop) run() {
	defer close(l.closed)
	for {
		select {
		case fn := <-l.tasks:
			fn()
		case <-l.done:
			return
		}
	}
}

// Post schedules fn to run on the loop goroutine. Safe to call from any
// goroutine, including from within a previously posted fn.
func (l *Loop) Post(fn func()) {
	select {
	case l.tasks <- fn:
	case <-l.done:
	}
}

// AfterFunc arms a timer that posts fn to the loop when it fires.
func (l *Loop) AfterFunc(d time.Duration, fn func()) Timer {
	t := &loopTimer{loop: l, fn: fn}
	t.arm(d)
	return t
}

// Close stops the dispatch goroutine. It does not wait for in-flight posted
// work to drain; callers that need that guarantee should post a final task
// that signals completion before calling Close.
func (l *Loop) Close() {
	l.once.Do(func() {
		close(l.done)
	})
}

type loopTimer struct {
	loop  *Loop
	fn    func()
	timer *time.Timer
	gen   atomic.Uint64
}

// arm starts a fresh underlying timer tagged with a new generation. A fire
// already posted to the loop when Stop or Reset runs sees a stale
// generation and does nothing.
func (t *loopTimer) arm(d time.Duration) {
	gen := t.gen.Add(1)
	t.timer = time.AfterFunc(d, func() {
		t.loop.Post(func() {
			if t.gen.Load() == gen {
				t.fn()
			}
		})
	})
}

func (t *loopTimer) Stop() {
	t.gen.Add(1)
	t.timer.Stop()
}

func (t *loopTimer) Reset(d time.Duration) {
	t.timer.Stop()
	t.arm(d)
}
