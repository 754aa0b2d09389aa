// Package dispatch implements the single-owner main-loop thread model
// shared by every webview backend.
//
// One Loop owns one OS thread. All mutable native/UI state belongs to
// that thread; code running elsewhere marshals onto it with Post (fire
// and continue) or Dispatch (run and wait for a typed result). This is
// the only synchronization mechanism the rest of the core relies on.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// ErrLoopTerminated is returned by Dispatch and Invoke when the target
// loop has already shut down. Waiters fail fast instead of hanging.
var ErrLoopTerminated = errors.New("dispatch: loop terminated")

const defaultQueueSize = 128

// work is one queued unit. abandon is invoked instead of run when the
// loop shuts down with the unit still queued, so waiters are failed
// rather than silently dropped.
type work struct {
	run     func()
	abandon func()
}

// Options configures a Loop.
type Options struct {
	// QueueSize is the capacity of the run queue. Post blocks once the
	// queue is full. Defaults to 128.
	QueueSize int
	// Logger receives loop lifecycle and discard diagnostics.
	Logger zerolog.Logger
}

// Loop is a main-loop dispatcher. The goroutine that calls Run becomes
// the main thread until Run returns.
type Loop struct {
	queue chan work
	quit  chan struct{}

	// mu guards closed and is held across every queue send, so a unit
	// can never land in the queue after terminate has drained it.
	mu     sync.Mutex
	closed bool

	goid     atomic.Uint64
	quitOnce sync.Once
	log      zerolog.Logger
}

// New creates a Loop. The loop does not process work until Run is
// called; Post before Run enqueues for later.
func New(opts Options) *Loop {
	size := opts.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}

	return &Loop{
		queue: make(chan work, size),
		quit:  make(chan struct{}),
		log:   opts.Logger,
	}
}

// Run pumps the loop on the calling goroutine until Quit is called or
// ctx is cancelled. The goroutine is locked to its OS thread for the
// duration, as native toolkits require. Queued work left behind at
// shutdown is abandoned, failing any waiters.
func (l *Loop) Run(ctx context.Context) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	l.goid.Store(goid())
	l.log.Debug().Msg("main loop running")

	defer l.terminate()

	for {
		select {
		case w := <-l.queue:
			w.run()
		case <-l.quit:
			return
		case <-ctx.Done():
			return
		}
	}
}

// terminate marks the loop dead and drains the queue, abandoning every
// unit still waiting. A sender may hold mu blocked on a full queue, so
// the drain runs while the lock is acquired; once closed is set under
// the lock, no further send can happen and the final drain leaves the
// queue empty for good.
func (l *Loop) terminate() {
	l.goid.Store(0)

	for !l.mu.TryLock() {
		if !l.drainOne() {
			runtime.Gosched()
		}
	}
	l.closed = true
	l.mu.Unlock()

	for l.drainOne() {
	}
	l.log.Debug().Msg("main loop terminated")
}

// drainOne abandons one queued unit, reporting whether there was one.
func (l *Loop) drainOne() bool {
	select {
	case w := <-l.queue:
		if w.abandon != nil {
			w.abandon()
		}
		return true
	default:
		return false
	}
}

// Quit stops the loop. Safe to call from any thread, more than once.
func (l *Loop) Quit() {
	l.quitOnce.Do(func() {
		close(l.quit)
	})
}

// IsMainThread reports whether the caller runs on the loop goroutine.
// Always false before Run and after shutdown.
func (l *Loop) IsMainThread() bool {
	id := l.goid.Load()
	return id != 0 && id == goid()
}

// Post enqueues fn to run on the main loop and returns immediately.
// After shutdown the unit is discarded silently (debug-logged), never
// a crash.
func (l *Loop) Post(fn func()) {
	l.enqueue(work{run: fn})
}

// enqueue reports whether the unit was accepted. A unit accepted into
// the queue is guaranteed to be either run or abandoned, never lost:
// the send happens under mu, and terminate only performs its final
// drain after taking mu and setting closed.
func (l *Loop) enqueue(w work) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		l.log.Debug().Msg("post discarded, loop terminated")
		return false
	}

	// May block on a full queue; the loop is still pumping (or
	// terminate is draining while it waits for mu), so the send always
	// makes progress and the unit is always observed.
	l.queue <- w
	return true
}

// Invoke runs fn on the main loop and blocks until it returns,
// propagating its error. When called from the loop itself fn runs
// inline, so a main-thread caller can never deadlock on its own loop.
func (l *Loop) Invoke(fn func() error) error {
	_, err := Dispatch(l, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// Dispatch runs fn on loop's main thread and blocks the caller until
// it completes, returning fn's result. Called from the main thread it
// executes fn synchronously in place. A panic inside fn is recovered
// into an error so the loop keeps pumping.
func Dispatch[T any](l *Loop, fn func() (T, error)) (T, error) {
	if l.IsMainThread() {
		return protect(fn)
	}

	type outcome struct {
		value T
		err   error
	}

	res := make(chan outcome, 1)

	accepted := l.enqueue(work{
		run: func() {
			v, err := protect(fn)
			res <- outcome{value: v, err: err}
		},
		abandon: func() {
			var zero T
			res <- outcome{value: zero, err: ErrLoopTerminated}
		},
	})

	if !accepted {
		var zero T
		return zero, ErrLoopTerminated
	}

	out := <-res
	return out.value, out.err
}

// Pump runs all currently queued work. It must be called from the main
// thread (typically from inside a callback that needs to keep the loop
// live while waiting, like the sync scheme launch policy) and returns
// whether anything was executed.
func (l *Loop) Pump() bool {
	if !l.IsMainThread() {
		panic("dispatch: Pump called off the main thread")
	}

	ran := false
	for {
		select {
		case w := <-l.queue:
			w.run()
			ran = true
		default:
			return ran
		}
	}
}

// PumpUntil pumps the loop from the main thread until done is closed.
// Unlike Pump it blocks when the queue is empty, so work posted from
// other threads keeps executing while the caller waits on done.
func (l *Loop) PumpUntil(done <-chan struct{}) {
	if !l.IsMainThread() {
		panic("dispatch: PumpUntil called off the main thread")
	}

	for {
		select {
		case <-done:
			return
		case w := <-l.queue:
			w.run()
		}
	}
}

// protect runs fn converting panics into errors.
func protect[T any](fn func() (T, error)) (value T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispatch: panic: %v", r)
		}
	}()
	return fn()
}
