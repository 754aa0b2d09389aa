package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startLoop(t *testing.T) *Loop {
	t.Helper()

	loop := New(Options{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		loop.Run(ctx)
		close(done)
	}()

	t.Cleanup(func() {
		cancel()
		<-done
	})

	return loop
}

func TestPost_RunsOnMainThread(t *testing.T) {
	loop := startLoop(t)

	got := make(chan bool, 1)
	loop.Post(func() {
		got <- loop.IsMainThread()
	})

	select {
	case onMain := <-got:
		assert.True(t, onMain, "posted work must observe the main thread")
	case <-time.After(time.Second):
		t.Fatal("posted work never ran")
	}
}

func TestDispatch_ReturnsResult(t *testing.T) {
	loop := startLoop(t)

	v, err := Dispatch(loop, func() (int, error) {
		require.True(t, loop.IsMainThread())
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestDispatch_FromMainThreadRunsInline(t *testing.T) {
	loop := startLoop(t)

	// The inner dispatch must not enqueue: if it did, it would wait on
	// a loop that is busy running the outer dispatch and deadlock.
	v, err := Dispatch(loop, func() (string, error) {
		inner, err := Dispatch(loop, func() (string, error) {
			return "inline", nil
		})
		return inner, err
	})

	require.NoError(t, err)
	assert.Equal(t, "inline", v)
}

func TestDispatch_ManyThreads(t *testing.T) {
	loop := startLoop(t)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			v, err := Dispatch(loop, func() (int, error) {
				assert.True(t, loop.IsMainThread())
				return n * 2, nil
			})
			assert.NoError(t, err)
			assert.Equal(t, n*2, v)
		}(i)
	}
	wg.Wait()
}

func TestDispatch_PropagatesError(t *testing.T) {
	loop := startLoop(t)

	wantErr := assert.AnError
	_, err := Dispatch(loop, func() (int, error) {
		return 0, wantErr
	})

	assert.ErrorIs(t, err, wantErr)
}

func TestDispatch_RecoversPanic(t *testing.T) {
	loop := startLoop(t)

	_, err := Dispatch(loop, func() (int, error) {
		panic("boom")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	// The loop survived the panic.
	v, err := Dispatch(loop, func() (int, error) { return 1, nil })
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestDispatch_AfterShutdownFailsFast(t *testing.T) {
	loop := New(Options{})
	done := make(chan struct{})
	go func() {
		loop.Run(context.Background())
		close(done)
	}()

	loop.Quit()
	<-done

	_, err := Dispatch(loop, func() (int, error) { return 0, nil })
	assert.ErrorIs(t, err, ErrLoopTerminated)
}

func TestShutdown_NeverLosesQueuedWork(t *testing.T) {
	loop := New(Options{})

	// Not running yet: dispatches pile up in the queue.
	errs := make(chan error, 3)
	for i := 0; i < 3; i++ {
		go func() {
			_, err := Dispatch(loop, func() (int, error) { return 0, nil })
			errs <- err
		}()
	}

	// Give the dispatchers time to enqueue, then run a loop that quits
	// immediately. Each queued unit either ran before the quit was
	// observed or was abandoned at shutdown; none may hang.
	time.Sleep(50 * time.Millisecond)
	loop.Quit()
	loop.Run(context.Background())

	for i := 0; i < 3; i++ {
		select {
		case err := <-errs:
			if err != nil {
				assert.ErrorIs(t, err, ErrLoopTerminated)
			}
		case <-time.After(time.Second):
			t.Fatal("queued dispatch neither ran nor was abandoned")
		}
	}
}

func TestPost_AfterShutdownIsDiscarded(t *testing.T) {
	loop := New(Options{})
	done := make(chan struct{})
	go func() {
		loop.Run(context.Background())
		close(done)
	}()
	loop.Quit()
	<-done

	// Must not panic or block.
	loop.Post(func() {
		t.Error("discarded work must not run")
	})
	time.Sleep(20 * time.Millisecond)
}

func TestIsMainThread_FalseElsewhere(t *testing.T) {
	loop := startLoop(t)

	assert.False(t, loop.IsMainThread())

	err := loop.Invoke(func() error {
		assert.True(t, loop.IsMainThread())
		return nil
	})
	require.NoError(t, err)
}

func TestDispatch_NeverHangsAcrossShutdown(t *testing.T) {
	// Stress the enqueue/terminate boundary: with a tiny queue and
	// workers dispatching while the loop quits, every Dispatch must
	// return (with a result or ErrLoopTerminated), never block on a
	// unit that slipped into the queue after the shutdown drain.
	for i := 0; i < 50; i++ {
		loop := New(Options{QueueSize: 1})
		loopDone := make(chan struct{})
		go func() {
			loop.Run(context.Background())
			close(loopDone)
		}()

		var wg sync.WaitGroup
		for w := 0; w < 8; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 16; j++ {
					_, err := Dispatch(loop, func() (int, error) { return j, nil })
					if err != nil {
						assert.ErrorIs(t, err, ErrLoopTerminated)
						return
					}
				}
			}()
		}

		loop.Quit()
		<-loopDone

		finished := make(chan struct{})
		go func() {
			wg.Wait()
			close(finished)
		}()
		select {
		case <-finished:
		case <-time.After(5 * time.Second):
			t.Fatal("dispatch hung after loop termination")
		}
	}
}

func TestPumpUntil_RunsWorkWhileWaiting(t *testing.T) {
	loop := startLoop(t)

	err := loop.Invoke(func() error {
		done := make(chan struct{})
		ran := false

		// Posted from another thread while the main thread is parked
		// in PumpUntil; the work must execute before done releases it.
		go func() {
			loop.Post(func() { ran = true })
			loop.Post(func() { close(done) })
		}()

		loop.PumpUntil(done)
		assert.True(t, ran)
		return nil
	})
	require.NoError(t, err)
}

func TestPump_RunsQueuedWork(t *testing.T) {
	loop := startLoop(t)

	err := loop.Invoke(func() error {
		ran := false
		// Queue bypasses Run while we hold the loop, so Pump picks the
		// unit up.
		loop.Post(func() { ran = true })

		require.True(t, loop.Pump())
		assert.True(t, ran)
		assert.False(t, loop.Pump(), "queue should be drained")
		return nil
	})
	require.NoError(t, err)
}
