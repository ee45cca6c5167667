package app

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"
)

func TestEffectsRunInOrder(t *testing.T) {
	e := NewEffects(NewLogger(io.Discard))
	defer e.Close()

	var order []int
	done := make(chan struct{})
	for i := 1; i <= 3; i++ {
		i := i
		e.Do("step", func(ctx context.Context) error {
			order = append(order, i)
			if i == 3 {
				close(done)
			}
			return nil
		})
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("effects never ran")
	}
	if len(order) != 3 || order[0] != 1 || order[2] != 3 {
		t.Errorf("order = %v", order)
	}
}

func TestEffectsReportFailures(t *testing.T) {
	e := NewEffects(NewLogger(io.Discard))
	defer e.Close()

	boom := errors.New("boom")
	e.Do("persist message", func(ctx context.Context) error { return boom })

	select {
	case ee := <-e.Errors():
		if ee.Op != "persist message" || !errors.Is(ee.Err, boom) {
			t.Errorf("effect error = %+v", ee)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no error reported")
	}
}

func TestEffectsFailureDoesNotStopQueue(t *testing.T) {
	e := NewEffects(NewLogger(io.Discard))
	defer e.Close()

	var ran atomic.Bool
	e.Do("fails", func(ctx context.Context) error { return errors.New("nope") })
	e.Do("runs", func(ctx context.Context) error { ran.Store(true); return nil })

	deadline := time.Now().Add(2 * time.Second)
	for !ran.Load() {
		if time.Now().After(deadline) {
			t.Fatal("second effect never ran")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEffectsCloseDrainsAndRejectsLateWork(t *testing.T) {
	e := NewEffects(NewLogger(io.Discard))

	var count atomic.Int32
	for i := 0; i < 5; i++ {
		e.Do("n", func(ctx context.Context) error { count.Add(1); return nil })
	}
	e.Close()
	if got := count.Load(); got != 5 {
		t.Errorf("ran %d effects before close returned, want 5", got)
	}

	// After Close, Do is a no-op rather than a panic.
	e.Do("late", func(ctx context.Context) error { count.Add(1); return nil })
	e.Close()
	if got := count.Load(); got != 5 {
		t.Errorf("late effect ran: %d", got)
	}
}
