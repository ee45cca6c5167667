package app

import (
	"context"
	"sync"
	"time"
)

// Effect is one queued persistence write. Effects run sequentially in the
// order they were enqueued so a conversation's message and preview writes
// cannot race each other.
type Effect struct {
	Op  string
	Run func(ctx context.Context) error
}

// EffectError pairs a failed effect with its operation name so the UI can
// show a non-fatal notice instead of crashing the conversation.
type EffectError struct {
	Op  string
	Err error
}

// Effects is the background runner for best-effort writes. Failures are
// logged and reported on Errors; they never propagate to the caller that
// enqueued the effect.
type Effects struct {
	logger *Logger

	mu     sync.Mutex
	closed bool
	queue  chan Effect
	errs   chan EffectError
	wg     sync.WaitGroup

	// Timeout bounds each effect so one hung write cannot stall the queue.
	Timeout time.Duration
}

func NewEffects(logger *Logger) *Effects {
	e := &Effects{
		logger:  logger,
		queue:   make(chan Effect, 64),
		errs:    make(chan EffectError, 16),
		Timeout: 30 * time.Second,
	}
	e.wg.Add(1)
	go e.run()
	return e
}

func (e *Effects) run() {
	defer e.wg.Done()
	for effect := range e.queue {
		if effect.Run == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), e.Timeout)
		err := effect.Run(ctx)
		cancel()
		if err == nil {
			continue
		}
		if e.logger != nil {
			e.logger.Error("persistence effect failed", map[string]interface{}{
				"op":    effect.Op,
				"error": err.Error(),
			})
		}
		select {
		case e.errs <- EffectError{Op: effect.Op, Err: err}:
		default:
			// Nobody is draining; the log line above is the record.
		}
	}
}

// Do enqueues an effect. After Close it is a silent no-op.
func (e *Effects) Do(op string, run func(ctx context.Context) error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.queue <- Effect{Op: op, Run: run}
}

// Errors exposes the failure channel for UIs that surface write problems.
func (e *Effects) Errors() <-chan EffectError {
	return e.errs
}

// Close stops accepting work, drains what is queued, and waits for the
// runner to exit. Safe to call more than once.
func (e *Effects) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	close(e.queue)
	e.mu.Unlock()
	e.wg.Wait()
}
