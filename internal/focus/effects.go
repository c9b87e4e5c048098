package focus

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// effect is a side effect decided by the scheduler and executed outside of
// it. Effects run strictly in the order they were queued.
type effect struct {
	op          string
	cause       string
	enforcement bool
	run         func(ctx context.Context) error
	done        chan error
}

// effectQueue is an unbounded FIFO drained by a single worker, so queueing
// never blocks the scheduler goroutine.
type effectQueue struct {
	mu      sync.Mutex
	items   []effect
	closed  bool
	wake    chan struct{}
	drained chan struct{}

	timeout  time.Duration
	logger   zerolog.Logger
	onResult func(e effect, err error)
}

func newEffectQueue(timeout time.Duration, logger zerolog.Logger, onResult func(effect, error)) *effectQueue {
	return &effectQueue{
		wake:     make(chan struct{}, 1),
		drained:  make(chan struct{}),
		timeout:  timeout,
		logger:   logger,
		onResult: onResult,
	}
}

func (q *effectQueue) push(e effect) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		if e.done != nil {
			e.done <- ErrStopped
		}
		return
	}
	q.items = append(q.items, e)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// close stops accepting effects; queued ones still run.
func (q *effectQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *effectQueue) next() (effect, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			e := q.items[0]
			q.items[0] = effect{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return e, true
		}
		if q.closed {
			q.mu.Unlock()
			return effect{}, false
		}
		q.mu.Unlock()
		<-q.wake
	}
}

func (q *effectQueue) run() {
	defer close(q.drained)

	for {
		e, ok := q.next()
		if !ok {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
		err := e.run(ctx)
		cancel()

		if err != nil {
			q.logger.Error().
				Err(err).
				Str("op", e.op).
				Str("cause", e.cause).
				Msg("Side effect failed")
		} else {
			q.logger.Debug().
				Str("op", e.op).
				Str("cause", e.cause).
				Msg("Side effect completed")
		}

		if q.onResult != nil {
			q.onResult(e, err)
		}
		if e.done != nil {
			e.done <- err
		}
	}
}
