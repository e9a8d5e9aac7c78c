package batch

import (
	"context"
	"errors"
	"time"
)

// Operation is a single deferred write. Execute is the one-at-a-time
// fallback; processors usually coalesce a whole batch instead.
type Operation interface {
	Execute(ctx context.Context) error
}

// Processor flushes an accumulated batch in one shot.
type Processor interface {
	ProcessBatch(ctx context.Context, operations []Operation) error
}

var ErrStopped = errors.New("batcher stopped")

// Batcher accumulates operations and flushes them when the batch fills
// or the interval elapses, whichever comes first. A single goroutine
// owns the pending slice; Add hands operations to it over a channel.
type Batcher struct {
	size      int
	interval  time.Duration
	processor Processor

	incoming chan Operation
	stop     chan struct{}
	done     chan struct{}
}

func NewBatcher(size int, interval time.Duration, processor Processor) *Batcher {
	b := &Batcher{
		size:      size,
		interval:  interval,
		processor: processor,
		incoming:  make(chan Operation, size),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go b.run()
	return b
}

// Add queues an operation for the next flush. Returns ErrStopped after
// Stop; writes at that point would be lost silently otherwise.
func (b *Batcher) Add(op Operation) error {
	select {
	case <-b.done:
		return ErrStopped
	case b.incoming <- op:
		return nil
	}
}

// Stop flushes whatever is pending and shuts the flush goroutine down.
// Safe to call once; Add fails afterwards.
func (b *Batcher) Stop() {
	close(b.stop)
	<-b.done
}

func (b *Batcher) run() {
	defer close(b.done)

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	pending := make([]Operation, 0, b.size)

	flush := func() {
		if len(pending) == 0 {
			return
		}
		// Best effort. Mirror data is advisory and re-written on the
		// next presence change, so a failed flush is dropped.
		_ = b.processor.ProcessBatch(context.Background(), pending)
		pending = make([]Operation, 0, b.size)
	}

	for {
		select {
		case op := <-b.incoming:
			pending = append(pending, op)
			if len(pending) >= b.size {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-b.stop:
			// Drain anything racing with Stop, then final flush.
			for {
				select {
				case op := <-b.incoming:
					pending = append(pending, op)
				default:
					flush()
					return
				}
			}
		}
	}
}
