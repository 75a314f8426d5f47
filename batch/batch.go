// Package batch provides a micro-batching helper: items submitted to a
// bounded queue are accumulated and flushed either when the batch reaches a
// size threshold or when a maximum wait has elapsed since the first
// unflushed item, whichever comes first. Producers block when the queue is
// full; backpressure is explicit rather than silent drop.
package batch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/taskmesh/taskmesh/logging"
)

// ErrStopped is returned by Submit after Stop.
var ErrStopped = errors.New("batch processor stopped")

// FlushFunc receives each completed batch. It runs on the processor's
// background goroutine; a panic is caught and logged.
type FlushFunc[T any] func(ctx context.Context, items []T)

// Options configures a Processor.
type Options struct {
	// MaxBatch is the size threshold triggering a flush. Defaults to 16.
	MaxBatch int
	// MaxWait bounds how long the first item of a batch waits before a
	// partial flush. Defaults to one second.
	MaxWait time.Duration
	// QueueSize is the bounded input queue capacity. Defaults to 4*MaxBatch.
	QueueSize int
	// Logger defaults to NoOp.
	Logger logging.Logger
}

// Processor accumulates items into batches on a background loop.
type Processor[T any] struct {
	flush FlushFunc[T]
	opts  Options

	input    chan T
	done     chan struct{}
	stopOnce sync.Once

	wg sync.WaitGroup
}

// New creates a processor delivering batches to flush.
func New[T any](flush FlushFunc[T], optFns ...func(o *Options)) *Processor[T] {
	opts := Options{
		MaxBatch: 16,
		MaxWait:  time.Second,
		Logger:   logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxBatch <= 0 {
		opts.MaxBatch = 16
	}
	if opts.MaxWait <= 0 {
		opts.MaxWait = time.Second
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = opts.MaxBatch * 4
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	return &Processor[T]{
		flush: flush,
		opts:  opts,
		input: make(chan T, opts.QueueSize),
		done:  make(chan struct{}),
	}
}

// Start launches the background flush loop.
func (p *Processor[T]) Start(ctx context.Context) {
	p.wg.Add(1)
	go p.run(ctx)
}

// Submit enqueues one item, blocking while the queue is full. It fails once
// the processor is stopped or ctx is done. A producer blocked on a full
// queue is released with ErrStopped when Stop runs.
func (p *Processor[T]) Submit(ctx context.Context, item T) error {
	select {
	case <-p.done:
		return ErrStopped
	default:
	}

	select {
	case p.input <- item:
		return nil
	case <-p.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop signals shutdown, waits for the loop to drain already-queued items
// and flush the partial batch, then returns. The input channel is never
// closed, so a Submit racing Stop fails with ErrStopped instead of
// panicking.
func (p *Processor[T]) Stop() {
	p.stopOnce.Do(func() { close(p.done) })
	p.wg.Wait()
}

func (p *Processor[T]) run(ctx context.Context) {
	defer p.wg.Done()

	var buf []T
	timer := time.NewTimer(p.opts.MaxWait)
	if !timer.Stop() {
		<-timer.C
	}

	doFlush := func() {
		if len(buf) == 0 {
			return
		}
		items := buf
		buf = nil
		p.safeFlush(ctx, items)
	}

	for {
		select {
		case <-p.done:
			timer.Stop()
			// Drain items queued before shutdown, then flush what remains.
			for {
				select {
				case item := <-p.input:
					buf = append(buf, item)
					if len(buf) >= p.opts.MaxBatch {
						doFlush()
					}
				default:
					doFlush()
					return
				}
			}
		case item := <-p.input:
			buf = append(buf, item)
			if len(buf) == 1 {
				timer.Reset(p.opts.MaxWait)
			}
			if len(buf) >= p.opts.MaxBatch {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				doFlush()
			}
		case <-timer.C:
			doFlush()
		}
	}
}

// safeFlush shields the loop from a panicking flush callback.
func (p *Processor[T]) safeFlush(ctx context.Context, items []T) {
	defer func() {
		if r := recover(); r != nil {
			p.opts.Logger.Error("batch flush panicked", "panic", r, "batch_size", len(items))
		}
	}()
	p.flush(ctx, items)
}
