// Package pool implements a bounded pool of expensive external handles with
// pre-warming, health-checked reuse and background idle eviction. There is
// deliberately no wait queue: when the pool is exhausted, Acquire fails
// immediately with ErrExhausted and the caller decides whether to retry.
package pool

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/taskmesh/taskmesh/logging"
)

var (
	// ErrExhausted is returned by Acquire when every slot is in use.
	ErrExhausted = errors.New("pool exhausted")
	// ErrClosed is returned by Acquire after Stop.
	ErrClosed = errors.New("pool closed")
)

// Factory creates a new pooled resource.
type Factory[T any] func(ctx context.Context) (T, error)

// Options configures a Pool.
type Options[T any] struct {
	// MinSize is the number of resources pre-warmed by Start. Creation
	// failures during pre-warm are logged; the pool may start
	// under-provisioned.
	MinSize int

	// MaxSize bounds in-use + idle resources. Defaults to 4.
	MaxSize int

	// MaxIdleTime is how long a resource may sit idle before the eviction
	// loop (or the next Acquire) discards it. Zero disables idle expiry.
	MaxIdleTime time.Duration

	// EvictInterval is the period of the background eviction loop. Defaults
	// to one minute when MaxIdleTime is set.
	EvictInterval time.Duration

	// HealthCheck, when set, is consulted before reusing an idle resource.
	// Unhealthy resources are closed and replaced.
	HealthCheck func(T) bool

	// Close releases a resource permanently. Optional.
	Close func(T)

	// Logger defaults to NoOp.
	Logger logging.Logger
}

type pooled[T any] struct {
	handle    T
	created   time.Time
	idleSince time.Time
}

// Pool is a generic resource pool safe for concurrent use.
//
// Invariant: in-use + idle never exceeds MaxSize.
type Pool[T any] struct {
	factory Factory[T]
	opts    Options[T]

	mu     sync.Mutex
	idle   []*pooled[T]
	inUse  int
	closed bool

	created   uint64
	discarded uint64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Stats is a point-in-time snapshot of pool counters.
type Stats struct {
	Idle      int    `json:"idle"`
	InUse     int    `json:"in_use"`
	MaxSize   int    `json:"max_size"`
	Created   uint64 `json:"created"`
	Discarded uint64 `json:"discarded"`
}

// Lease is a scoped hold on one pooled resource. Exactly one of Release,
// Discard or Detach must be called.
type Lease[T any] struct {
	Handle T

	pool *Pool[T]
	rec  *pooled[T]
	done bool
}

// New creates a pool around the given factory with optional overrides.
func New[T any](factory Factory[T], optFns ...func(o *Options[T])) *Pool[T] {
	opts := Options[T]{
		MaxSize: 4,
		Logger:  logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxSize <= 0 {
		opts.MaxSize = 4
	}
	if opts.MinSize > opts.MaxSize {
		opts.MinSize = opts.MaxSize
	}
	if opts.EvictInterval <= 0 {
		opts.EvictInterval = time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	return &Pool[T]{factory: factory, opts: opts}
}

// Start pre-warms MinSize resources and launches the idle-eviction loop.
// Pre-warm failures are logged, not fatal.
func (p *Pool[T]) Start(ctx context.Context) {
	for i := 0; i < p.opts.MinSize; i++ {
		handle, err := p.factory(ctx)
		if err != nil {
			p.opts.Logger.Warn("pool pre-warm failed", "error", err)
			continue
		}
		now := time.Now()
		p.mu.Lock()
		p.idle = append(p.idle, &pooled[T]{handle: handle, created: now, idleSince: now})
		p.created++
		p.mu.Unlock()
	}

	if p.opts.MaxIdleTime <= 0 {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.opts.EvictInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := p.EvictIdle(); n > 0 {
					p.opts.Logger.Debug("pool evicted idle resources", "count", n)
				}
			}
		}
	}()
}

// Acquire returns a lease on a resource: an idle one when available and
// healthy, a fresh one while capacity remains, ErrExhausted otherwise.
func (p *Pool[T]) Acquire(ctx context.Context) (*Lease[T], error) {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrClosed
		}

		if n := len(p.idle); n > 0 {
			rec := p.idle[n-1]
			p.idle = p.idle[:n-1]
			stale := p.opts.MaxIdleTime > 0 && time.Since(rec.idleSince) > p.opts.MaxIdleTime
			if stale || (p.opts.HealthCheck != nil && !p.opts.HealthCheck(rec.handle)) {
				p.discarded++
				p.mu.Unlock()
				p.closeHandle(rec.handle)
				continue
			}
			p.inUse++
			p.mu.Unlock()
			return &Lease[T]{Handle: rec.handle, pool: p, rec: rec}, nil
		}

		if p.inUse >= p.opts.MaxSize {
			p.mu.Unlock()
			return nil, ErrExhausted
		}

		// Reserve the slot before creating so the size invariant holds while
		// the factory runs outside the lock.
		p.inUse++
		p.mu.Unlock()

		handle, err := p.factory(ctx)
		if err != nil {
			p.mu.Lock()
			p.inUse--
			p.mu.Unlock()
			return nil, err
		}
		p.mu.Lock()
		p.created++
		p.mu.Unlock()
		return &Lease[T]{Handle: handle, pool: p, rec: &pooled[T]{handle: handle, created: time.Now()}}, nil
	}
}

// Release returns the resource to the idle list if the pool is open and the
// resource passes the health check; otherwise the resource is closed.
func (l *Lease[T]) Release() {
	if l.done {
		return
	}
	l.done = true
	p := l.pool

	p.mu.Lock()
	p.inUse--
	healthy := p.opts.HealthCheck == nil || p.opts.HealthCheck(l.Handle)
	if p.closed || !healthy || len(p.idle)+p.inUse >= p.opts.MaxSize {
		p.discarded++
		p.mu.Unlock()
		p.closeHandle(l.Handle)
		return
	}
	l.rec.idleSince = time.Now()
	p.idle = append(p.idle, l.rec)
	p.mu.Unlock()
}

// Discard closes the resource instead of returning it, freeing its slot.
func (l *Lease[T]) Discard() {
	if l.done {
		return
	}
	l.done = true
	p := l.pool
	p.mu.Lock()
	p.inUse--
	p.discarded++
	p.mu.Unlock()
	p.closeHandle(l.Handle)
}

// Detach transfers ownership of the resource to the caller. The pool frees
// the slot and forgets the handle entirely.
func (l *Lease[T]) Detach() T {
	if !l.done {
		l.done = true
		p := l.pool
		p.mu.Lock()
		p.inUse--
		p.mu.Unlock()
	}
	return l.Handle
}

// EvictIdle discards every idle resource that exceeded MaxIdleTime and
// returns how many were discarded.
func (p *Pool[T]) EvictIdle() int {
	if p.opts.MaxIdleTime <= 0 {
		return 0
	}
	now := time.Now()

	p.mu.Lock()
	var keep []*pooled[T]
	var evict []*pooled[T]
	for _, rec := range p.idle {
		if now.Sub(rec.idleSince) > p.opts.MaxIdleTime {
			evict = append(evict, rec)
		} else {
			keep = append(keep, rec)
		}
	}
	p.idle = keep
	p.discarded += uint64(len(evict))
	p.mu.Unlock()

	for _, rec := range evict {
		p.closeHandle(rec.handle)
	}
	return len(evict)
}

// Stats returns a snapshot of pool counters.
func (p *Pool[T]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Idle:      len(p.idle),
		InUse:     p.inUse,
		MaxSize:   p.opts.MaxSize,
		Created:   p.created,
		Discarded: p.discarded,
	}
}

// Stop closes all idle resources, rejects further acquires and cancels the
// eviction loop. Resources currently leased are closed when released.
func (p *Pool[T]) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	for _, rec := range idle {
		p.closeHandle(rec.handle)
	}
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

func (p *Pool[T]) closeHandle(handle T) {
	if p.opts.Close != nil {
		p.opts.Close(handle)
	}
}
