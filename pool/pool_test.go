package pool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	id      int
	healthy bool
	closed  bool
}

func countingFactory(counter *atomic.Int32) Factory[*fakeConn] {
	return func(context.Context) (*fakeConn, error) {
		id := int(counter.Add(1))
		return &fakeConn{id: id, healthy: true}, nil
	}
}

func TestPool_AcquireRelease(t *testing.T) {
	var created atomic.Int32
	p := New(countingFactory(&created))

	lease, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, lease.Handle.id)
	assert.Equal(t, 1, p.Stats().InUse)

	lease.Release()
	assert.Equal(t, 0, p.Stats().InUse)
	assert.Equal(t, 1, p.Stats().Idle)

	// Released resource is reused, not recreated.
	lease2, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, lease2.Handle.id)
	assert.Equal(t, int32(1), created.Load())
	lease2.Release()
}

func TestPool_Exhausted(t *testing.T) {
	var created atomic.Int32
	p := New(countingFactory(&created), func(o *Options[*fakeConn]) {
		o.MaxSize = 2
	})

	l1, err := p.Acquire(context.Background())
	require.NoError(t, err)
	l2, err := p.Acquire(context.Background())
	require.NoError(t, err)

	_, err = p.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrExhausted)

	l1.Release()
	l3, err := p.Acquire(context.Background())
	require.NoError(t, err)

	l2.Release()
	l3.Release()
}

func TestPool_FactoryErrorFreesSlot(t *testing.T) {
	boom := errors.New("boom")
	fail := true
	p := New(func(context.Context) (*fakeConn, error) {
		if fail {
			return nil, boom
		}
		return &fakeConn{healthy: true}, nil
	}, func(o *Options[*fakeConn]) {
		o.MaxSize = 1
	})

	_, err := p.Acquire(context.Background())
	assert.ErrorIs(t, err, boom)

	// The reserved slot must have been returned.
	fail = false
	lease, err := p.Acquire(context.Background())
	require.NoError(t, err)
	lease.Release()
}

func TestPool_HealthCheckDiscardsUnhealthy(t *testing.T) {
	var created atomic.Int32
	var closed int
	p := New(countingFactory(&created), func(o *Options[*fakeConn]) {
		o.HealthCheck = func(c *fakeConn) bool { return c.healthy }
		o.Close = func(c *fakeConn) { c.closed = true; closed++ }
	})

	lease, err := p.Acquire(context.Background())
	require.NoError(t, err)
	lease.Handle.healthy = false
	lease.Release()

	// Unhealthy resource was closed rather than parked.
	assert.Equal(t, 0, p.Stats().Idle)
	assert.Equal(t, 1, closed)

	lease2, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, lease2.Handle.id)
	lease2.Release()
}

func TestPool_Detach(t *testing.T) {
	var created atomic.Int32
	p := New(countingFactory(&created), func(o *Options[*fakeConn]) {
		o.MaxSize = 1
	})

	lease, err := p.Acquire(context.Background())
	require.NoError(t, err)
	conn := lease.Detach()
	require.NotNil(t, conn)

	// Detaching frees the slot without returning the handle.
	st := p.Stats()
	assert.Equal(t, 0, st.InUse)
	assert.Equal(t, 0, st.Idle)

	lease2, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, conn.id, lease2.Handle.id)
	lease2.Release()
}

func TestPool_PrewarmAndEvictIdle(t *testing.T) {
	var created atomic.Int32
	var closed int
	p := New(countingFactory(&created), func(o *Options[*fakeConn]) {
		o.MinSize = 2
		o.MaxIdleTime = 5 * time.Millisecond
		o.EvictInterval = time.Hour // drive eviction manually
		o.Close = func(*fakeConn) { closed++ }
	})
	p.Start(context.Background())
	defer p.Stop()

	assert.Equal(t, 2, p.Stats().Idle)

	time.Sleep(15 * time.Millisecond)
	n := p.EvictIdle()
	assert.Equal(t, 2, n)
	assert.Equal(t, 0, p.Stats().Idle)
	assert.Equal(t, 2, closed)
}

func TestPool_StopRejectsAcquire(t *testing.T) {
	var created atomic.Int32
	p := New(countingFactory(&created))
	p.Stop()

	_, err := p.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}
