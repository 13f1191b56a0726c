package cache

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/meshplus/wasmcore/pkg/vm"
	"github.com/meshplus/wasmcore/pkg/vm/gas"
)

// fakeBackend counts compiles and never executes anything.
type fakeBackend struct {
	compiles atomic.Int64
	delay    time.Duration
}

func (b *fakeBackend) ID() string { return "fake" }

func (b *fakeBackend) Compile(ctx context.Context, instrumented []byte) (vm.Artifact, *vm.VMError) {
	b.compiles.Inc()
	if b.delay > 0 {
		select {
		case <-time.After(b.delay):
		case <-ctx.Done():
			return nil, vm.NewInternalBackendError("interrupted")
		}
	}
	return &fakeArtifact{}, nil
}

func (b *fakeBackend) Run(ctx context.Context, art vm.Artifact, ectx *vm.Context, view vm.StateView, counter *gas.Counter, sched *gas.Schedule) *vm.Outcome {
	return &vm.Outcome{}
}

type fakeArtifact struct {
	closed atomic.Bool
}

func (a *fakeArtifact) HasMethod(name string) bool { return true }

func (a *fakeArtifact) Close(ctx context.Context) error {
	a.closed.Store(true)
	return nil
}

// contractOf builds a minimal valid contract whose bytes differ by tag.
func contractOf(tag byte) []byte {
	var b bytes.Buffer
	b.Write([]byte{0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00})
	// memory section: one memory, min 1 page
	b.Write([]byte{0x05, 0x03, 0x01, 0x00, 0x01})
	// export section: "memory"
	b.Write([]byte{0x07, 0x0A, 0x01, 0x06})
	b.WriteString("memory")
	b.Write([]byte{0x02, 0x00})
	// custom section carrying the tag, stripped by instrumentation but
	// part of the content hash
	b.Write([]byte{0x00, 0x03, 0x01, 0x74, tag})
	return b.Bytes()
}

func newTestCache(t *testing.T, backend vm.Backend, size int) *Cache {
	t.Helper()
	c, err := New(backend, size, time.Second, logrus.New())
	require.Nil(t, err)
	return c
}

func TestCacheHit(t *testing.T) {
	backend := &fakeBackend{}
	c := newTestCache(t, backend, 8)
	defer c.Close()
	sched := gas.DefaultSchedule()
	code := contractOf(1)

	art1, release1, verr := c.Get(context.Background(), code, sched)
	require.Nil(t, verr)
	art2, release2, verr := c.Get(context.Background(), code, sched)
	require.Nil(t, verr)

	assert.Same(t, art1, art2)
	assert.Equal(t, int64(1), backend.compiles.Load())
	release1()
	release2()
}

func TestCacheConcurrentMissesCollapse(t *testing.T) {
	backend := &fakeBackend{delay: 20 * time.Millisecond}
	c := newTestCache(t, backend, 8)
	defer c.Close()
	sched := gas.DefaultSchedule()
	code := contractOf(2)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, release, verr := c.Get(context.Background(), code, sched)
			assert.Nil(t, verr)
			release()
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(1), backend.compiles.Load())
}

func TestCacheKeyIncludesSchedule(t *testing.T) {
	backend := &fakeBackend{}
	c := newTestCache(t, backend, 8)
	defer c.Close()
	code := contractOf(3)

	s1 := gas.DefaultSchedule()
	_, release, verr := c.Get(context.Background(), code, s1)
	require.Nil(t, verr)
	release()

	s2 := gas.DefaultSchedule()
	s2.Version = 2
	_, release, verr = c.Get(context.Background(), code, s2)
	require.Nil(t, verr)
	release()

	assert.Equal(t, int64(2), backend.compiles.Load())
}

func TestCacheEvictionDeferredWhilePinned(t *testing.T) {
	backend := &fakeBackend{}
	c := newTestCache(t, backend, 1)
	defer c.Close()
	sched := gas.DefaultSchedule()

	art1, release1, verr := c.Get(context.Background(), contractOf(4), sched)
	require.Nil(t, verr)

	// a second contract evicts the first from the LRU while it is still
	// pinned
	_, release2, verr := c.Get(context.Background(), contractOf(5), sched)
	require.Nil(t, verr)
	release2()

	fa := art1.(*fakeArtifact)
	assert.False(t, fa.closed.Load())
	release1()
	assert.True(t, fa.closed.Load())
}

func TestCacheMissRacingEvictionNeverServesClosed(t *testing.T) {
	backend := &fakeBackend{}
	c := newTestCache(t, backend, 1)
	defer c.Close()
	sched := gas.DefaultSchedule()
	codes := [][]byte{contractOf(8), contractOf(9)}

	// two keys fighting over one slot force constant evictions; an
	// artifact must never come back already closed
	var closedServed atomic.Int64
	var getErrs atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				art, release, verr := c.Get(context.Background(), codes[(n+j)%2], sched)
				if verr != nil {
					getErrs.Inc()
					continue
				}
				if art.(*fakeArtifact).closed.Load() {
					closedServed.Inc()
				}
				release()
			}
		}(i)
	}
	wg.Wait()
	assert.Zero(t, getErrs.Load())
	assert.Zero(t, closedServed.Load())
}

func TestCacheDisabled(t *testing.T) {
	backend := &fakeBackend{}
	c := newTestCache(t, backend, 0)
	sched := gas.DefaultSchedule()
	code := contractOf(6)

	art1, release1, verr := c.Get(context.Background(), code, sched)
	require.Nil(t, verr)
	_, release2, verr := c.Get(context.Background(), code, sched)
	require.Nil(t, verr)

	// every call compiles, and release kills the one-shot artifact
	assert.Equal(t, int64(2), backend.compiles.Load())
	release1()
	assert.True(t, art1.(*fakeArtifact).closed.Load())
	release2()
	assert.Equal(t, 0, c.Len())
}

func TestCacheCompileTimeout(t *testing.T) {
	backend := &fakeBackend{delay: time.Hour}
	c, err := New(backend, 8, 10*time.Millisecond, logrus.New())
	require.Nil(t, err)
	defer c.Close()

	_, _, verr := c.Get(context.Background(), contractOf(7), gas.DefaultSchedule())
	require.NotNil(t, verr)
	assert.Equal(t, vm.InternalBackendError, verr.Kind)
	assert.True(t, verr.IsHostFault())
}

func TestCacheRejectsInvalidContract(t *testing.T) {
	backend := &fakeBackend{}
	c := newTestCache(t, backend, 8)
	defer c.Close()

	_, _, verr := c.Get(context.Background(), []byte("not wasm"), gas.DefaultSchedule())
	require.NotNil(t, verr)
	assert.Equal(t, vm.CompilationError, verr.Kind)
	assert.Equal(t, int64(0), backend.compiles.Load())
}
