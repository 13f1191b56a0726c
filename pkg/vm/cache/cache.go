// Package cache memoizes compiled contract artifacts. Compilation is
// content-addressed: the key is (code hash, schedule version, backend
// id), so a schedule upgrade or a backend switch can never serve a stale
// artifact. Concurrent misses for the same key collapse into one
// instrument-and-compile; artifacts evicted while an execution still
// holds them stay alive until the last pin is released.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/meshplus/wasmcore/pkg/vm"
	"github.com/meshplus/wasmcore/pkg/vm/gas"
	"github.com/meshplus/wasmcore/pkg/vm/instrument"
)

// DefaultCompileTimeout bounds one instrument-and-compile. Hitting it is
// a host fault, never charged to the contract.
const DefaultCompileTimeout = 10 * time.Second

// Key identifies one compiled artifact.
type Key struct {
	CodeHash        [32]byte
	ScheduleVersion uint32
	BackendID       string
}

func (k Key) String() string {
	return fmt.Sprintf("%x:%d:%s", k.CodeHash[:8], k.ScheduleVersion, k.BackendID)
}

// entry is one cached artifact with its pin count. pins and evicted are
// guarded by the cache mutex; evicted marks an entry dropped from the
// LRU while still in use, to be closed on the last release.
type entry struct {
	art     vm.Artifact
	pins    int
	evicted bool
}

// Cache compiles and memoizes artifacts for one backend variant.
type Cache struct {
	backend        vm.Backend
	logger         logrus.FieldLogger
	compileTimeout time.Duration

	group singleflight.Group

	// mu guards the lru and every entry's pin state. The eviction
	// callback runs inside Add/Purge with mu already held and must not
	// lock it again.
	mu  sync.Mutex
	lru *lru.Cache // nil when memoization is disabled
}

// New creates a cache over the given backend. size is the maximum number
// of memoized artifacts; zero disables memoization entirely, turning
// every Get into a one-shot compile whose artifact dies with its
// release.
func New(backend vm.Backend, size int, compileTimeout time.Duration, logger logrus.FieldLogger) (*Cache, error) {
	if compileTimeout <= 0 {
		compileTimeout = DefaultCompileTimeout
	}
	c := &Cache{
		backend:        backend,
		logger:         logger,
		compileTimeout: compileTimeout,
	}
	if size > 0 {
		// The callback runs inside Add/Purge, with c.mu already held.
		// evicted is set even when the artifact dies right here, so a
		// Get that raced the eviction can tell the entry is unusable.
		l, err := lru.NewWithEvict(size, func(_, value interface{}) {
			e := value.(*entry)
			evictionsTotal.Inc()
			e.evicted = true
			if e.pins == 0 {
				c.closeArtifact(e.art)
			}
		})
		if err != nil {
			return nil, err
		}
		c.lru = l
	}
	return c, nil
}

// Get returns a pinned artifact for the given code, instrumenting and
// compiling on a miss. The release function must be called when the
// execution no longer touches the artifact; it is safe to call exactly
// once.
func (c *Cache) Get(ctx context.Context, code []byte, sched *gas.Schedule) (vm.Artifact, func(), *vm.VMError) {
	key := Key{
		ScheduleVersion: sched.Version,
		BackendID:       c.backend.ID(),
	}
	copy(key.CodeHash[:], crypto.Keccak256(code))

	if c.lru == nil {
		art, verr := c.fill(ctx, code, sched)
		if verr != nil {
			return nil, nil, verr
		}
		return art, func() { c.closeArtifact(art) }, nil
	}

	for {
		c.mu.Lock()
		if v, ok := c.lru.Get(key); ok {
			e := v.(*entry)
			e.pins++
			c.mu.Unlock()
			hitsTotal.Inc()
			return e.art, c.releaseFunc(e), nil
		}
		c.mu.Unlock()
		missesTotal.Inc()

		v, err, _ := c.group.Do(key.String(), func() (interface{}, error) {
			art, verr := c.fill(ctx, code, sched)
			if verr != nil {
				return nil, verr
			}
			e := &entry{art: art}
			c.mu.Lock()
			c.lru.Add(key, e)
			entriesGauge.Set(float64(c.lru.Len()))
			c.mu.Unlock()
			return e, nil
		})
		if err != nil {
			return nil, nil, err.(*vm.VMError)
		}

		// The entry can be evicted between its Add and this pin. While
		// other waiters still hold pins the artifact is alive until the
		// last release, so pinning on top is safe; once the pin count
		// has touched zero the artifact is closed and the only correct
		// move is to compile again.
		e := v.(*entry)
		c.mu.Lock()
		if e.evicted && e.pins == 0 {
			c.mu.Unlock()
			c.group.Forget(key.String())
			continue
		}
		e.pins++
		c.mu.Unlock()
		return e.art, c.releaseFunc(e), nil
	}
}

// fill instruments and compiles one module under the compile timeout.
func (c *Cache) fill(ctx context.Context, code []byte, sched *gas.Schedule) (vm.Artifact, *vm.VMError) {
	start := time.Now()
	instrumented, verr := instrument.Instrument(code, sched)
	if verr != nil {
		return nil, verr
	}

	cctx, cancel := context.WithTimeout(ctx, c.compileTimeout)
	defer cancel()
	art, verr := c.backend.Compile(cctx, instrumented)
	if cctx.Err() != nil {
		if art != nil {
			c.closeArtifact(art)
		}
		return nil, vm.NewInternalBackendError("compilation timed out")
	}
	if verr != nil {
		return nil, verr
	}
	compileDuration.Observe(time.Since(start).Seconds())
	return art, nil
}

func (c *Cache) releaseFunc(e *entry) func() {
	return func() {
		c.mu.Lock()
		e.pins--
		dead := e.evicted && e.pins == 0
		c.mu.Unlock()
		if dead {
			c.closeArtifact(e.art)
		}
	}
}

func (c *Cache) closeArtifact(art vm.Artifact) {
	if err := art.Close(context.Background()); err != nil {
		c.logger.WithField("error", err.Error()).Warn("close artifact")
	}
}

// Close drops every cached artifact. Pinned entries are closed by their
// release functions.
func (c *Cache) Close() {
	if c.lru == nil {
		return
	}
	c.mu.Lock()
	c.lru.Purge()
	entriesGauge.Set(0)
	c.mu.Unlock()
}

// Len returns the number of memoized artifacts.
func (c *Cache) Len() int {
	if c.lru == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}
