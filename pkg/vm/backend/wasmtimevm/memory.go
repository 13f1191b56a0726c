package wasmtimevm

import (
	"github.com/bytecodealliance/wasmtime-go"

	"github.com/meshplus/wasmcore/pkg/vm/hostlib"
)

// guestMemory adapts the engine's memory object to the host library. It
// is valid only for the duration of the host call that created it: the
// underlying data pointer moves on growth, so every call re-attaches.
type guestMemory struct {
	store wasmtime.Storelike
	mem   *wasmtime.Memory
}

var _ hostlib.Memory = (*guestMemory)(nil)

func (g *guestMemory) Read(off, n uint32) ([]byte, bool) {
	data := g.mem.UnsafeData(g.store)
	if uint64(off)+uint64(n) > uint64(len(data)) {
		return nil, false
	}
	return data[off : off+n], true
}

func (g *guestMemory) Write(off uint32, b []byte) bool {
	data := g.mem.UnsafeData(g.store)
	if uint64(off)+uint64(len(b)) > uint64(len(data)) {
		return false
	}
	copy(data[off:], b)
	return true
}

func (g *guestMemory) PageCount() uint32 {
	return uint32(g.mem.Size(g.store))
}

func (g *guestMemory) GrowPages(delta uint32) (uint32, bool) {
	prev, err := g.mem.Grow(g.store, uint64(delta))
	if err != nil {
		return 0, false
	}
	return uint32(prev), true
}
