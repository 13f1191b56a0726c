package wazerovm

import (
	wazeroapi "github.com/tetratelabs/wazero/api"

	"github.com/meshplus/wasmcore/pkg/vm/hostlib"
)

const pageSize = 65536

// guestMemory adapts the engine's memory object to the host library.
type guestMemory struct {
	mem wazeroapi.Memory
}

var _ hostlib.Memory = (*guestMemory)(nil)

func (g *guestMemory) Read(off, n uint32) ([]byte, bool) {
	return g.mem.Read(off, n)
}

func (g *guestMemory) Write(off uint32, data []byte) bool {
	return g.mem.Write(off, data)
}

func (g *guestMemory) PageCount() uint32 {
	return g.mem.Size() / pageSize
}

func (g *guestMemory) GrowPages(delta uint32) (uint32, bool) {
	return g.mem.Grow(delta)
}
