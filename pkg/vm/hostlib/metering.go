package hostlib

import (
	"github.com/meshplus/wasmcore/pkg/vm"
	"github.com/meshplus/wasmcore/pkg/vm/gas"
)

// The four functions below back the imports the instrumentation pass
// injects under the reserved "metering" namespace. Contracts cannot
// import them directly; validation rejects the namespace.

// UseGas charges the statically computed cost of one metering run.
func (cc *CallContext) UseGas(amount int64) *vm.VMError {
	return cc.charge(gas.OpWasm, uint64(amount))
}

// Grow replaces the guest's memory.grow. Gas is charged for the
// requested pages before the ceiling check, so an oversized request
// still pays. A request past the configured ceiling fails the way
// memory.grow fails, by returning -1, and the contract decides how to
// proceed.
func (cc *CallContext) Grow(delta int32) (int32, *vm.VMError) {
	pages := uint32(delta)
	if err := cc.charge(gas.OpMemoryGrow, cc.sched.MemoryGrowPage*uint64(pages)); err != nil {
		return 0, err
	}
	current := cc.mem.PageCount()
	if pages > cc.sched.MaxMemoryPages || current > cc.sched.MaxMemoryPages-pages {
		return -1, nil
	}
	prev, ok := cc.mem.GrowPages(pages)
	if !ok {
		return -1, nil
	}
	return int32(prev), nil
}

// StackEnter charges one call frame and enforces the configured depth
// ceiling. Exceeding it is a normalized stack-overflow trap, identical
// on every backend regardless of the engine's own native stack limits.
func (cc *CallContext) StackEnter() *vm.VMError {
	if err := cc.charge(gas.OpStackFrame, uint64(cc.sched.StackFrame)); err != nil {
		return err
	}
	cc.depth++
	if cc.depth > cc.sched.MaxStackDepth {
		return cc.fail(vm.NewTrap(vm.TrapStackOverflow))
	}
	return nil
}

// StackExit leaves the current call frame.
func (cc *CallContext) StackExit() {
	if cc.depth > 0 {
		cc.depth--
	}
}
