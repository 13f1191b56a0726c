package hostlib

import (
	"github.com/sirupsen/logrus"

	"github.com/meshplus/wasmcore/pkg/vm"
	"github.com/meshplus/wasmcore/pkg/vm/gas"
)

// CallContext is the mutable host-side state of one execution: the gas
// counter, the effect accumulators and the read-your-writes storage
// overlay. It is owned by exactly one execution and torn down with it.
type CallContext struct {
	ectx    *vm.Context
	view    vm.StateView
	sched   *gas.Schedule
	counter *gas.Counter
	logger  logrus.FieldLogger

	mem Memory

	// overlay makes the execution's own writes visible to its own reads;
	// a nil value is a remove tombstone.
	overlay map[string][]byte

	intents     []vm.Intent
	logs        []string
	promises    []vm.Promise
	returnValue []byte

	// spent is the balance already committed to outgoing transfers.
	spent uint64

	depth uint32

	fault *vm.VMError
}

// New creates the host-side state of one execution. The guest memory is
// attached separately once the backend has instantiated the module.
func New(ectx *vm.Context, view vm.StateView, counter *gas.Counter, sched *gas.Schedule) *CallContext {
	logger := ectx.Logger
	if logger == nil {
		logger = logrus.New()
	}
	return &CallContext{
		ectx:    ectx,
		view:    view,
		sched:   sched,
		counter: counter,
		logger:  logger,
		overlay: make(map[string][]byte),
	}
}

// SetMemory attaches the instantiated guest memory.
func (cc *CallContext) SetMemory(mem Memory) {
	cc.mem = mem
}

// Fault returns the first fault recorded by a host call, or nil.
func (cc *CallContext) Fault() *vm.VMError {
	return cc.fault
}

// fail records the first fault and returns it. A host call that fails
// aborts the execution; later engine-side errors are symptoms of this
// one and must not overwrite it.
func (cc *CallContext) fail(err *vm.VMError) *vm.VMError {
	if cc.fault == nil {
		cc.fault = err
	}
	return err
}

// Abort records a fault detected by a backend adapter outside any host
// function, such as a missing memory export mid-run.
func (cc *CallContext) Abort(err *vm.VMError) {
	cc.fail(err)
}

// Finish builds the execution's outcome. engineErr is the classified
// error from the execution engine, nil on normal completion; a fault
// recorded by a host call takes precedence because the engine only sees
// its downstream symptom. On a contract fault the storage and balance
// intents are discarded while logs and scheduled promises survive.
func (cc *CallContext) Finish(engineErr *vm.VMError) *vm.Outcome {
	err := cc.fault
	if err == nil {
		err = engineErr
	}
	out := &vm.Outcome{
		GasBurnt: cc.counter.Burnt(),
		Logs:     cc.logs,
		Promises: cc.promises,
		Err:      err,
	}
	if err == nil {
		out.ReturnValue = cc.returnValue
		out.Intents = cc.intents
	}
	return out
}

func (cc *CallContext) charge(kind gas.OpKind, amount uint64) *vm.VMError {
	if err := cc.counter.Charge(kind, amount); err != nil {
		return cc.fail(vm.NewGasExceeded())
	}
	return nil
}

// readGuest reads n bytes at off, after gas for the operation has been
// charged. An out-of-range access is a MemoryAccessViolation.
func (cc *CallContext) readGuest(off, n uint32) ([]byte, *vm.VMError) {
	data, ok := cc.mem.Read(off, n)
	if !ok {
		return nil, cc.fail(vm.NewMemoryAccessViolation("guest read out of bounds"))
	}
	return data, nil
}

// writeGuest copies data into guest memory at off, truncated to cap
// bytes, and returns the full (untruncated) length so the guest can
// detect a short buffer and retry.
func (cc *CallContext) writeGuest(off, capLen uint32, data []byte) (int32, *vm.VMError) {
	n := uint32(len(data))
	if n > capLen {
		n = capLen
	}
	if n > 0 && !cc.mem.Write(off, data[:n]) {
		return 0, cc.fail(vm.NewMemoryAccessViolation("guest write out of bounds"))
	}
	return int32(len(data)), nil
}

// storageGet resolves a key against the overlay first, then the view.
func (cc *CallContext) storageGet(key []byte) ([]byte, bool) {
	if val, ok := cc.overlay[string(key)]; ok {
		return val, val != nil
	}
	return cc.view.Get(key)
}

func (cc *CallContext) storageHas(key []byte) bool {
	if val, ok := cc.overlay[string(key)]; ok {
		return val != nil
	}
	return cc.view.Has(key)
}
