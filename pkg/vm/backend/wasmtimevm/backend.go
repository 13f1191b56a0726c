// Package wasmtimevm runs instrumented contract modules on the wasmtime
// engine. The engine and compiled modules are shared; every Run gets its
// own Store and Linker, with host functions closing over that run's
// CallContext, so concurrent executions are fully isolated.
package wasmtimevm

import (
	"context"

	"github.com/bytecodealliance/wasmtime-go"
	"github.com/sirupsen/logrus"

	"github.com/meshplus/wasmcore/pkg/vm"
	"github.com/meshplus/wasmcore/pkg/vm/abi"
	"github.com/meshplus/wasmcore/pkg/vm/gas"
	"github.com/meshplus/wasmcore/pkg/vm/hostlib"
)

// Name is the backend identifier used in configuration and cache keys.
const Name = "wasmtime"

// Backend is the wasmtime execution engine variant.
type Backend struct {
	engine *wasmtime.Engine
	logger logrus.FieldLogger
}

// New creates the backend with a shared engine.
func New(logger logrus.FieldLogger) (*Backend, error) {
	return &Backend{
		engine: wasmtime.NewEngine(),
		logger: logger,
	}, nil
}

// ID implements vm.Backend.
func (b *Backend) ID() string {
	return Name
}

// Close releases the engine. Outstanding artifacts keep it alive until
// they are collected.
func (b *Backend) Close(ctx context.Context) error {
	return nil
}

// artifact wraps a compiled module. Modules are tied to the engine, not
// to a store, and are safe for concurrent instantiation.
type artifact struct {
	module *wasmtime.Module
}

func (a *artifact) HasMethod(name string) bool {
	for _, exp := range a.module.Exports() {
		if exp.Name() != name {
			continue
		}
		ft := exp.Type().FuncType()
		return ft != nil && len(ft.Params()) == 0 && len(ft.Results()) == 0
	}
	return false
}

func (a *artifact) Close(ctx context.Context) error {
	// Module memory is released by the engine when the artifact is
	// collected.
	a.module = nil
	return nil
}

// Compile implements vm.Backend. The input is the output of the
// instrumentation pass, already validated; an engine rejection at this
// point means the pass emitted a module it should not have.
func (b *Backend) Compile(ctx context.Context, instrumented []byte) (vm.Artifact, *vm.VMError) {
	module, err := wasmtime.NewModule(b.engine, instrumented)
	if err != nil {
		return nil, vm.NewInternalBackendError("engine rejected instrumented module: " + err.Error())
	}
	return &artifact{module: module}, nil
}

// Run implements vm.Backend.
func (b *Backend) Run(ctx context.Context, art vm.Artifact, ectx *vm.Context, view vm.StateView, counter *gas.Counter, sched *gas.Schedule) *vm.Outcome {
	a, ok := art.(*artifact)
	if !ok || a.module == nil {
		return &vm.Outcome{
			GasBurnt: counter.Burnt(),
			Err:      vm.NewInternalBackendError("artifact is not a live wasmtime artifact"),
		}
	}

	cc := hostlib.New(ectx, view, counter, sched)
	store := wasmtime.NewStore(b.engine)
	linker := wasmtime.NewLinker(b.engine)
	if err := b.link(linker, cc); err != nil {
		return cc.Finish(vm.NewInternalBackendError("linker setup: " + err.Error()))
	}

	// The start section, if any, runs during instantiation under full
	// metering.
	instance, err := linker.Instantiate(store, a.module)
	if err != nil {
		if cc.Fault() != nil {
			return cc.Finish(nil)
		}
		return cc.Finish(b.classify(err))
	}

	fn := instance.GetFunc(store, ectx.Method)
	if fn == nil {
		return cc.Finish(vm.NewMethodNotFound(ectx.Method))
	}
	if _, err := fn.Call(store); err != nil {
		if cc.Fault() != nil {
			return cc.Finish(nil)
		}
		return cc.Finish(b.classify(err))
	}
	return cc.Finish(nil)
}

// classify translates a wasmtime error into the normalized taxonomy.
// Unrecognized errors are host faults: absorbing them as contract faults
// could diverge across nodes.
func (b *Backend) classify(err error) *vm.VMError {
	msg := err.Error()
	if trap, ok := err.(*wasmtime.Trap); ok {
		msg = trap.Message()
	}
	if verr := classifyTrapMessage(msg); verr != nil {
		return verr
	}
	b.logger.WithField("error", msg).Error("unclassified engine error")
	return vm.NewInternalBackendError("unclassified engine error")
}

// hostAbort is the trap a host closure returns after recording a fault
// in the call context. Its text never reaches a receipt; the recorded
// fault takes precedence during classification.
func hostAbort() *wasmtime.Trap {
	return wasmtime.NewTrap("host abort")
}

// attach points the call context at the caller's linear memory. Resolved
// through the caller on every host call because the export is the only
// handle that is valid during the start section.
func attach(cc *hostlib.CallContext, caller *wasmtime.Caller) *wasmtime.Trap {
	ext := caller.GetExport("memory")
	if ext == nil || ext.Memory() == nil {
		cc.Abort(vm.NewInternalBackendError("guest has no exported memory"))
		return hostAbort()
	}
	cc.SetMemory(&guestMemory{store: caller, mem: ext.Memory()})
	return nil
}

func (b *Backend) link(linker *wasmtime.Linker, cc *hostlib.CallContext) error {
	type wrap struct {
		module string
		name   string
		fn     interface{}
	}

	// env helpers with the common (ptr, len) -> i32 shape
	ret1 := func(call func(cc *hostlib.CallContext, a, b uint32) (int32, *vm.VMError)) interface{} {
		return func(caller *wasmtime.Caller, p0, p1 int32) (int32, *wasmtime.Trap) {
			if t := attach(cc, caller); t != nil {
				return 0, t
			}
			ret, err := call(cc, uint32(p0), uint32(p1))
			if err != nil {
				return 0, hostAbort()
			}
			return ret, nil
		}
	}

	wraps := []wrap{
		{abi.MeteringModule, abi.UseGas, func(caller *wasmtime.Caller, amount int64) *wasmtime.Trap {
			if t := attach(cc, caller); t != nil {
				return t
			}
			if err := cc.UseGas(amount); err != nil {
				return hostAbort()
			}
			return nil
		}},
		{abi.MeteringModule, abi.MemGrow, func(caller *wasmtime.Caller, delta int32) (int32, *wasmtime.Trap) {
			if t := attach(cc, caller); t != nil {
				return 0, t
			}
			ret, err := cc.Grow(delta)
			if err != nil {
				return 0, hostAbort()
			}
			return ret, nil
		}},
		{abi.MeteringModule, abi.StackEnter, func(caller *wasmtime.Caller) *wasmtime.Trap {
			if t := attach(cc, caller); t != nil {
				return t
			}
			if err := cc.StackEnter(); err != nil {
				return hostAbort()
			}
			return nil
		}},
		{abi.MeteringModule, abi.StackExit, func(caller *wasmtime.Caller) {
			cc.StackExit()
		}},

		{abi.HostModule, "storage_write", func(caller *wasmtime.Caller, keyPtr, keyLen, valPtr, valLen int32) (int32, *wasmtime.Trap) {
			if t := attach(cc, caller); t != nil {
				return 0, t
			}
			ret, err := cc.StorageWrite(uint32(keyPtr), uint32(keyLen), uint32(valPtr), uint32(valLen))
			if err != nil {
				return 0, hostAbort()
			}
			return ret, nil
		}},
		{abi.HostModule, "storage_read", func(caller *wasmtime.Caller, keyPtr, keyLen, outPtr, outCap int32) (int32, *wasmtime.Trap) {
			if t := attach(cc, caller); t != nil {
				return 0, t
			}
			ret, err := cc.StorageRead(uint32(keyPtr), uint32(keyLen), uint32(outPtr), uint32(outCap))
			if err != nil {
				return 0, hostAbort()
			}
			return ret, nil
		}},
		{abi.HostModule, "storage_remove", ret1((*hostlib.CallContext).StorageRemove)},
		{abi.HostModule, "storage_has", ret1((*hostlib.CallContext).StorageHas)},

		{abi.HostModule, "input_len", func(caller *wasmtime.Caller) (int32, *wasmtime.Trap) {
			if t := attach(cc, caller); t != nil {
				return 0, t
			}
			ret, err := cc.InputLen()
			if err != nil {
				return 0, hostAbort()
			}
			return ret, nil
		}},
		{abi.HostModule, "input", ret1((*hostlib.CallContext).Input)},
		{abi.HostModule, "return_value", func(caller *wasmtime.Caller, ptr, n int32) *wasmtime.Trap {
			if t := attach(cc, caller); t != nil {
				return t
			}
			if err := cc.ReturnValue(uint32(ptr), uint32(n)); err != nil {
				return hostAbort()
			}
			return nil
		}},
		{abi.HostModule, "log_utf8", func(caller *wasmtime.Caller, ptr, n int32) *wasmtime.Trap {
			if t := attach(cc, caller); t != nil {
				return t
			}
			if err := cc.LogUtf8(uint32(ptr), uint32(n)); err != nil {
				return hostAbort()
			}
			return nil
		}},

		{abi.HostModule, "current_account_id", ret1((*hostlib.CallContext).CurrentAccountID)},
		{abi.HostModule, "caller_account_id", ret1((*hostlib.CallContext).CallerAccountID)},
		{abi.HostModule, "signer_account_id", ret1((*hostlib.CallContext).SignerAccountID)},
		{abi.HostModule, "epoch_id", ret1((*hostlib.CallContext).EpochID)},

		{abi.HostModule, "attached_deposit", func(caller *wasmtime.Caller) (int64, *wasmtime.Trap) {
			if t := attach(cc, caller); t != nil {
				return 0, t
			}
			ret, err := cc.AttachedDeposit()
			if err != nil {
				return 0, hostAbort()
			}
			return ret, nil
		}},
		{abi.HostModule, "account_balance", func(caller *wasmtime.Caller, ptr, n int32) (int64, *wasmtime.Trap) {
			if t := attach(cc, caller); t != nil {
				return 0, t
			}
			ret, err := cc.AccountBalance(uint32(ptr), uint32(n))
			if err != nil {
				return 0, hostAbort()
			}
			return ret, nil
		}},
		{abi.HostModule, "balance_transfer", func(caller *wasmtime.Caller, toPtr, toLen int32, amount int64) *wasmtime.Trap {
			if t := attach(cc, caller); t != nil {
				return t
			}
			if err := cc.BalanceTransfer(uint32(toPtr), uint32(toLen), uint64(amount)); err != nil {
				return hostAbort()
			}
			return nil
		}},

		{abi.HostModule, "block_height", func(caller *wasmtime.Caller) (int64, *wasmtime.Trap) {
			if t := attach(cc, caller); t != nil {
				return 0, t
			}
			ret, err := cc.BlockHeight()
			if err != nil {
				return 0, hostAbort()
			}
			return ret, nil
		}},
		{abi.HostModule, "block_timestamp", func(caller *wasmtime.Caller) (int64, *wasmtime.Trap) {
			if t := attach(cc, caller); t != nil {
				return 0, t
			}
			ret, err := cc.BlockTimestamp()
			if err != nil {
				return 0, hostAbort()
			}
			return ret, nil
		}},

		{abi.HostModule, "sha256", func(caller *wasmtime.Caller, ptr, n, outPtr int32) *wasmtime.Trap {
			if t := attach(cc, caller); t != nil {
				return t
			}
			if err := cc.Sha256(uint32(ptr), uint32(n), uint32(outPtr)); err != nil {
				return hostAbort()
			}
			return nil
		}},
		{abi.HostModule, "keccak256", func(caller *wasmtime.Caller, ptr, n, outPtr int32) *wasmtime.Trap {
			if t := attach(cc, caller); t != nil {
				return t
			}
			if err := cc.Keccak256(uint32(ptr), uint32(n), uint32(outPtr)); err != nil {
				return hostAbort()
			}
			return nil
		}},
		{abi.HostModule, "ed25519_verify", func(caller *wasmtime.Caller, sigPtr, msgPtr, msgLen, keyPtr int32) (int32, *wasmtime.Trap) {
			if t := attach(cc, caller); t != nil {
				return 0, t
			}
			ret, err := cc.Ed25519Verify(uint32(sigPtr), uint32(msgPtr), uint32(msgLen), uint32(keyPtr))
			if err != nil {
				return 0, hostAbort()
			}
			return ret, nil
		}},

		{abi.HostModule, "promise_create", func(caller *wasmtime.Caller, accPtr, accLen, methodPtr, methodLen, argsPtr, argsLen int32, gasAmount int64) (int64, *wasmtime.Trap) {
			if t := attach(cc, caller); t != nil {
				return 0, t
			}
			ret, err := cc.PromiseCreate(uint32(accPtr), uint32(accLen), uint32(methodPtr), uint32(methodLen), uint32(argsPtr), uint32(argsLen), uint64(gasAmount))
			if err != nil {
				return 0, hostAbort()
			}
			return int64(ret), nil
		}},
		{abi.HostModule, "promise_then", func(caller *wasmtime.Caller, after int64, accPtr, accLen, methodPtr, methodLen, argsPtr, argsLen int32, gasAmount int64) (int64, *wasmtime.Trap) {
			if t := attach(cc, caller); t != nil {
				return 0, t
			}
			ret, err := cc.PromiseThen(uint64(after), uint32(accPtr), uint32(accLen), uint32(methodPtr), uint32(methodLen), uint32(argsPtr), uint32(argsLen), uint64(gasAmount))
			if err != nil {
				return 0, hostAbort()
			}
			return int64(ret), nil
		}},
	}

	for _, w := range wraps {
		if err := linker.FuncWrap(w.module, w.name, w.fn); err != nil {
			return err
		}
	}
	return nil
}
