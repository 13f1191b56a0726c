// Package wazerovm runs instrumented contract modules on the wazero
// engine. One Runtime is shared by all executions of the backend; each
// Run instantiates the compiled module anonymously, so concurrent
// executions never collide in the runtime's namespace. The host modules
// are registered once and pull the per-execution CallContext out of the
// call's context.Context.
package wazerovm

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
	"github.com/tetratelabs/wazero"
	wazeroapi "github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"

	"github.com/meshplus/wasmcore/pkg/vm"
	"github.com/meshplus/wasmcore/pkg/vm/abi"
	"github.com/meshplus/wasmcore/pkg/vm/gas"
	"github.com/meshplus/wasmcore/pkg/vm/hostlib"
)

// Name is the backend identifier used in configuration and cache keys.
const Name = "wazero"

// hostAbortCode is the exit code a host function closes the module with
// when it has recorded a fault. The fault itself is read back from the
// CallContext; the code only marks the unwind as ours.
const hostAbortCode uint32 = 0xFA17

type ctxKey struct{}

func fromContext(ctx context.Context) *hostlib.CallContext {
	return ctx.Value(ctxKey{}).(*hostlib.CallContext)
}

// Backend is the wazero execution engine variant.
type Backend struct {
	rt     wazero.Runtime
	logger logrus.FieldLogger
}

// New creates the backend and registers the env and metering host
// modules with its runtime.
func New(logger logrus.FieldLogger) (*Backend, error) {
	ctx := context.Background()
	rt := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().
		WithCloseOnContextDone(true))
	b := &Backend{rt: rt, logger: logger}
	if err := b.registerHostModules(ctx); err != nil {
		rt.Close(ctx)
		return nil, err
	}
	return b, nil
}

// ID implements vm.Backend.
func (b *Backend) ID() string {
	return Name
}

// Close releases the runtime and every artifact compiled by it.
func (b *Backend) Close(ctx context.Context) error {
	return b.rt.Close(ctx)
}

// artifact wraps a compiled module. Compiled modules are safe for
// concurrent instantiation.
type artifact struct {
	compiled wazero.CompiledModule
}

func (a *artifact) HasMethod(name string) bool {
	def, ok := a.compiled.ExportedFunctions()[name]
	if !ok {
		return false
	}
	return len(def.ParamTypes()) == 0 && len(def.ResultTypes()) == 0
}

func (a *artifact) Close(ctx context.Context) error {
	return a.compiled.Close(ctx)
}

// Compile implements vm.Backend. The input is the output of the
// instrumentation pass, already validated; an engine rejection at this
// point means the pass emitted a module it should not have.
func (b *Backend) Compile(ctx context.Context, instrumented []byte) (vm.Artifact, *vm.VMError) {
	compiled, err := b.rt.CompileModule(ctx, instrumented)
	if err != nil {
		return nil, vm.NewInternalBackendError("engine rejected instrumented module: " + err.Error())
	}
	return &artifact{compiled: compiled}, nil
}

// Run implements vm.Backend.
func (b *Backend) Run(ctx context.Context, art vm.Artifact, ectx *vm.Context, view vm.StateView, counter *gas.Counter, sched *gas.Schedule) *vm.Outcome {
	a, ok := art.(*artifact)
	if !ok {
		return &vm.Outcome{
			GasBurnt: counter.Burnt(),
			Err:      vm.NewInternalBackendError("artifact is not a wazero artifact"),
		}
	}

	cc := hostlib.New(ectx, view, counter, sched)
	ctx = context.WithValue(ctx, ctxKey{}, cc)

	// Anonymous instantiation; the start section, if any, runs here
	// under full metering.
	mod, err := b.rt.InstantiateModule(ctx, a.compiled, wazero.NewModuleConfig().
		WithName("").
		WithStartFunctions())
	if err != nil {
		if cc.Fault() != nil {
			return cc.Finish(nil)
		}
		return cc.Finish(b.classify(err))
	}
	defer mod.Close(ctx)

	fn := mod.ExportedFunction(ectx.Method)
	if fn == nil {
		return cc.Finish(vm.NewMethodNotFound(ectx.Method))
	}
	if _, err := fn.Call(ctx); err != nil {
		if cc.Fault() != nil {
			return cc.Finish(nil)
		}
		return cc.Finish(b.classify(err))
	}
	return cc.Finish(nil)
}

// classify translates a wazero runtime error into the normalized
// taxonomy. Unrecognized errors are host faults: absorbing them as
// contract faults could diverge across nodes.
func (b *Backend) classify(err error) *vm.VMError {
	var exitErr *sys.ExitError
	if errors.As(err, &exitErr) {
		// A clean exit that is not our abort marker means the guest
		// called an exit facility we never provided.
		return vm.NewInternalBackendError("unexpected module exit")
	}
	if verr := classifyTrapMessage(err.Error()); verr != nil {
		return verr
	}
	b.logger.WithField("error", err.Error()).Error("unclassified engine error")
	return vm.NewInternalBackendError("unclassified engine error")
}

// abort unwinds the running guest after a host function recorded a
// fault. Closing the calling module makes the engine terminate the wasm
// frame stack and surface an exit error from Call.
func abort(ctx context.Context, m wazeroapi.Module) {
	_ = m.CloseWithExitCode(ctx, hostAbortCode)
}

// attach points the call context at the caller's linear memory. Done on
// every host call because during the start section the instance is not
// yet visible anywhere else.
func attach(cc *hostlib.CallContext, m wazeroapi.Module) {
	cc.SetMemory(&guestMemory{mem: m.Memory()})
}

func (b *Backend) registerHostModules(ctx context.Context) error {
	metering := b.rt.NewHostModuleBuilder(abi.MeteringModule)

	metering.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m wazeroapi.Module, amount int64) {
			cc := fromContext(ctx)
			attach(cc, m)
			if err := cc.UseGas(amount); err != nil {
				abort(ctx, m)
			}
		}).Export(abi.UseGas)

	metering.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m wazeroapi.Module, delta int32) int32 {
			cc := fromContext(ctx)
			attach(cc, m)
			ret, err := cc.Grow(delta)
			if err != nil {
				abort(ctx, m)
				return 0
			}
			return ret
		}).Export(abi.MemGrow)

	metering.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m wazeroapi.Module) {
			cc := fromContext(ctx)
			attach(cc, m)
			if err := cc.StackEnter(); err != nil {
				abort(ctx, m)
			}
		}).Export(abi.StackEnter)

	metering.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m wazeroapi.Module) {
			fromContext(ctx).StackExit()
		}).Export(abi.StackExit)

	if _, err := metering.Instantiate(ctx); err != nil {
		return err
	}

	env := b.rt.NewHostModuleBuilder(abi.HostModule)

	ret1 := func(name string, call func(cc *hostlib.CallContext, a, b uint32) (int32, *vm.VMError)) {
		env.NewFunctionBuilder().
			WithFunc(func(ctx context.Context, m wazeroapi.Module, p0, p1 uint32) int32 {
				cc := fromContext(ctx)
				attach(cc, m)
				ret, err := call(cc, p0, p1)
				if err != nil {
					abort(ctx, m)
					return 0
				}
				return ret
			}).Export(name)
	}

	env.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m wazeroapi.Module, keyPtr, keyLen, valPtr, valLen uint32) int32 {
			cc := fromContext(ctx)
			attach(cc, m)
			ret, err := cc.StorageWrite(keyPtr, keyLen, valPtr, valLen)
			if err != nil {
				abort(ctx, m)
				return 0
			}
			return ret
		}).Export("storage_write")

	env.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m wazeroapi.Module, keyPtr, keyLen, outPtr, outCap uint32) int32 {
			cc := fromContext(ctx)
			attach(cc, m)
			ret, err := cc.StorageRead(keyPtr, keyLen, outPtr, outCap)
			if err != nil {
				abort(ctx, m)
				return 0
			}
			return ret
		}).Export("storage_read")

	ret1("storage_remove", (*hostlib.CallContext).StorageRemove)
	ret1("storage_has", (*hostlib.CallContext).StorageHas)

	env.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m wazeroapi.Module) int32 {
			cc := fromContext(ctx)
			attach(cc, m)
			ret, err := cc.InputLen()
			if err != nil {
				abort(ctx, m)
				return 0
			}
			return ret
		}).Export("input_len")

	ret1("input", (*hostlib.CallContext).Input)

	env.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m wazeroapi.Module, ptr, n uint32) {
			cc := fromContext(ctx)
			attach(cc, m)
			if err := cc.ReturnValue(ptr, n); err != nil {
				abort(ctx, m)
			}
		}).Export("return_value")

	env.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m wazeroapi.Module, ptr, n uint32) {
			cc := fromContext(ctx)
			attach(cc, m)
			if err := cc.LogUtf8(ptr, n); err != nil {
				abort(ctx, m)
			}
		}).Export("log_utf8")

	ret1("current_account_id", (*hostlib.CallContext).CurrentAccountID)
	ret1("caller_account_id", (*hostlib.CallContext).CallerAccountID)
	ret1("signer_account_id", (*hostlib.CallContext).SignerAccountID)
	ret1("epoch_id", (*hostlib.CallContext).EpochID)

	env.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m wazeroapi.Module) int64 {
			cc := fromContext(ctx)
			attach(cc, m)
			ret, err := cc.AttachedDeposit()
			if err != nil {
				abort(ctx, m)
				return 0
			}
			return ret
		}).Export("attached_deposit")

	env.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m wazeroapi.Module, ptr, n uint32) int64 {
			cc := fromContext(ctx)
			attach(cc, m)
			ret, err := cc.AccountBalance(ptr, n)
			if err != nil {
				abort(ctx, m)
				return 0
			}
			return ret
		}).Export("account_balance")

	env.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m wazeroapi.Module, toPtr, toLen uint32, amount uint64) {
			cc := fromContext(ctx)
			attach(cc, m)
			if err := cc.BalanceTransfer(toPtr, toLen, amount); err != nil {
				abort(ctx, m)
			}
		}).Export("balance_transfer")

	env.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m wazeroapi.Module) int64 {
			cc := fromContext(ctx)
			attach(cc, m)
			ret, err := cc.BlockHeight()
			if err != nil {
				abort(ctx, m)
				return 0
			}
			return ret
		}).Export("block_height")

	env.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m wazeroapi.Module) int64 {
			cc := fromContext(ctx)
			attach(cc, m)
			ret, err := cc.BlockTimestamp()
			if err != nil {
				abort(ctx, m)
				return 0
			}
			return ret
		}).Export("block_timestamp")

	env.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m wazeroapi.Module, ptr, n, outPtr uint32) {
			cc := fromContext(ctx)
			attach(cc, m)
			if err := cc.Sha256(ptr, n, outPtr); err != nil {
				abort(ctx, m)
			}
		}).Export("sha256")

	env.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m wazeroapi.Module, ptr, n, outPtr uint32) {
			cc := fromContext(ctx)
			attach(cc, m)
			if err := cc.Keccak256(ptr, n, outPtr); err != nil {
				abort(ctx, m)
			}
		}).Export("keccak256")

	env.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m wazeroapi.Module, sigPtr, msgPtr, msgLen, keyPtr uint32) int32 {
			cc := fromContext(ctx)
			attach(cc, m)
			ret, err := cc.Ed25519Verify(sigPtr, msgPtr, msgLen, keyPtr)
			if err != nil {
				abort(ctx, m)
				return 0
			}
			return ret
		}).Export("ed25519_verify")

	env.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m wazeroapi.Module, accPtr, accLen, methodPtr, methodLen, argsPtr, argsLen uint32, gasAmount uint64) uint64 {
			cc := fromContext(ctx)
			attach(cc, m)
			ret, err := cc.PromiseCreate(accPtr, accLen, methodPtr, methodLen, argsPtr, argsLen, gasAmount)
			if err != nil {
				abort(ctx, m)
				return 0
			}
			return ret
		}).Export("promise_create")

	env.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m wazeroapi.Module, after uint64, accPtr, accLen, methodPtr, methodLen, argsPtr, argsLen uint32, gasAmount uint64) uint64 {
			cc := fromContext(ctx)
			attach(cc, m)
			ret, err := cc.PromiseThen(after, accPtr, accLen, methodPtr, methodLen, argsPtr, argsLen, gasAmount)
			if err != nil {
				abort(ctx, m)
				return 0
			}
			return ret
		}).Export("promise_then")

	_, err := env.Instantiate(ctx)
	return err
}
