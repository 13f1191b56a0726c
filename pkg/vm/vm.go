package vm

import (
	"context"

	"github.com/meshplus/wasmcore/pkg/vm/gas"
)

// Backend is one execution engine variant. The set of implementations is
// closed (wazero, wasmtime); the variant is selected by configuration at
// process start and never per call. Both variants must produce identical
// Outcomes for any instrumented module and host-call sequence.
type Backend interface {
	// ID identifies the variant. It is part of the module cache key.
	ID() string

	// Compile turns an instrumented module into a runnable artifact. A
	// failure is a CompilationError or LinkError; anything the engine
	// reports that validation should have caught is an
	// InternalBackendError.
	Compile(ctx context.Context, instrumented []byte) (Artifact, *VMError)

	// Run executes one exported method to completion or failure. The
	// returned Outcome is fully classified; Run never panics for
	// contract-caused faults.
	Run(ctx context.Context, art Artifact, ectx *Context, view StateView, counter *gas.Counter, sched *gas.Schedule) *Outcome
}

// Artifact is a backend-specific compiled module. Artifacts are owned by
// the module cache and must not be shared across backend variants.
type Artifact interface {
	// HasMethod reports whether the module exports a callable with the
	// given name and the nullary contract-entry signature.
	HasMethod(name string) bool

	// Close releases engine resources. The cache calls it after the last
	// in-flight reference is released.
	Close(ctx context.Context) error
}

// StateView is the pre-materialized, read-only snapshot of external state
// an execution reads from. Lookups never perform I/O mid-execution; the
// caller supplies a fully materialized view.
type StateView interface {
	Get(key []byte) ([]byte, bool)
	Has(key []byte) bool
	Balance(account string) (uint64, bool)
}

// MapView is an in-memory StateView used by tests and the CLI.
type MapView struct {
	Storage  map[string][]byte
	Balances map[string]uint64
}

// NewMapView returns an empty in-memory view.
func NewMapView() *MapView {
	return &MapView{
		Storage:  make(map[string][]byte),
		Balances: make(map[string]uint64),
	}
}

func (v *MapView) Get(key []byte) ([]byte, bool) {
	val, ok := v.Storage[string(key)]
	return val, ok
}

func (v *MapView) Has(key []byte) bool {
	_, ok := v.Storage[string(key)]
	return ok
}

func (v *MapView) Balance(account string) (uint64, bool) {
	b, ok := v.Balances[account]
	return b, ok
}
