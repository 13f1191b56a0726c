package vm

import "fmt"

// ErrKind is the terminal error taxonomy. Every abnormal termination maps
// to exactly one kind. The kinds below InternalBackendError are
// deterministic contract faults: every correct node must classify
// identical inputs identically, charge the gas burnt and record the fault
// in a receipt. InternalBackendError is a host fault: a bug in this
// system, surfaced distinctly so the orchestration layer can halt instead
// of risking divergent state across nodes.
type ErrKind uint8

const (
	CompilationError ErrKind = iota + 1
	LinkError
	MethodNotFound
	Trap
	GasExceeded
	MemoryAccessViolation
	HostLogicError
	InternalBackendError
)

func (k ErrKind) String() string {
	switch k {
	case CompilationError:
		return "CompilationError"
	case LinkError:
		return "LinkError"
	case MethodNotFound:
		return "MethodNotFound"
	case Trap:
		return "Trap"
	case GasExceeded:
		return "GasExceeded"
	case MemoryAccessViolation:
		return "MemoryAccessViolation"
	case HostLogicError:
		return "HostLogicError"
	case InternalBackendError:
		return "InternalBackendError"
	default:
		return fmt.Sprintf("ErrKind(%d)", uint8(k))
	}
}

// MarshalJSON encodes the kind as its name so receipts stay readable and
// stable across builds.
func (k ErrKind) MarshalJSON() ([]byte, error) {
	return []byte(`"` + k.String() + `"`), nil
}

// TrapReason is the normalized reason of an abnormal wasm termination.
// Backends translate their engine-specific trap errors into these values
// through an explicit classification table; raw engine text never reaches
// a receipt.
type TrapReason uint8

const (
	TrapUnknown TrapReason = iota
	TrapUnreachable
	TrapMemoryOutOfBounds
	TrapDivisionByZero
	TrapIntegerOverflow
	TrapIndirectCallMismatch
	TrapTableOutOfBounds
	TrapStackOverflow
)

func (r TrapReason) String() string {
	switch r {
	case TrapUnreachable:
		return "unreachable"
	case TrapMemoryOutOfBounds:
		return "memory-out-of-bounds"
	case TrapDivisionByZero:
		return "division-by-zero"
	case TrapIntegerOverflow:
		return "integer-overflow"
	case TrapIndirectCallMismatch:
		return "indirect-call-type-mismatch"
	case TrapTableOutOfBounds:
		return "table-out-of-bounds"
	case TrapStackOverflow:
		return "stack-overflow"
	default:
		return "unknown"
	}
}

func (r TrapReason) MarshalJSON() ([]byte, error) {
	return []byte(`"` + r.String() + `"`), nil
}

// HostErrKind refines HostLogicError: the contract violated the host
// interface contract in a deterministic, chargeable way.
type HostErrKind uint8

const (
	HostNone HostErrKind = iota
	HostInvalidPromiseIndex
	HostInvalidUTF8
	HostBalanceOverflow
	HostInvalidArgument
)

func (k HostErrKind) String() string {
	switch k {
	case HostInvalidPromiseIndex:
		return "invalid-promise-index"
	case HostInvalidUTF8:
		return "invalid-utf8"
	case HostBalanceOverflow:
		return "balance-overflow"
	case HostInvalidArgument:
		return "invalid-argument"
	default:
		return "none"
	}
}

func (k HostErrKind) MarshalJSON() ([]byte, error) {
	return []byte(`"` + k.String() + `"`), nil
}

// VMError is the single terminal error of a failed execution. Detail is
// normalized text produced by this package or the instrumentation pass;
// it must never embed backend- or build-specific strings.
type VMError struct {
	Kind   ErrKind     `json:"kind"`
	Trap   TrapReason  `json:"trap,omitempty"`
	Host   HostErrKind `json:"host,omitempty"`
	Detail string      `json:"detail,omitempty"`
}

func (e *VMError) Error() string {
	switch e.Kind {
	case Trap:
		return fmt.Sprintf("%s: %s", e.Kind, e.Trap)
	case HostLogicError:
		return fmt.Sprintf("%s: %s", e.Kind, e.Host)
	default:
		if e.Detail != "" {
			return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
		}
		return e.Kind.String()
	}
}

// FaultClass separates chargeable contract faults from consensus-fatal
// host faults.
type FaultClass uint8

const (
	ContractFault FaultClass = iota + 1
	HostFault
)

// faultClasses is the single, explicit classification table. Backends and
// the executor never decide the class ad hoc.
var faultClasses = map[ErrKind]FaultClass{
	CompilationError:      ContractFault,
	LinkError:             ContractFault,
	MethodNotFound:        ContractFault,
	Trap:                  ContractFault,
	GasExceeded:           ContractFault,
	MemoryAccessViolation: ContractFault,
	HostLogicError:        ContractFault,
	InternalBackendError:  HostFault,
}

// Class returns the fault class of the error.
func (e *VMError) Class() FaultClass {
	return faultClasses[e.Kind]
}

// IsContractFault reports whether the error is a deterministic contract
// fault that the caller charges and records.
func (e *VMError) IsContractFault() bool {
	return e.Class() == ContractFault
}

// IsHostFault reports whether the error originates in the execution
// system itself. Host faults must be surfaced, never absorbed.
func (e *VMError) IsHostFault() bool {
	return e.Class() == HostFault
}

func NewCompilationError(detail string) *VMError {
	return &VMError{Kind: CompilationError, Detail: detail}
}

func NewLinkError(detail string) *VMError {
	return &VMError{Kind: LinkError, Detail: detail}
}

func NewMethodNotFound(method string) *VMError {
	return &VMError{Kind: MethodNotFound, Detail: method}
}

func NewTrap(reason TrapReason) *VMError {
	return &VMError{Kind: Trap, Trap: reason}
}

func NewGasExceeded() *VMError {
	return &VMError{Kind: GasExceeded}
}

func NewMemoryAccessViolation(detail string) *VMError {
	return &VMError{Kind: MemoryAccessViolation, Detail: detail}
}

func NewHostLogicError(kind HostErrKind, detail string) *VMError {
	return &VMError{Kind: HostLogicError, Host: kind, Detail: detail}
}

func NewInternalBackendError(detail string) *VMError {
	return &VMError{Kind: InternalBackendError, Detail: detail}
}
