package gas

import "errors"

// ErrGasExceeded is returned by Charge exactly when the next deduction
// would exceed the configured limit.
var ErrGasExceeded = errors.New("gas limit exceeded")

// OpKind attributes a gas deduction to the operation that caused it, so
// the total burnt is always auditable against the cost schedule.
type OpKind uint8

const (
	OpBase OpKind = iota
	OpMethodLookup
	OpWasm
	OpMemoryGrow
	OpStackFrame
	OpHostStorage
	OpHostContext
	OpHostCrypto
	OpHostLog
	OpHostPromise
	OpHostBalance

	numOpKinds
)

func (k OpKind) String() string {
	switch k {
	case OpBase:
		return "base"
	case OpMethodLookup:
		return "method_lookup"
	case OpWasm:
		return "wasm"
	case OpMemoryGrow:
		return "memory_grow"
	case OpStackFrame:
		return "stack_frame"
	case OpHostStorage:
		return "host_storage"
	case OpHostContext:
		return "host_context"
	case OpHostCrypto:
		return "host_crypto"
	case OpHostLog:
		return "host_log"
	case OpHostPromise:
		return "host_promise"
	case OpHostBalance:
		return "host_balance"
	default:
		return "unknown"
	}
}

// Counter tracks gas burnt by a single in-flight execution. It is owned
// exclusively by that execution and is not safe for concurrent use. Burnt
// gas only grows; once the limit is hit the counter stays exhausted and
// every further Charge fails.
type Counter struct {
	limit  uint64
	burnt  uint64
	byKind [numOpKinds]uint64
}

// NewCounter returns a counter with the given gas limit.
func NewCounter(limit uint64) *Counter {
	return &Counter{limit: limit}
}

// Charge deducts amount, attributed to kind. When the deduction would
// exceed the limit the remaining gas is consumed in full (spent gas is
// never refunded) and ErrGasExceeded is returned.
func (c *Counter) Charge(kind OpKind, amount uint64) error {
	if amount > c.limit-c.burnt {
		c.byKind[kind] += c.limit - c.burnt
		c.burnt = c.limit
		return ErrGasExceeded
	}
	c.burnt += amount
	c.byKind[kind] += amount
	return nil
}

// Burnt returns the total gas burnt so far.
func (c *Counter) Burnt() uint64 {
	return c.burnt
}

// Remaining returns the gas still available.
func (c *Counter) Remaining() uint64 {
	return c.limit - c.burnt
}

// Limit returns the configured gas limit.
func (c *Counter) Limit() uint64 {
	return c.limit
}

// BurntBy returns the gas burnt attributed to kind.
func (c *Counter) BurntBy(kind OpKind) uint64 {
	if kind >= numOpKinds {
		return 0
	}
	return c.byKind[kind]
}
