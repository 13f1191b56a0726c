package wasmtimevm

import (
	"strings"

	"github.com/meshplus/wasmcore/pkg/vm"
)

// trapPatterns maps substrings of wasmtime trap text to the normalized
// taxonomy. The engine's native call-stack exhaustion is deliberately
// absent: the instrumented depth guard fires long before it, so reaching
// the native limit means the guard was not injected and the run must not
// be charged to the contract.
var trapPatterns = []struct {
	substr string
	reason vm.TrapReason
}{
	{"out of bounds memory access", vm.TrapMemoryOutOfBounds},
	{"integer divide by zero", vm.TrapDivisionByZero},
	{"integer overflow", vm.TrapIntegerOverflow},
	{"indirect call type mismatch", vm.TrapIndirectCallMismatch},
	// the wazero engine reports one error for out-of-range and null
	// table entries, so both collapse to TableOutOfBounds here as well
	{"out of bounds table access", vm.TrapTableOutOfBounds},
	{"undefined element", vm.TrapTableOutOfBounds},
	{"uninitialized element", vm.TrapTableOutOfBounds},
	{"unreachable", vm.TrapUnreachable},
}

// classifyTrapMessage returns the normalized trap for a recognized
// engine trap message, or nil when the message matches nothing.
func classifyTrapMessage(msg string) *vm.VMError {
	for _, p := range trapPatterns {
		if strings.Contains(msg, p.substr) {
			return vm.NewTrap(p.reason)
		}
	}
	return nil
}
