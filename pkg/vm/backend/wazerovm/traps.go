package wazerovm

import (
	"strings"

	"github.com/meshplus/wasmcore/pkg/vm"
)

// trapPatterns maps substrings of wazero runtime error text to the
// normalized trap taxonomy. Order matters: the first match wins. The
// engine's native call-stack exhaustion is deliberately absent: the
// instrumented depth guard fires long before it, so reaching the native
// limit means the guard was not injected and the run must not be charged
// to the contract.
var trapPatterns = []struct {
	substr string
	reason vm.TrapReason
}{
	{"out of bounds memory access", vm.TrapMemoryOutOfBounds},
	{"integer divide by zero", vm.TrapDivisionByZero},
	{"integer overflow", vm.TrapIntegerOverflow},
	{"indirect call type mismatch", vm.TrapIndirectCallMismatch},
	{"out of bounds table access", vm.TrapTableOutOfBounds},
	{"invalid table access", vm.TrapTableOutOfBounds},
	{"unreachable", vm.TrapUnreachable},
}

// classifyTrapMessage returns the normalized trap for a recognized
// engine error message, or nil when the message matches nothing.
func classifyTrapMessage(msg string) *vm.VMError {
	for _, p := range trapPatterns {
		if strings.Contains(msg, p.substr) {
			return vm.NewTrap(p.reason)
		}
	}
	return nil
}
