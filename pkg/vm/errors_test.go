package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFaultClassification(t *testing.T) {
	contractFaults := []*VMError{
		NewCompilationError("bad magic"),
		NewLinkError("unknown import"),
		NewMethodNotFound("missing"),
		NewTrap(TrapUnreachable),
		NewGasExceeded(),
		NewMemoryAccessViolation("oob"),
		NewHostLogicError(HostInvalidUTF8, "log"),
	}
	for _, err := range contractFaults {
		assert.True(t, err.IsContractFault(), err.Kind.String())
		assert.False(t, err.IsHostFault(), err.Kind.String())
	}

	host := NewInternalBackendError("engine bug")
	assert.True(t, host.IsHostFault())
	assert.False(t, host.IsContractFault())
}

func TestEveryKindIsClassified(t *testing.T) {
	for kind := CompilationError; kind <= InternalBackendError; kind++ {
		_, ok := faultClasses[kind]
		require.True(t, ok, kind.String())
	}
}

func TestVMErrorText(t *testing.T) {
	assert.Equal(t, "Trap: stack-overflow", NewTrap(TrapStackOverflow).Error())
	assert.Equal(t, "HostLogicError: invalid-promise-index",
		NewHostLogicError(HostInvalidPromiseIndex, "promise_then").Error())
	assert.Equal(t, "MethodNotFound: foo", NewMethodNotFound("foo").Error())
	assert.Equal(t, "GasExceeded", NewGasExceeded().Error())
}
