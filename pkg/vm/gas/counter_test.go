package gas

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounterCharge(t *testing.T) {
	c := NewCounter(100)
	require.Nil(t, c.Charge(OpWasm, 40))
	require.Nil(t, c.Charge(OpHostStorage, 60))
	assert.Equal(t, uint64(100), c.Burnt())
	assert.Equal(t, uint64(0), c.Remaining())
	assert.Equal(t, uint64(40), c.BurntBy(OpWasm))
	assert.Equal(t, uint64(60), c.BurntBy(OpHostStorage))
}

func TestCounterExceedConsumesRemaining(t *testing.T) {
	c := NewCounter(100)
	require.Nil(t, c.Charge(OpWasm, 90))

	err := c.Charge(OpHostStorage, 20)
	require.Equal(t, ErrGasExceeded, err)

	// the failed charge consumes what was left; nothing is refunded
	assert.Equal(t, uint64(100), c.Burnt())
	assert.Equal(t, uint64(10), c.BurntBy(OpHostStorage))

	// the counter stays exhausted
	assert.Equal(t, ErrGasExceeded, c.Charge(OpWasm, 1))
	assert.Equal(t, uint64(100), c.Burnt())
}

func TestCounterZeroCharge(t *testing.T) {
	c := NewCounter(10)
	require.Nil(t, c.Charge(OpBase, 0))
	assert.Equal(t, uint64(0), c.Burnt())

	// zero charge on an exhausted counter still succeeds
	require.Equal(t, ErrGasExceeded, c.Charge(OpBase, 11))
	require.Nil(t, c.Charge(OpBase, 0))
}

func TestScheduleValidate(t *testing.T) {
	sched := DefaultSchedule()
	require.Nil(t, sched.Validate())

	sched.MaxMemoryPages = 0
	require.NotNil(t, sched.Validate())

	sched = DefaultSchedule()
	sched.MaxStackDepth = 0
	require.NotNil(t, sched.Validate())

	sched = DefaultSchedule()
	sched.Version = 0
	require.NotNil(t, sched.Validate())
}

func TestFeeCost(t *testing.T) {
	fee := Fee{Base: 100, PerByte: 2}
	assert.Equal(t, uint64(100), fee.Cost(0))
	assert.Equal(t, uint64(120), fee.Cost(10))
}
