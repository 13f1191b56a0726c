package hostlib

import (
	"crypto/ed25519"
	"crypto/sha256"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshplus/wasmcore/pkg/vm"
	"github.com/meshplus/wasmcore/pkg/vm/gas"
)

const testPageSize = 65536

// fakeMemory is a plain byte-slice linear memory.
type fakeMemory struct {
	data []byte
}

func newFakeMemory(pages uint32) *fakeMemory {
	return &fakeMemory{data: make([]byte, pages*testPageSize)}
}

func (f *fakeMemory) Read(off, n uint32) ([]byte, bool) {
	if uint64(off)+uint64(n) > uint64(len(f.data)) {
		return nil, false
	}
	return f.data[off : off+n], true
}

func (f *fakeMemory) Write(off uint32, b []byte) bool {
	if uint64(off)+uint64(len(b)) > uint64(len(f.data)) {
		return false
	}
	copy(f.data[off:], b)
	return true
}

func (f *fakeMemory) PageCount() uint32 {
	return uint32(len(f.data) / testPageSize)
}

func (f *fakeMemory) GrowPages(delta uint32) (uint32, bool) {
	prev := f.PageCount()
	f.data = append(f.data, make([]byte, delta*testPageSize)...)
	return prev, true
}

func newTestContext(t *testing.T, gasLimit uint64) (*CallContext, *gas.Counter, *vm.MapView) {
	t.Helper()
	view := vm.NewMapView()
	counter := gas.NewCounter(gasLimit)
	ectx := vm.NewContext("main", []byte("call-input"), gasLimit, nil)
	ectx.CurrentAccount = "alice"
	ectx.CallerAccount = "bob"
	ectx.SignerAccount = "carol"
	ectx.BlockHeight = 42
	ectx.BlockTimestamp = 1700000000
	ectx.EpochID = "epoch-7"
	cc := New(ectx, view, counter, gas.DefaultSchedule())
	cc.SetMemory(newFakeMemory(1))
	return cc, counter, view
}

func TestStorageWriteReadRoundTrip(t *testing.T) {
	cc, _, _ := newTestContext(t, 1_000_000)
	mem := cc.mem.(*fakeMemory)
	copy(mem.data[0:], "key")
	copy(mem.data[10:], "value")

	existed, verr := cc.StorageWrite(0, 3, 10, 5)
	require.Nil(t, verr)
	assert.Equal(t, int32(0), existed)

	// the execution reads its own pending write
	n, verr := cc.StorageRead(0, 3, 100, 64)
	require.Nil(t, verr)
	require.Equal(t, int32(5), n)
	assert.Equal(t, []byte("value"), mem.data[100:105])

	// a second write to the same key reports the prior one
	existed, verr = cc.StorageWrite(0, 3, 10, 5)
	require.Nil(t, verr)
	assert.Equal(t, int32(1), existed)

	out := cc.Finish(nil)
	require.Nil(t, out.Err)
	require.Len(t, out.Intents, 2)
	assert.Equal(t, vm.IntentStorageSet, out.Intents[0].Kind)
	assert.Equal(t, []byte("key"), out.Intents[0].Key)
}

func TestStorageRemoveTombstone(t *testing.T) {
	cc, _, view := newTestContext(t, 1_000_000)
	view.Storage["key"] = []byte("old")
	mem := cc.mem.(*fakeMemory)
	copy(mem.data[0:], "key")

	existed, verr := cc.StorageRemove(0, 3)
	require.Nil(t, verr)
	assert.Equal(t, int32(1), existed)

	// removed for this execution even though the view still holds it
	has, verr := cc.StorageHas(0, 3)
	require.Nil(t, verr)
	assert.Equal(t, int32(0), has)

	n, verr := cc.StorageRead(0, 3, 100, 64)
	require.Nil(t, verr)
	assert.Equal(t, int32(-1), n)
}

func TestGasChargedBeforeMemoryAccess(t *testing.T) {
	// the limit covers nothing, so the charge fails before the bogus
	// pointer is ever dereferenced
	cc, counter, _ := newTestContext(t, 10)
	_, verr := cc.StorageWrite(0xFFFF_0000, 100, 0, 0)
	require.NotNil(t, verr)
	assert.Equal(t, vm.GasExceeded, verr.Kind)
	assert.Equal(t, uint64(10), counter.Burnt())
}

func TestOutOfBoundsHostArgument(t *testing.T) {
	cc, counter, _ := newTestContext(t, 1_000_000)
	_, verr := cc.StorageWrite(0xFFFF_0000, 100, 0, 0)
	require.NotNil(t, verr)
	assert.Equal(t, vm.MemoryAccessViolation, verr.Kind)
	// the operation's fee was still charged
	assert.NotZero(t, counter.Burnt())

	// the fault dropped the state intents
	out := cc.Finish(nil)
	require.NotNil(t, out.Err)
	assert.Empty(t, out.Intents)
}

func TestContractFaultKeepsLogsDropsIntents(t *testing.T) {
	cc, _, _ := newTestContext(t, 1_000_000)
	mem := cc.mem.(*fakeMemory)
	copy(mem.data[0:], "hello")
	copy(mem.data[10:], "k")

	require.Nil(t, cc.LogUtf8(0, 5))
	_, verr := cc.StorageWrite(10, 1, 0, 5)
	require.Nil(t, verr)
	_, verr = cc.PromiseCreate(10, 1, 0, 5, 0, 0, 1000)
	require.Nil(t, verr)

	cc.Abort(vm.NewTrap(vm.TrapUnreachable))
	out := cc.Finish(nil)

	require.NotNil(t, out.Err)
	assert.Equal(t, vm.Trap, out.Err.Kind)
	assert.Equal(t, []string{"hello"}, out.Logs)
	assert.Len(t, out.Promises, 1)
	assert.Empty(t, out.Intents)
	assert.Nil(t, out.ReturnValue)
}

func TestLogRejectsInvalidUTF8(t *testing.T) {
	cc, _, _ := newTestContext(t, 1_000_000)
	mem := cc.mem.(*fakeMemory)
	mem.data[0] = 0xFF
	mem.data[1] = 0xFE

	verr := cc.LogUtf8(0, 2)
	require.NotNil(t, verr)
	assert.Equal(t, vm.HostLogicError, verr.Kind)
	assert.Equal(t, vm.HostInvalidUTF8, verr.Host)
}

func TestInputAndContext(t *testing.T) {
	cc, _, _ := newTestContext(t, 1_000_000)
	mem := cc.mem.(*fakeMemory)

	n, verr := cc.InputLen()
	require.Nil(t, verr)
	assert.Equal(t, int32(10), n)

	n, verr = cc.Input(0, 64)
	require.Nil(t, verr)
	require.Equal(t, int32(10), n)
	assert.Equal(t, []byte("call-input"), mem.data[0:10])

	n, verr = cc.CurrentAccountID(100, 64)
	require.Nil(t, verr)
	assert.Equal(t, []byte("alice"), mem.data[100:100+n])

	h, verr := cc.BlockHeight()
	require.Nil(t, verr)
	assert.Equal(t, int64(42), h)
}

func TestInputTruncatedToCap(t *testing.T) {
	cc, _, _ := newTestContext(t, 1_000_000)
	mem := cc.mem.(*fakeMemory)

	n, verr := cc.Input(0, 4)
	require.Nil(t, verr)
	// full length returned so the guest can retry with a larger buffer
	assert.Equal(t, int32(10), n)
	assert.Equal(t, []byte("call"), mem.data[0:4])
	assert.Equal(t, byte(0), mem.data[4])
}

func TestBalanceTransfer(t *testing.T) {
	cc, _, view := newTestContext(t, 1_000_000)
	view.Balances["alice"] = 500
	mem := cc.mem.(*fakeMemory)
	copy(mem.data[0:], "bob")

	require.Nil(t, cc.BalanceTransfer(0, 3, 200))

	// the executing account sees its own pending debit
	copy(mem.data[20:], "alice")
	bal, verr := cc.AccountBalance(20, 5)
	require.Nil(t, verr)
	assert.Equal(t, int64(300), bal)

	out := cc.Finish(nil)
	require.Nil(t, out.Err)
	require.Len(t, out.Intents, 2)
	assert.Equal(t, int64(-200), out.Intents[0].Delta)
	assert.Equal(t, "alice", out.Intents[0].Account)
	assert.Equal(t, int64(200), out.Intents[1].Delta)
	assert.Equal(t, "bob", out.Intents[1].Account)
}

func TestBalanceTransferOverspend(t *testing.T) {
	cc, _, view := newTestContext(t, 1_000_000)
	view.Balances["alice"] = 100
	mem := cc.mem.(*fakeMemory)
	copy(mem.data[0:], "bob")

	verr := cc.BalanceTransfer(0, 3, 101)
	require.NotNil(t, verr)
	assert.Equal(t, vm.HostLogicError, verr.Kind)
	assert.Equal(t, vm.HostBalanceOverflow, verr.Host)
}

func TestBalanceSaturatesGuestDomain(t *testing.T) {
	cc, _, view := newTestContext(t, 1_000_000)
	view.Balances["alice"] = math.MaxUint64
	cc.ectx.AttachedDeposit = 10
	mem := cc.mem.(*fakeMemory)

	// the executing account's balance plus deposit must not wrap into a
	// negative i64
	copy(mem.data[0:], "alice")
	bal, verr := cc.AccountBalance(0, 5)
	require.Nil(t, verr)
	assert.Equal(t, int64(math.MaxInt64), bal)

	// other accounts above the i64 ceiling clamp the same way
	view.Balances["whale"] = math.MaxUint64
	copy(mem.data[20:], "whale")
	bal, verr = cc.AccountBalance(20, 5)
	require.Nil(t, verr)
	assert.Equal(t, int64(math.MaxInt64), bal)

	// spending still works against the saturated total
	copy(mem.data[40:], "bob")
	require.Nil(t, cc.BalanceTransfer(40, 3, 300))
}

func TestPromiseChain(t *testing.T) {
	cc, _, _ := newTestContext(t, 1_000_000)
	mem := cc.mem.(*fakeMemory)
	copy(mem.data[0:], "target")
	copy(mem.data[10:], "callback")

	idx, verr := cc.PromiseCreate(0, 6, 10, 8, 0, 0, 5000)
	require.Nil(t, verr)
	assert.Equal(t, uint64(0), idx)

	idx, verr = cc.PromiseThen(0, 0, 6, 10, 8, 0, 0, 5000)
	require.Nil(t, verr)
	assert.Equal(t, uint64(1), idx)

	out := cc.Finish(nil)
	require.Len(t, out.Promises, 2)
	assert.Empty(t, out.Promises[0].After)
	assert.Equal(t, []uint64{0}, out.Promises[1].After)
	assert.Equal(t, "target", out.Promises[1].Account)
	assert.Equal(t, "callback", out.Promises[1].Method)
}

func TestPromiseThenInvalidIndex(t *testing.T) {
	cc, _, _ := newTestContext(t, 1_000_000)
	_, verr := cc.PromiseThen(7, 0, 0, 0, 0, 0, 0, 0)
	require.NotNil(t, verr)
	assert.Equal(t, vm.HostInvalidPromiseIndex, verr.Host)
}

func TestCryptoDigests(t *testing.T) {
	cc, _, _ := newTestContext(t, 1_000_000)
	mem := cc.mem.(*fakeMemory)
	copy(mem.data[0:], "payload")

	require.Nil(t, cc.Sha256(0, 7, 100))
	want := sha256.Sum256([]byte("payload"))
	assert.Equal(t, want[:], mem.data[100:132])
}

func TestEd25519Verify(t *testing.T) {
	cc, _, _ := newTestContext(t, 1_000_000)
	mem := cc.mem.(*fakeMemory)

	pub, priv, err := ed25519.GenerateKey(nil)
	require.Nil(t, err)
	msg := []byte("signed message")
	sig := ed25519.Sign(priv, msg)

	copy(mem.data[0:], sig)
	copy(mem.data[100:], msg)
	copy(mem.data[200:], pub)

	ok, verr := cc.Ed25519Verify(0, 100, uint32(len(msg)), 200)
	require.Nil(t, verr)
	assert.Equal(t, int32(1), ok)

	mem.data[100] ^= 0x01
	ok, verr = cc.Ed25519Verify(0, 100, uint32(len(msg)), 200)
	require.Nil(t, verr)
	assert.Equal(t, int32(0), ok)
}

func TestGrowChargesBeforeCeiling(t *testing.T) {
	cc, counter, _ := newTestContext(t, 1_000_000)
	sched := cc.sched

	// growth past the ceiling fails like memory.grow but still pays
	before := counter.Burnt()
	ret, verr := cc.Grow(int32(sched.MaxMemoryPages))
	require.Nil(t, verr)
	assert.Equal(t, int32(-1), ret)
	assert.Equal(t, before+sched.MemoryGrowPage*uint64(sched.MaxMemoryPages), counter.Burnt())

	// growth within the ceiling succeeds and returns the prior pages
	ret, verr = cc.Grow(2)
	require.Nil(t, verr)
	assert.Equal(t, int32(1), ret)
	assert.Equal(t, uint32(3), cc.mem.PageCount())
}

func TestStackDepthCeiling(t *testing.T) {
	cc, _, _ := newTestContext(t, 100_000_000)
	for i := uint32(0); i < cc.sched.MaxStackDepth; i++ {
		require.Nil(t, cc.StackEnter())
	}
	verr := cc.StackEnter()
	require.NotNil(t, verr)
	assert.Equal(t, vm.Trap, verr.Kind)
	assert.Equal(t, vm.TrapStackOverflow, verr.Trap)

	out := cc.Finish(nil)
	assert.Equal(t, verr, out.Err)
}

func TestUseGasExhaustion(t *testing.T) {
	cc, counter, _ := newTestContext(t, 50)
	require.Nil(t, cc.UseGas(50))
	verr := cc.UseGas(1)
	require.NotNil(t, verr)
	assert.Equal(t, vm.GasExceeded, verr.Kind)
	assert.Equal(t, uint64(50), counter.Burnt())
}

func TestReturnValueRecorded(t *testing.T) {
	cc, _, _ := newTestContext(t, 1_000_000)
	mem := cc.mem.(*fakeMemory)
	copy(mem.data[0:], "result")

	require.Nil(t, cc.ReturnValue(0, 6))
	out := cc.Finish(nil)
	require.Nil(t, out.Err)
	assert.Equal(t, []byte("result"), out.ReturnValue)
}
