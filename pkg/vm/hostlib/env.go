package hostlib

import (
	"crypto/ed25519"
	"crypto/sha256"
	"math"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/meshplus/wasmcore/pkg/vm"
	"github.com/meshplus/wasmcore/pkg/vm/gas"
)

// Every function below implements one entry of the env ABI. The
// contract is uniform: charge gas for the operation first, then touch
// guest memory, then act. A gas failure therefore burns the remaining
// gas even when the access that follows would have been out of bounds.

// StorageWrite records a pending write and returns 1 when the key was
// already present, 0 otherwise.
func (cc *CallContext) StorageWrite(keyPtr, keyLen, valPtr, valLen uint32) (int32, *vm.VMError) {
	if err := cc.charge(gas.OpHostStorage, cc.sched.Storage.Write.Cost(uint64(keyLen)+uint64(valLen))); err != nil {
		return 0, err
	}
	key, err := cc.readGuest(keyPtr, keyLen)
	if err != nil {
		return 0, err
	}
	val, err := cc.readGuest(valPtr, valLen)
	if err != nil {
		return 0, err
	}
	existed := cc.storageHas(key)
	k := append([]byte(nil), key...)
	v := append([]byte(nil), val...)
	cc.overlay[string(k)] = v
	cc.intents = append(cc.intents, vm.Intent{Kind: vm.IntentStorageSet, Key: k, Value: v})
	if existed {
		return 1, nil
	}
	return 0, nil
}

// StorageRead copies the value for a key into the guest buffer and
// returns the full value length, or -1 when the key is absent. A value
// longer than the buffer is truncated; the return length tells the
// guest to retry with a larger buffer.
func (cc *CallContext) StorageRead(keyPtr, keyLen, outPtr, outCap uint32) (int32, *vm.VMError) {
	if err := cc.charge(gas.OpHostStorage, cc.sched.Storage.Read.Cost(uint64(keyLen))); err != nil {
		return 0, err
	}
	key, err := cc.readGuest(keyPtr, keyLen)
	if err != nil {
		return 0, err
	}
	val, ok := cc.storageGet(key)
	if !ok {
		return -1, nil
	}
	if err := cc.charge(gas.OpHostStorage, cc.sched.Storage.Read.PerByte*uint64(len(val))); err != nil {
		return 0, err
	}
	return cc.writeGuest(outPtr, outCap, val)
}

// StorageRemove records a remove tombstone and returns 1 when the key
// was present.
func (cc *CallContext) StorageRemove(keyPtr, keyLen uint32) (int32, *vm.VMError) {
	if err := cc.charge(gas.OpHostStorage, cc.sched.Storage.Remove.Cost(uint64(keyLen))); err != nil {
		return 0, err
	}
	key, err := cc.readGuest(keyPtr, keyLen)
	if err != nil {
		return 0, err
	}
	existed := cc.storageHas(key)
	k := append([]byte(nil), key...)
	cc.overlay[string(k)] = nil
	cc.intents = append(cc.intents, vm.Intent{Kind: vm.IntentStorageRemove, Key: k})
	if existed {
		return 1, nil
	}
	return 0, nil
}

// StorageHas returns 1 when the key is present.
func (cc *CallContext) StorageHas(keyPtr, keyLen uint32) (int32, *vm.VMError) {
	if err := cc.charge(gas.OpHostStorage, cc.sched.Storage.Has.Cost(uint64(keyLen))); err != nil {
		return 0, err
	}
	key, err := cc.readGuest(keyPtr, keyLen)
	if err != nil {
		return 0, err
	}
	if cc.storageHas(key) {
		return 1, nil
	}
	return 0, nil
}

// InputLen returns the length of the call input.
func (cc *CallContext) InputLen() (int32, *vm.VMError) {
	if err := cc.charge(gas.OpHostContext, cc.sched.ContextRead); err != nil {
		return 0, err
	}
	return int32(len(cc.ectx.Input)), nil
}

// Input copies the call input into the guest buffer.
func (cc *CallContext) Input(outPtr, outCap uint32) (int32, *vm.VMError) {
	if err := cc.charge(gas.OpHostContext, cc.sched.ReadInput.Cost(uint64(len(cc.ectx.Input)))); err != nil {
		return 0, err
	}
	return cc.writeGuest(outPtr, outCap, cc.ectx.Input)
}

// ReturnValue records the execution's return value. A later call
// replaces an earlier one.
func (cc *CallContext) ReturnValue(ptr, n uint32) *vm.VMError {
	if err := cc.charge(gas.OpHostContext, cc.sched.ContextRead+uint64(n)); err != nil {
		return err
	}
	data, err := cc.readGuest(ptr, n)
	if err != nil {
		return err
	}
	cc.returnValue = append([]byte(nil), data...)
	return nil
}

// LogUtf8 appends a log line. The bytes must be valid UTF-8.
func (cc *CallContext) LogUtf8(ptr, n uint32) *vm.VMError {
	if err := cc.charge(gas.OpHostLog, cc.sched.Log.Cost(uint64(n))); err != nil {
		return err
	}
	data, err := cc.readGuest(ptr, n)
	if err != nil {
		return err
	}
	if !utf8.Valid(data) {
		return cc.fail(vm.NewHostLogicError(vm.HostInvalidUTF8, "log_utf8"))
	}
	cc.logs = append(cc.logs, string(data))
	return nil
}

func (cc *CallContext) contextString(outPtr, outCap uint32, s string) (int32, *vm.VMError) {
	if err := cc.charge(gas.OpHostContext, cc.sched.ContextRead); err != nil {
		return 0, err
	}
	return cc.writeGuest(outPtr, outCap, []byte(s))
}

// CurrentAccountID copies the executing account id into the guest
// buffer and returns its length.
func (cc *CallContext) CurrentAccountID(outPtr, outCap uint32) (int32, *vm.VMError) {
	return cc.contextString(outPtr, outCap, cc.ectx.CurrentAccount)
}

// CallerAccountID copies the immediate caller's account id.
func (cc *CallContext) CallerAccountID(outPtr, outCap uint32) (int32, *vm.VMError) {
	return cc.contextString(outPtr, outCap, cc.ectx.CallerAccount)
}

// SignerAccountID copies the original transaction signer's account id.
func (cc *CallContext) SignerAccountID(outPtr, outCap uint32) (int32, *vm.VMError) {
	return cc.contextString(outPtr, outCap, cc.ectx.SignerAccount)
}

// AttachedDeposit returns the balance attached to this call.
func (cc *CallContext) AttachedDeposit() (int64, *vm.VMError) {
	if err := cc.charge(gas.OpHostContext, cc.sched.ContextRead); err != nil {
		return 0, err
	}
	return clampBalance(cc.ectx.AttachedDeposit), nil
}

// clampBalance maps a balance onto the guest's i64 domain. Balances
// above MaxInt64 saturate instead of wrapping negative.
func clampBalance(v uint64) int64 {
	if v > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(v)
}

// available returns the balance the executing account can still spend:
// its snapshot balance plus the attached deposit, minus transfers
// already committed during this execution. The sum saturates at the
// uint64 ceiling instead of wrapping.
func (cc *CallContext) available() uint64 {
	balance, _ := cc.view.Balance(cc.ectx.CurrentAccount)
	total := balance + cc.ectx.AttachedDeposit
	if total < balance {
		total = math.MaxUint64
	}
	return total - cc.spent
}

// AccountBalance returns the balance of the named account. For the
// executing account the pending deposit and outgoing transfers of this
// execution are folded in; an unknown account reads as zero.
func (cc *CallContext) AccountBalance(ptr, n uint32) (int64, *vm.VMError) {
	if err := cc.charge(gas.OpHostContext, cc.sched.ContextRead); err != nil {
		return 0, err
	}
	name, err := cc.readGuest(ptr, n)
	if err != nil {
		return 0, err
	}
	if string(name) == cc.ectx.CurrentAccount {
		return clampBalance(cc.available()), nil
	}
	balance, _ := cc.view.Balance(string(name))
	return clampBalance(balance), nil
}

// BalanceTransfer records a pending transfer from the executing account.
// Overspending the available balance is a deterministic host logic
// fault.
func (cc *CallContext) BalanceTransfer(toPtr, toLen uint32, amount uint64) *vm.VMError {
	if err := cc.charge(gas.OpHostBalance, cc.sched.BalanceTransfer.Cost(uint64(toLen))); err != nil {
		return err
	}
	to, err := cc.readGuest(toPtr, toLen)
	if err != nil {
		return err
	}
	if !utf8.Valid(to) {
		return cc.fail(vm.NewHostLogicError(vm.HostInvalidUTF8, "balance_transfer receiver"))
	}
	if amount > math.MaxInt64 {
		return cc.fail(vm.NewHostLogicError(vm.HostInvalidArgument, "transfer amount exceeds int64"))
	}
	if amount > cc.available() {
		return cc.fail(vm.NewHostLogicError(vm.HostBalanceOverflow, "insufficient balance"))
	}
	cc.spent += amount
	cc.intents = append(cc.intents,
		vm.Intent{Kind: vm.IntentBalance, Account: cc.ectx.CurrentAccount, Delta: -int64(amount)},
		vm.Intent{Kind: vm.IntentBalance, Account: string(to), Delta: int64(amount)},
	)
	return nil
}

// BlockHeight returns the height of the block this call executes in.
func (cc *CallContext) BlockHeight() (int64, *vm.VMError) {
	if err := cc.charge(gas.OpHostContext, cc.sched.ContextRead); err != nil {
		return 0, err
	}
	return int64(cc.ectx.BlockHeight), nil
}

// BlockTimestamp returns the block timestamp in nanoseconds.
func (cc *CallContext) BlockTimestamp() (int64, *vm.VMError) {
	if err := cc.charge(gas.OpHostContext, cc.sched.ContextRead); err != nil {
		return 0, err
	}
	return int64(cc.ectx.BlockTimestamp), nil
}

// EpochID copies the current epoch identifier.
func (cc *CallContext) EpochID(outPtr, outCap uint32) (int32, *vm.VMError) {
	return cc.contextString(outPtr, outCap, cc.ectx.EpochID)
}

// Sha256 writes the 32-byte SHA-256 digest of the input range to outPtr.
func (cc *CallContext) Sha256(ptr, n, outPtr uint32) *vm.VMError {
	if err := cc.charge(gas.OpHostCrypto, cc.sched.Crypto.Sha256.Cost(uint64(n))); err != nil {
		return err
	}
	data, err := cc.readGuest(ptr, n)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(data)
	_, err = cc.writeGuest(outPtr, uint32(len(sum)), sum[:])
	return err
}

// Keccak256 writes the 32-byte Keccak-256 digest of the input range to
// outPtr.
func (cc *CallContext) Keccak256(ptr, n, outPtr uint32) *vm.VMError {
	if err := cc.charge(gas.OpHostCrypto, cc.sched.Crypto.Keccak256.Cost(uint64(n))); err != nil {
		return err
	}
	data, err := cc.readGuest(ptr, n)
	if err != nil {
		return err
	}
	sum := crypto.Keccak256(data)
	_, err = cc.writeGuest(outPtr, uint32(len(sum)), sum)
	return err
}

// Ed25519Verify checks a 64-byte signature at sigPtr over msgLen bytes
// at msgPtr with the 32-byte public key at keyPtr, returning 1 on a
// valid signature and 0 otherwise.
func (cc *CallContext) Ed25519Verify(sigPtr, msgPtr, msgLen, keyPtr uint32) (int32, *vm.VMError) {
	if err := cc.charge(gas.OpHostCrypto, cc.sched.Crypto.Ed25519Verify.Cost(uint64(msgLen))); err != nil {
		return 0, err
	}
	sig, err := cc.readGuest(sigPtr, ed25519.SignatureSize)
	if err != nil {
		return 0, err
	}
	msg, err := cc.readGuest(msgPtr, msgLen)
	if err != nil {
		return 0, err
	}
	key, err := cc.readGuest(keyPtr, ed25519.PublicKeySize)
	if err != nil {
		return 0, err
	}
	if ed25519.Verify(ed25519.PublicKey(key), msg, sig) {
		return 1, nil
	}
	return 0, nil
}

func (cc *CallContext) readPromiseTarget(accPtr, accLen, methodPtr, methodLen, argsPtr, argsLen uint32) (string, string, []byte, *vm.VMError) {
	acc, err := cc.readGuest(accPtr, accLen)
	if err != nil {
		return "", "", nil, err
	}
	method, err := cc.readGuest(methodPtr, methodLen)
	if err != nil {
		return "", "", nil, err
	}
	args, err := cc.readGuest(argsPtr, argsLen)
	if err != nil {
		return "", "", nil, err
	}
	if !utf8.Valid(acc) || !utf8.Valid(method) {
		return "", "", nil, cc.fail(vm.NewHostLogicError(vm.HostInvalidUTF8, "promise target"))
	}
	return string(acc), string(method), append([]byte(nil), args...), nil
}

// PromiseCreate schedules a root cross-contract call and returns its
// promise index. The call only runs in a later, separate execution; its
// result is never observable here.
func (cc *CallContext) PromiseCreate(accPtr, accLen, methodPtr, methodLen, argsPtr, argsLen uint32, gasAmount uint64) (uint64, *vm.VMError) {
	if err := cc.charge(gas.OpHostPromise, cc.sched.Promise.Create.Cost(uint64(accLen)+uint64(methodLen)+uint64(argsLen))); err != nil {
		return 0, err
	}
	acc, method, args, err := cc.readPromiseTarget(accPtr, accLen, methodPtr, methodLen, argsPtr, argsLen)
	if err != nil {
		return 0, err
	}
	idx := uint64(len(cc.promises))
	cc.promises = append(cc.promises, vm.Promise{
		Index:   idx,
		Account: acc,
		Method:  method,
		Args:    args,
		Gas:     gasAmount,
	})
	return idx, nil
}

// PromiseThen schedules a call chained behind an existing promise.
// Naming a promise index that was never returned by this execution is a
// deterministic host logic fault.
func (cc *CallContext) PromiseThen(after uint64, accPtr, accLen, methodPtr, methodLen, argsPtr, argsLen uint32, gasAmount uint64) (uint64, *vm.VMError) {
	if err := cc.charge(gas.OpHostPromise, cc.sched.Promise.Then.Cost(uint64(accLen)+uint64(methodLen)+uint64(argsLen))); err != nil {
		return 0, err
	}
	if after >= uint64(len(cc.promises)) {
		return 0, cc.fail(vm.NewHostLogicError(vm.HostInvalidPromiseIndex, "promise_then"))
	}
	acc, method, args, err := cc.readPromiseTarget(accPtr, accLen, methodPtr, methodLen, argsPtr, argsLen)
	if err != nil {
		return 0, err
	}
	idx := uint64(len(cc.promises))
	cc.promises = append(cc.promises, vm.Promise{
		Index:   idx,
		After:   []uint64{after},
		Account: acc,
		Method:  method,
		Args:    args,
		Gas:     gasAmount,
	})
	return idx, nil
}
