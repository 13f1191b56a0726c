// Package abi pins the host interface a contract module may import
// against. The table is versioned: changing a signature or adding a
// function is a protocol change and must bump Version.
package abi

// ValType is a wasm value type byte as encoded in the binary format.
type ValType byte

const (
	I32 ValType = 0x7F
	I64 ValType = 0x7E
	F32 ValType = 0x7D
	F64 ValType = 0x7C
)

// FuncType is a wasm function signature.
type FuncType struct {
	Params  []ValType
	Results []ValType
}

const (
	// Version is the host ABI version.
	Version = 1

	// HostModule is the import namespace contracts link against.
	HostModule = "env"

	// MeteringModule is the import namespace reserved for the
	// instrumentation pass. Contracts may not import it themselves.
	MeteringModule = "metering"
)

// Names of the metering imports injected by the instrumentation pass.
const (
	UseGas     = "usegas"
	MemGrow    = "grow"
	StackEnter = "stack_enter"
	StackExit  = "stack_exit"
)

// MeteringImport is one injected import, in fixed injection order.
type MeteringImport struct {
	Name string
	Type FuncType
}

// MeteringImports lists the metering imports in the order the
// instrumentation pass injects them. The order is part of the
// instrumented-module format and must not change within a version.
var MeteringImports = []MeteringImport{
	{Name: UseGas, Type: FuncType{Params: []ValType{I64}}},
	{Name: MemGrow, Type: FuncType{Params: []ValType{I32}, Results: []ValType{I32}}},
	{Name: StackEnter, Type: FuncType{}},
	{Name: StackExit, Type: FuncType{}},
}

// Funcs is the fixed env ABI: every function a contract may import, with
// its exact signature. Pointers and lengths are i32 offsets into the
// guest's linear memory; balances, gas and chain metadata are i64.
var Funcs = map[string]FuncType{
	// storage
	"storage_write":  {Params: []ValType{I32, I32, I32, I32}, Results: []ValType{I32}},
	"storage_read":   {Params: []ValType{I32, I32, I32, I32}, Results: []ValType{I32}},
	"storage_remove": {Params: []ValType{I32, I32}, Results: []ValType{I32}},
	"storage_has":    {Params: []ValType{I32, I32}, Results: []ValType{I32}},

	// call input / output
	"input_len":    {Results: []ValType{I32}},
	"input":        {Params: []ValType{I32, I32}, Results: []ValType{I32}},
	"return_value": {Params: []ValType{I32, I32}},
	"log_utf8":     {Params: []ValType{I32, I32}},

	// accounts and balances
	"current_account_id": {Params: []ValType{I32, I32}, Results: []ValType{I32}},
	"caller_account_id":  {Params: []ValType{I32, I32}, Results: []ValType{I32}},
	"signer_account_id":  {Params: []ValType{I32, I32}, Results: []ValType{I32}},
	"attached_deposit":   {Results: []ValType{I64}},
	"account_balance":    {Params: []ValType{I32, I32}, Results: []ValType{I64}},
	"balance_transfer":   {Params: []ValType{I32, I32, I64}},

	// block context
	"block_height":    {Results: []ValType{I64}},
	"block_timestamp": {Results: []ValType{I64}},
	"epoch_id":        {Params: []ValType{I32, I32}, Results: []ValType{I32}},

	// crypto
	"sha256":         {Params: []ValType{I32, I32, I32}},
	"keccak256":      {Params: []ValType{I32, I32, I32}},
	"ed25519_verify": {Params: []ValType{I32, I32, I32, I32}, Results: []ValType{I32}},

	// cross-contract promises
	"promise_create": {Params: []ValType{I32, I32, I32, I32, I32, I32, I64}, Results: []ValType{I64}},
	"promise_then":   {Params: []ValType{I64, I32, I32, I32, I32, I32, I32, I64}, Results: []ValType{I64}},
}

// Equal reports whether two signatures match exactly.
func (t FuncType) Equal(o FuncType) bool {
	if len(t.Params) != len(o.Params) || len(t.Results) != len(o.Results) {
		return false
	}
	for i := range t.Params {
		if t.Params[i] != o.Params[i] {
			return false
		}
	}
	for i := range t.Results {
		if t.Results[i] != o.Results[i] {
			return false
		}
	}
	return true
}
