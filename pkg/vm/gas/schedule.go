package gas

import "fmt"

// Fee is the cost of a single host operation: a flat base charge plus a
// per-byte charge on the payload the operation touches.
type Fee struct {
	Base    uint64 `toml:"base" json:"base"`
	PerByte uint64 `toml:"per_byte" json:"per_byte"`
}

// Cost returns the total fee for an operation touching n bytes.
func (f Fee) Cost(n uint64) uint64 {
	return f.Base + f.PerByte*n
}

// StorageFees are the fees for the storage host calls.
type StorageFees struct {
	Read   Fee `toml:"read" json:"read"`
	Write  Fee `toml:"write" json:"write"`
	Remove Fee `toml:"remove" json:"remove"`
	Has    Fee `toml:"has" json:"has"`
}

// CryptoFees are the fees for the cryptographic host calls.
type CryptoFees struct {
	Sha256        Fee `toml:"sha256" json:"sha256"`
	Keccak256     Fee `toml:"keccak256" json:"keccak256"`
	Ed25519Verify Fee `toml:"ed25519_verify" json:"ed25519_verify"`
}

// PromiseFees are the fees for cross-contract promise scheduling.
type PromiseFees struct {
	Create Fee `toml:"create" json:"create"`
	Then   Fee `toml:"then" json:"then"`
}

// Schedule maps operation classes and host-call kinds to gas costs. A
// schedule is immutable once constructed and shared read-only by all
// concurrent executions. Version pins the schedule: the module cache keys
// compiled artifacts by (code hash, schedule version, backend id), so the
// limits that feed instrumentation live here as well.
type Schedule struct {
	Version uint32 `toml:"version" json:"version"`

	// BaseFee is the flat submission fee charged before any validation.
	BaseFee uint64 `mapstructure:"base_fee" toml:"base_fee" json:"base_fee"`
	// MethodLookupFee is the flat fee for resolving the invoked method name.
	MethodLookupFee uint64 `mapstructure:"method_lookup_fee" toml:"method_lookup_fee" json:"method_lookup_fee"`

	// RegularOp is the cost of one metered wasm instruction.
	RegularOp uint64 `mapstructure:"regular_op" toml:"regular_op" json:"regular_op"`
	// MemoryGrowPage is the cost of growing linear memory by one page.
	MemoryGrowPage uint64 `mapstructure:"memory_grow_page" toml:"memory_grow_page" json:"memory_grow_page"`
	// StackFrame is the cost of entering one call frame.
	StackFrame uint64 `mapstructure:"stack_frame" toml:"stack_frame" json:"stack_frame"`
	// ContextRead is the cost of one context metadata query.
	ContextRead uint64 `mapstructure:"context_read" toml:"context_read" json:"context_read"`

	// MaxMemoryPages is the hard linear-memory ceiling (64KiB pages).
	MaxMemoryPages uint32 `mapstructure:"max_memory_pages" toml:"max_memory_pages" json:"max_memory_pages"`
	// MaxStackDepth bounds guest call-frame nesting.
	MaxStackDepth uint32 `mapstructure:"max_stack_depth" toml:"max_stack_depth" json:"max_stack_depth"`

	Storage         StorageFees `toml:"storage" json:"storage"`
	Log             Fee         `toml:"log" json:"log"`
	ReadInput       Fee         `mapstructure:"read_input" toml:"read_input" json:"read_input"`
	Crypto          CryptoFees  `toml:"crypto" json:"crypto"`
	Promise         PromiseFees `toml:"promise" json:"promise"`
	BalanceTransfer Fee         `mapstructure:"balance_transfer" toml:"balance_transfer" json:"balance_transfer"`
}

// DefaultSchedule returns the version 1 cost schedule.
func DefaultSchedule() *Schedule {
	return &Schedule{
		Version:         1,
		BaseFee:         100,
		MethodLookupFee: 50,
		RegularOp:       1,
		MemoryGrowPage:  1024,
		StackFrame:      8,
		ContextRead:     20,
		MaxMemoryPages:  256, // 16MiB
		MaxStackDepth:   1024,
		Storage: StorageFees{
			Read:   Fee{Base: 50, PerByte: 1},
			Write:  Fee{Base: 100, PerByte: 2},
			Remove: Fee{Base: 80, PerByte: 1},
			Has:    Fee{Base: 40, PerByte: 1},
		},
		Log:       Fee{Base: 20, PerByte: 1},
		ReadInput: Fee{Base: 10, PerByte: 1},
		Crypto: CryptoFees{
			Sha256:        Fee{Base: 200, PerByte: 2},
			Keccak256:     Fee{Base: 250, PerByte: 2},
			Ed25519Verify: Fee{Base: 1500, PerByte: 1},
		},
		Promise: PromiseFees{
			Create: Fee{Base: 300, PerByte: 2},
			Then:   Fee{Base: 300, PerByte: 2},
		},
		BalanceTransfer: Fee{Base: 150, PerByte: 0},
	}
}

// Validate rejects schedules that cannot meter anything.
func (s *Schedule) Validate() error {
	if s.Version == 0 {
		return fmt.Errorf("schedule version must be non-zero")
	}
	if s.MaxMemoryPages == 0 {
		return fmt.Errorf("max_memory_pages must be non-zero")
	}
	if s.MaxStackDepth == 0 {
		return fmt.Errorf("max_stack_depth must be non-zero")
	}
	return nil
}
