package instrument

// Wasm opcodes the instrumentation pass understands. Anything absent from
// the table is rejected at validation time: floating point (cross-CPU
// nondeterminism) and the 0xFC-prefixed bulk/saturating ops (cost depends
// on a runtime operand, so a static per-block charge cannot bound them).
const (
	opUnreachable  = 0x00
	opNop          = 0x01
	opBlock        = 0x02
	opLoop         = 0x03
	opIf           = 0x04
	opElse         = 0x05
	opEnd          = 0x0B
	opBr           = 0x0C
	opBrIf         = 0x0D
	opBrTable      = 0x0E
	opReturn       = 0x0F
	opCall         = 0x10
	opCallIndirect = 0x11
	opDrop         = 0x1A
	opSelect       = 0x1B
	opLocalGet     = 0x20
	opLocalSet     = 0x21
	opLocalTee     = 0x22
	opGlobalGet    = 0x23
	opGlobalSet    = 0x24
	opMemorySize   = 0x3F
	opMemoryGrow   = 0x40
	opI32Const     = 0x41
	opI64Const     = 0x42
)

// immKind describes the immediate encoding following an opcode.
type immKind uint8

const (
	immNone immKind = iota
	immBlockType
	immIndex        // single u32 index (br, call, locals, globals)
	immBrTable      // vector of labels plus default
	immCallIndirect // type index plus table index
	immMemArg       // alignment plus offset
	immMemIndex     // single-byte memory index (must be zero)
	immI32          // signed leb128, 32 bit
	immI64          // signed leb128, 64 bit
)

// opcodeImms maps every accepted opcode to its immediate kind. A nil
// entry (immKind zero value with ok=false) means the opcode is outside
// the accepted deterministic instruction set.
var opcodeImms = buildOpcodeTable()

func buildOpcodeTable() map[byte]immKind {
	t := map[byte]immKind{
		opUnreachable:  immNone,
		opNop:          immNone,
		opBlock:        immBlockType,
		opLoop:         immBlockType,
		opIf:           immBlockType,
		opElse:         immNone,
		opEnd:          immNone,
		opBr:           immIndex,
		opBrIf:         immIndex,
		opBrTable:      immBrTable,
		opReturn:       immNone,
		opCall:         immIndex,
		opCallIndirect: immCallIndirect,
		opDrop:         immNone,
		opSelect:       immNone,
		opLocalGet:     immIndex,
		opLocalSet:     immIndex,
		opLocalTee:     immIndex,
		opGlobalGet:    immIndex,
		opGlobalSet:    immIndex,
		opMemorySize:   immMemIndex,
		opMemoryGrow:   immMemIndex,
		opI32Const:     immI32,
		opI64Const:     immI64,
	}

	// integer loads and stores; the float variants 0x2A, 0x2B, 0x38 and
	// 0x39 stay out of the table
	for _, op := range []byte{0x28, 0x29, 0x2C, 0x2D, 0x2E, 0x2F, 0x30, 0x31, 0x32, 0x33, 0x34, 0x35} {
		t[op] = immMemArg
	}
	for _, op := range []byte{0x36, 0x37, 0x3A, 0x3B, 0x3C, 0x3D, 0x3E} {
		t[op] = immMemArg
	}

	// i32/i64 tests, comparisons and arithmetic
	for op := byte(0x45); op <= 0x5A; op++ {
		t[op] = immNone
	}
	for op := byte(0x67); op <= 0x8A; op++ {
		t[op] = immNone
	}

	// integer-only conversions and sign extensions
	t[0xA7] = immNone // i32.wrap_i64
	t[0xAC] = immNone // i64.extend_i32_s
	t[0xAD] = immNone // i64.extend_i32_u
	for op := byte(0xC0); op <= 0xC4; op++ {
		t[op] = immNone
	}

	return t
}

// boundary opcodes terminate a metering run: control can leave or enter
// the instruction stream there, so the accumulated static charge for the
// run is flushed in front of it.
func isBoundary(op byte) bool {
	switch op {
	case opBlock, opLoop, opIf, opElse, opEnd,
		opBr, opBrIf, opBrTable, opReturn,
		opCall, opCallIndirect, opUnreachable:
		return true
	}
	return false
}
