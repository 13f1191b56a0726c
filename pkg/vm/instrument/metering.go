package instrument

import (
	"bytes"
	"fmt"

	"github.com/meshplus/wasmcore/pkg/vm/abi"
	"github.com/meshplus/wasmcore/pkg/vm/gas"
)

// meterIndices are the function indices of the injected metering imports
// in the rewritten module.
type meterIndices struct {
	useGas     uint32
	grow       uint32
	stackEnter uint32
	stackExit  uint32
}

func writeCall(buf *bytes.Buffer, idx uint32) {
	buf.WriteByte(opCall)
	writeUleb(buf, uint64(idx))
}

// meterBody rewrites one function body:
//
//   - a stack_enter call at entry and a stack_exit call before every
//     return and before the terminal end, bounding guest recursion. The
//     original instructions are wrapped in a block so that branches
//     targeting the function level land on the wrapper's end and fall
//     through the stack_exit instead of skipping it;
//   - in front of every metering run (a maximal instruction sequence
//     entered only at its head), an `i64.const cost; call usegas` pair
//     charging the run's statically computed cost;
//   - memory.grow replaced by a call to the metering grow import, which
//     charges per page and enforces the linear-memory ceiling;
//   - every direct call target remapped over the injected imports.
//
// The rewrite is a pure function of (body, schedule): identical inputs
// yield identical bytes.
func meterBody(body []byte, results []abi.ValType, sched *gas.Schedule, remap func(uint32) uint32, idx meterIndices) ([]byte, error) {
	c := &cursor{buf: body}
	localsRaw, _, err := parseLocals(c)
	if err != nil {
		return nil, err
	}

	var out bytes.Buffer
	out.Write(localsRaw)
	writeCall(&out, idx.stackEnter)

	// The wrapper block carries the function's result type, so the fall
	// through value reaches the real end. Multi-value results are
	// rejected at validation.
	out.WriteByte(opBlock)
	if len(results) == 0 {
		out.WriteByte(0x40)
	} else {
		out.WriteByte(byte(results[0]))
	}

	var pending bytes.Buffer
	var pendingOps uint64
	flush := func() {
		if pendingOps > 0 {
			out.WriteByte(opI64Const)
			writeSleb(&out, int64(pendingOps*sched.RegularOp))
			writeCall(&out, idx.useGas)
		}
		out.Write(pending.Bytes())
		pending.Reset()
		pendingOps = 0
	}

	depth := 0
	for {
		if c.len() == 0 {
			return nil, fmt.Errorf("body not terminated")
		}
		in, err := readInstr(c)
		if err != nil {
			return nil, err
		}
		pendingOps++
		switch in.op {
		case opCall:
			pending.WriteByte(opCall)
			writeUleb(&pending, uint64(remap(in.idx)))
		case opMemoryGrow:
			writeCall(&pending, idx.grow)
		case opReturn:
			writeCall(&pending, idx.stackExit)
			pending.WriteByte(opReturn)
		case opBlock, opLoop, opIf:
			depth++
			pending.Write(in.raw)
		case opEnd:
			if depth == 0 {
				// close the wrapper, leave the frame, close the function
				pending.WriteByte(opEnd)
				writeCall(&pending, idx.stackExit)
				pending.WriteByte(opEnd)
				flush()
				if c.len() != 0 {
					return nil, fmt.Errorf("trailing bytes after body end")
				}
				return out.Bytes(), nil
			}
			depth--
			pending.Write(in.raw)
		default:
			pending.Write(in.raw)
		}
		if isBoundary(in.op) {
			flush()
		}
	}
}
