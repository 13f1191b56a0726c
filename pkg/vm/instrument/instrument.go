// Package instrument rewrites untrusted contract bytecode into its
// metered form: gas deductions in front of every basic block, a hard
// linear-memory ceiling on every grow, and stack-depth accounting on
// every call frame. The pass is a pure function of (bytecode, schedule);
// identical inputs always yield byte-identical output, independent of
// host machine or execution backend.
package instrument

import (
	"bytes"
	"fmt"

	"github.com/meshplus/wasmcore/pkg/vm"
	"github.com/meshplus/wasmcore/pkg/vm/abi"
	"github.com/meshplus/wasmcore/pkg/vm/gas"
)

// Validate checks a raw contract binary against the deterministic
// contract policy without rewriting it.
func Validate(code []byte, sched *gas.Schedule) *vm.VMError {
	m, err := parse(code)
	if err != nil {
		return vm.NewCompilationError(err.Error())
	}
	if err := validate(m, sched); err != nil {
		return vm.NewCompilationError(err.Error())
	}
	return nil
}

// Instrument validates a raw contract binary and produces its metered
// form, or a CompilationError if the bytecode is structurally invalid or
// outside the deterministic contract policy.
func Instrument(code []byte, sched *gas.Schedule) ([]byte, *vm.VMError) {
	m, err := parse(code)
	if err != nil {
		return nil, vm.NewCompilationError(err.Error())
	}
	if err := validate(m, sched); err != nil {
		return nil, vm.NewCompilationError(err.Error())
	}
	out, err := rewrite(m, sched)
	if err != nil {
		return nil, vm.NewCompilationError(err.Error())
	}
	return out, nil
}

func rewrite(m *module, sched *gas.Schedule) ([]byte, error) {
	types := make([]abi.FuncType, len(m.types))
	copy(types, m.types)
	findOrAdd := func(t abi.FuncType) uint32 {
		for i, have := range types {
			if have.Equal(t) {
				return uint32(i)
			}
		}
		types = append(types, t)
		return uint32(len(types) - 1)
	}

	meterTypeIdxs := make([]uint32, len(abi.MeteringImports))
	for i, imp := range abi.MeteringImports {
		meterTypeIdxs[i] = findOrAdd(imp.Type)
	}

	base := uint32(len(m.imports))
	idx := meterIndices{
		useGas:     base,
		grow:       base + 1,
		stackEnter: base + 2,
		stackExit:  base + 3,
	}
	shift := uint32(len(abi.MeteringImports))
	remap := func(f uint32) uint32 {
		if f < base {
			return f
		}
		return f + shift
	}

	codes := make([][]byte, len(m.codes))
	for i, body := range m.codes {
		metered, err := meterBody(body, m.types[m.funcs[i]].Results, sched, remap, idx)
		if err != nil {
			return nil, fmt.Errorf("function %d: %w", i, err)
		}
		codes[i] = metered
	}

	var out bytes.Buffer
	out.Write(wasmMagic)
	out.Write([]byte{0x01, 0x00, 0x00, 0x00})

	// types
	var sec bytes.Buffer
	writeUleb(&sec, uint64(len(types)))
	for _, t := range types {
		sec.WriteByte(0x60)
		writeUleb(&sec, uint64(len(t.Params)))
		for _, v := range t.Params {
			sec.WriteByte(byte(v))
		}
		writeUleb(&sec, uint64(len(t.Results)))
		for _, v := range t.Results {
			sec.WriteByte(byte(v))
		}
	}
	writeSection(&out, secType, sec.Bytes())

	// imports, metering entries appended after the contract's own
	sec.Reset()
	writeUleb(&sec, uint64(len(m.imports)+len(abi.MeteringImports)))
	for _, imp := range m.imports {
		writeName(&sec, imp.Module)
		writeName(&sec, imp.Name)
		sec.WriteByte(extKindFunc)
		writeUleb(&sec, uint64(imp.TypeIdx))
	}
	for i, imp := range abi.MeteringImports {
		writeName(&sec, abi.MeteringModule)
		writeName(&sec, imp.Name)
		sec.WriteByte(extKindFunc)
		writeUleb(&sec, uint64(meterTypeIdxs[i]))
	}
	writeSection(&out, secImport, sec.Bytes())

	// functions
	if len(m.funcs) > 0 {
		sec.Reset()
		writeUleb(&sec, uint64(len(m.funcs)))
		for _, typeIdx := range m.funcs {
			writeUleb(&sec, uint64(typeIdx))
		}
		writeSection(&out, secFunction, sec.Bytes())
	}

	if m.tableRaw != nil {
		writeSection(&out, secTable, m.tableRaw)
	}

	// memory, max clamped to the schedule's page ceiling
	if m.memory != nil {
		sec.Reset()
		writeUleb(&sec, 1)
		max := sched.MaxMemoryPages
		if m.memory.HasMax && m.memory.Max < max {
			max = m.memory.Max
		}
		sec.WriteByte(0x01)
		writeUleb(&sec, uint64(m.memory.Min))
		writeUleb(&sec, uint64(max))
		writeSection(&out, secMemory, sec.Bytes())
	}

	if len(m.globals) > 0 {
		sec.Reset()
		writeUleb(&sec, uint64(len(m.globals)))
		for _, g := range m.globals {
			sec.WriteByte(g.ValType)
			sec.WriteByte(g.Mut)
			sec.Write(g.Init)
		}
		writeSection(&out, secGlobal, sec.Bytes())
	}

	if len(m.exports) > 0 {
		sec.Reset()
		writeUleb(&sec, uint64(len(m.exports)))
		for _, exp := range m.exports {
			writeName(&sec, exp.Name)
			sec.WriteByte(exp.Kind)
			if exp.Kind == extKindFunc {
				writeUleb(&sec, uint64(remap(exp.Idx)))
			} else {
				writeUleb(&sec, uint64(exp.Idx))
			}
		}
		writeSection(&out, secExport, sec.Bytes())
	}

	if m.start != nil {
		sec.Reset()
		writeUleb(&sec, uint64(remap(*m.start)))
		writeSection(&out, secStart, sec.Bytes())
	}

	if len(m.elems) > 0 {
		sec.Reset()
		writeUleb(&sec, uint64(len(m.elems)))
		for _, seg := range m.elems {
			writeUleb(&sec, uint64(seg.TableIdx))
			sec.Write(seg.Offset)
			writeUleb(&sec, uint64(len(seg.Funcs)))
			for _, f := range seg.Funcs {
				writeUleb(&sec, uint64(remap(f)))
			}
		}
		writeSection(&out, secElement, sec.Bytes())
	}

	if m.hasDataCount {
		sec.Reset()
		writeUleb(&sec, uint64(m.dataCount))
		writeSection(&out, secDataCount, sec.Bytes())
	}

	if len(codes) > 0 {
		sec.Reset()
		writeUleb(&sec, uint64(len(codes)))
		for _, body := range codes {
			writeUleb(&sec, uint64(len(body)))
			sec.Write(body)
		}
		writeSection(&out, secCode, sec.Bytes())
	}

	if len(m.data) > 0 {
		sec.Reset()
		writeUleb(&sec, uint64(len(m.data)))
		for _, seg := range m.data {
			writeUleb(&sec, uint64(seg.MemIdx))
			sec.Write(seg.Offset)
			writeUleb(&sec, uint64(len(seg.Bytes)))
			sec.Write(seg.Bytes)
		}
		writeSection(&out, secData, sec.Bytes())
	}

	return out.Bytes(), nil
}

func writeSection(out *bytes.Buffer, id byte, payload []byte) {
	out.WriteByte(id)
	writeUleb(out, uint64(len(payload)))
	out.Write(payload)
}
