package instrument

import (
	"encoding/binary"
	"fmt"

	"github.com/meshplus/wasmcore/pkg/vm/abi"
	"github.com/meshplus/wasmcore/pkg/vm/gas"
)

const (
	secCustom    = 0
	secType      = 1
	secImport    = 2
	secFunction  = 3
	secTable     = 4
	secMemory    = 5
	secGlobal    = 6
	secExport    = 7
	secStart     = 8
	secElement   = 9
	secCode      = 10
	secData      = 11
	secDataCount = 12
)

const (
	extKindFunc   = 0x00
	extKindTable  = 0x01
	extKindMemory = 0x02
	extKindGlobal = 0x03
)

var wasmMagic = []byte{0x00, 0x61, 0x73, 0x6D}

type funcImport struct {
	Module  string
	Name    string
	TypeIdx uint32
}

type exportEntry struct {
	Name string
	Kind byte
	Idx  uint32
}

type limits struct {
	HasMax bool
	Min    uint32
	Max    uint32
}

type globalEntry struct {
	ValType byte
	Mut     byte
	Init    []byte // const expr including terminal end
}

type elemSeg struct {
	TableIdx uint32
	Offset   []byte
	Funcs    []uint32
}

type dataSeg struct {
	MemIdx uint32
	Offset []byte
	Bytes  []byte
}

// module is the decoded form of a contract binary: only what validation
// and metering need, with untouched sections kept raw. Custom sections
// are dropped: debug names would go stale after index remapping and are
// not part of the module's protocol identity.
type module struct {
	types    []abi.FuncType
	imports  []funcImport
	funcs    []uint32 // type index per defined function
	tableRaw []byte
	memory   *limits
	globals  []globalEntry
	exports  []exportEntry
	start    *uint32
	elems    []elemSeg
	codes    [][]byte
	data     []dataSeg

	hasDataCount bool
	dataCount    uint32
}

func (m *module) numFuncs() uint32 {
	return uint32(len(m.imports) + len(m.funcs))
}

func parse(code []byte) (*module, error) {
	if len(code) < 8 {
		return nil, fmt.Errorf("module too short")
	}
	if string(code[:4]) != string(wasmMagic) {
		return nil, fmt.Errorf("bad magic number")
	}
	if binary.LittleEndian.Uint32(code[4:8]) != 1 {
		return nil, fmt.Errorf("unsupported wasm version")
	}

	m := &module{}
	c := &cursor{buf: code, pos: 8}
	lastRank := -1
	for c.len() > 0 {
		id, err := c.byte()
		if err != nil {
			return nil, err
		}
		size, err := c.uleb32()
		if err != nil {
			return nil, err
		}
		payload, err := c.bytes(size)
		if err != nil {
			return nil, err
		}
		if id != secCustom {
			r := sectionRank(id)
			if r <= lastRank {
				return nil, fmt.Errorf("section %d out of order", id)
			}
			lastRank = r
		}
		if err := m.parseSection(id, payload); err != nil {
			return nil, fmt.Errorf("section %d: %w", id, err)
		}
	}
	if len(m.codes) != len(m.funcs) {
		return nil, fmt.Errorf("function and code section length mismatch")
	}
	return m, nil
}

// sectionRank orders section ids as the binary format requires. The data
// count section (id 12) sits between the element and code sections.
func sectionRank(id byte) int {
	if id == secDataCount {
		return int(secElement)*2 + 1
	}
	return int(id) * 2
}

func (m *module) parseSection(id byte, payload []byte) error {
	c := &cursor{buf: payload}
	switch id {
	case secCustom:
		return nil // stripped
	case secType:
		return m.parseTypes(c)
	case secImport:
		return m.parseImports(c)
	case secFunction:
		return m.parseFunctions(c)
	case secTable:
		m.tableRaw = payload
		return nil
	case secMemory:
		return m.parseMemories(c)
	case secGlobal:
		return m.parseGlobals(c)
	case secExport:
		return m.parseExports(c)
	case secStart:
		idx, err := c.uleb32()
		if err != nil {
			return err
		}
		m.start = &idx
		return nil
	case secElement:
		return m.parseElements(c)
	case secCode:
		return m.parseCodes(c)
	case secData:
		return m.parseData(c)
	case secDataCount:
		n, err := c.uleb32()
		if err != nil {
			return err
		}
		m.hasDataCount = true
		m.dataCount = n
		return nil
	default:
		return fmt.Errorf("unknown section id")
	}
}

func (m *module) parseTypes(c *cursor) error {
	count, err := c.uleb32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		form, err := c.byte()
		if err != nil {
			return err
		}
		if form != 0x60 {
			return fmt.Errorf("unsupported type form 0x%02x", form)
		}
		params, err := m.parseValTypes(c)
		if err != nil {
			return err
		}
		results, err := m.parseValTypes(c)
		if err != nil {
			return err
		}
		m.types = append(m.types, abi.FuncType{Params: params, Results: results})
	}
	return nil
}

func (m *module) parseValTypes(c *cursor) ([]abi.ValType, error) {
	n, err := c.uleb32()
	if err != nil {
		return nil, err
	}
	out := make([]abi.ValType, 0, n)
	for i := uint32(0); i < n; i++ {
		b, err := c.byte()
		if err != nil {
			return nil, err
		}
		out = append(out, abi.ValType(b))
	}
	return out, nil
}

func (m *module) parseImports(c *cursor) error {
	count, err := c.uleb32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		mod, err := parseName(c)
		if err != nil {
			return err
		}
		name, err := parseName(c)
		if err != nil {
			return err
		}
		kind, err := c.byte()
		if err != nil {
			return err
		}
		if kind != extKindFunc {
			return fmt.Errorf("import %s.%s: only function imports are accepted", mod, name)
		}
		typeIdx, err := c.uleb32()
		if err != nil {
			return err
		}
		m.imports = append(m.imports, funcImport{Module: mod, Name: name, TypeIdx: typeIdx})
	}
	return nil
}

func (m *module) parseFunctions(c *cursor) error {
	count, err := c.uleb32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		idx, err := c.uleb32()
		if err != nil {
			return err
		}
		m.funcs = append(m.funcs, idx)
	}
	return nil
}

func (m *module) parseMemories(c *cursor) error {
	count, err := c.uleb32()
	if err != nil {
		return err
	}
	if count > 1 {
		return fmt.Errorf("multiple linear memories")
	}
	if count == 0 {
		return nil
	}
	lim, err := parseLimits(c)
	if err != nil {
		return err
	}
	m.memory = &lim
	return nil
}

func (m *module) parseGlobals(c *cursor) error {
	count, err := c.uleb32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		valType, err := c.byte()
		if err != nil {
			return err
		}
		mut, err := c.byte()
		if err != nil {
			return err
		}
		init, err := parseConstExpr(c)
		if err != nil {
			return err
		}
		m.globals = append(m.globals, globalEntry{ValType: valType, Mut: mut, Init: init})
	}
	return nil
}

func (m *module) parseExports(c *cursor) error {
	count, err := c.uleb32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		name, err := parseName(c)
		if err != nil {
			return err
		}
		kind, err := c.byte()
		if err != nil {
			return err
		}
		idx, err := c.uleb32()
		if err != nil {
			return err
		}
		m.exports = append(m.exports, exportEntry{Name: name, Kind: kind, Idx: idx})
	}
	return nil
}

func (m *module) parseElements(c *cursor) error {
	count, err := c.uleb32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		tableIdx, err := c.uleb32()
		if err != nil {
			return err
		}
		offset, err := parseConstExpr(c)
		if err != nil {
			return err
		}
		n, err := c.uleb32()
		if err != nil {
			return err
		}
		funcs := make([]uint32, 0, n)
		for j := uint32(0); j < n; j++ {
			f, err := c.uleb32()
			if err != nil {
				return err
			}
			funcs = append(funcs, f)
		}
		m.elems = append(m.elems, elemSeg{TableIdx: tableIdx, Offset: offset, Funcs: funcs})
	}
	return nil
}

func (m *module) parseCodes(c *cursor) error {
	count, err := c.uleb32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		size, err := c.uleb32()
		if err != nil {
			return err
		}
		body, err := c.bytes(size)
		if err != nil {
			return err
		}
		m.codes = append(m.codes, body)
	}
	return nil
}

func (m *module) parseData(c *cursor) error {
	count, err := c.uleb32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		memIdx, err := c.uleb32()
		if err != nil {
			return err
		}
		offset, err := parseConstExpr(c)
		if err != nil {
			return err
		}
		n, err := c.uleb32()
		if err != nil {
			return err
		}
		bytes, err := c.bytes(n)
		if err != nil {
			return err
		}
		m.data = append(m.data, dataSeg{MemIdx: memIdx, Offset: offset, Bytes: bytes})
	}
	return nil
}

func parseName(c *cursor) (string, error) {
	n, err := c.uleb32()
	if err != nil {
		return "", err
	}
	b, err := c.bytes(n)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func parseLimits(c *cursor) (limits, error) {
	flag, err := c.byte()
	if err != nil {
		return limits{}, err
	}
	if flag > 1 {
		return limits{}, fmt.Errorf("bad limits flag")
	}
	min, err := c.uleb32()
	if err != nil {
		return limits{}, err
	}
	lim := limits{Min: min}
	if flag == 1 {
		max, err := c.uleb32()
		if err != nil {
			return limits{}, err
		}
		lim.HasMax = true
		lim.Max = max
	}
	return lim, nil
}

// parseConstExpr reads an initializer expression. Only integer constants
// are accepted: global imports are rejected at import parsing, so
// global.get cannot appear, and float constants are outside the
// deterministic instruction set.
func parseConstExpr(c *cursor) ([]byte, error) {
	start := c.pos
	op, err := c.byte()
	if err != nil {
		return nil, err
	}
	switch op {
	case opI32Const, opI64Const:
		if _, err := c.sleb64(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported initializer opcode 0x%02x", op)
	}
	end, err := c.byte()
	if err != nil {
		return nil, err
	}
	if end != opEnd {
		return nil, fmt.Errorf("initializer not terminated")
	}
	return c.buf[start:c.pos], nil
}

// instr is one decoded instruction. raw covers the opcode and its
// immediates, sliced out of the body.
type instr struct {
	op  byte
	idx uint32 // immIndex and immCallIndirect (type index)
	bt  int64  // block type: >= 0 is a type index, < 0 a primitive
	raw []byte
}

func readInstr(c *cursor) (instr, error) {
	start := c.pos
	op, err := c.byte()
	if err != nil {
		return instr{}, err
	}
	kind, ok := opcodeImms[op]
	if !ok {
		return instr{}, fmt.Errorf("opcode 0x%02x outside the accepted instruction set", op)
	}
	in := instr{op: op}
	switch kind {
	case immNone:
	case immBlockType:
		bt, err := c.sleb33()
		if err != nil {
			return instr{}, err
		}
		switch {
		case bt >= 0:
		case bt == -64, bt == -1, bt == -2: // void, i32, i64
		default:
			return instr{}, fmt.Errorf("block type outside the accepted value types")
		}
		in.bt = bt
	case immIndex:
		idx, err := c.uleb32()
		if err != nil {
			return instr{}, err
		}
		in.idx = idx
	case immCallIndirect:
		typeIdx, err := c.uleb32()
		if err != nil {
			return instr{}, err
		}
		tableIdx, err := c.uleb32()
		if err != nil {
			return instr{}, err
		}
		if tableIdx != 0 {
			return instr{}, fmt.Errorf("call_indirect table index must be zero")
		}
		in.idx = typeIdx
	case immBrTable:
		n, err := c.uleb32()
		if err != nil {
			return instr{}, err
		}
		for i := uint32(0); i <= n; i++ { // labels plus default
			if _, err := c.uleb32(); err != nil {
				return instr{}, err
			}
		}
	case immMemArg:
		if _, err := c.uleb32(); err != nil {
			return instr{}, err
		}
		if _, err := c.uleb32(); err != nil {
			return instr{}, err
		}
	case immMemIndex:
		b, err := c.byte()
		if err != nil {
			return instr{}, err
		}
		if b != 0 {
			return instr{}, fmt.Errorf("memory index must be zero")
		}
	case immI32, immI64:
		if _, err := c.sleb64(); err != nil {
			return instr{}, err
		}
	}
	in.raw = c.buf[start:c.pos]
	return in, nil
}

// parseLocals reads a body's local declarations, returning the raw bytes
// and the declared value types.
func parseLocals(c *cursor) ([]byte, []byte, error) {
	start := c.pos
	groups, err := c.uleb32()
	if err != nil {
		return nil, nil, err
	}
	var valTypes []byte
	var total uint64
	for i := uint32(0); i < groups; i++ {
		n, err := c.uleb32()
		if err != nil {
			return nil, nil, err
		}
		vt, err := c.byte()
		if err != nil {
			return nil, nil, err
		}
		total += uint64(n)
		if total > 50000 {
			return nil, nil, fmt.Errorf("too many locals")
		}
		valTypes = append(valTypes, vt)
	}
	return c.buf[start:c.pos], valTypes, nil
}

func isIntValType(v abi.ValType) bool {
	return v == abi.I32 || v == abi.I64
}

// validate enforces the deterministic contract policy on a parsed module:
// integer-only value types, single exported linear memory within the
// schedule's page ceiling, imports restricted to the fixed env ABI, and
// every function body drawn from the accepted instruction set.
func validate(m *module, sched *gas.Schedule) error {
	for i, t := range m.types {
		for _, v := range t.Params {
			if !isIntValType(v) {
				return fmt.Errorf("type %d: floating point value types are not accepted", i)
			}
		}
		if len(t.Results) > 1 {
			return fmt.Errorf("type %d: multi-value results are not accepted", i)
		}
		for _, v := range t.Results {
			if !isIntValType(v) {
				return fmt.Errorf("type %d: floating point value types are not accepted", i)
			}
		}
	}

	for _, imp := range m.imports {
		if imp.Module == abi.MeteringModule {
			return fmt.Errorf("import namespace %q is reserved", abi.MeteringModule)
		}
		if imp.Module != abi.HostModule {
			return fmt.Errorf("unknown import namespace %q", imp.Module)
		}
		want, ok := abi.Funcs[imp.Name]
		if !ok {
			return fmt.Errorf("unknown host function %s.%s", imp.Module, imp.Name)
		}
		if imp.TypeIdx >= uint32(len(m.types)) {
			return fmt.Errorf("import %s: type index out of range", imp.Name)
		}
		if !m.types[imp.TypeIdx].Equal(want) {
			return fmt.Errorf("import %s: signature mismatch with host ABI v%d", imp.Name, abi.Version)
		}
	}

	for i, typeIdx := range m.funcs {
		if typeIdx >= uint32(len(m.types)) {
			return fmt.Errorf("function %d: type index out of range", i)
		}
	}

	if m.memory == nil {
		return fmt.Errorf("contract must define a linear memory")
	}
	if m.memory.Min > sched.MaxMemoryPages {
		return fmt.Errorf("initial memory %d pages exceeds the %d page ceiling", m.memory.Min, sched.MaxMemoryPages)
	}
	memoryExported := false
	for _, exp := range m.exports {
		switch exp.Kind {
		case extKindFunc:
			if exp.Idx >= m.numFuncs() {
				return fmt.Errorf("export %q: function index out of range", exp.Name)
			}
		case extKindMemory:
			if exp.Name == "memory" {
				memoryExported = true
			}
		}
	}
	if !memoryExported {
		return fmt.Errorf("contract must export its linear memory as \"memory\"")
	}

	for i, g := range m.globals {
		if !isIntValType(abi.ValType(g.ValType)) {
			return fmt.Errorf("global %d: floating point value types are not accepted", i)
		}
	}

	if m.start != nil && *m.start >= m.numFuncs() {
		return fmt.Errorf("start function index out of range")
	}

	for i, seg := range m.elems {
		if seg.TableIdx != 0 {
			return fmt.Errorf("element segment %d: table index must be zero", i)
		}
		for _, f := range seg.Funcs {
			if f >= m.numFuncs() {
				return fmt.Errorf("element segment %d: function index out of range", i)
			}
		}
	}

	for i, seg := range m.data {
		if seg.MemIdx != 0 {
			return fmt.Errorf("data segment %d: memory index must be zero", i)
		}
	}

	for i, body := range m.codes {
		if err := validateBody(m, body); err != nil {
			return fmt.Errorf("function %d: %w", i, err)
		}
	}
	return nil
}

func validateBody(m *module, body []byte) error {
	c := &cursor{buf: body}
	_, valTypes, err := parseLocals(c)
	if err != nil {
		return err
	}
	for _, vt := range valTypes {
		if !isIntValType(abi.ValType(vt)) {
			return fmt.Errorf("floating point locals are not accepted")
		}
	}
	depth := 0
	for {
		if c.len() == 0 {
			return fmt.Errorf("body not terminated")
		}
		in, err := readInstr(c)
		if err != nil {
			return err
		}
		switch in.op {
		case opBlock, opLoop, opIf:
			if in.bt >= 0 && in.bt >= int64(len(m.types)) {
				return fmt.Errorf("block type index out of range")
			}
			depth++
		case opEnd:
			if depth == 0 {
				if c.len() != 0 {
					return fmt.Errorf("trailing bytes after body end")
				}
				return nil
			}
			depth--
		case opCall:
			if in.idx >= m.numFuncs() {
				return fmt.Errorf("call target out of range")
			}
		case opCallIndirect:
			if in.idx >= uint32(len(m.types)) {
				return fmt.Errorf("call_indirect type index out of range")
			}
		}
	}
}
