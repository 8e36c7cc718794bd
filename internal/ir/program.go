package ir

// FnName identifies a function within a Program.
type FnName string

// BBName identifies a basic block within a Function.
type BBName string

// LocalName identifies a local within a Function.
type LocalName string

// GlobalName identifies a global allocation within a Program.
type GlobalName string

// BasicBlock is a statement sequence ended by exactly one terminator.
type BasicBlock struct {
	Statements []Statement
	Terminator Terminator
}

// Function is a closed single-entry control-flow graph over named blocks.
//
// Args and Ret name locals from Locals. Argument locals and the return
// local are live on entry; everything else starts dead.
type Function struct {
	Name   FnName
	Args   []LocalName
	Ret    LocalName
	Locals map[LocalName]PlaceType
	Blocks map[BBName]BasicBlock
	Start  BBName
	Conv   CallingConvention
}

// Global is a program-lifetime allocation with optional initial bytes.
// A nil Init leaves the allocation uninitialized.
type Global struct {
	Size  Size
	Align Align
	Init  []byte
}

// Program is the closed IR unit the machine executes. It is assumed
// well-formed; the wf package checks that before execution, and the machine
// never re-derives it.
type Program struct {
	Functions map[FnName]Function
	Globals   map[GlobalName]Global
	Start     FnName
	Target    Target
}

// Func looks up a function by name.
func (p *Program) Func(name FnName) (Function, bool) {
	f, ok := p.Functions[name]
	return f, ok
}
