package ir

// Terminator ends a basic block and owns its own control transfer.
// Sealed union.
type Terminator interface {
	irTerminator() // sealed
}

// Goto transfers control unconditionally.
type Goto struct {
	Target BBName
}

func (Goto) irTerminator() {}

// If branches on a boolean condition.
type If struct {
	Cond ValueExpr
	Then BBName
	Else BBName
}

func (If) irTerminator() {}

// SwitchCase pairs one integer case value with its target block.
type SwitchCase struct {
	Val    Int
	Target BBName
}

// SwitchInt branches multi-way on an integer, falling back when no case
// matches.
type SwitchInt struct {
	Value    ValueExpr
	Cases    []SwitchCase
	Fallback BBName
}

func (SwitchInt) irTerminator() {}

// Unreachable is always UB when executed.
type Unreachable struct{}

func (Unreachable) irTerminator() {}

// CallingConvention must match structurally between caller and callee.
type CallingConvention int

const (
	ConvDefault CallingConvention = iota
	ConvC
)

// Call evaluates the return place, then the callee, then the arguments,
// strictly left to right, checks the ABI structurally, and pushes a frame.
// Next is nil for calls that do not return (the callee must diverge or
// exit).
type Call struct {
	Callee ValueExpr
	Conv   CallingConvention
	Args   []ValueExpr
	Ret    PlaceExpr
	Next   *BBName
}

func (Call) irTerminator() {}

// Return loads the return value at the callee's static return type,
// deallocates remaining live locals, and pops the frame. Returning from the
// outermost frame without the exit intrinsic is UB.
type Return struct{}

func (Return) irTerminator() {}

// IntrinsicOp tags an entry of the machine's intrinsic table.
type IntrinsicOp int

const (
	// IntrinsicExit halts the whole machine after a leak check.
	IntrinsicExit IntrinsicOp = iota
	// IntrinsicPrintStdout formats its arguments to standard output.
	IntrinsicPrintStdout
	// IntrinsicPrintStderr formats its arguments to standard error.
	IntrinsicPrintStderr
	// IntrinsicAllocate heap-allocates size bytes at an alignment.
	IntrinsicAllocate
	// IntrinsicDeallocate frees a heap allocation.
	IntrinsicDeallocate
	// IntrinsicSpawn starts a new thread at a function pointer.
	IntrinsicSpawn
	// IntrinsicJoin blocks until a thread terminates.
	IntrinsicJoin
	// IntrinsicAtomicLoad performs an atomic typed load.
	IntrinsicAtomicLoad
	// IntrinsicAtomicStore performs an atomic typed store.
	IntrinsicAtomicStore
	// IntrinsicAtomicCompareExchange compares and swaps atomically.
	IntrinsicAtomicCompareExchange
	// IntrinsicAtomicFetchAdd atomically adds and returns the old value.
	IntrinsicAtomicFetchAdd
)

// String returns the intrinsic's surface name.
func (op IntrinsicOp) String() string {
	switch op {
	case IntrinsicExit:
		return "exit"
	case IntrinsicPrintStdout:
		return "print"
	case IntrinsicPrintStderr:
		return "eprint"
	case IntrinsicAllocate:
		return "allocate"
	case IntrinsicDeallocate:
		return "deallocate"
	case IntrinsicSpawn:
		return "spawn"
	case IntrinsicJoin:
		return "join"
	case IntrinsicAtomicLoad:
		return "atomic_load"
	case IntrinsicAtomicStore:
		return "atomic_store"
	case IntrinsicAtomicCompareExchange:
		return "atomic_compare_exchange"
	case IntrinsicAtomicFetchAdd:
		return "atomic_fetch_add"
	}
	return "?"
}

// Intrinsic calls an entry of the machine's intrinsic table. Next is nil
// for halting intrinsics.
type Intrinsic struct {
	Op   IntrinsicOp
	Args []ValueExpr
	Ret  PlaceExpr
	Next *BBName
}

func (Intrinsic) irTerminator() {}
