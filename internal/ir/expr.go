package ir

// ValueExpr computes a Value. ValueExpr is a sealed union; evaluation lives
// in the machine package and must stay reorder- and remove-safe except for
// the provenance subsystem's nondeterminism.
type ValueExpr interface {
	irValueExpr() // sealed
}

// ConstInt is an integer literal, already reduced into Ty's value range.
type ConstInt struct {
	V  Int
	Ty IntType
}

func (ConstInt) irValueExpr() {}

// ConstBool is a boolean literal.
type ConstBool struct {
	B bool
}

func (ConstBool) irValueExpr() {}

// ConstFn names a function; it evaluates to a function pointer.
type ConstFn struct {
	Fn FnName
}

func (ConstFn) irValueExpr() {}

// ConstGlobal evaluates to a pointer to the named global's allocation.
type ConstGlobal struct {
	Global GlobalName
	Offset Size
}

func (ConstGlobal) irValueExpr() {}

// TupleExpr constructs a tuple (or array) value field by field, left to
// right. Ty must be a TupleType or ArrayType.
type TupleExpr struct {
	Fields []ValueExpr
	Ty     Type
}

func (TupleExpr) irValueExpr() {}

// VariantExpr constructs an enum value with the given active variant.
type VariantExpr struct {
	Idx   int
	Inner ValueExpr
	Ty    EnumType
}

func (VariantExpr) irValueExpr() {}

// Load reads the value stored at a place, decoded at the place's type.
type Load struct {
	Src PlaceExpr
}

func (Load) irValueExpr() {}

// AddrOf takes the address of a place as a pointer of the given kind.
// The place is evaluated but not dereferenced.
type AddrOf struct {
	Place PlaceExpr
	Kind  PtrKind
	Meta  *PtrMeta // pointee layout for safe kinds; nil for PtrRaw
}

func (AddrOf) irValueExpr() {}

// UnOpKind enumerates unary operations.
type UnOpKind int

const (
	// UnIntNeg negates an integer, wrapping at OpTy.
	UnIntNeg UnOpKind = iota
	// UnIntCast reduces an integer into OpTy's value range.
	UnIntCast
	// UnPtr2Int casts a pointer to its address, exposing its provenance.
	UnPtr2Int
	// UnInt2Ptr casts an integer to a pointer, angelically predicting a
	// provenance from the exposure set.
	UnInt2Ptr
)

// UnOp applies a unary operation. OpTy is the integer result type for
// UnIntNeg and UnIntCast, and the integer address type for UnPtr2Int; for
// UnInt2Ptr the result type is PtrTy.
type UnOp struct {
	Op    UnOpKind
	E     ValueExpr
	OpTy  IntType
	PtrTy PtrType
}

func (UnOp) irValueExpr() {}

// BinOpKind enumerates binary operations.
type BinOpKind int

const (
	BinAdd BinOpKind = iota
	BinSub
	BinMul
	// BinDiv and BinRem are UB on a zero divisor, and on signed overflow of
	// the minimum value divided by -1.
	BinDiv
	BinRem
	BinBitAnd
	BinBitOr
	BinBitXor
	// Comparisons yield booleans.
	BinEq
	BinNe
	BinLt
	BinLe
	BinGt
	BinGe
	// BinPtrOffset moves a pointer by a byte delta. With Inbounds set, the
	// resulting range must be dereferenceable within the pointer's
	// allocation; without, only the arithmetic happens.
	BinPtrOffset
)

// BinOp applies a binary operation. OpTy is the integer type giving the
// width and signedness of arithmetic operands and results; comparisons and
// pointer offsets ignore it except where noted in the machine.
type BinOp struct {
	Op       BinOpKind
	L, R     ValueExpr
	OpTy     IntType
	Inbounds bool // BinPtrOffset only
}

func (BinOp) irValueExpr() {}

// PlaceExpr names an addressable memory location. Evaluating a place
// computes its pointer; it does not touch the bytes behind it.
type PlaceExpr interface {
	irPlaceExpr() // sealed
}

// PlaceLocal names a local of the current frame.
type PlaceLocal struct {
	Name LocalName
}

func (PlaceLocal) irPlaceExpr() {}

// PlaceDeref dereferences a pointer-valued expression. The place's type is
// the annotation Pty; the machine checks the pointer only when the place is
// actually loaded from or stored to.
type PlaceDeref struct {
	Ptr ValueExpr
	Pty PlaceType
}

func (PlaceDeref) irPlaceExpr() {}

// PlaceField selects a field of a tuple-typed place by index.
type PlaceField struct {
	Base PlaceExpr
	Idx  int
}

func (PlaceField) irPlaceExpr() {}

// PlaceIndex selects an element of an array-typed place by a computed
// index. An out-of-range index is UB when the place is evaluated.
type PlaceIndex struct {
	Base  PlaceExpr
	Index ValueExpr
}

func (PlaceIndex) irPlaceExpr() {}
