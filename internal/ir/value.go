package ir

// Provenance is an opaque token naming the allocation a pointer or byte may
// authorize access to. The zero value means "no provenance"; pointers
// without provenance are valid only for zero-length accesses.
//
// Provenance is comparable; the memory backend assigns identities.
type Provenance struct {
	ID    uint64
	Valid bool
}

// NoProvenance is the absent token.
var NoProvenance = Provenance{}

// None reports whether the token is absent.
func (p Provenance) None() bool { return !p.Valid }

// Pointer is an address plus optional provenance. Addresses are absolute
// byte addresses in the target address space.
type Pointer struct {
	Addr uint64
	Prov Provenance
}

// WithProv returns the pointer with its provenance replaced.
func (p Pointer) WithProv(prov Provenance) Pointer {
	p.Prov = prov
	return p
}

// AbstractByte is the unit the memory contract trades in: either
// uninitialized, or an 8-bit value with an optional provenance token.
type AbstractByte struct {
	Init bool
	Val  byte
	Prov Provenance
}

// Uninit is the uninitialized abstract byte.
var Uninit = AbstractByte{}

// InitByte creates an initialized abstract byte without provenance.
func InitByte(v byte) AbstractByte {
	return AbstractByte{Init: true, Val: v}
}

// ProvByte creates an initialized abstract byte carrying provenance.
func ProvByte(v byte, prov Provenance) AbstractByte {
	return AbstractByte{Init: true, Val: v, Prov: prov}
}

// LessDefined reports a ≤ b in the definedness partial order:
// uninitialized ≤ initialized, and no-provenance ≤ has-provenance for the
// same byte value. The representation relation's monotonicity and
// contraction laws are stated over this order.
func (a AbstractByte) LessDefined(b AbstractByte) bool {
	if !a.Init {
		return true
	}
	if !b.Init || a.Val != b.Val {
		return false
	}
	return a.Prov.None() || a.Prov == b.Prov
}

// BytesLessDefined extends LessDefined pointwise over equal-length byte
// lists. Lists of different length are incomparable.
func BytesLessDefined(a, b []AbstractByte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].LessDefined(b[i]) {
			return false
		}
	}
	return true
}

// Value is the data statements and expressions compute with. Values never
// alias memory; moving one through memory goes through the representation
// relation. Value is a sealed union.
type Value interface {
	irValue() // sealed
}

// IntVal is an integer value of any magnitude; the type at an encode or
// arithmetic boundary decides width and wrapping.
type IntVal struct {
	V Int
}

func (IntVal) irValue() {}

// BoolVal is a boolean value.
type BoolVal struct {
	B bool
}

func (BoolVal) irValue() {}

// PtrVal is a pointer value.
type PtrVal struct {
	P Pointer
}

func (PtrVal) irValue() {}

// TupleVal is an ordered field sequence; the Value form of arrays and
// structs.
type TupleVal struct {
	Fields []Value
}

func (TupleVal) irValue() {}

// VariantVal is a sum value: the index of the active variant plus its
// payload.
type VariantVal struct {
	Idx   int
	Inner Value
}

func (VariantVal) irValue() {}

// BytesVal is a raw byte-bag; the Value form of unions. The slice holds the
// union's chunk bytes concatenated in declaration order, so its length is
// the sum of the chunk lengths, not the union size.
type BytesVal struct {
	Bytes []AbstractByte
}

func (BytesVal) irValue() {}

// ValueEq reports structural equality of two values. Pointers compare by
// address and provenance; byte-bags compare bytewise.
func ValueEq(a, b Value) bool {
	switch av := a.(type) {
	case IntVal:
		bv, ok := b.(IntVal)
		return ok && av.V.Eq(bv.V)
	case BoolVal:
		bv, ok := b.(BoolVal)
		return ok && av.B == bv.B
	case PtrVal:
		bv, ok := b.(PtrVal)
		return ok && av.P == bv.P
	case TupleVal:
		bv, ok := b.(TupleVal)
		if !ok || len(av.Fields) != len(bv.Fields) {
			return false
		}
		for i := range av.Fields {
			if !ValueEq(av.Fields[i], bv.Fields[i]) {
				return false
			}
		}
		return true
	case VariantVal:
		bv, ok := b.(VariantVal)
		return ok && av.Idx == bv.Idx && ValueEq(av.Inner, bv.Inner)
	case BytesVal:
		bv, ok := b.(BytesVal)
		if !ok || len(av.Bytes) != len(bv.Bytes) {
			return false
		}
		for i := range av.Bytes {
			if av.Bytes[i] != bv.Bytes[i] {
				return false
			}
		}
		return true
	}
	return false
}
