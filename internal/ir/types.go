package ir

import "fmt"

// Type defines exactly how a Value (de)serializes: its byte size and, for
// aggregates and pointers, the layout the representation relation follows.
//
// Type is a sealed union. Only the types in this file implement it.
type Type interface {
	// Size returns the number of bytes an encoding of this type occupies
	// on the given target.
	Size(tg Target) Size

	irType() // sealed
}

// IntType is a fixed-width two's-complement integer type.
type IntType struct {
	Sig   Signedness
	Bytes Size // 1, 2, 4, 8 or 16
}

func (IntType) irType() {}

// Size implements Type.
func (t IntType) Size(Target) Size { return t.Bytes }

// String returns the surface notation, e.g. "i32" or "u8".
func (t IntType) String() string {
	return t.Sig.String() + itoaSize(t.Bytes)
}

// BoolType is the single-byte boolean type.
type BoolType struct{}

func (BoolType) irType() {}

// Size implements Type.
func (BoolType) Size(Target) Size { return 1 }

// PtrKind distinguishes raw pointers, which may dangle freely, from safe
// pointer kinds whose decode additionally requires a non-null, aligned
// address and an inhabited pointee.
type PtrKind int

const (
	// PtrRaw is a raw pointer; any address (with or without provenance)
	// decodes.
	PtrRaw PtrKind = iota
	// PtrRef is a safe reference; decode requires non-null, pointee-aligned
	// address and an inhabited pointee.
	PtrRef
	// PtrBox is an owned safe pointer; same decode requirements as PtrRef.
	PtrBox
	// PtrFn is a function pointer; carries no pointee layout.
	PtrFn
)

// String returns a short name for the pointer kind.
func (k PtrKind) String() string {
	switch k {
	case PtrRaw:
		return "raw"
	case PtrRef:
		return "ref"
	case PtrBox:
		return "box"
	case PtrFn:
		return "fn"
	}
	return "?"
}

// PtrMeta is the pointee layout carried by safe pointer types: what Retag
// and safe-pointer decode need to know about the target of the pointer.
type PtrMeta struct {
	PointeeSize  Size
	PointeeAlign Align
	// Inhabited is false for pointees with no values (never type). A safe
	// pointer to an uninhabited pointee does not decode.
	Inhabited bool
}

// PtrType is a pointer-shaped type. Meta is nil for PtrRaw and PtrFn.
type PtrType struct {
	Kind PtrKind
	Meta *PtrMeta
}

func (PtrType) irType() {}

// Size implements Type. Pointers occupy the target pointer width.
func (PtrType) Size(tg Target) Size { return tg.PtrBytes }

// Field places a field type at a byte offset within a tuple.
type Field struct {
	Offset Size
	Ty     Type
}

// TupleType is an aggregate with explicitly placed fields. It represents
// both structs and fixed layouts produced by a front-end; inter-field gaps
// are padding. Well-formedness requires every field extent to lie within
// TupleSize and fields of non-overlapping aggregates not to overlap.
type TupleType struct {
	Fields    []Field
	TupleSize Size
}

func (TupleType) irType() {}

// Size implements Type.
func (t TupleType) Size(Target) Size { return t.TupleSize }

// ArrayType is a homogeneous aggregate of Count elements laid out back to
// back with stride equal to the element size.
type ArrayType struct {
	Elem  Type
	Count uint64
}

func (ArrayType) irType() {}

// Size implements Type.
func (t ArrayType) Size(tg Target) Size {
	return Size(t.Elem.Size(tg).Bytes() * t.Count)
}

// Chunk is a byte range of a union that participates in its representation.
type Chunk struct {
	Offset Size
	Length Size
}

// UnionType is a raw byte-bag type. Decode and encode slice the declared
// chunks verbatim; bytes outside every chunk are discarded on decode and
// forced uninitialized on encode.
type UnionType struct {
	Chunks    []Chunk
	UnionSize Size
}

func (UnionType) irType() {}

// Size implements Type.
func (t UnionType) Size(Target) Size { return t.UnionSize }

// TagEncoding selects the discriminant discipline of an enum type.
type TagEncoding int

const (
	// TagDirect stores the discriminant as an integer at a fixed offset,
	// disjoint from the active variant's own encoding.
	TagDirect TagEncoding = iota
	// TagNiche packs the discriminant into otherwise-invalid payload bytes.
	// Declared for completeness; the well-formedness checker rejects it
	// until an implementation exists.
	TagNiche
)

// Variant is one case of an enum: the tag value selecting it and the
// payload type encoded from offset zero.
type Variant struct {
	Tag     Int
	Payload Type
}

// EnumType is a tagged sum type with an explicit discriminant field.
type EnumType struct {
	Variants  []Variant
	Encoding  TagEncoding
	TagOffset Size
	TagBytes  Size
	TagSig    Signedness
	EnumSize  Size
}

func (EnumType) irType() {}

// Size implements Type.
func (t EnumType) Size(Target) Size { return t.EnumSize }

// VariantByTag returns the index of the variant selected by tag, or -1.
func (t EnumType) VariantByTag(tag Int) int {
	for i, v := range t.Variants {
		if v.Tag.Eq(tag) {
			return i
		}
	}
	return -1
}

// Compatible is the structural compatibility relation between types:
// matching integer signedness and width, identical aggregate layout,
// matching pointer kind and metadata. It deliberately ignores nominal
// identity; two layouts that encode identically are compatible. The
// well-formedness typing rules and the call ABI check both use it.
func Compatible(a, b Type) bool {
	switch at := a.(type) {
	case IntType:
		bt, ok := b.(IntType)
		return ok && at == bt
	case BoolType:
		_, ok := b.(BoolType)
		return ok
	case PtrType:
		bt, ok := b.(PtrType)
		if !ok || at.Kind != bt.Kind {
			return false
		}
		if at.Meta == nil || bt.Meta == nil {
			return at.Meta == bt.Meta
		}
		return *at.Meta == *bt.Meta
	case TupleType:
		bt, ok := b.(TupleType)
		if !ok || at.TupleSize != bt.TupleSize || len(at.Fields) != len(bt.Fields) {
			return false
		}
		for i := range at.Fields {
			if at.Fields[i].Offset != bt.Fields[i].Offset ||
				!Compatible(at.Fields[i].Ty, bt.Fields[i].Ty) {
				return false
			}
		}
		return true
	case ArrayType:
		bt, ok := b.(ArrayType)
		return ok && at.Count == bt.Count && Compatible(at.Elem, bt.Elem)
	case UnionType:
		bt, ok := b.(UnionType)
		if !ok || at.UnionSize != bt.UnionSize || len(at.Chunks) != len(bt.Chunks) {
			return false
		}
		for i := range at.Chunks {
			if at.Chunks[i] != bt.Chunks[i] {
				return false
			}
		}
		return true
	case EnumType:
		bt, ok := b.(EnumType)
		if !ok || at.EnumSize != bt.EnumSize || at.Encoding != bt.Encoding ||
			at.TagOffset != bt.TagOffset || at.TagBytes != bt.TagBytes ||
			at.TagSig != bt.TagSig || len(at.Variants) != len(bt.Variants) {
			return false
		}
		for i := range at.Variants {
			if !at.Variants[i].Tag.Eq(bt.Variants[i].Tag) ||
				!Compatible(at.Variants[i].Payload, bt.Variants[i].Payload) {
				return false
			}
		}
		return true
	}
	panic(fmt.Sprintf("ir: unknown type %T", a))
}

// PlaceType pairs a value type with the alignment requirement of memory
// locations holding it. Decoupling the two supports packed and over-aligned
// placements without new Types.
type PlaceType struct {
	Ty    Type
	Align Align
}

// Endianness selects the byte order of integer and pointer encodings.
type Endianness int

const (
	LittleEndian Endianness = iota
	BigEndian
)

// Target fixes the machine-dependent layout parameters: pointer width and
// alignment, and byte order.
type Target struct {
	PtrBytes Size
	PtrAlign Align
	Endian   Endianness
}

// DefaultTarget is a 64-bit little-endian target.
var DefaultTarget = Target{PtrBytes: 8, PtrAlign: MustAlign(8), Endian: LittleEndian}

func itoaSize(s Size) string {
	bits := s.Bytes() * 8
	switch bits {
	case 8:
		return "8"
	case 16:
		return "16"
	case 32:
		return "32"
	case 64:
		return "64"
	case 128:
		return "128"
	}
	return "?"
}
