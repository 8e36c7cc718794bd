package repr

import (
	"math/big"

	"github.com/minimach/minimach/internal/ir"
)

// intFromBytes interprets raw machine bytes as a two's-complement integer
// in the given byte order.
func intFromBytes(raw []byte, sig ir.Signedness, endian ir.Endianness) ir.Int {
	be := raw
	if endian == ir.LittleEndian {
		be = make([]byte, len(raw))
		for i, b := range raw {
			be[len(raw)-1-i] = b
		}
	}
	v := new(big.Int).SetBytes(be)
	return ir.NewIntBig(v).Modulo(sig, ir.Size(len(raw)))
}

// intToBytes writes an in-bounds integer as size two's-complement bytes in
// the given byte order.
func intToBytes(v ir.Int, size ir.Size, endian ir.Endianness) []byte {
	u := v.Modulo(ir.Unsigned, size)
	be := make([]byte, size.Bytes())
	u.Big().FillBytes(be)
	if endian == ir.BigEndian {
		return be
	}
	le := make([]byte, len(be))
	for i, b := range be {
		le[len(be)-1-i] = b
	}
	return le
}

// LessDefinedValue is the definedness partial order on decode results,
// lifted from bytes: pointers without provenance sit below the same pointer
// with provenance, byte-bags compare pointwise, aggregates recurse. It is
// what the monotonicity law is stated over.
func LessDefinedValue(a, b ir.Value) bool {
	switch av := a.(type) {
	case ir.PtrVal:
		bv, ok := b.(ir.PtrVal)
		if !ok || av.P.Addr != bv.P.Addr {
			return false
		}
		return av.P.Prov.None() || av.P.Prov == bv.P.Prov
	case ir.TupleVal:
		bv, ok := b.(ir.TupleVal)
		if !ok || len(av.Fields) != len(bv.Fields) {
			return false
		}
		for i := range av.Fields {
			if !LessDefinedValue(av.Fields[i], bv.Fields[i]) {
				return false
			}
		}
		return true
	case ir.VariantVal:
		bv, ok := b.(ir.VariantVal)
		return ok && av.Idx == bv.Idx && LessDefinedValue(av.Inner, bv.Inner)
	case ir.BytesVal:
		bv, ok := b.(ir.BytesVal)
		return ok && ir.BytesLessDefined(av.Bytes, bv.Bytes)
	default:
		// Integers and booleans are fully defined; only equality relates them.
		return ir.ValueEq(a, b)
	}
}
