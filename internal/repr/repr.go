// Package repr implements the representation relation: the per-type
// decode/encode bridge between typed Values and the untyped abstract bytes
// the memory contract trades in.
//
// Three laws hold and are enforced by tests:
//
//   - round-trip: decode(encode(v)) == Some(v) for every decodable v
//   - monotonicity: b1 ≤ b2 pointwise implies decode(b1) ≤ decode(b2)
//   - contraction: decode(b) == Some(v) implies encode(v) ≤ b
//
// Encode is specified as "any bytes that decode back to the value"; this
// implementation always produces the canonical least-defined choice (gaps
// and padding uninitialized), which is what makes contraction unconditional.
package repr

import (
	"fmt"

	"github.com/minimach/minimach/internal/ir"
)

// MixedProvenancePolicy decides what a pointer decode does when the bytes
// carry differing provenance tokens. The source material leaves this open;
// the policy is explicit configuration, not a silent guess.
type MixedProvenancePolicy int

const (
	// MixedStrip decodes mixed-provenance pointer bytes to a pointer
	// without provenance. Default: keeps bytewise pointer copies working
	// under partial overwrites.
	MixedStrip MixedProvenancePolicy = iota
	// MixedFail makes mixed-provenance pointer bytes fail to decode.
	MixedFail
)

// Codec applies the representation relation for one target.
type Codec struct {
	tg    ir.Target
	mixed MixedProvenancePolicy
}

// Option configures a Codec.
type Option func(*Codec)

// WithMixedProvenance selects the mixed-provenance decode policy.
func WithMixedProvenance(p MixedProvenancePolicy) Option {
	return func(c *Codec) { c.mixed = p }
}

// New creates a Codec for the target.
func New(tg ir.Target, opts ...Option) *Codec {
	c := &Codec{tg: tg, mixed: MixedStrip}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Target returns the codec's target.
func (c *Codec) Target() ir.Target { return c.tg }

// Decode translates bytes into a Value of type t, or reports that the bytes
// are not a valid representation. len(b) must equal t's size; anything else
// is a caller bug.
func (c *Codec) Decode(t ir.Type, b []ir.AbstractByte) (ir.Value, bool) {
	if uint64(len(b)) != t.Size(c.tg).Bytes() {
		panic(fmt.Sprintf("repr: decoding %d bytes at a type of size %d", len(b), t.Size(c.tg).Bytes()))
	}
	switch ty := t.(type) {
	case ir.BoolType:
		return decodeBool(b)
	case ir.IntType:
		return c.decodeInt(ty, b)
	case ir.PtrType:
		return c.decodePtr(ty, b)
	case ir.TupleType:
		return c.decodeTuple(ty, b)
	case ir.ArrayType:
		return c.decodeArray(ty, b)
	case ir.UnionType:
		return decodeUnion(ty, b)
	case ir.EnumType:
		return c.decodeEnum(ty, b)
	}
	panic(fmt.Sprintf("repr: unknown type %T", t))
}

// Encode translates a Value into its canonical byte representation at type
// t. A value whose shape does not fit t is an interpreter bug and panics;
// the machine only encodes values it has type-checked.
func (c *Codec) Encode(t ir.Type, v ir.Value) []ir.AbstractByte {
	switch ty := t.(type) {
	case ir.BoolType:
		return encodeBool(v)
	case ir.IntType:
		return c.encodeInt(ty, v)
	case ir.PtrType:
		return c.encodePtr(v)
	case ir.TupleType:
		return c.encodeTuple(ty, v)
	case ir.ArrayType:
		return c.encodeArray(ty, v)
	case ir.UnionType:
		return encodeUnion(ty, v)
	case ir.EnumType:
		return c.encodeEnum(ty, v)
	}
	panic(fmt.Sprintf("repr: unknown type %T", t))
}

// decodeBool: exactly one initialized, provenance-free byte holding 0 or 1.
// A provenance-carrying byte decodes to nothing, blocking pointer-to-bool
// transmutation.
func decodeBool(b []ir.AbstractByte) (ir.Value, bool) {
	ab := b[0]
	if !ab.Init || !ab.Prov.None() {
		return nil, false
	}
	switch ab.Val {
	case 0:
		return ir.BoolVal{B: false}, true
	case 1:
		return ir.BoolVal{B: true}, true
	}
	return nil, false
}

func encodeBool(v ir.Value) []ir.AbstractByte {
	bv, ok := v.(ir.BoolVal)
	if !ok {
		panic(fmt.Sprintf("repr: encoding %T at bool", v))
	}
	var raw byte
	if bv.B {
		raw = 1
	}
	return []ir.AbstractByte{ir.InitByte(raw)}
}

// decodeInt requires full initialization; provenance is stripped on decode
// and never attached on encode.
func (c *Codec) decodeInt(t ir.IntType, b []ir.AbstractByte) (ir.Value, bool) {
	raw := make([]byte, len(b))
	for i, ab := range b {
		if !ab.Init {
			return nil, false
		}
		raw[i] = ab.Val
	}
	return ir.IntVal{V: intFromBytes(raw, t.Sig, c.tg.Endian)}, true
}

func (c *Codec) encodeInt(t ir.IntType, v ir.Value) []ir.AbstractByte {
	iv, ok := v.(ir.IntVal)
	if !ok {
		panic(fmt.Sprintf("repr: encoding %T at %s", v, t))
	}
	if !iv.V.InBounds(t.Sig, t.Bytes) {
		panic(fmt.Sprintf("repr: value %s out of bounds for %s", iv.V, t))
	}
	raw := intToBytes(iv.V, t.Bytes, c.tg.Endian)
	out := make([]ir.AbstractByte, len(raw))
	for i, by := range raw {
		out[i] = ir.InitByte(by)
	}
	return out
}

// decodePtr reconstructs the address via target endianness. The provenance
// of the decoded pointer is the single token shared by all bytes; bytes
// with differing tokens follow the configured mixed-provenance policy.
// Safe pointer kinds additionally require a non-null, pointee-aligned
// address and an inhabited pointee.
func (c *Codec) decodePtr(t ir.PtrType, b []ir.AbstractByte) (ir.Value, bool) {
	raw := make([]byte, len(b))
	for i, ab := range b {
		if !ab.Init {
			return nil, false
		}
		raw[i] = ab.Val
	}
	prov := b[0].Prov
	mixed := false
	for _, ab := range b[1:] {
		if ab.Prov != prov {
			mixed = true
			break
		}
	}
	if mixed {
		if c.mixed == MixedFail {
			return nil, false
		}
		prov = ir.NoProvenance
	}
	addr := intFromBytes(raw, ir.Unsigned, c.tg.Endian).Uint64()

	switch t.Kind {
	case ir.PtrRef, ir.PtrBox:
		if addr == 0 || !t.Meta.PointeeAlign.Aligned(addr) || !t.Meta.Inhabited {
			return nil, false
		}
	case ir.PtrFn:
		if addr == 0 {
			return nil, false
		}
	}
	return ir.PtrVal{P: ir.Pointer{Addr: addr, Prov: prov}}, true
}

func (c *Codec) encodePtr(v ir.Value) []ir.AbstractByte {
	pv, ok := v.(ir.PtrVal)
	if !ok {
		panic(fmt.Sprintf("repr: encoding %T at pointer type", v))
	}
	raw := intToBytes(ir.NewIntUint64(pv.P.Addr), c.tg.PtrBytes, c.tg.Endian)
	out := make([]ir.AbstractByte, len(raw))
	for i, by := range raw {
		out[i] = ir.AbstractByte{Init: true, Val: by, Prov: pv.P.Prov}
	}
	return out
}

// decodeTuple recurses per field at its offset, ignoring inter-field gaps.
func (c *Codec) decodeTuple(t ir.TupleType, b []ir.AbstractByte) (ir.Value, bool) {
	fields := make([]ir.Value, len(t.Fields))
	for i, f := range t.Fields {
		sz := f.Ty.Size(c.tg).Bytes()
		fv, ok := c.Decode(f.Ty, b[f.Offset.Bytes():f.Offset.Bytes()+sz])
		if !ok {
			return nil, false
		}
		fields[i] = fv
	}
	return ir.TupleVal{Fields: fields}, true
}

// encodeTuple writes each field at its offset and leaves every gap
// uninitialized. The asymmetry with decode (which ignores gap contents) is
// what makes the round-trip law hold.
func (c *Codec) encodeTuple(t ir.TupleType, v ir.Value) []ir.AbstractByte {
	tv, ok := v.(ir.TupleVal)
	if !ok || len(tv.Fields) != len(t.Fields) {
		panic(fmt.Sprintf("repr: encoding %T at tuple of %d fields", v, len(t.Fields)))
	}
	out := make([]ir.AbstractByte, t.TupleSize.Bytes())
	for i, f := range t.Fields {
		enc := c.Encode(f.Ty, tv.Fields[i])
		copy(out[f.Offset.Bytes():], enc)
	}
	return out
}

func (c *Codec) decodeArray(t ir.ArrayType, b []ir.AbstractByte) (ir.Value, bool) {
	stride := t.Elem.Size(c.tg).Bytes()
	fields := make([]ir.Value, t.Count)
	for i := uint64(0); i < t.Count; i++ {
		ev, ok := c.Decode(t.Elem, b[i*stride:(i+1)*stride])
		if !ok {
			return nil, false
		}
		fields[i] = ev
	}
	return ir.TupleVal{Fields: fields}, true
}

func (c *Codec) encodeArray(t ir.ArrayType, v ir.Value) []ir.AbstractByte {
	tv, ok := v.(ir.TupleVal)
	if !ok || uint64(len(tv.Fields)) != t.Count {
		panic(fmt.Sprintf("repr: encoding %T at array of %d", v, t.Count))
	}
	stride := t.Elem.Size(c.tg).Bytes()
	out := make([]ir.AbstractByte, t.Size(c.tg).Bytes())
	for i, ev := range tv.Fields {
		copy(out[uint64(i)*stride:], c.Encode(t.Elem, ev))
	}
	return out
}

// decodeUnion slices the declared chunks verbatim, provenance included.
// Bytes outside every chunk are discarded.
func decodeUnion(t ir.UnionType, b []ir.AbstractByte) (ir.Value, bool) {
	var total uint64
	for _, ch := range t.Chunks {
		total += ch.Length.Bytes()
	}
	out := make([]ir.AbstractByte, 0, total)
	for _, ch := range t.Chunks {
		out = append(out, b[ch.Offset.Bytes():ch.Offset.Bytes()+ch.Length.Bytes()]...)
	}
	return ir.BytesVal{Bytes: out}, true
}

// encodeUnion places the chunk bytes back and forces everything outside a
// chunk to uninitialized.
func encodeUnion(t ir.UnionType, v ir.Value) []ir.AbstractByte {
	bv, ok := v.(ir.BytesVal)
	if !ok {
		panic(fmt.Sprintf("repr: encoding %T at union", v))
	}
	out := make([]ir.AbstractByte, t.UnionSize.Bytes())
	pos := uint64(0)
	for _, ch := range t.Chunks {
		n := ch.Length.Bytes()
		copy(out[ch.Offset.Bytes():], bv.Bytes[pos:pos+n])
		pos += n
	}
	if pos != uint64(len(bv.Bytes)) {
		panic(fmt.Sprintf("repr: union value has %d chunk bytes, type declares %d", len(bv.Bytes), pos))
	}
	return out
}

// decodeEnum reads the discriminant with the direct tag encoding and
// decodes the selected variant's payload from offset zero. Well-formedness
// keeps the tag region disjoint from every payload extent.
func (c *Codec) decodeEnum(t ir.EnumType, b []ir.AbstractByte) (ir.Value, bool) {
	if t.Encoding != ir.TagDirect {
		panic("repr: niche tag encoding is declared but not implemented")
	}
	tagBytes := b[t.TagOffset.Bytes() : t.TagOffset.Bytes()+t.TagBytes.Bytes()]
	tagVal, ok := c.decodeInt(ir.IntType{Sig: t.TagSig, Bytes: t.TagBytes}, tagBytes)
	if !ok {
		return nil, false
	}
	idx := t.VariantByTag(tagVal.(ir.IntVal).V)
	if idx < 0 {
		return nil, false
	}
	payload := t.Variants[idx].Payload
	psz := payload.Size(c.tg).Bytes()
	inner, ok := c.Decode(payload, b[:psz])
	if !ok {
		return nil, false
	}
	return ir.VariantVal{Idx: idx, Inner: inner}, true
}

func (c *Codec) encodeEnum(t ir.EnumType, v ir.Value) []ir.AbstractByte {
	vv, ok := v.(ir.VariantVal)
	if !ok || vv.Idx < 0 || vv.Idx >= len(t.Variants) {
		panic(fmt.Sprintf("repr: encoding %T at enum", v))
	}
	variant := t.Variants[vv.Idx]
	out := make([]ir.AbstractByte, t.EnumSize.Bytes())
	copy(out, c.Encode(variant.Payload, vv.Inner))
	tagTy := ir.IntType{Sig: t.TagSig, Bytes: t.TagBytes}
	copy(out[t.TagOffset.Bytes():], c.encodeInt(tagTy, ir.IntVal{V: variant.Tag}))
	return out
}
