package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAbstractByte_LessDefined(t *testing.T) {
	prov := Provenance{ID: 3, Valid: true}
	other := Provenance{ID: 4, Valid: true}

	assert.True(t, Uninit.LessDefined(Uninit))
	assert.True(t, Uninit.LessDefined(InitByte(9)))
	assert.True(t, Uninit.LessDefined(ProvByte(9, prov)))
	assert.False(t, InitByte(9).LessDefined(Uninit))

	// Same value: no-provenance is below has-provenance.
	assert.True(t, InitByte(9).LessDefined(ProvByte(9, prov)))
	assert.False(t, ProvByte(9, prov).LessDefined(InitByte(9)))

	// Different values or tokens are incomparable.
	assert.False(t, InitByte(9).LessDefined(InitByte(10)))
	assert.False(t, ProvByte(9, prov).LessDefined(ProvByte(9, other)))

	// Reflexive.
	assert.True(t, ProvByte(9, prov).LessDefined(ProvByte(9, prov)))
}

func TestBytesLessDefined(t *testing.T) {
	a := []AbstractByte{Uninit, InitByte(1)}
	b := []AbstractByte{InitByte(0), InitByte(1)}
	assert.True(t, BytesLessDefined(a, b))
	assert.False(t, BytesLessDefined(b, a))
	assert.False(t, BytesLessDefined(a, a[:1]), "different lengths are incomparable")
}

func TestValueEq(t *testing.T) {
	p := Pointer{Addr: 0x1000, Prov: Provenance{ID: 1, Valid: true}}

	assert.True(t, ValueEq(IntVal{V: NewInt(3)}, IntVal{V: NewInt(3)}))
	assert.False(t, ValueEq(IntVal{V: NewInt(3)}, IntVal{V: NewInt(4)}))
	assert.False(t, ValueEq(IntVal{V: NewInt(3)}, BoolVal{B: true}))

	assert.True(t, ValueEq(PtrVal{P: p}, PtrVal{P: p}))
	assert.False(t, ValueEq(PtrVal{P: p}, PtrVal{P: Pointer{Addr: 0x1000}}),
		"pointers compare by provenance too")

	tu := TupleVal{Fields: []Value{IntVal{V: NewInt(1)}, BoolVal{B: false}}}
	assert.True(t, ValueEq(tu, TupleVal{Fields: []Value{IntVal{V: NewInt(1)}, BoolVal{B: false}}}))
	assert.False(t, ValueEq(tu, TupleVal{Fields: []Value{IntVal{V: NewInt(1)}}}))

	va := VariantVal{Idx: 1, Inner: IntVal{V: NewInt(7)}}
	assert.True(t, ValueEq(va, VariantVal{Idx: 1, Inner: IntVal{V: NewInt(7)}}))
	assert.False(t, ValueEq(va, VariantVal{Idx: 0, Inner: IntVal{V: NewInt(7)}}))
}

func TestEnumType_VariantByTag(t *testing.T) {
	e := EnumType{
		Variants: []Variant{
			{Tag: NewInt(0), Payload: TupleType{}},
			{Tag: NewInt(5), Payload: IntType{Sig: Unsigned, Bytes: 1}},
		},
	}
	assert.Equal(t, 0, e.VariantByTag(NewInt(0)))
	assert.Equal(t, 1, e.VariantByTag(NewInt(5)))
	assert.Equal(t, -1, e.VariantByTag(NewInt(2)))
}

func TestIntType_String(t *testing.T) {
	assert.Equal(t, "i32", IntType{Sig: Signed, Bytes: 4}.String())
	assert.Equal(t, "u8", IntType{Sig: Unsigned, Bytes: 1}.String())
}
