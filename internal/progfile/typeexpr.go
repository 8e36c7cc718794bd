package progfile

import (
	"fmt"

	"cuelang.org/go/cue"

	"github.com/minimach/minimach/internal/ir"
)

// parseType decodes a type struct: exactly one of the keys int, bool, ptr,
// tuple, array, union, enum.
func parseType(v cue.Value) (ir.Type, error) {
	if !v.Exists() {
		return nil, &CompileError{Field: "type", Message: "type is required"}
	}
	if tv := v.LookupPath(cue.ParsePath("int")); tv.Exists() {
		return parseIntType(tv)
	}
	if tv := v.LookupPath(cue.ParsePath("bool")); tv.Exists() {
		return ir.BoolType{}, nil
	}
	if tv := v.LookupPath(cue.ParsePath("ptr")); tv.Exists() {
		return parsePtrType(tv)
	}
	if tv := v.LookupPath(cue.ParsePath("tuple")); tv.Exists() {
		return parseTupleType(tv)
	}
	if tv := v.LookupPath(cue.ParsePath("array")); tv.Exists() {
		return parseArrayType(tv)
	}
	if tv := v.LookupPath(cue.ParsePath("union")); tv.Exists() {
		return parseUnionType(tv)
	}
	if tv := v.LookupPath(cue.ParsePath("enum")); tv.Exists() {
		return parseEnumType(tv)
	}
	return nil, &CompileError{
		Field:   "type",
		Message: "expected one of int, bool, ptr, tuple, array, union, enum",
		Pos:     v.Pos(),
	}
}

func parseIntType(v cue.Value) (ir.IntType, error) {
	var t ir.IntType
	bytes, err := reqInt64(v, "bytes")
	if err != nil {
		return t, err
	}
	t.Bytes = ir.Size(bytes)
	if sv := v.LookupPath(cue.ParsePath("signed")); sv.Exists() {
		signed, err := sv.Bool()
		if err != nil {
			return t, formatCUEError(err)
		}
		if signed {
			t.Sig = ir.Signed
		}
	}
	return t, nil
}

func parsePtrKind(v cue.Value, path string, def ir.PtrKind) (ir.PtrKind, error) {
	fv := v.LookupPath(cue.ParsePath(path))
	if !fv.Exists() {
		return def, nil
	}
	s, err := fv.String()
	if err != nil {
		return def, formatCUEError(err)
	}
	switch s {
	case "raw":
		return ir.PtrRaw, nil
	case "ref":
		return ir.PtrRef, nil
	case "box":
		return ir.PtrBox, nil
	case "fn":
		return ir.PtrFn, nil
	}
	return def, &CompileError{
		Field:   path,
		Message: fmt.Sprintf("unknown pointer kind %q", s),
		Pos:     fv.Pos(),
	}
}

func parsePtrMeta(v cue.Value) (*ir.PtrMeta, error) {
	size, err := reqInt64(v, "size")
	if err != nil {
		return nil, err
	}
	align, err := parseAlign(v, "align", ir.Align1)
	if err != nil {
		return nil, err
	}
	meta := &ir.PtrMeta{
		PointeeSize:  ir.Size(size),
		PointeeAlign: align,
		Inhabited:    true,
	}
	if iv := v.LookupPath(cue.ParsePath("inhabited")); iv.Exists() {
		meta.Inhabited, err = iv.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
	}
	return meta, nil
}

func parsePtrType(v cue.Value) (ir.PtrType, error) {
	var t ir.PtrType
	kind, err := parsePtrKind(v, "kind", ir.PtrRaw)
	if err != nil {
		return t, err
	}
	t.Kind = kind
	if pv := v.LookupPath(cue.ParsePath("pointee")); pv.Exists() {
		t.Meta, err = parsePtrMeta(pv)
		if err != nil {
			return t, err
		}
	}
	return t, nil
}

func parseTupleType(v cue.Value) (ir.TupleType, error) {
	var t ir.TupleType
	size, err := reqInt64(v, "size")
	if err != nil {
		return t, err
	}
	t.TupleSize = ir.Size(size)
	if fv := v.LookupPath(cue.ParsePath("fields")); fv.Exists() {
		iter, err := fv.List()
		if err != nil {
			return t, formatCUEError(err)
		}
		for iter.Next() {
			ev := iter.Value()
			offset, err := reqInt64(ev, "offset")
			if err != nil {
				return t, err
			}
			fty, err := parseType(ev.LookupPath(cue.ParsePath("type")))
			if err != nil {
				return t, err
			}
			t.Fields = append(t.Fields, ir.Field{Offset: ir.Size(offset), Ty: fty})
		}
	}
	return t, nil
}

func parseArrayType(v cue.Value) (ir.ArrayType, error) {
	var t ir.ArrayType
	count, err := reqInt64(v, "count")
	if err != nil {
		return t, err
	}
	t.Count = uint64(count)
	t.Elem, err = parseType(v.LookupPath(cue.ParsePath("elem")))
	return t, err
}

func parseUnionType(v cue.Value) (ir.UnionType, error) {
	var t ir.UnionType
	size, err := reqInt64(v, "size")
	if err != nil {
		return t, err
	}
	t.UnionSize = ir.Size(size)
	if cv := v.LookupPath(cue.ParsePath("chunks")); cv.Exists() {
		iter, err := cv.List()
		if err != nil {
			return t, formatCUEError(err)
		}
		for iter.Next() {
			ev := iter.Value()
			offset, err := reqInt64(ev, "offset")
			if err != nil {
				return t, err
			}
			length, err := reqInt64(ev, "length")
			if err != nil {
				return t, err
			}
			t.Chunks = append(t.Chunks, ir.Chunk{
				Offset: ir.Size(offset),
				Length: ir.Size(length),
			})
		}
	}
	return t, nil
}

func parseEnumType(v cue.Value) (ir.EnumType, error) {
	var t ir.EnumType
	size, err := reqInt64(v, "size")
	if err != nil {
		return t, err
	}
	t.EnumSize = ir.Size(size)

	tagv := v.LookupPath(cue.ParsePath("tag"))
	if !tagv.Exists() {
		return t, &CompileError{
			Field:   "enum.tag",
			Message: "tag layout is required",
			Pos:     v.Pos(),
		}
	}
	offset, err := reqInt64(tagv, "offset")
	if err != nil {
		return t, err
	}
	bytes, err := reqInt64(tagv, "bytes")
	if err != nil {
		return t, err
	}
	t.TagOffset = ir.Size(offset)
	t.TagBytes = ir.Size(bytes)
	if sv := tagv.LookupPath(cue.ParsePath("signed")); sv.Exists() {
		signed, err := sv.Bool()
		if err != nil {
			return t, formatCUEError(err)
		}
		if signed {
			t.TagSig = ir.Signed
		}
	}

	vv := v.LookupPath(cue.ParsePath("variants"))
	if !vv.Exists() {
		return t, &CompileError{
			Field:   "enum.variants",
			Message: "at least one variant is required",
			Pos:     v.Pos(),
		}
	}
	iter, err := vv.List()
	if err != nil {
		return t, formatCUEError(err)
	}
	for iter.Next() {
		ev := iter.Value()
		tag, err := parseIntField(ev, "tag")
		if err != nil {
			return t, err
		}
		pty, err := parseType(ev.LookupPath(cue.ParsePath("type")))
		if err != nil {
			return t, err
		}
		t.Variants = append(t.Variants, ir.Variant{Tag: tag, Payload: pty})
	}
	return t, nil
}

// parsePlaceType decodes {type: ..., align?: n}. The alignment defaults to
// 1 so packed layouts need no annotation.
func parsePlaceType(v cue.Value) (ir.PlaceType, error) {
	var pty ir.PlaceType
	ty, err := parseType(v.LookupPath(cue.ParsePath("type")))
	if err != nil {
		return pty, err
	}
	pty.Ty = ty
	pty.Align, err = parseAlign(v, "align", ir.Align1)
	return pty, err
}

// parseIntField reads an arbitrary-precision integer field.
func parseIntField(v cue.Value, path string) (ir.Int, error) {
	fv := v.LookupPath(cue.ParsePath(path))
	if !fv.Exists() {
		return ir.Int{}, &CompileError{
			Field:   path,
			Message: path + " is required",
			Pos:     v.Pos(),
		}
	}
	b, err := fv.Int(nil)
	if err != nil {
		return ir.Int{}, formatCUEError(err)
	}
	return ir.NewIntBig(b), nil
}
