package progfile

import (
	"fmt"

	"cuelang.org/go/cue"

	"github.com/minimach/minimach/internal/ir"
)

func parseStatement(v cue.Value) (ir.Statement, error) {
	if sv := v.LookupPath(cue.ParsePath("assign")); sv.Exists() {
		dest, err := parsePlaceExpr(sv.LookupPath(cue.ParsePath("dest")))
		if err != nil {
			return nil, err
		}
		src, err := parseValueExpr(sv.LookupPath(cue.ParsePath("src")))
		if err != nil {
			return nil, err
		}
		return ir.Assign{Dest: dest, Src: src}, nil
	}
	if sv := v.LookupPath(cue.ParsePath("mention")); sv.Exists() {
		place, err := parsePlaceExpr(sv)
		if err != nil {
			return nil, err
		}
		return ir.PlaceMention{Place: place}, nil
	}
	if sv := v.LookupPath(cue.ParsePath("validate")); sv.Exists() {
		place, err := parsePlaceExpr(sv.LookupPath(cue.ParsePath("place")))
		if err != nil {
			return nil, err
		}
		st := ir.Validate{Place: place}
		if fe := sv.LookupPath(cue.ParsePath("fn_entry")); fe.Exists() {
			var err error
			st.FnEntry, err = fe.Bool()
			if err != nil {
				return nil, formatCUEError(err)
			}
		}
		return st, nil
	}
	if sv := v.LookupPath(cue.ParsePath("live")); sv.Exists() {
		name, err := sv.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.StorageLive{Local: ir.LocalName(name)}, nil
	}
	if sv := v.LookupPath(cue.ParsePath("dead")); sv.Exists() {
		name, err := sv.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.StorageDead{Local: ir.LocalName(name)}, nil
	}
	return nil, &CompileError{
		Field:   "stmt",
		Message: "expected one of assign, mention, validate, live, dead",
		Pos:     v.Pos(),
	}
}

func parseTerminator(v cue.Value) (ir.Terminator, error) {
	if tv := v.LookupPath(cue.ParsePath("goto")); tv.Exists() {
		target, err := tv.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.Goto{Target: ir.BBName(target)}, nil
	}
	// "if" is a CUE keyword, so the label must be quoted in source and
	// looked up as a string selector.
	if tv := v.LookupPath(cue.MakePath(cue.Str("if"))); tv.Exists() {
		cond, err := parseValueExpr(tv.LookupPath(cue.ParsePath("cond")))
		if err != nil {
			return nil, err
		}
		then, err := reqString(tv, "then")
		if err != nil {
			return nil, err
		}
		els, err := reqString(tv, "else")
		if err != nil {
			return nil, err
		}
		return ir.If{Cond: cond, Then: ir.BBName(then), Else: ir.BBName(els)}, nil
	}
	if tv := v.LookupPath(cue.ParsePath("switch")); tv.Exists() {
		return parseSwitch(tv)
	}
	if tv := v.LookupPath(cue.ParsePath("unreachable")); tv.Exists() {
		return ir.Unreachable{}, nil
	}
	if tv := v.LookupPath(cue.ParsePath("call")); tv.Exists() {
		return parseCall(tv)
	}
	if tv := v.LookupPath(cue.ParsePath("return")); tv.Exists() {
		return ir.Return{}, nil
	}
	if tv := v.LookupPath(cue.ParsePath("intrinsic")); tv.Exists() {
		return parseIntrinsic(tv)
	}
	return nil, &CompileError{
		Field:   "term",
		Message: "expected one of goto, if, switch, unreachable, call, return, intrinsic",
		Pos:     v.Pos(),
	}
}

func parseSwitch(v cue.Value) (ir.SwitchInt, error) {
	var t ir.SwitchInt
	value, err := parseValueExpr(v.LookupPath(cue.ParsePath("value")))
	if err != nil {
		return t, err
	}
	t.Value = value
	if cv := v.LookupPath(cue.ParsePath("cases")); cv.Exists() {
		iter, err := cv.List()
		if err != nil {
			return t, formatCUEError(err)
		}
		for iter.Next() {
			ev := iter.Value()
			val, err := parseIntField(ev, "val")
			if err != nil {
				return t, err
			}
			target, err := reqString(ev, "target")
			if err != nil {
				return t, err
			}
			t.Cases = append(t.Cases, ir.SwitchCase{Val: val, Target: ir.BBName(target)})
		}
	}
	fallback, err := reqString(v, "fallback")
	if err != nil {
		return t, err
	}
	t.Fallback = ir.BBName(fallback)
	return t, nil
}

func parseCall(v cue.Value) (ir.Call, error) {
	var t ir.Call
	callee, err := parseValueExpr(v.LookupPath(cue.ParsePath("fn")))
	if err != nil {
		return t, err
	}
	t.Callee = callee
	if av := v.LookupPath(cue.ParsePath("args")); av.Exists() {
		iter, err := av.List()
		if err != nil {
			return t, formatCUEError(err)
		}
		for iter.Next() {
			arg, err := parseValueExpr(iter.Value())
			if err != nil {
				return t, err
			}
			t.Args = append(t.Args, arg)
		}
	}
	t.Ret, err = parsePlaceExpr(v.LookupPath(cue.ParsePath("ret")))
	if err != nil {
		return t, err
	}
	if nv := v.LookupPath(cue.ParsePath("next")); nv.Exists() {
		next, err := nv.String()
		if err != nil {
			return t, formatCUEError(err)
		}
		bb := ir.BBName(next)
		t.Next = &bb
	}
	if cv := v.LookupPath(cue.ParsePath("conv")); cv.Exists() {
		s, err := cv.String()
		if err != nil {
			return t, formatCUEError(err)
		}
		switch s {
		case "default":
			t.Conv = ir.ConvDefault
		case "c":
			t.Conv = ir.ConvC
		default:
			return t, &CompileError{
				Field:   "conv",
				Message: fmt.Sprintf("unknown calling convention %q", s),
				Pos:     cv.Pos(),
			}
		}
	}
	return t, nil
}

var intrinsicOps = map[string]ir.IntrinsicOp{
	"exit":                    ir.IntrinsicExit,
	"print":                   ir.IntrinsicPrintStdout,
	"eprint":                  ir.IntrinsicPrintStderr,
	"allocate":                ir.IntrinsicAllocate,
	"deallocate":              ir.IntrinsicDeallocate,
	"spawn":                   ir.IntrinsicSpawn,
	"join":                    ir.IntrinsicJoin,
	"atomic_load":             ir.IntrinsicAtomicLoad,
	"atomic_store":            ir.IntrinsicAtomicStore,
	"atomic_compare_exchange": ir.IntrinsicAtomicCompareExchange,
	"atomic_fetch_add":        ir.IntrinsicAtomicFetchAdd,
}

func parseIntrinsic(v cue.Value) (ir.Intrinsic, error) {
	var t ir.Intrinsic
	opName, err := reqString(v, "op")
	if err != nil {
		return t, err
	}
	op, ok := intrinsicOps[opName]
	if !ok {
		return t, &CompileError{
			Field:   "intrinsic.op",
			Message: fmt.Sprintf("unknown intrinsic %q", opName),
			Pos:     v.Pos(),
		}
	}
	t.Op = op
	if av := v.LookupPath(cue.ParsePath("args")); av.Exists() {
		iter, err := av.List()
		if err != nil {
			return t, formatCUEError(err)
		}
		for iter.Next() {
			arg, err := parseValueExpr(iter.Value())
			if err != nil {
				return t, err
			}
			t.Args = append(t.Args, arg)
		}
	}
	t.Ret, err = parsePlaceExpr(v.LookupPath(cue.ParsePath("ret")))
	if err != nil {
		return t, err
	}
	if nv := v.LookupPath(cue.ParsePath("next")); nv.Exists() {
		next, err := nv.String()
		if err != nil {
			return t, formatCUEError(err)
		}
		bb := ir.BBName(next)
		t.Next = &bb
	}
	return t, nil
}

var unOps = map[string]ir.UnOpKind{
	"neg":     ir.UnIntNeg,
	"cast":    ir.UnIntCast,
	"ptr2int": ir.UnPtr2Int,
	"int2ptr": ir.UnInt2Ptr,
}

var binOps = map[string]ir.BinOpKind{
	"add":        ir.BinAdd,
	"sub":        ir.BinSub,
	"mul":        ir.BinMul,
	"div":        ir.BinDiv,
	"rem":        ir.BinRem,
	"bit_and":    ir.BinBitAnd,
	"bit_or":     ir.BinBitOr,
	"bit_xor":    ir.BinBitXor,
	"eq":         ir.BinEq,
	"ne":         ir.BinNe,
	"lt":         ir.BinLt,
	"le":         ir.BinLe,
	"gt":         ir.BinGt,
	"ge":         ir.BinGe,
	"ptr_offset": ir.BinPtrOffset,
}

func parseValueExpr(v cue.Value) (ir.ValueExpr, error) {
	if !v.Exists() {
		return nil, &CompileError{Field: "expr", Message: "expression is required"}
	}
	if ev := v.LookupPath(cue.ParsePath("int")); ev.Exists() {
		val, err := parseIntField(ev, "value")
		if err != nil {
			return nil, err
		}
		ty, err := parseType(ev.LookupPath(cue.ParsePath("type")))
		if err != nil {
			return nil, err
		}
		ity, ok := ty.(ir.IntType)
		if !ok {
			return nil, &CompileError{
				Field:   "int.type",
				Message: "integer literal requires an integer type",
				Pos:     ev.Pos(),
			}
		}
		return ir.ConstInt{V: val, Ty: ity}, nil
	}
	if ev := v.LookupPath(cue.ParsePath("bool")); ev.Exists() {
		b, err := ev.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.ConstBool{B: b}, nil
	}
	if ev := v.LookupPath(cue.ParsePath("fn")); ev.Exists() {
		name, err := ev.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.ConstFn{Fn: ir.FnName(name)}, nil
	}
	if ev := v.LookupPath(cue.ParsePath("global")); ev.Exists() {
		name, err := reqString(ev, "name")
		if err != nil {
			return nil, err
		}
		e := ir.ConstGlobal{Global: ir.GlobalName(name)}
		if ov := ev.LookupPath(cue.ParsePath("offset")); ov.Exists() {
			n, err := ov.Int64()
			if err != nil {
				return nil, formatCUEError(err)
			}
			e.Offset = ir.Size(n)
		}
		return e, nil
	}
	if ev := v.LookupPath(cue.ParsePath("tuple")); ev.Exists() {
		ty, err := parseType(ev.LookupPath(cue.ParsePath("type")))
		if err != nil {
			return nil, err
		}
		e := ir.TupleExpr{Ty: ty}
		if fv := ev.LookupPath(cue.ParsePath("fields")); fv.Exists() {
			iter, err := fv.List()
			if err != nil {
				return nil, formatCUEError(err)
			}
			for iter.Next() {
				fe, err := parseValueExpr(iter.Value())
				if err != nil {
					return nil, err
				}
				e.Fields = append(e.Fields, fe)
			}
		}
		return e, nil
	}
	if ev := v.LookupPath(cue.ParsePath("variant")); ev.Exists() {
		ty, err := parseType(ev.LookupPath(cue.ParsePath("type")))
		if err != nil {
			return nil, err
		}
		ety, ok := ty.(ir.EnumType)
		if !ok {
			return nil, &CompileError{
				Field:   "variant.type",
				Message: "variant literal requires an enum type",
				Pos:     ev.Pos(),
			}
		}
		idx, err := reqInt64(ev, "idx")
		if err != nil {
			return nil, err
		}
		inner, err := parseValueExpr(ev.LookupPath(cue.ParsePath("value")))
		if err != nil {
			return nil, err
		}
		return ir.VariantExpr{Idx: int(idx), Inner: inner, Ty: ety}, nil
	}
	if ev := v.LookupPath(cue.ParsePath("load")); ev.Exists() {
		place, err := parsePlaceExpr(ev)
		if err != nil {
			return nil, err
		}
		return ir.Load{Src: place}, nil
	}
	if ev := v.LookupPath(cue.ParsePath("addr_of")); ev.Exists() {
		place, err := parsePlaceExpr(ev.LookupPath(cue.ParsePath("place")))
		if err != nil {
			return nil, err
		}
		kind, err := parsePtrKind(ev, "kind", ir.PtrRaw)
		if err != nil {
			return nil, err
		}
		e := ir.AddrOf{Place: place, Kind: kind}
		if pv := ev.LookupPath(cue.ParsePath("pointee")); pv.Exists() {
			e.Meta, err = parsePtrMeta(pv)
			if err != nil {
				return nil, err
			}
		}
		return e, nil
	}
	if ev := v.LookupPath(cue.ParsePath("unop")); ev.Exists() {
		return parseUnOp(ev)
	}
	if ev := v.LookupPath(cue.ParsePath("binop")); ev.Exists() {
		return parseBinOp(ev)
	}
	return nil, &CompileError{
		Field:   "expr",
		Message: "expected one of int, bool, fn, global, tuple, variant, load, addr_of, unop, binop",
		Pos:     v.Pos(),
	}
}

func parseUnOp(v cue.Value) (ir.UnOp, error) {
	var e ir.UnOp
	opName, err := reqString(v, "op")
	if err != nil {
		return e, err
	}
	op, ok := unOps[opName]
	if !ok {
		return e, &CompileError{
			Field:   "unop.op",
			Message: fmt.Sprintf("unknown unary operation %q", opName),
			Pos:     v.Pos(),
		}
	}
	e.Op = op
	e.E, err = parseValueExpr(v.LookupPath(cue.ParsePath("e")))
	if err != nil {
		return e, err
	}
	switch op {
	case ir.UnInt2Ptr:
		tv := v.LookupPath(cue.ParsePath("ptr_type"))
		if !tv.Exists() {
			return e, &CompileError{
				Field:   "unop.ptr_type",
				Message: "int2ptr requires a pointer result type",
				Pos:     v.Pos(),
			}
		}
		e.PtrTy, err = parsePtrType(tv)
		if err != nil {
			return e, err
		}
	default:
		tv := v.LookupPath(cue.ParsePath("type"))
		if !tv.Exists() {
			return e, &CompileError{
				Field:   "unop.type",
				Message: opName + " requires an integer operand type",
				Pos:     v.Pos(),
			}
		}
		ty, err := parseType(tv)
		if err != nil {
			return e, err
		}
		ity, ok := ty.(ir.IntType)
		if !ok {
			return e, &CompileError{
				Field:   "unop.type",
				Message: opName + " requires an integer operand type",
				Pos:     tv.Pos(),
			}
		}
		e.OpTy = ity
	}
	return e, nil
}

func parseBinOp(v cue.Value) (ir.BinOp, error) {
	var e ir.BinOp
	opName, err := reqString(v, "op")
	if err != nil {
		return e, err
	}
	op, ok := binOps[opName]
	if !ok {
		return e, &CompileError{
			Field:   "binop.op",
			Message: fmt.Sprintf("unknown binary operation %q", opName),
			Pos:     v.Pos(),
		}
	}
	e.Op = op
	e.L, err = parseValueExpr(v.LookupPath(cue.ParsePath("l")))
	if err != nil {
		return e, err
	}
	e.R, err = parseValueExpr(v.LookupPath(cue.ParsePath("r")))
	if err != nil {
		return e, err
	}
	if tv := v.LookupPath(cue.ParsePath("type")); tv.Exists() {
		ty, err := parseType(tv)
		if err != nil {
			return e, err
		}
		ity, ok := ty.(ir.IntType)
		if !ok {
			return e, &CompileError{
				Field:   "binop.type",
				Message: "binop requires an integer operand type",
				Pos:     tv.Pos(),
			}
		}
		e.OpTy = ity
	}
	if iv := v.LookupPath(cue.ParsePath("inbounds")); iv.Exists() {
		e.Inbounds, err = iv.Bool()
		if err != nil {
			return e, formatCUEError(err)
		}
	}
	return e, nil
}

func parsePlaceExpr(v cue.Value) (ir.PlaceExpr, error) {
	if !v.Exists() {
		return nil, &CompileError{Field: "place", Message: "place is required"}
	}
	if pv := v.LookupPath(cue.ParsePath("local")); pv.Exists() {
		name, err := pv.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.PlaceLocal{Name: ir.LocalName(name)}, nil
	}
	if pv := v.LookupPath(cue.ParsePath("deref")); pv.Exists() {
		ptr, err := parseValueExpr(pv.LookupPath(cue.ParsePath("ptr")))
		if err != nil {
			return nil, err
		}
		pty, err := parsePlaceType(pv)
		if err != nil {
			return nil, err
		}
		return ir.PlaceDeref{Ptr: ptr, Pty: pty}, nil
	}
	if pv := v.LookupPath(cue.ParsePath("field")); pv.Exists() {
		base, err := parsePlaceExpr(pv.LookupPath(cue.ParsePath("base")))
		if err != nil {
			return nil, err
		}
		idx, err := reqInt64(pv, "idx")
		if err != nil {
			return nil, err
		}
		return ir.PlaceField{Base: base, Idx: int(idx)}, nil
	}
	if pv := v.LookupPath(cue.ParsePath("index")); pv.Exists() {
		base, err := parsePlaceExpr(pv.LookupPath(cue.ParsePath("base")))
		if err != nil {
			return nil, err
		}
		index, err := parseValueExpr(pv.LookupPath(cue.ParsePath("index")))
		if err != nil {
			return nil, err
		}
		return ir.PlaceIndex{Base: base, Index: index}, nil
	}
	return nil, &CompileError{
		Field:   "place",
		Message: "expected one of local, deref, field, index",
		Pos:     v.Pos(),
	}
}
