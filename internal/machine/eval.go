package machine

import (
	"fmt"

	"github.com/minimach/minimach/internal/ir"
	"github.com/minimach/minimach/internal/ub"
)

// evalValue evaluates a value expression. Evaluation is deterministic and
// free of observable side effects except through the provenance subsystem
// (ptr2int exposure, int2ptr prediction) and the memory checks of Load and
// inbounds arithmetic; this keeps it reorder- and remove-safe.
func (m *Machine) evalValue(t *thread, f *frame, e ir.ValueExpr) (ir.Value, error) {
	switch ex := e.(type) {
	case ir.ConstInt:
		return ir.IntVal{V: ex.V.Modulo(ex.Ty.Sig, ex.Ty.Bytes)}, nil

	case ir.ConstBool:
		return ir.BoolVal{B: ex.B}, nil

	case ir.ConstFn:
		p, ok := m.fnAddrs[ex.Fn]
		if !ok {
			panic(fmt.Sprintf("machine: unknown function %q survived well-formedness", ex.Fn))
		}
		return ir.PtrVal{P: p}, nil

	case ir.ConstGlobal:
		p, ok := m.globals[ex.Global]
		if !ok {
			panic(fmt.Sprintf("machine: unknown global %q survived well-formedness", ex.Global))
		}
		p.Addr = m.wrapAddr(p.Addr + ex.Offset.Bytes())
		return ir.PtrVal{P: p}, nil

	case ir.TupleExpr:
		fields := make([]ir.Value, len(ex.Fields))
		for i, fe := range ex.Fields {
			v, err := m.evalValue(t, f, fe)
			if err != nil {
				return nil, err
			}
			fields[i] = v
		}
		return ir.TupleVal{Fields: fields}, nil

	case ir.VariantExpr:
		inner, err := m.evalValue(t, f, ex.Inner)
		if err != nil {
			return nil, err
		}
		return ir.VariantVal{Idx: ex.Idx, Inner: inner}, nil

	case ir.Load:
		pl, err := m.evalPlace(t, f, ex.Src)
		if err != nil {
			return nil, err
		}
		return m.typedLoad(t, pl, false)

	case ir.AddrOf:
		pl, err := m.evalPlace(t, f, ex.Place)
		if err != nil {
			return nil, err
		}
		p := pl.Ptr
		if ex.Kind == ir.PtrRef || ex.Kind == ir.PtrBox {
			p, err = m.mem.Retag(p, *ex.Meta, false)
			if err != nil {
				return nil, err
			}
		}
		return ir.PtrVal{P: p}, nil

	case ir.UnOp:
		return m.evalUnOp(t, f, ex)

	case ir.BinOp:
		return m.evalBinOp(t, f, ex)
	}
	panic(fmt.Sprintf("machine: unknown value expression %T", e))
}

func (m *Machine) evalUnOp(t *thread, f *frame, e ir.UnOp) (ir.Value, error) {
	v, err := m.evalValue(t, f, e.E)
	if err != nil {
		return nil, err
	}
	switch e.Op {
	case ir.UnIntNeg:
		return ir.IntVal{V: asInt(v).Neg().Modulo(e.OpTy.Sig, e.OpTy.Bytes)}, nil

	case ir.UnIntCast:
		return ir.IntVal{V: asInt(v).Modulo(e.OpTy.Sig, e.OpTy.Bytes)}, nil

	case ir.UnPtr2Int:
		// Never fails; a provenance-carrying pointer becomes exposed.
		p := asPtr(v)
		m.expose(p.Prov)
		return ir.IntVal{V: ir.NewIntUint64(p.Addr).Modulo(e.OpTy.Sig, e.OpTy.Bytes)}, nil

	case ir.UnInt2Ptr:
		addr := asInt(v).Modulo(ir.Unsigned, m.prog.Target.PtrBytes).Uint64()
		// Angelic prediction over the exposure set. "No provenance" is
		// always admissible, so the candidate set is never empty; the
		// injected predictor guesses the origin maximally in the
		// program's favor.
		prov := m.predictor.Predict(addr, m.exposedList())
		return ir.PtrVal{P: ir.Pointer{Addr: addr, Prov: prov}}, nil
	}
	panic(fmt.Sprintf("machine: unknown unary op %d", e.Op))
}

func (m *Machine) evalBinOp(t *thread, f *frame, e ir.BinOp) (ir.Value, error) {
	lv, err := m.evalValue(t, f, e.L)
	if err != nil {
		return nil, err
	}
	rv, err := m.evalValue(t, f, e.R)
	if err != nil {
		return nil, err
	}

	switch e.Op {
	case ir.BinAdd, ir.BinSub, ir.BinMul, ir.BinBitAnd, ir.BinBitOr, ir.BinBitXor:
		l, r := asInt(lv), asInt(rv)
		var res ir.Int
		switch e.Op {
		case ir.BinAdd:
			res = l.Add(r)
		case ir.BinSub:
			res = l.Sub(r)
		case ir.BinMul:
			res = l.Mul(r)
		case ir.BinBitAnd, ir.BinBitOr, ir.BinBitXor:
			res = bitOp(e.Op, l, r, e.OpTy)
		}
		return ir.IntVal{V: res.Modulo(e.OpTy.Sig, e.OpTy.Bytes)}, nil

	case ir.BinDiv, ir.BinRem:
		l, r := asInt(lv), asInt(rv)
		if r.IsZero() {
			return nil, ub.Ub(ub.CodeDivByZero, "integer division by zero")
		}
		var res ir.Int
		if e.Op == ir.BinDiv {
			res = l.Div(r)
		} else {
			res = l.Rem(r)
		}
		// The only escape from the operand range is MIN / -1.
		if !res.InBounds(e.OpTy.Sig, e.OpTy.Bytes) {
			return nil, ub.Ub(ub.CodeArithOverflow,
				"%s / %s overflows %s", l, r, e.OpTy)
		}
		return ir.IntVal{V: res}, nil

	case ir.BinEq, ir.BinNe, ir.BinLt, ir.BinLe, ir.BinGt, ir.BinGe:
		c := asInt(lv).Cmp(asInt(rv))
		var b bool
		switch e.Op {
		case ir.BinEq:
			b = c == 0
		case ir.BinNe:
			b = c != 0
		case ir.BinLt:
			b = c < 0
		case ir.BinLe:
			b = c <= 0
		case ir.BinGt:
			b = c > 0
		case ir.BinGe:
			b = c >= 0
		}
		return ir.BoolVal{B: b}, nil

	case ir.BinPtrOffset:
		p := asPtr(lv)
		delta := asInt(rv)
		newAddr := ir.NewIntUint64(p.Addr).Add(delta).
			Modulo(ir.Unsigned, m.prog.Target.PtrBytes).Uint64()
		if e.Inbounds {
			lo, sz := p.Addr, delta
			if delta.Sign() < 0 {
				lo, sz = newAddr, delta.Neg()
			}
			// A magnitude wider than a pointer fits no allocation, and
			// narrowing it to uint64 would silently drop the high bits.
			if !sz.InBounds(ir.Unsigned, m.prog.Target.PtrBytes) {
				return nil, ub.Ub(ub.CodeOutOfBounds,
					"inbounds offset by %s bytes exceeds the address space", sz)
			}
			if err := m.mem.Dereferenceable(ir.Pointer{Addr: lo, Prov: p.Prov},
				ir.Size(sz.Uint64()), ir.Align1); err != nil {
				return nil, err
			}
		}
		return ir.PtrVal{P: ir.Pointer{Addr: newAddr, Prov: p.Prov}}, nil
	}
	panic(fmt.Sprintf("machine: unknown binary op %d", e.Op))
}

func bitOp(op ir.BinOpKind, l, r ir.Int, ty ir.IntType) ir.Int {
	lb := l.Modulo(ir.Unsigned, ty.Bytes).Big()
	rb := r.Modulo(ir.Unsigned, ty.Bytes).Big()
	switch op {
	case ir.BinBitAnd:
		return ir.NewIntBig(lb.And(lb, rb))
	case ir.BinBitOr:
		return ir.NewIntBig(lb.Or(lb, rb))
	default:
		return ir.NewIntBig(lb.Xor(lb, rb))
	}
}

// evalPlace computes the location a place expression names. It has
// bounds-checking side effects (index range checks, inbounds arithmetic)
// but never dereferences: mentioning a dangling place stays legal as long
// as nothing loads through it.
func (m *Machine) evalPlace(t *thread, f *frame, p ir.PlaceExpr) (Place, error) {
	switch pe := p.(type) {
	case ir.PlaceLocal:
		pl, ok := f.locals[pe.Name]
		if !ok {
			return Place{}, ub.Ub(ub.CodeDeadLocal, "local %s has dead storage", pe.Name)
		}
		return pl, nil

	case ir.PlaceDeref:
		v, err := m.evalValue(t, f, pe.Ptr)
		if err != nil {
			return Place{}, err
		}
		return Place{Ptr: asPtr(v), Pty: pe.Pty}, nil

	case ir.PlaceField:
		base, err := m.evalPlace(t, f, pe.Base)
		if err != nil {
			return Place{}, err
		}
		tt, ok := base.Pty.Ty.(ir.TupleType)
		if !ok {
			panic("machine: field access on a non-tuple place survived well-formedness")
		}
		fld := tt.Fields[pe.Idx]
		return m.subPlace(base, fld.Offset.Bytes(), fld.Ty), nil

	case ir.PlaceIndex:
		base, err := m.evalPlace(t, f, pe.Base)
		if err != nil {
			return Place{}, err
		}
		at, ok := base.Pty.Ty.(ir.ArrayType)
		if !ok {
			panic("machine: index access on a non-array place survived well-formedness")
		}
		iv, err := m.evalValue(t, f, pe.Index)
		if err != nil {
			return Place{}, err
		}
		idx := asInt(iv)
		if idx.Sign() < 0 || idx.Cmp(ir.NewIntUint64(at.Count)) >= 0 {
			return Place{}, ub.Ub(ub.CodeOutOfRange,
				"index %s out of range of array of %d", idx, at.Count)
		}
		stride := at.Elem.Size(m.prog.Target).Bytes()
		return m.subPlace(base, idx.Uint64()*stride, at.Elem), nil
	}
	panic(fmt.Sprintf("machine: unknown place expression %T", p))
}

// subPlace derives the place of a component at a byte offset. The derived
// alignment is the base alignment restricted by the offset.
func (m *Machine) subPlace(base Place, offset uint64, ty ir.Type) Place {
	p := base.Ptr
	p.Addr = m.wrapAddr(p.Addr + offset)
	return Place{
		Ptr: p,
		Pty: ir.PlaceType{Ty: ty, Align: restrictAlign(base.Pty.Align, offset)},
	}
}

func restrictAlign(a ir.Align, offset uint64) ir.Align {
	for a > 1 && offset%a.Bytes() != 0 {
		a >>= 1
	}
	return a
}

// wrapAddr reduces an address modulo the target pointer width.
func (m *Machine) wrapAddr(addr uint64) uint64 {
	bits := m.prog.Target.PtrBytes.Bytes() * 8
	if bits >= 64 {
		return addr
	}
	return addr & ((uint64(1) << bits) - 1)
}

// asInt and asPtr unwrap values whose shape well-formedness guarantees.
// A mismatch is an interpreter bug, not UB.
func asInt(v ir.Value) ir.Int {
	iv, ok := v.(ir.IntVal)
	if !ok {
		panic(fmt.Sprintf("machine: expected integer value, got %T", v))
	}
	return iv.V
}

func asPtr(v ir.Value) ir.Pointer {
	pv, ok := v.(ir.PtrVal)
	if !ok {
		panic(fmt.Sprintf("machine: expected pointer value, got %T", v))
	}
	return pv.P
}

func asBool(v ir.Value) bool {
	bv, ok := v.(ir.BoolVal)
	if !ok {
		panic(fmt.Sprintf("machine: expected boolean value, got %T", v))
	}
	return bv.B
}
