package machine

import (
	"fmt"

	"github.com/minimach/minimach/internal/ir"
	"github.com/minimach/minimach/internal/ub"
)

func (m *Machine) execTerminator(t *thread, f *frame, term ir.Terminator) error {
	switch tm := term.(type) {
	case ir.Goto:
		f.jump(tm.Target)
		return nil

	case ir.If:
		v, err := m.evalValue(t, f, tm.Cond)
		if err != nil {
			return err
		}
		if asBool(v) {
			f.jump(tm.Then)
		} else {
			f.jump(tm.Else)
		}
		return nil

	case ir.SwitchInt:
		v, err := m.evalValue(t, f, tm.Value)
		if err != nil {
			return err
		}
		n := asInt(v)
		for _, c := range tm.Cases {
			if n.Eq(c.Val) {
				f.jump(c.Target)
				return nil
			}
		}
		f.jump(tm.Fallback)
		return nil

	case ir.Unreachable:
		return ub.Ub(ub.CodeUnreachable, "executing the unreachable terminator")

	case ir.Call:
		return m.execCall(t, f, tm)

	case ir.Return:
		return m.execReturn(t)

	case ir.Intrinsic:
		return m.execIntrinsic(t, f, tm)
	}
	panic(fmt.Sprintf("machine: unknown terminator %T", term))
}

func (f *frame) jump(bb ir.BBName) {
	f.block = bb
	f.stmt = 0
}

// execCall implements the call protocol: evaluate the return place, then
// the callee pointer, then the arguments, strictly left to right; check
// calling convention and per-argument/return ABI structurally; push a
// fresh frame with arguments copied at the caller's static types.
// A mismatch is UB before the callee body runs, never a silent coercion.
func (m *Machine) execCall(t *thread, f *frame, c ir.Call) error {
	retPl, err := m.evalPlace(t, f, c.Ret)
	if err != nil {
		return err
	}

	calleeV, err := m.evalValue(t, f, c.Callee)
	if err != nil {
		return err
	}
	fn, err := m.resolveFn(asPtr(calleeV))
	if err != nil {
		return err
	}

	args := make([]ir.Value, len(c.Args))
	argTys := make([]ir.Type, len(c.Args))
	for i, ae := range c.Args {
		argTys[i] = m.staticType(f, ae)
		args[i], err = m.evalValue(t, f, ae)
		if err != nil {
			return err
		}
	}

	if c.Conv != fn.Conv {
		return ub.Ub(ub.CodeAbiMismatch,
			"calling %s with convention %d, declared %d", fn.Name, c.Conv, fn.Conv)
	}
	if len(args) != len(fn.Args) {
		return ub.Ub(ub.CodeAbiMismatch,
			"calling %s with %d arguments, declared %d", fn.Name, len(args), len(fn.Args))
	}
	for i, name := range fn.Args {
		if !ir.Compatible(argTys[i], fn.Locals[name].Ty) {
			return ub.Ub(ub.CodeAbiMismatch,
				"argument %d of call to %s: caller passes an incompatible type", i, fn.Name)
		}
	}
	if !ir.Compatible(retPl.Pty.Ty, fn.Locals[fn.Ret].Ty) {
		return ub.Ub(ub.CodeAbiMismatch,
			"return type of call to %s is incompatible with the caller's return place", fn.Name)
	}

	nf, err := m.pushFrame(t, fn, args, retAction{place: &retPl, next: c.Next})
	if err != nil {
		return err
	}
	// The caller resumes past the terminator; the continuation block is
	// recorded in the callee's retAction.
	t.stack = append(t.stack, nf)
	return nil
}

// execReturn implements the return protocol: load the return value at the
// callee's static type, deallocate remaining live locals, pop the frame.
// The outermost frame of the main thread must leave through the exit
// intrinsic; spawned threads terminate on outermost return.
func (m *Machine) execReturn(t *thread) error {
	f := t.top()
	retLocal, live := f.locals[f.fn.Ret]
	if !live {
		return ub.Ub(ub.CodeDeadLocal, "returning with a dead return local")
	}
	v, err := m.typedLoad(t, retLocal, false)
	if err != nil {
		return err
	}
	for name, pl := range f.locals {
		if err := m.mem.Deallocate(pl.Ptr, pl.Pty.Ty.Size(m.prog.Target), pl.Pty.Align); err != nil {
			return fmt.Errorf("deallocating local %s on return: %w", name, err)
		}
	}
	t.stack = t.stack[:len(t.stack)-1]

	if len(t.stack) == 0 {
		if t.id == 0 {
			return ub.Ub(ub.CodeBadReturn,
				"returning from the start function without the exit intrinsic")
		}
		t.state = threadTerminated
		return nil
	}

	if f.ret.place != nil {
		if err := m.typedStore(t, *f.ret.place, v, false); err != nil {
			return err
		}
	}
	if f.ret.next == nil {
		return ub.Ub(ub.CodeBadReturn, "returning to a call site with no continuation block")
	}
	t.top().jump(*f.ret.next)
	return nil
}

// resolveFn maps a function pointer back to its Function.
func (m *Machine) resolveFn(p ir.Pointer) (ir.Function, error) {
	name, ok := m.fnAt[p.Addr]
	if !ok {
		return ir.Function{}, ub.Ub(ub.CodeAbiMismatch,
			"calling %#x, which is not a function address", p.Addr)
	}
	fn, ok := m.prog.Func(name)
	if !ok {
		panic(fmt.Sprintf("machine: function table names unknown function %q", name))
	}
	return fn, nil
}

// staticType derives the caller-side static type of a value expression.
// Well-formedness guarantees the derivation succeeds.
func (m *Machine) staticType(f *frame, e ir.ValueExpr) ir.Type {
	switch ex := e.(type) {
	case ir.ConstInt:
		return ex.Ty
	case ir.ConstBool:
		return ir.BoolType{}
	case ir.ConstFn:
		return ir.PtrType{Kind: ir.PtrFn}
	case ir.ConstGlobal:
		return ir.PtrType{Kind: ir.PtrRaw}
	case ir.TupleExpr:
		return ex.Ty
	case ir.VariantExpr:
		return ex.Ty
	case ir.Load:
		return m.staticPlaceType(f, ex.Src).Ty
	case ir.AddrOf:
		return ir.PtrType{Kind: ex.Kind, Meta: ex.Meta}
	case ir.UnOp:
		if ex.Op == ir.UnInt2Ptr {
			return ex.PtrTy
		}
		return ex.OpTy
	case ir.BinOp:
		switch ex.Op {
		case ir.BinEq, ir.BinNe, ir.BinLt, ir.BinLe, ir.BinGt, ir.BinGe:
			return ir.BoolType{}
		case ir.BinPtrOffset:
			return m.staticType(f, ex.L)
		default:
			return ex.OpTy
		}
	}
	panic(fmt.Sprintf("machine: unknown value expression %T", e))
}

func (m *Machine) staticPlaceType(f *frame, p ir.PlaceExpr) ir.PlaceType {
	switch pe := p.(type) {
	case ir.PlaceLocal:
		return f.fn.Locals[pe.Name]
	case ir.PlaceDeref:
		return pe.Pty
	case ir.PlaceField:
		base := m.staticPlaceType(f, pe.Base)
		tt := base.Ty.(ir.TupleType)
		fld := tt.Fields[pe.Idx]
		return ir.PlaceType{Ty: fld.Ty, Align: restrictAlign(base.Align, fld.Offset.Bytes())}
	case ir.PlaceIndex:
		base := m.staticPlaceType(f, pe.Base)
		at := base.Ty.(ir.ArrayType)
		return ir.PlaceType{Ty: at.Elem, Align: ir.Align1}
	}
	panic(fmt.Sprintf("machine: unknown place expression %T", p))
}
