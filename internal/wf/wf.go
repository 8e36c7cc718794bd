// Package wf statically checks a program before execution: structural
// invariants (declared names, block targets, layout extents) and a typing
// pass that derives the static type of every value and place expression.
// Everything it rejects is ill-formed and never runs; a program that passes
// may still hit undefined behavior dynamically. The machine assumes a
// checked program and never re-derives these facts.
package wf

import (
	"fmt"
	"sort"

	"github.com/minimach/minimach/internal/ir"
	"github.com/minimach/minimach/internal/ub"
)

var intSizes = map[ir.Size]bool{1: true, 2: true, 4: true, 8: true, 16: true}

// Check validates prog, returning an *ub.IllFormed diagnostic on the first
// violation found.
func Check(prog *ir.Program) error {
	c := &checker{prog: prog}
	return c.program()
}

type checker struct {
	prog *ir.Program
}

func (c *checker) program() error {
	if c.prog.Target.PtrBytes == 0 || !powerOfTwo(c.prog.Target.PtrBytes.Bytes()) {
		return ub.Illf("target", "pointer width %d is not a power of two",
			c.prog.Target.PtrBytes.Bytes())
	}
	if !powerOfTwo(c.prog.Target.PtrAlign.Bytes()) {
		return ub.Illf("target", "pointer alignment %d is not a power of two",
			c.prog.Target.PtrAlign.Bytes())
	}
	if _, ok := c.prog.Functions[c.prog.Start]; !ok {
		return ub.Illf("program", "start function %q is not defined", c.prog.Start)
	}
	for name, g := range c.prog.Globals {
		if g.Init != nil && uint64(len(g.Init)) != g.Size.Bytes() {
			return ub.Illf("global "+string(name),
				"initializer has %d bytes, allocation has %d", len(g.Init), g.Size.Bytes())
		}
		if !powerOfTwo(g.Align.Bytes()) {
			return ub.Illf("global "+string(name),
				"alignment %d is not a power of two", g.Align.Bytes())
		}
	}
	for name, fn := range c.prog.Functions {
		if fn.Name != name {
			return ub.Illf("fn "+string(name), "declared under mismatched name %q", fn.Name)
		}
		if err := c.function(fn); err != nil {
			return err
		}
	}
	return nil
}

func (c *checker) function(fn ir.Function) error {
	where := "fn " + string(fn.Name)
	if _, ok := fn.Blocks[fn.Start]; !ok {
		return ub.Illf(where, "start block %q is not defined", fn.Start)
	}
	seen := map[ir.LocalName]bool{}
	for _, a := range fn.Args {
		if seen[a] {
			return ub.Illf(where, "argument local %q repeats", a)
		}
		seen[a] = true
		if _, ok := fn.Locals[a]; !ok {
			return ub.Illf(where, "argument local %q is not declared", a)
		}
	}
	if _, ok := fn.Locals[fn.Ret]; !ok {
		return ub.Illf(where, "return local %q is not declared", fn.Ret)
	}
	for name, pty := range fn.Locals {
		lw := fmt.Sprintf("%s / local %s", where, name)
		if err := c.placeType(lw, pty); err != nil {
			return err
		}
	}
	for name, bb := range fn.Blocks {
		bw := fmt.Sprintf("%s / bb %s", where, name)
		for i, st := range bb.Statements {
			if err := c.statement(fmt.Sprintf("%s / stmt %d", bw, i), fn, st); err != nil {
				return err
			}
		}
		if err := c.terminator(bw+" / terminator", fn, bb.Terminator); err != nil {
			return err
		}
	}
	return nil
}

func (c *checker) placeType(where string, pty ir.PlaceType) error {
	if !powerOfTwo(pty.Align.Bytes()) {
		return ub.Illf(where, "alignment %d is not a power of two", pty.Align.Bytes())
	}
	return c.typ(where, pty.Ty)
}

// typ checks the layout invariants of a type: valid scalar widths, extents
// inside the declared size, non-overlapping tuple fields and union chunks,
// and a tag field disjoint from every enum payload.
func (c *checker) typ(where string, t ir.Type) error {
	switch ty := t.(type) {
	case nil:
		return ub.Illf(where, "missing type")
	case ir.IntType:
		if !intSizes[ty.Bytes] {
			return ub.Illf(where, "invalid integer width %d", ty.Bytes.Bytes())
		}
	case ir.BoolType:
	case ir.PtrType:
		switch ty.Kind {
		case ir.PtrRef, ir.PtrBox:
			if ty.Meta == nil {
				return ub.Illf(where, "safe pointer kind %s has no pointee layout", ty.Kind)
			}
			if !powerOfTwo(ty.Meta.PointeeAlign.Bytes()) {
				return ub.Illf(where, "pointee alignment %d is not a power of two",
					ty.Meta.PointeeAlign.Bytes())
			}
		case ir.PtrRaw, ir.PtrFn:
			if ty.Meta != nil {
				return ub.Illf(where, "pointer kind %s carries a pointee layout", ty.Kind)
			}
		default:
			return ub.Illf(where, "unknown pointer kind %d", ty.Kind)
		}
	case ir.TupleType:
		return c.tuple(where, ty)
	case ir.ArrayType:
		return c.typ(where+" / elem", ty.Elem)
	case ir.UnionType:
		return c.union(where, ty)
	case ir.EnumType:
		return c.enum(where, ty)
	default:
		return ub.Illf(where, "unknown type %T", t)
	}
	return nil
}

func (c *checker) tuple(where string, ty ir.TupleType) error {
	type extent struct{ lo, hi uint64 }
	exts := make([]extent, 0, len(ty.Fields))
	for i, f := range ty.Fields {
		fw := fmt.Sprintf("%s / field %d", where, i)
		if err := c.typ(fw, f.Ty); err != nil {
			return err
		}
		end := f.Offset.Bytes() + f.Ty.Size(c.prog.Target).Bytes()
		if end > ty.TupleSize.Bytes() {
			return ub.Illf(fw, "field extends to byte %d past tuple size %d",
				end, ty.TupleSize.Bytes())
		}
		exts = append(exts, extent{f.Offset.Bytes(), end})
	}
	sort.Slice(exts, func(i, j int) bool { return exts[i].lo < exts[j].lo })
	for i := 1; i < len(exts); i++ {
		if exts[i].lo < exts[i-1].hi {
			return ub.Illf(where, "fields overlap at byte %d", exts[i].lo)
		}
	}
	return nil
}

func (c *checker) union(where string, ty ir.UnionType) error {
	type extent struct{ lo, hi uint64 }
	exts := make([]extent, 0, len(ty.Chunks))
	for i, ch := range ty.Chunks {
		end := ch.Offset.Bytes() + ch.Length.Bytes()
		if end > ty.UnionSize.Bytes() {
			return ub.Illf(fmt.Sprintf("%s / chunk %d", where, i),
				"chunk extends to byte %d past union size %d", end, ty.UnionSize.Bytes())
		}
		exts = append(exts, extent{ch.Offset.Bytes(), end})
	}
	sort.Slice(exts, func(i, j int) bool { return exts[i].lo < exts[j].lo })
	for i := 1; i < len(exts); i++ {
		if exts[i].lo < exts[i-1].hi {
			return ub.Illf(where, "chunks overlap at byte %d", exts[i].lo)
		}
	}
	return nil
}

func (c *checker) enum(where string, ty ir.EnumType) error {
	if ty.Encoding != ir.TagDirect {
		return ub.Illf(where, "niche tag encoding is not supported")
	}
	if !intSizes[ty.TagBytes] {
		return ub.Illf(where, "invalid tag width %d", ty.TagBytes.Bytes())
	}
	tagLo := ty.TagOffset.Bytes()
	tagHi := tagLo + ty.TagBytes.Bytes()
	if tagHi > ty.EnumSize.Bytes() {
		return ub.Illf(where, "tag extends to byte %d past enum size %d",
			tagHi, ty.EnumSize.Bytes())
	}
	seen := map[string]bool{}
	for i, v := range ty.Variants {
		vw := fmt.Sprintf("%s / variant %d", where, i)
		if !v.Tag.InBounds(ty.TagSig, ty.TagBytes) {
			return ub.Illf(vw, "tag %s does not fit the tag field", v.Tag)
		}
		if seen[v.Tag.String()] {
			return ub.Illf(vw, "tag %s repeats", v.Tag)
		}
		seen[v.Tag.String()] = true
		if err := c.typ(vw, v.Payload); err != nil {
			return err
		}
		psize := v.Payload.Size(c.prog.Target).Bytes()
		if psize > ty.EnumSize.Bytes() {
			return ub.Illf(vw, "payload of %d bytes exceeds enum size %d",
				psize, ty.EnumSize.Bytes())
		}
		// Payloads encode from offset zero; the tag field must not be
		// clobbered by any of them.
		if psize > 0 && tagLo < psize && tagHi > 0 {
			return ub.Illf(vw, "tag field overlaps the payload encoding")
		}
	}
	return nil
}

func (c *checker) statement(where string, fn ir.Function, st ir.Statement) error {
	switch s := st.(type) {
	case ir.Assign:
		src, err := c.exprType(where, fn, s.Src)
		if err != nil {
			return err
		}
		dst, err := c.place(where, fn, s.Dest)
		if err != nil {
			return err
		}
		if !ir.Compatible(src, dst.Ty) {
			return ub.Illf(where, "assigned value is incompatible with the destination type")
		}
		return nil
	case ir.PlaceMention:
		_, err := c.place(where, fn, s.Place)
		return err
	case ir.Validate:
		_, err := c.place(where, fn, s.Place)
		return err
	case ir.StorageLive:
		return c.local(where, fn, s.Local)
	case ir.StorageDead:
		return c.local(where, fn, s.Local)
	case nil:
		return ub.Illf(where, "missing statement")
	}
	return ub.Illf(where, "unknown statement %T", st)
}

func (c *checker) terminator(where string, fn ir.Function, tm ir.Terminator) error {
	switch t := tm.(type) {
	case ir.Goto:
		return c.block(where, fn, t.Target)
	case ir.If:
		ty, err := c.exprType(where, fn, t.Cond)
		if err != nil {
			return err
		}
		if _, ok := ty.(ir.BoolType); !ok {
			return ub.Illf(where, "if condition is not a boolean")
		}
		if err := c.block(where, fn, t.Then); err != nil {
			return err
		}
		return c.block(where, fn, t.Else)
	case ir.SwitchInt:
		ty, err := c.exprType(where, fn, t.Value)
		if err != nil {
			return err
		}
		if !isInt(ty) {
			return ub.Illf(where, "switch discriminant is not an integer")
		}
		seen := map[string]bool{}
		for _, cs := range t.Cases {
			if seen[cs.Val.String()] {
				return ub.Illf(where, "switch case %s repeats", cs.Val)
			}
			seen[cs.Val.String()] = true
			if err := c.block(where, fn, cs.Target); err != nil {
				return err
			}
		}
		return c.block(where, fn, t.Fallback)
	case ir.Unreachable:
		return nil
	case ir.Call:
		ty, err := c.exprType(where, fn, t.Callee)
		if err != nil {
			return err
		}
		if _, ok := ty.(ir.PtrType); !ok {
			return ub.Illf(where, "callee is not pointer-typed")
		}
		for _, a := range t.Args {
			if _, err := c.exprType(where, fn, a); err != nil {
				return err
			}
		}
		if t.Ret == nil {
			return ub.Illf(where, "call has no return place")
		}
		if _, err := c.place(where, fn, t.Ret); err != nil {
			return err
		}
		if t.Next != nil {
			return c.block(where, fn, *t.Next)
		}
		return nil
	case ir.Return:
		return nil
	case ir.Intrinsic:
		return c.intrinsic(where, fn, t)
	case nil:
		return ub.Illf(where, "missing terminator")
	}
	return ub.Illf(where, "unknown terminator %T", tm)
}

func (c *checker) intrinsic(where string, fn ir.Function, t ir.Intrinsic) error {
	if t.Op.String() == "?" {
		return ub.Illf(where, "unknown intrinsic %d", t.Op)
	}
	argTys := make([]ir.Type, len(t.Args))
	for i, a := range t.Args {
		ty, err := c.exprType(where, fn, a)
		if err != nil {
			return err
		}
		argTys[i] = ty
	}
	if t.Ret == nil {
		return ub.Illf(where, "intrinsic %s has no return place", t.Op)
	}
	ret, err := c.place(where, fn, t.Ret)
	if err != nil {
		return err
	}
	if err := c.intrinsicTypes(where, t.Op, argTys, ret.Ty); err != nil {
		return err
	}
	if t.Op != ir.IntrinsicExit && t.Next == nil {
		return ub.Illf(where, "non-halting intrinsic %s has no continuation block", t.Op)
	}
	if t.Next != nil {
		return c.block(where, fn, *t.Next)
	}
	return nil
}

// intrinsicTypes pins the return-place type of each intrinsic to the value
// the machine's table stores there. Arity stays a dynamic check; operand
// rules fire only when the operand is present.
func (c *checker) intrinsicTypes(where string, op ir.IntrinsicOp, args []ir.Type, ret ir.Type) error {
	switch op {
	case ir.IntrinsicPrintStdout, ir.IntrinsicPrintStderr, ir.IntrinsicDeallocate,
		ir.IntrinsicJoin, ir.IntrinsicAtomicStore:
		if !unitShaped(ret) {
			return ub.Illf(where,
				"intrinsic %s stores nothing; its return place must be a zero-field aggregate", op)
		}
	case ir.IntrinsicAllocate:
		if _, ok := ret.(ir.PtrType); !ok {
			return ub.Illf(where, "intrinsic %s returns a pointer", op)
		}
	case ir.IntrinsicSpawn:
		if !isInt(ret) {
			return ub.Illf(where, "intrinsic %s returns an integer thread id", op)
		}
	case ir.IntrinsicAtomicCompareExchange:
		if !isInt(ret) {
			return ub.Illf(where, "intrinsic %s returns an integer", op)
		}
		// The expected and replacement operands encode at the return type.
		for _, i := range []int{1, 2} {
			if i < len(args) && !ir.Compatible(args[i], ret) {
				return ub.Illf(where,
					"operand %d of %s is incompatible with its integer type", i, op)
			}
		}
	case ir.IntrinsicAtomicFetchAdd:
		if !isInt(ret) {
			return ub.Illf(where, "intrinsic %s returns an integer", op)
		}
		if len(args) > 1 && !isInt(args[1]) {
			return ub.Illf(where, "delta of %s is not an integer", op)
		}
	}
	return nil
}

// unitShaped reports whether a type holds the empty tuple the machine
// stores for intrinsics that return nothing.
func unitShaped(t ir.Type) bool {
	switch ty := t.(type) {
	case ir.TupleType:
		return len(ty.Fields) == 0
	case ir.ArrayType:
		return ty.Count == 0
	}
	return false
}

// exprType checks a value expression and derives its static type. The
// machine's evaluator unwraps values by the shapes derived here, so every
// rule below closes off one of its internal panics.
func (c *checker) exprType(where string, fn ir.Function, e ir.ValueExpr) (ir.Type, error) {
	switch ex := e.(type) {
	case ir.ConstInt:
		if err := c.typ(where, ex.Ty); err != nil {
			return nil, err
		}
		if !ex.V.InBounds(ex.Ty.Sig, ex.Ty.Bytes) {
			return nil, ub.Illf(where, "constant %s does not fit %s", ex.V, ex.Ty)
		}
		return ex.Ty, nil
	case ir.ConstBool:
		return ir.BoolType{}, nil
	case ir.ConstFn:
		if _, ok := c.prog.Functions[ex.Fn]; !ok {
			return nil, ub.Illf(where, "function %q is not defined", ex.Fn)
		}
		return ir.PtrType{Kind: ir.PtrFn}, nil
	case ir.ConstGlobal:
		g, ok := c.prog.Globals[ex.Global]
		if !ok {
			return nil, ub.Illf(where, "global %q is not defined", ex.Global)
		}
		if ex.Offset.Bytes() > g.Size.Bytes() {
			return nil, ub.Illf(where, "offset %d past global %q of %d bytes",
				ex.Offset.Bytes(), ex.Global, g.Size.Bytes())
		}
		return ir.PtrType{Kind: ir.PtrRaw}, nil
	case ir.TupleExpr:
		if err := c.typ(where, ex.Ty); err != nil {
			return nil, err
		}
		switch ty := ex.Ty.(type) {
		case ir.TupleType:
			if len(ex.Fields) != len(ty.Fields) {
				return nil, ub.Illf(where, "tuple literal has %d fields, type has %d",
					len(ex.Fields), len(ty.Fields))
			}
			for i, f := range ex.Fields {
				fty, err := c.exprType(where, fn, f)
				if err != nil {
					return nil, err
				}
				if !ir.Compatible(fty, ty.Fields[i].Ty) {
					return nil, ub.Illf(where, "tuple literal field %d has an incompatible type", i)
				}
			}
		case ir.ArrayType:
			if uint64(len(ex.Fields)) != ty.Count {
				return nil, ub.Illf(where, "array literal has %d elements, type has %d",
					len(ex.Fields), ty.Count)
			}
			for i, f := range ex.Fields {
				fty, err := c.exprType(where, fn, f)
				if err != nil {
					return nil, err
				}
				if !ir.Compatible(fty, ty.Elem) {
					return nil, ub.Illf(where, "array literal element %d has an incompatible type", i)
				}
			}
		default:
			return nil, ub.Illf(where, "tuple literal at non-aggregate type %T", ex.Ty)
		}
		return ex.Ty, nil
	case ir.VariantExpr:
		if err := c.typ(where, ex.Ty); err != nil {
			return nil, err
		}
		if ex.Idx < 0 || ex.Idx >= len(ex.Ty.Variants) {
			return nil, ub.Illf(where, "variant index %d out of range", ex.Idx)
		}
		ity, err := c.exprType(where, fn, ex.Inner)
		if err != nil {
			return nil, err
		}
		if !ir.Compatible(ity, ex.Ty.Variants[ex.Idx].Payload) {
			return nil, ub.Illf(where, "variant payload has an incompatible type")
		}
		return ex.Ty, nil
	case ir.Load:
		pty, err := c.place(where, fn, ex.Src)
		if err != nil {
			return nil, err
		}
		return pty.Ty, nil
	case ir.AddrOf:
		switch ex.Kind {
		case ir.PtrRef, ir.PtrBox:
			if ex.Meta == nil {
				return nil, ub.Illf(where, "safe address-of has no pointee layout")
			}
			if !powerOfTwo(ex.Meta.PointeeAlign.Bytes()) {
				return nil, ub.Illf(where, "pointee alignment %d is not a power of two",
					ex.Meta.PointeeAlign.Bytes())
			}
		case ir.PtrRaw:
			if ex.Meta != nil {
				return nil, ub.Illf(where, "raw address-of carries a pointee layout")
			}
		default:
			return nil, ub.Illf(where, "cannot take an address as pointer kind %s", ex.Kind)
		}
		if _, err := c.place(where, fn, ex.Place); err != nil {
			return nil, err
		}
		return ir.PtrType{Kind: ex.Kind, Meta: ex.Meta}, nil
	case ir.UnOp:
		return c.unOpType(where, fn, ex)
	case ir.BinOp:
		return c.binOpType(where, fn, ex)
	case nil:
		return nil, ub.Illf(where, "missing value expression")
	}
	return nil, ub.Illf(where, "unknown value expression %T", e)
}

func (c *checker) unOpType(where string, fn ir.Function, e ir.UnOp) (ir.Type, error) {
	ety, err := c.exprType(where, fn, e.E)
	if err != nil {
		return nil, err
	}
	switch e.Op {
	case ir.UnIntNeg, ir.UnIntCast:
		if err := c.typ(where, e.OpTy); err != nil {
			return nil, err
		}
		if !isInt(ety) {
			return nil, ub.Illf(where, "integer unary operand is not an integer")
		}
		return e.OpTy, nil
	case ir.UnPtr2Int:
		if err := c.typ(where, e.OpTy); err != nil {
			return nil, err
		}
		if _, ok := ety.(ir.PtrType); !ok {
			return nil, ub.Illf(where, "ptr2int operand is not a pointer")
		}
		return e.OpTy, nil
	case ir.UnInt2Ptr:
		if err := c.typ(where, e.PtrTy); err != nil {
			return nil, err
		}
		if !isInt(ety) {
			return nil, ub.Illf(where, "int2ptr operand is not an integer")
		}
		return e.PtrTy, nil
	}
	return nil, ub.Illf(where, "unknown unary operation %d", e.Op)
}

// binOpType types both operands. OpTy is only consulted by the ops that use
// it; comparisons and pointer offsets carry none.
func (c *checker) binOpType(where string, fn ir.Function, e ir.BinOp) (ir.Type, error) {
	lty, err := c.exprType(where, fn, e.L)
	if err != nil {
		return nil, err
	}
	rty, err := c.exprType(where, fn, e.R)
	if err != nil {
		return nil, err
	}
	switch e.Op {
	case ir.BinEq, ir.BinNe, ir.BinLt, ir.BinLe, ir.BinGt, ir.BinGe:
		if !isInt(lty) || !isInt(rty) {
			return nil, ub.Illf(where, "comparison of non-integer operands")
		}
		return ir.BoolType{}, nil
	case ir.BinPtrOffset:
		if _, ok := lty.(ir.PtrType); !ok {
			return nil, ub.Illf(where, "pointer offset of a non-pointer base")
		}
		if !isInt(rty) {
			return nil, ub.Illf(where, "pointer offset by a non-integer delta")
		}
		return lty, nil
	case ir.BinAdd, ir.BinSub, ir.BinMul, ir.BinDiv, ir.BinRem,
		ir.BinBitAnd, ir.BinBitOr, ir.BinBitXor:
		if err := c.typ(where, e.OpTy); err != nil {
			return nil, err
		}
		if !isInt(lty) || !isInt(rty) {
			return nil, ub.Illf(where, "arithmetic on a non-integer operand")
		}
		return e.OpTy, nil
	}
	return nil, ub.Illf(where, "unknown binary operation %d", e.Op)
}

// place checks a place expression and derives the type of the location it
// names. Field and index projections must match the base type's shape; the
// dynamic checks only cover liveness and bounds.
func (c *checker) place(where string, fn ir.Function, p ir.PlaceExpr) (ir.PlaceType, error) {
	switch pe := p.(type) {
	case ir.PlaceLocal:
		pty, ok := fn.Locals[pe.Name]
		if !ok {
			return ir.PlaceType{}, ub.Illf(where, "local %q is not declared", pe.Name)
		}
		return pty, nil
	case ir.PlaceDeref:
		ty, err := c.exprType(where, fn, pe.Ptr)
		if err != nil {
			return ir.PlaceType{}, err
		}
		if _, ok := ty.(ir.PtrType); !ok {
			return ir.PlaceType{}, ub.Illf(where, "dereference of a non-pointer")
		}
		if err := c.placeType(where, pe.Pty); err != nil {
			return ir.PlaceType{}, err
		}
		return pe.Pty, nil
	case ir.PlaceField:
		base, err := c.place(where, fn, pe.Base)
		if err != nil {
			return ir.PlaceType{}, err
		}
		tt, ok := base.Ty.(ir.TupleType)
		if !ok {
			return ir.PlaceType{}, ub.Illf(where, "field access on a non-tuple place")
		}
		if pe.Idx < 0 || pe.Idx >= len(tt.Fields) {
			return ir.PlaceType{}, ub.Illf(where,
				"field index %d out of range of a tuple with %d fields", pe.Idx, len(tt.Fields))
		}
		return ir.PlaceType{Ty: tt.Fields[pe.Idx].Ty, Align: base.Align}, nil
	case ir.PlaceIndex:
		base, err := c.place(where, fn, pe.Base)
		if err != nil {
			return ir.PlaceType{}, err
		}
		at, ok := base.Ty.(ir.ArrayType)
		if !ok {
			return ir.PlaceType{}, ub.Illf(where, "index access on a non-array place")
		}
		ity, err := c.exprType(where, fn, pe.Index)
		if err != nil {
			return ir.PlaceType{}, err
		}
		if !isInt(ity) {
			return ir.PlaceType{}, ub.Illf(where, "index is not an integer")
		}
		return ir.PlaceType{Ty: at.Elem, Align: ir.Align1}, nil
	case nil:
		return ir.PlaceType{}, ub.Illf(where, "missing place expression")
	}
	return ir.PlaceType{}, ub.Illf(where, "unknown place expression %T", p)
}

func isInt(t ir.Type) bool {
	_, ok := t.(ir.IntType)
	return ok
}

func (c *checker) local(where string, fn ir.Function, name ir.LocalName) error {
	if _, ok := fn.Locals[name]; !ok {
		return ub.Illf(where, "local %q is not declared", name)
	}
	return nil
}

func (c *checker) block(where string, fn ir.Function, name ir.BBName) error {
	if _, ok := fn.Blocks[name]; !ok {
		return ub.Illf(where, "target block %q is not defined", name)
	}
	return nil
}

func powerOfTwo(n uint64) bool { return n != 0 && n&(n-1) == 0 }
