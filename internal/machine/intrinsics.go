package machine

import (
	"fmt"
	"strings"

	"github.com/minimach/minimach/internal/ir"
	"github.com/minimach/minimach/internal/ub"
)

// intrinsicFn executes one intrinsic after the common arity check. ret is
// the already-evaluated return place, args the evaluated arguments.
type intrinsicFn func(m *Machine, t *thread, f *frame, c ir.Intrinsic, ret Place, args []ir.Value) error

// intrinsicArity declares the accepted argument counts per intrinsic.
type intrinsicArity struct {
	min, max int // max < 0 means variadic
}

// intrinsics is the fixed, extensible tag-dispatched table. Each entry
// validates its argument types and size limits before delegating to the
// Memory interface.
var intrinsics = map[ir.IntrinsicOp]struct {
	arity intrinsicArity
	fn    intrinsicFn
}{
	ir.IntrinsicExit:                  {intrinsicArity{0, 1}, intrinsicExit},
	ir.IntrinsicPrintStdout:           {intrinsicArity{0, -1}, intrinsicPrint},
	ir.IntrinsicPrintStderr:           {intrinsicArity{0, -1}, intrinsicPrint},
	ir.IntrinsicAllocate:              {intrinsicArity{2, 2}, intrinsicAllocate},
	ir.IntrinsicDeallocate:            {intrinsicArity{3, 3}, intrinsicDeallocate},
	ir.IntrinsicSpawn:                 {intrinsicArity{2, 2}, intrinsicSpawn},
	ir.IntrinsicJoin:                  {intrinsicArity{1, 1}, intrinsicJoin},
	ir.IntrinsicAtomicLoad:            {intrinsicArity{1, 1}, intrinsicAtomicLoad},
	ir.IntrinsicAtomicStore:           {intrinsicArity{2, 2}, intrinsicAtomicStore},
	ir.IntrinsicAtomicCompareExchange: {intrinsicArity{3, 3}, intrinsicAtomicCompareExchange},
	ir.IntrinsicAtomicFetchAdd:        {intrinsicArity{2, 2}, intrinsicAtomicFetchAdd},
}

func (m *Machine) execIntrinsic(t *thread, f *frame, c ir.Intrinsic) error {
	entry, ok := intrinsics[c.Op]
	if !ok {
		panic(fmt.Sprintf("machine: unknown intrinsic %d", c.Op))
	}

	ret, err := m.evalPlace(t, f, c.Ret)
	if err != nil {
		return err
	}
	args := make([]ir.Value, len(c.Args))
	for i, ae := range c.Args {
		args[i], err = m.evalValue(t, f, ae)
		if err != nil {
			return err
		}
	}

	a := entry.arity
	if len(args) < a.min || (a.max >= 0 && len(args) > a.max) {
		return ub.Ub(ub.CodeBadIntrinsic,
			"intrinsic %s called with %d arguments", c.Op, len(args))
	}
	return entry.fn(m, t, f, c, ret, args)
}

// advance moves past a non-halting intrinsic call.
func (m *Machine) advance(t *thread, c ir.Intrinsic) error {
	if c.Next == nil {
		return ub.Ub(ub.CodeBadIntrinsic,
			"non-halting intrinsic %s has no continuation block", c.Op)
	}
	t.top().jump(*c.Next)
	return nil
}

// storeRet writes the intrinsic's result into the return place.
func (m *Machine) storeRet(t *thread, ret Place, v ir.Value) error {
	return m.typedStore(t, ret, v, false)
}

// unit is the zero-sized result of intrinsics that return nothing.
var unit = ir.TupleVal{}

// intrinsicExit halts the whole machine after a leak check: clean stop
// with the given code, or UB naming the leaked allocation.
func intrinsicExit(m *Machine, t *thread, f *frame, c ir.Intrinsic, ret Place, args []ir.Value) error {
	code := 0
	if len(args) == 1 {
		iv, ok := args[0].(ir.IntVal)
		if !ok {
			return ub.Ub(ub.CodeBadIntrinsic, "exit takes an integer code")
		}
		code = int(iv.V.Int64())
	}
	if err := m.mem.LeakCheck(); err != nil {
		return err
	}
	return &ub.Stop{ExitCode: code}
}

func intrinsicPrint(m *Machine, t *thread, f *frame, c ir.Intrinsic, ret Place, args []ir.Value) error {
	parts := make([]string, len(args))
	for i, v := range args {
		parts[i] = formatValue(v)
	}
	w := m.stdout
	if c.Op == ir.IntrinsicPrintStderr {
		w = m.stderr
	}
	fmt.Fprintln(w, strings.Join(parts, " "))
	if err := m.storeRet(t, ret, unit); err != nil {
		return err
	}
	return m.advance(t, c)
}

func intrinsicAllocate(m *Machine, t *thread, f *frame, c ir.Intrinsic, ret Place, args []ir.Value) error {
	size, ok1 := args[0].(ir.IntVal)
	alignV, ok2 := args[1].(ir.IntVal)
	if !ok1 || !ok2 || size.V.Sign() < 0 {
		return ub.Ub(ub.CodeBadIntrinsic, "allocate takes a non-negative size and an alignment")
	}
	if alignV.V.Sign() <= 0 || !alignV.V.InBounds(ir.Unsigned, 8) {
		return ub.Ub(ub.CodeBadIntrinsic, "allocate alignment out of range")
	}
	align, err := ir.NewAlign(alignV.V.Uint64())
	if err != nil {
		return ub.Ub(ub.CodeBadIntrinsic, "allocate alignment %s is not a power of two", alignV.V)
	}
	if !size.V.InBounds(ir.Unsigned, m.prog.Target.PtrBytes) {
		return ub.Ub(ub.CodeOutOfRange, "allocate size %s exceeds the pointer width", size.V)
	}
	p, err := m.heapAllocate(ir.Size(size.V.Uint64()), align)
	if err != nil {
		return err
	}
	if err := m.storeRet(t, ret, ir.PtrVal{P: p}); err != nil {
		return err
	}
	return m.advance(t, c)
}

func intrinsicDeallocate(m *Machine, t *thread, f *frame, c ir.Intrinsic, ret Place, args []ir.Value) error {
	p, ok1 := args[0].(ir.PtrVal)
	size, ok2 := args[1].(ir.IntVal)
	alignV, ok3 := args[2].(ir.IntVal)
	if !ok1 || !ok2 || !ok3 || size.V.Sign() < 0 {
		return ub.Ub(ub.CodeBadIntrinsic, "deallocate takes a pointer, a size and an alignment")
	}
	align, err := ir.NewAlign(alignV.V.Uint64())
	if err != nil {
		return ub.Ub(ub.CodeBadIntrinsic, "deallocate alignment %s is not a power of two", alignV.V)
	}
	if err := m.heapDeallocate(p.P, ir.Size(size.V.Uint64()), align); err != nil {
		return err
	}
	if err := m.storeRet(t, ret, unit); err != nil {
		return err
	}
	return m.advance(t, c)
}

// intrinsicSpawn starts a new thread running the pointed-to function with
// one raw-pointer argument, and returns the thread id.
func intrinsicSpawn(m *Machine, t *thread, f *frame, c ir.Intrinsic, ret Place, args []ir.Value) error {
	fp, ok := args[0].(ir.PtrVal)
	if !ok {
		return ub.Ub(ub.CodeBadIntrinsic, "spawn takes a function pointer")
	}
	data, ok := args[1].(ir.PtrVal)
	if !ok {
		return ub.Ub(ub.CodeBadIntrinsic, "spawn takes a raw data pointer")
	}
	fn, err := m.resolveFn(fp.P)
	if err != nil {
		return err
	}
	if len(fn.Args) != 1 {
		return ub.Ub(ub.CodeAbiMismatch,
			"spawned function %s must take exactly one argument", fn.Name)
	}
	if pt, ok := fn.Locals[fn.Args[0]].Ty.(ir.PtrType); !ok || pt.Kind != ir.PtrRaw {
		return ub.Ub(ub.CodeAbiMismatch,
			"spawned function %s must take a raw pointer", fn.Name)
	}

	nt := newThread(len(m.threads))
	// The child starts after everything the parent did so far.
	nt.clock.join(t.clock)
	nt.clock.tick(nt.id)
	nf, err := m.pushFrame(nt, fn, []ir.Value{data}, retAction{})
	if err != nil {
		return err
	}
	nt.stack = append(nt.stack, nf)
	m.threads = append(m.threads, nt)
	m.log.Debug("thread spawned", "thread", nt.id, "fn", string(fn.Name))

	if err := m.storeRet(t, ret, ir.IntVal{V: ir.NewInt(int64(nt.id))}); err != nil {
		return err
	}
	return m.advance(t, c)
}

// intrinsicJoin blocks until the target thread terminates, then
// synchronizes with everything it did.
func intrinsicJoin(m *Machine, t *thread, f *frame, c ir.Intrinsic, ret Place, args []ir.Value) error {
	iv, ok := args[0].(ir.IntVal)
	if !ok {
		return ub.Ub(ub.CodeBadIntrinsic, "join takes a thread id")
	}
	tid := iv.V
	if tid.Sign() < 0 || tid.Cmp(ir.NewInt(int64(len(m.threads)))) >= 0 {
		return ub.Ub(ub.CodeBadIntrinsic, "join of unknown thread %s", tid)
	}
	target := m.threads[tid.Int64()]
	if target.state != threadTerminated {
		// Suspension point: stay on this terminator; the scheduler
		// re-enables us once the target terminates.
		t.state = threadBlocked
		t.joinTarget = target.id
		return nil
	}
	t.state = threadEnabled
	t.clock.join(target.clock)
	if err := m.storeRet(t, ret, unit); err != nil {
		return err
	}
	return m.advance(t, c)
}

// atomicSizeOK enforces the size limits of atomic accesses: a power of two
// no larger than the pointer width.
func (m *Machine) atomicSizeOK(s ir.Size) bool {
	n := s.Bytes()
	return n > 0 && n&(n-1) == 0 && n <= m.prog.Target.PtrBytes.Bytes()
}

// atomicPlace builds the place of an atomic access: the pointed-to
// location at type ty, requiring natural (size) alignment.
func (m *Machine) atomicPlace(p ir.Pointer, ty ir.Type) (Place, error) {
	size := ty.Size(m.prog.Target)
	if !m.atomicSizeOK(size) {
		return Place{}, ub.Ub(ub.CodeBadIntrinsic,
			"atomic access of %d bytes is unsupported", size.Bytes())
	}
	return Place{Ptr: p, Pty: ir.PlaceType{Ty: ty, Align: ir.Align(size.Bytes())}}, nil
}

// intrinsicAtomicLoad loads at the return place's type.
func intrinsicAtomicLoad(m *Machine, t *thread, f *frame, c ir.Intrinsic, ret Place, args []ir.Value) error {
	p, ok := args[0].(ir.PtrVal)
	if !ok {
		return ub.Ub(ub.CodeBadIntrinsic, "atomic_load takes a pointer")
	}
	pl, err := m.atomicPlace(p.P, ret.Pty.Ty)
	if err != nil {
		return err
	}
	v, err := m.typedLoad(t, pl, true)
	if err != nil {
		return err
	}
	if err := m.storeRet(t, ret, v); err != nil {
		return err
	}
	return m.advance(t, c)
}

// intrinsicAtomicStore stores the value at its own type.
func intrinsicAtomicStore(m *Machine, t *thread, f *frame, c ir.Intrinsic, ret Place, args []ir.Value) error {
	p, ok := args[0].(ir.PtrVal)
	if !ok {
		return ub.Ub(ub.CodeBadIntrinsic, "atomic_store takes a pointer")
	}
	ty := m.staticType(f, c.Args[1])
	switch ty.(type) {
	case ir.IntType, ir.BoolType, ir.PtrType:
	default:
		return ub.Ub(ub.CodeBadIntrinsic, "atomic_store of a non-scalar value")
	}
	pl, err := m.atomicPlace(p.P, ty)
	if err != nil {
		return err
	}
	if err := m.typedStore(t, pl, args[1], true); err != nil {
		return err
	}
	if err := m.storeRet(t, ret, unit); err != nil {
		return err
	}
	return m.advance(t, c)
}

// intrinsicAtomicCompareExchange swaps in the new value if the current one
// equals the expected one; the old value is returned either way. The whole
// read-modify-write is one atomic access at the return place's type.
func intrinsicAtomicCompareExchange(m *Machine, t *thread, f *frame, c ir.Intrinsic, ret Place, args []ir.Value) error {
	p, ok := args[0].(ir.PtrVal)
	if !ok {
		return ub.Ub(ub.CodeBadIntrinsic, "atomic_compare_exchange takes a pointer")
	}
	if _, ok := ret.Pty.Ty.(ir.IntType); !ok {
		return ub.Ub(ub.CodeBadIntrinsic, "atomic_compare_exchange operates on integers")
	}
	pl, err := m.atomicPlace(p.P, ret.Pty.Ty)
	if err != nil {
		return err
	}
	old, err := m.typedLoad(t, pl, true)
	if err != nil {
		return err
	}
	if ir.ValueEq(old, args[1]) {
		if err := m.typedStore(t, pl, args[2], true); err != nil {
			return err
		}
	}
	if err := m.storeRet(t, ret, old); err != nil {
		return err
	}
	return m.advance(t, c)
}

// intrinsicAtomicFetchAdd atomically adds the delta and returns the old
// value, wrapping at the return place's integer type.
func intrinsicAtomicFetchAdd(m *Machine, t *thread, f *frame, c ir.Intrinsic, ret Place, args []ir.Value) error {
	p, ok := args[0].(ir.PtrVal)
	if !ok {
		return ub.Ub(ub.CodeBadIntrinsic, "atomic_fetch_add takes a pointer")
	}
	delta, ok := args[1].(ir.IntVal)
	if !ok {
		return ub.Ub(ub.CodeBadIntrinsic, "atomic_fetch_add takes an integer delta")
	}
	ity, ok := ret.Pty.Ty.(ir.IntType)
	if !ok {
		return ub.Ub(ub.CodeBadIntrinsic, "atomic_fetch_add operates on integers")
	}
	pl, err := m.atomicPlace(p.P, ity)
	if err != nil {
		return err
	}
	old, err := m.typedLoad(t, pl, true)
	if err != nil {
		return err
	}
	sum := asInt(old).Add(delta.V).Modulo(ity.Sig, ity.Bytes)
	if err := m.typedStore(t, pl, ir.IntVal{V: sum}, true); err != nil {
		return err
	}
	if err := m.storeRet(t, ret, old); err != nil {
		return err
	}
	return m.advance(t, c)
}

// formatValue renders a value for the print intrinsics.
func formatValue(v ir.Value) string {
	switch vv := v.(type) {
	case ir.IntVal:
		return vv.V.String()
	case ir.BoolVal:
		if vv.B {
			return "true"
		}
		return "false"
	case ir.PtrVal:
		return fmt.Sprintf("%#x", vv.P.Addr)
	case ir.TupleVal:
		parts := make([]string, len(vv.Fields))
		for i, fv := range vv.Fields {
			parts[i] = formatValue(fv)
		}
		return "(" + strings.Join(parts, ", ") + ")"
	case ir.VariantVal:
		return fmt.Sprintf("#%d(%s)", vv.Idx, formatValue(vv.Inner))
	case ir.BytesVal:
		return fmt.Sprintf("<%d bytes>", len(vv.Bytes))
	}
	return "?"
}
