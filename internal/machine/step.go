package machine

import (
	"fmt"

	"github.com/minimach/minimach/internal/ir"
	"github.com/minimach/minimach/internal/mem"
	"github.com/minimach/minimach/internal/ub"
)

// Step executes one statement-granular step of the given thread: the
// statement under the program counter, or the block's terminator when the
// counter is one past the last statement. Errors returned are terminal
// (UB or a machine stop); anything else is a successful step.
func (m *Machine) Step(id int) error {
	t := m.threads[id]
	if t.state == threadTerminated {
		panic(fmt.Sprintf("machine: scheduling terminated thread %d", id))
	}
	f := t.top()
	bb, ok := f.fn.Blocks[f.block]
	if !ok {
		panic(fmt.Sprintf("machine: block %q of %q survived well-formedness", f.block, f.fn.Name))
	}

	m.steps++
	t.clock.tick(t.id)
	if m.rec != nil {
		m.rec.RecordStep(t.id, f.fn.Name, f.block, f.stmt)
	}

	if f.stmt < len(bb.Statements) {
		st := bb.Statements[f.stmt]
		m.log.Debug("step", "thread", t.id, "fn", string(f.fn.Name),
			"block", string(f.block), "stmt", f.stmt)
		if err := m.execStatement(t, f, st); err != nil {
			return err
		}
		f.stmt++
		return nil
	}
	m.log.Debug("step", "thread", t.id, "fn", string(f.fn.Name),
		"block", string(f.block), "stmt", "terminator")
	return m.execTerminator(t, f, bb.Terminator)
}

func (m *Machine) execStatement(t *thread, f *frame, st ir.Statement) error {
	switch s := st.(type) {
	case ir.Assign:
		// Source first, then destination; the typed store does not
		// re-validate the stored value.
		v, err := m.evalValue(t, f, s.Src)
		if err != nil {
			return err
		}
		pl, err := m.evalPlace(t, f, s.Dest)
		if err != nil {
			return err
		}
		return m.typedStore(t, pl, v, false)

	case ir.PlaceMention:
		_, err := m.evalPlace(t, f, s.Place)
		return err

	case ir.Validate:
		pl, err := m.evalPlace(t, f, s.Place)
		if err != nil {
			return err
		}
		v, err := m.typedLoad(t, pl, false)
		if err != nil {
			return err
		}
		v, err = m.retagValue(v, pl.Pty.Ty, s.FnEntry)
		if err != nil {
			return err
		}
		return m.typedStore(t, pl, v, false)

	case ir.StorageLive:
		if _, live := f.locals[s.Local]; live {
			return ub.Ub(ub.CodeBadStorage, "StorageLive on already-live local %s", s.Local)
		}
		pl, err := m.allocLocal(t, f.fn, s.Local)
		if err != nil {
			return err
		}
		f.locals[s.Local] = pl
		return nil

	case ir.StorageDead:
		pl, live := f.locals[s.Local]
		if !live {
			return ub.Ub(ub.CodeBadStorage, "StorageDead on already-dead local %s", s.Local)
		}
		if err := m.mem.Deallocate(pl.Ptr, pl.Pty.Ty.Size(m.prog.Target), pl.Pty.Align); err != nil {
			return err
		}
		delete(f.locals, s.Local)
		return nil
	}
	panic(fmt.Sprintf("machine: unknown statement %T", st))
}

// retagValue applies the Retag hook to every safe pointer reachable in the
// value's type structure. Validate drives retagging through this.
func (m *Machine) retagValue(v ir.Value, ty ir.Type, fnEntry bool) (ir.Value, error) {
	switch tt := ty.(type) {
	case ir.PtrType:
		if tt.Kind != ir.PtrRef && tt.Kind != ir.PtrBox {
			return v, nil
		}
		p, err := m.mem.Retag(asPtr(v), *tt.Meta, fnEntry)
		if err != nil {
			return nil, err
		}
		return ir.PtrVal{P: p}, nil

	case ir.TupleType:
		tv := v.(ir.TupleVal)
		out := make([]ir.Value, len(tv.Fields))
		for i, fv := range tv.Fields {
			nv, err := m.retagValue(fv, tt.Fields[i].Ty, fnEntry)
			if err != nil {
				return nil, err
			}
			out[i] = nv
		}
		return ir.TupleVal{Fields: out}, nil

	case ir.ArrayType:
		tv := v.(ir.TupleVal)
		out := make([]ir.Value, len(tv.Fields))
		for i, fv := range tv.Fields {
			nv, err := m.retagValue(fv, tt.Elem, fnEntry)
			if err != nil {
				return nil, err
			}
			out[i] = nv
		}
		return ir.TupleVal{Fields: out}, nil

	case ir.EnumType:
		vv := v.(ir.VariantVal)
		nv, err := m.retagValue(vv.Inner, tt.Variants[vv.Idx].Payload, fnEntry)
		if err != nil {
			return nil, err
		}
		return ir.VariantVal{Idx: vv.Idx, Inner: nv}, nil
	}
	return v, nil
}

// heapAllocate and heapDeallocate back the allocate/deallocate intrinsics.
func (m *Machine) heapAllocate(size ir.Size, align ir.Align) (ir.Pointer, error) {
	return m.mem.Allocate(mem.AllocHeap, size, align)
}

func (m *Machine) heapDeallocate(p ir.Pointer, size ir.Size, align ir.Align) error {
	return m.mem.Deallocate(p, size, align)
}
