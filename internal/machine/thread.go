package machine

import (
	"errors"

	"github.com/minimach/minimach/internal/ir"
	"github.com/minimach/minimach/internal/mem"
	"github.com/minimach/minimach/internal/ub"
)

// Place is an addressable location: a pointer plus the place type the
// location is accessed at. Places reference into Memory; they do not own
// it, and deallocating the backing allocation invalidates them.
type Place struct {
	Ptr ir.Pointer
	Pty ir.PlaceType
}

// retAction records what the caller wants done with the return value.
type retAction struct {
	// place is the caller's reserved return place; nil in the outermost
	// frame of a thread.
	place *Place
	// next is the caller's continuation block; nil when the call site
	// declared no return continuation.
	next *ir.BBName
}

// frame is one stack frame: function identity, the live-local map, and a
// program counter. The statement index equal to the statement count
// denotes the terminator.
type frame struct {
	fn     ir.Function
	locals map[ir.LocalName]Place
	block  ir.BBName
	stmt   int
	ret    retAction
}

type threadState int

const (
	threadEnabled threadState = iota
	threadBlocked
	threadTerminated
)

// thread is one cooperatively interleaved thread: its own call stack and
// race-oracle clock over the shared Memory.
type thread struct {
	id         int
	stack      []*frame
	state      threadState
	joinTarget int
	clock      vclock
}

func newThread(id int) *thread {
	t := &thread{id: id, clock: vclock{}}
	t.clock.tick(id)
	return t
}

func (t *thread) top() *frame {
	if len(t.stack) == 0 {
		panic("machine: thread has no frames")
	}
	return t.stack[len(t.stack)-1]
}

// pushFrame builds a frame for fn: argument locals and the return local
// are allocated live, everything else starts dead. args carries the
// already-evaluated argument values in order; the ABI has been checked at
// the call site before this runs.
func (m *Machine) pushFrame(t *thread, fn ir.Function, args []ir.Value, ret retAction) (*frame, error) {
	f := &frame{
		fn:     fn,
		locals: make(map[ir.LocalName]Place),
		block:  fn.Start,
		stmt:   0,
		ret:    ret,
	}
	for i, name := range fn.Args {
		pl, err := m.allocLocal(t, fn, name)
		if err != nil {
			return nil, err
		}
		f.locals[name] = pl
		if err := m.typedStore(t, pl, args[i], false); err != nil {
			return nil, err
		}
	}
	pl, err := m.allocLocal(t, fn, fn.Ret)
	if err != nil {
		return nil, err
	}
	f.locals[fn.Ret] = pl
	return f, nil
}

func (m *Machine) allocLocal(t *thread, fn ir.Function, name ir.LocalName) (Place, error) {
	pty := fn.Locals[name]
	p, err := m.mem.Allocate(mem.AllocStack, pty.Ty.Size(m.prog.Target), pty.Align)
	if err != nil {
		return Place{}, err
	}
	return Place{Ptr: p, Pty: pty}, nil
}

// typedLoad moves a value out of memory through the representation
// relation: raw bytes via the injected Memory, then decode at the place's
// type. Bytes that do not decode are UB, never a partial value.
func (m *Machine) typedLoad(t *thread, pl Place, atomic bool) (ir.Value, error) {
	size := pl.Pty.Ty.Size(m.prog.Target)
	b, err := m.mem.Load(pl.Ptr, size, pl.Pty.Align)
	if err != nil {
		return nil, err
	}
	m.recordAccess(t, pl.Ptr.Addr, size.Bytes(), false, atomic)
	if err := m.raceCheck(t, pl.Ptr.Addr, size.Bytes(), false, atomic); err != nil {
		return nil, err
	}
	v, ok := m.codec.Decode(pl.Pty.Ty, b)
	if !ok {
		return nil, ub.Ub(ub.CodeInvalidValue,
			"loaded bytes at %#x are not a valid value of their type", pl.Ptr.Addr)
	}
	return v, nil
}

// typedStore is the dual: encode at the place's type, then raw store.
func (m *Machine) typedStore(t *thread, pl Place, v ir.Value, atomic bool) error {
	size := pl.Pty.Ty.Size(m.prog.Target)
	b := m.codec.Encode(pl.Pty.Ty, v)
	if err := m.mem.Store(pl.Ptr, b, pl.Pty.Align); err != nil {
		return err
	}
	m.recordAccess(t, pl.Ptr.Addr, size.Bytes(), true, atomic)
	return m.raceCheck(t, pl.Ptr.Addr, size.Bytes(), true, atomic)
}

func (m *Machine) recordAccess(t *thread, addr, size uint64, write, atomic bool) {
	if size == 0 {
		return
	}
	if m.rec != nil {
		m.rec.RecordAccess(t.id, addr, size, write, atomic)
	}
}

func asStop(err error) (*ub.Stop, bool) {
	var s *ub.Stop
	ok := errors.As(err, &s)
	return s, ok
}
