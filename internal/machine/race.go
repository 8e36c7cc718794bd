package machine

import (
	"github.com/minimach/minimach/internal/ub"
)

// vclock is a vector clock over thread ids. The race oracle uses
// happens-before derived from program order, spawn, join, and
// same-location atomic release/acquire pairs.
type vclock map[int]uint64

func (v vclock) tick(id int) {
	v[id]++
}

func (v vclock) clone() vclock {
	out := make(vclock, len(v))
	for k, c := range v {
		out[k] = c
	}
	return out
}

// join folds o into v pointwise.
func (v vclock) join(o vclock) {
	for k, c := range o {
		if c > v[k] {
			v[k] = c
		}
	}
}

// leq reports whether v happened-before-or-equals o.
func (v vclock) leq(o vclock) bool {
	for k, c := range v {
		if c > o[k] {
			return false
		}
	}
	return true
}

// access is one recorded memory access of a scheduled thread's step.
type access struct {
	thread int
	clock  vclock // snapshot at the access
	start  uint64
	end    uint64
	write  bool
	atomic bool
}

func (a *access) overlaps(start, end uint64) bool {
	return a.start < end && start < a.end
}

// raceOracle accumulates the accesses of all threads and flags any pair of
// overlapping accesses from different, unsynchronized threads where at
// least one is a write and at least one is non-atomic. Detecting such a
// pair is UB.
//
// Synchronization edges come from the machine: spawn and join merge thread
// clocks directly; atomic accesses release into and acquire from a
// per-location clock via syncRelease/syncAcquire.
type raceOracle struct {
	history []access
	atomics map[uint64]vclock // release clocks per atomic location
}

func newRaceOracle() *raceOracle {
	return &raceOracle{atomics: make(map[uint64]vclock)}
}

// syncRelease publishes the thread's clock at an atomic location.
func (o *raceOracle) syncRelease(addr uint64, clock vclock) {
	lc, ok := o.atomics[addr]
	if !ok {
		lc = vclock{}
		o.atomics[addr] = lc
	}
	lc.join(clock)
}

// syncAcquire folds an atomic location's release clock into the thread.
func (o *raceOracle) syncAcquire(addr uint64, clock vclock) {
	if lc, ok := o.atomics[addr]; ok {
		clock.join(lc)
	}
}

// check records the access and compares it against every access not
// ordered before the current thread's clock.
func (o *raceOracle) check(t *thread, start, size uint64, write, atomic bool) error {
	cur := access{
		thread: t.id,
		clock:  t.clock.clone(),
		start:  start,
		end:    start + size,
		write:  write,
		atomic: atomic,
	}
	for i := range o.history {
		prev := &o.history[i]
		if prev.thread == t.id || !prev.overlaps(cur.start, cur.end) {
			continue
		}
		if !prev.write && !cur.write {
			continue
		}
		if prev.atomic && cur.atomic {
			continue
		}
		if prev.clock.leq(t.clock) {
			continue // synchronized before this step
		}
		return ub.Ub(ub.CodeDataRace,
			"threads %d and %d race on [%#x, %#x)", prev.thread, t.id, cur.start, cur.end)
	}
	o.history = append(o.history, cur)
	return nil
}

// raceCheck feeds one successful access of thread t to the oracle. Atomic
// accesses synchronize through the location clock first: a store releases,
// a load acquires, and a read-modify-write does both (the machine calls
// this once per primitive access it performs).
func (m *Machine) raceCheck(t *thread, addr, size uint64, write, atomic bool) error {
	if size == 0 {
		return nil
	}
	if atomic {
		if !write {
			m.oracle.syncAcquire(addr, t.clock)
		}
		err := m.oracle.check(t, addr, size, write, atomic)
		if write {
			m.oracle.syncRelease(addr, t.clock)
		}
		return err
	}
	return m.oracle.check(t, addr, size, write, atomic)
}
