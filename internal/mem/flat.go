package mem

import (
	"fmt"

	"github.com/minimach/minimach/internal/ir"
	"github.com/minimach/minimach/internal/ub"
)

// allocation is one entry of the append-only allocation list. The entry's
// list position is its provenance identity.
type allocation struct {
	addr  uint64
	size  ir.Size
	align ir.Align
	kind  AllocKind
	live  bool
	bytes []ir.AbstractByte
}

// contains reports whether [addr, addr+size) lies inside the allocation.
// All bounds are last-byte inclusive so that an allocation ending at the
// very top of the address space does not wrap. Callers guarantee size >= 1.
func (a *allocation) contains(addr uint64, size uint64) bool {
	if a.size.Bytes() == 0 {
		return false
	}
	last := addr + size - 1
	if last < addr {
		return false
	}
	return addr >= a.addr && last <= a.addr+a.size.Bytes()-1
}

// FlatMemory is the reference Memory backend: a linear address space with
// allocation-id provenance and a pluggable daemonic address picker.
//
// Not safe for concurrent use; the machine serializes all memory traffic
// through its scheduler (one view per interleaved step).
type FlatMemory struct {
	tg     ir.Target
	picker AddressPicker
	allocs []allocation
}

// Option configures a FlatMemory.
type Option func(*FlatMemory)

// WithPicker replaces the default bump address picker.
func WithPicker(p AddressPicker) Option {
	return func(m *FlatMemory) { m.picker = p }
}

// NewFlat creates a FlatMemory for the given target.
func NewFlat(tg ir.Target, opts ...Option) *FlatMemory {
	m := &FlatMemory{tg: tg, picker: NewBumpPicker()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// addrSpaceMax returns the highest address representable at the target
// pointer width.
func (m *FlatMemory) addrSpaceMax() uint64 {
	bits := m.tg.PtrBytes.Bytes() * 8
	if bits >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << bits) - 1
}

// Allocate implements Memory.
func (m *FlatMemory) Allocate(kind AllocKind, size ir.Size, align ir.Align) (ir.Pointer, error) {
	if size.Bytes() > m.addrSpaceMax() {
		return ir.Pointer{}, ub.Ub(ub.CodeOutOfRange,
			"allocation of %d bytes exceeds the target pointer width", size.Bytes())
	}

	free := func(addr uint64) bool {
		if addr == 0 || !align.Aligned(addr) || addr > m.addrSpaceMax() {
			return false
		}
		if size.Bytes() == 0 {
			return true
		}
		// Last-byte-inclusive bounds: the allocation may end exactly at
		// the top of the address space.
		last := addr + size.Bytes() - 1
		if last < addr || last > m.addrSpaceMax() {
			return false
		}
		for i := range m.allocs {
			a := &m.allocs[i]
			if !a.live || a.size.Bytes() == 0 {
				continue
			}
			if addr <= a.addr+a.size.Bytes()-1 && a.addr <= last {
				return false
			}
		}
		return true
	}

	addr, ok := m.picker.Pick(size.Bytes(), align, free)
	if !ok {
		// No satisfying address means "no behavior". This is the
		// acknowledged OOM-modeling gap, surfaced rather than patched.
		return ir.Pointer{}, ub.Ub(ub.CodeOutOfRange,
			"no address satisfies allocate(%d, %d)", size.Bytes(), align.Bytes())
	}
	if !free(addr) {
		panic(fmt.Sprintf("mem: picker returned unsatisfying address %#x", addr))
	}

	prov := ir.Provenance{ID: uint64(len(m.allocs)), Valid: true}
	m.allocs = append(m.allocs, allocation{
		addr:  addr,
		size:  size,
		align: align,
		kind:  kind,
		live:  true,
		bytes: make([]ir.AbstractByte, size.Bytes()),
	})
	return ir.Pointer{Addr: addr, Prov: prov}, nil
}

// Deallocate implements Memory.
func (m *FlatMemory) Deallocate(p ir.Pointer, size ir.Size, align ir.Align) error {
	if p.Prov.None() {
		return ub.Ub(ub.CodeNoProvenance, "deallocating a pointer without provenance")
	}
	a := m.alloc(p.Prov)
	if !a.live {
		return ub.Ub(ub.CodeDoubleFree, "deallocating memory at %#x twice", p.Addr)
	}
	if p.Addr != a.addr {
		return ub.Ub(ub.CodeInvalidDealloc,
			"deallocating %#x, which is not the start of its allocation (%#x)", p.Addr, a.addr)
	}
	if size != a.size || align != a.align {
		return ub.Ub(ub.CodeInvalidDealloc,
			"deallocating with size %d, align %d, but allocation has size %d, align %d",
			size.Bytes(), align.Bytes(), a.size.Bytes(), a.align.Bytes())
	}
	a.live = false
	a.bytes = nil
	return nil
}

// Load implements Memory.
func (m *FlatMemory) Load(p ir.Pointer, n ir.Size, align ir.Align) ([]ir.AbstractByte, error) {
	a, off, err := m.check(p, n, align)
	if err != nil {
		return nil, err
	}
	out := make([]ir.AbstractByte, n.Bytes())
	if a != nil {
		copy(out, a.bytes[off:off+n.Bytes()])
	}
	return out, nil
}

// Store implements Memory.
func (m *FlatMemory) Store(p ir.Pointer, b []ir.AbstractByte, align ir.Align) error {
	a, off, err := m.check(p, ir.Size(len(b)), align)
	if err != nil {
		return err
	}
	if a != nil {
		copy(a.bytes[off:off+uint64(len(b))], b)
	}
	return nil
}

// Dereferenceable implements Memory.
func (m *FlatMemory) Dereferenceable(p ir.Pointer, size ir.Size, align ir.Align) error {
	_, _, err := m.check(p, size, align)
	return err
}

// Retag implements Memory. The reference backend has no aliasing model;
// retagging is a dereferenceability check at the pointee layout.
func (m *FlatMemory) Retag(p ir.Pointer, meta ir.PtrMeta, fnEntry bool) (ir.Pointer, error) {
	if err := m.Dereferenceable(p, meta.PointeeSize, meta.PointeeAlign); err != nil {
		return ir.Pointer{}, err
	}
	return p, nil
}

// LeakCheck implements Memory.
func (m *FlatMemory) LeakCheck() error {
	for i := range m.allocs {
		a := &m.allocs[i]
		if a.live && a.kind == AllocHeap {
			return ub.Ub(ub.CodeMemoryLeak,
				"heap allocation at %#x (%d bytes) still live at exit", a.addr, a.size.Bytes())
		}
	}
	return nil
}

// check is the single bounds/align/liveness routine backing Load, Store and
// Dereferenceable. It returns the allocation and the offset of p within it;
// both are zero for the always-successful zero-size case.
func (m *FlatMemory) check(p ir.Pointer, size ir.Size, align ir.Align) (*allocation, uint64, error) {
	if size.Bytes() == 0 {
		return nil, 0, nil
	}
	if p.Addr == 0 {
		return nil, 0, ub.Ub(ub.CodeOutOfBounds, "accessing memory at the null address")
	}
	if !align.Aligned(p.Addr) {
		return nil, 0, ub.Ub(ub.CodeMisaligned,
			"address %#x is insufficiently aligned for an alignment-%d access", p.Addr, align.Bytes())
	}
	if p.Prov.None() {
		return nil, 0, ub.Ub(ub.CodeNoProvenance,
			"non-zero-size access through a pointer without provenance")
	}
	a := m.alloc(p.Prov)
	if !a.live {
		return nil, 0, ub.Ub(ub.CodeUseAfterFree, "memory at %#x accessed after deallocation", p.Addr)
	}
	if !a.contains(p.Addr, size.Bytes()) {
		return nil, 0, ub.Ub(ub.CodeOutOfBounds,
			"access of %d bytes at %#x is out of bounds of its %d-byte allocation at %#x",
			size.Bytes(), p.Addr, a.size.Bytes(), a.addr)
	}
	return a, p.Addr - a.addr, nil
}

// alloc resolves a provenance token to its allocation. Provenance tokens
// are only minted by Allocate, so an unknown id is an interpreter bug.
func (m *FlatMemory) alloc(prov ir.Provenance) *allocation {
	if prov.ID >= uint64(len(m.allocs)) {
		panic(fmt.Sprintf("mem: provenance token %d does not name an allocation", prov.ID))
	}
	return &m.allocs[prov.ID]
}

// LiveRanges returns the [start, end) ranges of all live allocations.
// Used by tests asserting allocator exclusivity.
func (m *FlatMemory) LiveRanges() [][2]uint64 {
	var out [][2]uint64
	for i := range m.allocs {
		a := &m.allocs[i]
		if a.live {
			out = append(out, [2]uint64{a.addr, a.addr + a.size.Bytes()})
		}
	}
	return out
}

// AllocationBase returns the base address and liveness of the allocation a
// provenance token names. Used by the machine's int-to-pointer predictor.
func (m *FlatMemory) AllocationBase(prov ir.Provenance) (addr uint64, size ir.Size, live bool) {
	if prov.None() || prov.ID >= uint64(len(m.allocs)) {
		return 0, 0, false
	}
	a := &m.allocs[prov.ID]
	return a.addr, a.size, a.live
}
