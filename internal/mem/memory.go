// Package mem defines the abstract, untyped, byte-oriented memory contract
// the machine executes against, and a reference backend implementing it.
//
// The machine is generic over the Memory interface; nothing in the core
// hard-wires FlatMemory. An aliasing-enforcement layer can wrap any Memory
// to refine Retag outcomes.
package mem

import (
	"github.com/minimach/minimach/internal/ir"
)

// AllocKind records what an allocation backs. The leak check at machine
// exit only counts live heap allocations.
type AllocKind int

const (
	AllocStack AllocKind = iota
	AllocHeap
	AllocGlobal
)

// String returns a short name for the allocation kind.
func (k AllocKind) String() string {
	switch k {
	case AllocStack:
		return "stack"
	case AllocHeap:
		return "heap"
	case AllocGlobal:
		return "global"
	}
	return "?"
}

// Memory is the contract every backend must satisfy. Every method either
// succeeds or returns a *ub.Undefined; Allocate may additionally range over
// the backend's daemonic address choice.
//
// Bytes move verbatim: Load and Store never reinterpret, strip or attach
// provenance. The representation relation is the only typed layer.
type Memory interface {
	// Allocate returns a pointer with fresh provenance to size uninitialized
	// bytes at a strictly positive, align-aligned address whose range
	// overlaps no live allocation. It fails if size cannot fit the target's
	// pointer width, or if the daemonic address choice is exhausted.
	Allocate(kind AllocKind, size ir.Size, align ir.Align) (ir.Pointer, error)

	// Deallocate ends an allocation's liveness. It fails if ptr lacks
	// provenance, the allocation is dead (double free), the address is not
	// the allocation start, or size/align mismatch what Allocate recorded
	// (mismatched deallocator).
	Deallocate(p ir.Pointer, size ir.Size, align ir.Align) error

	// Load reads n bytes if the range is dereferenceable.
	Load(p ir.Pointer, n ir.Size, align ir.Align) ([]ir.AbstractByte, error)

	// Store writes the bytes if the range is dereferenceable.
	Store(p ir.Pointer, b []ir.AbstractByte, align ir.Align) error

	// Dereferenceable succeeds iff the address is nonzero, align-aligned,
	// carries provenance into a live allocation, and [addr, addr+size) lies
	// fully inside it. Zero-size accesses always succeed. This is the single
	// chokepoint pointer arithmetic and typed accesses reuse.
	Dereferenceable(p ir.Pointer, size ir.Size, align ir.Align) error

	// Retag is the hook for an out-of-core aliasing layer. The reference
	// backend treats it as a dereferenceability check and returns the
	// pointer unchanged.
	Retag(p ir.Pointer, meta ir.PtrMeta, fnEntry bool) (ir.Pointer, error)

	// LeakCheck fails if any heap allocation is still live.
	LeakCheck() error
}

// AddressPicker resolves the daemonic address choice of Allocate.
// Correctness of the machine must hold for every valid pick; tests inject
// adversarial pickers to exercise that.
type AddressPicker interface {
	// Pick returns an address for which free reports true, or false if the
	// picker cannot find one ("no behavior", the acknowledged OOM-modeling
	// gap). free already folds in positivity, alignment, overlap and
	// address-space bounds.
	Pick(size uint64, align ir.Align, free func(addr uint64) bool) (uint64, bool)
}

// BumpPicker is the default picker: a deterministic aligned bump allocator
// that never reuses addresses. Address reuse behavior is exercised through
// dedicated pickers in tests.
type BumpPicker struct {
	next uint64
}

// NewBumpPicker creates a BumpPicker starting above the null page.
func NewBumpPicker() *BumpPicker {
	return &BumpPicker{next: 0x1000}
}

// Pick implements AddressPicker.
func (b *BumpPicker) Pick(size uint64, align ir.Align, free func(addr uint64) bool) (uint64, bool) {
	addr := roundUp(b.next, align)
	if !free(addr) {
		return 0, false
	}
	b.next = addr + size
	if b.next < addr {
		// address space exhausted
		return 0, false
	}
	return addr, true
}

func roundUp(addr uint64, align ir.Align) uint64 {
	a := align.Bytes()
	if a <= 1 {
		return addr
	}
	return (addr + a - 1) / a * a
}
