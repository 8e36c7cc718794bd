package mem

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minimach/minimach/internal/ir"
	"github.com/minimach/minimach/internal/ub"
)

func requireUB(t *testing.T, err error, code ub.Code) {
	t.Helper()
	require.Error(t, err)
	u, ok := ub.AsUndefined(err)
	require.True(t, ok, "expected undefined behavior, got %v", err)
	assert.Equal(t, code, u.Code)
}

func TestAllocate_FreshAndExclusive(t *testing.T) {
	m := NewFlat(ir.DefaultTarget)

	p1, err := m.Allocate(AllocHeap, 16, ir.MustAlign(8))
	require.NoError(t, err)
	p2, err := m.Allocate(AllocHeap, 16, ir.MustAlign(8))
	require.NoError(t, err)

	assert.NotZero(t, p1.Addr)
	assert.True(t, ir.MustAlign(8).Aligned(p1.Addr))
	assert.NotEqual(t, p1.Prov, p2.Prov, "each allocation mints fresh provenance")

	ranges := m.LiveRanges()
	require.Len(t, ranges, 2)
	for i := range ranges {
		for j := i + 1; j < len(ranges); j++ {
			disjoint := ranges[i][1] <= ranges[j][0] || ranges[j][1] <= ranges[i][0]
			assert.True(t, disjoint, "live ranges %v and %v overlap", ranges[i], ranges[j])
		}
	}
}

func TestAllocate_ZeroSize(t *testing.T) {
	m := NewFlat(ir.DefaultTarget)
	p, err := m.Allocate(AllocHeap, 0, ir.Align1)
	require.NoError(t, err)
	assert.NotZero(t, p.Addr)
	// A zero-size load through it succeeds.
	b, err := m.Load(p, 0, ir.Align1)
	require.NoError(t, err)
	assert.Empty(t, b)
}

func TestLoad_Uninitialized(t *testing.T) {
	m := NewFlat(ir.DefaultTarget)
	p, err := m.Allocate(AllocHeap, 4, ir.Align1)
	require.NoError(t, err)

	b, err := m.Load(p, 4, ir.Align1)
	require.NoError(t, err)
	for _, ab := range b {
		assert.False(t, ab.Init, "fresh memory is uninitialized")
	}
}

func TestStoreLoad_RoundTripsBytesVerbatim(t *testing.T) {
	m := NewFlat(ir.DefaultTarget)
	p, err := m.Allocate(AllocHeap, 4, ir.Align1)
	require.NoError(t, err)

	prov := ir.Provenance{ID: 7, Valid: true}
	in := []ir.AbstractByte{ir.InitByte(1), ir.Uninit, ir.ProvByte(3, prov), ir.InitByte(4)}
	require.NoError(t, m.Store(p, in, ir.Align1))

	out, err := m.Load(p, 4, ir.Align1)
	require.NoError(t, err)
	assert.Equal(t, in, out, "bytes move verbatim, provenance and init state included")
}

func TestDereferenceable_ImpliesLoadSucceeds(t *testing.T) {
	m := NewFlat(ir.DefaultTarget)
	p, err := m.Allocate(AllocHeap, 8, ir.MustAlign(4))
	require.NoError(t, err)

	for off := uint64(0); off <= 4; off += 4 {
		q := p
		q.Addr += off
		require.NoError(t, m.Dereferenceable(q, 4, ir.MustAlign(4)))
		_, err := m.Load(q, 4, ir.MustAlign(4))
		assert.NoError(t, err)
	}
}

func TestAccess_OutOfBounds(t *testing.T) {
	m := NewFlat(ir.DefaultTarget)
	p, err := m.Allocate(AllocHeap, 4, ir.Align1)
	require.NoError(t, err)

	q := p
	q.Addr += 2
	_, err = m.Load(q, 4, ir.Align1)
	requireUB(t, err, ub.CodeOutOfBounds)
}

func TestAccess_Misaligned(t *testing.T) {
	m := NewFlat(ir.DefaultTarget)
	p, err := m.Allocate(AllocHeap, 8, ir.MustAlign(4))
	require.NoError(t, err)

	q := p
	q.Addr++
	_, err = m.Load(q, 4, ir.MustAlign(4))
	requireUB(t, err, ub.CodeMisaligned)
}

func TestAccess_NoProvenance(t *testing.T) {
	m := NewFlat(ir.DefaultTarget)
	p, err := m.Allocate(AllocHeap, 4, ir.Align1)
	require.NoError(t, err)

	stripped := ir.Pointer{Addr: p.Addr}
	_, err = m.Load(stripped, 4, ir.Align1)
	requireUB(t, err, ub.CodeNoProvenance)

	// Zero-size access is fine without provenance.
	_, err = m.Load(stripped, 0, ir.Align1)
	assert.NoError(t, err)
}

func TestAccess_Null(t *testing.T) {
	m := NewFlat(ir.DefaultTarget)
	_, err := m.Load(ir.Pointer{Addr: 0}, 1, ir.Align1)
	requireUB(t, err, ub.CodeOutOfBounds)
}

func TestDeallocate_UseAfterFree(t *testing.T) {
	m := NewFlat(ir.DefaultTarget)
	p, err := m.Allocate(AllocHeap, 4, ir.Align1)
	require.NoError(t, err)

	require.NoError(t, m.Deallocate(p, 4, ir.Align1))
	_, err = m.Load(p, 4, ir.Align1)
	requireUB(t, err, ub.CodeUseAfterFree)
}

func TestDeallocate_DoubleFree(t *testing.T) {
	m := NewFlat(ir.DefaultTarget)
	p, err := m.Allocate(AllocHeap, 4, ir.Align1)
	require.NoError(t, err)

	require.NoError(t, m.Deallocate(p, 4, ir.Align1))
	err = m.Deallocate(p, 4, ir.Align1)
	requireUB(t, err, ub.CodeDoubleFree)
}

func TestDeallocate_Mismatched(t *testing.T) {
	m := NewFlat(ir.DefaultTarget)
	p, err := m.Allocate(AllocHeap, 8, ir.MustAlign(4))
	require.NoError(t, err)

	// Wrong size.
	requireUB(t, m.Deallocate(p, 4, ir.MustAlign(4)), ub.CodeInvalidDealloc)
	// Wrong alignment.
	requireUB(t, m.Deallocate(p, 8, ir.Align1), ub.CodeInvalidDealloc)
	// Interior pointer.
	q := p
	q.Addr += 4
	requireUB(t, m.Deallocate(q, 8, ir.MustAlign(4)), ub.CodeInvalidDealloc)
	// Matching call still succeeds.
	assert.NoError(t, m.Deallocate(p, 8, ir.MustAlign(4)))
}

func TestLeakCheck_HeapOnly(t *testing.T) {
	m := NewFlat(ir.DefaultTarget)
	_, err := m.Allocate(AllocGlobal, 4, ir.Align1)
	require.NoError(t, err)
	assert.NoError(t, m.LeakCheck(), "globals do not count as leaks")

	p, err := m.Allocate(AllocHeap, 4, ir.Align1)
	require.NoError(t, err)
	requireUB(t, m.LeakCheck(), ub.CodeMemoryLeak)

	require.NoError(t, m.Deallocate(p, 4, ir.Align1))
	assert.NoError(t, m.LeakCheck())
}

// reusePicker hands out a fixed address when it is free, modeling a backend
// that recycles freed memory.
type reusePicker struct {
	addr uint64
	bump AddressPicker
}

func (r *reusePicker) Pick(size uint64, align ir.Align, free func(uint64) bool) (uint64, bool) {
	if free(r.addr) {
		return r.addr, true
	}
	return r.bump.Pick(size, align, free)
}

func TestPicker_AddressReuseMintsFreshProvenance(t *testing.T) {
	m := NewFlat(ir.DefaultTarget, WithPicker(&reusePicker{addr: 0x2000, bump: NewBumpPicker()}))

	p1, err := m.Allocate(AllocHeap, 4, ir.Align1)
	require.NoError(t, err)
	require.Equal(t, uint64(0x2000), p1.Addr)
	require.NoError(t, m.Deallocate(p1, 4, ir.Align1))

	p2, err := m.Allocate(AllocHeap, 4, ir.Align1)
	require.NoError(t, err)
	assert.Equal(t, p1.Addr, p2.Addr, "address reused")
	assert.NotEqual(t, p1.Prov, p2.Prov, "provenance not reused")

	// The stale pointer still names the dead allocation.
	_, err = m.Load(p1, 4, ir.Align1)
	requireUB(t, err, ub.CodeUseAfterFree)
	// The fresh pointer works.
	_, err = m.Load(p2, 4, ir.Align1)
	assert.NoError(t, err)
}

// emptyPicker never finds an address.
type emptyPicker struct{}

func (emptyPicker) Pick(uint64, ir.Align, func(uint64) bool) (uint64, bool) { return 0, false }

func TestAllocate_ExhaustedPicker(t *testing.T) {
	m := NewFlat(ir.DefaultTarget, WithPicker(emptyPicker{}))
	_, err := m.Allocate(AllocHeap, 4, ir.Align1)
	requireUB(t, err, ub.CodeOutOfRange)
}

func TestAllocate_SmallAddressSpace(t *testing.T) {
	// A 2-byte pointer width caps allocation sizes at 65535.
	tg := ir.Target{PtrBytes: 2, PtrAlign: ir.MustAlign(2), Endian: ir.LittleEndian}
	m := NewFlat(tg)
	_, err := m.Allocate(AllocHeap, 1<<20, ir.Align1)
	requireUB(t, err, ub.CodeOutOfRange)
}

// topPicker proposes the last address of a 2-byte address space.
type topPicker struct{}

func (topPicker) Pick(size uint64, align ir.Align, free func(uint64) bool) (uint64, bool) {
	return 0xffff, free(0xffff)
}

func TestAllocate_TopOfAddressSpace(t *testing.T) {
	// An allocation ending exactly at the last address is in bounds.
	tg := ir.Target{PtrBytes: 2, PtrAlign: ir.MustAlign(2), Endian: ir.LittleEndian}
	m := NewFlat(tg, WithPicker(topPicker{}))

	p, err := m.Allocate(AllocHeap, 1, ir.Align1)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xffff), p.Addr)

	require.NoError(t, m.Store(p, []ir.AbstractByte{ir.InitByte(0xab)}, ir.Align1))
	b, err := m.Load(p, 1, ir.Align1)
	require.NoError(t, err)
	assert.Equal(t, []ir.AbstractByte{ir.InitByte(0xab)}, b)
}

func TestRetag_ChecksPointeeLayout(t *testing.T) {
	m := NewFlat(ir.DefaultTarget)
	p, err := m.Allocate(AllocHeap, 4, ir.MustAlign(4))
	require.NoError(t, err)

	meta := ir.PtrMeta{PointeeSize: 4, PointeeAlign: ir.MustAlign(4), Inhabited: true}
	q, err := m.Retag(p, meta, false)
	require.NoError(t, err)
	assert.Equal(t, p, q, "reference backend returns the pointer unchanged")

	big := ir.PtrMeta{PointeeSize: 8, PointeeAlign: ir.MustAlign(4), Inhabited: true}
	_, err = m.Retag(p, big, false)
	requireUB(t, err, ub.CodeOutOfBounds)
}
