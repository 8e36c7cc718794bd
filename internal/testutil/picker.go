package testutil

import (
	"github.com/minimach/minimach/internal/ir"
	"github.com/minimach/minimach/internal/mem"
)

// ScriptPicker hands out a fixed sequence of addresses, one per Allocate.
// A scripted address that is not free fails the pick, which lets tests
// force the "no behavior" allocation path. When the script runs out the
// picker delegates to Fallback, or fails if Fallback is nil.
//
// Scripting the same address for an allocate that follows a deallocate
// exercises address reuse, which the default bump picker never does.
type ScriptPicker struct {
	Addrs    []uint64
	Fallback mem.AddressPicker
	pos      int
}

// Pick implements mem.AddressPicker.
func (p *ScriptPicker) Pick(size uint64, align ir.Align, free func(addr uint64) bool) (uint64, bool) {
	if p.pos < len(p.Addrs) {
		addr := p.Addrs[p.pos]
		p.pos++
		if !free(addr) {
			return 0, false
		}
		return addr, true
	}
	if p.Fallback != nil {
		return p.Fallback.Pick(size, align, free)
	}
	return 0, false
}
