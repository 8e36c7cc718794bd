package testutil

import (
	"github.com/minimach/minimach/internal/ir"
)

// ScriptPredictor replays a fixed sequence of provenance predictions, one
// per int2ptr cast. When the script runs out it predicts no provenance,
// which is always admissible.
type ScriptPredictor struct {
	Script []ir.Provenance
	pos    int
}

// Predict implements the machine's ProvenancePredictor.
func (p *ScriptPredictor) Predict(addr uint64, exposed []ir.Provenance) ir.Provenance {
	if p.pos < len(p.Script) {
		prov := p.Script[p.pos]
		p.pos++
		return prov
	}
	return ir.NoProvenance
}
