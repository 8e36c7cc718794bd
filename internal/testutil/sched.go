// Package testutil provides deterministic stand-ins for the machine's three
// nondeterminism points: the scheduler, the address picker, and the
// provenance predictor. Tests script them to pin down one execution out of
// the admissible set.
package testutil

// ScriptScheduler replays a fixed sequence of thread ids. When the script
// runs out, or the scripted thread is not enabled, it falls back to the
// first enabled thread.
type ScriptScheduler struct {
	Script []int
	pos    int
}

// Next implements the machine's Scheduler.
func (s *ScriptScheduler) Next(enabled []int) int {
	for s.pos < len(s.Script) {
		want := s.Script[s.pos]
		s.pos++
		for _, id := range enabled {
			if id == want {
				return id
			}
		}
	}
	return enabled[0]
}

// Exhausted reports whether the whole script was consumed.
func (s *ScriptScheduler) Exhausted() bool { return s.pos >= len(s.Script) }
