package scheduler

import "github.com/strata-video/bonding/internal/linkstate"

// probeCreditFraction is the fractional DWRR credit a Probe-phase link
// receives relative to a Live link's full credit (spec.md §3, §4.6).
const probeCreditFraction = 0.25

// dwrrState tracks one link's deficit-weighted-round-robin accounting.
type dwrrState struct {
	deficit float64
}

// accrue adds this tick's credit, proportional to capacity and scaled by
// phase (Live gets full credit, Probe gets a fraction, anything else
// gets none).
func (d *dwrrState) accrue(capacityBps float64, phase linkstate.Phase) {
	switch phase {
	case linkstate.PhaseLive:
		d.deficit += capacityBps
	case linkstate.PhaseProbe:
		d.deficit += capacityBps * probeCreditFraction
	}
}

// spend debits bytesSent from the accumulated deficit, clamped at zero:
// an overspend is forgiven, so no debt carries into the next tick.
func (d *dwrrState) spend(bytesSent int) {
	d.deficit -= float64(bytesSent) * 8
	if d.deficit < 0 {
		d.deficit = 0
	}
}
