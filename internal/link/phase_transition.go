package link

import (
	"github.com/strata-video/bonding/internal/cc"
	"github.com/strata-video/bonding/internal/linkstate"
	"github.com/strata-video/bonding/internal/radio"
)

// Sample thresholds governing how long a link spends proving itself in
// each lifecycle phase before earning full scheduling credit (spec.md §3:
// "Phases advance on observed telemetry").
const (
	probeSampleThreshold = 5
	warmSampleThreshold  = 5
)

// phaseInputs is the telemetry transitionPhase needs, gathered once per
// tick so the transition function itself stays pure and testable without
// a live socket or CC controller.
type phaseInputs struct {
	probeSamples int
	warmSamples  int
	ccState      cc.State
	healthy      bool
	handoverSoon bool
}

// transitionPhase computes the next lifecycle phase for a link given its
// current phase and this tick's telemetry (spec.md §3, §9 "Timer
// driver"). It is a pure function: all mutable bookkeeping (sample
// counters) lives in the caller.
func transitionPhase(current linkstate.Phase, in phaseInputs) linkstate.Phase {
	switch current {
	case linkstate.PhaseInit:
		return linkstate.PhaseProbe

	case linkstate.PhaseProbe:
		if in.probeSamples >= probeSampleThreshold && in.healthy {
			return linkstate.PhaseWarm
		}
		return linkstate.PhaseProbe

	case linkstate.PhaseWarm:
		if in.ccState == cc.StatePreHandover || in.handoverSoon {
			return linkstate.PhaseDegrade
		}
		if in.warmSamples >= warmSampleThreshold && in.healthy && in.ccState == cc.StateNormal {
			return linkstate.PhaseLive
		}
		return linkstate.PhaseWarm

	case linkstate.PhaseLive:
		if in.ccState == cc.StatePreHandover || in.handoverSoon {
			return linkstate.PhaseDegrade
		}
		if in.ccState == cc.StateCautious || !in.healthy {
			return linkstate.PhaseDegrade
		}
		return linkstate.PhaseLive

	case linkstate.PhaseDegrade:
		if in.ccState == cc.StatePreHandover {
			return linkstate.PhaseCooldown
		}
		if in.ccState == cc.StateNormal && in.healthy {
			return linkstate.PhaseLive
		}
		return linkstate.PhaseDegrade

	case linkstate.PhaseCooldown:
		if in.ccState == cc.StateNormal && in.healthy {
			return linkstate.PhaseReset
		}
		return linkstate.PhaseCooldown

	case linkstate.PhaseReset:
		return linkstate.PhaseInit

	default:
		return linkstate.PhaseInit
	}
}

// healthSnapshot adapts a *radio.Health reading into the booleans
// transitionPhase consumes.
func healthSnapshot(h *radio.Health) (healthy, handoverSoon bool) {
	return h.Healthy(), h.ImpendingHandover()
}
