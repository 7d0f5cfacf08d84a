// Package scheduler implements the per-packet link-selection pipeline of
// spec.md §4.6: priority gating, the IoDS monotonic-arrival constraint,
// the BLEST head-of-line guard, and Thompson-sampling exploration, with
// DWRR deficit accounting feeding the credit each link receives.
//
// Grounded on spec.md §4.6 directly; the per-primitive file split mirrors
// original_source's rist-bonding-core/src/scheduler/wrr.rs and
// strata-bonding/src/scheduler/{blest,iods,thompson}.rs.
package scheduler

import (
	"time"

	"github.com/strata-video/bonding/internal/linkstate"
	"github.com/strata-video/bonding/internal/wire"
)

// Candidate is one link's per-decision scheduling snapshot (spec.md §3
// Scheduling candidate). The scheduler never mutates a Candidate; it is a
// read-only view published by the link layer each decision.
type Candidate struct {
	LinkID      int
	CapacityBps float64
	SmoothedRTT time.Duration
	OWDEstimate time.Duration
	QueueDepth  int
	MaxQueue    int
	Alive       bool
	CanEnqueue  bool // link's Biscay controller allows new enqueues
	Phase       linkstate.Phase
}

func (c Candidate) viable() bool {
	return c.Alive && c.CanEnqueue && c.QueueDepth < c.MaxQueue
}

// Decision is the scheduler's output for one send() call.
type Decision struct {
	LinkIDs []int // one entry normally; every alive link id for a broadcast
	Refused bool
	Reason  string
}

// Stage is a degradation stage derived from available/target capacity
// ratio (spec.md §4.6 table).
type Stage int

const (
	StageNormal Stage = iota
	StageDropDisposable
	StageReduceBitrate
	StageProtectKeyframes
	StageKeyframeOnly
)

func (s Stage) String() string {
	switch s {
	case StageNormal:
		return "Normal"
	case StageDropDisposable:
		return "DropDisposable"
	case StageReduceBitrate:
		return "ReduceBitrate"
	case StageProtectKeyframes:
		return "ProtectKeyframes"
	case StageKeyframeOnly:
		return "KeyframeOnly"
	default:
		return "Unknown"
	}
}

// DegradationStage computes the stage from the capacity ratio.
func DegradationStage(availableCapacityBps, targetBitrateBps float64) Stage {
	if targetBitrateBps <= 0 {
		return StageNormal
	}
	ratio := availableCapacityBps / targetBitrateBps
	switch {
	case ratio >= 1.0:
		return StageNormal
	case ratio >= 0.8:
		return StageDropDisposable
	case ratio >= 0.5:
		return StageReduceBitrate
	case ratio >= 0.25:
		return StageProtectKeyframes
	default:
		return StageKeyframeOnly
	}
}

// Admits reports whether priority p is allowed to send under stage s.
func (s Stage) Admits(p wire.Priority) bool {
	switch s {
	case StageNormal:
		return true
	case StageDropDisposable, StageReduceBitrate:
		return p != wire.PriorityDisposable
	case StageProtectKeyframes:
		return p == wire.PriorityCritical || p == wire.PriorityReference
	case StageKeyframeOnly:
		return p == wire.PriorityCritical
	default:
		return true
	}
}

// RequestsBitrateCut reports whether this stage should trigger a
// BitrateCmd toward the encoder (ReduceBitrate and below, spec.md §4.6).
func (s Stage) RequestsBitrateCut() bool {
	return s >= StageReduceBitrate
}
