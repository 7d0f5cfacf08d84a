// Package classify maps a producer-supplied payload profile onto the
// four-level Priority the scheduler gates on. It mirrors the mapping rules
// in original_source's strata-bonding/src/media/priority.rs without
// parsing NAL unit headers itself — that classification work stays with
// the producer, per spec.md §1's media-pipeline non-goal.
package classify

import "github.com/strata-video/bonding/internal/wire"

// Profile is what the producer passes alongside a payload (spec.md §6
// Producer interface: `profile: {is_critical, can_drop, size_bytes}`).
type Profile struct {
	IsCritical bool
	IsKeyframe bool
	IsConfig   bool
	CanDrop    bool
	SizeBytes  int
}

// Classify derives a Priority from a Profile. Critical packets (parameter
// sets / config, or explicitly marked critical) always broadcast;
// keyframe payloads get Reference priority so they survive congestion
// as long as possible without the broadcast cost of Critical; everything
// else is Standard unless the caller marked it droppable.
func Classify(p Profile) wire.Priority {
	switch {
	case p.IsCritical || p.IsConfig:
		return wire.PriorityCritical
	case p.IsKeyframe:
		return wire.PriorityReference
	case p.CanDrop:
		return wire.PriorityDisposable
	default:
		return wire.PriorityStandard
	}
}
