// Package supervisor implements the fleet-level coordination of spec.md
// §4.10: ingesting per-link RF/transport telemetry into radio-health
// estimators, emitting lifecycle events, computing aggregate fleet
// capacity, and issuing rate-limited BitrateCmd targets to the encoder.
//
// Grounded on original_source's strata-agent/src/telemetry.rs (the
// metrics-ingest-to-event shape) and strata-bonding/src/modem/health.rs,
// reimplemented against this module's own internal/radio health
// estimator rather than the agent's hardware scanning (out of scope).
package supervisor

import (
	"sync"
	"time"

	"github.com/strata-video/bonding/internal/logging"
	"github.com/strata-video/bonding/internal/radio"
	"github.com/strata-video/bonding/internal/wire"
)

// EventKind enumerates the supervisor's lifecycle events (spec.md §4.10).
type EventKind int

const (
	LinkDegraded EventKind = iota
	LinkRecovered
	LinkPreHandover
)

func (k EventKind) String() string {
	switch k {
	case LinkDegraded:
		return "LinkDegraded"
	case LinkRecovered:
		return "LinkRecovered"
	case LinkPreHandover:
		return "LinkPreHandover"
	default:
		return "Unknown"
	}
}

// Event is one lifecycle transition observed for a link.
type Event struct {
	LinkID int
	Kind   EventKind
	Score  float64
	At     time.Time
}

// linkState tracks one link's health estimator and the supervisor's last
// observation of it, for edge-triggering events.
type linkState struct {
	health         *radio.Health
	wasHealthy     bool
	wasImpending   bool
	estimatedCapBps float64
}

// Config carries the adapter's rate-limiting tunables (spec.md §4.10
// "Ramp-down factor and minimum interval between commands are
// configurable").
type Config struct {
	RampDownFactor  float64
	MinCmdInterval  time.Duration
}

// DefaultConfig returns reasonable defaults absent an explicit override.
func DefaultConfig() Config {
	return Config{RampDownFactor: 0.85, MinCmdInterval: 500 * time.Millisecond}
}

// Supervisor ingests per-link telemetry and issues bitrate guidance.
type Supervisor struct {
	mu     sync.Mutex
	cfg    Config
	logger logging.Logger

	links map[int]*linkState

	targetBitrateBps float64
	lastCmdAt        time.Time
	lastCmdKbps      uint32
}

// New creates a Supervisor.
func New(cfg Config, logger logging.Logger) *Supervisor {
	if logger == nil {
		logger = logging.Discard
	}
	return &Supervisor{
		cfg:    cfg,
		logger: logger,
		links:  make(map[int]*linkState),
	}
}

// AddLink registers a link for telemetry ingestion.
func (s *Supervisor) AddLink(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links[id] = &linkState{health: radio.NewHealth(), wasHealthy: true}
}

// RemoveLink unregisters a link.
func (s *Supervisor) RemoveLink(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.links, id)
}

// SetTargetBitrate updates the encoder's requested bitrate, used as the
// denominator for MaybeBitrateCmd's ratio math.
func (s *Supervisor) SetTargetBitrate(bps float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.targetBitrateBps = bps
}

// IngestMetrics feeds one tick of RF telemetry for linkID into its health
// estimator and returns any lifecycle events this observation triggered.
func (s *Supervisor) IngestMetrics(linkID int, m radio.Metrics, estimatedCapBps float64, now time.Time) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	ls, ok := s.links[linkID]
	if !ok {
		ls = &linkState{health: radio.NewHealth(), wasHealthy: true}
		s.links[linkID] = ls
	}
	score := ls.health.Update(m)
	ls.estimatedCapBps = estimatedCapBps

	var events []Event
	healthy := ls.health.Healthy()
	impending := ls.health.ImpendingHandover()

	if impending && !ls.wasImpending {
		events = append(events, Event{LinkID: linkID, Kind: LinkPreHandover, Score: score, At: now})
	}
	if !healthy && ls.wasHealthy {
		events = append(events, Event{LinkID: linkID, Kind: LinkDegraded, Score: score, At: now})
	}
	if healthy && !ls.wasHealthy {
		events = append(events, Event{LinkID: linkID, Kind: LinkRecovered, Score: score, At: now})
	}
	ls.wasHealthy = healthy
	ls.wasImpending = impending

	return events
}

// FleetCapacityBps returns the sum of estimated per-link capacities
// (spec.md §4.10 "fleet capacity Σ estimated_capacity_bps").
func (s *Supervisor) FleetCapacityBps() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total float64
	for _, ls := range s.links {
		total += ls.estimatedCapBps
	}
	return total
}

// MaybeBitrateCmd evaluates fleet capacity against the target bitrate and
// returns a BitrateCmd if one is warranted and the minimum interval
// between commands has elapsed (spec.md §4.10).
func (s *Supervisor) MaybeBitrateCmd(now time.Time) (wire.BitrateCmd, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if now.Sub(s.lastCmdAt) < s.cfg.MinCmdInterval {
		return wire.BitrateCmd{}, false
	}
	var fleetCap float64
	for _, ls := range s.links {
		fleetCap += ls.estimatedCapBps
	}
	if s.targetBitrateBps <= 0 {
		return wire.BitrateCmd{}, false
	}

	ratio := fleetCap / s.targetBitrateBps
	var cmd wire.BitrateCmd
	switch {
	case ratio >= 1.0:
		if s.lastCmdKbps == 0 {
			return wire.BitrateCmd{}, false
		}
		cmd = wire.BitrateCmd{TargetKbps: uint32(s.targetBitrateBps / 1000), Reason: wire.ReasonRecovery}
	case fleetCap <= 0:
		cmd = wire.BitrateCmd{TargetKbps: 0, Reason: wire.ReasonLinkFailure}
	default:
		target := fleetCap * s.cfg.RampDownFactor
		cmd = wire.BitrateCmd{TargetKbps: uint32(target / 1000), Reason: wire.ReasonCongestion}
	}
	s.lastCmdAt = now
	s.lastCmdKbps = cmd.TargetKbps
	return cmd, true
}
