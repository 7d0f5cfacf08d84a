// Package cc implements the Biscay congestion controller: a BBR-inspired
// delivery-rate estimator coupled to a radio-aware state machine
// (spec.md §4.5). One Controller is owned per link by that link's I/O
// thread; the scheduler reads a snapshot, never the live struct
// (spec.md §5, §9 "Shared mutable link state").
package cc

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// State is the Biscay radio-aware state machine's current phase.
type State int

const (
	StateNormal State = iota
	StateCautious
	StatePreHandover
)

func (s State) String() string {
	switch s {
	case StateNormal:
		return "Normal"
	case StateCautious:
		return "Cautious"
	case StatePreHandover:
		return "PreHandover"
	default:
		return "Unknown"
	}
}

const (
	fullPacingGain     = 1.25 // BBR-style startup/steady probe gain
	cautiousPacingGain = 0.85
	minPacingRateBps   = 50_000.0

	cqiDropStreakThreshold = 3
	lossSpikeThreshold     = 0.08

	preHandoverRsrpSlopeDbPerSec = -2.5
	preHandoverRsrqDb            = -12.0

	rsrpStableWindowSize  = 20
	rsrpStableBandDb      = 1.5
)

// RadioSample is one tick's worth of radio telemetry fed to the
// controller via OnRadioMetrics.
type RadioSample struct {
	CQI      int
	RsrpDbm  float64
	RsrqDb   float64
	LossRate float64
	Interval time.Duration // time since the previous sample, for slope calc
}

// Snapshot is an immutable, atomically-published view of controller state
// for the scheduler to read without touching the live Controller
// (spec.md §9).
type Snapshot struct {
	State            State
	PacingRateBps    float64
	CwndBytes        uint64
	EstimatedCapBps  float64
	MinRTT           time.Duration
	CanEnqueue       bool
	ProbeAllowed     bool
}

// Controller is the per-link Biscay congestion controller.
type Controller struct {
	mu sync.Mutex

	state State

	deliveryRateBps float64 // EWMA of bytes_delivered/interval, BBR-style
	minRTT          time.Duration
	lastRTT         time.Duration

	cqiDropStreak int
	lastCQI       int
	haveLastCQI   bool
	lastRsrp      float64
	haveLastRsrp  bool
	rsrpWindow    []float64

	probeAllowed bool

	limiter *rate.Limiter
}

// NewController creates a Biscay controller in state Normal with full
// pacing gain and an initially generous pacer limit, tightened as soon as
// the first bandwidth sample arrives.
func NewController() *Controller {
	return &Controller{
		state:        StateNormal,
		limiter:      rate.NewLimiter(rate.Limit(10_000_000), 1<<20),
		probeAllowed: true,
	}
}

// OnBandwidthSample folds a delivery-rate observation (bytesDelivered over
// interval) into the BBR-style max-filtered rate estimate.
func (c *Controller) OnBandwidthSample(bytesDelivered int, interval time.Duration) {
	if interval <= 0 {
		return
	}
	sample := float64(bytesDelivered) * 8 / interval.Seconds() // bits/sec
	c.mu.Lock()
	defer c.mu.Unlock()
	if sample > c.deliveryRateBps {
		// BBR tracks a windowed max; here we snap up immediately and decay
		// slowly, which is cheap and adequate for a radio-bonded link
		// whose capacity moves on the order of seconds, not RTTs.
		c.deliveryRateBps = sample
	} else {
		c.deliveryRateBps = c.deliveryRateBps*0.98 + sample*0.02
	}
	c.publishPacerLocked()
}

// OnRTTSample folds an RTT measurement into the min-RTT tracker.
func (c *Controller) OnRTTSample(rtt time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastRTT = rtt
	if c.minRTT == 0 || rtt < c.minRTT {
		c.minRTT = rtt
	}
}

// OnRadioMetrics feeds one tick of radio telemetry into the state machine.
func (c *Controller) OnRadioMetrics(s RadioSample) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.haveLastCQI {
		if s.CQI < c.lastCQI {
			c.cqiDropStreak++
		} else {
			c.cqiDropStreak = 0
		}
	}
	c.lastCQI = s.CQI
	c.haveLastCQI = true

	var rsrpSlopePerSec float64
	if c.haveLastRsrp && s.Interval > 0 {
		rsrpSlopePerSec = (s.RsrpDbm - c.lastRsrp) / s.Interval.Seconds()
	}
	c.lastRsrp = s.RsrpDbm
	c.haveLastRsrp = true

	c.rsrpWindow = append(c.rsrpWindow, s.RsrpDbm)
	if len(c.rsrpWindow) > rsrpStableWindowSize {
		c.rsrpWindow = c.rsrpWindow[len(c.rsrpWindow)-rsrpStableWindowSize:]
	}

	lossSpike := s.LossRate >= lossSpikeThreshold

	switch c.state {
	case StateNormal:
		if c.cqiDropStreak >= cqiDropStreakThreshold || lossSpike {
			c.state = StateCautious
		}
	case StateCautious:
		if rsrpSlopePerSec < preHandoverRsrpSlopeDbPerSec && s.RsrqDb < preHandoverRsrqDb {
			c.state = StatePreHandover
		} else if c.cqiDropStreak == 0 && !lossSpike {
			c.state = StateNormal
		}
	case StatePreHandover:
		if c.rsrpWindowStableLocked() && c.cqiDropStreak == 0 {
			c.state = StateNormal
		}
	}
	c.publishPacerLocked()
}

func (c *Controller) rsrpWindowStableLocked() bool {
	if len(c.rsrpWindow) < rsrpStableWindowSize {
		return false
	}
	lo, hi := c.rsrpWindow[0], c.rsrpWindow[0]
	for _, v := range c.rsrpWindow {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return hi-lo <= rsrpStableBandDb
}

func (c *Controller) pacingGainLocked() float64 {
	switch c.state {
	case StateCautious:
		return cautiousPacingGain
	case StatePreHandover:
		return 0 // enqueue is blocked outright; pacing rate is moot
	default:
		return fullPacingGain
	}
}

func (c *Controller) publishPacerLocked() {
	gain := c.pacingGainLocked()
	rateBps := c.deliveryRateBps * gain
	if rateBps < minPacingRateBps && c.state != StatePreHandover {
		rateBps = minPacingRateBps
	}
	c.limiter.SetLimit(rate.Limit(rateBps / 8)) // limiter counts bytes/sec
}

// CanEnqueue reports whether the scheduler may hand this link new
// packets. False only in PreHandover (spec.md §4.5).
func (c *Controller) CanEnqueue() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state != StatePreHandover
}

// SetProbeAllowed implements the scheduler's "only one link may actively
// probe at a time" coordination (spec.md §4.5, §9).
func (c *Controller) SetProbeAllowed(allowed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.probeAllowed = allowed
}

// Pacer returns the token-bucket limiter link transport code should gate
// outbound sends on (spec.md: "hands it to the socket under its pacer's
// gate").
func (c *Controller) Pacer() *rate.Limiter {
	return c.limiter
}

// Snapshot publishes an immutable view for concurrent readers (the
// scheduler, metrics export) without touching controller internals.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	gain := c.pacingGainLocked()
	return Snapshot{
		State:           c.state,
		PacingRateBps:   c.deliveryRateBps * gain,
		CwndBytes:       uint64(c.deliveryRateBps / 8 * c.minRTT.Seconds()),
		EstimatedCapBps: c.deliveryRateBps,
		MinRTT:          c.minRTT,
		CanEnqueue:      c.state != StatePreHandover,
		ProbeAllowed:    c.probeAllowed,
	}
}

// State returns the current state machine phase.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}
