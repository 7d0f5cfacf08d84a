package scheduler

import (
	"math/rand"
	"sync"
	"time"

	"github.com/strata-video/bonding/internal/wire"
)

// Scheduler composes the priority gate, BLEST guard, IoDS monotonic
// constraint, and Thompson-sampling exploration into one per-packet
// link-selection pipeline (spec.md §4.6).
type Scheduler struct {
	mu sync.Mutex

	blestThreshold time.Duration
	blestMaxPenalty float64

	stage Stage

	blest map[int]*blestState
	dwrr  map[int]*dwrrState
	arms  map[int]*beta

	lastArrival time.Duration
	rng         *rand.Rand
}

// New returns a Scheduler with default BLEST parameters; override with
// SetBlestParams if a Config specifies different values.
func New(seed int64) *Scheduler {
	return &Scheduler{
		blestThreshold:  DefaultBlestThreshold,
		blestMaxPenalty: DefaultBlestMaxPenalty,
		stage:           StageNormal,
		blest:           make(map[int]*blestState),
		dwrr:            make(map[int]*dwrrState),
		arms:            make(map[int]*beta),
		rng:             rand.New(rand.NewSource(seed)),
	}
}

// SetBlestParams overrides the BLEST threshold and max penalty.
func (s *Scheduler) SetBlestParams(threshold time.Duration, maxPenalty float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blestThreshold = threshold
	s.blestMaxPenalty = maxPenalty
}

// SetStage updates the current degradation stage used for priority gating.
func (s *Scheduler) SetStage(stage Stage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stage = stage
}

// Stage returns the current degradation stage.
func (s *Scheduler) Stage() Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stage
}

// OnFeedback updates the Thompson-sampling arm for a link after a packet
// sent on it is acked (success) or declared lost via NACK (failure).
func (s *Scheduler) OnFeedback(linkID int, delivered bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	arm := s.armLocked(linkID)
	if delivered {
		arm.onSuccess()
	} else {
		arm.onFailure()
	}
}

// Tick decays BLEST penalties and accrues DWRR deficit for every
// candidate's current capacity and phase; called once per scheduler tick
// (spec.md §4.1 tick cadence).
func (s *Scheduler) Tick(cands []Candidate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range cands {
		if bs, ok := s.blest[c.LinkID]; ok {
			bs.decay()
		}
		dw := s.dwrrLocked(c.LinkID)
		dw.accrue(c.CapacityBps, c.Phase)
	}
}

func (s *Scheduler) armLocked(linkID int) *beta {
	a, ok := s.arms[linkID]
	if !ok {
		b := newBeta()
		a = &b
		s.arms[linkID] = a
	}
	return a
}

func (s *Scheduler) dwrrLocked(linkID int) *dwrrState {
	d, ok := s.dwrr[linkID]
	if !ok {
		d = &dwrrState{}
		s.dwrr[linkID] = d
	}
	return d
}

// Pick selects the link(s) a packet of sizeBytes and priority p should be
// sent on, given the current candidate set. Critical packets are
// broadcast on every alive-and-enqueue-able link and bypass BLEST/IoDS/
// Thompson entirely (spec.md §4.6, §8 scenario 4). All other priorities
// go through stage gating, BLEST, IoDS, then Thompson sampling among ties.
func (s *Scheduler) Pick(sizeBytes int, p wire.Priority, cands []Candidate, now time.Time) Decision {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.stage.Admits(p) {
		return Decision{Refused: true, Reason: "degradation stage " + s.stage.String() + " does not admit priority " + p.String()}
	}

	var viable []Candidate
	for _, c := range cands {
		if c.viable() {
			viable = append(viable, c)
		}
	}
	if len(viable) == 0 {
		return Decision{Refused: true, Reason: "no viable link"}
	}

	if p == wire.PriorityCritical {
		ids := make([]int, 0, len(viable))
		for _, c := range viable {
			ids = append(ids, c.LinkID)
		}
		return Decision{LinkIDs: ids}
	}

	survivors := blestFilter(viable, s.blestThreshold, s.blest, s.blestMaxPenalty)
	survivors = s.dwrrFilterLocked(survivors)

	ranked := make([]iodsRankedCandidate, 0, len(survivors))
	for _, c := range survivors {
		penalty := 1.0
		if bs, ok := s.blest[c.LinkID]; ok {
			penalty = bs.penalty
		}
		ranked = append(ranked, iodsRankedCandidate{
			Candidate: c,
			Arrival:   predictedArrival(c, sizeBytes, penalty),
		})
	}
	sortByArrival(ranked)

	tied, newBaseline, reset := iodsSelect(ranked, s.lastArrival)
	if reset {
		s.lastArrival = newBaseline
	} else {
		s.lastArrival = newBaseline
	}
	if len(tied) == 0 {
		return Decision{Refused: true, Reason: "iods produced no candidates"}
	}
	if len(tied) == 1 {
		id := tied[0].Candidate.LinkID
		s.dwrrLocked(id).spend(sizeBytes)
		return Decision{LinkIDs: []int{id}}
	}

	chosen := s.thompsonPickLocked(tied)
	s.dwrrLocked(chosen).spend(sizeBytes)
	return Decision{LinkIDs: []int{chosen}}
}

// dwrrFilterLocked keeps only candidates with remaining DWRR deficit,
// i.e. links whose fair share for this tick isn't already exhausted. If
// every candidate is exhausted, falls back to the full input set (a
// single saturated link must still be usable), mirroring blestFilter's
// all-excluded fallback.
func (s *Scheduler) dwrrFilterLocked(cands []Candidate) []Candidate {
	var eligible []Candidate
	for _, c := range cands {
		if s.dwrrLocked(c.LinkID).deficit > 0 {
			eligible = append(eligible, c)
		}
	}
	if len(eligible) == 0 {
		return cands
	}
	return eligible
}

// thompsonPickLocked draws a Beta sample per tied candidate and returns
// the link id with the highest draw, giving NACK-heavy links a
// persistently lower expected sample (spec.md §8 scenario: 5 consecutive
// NACKs on link A shifts selection toward link B by >2x).
func (s *Scheduler) thompsonPickLocked(tied []iodsRankedCandidate) int {
	best := tied[0].Candidate.LinkID
	bestSample := -1.0
	for _, t := range tied {
		arm := s.armLocked(t.Candidate.LinkID)
		draw := betaSample(s.rng, arm.alpha, arm.beta)
		if draw > bestSample {
			bestSample = draw
			best = t.Candidate.LinkID
		}
	}
	return best
}

func sortByArrival(ranked []iodsRankedCandidate) {
	for i := 1; i < len(ranked); i++ {
		for j := i; j > 0 && ranked[j].Arrival < ranked[j-1].Arrival; j-- {
			ranked[j], ranked[j-1] = ranked[j-1], ranked[j]
		}
	}
}
