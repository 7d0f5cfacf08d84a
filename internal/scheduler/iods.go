package scheduler

import "time"

// predictedArrival estimates when a packet of sizeBytes would arrive on
// candidate c: serialization delay plus smoothed RTT (spec.md §4.6 IoDS),
// scaled by the candidate's current BLEST penalty multiplier.
func predictedArrival(c Candidate, sizeBytes int, penalty float64) time.Duration {
	if c.CapacityBps <= 0 {
		return time.Duration(1<<62 - 1) // effectively infinite; never preferred
	}
	serialization := time.Duration(float64(sizeBytes) * 8 / c.CapacityBps * float64(time.Second))
	arrival := serialization + c.SmoothedRTT
	return time.Duration(float64(arrival) * penalty)
}

// iodsRankedCandidate pairs a candidate with its predicted arrival for
// sorting.
type iodsRankedCandidate struct {
	Candidate Candidate
	Arrival   time.Duration
}

// iodsSelect implements the IoDS monotonic-arrival constraint: among
// ranked candidates (ascending arrival), prefer the lowest arrival that
// is >= lastArrival. If every candidate would violate monotonicity, fall
// back to the single fastest candidate and signal a baseline reset.
func iodsSelect(ranked []iodsRankedCandidate, lastArrival time.Duration) (tied []iodsRankedCandidate, newBaseline time.Duration, reset bool) {
	if len(ranked) == 0 {
		return nil, lastArrival, false
	}
	var qualifying []iodsRankedCandidate
	for _, r := range ranked {
		if r.Arrival >= lastArrival {
			qualifying = append(qualifying, r)
		}
	}
	if len(qualifying) == 0 {
		// Every link would reorder; accept it, reset the baseline to the
		// single fastest candidate (spec.md §4.6).
		return []iodsRankedCandidate{ranked[0]}, ranked[0].Arrival, true
	}
	minArrival := qualifying[0].Arrival
	for _, r := range qualifying {
		if r.Arrival == minArrival {
			tied = append(tied, r)
		}
	}
	return tied, minArrival, false
}
