package fec

// Tarot computes an adaptive repair-symbol count R given observed loss
// rate and RTT, the "TAROT auto-tuning" helper of spec.md §4.3. The result
// is clamped to [1, K/2] and is monotone non-decreasing in loss rate, so
// it can be fed straight into Encoder.SetKR.
func Tarot(k int, lossRate float64, rttUs uint32) int {
	if k <= 0 {
		return 1
	}
	maxR := k / 2
	if maxR < 1 {
		maxR = 1
	}
	if lossRate < 0 {
		lossRate = 0
	}
	if lossRate > 1 {
		lossRate = 1
	}

	// Expected losses per generation of K symbols, rounded up, plus one
	// symbol of headroom for RTT-driven estimation error: a long RTT means
	// a NACK round-trip costs more glass-to-glass latency, so TAROT leans
	// harder on FEC (higher R) rather than ARQ when RTT is large.
	expectedLosses := lossRate * float64(k)
	r := int(expectedLosses + 0.999) // ceil
	if rttUs > 80_000 {
		r++
	}
	if r < 1 {
		r = 1
	}
	if r > maxR {
		r = maxR
	}
	return r
}
