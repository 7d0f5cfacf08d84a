// Package reassembly implements the adaptive-latency jitter buffer of
// spec.md §4.9: an ordered map keyed by sequence, an EWMA + rolling-p95
// jitter estimate driving the target latency, and a skip-after policy
// that bounds head-of-line blocking behind a permanently lost packet.
//
// Grounded on spec.md §4.9 directly; p95 computed with
// github.com/montanaflynn/stats, the same library ooni-netem's
// integration test uses for latency-distribution analysis.
package reassembly

import (
	"sort"
	"time"

	"github.com/montanaflynn/stats"
)

// maxJitterSamples bounds the rolling window fed to the p95 estimator
// (spec.md §4.9: "rolling window of |IAT - avg_IAT| samples ... last <=
// 128 jitter samples").
const maxJitterSamples = 128

const jitterEWMAAlpha = 0.1

// entry is one buffered, not-yet-released payload.
type entry struct {
	payload []byte
	arrival time.Time
}

// Stats mirrors the reassembly counters of spec.md §4.9.
type Stats struct {
	Lost      uint64
	Late      uint64
	Duplicate uint64
}

// Buffer is the adaptive-latency jitter buffer. It is single-owner: the
// reassembly goroutine is the only caller of Arrive/Release (spec.md §5
// "Reassembly state has a single owner").
type Buffer struct {
	startLatency time.Duration
	maxLatency   time.Duration
	skipAfter    time.Duration
	multiplier   float64

	nextSeq uint64
	buf     map[uint64]entry

	haveLastArrival bool
	lastArrival     time.Time
	avgIAT          float64 // EWMA, milliseconds
	jitterSamples   []float64
	smoothedJitter  float64

	latency time.Duration

	stats Stats
}

// Config carries the tunables of spec.md §6 receiver.* keys.
type Config struct {
	StartLatency     time.Duration
	MaxLatency       time.Duration
	SkipAfter        time.Duration
	JitterMultiplier float64
}

// New creates a Buffer starting delivery at sequence 0.
func New(cfg Config) *Buffer {
	return &Buffer{
		startLatency: cfg.StartLatency,
		maxLatency:   cfg.MaxLatency,
		skipAfter:    cfg.SkipAfter,
		multiplier:   cfg.JitterMultiplier,
		buf:          make(map[uint64]entry),
		latency:      cfg.StartLatency,
	}
}

// NextSeq reports the next sequence the buffer expects to release.
func (b *Buffer) NextSeq() uint64 { return b.nextSeq }

// Latency reports the buffer's current adaptive target latency.
func (b *Buffer) Latency() time.Duration { return b.latency }

// Stats returns a snapshot of the lost/late/duplicate counters.
func (b *Buffer) Stats() Stats { return b.stats }

// Arrive admits one newly-received payload at the given sequence and
// arrival time (spec.md §4.9 "Per-arrival update").
func (b *Buffer) Arrive(seq uint64, payload []byte, arrival time.Time) {
	if seq < b.nextSeq {
		b.stats.Late++
		return
	}
	if _, dup := b.buf[seq]; dup {
		b.stats.Duplicate++
		return
	}
	b.buf[seq] = entry{payload: append([]byte(nil), payload...), arrival: arrival}
	b.updateJitterLocked(arrival)
}

func (b *Buffer) updateJitterLocked(arrival time.Time) {
	if b.haveLastArrival {
		iatMs := float64(arrival.Sub(b.lastArrival).Microseconds()) / 1000.0
		if b.avgIAT == 0 {
			b.avgIAT = iatMs
		} else {
			b.avgIAT = b.avgIAT*(1-jitterEWMAAlpha) + iatMs*jitterEWMAAlpha
		}
		sample := iatMs - b.avgIAT
		if sample < 0 {
			sample = -sample
		}
		b.jitterSamples = append(b.jitterSamples, sample)
		if len(b.jitterSamples) > maxJitterSamples {
			b.jitterSamples = b.jitterSamples[len(b.jitterSamples)-maxJitterSamples:]
		}
		b.smoothedJitter = b.smoothedJitter*(1-jitterEWMAAlpha) + sample*jitterEWMAAlpha
	}
	b.lastArrival = arrival
	b.haveLastArrival = true

	p95 := b.smoothedJitter
	if len(b.jitterSamples) >= 5 {
		if v, err := stats.Percentile(append([]float64(nil), b.jitterSamples...), 95); err == nil {
			p95 = v
		}
	}
	target := b.startLatency + time.Duration(b.multiplier*p95*float64(time.Millisecond))
	if target > b.maxLatency {
		target = b.maxLatency
	}
	if target < b.startLatency {
		target = b.startLatency
	}
	b.latency = target
}

// Released is one payload handed back to the caller by Release, in
// delivery order.
type Released struct {
	Sequence uint64
	Payload  []byte
}

// Release runs the per-tick release loop (spec.md §4.9): releases every
// buffered entry at the head that has resided >= latency, or skips a
// permanently stuck head gap once it has aged past skipAfter.
func (b *Buffer) Release(now time.Time) []Released {
	var out []Released
	for {
		if e, ok := b.buf[b.nextSeq]; ok {
			if now.Sub(e.arrival) >= b.latency {
				delete(b.buf, b.nextSeq)
				out = append(out, Released{Sequence: b.nextSeq, Payload: e.payload})
				b.nextSeq++
				continue
			}
			break
		}

		earliest, ok := b.earliestBufferedLocked()
		if !ok {
			break
		}
		if now.Sub(earliest.arrival) >= b.skipAfter {
			skipped := earliest.seq - b.nextSeq
			b.stats.Lost += skipped
			b.nextSeq = earliest.seq
			continue
		}
		break
	}
	return out
}

type seqArrival struct {
	seq     uint64
	arrival time.Time
}

func (b *Buffer) earliestBufferedLocked() (seqArrival, bool) {
	if len(b.buf) == 0 {
		return seqArrival{}, false
	}
	seqs := make([]uint64, 0, len(b.buf))
	for s := range b.buf {
		seqs = append(seqs, s)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	s := seqs[0]
	return seqArrival{seq: s, arrival: b.buf[s].arrival}, true
}
