// Package receiver implements the consumer-side state machine of spec.md
// §4.8: per-link ingress, deduplication, gap tracking, NACK scheduling,
// FEC-assisted recovery, and periodic ACK/ReceiverReport emission.
//
// Grounded on original_source's rist-bonding-core/src/receiver/
// {aggregator,bonding}.rs for the receive/tick split and the gap-tracking
// shape, reimplemented against this module's own wire/fec/reassembly
// packages.
package receiver

import (
	"time"

	"github.com/strata-video/bonding/internal/fec"
	"github.com/strata-video/bonding/internal/logging"
	"github.com/strata-video/bonding/internal/reassembly"
	"github.com/strata-video/bonding/internal/wire"
)

// defaultAckInterval and defaultReportInterval match spec.md §4.8's
// "at most every ack_interval" and §4.11's "periodic ... (default 1 s)".
const (
	defaultAckInterval    = 20 * time.Millisecond
	defaultReportInterval = 1 * time.Second
)

// nackEntry tracks one outstanding gap's retry state.
type nackEntry struct {
	firstSeen time.Time
	lastSent  time.Time
	retries   int
}

// Config bundles the receiver-side tunables needed beyond the reassembly
// buffer's own configuration (spec.md §6).
type Config struct {
	Reassembly    reassembly.Config
	AckInterval   time.Duration
	NackRearm     time.Duration
	MaxNackRetry  int
	ReportPeriod  time.Duration
}

// Delivery is one payload handed to the consumer, in monotone order.
type Delivery struct {
	Sequence uint64
	Payload  []byte
}

// Outbound is a feedback packet the receiver wants transmitted back to
// the sender on the link it arrived from.
type Outbound struct {
	LinkID int
	Type   wire.PacketType
	Body   []byte
}

// Receiver is the consumer-side runtime: one per bonding session.
type Receiver struct {
	cfg    Config
	logger logging.Logger

	decoder *fec.Decoder

	delivered   map[uint64]bool // at-most-once dedup across all links
	cumulative  uint64          // highest contiguous sequence released downstream
	gaps        map[uint64]*nackEntry
	reassembler *reassembly.Buffer

	lastAckSent    time.Time
	lastReportSent time.Time

	goodputBytes    uint64
	fecRepairs      uint64
	lossAfterFec    uint64
	jitterBufferMs  float64
	duplicates      uint64 // already-delivered sequences observed again, e.g. a NACK retransmit landing after release

	pendingOut []Outbound
}

// New creates a Receiver.
func New(cfg Config, decoder *fec.Decoder, logger logging.Logger) *Receiver {
	if logger == nil {
		logger = logging.Discard
	}
	if cfg.AckInterval == 0 {
		cfg.AckInterval = defaultAckInterval
	}
	if cfg.ReportPeriod == 0 {
		cfg.ReportPeriod = defaultReportInterval
	}
	return &Receiver{
		cfg:         cfg,
		logger:      logger,
		decoder:     decoder,
		delivered:   make(map[uint64]bool),
		gaps:        make(map[uint64]*nackEntry),
		reassembler: reassembly.New(cfg.Reassembly),
	}
}

// Receive processes one datagram observed on linkID at arrival
// (spec.md §4.8 receive()). Admitted payloads go into the reassembly
// buffer and are released to the consumer by Tick; the returned slice is
// always empty.
func (r *Receiver) Receive(raw []byte, linkID int, arrival time.Time) []Delivery {
	pkt, err := wire.Decode(raw)
	if err != nil {
		return nil // WireMalformed: silent drop (spec.md §7)
	}

	switch pkt.Header.Type {
	case wire.TypeData:
		return r.onData(pkt.Header.Sequence, pkt.Payload, arrival)
	case wire.TypeFecRepair:
		recovered := r.decoder.AddRepair(pkt.FecRepair)
		var out []Delivery
		for _, rec := range recovered {
			out = append(out, r.admit(uint64(rec.Index), rec.Payload, arrival)...)
		}
		return out
	case wire.TypePing:
		pong := wire.Pong{
			OriginTimestampUs:  pkt.Ping.OriginTimestampUs,
			PingID:             pkt.Ping.PingID,
			ReceiveTimestampUs: uint64(wire.NowMicros32(arrival)),
		}
		r.pendingOut = append(r.pendingOut, Outbound{LinkID: linkID, Type: wire.TypePong, Body: pong.Append(nil)})
		return nil
	default:
		// Session/LinkReport/BitrateCmd are handled by the supervisor,
		// which reads them off the same decoded stream separately.
		return nil
	}
}

func (r *Receiver) onData(seq uint64, payload []byte, arrival time.Time) []Delivery {
	if r.delivered[seq] {
		r.duplicates++ // already delivered downstream on another link or a late retransmit
		return nil
	}
	r.goodputBytes += uint64(len(payload))
	delete(r.gaps, seq)
	return r.admit(seq, payload, arrival)
}

func (r *Receiver) admit(seq uint64, payload []byte, arrival time.Time) []Delivery {
	if r.delivered[seq] {
		r.duplicates++
		return nil
	}
	r.reassembler.Arrive(seq, payload, arrival)
	return nil // released lazily from Tick's release loop, per spec.md §4.9
}

// Tick advances reassembly delivery, arms/expires NACKs, and returns the
// payloads now ready for the consumer plus feedback packets to transmit
// (spec.md §4.8 tick()).
func (r *Receiver) Tick(now time.Time) (deliveries []Delivery, feedback []Outbound) {
	released := r.reassembler.Release(now)
	for _, rel := range released {
		r.delivered[rel.Sequence] = true
		deliveries = append(deliveries, Delivery{Sequence: rel.Sequence, Payload: rel.Payload})
		if rel.Sequence > r.cumulative || (rel.Sequence == r.cumulative+1) {
			r.cumulative = rel.Sequence
		}
	}

	r.trackGapsLocked(now)
	feedback = r.drainPendingOut()

	if len(released) > 0 || now.Sub(r.lastAckSent) >= r.cfg.AckInterval {
		feedback = append(feedback, r.buildAck())
		r.lastAckSent = now
	}
	feedback = append(feedback, r.buildNacks(now)...)

	if now.Sub(r.lastReportSent) >= r.cfg.ReportPeriod {
		feedback = append(feedback, r.buildReport())
		r.lastReportSent = now
	}

	r.jitterBufferMs = float64(r.reassembler.Latency()) / float64(time.Millisecond)
	return deliveries, feedback
}

func (r *Receiver) trackGapsLocked(now time.Time) {
	next := r.reassembler.NextSeq()
	for seq := r.cumulative + 1; seq < next; seq++ {
		if r.delivered[seq] {
			continue
		}
		if _, ok := r.gaps[seq]; !ok {
			r.gaps[seq] = &nackEntry{firstSeen: now}
		}
	}
}

func (r *Receiver) buildAck() Outbound {
	ack := wire.Ack{CumulativeSeq: r.cumulative}
	for seq := r.cumulative + 1; seq <= r.cumulative+64; seq++ {
		if r.delivered[seq] {
			ack.SackBitmap |= 1 << (seq - r.cumulative - 1)
		}
	}
	return Outbound{LinkID: -1, Type: wire.TypeAck, Body: ack.Append(nil)}
}

func (r *Receiver) buildNacks(now time.Time) []Outbound {
	var ranges []wire.NackRange
	for seq, g := range r.gaps {
		if g.retries >= r.cfg.MaxNackRetry {
			delete(r.gaps, seq)
			r.lossAfterFec++
			continue
		}
		if now.Sub(g.lastSent) < r.cfg.NackRearm {
			continue
		}
		g.lastSent = now
		g.retries++
		ranges = append(ranges, wire.NackRange{Start: seq, Count: 1})
	}
	if len(ranges) == 0 {
		return nil
	}
	nack := wire.Nack{Ranges: ranges}
	return []Outbound{{LinkID: -1, Type: wire.TypeNack, Body: nack.Append(nil)}}
}

func (r *Receiver) buildReport() Outbound {
	rr := wire.ReceiverReport{
		GoodputBps:     r.goodputBytes * 8,
		FecRepairRate:  0,
		JitterBufferMs: uint32(r.jitterBufferMs),
		LossAfterFec:   float32(r.lossAfterFec),
	}
	r.goodputBytes = 0
	return Outbound{LinkID: -1, Type: wire.TypeReceiverReport, Body: rr.Append(nil)}
}

func (r *Receiver) drainPendingOut() []Outbound {
	out := r.pendingOut
	r.pendingOut = nil
	return out
}

// Stats exposes the reassembly-level counters of spec.md §4.9/§4.11, with
// Duplicate also covering sequences observed again after their original
// had already been released downstream (a retransmit or broadcast copy
// arriving past the reassembly buffer's own dedup window).
func (r *Receiver) Stats() reassembly.Stats {
	s := r.reassembler.Stats()
	s.Duplicate += r.duplicates
	return s
}
