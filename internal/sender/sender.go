// Package sender implements the producer-side state machine of spec.md
// §4.7: sequence allocation, classification, FEC submission, pool
// insertion, scheduler arbitration, retransmission, and expiry.
//
// Grounded on original_source's rist-bonding-core/src/runtime.rs (the
// allocate/classify/submit pipeline shape) and strata-transport/src/
// stats.rs (the accepted/full/refused/expired counters), reimplemented
// against this module's own pool/fec/scheduler/link packages.
package sender

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/xid"

	"github.com/strata-video/bonding/internal/classify"
	"github.com/strata-video/bonding/internal/config"
	"github.com/strata-video/bonding/internal/fec"
	"github.com/strata-video/bonding/internal/link"
	"github.com/strata-video/bonding/internal/logging"
	"github.com/strata-video/bonding/internal/pool"
	"github.com/strata-video/bonding/internal/scheduler"
	"github.com/strata-video/bonding/internal/wire"
)

// Status is the outcome of a Send call (spec.md §4.7).
type Status int

const (
	Accepted Status = iota
	Full
	Refused
)

func (s Status) String() string {
	switch s {
	case Accepted:
		return "Accepted"
	case Full:
		return "Full"
	case Refused:
		return "Refused"
	default:
		return "Unknown"
	}
}

// Result is what Send reports back to the producer.
type Result struct {
	Status Status
	Reason string
	Seq    uint64
}

// Stats mirrors the transport counters of spec.md §4.11.
type Stats struct {
	PacketsSent     uint64
	PacketsAcked    uint64
	Retransmissions uint64
	FecRepairsSent  uint64
	PacketsExpired  uint64
}

// linkRTT tracks one link's smoothed RTT/OWD, fed by Pong processing.
type linkRTT struct {
	smoothedRTT time.Duration
	owd         time.Duration
}

// Sender is the producer-side runtime: one per bonding session.
type Sender struct {
	cfg    config.SenderConfig
	logger logging.Logger

	sessionID xid.ID
	seq       atomic.Uint64

	pool      *pool.Pool
	fecEnc    *fec.Encoder
	scheduler *scheduler.Scheduler

	mu        sync.Mutex
	links     map[int]*link.Link
	rtts      map[int]*linkRTT
	linkStats map[int]*Stats // per-link breakdown; see LinkStats

	lastFecActivity time.Time // last time AddSource fed the encoder; drives Tick's idle-flush check

	stats Stats
}

// New creates a Sender bound to the given configuration. The scheduler and
// FEC encoder are supplied by the caller since both also need lifecycle
// hooks (Tick, SetKR) the wider runtime drives.
func New(cfg config.SenderConfig, fecEnc *fec.Encoder, sched *scheduler.Scheduler, logger logging.Logger) *Sender {
	if logger == nil {
		logger = logging.Discard
	}
	return &Sender{
		cfg:             cfg,
		logger:          logger,
		sessionID:       xid.New(),
		pool:            pool.New(cfg.PoolCapacity),
		fecEnc:          fecEnc,
		scheduler:       sched,
		links:           make(map[int]*link.Link),
		rtts:            make(map[int]*linkRTT),
		linkStats:       make(map[int]*Stats),
		lastFecActivity: time.Now(),
	}
}

// SessionID is this sender's handshake session identity.
func (s *Sender) SessionID() xid.ID { return s.sessionID }

// AddLink registers a link the scheduler may pick among.
func (s *Sender) AddLink(l *link.Link) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links[l.ID()] = l
	s.rtts[l.ID()] = &linkRTT{}
}

// RemoveLink unregisters a link (spec.md §6 remove_link).
func (s *Sender) RemoveLink(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.links, id)
	delete(s.rtts, id)
}

// Stats returns a snapshot of the fleet-wide transport counters.
func (s *Sender) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// LinkStats returns the cumulative counters attributed to one link, for
// callers (the metrics exporter) that need a per-link breakdown rather
// than the fleet-wide aggregate returned by Stats. Callers compute their
// own deltas across successive calls.
func (s *Sender) LinkStats(linkID int) Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	ls, ok := s.linkStats[linkID]
	if !ok {
		return Stats{}
	}
	return *ls
}

// linkStatsLocked returns (creating if absent) the per-link counters for
// linkID. Callers must hold s.mu.
func (s *Sender) linkStatsLocked(linkID int) *Stats {
	ls, ok := s.linkStats[linkID]
	if !ok {
		ls = &Stats{}
		s.linkStats[linkID] = ls
	}
	return ls
}

// Send classifies, timestamps, feeds FEC, inserts into the pool, and
// submits payload to the scheduler (spec.md §4.7). It never blocks.
func (s *Sender) Send(payload []byte, profile classify.Profile) Result {
	priority := classify.Classify(profile)
	seq := s.seq.Add(1) - 1
	now := time.Now()

	entry := pool.Entry{
		Sequence:   seq,
		Priority:   priority,
		Payload:    append([]byte(nil), payload...),
		EnqueuedAt: now,
		LinkID:     -1,
	}
	handle, err := s.pool.Insert(entry)
	if err != nil {
		return Result{Status: Full, Seq: seq}
	}

	if priority != wire.PriorityCritical {
		s.feedFEC(payload)
	}

	cands := s.candidatesLocked(now)
	decision := s.scheduler.Pick(len(payload), priority, cands, now)
	if decision.Refused {
		s.pool.Remove(handle)
		return Result{Status: Refused, Reason: decision.Reason, Seq: seq}
	}

	ts := wire.NowMicros32(now)
	buf := s.pool.GetBuffer()
	buf = wire.EncodeData(buf, seq, ts, wire.FragmentComplete, profile.IsKeyframe, profile.IsConfig, payload)

	for _, linkID := range decision.LinkIDs {
		s.mu.Lock()
		l := s.links[linkID]
		s.mu.Unlock()
		if l == nil {
			continue
		}
		if !l.Enqueue(append([]byte(nil), buf...)) {
			continue // queue full: treated as transient backpressure, not a send failure
		}
		s.pool.Update(handle, func(e *pool.Entry) { e.LinkID = linkID })
		s.mu.Lock()
		s.linkStatsLocked(linkID).PacketsSent++
		s.mu.Unlock()
	}
	s.pool.PutBuffer(buf)

	s.mu.Lock()
	s.stats.PacketsSent++
	s.mu.Unlock()

	return Result{Status: Accepted, Seq: seq}
}

func (s *Sender) feedFEC(payload []byte) {
	_, _, repairs, closed := s.fecEnc.AddSource(payload)
	s.mu.Lock()
	s.lastFecActivity = time.Now()
	s.mu.Unlock()
	if closed && len(repairs) > 0 {
		s.broadcastRepairs(repairs)
	}
}

func (s *Sender) broadcastRepairs(repairs []fec.Repair) {
	s.mu.Lock()
	s.stats.FecRepairsSent += uint64(len(repairs))
	links := make([]*link.Link, 0, len(s.links))
	for _, l := range s.links {
		links = append(links, l)
		s.linkStatsLocked(l.ID()).FecRepairsSent += uint64(len(repairs))
	}
	s.mu.Unlock()

	now := time.Now()
	ts := wire.NowMicros32(now)
	for _, r := range repairs {
		body := r.Append(nil)
		buf := wire.EncodeControl(nil, wire.TypeFecRepair, s.seq.Add(1)-1, ts, body)
		for _, l := range links {
			l.Enqueue(append([]byte(nil), buf...))
		}
	}
}

func (s *Sender) candidatesLocked(now time.Time) []scheduler.Candidate {
	s.mu.Lock()
	defer s.mu.Unlock()
	cands := make([]scheduler.Candidate, 0, len(s.links))
	for id, l := range s.links {
		rtt := s.rtts[id]
		cands = append(cands, l.ToCandidate(rtt.smoothedRTT, rtt.owd/2))
	}
	return cands
}

// OnFeedback applies an Ack or Nack control packet observed from link
// linkID (spec.md §4.7).
func (s *Sender) OnFeedback(linkID int, pkt wire.Packet) {
	switch pkt.Header.Type {
	case wire.TypeAck:
		s.applyAck(linkID, pkt.Ack)
	case wire.TypeNack:
		s.applyNack(linkID, pkt.Nack)
	case wire.TypePong:
		s.applyPong(linkID, pkt.Pong)
	}
}

func (s *Sender) applyAck(linkID int, ack wire.Ack) {
	s.pool.Each(func(h pool.Handle, e pool.Entry) {
		if e.Sequence <= ack.CumulativeSeq {
			s.pool.Update(h, func(e *pool.Entry) { e.Acked = true })
		} else if e.Sequence > ack.CumulativeSeq && e.Sequence <= ack.CumulativeSeq+64 {
			bit := e.Sequence - ack.CumulativeSeq - 1
			if ack.SackBitmap&(1<<bit) != 0 {
				s.pool.Update(h, func(e *pool.Entry) { e.Acked = true })
			}
		}
	})
	purged := s.pool.PurgeAcked()
	s.mu.Lock()
	s.stats.PacketsAcked += uint64(len(purged))
	// Attributed to the reporting link as an approximation: an Ack can
	// cumulatively cover packets originally sent on other links too.
	s.linkStatsLocked(linkID).PacketsAcked += uint64(len(purged))
	s.mu.Unlock()
	s.scheduler.OnFeedback(linkID, true)
}

func (s *Sender) applyNack(linkID int, nack wire.Nack) {
	for _, r := range nack.Ranges {
		for seq := r.Start; seq < r.Start+r.Count; seq++ {
			handle, entry, ok := s.pool.FindBySequence(seq)
			if !ok {
				continue
			}
			if entry.RetryCount >= s.cfg.MaxRetries {
				s.pool.Remove(handle)
				s.mu.Lock()
				s.stats.PacketsExpired++
				s.linkStatsLocked(linkID).PacketsExpired++
				s.mu.Unlock()
				continue
			}
			s.pool.Update(handle, func(e *pool.Entry) { e.RetryCount++ })
			s.retransmit(entry)
			s.mu.Lock()
			s.stats.Retransmissions++
			s.linkStatsLocked(linkID).Retransmissions++
			s.mu.Unlock()
		}
	}
	s.scheduler.OnFeedback(linkID, false)
}

func (s *Sender) retransmit(entry pool.Entry) {
	now := time.Now()
	ts := wire.NowMicros32(now)
	buf := wire.EncodeData(nil, entry.Sequence, ts, wire.FragmentComplete, false, false, entry.Payload)
	cands := s.candidatesLocked(now)
	decision := s.scheduler.Pick(len(entry.Payload), entry.Priority, cands, now)
	if decision.Refused {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, linkID := range decision.LinkIDs {
		if l := s.links[linkID]; l != nil {
			l.Enqueue(append([]byte(nil), buf...))
		}
	}
}

func (s *Sender) applyPong(linkID int, pong wire.Pong) {
	now := wire.NowMicros32(time.Now())
	rtt := time.Duration(now-uint32(pong.OriginTimestampUs)) * time.Microsecond
	owd := time.Duration(pong.ReceiveTimestampUs-pong.OriginTimestampUs) * time.Microsecond

	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rtts[linkID]
	if !ok {
		return
	}
	const alpha = 0.2
	if r.smoothedRTT == 0 {
		r.smoothedRTT = rtt
		r.owd = owd
	} else {
		r.smoothedRTT = time.Duration(float64(r.smoothedRTT)*(1-alpha) + float64(rtt)*alpha)
		r.owd = time.Duration(float64(r.owd)*(1-alpha) + float64(owd)*alpha)
	}
	if l := s.links[linkID]; l != nil {
		l.CC().OnRTTSample(r.smoothedRTT)
	}
}

// Tick drains expired pool entries and flushes FEC if the sender has gone
// idle (spec.md §4.7). Idleness is measured since the last time a source
// payload actually fed the encoder, not since the last Tick call — Tick
// itself runs on a fixed, much shorter cadence and would otherwise never
// reach the idle threshold.
func (s *Sender) Tick(now time.Time) {
	var expired []pool.Handle
	var expiredLinkIDs []int
	s.pool.Each(func(h pool.Handle, e pool.Entry) {
		if now.Sub(e.EnqueuedAt) > s.cfg.PacketTTL {
			expired = append(expired, h)
			expiredLinkIDs = append(expiredLinkIDs, e.LinkID)
		}
	})
	for _, h := range expired {
		s.pool.Remove(h)
	}
	s.mu.Lock()
	s.stats.PacketsExpired += uint64(len(expired))
	for _, linkID := range expiredLinkIDs {
		if linkID == -1 {
			continue // never actually enqueued on a link: every picked link's Enqueue failed
		}
		s.linkStatsLocked(linkID).PacketsExpired++
	}
	idle := now.Sub(s.lastFecActivity) > 200*time.Millisecond
	s.mu.Unlock()

	if idle {
		_, repairs := s.fecEnc.Flush()
		s.mu.Lock()
		s.lastFecActivity = now
		s.mu.Unlock()
		if len(repairs) > 0 {
			s.broadcastRepairs(repairs)
		}
	}
}
