// Package bonding is the public surface of the bonded-transport core: a
// producer-side Runtime wrapping the sender, scheduler, and per-link
// transports, and a ReceiverRuntime wrapping the receiver and reassembly
// buffer for the consumer side.
//
// The "runtime owns every component and Close() tears down its
// goroutines" shape follows ooni-netem's topology.go (PPPTopology: owns
// stacks + link, sync.Once shutdown).
package bonding

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/strata-video/bonding/internal/classify"
	"github.com/strata-video/bonding/internal/config"
	"github.com/strata-video/bonding/internal/fec"
	"github.com/strata-video/bonding/internal/link"
	"github.com/strata-video/bonding/internal/logging"
	"github.com/strata-video/bonding/internal/metrics"
	"github.com/strata-video/bonding/internal/scheduler"
	"github.com/strata-video/bonding/internal/sender"
	"github.com/strata-video/bonding/internal/supervisor"
	"github.com/strata-video/bonding/internal/wire"
)

// tickInterval is the cadence of the timer goroutine driving tick(),
// metrics snapshotting, and feedback draining.
const tickInterval = 20 * time.Millisecond

// Runtime is the producer-side entry point: the object a media pipeline
// constructs once per outbound session.
type Runtime struct {
	logger logging.Logger

	mu     sync.Mutex
	cfg    config.Config
	links  map[int]*link.Link

	sched      *scheduler.Scheduler
	fecEncoder *fec.Encoder
	sender     *sender.Sender
	supervisor *supervisor.Supervisor
	metrics    *metrics.Metrics

	prevLinkStats map[int]sender.Stats // last tick's cumulative per-link snapshot, for delta computation

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Runtime from cfg and starts its background goroutines.
// Callers must call Close when done.
func New(cfg config.Config, logger logging.Logger) *Runtime {
	if logger == nil {
		logger = logging.Discard
	}
	sched := scheduler.New(time.Now().UnixNano())
	sched.SetBlestParams(cfg.Scheduler.BlestThreshold, cfg.Scheduler.BlestMaxPenalty)

	fecEncoder := fec.NewEncoder(cfg.FEC.K, cfg.FEC.R)
	snd := sender.New(cfg.Sender, fecEncoder, sched, logger)

	r := &Runtime{
		logger:        logger,
		cfg:           cfg,
		links:         make(map[int]*link.Link),
		sched:         sched,
		fecEncoder:    fecEncoder,
		sender:        snd,
		supervisor:    supervisor.New(supervisor.DefaultConfig(), logger),
		metrics:       metrics.New(),
		prevLinkStats: make(map[int]sender.Stats),
	}

	for _, lc := range cfg.Links {
		if err := r.addLinkLocked(lc); err != nil {
			logger.WithField("link_id", lc.ID).Warnf("add_link at startup failed: %v", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.wg.Add(1)
	go r.tickLoop(ctx)

	return r
}

// Send submits payload for transmission.
func (r *Runtime) Send(payload []byte, profile classify.Profile) sender.Result {
	return r.sender.Send(payload, profile)
}

// AddLink adds a new bonded path.
func (r *Runtime) AddLink(id int, uri string, iface string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.addLinkLocked(config.LinkConfig{ID: id, URI: uri, Interface: iface})
}

func (r *Runtime) addLinkLocked(lc config.LinkConfig) error {
	l, err := link.New(link.Config{
		ID:                 lc.ID,
		URI:                lc.URI,
		Interface:           lc.Interface,
		SignalThresholdDbm:  lc.SignalThresholdDBm,
		CapacityPenalty:     lc.CapacityPenalty,
	}, r.logger, r.cfg.Sender.PoolCapacity)
	if err != nil {
		return fmt.Errorf("add_link %d: %w", lc.ID, err)
	}
	r.links[lc.ID] = l
	r.sender.AddLink(l)
	r.supervisor.AddLink(lc.ID)
	r.metrics.SetLinksTotal(len(r.links))

	r.wg.Add(1)
	go r.feedbackLoop(l)
	return nil
}

// RemoveLink tears down a bonded path.
func (r *Runtime) RemoveLink(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.links[id]
	if !ok {
		return
	}
	delete(r.links, id)
	r.sender.RemoveLink(id)
	r.supervisor.RemoveLink(id)
	r.metrics.SetLinksTotal(len(r.links))
	l.Close()
}

// ApplyConfig updates the scheduler/FEC tunables live. Link topology
// changes go through AddLink/RemoveLink.
func (r *Runtime) ApplyConfig(cfg config.Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg = cfg
	r.sched.SetBlestParams(cfg.Scheduler.BlestThreshold, cfg.Scheduler.BlestMaxPenalty)
	r.fecEncoder.SetKR(cfg.FEC.K, cfg.FEC.R)
}

// MetricsHandle returns the shared metrics exporter.
func (r *Runtime) MetricsHandle() *metrics.Metrics {
	return r.metrics
}

// feedbackLoop decodes control packets arriving on one link and applies
// them to the sender (ACK/NACK/Pong).
func (r *Runtime) feedbackLoop(l *link.Link) {
	defer r.wg.Done()
	for raw := range l.Inbound() {
		pkt, err := wire.Decode(raw)
		if err != nil {
			continue
		}
		r.sender.OnFeedback(l.ID(), pkt)
	}
}

func (r *Runtime) tickLoop(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			r.tick(now)
		}
	}
}

func (r *Runtime) tick(now time.Time) {
	r.sender.Tick(now)

	r.mu.Lock()
	cands := make([]scheduler.Candidate, 0, len(r.links))
	for _, l := range r.links {
		l.Tick()
		cands = append(cands, l.ToCandidate(0, 0))
	}
	r.mu.Unlock()
	r.sched.Tick(cands)

	r.publishMetricsLocked(now)
}

// publishMetricsLocked exports one tick's worth of per-link counters.
// sender.LinkStats returns cumulative lifetime totals, so each field is
// diffed against the previous tick's snapshot before being handed to the
// Prometheus counters Update adds to — passing the cumulative value
// directly would make every series grow quadratically and, since it's
// the same aggregate under every link label, multiply the total by the
// link count.
func (r *Runtime) publishMetricsLocked(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, l := range r.links {
		snap := l.CC().Snapshot()
		cur := r.sender.LinkStats(id)
		prev := r.prevLinkStats[id]
		r.metrics.Update(metrics.LinkSnapshot{
			LinkID:               fmt.Sprintf("%d", id),
			Interface:            "",
			RttMs:                float64(snap.MinRTT) / float64(time.Millisecond),
			CapacityBps:          snap.EstimatedCapBps,
			Alive:                true,
			EstimatedCapacityBps: snap.EstimatedCapBps,
			PacketsSentDelta:     delta(cur.PacketsSent, prev.PacketsSent),
			PacketsAckedDelta:    delta(cur.PacketsAcked, prev.PacketsAcked),
			RetransmissionsDelta: delta(cur.Retransmissions, prev.Retransmissions),
			FecRepairsSentDelta:  delta(cur.FecRepairsSent, prev.FecRepairsSent),
			PacketsExpiredDelta:  delta(cur.PacketsExpired, prev.PacketsExpired),
		})
		r.prevLinkStats[id] = cur
	}
}

// delta returns cur-prev as a non-negative float, treating a cur < prev
// (a link removed and re-added, reusing an id with a fresh counter) as a
// reset to zero rather than a negative delta.
func delta(cur, prev uint64) float64 {
	if cur < prev {
		return float64(cur)
	}
	return float64(cur - prev)
}

// Close stops the runtime's background goroutines and every owned link.
func (r *Runtime) Close() error {
	r.cancel()
	r.mu.Lock()
	for _, l := range r.links {
		l.Close()
	}
	r.mu.Unlock()
	r.wg.Wait()
	return nil
}
