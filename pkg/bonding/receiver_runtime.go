package bonding

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/strata-video/bonding/internal/config"
	"github.com/strata-video/bonding/internal/fec"
	"github.com/strata-video/bonding/internal/link"
	"github.com/strata-video/bonding/internal/logging"
	"github.com/strata-video/bonding/internal/metrics"
	"github.com/strata-video/bonding/internal/reassembly"
	"github.com/strata-video/bonding/internal/receiver"
)

// deliveryQueueDepth bounds the consumer-facing channel; a slow consumer
// applies backpressure to Tick rather than growing memory unbounded.
const deliveryQueueDepth = 256

// ReceiverRuntime is the consumer-side entry point: one per inbound
// session, owning every configured link and the reassembly pipeline.
type ReceiverRuntime struct {
	logger logging.Logger

	mu    sync.Mutex
	links map[int]*link.Link

	recv    *receiver.Receiver
	metrics *metrics.Metrics

	deliveries chan receiver.Delivery

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewReceiverRuntime constructs a ReceiverRuntime from cfg and starts its
// background goroutines. Callers must call Close when done.
func NewReceiverRuntime(cfg config.Config, logger logging.Logger) *ReceiverRuntime {
	if logger == nil {
		logger = logging.Discard
	}
	decoder := fec.NewDecoder(16)
	recv := receiver.New(receiver.Config{
		Reassembly:   reassembly.Config{
			StartLatency:     cfg.Receiver.StartLatency,
			MaxLatency:       cfg.Receiver.MaxLatency,
			SkipAfter:        cfg.Receiver.SkipAfter,
			JitterMultiplier: cfg.Receiver.JitterMultiplier,
		},
		MaxNackRetry: cfg.Sender.MaxRetries,
	}, decoder, logger)

	rr := &ReceiverRuntime{
		logger:     logger,
		links:      make(map[int]*link.Link),
		recv:       recv,
		metrics:    metrics.New(),
		deliveries: make(chan receiver.Delivery, deliveryQueueDepth),
	}

	for _, lc := range cfg.Links {
		if err := rr.addLinkLocked(lc); err != nil {
			logger.WithField("link_id", lc.ID).Warnf("add_link at startup failed: %v", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	rr.cancel = cancel
	rr.wg.Add(1)
	go rr.tickLoop(ctx)

	return rr
}

// AddLink adds a new bonded inbound path.
func (rr *ReceiverRuntime) AddLink(id int, uri string, iface string) error {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	return rr.addLinkLocked(config.LinkConfig{ID: id, URI: uri, Interface: iface})
}

func (rr *ReceiverRuntime) addLinkLocked(lc config.LinkConfig) error {
	l, err := link.New(link.Config{
		ID:                 lc.ID,
		URI:                lc.URI,
		Interface:           lc.Interface,
		SignalThresholdDbm:  lc.SignalThresholdDBm,
		CapacityPenalty:     lc.CapacityPenalty,
	}, rr.logger, 4096)
	if err != nil {
		return fmt.Errorf("add_link %d: %w", lc.ID, err)
	}
	rr.links[lc.ID] = l
	rr.metrics.SetLinksTotal(len(rr.links))

	rr.wg.Add(1)
	go rr.receiveLoop(l)
	return nil
}

// RemoveLink tears down an inbound path.
func (rr *ReceiverRuntime) RemoveLink(id int) {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	l, ok := rr.links[id]
	if !ok {
		return
	}
	delete(rr.links, id)
	rr.metrics.SetLinksTotal(len(rr.links))
	l.Close()
}

// Deliveries returns the channel of in-order, deduplicated payloads.
func (rr *ReceiverRuntime) Deliveries() <-chan receiver.Delivery {
	return rr.deliveries
}

// Stats returns the current reassembly/loss counters.
func (rr *ReceiverRuntime) Stats() reassembly.Stats {
	return rr.recv.Stats()
}

// MetricsHandle returns the shared metrics exporter.
func (rr *ReceiverRuntime) MetricsHandle() *metrics.Metrics {
	return rr.metrics
}

// LinkCount returns the number of links currently bound.
func (rr *ReceiverRuntime) LinkCount() int {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	return len(rr.links)
}

func (rr *ReceiverRuntime) receiveLoop(l *link.Link) {
	defer rr.wg.Done()
	for raw := range l.Inbound() {
		rr.mu.Lock()
		deliveries := rr.recv.Receive(raw, l.ID(), time.Now())
		rr.mu.Unlock()
		rr.emit(deliveries)
	}
}

func (rr *ReceiverRuntime) tickLoop(ctx context.Context) {
	defer rr.wg.Done()
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			rr.tick(now)
		}
	}
}

func (rr *ReceiverRuntime) tick(now time.Time) {
	rr.mu.Lock()
	deliveries, feedback := rr.recv.Tick(now)
	var links []*link.Link
	for _, l := range rr.links {
		links = append(links, l)
	}
	rr.mu.Unlock()

	rr.emit(deliveries)

	for _, out := range feedback {
		for _, l := range links {
			if out.LinkID != -1 && out.LinkID != l.ID() {
				continue
			}
			l.Enqueue(out.Body)
		}
	}
}

func (rr *ReceiverRuntime) emit(deliveries []receiver.Delivery) {
	for _, d := range deliveries {
		rr.deliveries <- d
	}
}

// Close stops the runtime's background goroutines and every owned link,
// then closes the delivery channel.
func (rr *ReceiverRuntime) Close() error {
	rr.cancel()
	rr.mu.Lock()
	for _, l := range rr.links {
		l.Close()
	}
	rr.mu.Unlock()
	rr.wg.Wait()
	close(rr.deliveries)
	return nil
}
