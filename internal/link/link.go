// Package link owns one bonded path end to end: its UDP socket, its
// Biscay congestion controller, its radio-health estimator, and its
// lifecycle phase. Per spec.md §5/§9, the link's own I/O goroutine is the
// sole writer of its CC and phase state; every other component (the
// scheduler, metrics export) reads an atomically-published Snapshot.
//
// Grounded on ooni-netem's link.go/nic.go (goroutine-per-direction
// forwarding, sync.Once shutdown, context.CancelFunc cooperative
// cancellation) generalized from a loopback-pair model to a single
// real UDP socket per link; bind-to-device idiom grounded in the
// golang.org/x/sys/unix usage found across the pack's netlink/socket
// tooling.
package link

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/strata-video/bonding/internal/cc"
	"github.com/strata-video/bonding/internal/linkstate"
	"github.com/strata-video/bonding/internal/logging"
	"github.com/strata-video/bonding/internal/radio"
	"github.com/strata-video/bonding/internal/scheduler"
)

// ErrBind is returned by New when the underlying socket cannot be bound
// (spec.md §7 LinkBind: fatal for that link).
var ErrBind = errors.New("link: bind failed")

// MaxDatagramBytes is the largest single UDP payload a link will read or
// write, covering jumbo frames (spec.md §6: "Jumbo frames are supported
// up to 9000 bytes").
const MaxDatagramBytes = 9000

// outboundQueueDepth bounds the per-link send queue; a full queue is
// backpressure, not an error condition the caller must special-case
// beyond treating Enqueue's false return as "drop Disposable first"
// (spec.md §5 "Suspension points").
const outboundQueueDepth = 512

// Config describes one link's static identity (spec.md §6
// `link[*]` configuration keys).
type Config struct {
	ID                int
	URI               string // "host:port" or "udp://host:port"
	Interface         string
	SignalThresholdDbm *float64
	CapacityPenalty    float64
}

func (c Config) hostPort() (string, error) {
	uri := strings.TrimPrefix(c.URI, "udp://")
	if _, _, err := net.SplitHostPort(uri); err != nil {
		return "", fmt.Errorf("link: invalid uri %q: %w", c.URI, err)
	}
	return uri, nil
}

// Link is one bonded path: a UDP socket, its congestion controller, its
// radio-health estimator, and its lifecycle phase.
type Link struct {
	id     int
	cfg    Config
	logger logging.Logger

	conn   *net.UDPConn
	remote *net.UDPAddr

	cc     *cc.Controller
	health *radio.Health

	phase atomic.Int32 // linkstate.Phase, published lock-free

	mu           sync.Mutex
	probeSamples int
	warmSamples  int
	queueDepth   int
	maxQueue     int

	outbound  chan []byte
	inbound   chan []byte
	closeOnce sync.Once
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New creates a Link bound to a local UDP socket (optionally pinned to a
// named interface) and connected to the configured remote endpoint, and
// starts its send/receive goroutines. Callers must call Close when done.
func New(cfg Config, logger logging.Logger, maxQueue int) (*Link, error) {
	hostPort, err := cfg.hostPort()
	if err != nil {
		return nil, err
	}
	remote, err := net.ResolveUDPAddr("udp", hostPort)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve %q: %v", ErrBind, hostPort, err)
	}

	lc := net.ListenConfig{}
	if cfg.Interface != "" {
		lc.Control = func(network, address string, rc syscall.RawConn) error {
			var sockErr error
			if err := rc.Control(func(fd uintptr) {
				sockErr = unix.BindToDevice(int(fd), cfg.Interface)
			}); err != nil {
				return err
			}
			return sockErr
		}
	}

	pc, err := lc.ListenPacket(context.Background(), "udp", ":0")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBind, err)
	}
	conn, ok := pc.(*net.UDPConn)
	if !ok {
		pc.Close()
		return nil, fmt.Errorf("%w: unexpected packet conn type", ErrBind)
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &Link{
		id:       cfg.ID,
		cfg:      cfg,
		logger:   logger,
		conn:     conn,
		remote:   remote,
		cc:       cc.NewController(),
		health:   radio.NewHealth(),
		maxQueue: maxQueue,
		outbound: make(chan []byte, outboundQueueDepth),
		inbound:  make(chan []byte, outboundQueueDepth),
		cancel:   cancel,
	}
	l.phase.Store(int32(linkstate.PhaseInit))

	l.wg.Add(2)
	go l.sendLoop(ctx)
	go l.recvLoop(ctx)

	logger.WithField("link_id", cfg.ID).Infof("link up: %s", hostPort)
	return l, nil
}

// ID returns the link's identity.
func (l *Link) ID() int { return l.id }

// Phase returns the link's current lifecycle phase.
func (l *Link) Phase() linkstate.Phase { return linkstate.Phase(l.phase.Load()) }

// Health returns the link's radio-health estimator, for the supervisor to
// feed RF telemetry into.
func (l *Link) Health() *radio.Health { return l.health }

// CC returns the link's Biscay controller, for the sender to feed
// bandwidth/RTT samples into.
func (l *Link) CC() *cc.Controller { return l.cc }

// Enqueue submits payload for transmission on this link's I/O goroutine.
// Returns false if the outbound queue is full (backpressure: the caller
// should prefer dropping Disposable payloads first, spec.md §5).
func (l *Link) Enqueue(payload []byte) bool {
	l.mu.Lock()
	depth := l.queueDepth
	l.mu.Unlock()
	if depth >= l.maxQueue {
		return false
	}
	select {
	case l.outbound <- payload:
		l.mu.Lock()
		l.queueDepth++
		l.mu.Unlock()
		return true
	default:
		return false
	}
}

// Inbound returns the channel of raw datagrams read off this link's
// socket, for the receiver's ingress goroutine to parse.
func (l *Link) Inbound() <-chan []byte { return l.inbound }

// QueueDepth reports the current outbound queue depth for scheduler
// candidate snapshots.
func (l *Link) QueueDepth() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.queueDepth
}

func (l *Link) sendLoop(ctx context.Context) {
	defer l.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case payload := <-l.outbound:
			l.mu.Lock()
			l.queueDepth--
			l.mu.Unlock()

			if err := l.cc.Pacer().WaitN(ctx, len(payload)); err != nil {
				continue // context canceled during shutdown
			}
			if _, err := l.conn.WriteToUDP(payload, l.remote); err != nil {
				if ctx.Err() != nil {
					return
				}
				l.logger.WithField("link_id", l.id).Warnf("link write: %v", err)
			}
		}
	}
}

func (l *Link) recvLoop(ctx context.Context) {
	defer l.wg.Done()
	buf := make([]byte, MaxDatagramBytes)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		l.conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		n, _, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			continue // LinkTransient: retry (spec.md §7)
		}
		cp := make([]byte, n)
		copy(cp, buf[:n])
		select {
		case l.inbound <- cp:
		case <-ctx.Done():
			return
		default:
			// inbound full: drop rather than block the socket reader
		}
	}
}

// Tick advances the link's lifecycle phase from this tick's CC and health
// state (spec.md §3 "Phases advance on observed telemetry").
func (l *Link) Tick() {
	snap := l.cc.Snapshot()
	healthy, handoverSoon := healthSnapshot(l.health)

	l.mu.Lock()
	current := linkstate.Phase(l.phase.Load())
	switch current {
	case linkstate.PhaseProbe:
		l.probeSamples++
	case linkstate.PhaseWarm:
		l.warmSamples++
	}
	in := phaseInputs{
		probeSamples: l.probeSamples,
		warmSamples:  l.warmSamples,
		ccState:      snap.State,
		healthy:      healthy,
		handoverSoon: handoverSoon,
	}
	next := transitionPhase(current, in)
	if next == linkstate.PhaseInit && current == linkstate.PhaseReset {
		l.probeSamples = 0
		l.warmSamples = 0
	}
	l.mu.Unlock()

	if next != current {
		l.phase.Store(int32(next))
		l.logger.WithField("link_id", l.id).Infof("phase %s -> %s", current, next)
	}
}

// ToCandidate projects this link's current state into a scheduler
// Candidate snapshot (spec.md §9 "scheduler references links by id" —
// this is a value copy, never a pointer into live link state).
func (l *Link) ToCandidate(smoothedRTT, owd time.Duration) scheduler.Candidate {
	snap := l.cc.Snapshot()
	return scheduler.Candidate{
		LinkID:      l.id,
		CapacityBps: snap.EstimatedCapBps * (1 - l.cfg.CapacityPenalty),
		SmoothedRTT: smoothedRTT,
		OWDEstimate: owd,
		QueueDepth:  l.QueueDepth(),
		MaxQueue:    l.maxQueue,
		Alive:       true,
		CanEnqueue:  snap.CanEnqueue,
		Phase:       l.Phase(),
	}
}

// Close stops this link's goroutines, releases its socket, and closes the
// Inbound channel so consumers ranging over it return.
func (l *Link) Close() error {
	var err error
	l.closeOnce.Do(func() {
		l.cancel()
		err = l.conn.Close()
		l.wg.Wait()
		close(l.inbound)
	})
	return err
}
