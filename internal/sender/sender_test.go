package sender

import (
	"net"
	"testing"
	"time"

	"github.com/strata-video/bonding/internal/classify"
	"github.com/strata-video/bonding/internal/config"
	"github.com/strata-video/bonding/internal/fec"
	"github.com/strata-video/bonding/internal/link"
	"github.com/strata-video/bonding/internal/logging"
	"github.com/strata-video/bonding/internal/scheduler"
)

// newTestLink opens a loopback-bound link so Send has somewhere real to
// enqueue to; the peer just needs a valid, reachable address.
func newTestLink(t *testing.T, id int) *link.Link {
	t.Helper()
	peer, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen peer udp: %v", err)
	}
	t.Cleanup(func() { peer.Close() })

	l, err := link.New(link.Config{ID: id, URI: peer.LocalAddr().String()}, logging.Discard, 64)
	if err != nil {
		t.Fatalf("link.New: %v", err)
	}
	return l
}

func TestSendWithNoLinksIsRefused(t *testing.T) {
	cfg := config.Default().Sender
	s := New(cfg, fec.NewEncoder(32, 4), scheduler.New(1), nil)
	res := s.Send([]byte("hello"), classify.Profile{SizeBytes: 5})
	if res.Status != Refused {
		t.Fatalf("expected Refused with no links, got %s", res.Status)
	}
}

func TestSequenceNumbersMonotone(t *testing.T) {
	cfg := config.Default().Sender
	s := New(cfg, fec.NewEncoder(32, 4), scheduler.New(1), nil)
	r1 := s.Send([]byte("a"), classify.Profile{})
	r2 := s.Send([]byte("b"), classify.Profile{})
	if r2.Seq != r1.Seq+1 {
		t.Fatalf("expected monotone sequence, got %d then %d", r1.Seq, r2.Seq)
	}
}

func TestIdleFlushSurvivesFrequentTicks(t *testing.T) {
	cfg := config.Default().Sender
	s := New(cfg, fec.NewEncoder(32, 4), scheduler.New(1), nil)
	s.Send([]byte("partial-generation"), classify.Profile{})

	base := time.Now()
	// Simulate a tick loop much faster than the 200ms idle threshold, as
	// pkg/bonding's runtime does at a 20ms cadence. None of these should
	// ever observe an idle generation since the clock hasn't advanced.
	for i := 1; i <= 5; i++ {
		s.Tick(base.Add(time.Duration(i) * 20 * time.Millisecond))
	}
	if got := s.Stats().FecRepairsSent; got != 0 {
		t.Fatalf("expected no premature flush within the idle window, got %d repairs sent", got)
	}

	// Once real idle time has actually elapsed since the last AddSource,
	// the next tick must flush the partial generation.
	s.Tick(base.Add(250 * time.Millisecond))
	if got := s.Stats().FecRepairsSent; got == 0 {
		t.Fatalf("expected idle flush to emit repair symbols once 200ms has actually elapsed, got 0")
	}
}

func TestLinkStatsTrackPerLinkNotFleetWide(t *testing.T) {
	cfg := config.Default().Sender
	s := New(cfg, fec.NewEncoder(32, 4), scheduler.New(1), nil)

	link0 := newTestLink(t, 0)
	link1 := newTestLink(t, 1)
	defer link0.Close()
	defer link1.Close()
	s.AddLink(link0)
	s.AddLink(link1)

	res := s.Send([]byte("hello"), classify.Profile{SizeBytes: 5, IsKeyframe: true})
	if res.Status != Accepted {
		t.Fatalf("expected Accepted, got %s: %s", res.Status, res.Reason)
	}

	total := s.LinkStats(0).PacketsSent + s.LinkStats(1).PacketsSent
	if total != 1 {
		t.Fatalf("expected exactly one link to have recorded the send, got total %d", total)
	}
	if got := s.LinkStats(2).PacketsSent; got != 0 {
		t.Fatalf("expected a never-used link id to report zero, got %d", got)
	}
}

func TestTickExpiresOldPoolEntries(t *testing.T) {
	cfg := config.Default().Sender
	cfg.PacketTTL = 10 * time.Millisecond
	s := New(cfg, fec.NewEncoder(32, 4), scheduler.New(1), nil)
	l := newTestLink(t, 0)
	defer l.Close()
	s.AddLink(l)
	s.Send([]byte("a"), classify.Profile{})
	if s.pool.Len() != 1 {
		t.Fatalf("expected one pending entry, got %d", s.pool.Len())
	}
	s.Tick(time.Now().Add(20 * time.Millisecond))
	if got := s.Stats().PacketsExpired; got != 1 {
		t.Fatalf("expected 1 expired packet, got %d", got)
	}
}
