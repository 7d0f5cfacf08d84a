package supervisor

import (
	"testing"
	"time"

	"github.com/strata-video/bonding/internal/radio"
)

func goodMetrics() radio.Metrics {
	return radio.Metrics{SinrDb: 25, RsrqDb: -5, RsrpDbm: -80, LossRate: 0.001, JitterMs: 5, CQI: 14}
}

func badMetrics() radio.Metrics {
	return radio.Metrics{SinrDb: -15, RsrqDb: -18, RsrpDbm: -115, LossRate: 0.2, JitterMs: 80, CQI: 2}
}

func TestLinkDegradedEventFiresOnceOnTransition(t *testing.T) {
	s := New(DefaultConfig(), nil)
	s.AddLink(0)
	now := time.Now()

	var sawDegraded int
	for i := 0; i < 10; i++ {
		events := s.IngestMetrics(0, badMetrics(), 1_000_000, now.Add(time.Duration(i)*time.Second))
		for _, e := range events {
			if e.Kind == LinkDegraded {
				sawDegraded++
			}
		}
	}
	if sawDegraded != 1 {
		t.Fatalf("expected exactly one LinkDegraded edge-trigger, got %d", sawDegraded)
	}
}

func TestFleetCapacitySumsAcrossLinks(t *testing.T) {
	s := New(DefaultConfig(), nil)
	s.AddLink(0)
	s.AddLink(1)
	now := time.Now()
	s.IngestMetrics(0, goodMetrics(), 5_000_000, now)
	s.IngestMetrics(1, goodMetrics(), 3_000_000, now)
	if got := s.FleetCapacityBps(); got != 8_000_000 {
		t.Fatalf("expected fleet capacity 8_000_000, got %v", got)
	}
}

func TestBitrateCmdRespectsMinInterval(t *testing.T) {
	cfg := Config{RampDownFactor: 0.8, MinCmdInterval: 1 * time.Second}
	s := New(cfg, nil)
	s.AddLink(0)
	now := time.Now()
	s.IngestMetrics(0, goodMetrics(), 1_000_000, now)
	s.SetTargetBitrate(5_000_000)

	_, ok := s.MaybeBitrateCmd(now)
	if !ok {
		t.Fatalf("expected first command to be issued")
	}
	_, ok = s.MaybeBitrateCmd(now.Add(100 * time.Millisecond))
	if ok {
		t.Fatalf("expected second command within min interval to be suppressed")
	}
	_, ok = s.MaybeBitrateCmd(now.Add(2 * time.Second))
	if !ok {
		t.Fatalf("expected command after min interval elapses")
	}
}
