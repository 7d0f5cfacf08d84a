package cc

import (
	"testing"
	"time"
)

func TestNormalToCautiousAfterThreeCQIDrops(t *testing.T) {
	c := NewController()
	cqis := []int{10, 9, 8, 7}
	for i, cqi := range cqis {
		c.OnRadioMetrics(RadioSample{CQI: cqi, RsrpDbm: -80, RsrqDb: -8, Interval: time.Second})
		if i < 3 {
			if c.State() != StateNormal {
				t.Fatalf("step %d: expected Normal, got %v", i, c.State())
			}
		}
	}
	if c.State() != StateCautious {
		t.Fatalf("expected Cautious after 3 consecutive CQI drops, got %v", c.State())
	}
}

func TestCautiousToPreHandoverOnSteepRsrpDrop(t *testing.T) {
	c := NewController()
	// force into Cautious first
	for _, cqi := range []int{10, 9, 8, 7} {
		c.OnRadioMetrics(RadioSample{CQI: cqi, RsrpDbm: -80, RsrqDb: -8, Interval: time.Second})
	}
	if c.State() != StateCautious {
		t.Fatalf("setup failed, state=%v", c.State())
	}
	// steep RSRP drop (< -2.5 dB/s) with RSRQ below -12
	c.OnRadioMetrics(RadioSample{CQI: 7, RsrpDbm: -90, RsrqDb: -14, Interval: time.Second})
	if c.State() != StatePreHandover {
		t.Fatalf("expected PreHandover, got %v", c.State())
	}
	if c.CanEnqueue() {
		t.Fatal("CanEnqueue should be false in PreHandover")
	}
}

func TestPreHandoverRecoversToNormalAfterStableWindow(t *testing.T) {
	c := NewController()
	for _, cqi := range []int{10, 9, 8, 7} {
		c.OnRadioMetrics(RadioSample{CQI: cqi, RsrpDbm: -80, RsrqDb: -8, Interval: time.Second})
	}
	c.OnRadioMetrics(RadioSample{CQI: 7, RsrpDbm: -90, RsrqDb: -14, Interval: time.Second})
	if c.State() != StatePreHandover {
		t.Fatalf("setup failed: state=%v", c.State())
	}
	// 20 stable RSRP readings with CQI no longer dropping.
	for i := 0; i < 20; i++ {
		c.OnRadioMetrics(RadioSample{CQI: 10, RsrpDbm: -80, RsrqDb: -8, Interval: time.Second})
	}
	if c.State() != StateNormal {
		t.Fatalf("expected recovery to Normal, got %v", c.State())
	}
	if !c.CanEnqueue() {
		t.Fatal("CanEnqueue should be true again in Normal")
	}
}

func TestBandwidthSampleRaisesPacingRate(t *testing.T) {
	c := NewController()
	snap0 := c.Snapshot()
	c.OnBandwidthSample(1_000_000, time.Second) // 8 Mbps
	snap1 := c.Snapshot()
	if snap1.PacingRateBps <= snap0.PacingRateBps {
		t.Fatalf("expected pacing rate to rise after bandwidth sample: before=%v after=%v", snap0.PacingRateBps, snap1.PacingRateBps)
	}
}

func TestProbeAllowedRoundTrips(t *testing.T) {
	c := NewController()
	c.SetProbeAllowed(false)
	if c.Snapshot().ProbeAllowed {
		t.Fatal("expected ProbeAllowed=false")
	}
	c.SetProbeAllowed(true)
	if !c.Snapshot().ProbeAllowed {
		t.Fatal("expected ProbeAllowed=true")
	}
}
