package reassembly

import (
	"testing"
	"time"
)

func testConfig() Config {
	return Config{
		StartLatency:     40 * time.Millisecond,
		MaxLatency:       400 * time.Millisecond,
		SkipAfter:        100 * time.Millisecond,
		JitterMultiplier: 4.0,
	}
}

func TestInOrderBurstDeliversAllInOrder(t *testing.T) {
	b := New(testConfig())
	base := time.Now()
	for i := uint64(0); i < 20; i++ {
		b.Arrive(i, []byte{byte(i)}, base.Add(time.Duration(i)*time.Millisecond))
	}
	released := b.Release(base.Add(1 * time.Second))
	if len(released) != 20 {
		t.Fatalf("expected 20 released, got %d", len(released))
	}
	for i, r := range released {
		if r.Sequence != uint64(i) {
			t.Fatalf("out of order delivery at %d: got seq %d", i, r.Sequence)
		}
	}
	st := b.Stats()
	if st.Lost != 0 || st.Late != 0 || st.Duplicate != 0 {
		t.Fatalf("expected zero counters, got %+v", st)
	}
}

func TestReversedBurstWithinLatencyDeliversInOrder(t *testing.T) {
	b := New(testConfig())
	base := time.Now()
	for i := int(19); i >= 0; i-- {
		b.Arrive(uint64(i), []byte{byte(i)}, base)
	}
	released := b.Release(base.Add(1 * time.Second))
	if len(released) != 20 {
		t.Fatalf("expected 20 released, got %d", len(released))
	}
	for i, r := range released {
		if r.Sequence != uint64(i) {
			t.Fatalf("out of order delivery at %d: got seq %d", i, r.Sequence)
		}
	}
}

func TestPermanentGapSkippedAfterSkipAfter(t *testing.T) {
	cfg := testConfig()
	b := New(cfg)
	base := time.Now()
	for i := uint64(1); i <= 5; i++ {
		b.Arrive(i, []byte{byte(i)}, base)
	}
	// before skip_after elapses, nothing should release (seq 0 missing)
	released := b.Release(base.Add(10 * time.Millisecond))
	if len(released) != 0 {
		t.Fatalf("expected no releases before skip_after, got %d", len(released))
	}
	released = b.Release(base.Add(cfg.SkipAfter + 10*time.Millisecond))
	if len(released) != 5 {
		t.Fatalf("expected 5 releases after skip_after, got %d", len(released))
	}
	if released[0].Sequence != 1 {
		t.Fatalf("expected delivery to resume at seq 1, got %d", released[0].Sequence)
	}
	if got := b.Stats().Lost; got != 1 {
		t.Fatalf("expected lost == 1, got %d", got)
	}
}

func TestLatencyAdaptsWithinBoundsUnderAlternatingJitter(t *testing.T) {
	cfg := testConfig()
	b := New(cfg)
	base := time.Now()
	arrival := base
	for tick := 0; tick < 50; tick++ {
		var iat time.Duration
		if tick%2 == 0 {
			iat = 1 * time.Millisecond
		} else {
			iat = 50 * time.Millisecond
		}
		arrival = arrival.Add(iat)
		b.Arrive(uint64(tick), []byte{byte(tick)}, arrival)
	}
	if b.Latency() > cfg.MaxLatency {
		t.Fatalf("latency exceeded max: %v > %v", b.Latency(), cfg.MaxLatency)
	}
	if b.Latency() <= cfg.StartLatency {
		t.Fatalf("expected latency to grow above start_latency under jitter, got %v", b.Latency())
	}
}
