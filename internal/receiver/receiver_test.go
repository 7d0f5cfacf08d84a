package receiver

import (
	"testing"
	"time"

	"github.com/strata-video/bonding/internal/fec"
	"github.com/strata-video/bonding/internal/reassembly"
	"github.com/strata-video/bonding/internal/wire"
)

func testConfig() Config {
	return Config{
		Reassembly: reassembly.Config{
			StartLatency:     20 * time.Millisecond,
			MaxLatency:       400 * time.Millisecond,
			SkipAfter:        100 * time.Millisecond,
			JitterMultiplier: 4.0,
		},
		AckInterval:  20 * time.Millisecond,
		NackRearm:    50 * time.Millisecond,
		MaxNackRetry: 4,
		ReportPeriod: 1 * time.Second,
	}
}

func encodeData(seq uint64, payload []byte) []byte {
	return wire.EncodeData(nil, seq, 0, wire.FragmentComplete, false, false, payload)
}

func TestDuplicateCriticalBroadcastDeliveredOnce(t *testing.T) {
	r := New(testConfig(), fec.NewDecoder(8), nil)
	base := time.Now()

	raw := encodeData(0, []byte("keyframe"))
	r.Receive(raw, 0, base)
	r.Receive(raw, 1, base) // same sequence, arrived on a second link: duplicate
	r.Receive(raw, 2, base)

	deliveries, _ := r.Tick(base.Add(100 * time.Millisecond))
	if len(deliveries) != 1 {
		t.Fatalf("expected exactly one delivery of sequence 0, got %d", len(deliveries))
	}
	if got := r.Stats().Duplicate; got != 2 {
		t.Fatalf("expected duplicates == 2, got %d", got)
	}
}

func TestRetransmitAfterReleaseCountsAsDuplicate(t *testing.T) {
	r := New(testConfig(), fec.NewDecoder(8), nil)
	base := time.Now()

	raw := encodeData(0, []byte("x"))
	r.Receive(raw, 0, base)
	deliveries, _ := r.Tick(base.Add(100 * time.Millisecond))
	if len(deliveries) != 1 {
		t.Fatalf("expected sequence 0 released by the first tick, got %d deliveries", len(deliveries))
	}

	// A retransmit of the same sequence lands after the original was
	// already delivered and removed from the reassembly buffer.
	more := r.Receive(raw, 1, base.Add(110*time.Millisecond))
	if len(more) != 0 {
		t.Fatalf("expected no re-delivery of an already-released sequence, got %v", more)
	}
	if got := r.Stats().Duplicate; got != 1 {
		t.Fatalf("expected duplicates == 1 for the post-release retransmit, got %d", got)
	}
}

func TestInOrderDeliveryAcrossTicks(t *testing.T) {
	r := New(testConfig(), fec.NewDecoder(8), nil)
	base := time.Now()
	for i := uint64(0); i < 10; i++ {
		raw := encodeData(i, []byte{byte(i)})
		r.Receive(raw, 0, base.Add(time.Duration(i)*time.Millisecond))
	}
	deliveries, _ := r.Tick(base.Add(1 * time.Second))
	if len(deliveries) != 10 {
		t.Fatalf("expected 10 deliveries, got %d", len(deliveries))
	}
	for i, d := range deliveries {
		if d.Sequence != uint64(i) {
			t.Fatalf("delivery %d out of order: got seq %d", i, d.Sequence)
		}
	}
}

func TestTickEmitsPeriodicAck(t *testing.T) {
	r := New(testConfig(), fec.NewDecoder(8), nil)
	base := time.Now()
	raw := encodeData(0, []byte("x"))
	r.Receive(raw, 0, base)
	_, feedback := r.Tick(base.Add(30 * time.Millisecond))
	foundAck := false
	for _, fb := range feedback {
		if fb.Type == wire.TypeAck {
			foundAck = true
		}
	}
	if !foundAck {
		t.Fatalf("expected an Ack in feedback, got %+v", feedback)
	}
}
