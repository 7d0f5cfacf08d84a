package fec

import (
	"bytes"
	"fmt"
	"math/rand"
	"testing"
)

func makePayload(r *rand.Rand, n int) []byte {
	b := make([]byte, n)
	r.Read(b)
	return b
}

func TestGF256MulDivInverse(t *testing.T) {
	for a := 1; a < 256; a++ {
		inv := gfInv(byte(a))
		if gfMul(byte(a), inv) != 1 {
			t.Fatalf("gfMul(%d, inv)=%d, want 1", a, gfMul(byte(a), inv))
		}
		if gfDiv(byte(a), byte(a)) != 1 {
			t.Fatalf("gfDiv(%d,%d) != 1", a, a)
		}
	}
}

func TestSingleLossRecoveredByOneRepair(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	k, rr := 16, 4
	enc := NewEncoder(k, rr)
	dec := NewDecoder(8)

	payloads := make([][]byte, k)
	var repairs []Repair
	var genID uint16
	for i := 0; i < k; i++ {
		payloads[i] = makePayload(r, 200)
		var rep []Repair
		genID, _, rep, _ = enc.AddSource(payloads[i])
		repairs = append(repairs, rep...)
	}

	lost := 5
	for i, p := range payloads {
		if i == lost {
			continue
		}
		dec.AddSource(genID, k, i, p)
	}
	// Only one repair symbol needed for a single loss.
	got := dec.AddRepair(repairs[0])
	if len(got) != 1 {
		t.Fatalf("expected 1 recovered symbol, got %d: %+v", len(got), got)
	}
	if got[0].Index != lost {
		t.Fatalf("recovered index %d, want %d", got[0].Index, lost)
	}
	if !bytes.Equal(got[0].Payload, payloads[lost]) {
		t.Fatalf("recovered payload mismatch")
	}
	complete, known := dec.Complete(genID)
	if !known || !complete {
		t.Fatalf("generation should be complete: known=%v complete=%v", known, complete)
	}
}

func TestTwoLossesNeedTwoRepairs(t *testing.T) {
	r := rand.New(rand.NewSource(2))
	k, rr := 16, 4
	enc := NewEncoder(k, rr)
	dec := NewDecoder(8)

	payloads := make([][]byte, k)
	var repairs []Repair
	var genID uint16
	for i := 0; i < k; i++ {
		payloads[i] = makePayload(r, 300)
		var rep []Repair
		genID, _, rep, _ = enc.AddSource(payloads[i])
		repairs = append(repairs, rep...)
	}

	lostA, lostB := 3, 9
	for i, p := range payloads {
		if i == lostA || i == lostB {
			continue
		}
		dec.AddSource(genID, k, i, p)
	}

	got := dec.AddRepair(repairs[0])
	if len(got) != 0 {
		t.Fatalf("one repair for two losses should not yet recover, got %d", len(got))
	}
	got = dec.AddRepair(repairs[1])
	if len(got) != 2 {
		t.Fatalf("two repairs for two losses should recover both, got %d", len(got))
	}
	byIdx := map[int][]byte{}
	for _, s := range got {
		byIdx[s.Index] = s.Payload
	}
	if !bytes.Equal(byIdx[lostA], payloads[lostA]) || !bytes.Equal(byIdx[lostB], payloads[lostB]) {
		t.Fatalf("recovered payload mismatch")
	}
}

func TestFullGenerationNoRecoveriesNeeded(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	k, rr := 8, 2
	enc := NewEncoder(k, rr)
	dec := NewDecoder(8)

	var genID uint16
	for i := 0; i < k; i++ {
		payload := makePayload(r, 100)
		genID, _, _, _ = enc.AddSource(payload)
		got := dec.AddSource(genID, k, i, payload)
		if got == nil {
			t.Fatalf("expected non-nil direct delivery for index %d", i)
		}
	}
	complete, known := dec.Complete(genID)
	if !known || !complete {
		t.Fatalf("generation should already be complete without any repairs")
	}
}

func TestGenerationNeverReopened(t *testing.T) {
	enc := NewEncoder(2, 1)
	gen1, _, _, closed1 := enc.AddSource([]byte("a"))
	if closed1 {
		t.Fatal("generation should not close after first of two symbols")
	}
	gen2, _, _, closed2 := enc.AddSource([]byte("b"))
	if !closed2 || gen2 != gen1 {
		t.Fatalf("generation should close on Kth symbol and share id: gen1=%d gen2=%d closed2=%v", gen1, gen2, closed2)
	}
	gen3, _, _, _ := enc.AddSource([]byte("c"))
	if gen3 == gen1 {
		t.Fatalf("a new source after close must open a new generation id, got same id %d", gen3)
	}
}

func TestTarotMonotoneAndClamped(t *testing.T) {
	k := 32
	prevR := 0
	for i := 0; i <= 20; i++ {
		loss := float64(i) / 20.0
		r := Tarot(k, loss, 30_000)
		if r < 1 || r > k/2 {
			t.Fatalf("Tarot(%v) = %d out of [1,%d]", loss, r, k/2)
		}
		if r < prevR {
			t.Fatalf("Tarot not monotone: loss=%v r=%d < prevR=%d", loss, r, prevR)
		}
		prevR = r
	}
}

func TestTarotHighRttLeansHigherR(t *testing.T) {
	k := 32
	loss := 0.1
	lowRtt := Tarot(k, loss, 10_000)
	highRtt := Tarot(k, loss, 200_000)
	if highRtt < lowRtt {
		t.Fatalf("expected higher-RTT R >= lower-RTT R, got %d < %d", highRtt, lowRtt)
	}
}

func TestPartialFlushEmitsRepairsForPrefix(t *testing.T) {
	enc := NewEncoder(16, 4)
	enc.AddSource([]byte("only one symbol"))
	genID, repairs := enc.Flush()
	if len(repairs) != 4 {
		t.Fatalf("expected 4 repairs from flush, got %d", len(repairs))
	}
	for _, rp := range repairs {
		if rp.GenerationID != genID {
			t.Fatalf("repair generation mismatch")
		}
		if rp.K != 1 {
			t.Fatalf("flushed repair K should equal buffered count (1), got %d", rp.K)
		}
	}
}

func TestDecoderEvictsOldGenerations(t *testing.T) {
	dec := NewDecoder(2)
	dec.AddSource(0, 4, 0, []byte("a"))
	dec.AddSource(1, 4, 0, []byte("b"))
	dec.AddSource(2, 4, 0, []byte("c")) // evicts generation 0
	if _, known := dec.Complete(0); known {
		t.Fatal("generation 0 should have been evicted")
	}
	if _, known := dec.Complete(2); !known {
		t.Fatal("generation 2 should still be tracked")
	}
}

func TestSymbolPaddingRoundTrip(t *testing.T) {
	for _, n := range []int{0, 1, 200, 1498} {
		payload := bytes.Repeat([]byte{0xAB}, n)
		enc := encodeSymbol(payload, DefaultSymbolSize)
		got := decodeSymbol(enc)
		if !bytes.Equal(got, payload) {
			t.Fatalf("size %d: round trip mismatch, got len %d want %d", n, len(got), n)
		}
	}
}

func TestEncodeDecodeManyGenerations(t *testing.T) {
	r := rand.New(rand.NewSource(99))
	k, rr := 24, 6
	for trial := 0; trial < 10; trial++ {
		enc := NewEncoder(k, rr)
		dec := NewDecoder(4)
		payloads := make([][]byte, k)
		var repairs []Repair
		var genID uint16
		for i := 0; i < k; i++ {
			payloads[i] = makePayload(r, 50+r.Intn(500))
			var rep []Repair
			genID, _, rep, _ = enc.AddSource(payloads[i])
			repairs = append(repairs, rep...)
		}
		nLoss := 1 + r.Intn(rr)
		lostSet := map[int]bool{}
		for len(lostSet) < nLoss {
			lostSet[r.Intn(k)] = true
		}
		for i, p := range payloads {
			if !lostSet[i] {
				dec.AddSource(genID, k, i, p)
			}
		}
		var recovered []SourceSymbolLite
		for _, rp := range repairs[:nLoss] {
			for _, s := range dec.AddRepair(rp) {
				recovered = append(recovered, SourceSymbolLite{s.Index, s.Payload})
			}
		}
		if len(recovered) != nLoss {
			t.Fatalf("trial %d: expected %d recoveries, got %d", trial, nLoss, len(recovered))
		}
		for _, s := range recovered {
			if !bytes.Equal(s.Payload, payloads[s.Index]) {
				t.Fatalf("trial %d: payload mismatch at index %d", trial, s.Index)
			}
		}
	}
}

// SourceSymbolLite avoids importing testing helpers into the public type.
type SourceSymbolLite struct {
	Index   int
	Payload []byte
}

func ExampleTarot() {
	fmt.Println(Tarot(32, 0, 20_000))
	// Output: 1
}
