package pool

import (
	"testing"
	"time"

	"github.com/strata-video/bonding/internal/wire"
)

func TestInsertRemove(t *testing.T) {
	p := New(4)
	h, err := p.Insert(Entry{Sequence: 1, Priority: wire.PriorityStandard})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if p.Len() != 1 {
		t.Fatalf("len = %d, want 1", p.Len())
	}
	if !p.Remove(h) {
		t.Fatal("remove returned false")
	}
	if p.Len() != 0 {
		t.Fatalf("len after remove = %d, want 0", p.Len())
	}
	if p.Remove(h) {
		t.Fatal("double remove should return false")
	}
}

func TestFullReturnsErrFull(t *testing.T) {
	p := New(2)
	if _, err := p.Insert(Entry{Sequence: 1}); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Insert(Entry{Sequence: 2}); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Insert(Entry{Sequence: 3}); err != ErrFull {
		t.Fatalf("got %v, want ErrFull", err)
	}
}

func TestHandleNotReusedAcrossGenerations(t *testing.T) {
	p := New(1)
	h1, _ := p.Insert(Entry{Sequence: 1})
	p.Remove(h1)
	h2, _ := p.Insert(Entry{Sequence: 2})
	if h1 == h2 {
		t.Fatalf("expected distinct handles across generations, got equal: %+v", h1)
	}
	if _, ok := p.Get(h1); ok {
		t.Fatal("stale handle should not resolve after slot recycled")
	}
	e, ok := p.Get(h2)
	if !ok || e.Sequence != 2 {
		t.Fatalf("fresh handle should resolve to new entry, got %+v ok=%v", e, ok)
	}
}

func TestPurgeAcked(t *testing.T) {
	p := New(4)
	h1, _ := p.Insert(Entry{Sequence: 1})
	h2, _ := p.Insert(Entry{Sequence: 2})
	p.Update(h1, func(e *Entry) { e.Acked = true })
	purged := p.PurgeAcked()
	if len(purged) != 1 || purged[0] != h1 {
		t.Fatalf("purged = %+v, want [%+v]", purged, h1)
	}
	if p.Len() != 1 {
		t.Fatalf("len = %d, want 1", p.Len())
	}
	if _, ok := p.Get(h2); !ok {
		t.Fatal("unacked entry should survive purge")
	}
}

func TestFindBySequence(t *testing.T) {
	p := New(4)
	p.Insert(Entry{Sequence: 10})
	h, _ := p.Insert(Entry{Sequence: 20, EnqueuedAt: time.Now()})
	got, e, ok := p.FindBySequence(20)
	if !ok || got != h || e.Sequence != 20 {
		t.Fatalf("FindBySequence(20) = %+v, %+v, %v", got, e, ok)
	}
	if _, _, ok := p.FindBySequence(999); ok {
		t.Fatal("expected not found for unknown sequence")
	}
}

func TestBufferReuse(t *testing.T) {
	p := New(1)
	b := p.GetBuffer()
	b = append(b, 1, 2, 3)
	p.PutBuffer(b)
	b2 := p.GetBuffer()
	if len(b2) != 0 {
		t.Fatalf("reused buffer should be reset to len 0, got %d", len(b2))
	}
	if cap(b2) < 3 {
		t.Fatalf("reused buffer should retain capacity, got cap %d", cap(b2))
	}
}

func TestEachVisitsAllOccupied(t *testing.T) {
	p := New(8)
	for i := uint64(1); i <= 5; i++ {
		p.Insert(Entry{Sequence: i})
	}
	seen := map[uint64]bool{}
	p.Each(func(h Handle, e Entry) { seen[e.Sequence] = true })
	if len(seen) != 5 {
		t.Fatalf("saw %d entries, want 5", len(seen))
	}
}
