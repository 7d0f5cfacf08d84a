// Package pool implements the slab-allocated packet pool described in
// spec.md §4.2: a bounded ring of entries addressed by a stable handle,
// with O(1) amortized insert/remove/purge_acked. It is the single
// heap-churn-free path for outbound packets pending ACK (spec.md §4.2),
// grounded on original_source's strata-transport/src/pool.rs and the
// thread-local buffer-reuse idiom in rist-bonding-core's header.rs.
package pool

import (
	"errors"
	"sync"
	"time"

	"github.com/strata-video/bonding/internal/wire"
)

// ErrFull is returned by Insert when the pool is at capacity. The sender
// layer surfaces this to the producer as backpressure (spec.md §3, §7).
var ErrFull = errors.New("pool: full")

// Handle stably identifies one entry. It is never reused while the entry
// it names is live; generation-tagging prevents a late remove() targeting
// a recycled slot from corrupting a newer occupant.
type Handle struct {
	index      int
	generation uint32
}

// Entry is one packet pending acknowledgment.
type Entry struct {
	Sequence   uint64
	Priority   wire.Priority
	Payload    []byte
	EnqueuedAt time.Time
	RetryCount int
	Acked      bool
	LinkID     int // last link it was enqueued on (for a broadcast, the last accepting link), -1 if unset
}

type slot struct {
	entry      Entry
	occupied   bool
	generation uint32
}

// Pool is a fixed-capacity slab of pending-ACK packets. All methods are
// safe for concurrent use; the lock is held only for the duration of the
// slice/map bookkeeping, never across I/O (spec.md §5).
type Pool struct {
	mu       sync.Mutex
	slots    []slot
	freeList []int
	count    int
	capacity int

	bufPool *sync.Pool // MTU-sized []byte reuse, spec.md §9 buffer reuse
}

// New creates a pool with room for capacity entries.
func New(capacity int) *Pool {
	p := &Pool{
		slots:    make([]slot, capacity),
		freeList: make([]int, capacity),
		capacity: capacity,
		bufPool: &sync.Pool{
			New: func() any {
				b := make([]byte, 0, 1500)
				return &b
			},
		},
	}
	for i := 0; i < capacity; i++ {
		p.freeList[i] = capacity - 1 - i
	}
	return p
}

// Capacity returns the configured slab size.
func (p *Pool) Capacity() int { return p.capacity }

// Len returns the number of occupied entries.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

// GetBuffer borrows an MTU-sized buffer from the pool's thread-shared
// reuse ring, per spec.md §9's "bounded-memory buffer reuse" requirement.
func (p *Pool) GetBuffer() []byte {
	b := p.bufPool.Get().(*[]byte)
	return (*b)[:0]
}

// PutBuffer returns a buffer obtained from GetBuffer.
func (p *Pool) PutBuffer(b []byte) {
	b = b[:0]
	p.bufPool.Put(&b)
}

// Insert adds an entry and returns a stable Handle, or ErrFull if the pool
// is at capacity.
func (p *Pool) Insert(e Entry) (Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.count >= p.capacity {
		return Handle{}, ErrFull
	}
	idx := p.freeList[len(p.freeList)-1]
	p.freeList = p.freeList[:len(p.freeList)-1]
	s := &p.slots[idx]
	s.entry = e
	s.occupied = true
	p.count++
	return Handle{index: idx, generation: s.generation}, nil
}

// Remove frees the entry named by h. Returns false if h is stale (already
// removed, or the slot was recycled under it).
func (p *Pool) Remove(h Handle) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.removeLocked(h)
}

func (p *Pool) removeLocked(h Handle) bool {
	if h.index < 0 || h.index >= len(p.slots) {
		return false
	}
	s := &p.slots[h.index]
	if !s.occupied || s.generation != h.generation {
		return false
	}
	s.occupied = false
	s.entry = Entry{}
	s.generation++
	p.freeList = append(p.freeList, h.index)
	p.count--
	return true
}

// Get returns a copy of the entry named by h and whether it is still live.
func (p *Pool) Get(h Handle) (Entry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if h.index < 0 || h.index >= len(p.slots) {
		return Entry{}, false
	}
	s := &p.slots[h.index]
	if !s.occupied || s.generation != h.generation {
		return Entry{}, false
	}
	return s.entry, true
}

// Update mutates the entry named by h in place via fn, if still live.
func (p *Pool) Update(h Handle, fn func(*Entry)) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if h.index < 0 || h.index >= len(p.slots) {
		return false
	}
	s := &p.slots[h.index]
	if !s.occupied || s.generation != h.generation {
		return false
	}
	fn(&s.entry)
	return true
}

// PurgeAcked walks every occupied entry and drops the ones marked acked.
// Returns the handles that were purged.
func (p *Pool) PurgeAcked() []Handle {
	p.mu.Lock()
	defer p.mu.Unlock()
	var purged []Handle
	for i := range p.slots {
		s := &p.slots[i]
		if s.occupied && s.entry.Acked {
			h := Handle{index: i, generation: s.generation}
			p.removeLocked(h)
			purged = append(purged, h)
		}
	}
	return purged
}

// Each calls fn for every currently occupied entry. fn must not call back
// into the pool.
func (p *Pool) Each(fn func(Handle, Entry)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.slots {
		s := &p.slots[i]
		if s.occupied {
			fn(Handle{index: i, generation: s.generation}, s.entry)
		}
	}
}

// FindBySequence scans for the entry with the given sequence number, used
// by ACK/NACK application. O(capacity): every slot is visited; acceptable at the
// pool's configured scale (spec.md §6 sender.pool_capacity).
func (p *Pool) FindBySequence(seq uint64) (Handle, Entry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.slots {
		s := &p.slots[i]
		if s.occupied && s.entry.Sequence == seq {
			return Handle{index: i, generation: s.generation}, s.entry, true
		}
	}
	return Handle{}, Entry{}, false
}
