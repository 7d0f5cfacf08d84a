package fec

import (
	"container/list"
	"sync"
)

// SourceSymbol is a recovered (or directly received) source symbol.
type SourceSymbol struct {
	GenerationID uint16
	Index        int
	Payload      []byte
}

type generationState struct {
	id         uint16
	k, r       int
	symbolSize int
	sources    map[int][]byte // index -> padded symbol, known
	repairs    []Repair       // buffered repair symbols
	delivered  map[int]bool   // indices already handed to the caller
}

func newGenerationState(id uint16, k, r, symbolSize int) *generationState {
	return &generationState{
		id:         id,
		k:          k,
		r:          r,
		symbolSize: symbolSize,
		sources:    make(map[int][]byte),
		delivered:  make(map[int]bool),
	}
}

func (g *generationState) missing() []int {
	var miss []int
	for i := 0; i < g.k; i++ {
		if _, ok := g.sources[i]; !ok {
			miss = append(miss, i)
		}
	}
	return miss
}

func (g *generationState) complete() bool {
	return len(g.sources) >= g.k
}

// Decoder tracks per-generation decode state across a bounded LRU of
// recent generations (spec.md §3 FEC generation; default window 8-16).
// A generation is dropped once its LRU slot is evicted, per spec.md §7
// FecUnrecoverable policy (fall back to ARQ).
type Decoder struct {
	mu         sync.Mutex
	maxGens    int
	symbolSize int
	order      *list.List // front = most recently touched
	gens       map[uint16]*list.Element
}

// NewDecoder creates a decoder retaining up to maxGenerations generations.
func NewDecoder(maxGenerations int) *Decoder {
	if maxGenerations <= 0 {
		maxGenerations = 16
	}
	return &Decoder{
		maxGens:    maxGenerations,
		symbolSize: DefaultSymbolSize,
		order:      list.New(),
		gens:       make(map[uint16]*list.Element),
	}
}

func (d *Decoder) touch(g *generationState) {
	if el, ok := d.gens[g.id]; ok {
		d.order.MoveToFront(el)
		return
	}
	el := d.order.PushFront(g)
	d.gens[g.id] = el
	for d.order.Len() > d.maxGens {
		back := d.order.Back()
		evicted := back.Value.(*generationState)
		d.order.Remove(back)
		delete(d.gens, evicted.id)
	}
}

func (d *Decoder) getOrCreate(genID uint16, k, r int) *generationState {
	if el, ok := d.gens[genID]; ok {
		g := el.Value.(*generationState)
		d.touch(g)
		return g
	}
	g := newGenerationState(genID, k, r, d.symbolSize)
	d.touch(g)
	return g
}

// AddSource records a directly-received source symbol (no FEC needed for
// it) and returns it ready for delivery, deduplicating against what this
// decoder has already handed out for the generation.
func (d *Decoder) AddSource(genID uint16, k int, index int, payload []byte) *SourceSymbol {
	d.mu.Lock()
	defer d.mu.Unlock()
	g := d.getOrCreate(genID, k, 0)
	if g.delivered[index] {
		return nil
	}
	g.sources[index] = encodeSymbol(payload, g.symbolSize)
	g.delivered[index] = true
	return &SourceSymbol{GenerationID: genID, Index: index, Payload: payload}
}

// AddRepair buffers a repair symbol and attempts recovery, returning any
// source symbols newly recovered as a result.
func (d *Decoder) AddRepair(fr Repair) []SourceSymbol {
	d.mu.Lock()
	defer d.mu.Unlock()
	g := d.getOrCreate(fr.GenerationID, int(fr.K), int(fr.R))
	g.repairs = append(g.repairs, fr)
	return d.tryRecoverLocked(g)
}

// TryRecover re-attempts recovery for a generation that has already seen
// new source symbols since the last repair arrived.
func (d *Decoder) TryRecover(genID uint16) []SourceSymbol {
	d.mu.Lock()
	defer d.mu.Unlock()
	el, ok := d.gens[genID]
	if !ok {
		return nil
	}
	return d.tryRecoverLocked(el.Value.(*generationState))
}

// Complete reports whether every source symbol of genID has been seen or
// recovered, and whether the generation is known at all.
func (d *Decoder) Complete(genID uint16) (complete, known bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	el, ok := d.gens[genID]
	if !ok {
		return false, false
	}
	g := el.Value.(*generationState)
	return g.complete(), true
}

func (d *Decoder) tryRecoverLocked(g *generationState) []SourceSymbol {
	missing := g.missing()
	if len(missing) == 0 || len(g.repairs) == 0 {
		return nil
	}
	if len(g.repairs) < len(missing) {
		return nil // not enough equations yet; ARQ/next repair will help
	}

	// Build the reduced system: for each repair row, subtract the
	// contribution of already-known sources, leaving an equation purely
	// over the missing columns.
	colOf := make(map[int]int, len(missing))
	for j, idx := range missing {
		colOf[idx] = j
	}
	n := len(missing)

	type row struct {
		coeffs []byte // length n
		rhs    []byte // length symbolSize
	}
	rows := make([]row, 0, len(g.repairs))
	for _, rp := range g.repairs {
		rhs := make([]byte, g.symbolSize)
		copy(rhs, rp.Data)
		coeffs := make([]byte, n)
		for srcIdx, known := range g.sources {
			if int(rp.K) <= srcIdx || srcIdx >= len(rp.Coefficients) {
				continue
			}
			gfAddScaledVec(rhs, known, rp.Coefficients[srcIdx])
		}
		for idx, col := range colOf {
			if idx < len(rp.Coefficients) {
				coeffs[col] = rp.Coefficients[idx]
			}
		}
		rows = append(rows, row{coeffs: coeffs, rhs: rhs})
	}

	// Gaussian elimination with partial pivoting over GF(2^8), m >= n.
	m := len(rows)
	used := make([]bool, m)
	pivotRowFor := make([]int, n)
	for col := 0; col < n; col++ {
		pivot := -1
		for r := 0; r < m; r++ {
			if !used[r] && rows[r].coeffs[col] != 0 {
				pivot = r
				break
			}
		}
		if pivot == -1 {
			return nil // submatrix singular for this candidate set; give up until more repairs arrive
		}
		used[pivot] = true
		pivotRowFor[col] = pivot

		inv := gfInv(rows[pivot].coeffs[col])
		gfMulVec(rows[pivot].coeffs, inv)
		gfMulVec(rows[pivot].rhs, inv)

		for r := 0; r < m; r++ {
			if r == pivot {
				continue
			}
			c := rows[r].coeffs[col]
			if c == 0 {
				continue
			}
			gfAddScaledVec(rows[r].coeffs, rows[pivot].coeffs, c)
			gfAddScaledVec(rows[r].rhs, rows[pivot].rhs, c)
		}
	}

	var recovered []SourceSymbol
	for col, idx := range missing {
		padded := rows[pivotRowFor[col]].rhs
		payload := decodeSymbol(padded)
		g.sources[idx] = padded
		if !g.delivered[idx] {
			g.delivered[idx] = true
			recovered = append(recovered, SourceSymbol{
				GenerationID: g.id,
				Index:        idx,
				Payload:      payload,
			})
		}
	}
	return recovered
}
