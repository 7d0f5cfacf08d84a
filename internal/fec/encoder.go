package fec

import (
	"sync"

	"github.com/strata-video/bonding/internal/wire"
)

// Repair is a generated repair symbol ready to go on the wire.
type Repair = wire.FecRepair

// Encoder accumulates source symbols in a sliding window of up to K per
// generation (spec.md §4.3). On the Kth symbol it emits R repair packets;
// a generation, once closed, is never reopened (spec.md §3 invariant).
// Partial flush (Flush) emits repairs for whatever prefix is buffered,
// e.g. when the sender goes idle (spec.md §4.7 tick()).
type Encoder struct {
	mu         sync.Mutex
	k, r       int
	symbolSize int

	genID      uint16
	sources    [][]byte // padded symbols, len == symbolSize
	rawIndices []int    // source index within the generation
}

// NewEncoder creates an encoder with the given K/R and the default symbol
// size.
func NewEncoder(k, r int) *Encoder {
	return &Encoder{k: k, r: r, symbolSize: DefaultSymbolSize, genID: 0}
}

// SetKR updates K/R for generations opened after this call (TAROT
// auto-tuning, spec.md §4.3).
func (e *Encoder) SetKR(k, r int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.k, e.r = k, r
}

// AddSource submits one source payload. It returns the generation id and
// index the symbol was assigned, plus repair symbols if submitting this
// symbol closed the generation (buffered source count reached K).
func (e *Encoder) AddSource(payload []byte) (genID uint16, index int, repairs []Repair, closed bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.sources == nil {
		e.sources = make([][]byte, 0, e.k)
	}
	index = len(e.sources)
	e.sources = append(e.sources, encodeSymbol(payload, e.symbolSize))
	genID = e.genID

	if len(e.sources) >= e.k {
		repairs = e.emitRepairsLocked()
		e.openNextLocked()
		closed = true
	}
	return genID, index, repairs, closed
}

// Flush emits repair symbols for whatever source prefix is currently
// buffered (even if short of K) and closes the generation. A no-op if
// nothing is buffered.
func (e *Encoder) Flush() (genID uint16, repairs []Repair) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.sources) == 0 {
		return e.genID, nil
	}
	genID = e.genID
	repairs = e.emitRepairsLocked()
	e.openNextLocked()
	return genID, repairs
}

func (e *Encoder) emitRepairsLocked() []Repair {
	k := len(e.sources)
	repairs := make([]Repair, 0, e.r)
	for j := 0; j < e.r; j++ {
		row := coefficientRow(e.genID, uint16(j), k)
		data := make([]byte, e.symbolSize)
		for i, sym := range e.sources {
			gfAddScaledVec(data, sym, row[i])
		}
		repairs = append(repairs, Repair{
			GenerationID: e.genID,
			SymbolIndex:  uint16(j),
			K:            uint16(k),
			R:            uint16(e.r),
			Coefficients: row,
			Data:         data,
		})
	}
	return repairs
}

func (e *Encoder) openNextLocked() {
	e.genID++
	e.sources = e.sources[:0]
}

// CurrentGeneration returns the generation id currently accepting source
// symbols and the count buffered so far.
func (e *Encoder) CurrentGeneration() (genID uint16, buffered int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.genID, len(e.sources)
}
