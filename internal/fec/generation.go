package fec

import "math/rand"

// DefaultSymbolSize bounds the fixed-size RLNC coding symbol. Source
// payloads are stored as a 2-byte big-endian length prefix followed by
// zero-padded bytes up to SymbolSize, so variable-length media payloads
// share one coding vector length per generation.
const DefaultSymbolSize = 1500

// seedFor derives a generation-local PRNG seed from the generation_id
// alone (spec.md §9 open question: the seed must be derivable by the
// receiver without an out-of-band transmission). FNV-1a over the 16-bit
// id, a fixed, well-known non-cryptographic hash — adequate since this
// seed only needs reproducibility, not secrecy.
func seedFor(generationID uint16) uint64 {
	const (
		offset = 14695981039346656037
		prime  = 1099511628211
	)
	h := uint64(offset)
	h ^= uint64(generationID & 0xff)
	h *= prime
	h ^= uint64(generationID >> 8)
	h *= prime
	return h
}

// coefficientRow deterministically regenerates the K-length coefficient
// vector for repair symbolIndex of generation generationID. The encoder
// calls this and carries the resulting row in the FecRepair body; the
// decoder reads the coefficients from that body rather than regenerating
// them (spec.md §4.3, §9).
func coefficientRow(generationID uint16, symbolIndex uint16, k int) []byte {
	seed := seedFor(generationID) ^ (uint64(symbolIndex)+1)*0x9e3779b97f4a7c15
	r := rand.New(rand.NewSource(int64(seed)))
	row := make([]byte, k)
	for i := range row {
		// Map into [1,255]: every coefficient must be nonzero (spec.md §4.3).
		row[i] = byte(r.Intn(255)) + 1
	}
	return row
}

func encodeSymbol(payload []byte, symbolSize int) []byte {
	buf := make([]byte, symbolSize)
	n := len(payload)
	if n > symbolSize-2 {
		n = symbolSize - 2 // caller's contract: payload must fit; truncate defensively
	}
	buf[0] = byte(n >> 8)
	buf[1] = byte(n)
	copy(buf[2:], payload[:n])
	return buf
}

func decodeSymbol(buf []byte) []byte {
	if len(buf) < 2 {
		return nil
	}
	n := int(buf[0])<<8 | int(buf[1])
	if n > len(buf)-2 {
		n = len(buf) - 2
	}
	out := make([]byte, n)
	copy(out, buf[2:2+n])
	return out
}
