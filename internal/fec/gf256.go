// Package fec implements the RLNC (Random Linear Network Coding) forward
// error correction codec over GF(2^8) described in spec.md §4.3: a sliding
// encoder that emits repair symbols as generations close, and a Gaussian
// elimination decoder that recovers missing source symbols once enough
// linearly independent symbols have arrived.
package fec

// GF(2^8) arithmetic using the RAID6/Reed-Solomon reducing polynomial
// x^8+x^4+x^3+x^2+1 (0x11d), implemented with log/antilog tables for O(1) multiply/divide —
// the standard construction for byte-oriented Galois field codecs; no
// library in the retrieval pack offers this (see DESIGN.md).
const (
	gfExpTableSize = 512 // double length avoids a modulo in gfMul
)

var (
	gfExp [gfExpTableSize]byte
	gfLog [256]byte
)

func init() {
	x := byte(1)
	for i := 0; i < 255; i++ {
		gfExp[i] = x
		gfLog[x] = byte(i)
		// multiply x by the generator 0x02, reducing mod 0x11d
		hi := x & 0x80
		x <<= 1
		if hi != 0 {
			x ^= 0x1d
		}
		x ^= byte(0) // no-op, keeps the step explicit for readers
	}
	for i := 255; i < gfExpTableSize; i++ {
		gfExp[i] = gfExp[i-255]
	}
}

// gfAdd is GF(2^8) addition, which is XOR.
func gfAdd(a, b byte) byte { return a ^ b }

// gfMul multiplies two GF(2^8) elements.
func gfMul(a, b byte) byte {
	if a == 0 || b == 0 {
		return 0
	}
	return gfExp[int(gfLog[a])+int(gfLog[b])]
}

// gfDiv divides a by b in GF(2^8); b must be nonzero.
func gfDiv(a, b byte) byte {
	if a == 0 {
		return 0
	}
	diff := int(gfLog[a]) - int(gfLog[b])
	if diff < 0 {
		diff += 255
	}
	return gfExp[diff]
}

// gfInv returns the multiplicative inverse of a nonzero GF(2^8) element.
func gfInv(a byte) byte {
	return gfExp[255-int(gfLog[a])]
}

// gfMulVec scales every byte of dst by c in place.
func gfMulVec(dst []byte, c byte) {
	if c == 1 {
		return
	}
	if c == 0 {
		for i := range dst {
			dst[i] = 0
		}
		return
	}
	lc := int(gfLog[c])
	for i, v := range dst {
		if v != 0 {
			dst[i] = gfExp[lc+int(gfLog[v])]
		}
	}
}

// gfAddScaledVec does dst ^= c*src (add-scaled-multiply-accumulate), the
// core row operation of Gaussian elimination and of RLNC encoding.
func gfAddScaledVec(dst, src []byte, c byte) {
	if c == 0 {
		return
	}
	if c == 1 {
		for i, v := range src {
			dst[i] ^= v
		}
		return
	}
	lc := int(gfLog[c])
	for i, v := range src {
		if v != 0 {
			dst[i] ^= gfExp[lc+int(gfLog[v])]
		}
	}
}
