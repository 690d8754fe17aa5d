package subcar

// Accumulator collects payload bits MSB-first across two 64-bit lanes.
// Bits shifted out of Lo carry into Hi; bits shifted out of Hi are lost.
type Accumulator struct {
	Hi    uint64
	Lo    uint64
	Count int
}

// Push shifts one bit in at the least significant end
func (a *Accumulator) Push(bit bool) {
	a.Hi = a.Hi<<1 | a.Lo>>63
	a.Lo <<= 1
	if bit {
		a.Lo |= 1
	}
	a.Count++
}

// Clear drops all bits
func (a *Accumulator) Clear() {
	*a = Accumulator{}
}

// Empty reports whether the accumulator holds no bits at all
func (a *Accumulator) Empty() bool {
	return a.Count == 0 && a.Hi == 0 && a.Lo == 0
}

// Bytes writes the low n bytes (n <= 16) of the 128-bit value into dst,
// most significant first, and returns dst[:n].
func (a *Accumulator) Bytes(dst []byte, n int) []byte {
	if n > 16 {
		n = 16
	}
	dst = dst[:n]
	for i := 0; i < n; i++ {
		// byte k counts from the least significant end
		k := n - 1 - i
		if k >= 8 {
			dst[i] = byte(a.Hi >> (8 * (k - 8)))
		} else {
			dst[i] = byte(a.Lo >> (8 * k))
		}
	}
	return dst
}

// rawBitsCap is the capacity of RawBits
const rawBitsCap = 256

// RawBits is a fixed buffer of line-level half-symbols, used by decoders
// that collect a whole frame before Manchester-decoding it.
type RawBits struct {
	words [rawBitsCap / 64]uint64
	n     int
}

// Push appends a bit. It reports false once the buffer is full.
func (r *RawBits) Push(bit bool) bool {
	if r.n >= rawBitsCap {
		return false
	}
	if bit {
		r.words[r.n/64] |= 1 << (63 - uint(r.n%64))
	}
	r.n++
	return true
}

// Bit returns bit i (0 is the first pushed)
func (r *RawBits) Bit(i int) bool {
	return r.words[i/64]&(1<<(63-uint(i%64))) != 0
}

// Len returns the number of bits held
func (r *RawBits) Len() int {
	return r.n
}

// Clear drops all bits
func (r *RawBits) Clear() {
	*r = RawBits{}
}

// decodeManchesterPairs decodes raw bit pairs starting at offset.
// A pair equal to one decodes as 1, the reversed pair as 0, and anything
// else stops decoding.
// At most limit bits are decoded.
func (r *RawBits) decodeManchesterPairs(offset int, one [2]bool, limit int) (value uint64, count int) {
	for i := offset; i+1 < r.n && count < limit; i += 2 {
		a, b := r.Bit(i), r.Bit(i+1)
		switch {
		case a == one[0] && b == one[1]:
			value = value<<1 | 1
		case a == one[1] && b == one[0]:
			value <<= 1
		default:
			return value, count
		}
		count++
	}
	return value, count
}
