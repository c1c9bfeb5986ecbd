package bitcodec

import "math/bits"

// Coder is the per-field-class contract: encoded width, forward append/get,
// and backward append/get (used only by the id stream, which grows from the
// Area tail).
//
// Encoding is Elias-gamma over n+1 (so n==0 costs exactly 1 bit): a unary
// run of (k-1) zero bits, then the k-bit binary form of n+1, MSB first,
// whose leading bit (always 1) doubles as the unary run's terminator. This
// makes every encoded value self-describing, which is what lets Get decode
// a stream of unknown-width gaps without any externally supplied width, and
// the reason a fixed-width scheme (which would need the width supplied out
// of band) was not used instead.
//
// AppendBack/GetBack store the mirror image: read in decreasing-address
// order starting just below the cursor, the bits reproduce the identical
// zero-run-then-payload sequence a forward Get expects, so GetBack can
// self-describe without knowing where the code starts.
type Coder interface {
	// BitsFor returns the encoded width of a non-negative integer.
	BitsFor(n uint32) int
	// Append writes n into buf starting at bit *off, advances *off.
	Append(buf []uint32, off *int, n uint32)
	// AppendBack writes n into buf ending at bit *off, moves *off backward.
	AppendBack(buf []uint32, off *int, n uint32)
	// Get decodes the dual of Append. Returns false if it would read past
	// totalBits.
	Get(buf []uint32, totalBits int, off *int) (uint32, bool)
	// GetBack decodes the dual of AppendBack. Returns false if it would
	// read before bit 0.
	GetBack(buf []uint32, off *int) (uint32, bool)
}

type gammaCoder struct{}

func gammaWidth(n uint32) int {
	k := bits.Len32(n + 1) // n+1 is always >= 1
	return 2*k - 1
}

func (gammaCoder) BitsFor(n uint32) int { return gammaWidth(n) }

func (gammaCoder) Append(buf []uint32, off *int, n uint32) {
	v := n + 1
	k := bits.Len32(v)
	Append(buf, off, 0, k-1) // unary prefix of k-1 zeros
	for i := k - 1; i >= 0; i-- {
		Append(buf, off, (v>>uint(i))&1, 1)
	}
}

func (gammaCoder) Get(buf []uint32, totalBits int, off *int) (uint32, bool) {
	k := 1
	for {
		bit, ok := Get(buf, totalBits, off, 1)
		if !ok {
			return 0, false
		}
		if bit == 1 {
			break
		}
		k++
		if k > 32 {
			return 0, false
		}
	}
	v := uint32(1)
	for i := 0; i < k-1; i++ {
		bit, ok := Get(buf, totalBits, off, 1)
		if !ok {
			return 0, false
		}
		v = (v << 1) | bit
	}
	return v - 1, true
}

func (gammaCoder) AppendBack(buf []uint32, off *int, n uint32) {
	v := n + 1
	k := bits.Len32(v)
	pos := *off
	for i := 0; i < k-1; i++ {
		pos--
		setBit(buf, pos, 0)
	}
	for i := 0; i < k; i++ {
		pos--
		setBit(buf, pos, (v>>uint(k-1-i))&1)
	}
	*off = pos
}

func (gammaCoder) GetBack(buf []uint32, off *int) (uint32, bool) {
	pos := *off
	k := 1
	for {
		if pos-1 < 0 {
			return 0, false
		}
		pos--
		if getBit(buf, pos) == 1 {
			break
		}
		k++
		if k > 32 {
			return 0, false
		}
	}
	v := uint32(1)
	for i := 0; i < k-1; i++ {
		if pos-1 < 0 {
			return 0, false
		}
		pos--
		v = (v << 1) | getBit(buf, pos)
	}
	*off = pos
	return v - 1, true
}

// IDCoder encodes document-id gaps.
var IDCoder Coder = gammaCoder{}

// FrequencyCoder encodes term frequencies (absolute counts, not gapped).
var FrequencyCoder Coder = gammaCoder{}

// LocationCoder encodes position gaps within one document's position list.
var LocationCoder Coder = gammaCoder{}

// BitsFor is the free function form used by callers that only need width
// math (e.g. to size an Area before committing a write).
func BitsFor(n uint32) int { return gammaWidth(n) }

// Gap computes the unsigned difference prev -> cur for gap coding. Callers
// must ensure cur > prev (or cur >= prev for the first element, where prev
// is conventionally 0); doc-id and position streams are both strictly
// increasing, which guarantees this.
func Gap(prev, cur uint32) uint32 {
	return cur - prev
}

// Ungap reverses Gap.
func Ungap(prev, gap uint32) uint32 {
	return prev + gap
}
