package postlist

import "github.com/go-mizu/invfts/internal/bitcodec"

// One posting's payload in the position stream is, depending on cfg:
//
//	NoTF:        nothing at all (frequency reads back as the constant 1).
//	NoLocation:  FrequencyCoder.Append(freq) only.
//	Full:        FrequencyCoder.Append(freq), then WritePositionList(positions).
//
// Storing freq explicitly even in Full mode (rather than relying solely on
// len(positions)) is what lets SkipEntry skip a whole entry's position
// data in O(1) without decoding individual positions: freq
// is cheap to decode (one gamma code) and then the length-prefixed position
// list can be skipped wholesale via bitcodec.SkipPositionList.

// EntryBits returns the total bit width WriteEntry would consume for one
// posting, without writing anything.
func EntryBits(cfg ListConfig, positions []uint32) int {
	if cfg.IsNoTF() {
		return 0
	}
	n := bitcodec.FrequencyCoder.BitsFor(uint32(len(positions)))
	if !cfg.IsNoLocation() {
		n += bitcodec.PositionListBits(positions)
	}
	return n
}

// WriteEntry writes one posting's frequency/position payload forward at
// *off per cfg, returning the number of bits written.
func WriteEntry(buf []uint32, off *int, cfg ListConfig, positions []uint32) int {
	if cfg.IsNoTF() {
		return 0
	}
	start := *off
	bitcodec.FrequencyCoder.Append(buf, off, uint32(len(positions)))
	if !cfg.IsNoLocation() {
		bitcodec.WritePositionList(buf, off, positions)
	}
	return *off - start
}

// ReadEntry decodes one posting's frequency and (if present) position list
// forward at *off. Under NoTF, freq is the constant 1 and off is untouched.
func ReadEntry(buf []uint32, totalBits int, off *int, cfg ListConfig) (freq int, positions []uint32, ok bool) {
	if cfg.IsNoTF() {
		return 1, nil, true
	}
	n, ok := bitcodec.FrequencyCoder.Get(buf, totalBits, off)
	if !ok {
		return 0, nil, false
	}
	freq = int(n)
	if cfg.IsNoLocation() {
		// No positions are stored; freq alone is the true decoded value.
		// Returning a genuinely empty slice here (rather than a freq-length
		// placeholder of zero-valued positions) keeps a no-location list's
		// iterator from ever surfacing invalid position data - position
		// values are documented as 1-based, so 0 is not a valid position.
		return freq, nil, true
	}
	positions, ok = bitcodec.ReadPositionList(buf, totalBits, off, freq)
	if !ok {
		return 0, nil, false
	}
	return freq, positions, true
}

// replayPositions reconstructs a freq-length placeholder positions slice
// when a decoded entry's real position list was not stored (NoLocation) or
// never existed (NoTF), so internal replay paths (Convert, Iterator.Expunge's
// rebuild, InsertList) that derive freq from len(positions) via EntryBits/
// WriteEntry preserve the original frequency across the round trip. This
// placeholder is only ever fed back into Insert/WriteEntry, never handed to
// a query-facing LocationListIterator.
func replayPositions(freq int, positions []uint32) []uint32 {
	if len(positions) == 0 && freq > 0 {
		return make([]uint32, freq)
	}
	return positions
}

// SkipEntry advances *off past one posting's frequency/position payload
// without decoding the individual positions. Iterator in this package
// decodes every entry in full and does not call it.
func SkipEntry(buf []uint32, totalBits int, off *int, cfg ListConfig) bool {
	if cfg.IsNoTF() {
		return true
	}
	n, ok := bitcodec.FrequencyCoder.Get(buf, totalBits, off)
	if !ok {
		return false
	}
	if cfg.IsNoLocation() {
		return true
	}
	return bitcodec.SkipPositionList(buf, totalBits, off, int(n))
}
