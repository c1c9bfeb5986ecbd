// Package overflow implements the overflow file: pages carrying IDBlocks
// (compressed document-id runs) and LOCBlocks (position payloads) for
// Middle and Long posting lists, chained by continuation pointers when a
// list's data outgrows one block.
package overflow

import "github.com/go-mizu/invfts/internal/pagestore"

// idBlockHeaderWords is the header word count of one IDBlock slot:
// firstDocumentId, flags, locBlockPageId, locBlockOffset.
const idBlockHeaderWords = 4

// locBlockHeaderWords is the header word count of one LOCBlock slot: flags,
// dataBitLength, nextPageId, nextSlot. spec.md §4.3 describes the
// continueFlag without naming where the "next" pointer itself lives; this
// package resolves that gap by storing it explicitly, since blocks are not
// otherwise addressable in chain order (allocation is first-fit, not
// sequential).
const locBlockHeaderWords = 4

const (
	idFlagExpunged = 1 << 0
	idFlagOccupied = 1 << 1

	// idBitsUsedShift packs the number of valid gap-stream bits written into
	// a sealed (spilled) IDBlock into the flags word's upper bits: a sealed
	// block's capacity is fixed, but the amount of data actually written at
	// spill time can be less than capacity, so decode needs to know where to
	// stop without a wasted dedicated header word.
	idBitsUsedShift = 8

	locFlagContinue = 1 << 0
	locFlagOccupied = 1 << 1
)

// IDBlock is a view over one fixed-size doc-id block slot inside an
// overflow page.
type IDBlock struct {
	page     *Page
	slotOff  int // word offset of the slot (header + payload)
	dataUnit int // payload word count for this file's ID blocks
}

func (b *IDBlock) words() []uint32 { return b.page.pp.Words() }

// FirstDocumentId is the plaintext first doc-id of the block's gap stream.
func (b *IDBlock) FirstDocumentId() uint32 { return b.words()[b.slotOff] }

func (b *IDBlock) SetFirstDocumentId(id uint32) {
	b.words()[b.slotOff] = id
	b.page.pp.MarkDirty()
}

func (b *IDBlock) flags() uint32 { return b.words()[b.slotOff+1] }

func (b *IDBlock) setFlags(f uint32) {
	b.words()[b.slotOff+1] = f
	b.page.pp.MarkDirty()
}

// Expunged reports whether the block is logically deleted; pages still
// reference it until vacuum reclaims the slot.
func (b *IDBlock) Expunged() bool { return b.flags()&idFlagExpunged != 0 }

func (b *IDBlock) SetExpunged(v bool) {
	f := b.flags()
	if v {
		f |= idFlagExpunged
	} else {
		f &^= idFlagExpunged
	}
	b.setFlags(f)
}

// Occupied reports whether the slot currently holds a live block (as
// opposed to being on the page's free list).
func (b *IDBlock) Occupied() bool { return b.flags()&idFlagOccupied != 0 }

func (b *IDBlock) setOccupied(v bool) {
	f := b.flags()
	if v {
		f |= idFlagOccupied
	} else {
		f &^= idFlagOccupied
	}
	b.setFlags(f)
}

// BitsUsed returns the number of valid gap-stream bits written into this
// block's Data at the time it was sealed (copied from the leaf Area's
// inline current block onto an overflow page).
func (b *IDBlock) BitsUsed() int { return int(b.flags() >> idBitsUsedShift) }

func (b *IDBlock) SetBitsUsed(n int) {
	f := b.flags() & ((1 << idBitsUsedShift) - 1)
	b.setFlags(f | (uint32(n) << idBitsUsedShift))
}

// LocBlockPageId names the overflow page carrying this IDBlock's LOCBlock.
func (b *IDBlock) LocBlockPageId() pagestore.PageID {
	return pagestore.PageID(b.words()[b.slotOff+2])
}

func (b *IDBlock) SetLocBlockPageId(id pagestore.PageID) {
	b.words()[b.slotOff+2] = uint32(id)
	b.page.pp.MarkDirty()
}

// LocBlockOffset is the word offset of the corresponding LOCBlock slot.
func (b *IDBlock) LocBlockOffset() uint32 { return b.words()[b.slotOff+3] }

func (b *IDBlock) SetLocBlockOffset(off uint32) {
	b.words()[b.slotOff+3] = off
	b.page.pp.MarkDirty()
}

// Data returns the block's bit-packed doc-id gap payload words.
func (b *IDBlock) Data() []uint32 {
	start := b.slotOff + idBlockHeaderWords
	return b.words()[start : start+b.dataUnit]
}

// SlotWords is the total word count (header + payload) one IDBlock slot
// occupies, used by page layout math.
func (b *IDBlock) SlotWords() int { return idBlockHeaderWords + b.dataUnit }

// LOCBlock is a view over one fixed-size position-payload block slot.
type LOCBlock struct {
	page     *Page
	slotOff  int
	dataUnit int
}

func (b *LOCBlock) words() []uint32 { return b.page.pp.Words() }

func (b *LOCBlock) flags() uint32 { return b.words()[b.slotOff] }

func (b *LOCBlock) setFlags(f uint32) {
	b.words()[b.slotOff] = f
	b.page.pp.MarkDirty()
}

// Continue reports whether this block chains to another LOCBlock on a
// later overflow page.
func (b *LOCBlock) Continue() bool { return b.flags()&locFlagContinue != 0 }

func (b *LOCBlock) SetContinue(v bool) {
	f := b.flags()
	if v {
		f |= locFlagContinue
	} else {
		f &^= locFlagContinue
	}
	b.setFlags(f)
}

// Occupied reports whether the slot currently holds live data.
func (b *LOCBlock) Occupied() bool { return b.flags()&locFlagOccupied != 0 }

func (b *LOCBlock) setOccupied(v bool) {
	f := b.flags()
	if v {
		f |= locFlagOccupied
	} else {
		f &^= locFlagOccupied
	}
	b.setFlags(f)
}

// NextPageId/NextSlot name the LOCBlock this one chains to when Continue is
// set, resolving where the "next LOCBlock on the next overflow page" of
// spec.md §4.3 actually is.
func (b *LOCBlock) NextPageId() pagestore.PageID { return pagestore.PageID(b.words()[b.slotOff+2]) }

func (b *LOCBlock) SetNextPageId(id pagestore.PageID) {
	b.words()[b.slotOff+2] = uint32(id)
	b.page.pp.MarkDirty()
}

func (b *LOCBlock) NextSlot() int { return int(b.words()[b.slotOff+3]) }

func (b *LOCBlock) SetNextSlot(s int) {
	b.words()[b.slotOff+3] = uint32(s)
	b.page.pp.MarkDirty()
}

// DataBitLength is the number of valid bits of position data in this slot.
func (b *LOCBlock) DataBitLength() uint32 { return b.words()[b.slotOff+1] }

func (b *LOCBlock) SetDataBitLength(n uint32) {
	b.words()[b.slotOff+1] = n
	b.page.pp.MarkDirty()
}

// Data returns the block's bit-packed position payload words.
func (b *LOCBlock) Data() []uint32 {
	start := b.slotOff + locBlockHeaderWords
	return b.words()[start : start+b.dataUnit]
}

// SlotWords is the total word count one LOCBlock slot occupies.
func (b *LOCBlock) SlotWords() int { return locBlockHeaderWords + b.dataUnit }
