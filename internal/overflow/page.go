package overflow

import (
	"github.com/RoaringBitmap/roaring/v2"

	"github.com/go-mizu/invfts/internal/pagestore"
)

// Kind discriminates the three overflow page flavours spec.md §4.3 names.
type Kind uint8

const (
	KindID Kind = iota
	KindLOC
	KindIDLOC
)

// pageHeaderWords is the fixed header word count of an overflow page:
// kind, idSlotCount, locSlotCount.
const pageHeaderWords = 3

// Page wraps an attached pagestore.Page with the overflow file's slot
// layout: a run of IDBlock slots (present for KindID/KindIDLOC) followed by
// a run of LOCBlock slots (present for KindLOC/KindIDLOC).
//
// Each slot's liveness is recorded durably in its own header (the
// `occupied` flag in block.go); freeIDs/freeLocs are a roaring.Bitmap index
// over that state, rebuilt from the slot headers each time Wrap builds a
// Page view (so on every File.Attach), which lets allocate/free and
// AllEmpty work from the bitmaps; LowerBoundIDBlock reads the slot flags
// directly (§2 of SPEC_FULL.md: roaring wired in as the per-page sparse
// free-block set).
type Page struct {
	pp          *pagestore.Page
	idUnit      int
	locUnit     int
	freeIDs     *roaring.Bitmap
	freeLocs    *roaring.Bitmap
	bitmapsBuilt bool
}

// Wrap adapts an attached pagestore.Page plus this file's configured
// IDBlock/LOCBlock payload sizes into an overflow Page view.
func Wrap(pp *pagestore.Page, idUnit, locUnit int) *Page {
	p := &Page{pp: pp, idUnit: idUnit, locUnit: locUnit}
	p.buildBitmaps()
	return p
}

func (p *Page) words() []uint32 { return p.pp.Words() }

func (p *Page) ID() pagestore.PageID { return p.pp.ID() }
func (p *Page) Raw() *pagestore.Page { return p.pp }

func (p *Page) Kind() Kind { return Kind(p.words()[0]) }

func (p *Page) idSlotCount() int  { return int(p.words()[1]) }
func (p *Page) locSlotCount() int { return int(p.words()[2]) }

// Init lays out a freshly allocated page as the given kind with the
// requested slot counts, zeroing all slots.
func (p *Page) Init(kind Kind, idSlots, locSlots int) {
	w := p.words()
	for i := range w {
		w[i] = 0
	}
	w[0] = uint32(kind)
	w[1] = uint32(idSlots)
	w[2] = uint32(locSlots)
	p.pp.MarkDirty()
	p.freeIDs = roaring.New()
	p.freeLocs = roaring.New()
	for i := 0; i < idSlots; i++ {
		p.freeIDs.Add(uint32(i))
	}
	for i := 0; i < locSlots; i++ {
		p.freeLocs.Add(uint32(i))
	}
	p.bitmapsBuilt = true
}

func (p *Page) idSlotUnit() int  { return idBlockHeaderWords + p.idUnit }
func (p *Page) locSlotUnit() int { return locBlockHeaderWords + p.locUnit }

func (p *Page) idSlotOffset(i int) int {
	return pageHeaderWords + i*p.idSlotUnit()
}

func (p *Page) locSlotOffset(i int) int {
	idRegion := p.idSlotCount() * p.idSlotUnit()
	return pageHeaderWords + idRegion + i*p.locSlotUnit()
}

func (p *Page) idBlockAt(i int) *IDBlock {
	return &IDBlock{page: p, slotOff: p.idSlotOffset(i), dataUnit: p.idUnit}
}

func (p *Page) locBlockAt(i int) *LOCBlock {
	return &LOCBlock{page: p, slotOff: p.locSlotOffset(i), dataUnit: p.locUnit}
}

func (p *Page) buildBitmaps() {
	p.freeIDs = roaring.New()
	p.freeLocs = roaring.New()
	for i := 0; i < p.idSlotCount(); i++ {
		if !p.idBlockAt(i).Occupied() {
			p.freeIDs.Add(uint32(i))
		}
	}
	for i := 0; i < p.locSlotCount(); i++ {
		if !p.locBlockAt(i).Occupied() {
			p.freeLocs.Add(uint32(i))
		}
	}
	p.bitmapsBuilt = true
}

// AllocateIDBlock first-fits a free ID slot, marks it occupied, and returns
// its block view and slot position. ok is false if the page has no free ID
// slots.
func (p *Page) AllocateIDBlock() (blk *IDBlock, pos int, ok bool) {
	if p.freeIDs.IsEmpty() {
		return nil, 0, false
	}
	i := p.freeIDs.Minimum()
	p.freeIDs.Remove(i)
	b := p.idBlockAt(int(i))
	b.setOccupied(true)
	b.SetExpunged(false)
	return b, int(i), true
}

// AllocateLocBlock first-fits a free LOC slot.
func (p *Page) AllocateLocBlock() (blk *LOCBlock, pos int, ok bool) {
	if p.freeLocs.IsEmpty() {
		return nil, 0, false
	}
	i := p.freeLocs.Minimum()
	p.freeLocs.Remove(i)
	b := p.locBlockAt(int(i))
	b.setOccupied(true)
	b.SetContinue(false)
	return b, int(i), true
}

// GetIDBlock returns the IDBlock at slot pos.
func (p *Page) GetIDBlock(pos int) *IDBlock { return p.idBlockAt(pos) }

// GetLocBlock returns the LOCBlock at slot offset pos (a slot index, not a
// word offset).
func (p *Page) GetLocBlock(pos int) *LOCBlock { return p.locBlockAt(pos) }

// FreeIDBlock clears the slot's occupied flag and returns it to the free
// bitmap.
func (p *Page) FreeIDBlock(pos int) {
	p.idBlockAt(pos).setOccupied(false)
	p.freeIDs.Add(uint32(pos))
}

// FreeLocBlock clears the slot's occupied flag and returns it to the free
// bitmap.
func (p *Page) FreeLocBlock(pos int) {
	p.locBlockAt(pos).setOccupied(false)
	p.freeLocs.Add(uint32(pos))
}

// AllEmpty reports whether every slot on the page (of either kind it
// carries) is free, the precondition for returning the page itself to the
// overflow file's free-page list (spec.md §4.3), unless it is the anchor
// LOC page of a still-live list.
func (p *Page) AllEmpty() bool {
	return int(p.freeIDs.GetCardinality()) == p.idSlotCount() &&
		int(p.freeLocs.GetCardinality()) == p.locSlotCount()
}

// LowerBoundIDBlock binary-searches the page's occupied ID slots by
// firstDocumentId, looking for the slot whose range could contain docId.
// Expunged slots are skipped unless undo is true (spec.md §4.3). Returns
// the slot position and ok=true on a usable candidate.
func (p *Page) LowerBoundIDBlock(docId uint32, undo bool) (pos int, ok bool) {
	lo, hi := 0, p.idSlotCount()
	best := -1
	for lo < hi {
		mid := (lo + hi) / 2
		b := p.idBlockAt(mid)
		if !b.Occupied() && b.FirstDocumentId() == 0 {
			// A slot that has never held a block sorts after every used
			// one: AllocateIDBlock always takes the lowest free slot.
			hi = mid
			continue
		}
		if !b.Occupied() || (b.Expunged() && !undo) {
			// Freed or skippable slots still participate in key order
			// (their firstDocumentId is stable until the page is
			// compacted), so keep searching around them rather than
			// treating them as holes.
			if b.FirstDocumentId() <= docId {
				lo = mid + 1
			} else {
				hi = mid
			}
			continue
		}
		if b.FirstDocumentId() <= docId {
			best = mid
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if best < 0 {
		return 0, false
	}
	return best, true
}
