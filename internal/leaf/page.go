package leaf

import (
	"fmt"

	"github.com/go-mizu/invfts/internal/pagestore"
)

// pageHeaderWords is the word count of a leaf page's fixed header:
// prevPageId, nextPageId, areaCount.
const pageHeaderWords = 3

// Page wraps one attached pagestore.Page with the leaf file's area-array
// layout on top of it.
type Page struct {
	pp *pagestore.Page
}

// Wrap adapts an already-attached pagestore.Page into a leaf Page view.
func Wrap(pp *pagestore.Page) *Page { return &Page{pp: pp} }

// ID returns the underlying page id.
func (p *Page) ID() pagestore.PageID { return p.pp.ID() }

// Raw returns the underlying pagestore page, for callers (split/reduce,
// File) that need to Detach it.
func (p *Page) Raw() *pagestore.Page { return p.pp }

func (p *Page) words() []uint32 { return p.pp.Words() }

func (p *Page) PrevPageId() pagestore.PageID { return pagestore.PageID(p.words()[0]) }
func (p *Page) NextPageId() pagestore.PageID { return pagestore.PageID(p.words()[1]) }
func (p *Page) AreaCount() int               { return int(p.words()[2]) }

func (p *Page) SetPrevPageId(id pagestore.PageID) {
	p.words()[0] = uint32(id)
	p.pp.MarkDirty()
}
func (p *Page) SetNextPageId(id pagestore.PageID) {
	p.words()[1] = uint32(id)
	p.pp.MarkDirty()
}
func (p *Page) setAreaCount(n int) {
	p.words()[2] = uint32(n)
	p.pp.MarkDirty()
}

// pageUnitSize is the page's total capacity in 32-bit words.
func (p *Page) pageUnitSize() int { return len(p.words()) }

// usedUnitSize is the word count consumed by the header and all Areas.
func (p *Page) usedUnitSize() int {
	used := pageHeaderWords
	off := pageHeaderWords
	for i := 0; i < p.AreaCount(); i++ {
		a := newArea(p, off)
		sz := a.UnitSize()
		used += sz
		off += sz
	}
	return used
}

// FreeUnitSize is the word count not yet claimed by the header or any Area,
// the invariant spec.md §4.2 names: usedUnitSize + freeUnitSize == pageUnitSize.
func (p *Page) FreeUnitSize() int { return p.pageUnitSize() - p.usedUnitSize() }

// AreaIter identifies one Area's position within a Page's area array.
type AreaIter struct {
	Page    *Page
	Index   int // 0-based position among the page's areas
	WordOff int // word offset of the area's header word
}

// Valid reports whether the iterator refers to an existing area (as
// opposed to the page's end()).
func (it AreaIter) Valid() bool { return it.Page != nil && it.Index < it.Page.AreaCount() }

// Area returns the underlying Area view. It does not check Valid(); on an
// End() iterator the view points at no Area and reading it panics, so
// callers must check Valid (or compare against End()) first.
func (it AreaIter) Area() *Area { return newArea(it.Page, it.WordOff) }

// End returns the end-of-page sentinel iterator, matching spec.md's
// "lowerBound returns end() iff all keys < key".
func (p *Page) End() AreaIter {
	return AreaIter{Page: p, Index: p.AreaCount(), WordOff: -1}
}

// iterAt returns the iterator at the given 0-based area index, which must
// be <= AreaCount(); at AreaCount() it behaves like End().
func (p *Page) iterAt(index int) AreaIter {
	off := pageHeaderWords
	for i := 0; i < index; i++ {
		off += newArea(p, off).UnitSize()
	}
	return AreaIter{Page: p, Index: index, WordOff: off}
}

// Search performs an exact lookup; the returned iterator is invalid
// (End()) if key is absent.
func (p *Page) Search(key []uint16) AreaIter {
	it := p.LowerBound(key)
	if !it.Valid() {
		return it
	}
	if CompareKeyUnsigned(it.Area().Key(), key) == 0 {
		return it
	}
	return p.End()
}

// LowerBound returns the first area whose key is >= key, or End() if every
// key in the page is smaller. Areas are strictly key-ordered (spec.md §4.2
// invariant), so this is a straightforward linear scan; leaf pages are
// small enough (bounded by pageUnitSize) that binary search over variable-
// length entries would not meaningfully outperform it.
func (p *Page) LowerBound(key []uint16) AreaIter {
	off := pageHeaderWords
	n := p.AreaCount()
	for i := 0; i < n; i++ {
		a := newArea(p, off)
		if CompareKeyUnsigned(a.Key(), key) >= 0 {
			return AreaIter{Page: p, Index: i, WordOff: off}
		}
		off += a.UnitSize()
	}
	return p.End()
}

// IsInsertArea reports whether an Area for key with the given payload word
// count would fit in the page's current free space without requiring a
// split.
func (p *Page) IsInsertArea(key []uint16, payloadWords int) bool {
	return AreaUnitSize(key, payloadWords) <= p.FreeUnitSize()
}

// ErrSplit is returned by Insert when the page does not have enough free
// space; the caller must perform a Split and retry.
var ErrSplit = fmt.Errorf("leaf: insufficient free space, split required")

// Insert adds a new, zero-valued Area for key with the given payload word
// count, in key order. Returns ErrSplit (no mutation performed) if the page
// lacks room; the caller must Split and retry.
func (p *Page) Insert(key []uint16, payloadWords int) (AreaIter, error) {
	need := AreaUnitSize(key, payloadWords)
	if need > p.FreeUnitSize() {
		return AreaIter{}, ErrSplit
	}
	it := p.LowerBound(key)
	insertOff := it.WordOff
	if !it.Valid() {
		insertOff = pageHeaderWords + p.usedUnitSize() - pageHeaderWords
	}
	p.shiftTail(insertOff, need)
	a := newArea(p, insertOff)
	a.setHeader(Short, need)
	a.setKey(key)
	p.setAreaCount(p.AreaCount() + 1)
	return AreaIter{Page: p, Index: it.Index, WordOff: insertOff}, nil
}

// InsertArea splices a fully-prepared Area (header, key, and payload
// already written into src) into this page at its key-ordered position.
// Used by split/reduce to relocate whole areas between pages without
// re-deriving their contents.
func (p *Page) InsertArea(src []uint32) AreaIter {
	key := decodeAreaKey(src)
	unitSize := int(src[0] & unitSizeMask)
	it := p.LowerBound(key)
	insertOff := it.WordOff
	if !it.Valid() {
		insertOff = pageHeaderWords + p.usedUnitSize() - pageHeaderWords
	}
	p.shiftTail(insertOff, unitSize)
	copy(p.words()[insertOff:insertOff+unitSize], src)
	p.pp.MarkDirty()
	p.setAreaCount(p.AreaCount() + 1)
	return AreaIter{Page: p, Index: it.Index, WordOff: insertOff}
}

func decodeAreaKey(area []uint32) []uint16 {
	tmp := &Page{pp: wordsOnlyPage(area)}
	return newArea(tmp, 0).Key()
}

// wordsOnlyPage adapts a raw []uint32 so Area's byte-level key accessors
// (which go through pagestore.Page.Bytes()) work against an in-memory
// scratch buffer used while areas are in flight between pages.
func wordsOnlyPage(words []uint32) *pagestore.Page {
	return pagestore.NewScratch(words)
}

// shiftTail opens a gap of n words at wordOff by moving every word at or
// after wordOff forward by n, for Insert/ChangeAreaSize growth.
func (p *Page) shiftTail(wordOff, n int) {
	w := p.words()
	used := pageHeaderWords + p.usedUnitSize() - pageHeaderWords
	copy(w[wordOff+n:used+n], w[wordOff:used])
	for i := wordOff; i < wordOff+n; i++ {
		w[i] = 0
	}
	p.pp.MarkDirty()
}

// closeGap removes n words starting at wordOff by moving every later word
// back by n, for Expunge/ChangeAreaSize shrink.
func (p *Page) closeGap(wordOff, n int) {
	w := p.words()
	used := pageHeaderWords + p.usedUnitSize() - pageHeaderWords
	copy(w[wordOff:used-n], w[wordOff+n:used])
	for i := used - n; i < used; i++ {
		w[i] = 0
	}
	p.pp.MarkDirty()
}

// Expunge removes the Area at it from the page, closing the resulting gap.
func (p *Page) Expunge(it AreaIter) {
	if !it.Valid() {
		return
	}
	n := it.Area().UnitSize()
	p.closeGap(it.WordOff, n)
	p.setAreaCount(p.AreaCount() - 1)
}

// ChangeAreaSize grows (delta > 0) or shrinks (delta < 0) the Area at it by
// delta words. Returns false (no mutation) if growing would not fit in the
// page's current free space; the caller must Split and retry.
func (p *Page) ChangeAreaSize(it AreaIter, delta int) bool {
	if !it.Valid() {
		return delta == 0
	}
	a := it.Area()
	if delta > 0 {
		if delta > p.FreeUnitSize() {
			return false
		}
		tailOff := it.WordOff + a.UnitSize()
		p.shiftTail(tailOff, delta)
		a.setHeader(a.ListType(), a.UnitSize()+delta)
		return true
	}
	if delta < 0 {
		shrink := -delta
		tailOff := it.WordOff + a.UnitSize() - shrink
		p.closeGap(tailOff, shrink)
		a.setHeader(a.ListType(), a.UnitSize()+delta)
	}
	return true
}

// ExtractArea copies the Area at it out into a standalone word slice
// (header, key, and payload), for relocation by Split/Reduce. The source
// area is left untouched; callers that want to remove it call Expunge
// separately.
func (p *Page) ExtractArea(it AreaIter) []uint32 {
	a := it.Area()
	n := a.UnitSize()
	out := make([]uint32, n)
	copy(out, p.words()[it.WordOff:it.WordOff+n])
	return out
}

// Areas returns iterators for every area in the page, in key order.
func (p *Page) Areas() []AreaIter {
	n := p.AreaCount()
	out := make([]AreaIter, 0, n)
	off := pageHeaderWords
	for i := 0; i < n; i++ {
		out = append(out, AreaIter{Page: p, Index: i, WordOff: off})
		off += newArea(p, off).UnitSize()
	}
	return out
}
