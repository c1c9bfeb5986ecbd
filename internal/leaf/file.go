package leaf

import (
	"log/slog"

	"github.com/bits-and-blooms/bitset"
	"github.com/pkg/errors"

	"github.com/go-mizu/invfts/internal/pagestore"
)

// File is the leaf file: a chain of fixed-size Pages, plus a free-page
// bitmap tracking pages released by Reduce/vacuum. Every unit's leaf file
// always carries page 1 holding the zero-length-key anchor Area
// (spec.md §4.6 "clear").
type File struct {
	pf        *pagestore.PageFile
	free      *bitset.BitSet
	pageWords int
	log       *slog.Logger
}

// Option configures Open/Create.
type Option func(*File)

// WithLogger sets the file's logger; nil falls back to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(f *File) {
		if l != nil {
			f.log = l
		}
	}
}

// Open opens (creating if necessary) the leaf file at path with the given
// page size in 32-bit words.
func Open(path string, pageWords int, opts ...Option) (*File, error) {
	pf, err := pagestore.Open(path, pageWords*4)
	if err != nil {
		return nil, errors.Wrap(err, "leaf: open")
	}
	f := &File{pf: pf, free: bitset.New(1024), pageWords: pageWords, log: slog.Default()}
	for _, o := range opts {
		o(f)
	}
	return f, nil
}

// PageWords returns the fixed page size in 32-bit words.
func (f *File) PageWords() int { return f.pageWords }

// MaxAreaUnitSize bounds how large a single Short/Batch Area may grow
// before list promotion (Short/Batch -> Middle) takes over: the most a
// dedicated page (the whole point of the 1->3 split below) could ever
// hold, which is this file's configured page size minus its fixed header
// (spec.md §4.2, §9 supplement). Deriving it from the file's own page
// size, rather than a fixed constant, keeps it consistent with whatever
// leaf page size the driver's config.Options actually configured.
func (f *File) MaxAreaUnitSize() int { return f.pageWords - pageHeaderWords }

// Attach fetches and wraps a page for reading/writing. The returned Page
// must be released with Detach.
func (f *File) Attach(id pagestore.PageID) (*Page, error) {
	pp, err := f.pf.Attach(id)
	if err != nil {
		return nil, errors.Wrapf(err, "leaf: attach page %d", id)
	}
	return Wrap(pp), nil
}

// Detach releases a page obtained from Attach/NewPage/AllocatePage.
func (f *File) Detach(p *Page) {
	if p == nil {
		return
	}
	f.pf.Detach(p.pp)
}

// AllocatePage returns a free page if the bitmap has one, otherwise grows
// the file with a fresh page. Either way the page comes back zero-filled
// and attached.
func (f *File) AllocatePage() (*Page, error) {
	if idx, ok := f.firstFree(); ok {
		f.free.Clear(idx)
		p, err := f.Attach(pagestore.PageID(idx))
		if err != nil {
			return nil, err
		}
		for i := range p.words() {
			p.words()[i] = 0
		}
		p.pp.MarkDirty()
		return p, nil
	}
	pp, err := f.pf.NewPage()
	if err != nil {
		return nil, errors.Wrap(err, "leaf: allocate page")
	}
	return Wrap(pp), nil
}

func (f *File) firstFree() (uint, bool) {
	for i := uint(0); i < f.free.Len(); i++ {
		if f.free.Test(i) {
			return i, true
		}
	}
	return 0, false
}

// FreePage returns a page to the free-page bitmap once it holds no live
// Areas, per spec.md §4.2's "reduce" contract.
func (f *File) FreePage(id pagestore.PageID) {
	f.free.Set(uint(id))
}

// EnsureAnchor guarantees page 1 exists and holds the zero-length-key
// anchor Area every unit's leaf file must always carry (spec.md §4.6
// "clear"). A no-op if the anchor is already present.
func (f *File) EnsureAnchor() error {
	p, err := f.Attach(1)
	if err != nil {
		return err
	}
	defer f.Detach(p)
	if p.AreaCount() > 0 {
		return nil
	}
	if _, err := p.Insert(nil, 0); err != nil {
		return errors.Wrap(err, "leaf: install anchor area")
	}
	return nil
}

// Flush writes every dirty page and refreshes read-only mmap state.
func (f *File) Flush() error { return errors.Wrap(f.pf.Flush(), "leaf: flush") }

// Close releases the underlying pooled file handle.
func (f *File) Close() error { return f.pf.Close() }

// Split performs a 1->2 (or 1->3, when the inserting Area alone exceeds
// MaxAreaUnitSize()/2) split of page, so that an Area of insertUnitSize
// words for insertKey can subsequently be inserted. It rethreads prev/next
// pointers and returns the page that should now receive the insert.
//
// Boundary choice follows the supplement from original_source (§3 of
// SPEC_FULL.md): both resulting pages must end up with at least
// pageUnitSize/4 words used, and when the inserting Area alone exceeds
// MaxAreaUnitSize()/2 the middle page of a 1->3 split is dedicated to it
// alone, carrying nothing else - page's existing Areas are redistributed
// between the left and right pages by the same tail-first walk a 1->2
// split uses, but with no room reserved on right for the inserting Area.
func (f *File) Split(page *Page, insertKey []uint16, insertUnitSize int) (*Page, error) {
	quarter := f.pageWords / 4

	if insertUnitSize > f.MaxAreaUnitSize()/2 {
		mid, err := f.AllocatePage()
		if err != nil {
			return nil, err
		}
		right, err := f.AllocatePage()
		if err != nil {
			f.Detach(mid)
			return nil, err
		}
		f.redistributeAreas(page, right, quarter, 0)
		f.relink3(page, mid, right)
		return mid, nil
	}

	right, err := f.AllocatePage()
	if err != nil {
		return nil, err
	}

	splitAt := f.redistributeAreas(page, right, quarter, insertUnitSize)
	f.relink2(page, right)

	if splitAt == 0 || CompareKeyUnsigned(insertKey, firstKey(right)) >= 0 {
		return right, nil
	}
	return page, nil
}

// redistributeAreas walks page's Areas from the tail, moving whole areas
// into right until page would drop below quarter words used, or right has
// picked up enough to hold insertUnitSize (if any) plus its own
// quarter-full minimum. Returns the index (within page's original Areas)
// the split happened at.
func (f *File) redistributeAreas(page, right *Page, quarter, insertUnitSize int) int {
	areas := page.Areas()
	leftUsed := page.usedUnitSize()
	movedUnits := 0
	splitAt := len(areas)
	for i := len(areas) - 1; i >= 0; i-- {
		sz := areas[i].Area().UnitSize()
		if leftUsed-sz < quarter {
			break
		}
		leftUsed -= sz
		movedUnits += sz
		splitAt = i
		if movedUnits >= insertUnitSize+quarter {
			break
		}
	}
	if splitAt == len(areas) && len(areas) > 0 {
		// Degenerate (e.g. one oversized area): fall back to moving the
		// last area alone so progress is still made.
		splitAt = len(areas) - 1
	}

	moving := make([][]uint32, 0, len(areas)-splitAt)
	for i := splitAt; i < len(areas); i++ {
		moving = append(moving, page.ExtractArea(areas[i]))
	}
	for i := len(areas) - 1; i >= splitAt; i-- {
		page.Expunge(areas[i])
	}
	for _, raw := range moving {
		right.InsertArea(raw)
	}
	return splitAt
}

func firstKey(p *Page) []uint16 {
	areas := p.Areas()
	if len(areas) == 0 {
		return nil
	}
	return areas[0].Area().Key()
}

func (f *File) relink2(left, right *Page) {
	next := left.NextPageId()
	right.SetNextPageId(next)
	right.SetPrevPageId(left.ID())
	left.SetNextPageId(right.ID())
	if next != 0 {
		if nextPage, err := f.Attach(next); err == nil {
			nextPage.SetPrevPageId(right.ID())
			f.Detach(nextPage)
		}
	}
}

func (f *File) relink3(left, mid, right *Page) {
	next := left.NextPageId()
	mid.SetPrevPageId(left.ID())
	mid.SetNextPageId(right.ID())
	right.SetPrevPageId(mid.ID())
	right.SetNextPageId(next)
	left.SetNextPageId(mid.ID())
	if next != 0 {
		if nextPage, err := f.Attach(next); err == nil {
			nextPage.SetPrevPageId(right.ID())
			f.Detach(nextPage)
		}
	}
}

// Reduce merges page with its next neighbour when the combination would
// still fit in one page (freeUnitSize exceeds half the page minus one
// DIR-block margin, per spec.md §4.2), unlinking and freeing the neighbour.
// Returns true if a merge happened.
func (f *File) Reduce(page *Page) (bool, error) {
	const dirBlockMargin = 8
	nextID := page.NextPageId()
	if nextID == 0 {
		return false, nil
	}
	if page.FreeUnitSize() < f.pageWords/2-dirBlockMargin {
		return false, nil
	}
	next, err := f.Attach(nextID)
	if err != nil {
		return false, err
	}
	defer f.Detach(next)

	if next.usedUnitSize()-pageHeaderWords > page.FreeUnitSize() {
		return false, nil
	}
	for _, it := range next.Areas() {
		raw := next.ExtractArea(it)
		page.InsertArea(raw)
	}
	afterNext := next.NextPageId()
	page.SetNextPageId(afterNext)
	if afterNext != 0 {
		if afterPage, err := f.Attach(afterNext); err == nil {
			afterPage.SetPrevPageId(page.ID())
			f.Detach(afterPage)
		}
	}
	f.FreePage(nextID)
	return true, nil
}
