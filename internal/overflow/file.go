package overflow

import (
	"log/slog"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/pkg/errors"

	"github.com/go-mizu/invfts/internal/pagestore"
)

// File is the overflow file: a collection of ID/LOC/IDLOC pages plus a
// file-wide free-page list (pages with every slot empty and not an anchor
// LOC page, per spec.md §4.3).
type File struct {
	pf       *pagestore.PageFile
	idUnit   int
	locUnit  int
	freePage *roaring.Bitmap
	log      *slog.Logger
}

// Option configures Open.
type Option func(*File)

// WithLogger sets the file's logger; nil falls back to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(f *File) {
		if l != nil {
			f.log = l
		}
	}
}

// Open opens (creating if necessary) the overflow file at path. idUnit and
// locUnit are this unit's configured IDBlock/LOCBlock payload sizes in
// words (Inverted_IDBlockUnitSize / Inverted_WordIDBlockUnitSize from
// §6.3, and the LOCBlock analogue).
func Open(path string, pageWords, idUnit, locUnit int, opts ...Option) (*File, error) {
	pf, err := pagestore.Open(path, pageWords*4)
	if err != nil {
		return nil, errors.Wrap(err, "overflow: open")
	}
	f := &File{pf: pf, idUnit: idUnit, locUnit: locUnit, freePage: roaring.New(), log: slog.Default()}
	for _, o := range opts {
		o(f)
	}
	return f, nil
}

// Attach fetches and wraps an overflow page.
func (f *File) Attach(id pagestore.PageID) (*Page, error) {
	pp, err := f.pf.Attach(id)
	if err != nil {
		return nil, errors.Wrapf(err, "overflow: attach page %d", id)
	}
	return Wrap(pp, f.idUnit, f.locUnit), nil
}

// Detach releases a page obtained from Attach/NewPage.
func (f *File) Detach(p *Page) {
	if p == nil {
		return
	}
	f.pf.Detach(p.pp)
}

// idSlotsPerPage/locSlotsPerPage compute how many ID or LOC slots fit in
// one page of this file's configured page size, given the fixed header.
func (f *File) idSlotsPerPage() int {
	avail := f.pf.PageSize()/4 - pageHeaderWords
	return avail / (idBlockHeaderWords + f.idUnit)
}

func (f *File) locSlotsPerPage() int {
	avail := f.pf.PageSize()/4 - pageHeaderWords
	return avail / (locBlockHeaderWords + f.locUnit)
}

// idlocSplit divides a page's body evenly between ID and LOC slots for a
// KindIDLOC page, used while a list is small-to-medium and does not yet
// warrant dedicated ID/LOC pages.
func (f *File) idlocSplit() (idSlots, locSlots int) {
	avail := f.pf.PageSize()/4 - pageHeaderWords
	idW := idBlockHeaderWords + f.idUnit
	locW := locBlockHeaderWords + f.locUnit
	half := avail / 2
	idSlots = half / idW
	locSlots = (avail - idSlots*idW) / locW
	return
}

// NewPage allocates a page of the given kind, from the free-page list when
// possible, laid out with slot counts appropriate to its kind.
func (f *File) NewPage(kind Kind) (*Page, error) {
	var pp *pagestore.Page
	if !f.freePage.IsEmpty() {
		id := f.freePage.Minimum()
		f.freePage.Remove(id)
		var err error
		pp, err = f.pf.Attach(pagestore.PageID(id))
		if err != nil {
			return nil, errors.Wrap(err, "overflow: reuse free page")
		}
	} else {
		var err error
		pp, err = f.pf.NewPage()
		if err != nil {
			return nil, errors.Wrap(err, "overflow: allocate page")
		}
	}
	p := Wrap(pp, f.idUnit, f.locUnit)
	switch kind {
	case KindID:
		p.Init(KindID, f.idSlotsPerPage(), 0)
	case KindLOC:
		p.Init(KindLOC, 0, f.locSlotsPerPage())
	case KindIDLOC:
		idSlots, locSlots := f.idlocSplit()
		p.Init(KindIDLOC, idSlots, locSlots)
	}
	return p, nil
}

// FreePage returns a page to the file's free-page list. Callers must have
// verified AllEmpty() and that the page is not a live list's LOC anchor.
func (f *File) FreePage(id pagestore.PageID) {
	f.freePage.Add(uint32(id))
}

// Flush writes every dirty page and refreshes the read-only mmap.
func (f *File) Flush() error { return errors.Wrap(f.pf.Flush(), "overflow: flush") }

// Close releases the underlying pooled file handle.
func (f *File) Close() error { return f.pf.Close() }
