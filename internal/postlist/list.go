package postlist

import (
	"github.com/pkg/errors"

	"github.com/go-mizu/invfts/internal/leaf"
	"github.com/go-mizu/invfts/internal/overflow"
	"github.com/go-mizu/invfts/internal/pagestore"
)

// List is a value aggregate over one term's Area, per spec.md §9's redesign
// note: it owns no storage itself, only the (leaf file, leaf page, area
// position, overflow file, payload-mode config) handle needed to dispatch
// Short/Batch vs Middle/Long operations against the Area the caller already
// located (typically via the unit's B-tree + leaf.Page.Search/LowerBound).
type List struct {
	Cfg      ListConfig
	LeafFile *leaf.File
	OvfFile  *overflow.File
	IDUnit   int // Inverted_IDBlockUnitSize / Inverted_WordIDBlockUnitSize, §6.3
	LocUnit  int

	// RegularGrowWords is FullText2_BatchListRegularUnitSize (§6.3): the step
	// a Short/Batch Area grows by when its current payload cannot hold a new
	// posting. Zero falls back to defaultRegularGrowWords.
	RegularGrowWords int

	Page *leaf.Page
	Iter leaf.AreaIter
}

// Open wraps an already-located Area as a List ready for operations.
func Open(leafFile *leaf.File, ovfFile *overflow.File, cfg ListConfig, idUnit, locUnit int, page *leaf.Page, iter leaf.AreaIter) *List {
	return &List{Cfg: cfg, LeafFile: leafFile, OvfFile: ovfFile, IDUnit: idUnit, LocUnit: locUnit, Page: page, Iter: iter}
}

// OpenWithGrowWords is Open plus an explicit RegularGrowWords, used by
// callers that have a config.Options.FullText2BatchListRegularUnitSize to
// thread through.
func OpenWithGrowWords(leafFile *leaf.File, ovfFile *overflow.File, cfg ListConfig, idUnit, locUnit, regularGrowWords int, page *leaf.Page, iter leaf.AreaIter) *List {
	l := Open(leafFile, ovfFile, cfg, idUnit, locUnit, page, iter)
	l.RegularGrowWords = regularGrowWords
	return l
}

// area is shorthand for the Area the list currently wraps.
func (l *List) area() *leaf.Area { return l.Iter.Area() }

// ListType returns the Area's tagged-union discriminant.
func (l *List) ListType() leaf.ListType { return l.area().ListType() }

// Key returns the term key this list is stored under.
func (l *List) Key() []uint16 { return l.area().Key() }

// DocumentCount is the total number of live postings in the list.
func (l *List) DocumentCount() uint32 { return l.area().DocumentCount() }

// LastDocumentId is the highest document id inserted into the list.
func (l *List) LastDocumentId() uint32 { return l.area().LastDocumentId() }

// IsNoLocation/IsNoTF expose the payload mode for callers building queries.
func (l *List) IsNoLocation() bool { return l.Cfg.IsNoLocation() }
func (l *List) IsNoTF() bool       { return l.Cfg.IsNoTF() }

// NewShort installs a fresh, empty Short Area for key at the lower-bound
// position in page, sized at the driver's configured initial batch/short
// unit size. Returns ErrSplit (propagated from leaf.Page.Insert) if the
// page lacks room; the caller must Split first.
func NewShort(page *leaf.Page, key []uint16, initialPayloadWords int) (leaf.AreaIter, error) {
	it, err := page.Insert(key, initialPayloadWords)
	if err != nil {
		return leaf.AreaIter{}, err
	}
	a := it.Area()
	payload := a.Payload()
	totalBits := len(payload) * 32
	a.SetDocumentOffset(uint32(totalBits)) // backward doc-id cursor starts at the tail
	a.SetLocationOffset(0)                 // forward position cursor starts at the head
	a.MarkDirty()
	return it, nil
}

// Insert appends one posting to the list, dispatching on the current
// ListType. Returns NeedsConvert (never partially modifying the list) when
// the current variant cannot hold the new posting; the caller must call
// Convert and retry (spec.md §4.4 "Failure semantics").
func (l *List) Insert(docId uint32, positions []uint32) (Result, error) {
	switch l.ListType() {
	case leaf.Short, leaf.Batch:
		return l.insertShort(docId, positions)
	case leaf.Middle, leaf.Long:
		return l.insertMiddle(docId, positions)
	default:
		return 0, errors.Errorf("postlist: unknown list type %v", l.ListType())
	}
}

// InsertList bulk-appends every posting of other into l, in doc-id order,
// used by the merge daemon (spec.md §4.7) and by Unit.MergeBatch (S4). Stops
// and returns NeedsConvert the moment a single posting does not fit,
// matching the same insert-then-convert-then-retry protocol a single insert
// uses. Postings whose document id is not above l's LastDocumentId() are
// skipped, so a retry after Convert does not re-insert already-applied
// postings a second time.
func (l *List) InsertList(other *List) (Result, error) {
	it := other.Begin()
	for it.Next() {
		docId := it.DocumentId()
		if l.DocumentCount() > 0 && docId <= l.LastDocumentId() {
			continue // applied by an earlier call that stopped at NeedsConvert
		}
		locIt := it.LocationListIterator()
		positions := replayPositions(it.GetInDocumentFrequency(), locIt.All())
		res, err := l.Insert(docId, positions)
		if err != nil {
			return 0, err
		}
		if res == NeedsConvert {
			return NeedsConvert, nil
		}
	}
	return Inserted, nil
}

// Convert promotes the list to the next variant: Short/Batch -> Middle. A
// Middle list further promoted to Long only implicitly, as its DIR-block
// count grows past one entry (spec.md glossary: "Long list - the Middle
// variant with multiple DIR blocks"); there is no separate Middle->Long
// conversion routine.
func (l *List) Convert() error {
	switch l.ListType() {
	case leaf.Short, leaf.Batch:
		return l.convertShortToMiddle()
	case leaf.Middle, leaf.Long:
		return errors.New("postlist: Long list has no further conversion")
	default:
		return errors.Errorf("postlist: unknown list type %v", l.ListType())
	}
}

// Expunge removes docId from the list, a no-op if absent (spec.md §4.4).
func (l *List) Expunge(docId uint32) error {
	it := l.Begin()
	if !it.Find(docId) {
		return nil
	}
	return it.Expunge()
}

// UndoExpunge is the exact inverse of Expunge(docId) followed immediately by
// the loss of positions; used for crash- and in-statement rollback. Since
// Expunge rebuilds the whole Area from its surviving postings, undo simply
// replays docId back in through the same insert-then-convert-on-demand path
// any ordinary insert uses.
func (l *List) UndoExpunge(docId uint32, positions []uint32) error {
	return l.insertReplay(docId, positions)
}

// insertReplay inserts one posting, converting the list to the next variant
// and retrying as many times as NeedsConvert demands. Used by UndoExpunge
// and by rebuild to replay decoded postings without duplicating the
// insert/convert/retry loop at each call site.
func (l *List) insertReplay(docId uint32, positions []uint32) error {
	for {
		res, err := l.Insert(docId, positions)
		if err != nil {
			return err
		}
		if res == Inserted {
			return nil
		}
		if err := l.Convert(); err != nil {
			return err
		}
	}
}

// rebuild resets the Area to an empty Short list and replays entries back
// in through insertReplay, in order. Used by Iterator.Expunge so removing
// one posting never has to splice the bit-packed streams of whichever
// variant (Short, Batch, Middle, or Long) currently holds them in place.
func (l *List) rebuild(entries []postingEntry) error {
	a := l.area()
	key := a.Key()

	const minShortPayloadWords = 4
	delta := minShortPayloadWords - len(a.Payload())
	if delta > 0 {
		if err := l.growArea(delta); err != nil {
			return err
		}
	} else if delta < 0 {
		l.Page.ChangeAreaSize(l.Iter, delta)
	}
	a = l.area()
	for i := range a.Payload() {
		a.Payload()[i] = 0
	}
	a.SetTypeAndSize(leaf.Short, a.UnitSize())
	a.SetDocumentCount(0)
	a.SetLastDocumentId(0)
	a.SetFirstDocumentId(0)
	a.SetDocumentOffset(uint32(len(a.Payload()) * 32))
	a.SetLocationOffset(0)
	a.MarkDirty()

	if err := l.relocateArea(key); err != nil {
		return err
	}
	for _, e := range entries {
		if err := l.insertReplay(e.docId, replayPositions(e.freq, e.positions)); err != nil {
			return err
		}
	}
	return nil
}

// Begin returns a Fresh iterator over the list.
func (l *List) Begin() *Iterator {
	return &Iterator{list: l, state: stateFresh}
}

// growArea grows the Area's total payload by extraWords, splitting the leaf
// page first if the page does not currently have room, and updating Page/
// Iter to the (possibly different) page the Area now lives on. Returns an
// error only on I/O failure; callers enforce the LeafFile.MaxAreaUnitSize()
// cap themselves before calling this.
func (l *List) growArea(extraWords int) error {
	if ok := l.Page.ChangeAreaSize(l.Iter, extraWords); ok {
		return nil
	}
	key := l.area().Key()
	needUnitSize := l.area().UnitSize() + extraWords
	newPage, err := l.LeafFile.Split(l.Page, key, needUnitSize)
	if err != nil {
		return errors.Wrap(err, "postlist: split for grow")
	}
	if newPage != l.Page {
		l.LeafFile.Detach(l.Page)
		l.Page = newPage
	}
	it := l.Page.Search(key)
	if !it.Valid() {
		return errors.New("postlist: area missing after split")
	}
	l.Iter = it
	if !l.Page.ChangeAreaSize(l.Iter, extraWords) {
		return errors.New("postlist: grow failed even after split")
	}
	return nil
}

// relocateArea re-finds the Area for key, used after an operation
// (conversion, spill) may have changed the page it lives on via a split.
func (l *List) relocateArea(key []uint16) error {
	it := l.Page.Search(key)
	if it.Valid() {
		l.Iter = it
		return nil
	}
	// Walk forward through the leaf chain: a split only ever moves an area
	// to a neighbouring page in key order.
	id := l.Page.NextPageId()
	for hop := 0; hop < 4 && id != 0; hop++ {
		p, err := l.LeafFile.Attach(id)
		if err != nil {
			return err
		}
		if it := p.Search(key); it.Valid() {
			l.LeafFile.Detach(l.Page)
			l.Page = p
			l.Iter = it
			return nil
		}
		nextID := p.NextPageId()
		l.LeafFile.Detach(p)
		id = nextID
	}
	return errors.Errorf("postlist: area for key not found after relocation")
}

func pageIDOf(id pagestore.PageID) uint32 { return uint32(id) }
