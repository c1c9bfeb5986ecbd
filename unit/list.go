package unit

import (
	"github.com/pkg/errors"

	"github.com/go-mizu/invfts/internal/leaf"
	"github.com/go-mizu/invfts/internal/pagestore"
	"github.com/go-mizu/invfts/internal/postlist"
)

// idUnit/locUnit sizing follows §6.3's Inverted_IDBlockUnitSize /
// Inverted_WordIDBlockUnitSize, already captured in u.opts; locUnit has no
// named key of its own so it tracks the word unit size.
func (u *Unit) listUnits() (idUnit, locUnit int) {
	return u.opts.InvertedIDBlockUnitSize, u.opts.InvertedWordIDBlockUnitSize
}

// OpenList resolves key to its posting list, or (nil, false) if the term
// has never been inserted.
func (u *Unit) OpenList(key []uint16, cfg postlist.ListConfig) (*postlist.List, bool, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.openListLocked(key, cfg)
}

func (u *Unit) openListLocked(key []uint16, cfg postlist.ListConfig) (*postlist.List, bool, error) {
	pageID, ok := u.bt.search(key)
	if !ok {
		return nil, false, nil
	}
	page, err := u.leafF.Attach(pagestore.PageID(pageID))
	if err != nil {
		return nil, false, errors.Wrap(err, "unit: attach leaf page")
	}
	it := page.Search(key)
	if !it.Valid() || leaf.CompareKeyUnsigned(it.Area().Key(), key) != 0 {
		u.leafF.Detach(page)
		return nil, false, errors.Errorf("unit: btree/leaf inconsistency for term")
	}
	idUnit, locUnit := u.listUnits()
	return postlist.OpenWithGrowWords(u.leafF, u.ovfF, cfg, idUnit, locUnit, u.opts.FullText2BatchListRegularUnitSize, page, it), true, nil
}

// createListLocked installs a brand-new empty Short Area for key and
// registers it in the B-tree, splitting the target leaf page first if it
// has no room.
func (u *Unit) createListLocked(key []uint16, cfg postlist.ListConfig) (*postlist.List, error) {
	pageID, ok := u.bt.search(key)
	var page *leaf.Page
	var err error
	if ok {
		page, err = u.leafF.Attach(pagestore.PageID(pageID))
		if err != nil {
			return nil, errors.Wrap(err, "unit: attach leaf page")
		}
	} else {
		page, err = u.leafF.Attach(1)
		if err != nil {
			return nil, errors.Wrap(err, "unit: attach anchor page")
		}
	}

	initial := u.opts.FullText2BatchListInitialUnitSize
	if !page.IsInsertArea(key, initial) {
		newPage, err := u.leafF.Split(page, key, leaf.AreaUnitSize(key, initial))
		if err != nil {
			u.leafF.Detach(page)
			return nil, errors.Wrap(err, "unit: split for insert")
		}
		if newPage != page {
			u.leafF.Detach(page)
			page = newPage
		}
	}

	it, err := postlist.NewShort(page, key, initial)
	if err != nil {
		u.leafF.Detach(page)
		return nil, errors.Wrap(err, "unit: create short list")
	}

	if err := u.bt.insert(key, uint32(page.ID())); err != nil {
		u.leafF.Detach(page)
		return nil, err
	}

	idUnit, locUnit := u.listUnits()
	return postlist.OpenWithGrowWords(u.leafF, u.ovfF, cfg, idUnit, locUnit, u.opts.FullText2BatchListRegularUnitSize, page, it), nil
}

// InsertPosting appends one posting for key, creating the list on first
// use and handling the insert/convert/retry protocol (spec.md §4.4), then
// repointing the B-tree if a split moved the Area to a different page.
func (u *Unit) InsertPosting(key []uint16, cfg postlist.ListConfig, docID uint32, positions []uint32) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	list, ok, err := u.openListLocked(key, cfg)
	if err != nil {
		return err
	}
	if !ok {
		list, err = u.createListLocked(key, cfg)
		if err != nil {
			return err
		}
	} else {
		defer u.leafF.Detach(list.Page)
	}

	startPage := list.Page.ID()
	if err := insertWithConvert(list, docID, positions); err != nil {
		return err
	}
	if list.Page.ID() != startPage {
		if err := u.bt.update(key, uint32(list.Page.ID())); err != nil {
			return err
		}
	}
	return nil
}

// ExpungePosting removes docID from key's list, a no-op if either the term
// or the posting is absent.
func (u *Unit) ExpungePosting(key []uint16, cfg postlist.ListConfig, docID uint32) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	list, ok, err := u.openListLocked(key, cfg)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	defer u.leafF.Detach(list.Page)
	return list.Expunge(docID)
}

// MergeBatch folds a Batch list built by the merge daemon's staging pass
// (spec.md §4.7) into key's unit-resident list through InsertList,
// converting the target and calling InsertList again whenever it reports
// NeedsConvert.
// Idempotence follows S4: a Batch list records the staging run's starting
// document id as its relative first-document-id at creation time, so a
// batch whose every posting is already reflected in the target list
// (target.LastDocumentId() >= batch first-document-id) is skipped rather
// than reapplied, making replay of an already-merged batch-map cycle safe.
func (u *Unit) MergeBatch(key []uint16, cfg postlist.ListConfig, batch *postlist.List) (postlist.Result, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if batch.DocumentCount() == 0 {
		return postlist.Inserted, nil
	}

	target, ok, err := u.openListLocked(key, cfg)
	if err != nil {
		return 0, err
	}
	if !ok {
		target, err = u.createListLocked(key, cfg)
		if err != nil {
			return 0, err
		}
	} else {
		defer u.leafF.Detach(target.Page)
	}

	it := batch.Begin()
	if it.Next() && target.LastDocumentId() >= it.DocumentId() {
		// Every posting in this batch was already folded into target by a
		// prior merge cycle that crashed after the fold but before the
		// batch-map swap could record it; skip rather than double-insert.
		return postlist.Inserted, nil
	}

	startPage := target.Page.ID()
	var res postlist.Result
	for {
		res, err = target.InsertList(batch)
		if err != nil {
			return 0, err
		}
		if res != postlist.NeedsConvert {
			break
		}
		if err := target.Convert(); err != nil {
			return 0, err
		}
	}
	if target.Page.ID() != startPage {
		if uerr := u.bt.update(key, uint32(target.Page.ID())); uerr != nil {
			return 0, uerr
		}
	}
	return res, nil
}

// insertWithConvert runs the insert/convert/retry protocol spec.md §4.4
// names: Insert reports NeedsConvert without partially modifying the list,
// so the caller promotes the variant and retries the same posting.
func insertWithConvert(list *postlist.List, docID uint32, positions []uint32) error {
	for {
		res, err := list.Insert(docID, positions)
		if err != nil {
			return err
		}
		if res == postlist.Inserted {
			return nil
		}
		if err := list.Convert(); err != nil {
			return err
		}
	}
}
