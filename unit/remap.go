package unit

import (
	"github.com/RoaringBitmap/roaring/v2"
)

// remapEntry is one row of the firstIdRewriteLog spec.md §4.6/§5 names:
// the undo log that lets a concurrent iterator positioned at a since-
// collapsed IDBlock's old first-document-id find the block again via its
// new one. §5 specifies it as append-only within one transaction and
// discarded on commit/abort.
type remapEntry struct {
	key      string // UTF-16 key, stringified for map/slice use
	old, new uint32
}

// enterExpungeFirstDocumentID records that key's IDBlock anchored at old
// is now anchored at new, per S3 ("expunge collapses first-of-block").
func (u *Unit) enterExpungeFirstDocumentID(key []uint16, old, new uint32) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.remapLog = append(u.remapLog, remapEntry{key: string16(key), old: old, new: new})
}

// getExpungeFirstDocumentID looks up the most recent remap recorded for
// (key, old), scanning back-to-front so a chain of successive collapses
// resolves to the latest anchor.
func (u *Unit) getExpungeFirstDocumentID(key []uint16, old uint32) (uint32, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	k := string16(key)
	for i := len(u.remapLog) - 1; i >= 0; i-- {
		e := u.remapLog[i]
		if e.key == k && e.old == old {
			return e.new, true
		}
	}
	return 0, false
}

// discardRewriteLog clears the firstIdRewriteLog (§5: the log's contents
// have no meaning across a transaction boundary).
func (u *Unit) discardRewriteLog() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.remapLog = u.remapLog[:0]
}

// enterDeleteIdBlock records that key's IDBlock anchored at firstDocId
// will become unreachable once the caller's logical delete commits
// (spec.md §4.6). Per-term pending sets are tracked as roaring bitmaps
// (SPEC_FULL.md §2: "both naturally sparse integer sets"), keyed by the
// stringified UTF-16 term so one unit can have many terms with pending
// deletes outstanding at once.
func (u *Unit) enterDeleteIdBlock(key []uint16, firstDocID uint32) {
	u.mu.Lock()
	defer u.mu.Unlock()
	k := string16(key)
	bm, ok := u.pendingIdBlockDeletes[k]
	if !ok {
		bm = roaring.New()
		u.pendingIdBlockDeletes[k] = bm
	}
	bm.Add(firstDocID)
}

// pendingDeleteCount reports how many IDBlocks are queued for eventual
// reclaim against key.
func (u *Unit) pendingDeleteCount(key []uint16) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	bm, ok := u.pendingIdBlockDeletes[string16(key)]
	if !ok {
		return 0
	}
	return int(bm.GetCardinality())
}

func string16(u []uint16) string {
	b := make([]byte, 2*len(u))
	for i, c := range u {
		b[2*i] = byte(c)
		b[2*i+1] = byte(c >> 8)
	}
	return string(b)
}
