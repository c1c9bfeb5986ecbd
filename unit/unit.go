// Package unit implements the inverted unit (spec.md §4.6): the container
// that bundles one term->postingList B-tree with its leaf file and
// overflow file and exposes the lifecycle, transaction, and lookup
// surface a driver mounts per shard.
package unit

import (
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"

	"github.com/go-mizu/invfts/config"
	"github.com/go-mizu/invfts/internal/leaf"
	"github.com/go-mizu/invfts/internal/overflow"
	"github.com/go-mizu/invfts/internal/pagestore"
	"github.com/go-mizu/invfts/internal/postlist"
	"github.com/go-mizu/invfts/invdxerr"
	"github.com/go-mizu/invfts/verify"
)

const (
	leafFileName     = "leaf.idx"
	overflowFileName = "overflow.idx"
	btreeFileName    = "terms.btree"
	rowMapFileName   = "rows.map"
)

// mountRegistry tracks which unit directories are currently mounted, the
// in-process stand-in for the host's mounted-file registry spec.md §4.6's
// Mount/Unmount pair registers against (a real driver coordinates this
// across processes; here it only needs to prevent double-mounting within
// one process).
type mountRegistry struct {
	mu      sync.Mutex
	mounted map[string]bool
}

var globalMounts = &mountRegistry{mounted: make(map[string]bool)}

func (r *mountRegistry) mount(dir string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mounted[dir] {
		return false
	}
	r.mounted[dir] = true
	return true
}

func (r *mountRegistry) unmount(dir string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.mounted, dir)
}

func (r *mountRegistry) isMounted(dir string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mounted[dir]
}

// Unit is one mounted inverted index: a B-tree of terms over a leaf file
// of posting-list Areas, backed by an overflow file for everything that
// outgrows its Area. All exported methods are safe for concurrent use;
// per spec.md §5 a unit serializes its own critical section internally
// rather than relying on the caller.
type Unit struct {
	dir         string
	opts        config.Options
	log         *slog.Logger
	mu          sync.Mutex
	mounted     bool
	unavailable bool

	bt    *btree
	leafF *leaf.File
	ovfF  *overflow.File
	rows  *rowMap

	remapLog              []remapEntry
	pendingIdBlockDeletes map[string]*roaring.Bitmap
}

func (u *Unit) paths() (leafPath, ovfPath, btreePath, rowsPath string) {
	return filepath.Join(u.dir, leafFileName),
		filepath.Join(u.dir, overflowFileName),
		filepath.Join(u.dir, btreeFileName),
		filepath.Join(u.dir, rowMapFileName)
}

// Create makes a fresh unit directory holding the leaf file (with its
// anchor Area) and the overflow file; the B-tree and row-map files are
// written by the first flush that has entries for them. Fails if dir
// already exists.
func Create(dir string, opts config.Options) error {
	if _, err := os.Stat(dir); err == nil {
		return errors.Errorf("unit: %s already exists", dir)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "unit: mkdir %s", dir)
	}
	u, err := Open(dir, opts, nil)
	if err != nil {
		os.RemoveAll(dir)
		return err
	}
	return u.Close()
}

// Destroy removes a unit's directory wholesale. The unit must not be
// mounted.
func Destroy(dir string) error {
	if globalMounts.isMounted(dir) {
		return errors.Errorf("unit: %s is mounted", dir)
	}
	return errors.Wrap(os.RemoveAll(dir), "unit: destroy")
}

// Open opens (creating component files as needed) the unit at dir and
// mounts it, matching spec.md §4.6's combined mount+open entry point used
// by every other caller in this package. Open registers the mount itself
// and fails if dir is already registered, including by a prior Mount.
func Open(dir string, opts config.Options, log *slog.Logger) (*Unit, error) {
	if log == nil {
		log = slog.Default()
	}
	if !globalMounts.mount(dir) {
		return nil, errors.Errorf("unit: %s is already mounted", dir)
	}

	u := &Unit{
		dir:                   dir,
		opts:                  opts,
		log:                   log,
		mounted:               true,
		pendingIdBlockDeletes: make(map[string]*roaring.Bitmap),
	}

	leafPath, ovfPath, btreePath, rowsPath := u.paths()

	var err error
	u.leafF, err = leaf.Open(leafPath, leafPageWords(opts), leaf.WithLogger(log))
	if err != nil {
		globalMounts.unmount(dir)
		return nil, errors.Wrap(err, "unit: open leaf file")
	}
	if err := u.leafF.EnsureAnchor(); err != nil {
		u.leafF.Close()
		globalMounts.unmount(dir)
		return nil, err
	}

	u.ovfF, err = overflow.Open(ovfPath, overflowPageWords(opts), opts.InvertedIDBlockUnitSize, 16, overflow.WithLogger(log))
	if err != nil {
		u.leafF.Close()
		globalMounts.unmount(dir)
		return nil, errors.Wrap(err, "unit: open overflow file")
	}

	u.bt, err = openBtree(btreePath)
	if err != nil {
		u.ovfF.Close()
		u.leafF.Close()
		globalMounts.unmount(dir)
		return nil, err
	}

	u.rows, err = openRowMap(rowsPath)
	if err != nil {
		u.ovfF.Close()
		u.leafF.Close()
		globalMounts.unmount(dir)
		return nil, err
	}

	return u, nil
}

func leafPageWords(opts config.Options) int {
	// A leaf page must hold at least one maximally grown Short/Batch Area
	// plus its DIR headroom; scale with the configured Batch ceiling.
	w := opts.FullText2BatchListMaxUnitSize / 4
	if w < 512 {
		w = 512
	}
	return w
}

func overflowPageWords(opts config.Options) int {
	w := opts.InvertedIDBlockUnitSize * 32
	if w < 512 {
		w = 512
	}
	return w
}

// Mount registers dir as mounted without opening it. Open fails on a dir
// registered this way, so Mount does not serve as the first step of a
// two-phase mount-then-open; Unmount releases the registration.
func Mount(dir string) error {
	if !globalMounts.mount(dir) {
		return errors.Errorf("unit: %s is already mounted", dir)
	}
	return nil
}

// Unmount releases dir's mount registration. The unit must already be
// closed.
func Unmount(dir string) {
	globalMounts.unmount(dir)
}

// Close flushes and releases the unit's files and its mount.
func (u *Unit) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if !u.mounted {
		return nil
	}
	var errs []error
	if err := u.flushLocked(); err != nil {
		errs = append(errs, err)
	}
	if err := u.ovfF.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := u.leafF.Close(); err != nil {
		errs = append(errs, err)
	}
	globalMounts.unmount(u.dir)
	u.mounted = false
	if len(errs) > 0 {
		return errors.Wrap(errs[0], "unit: close")
	}
	return nil
}

// Flush writes every dirty page in all three files and appends any new
// rowMap/btree entries, matching spec.md §4.6's flush and §5's promise
// that a flushed unit survives a crash at the next byte.
func (u *Unit) Flush() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.flushLocked()
}

func (u *Unit) flushLocked() error {
	if err := u.leafF.Flush(); err != nil {
		return err
	}
	if err := u.ovfF.Flush(); err != nil {
		return err
	}
	if err := u.bt.flush(); err != nil {
		return err
	}
	if err := u.rows.flush(); err != nil {
		return err
	}
	return nil
}

// Sync flushes the unit and reports via incomplete/modified whether the
// sync left anything undone and whether the B-tree or row map had
// unwritten entries, per spec.md §4.6's sync contract for the host's
// checkpoint loop. Dirty leaf and overflow pages are flushed too but do
// not set modified.
func (u *Unit) Sync(incomplete, modified *bool) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.unavailable {
		*incomplete = true
		return invdxerr.Unavailable
	}
	*modified = u.bt.dirty || u.rows.dirty > 0
	if err := u.flushLocked(); err != nil {
		*incomplete = true
		return err
	}
	return nil
}

// GetCount returns the unit's document count (the high-water mark of the
// RowID<->DocumentID map).
func (u *Unit) GetCount() uint32 {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.rows.lastDocumentID()
}

// GetLastDocumentID is an alias for GetCount kept because spec.md §4.6
// names them as two distinct operations even though this implementation's
// dense, insertion-ordered document numbering makes them equivalent.
func (u *Unit) GetLastDocumentID() uint32 { return u.GetCount() }

// ConvertToRowID resolves a document id assigned by this unit back to the
// caller's row id.
func (u *Unit) ConvertToRowID(docID uint32) (uint64, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.rows.convertToRowID(docID)
}

// ConvertToDocumentID resolves a row id to the document id this unit
// assigned it, assigning a fresh one if rowID has never been seen.
func (u *Unit) ConvertToDocumentID(rowID uint64) uint32 {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.rows.assign(rowID)
}

// LookupDocumentID resolves an existing row id without assigning one.
func (u *Unit) LookupDocumentID(rowID uint64) (uint32, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.rows.convertToDocumentID(rowID)
}

// InsertBtree adds a fresh term -> leaf page mapping.
func (u *Unit) InsertBtree(key []uint16, pageID uint32) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.bt.insert(key, pageID)
}

// UpdateBtree repoints an existing term to a different leaf page (used
// after a Split moves its Area).
func (u *Unit) UpdateBtree(key []uint16, pageID uint32) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.bt.update(key, pageID)
}

// ExpungeBtree removes a term, a no-op if absent.
func (u *Unit) ExpungeBtree(key []uint16) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.bt.expunge(key)
}

// SearchBtree resolves a term to its leaf page id.
func (u *Unit) SearchBtree(key []uint16) (uint32, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.bt.search(key)
}

// Clear truncates the unit back to its just-Created state: an empty
// B-tree, an empty row map, and a leaf file holding only the anchor Area.
// If force is false, Clear refuses when the unit still holds any term.
func (u *Unit) Clear(force bool) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if !force && len(u.bt.all()) > 0 {
		return errors.Errorf("unit: Clear called without force on a non-empty unit")
	}

	leafPath, ovfPath, btreePath, rowsPath := u.paths()
	if err := u.ovfF.Close(); err != nil {
		return err
	}
	if err := u.leafF.Close(); err != nil {
		return err
	}
	for _, p := range []string{leafPath, ovfPath, btreePath, rowsPath} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "unit: clear remove %s", p)
		}
	}

	var err error
	u.leafF, err = leaf.Open(leafPath, leafPageWords(u.opts), leaf.WithLogger(u.log))
	if err != nil {
		return err
	}
	if err := u.leafF.EnsureAnchor(); err != nil {
		return err
	}
	u.ovfF, err = overflow.Open(ovfPath, overflowPageWords(u.opts), u.opts.InvertedIDBlockUnitSize, 16, overflow.WithLogger(u.log))
	if err != nil {
		return err
	}
	u.bt = &btree{path: btreePath}
	u.rows = &rowMap{path: rowsPath, byDoc: []uint64{0}, byRow: make(map[uint64]uint32)}
	u.remapLog = nil
	u.pendingIdBlockDeletes = make(map[string]*roaring.Bitmap)
	return nil
}

// Move relocates the unit's whole directory to newDir, atomically from
// the caller's perspective: either all four files land at newDir or none
// of them do. A failure partway rolls the already-moved files back; if
// the rollback itself fails the unit is marked Unavailable, matching the
// Move-failure-recovery design recorded in DESIGN.md.
func (u *Unit) Move(newDir string) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if err := u.flushLocked(); err != nil {
		return err
	}
	if err := u.ovfF.Close(); err != nil {
		return err
	}
	if err := u.leafF.Close(); err != nil {
		return err
	}

	if err := os.MkdirAll(newDir, 0o755); err != nil {
		u.reopenAfterMoveFailure()
		return errors.Wrapf(err, "unit: mkdir %s", newDir)
	}

	names := []string{leafFileName, overflowFileName, btreeFileName, rowMapFileName}
	moved := make([]string, 0, len(names))
	var moveErr error
	for _, name := range names {
		src := filepath.Join(u.dir, name)
		dst := filepath.Join(newDir, name)
		if _, err := os.Stat(src); os.IsNotExist(err) {
			continue
		}
		if err := os.Rename(src, dst); err != nil {
			moveErr = errors.Wrapf(err, "unit: move %s", name)
			break
		}
		moved = append(moved, name)
	}

	if moveErr != nil {
		for _, name := range moved {
			src := filepath.Join(newDir, name)
			dst := filepath.Join(u.dir, name)
			if err := os.Rename(src, dst); err != nil {
				u.unavailable = true
				return errors.Wrap(invdxerr.Unavailable, "unit: move rollback failed: "+err.Error())
			}
		}
		u.reopenAfterMoveFailure()
		return moveErr
	}

	globalMounts.unmount(u.dir)
	u.dir = newDir
	if !globalMounts.mount(newDir) {
		u.unavailable = true
		return errors.Wrap(invdxerr.Unavailable, "unit: move target already mounted")
	}
	_, _, btreePath, rowsPath := u.paths()
	u.bt.path = btreePath
	u.rows.path = rowsPath
	return u.reopenFiles()
}

func (u *Unit) reopenAfterMoveFailure() {
	if err := u.reopenFiles(); err != nil {
		u.unavailable = true
	}
}

func (u *Unit) reopenFiles() error {
	leafPath, ovfPath, _, _ := u.paths()
	var err error
	u.leafF, err = leaf.Open(leafPath, leafPageWords(u.opts), leaf.WithLogger(u.log))
	if err != nil {
		return err
	}
	u.ovfF, err = overflow.Open(ovfPath, overflowPageWords(u.opts), u.opts.InvertedIDBlockUnitSize, 16, overflow.WithLogger(u.log))
	return err
}

// Vacuum walks the leaf file from its anchor page, attempting a Reduce
// (spec.md §4.2 merge-with-next) at every page, and reports how many
// pages were freed this way. It does not touch the overflow file: orphaned
// overflow pages left by Expunge's rebuild strategy are an accepted
// trade-off recorded in DESIGN.md, not something Vacuum reclaims.
func (u *Unit) Vacuum() (pagesFreed int, err error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	id := pagestore.PageID(1)
	for id != 0 {
		page, err := u.leafF.Attach(id)
		if err != nil {
			return pagesFreed, err
		}
		merged, err := u.leafF.Reduce(page)
		if err != nil {
			u.leafF.Detach(page)
			return pagesFreed, err
		}
		if merged {
			pagesFreed++
			u.leafF.Detach(page)
			continue // page may merge further with its new next
		}
		next := page.NextPageId()
		u.leafF.Detach(page)
		id = next
	}
	return pagesFreed, u.leafF.Flush()
}

// LeafFile exposes the unit's leaf file to callers (the merge daemon)
// that build transient lists of their own against it.
func (u *Unit) LeafFile() *leaf.File { return u.leafF }

// OverflowFile exposes the unit's overflow file, for the same reason.
func (u *Unit) OverflowFile() *overflow.File { return u.ovfF }

// Unavailable reports whether a prior unrecoverable error (e.g. a failed
// Move rollback) has taken this unit read-only, per spec.md §7.
func (u *Unit) Unavailable() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.unavailable
}

// StartBackup flushes the unit, then streams its four files into a single
// zstd-compressed archive under destDir, per spec.md §4.6's backup hook.
// The archive is a flat sequence of (name, length, content) records - no
// host-owned snapshot format is specified (§9), so this only has to be
// self-describing enough for this package's own Restore to read back.
func (u *Unit) StartBackup(destDir string) (archivePath string, err error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if err := u.flushLocked(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", errors.Wrap(err, "unit: create backup dir")
	}

	archivePath = filepath.Join(destDir, "unit.backup.zst")
	f, err := os.Create(archivePath)
	if err != nil {
		return "", errors.Wrap(err, "unit: create backup archive")
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f)
	if err != nil {
		return "", errors.Wrap(err, "unit: start zstd encoder")
	}

	l, o, b, r := u.paths()
	for _, p := range []string{l, o, b, r} {
		if err := writeBackupRecord(enc, p); err != nil {
			enc.Close()
			return "", err
		}
	}
	if err := enc.Close(); err != nil {
		return "", errors.Wrap(err, "unit: close zstd encoder")
	}
	return archivePath, nil
}

// writeBackupRecord appends one (nameLen, name, contentLen, content) record
// for path to w. A missing source file (e.g. an unwritten row map) is
// recorded with a zero-length content section rather than failing the
// whole backup.
func writeBackupRecord(w io.Writer, path string) error {
	name := filepath.Base(path)
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "unit: read %s for backup", path)
	}
	var header [4 + 8]byte
	binary.LittleEndian.PutUint32(header[0:4], uint32(len(name)))
	binary.LittleEndian.PutUint64(header[4:12], uint64(len(data)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	if _, err := io.WriteString(w, name); err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// EndBackup is the paired no-op close to StartBackup, kept for symmetry
// with spec.md §4.6 and as a hook point for releasing any backup-mode
// locks a real driver would take here.
func (u *Unit) EndBackup() error { return nil }

// Restore reads back an archive written by StartBackup, overwriting this
// unit's four files in place. The unit stays open and mounted: Restore
// closes the leaf and overflow files itself, writes the archived contents,
// and reopens all four files before returning.
func (u *Unit) Restore(archivePath string) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	f, err := os.Open(archivePath)
	if err != nil {
		return errors.Wrap(err, "unit: open backup archive")
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return errors.Wrap(err, "unit: start zstd decoder")
	}
	defer dec.Close()

	if err := u.ovfF.Close(); err != nil {
		return errors.Wrap(err, "unit: close overflow file before restore")
	}
	if err := u.leafF.Close(); err != nil {
		return errors.Wrap(err, "unit: close leaf file before restore")
	}

	l, o, b, r := u.paths()
	dests := []string{l, o, b, r}
	for _, dest := range dests {
		if err := readBackupRecord(dec, dest); err != nil {
			u.unavailable = true
			return err
		}
	}
	if err := u.reopenFiles(); err != nil {
		u.unavailable = true
		return err
	}
	bt, err := openBtree(b)
	if err != nil {
		u.unavailable = true
		return errors.Wrap(err, "unit: reopen btree after restore")
	}
	rows, err := openRowMap(r)
	if err != nil {
		u.unavailable = true
		return errors.Wrap(err, "unit: reopen rowmap after restore")
	}
	u.bt, u.rows = bt, rows
	return nil
}

func readBackupRecord(r io.Reader, dest string) error {
	var header [4 + 8]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return errors.Wrap(err, "unit: read backup record header")
	}
	nameLen := binary.LittleEndian.Uint32(header[0:4])
	dataLen := binary.LittleEndian.Uint64(header[4:12])

	name := make([]byte, nameLen)
	if _, err := io.ReadFull(r, name); err != nil {
		return errors.Wrap(err, "unit: read backup record name")
	}
	data := make([]byte, dataLen)
	if _, err := io.ReadFull(r, data); err != nil {
		return errors.Wrap(err, "unit: read backup record content")
	}
	return errors.Wrapf(os.WriteFile(dest, data, 0o644), "unit: write %s", dest)
}

// Recover rolls the unit forward to whatever state a prior StartBackup
// captured at ts. spec.md §9's Open Questions leaves point-in-time
// recovery (as opposed to the single-snapshot Restore above) to the host,
// since that requires a write-ahead log this module does not keep - see
// DESIGN.md.
func (u *Unit) Recover(ts int64) error {
	return errors.Wrap(invdxerr.StorageError, "unit: Recover has no point-in-time log configured")
}

// StartVerification begins a verify.Progress run over this unit.
func (u *Unit) StartVerification(treatment invdxerr.Treatment, isCancel func() bool) *verify.Progress {
	u.mu.Lock()
	defer u.mu.Unlock()
	return verify.New(treatment, uint(len(u.bt.all())), isCancel)
}

// EndVerification finalizes a run, marking the unit Unavailable if the
// run's Treatment demanded it and any finding was reported.
func (u *Unit) EndVerification(p *verify.Progress) ([]invdxerr.VerifyFinding, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	findings := p.Findings()
	if len(findings) == 0 {
		return findings, nil
	}
	switch p.Treatment {
	case invdxerr.Abort:
		return findings, invdxerr.VerifyAborted
	case invdxerr.MarkUnavailable:
		u.unavailable = true
		return findings, invdxerr.Unavailable
	default:
		return findings, nil
	}
}

// VerifyBtree walks every term in the B-tree, confirming its leaf page
// still exists and carries an Area for that exact key (S6's "a B-tree key
// must resolve"), cross-checks each such list's header DocumentCount()
// against what decode actually recovers, and separately walks every leaf
// page's Areas confirming each resolves back through the B-tree - the
// reverse-direction cross-check spec.md §7 names ("or vice versa") that
// catches a dangling Area left behind by a botched split or reduce. All
// three checks feed the same Progress so a caller sees one merged finding
// list. cfg is the payload mode used to decode postings for the count
// check; a unit indexing more than one payload mode should run VerifyBtree
// once per mode actually in use, since the Area itself does not record
// which mode produced it.
func (u *Unit) VerifyBtree(p *verify.Progress, cfg postlist.ListConfig) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	idUnit, locUnit := u.listUnits()

	for _, e := range u.bt.all() {
		if p.Cancelled() {
			return invdxerr.Cancelled
		}
		p.Observe(string16(e.key))
		page, err := u.leafF.Attach(pagestore.PageID(e.pageID))
		if err != nil {
			p.Report(invdxerr.VerifyFinding{
				Kind: invdxerr.IllegalIndex, Key: string16(e.key), Page: e.pageID,
				Detail: "btree points at unreadable leaf page",
			})
			continue
		}
		it := page.Search(e.key)
		if !it.Valid() || leaf.CompareKeyUnsigned(it.Area().Key(), e.key) != 0 {
			p.Report(invdxerr.VerifyFinding{
				Kind: invdxerr.IllegalIndex, Key: string16(e.key), Page: e.pageID,
				Detail: fmt.Sprintf("btree key has no matching Area on its leaf page (page checksum %x)", verify.PageChecksum(page.Raw().Bytes())),
			})
			u.leafF.Detach(page)
			continue
		}

		list := postlist.Open(u.leafF, u.ovfF, cfg, idUnit, locUnit, page, it)
		if header, decoded := list.DocumentCount(), list.DecodedPostingCount(); int(header) != decoded {
			p.Report(invdxerr.VerifyFinding{
				Kind: invdxerr.IllegalListCount, Key: string16(e.key), Page: e.pageID,
				Detail: fmt.Sprintf("Area header reports %d postings, decode found %d", header, decoded),
			})
		}
		u.leafF.Detach(page)
	}

	return u.verifyLeafAreasResolveToBtreeLocked(p)
}

// verifyLeafAreasResolveToBtreeLocked walks every leaf page's Areas (the
// zero-length anchor Area on page 1 excepted) and confirms each resolves
// back through the B-tree, the direction VerifyBtree's main loop cannot
// catch on its own: an Area present on disk with no B-tree entry pointing
// at it. MightBeDangling short-circuits the common case (an Area whose key
// the B-tree loop above never observed) without paying for an exact lookup.
func (u *Unit) verifyLeafAreasResolveToBtreeLocked(p *verify.Progress) error {
	pageID := pagestore.PageID(1)
	for pageID != 0 {
		if p.Cancelled() {
			return invdxerr.Cancelled
		}
		page, err := u.leafF.Attach(pageID)
		if err != nil {
			p.Report(invdxerr.VerifyFinding{
				Kind: invdxerr.IllegalIndex, Page: uint32(pageID),
				Detail: "leaf chain points at unreadable page",
			})
			return nil
		}
		for _, it := range page.Areas() {
			key := it.Area().Key()
			if len(key) == 0 {
				continue // the page-1 anchor Area carries no term
			}
			keyStr := string16(key)
			if p.MightBeDangling(keyStr) {
				p.Report(invdxerr.VerifyFinding{
					Kind: invdxerr.IllegalIndex, Key: keyStr, Page: uint32(page.ID()),
					Detail: fmt.Sprintf("leaf Area has no matching B-tree entry (page checksum %x)", verify.PageChecksum(page.Raw().Bytes())),
				})
				continue
			}
			if btPageID, ok := u.bt.search(key); !ok || btPageID != uint32(page.ID()) {
				p.Report(invdxerr.VerifyFinding{
					Kind: invdxerr.IllegalIndex, Key: keyStr, Page: uint32(page.ID()),
					Detail: fmt.Sprintf("leaf Area has no matching B-tree entry (page checksum %x)", verify.PageChecksum(page.Raw().Bytes())),
				})
			}
		}
		next := page.NextPageId()
		u.leafF.Detach(page)
		pageID = next
	}
	return nil
}
