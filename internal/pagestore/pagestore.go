// Package pagestore is the C2 page-cache adapter: fixed-size pages fetched
// through a buffer pool, with attach/detach/dirty/flush. A real deployment
// hands this role to the host database's buffer manager; this package is
// the concrete adapter that contract implies, backed by a pooled *os.File
// and a read-only mmap of the flushed file for clean pages.
package pagestore

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/pkg/errors"
)

// PageID identifies a fixed-size page within one PageFile. 0 is never a
// valid page id (mirrors spec.md's Document ID convention that 0 means
// "unset").
type PageID uint32

// Page is one fetched, ref-counted page. Callers must call Detach when
// done; a page attached more than once shares the same backing buffer so
// concurrent readers/writers of the same page observe each other's writes
// (the page-level latch that would serialize that, in a real buffer pool,
// is the host's responsibility per spec.md §5; this adapter only manages
// the reference count and dirty flag).
type Page struct {
	id    PageID
	buf   []byte
	dirty atomic.Bool
	refs  atomic.Int32
}

// ID returns the page's identity within its file.
func (p *Page) ID() PageID { return p.id }

// Bytes returns the page's raw byte buffer, shared with any other attach of
// the same page.
func (p *Page) Bytes() []byte { return p.buf }

// Words reinterprets the page buffer as native-endian uint32 words, the
// layout every bit-packed structure in this module (Area, IDBlock,
// LOCBlock) is addressed in. This mirrors the file format's documented
// restriction (§6.1: "native little-endian... not portable across
// endianness") by reading memory directly rather than through
// encoding/binary, the same low-level trade a disk-image format makes when
// it maps structs directly over a byte buffer.
func (p *Page) Words() []uint32 {
	if len(p.buf) == 0 {
		return nil
	}
	return unsafe.Slice((*uint32)(unsafe.Pointer(&p.buf[0])), len(p.buf)/4)
}

// MarkDirty flags the page as modified since the last flush.
func (p *Page) MarkDirty() { p.dirty.Store(true) }

// NewScratch wraps caller-owned words as a standalone Page not attached to
// any PageFile, reusing the same byte/word dual view. Used when an Area
// must be assembled or inspected in memory before it has a home page (leaf
// page split/reduce relocates areas this way).
func NewScratch(words []uint32) *Page {
	p := &Page{id: 0}
	if len(words) == 0 {
		return p
	}
	p.buf = unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), len(words)*4)
	return p
}

// Dirty reports whether the page has unflushed modifications.
func (p *Page) Dirty() bool { return p.dirty.Load() }

// PageFile is a fixed-page-size file with an attach/detach cache in front
// of it, matching spec.md's "Pages are created on first write, read through
// an LRU cache ... evicted by detachAllPages" lifecycle (§3 Lifecycles).
type PageFile struct {
	mu       sync.Mutex
	path     string
	pageSize int
	file     *os.File
	release  func()
	pages    map[PageID]*Page
	nextID   atomic.Uint32
	region   *mmapRegion
	log      Logger
}

// Logger is the minimal logging surface pagestore needs, satisfied by
// *slog.Logger. Declared locally so this package does not have to import
// log/slog just to accept nil.
type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// Option configures Open.
type Option func(*PageFile)

// WithLogger sets the logger used for non-fatal warnings (e.g. a failed
// mmap refresh falling back to buffered reads).
func WithLogger(l Logger) Option {
	return func(pf *PageFile) {
		if l != nil {
			pf.log = l
		}
	}
}

// Open opens (creating if necessary) a fixed-page-size file at path.
func Open(path string, pageSize int, opts ...Option) (*PageFile, error) {
	if pageSize <= 0 || pageSize%4 != 0 {
		return nil, fmt.Errorf("pagestore: page size %d must be a positive multiple of 4", pageSize)
	}
	f, release, err := globalHandlePool.Get(path, false)
	if err != nil {
		return nil, errors.Wrapf(err, "pagestore: open %s", path)
	}
	pf := &PageFile{
		path:     path,
		pageSize: pageSize,
		file:     f,
		release:  release,
		pages:    make(map[PageID]*Page),
		log:      noopLogger{},
	}
	for _, o := range opts {
		o(pf)
	}
	info, err := f.Stat()
	if err != nil {
		release()
		return nil, errors.Wrap(err, "pagestore: stat")
	}
	pf.nextID.Store(uint32(info.Size() / int64(pageSize)))
	if err := pf.refreshMmap(info.Size()); err != nil {
		pf.log.Warn("pagestore: mmap refresh failed, falling back to buffered reads", "path", path, "err", err)
	}
	return pf, nil
}

func (pf *PageFile) refreshMmap(size int64) error {
	if pf.region != nil {
		_ = pf.region.close()
		pf.region = nil
	}
	if !mmapSupported() || size == 0 {
		return nil
	}
	r, err := newMmapRegion(pf.file, size)
	if err != nil {
		return err
	}
	pf.region = r
	return nil
}

// PageSize returns the fixed page size in bytes.
func (pf *PageFile) PageSize() int { return pf.pageSize }

// Attach fetches a page, creating an in-memory cache entry on first access.
// The returned Page must be released with Detach.
func (pf *PageFile) Attach(id PageID) (*Page, error) {
	pf.mu.Lock()
	if p, ok := pf.pages[id]; ok {
		p.refs.Add(1)
		pf.mu.Unlock()
		return p, nil
	}
	pf.mu.Unlock()

	buf := make([]byte, pf.pageSize)
	offset := int64(id) * int64(pf.pageSize)

	if data, ok := pf.region.readPage(offset, int64(pf.pageSize)); ok {
		copy(buf, data)
	} else {
		n, err := pf.file.ReadAt(buf, offset)
		if err != nil && err != io.EOF {
			return nil, errors.Wrapf(err, "pagestore: read page %d", id)
		}
		_ = n // a short/zero read (new page beyond EOF) leaves buf zeroed
	}

	p := &Page{id: id, buf: buf}
	p.refs.Store(1)

	pf.mu.Lock()
	if existing, ok := pf.pages[id]; ok {
		// Lost a race with a concurrent Attach; use the winner's copy.
		existing.refs.Add(1)
		pf.mu.Unlock()
		return existing, nil
	}
	pf.pages[id] = p
	pf.mu.Unlock()
	return p, nil
}

// NewPage allocates a fresh page id and attaches it, zero-filled.
func (pf *PageFile) NewPage() (*Page, error) {
	id := PageID(pf.nextID.Add(1))
	p := &Page{id: id, buf: make([]byte, pf.pageSize)}
	p.refs.Store(1)
	p.dirty.Store(true)
	pf.mu.Lock()
	pf.pages[id] = p
	pf.mu.Unlock()
	return p, nil
}

// Detach releases a reference obtained from Attach/NewPage. A page with no
// outstanding references and no dirty data may be evicted by a later
// DetachAllPages; dirty pages are never silently dropped.
func (pf *PageFile) Detach(p *Page) {
	if p == nil {
		return
	}
	p.refs.Add(-1)
}

// DetachAllPages evicts every clean, unreferenced page from the cache,
// matching spec.md's eviction hook (§3 Lifecycles).
func (pf *PageFile) DetachAllPages() {
	pf.mu.Lock()
	defer pf.mu.Unlock()
	for id, p := range pf.pages {
		if p.refs.Load() <= 0 && !p.Dirty() {
			delete(pf.pages, id)
		}
	}
}

// Flush writes every dirty page back to the file, fsyncs, and refreshes the
// read-only mmap so subsequent clean-page Attach calls see the new data.
func (pf *PageFile) Flush() error {
	pf.mu.Lock()
	dirty := make([]*Page, 0)
	for _, p := range pf.pages {
		if p.Dirty() {
			dirty = append(dirty, p)
		}
	}
	pf.mu.Unlock()

	for _, p := range dirty {
		offset := int64(p.id) * int64(pf.pageSize)
		if _, err := pf.file.WriteAt(p.buf, offset); err != nil {
			return errors.Wrapf(err, "pagestore: write page %d", p.id)
		}
		p.dirty.Store(false)
	}
	if len(dirty) > 0 {
		if err := pf.file.Sync(); err != nil {
			return errors.Wrap(err, "pagestore: fsync")
		}
	}
	info, err := pf.file.Stat()
	if err != nil {
		return errors.Wrap(err, "pagestore: stat after flush")
	}
	if err := pf.refreshMmap(info.Size()); err != nil {
		pf.log.Warn("pagestore: mmap refresh after flush failed", "path", pf.path, "err", err)
	}
	return nil
}

// Close releases the pooled file handle and unmaps the region. It does not
// flush; callers must Flush first if dirty pages should be persisted.
func (pf *PageFile) Close() error {
	pf.mu.Lock()
	defer pf.mu.Unlock()
	if pf.region != nil {
		_ = pf.region.close()
		pf.region = nil
	}
	pf.release()
	return nil
}

// Path returns the underlying file path, used by move/backup operations.
func (pf *PageFile) Path() string { return pf.path }
