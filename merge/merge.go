// Package merge implements the merge daemon (spec.md §4.7): the single
// background task per driver that folds a unit's in-memory batch layer
// into its leaf/overflow files once enough writes have accumulated.
package merge

import (
	"bytes"
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/blevesearch/vellum"
	"github.com/pkg/errors"

	"github.com/go-mizu/invfts/config"
	"github.com/go-mizu/invfts/internal/leaf"
	"github.com/go-mizu/invfts/internal/overflow"
	"github.com/go-mizu/invfts/internal/pagestore"
	"github.com/go-mizu/invfts/internal/postlist"
	"github.com/go-mizu/invfts/unit"
)

// scratchHeaderWords mirrors leaf's fixed per-page header (prevPageId,
// nextPageId, areaCount): a batch list lives on a scratch, file-less page
// built with pagestore.NewScratch, so this package has to reserve the same
// three words leaf.Page itself reserves at the front of every real page.
const scratchHeaderWords = 3

type batchPosting struct {
	docID     uint32
	positions []uint32
}

type batchEntry struct {
	key      []uint16
	cfg      postlist.ListConfig
	postings []batchPosting
}

// Daemon is one merge task bound to a single unit, per spec.md §4.7's "one
// long-lived task per driver" (a driver with a Fleet of units runs one
// Daemon per unit, not one for the whole fleet, so a slow unit never
// blocks another's merge cycle).
type Daemon struct {
	u    *unit.Unit
	opts config.Options
	log  *slog.Logger

	mu    sync.Mutex
	batch map[string]*batchEntry
	count int

	signal  chan struct{}
	abortCh chan struct{}
	done    chan struct{}
	running bool
}

// New creates a daemon for unit u; call Start to begin its loop.
func New(u *unit.Unit, opts config.Options, log *slog.Logger) *Daemon {
	if log == nil {
		log = slog.Default()
	}
	return &Daemon{
		u:      u,
		opts:   opts,
		log:    log,
		batch:  make(map[string]*batchEntry),
		signal: make(chan struct{}, 1),
	}
}

// RecordInsert buffers one posting into the in-memory batch layer rather
// than writing it straight into the unit's leaf/overflow files; this is
// the write path a driver's insert operation calls while the daemon is
// running. Once the buffered entry count crosses FullText_MergeThreshold
// the daemon's wait is signalled (spec.md §4.7 step 1's "or a timeout
// fires" alternative still covers the case nobody is listening yet).
func (d *Daemon) RecordInsert(key []uint16, cfg postlist.ListConfig, docID uint32, positions []uint32) {
	d.mu.Lock()
	k := string16(key)
	e, ok := d.batch[k]
	if !ok {
		e = &batchEntry{key: append([]uint16(nil), key...), cfg: cfg}
		d.batch[k] = e
	}
	e.postings = append(e.postings, batchPosting{docID: docID, positions: positions})
	d.count++
	over := d.count >= d.opts.FullTextMergeThreshold
	d.mu.Unlock()

	if over {
		select {
		case d.signal <- struct{}{}:
		default:
		}
	}
}

// PendingCount reports how many postings are buffered and not yet merged.
func (d *Daemon) PendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.count
}

// Start launches the daemon's loop. Safe to call again after Stop.
func (d *Daemon) Start(ctx context.Context) {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return
	}
	d.running = true
	d.abortCh = make(chan struct{})
	d.done = make(chan struct{})
	d.mu.Unlock()

	go d.run(ctx)
}

func (d *Daemon) run(ctx context.Context) {
	defer close(d.done)
	ticker := time.NewTicker(mergePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.abortCh:
			return
		case <-ctx.Done():
			return
		case <-d.signal:
		case <-ticker.C:
		}

		select {
		case <-d.abortCh:
			return
		default:
		}

		if d.PendingCount() == 0 {
			continue
		}
		if err := d.runCycle(); err != nil {
			d.log.Error("merge cycle failed", "error", err)
		}
	}
}

const mergePollInterval = 2 * time.Second

// Stop aborts the current cycle at its next page-flush boundary and joins
// the daemon goroutine, per spec.md §5's cancellation contract. Resets
// nothing in the batch layer - a subsequent Start picks up exactly where
// the daemon left off.
func (d *Daemon) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	abortCh, done := d.abortCh, d.done
	d.mu.Unlock()

	close(abortCh)
	<-done
}

// PrepareTerminate aborts and joins exactly like Stop, but - per spec.md
// §4.7 - never resets the buffered-entry counter, so calling it a second
// time on an already-stopped daemon observes the same counter state and
// is therefore idempotent from the caller's point of view.
func (d *Daemon) PrepareTerminate() {
	d.Stop()
}

// swapBatch atomically takes the accumulated batch map, replacing it with
// an empty one, per spec.md §4.7 step 2 ("writers are not blocked").
func (d *Daemon) swapBatch() map[string]*batchEntry {
	d.mu.Lock()
	defer d.mu.Unlock()
	taken := d.batch
	d.batch = make(map[string]*batchEntry)
	d.count = 0
	return taken
}

// runCycle implements spec.md §4.7 steps 2-4: swap the batch map, fold
// each term's buffered postings into the unit in sorted term order, then
// flush. Term order comes from sortedTermKeys, which sorts the batch's
// keys and reads them back through a throwaway vellum FST (mirroring the
// pack's segment-merge dictionaries, which walk their terms via the same
// FST iterator).
func (d *Daemon) runCycle() error {
	batch := d.swapBatch()
	if len(batch) == 0 {
		return nil
	}

	order, err := sortedTermKeys(batch)
	if err != nil {
		return err
	}

	idUnit, locUnit := d.opts.InvertedIDBlockUnitSize, d.opts.InvertedWordIDBlockUnitSize
	for _, k := range order {
		e := batch[k]
		batchList, err := buildBatchList(d.u.LeafFile(), d.u.OverflowFile(), e, idUnit, locUnit, d.opts.FullText2BatchListRegularUnitSize)
		if err != nil {
			return err
		}
		if _, err := d.u.MergeBatch(e.key, e.cfg, batchList); err != nil {
			return err
		}
	}
	return d.u.Flush()
}

// sortedTermKeys orders batch's map keys by their term's NO-PAD unsigned
// UTF-16 comparison (leaf.CompareKeyUnsigned). Each key is widened to its
// big-endian code-unit encoding, whose byte-lexicographic order equals
// CompareKeyUnsigned's order; those byte keys are sorted with sort.Slice
// (vellum accepts keys only in sorted order), inserted into a vellum FST,
// and the order is read back from the FST's iterator.
func sortedTermKeys(batch map[string]*batchEntry) ([]string, error) {
	type pair struct {
		be  []byte
		key string
	}
	pairs := make([]pair, 0, len(batch))
	for k, e := range batch {
		pairs = append(pairs, pair{be: keyBytesBE(e.key), key: k})
	}
	sort.Slice(pairs, func(i, j int) bool { return bytes.Compare(pairs[i].be, pairs[j].be) < 0 })

	var buf bytes.Buffer
	builder, err := vellum.New(&buf, nil)
	if err != nil {
		return nil, errors.Wrap(err, "merge: new vellum builder")
	}
	for i, p := range pairs {
		if err := builder.Insert(p.be, uint64(i)); err != nil {
			return nil, errors.Wrap(err, "merge: vellum insert")
		}
	}
	if err := builder.Close(); err != nil {
		return nil, errors.Wrap(err, "merge: close vellum builder")
	}

	fst, err := vellum.Load(buf.Bytes())
	if err != nil {
		return nil, errors.Wrap(err, "merge: load vellum fst")
	}
	defer fst.Close()

	order := make([]string, 0, len(pairs))
	itr, err := fst.Iterator(nil, nil)
	for err == nil {
		_, val := itr.Current()
		order = append(order, pairs[val].key)
		err = itr.Next()
	}
	if err != nil && err != vellum.ErrIteratorDone {
		return nil, errors.Wrap(err, "merge: vellum iterate")
	}
	return order, nil
}

// keyBytesBE widens a term's UTF-16 code-unit key into big-endian bytes,
// so a vellum FST's byte-lexicographic term ordering matches
// leaf.CompareKeyUnsigned's per-code-unit unsigned ordering exactly.
func keyBytesBE(key []uint16) []byte {
	b := make([]byte, 2*len(key))
	for i, c := range key {
		b[2*i] = byte(c >> 8)
		b[2*i+1] = byte(c)
	}
	return b
}

// buildBatchList materializes one term's buffered postings as a transient
// Short-variant List living on a scratch, file-less page (spec.md
// glossary: "Batch list - in-memory posting list that buffers writes
// before merging"; Batch shares its on-disk layout with Short, so a Short
// Area serves the same purpose here without a dedicated constructor).
// The scratch page is sized generously enough that ordinary per-cycle
// batch sizes never need Convert, which this transient page could not
// support (Convert may ask the owning leaf file to Split, and a scratch
// page belongs to no file) - see DESIGN.md for this documented limit.
func buildBatchList(leafFile *leaf.File, ovfFile *overflow.File, e *batchEntry, idUnit, locUnit, regularGrowWords int) (*postlist.List, error) {
	payloadWords := batchPayloadWords(e)
	total := scratchHeaderWords + leaf.AreaUnitSize(e.key, payloadWords) + 8
	page := leaf.Wrap(pagestore.NewScratch(make([]uint32, total)))

	it, err := postlist.NewShort(page, e.key, payloadWords)
	if err != nil {
		return nil, err
	}
	list := postlist.OpenWithGrowWords(leafFile, ovfFile, e.cfg, idUnit, locUnit, regularGrowWords, page, it)

	sort.Slice(e.postings, func(i, j int) bool { return e.postings[i].docID < e.postings[j].docID })
	for _, p := range e.postings {
		res, err := list.Insert(p.docID, p.positions)
		if err != nil {
			return nil, err
		}
		if res == postlist.NeedsConvert {
			return nil, errBatchOverflow
		}
	}
	return list, nil
}

// batchPayloadWords sizes the scratch Short Area generously: a fixed
// 8-word margin, three words per posting and one more word per position,
// comfortably above what a MergeThreshold-sized batch for one term needs
// in the common case.
func batchPayloadWords(e *batchEntry) int {
	n := len(e.postings)
	w := 8 + n*3
	for _, p := range e.postings {
		w += len(p.positions)
	}
	return w
}

var errBatchOverflow = errors.New("merge: batch exceeded scratch capacity")

func string16(u []uint16) string {
	b := make([]byte, 2*len(u))
	for i, c := range u {
		b[2*i] = byte(c)
		b[2*i+1] = byte(c >> 8)
	}
	return string(b)
}
