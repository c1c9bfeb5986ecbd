package postlist

import (
	"path/filepath"
	"reflect"
	"testing"

	"github.com/go-mizu/invfts/internal/leaf"
	"github.com/go-mizu/invfts/internal/overflow"
)

func newTestList(t *testing.T, cfg ListConfig) *List {
	t.Helper()

	lf, err := leaf.Open(filepath.Join(t.TempDir(), "Leaf"), 2048)
	if err != nil {
		t.Fatalf("open leaf file: %v", err)
	}
	t.Cleanup(func() { lf.Close() })

	of, err := overflow.Open(filepath.Join(t.TempDir(), "Ovf"), 512, idBlockUnitDefault, locBlockUnitDefault)
	if err != nil {
		t.Fatalf("open overflow file: %v", err)
	}
	t.Cleanup(func() { of.Close() })

	page, err := lf.AllocatePage()
	if err != nil {
		t.Fatalf("allocate leaf page: %v", err)
	}
	t.Cleanup(func() { lf.Detach(page) })

	it, err := NewShort(page, leaf.EncodeKey("term"), 8)
	if err != nil {
		t.Fatalf("new short list: %v", err)
	}
	return Open(lf, of, cfg, idBlockUnitDefault, locBlockUnitDefault, page, it)
}

type postingSnapshot struct {
	docId     uint32
	freq      int
	positions []uint32
}

func collect(t *testing.T, l *List) []postingSnapshot {
	t.Helper()
	it := l.Begin()
	var out []postingSnapshot
	for it.Next() {
		out = append(out, postingSnapshot{
			docId:     it.DocumentId(),
			freq:      it.GetInDocumentFrequency(),
			positions: append([]uint32(nil), it.LocationListIterator().All()...),
		})
	}
	return out
}

func TestShortListLifecycle(t *testing.T) {
	l := newTestList(t, ListConfig{})
	inserts := []struct {
		doc uint32
		pos []uint32
	}{
		{1, []uint32{3, 9}},
		{5, []uint32{1}},
		{12, []uint32{2, 4, 6}},
	}
	for _, ins := range inserts {
		res, err := l.Insert(ins.doc, ins.pos)
		if err != nil {
			t.Fatalf("insert %d: %v", ins.doc, err)
		}
		if res != Inserted {
			t.Fatalf("insert %d: want Inserted, got %v", ins.doc, res)
		}
	}
	if l.DocumentCount() != uint32(len(inserts)) {
		t.Fatalf("document count = %d, want %d", l.DocumentCount(), len(inserts))
	}
	if l.LastDocumentId() != 12 {
		t.Fatalf("last doc id = %d, want 12", l.LastDocumentId())
	}

	got := collect(t, l)
	if len(got) != len(inserts) {
		t.Fatalf("iterator returned %d postings, want %d", len(got), len(inserts))
	}
	for i, ins := range inserts {
		if got[i].docId != ins.doc {
			t.Fatalf("posting %d: doc id = %d, want %d", i, got[i].docId, ins.doc)
		}
		if got[i].freq != len(ins.pos) {
			t.Fatalf("posting %d: freq = %d, want %d", i, got[i].freq, len(ins.pos))
		}
		if !reflect.DeepEqual(got[i].positions, ins.pos) {
			t.Fatalf("posting %d: positions = %v, want %v", i, got[i].positions, ins.pos)
		}
	}

	if err := l.Expunge(5); err != nil {
		t.Fatalf("expunge: %v", err)
	}
	got = collect(t, l)
	if len(got) != 2 || got[0].docId != 1 || got[1].docId != 12 {
		t.Fatalf("after expunge, got %v", got)
	}

	if err := l.UndoExpunge(5, []uint32{1}); err != nil {
		t.Fatalf("undo expunge: %v", err)
	}
	got = collect(t, l)
	if len(got) != 3 {
		t.Fatalf("after undo expunge, got %d postings, want 3", len(got))
	}
}

func TestNoTFMode(t *testing.T) {
	l := newTestList(t, ListConfig{NoTF: true})
	for _, doc := range []uint32{2, 4, 9} {
		res, err := l.Insert(doc, []uint32{1, 2, 3})
		if err != nil {
			t.Fatalf("insert %d: %v", doc, err)
		}
		if res != Inserted {
			t.Fatalf("insert %d: want Inserted, got %v", doc, res)
		}
	}
	got := collect(t, l)
	if len(got) != 3 {
		t.Fatalf("got %d postings, want 3", len(got))
	}
	for _, p := range got {
		if p.freq != 1 {
			t.Fatalf("no-TF posting freq = %d, want 1", p.freq)
		}
		if len(p.positions) != 0 {
			t.Fatalf("no-TF posting should carry no positions, got %v", p.positions)
		}
	}
}

func TestNoLocationMode(t *testing.T) {
	l := newTestList(t, ListConfig{NoLocation: true})
	inserts := []struct {
		doc uint32
		pos []uint32
	}{
		{2, []uint32{1, 2, 3}},
		{4, []uint32{5}},
		{9, []uint32{1, 2}},
	}
	for _, ins := range inserts {
		res, err := l.Insert(ins.doc, ins.pos)
		if err != nil {
			t.Fatalf("insert %d: %v", ins.doc, err)
		}
		if res != Inserted {
			t.Fatalf("insert %d: want Inserted, got %v", ins.doc, res)
		}
	}

	got := collect(t, l)
	if len(got) != len(inserts) {
		t.Fatalf("got %d postings, want %d", len(got), len(inserts))
	}
	for i, ins := range inserts {
		if got[i].freq != len(ins.pos) {
			t.Fatalf("posting %d: freq = %d, want %d", i, got[i].freq, len(ins.pos))
		}
		if len(got[i].positions) != 0 {
			t.Fatalf("no-location posting should carry no positions, got %v", got[i].positions)
		}
	}

	// Frequency must survive a Short -> Middle conversion even though no
	// real position data is ever stored or replayed.
	for id := uint32(20); id < 40; id++ {
		if _, err := l.Insert(id, []uint32{1, 2}); err != nil {
			t.Fatalf("insert %d: %v", id, err)
		}
	}
	got = collect(t, l)
	for _, p := range got {
		if p.freq == 0 {
			t.Fatalf("posting %d: freq dropped to 0 after promotion", p.docId)
		}
		if len(p.positions) != 0 {
			t.Fatalf("posting %d: positions leaked after promotion, got %v", p.docId, p.positions)
		}
	}
}

func TestShortToMiddlePromotion(t *testing.T) {
	l := newTestList(t, ListConfig{})
	var docs []uint32
	for id := uint32(1); id <= 20; id++ {
		res, err := l.Insert(id, []uint32{id, id + 1})
		if err != nil {
			t.Fatalf("insert %d: %v", id, err)
		}
		if res != Inserted {
			t.Fatalf("insert %d: want Inserted, got %v", id, res)
		}
		docs = append(docs, id)
	}

	if err := l.Convert(); err != nil {
		t.Fatalf("convert: %v", err)
	}
	if l.ListType() != leaf.Middle {
		t.Fatalf("list type after convert = %v, want Middle", l.ListType())
	}
	if l.DocumentCount() != uint32(len(docs)) {
		t.Fatalf("document count after convert = %d, want %d", l.DocumentCount(), len(docs))
	}

	got := collect(t, l)
	if len(got) != len(docs) {
		t.Fatalf("got %d postings after promotion, want %d", len(got), len(docs))
	}
	for i, id := range docs {
		if got[i].docId != id {
			t.Fatalf("posting %d: doc id = %d, want %d", i, got[i].docId, id)
		}
		want := []uint32{id, id + 1}
		if !reflect.DeepEqual(got[i].positions, want) {
			t.Fatalf("posting %d: positions = %v, want %v", i, got[i].positions, want)
		}
	}

	// Expunge after promotion should still rebuild cleanly from Middle state.
	if err := l.Expunge(docs[len(docs)/2]); err != nil {
		t.Fatalf("expunge after promotion: %v", err)
	}
	got = collect(t, l)
	if len(got) != len(docs)-1 {
		t.Fatalf("got %d postings after expunge, want %d", len(got), len(docs)-1)
	}
}
