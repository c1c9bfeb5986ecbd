package merge

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/go-mizu/invfts/config"
	"github.com/go-mizu/invfts/internal/leaf"
	"github.com/go-mizu/invfts/internal/postlist"
	"github.com/go-mizu/invfts/unit"
)

func openTestUnit(t *testing.T) *unit.Unit {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "u1")
	u, err := unit.Open(dir, config.Defaults(), nil)
	if err != nil {
		t.Fatalf("open unit: %v", err)
	}
	t.Cleanup(func() { u.Close() })
	return u
}

func TestDaemonRecordInsertBuffersAndSignals(t *testing.T) {
	u := openTestUnit(t)
	opts := config.Defaults()
	opts.FullTextMergeThreshold = 2
	d := New(u, opts, nil)

	key := leaf.EncodeKey("cat")
	d.RecordInsert(key, postlist.ListConfig{}, 1, []uint32{1})
	if d.PendingCount() != 1 {
		t.Fatalf("PendingCount = %d, want 1", d.PendingCount())
	}

	d.RecordInsert(key, postlist.ListConfig{}, 2, []uint32{2})
	if d.PendingCount() != 2 {
		t.Fatalf("PendingCount = %d, want 2", d.PendingCount())
	}

	select {
	case <-d.signal:
	default:
		t.Fatalf("expected signal to be set once threshold crossed")
	}
}

func TestDaemonRunCycleMergesIntoUnit(t *testing.T) {
	u := openTestUnit(t)
	opts := config.Defaults()
	d := New(u, opts, nil)

	key := leaf.EncodeKey("cat")
	cfg := postlist.ListConfig{}
	d.RecordInsert(key, cfg, 1, []uint32{3})
	d.RecordInsert(key, cfg, 2, []uint32{1, 4})

	if err := d.runCycle(); err != nil {
		t.Fatalf("runCycle: %v", err)
	}
	if d.PendingCount() != 0 {
		t.Fatalf("PendingCount after cycle = %d, want 0", d.PendingCount())
	}

	list, ok, err := u.OpenList(key, cfg)
	if err != nil {
		t.Fatalf("open list: %v", err)
	}
	if !ok {
		t.Fatalf("expected list to exist after merge")
	}
	defer u.LeafFile().Detach(list.Page)

	if list.DocumentCount() != 2 {
		t.Fatalf("DocumentCount = %d, want 2", list.DocumentCount())
	}
	it := list.Begin()
	if !it.Find(2) {
		t.Fatalf("Find(2) = false after merge")
	}
}

func TestDaemonRunCycleEmptyBatchIsNoop(t *testing.T) {
	u := openTestUnit(t)
	d := New(u, config.Defaults(), nil)
	if err := d.runCycle(); err != nil {
		t.Fatalf("runCycle on empty batch: %v", err)
	}
}

func TestSortedTermKeysOrdersByUnsignedUTF16(t *testing.T) {
	batch := map[string]*batchEntry{
		string16(leaf.EncodeKey("dog")): {key: leaf.EncodeKey("dog")},
		string16(leaf.EncodeKey("ant")): {key: leaf.EncodeKey("ant")},
		string16(leaf.EncodeKey("cat")): {key: leaf.EncodeKey("cat")},
	}
	order, err := sortedTermKeys(batch)
	if err != nil {
		t.Fatalf("sortedTermKeys: %v", err)
	}
	if len(order) != 3 {
		t.Fatalf("order len = %d, want 3", len(order))
	}
	var terms []string
	for _, k := range order {
		terms = append(terms, string(rune(batch[k].key[0])))
	}
	want := []string{"a", "c", "d"}
	for i, w := range want {
		if terms[i] != w {
			t.Fatalf("order[%d] first rune = %q, want %q (order=%v)", i, terms[i], w, order)
		}
	}
}

func TestDaemonStartStopIdempotent(t *testing.T) {
	u := openTestUnit(t)
	d := New(u, config.Defaults(), nil)

	d.RecordInsert(leaf.EncodeKey("dog"), postlist.ListConfig{}, 1, []uint32{1})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	d.Start(ctx)
	d.Start(ctx) // second Start before Stop is a no-op, not a double-launch
	d.Stop()
	d.Stop() // Stop on an already-stopped daemon must not block or panic

	if d.PendingCount() != 1 {
		t.Fatalf("PrepareTerminate/Stop must not reset the batch counter")
	}
}
