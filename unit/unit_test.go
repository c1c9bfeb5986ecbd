package unit

import (
	"path/filepath"
	"testing"

	"github.com/go-mizu/invfts/config"
	"github.com/go-mizu/invfts/internal/leaf"
	"github.com/go-mizu/invfts/internal/postlist"
	"github.com/go-mizu/invfts/invdxerr"
)

func openTestUnit(t *testing.T) *Unit {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "u1")
	u, err := Open(dir, config.Defaults(), nil)
	if err != nil {
		t.Fatalf("open unit: %v", err)
	}
	t.Cleanup(func() { u.Close() })
	return u
}

func TestUnitInsertAndLookup(t *testing.T) {
	u := openTestUnit(t)
	cfg := postlist.ListConfig{}
	key := leaf.EncodeKey("cat")

	doc5 := u.ConvertToDocumentID(5)
	doc7 := u.ConvertToDocumentID(7)
	doc12 := u.ConvertToDocumentID(12)

	if err := u.InsertPosting(key, cfg, doc5, []uint32{3}); err != nil {
		t.Fatalf("insert doc5: %v", err)
	}
	if err := u.InsertPosting(key, cfg, doc7, []uint32{1, 4}); err != nil {
		t.Fatalf("insert doc7: %v", err)
	}
	if err := u.InsertPosting(key, cfg, doc12, []uint32{9}); err != nil {
		t.Fatalf("insert doc12: %v", err)
	}

	list, ok, err := u.OpenList(key, cfg)
	if err != nil {
		t.Fatalf("open list: %v", err)
	}
	if !ok {
		t.Fatalf("expected list to exist")
	}
	defer u.LeafFile().Detach(list.Page)

	if list.DocumentCount() != 3 {
		t.Fatalf("DocumentCount = %d, want 3", list.DocumentCount())
	}

	it := list.Begin()
	if !it.Find(doc7) {
		t.Fatalf("Find(doc7) = false")
	}
	if it.GetInDocumentFrequency() != 2 {
		t.Fatalf("freq(doc7) = %d, want 2", it.GetInDocumentFrequency())
	}
	positions := it.LocationListIterator().All()
	if len(positions) != 2 || positions[0] != 1 || positions[1] != 4 {
		t.Fatalf("positions(doc7) = %v, want [1 4]", positions)
	}

	if !it.LowerBound(doc7 + 1) {
		t.Fatalf("LowerBound after doc7 should still find an entry")
	}
	if it.DocumentId() != doc12 {
		t.Fatalf("LowerBound landed on %d, want %d", it.DocumentId(), doc12)
	}
}

func TestUnitRowDocRoundTrip(t *testing.T) {
	u := openTestUnit(t)

	doc1 := u.ConvertToDocumentID(100)
	doc2 := u.ConvertToDocumentID(200)
	doc1Again := u.ConvertToDocumentID(100)
	if doc1 != doc1Again {
		t.Fatalf("ConvertToDocumentID not idempotent: %d != %d", doc1, doc1Again)
	}

	row, ok := u.ConvertToRowID(doc2)
	if !ok || row != 200 {
		t.Fatalf("ConvertToRowID(doc2) = (%d, %v), want (200, true)", row, ok)
	}
	if u.GetCount() != 2 {
		t.Fatalf("GetCount() = %d, want 2", u.GetCount())
	}
}

func TestUnitExpungeUndoExpunge(t *testing.T) {
	u := openTestUnit(t)
	cfg := postlist.ListConfig{}
	key := leaf.EncodeKey("dog")

	doc1 := u.ConvertToDocumentID(1)
	doc2 := u.ConvertToDocumentID(2)
	if err := u.InsertPosting(key, cfg, doc1, []uint32{1}); err != nil {
		t.Fatalf("insert doc1: %v", err)
	}
	if err := u.InsertPosting(key, cfg, doc2, []uint32{2, 3}); err != nil {
		t.Fatalf("insert doc2: %v", err)
	}

	if err := u.ExpungePosting(key, cfg, doc1); err != nil {
		t.Fatalf("expunge doc1: %v", err)
	}
	list, ok, err := u.OpenList(key, cfg)
	if err != nil || !ok {
		t.Fatalf("open list after expunge: ok=%v err=%v", ok, err)
	}
	if list.DocumentCount() != 1 {
		t.Fatalf("DocumentCount after expunge = %d, want 1", list.DocumentCount())
	}
	u.LeafFile().Detach(list.Page)

	if err := list.UndoExpunge(doc1, []uint32{1}); err != nil {
		t.Fatalf("undo expunge: %v", err)
	}
	it := list.Begin()
	if !it.Find(doc1) {
		t.Fatalf("doc1 missing after UndoExpunge")
	}
}

func TestUnitVerifyBtreeDetectsDanglingKey(t *testing.T) {
	u := openTestUnit(t)
	key := leaf.EncodeKey("dog")

	// Register a B-tree entry pointing at a leaf page that carries no Area
	// with this key, simulating a corrupted index (spec.md S6).
	if err := u.InsertBtree(key, 1); err != nil {
		t.Fatalf("insert btree: %v", err)
	}

	p := u.StartVerification(invdxerr.Continue, nil)
	if err := u.VerifyBtree(p, postlist.ListConfig{}); err != nil {
		t.Fatalf("verify: %v", err)
	}
	findings, err := u.EndVerification(p)
	if err != nil {
		t.Fatalf("end verification: %v", err)
	}
	if len(findings) != 1 {
		t.Fatalf("findings = %d, want 1", len(findings))
	}
	if findings[0].Kind != invdxerr.IllegalIndex {
		t.Fatalf("finding kind = %v, want IllegalIndex", findings[0].Kind)
	}
}

func TestUnitVerifyBtreeDetectsDanglingLeafArea(t *testing.T) {
	u := openTestUnit(t)
	cfg := postlist.ListConfig{}
	key := leaf.EncodeKey("cat")
	doc := u.ConvertToDocumentID(1)

	// A posting list that exists on disk with no corresponding B-tree entry
	// simulates a split/reduce that moved or dropped the btree side of an
	// Area without the leaf-side Area itself being removed.
	if err := u.InsertPosting(key, cfg, doc, []uint32{1}); err != nil {
		t.Fatalf("insert posting: %v", err)
	}
	u.ExpungeBtree(key)

	p := u.StartVerification(invdxerr.Continue, nil)
	if err := u.VerifyBtree(p, cfg); err != nil {
		t.Fatalf("verify: %v", err)
	}
	findings, err := u.EndVerification(p)
	if err != nil {
		t.Fatalf("end verification: %v", err)
	}
	if len(findings) != 1 {
		t.Fatalf("findings = %d, want 1", len(findings))
	}
	if findings[0].Kind != invdxerr.IllegalIndex {
		t.Fatalf("finding kind = %v, want IllegalIndex", findings[0].Kind)
	}
}

func TestUnitMove(t *testing.T) {
	u := openTestUnit(t)
	cfg := postlist.ListConfig{}
	key := leaf.EncodeKey("cat")
	doc := u.ConvertToDocumentID(1)
	if err := u.InsertPosting(key, cfg, doc, []uint32{1}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := u.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	newDir := filepath.Join(t.TempDir(), "moved")
	if err := u.Move(newDir); err != nil {
		t.Fatalf("move: %v", err)
	}

	list, ok, err := u.OpenList(key, cfg)
	if err != nil || !ok {
		t.Fatalf("open list after move: ok=%v err=%v", ok, err)
	}
	if list.DocumentCount() != 1 {
		t.Fatalf("DocumentCount after move = %d, want 1", list.DocumentCount())
	}
	u.LeafFile().Detach(list.Page)
}

func TestUnitBackupRestoreRoundTrip(t *testing.T) {
	u := openTestUnit(t)
	cfg := postlist.ListConfig{}
	key := leaf.EncodeKey("cat")
	doc := u.ConvertToDocumentID(1)
	if err := u.InsertPosting(key, cfg, doc, []uint32{7}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	backupDir := filepath.Join(t.TempDir(), "backup")
	archive, err := u.StartBackup(backupDir)
	if err != nil {
		t.Fatalf("StartBackup: %v", err)
	}
	if err := u.EndBackup(); err != nil {
		t.Fatalf("EndBackup: %v", err)
	}

	if err := u.InsertPosting(leaf.EncodeKey("dog"), cfg, u.ConvertToDocumentID(2), []uint32{1}); err != nil {
		t.Fatalf("insert after backup: %v", err)
	}
	if err := u.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	if err := u.Restore(archive); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	list, ok, err := u.OpenList(key, cfg)
	if err != nil || !ok {
		t.Fatalf("open list after restore: ok=%v err=%v", ok, err)
	}
	if list.DocumentCount() != 1 {
		t.Fatalf("DocumentCount after restore = %d, want 1", list.DocumentCount())
	}
	u.LeafFile().Detach(list.Page)

	if _, ok, err := u.OpenList(leaf.EncodeKey("dog"), cfg); err != nil || ok {
		t.Fatalf("expected post-backup insert to be gone after restore: ok=%v err=%v", ok, err)
	}
}
