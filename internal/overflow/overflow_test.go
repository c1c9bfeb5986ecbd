package overflow

import (
	"path/filepath"
	"testing"
)

func openTestFile(t *testing.T) *File {
	t.Helper()
	path := filepath.Join(t.TempDir(), "Ovr")
	f, err := Open(path, 512, 16, 32)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

func TestAllocateAndFreeIDBlock(t *testing.T) {
	f := openTestFile(t)
	p, err := f.NewPage(KindID)
	if err != nil {
		t.Fatalf("new page: %v", err)
	}
	defer f.Detach(p)

	blk, pos, ok := p.AllocateIDBlock()
	if !ok {
		t.Fatal("expected a free ID slot")
	}
	blk.SetFirstDocumentId(42)
	if p.GetIDBlock(pos).FirstDocumentId() != 42 {
		t.Fatal("first document id did not persist")
	}
	if p.AllEmpty() {
		t.Fatal("page should not report all-empty with one slot occupied")
	}
	p.FreeIDBlock(pos)
	if !p.AllEmpty() {
		t.Fatal("page should be all-empty after freeing its only occupied slot")
	}
}

func TestLowerBoundIDBlockSkipsExpunged(t *testing.T) {
	f := openTestFile(t)
	p, err := f.NewPage(KindID)
	if err != nil {
		t.Fatalf("new page: %v", err)
	}
	defer f.Detach(p)

	ids := []uint32{10, 20, 30, 40, 50}
	for _, id := range ids {
		blk, _, ok := p.AllocateIDBlock()
		if !ok {
			t.Fatal("expected a free ID slot")
		}
		blk.SetFirstDocumentId(id)
	}
	// Expunge the block starting at 30.
	p.GetIDBlock(2).SetExpunged(true)

	pos, ok := p.LowerBoundIDBlock(35, false)
	if !ok {
		t.Fatal("expected a lower-bound hit")
	}
	if p.GetIDBlock(pos).FirstDocumentId() == 30 {
		t.Fatal("lowerBound should skip the expunged block when undo=false")
	}

	pos, ok = p.LowerBoundIDBlock(35, true)
	if !ok || p.GetIDBlock(pos).FirstDocumentId() != 30 {
		t.Fatal("lowerBound with undo=true should still find the expunged block")
	}
}

func TestLocBlockChaining(t *testing.T) {
	f := openTestFile(t)
	p, err := f.NewPage(KindLOC)
	if err != nil {
		t.Fatalf("new page: %v", err)
	}
	defer f.Detach(p)

	blk, _, ok := p.AllocateLocBlock()
	if !ok {
		t.Fatal("expected a free LOC slot")
	}
	blk.SetDataBitLength(123)
	blk.SetContinue(true)

	if !blk.Continue() {
		t.Fatal("continue flag should persist")
	}
	if blk.DataBitLength() != 123 {
		t.Fatal("data bit length should persist")
	}
}

func TestIDLOCPageSplitsSlots(t *testing.T) {
	f := openTestFile(t)
	p, err := f.NewPage(KindIDLOC)
	if err != nil {
		t.Fatalf("new page: %v", err)
	}
	defer f.Detach(p)

	if p.idSlotCount() == 0 || p.locSlotCount() == 0 {
		t.Fatalf("expected both id and loc slots on an IDLOC page, got id=%d loc=%d", p.idSlotCount(), p.locSlotCount())
	}
}
