package leaf

import (
	"path/filepath"
	"testing"
)

func openTestFile(t *testing.T) *File {
	t.Helper()
	path := filepath.Join(t.TempDir(), "Leaf")
	f, err := Open(path, 256)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

func TestAnchorAreaInstalled(t *testing.T) {
	f := openTestFile(t)
	if err := f.EnsureAnchor(); err != nil {
		t.Fatalf("ensure anchor: %v", err)
	}
	p, err := f.Attach(1)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	defer f.Detach(p)
	if p.AreaCount() != 1 {
		t.Fatalf("area count = %d, want 1", p.AreaCount())
	}
	if p.Areas()[0].Area().KeyLength() != 0 {
		t.Fatalf("anchor area key should be zero-length")
	}
}

func TestInsertSearchLowerBound(t *testing.T) {
	f := openTestFile(t)
	p, err := f.AllocatePage()
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	defer f.Detach(p)

	keys := []string{"cat", "dog", "moose", "zebra"}
	for _, k := range keys {
		if _, err := p.Insert(EncodeKey(k), 4); err != nil {
			t.Fatalf("insert %q: %v", k, err)
		}
	}
	if p.AreaCount() != len(keys) {
		t.Fatalf("area count = %d, want %d", p.AreaCount(), len(keys))
	}

	it := p.Search(EncodeKey("moose"))
	if !it.Valid() {
		t.Fatal("search(moose) should be found")
	}

	it = p.Search(EncodeKey("elephant"))
	if it.Valid() {
		t.Fatal("search(elephant) should miss")
	}

	it = p.LowerBound(EncodeKey("e"))
	if !it.Valid() || string16(it.Area().Key()) != "moose" {
		t.Fatalf("lowerBound(e) should land on moose, got valid=%v", it.Valid())
	}

	it = p.LowerBound(EncodeKey("zz"))
	if it.Valid() {
		t.Fatal("lowerBound(zz) should be End()")
	}
}

func TestExpungeClosesGap(t *testing.T) {
	f := openTestFile(t)
	p, err := f.AllocatePage()
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	defer f.Detach(p)

	for _, k := range []string{"a", "b", "c"} {
		if _, err := p.Insert(EncodeKey(k), 2); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	freeBefore := p.FreeUnitSize()
	it := p.Search(EncodeKey("b"))
	if !it.Valid() {
		t.Fatal("expected b present")
	}
	p.Expunge(it)
	if p.AreaCount() != 2 {
		t.Fatalf("area count after expunge = %d, want 2", p.AreaCount())
	}
	if p.FreeUnitSize() <= freeBefore {
		t.Fatal("free space should grow after expunge")
	}
	if p.Search(EncodeKey("b")).Valid() {
		t.Fatal("b should be gone")
	}
	if !p.Search(EncodeKey("a")).Valid() || !p.Search(EncodeKey("c")).Valid() {
		t.Fatal("a and c should remain reachable")
	}
}

func TestChangeAreaSize(t *testing.T) {
	f := openTestFile(t)
	p, err := f.AllocatePage()
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	defer f.Detach(p)

	it, err := p.Insert(EncodeKey("term"), 4)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	original := it.Area().UnitSize()
	if !p.ChangeAreaSize(it, 10) {
		t.Fatal("grow should succeed")
	}
	if it.Area().UnitSize() != original+10 {
		t.Fatalf("unit size after grow = %d, want %d", it.Area().UnitSize(), original+10)
	}
	if !p.ChangeAreaSize(it, -10) {
		t.Fatal("shrink should succeed")
	}
	if it.Area().UnitSize() != original {
		t.Fatalf("unit size after shrink = %d, want %d", it.Area().UnitSize(), original)
	}
}

func TestSplitRebalancesAndRethreads(t *testing.T) {
	f := openTestFile(t)
	left, err := f.AllocatePage()
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}

	// Fill the page close to capacity with mid-size areas.
	i := 0
	for {
		key := EncodeKey(string(rune('a' + (i % 26))))
		if !left.IsInsertArea(key, 6) {
			break
		}
		if _, err := left.Insert(key, 6); err != nil {
			break
		}
		i++
	}

	right, err := f.Split(left, EncodeKey("zzz"), 6)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	defer f.Detach(left)
	defer f.Detach(right)

	if left.NextPageId() == 0 {
		t.Fatal("left.next should point somewhere after split")
	}
	if right.PrevPageId() != left.ID() && right.ID() != left.NextPageId() {
		// a 1->3 split may insert a dedicated middle page; just check the
		// chain is internally consistent from left's perspective.
		t.Fatalf("split did not rethread correctly: left.next=%d right.id=%d", left.NextPageId(), right.ID())
	}
	if left.AreaCount()+right.AreaCount() == 0 {
		t.Fatal("split should not lose all areas")
	}
}

func TestSplitThreeWayDedicatesMiddleAndFillsRight(t *testing.T) {
	f := openTestFile(t)
	left, err := f.AllocatePage()
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}

	// Fill the page with several small areas so there is something for the
	// 1->3 branch to redistribute between left and right.
	i := 0
	for {
		key := EncodeKey(string(rune('a' + (i % 26))))
		if !left.IsInsertArea(key, 6) {
			break
		}
		if _, err := left.Insert(key, 6); err != nil {
			break
		}
		i++
	}
	areasBefore := left.AreaCount()
	if areasBefore == 0 {
		t.Fatal("setup should have inserted at least one area")
	}

	big := f.MaxAreaUnitSize()/2 + 1
	mid, err := f.Split(left, EncodeKey("zzz"), big)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	defer f.Detach(left)
	defer f.Detach(mid)

	if mid.AreaCount() != 0 {
		t.Fatalf("dedicated middle page should start empty, got %d areas", mid.AreaCount())
	}
	if left.NextPageId() != mid.ID() {
		t.Fatalf("left.next = %d, want mid.id = %d", left.NextPageId(), mid.ID())
	}
	rightID := mid.NextPageId()
	if rightID == 0 {
		t.Fatal("mid.next should point at right")
	}
	right, err := f.Attach(rightID)
	if err != nil {
		t.Fatalf("attach right: %v", err)
	}
	defer f.Detach(right)

	if right.AreaCount() == 0 {
		t.Fatal("right should have received areas moved from left, not be left empty")
	}
	if left.AreaCount()+right.AreaCount() != areasBefore {
		t.Fatalf("areas lost across split: left=%d right=%d, want total %d", left.AreaCount(), right.AreaCount(), areasBefore)
	}
	if right.PrevPageId() != mid.ID() {
		t.Fatalf("right.prev = %d, want mid.id = %d", right.PrevPageId(), mid.ID())
	}
}

func string16(u []uint16) string {
	r := make([]rune, len(u))
	for i, c := range u {
		r[i] = rune(c)
	}
	return string(r)
}
