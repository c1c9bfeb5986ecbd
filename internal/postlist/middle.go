package postlist

import (
	"fmt"

	"github.com/go-mizu/invfts/internal/bitcodec"
	"github.com/go-mizu/invfts/internal/leaf"
	"github.com/go-mizu/invfts/internal/overflow"
	"github.com/go-mizu/invfts/internal/pagestore"
)

// Middle/Long Area payload layout (spec.md §3's Area body: "DIR blocks ...
// plus the last IDBlock"). All earlier IDBlocks and every LOCBlock live on
// overflow pages; only the single currently-open ("last") IDBlock and the
// DIR index over the sealed ones live inline.
//
//	word 0: dirCount       - number of sealed (overflow) IDBlocks indexed below
//	word 1: dirCapacity    - reserved DIR slots (grown dirGrowStep at a time)
//	word 2: locPageId      - overflow page currently accepting position writes
//	word 3: locSlot        - LOCBlock slot on that page
//	word 4: locHeadPageId  - overflow page of the chain's first LOCBlock
//	word 5: locHeadSlot    - LOCBlock slot of the chain's first block
//	[6, 6+dirCapacity*dirBlockWords): DIR array, 3 words/entry:
//	    firstDocId, idPageId, slotWord (low 16 bits = slot, bit16 = expunged)
//	then the inline current IDBlock: firstDocId, bitsUsed, then IDUnit words
//	    of bit-packed gap data.
const (
	midDirCountOff    = 0
	midDirCapOff      = 1
	midLocPageOff     = 2
	midLocSlotOff     = 3
	midLocHeadPageOff = 4
	midLocHeadSlotOff = 5
	midHeaderWords    = 6

	dirExpungedBit = 1 << 16
	dirSlotMask    = 0xFFFF

	dirGrowStep = 8
)

func errorNeedsConvert(docId uint32) error {
	return fmt.Errorf("postlist: doc %d needs convert but list has no further promotion", docId)
}

func dirCount(a *leaf.Area) int    { return int(a.Payload()[midDirCountOff]) }
func setDirCount(a *leaf.Area, n int) {
	a.Payload()[midDirCountOff] = uint32(n)
	a.MarkDirty()
}
func dirCapacity(a *leaf.Area) int { return int(a.Payload()[midDirCapOff]) }
func setDirCapacity(a *leaf.Area, n int) {
	a.Payload()[midDirCapOff] = uint32(n)
	a.MarkDirty()
}
func locPageID(a *leaf.Area) pagestore.PageID { return pagestore.PageID(a.Payload()[midLocPageOff]) }
func setLocPageID(a *leaf.Area, id pagestore.PageID) {
	a.Payload()[midLocPageOff] = uint32(id)
	a.MarkDirty()
}
func locSlot(a *leaf.Area) int { return int(a.Payload()[midLocSlotOff]) }
func setLocSlot(a *leaf.Area, s int) {
	a.Payload()[midLocSlotOff] = uint32(s)
	a.MarkDirty()
}
func locHeadPageID(a *leaf.Area) pagestore.PageID {
	return pagestore.PageID(a.Payload()[midLocHeadPageOff])
}
func setLocHeadPageID(a *leaf.Area, id pagestore.PageID) {
	a.Payload()[midLocHeadPageOff] = uint32(id)
	a.MarkDirty()
}
func locHeadSlot(a *leaf.Area) int { return int(a.Payload()[midLocHeadSlotOff]) }
func setLocHeadSlot(a *leaf.Area, s int) {
	a.Payload()[midLocHeadSlotOff] = uint32(s)
	a.MarkDirty()
}

func dirEntryOff(i int) int { return midHeaderWords + i*dirBlockWords }

func dirFirstDoc(a *leaf.Area, i int) uint32 { return a.Payload()[dirEntryOff(i)] }
func dirIDPage(a *leaf.Area, i int) pagestore.PageID {
	return pagestore.PageID(a.Payload()[dirEntryOff(i)+1])
}
func dirSlot(a *leaf.Area, i int) int { return int(a.Payload()[dirEntryOff(i)+2]) & dirSlotMask }
func dirExpunged(a *leaf.Area, i int) bool {
	return a.Payload()[dirEntryOff(i)+2]&dirExpungedBit != 0
}
func setDirEntry(a *leaf.Area, i int, firstDoc uint32, idPage pagestore.PageID, slot int, expunged bool) {
	off := dirEntryOff(i)
	w := uint32(slot) & dirSlotMask
	if expunged {
		w |= dirExpungedBit
	}
	p := a.Payload()
	p[off] = firstDoc
	p[off+1] = uint32(idPage)
	p[off+2] = w
	a.MarkDirty()
}
func setDirExpunged(a *leaf.Area, i int, v bool) {
	off := dirEntryOff(i) + 2
	w := a.Payload()[off] &^ dirExpungedBit
	if v {
		w |= dirExpungedBit
	}
	a.Payload()[off] = w
	a.MarkDirty()
}

func idBlockBase(a *leaf.Area) int { return midHeaderWords + dirCapacity(a)*dirBlockWords }

func idBlockFirstDoc(a *leaf.Area) uint32 { return a.Payload()[idBlockBase(a)] }
func setIdBlockFirstDoc(a *leaf.Area, id uint32) {
	a.Payload()[idBlockBase(a)] = id
	a.MarkDirty()
}
func idBlockBitsUsed(a *leaf.Area) int { return int(a.Payload()[idBlockBase(a)+1]) }
func setIdBlockBitsUsed(a *leaf.Area, n int) {
	a.Payload()[idBlockBase(a)+1] = uint32(n)
	a.MarkDirty()
}
func idBlockData(a *leaf.Area, idUnit int) []uint32 {
	base := idBlockBase(a) + 2
	return a.Payload()[base : base+idUnit]
}

// insertMiddle implements spec.md §4.4's Middle/Long insert policy.
func (l *List) insertMiddle(docId uint32, positions []uint32) (Result, error) {
	a := l.area()

	if a.DocumentCount() == 0 {
		setIdBlockFirstDoc(a, docId)
		setIdBlockBitsUsed(a, 0)
	} else {
		gap := bitcodec.Gap(a.LastDocumentId(), docId)
		width := bitcodec.IDCoder.BitsFor(gap)
		cap := l.IDUnit * 32
		bitsUsed := idBlockBitsUsed(a)
		if bitsUsed+width > cap {
			if err := l.sealIDBlock(); err != nil {
				return 0, err
			}
			a = l.area()
			setIdBlockFirstDoc(a, docId)
			setIdBlockBitsUsed(a, 0)
		} else {
			data := idBlockData(a, l.IDUnit)
			off := bitsUsed
			bitcodec.IDCoder.Append(data, &off, gap)
			setIdBlockBitsUsed(a, off)
		}
	}

	if err := l.appendPositionEntry(positions); err != nil {
		return 0, err
	}

	a = l.area()
	a.SetDocumentCount(a.DocumentCount() + 1)
	a.SetLastDocumentId(docId)
	a.MarkDirty()
	return Inserted, nil
}

// sealIDBlock copies the Area's inline "current" IDBlock onto an overflow
// page, records it in the DIR array (growing the DIR array's reserved
// capacity first if needed), and leaves the inline block ready to start
// fresh for the next posting.
func (l *List) sealIDBlock() error {
	a := l.area()
	if dirCount(a) >= dirCapacity(a) {
		if err := l.growDirCapacity(); err != nil {
			return err
		}
		a = l.area()
	}

	page, slot, err := l.allocateIDBlockSlot()
	if err != nil {
		return err
	}
	blk := page.GetIDBlock(slot)
	blk.SetFirstDocumentId(idBlockFirstDoc(a))
	blk.SetBitsUsed(idBlockBitsUsed(a))
	blk.SetExpunged(false)
	copy(blk.Data(), idBlockData(a, l.IDUnit))
	blk.SetLocBlockPageId(locPageID(a))
	blk.SetLocBlockOffset(uint32(locSlot(a)))
	l.OvfFile.Detach(page)

	i := dirCount(a)
	setDirEntry(a, i, idBlockFirstDoc(a), page.ID(), slot, false)
	setDirCount(a, i+1)

	data := idBlockData(a, l.IDUnit)
	for i := range data {
		data[i] = 0
	}
	return nil
}

// allocateIDBlockSlot allocates a fresh KindID page for every sealed IDBlock
// and takes its first slot; existing pages with free slots are not reused.
func (l *List) allocateIDBlockSlot() (*overflow.Page, int, error) {
	page, err := l.OvfFile.NewPage(overflow.KindID)
	if err != nil {
		return nil, 0, err
	}
	_, slot, ok := page.AllocateIDBlock()
	if !ok {
		return nil, 0, fmt.Errorf("postlist: fresh ID page has no room")
	}
	return page, slot, nil
}

// growDirCapacity grows the DIR array's reserved slot count by
// dirGrowStep, shifting the inline IDBlock region to make room, the
// word-granular analogue of expandShort's bit-level stream shift.
func (l *List) growDirCapacity() error {
	a := l.area()
	oldBase := idBlockBase(a)
	blockWords := 2 + l.IDUnit
	extraWords := dirGrowStep * dirBlockWords

	if err := l.growArea(extraWords); err != nil {
		return err
	}
	a = l.area()
	newCap := dirCapacity(a) + dirGrowStep
	setDirCapacity(a, newCap)
	newBase := idBlockBase(a)

	tmp := make([]uint32, blockWords)
	copy(tmp, a.Payload()[oldBase:oldBase+blockWords])
	copy(a.Payload()[newBase:newBase+blockWords], tmp)
	for i := oldBase; i < oldBase+blockWords && i < newBase; i++ {
		a.Payload()[i] = 0
	}
	a.MarkDirty()
	return nil
}

// appendPositionEntry writes one posting's frequency/position payload to
// the list's single continuous LOCBlock chain, sealing the current LOCBlock
// and opening a new one when the entry would not fit whole within it
// (spec.md §4.4 step 1: "If the LOCBlock cannot hold the positions ...
// allocate a new LOCBlock"). Entries are never split across two LOCBlocks.
func (l *List) appendPositionEntry(positions []uint32) error {
	if l.Cfg.IsNoTF() {
		return nil // no-TF lists never write to the position stream at all.
	}
	a := l.area()
	need := EntryBits(l.Cfg, positions)
	cap := l.LocUnit * 32

	var page *overflow.Page
	var slot int
	var err error
	fresh := locPageID(a) == 0
	if !fresh {
		page, err = l.OvfFile.Attach(locPageID(a))
		if err != nil {
			return err
		}
		slot = locSlot(a)
	}

	if fresh || int(page.GetLocBlock(slot).DataBitLength())+need > cap {
		var prevPage *overflow.Page
		var prevSlot int
		if !fresh {
			prevPage, prevSlot = page, slot
		}
		newPage, newSlot, err := l.allocateLocBlockSlot()
		if err != nil {
			return err
		}
		if prevPage != nil {
			pb := prevPage.GetLocBlock(prevSlot)
			pb.SetContinue(true)
			pb.SetNextPageId(newPage.ID())
			pb.SetNextSlot(newSlot)
			l.OvfFile.Detach(prevPage)
		} else {
			setLocHeadPageID(a, newPage.ID())
			setLocHeadSlot(a, newSlot)
		}
		page, slot = newPage, newSlot
		setLocPageID(a, page.ID())
		setLocSlot(a, slot)
	}

	blk := page.GetLocBlock(slot)
	off := int(blk.DataBitLength())
	WriteEntry(blk.Data(), &off, l.Cfg, positions)
	blk.SetDataBitLength(uint32(off))
	l.OvfFile.Detach(page)
	return nil
}

func (l *List) allocateLocBlockSlot() (*overflow.Page, int, error) {
	page, err := l.OvfFile.NewPage(overflow.KindLOC)
	if err != nil {
		return nil, 0, err
	}
	_, slot, ok := page.AllocateLocBlock()
	if !ok {
		return nil, 0, fmt.Errorf("postlist: fresh LOC page has no room")
	}
	return page, slot, nil
}
