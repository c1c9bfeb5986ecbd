package postlist

import (
	"github.com/go-mizu/invfts/internal/bitcodec"
	"github.com/go-mizu/invfts/internal/leaf"
)

// defaultRegularGrowWords is the growth step used when a List was built
// without an explicit RegularGrowWords (e.g. by a test constructing one
// directly), falling back to the same figure spec.md §6.3 documents as
// FullText2_BatchListRegularUnitSize's default.
const defaultRegularGrowWords = 1024

// regularGrowWords is the step expandArea grows a Short/Batch Area by when
// its current payload cannot hold a new posting, driven by the list's
// configured RegularGrowWords (FullText2_BatchListRegularUnitSize, spec.md
// §6.3) rather than a hardcoded figure; the same growth step is reused for
// Short lists, not only Batch ones, absent a configured override.
func (l *List) regularGrowWords() int {
	if l.RegularGrowWords > 0 {
		return l.RegularGrowWords
	}
	return defaultRegularGrowWords
}

// insertShort implements spec.md §4.4's Short/Batch insert policy: the
// doc-id stream grows from the Area's tail backward, the position/frequency
// stream grows from its head forward, and they must never meet.
func (l *List) insertShort(docId uint32, positions []uint32) (Result, error) {
	a := l.area()
	for {
		payload := a.Payload()
		totalBits := len(payload) * 32
		docOff := int(a.DocumentOffset())
		locOff := int(a.LocationOffset())

		if a.DocumentCount() == 0 {
			need := EntryBits(l.Cfg, positions)
			if need <= totalBits-locOff {
				off := locOff
				WriteEntry(payload, &off, l.Cfg, positions)
				a.SetFirstDocumentId(docId)
				a.SetLastDocumentId(docId)
				a.SetDocumentCount(1)
				a.SetLocationOffset(uint32(off))
				a.MarkDirty()
				return Inserted, nil
			}
			if grew, err := l.expandShort(need - (totalBits - locOff)); err != nil {
				return 0, err
			} else if !grew {
				return NeedsConvert, nil
			}
			continue
		}

		gap := bitcodec.Gap(a.LastDocumentId(), docId)
		idWidth := bitcodec.IDCoder.BitsFor(gap)
		posBits := EntryBits(l.Cfg, positions)
		avail := docOff - locOff
		if idWidth+posBits <= avail {
			newDocOff := docOff
			bitcodec.IDCoder.AppendBack(payload, &newDocOff, gap)
			newLocOff := locOff
			WriteEntry(payload, &newLocOff, l.Cfg, positions)
			a.SetDocumentOffset(uint32(newDocOff))
			a.SetLocationOffset(uint32(newLocOff))
			a.SetLastDocumentId(docId)
			a.SetDocumentCount(a.DocumentCount() + 1)
			a.MarkDirty()
			return Inserted, nil
		}
		if grew, err := l.expandShort(idWidth + posBits - avail); err != nil {
			return 0, err
		} else if !grew {
			return NeedsConvert, nil
		}
	}
}

// expandShort grows the Area by enough words to cover shortfallBits (at
// least regularGrowWords, but never past the list's
// LeafFile.MaxAreaUnitSize()), shifting the backward doc-id stream to the new
// tail so the two streams keep growing from opposite ends of the (larger)
// buffer. Returns false, not an error, when the room left under that cap
// cannot cover shortfallBits: the caller must promote to Middle.
func (l *List) expandShort(shortfallBits int) (bool, error) {
	a := l.area()
	maxUnitSize := l.LeafFile.MaxAreaUnitSize()
	extraWords := (shortfallBits + 31) / 32
	if grow := l.regularGrowWords(); extraWords < grow {
		extraWords = grow
	}
	if a.UnitSize()+extraWords > maxUnitSize {
		extraWords = maxUnitSize - a.UnitSize()
		if extraWords*32 < shortfallBits {
			return false, nil
		}
	}
	oldTotalBits := len(a.Payload()) * 32
	oldDocOff := int(a.DocumentOffset())
	usedDocBits := oldTotalBits - oldDocOff

	if err := l.growArea(extraWords); err != nil {
		return false, err
	}
	a = l.area()
	newTotalBits := len(a.Payload()) * 32
	if usedDocBits > 0 {
		bitcodec.MoveBack(a.Payload(), newTotalBits, oldTotalBits, usedDocBits)
	}
	a.SetDocumentOffset(uint32(newTotalBits - usedDocBits))
	a.MarkDirty()
	return true, nil
}

// shortEntry is one decoded posting from a Short/Batch list, used by
// convertShortToMiddle and by the Iterator's decodeShortEntries.
type shortEntry struct {
	docId     uint32
	freq      int
	positions []uint32
}

// decodeShort decodes every posting currently stored in a Short/Batch Area,
// in doc-id order.
func decodeShort(a *leaf.Area, cfg ListConfig) []shortEntry {
	count := int(a.DocumentCount())
	if count == 0 {
		return nil
	}
	payload := a.Payload()
	totalBits := len(payload) * 32
	out := make([]shortEntry, 0, count)

	locOff := 0
	freq0, pos0, _ := ReadEntry(payload, totalBits, &locOff, cfg)
	out = append(out, shortEntry{docId: a.FirstDocumentId(), freq: freq0, positions: pos0})

	docOff := totalBits
	prevId := a.FirstDocumentId()
	for i := 1; i < count; i++ {
		gap, ok := bitcodec.IDCoder.GetBack(payload, &docOff)
		if !ok {
			break
		}
		curId := bitcodec.Ungap(prevId, gap)
		freq, pos, ok := ReadEntry(payload, totalBits, &locOff, cfg)
		if !ok {
			break
		}
		out = append(out, shortEntry{docId: curId, freq: freq, positions: pos})
		prevId = curId
	}
	return out
}

// convertShortToMiddle promotes the list from Short/Batch to Middle,
// replaying its decoded postings through insertMiddle one at a time
// (spec.md §4.4 "convert"; §9's testable property 3, conversion
// transparency: the observable result of a subsequent insert must not
// depend on which variant handled the earlier ones).
func (l *List) convertShortToMiddle() error {
	a := l.area()
	key := a.Key()
	entries := decodeShort(a, l.Cfg)

	const initialDirCapacity = 4
	newPayloadWords := midHeaderWords + initialDirCapacity*dirBlockWords + 2 + l.IDUnit
	delta := newPayloadWords - len(a.Payload())
	if delta > 0 {
		if err := l.growArea(delta); err != nil {
			return err
		}
	} else if delta < 0 {
		l.Page.ChangeAreaSize(l.Iter, delta)
	}
	a = l.area()
	for i := range a.Payload() {
		a.Payload()[i] = 0
	}
	a.SetTypeAndSize(leaf.Middle, a.UnitSize())
	a.SetDocumentCount(0)
	a.SetLastDocumentId(0)
	a.SetFirstDocumentId(0)
	a.SetDocumentOffset(0)
	a.SetLocationOffset(0)
	setDirCapacity(a, initialDirCapacity)
	a.MarkDirty()

	if err := l.relocateArea(key); err != nil {
		return err
	}
	for _, e := range entries {
		res, err := l.insertMiddle(e.docId, replayPositions(e.freq, e.positions))
		if err != nil {
			return err
		}
		if res == NeedsConvert {
			return errorNeedsConvert(e.docId)
		}
	}
	return nil
}
