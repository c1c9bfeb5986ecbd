// Package leaf implements the leaf file: fixed-size pages holding a
// key-ordered array of Areas, one Area per posting list header. Payload
// bytes inside an Area (the bit-packed doc-id/position streams, or the DIR
// blocks and last IDBlock of a Middle/Long list) belong to internal/postlist;
// this package only owns the Area's fixed fields, its key, and the page
// layout and maintenance operations (search, insert, split, reduce).
package leaf

import (
	"encoding/binary"
	"fmt"
)

// ListType is the tagged-union discriminant packed into an Area header's
// top two bits, replacing the source's deep inheritance hierarchy with one
// dispatch point per operation.
type ListType uint8

const (
	Short ListType = iota
	Middle
	Long
	Batch
)

func (t ListType) String() string {
	switch t {
	case Short:
		return "short"
	case Middle:
		return "middle"
	case Long:
		return "long"
	case Batch:
		return "batch"
	default:
		return fmt.Sprintf("listtype(%d)", uint8(t))
	}
}

const (
	listTypeShift = 30
	unitSizeMask  = (uint32(1) << listTypeShift) - 1

	// fixedHeaderWords is the word count of an Area's fixed fields:
	// header, documentCount, lastDocumentId, documentOffset,
	// locationOffset/lastLocationPageId, firstDocumentId (union).
	fixedHeaderWords = 6
)

// Area is a thin, mutable view over one posting-list header living inside a
// Page's word buffer at a fixed word offset. It owns no storage of its own;
// all reads/writes go straight through to the page's backing buffer, so two
// Area values referring to the same (page, offset) observe each other's
// writes.
type Area struct {
	page    *Page
	wordOff int
}

func newArea(p *Page, wordOff int) *Area {
	return &Area{page: p, wordOff: wordOff}
}

func (a *Area) words() []uint32 { return a.page.pp.Words() }

// MarkDirty flags the owning page as modified, for callers (internal/postlist)
// that write directly into Payload() without going through a Set* accessor.
func (a *Area) MarkDirty() { a.page.pp.MarkDirty() }

// ListType returns the Area's tagged-union discriminant.
func (a *Area) ListType() ListType {
	return ListType(a.words()[a.wordOff] >> listTypeShift)
}

// UnitSize returns the Area's total size in 32-bit words, including its
// fixed header, key, and payload.
func (a *Area) UnitSize() int {
	return int(a.words()[a.wordOff] & unitSizeMask)
}

// SetTypeAndSize overwrites the Area's tagged-union discriminant and total
// word size, used by internal/postlist when converting a list from one
// variant to another (the unitSize must already account for the new
// payload's word count).
func (a *Area) SetTypeAndSize(lt ListType, unitSize int) { a.setHeader(lt, unitSize) }

func (a *Area) setHeader(lt ListType, unitSize int) {
	a.words()[a.wordOff] = (uint32(lt) << listTypeShift) | (uint32(unitSize) & unitSizeMask)
	a.page.pp.MarkDirty()
}

// DocumentCount returns the number of postings recorded in this Area.
func (a *Area) DocumentCount() uint32 { return a.words()[a.wordOff+1] }

func (a *Area) SetDocumentCount(n uint32) {
	a.words()[a.wordOff+1] = n
	a.page.pp.MarkDirty()
}

// LastDocumentId returns the highest document id inserted into the list.
func (a *Area) LastDocumentId() uint32 { return a.words()[a.wordOff+2] }

func (a *Area) SetLastDocumentId(id uint32) {
	a.words()[a.wordOff+2] = id
	a.page.pp.MarkDirty()
}

// DocumentOffset is the bit offset into the doc-id stream at which the next
// write/read continues.
func (a *Area) DocumentOffset() uint32 { return a.words()[a.wordOff+3] }

func (a *Area) SetDocumentOffset(off uint32) {
	a.words()[a.wordOff+3] = off
	a.page.pp.MarkDirty()
}

// LocationOffset is the bit offset into the position stream, valid for
// Short/Batch lists. Middle/Long lists instead use LastLocationPageId at
// the same word (the union spec.md §3 describes).
func (a *Area) LocationOffset() uint32 { return a.words()[a.wordOff+4] }

func (a *Area) SetLocationOffset(off uint32) {
	a.words()[a.wordOff+4] = off
	a.page.pp.MarkDirty()
}

// LastLocationPageId is the overflow page id holding the list's last
// LOCBlock, valid for Middle/Long lists (union with LocationOffset).
func (a *Area) LastLocationPageId() uint32 { return a.words()[a.wordOff+4] }

func (a *Area) SetLastLocationPageId(id uint32) {
	a.words()[a.wordOff+4] = id
	a.page.pp.MarkDirty()
}

// FirstDocumentId is the plaintext first doc-id, valid for Short/Batch
// lists. Middle/Long lists union this word with overflow bookkeeping they
// do not need at the Area level.
func (a *Area) FirstDocumentId() uint32 { return a.words()[a.wordOff+5] }

func (a *Area) SetFirstDocumentId(id uint32) {
	a.words()[a.wordOff+5] = id
	a.page.pp.MarkDirty()
}

// IsEmpty reports whether the list has never received a posting, per
// spec.md §3's Area invariant.
func (a *Area) IsEmpty() bool {
	return a.DocumentCount() == 0 && a.FirstDocumentId() == 0 && a.LastDocumentId() == 0
}

// keyByteOff is the byte offset, within the page buffer, of this Area's
// keyLength field.
func (a *Area) keyByteOff() int { return (a.wordOff + fixedHeaderWords) * 4 }

// KeyLength returns the key's length in UTF-16 code units.
func (a *Area) KeyLength() int {
	b := a.page.pp.Bytes()
	off := a.keyByteOff()
	return int(binary.LittleEndian.Uint16(b[off : off+2]))
}

// Key returns a copy of the Area's key as raw UTF-16 code units (surrogate
// pairs are not combined, matching the NO-PAD unsigned-UTF-16 comparison
// policy, which compares code units, not decoded runes).
func (a *Area) Key() []uint16 {
	n := a.KeyLength()
	b := a.page.pp.Bytes()
	off := a.keyByteOff() + 2
	out := make([]uint16, n)
	for i := 0; i < n; i++ {
		out[i] = binary.LittleEndian.Uint16(b[off+2*i : off+2*i+2])
	}
	return out
}

func (a *Area) setKey(key []uint16) {
	b := a.page.pp.Bytes()
	off := a.keyByteOff()
	binary.LittleEndian.PutUint16(b[off:off+2], uint16(len(key)))
	off += 2
	for i, c := range key {
		binary.LittleEndian.PutUint16(b[off+2*i:off+2*i+2], c)
	}
	a.page.pp.MarkDirty()
}

// keyUnits returns the word count consumed by keyLength + key, rounded up
// to a whole word.
func keyUnits(keyLen int) int {
	bytes := 2 + 2*keyLen
	return (bytes + 3) / 4
}

// payloadWordOff is the word offset of this Area's payload region, right
// after the fixed header and key.
func (a *Area) payloadWordOff() int {
	return a.wordOff + fixedHeaderWords + keyUnits(a.KeyLength())
}

// Payload returns the Area's payload words: the Short/Batch dual bit
// streams, or the Middle/Long DIR-block array plus last IDBlock.
func (a *Area) Payload() []uint32 {
	start := a.payloadWordOff()
	end := a.wordOff + a.UnitSize()
	return a.words()[start:end]
}

// CompareKeyUnsigned implements the NO-PAD unsigned UTF-16 ordering
// spec.md §4.2 requires: shorter keys that are a prefix of a longer one
// sort first, with no trailing-space tolerance.
func CompareKeyUnsigned(a, b []uint16) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// EncodeKey widens a Go string into the UTF-16 code-unit sequence Areas key
// on. Callers supplying ASCII/BMP terms get the expected one-rune-per-unit
// mapping.
func EncodeKey(s string) []uint16 {
	out := make([]uint16, 0, len(s))
	for _, r := range s {
		if r <= 0xFFFF {
			out = append(out, uint16(r))
			continue
		}
		r -= 0x10000
		out = append(out, uint16(0xD800+(r>>10)), uint16(0xDC00+(r&0x3FF)))
	}
	return out
}

// AreaUnitSize computes the total word count an Area with the given key
// and payload size would occupy.
func AreaUnitSize(key []uint16, payloadWords int) int {
	return fixedHeaderWords + keyUnits(len(key)) + payloadWords
}
