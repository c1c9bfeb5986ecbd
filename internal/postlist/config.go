// Package postlist implements the posting-list family (spec.md §4.4, C5)
// and the inverted iterator (spec.md §4.5, C6): the tagged union
// {Short, Middle, Long, Batch} of list bodies that map one term's Area to
// its compressed (documentId, termFrequency, positionList) sequence, and
// the decoding cursor that reads it back.
//
// Per spec.md §9's redesign note, the source's deep inheritance hierarchy
// (InvertedList -> Short/Middle/Batch x with/without positions x with/
// without TF) is replaced by one tagged union dispatched on leaf.ListType,
// combined with a ListConfig carrying the two payload-mode booleans. The
// per-mode differences sit in one set of entry codecs (WriteEntry,
// ReadEntry, SkipEntry in entry.go), each branching on the ListConfig.
package postlist

import "github.com/go-mizu/invfts/internal/leaf"

// ListConfig carries the two payload-mode flags spec.md §3/§4.4 describes:
// NoTF implies NoLocation (a no-TF list never stores positions either; TF
// reads back as the constant 1, per spec.md §3's "no-TF, no-position"
// mode), NoLocation alone keeps term frequency but drops the position list.
type ListConfig struct {
	NoLocation bool
	NoTF       bool
}

// IsNoLocation reports whether this config's lists omit position lists.
func (c ListConfig) IsNoLocation() bool { return c.NoLocation || c.NoTF }

// IsNoTF reports whether this config's lists omit term frequency (and
// therefore positions too).
func (c ListConfig) IsNoTF() bool { return c.NoTF }

// Result is the insert/convert boundary's explicit outcome, replacing the
// source's overloaded "CapacityExceeded" exception per spec.md §9: Inserted
// means the posting was written; NeedsConvert means the caller must call
// Convert and retry, never that anything was partially written.
type Result int

const (
	Inserted Result = iota
	NeedsConvert
)

// idBlockUnitDefault and locBlockUnitDefault size new Middle/Long overflow
// blocks when a caller does not configure Inverted_IDBlockUnitSize /
// its LOC analogue explicitly (config package owns the real defaults;
// these exist so postlist's unit tests do not need the config package).
const (
	idBlockUnitDefault  = 16
	locBlockUnitDefault = 16
)

// dirBlockWords is the word size of one DIR-block entry inside a Middle/
// Long Area body: firstDocumentId, idPageId, expungedFlag-and-slot.
const dirBlockWords = 3

// ListType re-exports leaf.ListType so callers of this package do not need
// to import internal/leaf just to name a variant.
type ListType = leaf.ListType

const (
	Short  = leaf.Short
	Middle = leaf.Middle
	Long   = leaf.Long
	Batch  = leaf.Batch
)
