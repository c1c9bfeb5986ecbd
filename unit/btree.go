package unit

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"
	"sort"

	"github.com/pkg/errors"

	"github.com/go-mizu/invfts/internal/leaf"
)

// btree stands in for the host's B-tree collaborator (spec.md §1 treats the
// term → leafPageId map as an external component; §4.6 only specifies the
// four operations a unit calls through it). It keeps its whole key set
// resident and sorted in memory and rewrites the backing file wholesale on
// Flush, which is adequate for a reference implementation of the unit
// container but is not how a production B-tree driver would persist
// incrementally - see DESIGN.md's justification for this simplification.
type btree struct {
	path    string
	entries []btreeEntry
	dirty   bool
}

type btreeEntry struct {
	key    []uint16
	pageID uint32
}

func openBtree(path string) (*btree, error) {
	b := &btree{path: path}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return b, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "unit: open btree %s", path)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	for {
		var keyLen uint32
		if err := binary.Read(r, binary.LittleEndian, &keyLen); err != nil {
			if err == io.EOF {
				break
			}
			return nil, errors.Wrap(err, "unit: read btree entry")
		}
		key := make([]uint16, keyLen)
		for i := range key {
			if err := binary.Read(r, binary.LittleEndian, &key[i]); err != nil {
				return nil, errors.Wrap(err, "unit: read btree key")
			}
		}
		var pageID uint32
		if err := binary.Read(r, binary.LittleEndian, &pageID); err != nil {
			return nil, errors.Wrap(err, "unit: read btree pageId")
		}
		b.entries = append(b.entries, btreeEntry{key: key, pageID: pageID})
	}
	return b, nil
}

func (b *btree) find(key []uint16) int {
	return sort.Search(len(b.entries), func(i int) bool {
		return leaf.CompareKeyUnsigned(b.entries[i].key, key) >= 0
	})
}

// search returns the leaf page id stored for key.
func (b *btree) search(key []uint16) (uint32, bool) {
	i := b.find(key)
	if i < len(b.entries) && leaf.CompareKeyUnsigned(b.entries[i].key, key) == 0 {
		return b.entries[i].pageID, true
	}
	return 0, false
}

// insert adds key -> pageId, failing if key is already present (callers use
// update for that case, matching the btree's usual single-definition
// invariant).
func (b *btree) insert(key []uint16, pageID uint32) error {
	i := b.find(key)
	if i < len(b.entries) && leaf.CompareKeyUnsigned(b.entries[i].key, key) == 0 {
		return errors.Errorf("unit: btree key already present")
	}
	b.entries = append(b.entries, btreeEntry{})
	copy(b.entries[i+1:], b.entries[i:])
	b.entries[i] = btreeEntry{key: append([]uint16(nil), key...), pageID: pageID}
	b.dirty = true
	return nil
}

// update overwrites the pageId stored for an existing key.
func (b *btree) update(key []uint16, pageID uint32) error {
	i := b.find(key)
	if i >= len(b.entries) || leaf.CompareKeyUnsigned(b.entries[i].key, key) != 0 {
		return errors.Errorf("unit: btree key not found")
	}
	b.entries[i].pageID = pageID
	b.dirty = true
	return nil
}

// expunge removes key, a no-op if absent.
func (b *btree) expunge(key []uint16) {
	i := b.find(key)
	if i < len(b.entries) && leaf.CompareKeyUnsigned(b.entries[i].key, key) == 0 {
		b.entries = append(b.entries[:i], b.entries[i+1:]...)
		b.dirty = true
	}
}

// lowerBound returns the first entry with key >= the given key.
func (b *btree) lowerBound(key []uint16) (btreeEntry, bool) {
	i := b.find(key)
	if i < len(b.entries) {
		return b.entries[i], true
	}
	return btreeEntry{}, false
}

// all returns every entry in key order, used by verifyBtree's reverse walk.
func (b *btree) all() []btreeEntry { return b.entries }

func (b *btree) flush() error {
	if !b.dirty {
		return nil
	}
	f, err := os.Create(b.path)
	if err != nil {
		return errors.Wrapf(err, "unit: create btree %s", b.path)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	for _, e := range b.entries {
		if err := binary.Write(w, binary.LittleEndian, uint32(len(e.key))); err != nil {
			return errors.Wrap(err, "unit: write btree entry")
		}
		for _, c := range e.key {
			if err := binary.Write(w, binary.LittleEndian, c); err != nil {
				return errors.Wrap(err, "unit: write btree key")
			}
		}
		if err := binary.Write(w, binary.LittleEndian, e.pageID); err != nil {
			return errors.Wrap(err, "unit: write btree pageId")
		}
	}
	if err := w.Flush(); err != nil {
		return errors.Wrap(err, "unit: flush btree")
	}
	b.dirty = false
	return nil
}
