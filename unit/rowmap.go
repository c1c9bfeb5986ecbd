package unit

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"

	"github.com/pkg/errors"
)

// rowMap is the append-only Row-ID <-> Document-ID map spec.md §4.6 names
// (`convertToRowID`/`convertToDocumentID`) and §5 places under the same
// per-unit critical section as pendingIdBlockDeletes. Document ids are
// assigned densely starting at 1 in insertion order; row ids are whatever
// the host's record file uses (spec treats the row file as an external
// collaborator, so rowMap only stores the opaque uint64 it was given).
type rowMap struct {
	path  string
	byDoc []uint64 // index 0 unused, byDoc[docId] = rowId
	byRow map[uint64]uint32
	dirty int // entries appended since last flush
}

func openRowMap(path string) (*rowMap, error) {
	m := &rowMap{path: path, byDoc: []uint64{0}, byRow: make(map[uint64]uint32)}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return m, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "unit: open rowmap %s", path)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	for {
		var rowID uint64
		if err := binary.Read(r, binary.LittleEndian, &rowID); err != nil {
			if err == io.EOF {
				break
			}
			return nil, errors.Wrap(err, "unit: read rowmap entry")
		}
		docID := uint32(len(m.byDoc))
		m.byDoc = append(m.byDoc, rowID)
		m.byRow[rowID] = docID
	}
	return m, nil
}

// assign appends a new docId for rowID, or returns the existing one if
// rowID was already recorded (insert is idempotent per row).
func (m *rowMap) assign(rowID uint64) uint32 {
	if docID, ok := m.byRow[rowID]; ok {
		return docID
	}
	docID := uint32(len(m.byDoc))
	m.byDoc = append(m.byDoc, rowID)
	m.byRow[rowID] = docID
	m.dirty++
	return docID
}

// convertToRowID implements Unit.ConvertToRowID.
func (m *rowMap) convertToRowID(docID uint32) (uint64, bool) {
	if int(docID) <= 0 || int(docID) >= len(m.byDoc) {
		return 0, false
	}
	return m.byDoc[docID], true
}

// convertToDocumentID implements Unit.ConvertToDocumentID.
func (m *rowMap) convertToDocumentID(rowID uint64) (uint32, bool) {
	docID, ok := m.byRow[rowID]
	return docID, ok
}

func (m *rowMap) lastDocumentID() uint32 {
	if len(m.byDoc) == 0 {
		return 0
	}
	return uint32(len(m.byDoc) - 1)
}

// flush appends only the entries written since the last flush, matching
// the map's append-only contract (§5: "append-only within one transaction
// and discarded on commit/abort" governs firstIdRewriteLog; rowMap itself
// is append-only for its whole lifetime).
func (m *rowMap) flush() error {
	if m.dirty == 0 {
		return nil
	}
	f, err := os.OpenFile(m.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrapf(err, "unit: open rowmap %s for append", m.path)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	start := len(m.byDoc) - m.dirty
	for i := start; i < len(m.byDoc); i++ {
		if err := binary.Write(w, binary.LittleEndian, m.byDoc[i]); err != nil {
			return errors.Wrap(err, "unit: write rowmap entry")
		}
	}
	if err := w.Flush(); err != nil {
		return errors.Wrap(err, "unit: flush rowmap")
	}
	m.dirty = 0
	return nil
}
