//go:build !windows

// File: internal/pagestore/mmap_unix.go
package pagestore

import (
	"os"

	"github.com/edsrzf/mmap-go"
)

// mmapRegion memory-maps the whole file read-only. Used to serve Attach for
// pages that are not dirty and not already cached: a single mmap covering
// the file lets clean-page reads skip a read(2) syscall entirely, the same
// trade the local storage driver makes for reads at or above its mmap
// threshold.
//
// The mapping is invalidated and re-established on every Flush, since Flush
// is the only point at which the file can grow or a previously-dirty page
// becomes clean again.
type mmapRegion struct {
	data mmap.MMap
}

func newMmapRegion(f *os.File, size int64) (*mmapRegion, error) {
	if size == 0 {
		return &mmapRegion{}, nil
	}
	m, err := mmap.MapRegion(f, int(size), mmap.RDONLY, 0, 0)
	if err != nil {
		return nil, err
	}
	return &mmapRegion{data: m}, nil
}

func (r *mmapRegion) readPage(offset, length int64) ([]byte, bool) {
	if r == nil || r.data == nil {
		return nil, false
	}
	if offset < 0 || offset+length > int64(len(r.data)) {
		return nil, false
	}
	out := make([]byte, length)
	copy(out, r.data[offset:offset+length])
	return out, true
}

func (r *mmapRegion) close() error {
	if r == nil || r.data == nil {
		return nil
	}
	return r.data.Unmap()
}

func mmapSupported() bool { return true }
