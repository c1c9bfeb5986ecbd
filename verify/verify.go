// Package verify implements the progress sink spec.md §4.6's
// startVerification/endVerification/verifyBtree trio threads through a
// unit's B-tree, leaf file, and overflow file.
package verify

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/go-mizu/invfts/invdxerr"
)

// Progress accumulates findings for one verification run and carries the
// cooperative-cancellation and dangling-key pre-check machinery the run
// needs end to end. One Progress is created per call to StartVerification
// and discarded (after EndVerification reads it) at the call's close.
type Progress struct {
	RunID     uuid.UUID
	Treatment invdxerr.Treatment

	mu       sync.Mutex
	findings []invdxerr.VerifyFinding
	checked  uint64
	seen     *bloom.BloomFilter // dangling-key accelerator, see MightBeDangling
	cancel   func() bool
}

// New starts a progress sink for a run expected to touch about
// expectedKeys distinct terms; the bloom filter sizes itself accordingly
// so the false-positive rate (S6's "over-report, never under-report")
// stays low without a fixed-size filter wasting memory on small units.
func New(treatment invdxerr.Treatment, expectedKeys uint, isCancel func() bool) *Progress {
	if expectedKeys == 0 {
		expectedKeys = 1024
	}
	if isCancel == nil {
		isCancel = func() bool { return false }
	}
	return &Progress{
		RunID:     uuid.New(),
		Treatment: treatment,
		seen:      bloom.NewWithEstimates(expectedKeys, 0.01),
		cancel:    isCancel,
	}
}

// Cancelled reports whether the host's isCancel probe has fired, per
// spec.md §4.6's cooperative-cancellation contract for long verify runs.
func (p *Progress) Cancelled() bool { return p.cancel() }

// Observe records that key was seen while walking the B-tree, so that
// MightBeDangling can later tell whether a leaf Area's key was ever
// observed.
func (p *Progress) Observe(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen.AddString(key)
	p.checked++
}

// MightBeDangling is the bloom-accelerated pre-check S6 calls for: before
// paying for an exact cross-structure lookup, ask the filter whether key
// was ever observed from the other side. Bloom filters never false-negative,
// so a true return is conclusive - key was definitely never observed, hence
// definitely dangling, no exact lookup needed. A false return means the
// filter believes key was observed; that still needs an exact lookup before
// ruling the key consistent, since the filter can false-positive on presence.
func (p *Progress) MightBeDangling(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.seen.TestString(key)
}

// Report records a finding and returns the Treatment the caller should
// apply (Continue/Abort/MarkUnavailable), per spec.md §7's verify-error
// propagation policy.
func (p *Progress) Report(f invdxerr.VerifyFinding) invdxerr.Treatment {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.findings = append(p.findings, f)
	return p.Treatment
}

// Findings returns every finding reported so far.
func (p *Progress) Findings() []invdxerr.VerifyFinding {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]invdxerr.VerifyFinding, len(p.findings))
	copy(out, p.findings)
	return out
}

// Checked returns how many terms have been observed via Observe.
func (p *Progress) Checked() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.checked
}

// PageChecksum returns the xxhash of a page's bytes. Unit.VerifyBtree puts
// it in the Detail text of its IllegalIndex findings as a page fingerprint;
// no checksum is stored in the pages to compare it against.
func PageChecksum(data []byte) uint64 {
	return xxhash.Sum64(data)
}
