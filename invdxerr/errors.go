// Package invdxerr defines the error kinds signalled by the inverted-index
// core, per the propagation policy: CapacityExceeded never leaves the list
// manager, verify-class errors flow through a progress sink, everything
// else propagates unchanged.
package invdxerr

import "errors"

// Sentinel kinds. Wrap with fmt.Errorf("...: %w", Kind) at the point of
// detection and compare with errors.Is.
var (
	// CapacityExceeded is internal and non-fatal: an insert could not fit
	// in the current list variant. No code in this module returns it:
	// internal/postlist reports that case as its NeedsConvert result,
	// which callers handle with Convert and a retry.
	CapacityExceeded = errors.New("invdx: capacity exceeded")

	// IllegalIndex: verify found a term in a leaf not referenced from the
	// B-tree, or vice versa.
	IllegalIndex = errors.New("invdx: illegal index")

	// IllegalListCount: verify found a posting count mismatch.
	IllegalListCount = errors.New("invdx: illegal list count")

	// Cancelled: cooperative cancellation requested via an isCancel probe.
	Cancelled = errors.New("invdx: cancelled")

	// StorageError: an unrecoverable buffer-pool or B-tree error.
	StorageError = errors.New("invdx: storage error")

	// Unavailable is set on the database lock-name when recovery fails
	// inside an error handler. The host marks the database read-only.
	Unavailable = errors.New("invdx: database unavailable")

	// VerifyAborted is returned by Unit.EndVerification when treatment ==
	// Abort and an IllegalIndex/IllegalListCount was reported.
	VerifyAborted = errors.New("invdx: verification aborted")
)

// Treatment controls how a verify-class error is handled once reported
// through the progress sink.
type Treatment uint8

const (
	// Continue logs the finding and keeps scanning.
	Continue Treatment = iota
	// Abort makes EndVerification return VerifyAborted once any finding
	// was reported; the VerifyBtree scan itself still visits every term.
	Abort
	// MarkUnavailable makes EndVerification set Unavailable on the unit
	// (and return it) once any finding was reported; the VerifyBtree scan
	// itself still visits every term.
	MarkUnavailable
)

// VerifyFinding describes one problem found during verification, reported
// through a Progress sink (see package verify).
type VerifyFinding struct {
	Kind error  // IllegalIndex or IllegalListCount
	Key  string // offending term, if any
	Page uint32 // offending page id, 0 if not page-scoped
	Detail string
}
