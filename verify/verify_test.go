package verify

import (
	"testing"

	"github.com/go-mizu/invfts/invdxerr"
)

func TestProgressObserveAndDangling(t *testing.T) {
	p := New(invdxerr.Continue, 16, nil)

	if !p.MightBeDangling("cat") {
		t.Fatalf("unobserved key should be dangling")
	}
	p.Observe("cat")
	if p.MightBeDangling("cat") {
		t.Fatalf("observed key should not be dangling")
	}
	if p.Checked() != 1 {
		t.Fatalf("Checked() = %d, want 1", p.Checked())
	}
}

func TestProgressReportTracksTreatment(t *testing.T) {
	p := New(invdxerr.Abort, 0, nil)
	got := p.Report(invdxerr.VerifyFinding{Kind: invdxerr.IllegalIndex, Key: "dog", Page: 3})
	if got != invdxerr.Abort {
		t.Fatalf("Report returned %v, want Abort", got)
	}
	findings := p.Findings()
	if len(findings) != 1 || findings[0].Key != "dog" {
		t.Fatalf("Findings() = %v", findings)
	}
}

func TestProgressCancelled(t *testing.T) {
	cancelled := false
	p := New(invdxerr.Continue, 0, func() bool { return cancelled })
	if p.Cancelled() {
		t.Fatalf("expected not cancelled initially")
	}
	cancelled = true
	if !p.Cancelled() {
		t.Fatalf("expected cancelled after flag flip")
	}
}

func TestPageChecksumDeterministic(t *testing.T) {
	a := PageChecksum([]byte("hello"))
	b := PageChecksum([]byte("hello"))
	c := PageChecksum([]byte("world"))
	if a != b {
		t.Fatalf("PageChecksum not deterministic: %d != %d", a, b)
	}
	if a == c {
		t.Fatalf("PageChecksum collided for different input")
	}
}

func TestNewDefaultsExpectedKeysAndCancel(t *testing.T) {
	p := New(invdxerr.MarkUnavailable, 0, nil)
	if p.Cancelled() {
		t.Fatalf("default isCancel should report false")
	}
	if p.seen == nil {
		t.Fatalf("expected default-sized bloom filter to be initialized")
	}
}
