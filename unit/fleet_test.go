package unit

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/go-mizu/invfts/config"
)

func TestOpenFleetShardsByRowID(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "fleet")
	f, err := OpenFleet(dir, 4, config.Defaults())
	if err != nil {
		t.Fatalf("OpenFleet: %v", err)
	}
	defer f.Close()

	if f.ShardCount() != 4 {
		t.Fatalf("ShardCount() = %d, want 4", f.ShardCount())
	}

	u := f.ShardFor(42)
	if u == nil {
		t.Fatalf("ShardFor returned nil")
	}
	if f.ShardFor(42) != u {
		t.Fatalf("ShardFor not stable across calls for the same rowID")
	}
}

func TestFleetSyncFansOutToEveryShard(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "fleet")
	f, err := OpenFleet(dir, 2, config.Defaults())
	if err != nil {
		t.Fatalf("OpenFleet: %v", err)
	}
	defer f.Close()

	incomplete, _, err := f.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if incomplete {
		t.Fatalf("expected a freshly opened fleet to sync completely")
	}
}

func TestOpenFleetRejectsNonPositiveShardCount(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "fleet")
	if _, err := OpenFleet(dir, 0, config.Defaults()); err == nil {
		t.Fatalf("expected an error for shardCount=0")
	}
}
