package unit

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"

	"github.com/go-mizu/invfts/config"
	"github.com/go-mizu/invfts/internal/postlist"
	"github.com/go-mizu/invfts/invdxerr"
)

// Fleet is a set of units sharded by xxhash(rowID), spec.md §4.6's
// Distribution note: a driver too large for one unit's leaf/overflow files
// spreads rows across N mounted units and routes every lookup/insert by
// shard. Fan-out operations (Sync/VerifyBtree/Close) run one goroutine per
// shard through golang.org/x/sync/errgroup, with no limit on how many run
// at once.
type Fleet struct {
	mu     sync.RWMutex
	shards []*Unit
}

// OpenFleet mounts (creating as needed) shardCount units under dir/shard-N.
func OpenFleet(dir string, shardCount int, opts config.Options) (*Fleet, error) {
	if shardCount <= 0 {
		return nil, invdxerr.StorageError
	}
	f := &Fleet{shards: make([]*Unit, shardCount)}
	for i := 0; i < shardCount; i++ {
		shardDir := filepath.Join(dir, fmt.Sprintf("shard-%d", i))
		u, err := Open(shardDir, opts, nil)
		if err != nil {
			f.closeOpened(i)
			return nil, err
		}
		f.shards[i] = u
	}
	return f, nil
}

func (f *Fleet) closeOpened(upTo int) {
	for i := 0; i < upTo; i++ {
		f.shards[i].Close()
	}
}

// ShardCount returns how many units the fleet spreads rows across.
func (f *Fleet) ShardCount() int { return len(f.shards) }

// ShardFor returns the unit responsible for rowID.
func (f *Fleet) ShardFor(rowID uint64) *Unit {
	f.mu.RLock()
	defer f.mu.RUnlock()
	idx := shardIndex(rowID, len(f.shards))
	return f.shards[idx]
}

func shardIndex(rowID uint64, n int) int {
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(rowID >> (8 * i))
	}
	return int(xxhash.Sum64(buf[:]) % uint64(n))
}

// Close fans out Close to every shard, returning the first error (if any)
// after every shard has had a chance to close.
func (f *Fleet) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	g := new(errgroup.Group)
	for _, shard := range f.shards {
		shard := shard
		g.Go(shard.Close)
	}
	return g.Wait()
}

// Sync fans out Sync to every shard, OR-ing each shard's incomplete/
// modified flags into the fleet-wide result per spec.md §4.6's contract.
func (f *Fleet) Sync(ctx context.Context) (incomplete, modified bool, err error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var mu sync.Mutex
	g, _ := errgroup.WithContext(ctx)
	for _, shard := range f.shards {
		shard := shard
		g.Go(func() error {
			var shardIncomplete, shardModified bool
			syncErr := shard.Sync(&shardIncomplete, &shardModified)
			mu.Lock()
			incomplete = incomplete || shardIncomplete
			modified = modified || shardModified
			mu.Unlock()
			return syncErr
		})
	}
	err = g.Wait()
	return incomplete, modified, err
}

// VerifyBtree fans out VerifyBtree to every shard, one goroutine and one
// Progress sink per shard, and returns every shard's findings
// concatenated.
func (f *Fleet) VerifyBtree(ctx context.Context, treatment invdxerr.Treatment, cfg postlist.ListConfig) ([]invdxerr.VerifyFinding, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var mu sync.Mutex
	var all []invdxerr.VerifyFinding
	g, gctx := errgroup.WithContext(ctx)
	for _, shard := range f.shards {
		shard := shard
		g.Go(func() error {
			isCancel := func() bool {
				select {
				case <-gctx.Done():
					return true
				default:
					return false
				}
			}
			p := shard.StartVerification(treatment, isCancel)
			if err := shard.VerifyBtree(p, cfg); err != nil {
				return err
			}
			findings, err := shard.EndVerification(p)
			mu.Lock()
			all = append(all, findings...)
			mu.Unlock()
			return err
		})
	}
	err := g.Wait()
	return all, err
}
