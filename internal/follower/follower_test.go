package follower

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nhbchain/shardfollower/internal/cursorstore"
	"github.com/nhbchain/shardfollower/internal/types"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

type fakeGateway struct {
	shardIDs []uint32
	tips     map[uint32]uint64
	blocks   map[uint32]map[uint64]*types.Block
}

func newFakeGateway(shardIDs []uint32) *fakeGateway {
	return &fakeGateway{
		shardIDs: shardIDs,
		tips:     make(map[uint32]uint64),
		blocks:   make(map[uint32]map[uint64]*types.Block),
	}
}

func (g *fakeGateway) GetShardIDs(context.Context) ([]uint32, error) { return g.shardIDs, nil }

func (g *fakeGateway) GetTipNonce(_ context.Context, shardID uint32) (uint64, error) {
	return g.tips[shardID], nil
}

func (g *fakeGateway) GetBlockByNonce(_ context.Context, shardID uint32, nonce uint64) (*types.Block, bool, error) {
	shardBlocks, ok := g.blocks[shardID]
	if !ok {
		return nil, false, nil
	}
	block, ok := shardBlocks[nonce]
	if !ok {
		return nil, false, nil
	}
	return block, true, nil
}

func (g *fakeGateway) putBlock(shardID uint32, nonce uint64, block *types.Block) {
	if g.blocks[shardID] == nil {
		g.blocks[shardID] = make(map[uint64]*types.Block)
	}
	g.blocks[shardID][nonce] = block
}

func TestRunRefusesConcurrentSweeps(t *testing.T) {
	gw := newFakeGateway([]uint32{0})
	gw.tips[0] = 10

	orch := New(Config{
		Gateway: gw,
		Store:   cursorstore.NewMemoryStore(),
		Consumer: func(context.Context, uint32, uint64, []types.ShardTransaction, types.Statistics, string) error {
			return nil
		},
	}, &fakeClock{now: time.Unix(0, 0)})

	orch.running.Store(true)
	err := orch.Run(context.Background())
	if !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("err = %v, want ErrAlreadyRunning", err)
	}
}

func TestRunSweepsAllShardsToTip(t *testing.T) {
	gw := newFakeGateway([]uint32{0, 1})
	gw.tips[0] = 6
	gw.tips[1] = 6
	gw.putBlock(0, 6, &types.Block{Hash: "b0-6", Transactions: []types.ShardTransaction{{Hash: "a", DestinationShard: 0}}})
	gw.putBlock(1, 6, &types.Block{Hash: "b1-6", Transactions: []types.ShardTransaction{{Hash: "b", DestinationShard: 1}}})

	var mu sync.Mutex
	delivered := map[uint32][]uint64{}
	consumer := func(_ context.Context, shardID uint32, nonce uint64, _ []types.ShardTransaction, _ types.Statistics, _ string) error {
		mu.Lock()
		defer mu.Unlock()
		delivered[shardID] = append(delivered[shardID], nonce)
		return nil
	}

	orch := New(Config{
		Gateway:  gw,
		Store:    cursorstore.NewMemoryStore(),
		Consumer: consumer,
	}, &fakeClock{now: time.Unix(0, 0)})

	if err := orch.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(delivered[0]) != 1 || delivered[0][0] != 6 {
		t.Fatalf("shard 0 delivered = %v, want [6]", delivered[0])
	}
	if len(delivered[1]) != 1 || delivered[1][0] != 6 {
		t.Fatalf("shard 1 delivered = %v, want [6]", delivered[1])
	}
}

func TestRunAllowsSubsequentSweepAfterCompletion(t *testing.T) {
	gw := newFakeGateway([]uint32{0})
	gw.tips[0] = 3
	gw.putBlock(0, 3, &types.Block{Hash: "b0-3"})

	orch := New(Config{
		Gateway: gw,
		Store:   cursorstore.NewMemoryStore(),
		Consumer: func(context.Context, uint32, uint64, []types.ShardTransaction, types.Statistics, string) error {
			return nil
		},
	}, &fakeClock{now: time.Unix(0, 0)})

	if err := orch.Run(context.Background()); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if err := orch.Run(context.Background()); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if orch.running.Load() {
		t.Fatal("expected running flag to be cleared after Run returns")
	}
}

func TestRunPrunesStaleReconcilerEntriesBeforeSweep(t *testing.T) {
	gw := newFakeGateway([]uint32{0})
	gw.tips[0] = 2
	gw.putBlock(0, 2, &types.Block{
		Hash: "b0-2",
		Transactions: []types.ShardTransaction{
			{Hash: "A", SourceShard: 0, DestinationShard: 0},
			{Hash: "B", OriginalTransactionHash: "A", SourceShard: 0, DestinationShard: 1, Data: "Zm9vQDAx"},
		},
	})

	clock := &fakeClock{now: time.Unix(0, 0)}
	orch := New(Config{
		Gateway: gw,
		Store:   cursorstore.NewMemoryStore(),
		Consumer: func(context.Context, uint32, uint64, []types.ShardTransaction, types.Statistics, string) error {
			return nil
		},
		WaitForFinalizedCrossShardResults: true,
		PruneGracePeriod:                  time.Minute,
		// Each Run re-seeds the tip estimate from the fake gateway's tip, and
		// a long round duration keeps the estimate there, so it does not
		// outrun the fake gateway's block table once the clock below
		// advances past the prune grace period.
		RoundDuration: 2 * time.Hour,
	}, clock)

	if err := orch.Run(context.Background()); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if orch.reconciler.Len() != 1 {
		t.Fatalf("reconciler.Len() = %d, want 1 (entry for A still in flight)", orch.reconciler.Len())
	}

	clock.now = clock.now.Add(2 * time.Minute)
	if err := orch.Run(context.Background()); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if orch.reconciler.Len() != 0 {
		t.Fatalf("reconciler.Len() = %d, want 0 after grace period elapses", orch.reconciler.Len())
	}
}
