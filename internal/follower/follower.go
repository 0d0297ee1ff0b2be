// Package follower owns the collection of shard cursor loops: it ensures
// only one run is active at a time, prunes stale reconciler entries, and
// drives the "reach the tip" sweep across all shards, repeating every
// shard loop until all of them report tip reached in a single pass.
package follower

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nhbchain/shardfollower/internal/cursorstore"
	"github.com/nhbchain/shardfollower/internal/gateway"
	"github.com/nhbchain/shardfollower/internal/reconciler"
	"github.com/nhbchain/shardfollower/internal/shardloop"
	"github.com/nhbchain/shardfollower/internal/tip"
	"github.com/nhbchain/shardfollower/observability/logging"
	"github.com/nhbchain/shardfollower/observability/metrics"
)

// ErrAlreadyRunning is returned by Run when a run is already in progress
// on this Orchestrator instance.
var ErrAlreadyRunning = errors.New("follower: run already in progress")

// Topic is the log topic used for orchestrator-level sweep messages.
const Topic = "FollowerOrchestrator"

// PruneGracePeriod is the default age after which an un-pruned reconciler
// entry is removed; override via Config.PruneGracePeriod.
const PruneGracePeriod = reconciler.GracePeriod

// Config configures one Orchestrator instance. Gateway, Store, and
// Consumer must be supplied; everything else has a documented default.
type Config struct {
	Gateway  gateway.API
	Store    cursorstore.Store
	Consumer shardloop.Consumer
	Logger   *slog.Logger

	// OnMessageLogged, if set, is passed through to every shard loop so an
	// embedding host can mirror decision-point messages without parsing
	// slog output.
	OnMessageLogged shardloop.Logger

	RoundDuration                        time.Duration
	PruneGracePeriod                     time.Duration
	MaxLookBehind                        uint64
	WaitForFinalizedCrossShardResults    bool
	NotifyEmptyBlocks                    bool
	IncludeCrossShardStartedTransactions bool
}

// Orchestrator drives the shard cursor loops. Reconciler map, cursor
// store, and per-run bookkeeping are all owned by this single instance
// and mutated only from its own Run call — no locking is used internally
// beyond the single-flight guard, since each run processes shards serially.
type Orchestrator struct {
	cfg        Config
	logger     *slog.Logger
	reconciler *reconciler.Reconciler
	estimator  *tip.Estimator
	running    atomic.Bool
	startLast  map[uint32]uint64
}

// New constructs an Orchestrator. clock is injected for testability; a
// nil clock uses the real wall clock.
func New(cfg Config, clock tip.Clock) *Orchestrator {
	logger := logging.Topic(cfg.Logger, Topic)
	roundDuration := cfg.RoundDuration
	if roundDuration <= 0 {
		roundDuration = tip.DefaultRoundDuration
	}
	pruneGrace := cfg.PruneGracePeriod
	if pruneGrace <= 0 {
		pruneGrace = PruneGracePeriod
	}
	cfg.RoundDuration = roundDuration
	cfg.PruneGracePeriod = pruneGrace
	return &Orchestrator{
		cfg:        cfg,
		logger:     logger,
		reconciler: reconciler.New(cfg.Logger),
		estimator:  tip.NewEstimator(clock, roundDuration),
		startLast:  make(map[uint32]uint64),
	}
}

// Run performs one complete sweep: prune stale reconciler entries, then
// iterate every shard id in order, running the shard cursor loop once per
// shard, repeating the full pass until every shard reports "tip reached"
// in a single iteration. Run refuses to start if a run is already in
// progress on this instance.
func (o *Orchestrator) Run(ctx context.Context) error {
	if !o.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer o.running.Store(false)

	runID := uuid.New().String()
	logger := o.logger.With(slog.String("runId", runID))
	sweepStart := time.Now()

	pruned := o.reconciler.Prune(o.estimator.Now(), o.cfg.PruneGracePeriod)
	if pruned > 0 {
		logger.Info("pruned stale reconciler entries", slog.Int("count", pruned))
	}

	shardIDs, err := o.cfg.Gateway.GetShardIDs(ctx)
	if err != nil {
		return fmt.Errorf("follower: get shard ids: %w", err)
	}

	runStart := o.estimator.Now()
	for _, shardID := range shardIDs {
		startNonce, err := o.cfg.Gateway.GetTipNonce(ctx, shardID)
		if err != nil {
			return fmt.Errorf("follower: seed tip for shard %d: %w", shardID, err)
		}
		o.estimator.Seed(shardID, startNonce, runStart)
	}

	loops := make(map[uint32]*shardloop.Loop, len(shardIDs))
	for _, shardID := range shardIDs {
		loops[shardID] = shardloop.New(shardID, shardloop.Options{
			Gateway:                              o.cfg.Gateway,
			Store:                                 o.cfg.Store,
			Reconciler:                            o.reconciler,
			Estimator:                             o.estimator,
			Consumer:                              o.cfg.Consumer,
			Logger:                                o.cfg.Logger,
			OnMessageLogged:                       o.cfg.OnMessageLogged,
			MaxLookBehind:                         o.cfg.MaxLookBehind,
			WaitForFinalizedCrossShardResults:     o.cfg.WaitForFinalizedCrossShardResults,
			NotifyEmptyBlocks:                     o.cfg.NotifyEmptyBlocks,
			IncludeCrossShardStartedTransactions:  o.cfg.IncludeCrossShardStartedTransactions,
		}, runStart, o.startLast)
	}

	for {
		reachedTip := true
		for _, shardID := range shardIDs {
			outcome, err := loops[shardID].Advance(ctx)
			if err != nil {
				return fmt.Errorf("follower: shard %d: %w", shardID, err)
			}
			if outcome != shardloop.OutcomeReachedTip {
				reachedTip = false
			}
		}
		if reachedTip {
			break
		}
	}

	metrics.Registry().ObserveSweep(time.Since(sweepStart))
	logger.Info("sweep complete", slog.Duration("duration", time.Since(sweepStart)))
	return nil
}
