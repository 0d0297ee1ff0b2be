// Package shardloop implements the per-shard nonce cursor progression:
// compare the estimated tip to the last-processed nonce, fetch the next
// block, assemble the delivered batch, invoke the consumer, advance the
// cursor — a per-shard nonce cursor wired through the cross-shard
// reconciler.
package shardloop

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/nhbchain/shardfollower/internal/cursorstore"
	"github.com/nhbchain/shardfollower/internal/gateway"
	"github.com/nhbchain/shardfollower/internal/reconciler"
	"github.com/nhbchain/shardfollower/internal/tip"
	"github.com/nhbchain/shardfollower/internal/types"
	"github.com/nhbchain/shardfollower/observability/logging"
	"github.com/nhbchain/shardfollower/observability/metrics"
)

// Topic is the log topic used for shard cursor loop progress messages.
const Topic = "ShardCursorLoop"

// Outcome reports how one Advance call resolved.
type Outcome int

const (
	// OutcomeReachedTip means last == current; the shard is at the tip
	// for this sweep and the cursor was not advanced.
	OutcomeReachedTip Outcome = iota
	// OutcomeBlockUnavailable means the next block was absent; the
	// cursor was not advanced and the caller should retry later.
	OutcomeBlockUnavailable
	// OutcomeProgressed means one block was delivered (or skipped per
	// notifyEmptyBlocks) and the cursor advanced by one nonce.
	OutcomeProgressed
)

// Consumer receives delivered transactions for one block.
type Consumer func(ctx context.Context, shardID uint32, nonce uint64, txs []types.ShardTransaction, stats types.Statistics, blockHash string) error

// Logger receives advisory log lines alongside the structured logger, so
// an embedding host can mirror decision-point messages into its own
// notification path.
type Logger func(topic, message string)

// Options configures a Loop. All fields have safe zero values except
// Gateway, Store, and Estimator, which must be supplied by the caller. A
// nil Consumer means blocks are processed and the cursor advances without
// any delivery callback.
type Options struct {
	Gateway    gateway.API
	Store      cursorstore.Store
	Reconciler *reconciler.Reconciler
	Estimator  *tip.Estimator
	Consumer   Consumer
	Logger     *slog.Logger

	// OnMessageLogged, if set, receives every advisory message this Loop
	// also emits via Logger. It lets an embedding host application mirror
	// decision-point messages into its own notification path without
	// parsing slog output.
	OnMessageLogged Logger

	MaxLookBehind                        uint64 // 0 = unbounded
	WaitForFinalizedCrossShardResults    bool
	NotifyEmptyBlocks                    bool
	IncludeCrossShardStartedTransactions bool
}

// Loop advances a single shard's cursor toward the estimated tip.
type Loop struct {
	shardID uint32
	opts    Options
	logger  *slog.Logger

	runStart  time.Time
	startLast map[uint32]uint64
	seededRun bool
}

// New constructs a Loop for shardID.
func New(shardID uint32, opts Options, runStart time.Time, startLast map[uint32]uint64) *Loop {
	return &Loop{
		shardID:   shardID,
		opts:      opts,
		logger:    logging.Topic(opts.Logger, Topic),
		runStart:  runStart,
		startLast: startLast,
	}
}

// Advance performs one iteration of the shard cursor loop: estimate the
// tip, load the persisted cursor, fetch the next block if the cursor is
// behind, deliver it, and persist the new cursor.
func (l *Loop) Advance(ctx context.Context) (Outcome, error) {
	now := l.opts.Estimator.Now()
	current := l.opts.Estimator.Estimate(l.shardID, now)

	last, ok, err := l.opts.Store.LoadCursor(ctx, l.shardID, current)
	if err != nil {
		return OutcomeBlockUnavailable, fmt.Errorf("shardloop: load cursor: %w", err)
	}
	if !ok {
		last = current - 1
		if err := l.opts.Store.SaveCursor(ctx, l.shardID, last); err != nil {
			return OutcomeBlockUnavailable, fmt.Errorf("shardloop: seed cursor: %w", err)
		}
	}

	if last == current {
		metrics.Registry().SetLag(shardLabel(l.shardID), 0)
		l.emit("shard reached estimated tip at nonce %d", current)
		return OutcomeReachedTip, nil
	}

	if last > current {
		// Reset detected: the live tip fell below our persisted cursor,
		// most likely a test-network reset. Realign downward.
		l.emit("reset detected on shard %d: persisted=%d tip=%d, realigning", l.shardID, last, current)
		last = current
	}

	if l.opts.MaxLookBehind > 0 && current-last > l.opts.MaxLookBehind {
		last = current - l.opts.MaxLookBehind
	}

	if !l.seededRun {
		l.startLast[l.shardID] = last
		l.seededRun = true
	}

	metrics.Registry().SetLag(shardLabel(l.shardID), int64(current-last))

	nonce := last + 1
	block, present, err := l.opts.Gateway.GetBlockByNonce(ctx, l.shardID, nonce)
	if err != nil {
		return OutcomeBlockUnavailable, fmt.Errorf("shardloop: get block: %w", err)
	}
	if !present {
		l.logger.Debug("block not yet available", slog.Uint64("shard", uint64(l.shardID)), slog.Uint64("nonce", nonce))
		return OutcomeBlockUnavailable, nil
	}

	delivered, reconciledCount := l.buildDelivered(block.Transactions)

	if len(delivered) > 0 || l.opts.NotifyEmptyBlocks {
		stats := l.statistics(now, current, last)
		if l.opts.Consumer != nil {
			if err := l.opts.Consumer(ctx, l.shardID, nonce, delivered, stats, block.Hash); err != nil {
				return OutcomeBlockUnavailable, fmt.Errorf("shardloop: consumer: %w", err)
			}
		}
		metrics.Registry().RecordDelivery(shardLabel(l.shardID), "direct", len(delivered)-reconciledCount)
		metrics.Registry().RecordDelivery(shardLabel(l.shardID), "reconciled", reconciledCount)
	}

	if err := l.opts.Store.SaveCursor(ctx, l.shardID, nonce); err != nil {
		return OutcomeBlockUnavailable, fmt.Errorf("shardloop: save cursor: %w", err)
	}
	metrics.Registry().RecordBlockProcessed(shardLabel(l.shardID))

	return OutcomeProgressed, nil
}

// buildDelivered assembles the delivered batch: reconciler completions (if
// enabled) prepended to direct transactions, excluding anything whose SCR
// chain is still in flight.
func (l *Loop) buildDelivered(txs []types.ShardTransaction) (delivered []types.ShardTransaction, reconciledCount int) {
	if l.opts.WaitForFinalizedCrossShardResults && l.opts.Reconciler != nil {
		completed := l.opts.Reconciler.Reconcile(l.shardID, txs, l.opts.Estimator.Now())
		delivered = append(delivered, completed...)
		reconciledCount = len(completed)
	}
	for _, tx := range txs {
		if tx.DestinationShard != l.shardID && !l.opts.IncludeCrossShardStartedTransactions {
			continue
		}
		if l.opts.Reconciler != nil && l.opts.Reconciler.Has(tx.Hash) {
			continue
		}
		delivered = append(delivered, tx)
	}
	return delivered, reconciledCount
}

func (l *Loop) statistics(now time.Time, current, last uint64) types.Statistics {
	secondsElapsed := now.Sub(l.runStart).Seconds()
	startLast := l.startLast[l.shardID]
	var processed uint64
	if last >= startLast {
		processed = last - startLast
	}
	noncesLeft := uint64(0)
	if current > last {
		noncesLeft = current - last
	}

	var noncesPerSecond, secondsLeft float64
	if secondsElapsed <= 0 {
		// +Inf rather than NaN, so downstream comparisons like
		// "secondsLeft > threshold" behave sanely for "unknown,
		// arbitrarily large" instead of always failing.
		secondsLeft = math.Inf(1)
	} else {
		noncesPerSecond = float64(processed) / secondsElapsed
		if noncesPerSecond > 0 {
			secondsLeft = float64(noncesLeft) / noncesPerSecond * 1.1
		} else {
			secondsLeft = math.Inf(1)
		}
	}

	return types.Statistics{
		SecondsElapsed:  secondsElapsed,
		ProcessedNonces: processed,
		NoncesPerSecond: noncesPerSecond,
		NoncesLeft:      noncesLeft,
		SecondsLeft:     secondsLeft,
	}
}

// emit logs msg at info level through the structured logger and, if the
// caller supplied OnMessageLogged, mirrors it to that callback as well.
func (l *Loop) emit(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	l.logger.Info(msg)
	if l.opts.OnMessageLogged != nil {
		l.opts.OnMessageLogged(Topic, msg)
	}
}

func shardLabel(shardID uint32) string {
	if shardID == types.MetachainShardID {
		return "metachain"
	}
	return fmt.Sprintf("%d", shardID)
}
