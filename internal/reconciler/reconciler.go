// Package reconciler implements the cross-shard smart-contract-result
// state machine: a logical transaction whose execution spans multiple
// shards is only surfaced downstream once every SCR it emitted has been
// observed as finalized. The bookkeeping is a map keyed by the originating
// transaction hash, mutated per polled batch and logged at every decision.
package reconciler

import (
	"log/slog"
	"time"

	"github.com/nhbchain/shardfollower/internal/types"
	"github.com/nhbchain/shardfollower/observability/logging"
	"github.com/nhbchain/shardfollower/observability/metrics"
)

// Topic is the single advisory log topic every reconciler decision is
// logged under.
const Topic = "CrossShardSmartContractResult"

// GracePeriod is the fixed duration after which an un-pruned entry is
// removed without delivery.
const GracePeriod = 10 * time.Minute

// Reconciler maintains the table of in-flight logical transactions keyed
// by originating transaction hash.
type Reconciler struct {
	logger  *slog.Logger
	entries map[string]*types.CrossShardEntry
}

// New constructs an empty Reconciler. A nil logger falls back to a
// topic sub-logger of slog.Default().
func New(logger *slog.Logger) *Reconciler {
	return &Reconciler{
		logger:  logging.Topic(logger, Topic),
		entries: make(map[string]*types.CrossShardEntry),
	}
}

// Len reports the current reconciler table size.
func (r *Reconciler) Len() int {
	return len(r.entries)
}

// Has reports whether hash currently has a live reconciler entry — used by
// the shard loop to suppress delivering a transaction whose SCR chain is
// still in flight.
func (r *Reconciler) Has(hash string) bool {
	_, ok := r.entries[hash]
	return ok
}

// Reconcile runs three passes against the transactions of one freshly
// fetched block on shard s — outbound SCRs, inbound SCRs, then a
// completion sweep — and returns the seed transactions whose counters
// just reached zero this call. These are prepended to the block's direct
// transactions before delivery.
func (r *Reconciler) Reconcile(shard uint32, txs []types.ShardTransaction, now time.Time) []types.ShardTransaction {
	seeds := indexByHash(txs)

	// Pass 1: outbound SCRs emitted from shard.
	for i := range txs {
		tx := txs[i]
		if tx.OriginalTransactionHash == "" {
			continue
		}
		if tx.SourceShard != shard || tx.DestinationShard == shard {
			continue
		}
		entry, ok := r.entries[tx.OriginalTransactionHash]
		if !ok {
			seed, ok := seeds[tx.OriginalTransactionHash]
			if !ok {
				r.logger.Warn("outbound scr with no seed in batch, skipping",
					slog.String("originalTransactionHash", tx.OriginalTransactionHash),
					slog.String("scrHash", tx.Hash),
					slog.Uint64("shard", uint64(shard)))
				continue
			}
			entry = &types.CrossShardEntry{Seed: seed, Created: now}
			r.entries[tx.OriginalTransactionHash] = entry
		}
		if tx.IsOKAcknowledgement() {
			r.logger.Debug("outbound ok acknowledgement, counter unchanged",
				slog.String("originalTransactionHash", tx.OriginalTransactionHash))
			continue
		}
		entry.Counter++
		r.logger.Debug("outbound scr observed",
			slog.String("originalTransactionHash", tx.OriginalTransactionHash),
			slog.Int64("counter", entry.Counter))
	}

	// Pass 2: inbound SCRs landing on shard.
	for i := range txs {
		tx := txs[i]
		if tx.OriginalTransactionHash == "" {
			continue
		}
		if tx.SourceShard == shard || tx.DestinationShard != shard {
			continue
		}
		entry, ok := r.entries[tx.OriginalTransactionHash]
		if !ok {
			r.logger.Warn("inbound scr with no outbound entry, skipping",
				slog.String("originalTransactionHash", tx.OriginalTransactionHash),
				slog.String("scrHash", tx.Hash),
				slog.Uint64("shard", uint64(shard)))
			continue
		}
		if tx.IsOKAcknowledgement() {
			r.logger.Debug("inbound ok acknowledgement, counter unchanged",
				slog.String("originalTransactionHash", tx.OriginalTransactionHash))
			continue
		}
		entry.Counter--
		r.logger.Debug("inbound scr observed",
			slog.String("originalTransactionHash", tx.OriginalTransactionHash),
			slog.Int64("counter", entry.Counter))
	}

	// Pass 3: completion sweep.
	var completed []types.ShardTransaction
	for hash, entry := range r.entries {
		if entry.Counter != 0 {
			continue
		}
		if _, directlyDelivered := seeds[hash]; !directlyDelivered {
			completed = append(completed, entry.Seed)
			r.logger.Info("logical transaction finalized via reconciliation",
				slog.String("originalTransactionHash", hash))
		} else {
			r.logger.Debug("logical transaction balanced but delivered directly, suppressing reconciler emission",
				slog.String("originalTransactionHash", hash))
		}
		delete(r.entries, hash)
	}

	metrics.Registry().SetReconcilerSize(len(r.entries))
	return completed
}

// Prune removes every entry older than gracePeriod and reports the count
// removed. The caller is expected to run this once before each sweep.
func (r *Reconciler) Prune(now time.Time, gracePeriod time.Duration) int {
	removed := 0
	for hash, entry := range r.entries {
		if now.Sub(entry.Created) > gracePeriod {
			delete(r.entries, hash)
			removed++
			r.logger.Info("reconciler entry pruned without delivery",
				slog.String("originalTransactionHash", hash),
				slog.Duration("age", now.Sub(entry.Created)))
		}
	}
	if removed > 0 {
		metrics.Registry().RecordPrune(removed)
		metrics.Registry().SetReconcilerSize(len(r.entries))
	}
	return removed
}

func indexByHash(txs []types.ShardTransaction) map[string]types.ShardTransaction {
	out := make(map[string]types.ShardTransaction, len(txs))
	for _, tx := range txs {
		if tx.Hash != "" {
			out[tx.Hash] = tx
		}
	}
	return out
}
