// Command followerd runs the shard-aware transaction follower as a
// standalone daemon: it loads configuration, constructs the orchestrator,
// and drives it on a schedule until signaled to stop.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nhbchain/shardfollower/config"
	"github.com/nhbchain/shardfollower/internal/cursorstore"
	"github.com/nhbchain/shardfollower/internal/follower"
	"github.com/nhbchain/shardfollower/internal/gateway"
	"github.com/nhbchain/shardfollower/internal/tip"
	"github.com/nhbchain/shardfollower/internal/types"
	"github.com/nhbchain/shardfollower/observability/logging"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "followerd.yaml", "path to the followerd YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	var rotation *logging.FileRotation
	if cfg.Logging.File != "" {
		rotation = &logging.FileRotation{Path: cfg.Logging.File, MaxSizeMB: 100, MaxBackups: 3, MaxAgeDays: 14}
	}
	logger := logging.Setup(cfg.Logging.Service, cfg.Logging.Env, rotation)

	gw := gateway.New(cfg.GatewayURL, gateway.WithRateLimit(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst))
	store := cursorstore.NewMemoryStore()

	consumer := func(_ context.Context, shardID uint32, nonce uint64, txs []types.ShardTransaction, stats types.Statistics, blockHash string) error {
		logger.Info("delivered block",
			slog.Uint64("shard", uint64(shardID)),
			slog.Uint64("nonce", nonce),
			slog.Int("transactions", len(txs)),
			slog.String("blockHash", blockHash),
			slog.Float64("noncesPerSecond", stats.NoncesPerSecond),
			slog.Float64("secondsLeft", stats.SecondsLeft))
		for _, tx := range txs {
			logger.Debug("delivered transaction",
				slog.String("hash", tx.Hash),
				logging.MaskField("sender", tx.Sender),
				logging.MaskField("receiver", tx.Receiver),
				logging.MaskField("value", tx.Value))
		}
		return nil
	}

	orch := follower.New(follower.Config{
		Gateway:                              gw,
		Store:                                 store,
		Consumer:                              consumer,
		Logger:                                logger,
		RoundDuration:                         cfg.RoundDuration.Duration,
		PruneGracePeriod:                      cfg.PruneGracePeriod.Duration,
		MaxLookBehind:                         cfg.MaxLookBehind,
		WaitForFinalizedCrossShardResults:     cfg.Flags.WaitForFinalizedCrossShardSmartContractResults,
		NotifyEmptyBlocks:                     cfg.Flags.NotifyEmptyBlocks,
		IncludeCrossShardStartedTransactions:  cfg.Flags.IncludeCrossShardStartedTransactions,
	}, tip.SystemClock{})

	var healthy atomic.Bool
	mux := chi.NewRouter()
	mux.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if healthy.Load() {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: cfg.ListenAddress, Handler: mux}
	go func() {
		logger.Info("followerd health/metrics listening", slog.String("address", cfg.ListenAddress))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("listen failed", slog.Any("error", err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(cfg.PollInterval.Duration)
	defer ticker.Stop()

	runSweep(ctx, orch, logger, &healthy)
	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down followerd")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("graceful shutdown failed", slog.Any("error", err))
			}
			return
		case <-ticker.C:
			runSweep(ctx, orch, logger, &healthy)
		}
	}
}

func runSweep(ctx context.Context, orch *follower.Orchestrator, logger *slog.Logger, healthy *atomic.Bool) {
	if err := orch.Run(ctx); err != nil {
		if errors.Is(err, follower.ErrAlreadyRunning) {
			logger.Warn("sweep skipped, previous run still in progress")
			return
		}
		logger.Error("sweep failed", slog.Any("error", err))
		return
	}
	healthy.Store(true)
}
