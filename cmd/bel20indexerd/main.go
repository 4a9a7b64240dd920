// Command bel20indexerd runs the token-protocol indexer daemon: it pulls
// blocks from the upstream chain, decodes BRC-20-style envelopes, folds
// them into the token store, and serves the result over HTTP/SSE.
//
// Usage:
//
//	bel20indexerd
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/choosenname/bel-20-indexer/config"
	"github.com/choosenname/bel-20-indexer/internal/api"
	"github.com/choosenname/bel-20-indexer/internal/domain"
	"github.com/choosenname/bel-20-indexer/internal/events"
	"github.com/choosenname/bel-20-indexer/internal/holders"
	"github.com/choosenname/bel-20-indexer/internal/journal"
	klog "github.com/choosenname/bel-20-indexer/internal/log"
	"github.com/choosenname/bel-20-indexer/internal/pipeline"
	"github.com/choosenname/bel-20-indexer/internal/resolver"
	"github.com/choosenname/bel-20-indexer/internal/source"
	"github.com/choosenname/bel-20-indexer/internal/storage"
	"github.com/choosenname/bel-20-indexer/internal/tokenstore"
)

func main() {
	// ── 1. Load config ───────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// ── 2. Init logger ───────────────────────────────────────────────
	logFile := cfg.Log.File
	if logFile == "" {
		if err := os.MkdirAll(cfg.LogsDir(), 0755); err != nil {
			fmt.Fprintf(os.Stderr, "Error creating logs dir: %v\n", err)
			os.Exit(1)
		}
		logFile = cfg.LogsDir() + "/bel20indexer.log"
	}
	if err := klog.Init(cfg.Log.Level, cfg.Log.JSON, logFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	logger := klog.Logger

	logger.Info().
		Str("network", string(cfg.Network)).
		Uint32("start_height", cfg.StartHeight).
		Msg("starting bel20indexerd")

	// ── 3. Open storage ──────────────────────────────────────────────
	db, err := storage.NewBadger(cfg.StoreDir())
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.StoreDir()).Msg("failed to open database")
	}
	defer db.Close()
	logger.Info().Str("path", cfg.StoreDir()).Msg("database opened")

	// ── 4. Token store and holders index ──────────────────────────────
	store, err := tokenstore.Open(db)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open token store")
	}

	idx := holders.New()
	if err := rebuildHolders(store, idx); err != nil {
		logger.Fatal().Err(err).Msg("failed to rebuild holders index")
	}

	// ── 5. Journal and event broadcaster ──────────────────────────────
	jrnl := journal.New(db, store, idx)
	broadcaster := events.New(store)
	defer broadcaster.Stop()

	// ── 6. Upstream RPC, resolver, decoder and pipeline ───────────────
	// A reverse scripthash-to-address lookup has no grounding anywhere
	// in the corpus (no wallet index is wired), so resolved addresses
	// fall back to the hex form of the owner hash per
	// pipeline.HexAddressResolver's documented zero-configuration role.
	res := resolver.New(store)
	client := source.NewClient(cfg.RPCURL, cfg.RPCUser, cfg.RPCPass)
	chainRPC := source.NewChainRPC(client)
	decoder := source.NewDecoder(res, store, cfg.MultipleInputBel20ActivationHeight)

	metrics := pipeline.NewMetrics()
	pl := pipeline.New(store, idx, jrnl, broadcaster, pipeline.HexAddressResolver).WithMetrics(metrics)

	// ── 7. Metrics listener ──────────────────────────────────────────
	var metricsServer *http.Server
	if cfg.MetricsBindURL != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsServer = &http.Server{Addr: cfg.MetricsBindURL, Handler: mux}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("metrics server error")
			}
		}()
		logger.Info().Str("addr", cfg.MetricsBindURL).Msg("metrics server started")
	}

	// ── 8. HTTP/SSE API ───────────────────────────────────────────────
	server := api.New(cfg.ServerBindURL, store, idx, broadcaster, api.Config{
		AllowedIPs:  cfg.ServerAllowedIPs,
		CORSOrigins: cfg.ServerCORSOrigins,
		Network:     cfg.Network,
	})
	if err := server.Start(); err != nil {
		logger.Fatal().Err(err).Str("addr", cfg.ServerBindURL).Msg("failed to start API server")
	}
	logger.Info().Str("addr", server.Addr()).Msg("API server started")

	// ── 9. Chain poller ───────────────────────────────────────────────
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fromHeight, ok, err := store.LastBlock()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to read last committed block")
	}
	if !ok {
		fromHeight = cfg.StartHeight
	}
	fromHash, err := store.GetBlockHash(fromHeight)
	if err != nil && !errors.Is(err, tokenstore.ErrNotFound) {
		logger.Fatal().Err(err).Uint32("height", fromHeight).Msg("failed to read resume block hash")
	}

	poller := source.NewChainPoller(chainRPC, decoder, store, pl, jrnl, broadcaster)

	pollErrCh := make(chan error, 1)
	go func() {
		pollErrCh <- poller.Run(ctx, fromHeight, fromHash)
	}()

	logger.Info().Uint32("from_height", fromHeight).Msg("poller started")

	// ── 10. Wait for shutdown ──────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case pollErr := <-pollErrCh:
		if pollErr != nil && !errors.Is(pollErr, context.Canceled) {
			logger.Error().Err(pollErr).Msg("poller exited unexpectedly")
		}
	}

	cancel()
	if err := server.Stop(); err != nil {
		logger.Error().Err(err).Msg("error stopping API server")
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(context.Background()); err != nil {
			logger.Error().Err(err).Msg("error stopping metrics server")
		}
	}
	if err := db.Flush(); err != nil {
		logger.Error().Err(err).Msg("error flushing database")
	}
	logger.Info().Msg("goodbye")
}

// rebuildHolders reconstructs the in-memory holders projection from the
// balances the store last persisted, grouping them by tick before
// handing each tick's set to holders.Index.Rebuild in one call.
func rebuildHolders(store *tokenstore.Store, idx *holders.Index) error {
	byTick := make(map[domain.LowerCaseTick][]holders.Entry)
	err := store.ForEachAllBalances(func(owner domain.FullHash, tick domain.LowerCaseTick, bal tokenstore.Balance) error {
		byTick[tick] = append(byTick[tick], holders.Entry{Owner: owner, Total: bal.Balance.Add(bal.TransferableBalance)})
		return nil
	})
	if err != nil {
		return fmt.Errorf("rebuild holders: %w", err)
	}
	for tick, entries := range byTick {
		idx.Rebuild(tick, entries)
	}
	return nil
}
