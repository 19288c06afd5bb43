// Strategy Agent — the deterministic quote synthesis and
// admission-control engine for an on-chain RFQ market-making venue.
//
// Architecture:
//
//	main.go                  — entry point: loads config, starts the API server, waits for SIGINT/SIGTERM
//	internal/policy          — admission gate (chain/pause/pair/pricing before synthesis; size/cap/impact after)
//	internal/curve           — depth-curve interpolation and impact-bps computation
//	internal/synth           — side-aware amount synthesis, TTL/expiry, strategy hash, rationale
//	internal/feasibility     — post-synthesis on-chain-state gate (active/docked/budget/allowance)
//	internal/pipeline        — orchestrates the gates/synthesizer/state store end to end
//	internal/state           — nonce counters, idempotency cache, daily-volume counters, fill ledger
//	internal/collaborators   — optional HTTP fetch of pricing/chain snapshots
//	internal/api             — HTTP/WebSocket boundary: /v1/quote, /health, /ws, /v1/fills
//
// The agent receives pricing and chain snapshots as inputs; it never
// places orders, never runs its own order book, and holds no state
// beyond the current process's lifetime.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"quoteagent/internal/api"
	"quoteagent/internal/clock"
	"quoteagent/internal/collaborators"
	"quoteagent/internal/config"
	"quoteagent/internal/pipeline"
	"quoteagent/internal/policy"
	"quoteagent/internal/state"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("QUOTE_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	chains := policy.NewChainSet(cfg.Chains.Supported)
	store := state.New(clock.System{})
	p := pipeline.New(chains, store, clock.System{}, logger.With("component", "pipeline"), cfg.State.IdempotencyTTL)

	sweepStop := make(chan struct{})
	go runSweeper(store, cfg.State.SweepInterval, sweepStop)
	defer close(sweepStop)

	var collab *collaborators.Client
	if cfg.Collaborators.PricingBaseURL != "" || cfg.Collaborators.ChainBaseURL != "" {
		collab = collaborators.New(cfg.Collaborators.PricingBaseURL, cfg.Collaborators.ChainBaseURL, cfg.Collaborators.Timeout)
	}

	apiServer := api.NewServer(*cfg, p, store, collab, logger)
	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("api server failed", "error", err)
		}
	}()
	logger.Info("strategy agent started",
		"url", fmt.Sprintf("http://localhost:%d", cfg.API.Port),
		"chains", cfg.Chains.Supported,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	if err := apiServer.Stop(); err != nil {
		logger.Error("failed to stop api server", "error", err)
	}
}

// runSweeper evicts expired idempotency entries on a fixed interval
// (config's state.sweep_interval) until stop is closed. The cache also
// evicts lazily on access; this loop bounds how long a never-revisited
// key can linger in memory.
func runSweeper(store *state.Store, interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			store.Sweep()
		case <-stop:
			return
		}
	}
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
