package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"promchain/api"
	"promchain/config"
	"promchain/core/events"
	"promchain/core/state"
	"promchain/native/farm"
	"promchain/native/promise"
	"promchain/observability/logging"
	"promchain/observability/metrics"
	"promchain/storage"
)

const blockInterval = time.Second

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.toml", "path to node configuration")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		logging.Setup("promised", os.Getenv("PROM_ENV")).Error("load config", "error", err)
		os.Exit(1)
	}

	// PROM_ENV overrides the configured environment for one-off runs.
	env := strings.TrimSpace(os.Getenv("PROM_ENV"))
	if env == "" {
		env = strings.TrimSpace(cfg.Environment)
	}
	logger := logging.Setup("promised", env)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Error("create data dir", "error", err)
		os.Exit(1)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		logger.Error("open state database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	manager := state.NewManager(db)
	emitter := metrics.NewEmitter(events.NoopEmitter{})

	ledger := promise.NewEngine()
	ledger.SetState(manager)
	ledger.SetEmitter(emitter)
	if err := ledger.SetFeeBps(cfg.FeeBps); err != nil {
		logger.Error("configure fee", "error", err)
		os.Exit(1)
	}
	treasury, err := cfg.FeeTreasuryAddress()
	if err != nil {
		logger.Error("configure fee treasury", "error", err)
		os.Exit(1)
	}
	ledger.SetFeeTreasury(treasury)

	rewardPerBlock, err := cfg.RewardPerBlockAmount()
	if err != nil {
		logger.Error("configure reward emission", "error", err)
		os.Exit(1)
	}
	chef, err := farm.NewChefEngine(ledger, cfg.RewardAsset, rewardPerBlock, cfg.StartBlock, cfg.EndBlock)
	if err != nil {
		logger.Error("configure farm engine", "error", err)
		os.Exit(1)
	}
	chef.SetState(manager)
	chef.SetEmitter(emitter)
	holder, err := cfg.RewardHolderAddress()
	if err != nil {
		logger.Error("configure reward holder", "error", err)
		os.Exit(1)
	}
	chef.SetRewardHolder(holder)

	// Block height advances on a fixed wall-clock interval.
	var height atomic.Uint64
	chef.SetHeightFunc(height.Load)

	finder := promise.NewFinder(manager)

	server := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           api.New(ledger, finder, chef, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		ticker := time.NewTicker(blockInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				height.Add(1)
			}
		}
	}()

	go func() {
		logger.Info("http listener started", "address", cfg.ListenAddress)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http listener stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
}
