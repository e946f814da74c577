// Bitcoin tracker daemon.
//
// Usage:
//
//	btcwatchd [--network=regtest --datadir=...]  Run the tracker
//	btcwatchd --help                             Show help
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/DemoYeti/bitcoin-canister/config"
	"github.com/DemoYeti/bitcoin-canister/internal/api"
	klog "github.com/DemoYeti/bitcoin-canister/internal/log"
	"github.com/DemoYeti/bitcoin-canister/internal/metrics"
	"github.com/DemoYeti/bitcoin-canister/internal/state"
	"github.com/DemoYeti/bitcoin-canister/internal/storage"
)

// node serializes all access to the engine state. The engine is
// single-threaded cooperative; HTTP handlers and the resume loop take
// turns through this mutex.
type node struct {
	mu    sync.Mutex
	state *state.State
	dirty bool
}

// Do implements api.Gateway.
func (n *node) Do(fn func(s *state.State) error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.dirty = true
	return fn(n.state)
}

func main() {
	// ── 1. Load config (defaults → env → file → flags) ──────────────────
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// ── 2. Init logger ──────────────────────────────────────────────────
	logFile := cfg.Log.File
	if logFile == "" {
		logsDir := cfg.LogsDir()
		if err := os.MkdirAll(logsDir, 0755); err != nil {
			fmt.Fprintf(os.Stderr, "Error creating logs dir: %v\n", err)
			os.Exit(1)
		}
		logFile = filepath.Join(logsDir, "btcwatch.log")
	}
	if err := klog.Init(cfg.Log.Level, cfg.Log.JSON, logFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	logger := klog.WithComponent("node")

	logger.Info().
		Str("network", cfg.Network.String()).
		Uint32("stability_threshold", cfg.StabilityThreshold).
		Bool("syncing", cfg.Syncing).
		Msg("Starting Bitcoin tracker")

	// ── 3. Open storage ─────────────────────────────────────────────────
	if err := os.MkdirAll(cfg.ChainDataDir(), 0755); err != nil {
		logger.Fatal().Err(err).Msg("Failed to create data directory")
	}
	db, err := storage.NewBadger(cfg.ChainDataDir())
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.ChainDataDir()).Msg("Failed to open database")
	}
	defer db.Close()

	// ── 4. Restore or create the engine state ───────────────────────────
	st, err := loadOrCreateState(cfg, db)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize state")
	}
	st.APIAccess = cfg.API.Access
	st.DisableAPIIfNotFullySynced = cfg.API.DisableIfNotFullySynced
	st.Syncing.Syncing = cfg.Syncing
	st.Utxos.SetIngestBudget(cfg.Ingest.InstructionBudget)

	logger.Info().
		Uint32("stable_height", st.StableHeight()).
		Uint32("main_chain_height", st.MainChainHeight()).
		Msg("State ready")

	n := &node{state: st}
	metrics.Observe(st)

	// ── 5. Start the query API ──────────────────────────────────────────
	addr := fmt.Sprintf("%s:%d", cfg.API.Addr, cfg.API.Port)
	server := api.New(addr, n, cfg.Syncing)
	if err := server.Start(); err != nil {
		logger.Fatal().Err(err).Str("addr", addr).Msg("Failed to start API server")
	}

	// ── 6. Resume and snapshot loops ────────────────────────────────────
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		// Resume paused ingestions and drain newly stable blocks. The
		// engine yields between rounds, so this ticks rather than spins.
		ticker := time.NewTicker(250 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n.mu.Lock()
				if state.IngestStableBlocksIntoUtxoSet(n.state) {
					n.dirty = true
					metrics.Observe(n.state)
				}
				n.mu.Unlock()
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := saveSnapshot(cfg, n); err != nil {
					logger.Error().Err(err).Msg("Failed to save state snapshot")
				}
			}
		}
	}()

	// ── 7. Wait for shutdown ────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info().Msg("Shutting down")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("API server shutdown failed")
	}
	if err := saveSnapshot(cfg, n); err != nil {
		logger.Error().Err(err).Msg("Failed to save final snapshot")
	}
}

// loadOrCreateState restores the engine from the snapshot file when one
// exists, otherwise starts fresh from the network's genesis block.
func loadOrCreateState(cfg *config.Config, db storage.DB) (*state.State, error) {
	f, err := os.Open(cfg.SnapshotPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		return state.New(cfg.Network, cfg.StabilityThreshold, cfg.Network.GenesisBlock(), db)
	}
	defer f.Close()

	st, err := state.Deserialize(f, db)
	if err != nil {
		return nil, fmt.Errorf("restore snapshot %s: %w", cfg.SnapshotPath(), err)
	}
	return st, nil
}

// saveSnapshot serializes the state to disk if it changed, writing to a
// temp file first so a crash never leaves a truncated snapshot.
func saveSnapshot(cfg *config.Config, n *node) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.dirty {
		return nil
	}

	tmp := cfg.SnapshotPath() + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := n.state.Serialize(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, cfg.SnapshotPath()); err != nil {
		return err
	}
	n.dirty = false
	return nil
}
