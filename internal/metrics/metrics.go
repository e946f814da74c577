// Package metrics exposes the engine's operational gauges.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/DemoYeti/bitcoin-canister/internal/state"
)

var (
	stableHeight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "btcwatch",
		Name:      "stable_height",
		Help:      "Height of the latest stable block.",
	})
	mainChainHeight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "btcwatch",
		Name:      "main_chain_height",
		Help:      "Height of the unstable main chain tip.",
	})
	unstableBlocks = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "btcwatch",
		Name:      "unstable_blocks",
		Help:      "Number of blocks in the unstable tree.",
	})
	insertBlockErrors = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "btcwatch",
		Name:      "insert_block_errors_total",
		Help:      "Number of failed block insertions.",
	})
	ingestionRounds = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "btcwatch",
		Name:      "last_block_ingestion_rounds",
		Help:      "Rounds the most recent block ingestion needed.",
	})
	fullySynced = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "btcwatch",
		Name:      "fully_synced",
		Help:      "1 when no ingestion work is outstanding.",
	})
)

// Observe refreshes the gauges from the engine state.
func Observe(s *state.State) {
	stableHeight.Set(float64(s.StableHeight()))
	mainChainHeight.Set(float64(s.MainChainHeight()))
	unstableBlocks.Set(float64(len(s.GetUnstableBlocks())))
	insertBlockErrors.Set(float64(s.Syncing.NumInsertBlockErrors))
	ingestionRounds.Set(float64(s.LastIngestionStats.NumRounds))
	if s.IsFullySynced() {
		fullySynced.Set(1)
	} else {
		fullySynced.Set(0)
	}
}
