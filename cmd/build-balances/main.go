// Builds the tracker's initial per-address balances from a UTXO dump
// text file.
//
// Example run:
//
//	build-balances --network testnet --utxos-dump-path utxos-dump.csv --output balances
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/DemoYeti/bitcoin-canister/internal/bootstrap"
	klog "github.com/DemoYeti/bitcoin-canister/internal/log"
	"github.com/DemoYeti/bitcoin-canister/internal/storage"
	"github.com/DemoYeti/bitcoin-canister/pkg/types"
)

func main() {
	networkFlag := flag.String("network", "mainnet", "bitcoin network (mainnet|testnet|regtest|signet)")
	dumpPath := flag.String("utxos-dump-path", "", "path of the UTXOs dump")
	output := flag.String("output", "", "directory to store the balances in")
	flag.Parse()

	if *dumpPath == "" || *output == "" {
		fmt.Fprintln(os.Stderr, "both --utxos-dump-path and --output are required")
		os.Exit(1)
	}

	network, err := types.ParseNetwork(*networkFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger := klog.WithComponent("build-balances")

	f, err := os.Open(*dumpPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", *dumpPath).Msg("Failed to open UTXO dump")
	}
	defer f.Close()

	entries, err := bootstrap.BuildBalances(f, network)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to build balances")
	}
	logger.Info().Int("addresses", len(entries)).Msg("Balances aggregated, writing")

	db, err := storage.NewBadger(*output)
	if err != nil {
		logger.Fatal().Err(err).Str("path", *output).Msg("Failed to open output database")
	}
	defer db.Close()

	if err := bootstrap.WriteBalances(db, entries); err != nil {
		logger.Fatal().Err(err).Msg("Failed to write balances")
	}
	logger.Info().Str("path", *output).Msg("Balances written")
}
