// Package state glues the unstable block tree, the stable UTXO set, and
// the syncing bookkeeping into one engine, and is its serialization
// boundary.
package state

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/DemoYeti/bitcoin-canister/internal/addressutxos"
	"github.com/DemoYeti/bitcoin-canister/internal/headers"
	"github.com/DemoYeti/bitcoin-canister/internal/log"
	"github.com/DemoYeti/bitcoin-canister/internal/storage"
	"github.com/DemoYeti/bitcoin-canister/internal/unstable"
	"github.com/DemoYeti/bitcoin-canister/internal/utxoset"
	"github.com/DemoYeti/bitcoin-canister/pkg/types"
)

// Storage namespaces of the engine's components within the shared DB.
var (
	utxoNamespace   = []byte("utxo/")
	headerNamespace = []byte("hdr/")
)

// SyncingState tracks block-fetching bookkeeping. The fetcher itself
// lives outside the engine; the engine only counts its failures.
type SyncingState struct {
	Syncing                   bool   `codec:"syncing"`
	IsFetchingBlocks          bool   `codec:"is_fetching_blocks"`
	NumGetSuccessorsRejects   uint64 `codec:"num_get_successors_rejects"`
	NumBlockDeserializeErrors uint64 `codec:"num_block_deserialize_errors"`
	NumInsertBlockErrors      uint64 `codec:"num_insert_block_errors"`
}

// HeaderValidator checks a block header against the current state. It is
// a pure function supplied by the environment; the engine only threads
// state through to it.
type HeaderValidator func(s *State, header *wire.BlockHeader) error

// State is the entire engine state.
type State struct {
	Utxos    *utxoset.UtxoSet
	Unstable *unstable.UnstableBlocks
	Headers  *headers.Store
	Syncing  SyncingState

	// LastIngestionStats holds the stats of the most recently completed
	// block ingestion.
	LastIngestionStats utxoset.BlockIngestionStats

	// APIAccess gates query endpoints. When DisableAPIIfNotFullySynced
	// is also set, queries additionally require the engine to be fully
	// synced.
	APIAccess                  bool
	DisableAPIIfNotFullySynced bool

	validateHeader HeaderValidator
}

// New creates a fresh engine over an empty storage, anchored at the
// given genesis block.
func New(network types.Network, stabilityThreshold uint32, genesis *btcutil.Block, db storage.DB) (*State, error) {
	utxos, err := utxoset.New(storage.NewPrefixDB(db, utxoNamespace), network)
	if err != nil {
		return nil, fmt.Errorf("open utxo set: %w", err)
	}

	return &State{
		Utxos:                      utxos,
		Unstable:                   unstable.New(stabilityThreshold, genesis, utxos.NextHeight(), network),
		Headers:                    headers.NewStore(storage.NewPrefixDB(db, headerNamespace)),
		Syncing:                    SyncingState{Syncing: true},
		APIAccess:                  true,
		DisableAPIIfNotFullySynced: true,
	}, nil
}

// SetHeaderValidator installs the external header validation routine.
// A nil validator accepts every header.
func (s *State) SetHeaderValidator(fn HeaderValidator) {
	s.validateHeader = fn
}

// Network returns the network the engine tracks.
func (s *State) Network() types.Network {
	return s.Utxos.Network()
}

// StableHeight is the height of the next block to ingest, i.e. every
// block below it is fully reflected in the UTXO set.
func (s *State) StableHeight() types.Height {
	return s.Utxos.NextHeight()
}

// MainChainHeight is the height of the unstable main chain's tip.
func (s *State) MainChainHeight() types.Height {
	return s.Utxos.NextHeight() + types.Height(s.Unstable.GetMainChain().Len()) - 1
}

// GetUtxos returns the per-address view over stable and unstable state.
func (s *State) GetUtxos(address types.Address) *addressutxos.View {
	return addressutxos.New(address, s.Utxos, s.Unstable)
}

// GetUnstableBlocks returns all blocks that are not yet stable.
func (s *State) GetUnstableBlocks() []*btcutil.Block {
	return s.Unstable.GetBlocks()
}

// IsFullySynced reports whether there is no ingestion work outstanding.
func (s *State) IsFullySynced() bool {
	return s.Utxos.IngestingBlock() == nil && s.Unstable.Peek() == nil
}

// APIEnabled reports whether query endpoints may be served.
func (s *State) APIEnabled() bool {
	if !s.APIAccess {
		return false
	}
	if s.DisableAPIIfNotFullySynced && !s.IsFullySynced() {
		return false
	}
	return true
}

// InsertBlock validates a block's header and pushes the block into the
// unstable tree. The block is discarded on error and the insert-error
// counter incremented; retrying is the caller's policy.
func InsertBlock(s *State, block *btcutil.Block) error {
	if s.validateHeader != nil {
		if err := s.validateHeader(s, &block.MsgBlock().Header); err != nil {
			s.Syncing.NumInsertBlockErrors++
			return fmt.Errorf("validate header: %w", err)
		}
	}

	if err := s.Unstable.Push(block); err != nil {
		s.Syncing.NumInsertBlockErrors++
		return err
	}
	return nil
}

// IngestStableBlocksIntoUtxoSet moves stabilized blocks from the unstable
// tree into the UTXO set until no stable block remains or the instruction
// budget pauses the ingestion. Returns whether the state changed.
func IngestStableBlocksIntoUtxoSet(s *State) bool {
	prevHeight := s.Utxos.NextHeight()
	prevProgress, prevIngesting := s.Utxos.IngestingProgress()
	changed := func() bool {
		height := s.Utxos.NextHeight()
		progress, ingesting := s.Utxos.IngestingProgress()
		return height != prevHeight || ingesting != prevIngesting || progress != prevProgress
	}

	// Finish the partially ingested block first, if there is one.
	if res, ok := s.Utxos.IngestBlockContinue(); ok {
		if !res.Done {
			return changed()
		}
		s.LastIngestionStats = res.Stats
		popBlock(s, res.Hash)
	}

	// Ingest any blocks that have become stable.
	for {
		block := s.Unstable.Peek()
		if block == nil {
			break
		}

		// Keep the header before the block body is discarded.
		if err := s.Headers.InsertBlock(block, s.Utxos.NextHeight()); err != nil {
			panic(fmt.Sprintf("storing stable block header: %v", err))
		}

		res := s.Utxos.IngestBlock(block)
		if !res.Done {
			return changed()
		}
		s.LastIngestionStats = res.Stats
		popBlock(s, res.Hash)
	}

	return changed()
}

// popBlock pops the just-ingested block off the unstable tree and checks
// it is the one the UTXO set reported.
func popBlock(s *State, ingested chainhash.Hash) {
	popped := s.Unstable.Pop(s.Utxos.NextHeight() - 1)
	if popped == nil {
		panic("no stabilizable block to pop after ingestion")
	}
	if *popped.Hash() != ingested {
		panic(fmt.Sprintf("popped block %s does not match ingested block %s", popped.Hash(), ingested))
	}
	log.State.Debug().
		Stringer("block", popped.Hash()).
		Uint32("stable_height", s.Utxos.NextHeight()).
		Msg("block stabilized")
}
