package utxoset

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/DemoYeti/bitcoin-canister/internal/cbor"
	"github.com/DemoYeti/bitcoin-canister/internal/log"
	"github.com/DemoYeti/bitcoin-canister/internal/runtime"
	"github.com/DemoYeti/bitcoin-canister/pkg/types"
)

// Phase says which half of a transaction the ingestor is working through.
// All of a transaction's inputs are consumed before any of its outputs
// are added, so a transaction cannot spend its own output, and earlier
// transactions complete before later ones start.
type Phase uint8

const (
	PhaseInputs Phase = iota
	PhaseOutputs
)

// PartialIngestionState is the suspended position of a time-sliced block
// ingestion. It is a plain record — not a captured stack — so it
// serializes trivially and survives restarts.
type PartialIngestionState struct {
	Block   *btcutil.Block
	Height  types.Height
	TxIndex int
	IoIndex int
	Phase   Phase
	Stats   BlockIngestionStats
}

// BlockIngestionStats accumulates per-run ingestion counters. The exact
// numbers are implementation-defined; callers may only rely on them
// changing when ingestion makes progress.
type BlockIngestionStats struct {
	NumRounds         uint32 `codec:"rounds"`
	InsInstructions   uint64 `codec:"ins"`
	OutsInstructions  uint64 `codec:"outs"`
	NumInputsConsumed uint32 `codec:"num_ins"`
	NumOutputsSmall   uint32 `codec:"num_small"`
	NumOutputsMedium  uint32 `codec:"num_medium"`
	NumOutputsLarge   uint32 `codec:"num_large"`
}

// IngestResult reports the outcome of one ingestion round. When Done is
// false the block is paused mid-flight and IngestBlockContinue must be
// called to resume it.
type IngestResult struct {
	Done  bool
	Hash  chainhash.Hash
	Stats BlockIngestionStats
}

// IngestProgress is a comparable fingerprint of a suspended ingestion,
// used to detect whether a round made progress.
type IngestProgress struct {
	Hash    chainhash.Hash
	TxIndex int
	IoIndex int
	Phase   Phase
	Rounds  uint32
}

// IngestingBlock returns the block currently being ingested, nil if none.
func (s *UtxoSet) IngestingBlock() *btcutil.Block {
	if s.ingesting == nil {
		return nil
	}
	return s.ingesting.Block
}

// IngestingProgress returns the suspended ingestion's fingerprint.
func (s *UtxoSet) IngestingProgress() (IngestProgress, bool) {
	if s.ingesting == nil {
		return IngestProgress{}, false
	}
	return IngestProgress{
		Hash:    *s.ingesting.Block.Hash(),
		TxIndex: s.ingesting.TxIndex,
		IoIndex: s.ingesting.IoIndex,
		Phase:   s.ingesting.Phase,
		Rounds:  s.ingesting.Stats.NumRounds,
	}, true
}

// IngestBlock starts ingesting a block at the set's next height. It must
// not be called while another block's ingestion is suspended.
func (s *UtxoSet) IngestBlock(block *btcutil.Block) IngestResult {
	if s.ingesting != nil {
		panic("block ingestion already in progress")
	}

	s.ingesting = &PartialIngestionState{
		Block:  block,
		Height: s.nextHeight,
	}
	s.persistIngestingBlock()
	return s.ingestSlice()
}

// IngestBlockContinue resumes a suspended ingestion. The second return
// value is false when no ingestion is in progress.
func (s *UtxoSet) IngestBlockContinue() (IngestResult, bool) {
	if s.ingesting == nil {
		return IngestResult{}, false
	}
	return s.ingestSlice(), true
}

// ingestSlice runs atomic steps until the block is exhausted or the
// instruction budget is spent. At least one step is executed per round,
// so ingestion always progresses. The position on disk always refers to
// the next unexecuted step, which is what makes a halt between steps
// recoverable.
func (s *UtxoSet) ingestSlice() IngestResult {
	p := s.ingesting
	p.Stats.NumRounds++
	start := runtime.PerformanceCounter()
	steps := 0

	txs := p.Block.Transactions()
	for {
		s.normalizePos(txs)
		if p.TxIndex >= len(txs) {
			break
		}

		if steps > 0 && runtime.PerformanceCounter()-start >= s.ingestBudget {
			s.persistIngestPos()
			log.Ingest.Debug().
				Stringer("block", p.Block.Hash()).
				Int("tx_index", p.TxIndex).
				Int("io_index", p.IoIndex).
				Msg("ingestion paused")
			return IngestResult{}
		}

		s.step(txs[p.TxIndex])
		p.IoIndex++
		steps++
		s.persistIngestPos()
	}

	hash := *p.Block.Hash()
	stats := p.Stats
	s.ingesting = nil
	s.nextHeight++
	s.persistNextHeight()
	s.clearPartial()

	log.Ingest.Debug().
		Stringer("block", &hash).
		Uint32("height", s.nextHeight-1).
		Uint32("rounds", stats.NumRounds).
		Msg("block ingested")
	return IngestResult{Done: true, Hash: hash, Stats: stats}
}

// step executes the single atomic unit of work at the current position.
func (s *UtxoSet) step(tx *btcutil.Tx) {
	p := s.ingesting
	msgTx := tx.MsgTx()

	if p.Phase == PhaseInputs {
		stepStart := runtime.PerformanceCounter()
		in := msgTx.TxIn[p.IoIndex]
		if !isNullOutpoint(in.PreviousOutPoint) {
			s.removeInput(in.PreviousOutPoint)
			p.Stats.NumInputsConsumed++
		}
		p.Stats.InsInstructions += runtime.PerformanceCounter() - stepStart
		return
	}

	stepStart := runtime.PerformanceCounter()
	out := msgTx.TxOut[p.IoIndex]
	op := wire.OutPoint{Hash: *tx.Hash(), Index: uint32(p.IoIndex)}
	s.insertOutput(op, out, p.Height)
	switch {
	case len(out.PkScript) <= txOutScriptMaxSizeSmall:
		p.Stats.NumOutputsSmall++
	case len(out.PkScript) <= txOutScriptMaxSizeMedium:
		p.Stats.NumOutputsMedium++
	default:
		p.Stats.NumOutputsLarge++
	}
	p.Stats.OutsInstructions += runtime.PerformanceCounter() - stepStart
}

// normalizePos rolls the position forward over exhausted phases and
// transactions until it points at a real step or past the last tx.
func (s *UtxoSet) normalizePos(txs []*btcutil.Tx) {
	p := s.ingesting
	for p.TxIndex < len(txs) {
		msgTx := txs[p.TxIndex].MsgTx()
		if p.Phase == PhaseInputs {
			if p.IoIndex < len(msgTx.TxIn) {
				return
			}
			p.Phase = PhaseOutputs
			p.IoIndex = 0
		} else {
			if p.IoIndex < len(msgTx.TxOut) {
				return
			}
			p.Phase = PhaseInputs
			p.IoIndex = 0
			p.TxIndex++
		}
	}
}

// partialBlockRecord is the durable form of the block under ingestion,
// written once when ingestion starts.
type partialBlockRecord struct {
	Block  []byte `codec:"block"`
	Height uint32 `codec:"height"`
}

// ingestPosRecord is the durable step position, rewritten after every step.
type ingestPosRecord struct {
	TxIndex int                 `codec:"tx_index"`
	IoIndex int                 `codec:"io_index"`
	Phase   uint8               `codec:"phase"`
	Stats   BlockIngestionStats `codec:"stats"`
}

func (s *UtxoSet) persistIngestingBlock() {
	raw, err := s.ingesting.Block.Bytes()
	if err != nil {
		panic(fmt.Sprintf("serializing block under ingestion: %v", err))
	}
	rec, err := cbor.Marshal(partialBlockRecord{Block: raw, Height: s.ingesting.Height})
	if err != nil {
		panic(fmt.Sprintf("encoding block under ingestion: %v", err))
	}
	if err := s.db.Put(keyIngestingBlock, rec); err != nil {
		panic(fmt.Sprintf("persisting block under ingestion: %v", err))
	}
}

func (s *UtxoSet) persistIngestPos() {
	p := s.ingesting
	rec, err := cbor.Marshal(ingestPosRecord{
		TxIndex: p.TxIndex,
		IoIndex: p.IoIndex,
		Phase:   uint8(p.Phase),
		Stats:   p.Stats,
	})
	if err != nil {
		panic(fmt.Sprintf("encoding ingestion position: %v", err))
	}
	if err := s.db.Put(keyIngestPos, rec); err != nil {
		panic(fmt.Sprintf("persisting ingestion position: %v", err))
	}
}

func (s *UtxoSet) clearPartial() {
	if err := s.db.Delete(keyIngestingBlock); err != nil {
		panic(fmt.Sprintf("clearing suspended ingestion: %v", err))
	}
	if err := s.db.Delete(keyIngestPos); err != nil {
		panic(fmt.Sprintf("clearing suspended ingestion: %v", err))
	}
}
