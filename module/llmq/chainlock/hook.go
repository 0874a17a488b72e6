// Package chainlock implements the ChainLock Hook (spec.md §4.8, component
// C8): a thin adapter with no state of its own beyond the interface it
// exposes. It turns a block-index notification into the ancestor-walk the
// InstantSend Engine (C7) needs to complete supersession back to the prior
// watermark. Grounded on the teacher's module/events.FinalizationActor shape
// (a stateless event responder that holds only the plumbing to call into the
// component it drives) and on original_source/src/evo/chainhelper.cpp's
// passthrough-to-handler pattern.
package chainlock

import (
	"github.com/rs/zerolog"

	"github.com/darkcoin/darkcoin/model/llmq"
)

// Receiver is the narrow slice of the InstantSend Engine (C7) the hook
// drives.
type Receiver interface {
	NotifyChainLock(pindex llmq.Identifier, blocksSincePrior [][]llmq.Identifier)
	LastChainLockedBlock() (llmq.Identifier, bool)
	RetryLockableCandidates()
}

// BlockIndex is the narrow slice of the surrounding node's block index the
// hook needs to walk ancestry; the hook never holds a direct chainstate
// reference (spec.md §9's capability-trait pattern).
type BlockIndex interface {
	// BlockTxIDs returns the ids of every transaction confirmed in
	// blockHash. ok is false if blockHash is unknown.
	BlockTxIDs(blockHash llmq.Identifier) (txids []llmq.Identifier, ok bool)
	// ParentOf returns blockHash's parent. ok is false at genesis.
	ParentOf(blockHash llmq.Identifier) (parent llmq.Identifier, ok bool)
}

// Hook is the ChainLock Hook (C8). It holds no state beyond the references
// needed to answer the two signals of spec.md §6.
type Hook struct {
	engine Receiver
	index  BlockIndex
	log    zerolog.Logger
}

// NewHook constructs a ChainLock Hook over engine and index.
func NewHook(engine Receiver, index BlockIndex, log zerolog.Logger) *Hook {
	return &Hook{
		engine: engine,
		index:  index,
		log:    log.With().Str("component", "llmq_chainlock").Logger(),
	}
}

// NotifyChainLock implements the "block B is ChainLocked" signal of
// spec.md §6. It walks the ancestor chain from pindex back to the
// previously recorded watermark (exclusive), collecting each intervening
// block's transactions oldest-first, then hands the walk to C7 — which
// MUST complete supersession for the whole walk before this call returns
// (spec.md §4.8).
func (h *Hook) NotifyChainLock(pindex llmq.Identifier) {
	prior, hasPrior := h.engine.LastChainLockedBlock()

	// Walk backward from pindex, newest-first, stopping at the prior
	// watermark or at genesis (no parent).
	var chain []llmq.Identifier
	cursor := pindex
	for {
		if hasPrior && cursor == prior {
			break
		}
		chain = append(chain, cursor)
		parent, ok := h.index.ParentOf(cursor)
		if !ok {
			break
		}
		cursor = parent
	}

	blocksSincePrior := make([][]llmq.Identifier, len(chain))
	for i, blockHash := range chain {
		txids, ok := h.index.BlockTxIDs(blockHash)
		if !ok {
			h.log.Warn().Hex("block", blockHash[:]).Msg("chainlock: unknown block in ancestor walk")
			continue
		}
		blocksSincePrior[len(chain)-1-i] = txids
	}

	h.engine.NotifyChainLock(pindex, blocksSincePrior)
}

// UpdatedBlockTip implements the block-tip-advanced signal of spec.md §6:
// inputs may have just crossed the confirmation-age threshold CheckCanLock
// requires, so mempool transactions blocked on that are retried.
func (h *Hook) UpdatedBlockTip(llmq.Identifier) {
	h.engine.RetryLockableCandidates()
}
