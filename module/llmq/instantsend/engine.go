// Package instantsend implements the InstantSend Engine (spec.md §4.7,
// component C7): per-input and per-transaction lock requests, batched
// verification of inbound islocks, durable persistence via the three-way
// index storage.InstantSendLocks backs, and ChainLock supersession.
// Grounded on the teacher's engine/common batching shape (mirrored from
// module/llmq/shares' flushInterval share-batch coalescer) and on
// storage/badger/cache.go's read-through-cache idiom (module/llmq/quorumstore
// already adapts it for quorums; this engine adapts it a second time for
// islocks, per spec.md §4.7 "a read-through cache over each").
package instantsend

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"

	"github.com/darkcoin/darkcoin/model/llmq"
	"github.com/darkcoin/darkcoin/module/component"
	"github.com/darkcoin/darkcoin/module/irrecoverable"
	"github.com/darkcoin/darkcoin/module/llmq/batch"
	"github.com/darkcoin/darkcoin/module/metrics"
	"github.com/darkcoin/darkcoin/storage"
)

// RequiredConfirmations is the mined-depth (inclusive of the containing
// block) an input must reach before it is lockable without a ChainLock
// covering it (spec.md §4.7, "age >= requiredConfirmations - 1").
const RequiredConfirmations = 6

const (
	pendingFlushInterval = 100 * time.Millisecond
	islockCacheSize      = 1024
)

// Tx is the narrow slice of a mempool transaction the engine needs.
type Tx interface {
	TxID() llmq.Identifier
	Inputs() []llmq.Outpoint
}

// ChainReader answers the mined-location and ChainLock-coverage questions
// CheckCanLock needs, without the engine holding a direct chainstate
// reference (spec.md §9's capability-trait pattern).
type ChainReader interface {
	TipHeight() uint32
	// TxLocation reports where txid was mined, if it was. mined is false for
	// a mempool-only transaction.
	TxLocation(txid llmq.Identifier) (blockHash llmq.Identifier, height uint32, mined bool)
	IsChainLocked(blockHash llmq.Identifier) bool
}

// SigningEngine is the narrow slice of the Signing Engine (C5) the
// InstantSend engine drives.
type SigningEngine interface {
	AsyncSignIfMember(llmqType llmq.Type, id, msgHash llmq.Identifier)
	SelectQuorumForSigning(llmqType llmq.Type, signHeight uint32, id llmq.Identifier) (*llmq.Quorum, error)
	HasRecoveredSig(llmqType llmq.Type, id, msgHash llmq.Identifier) bool
	GetVoteForId(llmqType llmq.Type, id llmq.Identifier) (llmq.Identifier, bool)
	PushReconstructedRecoveredSig(recSig llmq.RecoveredSignature)
}

// Mempool is the narrow slice of the surrounding node's mempool the engine
// needs to purge conflicts and retry newly-lockable candidates (spec.md
// §4.7, "ProcessInstantSendLock" step 4).
type Mempool interface {
	EvictConflicting(inputs []llmq.Outpoint, exceptTxID llmq.Identifier)
	RetryCandidates() []Tx
}

// Transport relays accepted islocks to the network; the engine never owns a
// socket itself (spec.md §1 Non-goals).
type Transport interface {
	RelayInstantSendLock(lock llmq.InstantSendLock)
}

type creatingLock struct {
	txid    llmq.Identifier
	inputs  []llmq.Outpoint
	pending map[llmq.Identifier]struct{}
}

type pendingIslock struct {
	source llmq.Identifier
	lock   llmq.InstantSendLock
}

// Engine is the InstantSend Engine (C7).
type Engine struct {
	mu sync.Mutex

	log       zerolog.Logger
	signing   SigningEngine
	chain     ChainReader
	mempool   Mempool
	transport Transport
	store     storage.InstantSendLocks
	collector *metrics.Collector
	scorer    *batch.Scorer

	byHashCache  *lru.Cache // Identifier -> llmq.InstantSendLock
	byTxIDCache  *lru.Cache // Identifier -> islock hash
	byInputCache *lru.Cache // Outpoint -> islock hash

	// creating tracks islocks this node is assembling: byInputID maps each
	// still-outstanding per-input request id to the shared creatingLock it
	// belongs to; creating maps the islock-level request id (once all
	// inputs have recovered) to the skeleton awaiting its own recovered sig.
	byInputID map[llmq.Identifier]*creatingLock
	creating  map[llmq.Identifier]*llmq.InstantSendLock

	pendingMu sync.Mutex
	pending   map[llmq.Identifier]pendingIslock

	isMasternode *atomic.Bool
	synced       *atomic.Bool
	enabled      *atomic.Bool
	lastCLBlock  *atomic.Pointer[llmq.Identifier]

	manager *component.Manager
}

// NewEngine constructs an InstantSend Engine.
func NewEngine(
	signing SigningEngine,
	chain ChainReader,
	mempool Mempool,
	transport Transport,
	store storage.InstantSendLocks,
	collector *metrics.Collector,
	log zerolog.Logger,
) (*Engine, error) {
	byHash, err := lru.New(islockCacheSize)
	if err != nil {
		return nil, fmt.Errorf("instantsend: could not build hash cache: %w", err)
	}
	byTxID, err := lru.New(islockCacheSize)
	if err != nil {
		return nil, fmt.Errorf("instantsend: could not build txid cache: %w", err)
	}
	byInput, err := lru.New(islockCacheSize)
	if err != nil {
		return nil, fmt.Errorf("instantsend: could not build input cache: %w", err)
	}

	e := &Engine{
		log:          log.With().Str("component", "llmq_instantsend").Logger(),
		signing:      signing,
		chain:        chain,
		mempool:      mempool,
		transport:    transport,
		store:        store,
		collector:    collector,
		scorer:       batch.NewScorer(),
		byHashCache:  byHash,
		byTxIDCache:  byTxID,
		byInputCache: byInput,
		byInputID:    make(map[llmq.Identifier]*creatingLock),
		creating:     make(map[llmq.Identifier]*llmq.InstantSendLock),
		pending:      make(map[llmq.Identifier]pendingIslock),
		isMasternode: atomic.NewBool(false),
		synced:       atomic.NewBool(false),
		enabled:      atomic.NewBool(true),
		lastCLBlock:  atomic.NewPointer[llmq.Identifier](nil),
	}
	if raw, ok, err := store.LastChainLockedBlock(); err == nil && ok {
		last := llmq.Identifier(raw)
		e.lastCLBlock.Store(&last)
	}
	e.manager = component.NewManager(e.flushLoop)
	return e, nil
}

// Start implements component.Component.
func (e *Engine) Start(ctx irrecoverable.SignalerContext) { e.manager.Start(ctx) }

// Ready implements component.Component.
func (e *Engine) Ready() <-chan struct{} { return e.manager.Ready() }

// Done implements component.Component.
func (e *Engine) Done() <-chan struct{} { return e.manager.Done() }

// Offenses drains accumulated misbehavior offenses.
func (e *Engine) Offenses() []batch.Offense { return e.scorer.Drain() }

// SetMasternodeState updates the gating flags ProcessTx checks (spec.md
// §4.7, "only for masternodes, with chain synced and InstantSend enabled").
func (e *Engine) SetMasternodeState(isMasternode, synced bool) {
	e.isMasternode.Store(isMasternode)
	e.synced.Store(synced)
}

// SetEnabled toggles the InstantSend feature at runtime (the `-instantsend`
// knob of the surrounding node).
func (e *Engine) SetEnabled(enabled bool) { e.enabled.Store(enabled) }

func (e *Engine) active() bool {
	return e.isMasternode.Load() && e.synced.Load() && e.enabled.Load()
}

func (e *Engine) flushLoop(ctx irrecoverable.SignalerContext, ready func()) {
	ready()
	ticker := time.NewTicker(pendingFlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.flushPending()
		}
	}
}

const (
	resourceIslockByHash  = "islock"
	resourceIslockByTxID  = "islock_txid"
	resourceIslockByInput = "islock_input"
)

// lookupByTxID is the read-through cache over storage.InstantSendLocks'
// "is_tx" index (spec.md §4.7, "a read-through cache over each").
func (e *Engine) lookupByTxID(txid llmq.Identifier) (llmq.Identifier, bool) {
	if v, ok := e.byTxIDCache.Get(txid); ok {
		if e.collector != nil {
			e.collector.CacheHit(resourceIslockByTxID)
		}
		return v.(llmq.Identifier), true
	}
	if e.collector != nil {
		e.collector.CacheMiss(resourceIslockByTxID)
	}
	raw, err := e.store.HashByTxID(txid)
	if err != nil {
		return llmq.Identifier{}, false
	}
	hash := llmq.Identifier(raw)
	e.byTxIDCache.Add(txid, hash)
	return hash, true
}

// lookupByInput is the read-through cache over storage.InstantSendLocks'
// "is_in" index.
func (e *Engine) lookupByInput(in llmq.Outpoint) (llmq.Identifier, bool) {
	if v, ok := e.byInputCache.Get(in); ok {
		if e.collector != nil {
			e.collector.CacheHit(resourceIslockByInput)
		}
		return v.(llmq.Identifier), true
	}
	if e.collector != nil {
		e.collector.CacheMiss(resourceIslockByInput)
	}
	raw, err := e.store.HashByInput(outpointKey(in))
	if err != nil {
		return llmq.Identifier{}, false
	}
	hash := llmq.Identifier(raw)
	e.byInputCache.Add(in, hash)
	return hash, true
}

// CheckCanLock reports whether outpoint is lockable (spec.md §4.7,
// "Lockability checks"): its parent tx is already locked, or it is mined
// with sufficient age, or its mining block is covered by a ChainLock.
func (e *Engine) CheckCanLock(outpoint llmq.Outpoint) bool {
	if _, ok := e.lookupByTxID(outpoint.Hash); ok {
		return true
	}
	blockHash, height, mined := e.chain.TxLocation(outpoint.Hash)
	if !mined {
		return false
	}
	age := int(e.chain.TipHeight()) - int(height)
	if age >= RequiredConfirmations-1 {
		return true
	}
	return e.chain.IsChainLocked(blockHash)
}

// ProcessTx drives the inbound tx path (spec.md §4.7, "ProcessTx"): for
// every input that is not already voted for this txid, validates
// lockability and kicks off per-input signing; once every input's
// recovered signature arrives, the islock is assembled and signed as a
// unit via the RecoveredSignature callback.
func (e *Engine) ProcessTx(tx Tx) error {
	if !e.active() {
		return nil
	}
	txid := tx.TxID()
	inputs := tx.Inputs()
	if len(inputs) == 0 {
		return fmt.Errorf("instantsend: transaction %x has no inputs", txid)
	}

	ids := make([]llmq.Identifier, len(inputs))
	for i, in := range inputs {
		id := llmq.InputLockRequestID(in)
		ids[i] = id
		if bound, voted := e.signing.GetVoteForId(llmq.TypeInstantSend, id); voted {
			if bound != txid {
				if e.collector != nil {
					e.collector.InstantSendLockConflicted()
				}
				return fmt.Errorf("instantsend: input %s is already locked to a conflicting transaction", in.Hash)
			}
			continue
		}
		if !e.CheckCanLock(in) {
			return fmt.Errorf("instantsend: input %s is not yet lockable", in.Hash)
		}
	}

	cl := &creatingLock{txid: txid, inputs: append([]llmq.Outpoint(nil), inputs...), pending: make(map[llmq.Identifier]struct{}, len(ids))}
	e.mu.Lock()
	for _, id := range ids {
		if e.signing.HasRecoveredSig(llmq.TypeInstantSend, id, txid) {
			continue
		}
		cl.pending[id] = struct{}{}
		e.byInputID[id] = cl
	}
	allDone := len(cl.pending) == 0
	e.mu.Unlock()

	for _, id := range ids {
		e.signing.AsyncSignIfMember(llmq.TypeInstantSend, id, txid)
	}
	if allDone {
		e.assembleIslock(cl)
	}
	return nil
}

// RecoveredSignature implements signing.RecoveredSigListener: every
// recovered InstantSend signature passes through here, whether it
// completes one input's lock or the islock's own aggregate signature.
func (e *Engine) RecoveredSignature(sig llmq.RecoveredSignature) {
	if sig.Type != llmq.TypeInstantSend {
		return
	}

	e.mu.Lock()
	if cl, ok := e.byInputID[sig.ID]; ok {
		delete(e.byInputID, sig.ID)
		delete(cl.pending, sig.ID)
		done := len(cl.pending) == 0
		e.mu.Unlock()
		if done {
			e.assembleIslock(cl)
		}
		return
	}
	skeleton, ok := e.creating[sig.ID]
	if !ok {
		e.mu.Unlock()
		return
	}
	delete(e.creating, sig.ID)
	e.mu.Unlock()

	skeleton.Sig = append([]byte(nil), sig.Sig...)
	e.ProcessInstantSendLock(llmq.Identifier{}, *skeleton, true)
}

func (e *Engine) assembleIslock(cl *creatingLock) {
	islock := &llmq.InstantSendLock{TxID: cl.txid, Inputs: cl.inputs}
	reqID := islock.RequestID()

	e.mu.Lock()
	e.creating[reqID] = islock
	e.mu.Unlock()

	e.signing.AsyncSignIfMember(llmq.TypeInstantSend, reqID, cl.txid)
}

// HandleInstantSendLock ingests an inbound islock from source: structural
// pre-verification, then enqueue for batched verification (spec.md §4.7,
// "Inbound islock path").
func (e *Engine) HandleInstantSendLock(source llmq.Identifier, lock llmq.InstantSendLock) error {
	if err := lock.Validate(); err != nil {
		e.scorer.Report(source, batch.Severe, "instantsend: malformed islock: "+err.Error())
		return err
	}
	hash := lock.Hash()
	if e.AlreadyHave(hash) {
		return nil
	}

	e.pendingMu.Lock()
	if _, dup := e.pending[hash]; dup {
		e.pendingMu.Unlock()
		return nil
	}
	e.pending[hash] = pendingIslock{source: source, lock: lock}
	e.pendingMu.Unlock()
	return nil
}

func (e *Engine) flushPending() {
	e.pendingMu.Lock()
	if len(e.pending) == 0 {
		e.pendingMu.Unlock()
		return
	}
	pending := e.pending
	e.pending = make(map[llmq.Identifier]pendingIslock)
	e.pendingMu.Unlock()

	for hash, p := range pending {
		e.verifyOne(hash, p)
	}
}

func (e *Engine) verifyOne(hash llmq.Identifier, p pendingIslock) {
	reqID := p.lock.RequestID()
	quorum, err := e.signing.SelectQuorumForSigning(llmq.TypeInstantSend, 0, reqID)
	if err != nil || quorum == nil {
		e.scorer.Report(p.source, batch.Stale, "instantsend: no active signing quorum for islock")
		return
	}

	if e.signing.HasRecoveredSig(llmq.TypeInstantSend, reqID, p.lock.TxID) {
		e.signing.PushReconstructedRecoveredSig(llmq.RecoveredSignature{
			Type: llmq.TypeInstantSend, QuorumHash: quorum.Hash, ID: reqID, MsgHash: p.lock.TxID, Sig: p.lock.Sig,
		})
		e.ProcessInstantSendLock(p.source, p.lock, true)
		return
	}

	pk, err := quorumPublicKey(quorum)
	if err != nil {
		e.scorer.Report(p.source, batch.Severe, "instantsend: malformed quorum public key")
		return
	}
	signHash := llmq.SignHash(llmq.TypeInstantSend, quorum.Hash, reqID, p.lock.TxID)
	items := []batch.Item{{Source: p.source, Key: pk, Message: signHash[:], Sig: p.lock.Sig}}
	results, err := batch.Verify(tagRecoveredSig, items)
	if err != nil || len(results) != 1 || !results[0].Ok {
		e.scorer.Report(p.source, batch.Minor, "instantsend: islock signature failed verification")
		return
	}

	e.signing.PushReconstructedRecoveredSig(llmq.RecoveredSignature{
		Type: llmq.TypeInstantSend, QuorumHash: quorum.Hash, ID: reqID, MsgHash: p.lock.TxID, Sig: p.lock.Sig,
	})
	e.ProcessInstantSendLock(p.source, p.lock, true)
}

// AlreadyHave implements the wire layer's inv-dedup query (spec.md §6).
func (e *Engine) AlreadyHave(hash llmq.Identifier) bool {
	if _, ok := e.byHashCache.Get(hash); ok {
		return true
	}
	if _, err := e.store.ByHash(hash); err == nil {
		return true
	}
	e.pendingMu.Lock()
	_, pending := e.pending[hash]
	e.pendingMu.Unlock()
	return pending
}

// ProcessInstantSendLock durably accepts an islock and relays/purges
// accordingly (spec.md §4.7, "ProcessInstantSendLock"). source is the zero
// identifier for locally-assembled islocks.
func (e *Engine) ProcessInstantSendLock(source llmq.Identifier, lock llmq.InstantSendLock, relay bool) {
	hash := lock.Hash()

	if blockHash, _, mined := e.chain.TxLocation(lock.TxID); mined && e.chain.IsChainLocked(blockHash) {
		return
	}

	e.mu.Lock()
	if _, err := e.store.ByHash(hash); err == nil {
		e.mu.Unlock()
		return
	}
	if existingHash, ok := e.lookupByTxID(lock.TxID); ok && existingHash != hash {
		e.log.Info().Hex("txid", lock.TxID[:]).Msg("instantsend: dropping islock for already-locked txid")
		if !source.IsZero() {
			e.scorer.Report(source, batch.Minor, "instantsend: islock for already-locked txid with different hash")
		}
		e.mu.Unlock()
		return
	}
	for _, in := range lock.Inputs {
		if conflictHash, ok := e.lookupByInput(in); ok && conflictHash != hash {
			e.log.Warn().Hex("input", in.Hash[:]).Msg("instantsend: islock conflicts with an already-locked input")
			if !source.IsZero() {
				e.scorer.Report(source, batch.Minor, "instantsend: islock conflicts on an already-locked input")
			}
		}
	}

	encoded := llmq.InstantSendLockMsg{TxID: lock.TxID, Inputs: lock.Inputs, Sig: fixed96(lock.Sig)}.Encode()
	inputKeys := make([][36]byte, len(lock.Inputs))
	for i, in := range lock.Inputs {
		inputKeys[i] = outpointKey(in)
	}
	if err := e.store.Store(hash, lock.TxID, inputKeys, encoded); err != nil {
		e.log.Error().Err(err).Msg("instantsend: could not persist islock")
		e.mu.Unlock()
		return
	}
	e.byHashCache.Add(hash, lock)
	e.byTxIDCache.Add(lock.TxID, hash)
	for _, in := range lock.Inputs {
		e.byInputCache.Add(in, hash)
	}
	e.mu.Unlock()

	if e.collector != nil {
		e.collector.InstantSendLockCreated()
	}

	if relay && e.transport != nil {
		e.transport.RelayInstantSendLock(lock)
	}
	if e.mempool != nil {
		e.mempool.EvictConflicting(lock.Inputs, lock.TxID)
		e.retryMempool()
	}
}

// NotifyChainLock implements the ChainLock Hook's (C8) contract: walk the
// ancestor chain from pindex back to the previous watermark, removing every
// superseded islock, before accepting further islocks that would contradict
// the new watermark (spec.md §4.7, "ChainLock supersession"; §4.8).
//
// blocksSincePrior enumerates, oldest-first, the transactions confirmed in
// each block strictly after the previous watermark up to and including
// pindex; the caller (C8/chain layer) owns chain traversal, keeping this
// engine free of a direct block-index dependency (spec.md §9).
func (e *Engine) NotifyChainLock(pindex llmq.Identifier, blocksSincePrior [][]llmq.Identifier) {
	for _, txids := range blocksSincePrior {
		for _, txid := range txids {
			e.supersede(txid)
		}
	}
	e.lastCLBlock.Store(&pindex)
	if err := e.store.SetLastChainLockedBlock(pindex); err != nil {
		e.log.Error().Err(err).Msg("instantsend: could not persist chainlock watermark")
	}
	e.retryMempool()
}

func (e *Engine) supersede(txid llmq.Identifier) {
	e.mu.Lock()
	hash, ok := e.lookupByTxID(txid)
	if !ok {
		e.mu.Unlock()
		return
	}
	encoded, err := e.store.ByHash(hash)
	if err != nil {
		e.mu.Unlock()
		return
	}
	msg, err := llmq.DecodeInstantSendLockMsg(encoded)
	if err != nil {
		e.mu.Unlock()
		return
	}
	lock := msg.ToInstantSendLock()
	inputKeys := make([][36]byte, len(lock.Inputs))
	for i, in := range lock.Inputs {
		inputKeys[i] = outpointKey(in)
	}
	if err := e.store.Remove(hash, txid, inputKeys); err != nil {
		e.log.Error().Err(err).Msg("instantsend: could not remove superseded islock")
		e.mu.Unlock()
		return
	}
	e.byHashCache.Remove(hash)
	e.byTxIDCache.Remove(txid)
	for _, in := range lock.Inputs {
		e.byInputCache.Remove(in)
	}
	e.mu.Unlock()

	if e.collector != nil {
		e.collector.InstantSendLockSuperseded()
	}
}

// LastChainLockedBlock reports the most recently recorded ChainLock
// watermark, for the ChainLock Hook (C8) to bound its ancestor walk.
func (e *Engine) LastChainLockedBlock() (llmq.Identifier, bool) {
	p := e.lastCLBlock.Load()
	if p == nil {
		return llmq.Identifier{}, false
	}
	return *p, true
}

// RetryLockableCandidates re-offers every retryable mempool transaction to
// ProcessTx; the ChainLock Hook (C8) calls this on UpdatedBlockTip so inputs
// that just crossed the confirmation-age threshold get locked without
// waiting for a ChainLock.
func (e *Engine) RetryLockableCandidates() { e.retryMempool() }

func (e *Engine) retryMempool() {
	if e.mempool == nil {
		return
	}
	for _, tx := range e.mempool.RetryCandidates() {
		_ = e.ProcessTx(tx)
	}
}

// GetInstantSendLockByHash implements the application-facing query of
// spec.md §6.
func (e *Engine) GetInstantSendLockByHash(hash llmq.Identifier) (llmq.InstantSendLock, bool) {
	if v, ok := e.byHashCache.Get(hash); ok {
		if e.collector != nil {
			e.collector.CacheHit(resourceIslockByHash)
		}
		return v.(llmq.InstantSendLock), true
	}
	if e.collector != nil {
		e.collector.CacheMiss(resourceIslockByHash)
	}
	encoded, err := e.store.ByHash(hash)
	if err != nil {
		return llmq.InstantSendLock{}, false
	}
	msg, err := llmq.DecodeInstantSendLockMsg(encoded)
	if err != nil {
		return llmq.InstantSendLock{}, false
	}
	lock := msg.ToInstantSendLock()
	e.byHashCache.Add(hash, lock)
	return lock, true
}

// IsLocked implements the application-facing query of spec.md §6.
func (e *Engine) IsLocked(txid llmq.Identifier) bool {
	_, ok := e.lookupByTxID(txid)
	return ok
}

// IsConflicted reports whether tx has an input covered by an islock bound
// to a different txid (spec.md §6, "IsConflicted(tx)").
func (e *Engine) IsConflicted(tx Tx) bool {
	for _, in := range tx.Inputs() {
		hash, ok := e.lookupByInput(in)
		if !ok {
			continue
		}
		encoded, err := e.store.ByHash(hash)
		if err != nil {
			continue
		}
		msg, err := llmq.DecodeInstantSendLockMsg(encoded)
		if err != nil {
			continue
		}
		if msg.TxID != tx.TxID() {
			return true
		}
	}
	return false
}
