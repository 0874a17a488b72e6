// Package signing implements the Signing Engine (spec.md §4.5, component
// C5): per-(llmqType, id) vote binding, threshold share aggregation, and
// recovered-signature notification. Grounded on the DKG Session's
// threshold-aggregation idiom (module/llmq/dkg.Session.TryFinalize:
// accumulate shares keyed by an agreement group, reconstruct via
// blssuite.ReconstructThreshold once threshold is met, verify before
// publishing), generalized from a one-shot DKG commitment to arbitrary
// signing requests, and on module/component for the lifecycle contract.
package signing

import (
	"fmt"
	"sync"
	"time"

	"github.com/onflow/flow-go/crypto"

	"github.com/darkcoin/darkcoin/crypto/blssuite"
	"github.com/darkcoin/darkcoin/internal/vss"
	"github.com/darkcoin/darkcoin/model/llmq"
	"github.com/darkcoin/darkcoin/module/component"
	"github.com/darkcoin/darkcoin/module/irrecoverable"
	"github.com/darkcoin/darkcoin/module/metrics"
)

const tagSigningShare = "llmq-signing-share"

// QuorumSource is the narrow slice of the Quorum Store (C4) the signing
// engine needs (spec.md §9's capability-trait pattern in place of holding
// a direct quorumstore.Store reference).
type QuorumSource interface {
	ByHash(llmqType llmq.Type, quorumHash llmq.Identifier) (*llmq.Quorum, error)
	ScanQuorums(llmqType llmq.Type, n int) ([]*llmq.Quorum, error)
}

// RecoveredSigListener is notified exactly once per (llmqType, id, msgHash)
// when a recovered signature becomes available (spec.md §4.5, "Listener
// registration for recovered signatures").
type RecoveredSigListener interface {
	RecoveredSignature(sig llmq.RecoveredSignature)
}

type requestKey struct {
	Type llmq.Type
	ID   llmq.Identifier
}

type shareBucketKey struct {
	Type    llmq.Type
	ID      llmq.Identifier
	MsgHash llmq.Identifier
}

type bucket struct {
	quorumHash llmq.Identifier
	shares     map[uint16]llmq.SignatureShare
	firstSeen  time.Time
}

// Engine is the Signing Engine (C5).
type Engine struct {
	mu sync.Mutex

	registry *llmq.Registry
	quorums  QuorumSource

	proTxHash  llmq.Identifier
	operatorSK crypto.PrivateKey

	votes     map[requestKey]llmq.Identifier // bound id -> msgHash
	conflicts map[requestKey]struct{}

	buckets   map[shareBucketKey]*bucket
	recovered map[shareBucketKey]llmq.RecoveredSignature

	listenersMu sync.Mutex
	listeners   []RecoveredSigListener

	collector *metrics.Collector
	manager   *component.Manager
}

// NewEngine constructs a Signing Engine. proTxHash/operatorSK are stored
// but not used by any method; signing itself is driven entirely by each quorum's
// own OwnSecretKeyShare, already scoped to the local member at
// materialization time (module/llmq/dkg.Session.MaterializeQuorum).
func NewEngine(registry *llmq.Registry, quorums QuorumSource, proTxHash llmq.Identifier, operatorSK crypto.PrivateKey, collector *metrics.Collector) *Engine {
	e := &Engine{
		registry:   registry,
		quorums:    quorums,
		proTxHash:  proTxHash,
		operatorSK: operatorSK,
		votes:      make(map[requestKey]llmq.Identifier),
		conflicts:  make(map[requestKey]struct{}),
		buckets:    make(map[shareBucketKey]*bucket),
		recovered:  make(map[shareBucketKey]llmq.RecoveredSignature),
		collector:  collector,
	}
	e.manager = component.NewManager(func(ctx irrecoverable.SignalerContext, ready func()) {
		ready()
		<-ctx.Done()
	})
	return e
}

// Start implements component.Component.
func (e *Engine) Start(ctx irrecoverable.SignalerContext) { e.manager.Start(ctx) }

// Ready implements component.Component.
func (e *Engine) Ready() <-chan struct{} { return e.manager.Ready() }

// Done implements component.Component.
func (e *Engine) Done() <-chan struct{} { return e.manager.Done() }

// RegisterListener subscribes l to every future recovered signature.
func (e *Engine) RegisterListener(l RecoveredSigListener) {
	e.listenersMu.Lock()
	defer e.listenersMu.Unlock()
	e.listeners = append(e.listeners, l)
}

// QuorumEvicted implements quorumstore.EvictionListener: any signing
// request bound exclusively to the evicted quorum fails (spec.md §4.4,
// "Reorg rule").
func (e *Engine) QuorumEvicted(llmqType llmq.Type, quorumHash llmq.Identifier) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for key, b := range e.buckets {
		if key.Type == llmqType && b.quorumHash == quorumHash {
			delete(e.buckets, key)
		}
	}
}

// SelectQuorumForSigning picks the signingActiveQuorumCount most recent
// quorums of llmqType and returns the one minimizing H(id||quorumHash)
// (spec.md §4.5). signHeight is accepted for API stability but not used to
// select the active set: selection is pinned to quorumHash, not height, so
// it is stable under minor reorgs.
func (e *Engine) SelectQuorumForSigning(llmqType llmq.Type, signHeight uint32, id llmq.Identifier) (*llmq.Quorum, error) {
	params, ok := e.registry.Get(llmqType)
	if !ok {
		return nil, fmt.Errorf("signing: unknown llmq type %d", llmqType)
	}
	recent, err := e.quorums.ScanQuorums(llmqType, int(params.SigningActiveQuorumCount))
	if err != nil {
		return nil, err
	}
	if len(recent) == 0 {
		return nil, fmt.Errorf("signing: no active quorums for llmq type %d", llmqType)
	}
	best := recent[0]
	bestKey := llmq.DoubleSHA256(id[:], best.Hash[:])
	for _, q := range recent[1:] {
		key := llmq.DoubleSHA256(id[:], q.Hash[:])
		if lessBytes(key[:], bestKey[:]) {
			best, bestKey = q, key
		}
	}
	return best, nil
}

func lessBytes(a, b []byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// AsyncSignIfMember enqueues a signature share for (llmqType, id, msgHash)
// if the local node is a valid member of the quorum SelectQuorumForSigning
// picks; otherwise it is a no-op (spec.md §4.5). A second call for the same
// id with a different msgHash is recorded as conflicting and suppressed for
// local emission, per spec.md §4.5's vote-binding rule.
func (e *Engine) AsyncSignIfMember(llmqType llmq.Type, id llmq.Identifier, msgHash llmq.Identifier) {
	quorum, err := e.SelectQuorumForSigning(llmqType, 0, id)
	if err != nil || quorum == nil || !quorum.IsMember() {
		return
	}

	key := requestKey{Type: llmqType, ID: id}
	e.mu.Lock()
	bound, hasBound := e.votes[key]
	if hasBound && bound != msgHash {
		e.conflicts[key] = struct{}{}
		e.mu.Unlock()
		return
	}
	if !hasBound {
		e.votes[key] = msgHash
	}
	e.mu.Unlock()

	share, err := e.buildShare(llmqType, quorum, id, msgHash)
	if err != nil {
		return
	}
	_ = e.recordShare(quorum, share)
}

func (e *Engine) buildShare(llmqType llmq.Type, quorum *llmq.Quorum, id, msgHash llmq.Identifier) (llmq.SignatureShare, error) {
	secret := vss.ScalarFromBytes(quorum.OwnSecretKeyShare)
	hash := llmq.SignHash(llmqType, quorum.Hash, id, msgHash)
	sig, err := blssuite.SignWithScalar(secret, tagSigningShare, hash[:])
	if err != nil {
		return llmq.SignatureShare{}, fmt.Errorf("signing: could not sign share: %w", err)
	}
	return llmq.SignatureShare{
		Type:        llmqType,
		QuorumHash:  quorum.Hash,
		MemberIndex: uint16(quorum.OwnMemberIndex + 1),
		ID:          id,
		MsgHash:     msgHash,
		Share:       sig,
	}, nil
}

// HandleShare records an inbound signature share the Share Exchange (C6)
// has already batch-verified, and attempts aggregation once threshold
// shares from distinct members have arrived (spec.md §4.5, "Aggregation").
func (e *Engine) HandleShare(share llmq.SignatureShare) error {
	quorum, err := e.quorums.ByHash(share.Type, share.QuorumHash)
	if err != nil {
		return fmt.Errorf("signing: unknown quorum %x for share: %w", share.QuorumHash, err)
	}
	return e.recordShare(quorum, share)
}

func (e *Engine) recordShare(quorum *llmq.Quorum, share llmq.SignatureShare) error {
	key := shareBucketKey{Type: share.Type, ID: share.ID, MsgHash: share.MsgHash}

	e.mu.Lock()
	if _, done := e.recovered[key]; done {
		e.mu.Unlock()
		return nil
	}
	b, ok := e.buckets[key]
	if !ok {
		b = &bucket{quorumHash: share.QuorumHash, shares: make(map[uint16]llmq.SignatureShare), firstSeen: time.Now()}
		e.buckets[key] = b
	}
	b.shares[share.MemberIndex] = share
	count := len(b.shares)
	e.mu.Unlock()

	params, ok := e.registry.Get(share.Type)
	if !ok {
		return fmt.Errorf("signing: unknown llmq type %d", share.Type)
	}
	if count < params.Threshold {
		return nil
	}
	return e.tryRecover(quorum, key)
}

func (e *Engine) tryRecover(quorum *llmq.Quorum, key shareBucketKey) error {
	params, ok := e.registry.Get(key.Type)
	if !ok {
		return fmt.Errorf("signing: unknown llmq type %d", key.Type)
	}

	e.mu.Lock()
	if _, done := e.recovered[key]; done {
		e.mu.Unlock()
		return nil
	}
	b, ok := e.buckets[key]
	if !ok {
		e.mu.Unlock()
		return nil
	}
	shares := make([]blssuite.Share, 0, len(b.shares))
	for idx, s := range b.shares {
		shares = append(shares, blssuite.Share{Index: int(idx), Sig: crypto.Signature(s.Share)})
	}
	firstSeen := b.firstSeen
	e.mu.Unlock()

	sig, err := blssuite.ReconstructThreshold(len(quorum.Members), params.Threshold, shares)
	if err != nil {
		return nil // not yet reconstructible from the shares seen so far
	}

	hash := llmq.SignHash(key.Type, quorum.Hash, key.ID, key.MsgHash)
	pk, err := blssuite.DecodePublicKey(quorum.QuorumPublicKey)
	if err != nil {
		return fmt.Errorf("signing: could not decode quorum public key: %w", err)
	}
	ok2, err := blssuite.Verify(pk, tagSigningShare, hash[:], sig)
	if err != nil || !ok2 {
		return fmt.Errorf("signing: reconstructed signature failed verification")
	}

	recovered := llmq.RecoveredSignature{
		Type:       key.Type,
		QuorumHash: quorum.Hash,
		ID:         key.ID,
		MsgHash:    key.MsgHash,
		Sig:        sig,
	}

	e.mu.Lock()
	if _, done := e.recovered[key]; done {
		e.mu.Unlock()
		return nil
	}
	e.recovered[key] = recovered
	delete(e.buckets, key)
	e.mu.Unlock()

	if e.collector != nil {
		e.collector.SigningRecovered(fmt.Sprintf("%d", key.Type), time.Since(firstSeen))
	}
	e.notify(recovered)
	return nil
}

// PushReconstructedRecoveredSig accepts a signature a peer (C7) has already
// batch-verified, skipping re-verification and re-aggregation (spec.md
// §4.5).
func (e *Engine) PushReconstructedRecoveredSig(recSig llmq.RecoveredSignature) {
	key := shareBucketKey{Type: recSig.Type, ID: recSig.ID, MsgHash: recSig.MsgHash}
	reqKey := requestKey{Type: recSig.Type, ID: recSig.ID}

	e.mu.Lock()
	if _, done := e.recovered[key]; done {
		e.mu.Unlock()
		return
	}
	e.recovered[key] = recSig
	delete(e.buckets, key)
	if _, hasBound := e.votes[reqKey]; !hasBound {
		e.votes[reqKey] = recSig.MsgHash
	}
	e.mu.Unlock()

	e.notify(recSig)
}

func (e *Engine) notify(sig llmq.RecoveredSignature) {
	e.listenersMu.Lock()
	listeners := append([]RecoveredSigListener(nil), e.listeners...)
	e.listenersMu.Unlock()
	for _, l := range listeners {
		l.RecoveredSignature(sig)
	}
}

// HasRecoveredSig reports whether a recovered signature already exists for
// (llmqType, id, msgHash).
func (e *Engine) HasRecoveredSig(llmqType llmq.Type, id, msgHash llmq.Identifier) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.recovered[shareBucketKey{Type: llmqType, ID: id, MsgHash: msgHash}]
	return ok
}

// GetVoteForId returns the msgHash this node is durably bound to for
// (llmqType, id), if any.
func (e *Engine) GetVoteForId(llmqType llmq.Type, id llmq.Identifier) (llmq.Identifier, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	msgHash, ok := e.votes[requestKey{Type: llmqType, ID: id}]
	return msgHash, ok
}

// IsConflicting reports whether msgHash differs from this node's bound
// vote for (llmqType, id).
func (e *Engine) IsConflicting(llmqType llmq.Type, id, msgHash llmq.Identifier) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	bound, ok := e.votes[requestKey{Type: llmqType, ID: id}]
	return ok && bound != msgHash
}
