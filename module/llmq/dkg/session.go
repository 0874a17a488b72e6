// Package dkg implements the LLMQ DKG Session (spec.md §4.2, component
// C2): the four-phase Joint-Feldman state machine run by every member of a
// forming quorum. Grounded on the teacher's module/dkg.Controller
// (phase-gated state machine guarded by a mutex, artifacts produced at the
// end) generalized from flow-go's single-phase-transition-channel design
// to the height-window-driven phase advancement spec.md §4.3 requires, and
// on module/signature's sentinel-error convention for the failure
// taxonomy.
package dkg

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/onflow/flow-go/crypto"

	"github.com/darkcoin/darkcoin/internal/vss"
	"github.com/darkcoin/darkcoin/model/llmq"
	"github.com/darkcoin/darkcoin/module/llmq/batch"
)

const (
	tagContribution = "llmq-dkg-contribution"
	tagComplaint    = "llmq-dkg-complaint"
	tagJustify      = "llmq-dkg-justify"
	tagCommitment   = "llmq-dkg-commitment"
)

// contributionState tracks the authoritative (first) contribution message
// from one member, plus its decoded verification vector (spec.md §4.2,
// "only the FIRST contribution from each member is authoritative").
type contributionState struct {
	msg      llmq.ContributionMsg
	vvecKeys []crypto.PublicKey
}

// Session runs one quorum's DKG from Contribute through Finalize (or
// Abandoned, if its window closes first).
type Session struct {
	mu sync.Mutex

	anchor  llmq.Anchor
	params  llmq.Params
	members []llmq.Masternode
	indexOf map[llmq.Identifier]int

	myProTxHash llmq.Identifier
	myIdx       int // -1 for observers
	operatorSK  crypto.PrivateKey

	phase  Phase
	scorer *batch.Scorer

	contributions map[llmq.Identifier]*contributionState
	bad           map[llmq.Identifier]struct{}

	complaintsBy      map[llmq.Identifier]*llmq.BitSet
	complainedAgainst map[llmq.Identifier]map[llmq.Identifier]struct{} // accused -> complainants pending justification

	justifiedSent bool

	decryptedOwnShares map[llmq.Identifier]*big.Int // sender -> my decrypted share
	failedOwnShares    map[llmq.Identifier]struct{} // sender -> decrypt/verify failure

	ownPolynomial *vss.Polynomial
	ownVVecBytes  [][]byte // 48B-encoded G2 points

	prematureCommitments map[llmq.Identifier]llmq.PrematureCommitment // sender -> first commitment
	commitGroups         map[llmq.Identifier][]llmq.Identifier        // group key -> senders, in arrival order

	final *llmq.FinalCommitment
}

// NewSession constructs a session for a quorum anchor. members MUST already
// be in the deterministic order produced by the selector (module/llmq/selector),
// since member index doubles as each member's 1-based BLS id. operatorSK is
// nil for observers (myIdx is then -1).
func NewSession(anchor llmq.Anchor, params llmq.Params, members []llmq.Masternode, myProTxHash llmq.Identifier, operatorSK crypto.PrivateKey, scorer *batch.Scorer) *Session {
	indexOf := make(map[llmq.Identifier]int, len(members))
	myIdx := -1
	for i, mn := range members {
		indexOf[mn.ProTxHash] = i
		if mn.ProTxHash == myProTxHash {
			myIdx = i
		}
	}
	return &Session{
		anchor:                anchor,
		params:                params,
		members:               members,
		indexOf:               indexOf,
		myProTxHash:           myProTxHash,
		myIdx:                 myIdx,
		operatorSK:            operatorSK,
		phase:                 PhaseContribute,
		scorer:                scorer,
		contributions:         make(map[llmq.Identifier]*contributionState),
		bad:                   make(map[llmq.Identifier]struct{}),
		complaintsBy:          make(map[llmq.Identifier]*llmq.BitSet),
		complainedAgainst:     make(map[llmq.Identifier]map[llmq.Identifier]struct{}),
		decryptedOwnShares:    make(map[llmq.Identifier]*big.Int),
		failedOwnShares:       make(map[llmq.Identifier]struct{}),
		prematureCommitments:  make(map[llmq.Identifier]llmq.PrematureCommitment),
		commitGroups:          make(map[llmq.Identifier][]llmq.Identifier),
	}
}

// Phase returns the session's current phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// IsMember reports whether the local node has a seat in this session.
func (s *Session) IsMember() bool {
	return s.myIdx >= 0
}

// Advance moves the session to the next phase in sequence, performing the
// work that belongs at a phase boundary (own-share verification on leaving
// Contribute). It is a no-op once the session has left the normal
// progression. Driven externally by the session manager's block-height
// window tracking (spec.md §4.3).
func (s *Session) Advance() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.phase {
	case PhaseContribute:
		s.verifyOwnSharesLocked()
	case PhasePrematureCommit, PhaseFinalized, PhaseAbandoned:
		return s.phase
	}
	s.phase = s.phase.next()
	return s.phase
}

// Abandon marks the session abandoned, e.g. because its window closed
// without finalizing (spec.md §4.2, "Finalize": "absent inclusion the
// session is abandoned at window close").
func (s *Session) Abandon() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseFinalized {
		s.phase = PhaseAbandoned
	}
}

// FinalCommitment returns the session's finalized commitment, if any.
func (s *Session) FinalCommitment() (*llmq.FinalCommitment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.final, s.final != nil
}

func (s *Session) checkAnchor(msgType llmq.Type, quorumHash llmq.Identifier) error {
	if msgType != s.anchor.Type || quorumHash != s.anchor.BlockHash {
		return ErrWrongAnchor
	}
	return nil
}

func (s *Session) memberIndex(proTxHash llmq.Identifier) (int, error) {
	idx, ok := s.indexOf[proTxHash]
	if !ok {
		return 0, ErrNotMember
	}
	return idx, nil
}

func (s *Session) operatorKeyOf(idx int) ([]byte, error) {
	key := s.members[idx].OperatorPubKey
	if len(key) == 0 {
		return nil, fmt.Errorf("dkg: member %d has no operator public key on record", idx)
	}
	return key, nil
}

func fieldSum(values []*big.Int) *big.Int {
	sum := new(big.Int)
	for _, v := range values {
		sum.Add(sum, v)
		sum.Mod(sum, vss.ScalarFieldOrder())
	}
	return sum
}
