package dkg

import (
	"fmt"
	"math/big"

	"github.com/onflow/flow-go/crypto"

	"github.com/darkcoin/darkcoin/crypto/blssuite"
	"github.com/darkcoin/darkcoin/model/llmq"
	"github.com/darkcoin/darkcoin/module/llmq/batch"
)

// validMembersLocked returns the bitset of members whose contribution this
// node accepts as good: contributed, not marked bad, and (for members we
// have a seat to check) own-share verified or justified (spec.md §4.2,
// "Phase 4 -- Premature commit": "validMembers excludes every member this
// node still considers at fault"). Caller holds s.mu.
func (s *Session) validMembersLocked() *llmq.BitSet {
	valid := llmq.NewBitSet(len(s.members))
	for i, mn := range s.members {
		if mn.ProTxHash == s.myProTxHash {
			valid.Set(i)
			continue
		}
		if _, bad := s.bad[mn.ProTxHash]; bad {
			continue
		}
		state, ok := s.contributions[mn.ProTxHash]
		if !ok || state.vvecKeys == nil {
			continue
		}
		if s.IsMember() {
			if _, failed := s.failedOwnShares[mn.ProTxHash]; failed {
				continue
			}
		}
		valid.Set(i)
	}
	return valid
}

// BuildPrematureCommitment runs Phase 4 for a member: aggregates every
// valid member's verification-vector constant term into the quorum public
// key, combines this node's accepted shares into its threshold-signature
// share, and signs the commitment hash (spec.md §4.2, "Phase 4 -- Premature
// commit"). Returns false if fewer than threshold members are valid.
func (s *Session) BuildPrematureCommitment() (llmq.PrematureCommitmentMsg, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.IsMember() {
		return llmq.PrematureCommitmentMsg{}, false, fmt.Errorf("dkg: observer cannot commit")
	}
	if s.phase != PhasePrematureCommit {
		return llmq.PrematureCommitmentMsg{}, false, ErrWrongPhase
	}

	valid := s.validMembersLocked()
	if valid.PopCount() < s.params.Threshold {
		return llmq.PrematureCommitmentMsg{}, false, ErrInsufficientValid
	}

	quorumPK, vvecHash, err := s.quorumPublicKeyLocked(valid)
	if err != nil {
		return llmq.PrematureCommitmentMsg{}, false, err
	}
	sigShareSecret, err := s.thresholdShareSecretLocked(valid)
	if err != nil {
		return llmq.PrematureCommitmentMsg{}, false, err
	}

	commitment := llmq.PrematureCommitment{
		Anchor:                 s.anchor,
		ProTxHash:              s.myProTxHash,
		ValidMembers:           valid,
		QuorumPublicKey:        quorumPK,
		VerificationVectorHash: vvecHash,
	}
	hash := commitment.CommitmentHash(s.params.Indexed)

	sigShare, err := blssuite.SignWithScalar(sigShareSecret, tagCommitment, hash[:])
	if err != nil {
		return llmq.PrematureCommitmentMsg{}, false, fmt.Errorf("dkg: could not sign commitment share: %w", err)
	}
	singleSig, err := blssuite.Sign(s.operatorSK, tagCommitment, hash[:])
	if err != nil {
		return llmq.PrematureCommitmentMsg{}, false, fmt.Errorf("dkg: could not sign commitment: %w", err)
	}

	commitment.ThresholdSigShare = sigShare
	commitment.SingleSig = singleSig

	msg := llmq.PrematureCommitmentMsg{
		Type:                   s.anchor.Type,
		QuorumHash:             s.anchor.BlockHash,
		ProTxHash:              s.myProTxHash,
		ValidMembers:           valid,
		VerificationVectorHash: vvecHash,
	}
	copy(msg.QuorumPublicKey[:], quorumPK)
	copy(msg.QuorumSigShare[:], sigShare)
	copy(msg.SingleSig[:], singleSig)

	s.recordCommitmentLocked(s.myProTxHash, commitment)
	return msg, true, nil
}

// HandlePrematureCommitment pre-verifies and records an inbound commitment,
// grouping it with others agreeing on (validMembers, quorumPublicKey,
// verificationVectorHash) so Advance/TryFinalize can aggregate once
// threshold agreeing commitments have arrived (spec.md §4.2, "Finalize").
func (s *Session) HandlePrematureCommitment(msg llmq.PrematureCommitmentMsg) (relay bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != PhasePrematureCommit {
		s.scorer.Report(msg.ProTxHash, batch.Stale, "commitment outside commit phase")
		return false, ErrWrongPhase
	}
	if err := s.checkAnchor(msg.Type, msg.QuorumHash); err != nil {
		s.scorer.Report(msg.ProTxHash, batch.Severe, "commitment: wrong anchor")
		return false, err
	}
	idx, err := s.memberIndex(msg.ProTxHash)
	if err != nil {
		s.scorer.Report(msg.ProTxHash, batch.Severe, "commitment: sender not a member")
		return false, err
	}
	if msg.ValidMembers.Len() != len(s.members) || msg.ValidMembers.PopCount() < s.params.Threshold {
		s.scorer.Report(msg.ProTxHash, batch.Severe, "commitment: invalid validMembers set")
		return false, fmt.Errorf("dkg: commitment validMembers set invalid")
	}

	operatorKey, err := s.operatorKeyOf(idx)
	if err != nil {
		return false, err
	}
	pk, err := blssuite.DecodePublicKey(operatorKey)
	if err != nil {
		s.scorer.Report(msg.ProTxHash, batch.Severe, "commitment: bad operator key on record")
		return false, err
	}

	commitment := llmq.PrematureCommitment{
		Anchor:                 s.anchor,
		ProTxHash:              msg.ProTxHash,
		ValidMembers:           msg.ValidMembers,
		QuorumPublicKey:        msg.QuorumPublicKey[:],
		VerificationVectorHash: msg.VerificationVectorHash,
	}
	hash := commitment.CommitmentHash(s.params.Indexed)

	singleSig := crypto.Signature(msg.SingleSig[:])
	ok, err := blssuite.Verify(pk, tagCommitment, hash[:], singleSig)
	if err != nil || !ok {
		s.scorer.Report(msg.ProTxHash, batch.Severe, "commitment: single signature invalid")
		return false, ErrInvalidSingleSig
	}

	memberKey, err := s.memberQuorumShareLocked(idx, msg.ValidMembers)
	if err != nil {
		s.scorer.Report(msg.ProTxHash, batch.Minor, "commitment: could not derive member share key")
		return true, nil
	}
	sigShare := crypto.Signature(msg.QuorumSigShare[:])
	shareOK, err := blssuite.Verify(memberKey, tagCommitment, hash[:], sigShare)
	if err != nil || !shareOK {
		s.scorer.Report(msg.ProTxHash, batch.Severe, "commitment: threshold signature share invalid")
		return true, nil
	}

	commitment.ThresholdSigShare = msg.QuorumSigShare[:]
	commitment.SingleSig = msg.SingleSig[:]

	if _, seen := s.prematureCommitments[msg.ProTxHash]; seen {
		s.scorer.Report(msg.ProTxHash, batch.Minor, "duplicate commitment")
		return true, nil
	}
	s.recordCommitmentLocked(msg.ProTxHash, commitment)
	return true, nil
}

func (s *Session) recordCommitmentLocked(sender llmq.Identifier, c llmq.PrematureCommitment) {
	s.prematureCommitments[sender] = c
	key := c.GroupKey()
	s.commitGroups[key] = append(s.commitGroups[key], sender)
}

// TryFinalize aggregates the largest agreeing commitment group once it
// reaches threshold, producing this session's FinalCommitment (spec.md
// §4.2, "Finalize"). It is idempotent and safe to call repeatedly as
// commitments arrive.
func (s *Session) TryFinalize() (*llmq.FinalCommitment, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.final != nil {
		return s.final, true, nil
	}
	if s.phase != PhasePrematureCommit {
		return nil, false, nil
	}

	var bestKey llmq.Identifier
	bestCount := 0
	for key, senders := range s.commitGroups {
		if len(senders) > bestCount {
			bestCount = len(senders)
			bestKey = key
		}
	}
	if bestCount < s.params.Threshold {
		return nil, false, nil
	}

	senders := s.commitGroups[bestKey]
	shares := make([]blssuite.Share, 0, len(senders))
	var sample llmq.PrematureCommitment
	for _, sender := range senders {
		c := s.prematureCommitments[sender]
		sample = c
		idx, ok := s.indexOf[sender]
		if !ok {
			continue
		}
		shares = append(shares, blssuite.Share{Index: idx + 1, Sig: crypto.Signature(c.ThresholdSigShare)})
	}

	quorumSig, err := blssuite.ReconstructThreshold(len(s.members), s.params.Threshold, shares)
	if err != nil {
		return nil, false, fmt.Errorf("dkg: could not reconstruct threshold signature: %w", err)
	}

	hash := sample.CommitmentHash(s.params.Indexed)
	quorumPK, err := blssuite.DecodePublicKey(sample.QuorumPublicKey)
	if err != nil {
		return nil, false, fmt.Errorf("dkg: could not decode quorum public key: %w", err)
	}
	ok, err := blssuite.Verify(quorumPK, tagCommitment, hash[:], quorumSig)
	if err != nil || !ok {
		return nil, false, fmt.Errorf("dkg: reconstructed quorum signature failed verification")
	}

	final := &llmq.FinalCommitment{
		Anchor:                 s.anchor,
		ValidMembers:           sample.ValidMembers,
		QuorumPublicKey:        sample.QuorumPublicKey,
		VerificationVectorHash: sample.VerificationVectorHash,
		QuorumIndex:            sample.QuorumIndex,
		QuorumSig:              quorumSig,
	}
	s.final = final
	s.phase = PhaseFinalized
	return final, true, nil
}

// quorumPublicKeyLocked aggregates every valid member's verification-vector
// constant term into the group public key, and hashes the full set of valid
// members' verification vectors into verificationVectorHash (spec.md §4.2,
// "Compute the aggregated quorumPublicKey"). Caller holds s.mu.
func (s *Session) quorumPublicKeyLocked(valid *llmq.BitSet) ([]byte, llmq.Identifier, error) {
	keys := make([]crypto.PublicKey, 0, valid.PopCount())
	vvecParts := make([][]byte, 0, valid.PopCount())
	for i, mn := range s.members {
		if !valid.Get(i) {
			continue
		}
		state, ok := s.contributions[mn.ProTxHash]
		if !ok || len(state.vvecKeys) == 0 {
			return nil, llmq.Identifier{}, fmt.Errorf("dkg: valid member %d has no recorded verification vector", i)
		}
		keys = append(keys, state.vvecKeys[0])
		for _, raw := range state.msg.VerificationVector {
			vvecParts = append(vvecParts, raw)
		}
	}
	agg, err := blssuite.AggregatePublicKeys(keys)
	if err != nil {
		return nil, llmq.Identifier{}, fmt.Errorf("dkg: could not aggregate quorum public key: %w", err)
	}
	encoded, err := blssuite.EncodePublicKey(agg)
	if err != nil {
		return nil, llmq.Identifier{}, fmt.Errorf("dkg: could not encode quorum public key: %w", err)
	}
	return encoded, llmq.DoubleSHA256(vvecParts...), nil
}

// thresholdShareSecretLocked sums this node's accepted decrypted shares
// (plus its own polynomial's self-evaluation) from every valid member into
// its combined secret-key share (spec.md §4.2, "sk_share = sum of accepted
// sk_share_from_j").
func (s *Session) thresholdShareSecretLocked(valid *llmq.BitSet) (*big.Int, error) {
	values := make([]*big.Int, 0, valid.PopCount())
	for i, mn := range s.members {
		if !valid.Get(i) {
			continue
		}
		if mn.ProTxHash == s.myProTxHash {
			if s.ownPolynomial == nil {
				return nil, fmt.Errorf("dkg: missing own polynomial")
			}
			values = append(values, s.ownPolynomial.EvalAt(s.myIdx+1))
			continue
		}
		share, ok := s.decryptedOwnShares[mn.ProTxHash]
		if !ok {
			return nil, fmt.Errorf("dkg: missing decrypted share from valid member %d", i)
		}
		values = append(values, share)
	}
	return fieldSum(values), nil
}

// memberQuorumShareLocked derives the public key that a member's threshold
// signature share must verify against: Σ_{valid k} vvec_k(idx+1), the
// public-side evaluation of that member's combined secret-key share
// (spec.md §4.5, "each share verifies against the quorum's per-member
// public key").
func (s *Session) memberQuorumShareLocked(idx int, valid *llmq.BitSet) (crypto.PublicKey, error) {
	terms := make([]crypto.PublicKey, 0, valid.PopCount())
	for i, mn := range s.members {
		if !valid.Get(i) {
			continue
		}
		state, ok := s.contributions[mn.ProTxHash]
		if !ok || len(state.vvecKeys) == 0 {
			return nil, fmt.Errorf("dkg: valid member %d has no recorded verification vector", i)
		}
		term, err := blssuite.EvaluateCommitment(state.vvecKeys, idx+1)
		if err != nil {
			return nil, err
		}
		terms = append(terms, term)
	}
	return blssuite.AggregatePublicKeys(terms)
}

// MaterializeQuorum builds the durable llmq.Quorum record the Quorum Store
// (C4) persists once this session has finalized (spec.md §4.4, "materialize
// a Quorum from a mined FinalCommitment"). Every member's per-member public
// key share is recomputed the same way memberQuorumShareLocked already does
// for verifying inbound commitments, so the materialized quorum is derived
// data rather than a second source of truth.
func (s *Session) MaterializeQuorum() (*llmq.Quorum, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.final == nil {
		return nil, fmt.Errorf("dkg: session has no final commitment yet")
	}
	valid := s.final.ValidMembers

	members := make([]llmq.QuorumMember, len(s.members))
	vvec := make([][]byte, 0, valid.PopCount())
	for i, mn := range s.members {
		members[i] = llmq.QuorumMember{ProTxHash: mn.ProTxHash, BLSID: i + 1}
		if !valid.Get(i) {
			continue
		}
		state, ok := s.contributions[mn.ProTxHash]
		if ok {
			vvec = append(vvec, state.msg.VerificationVector...)
		}
		share, err := s.memberQuorumShareLocked(i, valid)
		if err != nil {
			return nil, fmt.Errorf("dkg: could not derive public key share for member %d: %w", i, err)
		}
		encoded, err := blssuite.EncodePublicKey(share)
		if err != nil {
			return nil, fmt.Errorf("dkg: could not encode public key share for member %d: %w", i, err)
		}
		members[i].PublicKeyShare = encoded
	}

	q := &llmq.Quorum{
		Anchor:             s.anchor,
		Hash:               s.anchor.BlockHash,
		Members:            members,
		ValidMembers:       valid,
		QuorumPublicKey:    s.final.QuorumPublicKey,
		VerificationVector: vvec,
		OwnMemberIndex:     -1,
	}
	if s.IsMember() && valid.Get(s.myIdx) {
		secret, err := s.thresholdShareSecretLocked(valid)
		if err != nil {
			return nil, fmt.Errorf("dkg: could not derive own secret key share: %w", err)
		}
		q.OwnSecretKeyShare = scalarTo32(secret)
		q.OwnMemberIndex = s.myIdx
	}
	return q, nil
}
