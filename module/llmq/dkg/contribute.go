package dkg

import (
	"fmt"
	"math/big"

	"github.com/onflow/flow-go/crypto"

	"github.com/darkcoin/darkcoin/crypto/blssuite"
	"github.com/darkcoin/darkcoin/crypto/ies"
	"github.com/darkcoin/darkcoin/internal/vss"
	"github.com/darkcoin/darkcoin/model/llmq"
	"github.com/darkcoin/darkcoin/module/llmq/batch"
)

// contributionSignedPayload is the payload the operator single-signature
// covers: everything in the Contribution message except the signature
// itself (spec.md §6).
func contributionSignedPayload(anchor llmq.Anchor, proTxHash llmq.Identifier, vvec [][]byte, shares [][]byte) []byte {
	msg := llmq.ContributionMsg{
		Type:               anchor.Type,
		QuorumHash:         anchor.BlockHash,
		ProTxHash:          proTxHash,
		VerificationVector: vvec,
		EncryptedShares:    shares,
	}
	return msg.Encode()
}

// BuildContribution runs Phase 1 for a member: samples a random
// verification vector of degree threshold-1, derives per-member secret
// shares by polynomial evaluation, and IES-encrypts each to its recipient
// (spec.md §4.2, "Phase 1 -- Contribute").
func (s *Session) BuildContribution() (llmq.ContributionMsg, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.IsMember() {
		return llmq.ContributionMsg{}, fmt.Errorf("dkg: observer cannot contribute")
	}
	if s.phase != PhaseContribute {
		return llmq.ContributionMsg{}, ErrWrongPhase
	}

	poly, err := vss.NewRandomPolynomial(s.params.Threshold - 1)
	if err != nil {
		return llmq.ContributionMsg{}, fmt.Errorf("dkg: could not sample polynomial: %w", err)
	}
	s.ownPolynomial = poly

	vvecBytes := make([][]byte, s.params.Threshold)
	vvecKeys := make([]crypto.PublicKey, s.params.Threshold)
	for k, coeffBytes := range poly.CoefficientBytes() {
		scalar := vss.ScalarFromBytes(coeffBytes)
		pk, err := blssuite.ScalarToPublicKeyShare(scalar)
		if err != nil {
			return llmq.ContributionMsg{}, fmt.Errorf("dkg: could not lift coefficient %d: %w", k, err)
		}
		encoded, err := blssuite.EncodePublicKey(pk)
		if err != nil {
			return llmq.ContributionMsg{}, fmt.Errorf("dkg: could not encode coefficient %d: %w", k, err)
		}
		vvecBytes[k] = encoded
		vvecKeys[k] = pk
	}
	s.ownVVecBytes = vvecBytes

	shares := make([][]byte, len(s.members))
	for i, mn := range s.members {
		share := poly.EvalAt(i + 1)
		plaintext := scalarTo32(share)
		ciphertext, err := ies.Encrypt(mn.OperatorPubKey, plaintext)
		if err != nil {
			return llmq.ContributionMsg{}, fmt.Errorf("dkg: could not encrypt share for member %d: %w", i, err)
		}
		shares[i] = ciphertext
	}

	payload := contributionSignedPayload(s.anchor, s.myProTxHash, vvecBytes, shares)
	sig, err := blssuite.Sign(s.operatorSK, tagContribution, payload)
	if err != nil {
		return llmq.ContributionMsg{}, fmt.Errorf("dkg: could not sign contribution: %w", err)
	}

	msg := llmq.ContributionMsg{
		Type:               s.anchor.Type,
		QuorumHash:         s.anchor.BlockHash,
		ProTxHash:          s.myProTxHash,
		VerificationVector: vvecBytes,
		EncryptedShares:    shares,
	}
	copy(msg.SingleSig[:], sig)

	// Record our own authoritative contribution like any other member's, so
	// later phases treat it uniformly.
	s.contributions[s.myProTxHash] = &contributionState{msg: msg, vvecKeys: vvecKeys}
	return msg, nil
}

// HandleContribution pre-verifies and records an inbound Contribution
// message (spec.md §4.2, "Receivers pre-verify..."). relay is true whenever
// the message should still be gossiped on, even when it triggered a
// misbehavior score (conflicting contributions must still propagate to
// avoid split-brain).
func (s *Session) HandleContribution(msg llmq.ContributionMsg) (relay bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != PhaseContribute {
		s.scorer.Report(msg.ProTxHash, batch.Stale, "contribution outside contribute phase")
		return false, ErrWrongPhase
	}
	if err := s.checkAnchor(msg.Type, msg.QuorumHash); err != nil {
		s.scorer.Report(msg.ProTxHash, batch.Severe, "contribution: wrong anchor")
		return false, err
	}
	idx, err := s.memberIndex(msg.ProTxHash)
	if err != nil {
		s.scorer.Report(msg.ProTxHash, batch.Severe, "contribution: sender not a member")
		return false, err
	}
	if len(msg.VerificationVector) != s.params.Threshold {
		s.scorer.Report(msg.ProTxHash, batch.Severe, "contribution: wrong verification vector length")
		return false, ErrWrongVectorLength
	}
	if len(msg.EncryptedShares) != s.params.Size {
		s.scorer.Report(msg.ProTxHash, batch.Severe, "contribution: wrong recipient count")
		return false, ErrWrongRecipientCount
	}

	operatorKey, err := s.operatorKeyOf(idx)
	if err != nil {
		return false, err
	}
	pk, err := blssuite.DecodePublicKey(operatorKey)
	if err != nil {
		s.scorer.Report(msg.ProTxHash, batch.Severe, "contribution: bad operator key on record")
		return false, err
	}
	payload := contributionSignedPayload(s.anchor, msg.ProTxHash, msg.VerificationVector, msg.EncryptedShares)
	sig := crypto.Signature(msg.SingleSig[:])
	ok, err := blssuite.Verify(pk, tagContribution, payload, sig)
	if err != nil || !ok {
		s.scorer.Report(msg.ProTxHash, batch.Severe, "contribution: single signature invalid")
		return false, ErrInvalidSingleSig
	}

	vvecKeys := make([]crypto.PublicKey, len(msg.VerificationVector))
	for k, raw := range msg.VerificationVector {
		vk, err := blssuite.DecodePublicKey(raw)
		if err != nil {
			s.scorer.Report(msg.ProTxHash, batch.Severe, "contribution: malformed verification vector entry")
			return false, fmt.Errorf("dkg: could not decode verification vector entry %d: %w", k, err)
		}
		vvecKeys[k] = vk
	}

	if _, seen := s.contributions[msg.ProTxHash]; seen {
		// only the first is authoritative; still relay, but this member is
		// now marked bad for sending conflicting contributions.
		s.bad[msg.ProTxHash] = struct{}{}
		s.scorer.Report(msg.ProTxHash, batch.Minor, "conflicting contribution")
		return true, nil
	}
	s.contributions[msg.ProTxHash] = &contributionState{msg: msg, vvecKeys: vvecKeys}

	if s.IsMember() && idx != s.myIdx {
		myCiphertext := msg.EncryptedShares[s.myIdx]
		plaintext, err := ies.Decrypt(s.selfOperatorPubKey(), myCiphertext)
		if err != nil {
			s.failedOwnShares[msg.ProTxHash] = struct{}{}
			return true, nil
		}
		s.decryptedOwnShares[msg.ProTxHash] = vss.ScalarFromBytes(plaintext)
	}
	return true, nil
}

func (s *Session) selfOperatorPubKey() []byte {
	return s.members[s.myIdx].OperatorPubKey
}

// verifyOwnSharesLocked performs the deferred, batched own-share check at
// the Contribute -> Complain boundary (spec.md §4.2, "Own-share
// verification is deferred and batched"). Caller holds s.mu.
func (s *Session) verifyOwnSharesLocked() {
	if !s.IsMember() {
		return
	}
	for sender, state := range s.contributions {
		if sender == s.myProTxHash {
			continue
		}
		if state.vvecKeys == nil {
			continue // malformed verification vector, already rejected in HandleContribution
		}
		if _, failed := s.failedOwnShares[sender]; failed {
			continue
		}
		share, ok := s.decryptedOwnShares[sender]
		if !ok {
			s.failedOwnShares[sender] = struct{}{}
			continue
		}
		expected, err := blssuite.EvaluateCommitment(state.vvecKeys, s.myIdx+1)
		if err != nil {
			s.failedOwnShares[sender] = struct{}{}
			continue
		}
		derived, err := blssuite.ScalarToPublicKeyShare(share)
		if err != nil || !blssuite.PublicKeysEqual(expected, derived) {
			s.failedOwnShares[sender] = struct{}{}
		}
	}
}

func scalarTo32(s *big.Int) []byte {
	b := make([]byte, 32)
	sb := s.Bytes()
	copy(b[32-len(sb):], sb)
	return b
}
