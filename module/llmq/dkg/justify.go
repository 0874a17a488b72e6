package dkg

import (
	"fmt"

	"github.com/onflow/flow-go/crypto"

	"github.com/darkcoin/darkcoin/crypto/blssuite"
	"github.com/darkcoin/darkcoin/internal/vss"
	"github.com/darkcoin/darkcoin/model/llmq"
	"github.com/darkcoin/darkcoin/module/llmq/batch"
)

func justificationSignedPayload(anchor llmq.Anchor, proTxHash llmq.Identifier, entries []llmq.JustificationEntry) []byte {
	msg := llmq.JustificationMsg{
		Type:       anchor.Type,
		QuorumHash: anchor.BlockHash,
		ProTxHash:  proTxHash,
		Entries:    entries,
	}
	buf := msg.Encode()
	return buf[:len(buf)-96]
}

// BuildJustification runs Phase 3 for an accused member: reveals its
// plaintext share to every complainant so they can check it against the
// accused's published verification vector (spec.md §4.2, "Phase 3 --
// Justify"). A member never accused sends nothing.
func (s *Session) BuildJustification() (llmq.JustificationMsg, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.IsMember() {
		return llmq.JustificationMsg{}, false, fmt.Errorf("dkg: observer cannot justify")
	}
	if s.phase != PhaseJustify {
		return llmq.JustificationMsg{}, false, ErrWrongPhase
	}
	if s.justifiedSent {
		return llmq.JustificationMsg{}, false, nil
	}

	complainants := s.complainedAgainst[s.myProTxHash]
	if len(complainants) == 0 {
		return llmq.JustificationMsg{}, false, nil
	}
	if s.ownPolynomial == nil {
		return llmq.JustificationMsg{}, false, fmt.Errorf("dkg: no own polynomial to justify from")
	}

	entries := make([]llmq.JustificationEntry, 0, len(complainants))
	for complainant := range complainants {
		idx, ok := s.indexOf[complainant]
		if !ok {
			continue
		}
		var entry llmq.JustificationEntry
		entry.RecipientIdx = uint32(idx)
		share := s.ownPolynomial.EvalAt(idx + 1)
		copy(entry.PlainShare[:], scalarTo32(share))
		entries = append(entries, entry)
	}

	payload := justificationSignedPayload(s.anchor, s.myProTxHash, entries)
	sig, err := blssuite.Sign(s.operatorSK, tagJustify, payload)
	if err != nil {
		return llmq.JustificationMsg{}, false, fmt.Errorf("dkg: could not sign justification: %w", err)
	}

	msg := llmq.JustificationMsg{
		Type:       s.anchor.Type,
		QuorumHash: s.anchor.BlockHash,
		ProTxHash:  s.myProTxHash,
		Entries:    entries,
	}
	copy(msg.Sig[:], sig)

	s.justifiedSent = true
	s.resolveJustificationLocked(s.myProTxHash, entries)
	return msg, true, nil
}

// HandleJustification pre-verifies and applies an inbound Justification
// message: for each revealed (recipientIdx, plainShare) pair it checks the
// share against the accused member's published verification vector, and
// resolves the complaint if it matches (spec.md §4.2, "Phase 3").
func (s *Session) HandleJustification(msg llmq.JustificationMsg) (relay bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != PhaseJustify {
		s.scorer.Report(msg.ProTxHash, batch.Stale, "justification outside justify phase")
		return false, ErrWrongPhase
	}
	if err := s.checkAnchor(msg.Type, msg.QuorumHash); err != nil {
		s.scorer.Report(msg.ProTxHash, batch.Severe, "justification: wrong anchor")
		return false, err
	}
	idx, err := s.memberIndex(msg.ProTxHash)
	if err != nil {
		s.scorer.Report(msg.ProTxHash, batch.Severe, "justification: sender not a member")
		return false, err
	}
	if len(s.complainedAgainst[msg.ProTxHash]) == 0 {
		s.scorer.Report(msg.ProTxHash, batch.Minor, "justification with no outstanding complaint")
		return false, ErrNoComplaintPending
	}

	operatorKey, err := s.operatorKeyOf(idx)
	if err != nil {
		return false, err
	}
	pk, err := blssuite.DecodePublicKey(operatorKey)
	if err != nil {
		s.scorer.Report(msg.ProTxHash, batch.Severe, "justification: bad operator key on record")
		return false, err
	}
	payload := justificationSignedPayload(s.anchor, msg.ProTxHash, msg.Entries)
	sig := crypto.Signature(msg.Sig[:])
	ok, err := blssuite.Verify(pk, tagJustify, payload, sig)
	if err != nil || !ok {
		s.scorer.Report(msg.ProTxHash, batch.Severe, "justification: single signature invalid")
		return false, ErrInvalidSingleSig
	}

	for _, e := range msg.Entries {
		if int(e.RecipientIdx) >= len(s.members) {
			s.scorer.Report(msg.ProTxHash, batch.Severe, "justification: recipient index out of range")
			return false, ErrUnknownJustifyTarget
		}
	}

	s.resolveJustificationLocked(msg.ProTxHash, msg.Entries)
	return true, nil
}

// resolveJustificationLocked checks each revealed share against the
// accused member's verification vector and updates failedOwnShares/bad
// accordingly. Caller holds s.mu.
func (s *Session) resolveJustificationLocked(accused llmq.Identifier, entries []llmq.JustificationEntry) {
	state, ok := s.contributions[accused]
	if !ok || state.vvecKeys == nil {
		s.bad[accused] = struct{}{}
		return
	}
	for _, e := range entries {
		share := vss.ScalarFromBytes(e.PlainShare[:])
		expected, err := blssuite.EvaluateCommitment(state.vvecKeys, int(e.RecipientIdx)+1)
		if err != nil {
			s.bad[accused] = struct{}{}
			continue
		}
		derived, err := blssuite.ScalarToPublicKeyShare(share)
		if err != nil || !blssuite.PublicKeysEqual(expected, derived) {
			s.bad[accused] = struct{}{}
			continue
		}
		if int(e.RecipientIdx) == s.myIdx {
			delete(s.failedOwnShares, accused)
			s.decryptedOwnShares[accused] = share
		}
		delete(s.complainedAgainst[accused], s.members[e.RecipientIdx].ProTxHash)
	}
}
