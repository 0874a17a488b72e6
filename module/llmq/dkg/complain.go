package dkg

import (
	"fmt"

	"github.com/onflow/flow-go/crypto"

	"github.com/darkcoin/darkcoin/crypto/blssuite"
	"github.com/darkcoin/darkcoin/model/llmq"
	"github.com/darkcoin/darkcoin/module/llmq/batch"
)

// complaintSignedPayload is the payload the operator single-signature
// covers: everything in the Complaint message except the signature itself.
func complaintSignedPayload(anchor llmq.Anchor, proTxHash llmq.Identifier, against *llmq.BitSet) []byte {
	msg := llmq.ComplaintMsg{
		Type:       anchor.Type,
		QuorumHash: anchor.BlockHash,
		ProTxHash:  proTxHash,
		Complaints: against,
	}
	buf := msg.Encode()
	return buf[:len(buf)-96] // strip the zero-valued Sig field placeholder
}

// BuildComplaint runs Phase 2 for a member: accuses every sender whose
// contribution failed decryption or own-share verification, or who never
// contributed at all (spec.md §4.2, "Phase 2 -- Complain").
func (s *Session) BuildComplaint() (llmq.ComplaintMsg, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.IsMember() {
		return llmq.ComplaintMsg{}, fmt.Errorf("dkg: observer cannot complain")
	}
	if s.phase != PhaseComplain {
		return llmq.ComplaintMsg{}, ErrWrongPhase
	}

	against := llmq.NewBitSet(len(s.members))
	for i, mn := range s.members {
		if mn.ProTxHash == s.myProTxHash {
			continue
		}
		if _, bad := s.bad[mn.ProTxHash]; bad {
			against.Set(i)
			continue
		}
		state, ok := s.contributions[mn.ProTxHash]
		if !ok || state.vvecKeys == nil {
			against.Set(i)
			continue
		}
		if _, failed := s.failedOwnShares[mn.ProTxHash]; failed {
			against.Set(i)
		}
	}

	payload := complaintSignedPayload(s.anchor, s.myProTxHash, against)
	sig, err := blssuite.Sign(s.operatorSK, tagComplaint, payload)
	if err != nil {
		return llmq.ComplaintMsg{}, fmt.Errorf("dkg: could not sign complaint: %w", err)
	}

	msg := llmq.ComplaintMsg{
		Type:       s.anchor.Type,
		QuorumHash: s.anchor.BlockHash,
		ProTxHash:  s.myProTxHash,
		Complaints: against,
	}
	copy(msg.Sig[:], sig)

	s.complaintsBy[s.myProTxHash] = against
	s.recordComplaintsLocked(s.myProTxHash, against)
	return msg, nil
}

// HandleComplaint pre-verifies and records an inbound Complaint message
// (spec.md §4.2, "Phase 2"). At most one complaint per member is honored;
// later ones are a misbehavior, not a relay-worthy event.
func (s *Session) HandleComplaint(msg llmq.ComplaintMsg) (relay bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != PhaseComplain {
		s.scorer.Report(msg.ProTxHash, batch.Stale, "complaint outside complain phase")
		return false, ErrWrongPhase
	}
	if err := s.checkAnchor(msg.Type, msg.QuorumHash); err != nil {
		s.scorer.Report(msg.ProTxHash, batch.Severe, "complaint: wrong anchor")
		return false, err
	}
	idx, err := s.memberIndex(msg.ProTxHash)
	if err != nil {
		s.scorer.Report(msg.ProTxHash, batch.Severe, "complaint: sender not a member")
		return false, err
	}
	if msg.Complaints.Len() != len(s.members) {
		s.scorer.Report(msg.ProTxHash, batch.Severe, "complaint: wrong bitset length")
		return false, ErrWrongVectorLength
	}

	operatorKey, err := s.operatorKeyOf(idx)
	if err != nil {
		return false, err
	}
	pk, err := blssuite.DecodePublicKey(operatorKey)
	if err != nil {
		s.scorer.Report(msg.ProTxHash, batch.Severe, "complaint: bad operator key on record")
		return false, err
	}
	payload := complaintSignedPayload(s.anchor, msg.ProTxHash, msg.Complaints)
	sig := crypto.Signature(msg.Sig[:])
	ok, err := blssuite.Verify(pk, tagComplaint, payload, sig)
	if err != nil || !ok {
		s.scorer.Report(msg.ProTxHash, batch.Severe, "complaint: single signature invalid")
		return false, ErrInvalidSingleSig
	}

	if _, seen := s.complaintsBy[msg.ProTxHash]; seen {
		s.scorer.Report(msg.ProTxHash, batch.Severe, "duplicate complaint")
		return false, ErrDuplicateComplaint
	}
	s.complaintsBy[msg.ProTxHash] = msg.Complaints
	s.recordComplaintsLocked(msg.ProTxHash, msg.Complaints)
	return true, nil
}

// recordComplaintsLocked indexes who-accused-whom so Phase 3 knows which
// members owe a justification. Caller holds s.mu.
func (s *Session) recordComplaintsLocked(complainant llmq.Identifier, against *llmq.BitSet) {
	for i, mn := range s.members {
		if against.Get(i) {
			accused := mn.ProTxHash
			if s.complainedAgainst[accused] == nil {
				s.complainedAgainst[accused] = make(map[llmq.Identifier]struct{})
			}
			s.complainedAgainst[accused][complainant] = struct{}{}
		}
	}
}
