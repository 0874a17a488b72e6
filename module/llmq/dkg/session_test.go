package dkg

import (
	"testing"

	"github.com/onflow/flow-go/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darkcoin/darkcoin/crypto/blssuite"
	"github.com/darkcoin/darkcoin/model/llmq"
	"github.com/darkcoin/darkcoin/module/llmq/batch"
)

type testMember struct {
	proTxHash llmq.Identifier
	sk        crypto.PrivateKey
	pk        []byte
}

func mkHash(seed byte) llmq.Identifier {
	var h llmq.Identifier
	h[31] = seed
	return h
}

func seed32(b byte) []byte {
	s := make([]byte, 32)
	for i := range s {
		s[i] = b
	}
	return s
}

func buildMembers(t *testing.T, n int) ([]testMember, []llmq.Masternode) {
	t.Helper()
	members := make([]testMember, n)
	list := make([]llmq.Masternode, n)
	for i := 0; i < n; i++ {
		sk, err := blssuite.GenerateOperatorKey(seed32(byte(i + 1)))
		require.NoError(t, err)
		pkBytes, err := blssuite.EncodePublicKey(sk.PublicKey())
		require.NoError(t, err)
		members[i] = testMember{proTxHash: mkHash(byte(i + 1)), sk: sk, pk: pkBytes}
		list[i] = llmq.Masternode{ProTxHash: members[i].proTxHash, OperatorPubKey: pkBytes, Valid: true}
	}
	return members, list
}

// TestDKGSessionFullRoundNoMisbehavior runs a 4-member, threshold-3 session
// to completion with every member behaving honestly, checking that all
// sessions converge on the same FinalCommitment.
func TestDKGSessionFullRoundNoMisbehavior(t *testing.T) {
	const n, threshold = 4, 3
	members, list := buildMembers(t, n)

	anchor := llmq.Anchor{Type: llmq.TypeInstantSend, BlockHash: mkHash(100)}
	params := llmq.Params{Type: llmq.TypeInstantSend, Size: n, Threshold: threshold}

	sessions := make([]*Session, n)
	for i := range members {
		sessions[i] = NewSession(anchor, params, list, members[i].proTxHash, members[i].sk, batch.NewScorer())
	}

	// Phase 1: contribute.
	contributions := make([]llmq.ContributionMsg, n)
	for i, s := range sessions {
		msg, err := s.BuildContribution()
		require.NoError(t, err)
		contributions[i] = msg
	}
	for _, s := range sessions {
		for i, msg := range contributions {
			if msg.ProTxHash == s.myProTxHash {
				continue
			}
			relay, err := s.HandleContribution(msg)
			require.NoErrorf(t, err, "member %d handling contribution %d", s.myIdx, i)
			assert.True(t, relay)
		}
	}
	for _, s := range sessions {
		assert.Equal(t, PhaseComplain, s.Advance())
	}

	// Phase 2: complain -- nobody has anything to complain about.
	for _, s := range sessions {
		msg, err := s.BuildComplaint()
		require.NoError(t, err)
		assert.Equal(t, 0, msg.Complaints.PopCount())
	}
	for _, s := range sessions {
		assert.Equal(t, PhaseJustify, s.Advance())
	}

	// Phase 3: justify -- nothing to justify.
	for _, s := range sessions {
		_, sent, err := s.BuildJustification()
		require.NoError(t, err)
		assert.False(t, sent)
	}
	for _, s := range sessions {
		assert.Equal(t, PhasePrematureCommit, s.Advance())
	}

	// Phase 4: premature commit.
	commitments := make([]llmq.PrematureCommitmentMsg, n)
	for i, s := range sessions {
		msg, ok, err := s.BuildPrematureCommitment()
		require.NoError(t, err)
		require.True(t, ok)
		commitments[i] = msg
	}
	for _, s := range sessions {
		for _, msg := range commitments {
			if msg.ProTxHash == s.myProTxHash {
				continue
			}
			relay, err := s.HandlePrematureCommitment(msg)
			require.NoError(t, err)
			assert.True(t, relay)
		}
	}

	var finals []*llmq.FinalCommitment
	for _, s := range sessions {
		final, ok, err := s.TryFinalize()
		require.NoError(t, err)
		require.True(t, ok)
		finals = append(finals, final)
	}
	for i := 1; i < len(finals); i++ {
		assert.Equal(t, finals[0].QuorumPublicKey, finals[i].QuorumPublicKey)
		assert.Equal(t, finals[0].QuorumSig, finals[i].QuorumSig)
	}
}

// TestDKGSessionComplaintAndJustification runs a session where one member
// (idx 1) sends a corrupted share to idx 0, triggering a complaint that idx
// 1 then justifies, restoring idx 0's view of the share.
func TestDKGSessionComplaintAndJustification(t *testing.T) {
	const n, threshold = 4, 3
	members, list := buildMembers(t, n)
	anchor := llmq.Anchor{Type: llmq.TypeInstantSend, BlockHash: mkHash(101)}
	params := llmq.Params{Type: llmq.TypeInstantSend, Size: n, Threshold: threshold}

	sessions := make([]*Session, n)
	for i := range members {
		sessions[i] = NewSession(anchor, params, list, members[i].proTxHash, members[i].sk, batch.NewScorer())
	}

	contributions := make([]llmq.ContributionMsg, n)
	for i, s := range sessions {
		msg, err := s.BuildContribution()
		require.NoError(t, err)
		contributions[i] = msg
	}
	// Corrupt member 1's share destined for member 0, then re-sign the
	// contribution so it still passes the single-signature check.
	contributions[1].EncryptedShares[0] = append([]byte{0xFF}, contributions[1].EncryptedShares[0][1:]...)
	payload := contributionSignedPayload(anchor, members[1].proTxHash, contributions[1].VerificationVector, contributions[1].EncryptedShares)
	sig, err := blssuite.Sign(members[1].sk, tagContribution, payload)
	require.NoError(t, err)
	contributions[1].SingleSig = [96]byte{}
	copy(contributions[1].SingleSig[:], sig)

	for _, s := range sessions {
		for _, msg := range contributions {
			if msg.ProTxHash == s.myProTxHash {
				continue
			}
			_, _ = s.HandleContribution(msg)
		}
	}
	for _, s := range sessions {
		s.Advance()
	}

	assert.Contains(t, sessions[0].failedOwnShares, members[1].proTxHash)

	complaints := make([]llmq.ComplaintMsg, n)
	for i, s := range sessions {
		msg, err := s.BuildComplaint()
		require.NoError(t, err)
		complaints[i] = msg
	}
	assert.Equal(t, 1, complaints[0].Complaints.PopCount())
	assert.True(t, complaints[0].Complaints.Get(1))

	for _, s := range sessions {
		for _, msg := range complaints {
			if msg.ProTxHash == s.myProTxHash {
				continue
			}
			_, _ = s.HandleComplaint(msg)
		}
	}
	for _, s := range sessions {
		s.Advance()
	}

	justifications := make([]llmq.JustificationMsg, 0, n)
	for _, s := range sessions {
		msg, sent, err := s.BuildJustification()
		require.NoError(t, err)
		if sent {
			justifications = append(justifications, msg)
		}
	}
	require.Len(t, justifications, 1, "only the accused member should justify")

	for _, s := range sessions {
		for _, msg := range justifications {
			if msg.ProTxHash == s.myProTxHash {
				continue
			}
			_, _ = s.HandleJustification(msg)
		}
	}

	assert.NotContains(t, sessions[0].failedOwnShares, members[1].proTxHash)
}
