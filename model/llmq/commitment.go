package llmq

// PrematureCommitment is one member's signed assertion of the quorum's
// public key and valid-members set, prior to aggregation (spec.md §3).
type PrematureCommitment struct {
	Anchor                   Anchor
	ProTxHash                Identifier
	ValidMembers             *BitSet
	QuorumPublicKey          []byte
	VerificationVectorHash   Identifier
	QuorumIndex              uint32 // only meaningful when the type is Indexed
	ThresholdSigShare        []byte // BLS share over CommitmentHash
	SingleSig                []byte // operator-key signature over CommitmentHash
}

// CommitmentHash computes H(llmqType || quorumHash || validMembers ||
// quorumPublicKey || verificationVectorHash [|| quorumIndex if indexed]),
// per spec.md §4.2 ("Phase 4 — Premature commit").
func (c PrematureCommitment) CommitmentHash(indexed bool) Identifier {
	parts := [][]byte{
		{byte(c.Anchor.Type)},
		c.Anchor.BlockHash[:],
		c.ValidMembers.Encode(),
		c.QuorumPublicKey,
		c.VerificationVectorHash[:],
	}
	if indexed {
		var idx [4]byte
		putUint32(idx[:], c.QuorumIndex)
		parts = append(parts, idx[:])
	}
	return DoubleSHA256(parts...)
}

// GroupKey groups premature commitments that can be aggregated together:
// they must agree on validMembers, quorumPublicKey and verificationVectorHash
// (spec.md §4.2, "Finalize").
func (c PrematureCommitment) GroupKey() Identifier {
	return DoubleSHA256(c.ValidMembers.Encode(), c.QuorumPublicKey, c.VerificationVectorHash[:])
}

// FinalCommitment is the aggregated form of >= threshold PrematureCommitments
// sharing the same (validMembers, quorumPublicKey, verificationVectorHash),
// with QuorumSig as the BLS-aggregated threshold signature (spec.md §3).
type FinalCommitment struct {
	Anchor                 Anchor
	ValidMembers           *BitSet
	QuorumPublicKey        []byte
	VerificationVectorHash Identifier
	QuorumIndex            uint32
	QuorumSig              []byte
}

func putUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
