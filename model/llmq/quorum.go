package llmq

import "encoding/binary"

// QuorumMember is one entry of a materialized Quorum's ordered member list.
type QuorumMember struct {
	ProTxHash Identifier
	// BLSID is the member's bls id used for polynomial evaluation (spec.md
	// §4.1, §4.2): conventionally the member's 1-based index in the
	// ordered member list.
	BLSID int
	// PublicKeyShare is this member's share of the group public key, as
	// produced by the DKG (nil if the member was excluded from
	// validMembers).
	PublicKeyShare []byte
}

// Quorum is the immutable, materialized form of a committed quorum
// (spec.md §3, "Quorum"). It is produced by the Quorum Store (C4) from a
// mined FinalCommitment.
type Quorum struct {
	Anchor          Anchor
	Hash            QuorumHash // equals Anchor.BlockHash once mined
	Members         []QuorumMember
	ValidMembers    *BitSet
	QuorumPublicKey []byte
	// VerificationVector is the list of per-member public verification
	// vector commitments of the *valid* members, concatenated in member
	// order; its hash is Anchor-bound via CommitmentHash.
	VerificationVector [][]byte
	// OwnSecretKeyShare is this node's own threshold secret share, present
	// only if the local node was a valid member (spec.md §4.4).
	OwnSecretKeyShare []byte
	// OwnMemberIndex is this node's index into Members, or -1 if the local
	// node was not a member (observer).
	OwnMemberIndex int
}

// IsMember reports whether the local node held a signing share in this
// quorum.
func (q *Quorum) IsMember() bool {
	return q.OwnMemberIndex >= 0 && len(q.OwnSecretKeyShare) > 0
}

// MemberByProTxHash looks up a member's index by proTxHash, or -1.
func (q *Quorum) MemberByProTxHash(proTxHash Identifier) int {
	for i, m := range q.Members {
		if m.ProTxHash == proTxHash {
			return i
		}
	}
	return -1
}

// Encode serializes a Quorum for storage under the Quorum Store's
// persistence table (spec.md §4.4), mirroring QuorumSnapshot's raw-binary
// wire convention rather than a generic marshaler.
func (q *Quorum) Encode() []byte {
	buf := make([]byte, 0, 256)
	buf = append(buf, byte(q.Anchor.Type))
	buf = append(buf, q.Anchor.BlockHash[:]...)
	buf = append(buf, q.Hash[:]...)

	buf = appendCompactSize(buf, uint64(len(q.Members)))
	for _, m := range q.Members {
		buf = append(buf, m.ProTxHash[:]...)
		var idx [4]byte
		binary.LittleEndian.PutUint32(idx[:], uint32(m.BLSID))
		buf = append(buf, idx[:]...)
		buf = appendBytesWithLen(buf, m.PublicKeyShare)
	}
	buf = append(buf, q.ValidMembers.Encode()...)
	buf = appendBytesWithLen(buf, q.QuorumPublicKey)
	buf = appendCompactSize(buf, uint64(len(q.VerificationVector)))
	for _, v := range q.VerificationVector {
		buf = appendBytesWithLen(buf, v)
	}
	buf = appendBytesWithLen(buf, q.OwnSecretKeyShare)
	var ownIdx [4]byte
	binary.LittleEndian.PutUint32(ownIdx[:], uint32(int32(q.OwnMemberIndex)))
	buf = append(buf, ownIdx[:]...)
	return buf
}

// DecodeQuorum is the exact inverse of Quorum.Encode.
func DecodeQuorum(data []byte) (*Quorum, error) {
	if len(data) < 1+32+32 {
		return nil, errShortBuffer
	}
	q := &Quorum{Anchor: Anchor{Type: Type(data[0])}}
	off := 1
	copy(q.Anchor.BlockHash[:], data[off:off+32])
	off += 32
	copy(q.Hash[:], data[off:off+32])
	off += 32

	memberCount, n, err := readCompactSize(data[off:])
	if err != nil {
		return nil, err
	}
	off += n
	q.Members = make([]QuorumMember, memberCount)
	for i := range q.Members {
		if len(data) < off+32+4 {
			return nil, errShortBuffer
		}
		copy(q.Members[i].ProTxHash[:], data[off:off+32])
		off += 32
		q.Members[i].BLSID = int(binary.LittleEndian.Uint32(data[off : off+4]))
		off += 4
		share, consumed, err := readBytesWithLen(data[off:])
		if err != nil {
			return nil, err
		}
		if len(share) > 0 {
			q.Members[i].PublicKeyShare = append([]byte(nil), share...)
		}
		off += consumed
	}

	valid, consumed, err := DecodeBitSet(data[off:])
	if err != nil {
		return nil, err
	}
	q.ValidMembers = valid
	off += consumed

	pubKey, consumed, err := readBytesWithLen(data[off:])
	if err != nil {
		return nil, err
	}
	q.QuorumPublicKey = append([]byte(nil), pubKey...)
	off += consumed

	vvecCount, n, err := readCompactSize(data[off:])
	if err != nil {
		return nil, err
	}
	off += n
	q.VerificationVector = make([][]byte, vvecCount)
	for i := range q.VerificationVector {
		v, consumed, err := readBytesWithLen(data[off:])
		if err != nil {
			return nil, err
		}
		q.VerificationVector[i] = append([]byte(nil), v...)
		off += consumed
	}

	secretShare, consumed, err := readBytesWithLen(data[off:])
	if err != nil {
		return nil, err
	}
	if len(secretShare) > 0 {
		q.OwnSecretKeyShare = append([]byte(nil), secretShare...)
	}
	off += consumed

	if len(data) < off+4 {
		return nil, errShortBuffer
	}
	q.OwnMemberIndex = int(int32(binary.LittleEndian.Uint32(data[off : off+4])))
	return q, nil
}
