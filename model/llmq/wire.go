package llmq

import "encoding/binary"

// This file implements the wire encodings of spec.md §6. All integers are
// little-endian; lengths for variable-size fields are compact-size, matching
// the teacher's codec conventions for its own wire types (model/messages).

// ContributionMsg is the Phase-1 DKG wire message.
type ContributionMsg struct {
	Type              Type
	QuorumHash        Identifier
	ProTxHash         Identifier
	VerificationVector [][]byte // compact-size count, then 48B each
	EncryptedShares   [][]byte // compact-size count, then compact-size·ciphertext each
	SingleSig         [96]byte
}

func (m ContributionMsg) Encode() []byte {
	buf := make([]byte, 0, 128)
	buf = append(buf, byte(m.Type))
	buf = append(buf, m.QuorumHash[:]...)
	buf = append(buf, m.ProTxHash[:]...)
	buf = appendCompactSize(buf, uint64(len(m.VerificationVector)))
	for _, v := range m.VerificationVector {
		buf = append(buf, v...)
	}
	buf = appendCompactSize(buf, uint64(len(m.EncryptedShares)))
	for _, c := range m.EncryptedShares {
		buf = appendBytesWithLen(buf, c)
	}
	buf = append(buf, m.SingleSig[:]...)
	return buf
}

func DecodeContributionMsg(data []byte) (ContributionMsg, error) {
	var m ContributionMsg
	if len(data) < 1+32+32 {
		return m, errShortBuffer
	}
	m.Type = Type(data[0])
	off := 1
	copy(m.QuorumHash[:], data[off:off+32])
	off += 32
	copy(m.ProTxHash[:], data[off:off+32])
	off += 32

	vvecCount, n, err := readCompactSize(data[off:])
	if err != nil {
		return m, err
	}
	off += n
	m.VerificationVector = make([][]byte, vvecCount)
	for i := range m.VerificationVector {
		if len(data) < off+48 {
			return m, errShortBuffer
		}
		v := make([]byte, 48)
		copy(v, data[off:off+48])
		m.VerificationVector[i] = v
		off += 48
	}

	shareCount, n, err := readCompactSize(data[off:])
	if err != nil {
		return m, err
	}
	off += n
	m.EncryptedShares = make([][]byte, shareCount)
	for i := range m.EncryptedShares {
		b, consumed, err := readBytesWithLen(data[off:])
		if err != nil {
			return m, err
		}
		cp := make([]byte, len(b))
		copy(cp, b)
		m.EncryptedShares[i] = cp
		off += consumed
	}

	if len(data) < off+96 {
		return m, errShortBuffer
	}
	copy(m.SingleSig[:], data[off:off+96])
	return m, nil
}

// ComplaintMsg is the Phase-2 DKG wire message.
type ComplaintMsg struct {
	Type       Type
	QuorumHash Identifier
	ProTxHash  Identifier
	Complaints *BitSet
	Sig        [96]byte
}

func (m ComplaintMsg) Encode() []byte {
	buf := make([]byte, 0, 128)
	buf = append(buf, byte(m.Type))
	buf = append(buf, m.QuorumHash[:]...)
	buf = append(buf, m.ProTxHash[:]...)
	buf = append(buf, m.Complaints.Encode()...)
	buf = append(buf, m.Sig[:]...)
	return buf
}

func DecodeComplaintMsg(data []byte) (ComplaintMsg, error) {
	var m ComplaintMsg
	if len(data) < 1+32+32 {
		return m, errShortBuffer
	}
	m.Type = Type(data[0])
	off := 1
	copy(m.QuorumHash[:], data[off:off+32])
	off += 32
	copy(m.ProTxHash[:], data[off:off+32])
	off += 32

	bs, consumed, err := DecodeBitSet(data[off:])
	if err != nil {
		return m, err
	}
	m.Complaints = bs
	off += consumed

	if len(data) < off+96 {
		return m, errShortBuffer
	}
	copy(m.Sig[:], data[off:off+96])
	return m, nil
}

// JustificationEntry is one (recipientIdx, plaintextShare) pair.
type JustificationEntry struct {
	RecipientIdx uint32
	PlainShare   [32]byte
}

// JustificationMsg is the Phase-3 DKG wire message.
type JustificationMsg struct {
	Type       Type
	QuorumHash Identifier
	ProTxHash  Identifier
	Entries    []JustificationEntry
	Sig        [96]byte
}

func (m JustificationMsg) Encode() []byte {
	buf := make([]byte, 0, 128)
	buf = append(buf, byte(m.Type))
	buf = append(buf, m.QuorumHash[:]...)
	buf = append(buf, m.ProTxHash[:]...)
	buf = appendCompactSize(buf, uint64(len(m.Entries)))
	for _, e := range m.Entries {
		var idx [4]byte
		binary.LittleEndian.PutUint32(idx[:], e.RecipientIdx)
		buf = append(buf, idx[:]...)
		buf = append(buf, e.PlainShare[:]...)
	}
	buf = append(buf, m.Sig[:]...)
	return buf
}

func DecodeJustificationMsg(data []byte) (JustificationMsg, error) {
	var m JustificationMsg
	if len(data) < 1+32+32 {
		return m, errShortBuffer
	}
	m.Type = Type(data[0])
	off := 1
	copy(m.QuorumHash[:], data[off:off+32])
	off += 32
	copy(m.ProTxHash[:], data[off:off+32])
	off += 32

	count, n, err := readCompactSize(data[off:])
	if err != nil {
		return m, err
	}
	off += n
	m.Entries = make([]JustificationEntry, count)
	for i := range m.Entries {
		if len(data) < off+4+32 {
			return m, errShortBuffer
		}
		m.Entries[i].RecipientIdx = binary.LittleEndian.Uint32(data[off : off+4])
		off += 4
		copy(m.Entries[i].PlainShare[:], data[off:off+32])
		off += 32
	}

	if len(data) < off+96 {
		return m, errShortBuffer
	}
	copy(m.Sig[:], data[off:off+96])
	return m, nil
}

// PrematureCommitmentMsg is the Phase-4 DKG wire message.
type PrematureCommitmentMsg struct {
	Type                   Type
	QuorumHash             Identifier
	ProTxHash              Identifier
	ValidMembers           *BitSet
	QuorumPublicKey        [48]byte
	VerificationVectorHash Identifier
	QuorumSigShare         [96]byte
	SingleSig              [96]byte
}

func (m PrematureCommitmentMsg) Encode() []byte {
	buf := make([]byte, 0, 256)
	buf = append(buf, byte(m.Type))
	buf = append(buf, m.QuorumHash[:]...)
	buf = append(buf, m.ProTxHash[:]...)
	buf = append(buf, m.ValidMembers.Encode()...)
	buf = append(buf, m.QuorumPublicKey[:]...)
	buf = append(buf, m.VerificationVectorHash[:]...)
	buf = append(buf, m.QuorumSigShare[:]...)
	buf = append(buf, m.SingleSig[:]...)
	return buf
}

func DecodePrematureCommitmentMsg(data []byte) (PrematureCommitmentMsg, error) {
	var m PrematureCommitmentMsg
	if len(data) < 1+32+32 {
		return m, errShortBuffer
	}
	m.Type = Type(data[0])
	off := 1
	copy(m.QuorumHash[:], data[off:off+32])
	off += 32
	copy(m.ProTxHash[:], data[off:off+32])
	off += 32

	bs, consumed, err := DecodeBitSet(data[off:])
	if err != nil {
		return m, err
	}
	m.ValidMembers = bs
	off += consumed

	if len(data) < off+48+32+96+96 {
		return m, errShortBuffer
	}
	copy(m.QuorumPublicKey[:], data[off:off+48])
	off += 48
	copy(m.VerificationVectorHash[:], data[off:off+32])
	off += 32
	copy(m.QuorumSigShare[:], data[off:off+96])
	off += 96
	copy(m.SingleSig[:], data[off:off+96])
	return m, nil
}

// SignatureShareMsg is the wire form of a SignatureShare.
type SignatureShareMsg struct {
	Type        Type
	QuorumHash  Identifier
	SignerIndex uint16
	ID          Identifier
	MsgHash     Identifier
	Share       [96]byte
}

func (m SignatureShareMsg) Encode() []byte {
	buf := make([]byte, 0, 1+32+2+32+32+96)
	buf = append(buf, byte(m.Type))
	buf = append(buf, m.QuorumHash[:]...)
	var idx [2]byte
	binary.LittleEndian.PutUint16(idx[:], m.SignerIndex)
	buf = append(buf, idx[:]...)
	buf = append(buf, m.ID[:]...)
	buf = append(buf, m.MsgHash[:]...)
	buf = append(buf, m.Share[:]...)
	return buf
}

func DecodeSignatureShareMsg(data []byte) (SignatureShareMsg, error) {
	var m SignatureShareMsg
	const want = 1 + 32 + 2 + 32 + 32 + 96
	if len(data) < want {
		return m, errShortBuffer
	}
	m.Type = Type(data[0])
	off := 1
	copy(m.QuorumHash[:], data[off:off+32])
	off += 32
	m.SignerIndex = binary.LittleEndian.Uint16(data[off : off+2])
	off += 2
	copy(m.ID[:], data[off:off+32])
	off += 32
	copy(m.MsgHash[:], data[off:off+32])
	off += 32
	copy(m.Share[:], data[off:off+96])
	return m, nil
}

// RecoveredSigMsg is the wire form of a RecoveredSignature.
type RecoveredSigMsg struct {
	Type       Type
	QuorumHash Identifier
	ID         Identifier
	MsgHash    Identifier
	Sig        [96]byte
}

func (m RecoveredSigMsg) Encode() []byte {
	buf := make([]byte, 0, 1+32+32+32+96)
	buf = append(buf, byte(m.Type))
	buf = append(buf, m.QuorumHash[:]...)
	buf = append(buf, m.ID[:]...)
	buf = append(buf, m.MsgHash[:]...)
	buf = append(buf, m.Sig[:]...)
	return buf
}

func DecodeRecoveredSigMsg(data []byte) (RecoveredSigMsg, error) {
	var m RecoveredSigMsg
	const want = 1 + 32 + 32 + 32 + 96
	if len(data) < want {
		return m, errShortBuffer
	}
	m.Type = Type(data[0])
	off := 1
	copy(m.QuorumHash[:], data[off:off+32])
	off += 32
	copy(m.ID[:], data[off:off+32])
	off += 32
	copy(m.MsgHash[:], data[off:off+32])
	off += 32
	copy(m.Sig[:], data[off:off+96])
	return m, nil
}

// InstantSendLockMsg is the wire form of an InstantSendLock.
type InstantSendLockMsg struct {
	TxID   Identifier
	Inputs []Outpoint
	Sig    [96]byte
}

func (m InstantSendLockMsg) Encode() []byte {
	buf := make([]byte, 0, 32+9+len(m.Inputs)*36+96)
	buf = append(buf, m.TxID[:]...)
	buf = appendCompactSize(buf, uint64(len(m.Inputs)))
	for _, in := range m.Inputs {
		buf = append(buf, in.Hash[:]...)
		var idx [4]byte
		binary.LittleEndian.PutUint32(idx[:], in.Index)
		buf = append(buf, idx[:]...)
	}
	buf = append(buf, m.Sig[:]...)
	return buf
}

func DecodeInstantSendLockMsg(data []byte) (InstantSendLockMsg, error) {
	var m InstantSendLockMsg
	if len(data) < 32 {
		return m, errShortBuffer
	}
	copy(m.TxID[:], data[:32])
	off := 32
	count, n, err := readCompactSize(data[off:])
	if err != nil {
		return m, err
	}
	off += n
	m.Inputs = make([]Outpoint, count)
	for i := range m.Inputs {
		if len(data) < off+36 {
			return m, errShortBuffer
		}
		copy(m.Inputs[i].Hash[:], data[off:off+32])
		off += 32
		m.Inputs[i].Index = binary.LittleEndian.Uint32(data[off : off+4])
		off += 4
	}
	if len(data) < off+96 {
		return m, errShortBuffer
	}
	copy(m.Sig[:], data[off:off+96])
	return m, nil
}

// ToInstantSendLock converts the wire form to the domain type.
func (m InstantSendLockMsg) ToInstantSendLock() InstantSendLock {
	return InstantSendLock{TxID: m.TxID, Inputs: m.Inputs, Sig: append([]byte(nil), m.Sig[:]...)}
}
