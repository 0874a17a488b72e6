package llmq

// SigningRequest is the (llmqType, id, msgHash) tuple selecting which
// quorum signs which payload (spec.md §3, "Signing Request").
type SigningRequest struct {
	Type    Type
	ID      Identifier
	MsgHash Identifier
}

// SignHash computes signHash = H(llmqType || quorumHash || id || msgHash),
// the normative derivation of spec.md §6.
func SignHash(t Type, quorumHash, id, msgHash Identifier) Identifier {
	return DoubleSHA256([]byte{byte(t)}, quorumHash[:], id[:], msgHash[:])
}

// SignatureShare is one member's BLS signature share over a signHash
// (spec.md §3).
type SignatureShare struct {
	Type        Type
	QuorumHash  Identifier
	MemberIndex uint16
	ID          Identifier
	MsgHash     Identifier
	Share       []byte
}

// SignHash computes this share's signHash.
func (s SignatureShare) SignHash() Identifier {
	return SignHash(s.Type, s.QuorumHash, s.ID, s.MsgHash)
}

// Key identifies the signing session this share belongs to, independent of
// which member sent it.
func (s SignatureShare) Key() SigningRequest {
	return SigningRequest{Type: s.Type, ID: s.ID, MsgHash: s.MsgHash}
}

// RecoveredSignature is the aggregated BLS signature reconstructed once
// enough valid shares have arrived (spec.md §3).
type RecoveredSignature struct {
	Type       Type
	QuorumHash Identifier
	ID         Identifier
	MsgHash    Identifier
	Sig        []byte
}

func (r RecoveredSignature) Key() SigningRequest {
	return SigningRequest{Type: r.Type, ID: r.ID, MsgHash: r.MsgHash}
}
