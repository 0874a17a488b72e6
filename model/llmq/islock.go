package llmq

// Outpoint identifies one transaction input: the hash of the transaction
// whose output is being spent, plus the output index (spec.md §6).
type Outpoint struct {
	Hash  Identifier
	Index uint32
}

// InstantSendLock is a recovered signature over the set of inputs of a
// transaction, asserting no double-spend (spec.md §3, "InstantSend Lock
// (islock)").
type InstantSendLock struct {
	TxID   Identifier
	Inputs []Outpoint
	Sig    []byte
}

// Hash computes the islock's own identity hash, used as the primary key of
// the "is_i" index (spec.md §6). It is independent of RequestID: two
// islocks with the same TxID but different Inputs/Sig are distinct objects.
func (l InstantSendLock) Hash() Identifier {
	parts := make([][]byte, 0, 2+2*len(l.Inputs))
	parts = append(parts, l.TxID[:])
	for _, in := range l.Inputs {
		parts = append(parts, in.Hash[:])
		var idx [4]byte
		putUint32(idx[:], in.Index)
		parts = append(parts, idx[:])
	}
	parts = append(parts, l.Sig)
	return DoubleSHA256(parts...)
}

// RequestID computes H("islock" || inputs_in_order), the signing-request id
// an islock's Sig must be a recovered signature over (spec.md §4.7).
func (l InstantSendLock) RequestID() Identifier {
	parts := make([][]byte, 0, len(l.Inputs)*2)
	for _, in := range l.Inputs {
		parts = append(parts, in.Hash[:])
		var idx [4]byte
		putUint32(idx[:], in.Index)
		parts = append(parts, idx[:])
	}
	return DomainHash("islock", parts...)
}

// InputLockRequestID computes H("inlock" || prevout), the per-input signing
// request id (spec.md §4.7).
func InputLockRequestID(o Outpoint) Identifier {
	var idx [4]byte
	putUint32(idx[:], o.Index)
	return DomainHash("inlock", o.Hash[:], idx[:])
}

// Validate enforces the islock structural invariants from spec.md §4.7
// ("pre-verify: non-empty inputs, no dup inputs, non-null txid, well-formed
// sig").
func (l InstantSendLock) Validate() error {
	if l.TxID.IsZero() {
		return errNullTxID
	}
	if len(l.Inputs) == 0 {
		return errEmptyInputs
	}
	seen := make(map[Outpoint]struct{}, len(l.Inputs))
	for _, in := range l.Inputs {
		if _, dup := seen[in]; dup {
			return errDuplicateInput
		}
		seen[in] = struct{}{}
	}
	if len(l.Sig) == 0 {
		return errMalformedSig
	}
	return nil
}
