package instantsend

import (
	"encoding/binary"
	"fmt"

	"github.com/onflow/flow-go/crypto"

	"github.com/darkcoin/darkcoin/crypto/blssuite"
	"github.com/darkcoin/darkcoin/model/llmq"
)

// tagRecoveredSig is the domain tag an islock's aggregate signature is
// verified under, matching the recovered-signature tag the Signing Engine
// (C5) signs shares with.
const tagRecoveredSig = "llmq-signing-share"

// outpointKey derives the storage.InstantSendLocks input-index key: the
// outpoint's hash followed by its big-endian index, distinct from the
// little-endian wire encoding of model/llmq.InstantSendLockMsg.
func outpointKey(o llmq.Outpoint) [36]byte {
	var key [36]byte
	copy(key[:32], o.Hash[:])
	binary.BigEndian.PutUint32(key[32:], o.Index)
	return key
}

func fixed96(sig []byte) [96]byte {
	var out [96]byte
	copy(out[:], sig)
	return out
}

func quorumPublicKey(quorum *llmq.Quorum) (crypto.PublicKey, error) {
	pk, err := blssuite.DecodePublicKey(quorum.QuorumPublicKey)
	if err != nil {
		return nil, fmt.Errorf("instantsend: could not decode quorum public key: %w", err)
	}
	return pk, nil
}
