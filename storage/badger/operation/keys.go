// Package operation provides low-level badger.Txn closures over raw byte
// keys, following the teacher's storage/badger/operation package shape
// (insert/retrieve/update/remove helpers run inside db.Update/db.View).
// Unlike the teacher, LLMQ records are already binary-encoded by
// model/llmq's own wire codecs (spec.md §6), so values are stored as raw
// bytes rather than JSON-marshaled.
package operation

// Key prefixes, one byte each, matching the key families enumerated in
// spec.md §6.
const (
	prefixIsLockByHash  byte = 0x01 // ("is_i", islockHash)
	prefixIsLockByTxID  byte = 0x02 // ("is_tx", txid)
	prefixIsLockByInput byte = 0x03 // ("is_in", outpoint)
	prefixLastChainLock byte = 0x04 // ("is_lcb")
	prefixQuorumSnap    byte = 0x05 // ("qs", llmqType, cycleAnchorBlockHash)
	prefixDKGMessage    byte = 0x06 // (llmqType, anchor, senderProTxHash, messageKind)
	prefixQuorum        byte = 0x07 // (llmqType, quorumHash) -> [8B seq][body]
	prefixQuorumOrder   byte = 0x08 // (llmqType, invertedSeq) -> quorumHash
	prefixQuorumSeq     byte = 0x09 // (llmqType) -> next sequence number
)

func IsLockByHashKey(hash [32]byte) []byte {
	return append([]byte{prefixIsLockByHash}, hash[:]...)
}

func IsLockByTxIDKey(txid [32]byte) []byte {
	return append([]byte{prefixIsLockByTxID}, txid[:]...)
}

func IsLockByInputKey(input [36]byte) []byte {
	return append([]byte{prefixIsLockByInput}, input[:]...)
}

func LastChainLockKey() []byte {
	return []byte{prefixLastChainLock}
}

func QuorumSnapshotKey(llmqType uint8, cycleAnchorBlockHash [32]byte) []byte {
	key := make([]byte, 0, 1+1+32)
	key = append(key, prefixQuorumSnap, llmqType)
	key = append(key, cycleAnchorBlockHash[:]...)
	return key
}

func QuorumSnapshotPrefix() []byte {
	return []byte{prefixQuorumSnap}
}

func DKGMessageKey(llmqType uint8, quorumHash [32]byte, senderProTxHash [32]byte, kind byte) []byte {
	key := make([]byte, 0, 1+1+32+32+1)
	key = append(key, prefixDKGMessage, llmqType)
	key = append(key, quorumHash[:]...)
	key = append(key, senderProTxHash[:]...)
	key = append(key, kind)
	return key
}

func DKGAnchorPrefix(llmqType uint8, quorumHash [32]byte) []byte {
	key := make([]byte, 0, 1+1+32)
	key = append(key, prefixDKGMessage, llmqType)
	key = append(key, quorumHash[:]...)
	return key
}

func QuorumKey(llmqType uint8, quorumHash [32]byte) []byte {
	key := make([]byte, 0, 1+1+32)
	key = append(key, prefixQuorum, llmqType)
	key = append(key, quorumHash[:]...)
	return key
}

func QuorumSeqKey(llmqType uint8) []byte {
	return []byte{prefixQuorumSeq, llmqType}
}

// QuorumOrderKey encodes seq inverted (math.MaxUint64 - seq) so that
// ascending-key iteration over QuorumOrderPrefix yields newest-first
// order, matching ScanQuorums' "most recent, ordered newest-first"
// requirement (spec.md §4.4) without re-sorting on every read.
func QuorumOrderKey(llmqType uint8, seq uint64) []byte {
	key := make([]byte, 0, 1+1+8)
	key = append(key, prefixQuorumOrder, llmqType)
	var inv [8]byte
	putUint64BE(inv[:], ^seq)
	key = append(key, inv[:]...)
	return key
}

func QuorumOrderPrefix(llmqType uint8) []byte {
	return []byte{prefixQuorumOrder, llmqType}
}

func putUint64BE(b []byte, v uint64) {
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
}
