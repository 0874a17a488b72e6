// Package storage declares the persistence contracts the LLMQ subsystem
// relies on (spec.md §6, "Persisted state layout"), independent of the
// concrete key-value engine. storage/badger provides the
// github.com/dgraph-io/badger/v2-backed implementation, mirroring the
// teacher's storage/storage.go + storage/badger split.
package storage

import "errors"

// Sentinel errors shared by every storage implementation, in the style of
// the teacher's storage/errors.go.
var (
	// ErrNotFound is returned when a lookup key does not exist.
	ErrNotFound = errors.New("storage: entity not found")
	// ErrAlreadyExists is returned by an insert-only write when the key is
	// already present.
	ErrAlreadyExists = errors.New("storage: entity already exists")
)

// QuorumSnapshots persists QuorumSnapshot records keyed by
// (llmqType, cycleAnchorBlockHash), i.e. the "qs" table of spec.md §6.
type QuorumSnapshots interface {
	Store(snapshot SnapshotRecord) error
	ByAnchor(llmqType uint8, cycleAnchorBlockHash [32]byte) (SnapshotRecord, error)
}

// SnapshotRecord is the encoded form stored under the "qs" key; callers
// decode/encode via model/llmq.QuorumSnapshot themselves, storage only
// moves bytes.
type SnapshotRecord struct {
	LLMQType             uint8
	CycleAnchorBlockHash [32]byte
	Encoded              []byte
}

// DKGContributions persists, per spec.md §4.3 ("Persistence"), the
// secret-key contributions and verification vectors a session has received
// so a restart mid-window does not lose partial DKG state. Keyed by
// (anchor, senderProTxHash, messageKind) per spec.md §6's "DKG message
// archive".
type DKGContributions interface {
	StoreMessage(anchor AnchorKey, senderProTxHash [32]byte, kind MessageKind, encoded []byte) error
	MessagesForAnchor(anchor AnchorKey) ([]StoredMessage, error)
	DeleteAnchor(anchor AnchorKey) error
}

// AnchorKey is the (llmqType, quorumHash) pair every DKG-scoped persisted
// record is keyed by.
type AnchorKey struct {
	LLMQType   uint8
	QuorumHash [32]byte
}

// MessageKind discriminates the DKG message archive's value space.
type MessageKind uint8

const (
	MessageContribution MessageKind = iota
	MessageComplaint
	MessageJustification
	MessagePrematureCommitment
)

// StoredMessage is one archived DKG message.
type StoredMessage struct {
	SenderProTxHash [32]byte
	Kind            MessageKind
	Encoded         []byte
}

// InstantSendLocks persists the three-way islock index plus the
// last-ChainLocked watermark (spec.md §6: "is_i", "is_tx", "is_in",
// "is_lcb").
type InstantSendLocks interface {
	Store(hash [32]byte, txid [32]byte, inputs [][36]byte, encoded []byte) error
	ByHash(hash [32]byte) ([]byte, error)
	HashByTxID(txid [32]byte) ([32]byte, error)
	HashByInput(input [36]byte) ([32]byte, error)
	Remove(hash [32]byte, txid [32]byte, inputs [][36]byte) error

	LastChainLockedBlock() ([32]byte, bool, error)
	SetLastChainLockedBlock(blockHash [32]byte) error
}

// Quorums persists materialized Quorum records keyed by (llmqType,
// quorumHash), the Quorum Store's (C4, spec.md §4.4) durable backing so a
// restart does not require replaying every FinalCommitment, and so a
// node's own threshold secret-key share survives process restarts.
type Quorums interface {
	Store(llmqType uint8, quorumHash [32]byte, encoded []byte) error
	ByHash(llmqType uint8, quorumHash [32]byte) ([]byte, error)
	// Recent returns the encoded records for llmqType in the order they
	// were stored, most-recent-first, capped at n.
	Recent(llmqType uint8, n int) ([][]byte, error)
	Remove(llmqType uint8, quorumHash [32]byte) error
}
