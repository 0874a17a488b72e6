package badger

import (
	"encoding/binary"
	"fmt"

	"github.com/dgraph-io/badger/v2"

	"github.com/darkcoin/darkcoin/storage"
	"github.com/darkcoin/darkcoin/storage/badger/operation"
)

// Quorums is the badger-backed storage.Quorums implementation: the
// materialized-quorum table the Quorum Store (C4) reads back after a
// restart, keyed by (llmqType, quorumHash) with a separate insertion-order
// index so ScanQuorums can answer "n most recent, newest-first" (spec.md
// §4.4) without scanning and re-sorting every record. Grounded on the same
// insert/upsert/iterate shape as storage/badger/dkgstate.go.
type Quorums struct {
	db *badger.DB
}

func NewQuorums(db *badger.DB) *Quorums {
	return &Quorums{db: db}
}

var _ storage.Quorums = (*Quorums)(nil)

func (q *Quorums) Store(llmqType uint8, quorumHash [32]byte, encoded []byte) error {
	return q.db.Update(func(txn *badger.Txn) error {
		seqKey := operation.QuorumSeqKey(llmqType)
		var seq uint64
		item, err := txn.Get(seqKey)
		switch {
		case err == nil:
			raw, copyErr := item.ValueCopy(nil)
			if copyErr != nil {
				return fmt.Errorf("could not read quorum sequence: %w", copyErr)
			}
			seq = binary.BigEndian.Uint64(raw)
		case err == badger.ErrKeyNotFound:
			seq = 0
		default:
			return fmt.Errorf("could not load quorum sequence: %w", err)
		}

		body := make([]byte, 8+len(encoded))
		binary.BigEndian.PutUint64(body[:8], seq)
		copy(body[8:], encoded)
		if err := txn.Set(operation.QuorumKey(llmqType, quorumHash), body); err != nil {
			return fmt.Errorf("could not store quorum body: %w", err)
		}
		if err := txn.Set(operation.QuorumOrderKey(llmqType, seq), quorumHash[:]); err != nil {
			return fmt.Errorf("could not store quorum order index: %w", err)
		}

		var nextSeq [8]byte
		binary.BigEndian.PutUint64(nextSeq[:], seq+1)
		if err := txn.Set(seqKey, nextSeq[:]); err != nil {
			return fmt.Errorf("could not advance quorum sequence: %w", err)
		}
		return nil
	})
}

func (q *Quorums) ByHash(llmqType uint8, quorumHash [32]byte) ([]byte, error) {
	var body []byte
	err := q.db.View(operation.Retrieve(operation.QuorumKey(llmqType, quorumHash), &body))
	if err != nil {
		return nil, err
	}
	if len(body) < 8 {
		return nil, fmt.Errorf("storage: malformed quorum record")
	}
	return body[8:], nil
}

func (q *Quorums) Recent(llmqType uint8, n int) ([][]byte, error) {
	prefix := operation.QuorumOrderPrefix(llmqType)
	var hashes [][32]byte
	err := q.db.View(operation.IteratePrefix(prefix, func(_, value []byte) error {
		if len(hashes) >= n {
			return nil
		}
		var h [32]byte
		copy(h[:], value)
		hashes = append(hashes, h)
		return nil
	}))
	if err != nil {
		return nil, err
	}
	out := make([][]byte, 0, len(hashes))
	for _, h := range hashes {
		body, err := q.ByHash(llmqType, h)
		if err != nil {
			return nil, fmt.Errorf("could not load quorum %x: %w", h, err)
		}
		out = append(out, body)
	}
	return out, nil
}

func (q *Quorums) Remove(llmqType uint8, quorumHash [32]byte) error {
	return q.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(operation.QuorumKey(llmqType, quorumHash))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return fmt.Errorf("could not load quorum body: %w", err)
		}
		raw, err := item.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("could not copy quorum body: %w", err)
		}
		if len(raw) < 8 {
			return fmt.Errorf("storage: malformed quorum record")
		}
		seq := binary.BigEndian.Uint64(raw[:8])
		if err := txn.Delete(operation.QuorumKey(llmqType, quorumHash)); err != nil {
			return fmt.Errorf("could not delete quorum body: %w", err)
		}
		if err := txn.Delete(operation.QuorumOrderKey(llmqType, seq)); err != nil {
			return fmt.Errorf("could not delete quorum order index: %w", err)
		}
		return nil
	})
}
