package badger

import (
	"github.com/dgraph-io/badger/v2"

	"github.com/darkcoin/darkcoin/storage"
	"github.com/darkcoin/darkcoin/storage/badger/operation"
)

// DKGContributions is the badger-backed storage.DKGContributions
// implementation, the DKG message archive of spec.md §4.3 and §6.
type DKGContributions struct {
	db *badger.DB
}

func NewDKGContributions(db *badger.DB) *DKGContributions {
	return &DKGContributions{db: db}
}

var _ storage.DKGContributions = (*DKGContributions)(nil)

func (s *DKGContributions) StoreMessage(anchor storage.AnchorKey, senderProTxHash [32]byte, kind storage.MessageKind, encoded []byte) error {
	key := operation.DKGMessageKey(anchor.LLMQType, anchor.QuorumHash, senderProTxHash, byte(kind))
	return s.db.Update(operation.Upsert(key, encoded))
}

func (s *DKGContributions) MessagesForAnchor(anchor storage.AnchorKey) ([]storage.StoredMessage, error) {
	prefix := operation.DKGAnchorPrefix(anchor.LLMQType, anchor.QuorumHash)
	var out []storage.StoredMessage
	err := s.db.View(operation.IteratePrefix(prefix, func(key, value []byte) error {
		// key = [prefix(1)][llmqType(1)][quorumHash(32)][senderProTxHash(32)][kind(1)]
		const senderOffset = 1 + 1 + 32
		if len(key) != senderOffset+32+1 {
			return nil
		}
		var sender [32]byte
		copy(sender[:], key[senderOffset:senderOffset+32])
		kind := storage.MessageKind(key[senderOffset+32])
		cp := make([]byte, len(value))
		copy(cp, value)
		out = append(out, storage.StoredMessage{
			SenderProTxHash: sender,
			Kind:            kind,
			Encoded:         cp,
		})
		return nil
	}))
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *DKGContributions) DeleteAnchor(anchor storage.AnchorKey) error {
	prefix := operation.DKGAnchorPrefix(anchor.LLMQType, anchor.QuorumHash)
	var keys [][]byte
	err := s.db.View(operation.IteratePrefix(prefix, func(key, _ []byte) error {
		keys = append(keys, append([]byte(nil), key...))
		return nil
	}))
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		for _, key := range keys {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}
