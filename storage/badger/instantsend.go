package badger

import (
	"fmt"

	"github.com/dgraph-io/badger/v2"

	"github.com/darkcoin/darkcoin/storage"
	"github.com/darkcoin/darkcoin/storage/badger/operation"
)

// InstantSendLocks is the badger-backed storage.InstantSendLocks
// implementation: the "is_i"/"is_tx"/"is_in"/"is_lcb" tables of spec.md
// §6. Store and Remove each run as one badger transaction, satisfying
// spec.md §5's "the atomic unit is one islock" and §8 invariant 6 ("every
// islock that reaches ProcessInstantSendLock and passes checks is
// persisted BEFORE its inv is relayed" -- atomicity here is what lets the
// caller treat "persisted" as a single instant).
type InstantSendLocks struct {
	db *badger.DB
}

func NewInstantSendLocks(db *badger.DB) *InstantSendLocks {
	return &InstantSendLocks{db: db}
}

var _ storage.InstantSendLocks = (*InstantSendLocks)(nil)

func (s *InstantSendLocks) Store(hash [32]byte, txid [32]byte, inputs [][36]byte, encoded []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(operation.IsLockByHashKey(hash), encoded); err != nil {
			return fmt.Errorf("could not store islock body: %w", err)
		}
		if err := txn.Set(operation.IsLockByTxIDKey(txid), hash[:]); err != nil {
			return fmt.Errorf("could not store txid index: %w", err)
		}
		for _, in := range inputs {
			if err := txn.Set(operation.IsLockByInputKey(in), hash[:]); err != nil {
				return fmt.Errorf("could not store input index: %w", err)
			}
		}
		return nil
	})
}

func (s *InstantSendLocks) ByHash(hash [32]byte) ([]byte, error) {
	var out []byte
	err := s.db.View(operation.Retrieve(operation.IsLockByHashKey(hash), &out))
	return out, err
}

func (s *InstantSendLocks) HashByTxID(txid [32]byte) ([32]byte, error) {
	var raw []byte
	err := s.db.View(operation.Retrieve(operation.IsLockByTxIDKey(txid), &raw))
	var hash [32]byte
	if err != nil {
		return hash, err
	}
	copy(hash[:], raw)
	return hash, nil
}

func (s *InstantSendLocks) HashByInput(input [36]byte) ([32]byte, error) {
	var raw []byte
	err := s.db.View(operation.Retrieve(operation.IsLockByInputKey(input), &raw))
	var hash [32]byte
	if err != nil {
		return hash, err
	}
	copy(hash[:], raw)
	return hash, nil
}

func (s *InstantSendLocks) Remove(hash [32]byte, txid [32]byte, inputs [][36]byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(operation.IsLockByHashKey(hash)); err != nil {
			return fmt.Errorf("could not delete islock body: %w", err)
		}
		if err := txn.Delete(operation.IsLockByTxIDKey(txid)); err != nil {
			return fmt.Errorf("could not delete txid index: %w", err)
		}
		for _, in := range inputs {
			if err := txn.Delete(operation.IsLockByInputKey(in)); err != nil {
				return fmt.Errorf("could not delete input index: %w", err)
			}
		}
		return nil
	})
}

func (s *InstantSendLocks) LastChainLockedBlock() ([32]byte, bool, error) {
	var raw []byte
	err := s.db.View(operation.Retrieve(operation.LastChainLockKey(), &raw))
	var hash [32]byte
	if err == storage.ErrNotFound {
		return hash, false, nil
	}
	if err != nil {
		return hash, false, err
	}
	copy(hash[:], raw)
	return hash, true, nil
}

func (s *InstantSendLocks) SetLastChainLockedBlock(blockHash [32]byte) error {
	return s.db.Update(operation.Upsert(operation.LastChainLockKey(), blockHash[:]))
}
