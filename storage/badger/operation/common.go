package operation

import (
	"fmt"

	"github.com/dgraph-io/badger/v2"

	"github.com/darkcoin/darkcoin/storage"
)

// Insert stores raw bytes under key, failing if the key already exists,
// mirroring the teacher's insert() (storage/badger/operation/common.go).
func Insert(key []byte, value []byte) func(*badger.Txn) error {
	return func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if err == nil {
			return storage.ErrAlreadyExists
		}
		if err != badger.ErrKeyNotFound {
			return fmt.Errorf("could not check key: %w", err)
		}
		if err := txn.Set(key, value); err != nil {
			return fmt.Errorf("could not store value: %w", err)
		}
		return nil
	}
}

// Upsert stores raw bytes under key regardless of whether it already
// exists.
func Upsert(key []byte, value []byte) func(*badger.Txn) error {
	return func(txn *badger.Txn) error {
		if err := txn.Set(key, value); err != nil {
			return fmt.Errorf("could not store value: %w", err)
		}
		return nil
	}
}

// Retrieve reads the raw bytes under key, returning storage.ErrNotFound if
// absent.
func Retrieve(key []byte, out *[]byte) func(*badger.Txn) error {
	return func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return storage.ErrNotFound
			}
			return fmt.Errorf("could not load value: %w", err)
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("could not copy value: %w", err)
		}
		*out = val
		return nil
	}
}

// Remove deletes the key if present; removing an absent key is a no-op,
// matching the at-most-once semantics reorg cleanup and islock removal
// need (spec.md §8 invariant 5, §4.7 "ChainLock supersession").
func Remove(key []byte) func(*badger.Txn) error {
	return func(txn *badger.Txn) error {
		if err := txn.Delete(key); err != nil {
			return fmt.Errorf("could not delete key: %w", err)
		}
		return nil
	}
}

// IteratePrefix visits every key with the given prefix in order, invoking
// handle with a copy of the key and value for each. Mirrors the teacher's
// iterate() helper, narrowed to straight prefix scans since every LLMQ
// table is prefix-addressed (spec.md §6).
func IteratePrefix(prefix []byte, handle func(key, value []byte) error) func(*badger.Txn) error {
	return func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := item.KeyCopy(nil)
			val, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("could not copy value during iteration: %w", err)
			}
			if err := handle(key, val); err != nil {
				return err
			}
		}
		return nil
	}
}
