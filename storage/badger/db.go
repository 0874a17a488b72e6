// Package badger is the github.com/dgraph-io/badger/v2-backed
// implementation of the storage package's interfaces, mirroring the
// teacher's storage/badger package (single *badger.DB, one struct per
// table, operations expressed as badger.Txn closures).
package badger

import (
	"fmt"

	"github.com/dgraph-io/badger/v2"
)

// Open opens (creating if absent) a badger database at dir, using
// defaults tuned the way the teacher's cmd/scaffold bootstraps its
// protocol-state database: sync writes on, value log GC left to the
// caller's maintenance loop.
func Open(dir string) (*badger.DB, error) {
	opts := badger.DefaultOptions(dir).WithSyncWrites(true)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: could not open database at %s: %w", dir, err)
	}
	return db, nil
}
