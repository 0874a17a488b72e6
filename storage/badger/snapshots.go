package badger

import (
	"github.com/dgraph-io/badger/v2"

	"github.com/darkcoin/darkcoin/storage"
	"github.com/darkcoin/darkcoin/storage/badger/operation"
)

// Snapshots is the badger-backed storage.QuorumSnapshots implementation,
// the "qs" table of spec.md §6.
type Snapshots struct {
	db *badger.DB
}

func NewSnapshots(db *badger.DB) *Snapshots {
	return &Snapshots{db: db}
}

var _ storage.QuorumSnapshots = (*Snapshots)(nil)

func (s *Snapshots) Store(rec storage.SnapshotRecord) error {
	key := operation.QuorumSnapshotKey(rec.LLMQType, rec.CycleAnchorBlockHash)
	return s.db.Update(operation.Upsert(key, rec.Encoded))
}

func (s *Snapshots) ByAnchor(llmqType uint8, cycleAnchorBlockHash [32]byte) (storage.SnapshotRecord, error) {
	key := operation.QuorumSnapshotKey(llmqType, cycleAnchorBlockHash)
	var encoded []byte
	err := s.db.View(operation.Retrieve(key, &encoded))
	if err != nil {
		return storage.SnapshotRecord{}, err
	}
	return storage.SnapshotRecord{
		LLMQType:             llmqType,
		CycleAnchorBlockHash: cycleAnchorBlockHash,
		Encoded:              encoded,
	}, nil
}
