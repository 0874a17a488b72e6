// Package quorumstore implements the Quorum Store (spec.md §4.4, component
// C4): the durable, cached home for materialized quorums. A quorum is
// materialized once by the DKG Session (module/llmq/dkg.Session.MaterializeQuorum,
// C2/C3) at the moment its session finalizes, since only the session still
// holds the transient per-member verification-vector and decrypted-share
// state the materialization needs; this store owns what spec.md assigns to
// C4 from that point on: the durable backing, the per-llmqType LRU read
// path, ScanQuorums, and reorg eviction. Grounded on the teacher's
// storage/badger/cache.go read-through-cache pattern (hashicorp/golang-lru
// wrapping a storage interface, reporting hit/miss via module.CacheMetrics).
package quorumstore

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru"

	"github.com/darkcoin/darkcoin/model/llmq"
	"github.com/darkcoin/darkcoin/module/metrics"
	"github.com/darkcoin/darkcoin/storage"
)

// EvictionListener is the narrow capability trait (spec.md §9) the Signing
// Engine (C5) registers on so signing requests bound exclusively to an
// evicted quorum can be failed, without Store holding a back-reference to
// the signing engine itself.
type EvictionListener interface {
	QuorumEvicted(llmqType llmq.Type, quorumHash llmq.Identifier)
}

const resourceQuorum = "quorum"

// Store is the Quorum Store (C4).
type Store struct {
	mu sync.RWMutex

	registry  *llmq.Registry
	backing   storage.Quorums
	collector metrics.CacheMetrics

	caches map[llmq.Type]*lru.Cache // quorumHash -> *llmq.Quorum

	listenersMu sync.Mutex
	listeners   []EvictionListener
}

// NewStore builds a Store with one LRU cache per registered quorum type,
// sized signingActiveQuorumCount+1 (spec.md §4.4, "Cache layout").
func NewStore(registry *llmq.Registry, backing storage.Quorums, collector metrics.CacheMetrics) (*Store, error) {
	if collector == nil {
		collector = metrics.NoopCollector{}
	}
	s := &Store{
		registry:  registry,
		backing:   backing,
		collector: collector,
		caches:    make(map[llmq.Type]*lru.Cache),
	}
	for _, t := range registry.Types() {
		params, ok := registry.Get(t)
		if !ok {
			return nil, fmt.Errorf("quorumstore: registry advertised unknown llmq type %d", t)
		}
		cache, err := lru.New(int(params.SigningActiveQuorumCount) + 1)
		if err != nil {
			return nil, fmt.Errorf("quorumstore: could not build cache for llmq type %d: %w", t, err)
		}
		s.caches[t] = cache
	}
	return s, nil
}

// RegisterEvictionListener subscribes l to reorg evictions.
func (s *Store) RegisterEvictionListener(l EvictionListener) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.listeners = append(s.listeners, l)
}

func (s *Store) cacheFor(llmqType llmq.Type) (*lru.Cache, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.caches[llmqType]
	return c, ok
}

// ByHash looks up a materialized quorum by (llmqType, quorumHash), checking
// the LRU cache before falling back to the durable backing (spec.md §4.4,
// "Lookups by quorumHash are O(1)" once cached).
func (s *Store) ByHash(llmqType llmq.Type, quorumHash llmq.Identifier) (*llmq.Quorum, error) {
	cache, ok := s.cacheFor(llmqType)
	if !ok {
		return nil, fmt.Errorf("quorumstore: unknown llmq type %d", llmqType)
	}
	if v, hit := cache.Get(quorumHash); hit {
		s.collector.CacheHit(resourceQuorum)
		return v.(*llmq.Quorum), nil
	}
	s.collector.CacheMiss(resourceQuorum)

	encoded, err := s.backing.ByHash(uint8(llmqType), quorumHash)
	if err != nil {
		return nil, err
	}
	q, err := llmq.DecodeQuorum(encoded)
	if err != nil {
		return nil, fmt.Errorf("quorumstore: could not decode stored quorum: %w", err)
	}
	cache.Add(quorumHash, q)
	s.collector.CacheEntries(resourceQuorum, uint(cache.Len()))
	return q, nil
}

// ScanQuorums returns the n most recent quorums of llmqType, newest-first
// (spec.md §4.4), warming the cache with every entry read.
func (s *Store) ScanQuorums(llmqType llmq.Type, n int) ([]*llmq.Quorum, error) {
	cache, ok := s.cacheFor(llmqType)
	if !ok {
		return nil, fmt.Errorf("quorumstore: unknown llmq type %d", llmqType)
	}
	encodedList, err := s.backing.Recent(uint8(llmqType), n)
	if err != nil {
		return nil, fmt.Errorf("quorumstore: could not scan recent quorums: %w", err)
	}
	out := make([]*llmq.Quorum, 0, len(encodedList))
	for _, encoded := range encodedList {
		q, err := llmq.DecodeQuorum(encoded)
		if err != nil {
			return nil, fmt.Errorf("quorumstore: could not decode stored quorum: %w", err)
		}
		cache.Add(q.Hash, q)
		out = append(out, q)
	}
	s.collector.CacheEntries(resourceQuorum, uint(cache.Len()))
	return out, nil
}

// Evict removes a quorum from both the cache and the durable backing,
// notifying every registered listener so in-flight signing requests bound
// exclusively to it can be failed (spec.md §4.4, "Reorg rule").
func (s *Store) Evict(llmqType llmq.Type, quorumHash llmq.Identifier) error {
	cache, ok := s.cacheFor(llmqType)
	if ok {
		cache.Remove(quorumHash)
		s.collector.CacheEntries(resourceQuorum, uint(cache.Len()))
	}
	if err := s.backing.Remove(uint8(llmqType), quorumHash); err != nil {
		return fmt.Errorf("quorumstore: could not remove evicted quorum: %w", err)
	}

	s.listenersMu.Lock()
	listeners := append([]EvictionListener(nil), s.listeners...)
	s.listenersMu.Unlock()
	for _, l := range listeners {
		l.QuorumEvicted(llmqType, quorumHash)
	}
	return nil
}
