// Package selector implements the LLMQ Quorum Member Selector (spec.md
// §4.1, component C1): a pure function from (llmqType, anchor, masternode
// list snapshot) to an ordered member set, plus the quarter-rotation
// variant and the gossip-topology derivations layered on top of it.
// Grounded on the teacher's deterministic-committee pattern
// (consensus/hotstuff/committees/threshold.go ranks participants by a
// seeded hash and takes a prefix), generalized to LLMQ's two selection
// algorithms.
package selector

import (
	"errors"
	"fmt"
	"sort"

	"github.com/darkcoin/darkcoin/model/llmq"
	"github.com/darkcoin/darkcoin/storage"
)

var (
	// ErrInsufficientMasternodes is returned when a non-rotated selection's
	// anchor masternode list has fewer entries than the type's Size.
	ErrInsufficientMasternodes = errors.New("selector: masternode list smaller than quorum size")
)

// ranked is one masternode together with its selection-order key.
type ranked struct {
	mn  llmq.Masternode
	key llmq.Identifier
}

func rankByModifier(modifier llmq.Identifier, list []llmq.Masternode) []ranked {
	out := make([]ranked, len(list))
	for i, mn := range list {
		out[i] = ranked{mn: mn, key: llmq.DoubleSHA256(modifier[:], mn.ProTxHash[:])}
	}
	sort.Slice(out, func(i, j int) bool {
		return lessBytes(out[i].key[:], out[j].key[:])
	})
	return out
}

func lessBytes(a, b []byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// Selector computes member sets for a Registry of quorum type parameters,
// backed by a source of masternode list snapshots and (for rotated types)
// a QuorumSnapshots store.
type Selector struct {
	registry  *llmq.Registry
	snapshots storage.QuorumSnapshots
	lists     MasternodeListSource
	chain     ChainIndex
}

// MasternodeListSource resolves a read-only masternode list snapshot at a
// given block hash, the "read-only snapshot" of spec.md §3. It is the
// selector's sole external collaborator; block validation/storage itself
// is out of scope (spec.md §1).
type MasternodeListSource interface {
	At(blockHash llmq.Identifier) (llmq.MasternodeList, error)
}

// ChainIndex resolves block height <-> hash, letting the rotated
// algorithm walk back to the cycle-boundary anchors H-C, H-2C, H-3C
// (spec.md §4.1) without the selector owning any chain storage itself.
type ChainIndex interface {
	HeightOfHash(hash llmq.Identifier) (uint32, error)
	HashAtHeight(height uint32) (llmq.Identifier, error)
}

func New(registry *llmq.Registry, snapshots storage.QuorumSnapshots, lists MasternodeListSource, chain ChainIndex) *Selector {
	return &Selector{registry: registry, snapshots: snapshots, lists: lists, chain: chain}
}

// Members computes members(llmqType, anchor), per spec.md §4.1. It
// dispatches to the flat or rotated algorithm depending on the type's
// Params.Rotated flag, and always returns a slice of exactly Params.Size
// masternodes in deterministic order (spec.md §8 invariant 1).
func (s *Selector) Members(anchor llmq.Anchor) ([]llmq.Masternode, error) {
	params, ok := s.registry.Get(anchor.Type)
	if !ok {
		return nil, fmt.Errorf("selector: quorum type %d not enabled", anchor.Type)
	}
	list, err := s.lists.At(anchor.BlockHash)
	if err != nil {
		return nil, fmt.Errorf("selector: could not load masternode list at %s: %w", anchor.BlockHash, err)
	}
	if params.Rotated {
		return s.rotatedMembers(params, anchor, list)
	}
	return s.flatMembers(params, anchor, list)
}

// flatMembers implements the non-rotated algorithm: rank every valid
// masternode by H(modifier || proTxHash) ascending, take the first Size
// (spec.md §4.1, "Algorithm (non-rotated)").
func (s *Selector) flatMembers(params llmq.Params, anchor llmq.Anchor, list llmq.MasternodeList) ([]llmq.Masternode, error) {
	valid := list.Valid()
	if len(valid) < params.Size {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrInsufficientMasternodes, len(valid), params.Size)
	}
	ranked := rankByModifier(anchor.Modifier(), valid)
	out := make([]llmq.Masternode, params.Size)
	for i := 0; i < params.Size; i++ {
		out[i] = ranked[i].mn
	}
	return out, nil
}

// rotatedMembers implements the quarter-rotation algorithm (spec.md §4.1,
// "Algorithm (rotated)"): the quorum at anchor is composed of the fresh
// quarter built at anchor plus the three quarters built at the prior
// cycle boundaries anchor-C, anchor-2C, anchor-3C, read back from their
// persisted Quorum Snapshots.
func (s *Selector) rotatedMembers(params llmq.Params, anchor llmq.Anchor, list llmq.MasternodeList) ([]llmq.Masternode, error) {
	quarterSize := params.Size / 4
	if quarterSize*4 != params.Size {
		return nil, fmt.Errorf("selector: rotated type %d size %d not divisible by 4", anchor.Type, params.Size)
	}

	fresh, snap, err := s.buildFreshQuarter(params, anchor, list, quarterSize)
	if err != nil {
		return nil, err
	}
	if err := s.snapshots.Store(encodeSnapshotRecord(snap)); err != nil {
		return nil, fmt.Errorf("selector: could not persist quorum snapshot: %w", err)
	}

	out := make([]llmq.Masternode, 0, params.Size)
	out = append(out, fresh...)
	for age := uint32(1); age <= 3; age++ {
		prior, err := s.readPriorQuarter(params, anchor, age, quarterSize)
		if err != nil {
			return nil, fmt.Errorf("selector: could not read quarter at age %d: %w", age, err)
		}
		out = append(out, prior...)
	}
	if len(out) != params.Size {
		return nil, fmt.Errorf("selector: assembled %d members, want %d", len(out), params.Size)
	}
	return out, nil
}

// combinedSortedList interleaves "not used" members first, then "used"
// members, each internally sorted by H(modifier||proTxHash), per spec.md
// §4.1 ("The combined-sorted-list used for both 'build' and 'read by
// snapshot'...").
func combinedSortedList(modifier llmq.Identifier, list []llmq.Masternode, used *llmq.BitSet) []llmq.Masternode {
	ranked := rankByModifier(modifier, list)
	var notUsed, usedList []llmq.Masternode
	for i, r := range ranked {
		if used != nil && i < used.Len() && used.Get(i) {
			usedList = append(usedList, r.mn)
		} else {
			notUsed = append(notUsed, r.mn)
		}
	}
	return append(notUsed, usedList...)
}

// applySkipList realizes the four skip modes of spec.md §4.1 against a
// combined-sorted-list, returning the selected quarter (length
// quarterSize, short if the source list is exhausted).
func applySkipList(combined []llmq.Masternode, mode llmq.SkipListMode, skip []int32, quarterSize int) []llmq.Masternode {
	switch mode {
	case llmq.SkipListAllSkipped:
		return nil
	case llmq.SkipListNone:
		return firstN(combined, quarterSize)
	case llmq.SkipListSkip:
		remove := make(map[int]struct{}, len(skip))
		for _, idx := range llmq.DeltaDecode(skip) {
			remove[idx] = struct{}{}
		}
		var out []llmq.Masternode
		for i, mn := range combined {
			if _, skipped := remove[i]; skipped {
				continue
			}
			out = append(out, mn)
			if len(out) == quarterSize {
				break
			}
		}
		return out
	case llmq.SkipListKeep:
		keep := make(map[int]struct{}, len(skip))
		for _, idx := range llmq.DeltaDecode(skip) {
			keep[idx] = struct{}{}
		}
		var out []llmq.Masternode
		for i, mn := range combined {
			if _, ok := keep[i]; !ok {
				continue
			}
			out = append(out, mn)
			if len(out) == quarterSize {
				break
			}
		}
		return out
	default:
		return nil
	}
}

func firstN(list []llmq.Masternode, n int) []llmq.Masternode {
	if n > len(list) {
		n = len(list)
	}
	return list[:n]
}

// buildFreshQuarter builds the quarter that belongs to anchor itself: it
// takes the first quarterSize entries of the combined-sorted-list,
// skipping no one (mode 0), unless the list cannot fill a quarter, in
// which case it degenerates to all-skipped. It records which members
// were used in the returned snapshot.
func (s *Selector) buildFreshQuarter(params llmq.Params, anchor llmq.Anchor, list llmq.MasternodeList, quarterSize int) ([]llmq.Masternode, *llmq.QuorumSnapshot, error) {
	valid := list.Valid()
	modifier := anchor.Modifier()

	snap := &llmq.QuorumSnapshot{
		Anchor:           anchor,
		MemberListLength: len(valid),
		UsedMembers:      llmq.NewBitSet(len(valid)),
	}

	if len(valid) < quarterSize {
		snap.Mode = llmq.SkipListAllSkipped
		return nil, snap, nil
	}

	combined := combinedSortedList(modifier, valid, nil)
	quarter := firstN(combined, quarterSize)
	snap.Mode = llmq.SkipListNone

	ranked := rankByModifier(modifier, valid)
	selected := make(map[llmq.Identifier]struct{}, len(quarter))
	for _, mn := range quarter {
		selected[mn.ProTxHash] = struct{}{}
	}
	for i, r := range ranked {
		if _, ok := selected[r.mn.ProTxHash]; ok {
			snap.UsedMembers.Set(i)
		}
	}
	return quarter, snap, nil
}

// readPriorQuarter reads back the quarter built age cycles before anchor,
// by loading its persisted Quorum Snapshot and the masternode list at the
// prior anchor (from the MasternodeListSource, not from the snapshot),
// then replaying applySkipList.
func (s *Selector) readPriorQuarter(params llmq.Params, anchor llmq.Anchor, age uint32, quarterSize int) ([]llmq.Masternode, error) {
	height, err := s.chain.HeightOfHash(anchor.BlockHash)
	if err != nil {
		return nil, fmt.Errorf("could not resolve anchor height: %w", err)
	}
	back := age * params.CycleLength
	if back > height {
		// Before genesis of this quorum type: no prior quarter exists yet.
		return nil, nil
	}
	priorAnchorHash, err := s.chain.HashAtHeight(height - back)
	if err != nil {
		return nil, fmt.Errorf("could not resolve prior cycle anchor: %w", err)
	}
	priorAnchor := llmq.Anchor{Type: anchor.Type, BlockHash: priorAnchorHash}

	rec, err := s.snapshots.ByAnchor(uint8(priorAnchor.Type), priorAnchor.BlockHash)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	snap, err := llmq.DecodeQuorumSnapshot(rec.Encoded)
	if err != nil {
		return nil, fmt.Errorf("could not decode snapshot: %w", err)
	}

	list, err := s.lists.At(priorAnchorHash)
	if err != nil {
		return nil, fmt.Errorf("could not load masternode list at prior anchor: %w", err)
	}
	valid := list.Valid()
	modifier := priorAnchor.Modifier()
	combined := combinedSortedList(modifier, valid, nil)
	return applySkipList(combined, snap.Mode, snap.SkipList, quarterSize), nil
}

func encodeSnapshotRecord(snap *llmq.QuorumSnapshot) storage.SnapshotRecord {
	return storage.SnapshotRecord{
		LLMQType:             uint8(snap.Anchor.Type),
		CycleAnchorBlockHash: snap.Anchor.BlockHash,
		Encoded:              snap.Encode(),
	}
}
