package selector

import (
	"bytes"

	"github.com/darkcoin/darkcoin/model/llmq"
)

// RelayNeighbours returns the set of members a member at position
// selfIndex should maintain relay connections to, for a quorum of the
// given member set: a doubling ring of gaps 1, 2, 4, ..., <= n/2 in both
// directions, per spec.md §4.1 ("relay neighbours on a doubling ring").
// Used when the quorum type is not AllConnected.
func RelayNeighbours(members []llmq.Masternode, selfIndex int) []llmq.Masternode {
	n := len(members)
	if n == 0 || selfIndex < 0 || selfIndex >= n {
		return nil
	}
	seen := make(map[int]struct{})
	var out []llmq.Masternode
	for gap := 1; gap <= n/2; gap *= 2 {
		for _, d := range [2]int{gap, -gap} {
			j := ((selfIndex+d)%n + n) % n
			if j == selfIndex {
				continue
			}
			if _, ok := seen[j]; ok {
				continue
			}
			seen[j] = struct{}{}
			out = append(out, members[j])
		}
	}
	return out
}

// IsOutboundInitiator decides, for an all-connected quorum, whether a
// should open the outbound connection to b: the pair hashes
// H(min(A,B)||max(A,B)||h) are computed for h in {a, b} and whichever
// produces the smaller hash is the initiator (spec.md §4.1,
// "all-connected mode"). This removes numeric bias from a plain
// proTxHash comparison.
func IsOutboundInitiator(a, b llmq.Identifier) bool {
	lo, hi := a, b
	if bytes.Compare(hi[:], lo[:]) < 0 {
		lo, hi = hi, lo
	}
	keyA := llmq.DoubleSHA256(lo[:], hi[:], a[:])
	keyB := llmq.DoubleSHA256(lo[:], hi[:], b[:])
	return bytes.Compare(keyA[:], keyB[:]) < 0
}

// AllConnectedPeers returns every other member of the quorum, the
// connection set used when Params.AllConnected is set.
func AllConnectedPeers(members []llmq.Masternode, selfIndex int) []llmq.Masternode {
	out := make([]llmq.Masternode, 0, len(members)-1)
	for i, mn := range members {
		if i == selfIndex {
			continue
		}
		out = append(out, mn)
	}
	return out
}

// Connections returns the peer set a member at selfIndex should maintain
// for a quorum with the given parameters: either all-connected or the
// relay ring, dispatching on Params.AllConnected (spec.md §4.1).
func Connections(params llmq.Params, members []llmq.Masternode, selfIndex int) []llmq.Masternode {
	if params.AllConnected {
		return AllConnectedPeers(members, selfIndex)
	}
	return RelayNeighbours(members, selfIndex)
}

// CalcDeterministicWatchConnections derives the watch connections a
// non-member observer (e.g. a full node without its own masternode, or a
// masternode tracking a quorum it is not part of) should open in order to
// receive quorum traffic without joining it: the observer hashes its own
// watcherID against each member and keeps the count members with the
// smallest resulting hash, mirroring IsOutboundInitiator's bias-free
// pairing but fixed from the observer's side (original_source/'s
// CalcDeterministicWatchConnections).
func CalcDeterministicWatchConnections(watcherID llmq.Identifier, members []llmq.Masternode, count int) []llmq.Masternode {
	if count > len(members) {
		count = len(members)
	}
	type scored struct {
		mn  llmq.Masternode
		key llmq.Identifier
	}
	scoredList := make([]scored, len(members))
	for i, mn := range members {
		lo, hi := watcherID, mn.ProTxHash
		if bytes.Compare(hi[:], lo[:]) < 0 {
			lo, hi = hi, lo
		}
		scoredList[i] = scored{mn: mn, key: llmq.DoubleSHA256(lo[:], hi[:], watcherID[:])}
	}
	for i := 1; i < len(scoredList); i++ {
		for j := i; j > 0 && bytes.Compare(scoredList[j].key[:], scoredList[j-1].key[:]) < 0; j-- {
			scoredList[j], scoredList[j-1] = scoredList[j-1], scoredList[j]
		}
	}
	out := make([]llmq.Masternode, count)
	for i := 0; i < count; i++ {
		out[i] = scoredList[i].mn
	}
	return out
}
