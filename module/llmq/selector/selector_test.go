package selector

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darkcoin/darkcoin/model/llmq"
)

type fakeList struct {
	hash    llmq.Identifier
	height  uint32
	members []llmq.Masternode
}

func (f *fakeList) BlockHash() llmq.Identifier   { return f.hash }
func (f *fakeList) Height() uint32               { return f.height }
func (f *fakeList) Valid() []llmq.Masternode     { return f.members }
func (f *fakeList) Len() int                     { return len(f.members) }

type fakeLists map[llmq.Identifier]*fakeList

func (f fakeLists) At(hash llmq.Identifier) (llmq.MasternodeList, error) {
	l, ok := f[hash]
	if !ok {
		return nil, fmt.Errorf("no list at %s", hash)
	}
	return l, nil
}

type fakeChain struct {
	heights map[llmq.Identifier]uint32
	hashes  map[uint32]llmq.Identifier
}

func (c *fakeChain) HeightOfHash(h llmq.Identifier) (uint32, error) {
	v, ok := c.heights[h]
	if !ok {
		return 0, fmt.Errorf("unknown hash %s", h)
	}
	return v, nil
}

func (c *fakeChain) HashAtHeight(height uint32) (llmq.Identifier, error) {
	v, ok := c.hashes[height]
	if !ok {
		return llmq.ZeroID, fmt.Errorf("unknown height %d", height)
	}
	return v, nil
}

func mkMN(seed byte) llmq.Masternode {
	var h llmq.Identifier
	h[0] = seed
	return llmq.Masternode{ProTxHash: h, Valid: true}
}

func mkHash(seed byte) llmq.Identifier {
	var h llmq.Identifier
	h[31] = seed
	return h
}

func TestFlatMembersDeterministicAndSized(t *testing.T) {
	registry := llmq.DefaultRegistry()
	params, ok := registry.Get(llmq.TypeInstantSend)
	require.True(t, ok)

	var members []llmq.Masternode
	for i := 0; i < params.Size+10; i++ {
		members = append(members, mkMN(byte(i)))
	}
	anchorHash := mkHash(1)
	lists := fakeLists{anchorHash: {hash: anchorHash, height: 100, members: members}}

	sel := &Selector{registry: registry, lists: lists}
	anchor := llmq.Anchor{Type: llmq.TypeInstantSend, BlockHash: anchorHash}

	got1, err := sel.flatMembers(params, anchor, lists[anchorHash])
	require.NoError(t, err)
	got2, err := sel.flatMembers(params, anchor, lists[anchorHash])
	require.NoError(t, err)

	assert.Len(t, got1, params.Size)
	assert.Equal(t, got1, got2, "selection must be deterministic given the same anchor and list")
}

func TestFlatMembersInsufficientMasternodes(t *testing.T) {
	registry := llmq.DefaultRegistry()
	params, _ := registry.Get(llmq.TypeInstantSend)

	members := []llmq.Masternode{mkMN(1), mkMN(2)}
	anchorHash := mkHash(2)
	list := &fakeList{hash: anchorHash, height: 1, members: members}

	sel := &Selector{registry: registry}
	_, err := sel.flatMembers(params, llmq.Anchor{Type: llmq.TypeInstantSend, BlockHash: anchorHash}, list)
	assert.ErrorIs(t, err, ErrInsufficientMasternodes)
}

func TestApplySkipListModes(t *testing.T) {
	members := []llmq.Masternode{mkMN(1), mkMN(2), mkMN(3), mkMN(4)}

	none := applySkipList(members, llmq.SkipListNone, nil, 2)
	assert.Equal(t, members[:2], none)

	allSkipped := applySkipList(members, llmq.SkipListAllSkipped, nil, 2)
	assert.Nil(t, allSkipped)

	skip := applySkipList(members, llmq.SkipListSkip, llmq.DeltaEncode([]int{0}), 2)
	assert.Equal(t, []llmq.Masternode{members[1], members[2]}, skip)

	keep := applySkipList(members, llmq.SkipListKeep, llmq.DeltaEncode([]int{1, 3}), 2)
	assert.Equal(t, []llmq.Masternode{members[1], members[3]}, keep)
}

func TestRelayNeighboursDoublingRing(t *testing.T) {
	members := make([]llmq.Masternode, 16)
	for i := range members {
		members[i] = mkMN(byte(i))
	}
	neighbours := RelayNeighbours(members, 0)
	// gaps 1,2,4,8 each direction, deduplicated: expect indices 1,15,2,14,4,12,8
	var indices []int
	for _, mn := range neighbours {
		for i, m := range members {
			if m.ProTxHash == mn.ProTxHash {
				indices = append(indices, i)
			}
		}
	}
	assert.Contains(t, indices, 1)
	assert.Contains(t, indices, 15)
	assert.Contains(t, indices, 8)
	assert.NotContains(t, indices, 0)
}

func TestIsOutboundInitiatorSymmetric(t *testing.T) {
	a := mkHash(1)
	b := mkHash(2)
	// exactly one direction must be the initiator
	assert.NotEqual(t, IsOutboundInitiator(a, b), IsOutboundInitiator(b, a))
}

func TestCalcDeterministicWatchConnectionsBounded(t *testing.T) {
	members := make([]llmq.Masternode, 10)
	for i := range members {
		members[i] = mkMN(byte(i + 1))
	}
	watcher := mkHash(99)
	out := CalcDeterministicWatchConnections(watcher, members, 3)
	assert.Len(t, out, 3)

	out2 := CalcDeterministicWatchConnections(watcher, members, 3)
	assert.Equal(t, out, out2, "watch connection set must be deterministic")
}
