package llmq

import "fmt"

// Anchor is the pair (llmqType, baseBlockHash) that every quorum-scoped
// object derives from (spec.md §3, "Quorum Anchor").
type Anchor struct {
	Type      Type
	BlockHash Identifier
}

func (a Anchor) String() string {
	return fmt.Sprintf("llmq(type=%d, anchor=%s)", a.Type, a.BlockHash)
}

// Modifier computes H(llmqType || anchorBlockHash), the seed used to rank
// masternodes for member selection (spec.md §4.1).
func (a Anchor) Modifier() Identifier {
	return DoubleSHA256([]byte{byte(a.Type)}, a.BlockHash[:])
}

// QuorumHash aliases Identifier for use as the commitment- and quorum-level
// identifier, i.e. the anchor block hash once a commitment has been mined.
// Kept distinct from Anchor.BlockHash at the type level so APIs like
// Quorum.Hash are self-documenting.
type QuorumHash = Identifier
