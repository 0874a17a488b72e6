package llmq

// Masternode is an immutable-per-block record for one registered masternode,
// as seen by the selector at a given anchor block (spec.md §3, "Masternode
// Entry (external view)").
type Masternode struct {
	ProTxHash Identifier
	// OperatorPubKey is the BLS operator public key, DER/compressed-encoded.
	// Used both for contribution single-signatures and for the IES-style
	// share encryption described in spec.md §4.2.
	OperatorPubKey []byte
	Address        string
	Valid          bool
}

// MasternodeList is a read-only snapshot of the registered masternode set at
// one block, as required by spec.md §3 ("the selector treats the masternode
// list at a given block as a read-only snapshot") and §5 ("The masternode
// list at a given block is treated as an immutable snapshot").
type MasternodeList interface {
	// BlockHash is the anchor block this snapshot was taken at.
	BlockHash() Identifier
	// Height is the height of BlockHash, needed by the non-rotated selector's
	// off-by-one rule (spec.md §9, open question on IsQuorumTypeEnabled).
	Height() uint32
	// Valid returns every valid, registered masternode at this snapshot, in
	// no particular order. The selector is responsible for any subsequent
	// deterministic ordering.
	Valid() []Masternode
	// Len is len(Valid()), exposed separately so callers that only need the
	// snapshot's cardinality (e.g. to size a skip-list bitset) don't have to
	// materialize the full slice.
	Len() int
}
