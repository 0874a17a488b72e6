// Package batch provides the misbehavior-scoring vocabulary and the
// grouped BLS batch-verification helper shared by the DKG session (C2/C3)
// and the share exchange (C6), per spec.md §4.2 ("Misbehavior scoring")
// and §4.6 ("Batching"). Grounded on the teacher's
// module/signature.ErrInvalidFormat/ErrInvalidInputs sentinel family for
// the failure taxonomy, and on crypto.BatchVerifyBLSSignaturesOneMessage
// (wrapped by crypto/blssuite) for the verification primitive itself.
package batch

import (
	"github.com/onflow/flow-go/crypto"

	"github.com/darkcoin/darkcoin/crypto/blssuite"
	"github.com/darkcoin/darkcoin/model/llmq"
)

// Delta is a banning-score increment, reported to the transport layer on
// misbehavior (spec.md §4.2).
type Delta int

const (
	// Severe is an unambiguous protocol violation: wrong anchor, malformed
	// signature, duplicate complaint.
	Severe Delta = 100
	// Minor is plausible-but-wrong: a conflicting non-first contribution, a
	// failed optional verification.
	Minor Delta = 10
	// Stale is a message for a quorum that has rotated out, or otherwise
	// unlucky timing rather than malice.
	Stale Delta = 20
)

// Offense names one scored event, identifying the source so a transport
// layer can apply the score to the right peer/proTxHash.
type Offense struct {
	ProTxHash llmq.Identifier
	Delta     Delta
	Reason    string
}

// Scorer accumulates Offenses for later draining by the transport. It is
// intentionally not a ban-enforcement mechanism itself -- banning policy
// lives outside this subsystem (spec.md §1 Non-goals).
type Scorer struct {
	offenses []Offense
}

func NewScorer() *Scorer {
	return &Scorer{}
}

func (s *Scorer) Report(proTxHash llmq.Identifier, delta Delta, reason string) {
	s.offenses = append(s.offenses, Offense{ProTxHash: proTxHash, Delta: delta, Reason: reason})
}

// Drain returns and clears all accumulated offenses.
func (s *Scorer) Drain() []Offense {
	out := s.offenses
	s.offenses = nil
	return out
}

// Item is one (source, public key, message, signature) triple awaiting
// verification, grouped into a Batch by the caller (per quorumHash+signHash
// for shares, or per anchor for DKG single-signatures).
type Item struct {
	Source  llmq.Identifier
	Key     crypto.PublicKey
	Message []byte
	Sig     crypto.Signature
}

// Result is the outcome of verifying one Item.
type Result struct {
	Item Item
	Ok   bool
}

// Verify batch-verifies every item under one domain tag, falling back to
// individual verification internally (via blssuite.BatchVerify) when the
// items don't share a single message. It never returns an error for a bad
// signature; it reports per-item Ok=false instead, leaving misbehavior
// scoring to the caller, who alone knows the right Delta for the context
// (spec.md §4.6: "On a batch miss, fall back to individual verification to
// identify and score the offending source(s)").
func Verify(tag string, items []Item) ([]Result, error) {
	if len(items) == 0 {
		return nil, nil
	}
	keys := make([]crypto.PublicKey, len(items))
	messages := make([][]byte, len(items))
	sigs := make([]crypto.Signature, len(items))
	for i, it := range items {
		keys[i] = it.Key
		messages[i] = it.Message
		sigs[i] = it.Sig
	}
	ok, err := blssuite.BatchVerify(keys, tag, messages, sigs)
	if err != nil {
		return nil, err
	}
	out := make([]Result, len(items))
	for i, it := range items {
		out[i] = Result{Item: it, Ok: ok[i]}
	}
	return out, nil
}

// BadSources filters a Verify result down to the sources of failed items,
// the set C6 hands to the Scorer on a batch miss.
func BadSources(results []Result) []llmq.Identifier {
	var out []llmq.Identifier
	for _, r := range results {
		if !r.Ok {
			out = append(out, r.Item.Source)
		}
	}
	return out
}
