package llmq

import "fmt"

// Type identifies a quorum type parameter set. It is serialized as a single
// byte on the wire (spec.md §6).
type Type uint8

const (
	// TypeInstantSend is the quorum type used to sign InstantSend input and
	// transaction locks.
	TypeInstantSend Type = 1
	// TypeInstantSendDIP0024 is the rotated variant of TypeInstantSend.
	TypeInstantSendDIP0024 Type = 2
	// TypeChainLocks is the quorum type used to sign ChainLocks.
	TypeChainLocks Type = 3
	// TypePlatform is the quorum type used for masternode-hardfork / platform
	// signal signing.
	TypePlatform Type = 4
)

// Params fixes the static parameters of one quorum type, per spec.md §3
// ("Quorum Type Parameters").
type Params struct {
	Type Type

	// Size is the member count. Must be divisible by 4 when Rotated is set.
	Size int

	// Threshold is the signing/commitment minimum.
	Threshold int

	// DKGInterval is the number of blocks between new quorums of this type.
	DKGInterval uint32

	// DKGPhaseBlocks is the width, in blocks, of each of the four DKG phase
	// windows (contribute, complain, justify, commit).
	DKGPhaseBlocks uint32

	// SigningActiveQuorumCount is how many of the most recently mined quorums
	// of this type remain eligible to sign.
	SigningActiveQuorumCount int

	// KeepOldConnections is how many additional retiring quorums keep their
	// gossip connections alive past SigningActiveQuorumCount, to let
	// in-flight signing sessions drain.
	KeepOldConnections int

	// Rotated enables the quarter-rotation member-selection algorithm
	// (spec.md §4.1) instead of the flat ranking algorithm.
	Rotated bool

	// CycleLength is the quarter-rotation cycle length C, in blocks. Only
	// meaningful when Rotated is set.
	CycleLength uint32

	// Indexed enables the "quorumIndex" disambiguator in the commitment hash
	// for types where several quorums of the same type share one DKG window
	// (spec.md §4.2, SPEC_FULL.md §4).
	Indexed bool

	// IndexedQuorumCount is the number of concurrently-forming quorums per
	// DKG window when Indexed is set.
	IndexedQuorumCount int

	// AllConnected forces the all-connected gossip topology (spec.md §4.1)
	// instead of the doubling-ring relay topology.
	AllConnected bool
}

// Validate enforces the invariants of spec.md §3: threshold <= size, and
// size % 4 == 0 whenever rotation is enabled.
func (p Params) Validate() error {
	if p.Threshold > p.Size {
		return fmt.Errorf("llmq: type %d: threshold %d exceeds size %d", p.Type, p.Threshold, p.Size)
	}
	if p.Rotated && p.Size%4 != 0 {
		return fmt.Errorf("llmq: type %d: rotated size %d not divisible by 4", p.Type, p.Size)
	}
	if p.Rotated && p.CycleLength == 0 {
		return fmt.Errorf("llmq: type %d: rotated quorum requires non-zero cycle length", p.Type)
	}
	if p.Indexed && p.IndexedQuorumCount <= 0 {
		return fmt.Errorf("llmq: type %d: indexed quorum requires positive IndexedQuorumCount", p.Type)
	}
	return nil
}

// Registry is a fixed table of Params keyed by Type, as described in
// spec.md §3. It is populated once at startup (normally from config, see
// config.Config) and is treated as immutable thereafter.
type Registry struct {
	byType map[Type]Params
}

// NewRegistry builds a Registry from a list of Params, validating each entry.
func NewRegistry(params ...Params) (*Registry, error) {
	r := &Registry{byType: make(map[Type]Params, len(params))}
	for _, p := range params {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if _, exists := r.byType[p.Type]; exists {
			return nil, fmt.Errorf("llmq: duplicate registration for type %d", p.Type)
		}
		r.byType[p.Type] = p
	}
	return r, nil
}

// Get returns the Params for a type, and whether the type is enabled.
func (r *Registry) Get(t Type) (Params, bool) {
	p, ok := r.byType[t]
	return p, ok
}

// Types returns every enabled type, in no particular order.
func (r *Registry) Types() []Type {
	out := make([]Type, 0, len(r.byType))
	for t := range r.byType {
		out = append(out, t)
	}
	return out
}

// DefaultRegistry returns the parameter set used by the reference network,
// mirroring the teacher's pattern of a package-level default committee/
// protocol configuration (consensus/hotstuff/committees) that tests and
// mainnet wiring both fall back to absent an override from config.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(
		Params{
			Type:                     TypeInstantSend,
			Size:                     50,
			Threshold:                30,
			DKGInterval:              24,
			DKGPhaseBlocks:           2,
			SigningActiveQuorumCount: 4,
			KeepOldConnections:       1,
		},
		Params{
			Type:                     TypeInstantSendDIP0024,
			Size:                     60,
			Threshold:                40,
			DKGInterval:              24,
			DKGPhaseBlocks:           2,
			SigningActiveQuorumCount: 4,
			KeepOldConnections:       1,
			Rotated:                  true,
			CycleLength:              24,
			Indexed:                  true,
			IndexedQuorumCount:       4,
		},
		Params{
			Type:                     TypeChainLocks,
			Size:                     400,
			Threshold:                240,
			DKGInterval:              288,
			DKGPhaseBlocks:           4,
			SigningActiveQuorumCount: 2,
			KeepOldConnections:       1,
			AllConnected:             true,
		},
		Params{
			Type:                     TypePlatform,
			Size:                     100,
			Threshold:                67,
			DKGInterval:              24,
			DKGPhaseBlocks:           2,
			SigningActiveQuorumCount: 4,
			KeepOldConnections:       1,
			AllConnected:             true,
		},
	)
	if err != nil {
		// the built-in default parameters must always be internally
		// consistent; a failure here is a programming error, not a runtime
		// condition.
		panic(err)
	}
	return r
}
