// Package llmq wires the LLMQ subsystem's components (C3..C8) into a
// single unit the surrounding node constructs once and tears down in
// reverse order (spec.md §6, "InitLLMQSystem(evoDb, scheduler,
// unitTests)"). C1 (selector) and C2 (DKG session, materialized inside C3)
// are composed here too since nothing outside this package needs to touch
// them directly once C3 owns them. Grounded on the teacher's pattern of a
// single constructor wiring independently-componentized subsystems
// together via their narrow capability-trait interfaces rather than
// concrete types (module/component's doc comment: "cyclic references are
// avoided by composing a Manager into each engine").
package llmq

import (
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v2"
	"github.com/rs/zerolog"

	modelllmq "github.com/darkcoin/darkcoin/model/llmq"
	"github.com/darkcoin/darkcoin/module/component"
	"github.com/darkcoin/darkcoin/module/irrecoverable"
	"github.com/darkcoin/darkcoin/module/llmq/chainlock"
	"github.com/darkcoin/darkcoin/module/llmq/dkg"
	"github.com/darkcoin/darkcoin/module/llmq/instantsend"
	"github.com/darkcoin/darkcoin/module/llmq/quorumstore"
	"github.com/darkcoin/darkcoin/module/llmq/selector"
	"github.com/darkcoin/darkcoin/module/llmq/shares"
	"github.com/darkcoin/darkcoin/module/llmq/signing"
	"github.com/darkcoin/darkcoin/module/metrics"
	storagebadger "github.com/darkcoin/darkcoin/storage/badger"
)

// Dependencies bundles the capability traits the surrounding node supplies.
// Every field is a narrow interface (spec.md §9); InitLLMQSystem never
// asks for a concrete P2P stack, mempool, or chainstate type.
type Dependencies struct {
	Registry *modelllmq.Registry // nil selects modelllmq.DefaultRegistry()

	Local      dkg.LocalIdentity
	Lists      selector.MasternodeListSource
	ChainIndex selector.ChainIndex

	ChainReader instantsend.ChainReader
	Mempool     instantsend.Mempool
	BlockIndex  chainlock.BlockIndex

	ShareTransport       shares.Transport
	InstantSendTransport instantsend.Transport

	Collector *metrics.Collector
	Log       zerolog.Logger

	// DKGPoolSize bounds the DKG session manager's shared BLS worker pool
	// (spec.md §4.3); ShareWorkerPoolSize bounds the Share Exchange's
	// (spec.md §4.6). Both default to 4 when <= 0.
	DKGPoolSize         int
	ShareWorkerPoolSize int
}

// System is C3..C8 composed as the single unit spec.md §6 asks
// InitLLMQSystem to hand back: a Component whose Start/Ready/Done fan out
// to every sub-component, and whose exported fields are the narrow
// interfaces application code (mempool, P2P message router, RPC layer)
// calls into.
type System struct {
	Registry *modelllmq.Registry

	Selector    *selector.Selector
	DKG         *dkg.SessionManager
	QuorumStore *quorumstore.Store
	Signing     *signing.Engine
	Shares      *shares.Exchange
	InstantSend *instantsend.Engine
	ChainLock   *chainlock.Hook

	log zerolog.Logger
}

var _ component.Component = (*System)(nil)

// InitLLMQSystem builds C1..C8 over evoDb and wires their cross-component
// registrations:
//   - the DKG Session Manager (C3) registers the Share Exchange (C6) as its
//     QuorumRegistrar, so every finalized quorum gets a gossip topology;
//   - the Quorum Store (C4) registers the Signing Engine (C5) and Share
//     Exchange (C6) as eviction listeners, so a rotated-out quorum's
//     signing requests and share buckets are torn down;
//   - the Signing Engine (C5) registers the InstantSend Engine (C7) as a
//     recovered-signature listener, so both the per-input and the
//     islock-level signature stages of spec.md §4.7 complete.
//
// The returned System.Start/Ready/Done starts, and waits on, C3, C5, C6
// and C7 together; C8 (the ChainLock Hook) and C1 (the selector) hold no
// lifecycle of their own.
func InitLLMQSystem(evoDb *badger.DB, deps Dependencies) (*System, error) {
	registry := deps.Registry
	if registry == nil {
		registry = modelllmq.DefaultRegistry()
	}
	log := deps.Log.With().Str("component", "llmq_system").Logger()

	snapshots := storagebadger.NewSnapshots(evoDb)
	contributions := storagebadger.NewDKGContributions(evoDb)
	quorumsBacking := storagebadger.NewQuorums(evoDb)
	islocks := storagebadger.NewInstantSendLocks(evoDb)

	sel := selector.New(registry, snapshots, deps.Lists, deps.ChainIndex)

	quorumStore, err := quorumstore.NewStore(registry, quorumsBacking, deps.Collector)
	if err != nil {
		return nil, fmt.Errorf("llmq: could not build quorum store: %w", err)
	}

	dkgManager := dkg.NewSessionManager(registry, sel, contributions, quorumsBacking, deps.Collector, deps.Local, deps.DKGPoolSize, log)

	signingEngine := signing.NewEngine(registry, quorumStore, deps.Local.ProTxHash, deps.Local.OperatorSK, deps.Collector)

	shareExchange := shares.NewExchange(registry, signingEngine, deps.ShareTransport, deps.Collector, deps.ShareWorkerPoolSize, log)

	quorumStore.RegisterEvictionListener(signingEngine)
	quorumStore.RegisterEvictionListener(shareExchange)
	dkgManager.SetQuorumRegistrar(shareExchange)

	instantSendEngine, err := instantsend.NewEngine(signingEngine, deps.ChainReader, deps.Mempool, deps.InstantSendTransport, islocks, deps.Collector, log)
	if err != nil {
		return nil, fmt.Errorf("llmq: could not build instantsend engine: %w", err)
	}
	signingEngine.RegisterListener(instantSendEngine)

	hook := chainlock.NewHook(instantSendEngine, deps.BlockIndex, log)

	return &System{
		Registry:    registry,
		Selector:    sel,
		DKG:         dkgManager,
		QuorumStore: quorumStore,
		Signing:     signingEngine,
		Shares:      shareExchange,
		InstantSend: instantSendEngine,
		ChainLock:   hook,
		log:         log,
	}, nil
}

func (s *System) components() []component.Component {
	return []component.Component{s.DKG, s.Signing, s.Shares, s.InstantSend}
}

// Start implements component.Component, starting C3, C5, C6 and C7 against
// the same signaler context.
func (s *System) Start(ctx irrecoverable.SignalerContext) {
	for _, c := range s.components() {
		c.Start(ctx)
	}
}

// Ready implements component.Component: closes once every sub-component is
// ready.
func (s *System) Ready() <-chan struct{} { return fanIn(s.components(), component.Component.Ready) }

// Done implements component.Component: closes once every sub-component has
// shut down. The caller tears C1..C8 down as a unit by cancelling the
// context Start was given and waiting on this channel (spec.md §6,
// "Destroyed in reverse order").
func (s *System) Done() <-chan struct{} { return fanIn(s.components(), component.Component.Done) }

func fanIn(components []component.Component, signal func(component.Component) <-chan struct{}) <-chan struct{} {
	out := make(chan struct{})
	go func() {
		defer close(out)
		var wg sync.WaitGroup
		wg.Add(len(components))
		for _, c := range components {
			c := c
			go func() {
				defer wg.Done()
				<-signal(c)
			}()
		}
		wg.Wait()
	}()
	return out
}
