package dkg

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gammazero/workerpool"
	"github.com/google/uuid"
	"github.com/onflow/flow-go/crypto"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"github.com/darkcoin/darkcoin/model/llmq"
	"github.com/darkcoin/darkcoin/module/component"
	"github.com/darkcoin/darkcoin/module/irrecoverable"
	"github.com/darkcoin/darkcoin/module/llmq/batch"
	"github.com/darkcoin/darkcoin/module/metrics"
	"github.com/darkcoin/darkcoin/storage"
)

const (
	persistRetryMax         = 5
	persistRetryInterval    = 50 * time.Millisecond
	perSessionInFlightLimit = 4
)

// persistBackoff builds the bounded exponential backoff used for
// storage retries, in the shape of the teacher's module/dkg.Broker
// (retry.NewExponential + retry.WithMaxRetries).
func persistBackoff() retry.Backoff {
	b := retry.NewExponential(persistRetryInterval)
	return retry.WithMaxRetries(persistRetryMax, b)
}

// MemberSelector is the narrow slice of the Quorum Member Selector (C1) the
// session manager needs: the ordered member set for a forming quorum's
// anchor. A capability trait rather than the concrete *selector.Selector,
// per spec.md §9's preference for narrow interfaces over cyclic
// component references.
type MemberSelector interface {
	Members(anchor llmq.Anchor) ([]llmq.Masternode, error)
}

// LocalIdentity is the local node's DKG-participation credentials. A
// non-masternode (or a masternode without a registered operator key)
// leaves OperatorSK nil and only ever observes sessions.
type LocalIdentity struct {
	ProTxHash  llmq.Identifier
	OperatorSK crypto.PrivateKey
}

// OutboundMessage is one message a session produced that the manager could
// not send itself -- DKG transport is owned by whatever engine wires this
// manager to the network, matching spec.md §1's exclusion of gossip/P2P
// plumbing from this subsystem.
type OutboundMessage struct {
	LLMQType   llmq.Type
	QuorumHash llmq.Identifier
	Kind       storage.MessageKind
	Encoded    []byte
}

type trackedSession struct {
	session     *Session
	windowStart uint32
	members     []llmq.Masternode
	inFlight    chan struct{} // bounded semaphore, spec.md §4.3 "cap in-flight verifications per session"
}

// QuorumRegistrar is the narrow slice of the Share Exchange (C6) the
// session manager needs at finalization time: the ordered member list a
// materialized quorum was built from, so C6 can derive its gossip topology
// without re-running the selector (spec.md §4.6).
type QuorumRegistrar interface {
	RegisterQuorum(quorum *llmq.Quorum, members []llmq.Masternode)
}

// SessionManager is the DKG Session Manager (spec.md §4.3, component C3):
// for each enabled quorum type it runs a small pipeline of sessions keyed
// by upcoming anchor, advances their phase from chain-tip height, dispatches
// inbound messages, and persists partial state. Grounded on the teacher's
// module/dkg.Broker for the retry-guarded persistence pattern and on
// module/dkg.Controller/ReactorEngine for the phase-driven pipeline shape,
// generalized to LLMQ's multiple concurrent per-type pipelines.
type SessionManager struct {
	mu sync.Mutex

	log      zerolog.Logger
	registry *llmq.Registry
	members  MemberSelector
	local    LocalIdentity

	contributions storage.DKGContributions
	quorums       storage.Quorums
	collector     *metrics.Collector
	scorer        *batch.Scorer
	registrar     QuorumRegistrar

	pool     *workerpool.WorkerPool
	sessions map[llmq.Type]map[llmq.Identifier]*trackedSession

	outbound chan OutboundMessage

	manager *component.Manager
}

// NewSessionManager constructs a SessionManager. poolSize bounds the shared
// worker pool used for BLS pairing checks across all sessions (spec.md
// §4.3, "Pool concurrency").
func NewSessionManager(
	registry *llmq.Registry,
	members MemberSelector,
	contributions storage.DKGContributions,
	quorums storage.Quorums,
	collector *metrics.Collector,
	local LocalIdentity,
	poolSize int,
	log zerolog.Logger,
) *SessionManager {
	if poolSize <= 0 {
		poolSize = 4
	}
	m := &SessionManager{
		log:           log.With().Str("component", "llmq_dkg_manager").Logger(),
		registry:      registry,
		members:       members,
		local:         local,
		contributions: contributions,
		quorums:       quorums,
		collector:     collector,
		scorer:        batch.NewScorer(),
		pool:          workerpool.New(poolSize),
		sessions:      make(map[llmq.Type]map[llmq.Identifier]*trackedSession),
		outbound:      make(chan OutboundMessage, 64),
	}
	m.manager = component.NewManager(m.shutdownWorker)
	return m
}

// Start implements component.Component.
func (m *SessionManager) Start(ctx irrecoverable.SignalerContext) { m.manager.Start(ctx) }

// Ready implements component.Component.
func (m *SessionManager) Ready() <-chan struct{} { return m.manager.Ready() }

// Done implements component.Component.
func (m *SessionManager) Done() <-chan struct{} { return m.manager.Done() }

// Outbound is the channel sessions' outgoing messages are published to;
// the network-facing engine drains it and relays to peers.
func (m *SessionManager) Outbound() <-chan OutboundMessage { return m.outbound }

// SetQuorumRegistrar wires the Share Exchange (C6) so every quorum this
// manager finalizes is registered with it. Optional: without one, C6
// simply never learns about new quorums.
func (m *SessionManager) SetQuorumRegistrar(r QuorumRegistrar) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registrar = r
}

// Offenses drains accumulated misbehavior offenses across every session and
// the manager's own stale-message scoring.
func (m *SessionManager) Offenses() []batch.Offense {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scorer.Drain()
}

func (m *SessionManager) shutdownWorker(ctx irrecoverable.SignalerContext, ready func()) {
	ready()
	<-ctx.Done()
	m.pool.StopWait()
}

// StartSession begins a session for anchor's upcoming quorum, keyed by
// (llmqType, quorumHash). dkgWindowStart is the chain height the phase
// window began at (spec.md §4.3). If contribution/verification-vector state
// was persisted for this anchor by a prior process (a restart mid-window),
// it is replayed into the new session first.
func (m *SessionManager) StartSession(anchor llmq.Anchor, dkgWindowStart uint32) error {
	params, ok := m.registry.Get(anchor.Type)
	if !ok {
		return fmt.Errorf("dkg manager: unknown llmq type %d", anchor.Type)
	}
	members, err := m.members.Members(anchor)
	if err != nil {
		return fmt.Errorf("dkg manager: could not compute members for anchor %x: %w", anchor.BlockHash, err)
	}

	sess := NewSession(anchor, params, members, m.local.ProTxHash, m.local.OperatorSK, m.scorer)

	m.mu.Lock()
	byType, ok := m.sessions[anchor.Type]
	if !ok {
		byType = make(map[llmq.Identifier]*trackedSession)
		m.sessions[anchor.Type] = byType
	}
	byType[anchor.BlockHash] = &trackedSession{
		session:     sess,
		windowStart: dkgWindowStart,
		members:     members,
		inFlight:    make(chan struct{}, perSessionInFlightLimit),
	}
	m.mu.Unlock()

	if m.collector != nil {
		m.collector.DKGSessionStarted(fmt.Sprintf("%d", anchor.Type))
	}
	m.log.Info().Uint8("llmq_type", uint8(anchor.Type)).Hex("quorum_hash", anchor.BlockHash[:]).
		Str("session_id", uuid.NewString()).Msg("dkg session started")

	if err := m.replay(anchor); err != nil {
		return err
	}

	if sess.IsMember() {
		if msg, err := sess.BuildContribution(); err == nil {
			m.persist(anchor.Type, anchor.BlockHash, sess.myProTxHash, storage.MessageContribution, msg.Encode())
			m.publish(anchor.Type, anchor.BlockHash, storage.MessageContribution, msg.Encode())
		}
	}
	return nil
}

func (m *SessionManager) replay(anchor llmq.Anchor) error {
	key := storage.AnchorKey{LLMQType: uint8(anchor.Type), QuorumHash: anchor.BlockHash}
	var stored []storage.StoredMessage
	err := retry.Do(context.Background(), persistBackoff(), func(ctx context.Context) error {
		var loadErr error
		stored, loadErr = m.contributions.MessagesForAnchor(key)
		if loadErr != nil && loadErr != storage.ErrNotFound {
			return retry.RetryableError(loadErr)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("dkg manager: could not replay persisted messages for anchor %x: %w", anchor.BlockHash, err)
	}
	for _, sm := range stored {
		m.dispatchStored(anchor, sm)
	}
	return nil
}

func (m *SessionManager) dispatchStored(anchor llmq.Anchor, sm storage.StoredMessage) {
	switch sm.Kind {
	case storage.MessageContribution:
		if msg, err := llmq.DecodeContributionMsg(sm.Encoded); err == nil {
			_, _ = m.HandleContribution(anchor.Type, msg)
		}
	case storage.MessageComplaint:
		if msg, err := llmq.DecodeComplaintMsg(sm.Encoded); err == nil {
			_, _ = m.HandleComplaint(anchor.Type, msg)
		}
	case storage.MessageJustification:
		if msg, err := llmq.DecodeJustificationMsg(sm.Encoded); err == nil {
			_, _ = m.HandleJustification(anchor.Type, msg)
		}
	case storage.MessagePrematureCommitment:
		if msg, err := llmq.DecodePrematureCommitmentMsg(sm.Encoded); err == nil {
			_, _ = m.HandlePrematureCommitment(anchor.Type, msg)
		}
	}
}

func (m *SessionManager) lookup(llmqType llmq.Type, quorumHash llmq.Identifier) (*trackedSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byType, ok := m.sessions[llmqType]
	if !ok {
		return nil, false
	}
	ts, ok := byType[quorumHash]
	return ts, ok
}

func (m *SessionManager) persist(llmqType llmq.Type, quorumHash llmq.Identifier, sender llmq.Identifier, kind storage.MessageKind, encoded []byte) {
	key := storage.AnchorKey{LLMQType: uint8(llmqType), QuorumHash: quorumHash}
	err := retry.Do(context.Background(), persistBackoff(), func(ctx context.Context) error {
		if err := m.contributions.StoreMessage(key, sender, kind, encoded); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		m.log.Error().Err(err).Msg("dkg manager: could not persist dkg message after retries")
	}
}

func (m *SessionManager) publish(llmqType llmq.Type, quorumHash llmq.Identifier, kind storage.MessageKind, encoded []byte) {
	select {
	case m.outbound <- OutboundMessage{LLMQType: llmqType, QuorumHash: quorumHash, Kind: kind, Encoded: encoded}:
	default:
		m.log.Warn().Msg("dkg manager: outbound queue full, dropping message")
	}
}

// HandleContribution dispatches an inbound Contribution message to the
// matching session.
func (m *SessionManager) HandleContribution(llmqType llmq.Type, msg llmq.ContributionMsg) (bool, error) {
	ts, ok := m.lookup(llmqType, msg.QuorumHash)
	if !ok {
		m.scorer.Report(msg.ProTxHash, batch.Stale, "contribution: unknown anchor")
		return false, fmt.Errorf("dkg manager: unknown anchor %x", msg.QuorumHash)
	}
	relay, err := ts.session.HandleContribution(msg)
	if err == nil {
		m.persist(llmqType, msg.QuorumHash, msg.ProTxHash, storage.MessageContribution, msg.Encode())
	}
	if relay {
		m.publish(llmqType, msg.QuorumHash, storage.MessageContribution, msg.Encode())
	}
	return relay, err
}

// HandleComplaint dispatches an inbound Complaint message to the matching
// session.
func (m *SessionManager) HandleComplaint(llmqType llmq.Type, msg llmq.ComplaintMsg) (bool, error) {
	ts, ok := m.lookup(llmqType, msg.QuorumHash)
	if !ok {
		m.scorer.Report(msg.ProTxHash, batch.Stale, "complaint: unknown anchor")
		return false, fmt.Errorf("dkg manager: unknown anchor %x", msg.QuorumHash)
	}
	relay, err := ts.session.HandleComplaint(msg)
	if err == nil {
		m.persist(llmqType, msg.QuorumHash, msg.ProTxHash, storage.MessageComplaint, msg.Encode())
	}
	if relay {
		m.publish(llmqType, msg.QuorumHash, storage.MessageComplaint, msg.Encode())
	}
	return relay, err
}

// HandleJustification dispatches an inbound Justification message to the
// matching session.
func (m *SessionManager) HandleJustification(llmqType llmq.Type, msg llmq.JustificationMsg) (bool, error) {
	ts, ok := m.lookup(llmqType, msg.QuorumHash)
	if !ok {
		m.scorer.Report(msg.ProTxHash, batch.Stale, "justification: unknown anchor")
		return false, fmt.Errorf("dkg manager: unknown anchor %x", msg.QuorumHash)
	}
	relay, err := ts.session.HandleJustification(msg)
	if err == nil {
		m.persist(llmqType, msg.QuorumHash, msg.ProTxHash, storage.MessageJustification, msg.Encode())
	}
	if relay {
		m.publish(llmqType, msg.QuorumHash, storage.MessageJustification, msg.Encode())
	}
	return relay, err
}

// HandlePrematureCommitment dispatches an inbound PrematureCommitment
// message to the matching session, gated by the per-session in-flight cap
// on BLS pairing checks (spec.md §4.3, "Pool concurrency").
func (m *SessionManager) HandlePrematureCommitment(llmqType llmq.Type, msg llmq.PrematureCommitmentMsg) (bool, error) {
	ts, ok := m.lookup(llmqType, msg.QuorumHash)
	if !ok {
		m.scorer.Report(msg.ProTxHash, batch.Stale, "commitment: unknown anchor")
		return false, fmt.Errorf("dkg manager: unknown anchor %x", msg.QuorumHash)
	}

	select {
	case ts.inFlight <- struct{}{}:
	default:
		m.scorer.Report(msg.ProTxHash, batch.Minor, "commitment: session in-flight cap exceeded")
		return false, fmt.Errorf("dkg manager: session %x in-flight verification cap exceeded", msg.QuorumHash)
	}

	type outcome struct {
		relay bool
		err   error
	}
	done := make(chan outcome, 1)
	m.pool.Submit(func() {
		relay, err := ts.session.HandlePrematureCommitment(msg)
		done <- outcome{relay: relay, err: err}
	})
	out := <-done
	<-ts.inFlight

	if out.err == nil {
		m.persist(llmqType, msg.QuorumHash, msg.ProTxHash, storage.MessagePrematureCommitment, msg.Encode())
	}
	if out.relay {
		m.publish(llmqType, msg.QuorumHash, storage.MessagePrematureCommitment, msg.Encode())
	}
	return out.relay, out.err
}

// UpdatedBlockTip advances every active session's phase for llmqType based
// on tipHeight (spec.md §4.3, "advance each session's phase based on
// (tipHeight - dkgWindowStart) / dkgPhaseBlocks"). It produces this node's
// own contribution/complaint/justification/commitment messages as sessions
// cross phase boundaries, and materializes+persists the Quorum once a
// session finalizes.
func (m *SessionManager) UpdatedBlockTip(llmqType llmq.Type, tipHeight uint32) {
	params, ok := m.registry.Get(llmqType)
	if !ok {
		return
	}

	m.mu.Lock()
	byType := m.sessions[llmqType]
	anchors := make([]llmq.Identifier, 0, len(byType))
	for hash := range byType {
		anchors = append(anchors, hash)
	}
	m.mu.Unlock()

	for _, hash := range anchors {
		ts, ok := m.lookup(llmqType, hash)
		if !ok {
			continue
		}
		m.driveSession(llmqType, params, ts, tipHeight)
	}
}

func (m *SessionManager) driveSession(llmqType llmq.Type, params llmq.Params, ts *trackedSession, tipHeight uint32) {
	sess := ts.session
	if tipHeight < ts.windowStart {
		return
	}
	windowIndex := int((tipHeight - ts.windowStart) / uint32(params.DKGPhaseBlocks))
	targetPhase := phaseAt(windowIndex)

	for sess.Phase() < targetPhase && sess.Phase() != PhaseAbandoned && sess.Phase() != PhaseFinalized {
		before := sess.Phase()
		after := sess.Advance()
		if after == before {
			break
		}
		m.onPhaseEntered(llmqType, sess, after)
	}

	if sess.Phase() == PhasePrematureCommit {
		if final, ok, err := sess.TryFinalize(); err == nil && ok {
			m.onFinalized(llmqType, ts, final)
		}
	}
	if targetPhase >= PhaseAbandoned && sess.Phase() != PhaseFinalized {
		sess.Abandon()
		m.removeSession(llmqType, sess)
		if m.collector != nil {
			m.collector.DKGSessionFailed(fmt.Sprintf("%d", llmqType))
		}
	}
}

// phaseAt maps a phase-window index to the phase active during that window:
// window 0 is Contribute, 1 is Complain, 2 is Justify, 3 is PrematureCommit,
// anything beyond is treated as past the session's normal lifetime.
func phaseAt(windowIndex int) Phase {
	switch {
	case windowIndex <= 0:
		return PhaseContribute
	case windowIndex == 1:
		return PhaseComplain
	case windowIndex == 2:
		return PhaseJustify
	case windowIndex == 3:
		return PhasePrematureCommit
	default:
		return PhaseAbandoned
	}
}

func (m *SessionManager) onPhaseEntered(llmqType llmq.Type, sess *Session, phase Phase) {
	if !sess.IsMember() {
		return
	}
	switch phase {
	case PhaseComplain:
		if msg, err := sess.BuildComplaint(); err == nil {
			m.persist(llmqType, sess.anchor.BlockHash, sess.myProTxHash, storage.MessageComplaint, msg.Encode())
			m.publish(llmqType, sess.anchor.BlockHash, storage.MessageComplaint, msg.Encode())
		}
	case PhaseJustify:
		if msg, sent, err := sess.BuildJustification(); err == nil && sent {
			m.persist(llmqType, sess.anchor.BlockHash, sess.myProTxHash, storage.MessageJustification, msg.Encode())
			m.publish(llmqType, sess.anchor.BlockHash, storage.MessageJustification, msg.Encode())
		}
	case PhasePrematureCommit:
		if msg, sent, err := sess.BuildPrematureCommitment(); err == nil && sent {
			m.persist(llmqType, sess.anchor.BlockHash, sess.myProTxHash, storage.MessagePrematureCommitment, msg.Encode())
			m.publish(llmqType, sess.anchor.BlockHash, storage.MessagePrematureCommitment, msg.Encode())
		}
	}
}

func (m *SessionManager) onFinalized(llmqType llmq.Type, ts *trackedSession, final *llmq.FinalCommitment) {
	sess := ts.session
	quorum, err := sess.MaterializeQuorum()
	if err != nil {
		m.log.Error().Err(err).Msg("dkg manager: could not materialize finalized quorum")
		return
	}
	err = retry.Do(context.Background(), persistBackoff(), func(ctx context.Context) error {
		if err := m.quorums.Store(uint8(llmqType), final.Anchor.BlockHash, quorum.Encode()); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		m.log.Error().Err(err).Msg("dkg manager: could not persist finalized quorum after retries")
		return
	}
	key := storage.AnchorKey{LLMQType: uint8(llmqType), QuorumHash: final.Anchor.BlockHash}
	if err := m.contributions.DeleteAnchor(key); err != nil {
		m.log.Warn().Err(err).Msg("dkg manager: could not clean up dkg message archive")
	}
	m.removeSession(llmqType, sess)

	m.mu.Lock()
	registrar := m.registrar
	m.mu.Unlock()
	if registrar != nil {
		registrar.RegisterQuorum(quorum, ts.members)
	}

	m.log.Info().Uint8("llmq_type", uint8(llmqType)).Hex("quorum_hash", final.Anchor.BlockHash[:]).
		Bool("is_member", quorum.IsMember()).Msg("dkg session finalized")
}

func (m *SessionManager) removeSession(llmqType llmq.Type, sess *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if byType, ok := m.sessions[llmqType]; ok {
		delete(byType, sess.anchor.BlockHash)
	}
}
