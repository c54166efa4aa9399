// Package court implements the commit-reveal, seeded-panel dispute
// protocol. A dispute moves through monotone phases (reveal_pending,
// arbiter_response, evidence, deliberation) into a terminal resolved or
// fallback state; every phase has one entry and one exit rule, driven by
// a signed message or a deadline timer.
package court

import (
	"crypto/ed25519"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentchat/relay/internal/identity"
	"github.com/agentchat/relay/internal/proposal"
	"github.com/agentchat/relay/internal/protocol"
	"github.com/agentchat/relay/internal/reputation"
)

// Phase is a dispute lifecycle phase.
type Phase string

const (
	PhaseRevealPending   Phase = "reveal_pending"
	PhaseArbiterResponse Phase = "arbiter_response"
	PhaseEvidence        Phase = "evidence"
	PhaseDeliberation    Phase = "deliberation"
	PhaseResolved        Phase = "resolved"
	PhaseFallback        Phase = "fallback"
)

// SlotStatus tracks one arbiter's standing on a panel.
type SlotStatus string

const (
	SlotPending   SlotStatus = "pending"
	SlotAccepted  SlotStatus = "accepted"
	SlotDeclined  SlotStatus = "declined"
	SlotVoted     SlotStatus = "voted"
	SlotForfeited SlotStatus = "forfeited"
)

// Slot is one panel seat. Seats are never removed once assigned, so the
// panel record doubles as the selection audit trail.
type Slot struct {
	Agent  string
	Status SlotStatus
	Vote   string

	// staked is set once the seat's acceptance stake is escrowed. Only
	// staked seats have anything to forfeit at resolution.
	staked bool
}

// Dispute is a court record.
type Dispute struct {
	ID             string
	ProposalID     string
	Disputant      string
	Respondent     string
	Reason         string
	Commitment     string
	DisputantNonce string
	ServerNonce    string
	Seed           string
	Phase          Phase
	Slots          []*Slot
	Evidence       map[string]protocol.PartyEvidence

	RevealDeadline   int64
	EvidenceDeadline int64
	VoteDeadline     int64

	// order is the full seeded shuffle of the eligible pool; replacements
	// take the next unused entry.
	order    []string
	nextSeat int
	timer    *time.Timer
}

func (d *Dispute) escrowKey() string {
	return "dispute:" + d.ID
}

func (d *Dispute) slot(agent string) *Slot {
	for _, s := range d.Slots {
		if s.Agent == agent {
			return s
		}
	}
	return nil
}

func (d *Dispute) isParty(agent string) bool {
	return agent == d.Disputant || agent == d.Respondent
}

// Config carries the court's deadlines and stakes.
type Config struct {
	RevealTTL     time.Duration
	ResponseTTL   time.Duration
	EvidenceTTL   time.Duration
	VoteTTL       time.Duration
	ArbiterStake  int
	MajorityBonus int
}

// Directory is the court's window into the connected world. The relay hub
// implements it; EligibleArbiters applies the full eligibility rule
// (verified, not a party, present, rating and transaction thresholds).
type Directory interface {
	PublicKey(agentID string) (ed25519.PublicKey, bool)
	Deliver(agentID string, frame any) bool
	EligibleArbiters(exclude ...string) []string
}

// Court owns every dispute record. Like the proposal engine it serialises
// all transitions behind one mutex; deadline timers re-enter through the
// same lock and misfires for already-exited phases are absorbed.
type Court struct {
	mu         sync.Mutex
	disputes   map[string]*Dispute
	byProposal map[string]string
	cfg        Config
	engine     *proposal.Engine
	ledger     *reputation.Ledger
	dir        Directory
}

// New creates a court.
func New(cfg Config, engine *proposal.Engine, ledger *reputation.Ledger, dir Directory) *Court {
	return &Court{
		disputes:   make(map[string]*Dispute),
		byProposal: make(map[string]string),
		cfg:        cfg,
		engine:     engine,
		ledger:     ledger,
		dir:        dir,
	}
}

func (c *Court) verify(agentID, canonical, signature string) *protocol.Error {
	pub, ok := c.dir.PublicKey(agentID)
	if !ok {
		return protocol.Errf(protocol.KindAuthFailure, protocol.CodeVerificationRequired,
			"operation requires a verified identity")
	}
	if !identity.Verify(pub, canonical, signature) {
		return protocol.InvalidSignature()
	}
	return nil
}

// ============================================================================
// FILING: INTENT AND REVEAL
// ============================================================================

// FileIntent opens the commit phase of a dispute. The proposal must be
// ACCEPTED, the filer a party, and at most one dispute may ever exist per
// proposal.
func (c *Court) FileIntent(from string, in *protocol.DisputeIntent) (*protocol.DisputeIntentAck, *protocol.Error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.byProposal[in.ProposalID]; exists {
		return nil, protocol.StateConflict(protocol.CodeDisputeAlreadyExists,
			"proposal %s already has a dispute", in.ProposalID)
	}
	p, ok := c.engine.Get(in.ProposalID)
	if !ok {
		return nil, protocol.InvalidMsg("unknown proposal %s", in.ProposalID)
	}
	if from != p.Proposer && from != p.Recipient {
		return nil, protocol.Unauthorized(protocol.CodeNotProposalParty,
			"agent is not a party to this proposal")
	}
	if p.State != proposal.StateAccepted {
		return nil, protocol.StateConflict(protocol.CodeInvalidMsg,
			"proposal is %s, not ACCEPTED", p.State)
	}
	if len(in.Commitment) != 64 {
		return nil, protocol.InvalidMsg("commitment must be 64 hex chars")
	}
	canonical := identity.DisputeIntentString(in.ProposalID, in.Reason, in.Commitment)
	if verr := c.verify(from, canonical, in.Signature); verr != nil {
		return nil, verr
	}

	respondent := p.Proposer
	if from == p.Proposer {
		respondent = p.Recipient
	}
	serverNonce, nerr := identity.GenerateNonce()
	if nerr != nil {
		return nil, protocol.Errf(protocol.KindResourceExhausted,
			protocol.CodeInvalidMsg, "cannot mint server nonce")
	}
	d := &Dispute{
		ID:             uuid.New().String(),
		ProposalID:     in.ProposalID,
		Disputant:      from,
		Respondent:     respondent,
		Reason:         in.Reason,
		Commitment:     in.Commitment,
		ServerNonce:    serverNonce,
		Phase:          PhaseRevealPending,
		Evidence:       make(map[string]protocol.PartyEvidence),
		RevealDeadline: time.Now().Add(c.cfg.RevealTTL).UnixMilli(),
	}
	c.disputes[d.ID] = d
	c.byProposal[d.ProposalID] = d.ID
	c.armLocked(d, c.cfg.RevealTTL, PhaseRevealPending)

	return &protocol.DisputeIntentAck{
		Type:           protocol.TypeDisputeIntentAck,
		DisputeID:      d.ID,
		ProposalID:     d.ProposalID,
		Commitment:     d.Commitment,
		ServerNonce:    d.ServerNonce,
		RevealDeadline: d.RevealDeadline,
	}, nil
}

// Reveal closes the commit phase. A nonce that does not hash to the
// committed value fails with DISPUTE_COMMITMENT_MISMATCH and leaves the
// phase unchanged; a matching nonce moves the proposal to DISPUTED, fixes
// the selection seed, and forms the panel.
func (c *Court) Reveal(from string, in *protocol.DisputeReveal) *protocol.Error {
	c.mu.Lock()
	defer c.mu.Unlock()

	d, err := c.byProposalLocked(in.ProposalID)
	if err != nil {
		return err
	}
	if d.Phase != PhaseRevealPending {
		return protocol.StateConflict(protocol.CodeDisputeInvalidPhase,
			"dispute is in %s, not reveal_pending", d.Phase)
	}
	if from != d.Disputant {
		return protocol.Unauthorized(protocol.CodeDisputeNotParty,
			"only the disputant can reveal")
	}
	canonical := identity.DisputeRevealString(in.ProposalID, in.Nonce)
	if verr := c.verify(from, canonical, in.Signature); verr != nil {
		return verr
	}
	if identity.CommitmentFor(in.Nonce) != d.Commitment {
		return protocol.Errf(protocol.KindInvariantViolation,
			protocol.CodeDisputeCommitMismatch,
			"revealed nonce does not match the commitment")
	}

	if _, perr := c.engine.BeginCourtDispute(d.ProposalID, d.Disputant); perr != nil {
		// Proposal left ACCEPTED while the filing was pending.
		c.dropLocked(d)
		return perr
	}

	d.DisputantNonce = in.Nonce
	d.Seed = identity.SelectionSeed(d.ProposalID, d.DisputantNonce, d.ServerNonce)

	pool := c.dir.EligibleArbiters(d.Disputant, d.Respondent)
	if len(pool) < PanelSize {
		c.fallbackLocked(d, "insufficient eligible arbiters")
		return nil
	}

	d.order = ShufflePool(d.Seed, pool)
	for d.nextSeat < PanelSize {
		d.Slots = append(d.Slots, &Slot{Agent: d.order[d.nextSeat], Status: SlotPending})
		d.nextSeat++
	}

	d.Phase = PhaseArbiterResponse
	responseDeadline := time.Now().Add(c.cfg.ResponseTTL)
	d.EvidenceDeadline = responseDeadline.Add(c.cfg.EvidenceTTL).UnixMilli()
	d.VoteDeadline = responseDeadline.Add(c.cfg.EvidenceTTL + c.cfg.VoteTTL).UnixMilli()
	c.armLocked(d, c.cfg.ResponseTTL, PhaseArbiterResponse)

	revealed := &protocol.DisputeRevealed{
		Type:       protocol.TypeDisputeRevealed,
		DisputeID:  d.ID,
		ProposalID: d.ProposalID,
	}
	c.dir.Deliver(d.Disputant, revealed)
	c.dir.Deliver(d.Respondent, revealed)

	formed := &protocol.PanelFormed{
		Type:             protocol.TypePanelFormed,
		DisputeID:        d.ID,
		Arbiters:         d.panelAgents(),
		Seed:             d.Seed,
		ServerNonce:      d.ServerNonce,
		EvidenceDeadline: d.EvidenceDeadline,
		VoteDeadline:     d.VoteDeadline,
	}
	c.dir.Deliver(d.Disputant, formed)
	c.dir.Deliver(d.Respondent, formed)

	for _, s := range d.Slots {
		c.dir.Deliver(s.Agent, &protocol.ArbiterAssigned{
			Type:       protocol.TypeArbiterAssigned,
			DisputeID:  d.ID,
			ProposalID: d.ProposalID,
			Deadline:   responseDeadline.UnixMilli(),
		})
	}
	return nil
}

// ============================================================================
// PANEL RESPONSE
// ============================================================================

// AcceptSeat records an arbiter's acceptance and escrows their stake.
// When the third seat accepts, the dispute enters the evidence phase.
func (c *Court) AcceptSeat(from string, in *protocol.ArbiterAccept) *protocol.Error {
	c.mu.Lock()
	defer c.mu.Unlock()

	d, s, err := c.seatLocked(in.DisputeID, from)
	if err != nil {
		return err
	}
	if verr := c.verify(from, identity.ArbiterAcceptString(d.ID), in.Signature); verr != nil {
		return verr
	}

	if c.cfg.ArbiterStake > 0 {
		stake := map[string]int{from: c.cfg.ArbiterStake}
		if herr := c.ledger.HoldStakes(d.escrowKey(), stake); herr != nil {
			return protocol.Errf(protocol.KindResourceExhausted,
				protocol.CodeInsufficientReputation,
				"available rating cannot cover the %d arbiter stake", c.cfg.ArbiterStake)
		}
		s.staked = true
	}
	s.Status = SlotAccepted

	if d.acceptedCount() >= PanelSize {
		c.enterEvidenceLocked(d)
	}
	return nil
}

// DeclineSeat records a refusal and assigns the next candidate from the
// seeded order. Exhausting the pool sends the dispute to fallback.
func (c *Court) DeclineSeat(from string, in *protocol.ArbiterDecline) *protocol.Error {
	c.mu.Lock()
	defer c.mu.Unlock()

	d, s, err := c.seatLocked(in.DisputeID, from)
	if err != nil {
		return err
	}
	canonical := identity.ArbiterDeclineString(d.ID, in.Reason)
	if verr := c.verify(from, canonical, in.Signature); verr != nil {
		return verr
	}

	s.Status = SlotDeclined
	c.replaceSeatLocked(d)
	return nil
}

// seatLocked resolves a dispute and the caller's pending seat on it.
func (c *Court) seatLocked(disputeID, agent string) (*Dispute, *Slot, *protocol.Error) {
	d, ok := c.disputes[disputeID]
	if !ok {
		return nil, nil, protocol.NotFound(protocol.CodeDisputeNotFound,
			"unknown dispute %s", disputeID)
	}
	if d.Phase != PhaseArbiterResponse {
		return nil, nil, protocol.StateConflict(protocol.CodeDisputeInvalidPhase,
			"dispute is in %s, not arbiter_response", d.Phase)
	}
	s := d.slot(agent)
	if s == nil || s.Status != SlotPending {
		return nil, nil, protocol.Unauthorized(protocol.CodeDisputeNotArbiter,
			"agent holds no pending seat on this panel")
	}
	return d, s, nil
}

// replaceSeatLocked fills the panel back up to size from the unused tail
// of the seeded order, or falls back when the pool is exhausted.
func (c *Court) replaceSeatLocked(d *Dispute) {
	for d.liveSeatCount() < PanelSize {
		if d.nextSeat >= len(d.order) {
			c.fallbackLocked(d, "eligible arbiter pool exhausted")
			return
		}
		agent := d.order[d.nextSeat]
		d.nextSeat++
		d.Slots = append(d.Slots, &Slot{Agent: agent, Status: SlotPending})
		c.dir.Deliver(agent, &protocol.ArbiterAssigned{
			Type:          protocol.TypeArbiterAssigned,
			DisputeID:     d.ID,
			ProposalID:    d.ProposalID,
			IsReplacement: true,
			Deadline:      time.Now().Add(c.cfg.ResponseTTL).UnixMilli(),
		})
	}
}

// ============================================================================
// EVIDENCE
// ============================================================================

// SubmitEvidence records one party's evidence. Both parties submitting
// closes the phase early.
func (c *Court) SubmitEvidence(from string, in *protocol.Evidence) *protocol.Error {
	c.mu.Lock()
	defer c.mu.Unlock()

	d, ok := c.disputes[in.DisputeID]
	if !ok {
		return protocol.NotFound(protocol.CodeDisputeNotFound, "unknown dispute %s", in.DisputeID)
	}
	if d.Phase != PhaseEvidence {
		return protocol.StateConflict(protocol.CodeDisputeInvalidPhase,
			"dispute is in %s, not evidence", d.Phase)
	}
	if !d.isParty(from) {
		return protocol.Unauthorized(protocol.CodeDisputeNotParty,
			"only the dispute parties may submit evidence")
	}
	if err := protocol.ValidateEvidence(in.Items, in.Statement); err != nil {
		return err
	}
	digest, derr := identity.CanonicalDigest(in.Items)
	if derr != nil {
		return protocol.InvalidMsg("evidence items are not canonicalisable")
	}
	if verr := c.verify(from, identity.EvidenceString(d.ID, digest), in.Signature); verr != nil {
		return verr
	}

	d.Evidence[from] = protocol.PartyEvidence{Items: in.Items, Statement: in.Statement}

	received := &protocol.EvidenceReceived{
		Type:      protocol.TypeEvidenceReceived,
		DisputeID: d.ID,
		From:      from,
		Items:     len(in.Items),
	}
	c.dir.Deliver(d.Disputant, received)
	c.dir.Deliver(d.Respondent, received)

	if len(d.Evidence) == 2 {
		c.enterDeliberationLocked(d)
	}
	return nil
}

// ============================================================================
// DELIBERATION AND VERDICT
// ============================================================================

// CastVote records an arbiter's verdict vote. The last vote resolves the
// dispute immediately.
func (c *Court) CastVote(from string, in *protocol.ArbiterVote) *protocol.Error {
	c.mu.Lock()
	defer c.mu.Unlock()

	d, ok := c.disputes[in.DisputeID]
	if !ok {
		return protocol.NotFound(protocol.CodeDisputeNotFound, "unknown dispute %s", in.DisputeID)
	}
	if d.Phase != PhaseDeliberation {
		return protocol.StateConflict(protocol.CodeDisputeInvalidPhase,
			"dispute is in %s, not deliberation", d.Phase)
	}
	s := d.slot(from)
	if s == nil || s.Status != SlotAccepted {
		return protocol.Unauthorized(protocol.CodeDisputeNotArbiter,
			"agent holds no voting seat on this panel")
	}
	switch in.Verdict {
	case proposal.VerdictDisputant, proposal.VerdictRespondent, proposal.VerdictMutual:
	default:
		return protocol.InvalidMsg("unknown verdict %q", in.Verdict)
	}
	if verr := c.verify(from, identity.VoteString(d.ID, in.Verdict), in.Signature); verr != nil {
		return verr
	}

	s.Status = SlotVoted
	s.Vote = in.Verdict

	if d.pendingVoteCount() == 0 {
		c.resolveLocked(d)
	}
	return nil
}

// Get returns a snapshot of a dispute.
func (c *Court) Get(id string) (Dispute, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d, ok := c.disputes[id]; ok {
		snap := *d
		snap.Slots = append([]*Slot(nil), d.Slots...)
		return snap, true
	}
	return Dispute{}, false
}

// ForProposal returns the dispute id filed against a proposal, if any.
func (c *Court) ForProposal(proposalID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.byProposal[proposalID]
	return id, ok
}

// HandleDisconnect forfeits any seat the agent holds on a live panel. The
// seat stays in the record for the audit trail; during panel formation a
// replacement is drawn.
func (c *Court) HandleDisconnect(agentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, d := range c.disputes {
		if d.Phase != PhaseArbiterResponse && d.Phase != PhaseEvidence && d.Phase != PhaseDeliberation {
			continue
		}
		s := d.slot(agentID)
		if s == nil || s.Status == SlotDeclined || s.Status == SlotForfeited || s.Status == SlotVoted {
			continue
		}
		wasAccepted := s.Status == SlotAccepted
		s.Status = SlotForfeited
		if wasAccepted {
			// Their stake stays held; forfeiture is settled at resolution.
			if d.Phase == PhaseEvidence || d.Phase == PhaseDeliberation {
				continue
			}
		}
		if d.Phase == PhaseArbiterResponse {
			c.replaceSeatLocked(d)
		}
	}
}

// ============================================================================
// PHASE TRANSITIONS AND TIMERS
// ============================================================================

func (c *Court) enterEvidenceLocked(d *Dispute) {
	d.Phase = PhaseEvidence
	d.EvidenceDeadline = time.Now().Add(c.cfg.EvidenceTTL).UnixMilli()
	c.armLocked(d, c.cfg.EvidenceTTL, PhaseEvidence)
}

func (c *Court) enterDeliberationLocked(d *Dispute) {
	d.Phase = PhaseDeliberation
	d.VoteDeadline = time.Now().Add(c.cfg.VoteTTL).UnixMilli()
	c.armLocked(d, c.cfg.VoteTTL, PhaseDeliberation)

	evidence := make(map[string]protocol.PartyEvidence, len(d.Evidence))
	for party, ev := range d.Evidence {
		evidence[party] = ev
	}
	ready := &protocol.CaseReady{
		Type:         protocol.TypeCaseReady,
		DisputeID:    d.ID,
		ProposalID:   d.ProposalID,
		Reason:       d.Reason,
		Evidence:     evidence,
		VoteDeadline: d.VoteDeadline,
	}
	for _, s := range d.Slots {
		if s.Status == SlotAccepted {
			c.dir.Deliver(s.Agent, ready)
		}
	}
}

// resolveLocked computes the verdict from the available votes, applies the
// proposal settlement, and settles the arbiter stakes: majority voters
// earn the bonus, minority voters get their stake back, non-voters forfeit.
func (c *Court) resolveLocked(d *Dispute) {
	d.stopTimer()
	d.Phase = PhaseResolved

	votes := make(map[string]string)
	for _, s := range d.Slots {
		if s.Status == SlotVoted {
			votes[s.Agent] = s.Vote
		}
	}
	verdict := MajorityVerdict(votes)

	changes := c.engine.ResolveVerdict(d.ProposalID, verdict)
	if changes == nil {
		changes = map[string]int{}
	}

	for _, s := range d.Slots {
		switch s.Status {
		case SlotVoted:
			c.ledger.ReleaseHold(d.escrowKey(), s.Agent)
			if s.Vote == verdict && c.cfg.MajorityBonus > 0 {
				changes[s.Agent] += c.ledger.Adjust(s.Agent, c.cfg.MajorityBonus)
			}
		case SlotAccepted, SlotForfeited:
			// Accepted but silent, or disconnected after staking. A seat
			// that vanished before it ever staked has nothing at risk.
			if !s.staked {
				continue
			}
			c.ledger.ReleaseHold(d.escrowKey(), s.Agent)
			changes[s.Agent] += c.ledger.Adjust(s.Agent, -c.cfg.ArbiterStake)
		}
	}

	settlement := "transferred"
	if verdict == proposal.VerdictMutual {
		settlement = "burned"
	}
	frame := &protocol.Verdict{
		Type:             protocol.TypeVerdict,
		DisputeID:        d.ID,
		ProposalID:       d.ProposalID,
		Verdict:          verdict,
		Votes:            votes,
		RatingChanges:    changes,
		EscrowSettlement: settlement,
	}
	c.dir.Deliver(d.Disputant, frame)
	c.dir.Deliver(d.Respondent, frame)
	for _, s := range d.Slots {
		if s.Status == SlotVoted || s.Status == SlotAccepted {
			c.dir.Deliver(s.Agent, frame)
		}
	}
}

// fallbackLocked terminates a dispute that cannot seat a panel. The
// underlying disagreement still settles, using the bilateral dispute rule
// with the disputant as the prevailing party; any arbiter stakes already
// held are returned.
func (c *Court) fallbackLocked(d *Dispute, reason string) {
	d.stopTimer()
	d.Phase = PhaseFallback

	c.ledger.ReleaseEscrow(d.escrowKey())
	c.engine.ResolveVerdict(d.ProposalID, proposal.VerdictDisputant)

	frame := &protocol.DisputeFallback{
		Type:       protocol.TypeDisputeFallback,
		DisputeID:  d.ID,
		ProposalID: d.ProposalID,
		Reason:     reason,
	}
	c.dir.Deliver(d.Disputant, frame)
	c.dir.Deliver(d.Respondent, frame)
}

// dropLocked removes a dead filing so the proposal can be disputed again.
func (c *Court) dropLocked(d *Dispute) {
	d.stopTimer()
	delete(c.disputes, d.ID)
	delete(c.byProposal, d.ProposalID)
}

// armLocked schedules the deadline for the phase the dispute just
// entered. The callback re-checks the phase under the lock, so a timer
// for an already-exited phase is a no-op.
func (c *Court) armLocked(d *Dispute, ttl time.Duration, phase Phase) {
	d.stopTimer()
	id := d.ID
	d.timer = time.AfterFunc(ttl, func() {
		c.deadline(id, phase)
	})
}

// deadline is every phase's timer path.
func (c *Court) deadline(disputeID string, phase Phase) {
	c.mu.Lock()
	defer c.mu.Unlock()

	d, ok := c.disputes[disputeID]
	if !ok || d.Phase != phase {
		return
	}
	switch phase {
	case PhaseRevealPending:
		// The commitment was never revealed; the filing dies and the
		// proposal is untouched.
		c.dir.Deliver(d.Disputant, &protocol.DisputeFallback{
			Type:       protocol.TypeDisputeFallback,
			DisputeID:  d.ID,
			ProposalID: d.ProposalID,
			Reason:     "reveal deadline passed",
		})
		c.dropLocked(d)

	case PhaseArbiterResponse:
		for _, s := range d.Slots {
			if s.Status == SlotPending {
				s.Status = SlotForfeited
			}
		}
		if d.acceptedCount() >= PanelSize {
			c.enterEvidenceLocked(d)
		} else {
			c.fallbackLocked(d, "panel did not respond in time")
		}

	case PhaseEvidence:
		c.enterDeliberationLocked(d)

	case PhaseDeliberation:
		c.resolveLocked(d)
	}
}

// ============================================================================
// SMALL HELPERS
// ============================================================================

func (c *Court) byProposalLocked(proposalID string) (*Dispute, *protocol.Error) {
	id, ok := c.byProposal[proposalID]
	if !ok {
		return nil, protocol.NotFound(protocol.CodeDisputeNotFound,
			"no dispute filed against proposal %s", proposalID)
	}
	return c.disputes[id], nil
}

func (d *Dispute) panelAgents() []string {
	agents := make([]string, 0, len(d.Slots))
	for _, s := range d.Slots {
		if s.Status == SlotPending || s.Status == SlotAccepted {
			agents = append(agents, s.Agent)
		}
	}
	return agents
}

func (d *Dispute) acceptedCount() int {
	n := 0
	for _, s := range d.Slots {
		if s.Status == SlotAccepted {
			n++
		}
	}
	return n
}

// liveSeatCount counts seats still in play: pending, accepted, or voted.
func (d *Dispute) liveSeatCount() int {
	n := 0
	for _, s := range d.Slots {
		switch s.Status {
		case SlotPending, SlotAccepted, SlotVoted:
			n++
		}
	}
	return n
}

func (d *Dispute) pendingVoteCount() int {
	n := 0
	for _, s := range d.Slots {
		if s.Status == SlotAccepted {
			n++
		}
	}
	return n
}

func (d *Dispute) stopTimer() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// MajorityVerdict tallies the recorded votes. A unique plurality wins;
// any tie, including an empty tally, resolves to mutual fault.
func MajorityVerdict(votes map[string]string) string {
	counts := make(map[string]int)
	for _, v := range votes {
		counts[v]++
	}
	best, bestCount, tied := "", 0, false
	for verdict, n := range counts {
		switch {
		case n > bestCount:
			best, bestCount, tied = verdict, n, false
		case n == bestCount:
			tied = true
		}
	}
	if best == "" || tied {
		return proposal.VerdictMutual
	}
	return best
}
