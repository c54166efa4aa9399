// Package proposal implements the signed negotiation lifecycle: creation,
// acceptance with escrowed reputation stakes, completion, dispute, and
// expiry. Every transition is gated on an Ed25519 signature over the
// operation's canonical content string.
package proposal

import (
	"crypto/ed25519"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentchat/relay/internal/identity"
	"github.com/agentchat/relay/internal/protocol"
	"github.com/agentchat/relay/internal/reputation"
)

// State is a proposal lifecycle state.
type State string

const (
	StatePending   State = "PENDING"
	StateAccepted  State = "ACCEPTED"
	StateRejected  State = "REJECTED"
	StateCompleted State = "COMPLETED"
	StateDisputed  State = "DISPUTED"
	StateExpired   State = "EXPIRED"
)

// Verdict outcomes a court settlement can apply.
const (
	VerdictDisputant  = "disputant"
	VerdictRespondent = "respondent"
	VerdictMutual     = "mutual"
)

// Directory is the engine's window into the connected world: key lookup,
// verification status, and frame delivery. The relay hub implements it.
type Directory interface {
	PublicKey(agentID string) (ed25519.PublicKey, bool)
	IsVerified(agentID string) bool
	Deliver(agentID string, frame any) bool
}

// Proposal is a live negotiation record. Records are in-memory only; the
// durable effects of a proposal live in the rating book.
type Proposal struct {
	ID          string
	Proposer    string
	Recipient   string
	Task        string
	Amount      float64
	Currency    string
	PaymentCode string
	Expires     int64 // ms epoch, 0 = never
	EloStake    int
	State       State
	DisputedBy  string
	CreatedAt   int64

	expiry *time.Timer
}

func (p *Proposal) escrowKey() string {
	return "proposal:" + p.ID
}

// otherParty returns the counterparty of id, or "" when id is not a party.
func (p *Proposal) otherParty(id string) string {
	switch id {
	case p.Proposer:
		return p.Recipient
	case p.Recipient:
		return p.Proposer
	default:
		return ""
	}
}

// Engine owns every proposal record and serialises transitions behind one
// mutex. Expiry timers re-enter through the same lock; a timer firing for
// a proposal that already left PENDING/ACCEPTED is a no-op.
type Engine struct {
	mu        sync.Mutex
	proposals map[string]*Proposal
	ledger    *reputation.Ledger
	dir       Directory
}

// NewEngine creates a proposal engine.
func NewEngine(ledger *reputation.Ledger, dir Directory) *Engine {
	return &Engine{
		proposals: make(map[string]*Proposal),
		ledger:    ledger,
		dir:       dir,
	}
}

// CanonicalAmount renders an amount for signing: empty for unpriced.
func CanonicalAmount(amount float64) string {
	if amount == 0 {
		return ""
	}
	return strconv.FormatFloat(amount, 'f', -1, 64)
}

// CanonicalExpires renders an expiry for signing: empty for none.
func CanonicalExpires(expires int64) string {
	if expires == 0 {
		return ""
	}
	return strconv.FormatInt(expires, 10)
}

func (e *Engine) verify(agentID, canonical, signature string) *protocol.Error {
	pub, ok := e.dir.PublicKey(agentID)
	if !ok {
		return protocol.Errf(protocol.KindAuthFailure, protocol.CodeVerificationRequired,
			"operation requires a verified identity")
	}
	if !identity.Verify(pub, canonical, signature) {
		return protocol.InvalidSignature()
	}
	return nil
}

// Create registers a new PENDING proposal from a verified proposer and
// delivers it to the recipient.
func (e *Engine) Create(from string, in *protocol.ProposalIn) (*Proposal, *protocol.Error) {
	if !e.dir.IsVerified(from) {
		return nil, protocol.Errf(protocol.KindAuthFailure, protocol.CodeVerificationRequired,
			"only verified agents can send proposals")
	}

	canonical := identity.ProposalString(in.To, in.Task, CanonicalAmount(in.Amount),
		in.Currency, in.PaymentCode, CanonicalExpires(in.Expires))
	if err := e.verify(from, canonical, in.Signature); err != nil {
		return nil, err
	}
	if in.Expires > 0 && in.Expires <= time.Now().UnixMilli() {
		return nil, protocol.StateConflict(protocol.CodeProposalExpired, "expiry is in the past")
	}

	p := &Proposal{
		ID:          uuid.New().String(),
		Proposer:    from,
		Recipient:   in.To,
		Task:        in.Task,
		Amount:      in.Amount,
		Currency:    in.Currency,
		PaymentCode: in.PaymentCode,
		Expires:     in.Expires,
		EloStake:    in.EloStake,
		State:       StatePending,
		CreatedAt:   time.Now().UnixMilli(),
	}

	e.mu.Lock()
	e.proposals[p.ID] = p
	if p.Expires > 0 {
		id := p.ID
		p.expiry = time.AfterFunc(time.Until(time.UnixMilli(p.Expires)), func() {
			e.expire(id)
		})
	}
	e.mu.Unlock()

	if !e.dir.Deliver(in.To, e.notice(protocol.TypeProposal, p, from, "")) {
		e.mu.Lock()
		if p.expiry != nil {
			p.expiry.Stop()
		}
		delete(e.proposals, p.ID)
		e.mu.Unlock()
		return nil, protocol.NotFound(protocol.CodeAgentNotFound, "recipient %s not connected", in.To)
	}
	return p, nil
}

// Accept advances PENDING→ACCEPTED. Only the recipient may accept; when a
// stake was attached, both parties' stakes are escrowed first.
func (e *Engine) Accept(claimant string, in *protocol.Accept) (*Proposal, *protocol.Error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := e.pending(in.ProposalID, claimant)
	if err != nil {
		return nil, err
	}
	if verr := e.verify(claimant, identity.AcceptString(p.ID, in.PaymentCode), in.Signature); verr != nil {
		return nil, verr
	}

	if p.EloStake > 0 {
		stakes := map[string]int{p.Proposer: p.EloStake, p.Recipient: p.EloStake}
		if herr := e.ledger.HoldStakes(p.escrowKey(), stakes); herr != nil {
			return nil, protocol.Errf(protocol.KindResourceExhausted,
				protocol.CodeInsufficientReputation,
				"a party lacks the available rating to stake %d", p.EloStake)
		}
	}

	p.State = StateAccepted
	e.dir.Deliver(p.Proposer, e.notice(protocol.TypeAccept, p, claimant, ""))
	return p, nil
}

// Reject advances PENDING→REJECTED. Only the recipient may reject.
func (e *Engine) Reject(claimant string, in *protocol.Reject) (*Proposal, *protocol.Error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := e.pending(in.ProposalID, claimant)
	if err != nil {
		return nil, err
	}
	if verr := e.verify(claimant, identity.RejectString(p.ID, in.Reason), in.Signature); verr != nil {
		return nil, verr
	}

	p.State = StateRejected
	p.stopExpiry()
	notice := e.notice(protocol.TypeReject, p, claimant, in.Reason)
	e.dir.Deliver(p.Proposer, notice)
	return p, nil
}

// Complete advances ACCEPTED→COMPLETED by either party, settles the
// positive-sum rating change, and releases escrow.
func (e *Engine) Complete(claimant string, in *protocol.Complete) (*Proposal, map[string]int, *protocol.Error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := e.accepted(in.ProposalID, claimant)
	if err != nil {
		return nil, nil, err
	}
	if verr := e.verify(claimant, identity.CompleteString(p.ID, in.Proof), in.Signature); verr != nil {
		return nil, nil, verr
	}

	p.State = StateCompleted
	p.stopExpiry()
	e.ledger.ReleaseEscrow(p.escrowKey())
	deltas := e.ledger.SettleCompletion(p.Proposer, p.Recipient, p.Amount)

	notice := e.notice(protocol.TypeComplete, p, claimant, "")
	notice.RatingChanges = deltas
	e.dir.Deliver(p.otherParty(claimant), notice)
	return p, deltas, nil
}

// DisputeBilateral advances ACCEPTED→DISPUTED with an immediate punitive
// settlement: the non-disputing party is at fault, the disputer gains half
// the loss, and the loser's stake transfers to the winner.
func (e *Engine) DisputeBilateral(claimant string, in *protocol.Dispute) (*Proposal, map[string]int, *protocol.Error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := e.accepted(in.ProposalID, claimant)
	if err != nil {
		return nil, nil, err
	}
	if verr := e.verify(claimant, identity.DisputeString(p.ID, in.Reason), in.Signature); verr != nil {
		return nil, nil, verr
	}

	atFault := p.otherParty(claimant)
	p.State = StateDisputed
	p.DisputedBy = claimant
	p.stopExpiry()

	deltas := e.ledger.SettleUnilateral(atFault, claimant, p.Amount)
	for id, d := range e.ledger.TransferEscrow(p.escrowKey(), atFault, claimant) {
		deltas[id] += d
	}

	notice := e.notice(protocol.TypeDispute, p, claimant, in.Reason)
	notice.RatingChanges = deltas
	e.dir.Deliver(atFault, notice)
	return p, deltas, nil
}

// BeginCourtDispute moves an ACCEPTED proposal to DISPUTED without
// settling; the court applies the settlement when a verdict lands. The
// claimant must be a party.
func (e *Engine) BeginCourtDispute(proposalID, claimant string) (*Proposal, *protocol.Error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := e.accepted(proposalID, claimant)
	if err != nil {
		return nil, err
	}
	p.State = StateDisputed
	p.DisputedBy = claimant
	p.stopExpiry()
	return p, nil
}

// ResolveVerdict applies a court verdict's settlement to a DISPUTED
// proposal and returns the combined rating deltas.
func (e *Engine) ResolveVerdict(proposalID, verdict string) map[string]int {
	e.mu.Lock()
	p, ok := e.proposals[proposalID]
	if !ok || p.State != StateDisputed {
		e.mu.Unlock()
		return nil
	}
	disputant := p.DisputedBy
	respondent := p.otherParty(disputant)
	amount := p.Amount
	key := p.escrowKey()
	e.mu.Unlock()

	deltas := map[string]int{}
	switch verdict {
	case VerdictDisputant:
		deltas = e.ledger.SettleUnilateral(respondent, disputant, amount)
		for id, d := range e.ledger.TransferEscrow(key, respondent, disputant) {
			deltas[id] += d
		}
	case VerdictRespondent:
		deltas = e.ledger.SettleUnilateral(disputant, respondent, amount)
		for id, d := range e.ledger.TransferEscrow(key, disputant, respondent) {
			deltas[id] += d
		}
	case VerdictMutual:
		deltas = e.ledger.SettleMutual(disputant, respondent, amount)
		for id, d := range e.ledger.BurnEscrow(key) {
			deltas[id] += d
		}
	}
	return deltas
}

// AbandonCourtDispute reverts a DISPUTED proposal to ACCEPTED when a court
// filing dies before reveal.
func (e *Engine) AbandonCourtDispute(proposalID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if p, ok := e.proposals[proposalID]; ok && p.State == StateDisputed {
		p.State = StateAccepted
		p.DisputedBy = ""
	}
}

// Get returns a snapshot of a proposal.
func (e *Engine) Get(id string) (Proposal, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if p, ok := e.proposals[id]; ok {
		return *p, true
	}
	return Proposal{}, false
}

// expire is the deadline path: PENDING or ACCEPTED proposals revert with
// their escrow returned unchanged. Any other state absorbs the misfire.
func (e *Engine) expire(id string) {
	e.mu.Lock()
	p, ok := e.proposals[id]
	if !ok || (p.State != StatePending && p.State != StateAccepted) {
		e.mu.Unlock()
		return
	}
	p.State = StateExpired
	e.mu.Unlock()

	e.ledger.ReleaseEscrow(p.escrowKey())
	notice := e.notice(protocol.TypeProposal, p, "", "expired")
	e.dir.Deliver(p.Proposer, notice)
	e.dir.Deliver(p.Recipient, notice)
}

func (e *Engine) pending(id, claimant string) (*Proposal, *protocol.Error) {
	p, ok := e.proposals[id]
	if !ok {
		return nil, protocol.InvalidMsg("unknown proposal %s", id)
	}
	if claimant != p.Recipient {
		return nil, protocol.Unauthorized(protocol.CodeNotProposalParty,
			"only the recipient may act on a pending proposal")
	}
	if p.State == StateExpired {
		return nil, protocol.StateConflict(protocol.CodeProposalExpired, "proposal has expired")
	}
	if p.State != StatePending {
		return nil, protocol.StateConflict(protocol.CodeInvalidMsg,
			"proposal is %s, not PENDING", p.State)
	}
	return p, nil
}

func (e *Engine) accepted(id, claimant string) (*Proposal, *protocol.Error) {
	p, ok := e.proposals[id]
	if !ok {
		return nil, protocol.InvalidMsg("unknown proposal %s", id)
	}
	if p.otherParty(claimant) == "" {
		return nil, protocol.Unauthorized(protocol.CodeNotProposalParty,
			"agent is not a party to this proposal")
	}
	if p.State == StateExpired {
		return nil, protocol.StateConflict(protocol.CodeProposalExpired, "proposal has expired")
	}
	if p.State != StateAccepted {
		return nil, protocol.StateConflict(protocol.CodeInvalidMsg,
			"proposal is %s, not ACCEPTED", p.State)
	}
	return p, nil
}

func (p *Proposal) stopExpiry() {
	if p.expiry != nil {
		p.expiry.Stop()
		p.expiry = nil
	}
}

func (e *Engine) notice(event string, p *Proposal, by, reason string) *protocol.ProposalNotice {
	return &protocol.ProposalNotice{
		Type:       event,
		ProposalID: p.ID,
		From:       p.Proposer,
		To:         p.Recipient,
		By:         by,
		Task:       p.Task,
		Amount:     p.Amount,
		Currency:   p.Currency,
		Expires:    p.Expires,
		EloStake:   p.EloStake,
		State:      string(p.State),
		Reason:     reason,
	}
}
