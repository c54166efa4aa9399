package court

import (
	"crypto/ed25519"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentchat/relay/internal/identity"
	"github.com/agentchat/relay/internal/proposal"
	"github.com/agentchat/relay/internal/protocol"
	"github.com/agentchat/relay/internal/reputation"
)

// ============================================================================
// TEST WORLD
// ============================================================================

type fakeDirectory struct {
	mu        sync.Mutex
	keys      map[string]*identity.KeyPair
	eligible  []string
	delivered map[string][]any
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		keys:      make(map[string]*identity.KeyPair),
		delivered: make(map[string][]any),
	}
}

func (d *fakeDirectory) addAgent(t *testing.T, id string) *identity.KeyPair {
	t.Helper()
	kp, err := identity.GenerateKeyPair()
	require.NoError(t, err)
	d.mu.Lock()
	d.keys[id] = kp
	d.mu.Unlock()
	return kp
}

func (d *fakeDirectory) PublicKey(id string) (ed25519.PublicKey, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if kp, ok := d.keys[id]; ok {
		return kp.Public, true
	}
	return nil, false
}

func (d *fakeDirectory) IsVerified(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.keys[id]
	return ok
}

func (d *fakeDirectory) Deliver(id string, frame any) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.keys[id]; !ok {
		return false
	}
	d.delivered[id] = append(d.delivered[id], frame)
	return true
}

func (d *fakeDirectory) EligibleArbiters(exclude ...string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var pool []string
	for _, id := range d.eligible {
		skip := false
		for _, ex := range exclude {
			if id == ex {
				skip = true
			}
		}
		if !skip {
			pool = append(pool, id)
		}
	}
	return pool
}

func (d *fakeDirectory) framesOfType(id, frameType string) []any {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []any
	for _, f := range d.delivered[id] {
		switch v := f.(type) {
		case *protocol.PanelFormed:
			if v.Type == frameType {
				out = append(out, f)
			}
		case *protocol.DisputeFallback:
			if v.Type == frameType {
				out = append(out, f)
			}
		case *protocol.ArbiterAssigned:
			if v.Type == frameType {
				out = append(out, f)
			}
		case *protocol.CaseReady:
			if v.Type == frameType {
				out = append(out, f)
			}
		case *protocol.Verdict:
			if v.Type == frameType {
				out = append(out, f)
			}
		case *protocol.DisputeRevealed:
			if v.Type == frameType {
				out = append(out, f)
			}
		}
	}
	return out
}

type world struct {
	dir    *fakeDirectory
	ledger *reputation.Ledger
	engine *proposal.Engine
	court  *Court
	keys   map[string]*identity.KeyPair
	p      *proposal.Proposal
}

func testConfig() Config {
	return Config{
		RevealTTL:     time.Hour,
		ResponseTTL:   time.Hour,
		EvidenceTTL:   time.Hour,
		VoteTTL:       time.Hour,
		ArbiterStake:  25,
		MajorityBonus: 5,
	}
}

// newWorld builds a world with an ACCEPTED proposal between alice (proposer)
// and bob, plus the named arbiters in the eligible pool.
func newWorld(t *testing.T, cfg Config, arbiters ...string) *world {
	t.Helper()
	dir := newFakeDirectory()
	ledger, err := reputation.NewLedger(nil, nil)
	require.NoError(t, err)
	engine := proposal.NewEngine(ledger, dir)

	w := &world{
		dir:    dir,
		ledger: ledger,
		engine: engine,
		court:  New(cfg, engine, ledger, dir),
		keys:   make(map[string]*identity.KeyPair),
	}
	for _, id := range append([]string{"alice", "bob"}, arbiters...) {
		w.keys[id] = dir.addAgent(t, id)
	}
	dir.eligible = arbiters

	canonical := identity.ProposalString("bob", "build parser", "", "", "", "")
	p, perr := engine.Create("alice", &protocol.ProposalIn{
		To: "bob", Task: "build parser", EloStake: 20,
		Signature: w.sign("alice", canonical),
	})
	require.Nil(t, perr)
	_, perr = engine.Accept("bob", &protocol.Accept{
		ProposalID: p.ID,
		Signature:  w.sign("bob", identity.AcceptString(p.ID, "")),
	})
	require.Nil(t, perr)
	w.p = p
	return w
}

func (w *world) sign(id, canonical string) string {
	return identity.Sign(w.keys[id].Private, canonical)
}

func (w *world) fileIntent(t *testing.T, nonce string) *protocol.DisputeIntentAck {
	t.Helper()
	commitment := identity.CommitmentFor(nonce)
	canonical := identity.DisputeIntentString(w.p.ID, "no delivery", commitment)
	ack, perr := w.court.FileIntent("alice", &protocol.DisputeIntent{
		ProposalID: w.p.ID,
		Reason:     "no delivery",
		Commitment: commitment,
		Signature:  w.sign("alice", canonical),
	})
	require.Nil(t, perr)
	return ack
}

func (w *world) reveal(t *testing.T, nonce string) {
	t.Helper()
	perr := w.court.Reveal("alice", &protocol.DisputeReveal{
		ProposalID: w.p.ID,
		Nonce:      nonce,
		Signature:  w.sign("alice", identity.DisputeRevealString(w.p.ID, nonce)),
	})
	require.Nil(t, perr)
}

func (w *world) acceptSeat(t *testing.T, disputeID, arbiter string) {
	t.Helper()
	perr := w.court.AcceptSeat(arbiter, &protocol.ArbiterAccept{
		DisputeID: disputeID,
		Signature: w.sign(arbiter, identity.ArbiterAcceptString(disputeID)),
	})
	require.Nil(t, perr)
}

func (w *world) submitEvidence(t *testing.T, disputeID, party string) {
	t.Helper()
	items := []protocol.EvidenceItem{{Kind: "message_log", Ref: "log-" + party}}
	digest, err := identity.CanonicalDigest(items)
	require.NoError(t, err)
	perr := w.court.SubmitEvidence(party, &protocol.Evidence{
		DisputeID: disputeID,
		Items:     items,
		Statement: "statement from " + party,
		Signature: w.sign(party, identity.EvidenceString(disputeID, digest)),
	})
	require.Nil(t, perr)
}

func (w *world) vote(t *testing.T, disputeID, arbiter, verdict string) {
	t.Helper()
	perr := w.court.CastVote(arbiter, &protocol.ArbiterVote{
		DisputeID: disputeID,
		Verdict:   verdict,
		Signature: w.sign(arbiter, identity.VoteString(disputeID, verdict)),
	})
	require.Nil(t, perr)
}

// toDeliberation drives a fresh dispute all the way to the voting phase.
func (w *world) toDeliberation(t *testing.T) (string, []string) {
	t.Helper()
	nonce := strings.Repeat("a", 64)
	ack := w.fileIntent(t, nonce)
	w.reveal(t, nonce)

	d, ok := w.court.Get(ack.DisputeID)
	require.True(t, ok)
	var panel []string
	for _, s := range d.Slots {
		panel = append(panel, s.Agent)
	}
	for _, arb := range panel {
		w.acceptSeat(t, ack.DisputeID, arb)
	}
	w.submitEvidence(t, ack.DisputeID, "alice")
	w.submitEvidence(t, ack.DisputeID, "bob")

	d, _ = w.court.Get(ack.DisputeID)
	require.Equal(t, PhaseDeliberation, d.Phase)
	return ack.DisputeID, panel
}

// ============================================================================
// COMMIT-REVEAL
// ============================================================================

func TestFileIntentAck(t *testing.T) {
	w := newWorld(t, testConfig(), "arb1", "arb2", "arb3")
	nonce := strings.Repeat("a", 64)

	ack := w.fileIntent(t, nonce)
	assert.NotEmpty(t, ack.DisputeID)
	assert.Equal(t, identity.CommitmentFor(nonce), ack.Commitment)
	assert.Len(t, ack.ServerNonce, 64)
	assert.Greater(t, ack.RevealDeadline, time.Now().UnixMilli())

	d, ok := w.court.Get(ack.DisputeID)
	require.True(t, ok)
	assert.Equal(t, PhaseRevealPending, d.Phase)
	assert.Equal(t, "alice", d.Disputant)
	assert.Equal(t, "bob", d.Respondent)
}

func TestSecondIntentRejected(t *testing.T) {
	w := newWorld(t, testConfig(), "arb1", "arb2", "arb3")
	w.fileIntent(t, strings.Repeat("a", 64))

	commitment := identity.CommitmentFor(strings.Repeat("b", 64))
	canonical := identity.DisputeIntentString(w.p.ID, "also unhappy", commitment)
	_, perr := w.court.FileIntent("bob", &protocol.DisputeIntent{
		ProposalID: w.p.ID,
		Reason:     "also unhappy",
		Commitment: commitment,
		Signature:  w.sign("bob", canonical),
	})
	require.NotNil(t, perr)
	assert.Equal(t, protocol.CodeDisputeAlreadyExists, perr.Code)
}

func TestRevealWrongNonceLeavesPhaseUnchanged(t *testing.T) {
	w := newWorld(t, testConfig(), "arb1", "arb2", "arb3")
	ack := w.fileIntent(t, strings.Repeat("a", 64))

	wrong := strings.Repeat("b", 64)
	perr := w.court.Reveal("alice", &protocol.DisputeReveal{
		ProposalID: w.p.ID,
		Nonce:      wrong,
		Signature:  w.sign("alice", identity.DisputeRevealString(w.p.ID, wrong)),
	})
	require.NotNil(t, perr)
	assert.Equal(t, protocol.CodeDisputeCommitMismatch, perr.Code)

	d, _ := w.court.Get(ack.DisputeID)
	assert.Equal(t, PhaseRevealPending, d.Phase)

	// The correct nonce still works afterwards.
	w.reveal(t, strings.Repeat("a", 64))
	d, _ = w.court.Get(ack.DisputeID)
	assert.Equal(t, PhaseArbiterResponse, d.Phase)
}

func TestRevealOnlyByDisputant(t *testing.T) {
	w := newWorld(t, testConfig(), "arb1", "arb2", "arb3")
	nonce := strings.Repeat("a", 64)
	w.fileIntent(t, nonce)

	perr := w.court.Reveal("bob", &protocol.DisputeReveal{
		ProposalID: w.p.ID,
		Nonce:      nonce,
		Signature:  w.sign("bob", identity.DisputeRevealString(w.p.ID, nonce)),
	})
	require.NotNil(t, perr)
	assert.Equal(t, protocol.CodeDisputeNotParty, perr.Code)
}

// ============================================================================
// PANEL FORMATION
// ============================================================================

func TestPanelFormedIsSeedReproducible(t *testing.T) {
	w := newWorld(t, testConfig(), "arb1", "arb2", "arb3", "arb4", "arb5")
	nonce := strings.Repeat("a", 64)
	ack := w.fileIntent(t, nonce)
	w.reveal(t, nonce)

	d, _ := w.court.Get(ack.DisputeID)
	require.Equal(t, PhaseArbiterResponse, d.Phase)

	// Any party can recompute the panel from the published seed.
	wantSeed := identity.SelectionSeed(w.p.ID, nonce, d.ServerNonce)
	assert.Equal(t, wantSeed, d.Seed)
	want := ShufflePool(wantSeed, []string{"arb1", "arb2", "arb3", "arb4", "arb5"})[:PanelSize]
	var got []string
	for _, s := range d.Slots {
		got = append(got, s.Agent)
	}
	assert.Equal(t, want, got)

	// Both parties saw the seed and server nonce.
	formed := w.dir.framesOfType("bob", protocol.TypePanelFormed)
	require.Len(t, formed, 1)
	assert.Equal(t, wantSeed, formed[0].(*protocol.PanelFormed).Seed)

	// Each selected arbiter was summoned.
	for _, arb := range want {
		assert.Len(t, w.dir.framesOfType(arb, protocol.TypeArbiterAssigned), 1)
	}
}

func TestPanelFallbackWithTooFewArbiters(t *testing.T) {
	w := newWorld(t, testConfig(), "arb1", "arb2")
	nonce := strings.Repeat("a", 64)
	ack := w.fileIntent(t, nonce)
	w.reveal(t, nonce)

	d, _ := w.court.Get(ack.DisputeID)
	assert.Equal(t, PhaseFallback, d.Phase)
	assert.Empty(t, d.Slots)

	// Both parties are told; no arbiter frames went out.
	assert.Len(t, w.dir.framesOfType("alice", protocol.TypeDisputeFallback), 1)
	assert.Len(t, w.dir.framesOfType("bob", protocol.TypeDisputeFallback), 1)
	assert.Empty(t, w.dir.framesOfType("arb1", protocol.TypeArbiterAssigned))

	// Fallback settles as a bilateral dispute in the disputant's favour:
	// ELO -16/+8 plus the 20-point stake transfer.
	assert.Equal(t, 1228, w.ledger.Rating("alice"))
	assert.Equal(t, 1164, w.ledger.Rating("bob"))
}

func TestDeclineDrawsReplacement(t *testing.T) {
	w := newWorld(t, testConfig(), "arb1", "arb2", "arb3", "arb4")
	nonce := strings.Repeat("a", 64)
	ack := w.fileIntent(t, nonce)
	w.reveal(t, nonce)

	d, _ := w.court.Get(ack.DisputeID)
	first := d.Slots[0].Agent
	perr := w.court.DeclineSeat(first, &protocol.ArbiterDecline{
		DisputeID: ack.DisputeID,
		Reason:    "conflict of interest",
		Signature: w.sign(first, identity.ArbiterDeclineString(ack.DisputeID, "conflict of interest")),
	})
	require.Nil(t, perr)

	d, _ = w.court.Get(ack.DisputeID)
	require.Len(t, d.Slots, 4)
	assert.Equal(t, SlotDeclined, d.Slots[0].Status)

	replacement := d.Slots[3].Agent
	frames := w.dir.framesOfType(replacement, protocol.TypeArbiterAssigned)
	require.Len(t, frames, 1)
	assert.True(t, frames[0].(*protocol.ArbiterAssigned).IsReplacement)
}

func TestPoolExhaustionFallsBack(t *testing.T) {
	w := newWorld(t, testConfig(), "arb1", "arb2", "arb3")
	nonce := strings.Repeat("a", 64)
	ack := w.fileIntent(t, nonce)
	w.reveal(t, nonce)

	d, _ := w.court.Get(ack.DisputeID)
	first := d.Slots[0].Agent
	perr := w.court.DeclineSeat(first, &protocol.ArbiterDecline{
		DisputeID: ack.DisputeID,
		Signature: w.sign(first, identity.ArbiterDeclineString(ack.DisputeID, "")),
	})
	require.Nil(t, perr)

	d, _ = w.court.Get(ack.DisputeID)
	assert.Equal(t, PhaseFallback, d.Phase)
}

func TestAcceptSeatEscrowsStake(t *testing.T) {
	w := newWorld(t, testConfig(), "arb1", "arb2", "arb3")
	nonce := strings.Repeat("a", 64)
	ack := w.fileIntent(t, nonce)
	w.reveal(t, nonce)

	d, _ := w.court.Get(ack.DisputeID)
	arb := d.Slots[0].Agent
	w.acceptSeat(t, ack.DisputeID, arb)

	assert.Equal(t, 1200, w.ledger.Rating(arb))
	assert.Equal(t, 1175, w.ledger.Available(arb))
}

func TestAllSeatsAcceptedOpensEvidence(t *testing.T) {
	w := newWorld(t, testConfig(), "arb1", "arb2", "arb3")
	nonce := strings.Repeat("a", 64)
	ack := w.fileIntent(t, nonce)
	w.reveal(t, nonce)

	for _, arb := range []string{"arb1", "arb2", "arb3"} {
		w.acceptSeat(t, ack.DisputeID, arb)
	}
	d, _ := w.court.Get(ack.DisputeID)
	assert.Equal(t, PhaseEvidence, d.Phase)
}

// ============================================================================
// EVIDENCE AND VERDICT
// ============================================================================

func TestEvidenceFromOutsiderDenied(t *testing.T) {
	w := newWorld(t, testConfig(), "arb1", "arb2", "arb3")
	nonce := strings.Repeat("a", 64)
	ack := w.fileIntent(t, nonce)
	w.reveal(t, nonce)
	for _, arb := range []string{"arb1", "arb2", "arb3"} {
		w.acceptSeat(t, ack.DisputeID, arb)
	}

	items := []protocol.EvidenceItem{{Kind: "other"}}
	digest, err := identity.CanonicalDigest(items)
	require.NoError(t, err)
	perr := w.court.SubmitEvidence("arb1", &protocol.Evidence{
		DisputeID: ack.DisputeID,
		Items:     items,
		Signature: w.sign("arb1", identity.EvidenceString(ack.DisputeID, digest)),
	})
	require.NotNil(t, perr)
	assert.Equal(t, protocol.CodeDisputeNotParty, perr.Code)
}

func TestBothPartiesSubmittingOpensDeliberation(t *testing.T) {
	w := newWorld(t, testConfig(), "arb1", "arb2", "arb3")
	disputeID, panel := w.toDeliberation(t)

	// CASE_READY reached every arbiter with both parties' evidence.
	for _, arb := range panel {
		frames := w.dir.framesOfType(arb, protocol.TypeCaseReady)
		require.Len(t, frames, 1)
		ready := frames[0].(*protocol.CaseReady)
		assert.Equal(t, disputeID, ready.DisputeID)
		assert.Len(t, ready.Evidence, 2)
		assert.Contains(t, ready.Evidence, "alice")
		assert.Contains(t, ready.Evidence, "bob")
	}
}

func TestMajorityVerdictSettlesAndPaysArbiters(t *testing.T) {
	w := newWorld(t, testConfig(), "arb1", "arb2", "arb3")
	disputeID, panel := w.toDeliberation(t)

	w.vote(t, disputeID, panel[0], proposal.VerdictDisputant)
	w.vote(t, disputeID, panel[1], proposal.VerdictDisputant)
	w.vote(t, disputeID, panel[2], proposal.VerdictRespondent)

	d, _ := w.court.Get(disputeID)
	assert.Equal(t, PhaseResolved, d.Phase)

	// Parties: ELO -16/+8 plus the 20-point stake transfer to alice.
	assert.Equal(t, 1228, w.ledger.Rating("alice"))
	assert.Equal(t, 1164, w.ledger.Rating("bob"))

	// Majority voters keep their stake and earn the bonus; the dissenter
	// just gets the stake back.
	assert.Equal(t, 1205, w.ledger.Rating(panel[0]))
	assert.Equal(t, 1205, w.ledger.Rating(panel[1]))
	assert.Equal(t, 1200, w.ledger.Rating(panel[2]))
	for _, arb := range panel {
		assert.Equal(t, w.ledger.Rating(arb), w.ledger.Available(arb), "no hold left for %s", arb)
	}

	// The verdict frame reached parties and arbiters alike.
	for _, id := range append([]string{"alice", "bob"}, panel...) {
		frames := w.dir.framesOfType(id, protocol.TypeVerdict)
		require.Len(t, frames, 1, "verdict missing for %s", id)
		v := frames[0].(*protocol.Verdict)
		assert.Equal(t, proposal.VerdictDisputant, v.Verdict)
		assert.Len(t, v.Votes, 3)
		assert.Equal(t, "transferred", v.EscrowSettlement)
	}
}

func TestMutualVerdictBurnsStakes(t *testing.T) {
	w := newWorld(t, testConfig(), "arb1", "arb2", "arb3")
	disputeID, panel := w.toDeliberation(t)

	for _, arb := range panel {
		w.vote(t, disputeID, arb, proposal.VerdictMutual)
	}

	// ELO -16 each plus the burned 20-point stakes.
	assert.Equal(t, 1164, w.ledger.Rating("alice"))
	assert.Equal(t, 1164, w.ledger.Rating("bob"))

	frames := w.dir.framesOfType("alice", protocol.TypeVerdict)
	require.Len(t, frames, 1)
	assert.Equal(t, "burned", frames[0].(*protocol.Verdict).EscrowSettlement)
}

func TestVoteByPartyDenied(t *testing.T) {
	w := newWorld(t, testConfig(), "arb1", "arb2", "arb3")
	disputeID, _ := w.toDeliberation(t)

	perr := w.court.CastVote("alice", &protocol.ArbiterVote{
		DisputeID: disputeID,
		Verdict:   proposal.VerdictDisputant,
		Signature: w.sign("alice", identity.VoteString(disputeID, proposal.VerdictDisputant)),
	})
	require.NotNil(t, perr)
	assert.Equal(t, protocol.CodeDisputeNotArbiter, perr.Code)
}

func TestUnknownVerdictRejected(t *testing.T) {
	w := newWorld(t, testConfig(), "arb1", "arb2", "arb3")
	disputeID, panel := w.toDeliberation(t)

	perr := w.court.CastVote(panel[0], &protocol.ArbiterVote{
		DisputeID: disputeID,
		Verdict:   "split",
		Signature: w.sign(panel[0], identity.VoteString(disputeID, "split")),
	})
	require.NotNil(t, perr)
	assert.Equal(t, protocol.CodeInvalidMsg, perr.Code)
}

// ============================================================================
// DEADLINES AND DISCONNECTS
// ============================================================================

func TestRevealDeadlineDismissesFiling(t *testing.T) {
	cfg := testConfig()
	cfg.RevealTTL = 30 * time.Millisecond
	w := newWorld(t, cfg, "arb1", "arb2", "arb3")
	ack := w.fileIntent(t, strings.Repeat("a", 64))

	assert.Eventually(t, func() bool {
		_, ok := w.court.Get(ack.DisputeID)
		return !ok
	}, time.Second, 5*time.Millisecond)

	// The proposal is untouched and can be disputed again.
	p, _ := w.engine.Get(w.p.ID)
	assert.Equal(t, proposal.StateAccepted, p.State)
	_, exists := w.court.ForProposal(w.p.ID)
	assert.False(t, exists)
}

func TestVoteDeadlineForfeitsSilentArbiter(t *testing.T) {
	cfg := testConfig()
	cfg.VoteTTL = 40 * time.Millisecond
	w := newWorld(t, cfg, "arb1", "arb2", "arb3")
	disputeID, panel := w.toDeliberation(t)

	w.vote(t, disputeID, panel[0], proposal.VerdictDisputant)
	w.vote(t, disputeID, panel[1], proposal.VerdictDisputant)
	// panel[2] never votes.

	assert.Eventually(t, func() bool {
		d, _ := w.court.Get(disputeID)
		return d.Phase == PhaseResolved
	}, time.Second, 5*time.Millisecond)

	// Two recorded votes carry the verdict; the silent arbiter forfeits
	// the 25-point stake.
	assert.Equal(t, 1205, w.ledger.Rating(panel[0]))
	assert.Equal(t, 1175, w.ledger.Rating(panel[2]))
	assert.Equal(t, 1175, w.ledger.Available(panel[2]))
}

func TestDisconnectForfeitsSeatAndDrawsReplacement(t *testing.T) {
	w := newWorld(t, testConfig(), "arb1", "arb2", "arb3", "arb4")
	nonce := strings.Repeat("a", 64)
	ack := w.fileIntent(t, nonce)
	w.reveal(t, nonce)

	d, _ := w.court.Get(ack.DisputeID)
	gone := d.Slots[0].Agent
	w.court.HandleDisconnect(gone)

	d, _ = w.court.Get(ack.DisputeID)
	require.Len(t, d.Slots, 4)
	assert.Equal(t, SlotForfeited, d.Slots[0].Status)
	assert.Equal(t, SlotPending, d.Slots[3].Status)
}

func TestDisconnectBeforeAcceptingCarriesNoPenalty(t *testing.T) {
	w := newWorld(t, testConfig(), "arb1", "arb2", "arb3", "arb4")
	nonce := strings.Repeat("a", 64)
	ack := w.fileIntent(t, nonce)
	w.reveal(t, nonce)

	d, _ := w.court.Get(ack.DisputeID)
	gone := d.Slots[0].Agent
	w.court.HandleDisconnect(gone)

	// The replacement panel carries the case to a verdict.
	d, _ = w.court.Get(ack.DisputeID)
	var panel []string
	for _, s := range d.Slots {
		if s.Status == SlotPending {
			panel = append(panel, s.Agent)
		}
	}
	require.Len(t, panel, PanelSize)
	for _, arb := range panel {
		w.acceptSeat(t, ack.DisputeID, arb)
	}
	w.submitEvidence(t, ack.DisputeID, "alice")
	w.submitEvidence(t, ack.DisputeID, "bob")
	for _, arb := range panel {
		w.vote(t, ack.DisputeID, arb, proposal.VerdictDisputant)
	}

	d, _ = w.court.Get(ack.DisputeID)
	require.Equal(t, PhaseResolved, d.Phase)

	// The arbiter who vanished during the invite window never staked, so
	// their rating is untouched and nothing is held against them.
	assert.Equal(t, 1200, w.ledger.Rating(gone))
	assert.Equal(t, 1200, w.ledger.Available(gone))
	for _, arb := range panel {
		assert.Equal(t, 1205, w.ledger.Rating(arb))
	}
}
