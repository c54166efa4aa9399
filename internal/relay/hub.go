// Package relay is the server core: the connection state machine, the
// channel bus, and the world state shared by the proposal engine and the
// court.
package relay

import (
	"crypto/ed25519"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agentchat/relay/internal/atomicfile"
	"github.com/agentchat/relay/internal/config"
	"github.com/agentchat/relay/internal/court"
	"github.com/agentchat/relay/internal/events"
	"github.com/agentchat/relay/internal/identity"
	"github.com/agentchat/relay/internal/proposal"
	"github.com/agentchat/relay/internal/protocol"
	"github.com/agentchat/relay/internal/reputation"
)

// knownIdentity is the persisted record for a pubkey agent: the mapping
// from stable id back to the key, plus the last nick it used.
type knownIdentity struct {
	PubKey string `json:"pubkey"`
	Nick   string `json:"nick,omitempty"`
}

// Hub owns the world: agents, channels, bans, the allowlist, and the
// persisted pubkey map. It implements the Directory interfaces the
// proposal engine and the court depend on.
type Hub struct {
	cfg     *config.Config
	ledger  *reputation.Ledger
	engine  *proposal.Engine
	court   *court.Court
	bus     events.Emitter
	metrics *Metrics

	mu        sync.RWMutex
	agents    map[string]*Agent
	channels  map[string]*Channel
	bans      map[string]bool
	allowlist map[string]bool
	known     map[string]knownIdentity
}

// NewHub builds the world: default channels, persisted ratings, bans, and
// the pubkey map. emitter may be nil.
func NewHub(cfg *config.Config, emitter events.Emitter, metrics *Metrics) (*Hub, error) {
	if err := os.MkdirAll(cfg.Server.DataDir, 0o700); err != nil {
		return nil, err
	}
	ledger, err := reputation.NewLedger(
		reputation.NewStore(filepath.Join(cfg.Server.DataDir, cfg.Reputation.RatingsFile)),
		emitter,
	)
	if err != nil {
		return nil, err
	}

	h := &Hub{
		cfg:       cfg,
		ledger:    ledger,
		bus:       emitter,
		metrics:   metrics,
		agents:    make(map[string]*Agent),
		channels:  make(map[string]*Channel),
		bans:      make(map[string]bool),
		allowlist: make(map[string]bool),
		known:     make(map[string]knownIdentity),
	}
	h.engine = proposal.NewEngine(ledger, h)
	h.court = court.New(court.Config{
		RevealTTL:     time.Duration(cfg.Court.RevealTTLSecs) * time.Second,
		ResponseTTL:   time.Duration(cfg.Court.ArbiterTTLSecs) * time.Second,
		EvidenceTTL:   time.Duration(cfg.Court.EvidenceTTLSecs) * time.Second,
		VoteTTL:       time.Duration(cfg.Court.VoteTTLSecs) * time.Second,
		ArbiterStake:  cfg.Court.ArbiterStake,
		MajorityBonus: 5,
	}, h.engine, ledger, h)

	if err := h.loadState(); err != nil {
		return nil, err
	}
	for _, name := range cfg.Channels.Defaults {
		h.channels[name] = h.newChannel(name, false)
	}
	for _, ch := range h.channels {
		ch.StartIdlePrompts(h.idlePrompt)
	}
	return h, nil
}

func (h *Hub) newChannel(name string, inviteOnly bool) *Channel {
	return newChannel(name, inviteOnly, h.cfg.Channels.BufferSize, h.cfg.FloorTTL(), h.cfg.IdlePrompt())
}

func (h *Hub) loadState() error {
	bansPath := filepath.Join(h.cfg.Server.DataDir, h.cfg.Admin.BansFile)
	var banned []string
	if err := atomicfile.ReadJSON(bansPath, &banned); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	for _, id := range banned {
		h.bans[id] = true
	}

	knownPath := filepath.Join(h.cfg.Server.DataDir, "identities.json")
	if err := atomicfile.ReadJSON(knownPath, &h.known); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if h.known == nil {
		h.known = make(map[string]knownIdentity)
	}

	if h.cfg.Auth.AllowlistEnabled {
		var allowed []string
		if err := atomicfile.ReadJSON(h.cfg.Auth.AllowlistFile, &allowed); err != nil {
			return err
		}
		for _, pub := range allowed {
			h.allowlist[pub] = true
		}
	}
	return nil
}

func (h *Hub) persistBansLocked() {
	banned := make([]string, 0, len(h.bans))
	for id := range h.bans {
		banned = append(banned, id)
	}
	path := filepath.Join(h.cfg.Server.DataDir, h.cfg.Admin.BansFile)
	if err := atomicfile.WriteJSON(path, banned); err != nil {
		slog.Error("bans: save failed", "path", path, "error", err)
	}
}

func (h *Hub) persistKnownLocked() {
	path := filepath.Join(h.cfg.Server.DataDir, "identities.json")
	if err := atomicfile.WriteJSON(path, h.known); err != nil {
		slog.Error("identity map: save failed", "path", path, "error", err)
	}
}

// ============================================================================
// ADMISSION
// ============================================================================

// Allowed reports whether a pubkey may identify when the allowlist is on.
func (h *Hub) Allowed(pubKeyHex string) bool {
	if !h.cfg.Auth.AllowlistEnabled {
		return true
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.allowlist[pubKeyHex]
}

// AdmitEphemeral creates an unverified agent with a random id.
func (h *Hub) AdmitEphemeral(c *Conn, nick string) (*Agent, *protocol.Error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id, err := identity.EphemeralID()
	for err == nil && h.agents[id] != nil {
		id, err = identity.EphemeralID()
	}
	if err != nil {
		return nil, protocol.Errf(protocol.KindResourceExhausted,
			protocol.CodeInvalidMsg, "cannot mint agent id")
	}
	a := newAgent(id, "", nick, false)
	a.attach(c)
	h.agents[id] = a
	h.metrics.AgentsOnline.Inc()
	return a, nil
}

// AdmitVerified installs a verified agent for the given pubkey, displacing
// any prior connection holding the same identity. The displaced connection
// is told so before it is closed; no AGENT_LEFT is broadcast because the
// identity never left.
func (h *Hub) AdmitVerified(c *Conn, pub ed25519.PublicKey, nick string) (*Agent, *protocol.Error) {
	id := identity.StableID(pub)
	pubHex := identity.EncodePublicKeyHex(pub)

	h.mu.Lock()
	if h.bans[id] {
		h.mu.Unlock()
		return nil, protocol.Unauthorized(protocol.CodeNotInvited, "identity is banned").AsFatal()
	}

	a, exists := h.agents[id]
	if exists {
		prior := a.attach(c)
		h.rememberLocked(id, pubHex, a.Nick())
		h.mu.Unlock()
		if prior != nil {
			prior.displace()
		}
		return a, nil
	}

	if known, ok := h.known[id]; ok && nick == "" {
		nick = known.Nick
	}
	a = newAgent(id, pubHex, nick, true)
	a.attach(c)
	h.agents[id] = a
	h.rememberLocked(id, pubHex, nick)
	h.metrics.AgentsOnline.Inc()
	h.mu.Unlock()
	return a, nil
}

func (h *Hub) rememberLocked(id, pubHex, nick string) {
	h.known[id] = knownIdentity{PubKey: pubHex, Nick: nick}
	h.persistKnownLocked()
}

// HandleDisconnect tears an agent out of the world: channel membership,
// floor claims, arbiter seats. Displaced agents keep their world state;
// only the dead connection is detached.
func (h *Hub) HandleDisconnect(c *Conn, a *Agent) {
	if a == nil {
		return
	}
	if !a.detach(c) {
		// A successor connection already owns this agent.
		return
	}

	h.mu.Lock()
	delete(h.agents, a.ID)
	var affected []*Channel
	for _, ch := range h.channels {
		if ch.IsMember(a.ID) {
			affected = append(affected, ch)
		}
	}
	h.mu.Unlock()

	for _, ch := range affected {
		ch.Leave(a.ID)
		ch.BroadcastFrame(a.ID, &protocol.AgentLeft{
			Type:    protocol.TypeAgentLeft,
			Channel: ch.Name,
			AgentID: a.ID,
			Nick:    a.Nick(),
		})
	}
	h.court.HandleDisconnect(a.ID)
	h.metrics.AgentsOnline.Dec()
}

// ============================================================================
// DIRECTORY (proposal engine and court)
// ============================================================================

// PublicKey resolves an agent's Ed25519 key, falling back to the persisted
// identity map for agents between sessions.
func (h *Hub) PublicKey(agentID string) (ed25519.PublicKey, bool) {
	h.mu.RLock()
	a := h.agents[agentID]
	known, remembered := h.known[agentID]
	h.mu.RUnlock()

	hexKey := ""
	if a != nil && a.PubKeyHex != "" {
		hexKey = a.PubKeyHex
	} else if remembered {
		hexKey = known.PubKey
	}
	if hexKey == "" {
		return nil, false
	}
	pub, err := identity.ParsePublicKeyHex(hexKey)
	if err != nil {
		return nil, false
	}
	return pub, true
}

func (h *Hub) IsVerified(agentID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	a := h.agents[agentID]
	return a != nil && a.Verified
}

// Deliver sends a frame to a connected agent.
func (h *Hub) Deliver(agentID string, frame any) bool {
	h.mu.RLock()
	a := h.agents[agentID]
	h.mu.RUnlock()
	if a == nil {
		return false
	}
	return a.Deliver(frame)
}

// EligibleArbiters returns every connected agent fit to judge: verified,
// present (neither away nor offline), not excluded, and over the rating
// and experience thresholds.
func (h *Hub) EligibleArbiters(exclude ...string) []string {
	excluded := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		excluded[id] = true
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	var pool []string
	for id, a := range h.agents {
		if excluded[id] || !a.Verified {
			continue
		}
		if p := a.Presence(); p == "away" || p == "offline" {
			continue
		}
		snap := h.ledger.Snapshot(id)
		if snap.Rating < h.cfg.Court.MinArbiterRating ||
			snap.Transactions < h.cfg.Court.MinArbiterTxCount {
			continue
		}
		pool = append(pool, id)
	}
	return pool
}

// ============================================================================
// WORLD LOOKUPS
// ============================================================================

func (h *Hub) Agent(id string) (*Agent, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	a, ok := h.agents[id]
	return a, ok
}

func (h *Hub) Channel(name string) (*Channel, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ch, ok := h.channels[name]
	return ch, ok
}

// CreateChannel registers a new channel. Creating an existing name is an
// idempotent no-op unless the flags conflict.
func (h *Hub) CreateChannel(name string, inviteOnly bool) (*Channel, *protocol.Error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if existing, ok := h.channels[name]; ok {
		if existing.InviteOnly != inviteOnly {
			return nil, protocol.StateConflict(protocol.CodeInvalidMsg,
				"channel %s already exists with different visibility", name)
		}
		return existing, nil
	}
	ch := h.newChannel(name, inviteOnly)
	ch.StartIdlePrompts(h.idlePrompt)
	h.channels[name] = ch
	return ch, nil
}

func (h *Hub) ChannelSummaries() []protocol.ChannelSummary {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]protocol.ChannelSummary, 0, len(h.channels))
	for _, ch := range h.channels {
		out = append(out, ch.Summary())
	}
	return out
}

func (h *Hub) AgentSummaries() []protocol.AgentSummary {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]protocol.AgentSummary, 0, len(h.agents))
	for _, a := range h.agents {
		out = append(out, a.Summary())
	}
	return out
}

// SearchSkills returns agents advertising a skill containing the query.
func (h *Hub) SearchSkills(query string) []protocol.AgentSummary {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []protocol.AgentSummary
	for _, a := range h.agents {
		for _, skill := range a.Skills() {
			if containsFold(skill, query) {
				out = append(out, a.Summary())
				break
			}
		}
	}
	return out
}

// idlePrompt posts the synthetic server nudge into a quiet channel.
func (h *Hub) idlePrompt(ch *Channel) {
	server := newAgent(ServerAgent, "", "", true)
	msg := ch.Broadcast(server, "It has been quiet here for a while. Any progress to share?")
	slog.Debug("idle prompt posted", "channel", ch.Name, "msg_id", msg.MsgID)
}

// ============================================================================
// ADMIN
// ============================================================================

// Kick closes an agent's live connection.
func (h *Hub) Kick(agentID string) *protocol.Error {
	h.mu.RLock()
	a := h.agents[agentID]
	h.mu.RUnlock()
	if a == nil {
		return protocol.NotFound(protocol.CodeAgentNotFound, "agent %s not connected", agentID)
	}

	a.mu.RLock()
	c := a.conn
	a.mu.RUnlock()
	if c != nil {
		c.closeWithPolicy("kicked by admin")
	}
	return nil
}

// Ban records a persistent ban and kicks any live connection.
func (h *Hub) Ban(agentID string) {
	h.mu.Lock()
	h.bans[agentID] = true
	h.persistBansLocked()
	h.mu.Unlock()
	_ = h.Kick(agentID)
}

// Unban lifts a ban.
func (h *Hub) Unban(agentID string) {
	h.mu.Lock()
	delete(h.bans, agentID)
	h.persistBansLocked()
	h.mu.Unlock()
}

func (h *Hub) Banned(agentID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.bans[agentID]
}

// Shutdown closes every live connection with a going-away close code.
func (h *Hub) Shutdown() {
	h.mu.RLock()
	agents := make([]*Agent, 0, len(h.agents))
	for _, a := range h.agents {
		agents = append(agents, a)
	}
	h.mu.RUnlock()

	for _, a := range agents {
		a.mu.RLock()
		c := a.conn
		a.mu.RUnlock()
		if c != nil {
			c.closeWithCode(websocket.CloseGoingAway, "server shutting down")
		}
	}
}

// Engine exposes the proposal engine to the dispatcher.
func (h *Hub) Engine() *proposal.Engine { return h.engine }

// Court exposes the court to the dispatcher.
func (h *Hub) Court() *court.Court { return h.court }

// Ledger exposes the rating book.
func (h *Hub) Ledger() *reputation.Ledger { return h.ledger }

func containsFold(haystack, needle string) bool {
	return needle != "" && strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
