package relay

import (
	"sync"

	"github.com/agentchat/relay/internal/protocol"
)

// Agent is a connected principal: ephemeral (random id, unverified) or
// pubkey-backed (stable id, verified). Agents are created on admission and
// destroyed on socket close; a displacing connection re-attaches to the
// existing Agent instead of creating a new one.
type Agent struct {
	ID        string
	PubKeyHex string
	Verified  bool

	mu       sync.RWMutex
	nick     string
	presence string
	skills   []string
	conn     *Conn
}

func newAgent(id, pubKeyHex, nick string, verified bool) *Agent {
	return &Agent{
		ID:        id,
		PubKeyHex: pubKeyHex,
		Verified:  verified,
		nick:      nick,
		presence:  "online",
	}
}

func (a *Agent) Nick() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.nick
}

func (a *Agent) SetNick(nick string) {
	a.mu.Lock()
	a.nick = nick
	a.mu.Unlock()
}

func (a *Agent) Presence() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.presence
}

func (a *Agent) SetPresence(presence string) {
	a.mu.Lock()
	a.presence = presence
	a.mu.Unlock()
}

func (a *Agent) Skills() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]string(nil), a.skills...)
}

func (a *Agent) SetSkills(skills []string) {
	a.mu.Lock()
	a.skills = append([]string(nil), skills...)
	a.mu.Unlock()
}

// attach points the agent at its live connection, returning the prior one
// (non-nil only during displacement).
func (a *Agent) attach(c *Conn) *Conn {
	a.mu.Lock()
	prior := a.conn
	a.conn = c
	a.mu.Unlock()
	return prior
}

// detach clears the connection back-pointer, but only if it still points
// at the closing connection; a displaced connection must not clear the
// pointer its successor just installed.
func (a *Agent) detach(c *Conn) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn != c {
		return false
	}
	a.conn = nil
	return true
}

// Deliver encodes a frame onto the agent's send queue. Delivery is
// non-blocking: a full queue drops the frame rather than stalling the
// caller.
func (a *Agent) Deliver(frame any) bool {
	a.mu.RLock()
	c := a.conn
	a.mu.RUnlock()
	if c == nil {
		return false
	}
	return c.enqueue(protocol.Encode(frame))
}

func (a *Agent) Summary() protocol.AgentSummary {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return protocol.AgentSummary{
		AgentID:  a.ID,
		Nick:     a.nick,
		Verified: a.Verified,
		Presence: a.presence,
		Skills:   append([]string(nil), a.skills...),
	}
}
