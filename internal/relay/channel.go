package relay

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentchat/relay/internal/protocol"
)

// ServerAgent is the synthetic sender id for relay-originated channel
// messages (idle prompts). Floor control never applies to it.
const ServerAgent = "@server"

// floorClaim is one live RESPONDING_TO claim. At most one claim exists per
// msg_id; the holder is whoever claimed with the earliest started_at
// (lexicographic agent id breaks ties).
type floorClaim struct {
	holder    string
	startedAt int64
	timer     *time.Timer
}

// Channel is a named broadcast group with a bounded replay buffer and a
// floor-control claim map. Each channel guards its own state; channels
// never lock one another or the hub.
type Channel struct {
	Name       string
	InviteOnly bool

	mu           sync.RWMutex
	members      map[string]*Agent
	invited      map[string]bool
	buffer       []protocol.Msg
	bufferSize   int
	claims       map[string]*floorClaim
	floorTTL     time.Duration
	idleAfter    time.Duration
	idleTimer    *time.Timer
	prompted     bool
	closed       bool
}

func newChannel(name string, inviteOnly bool, bufferSize int, floorTTL, idleAfter time.Duration) *Channel {
	ch := &Channel{
		Name:       name,
		InviteOnly: inviteOnly,
		members:    make(map[string]*Agent),
		invited:    make(map[string]bool),
		bufferSize: bufferSize,
		claims:     make(map[string]*floorClaim),
		floorTTL:   floorTTL,
		idleAfter:  idleAfter,
	}
	return ch
}

// CanJoin reports whether the agent may join: public channels always,
// invite-only channels only with a standing invite (members re-joining
// are fine).
func (ch *Channel) CanJoin(agentID string) bool {
	if !ch.InviteOnly {
		return true
	}
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return ch.invited[agentID] || ch.members[agentID] != nil
}

// Join adds the agent and returns the replay snapshot taken at join time
// plus the current member summaries. The snapshot is fixed here; messages
// broadcast after the join arrive live, never twice.
func (ch *Channel) Join(a *Agent) (replay []protocol.Msg, members []protocol.AgentSummary) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	ch.members[a.ID] = a
	replay = make([]protocol.Msg, len(ch.buffer))
	copy(replay, ch.buffer)
	for i := range replay {
		replay[i].Replay = true
	}
	for _, m := range ch.members {
		members = append(members, m.Summary())
	}
	return replay, members
}

// Leave removes the agent and drops any floor claims it held. Reports
// whether the agent was a member.
func (ch *Channel) Leave(agentID string) bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if _, ok := ch.members[agentID]; !ok {
		return false
	}
	delete(ch.members, agentID)
	for msgID, claim := range ch.claims {
		if claim.holder == agentID {
			claim.timer.Stop()
			delete(ch.claims, msgID)
		}
	}
	return true
}

func (ch *Channel) IsMember(agentID string) bool {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return ch.members[agentID] != nil
}

func (ch *Channel) MemberCount() int {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return len(ch.members)
}

// Invite pre-authorises an agent to join.
func (ch *Channel) Invite(agentID string) {
	ch.mu.Lock()
	ch.invited[agentID] = true
	ch.mu.Unlock()
}

func (ch *Channel) Summary() protocol.ChannelSummary {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return protocol.ChannelSummary{
		Channel:    ch.Name,
		Members:    len(ch.members),
		InviteOnly: ch.InviteOnly,
	}
}

func (ch *Channel) MemberSummaries() []protocol.AgentSummary {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	out := make([]protocol.AgentSummary, 0, len(ch.members))
	for _, m := range ch.members {
		out = append(out, m.Summary())
	}
	return out
}

// Broadcast stamps, buffers, and fans a channel message out to every
// member except the sender. Sending a MSG also releases any floor claim
// the sender held.
func (ch *Channel) Broadcast(from *Agent, content string) protocol.Msg {
	msg := protocol.Msg{
		Type:    protocol.TypeMsg,
		MsgID:   uuid.New().String(),
		From:    from.ID,
		To:      ch.Name,
		Content: content,
		TS:      time.Now().UnixMilli(),
	}
	if from.ID != ServerAgent {
		msg.FromName = from.Nick()
	}

	ch.mu.Lock()
	ch.buffer = append(ch.buffer, msg)
	if len(ch.buffer) > ch.bufferSize {
		ch.buffer = ch.buffer[len(ch.buffer)-ch.bufferSize:]
	}
	for msgID, claim := range ch.claims {
		if claim.holder == from.ID {
			claim.timer.Stop()
			delete(ch.claims, msgID)
		}
	}
	recipients := ch.recipientsLocked(from.ID)
	if from.ID != ServerAgent {
		ch.prompted = false
	}
	ch.resetIdleLocked()
	ch.mu.Unlock()

	for _, m := range recipients {
		m.Deliver(&msg)
	}
	return msg
}

// BroadcastFrame fans an arbitrary frame out to every member except skip.
func (ch *Channel) BroadcastFrame(skip string, frame any) {
	ch.mu.RLock()
	recipients := ch.recipientsLocked(skip)
	ch.mu.RUnlock()
	for _, m := range recipients {
		m.Deliver(frame)
	}
}

func (ch *Channel) recipientsLocked(skip string) []*Agent {
	out := make([]*Agent, 0, len(ch.members))
	for id, m := range ch.members {
		if id != skip {
			out = append(out, m)
		}
	}
	return out
}

// Claim adjudicates a RESPONDING_TO for msgID. The earliest started_at
// wins, lexicographic agent id breaking ties; the call returns the loser
// to notify ("" when the claim simply stands) and the current winner.
func (ch *Channel) Claim(msgID, claimant string, startedAt int64) (loser, winner string) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	existing, ok := ch.claims[msgID]
	if !ok {
		ch.claims[msgID] = &floorClaim{
			holder:    claimant,
			startedAt: startedAt,
			timer:     ch.expireClaimLater(msgID),
		}
		return "", claimant
	}

	if startedAt < existing.startedAt ||
		(startedAt == existing.startedAt && claimant < existing.holder) {
		displaced := existing.holder
		existing.holder = claimant
		existing.startedAt = startedAt
		return displaced, claimant
	}
	return claimant, existing.holder
}

// ClaimHolder returns the current floor holder for msgID.
func (ch *Channel) ClaimHolder(msgID string) (string, bool) {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	if claim, ok := ch.claims[msgID]; ok {
		return claim.holder, true
	}
	return "", false
}

func (ch *Channel) expireClaimLater(msgID string) *time.Timer {
	return time.AfterFunc(ch.floorTTL, func() {
		ch.mu.Lock()
		delete(ch.claims, msgID)
		ch.mu.Unlock()
	})
}

// StartIdlePrompts arms the idle prompter. prompt is invoked outside the
// channel lock whenever the channel has been quiet for the configured
// period with at least two members and no prompt already outstanding.
func (ch *Channel) StartIdlePrompts(prompt func(*Channel)) {
	if ch.idleAfter <= 0 {
		return
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.idleTimer = time.AfterFunc(ch.idleAfter, func() {
		ch.mu.Lock()
		fire := !ch.closed && !ch.prompted && len(ch.members) >= 2
		if fire {
			ch.prompted = true
		}
		if !ch.closed {
			ch.idleTimer.Reset(ch.idleAfter)
		}
		ch.mu.Unlock()
		if fire {
			prompt(ch)
		}
	})
}

func (ch *Channel) resetIdleLocked() {
	if ch.idleTimer != nil && !ch.closed {
		ch.idleTimer.Reset(ch.idleAfter)
	}
}

// Close stops the channel's timers.
func (ch *Channel) Close() {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.closed = true
	if ch.idleTimer != nil {
		ch.idleTimer.Stop()
	}
	for _, claim := range ch.claims {
		claim.timer.Stop()
	}
}
