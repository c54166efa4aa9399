package relay

import (
	"crypto/subtle"
	"encoding/base64"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agentchat/relay/internal/protocol"
)

func newMsgID() string { return uuid.New().String() }

// dispatch routes one decoded frame by type and connection state. Every
// handler returns a categorised error or nil; nothing panics and nothing
// throws.
func (c *Conn) dispatch(in *protocol.Inbound) *protocol.Error {
	switch in.Type {
	case protocol.TypeIdentify:
		return c.handleIdentify(in)
	case protocol.TypeVerifyIdentity:
		return c.handleVerify(in)
	case protocol.TypePing:
		return c.handlePing(in)
	}

	agent := c.currentAgent()
	if agent == nil {
		return protocol.InvalidMsg("identify first")
	}

	switch in.Type {
	case protocol.TypeJoin:
		return c.handleJoin(agent, in)
	case protocol.TypeLeave:
		return c.handleLeave(agent, in)
	case protocol.TypeMsg:
		return c.handleMsg(agent, in)
	case protocol.TypeListChannels:
		c.sendFrame(&protocol.Channels{Type: protocol.TypeChannels, Channels: c.hub.ChannelSummaries()})
		return nil
	case protocol.TypeListAgents:
		return c.handleListAgents(in)
	case protocol.TypeCreateChannel:
		return c.handleCreateChannel(agent, in)
	case protocol.TypeInvite:
		return c.handleInvite(agent, in)
	case protocol.TypeSetNick:
		return c.handleSetNick(agent, in)
	case protocol.TypeSetPresence:
		return c.handleSetPresence(agent, in)
	case protocol.TypeRespondingTo:
		return c.handleRespondingTo(agent, in)
	case protocol.TypeRegisterSkills:
		return c.handleRegisterSkills(agent, in)
	case protocol.TypeSearchSkills:
		return c.handleSearchSkills(in)
	case protocol.TypeFileChunk:
		return c.handleFileChunk(agent, in)

	case protocol.TypeProposal:
		return c.handleProposal(agent, in)
	case protocol.TypeAccept:
		return c.handleAccept(agent, in)
	case protocol.TypeReject:
		return c.handleReject(agent, in)
	case protocol.TypeComplete:
		return c.handleComplete(agent, in)
	case protocol.TypeDispute:
		return c.handleDispute(agent, in)

	case protocol.TypeDisputeIntent:
		return c.handleDisputeIntent(agent, in)
	case protocol.TypeDisputeReveal:
		return c.handleDisputeReveal(agent, in)
	case protocol.TypeEvidence:
		return c.handleEvidence(agent, in)
	case protocol.TypeArbiterAccept:
		return c.handleArbiterAccept(agent, in)
	case protocol.TypeArbiterDecline:
		return c.handleArbiterDecline(agent, in)
	case protocol.TypeArbiterVote:
		return c.handleArbiterVote(agent, in)

	case protocol.TypeAdminKick, protocol.TypeAdminBan, protocol.TypeAdminUnban:
		return c.handleAdmin(in)
	}

	return protocol.InvalidMsg("unknown message type %q", in.Type)
}

func (c *Conn) handlePing(in *protocol.Inbound) *protocol.Error {
	payload, perr := protocol.Decode[protocol.Ping](in)
	if perr != nil {
		return perr
	}
	c.sendFrame(&protocol.Pong{Type: protocol.TypePong, TS: payload.TS})
	return nil
}

// ============================================================================
// CHANNEL BUS
// ============================================================================

func (c *Conn) handleJoin(agent *Agent, in *protocol.Inbound) *protocol.Error {
	payload, perr := protocol.Decode[protocol.Join](in, "channel")
	if perr != nil {
		return perr
	}
	ch, ok := c.hub.Channel(payload.Channel)
	if !ok {
		return protocol.NotFound(protocol.CodeChannelNotFound, "no such channel %s", payload.Channel)
	}
	if !ch.CanJoin(agent.ID) {
		return protocol.Unauthorized(protocol.CodeNotInvited,
			"channel %s is invite-only", payload.Channel)
	}
	alreadyMember := ch.IsMember(agent.ID)

	replay, members := ch.Join(agent)
	for i := range replay {
		agent.Deliver(&replay[i])
	}
	c.sendFrame(&protocol.Joined{
		Type:    protocol.TypeJoined,
		Channel: ch.Name,
		Agents:  members,
	})
	if !alreadyMember {
		ch.BroadcastFrame(agent.ID, &protocol.AgentJoined{
			Type:    protocol.TypeAgentJoined,
			Channel: ch.Name,
			AgentID: agent.ID,
			Nick:    agent.Nick(),
		})
	}
	return nil
}

func (c *Conn) handleLeave(agent *Agent, in *protocol.Inbound) *protocol.Error {
	payload, perr := protocol.Decode[protocol.Leave](in, "channel")
	if perr != nil {
		return perr
	}
	ch, ok := c.hub.Channel(payload.Channel)
	if !ok {
		return protocol.NotFound(protocol.CodeChannelNotFound, "no such channel %s", payload.Channel)
	}
	if !ch.Leave(agent.ID) {
		return protocol.InvalidMsg("not a member of %s", payload.Channel)
	}
	ch.BroadcastFrame(agent.ID, &protocol.AgentLeft{
		Type:    protocol.TypeAgentLeft,
		Channel: ch.Name,
		AgentID: agent.ID,
		Nick:    agent.Nick(),
	})
	return nil
}

// handleMsg routes channel broadcasts and direct messages. DMs bypass the
// replay buffer and floor control.
func (c *Conn) handleMsg(agent *Agent, in *protocol.Inbound) *protocol.Error {
	payload, perr := protocol.Decode[protocol.MsgIn](in, "to", "content")
	if perr != nil {
		return perr
	}
	if verr := protocol.ValidateContent(payload.Content, c.hub.cfg.Limits.ContentMaxChars); verr != nil {
		return verr
	}

	if strings.HasPrefix(payload.To, "#") {
		ch, ok := c.hub.Channel(payload.To)
		if !ok {
			return protocol.NotFound(protocol.CodeChannelNotFound, "no such channel %s", payload.To)
		}
		if !ch.IsMember(agent.ID) {
			return protocol.Unauthorized(protocol.CodeNotInvited,
				"must join %s before sending", payload.To)
		}
		ch.Broadcast(agent, payload.Content)
		return nil
	}

	target := strings.TrimPrefix(payload.To, "@")
	peer, ok := c.hub.Agent(target)
	if !ok {
		return protocol.NotFound(protocol.CodeAgentNotFound, "no such agent %s", target)
	}
	peer.Deliver(&protocol.Msg{
		Type:     protocol.TypeMsg,
		MsgID:    newMsgID(),
		From:     agent.ID,
		FromName: agent.Nick(),
		To:       peer.ID,
		Content:  payload.Content,
		TS:       time.Now().UnixMilli(),
	})
	return nil
}

func (c *Conn) handleListAgents(in *protocol.Inbound) *protocol.Error {
	payload, perr := protocol.Decode[protocol.ListAgents](in)
	if perr != nil {
		return perr
	}
	if payload.Channel != "" {
		ch, ok := c.hub.Channel(payload.Channel)
		if !ok {
			return protocol.NotFound(protocol.CodeChannelNotFound, "no such channel %s", payload.Channel)
		}
		c.sendFrame(&protocol.Agents{Type: protocol.TypeAgents, Agents: ch.MemberSummaries()})
		return nil
	}
	c.sendFrame(&protocol.Agents{Type: protocol.TypeAgents, Agents: c.hub.AgentSummaries()})
	return nil
}

func (c *Conn) handleCreateChannel(agent *Agent, in *protocol.Inbound) *protocol.Error {
	payload, perr := protocol.Decode[protocol.CreateChannel](in, "channel")
	if perr != nil {
		return perr
	}
	if !protocol.ValidChannelName(payload.Channel) {
		return protocol.InvalidMsg("channel name must be '#' plus 1-31 chars of [A-Za-z0-9_-]")
	}
	ch, cerr := c.hub.CreateChannel(payload.Channel, payload.InviteOnly)
	if cerr != nil {
		return cerr
	}
	if ch.InviteOnly {
		ch.Invite(agent.ID)
	}
	c.sendFrame(&protocol.Channels{Type: protocol.TypeChannels, Channels: []protocol.ChannelSummary{ch.Summary()}})
	return nil
}

func (c *Conn) handleInvite(agent *Agent, in *protocol.Inbound) *protocol.Error {
	payload, perr := protocol.Decode[protocol.Invite](in, "channel", "agent")
	if perr != nil {
		return perr
	}
	ch, ok := c.hub.Channel(payload.Channel)
	if !ok {
		return protocol.NotFound(protocol.CodeChannelNotFound, "no such channel %s", payload.Channel)
	}
	if !ch.IsMember(agent.ID) {
		return protocol.Unauthorized(protocol.CodeNotInvited,
			"only members may invite to %s", payload.Channel)
	}
	target := strings.TrimPrefix(payload.Agent, "@")
	ch.Invite(target)
	if peer, ok := c.hub.Agent(target); ok {
		peer.Deliver(&protocol.Invited{
			Type:     protocol.TypeInvited,
			Channel:  ch.Name,
			From:     agent.ID,
			FromNick: agent.Nick(),
		})
	}
	return nil
}

func (c *Conn) handleSetNick(agent *Agent, in *protocol.Inbound) *protocol.Error {
	payload, perr := protocol.Decode[protocol.SetNick](in, "nick")
	if perr != nil {
		return perr
	}
	if !protocol.ValidNick(payload.Nick) {
		return protocol.InvalidMsg("nick must be 1-24 chars of [A-Za-z0-9_-]")
	}
	agent.SetNick(payload.Nick)
	return nil
}

func (c *Conn) handleSetPresence(agent *Agent, in *protocol.Inbound) *protocol.Error {
	payload, perr := protocol.Decode[protocol.SetPresence](in, "presence")
	if perr != nil {
		return perr
	}
	if !protocol.Presences[payload.Presence] {
		return protocol.InvalidMsg("unknown presence %q", payload.Presence)
	}
	agent.SetPresence(payload.Presence)

	changed := &protocol.PresenceChanged{
		Type:     protocol.TypePresenceChanged,
		AgentID:  agent.ID,
		Presence: payload.Presence,
	}
	c.hub.mu.RLock()
	channels := make([]*Channel, 0, len(c.hub.channels))
	for _, ch := range c.hub.channels {
		channels = append(channels, ch)
	}
	c.hub.mu.RUnlock()
	for _, ch := range channels {
		if ch.IsMember(agent.ID) {
			ch.BroadcastFrame(agent.ID, changed)
		}
	}
	return nil
}

// handleRespondingTo relays the claim and adjudicates the floor: the
// earliest started_at holds it, and the loser is told to yield.
func (c *Conn) handleRespondingTo(agent *Agent, in *protocol.Inbound) *protocol.Error {
	payload, perr := protocol.Decode[protocol.RespondingTo](in, "msg_id", "started_at", "channel")
	if perr != nil {
		return perr
	}
	ch, ok := c.hub.Channel(payload.Channel)
	if !ok {
		return protocol.NotFound(protocol.CodeChannelNotFound, "no such channel %s", payload.Channel)
	}
	if !ch.IsMember(agent.ID) {
		return protocol.Unauthorized(protocol.CodeNotInvited,
			"must join %s before claiming the floor", payload.Channel)
	}

	ch.BroadcastFrame(agent.ID, &protocol.RespondingToOut{
		Type:      protocol.TypeRespondingTo,
		MsgID:     payload.MsgID,
		Channel:   ch.Name,
		From:      agent.ID,
		StartedAt: payload.StartedAt,
	})

	loser, winner := ch.Claim(payload.MsgID, agent.ID, payload.StartedAt)
	if loser != "" {
		c.hub.Deliver(loser, &protocol.Yield{
			Type:    protocol.TypeYield,
			MsgID:   payload.MsgID,
			Winner:  winner,
			Channel: ch.Name,
		})
	}
	return nil
}

func (c *Conn) handleRegisterSkills(agent *Agent, in *protocol.Inbound) *protocol.Error {
	payload, perr := protocol.Decode[protocol.RegisterSkills](in, "skills")
	if perr != nil {
		return perr
	}
	agent.SetSkills(payload.Skills)
	c.sendFrame(&protocol.SkillsRegistered{
		Type:   protocol.TypeSkillsRegistered,
		Skills: agent.Skills(),
	})
	return nil
}

func (c *Conn) handleSearchSkills(in *protocol.Inbound) *protocol.Error {
	payload, perr := protocol.Decode[protocol.SearchSkills](in, "query")
	if perr != nil {
		return perr
	}
	c.sendFrame(&protocol.SearchResults{
		Type:   protocol.TypeSearchResults,
		Query:  payload.Query,
		Agents: c.hub.SearchSkills(payload.Query),
	})
	return nil
}

// handleFileChunk relays an opaque chunk to a direct target. Chunks are
// never buffered or broadcast.
func (c *Conn) handleFileChunk(agent *Agent, in *protocol.Inbound) *protocol.Error {
	payload, perr := protocol.Decode[protocol.FileChunk](in, "to", "transfer_id", "data")
	if perr != nil {
		return perr
	}
	if max := c.hub.cfg.Limits.FileChunkMaxBytes; base64.StdEncoding.DecodedLen(len(payload.Data)) > max {
		return protocol.InvalidMsg("chunk exceeds %d bytes", max)
	}
	target := strings.TrimPrefix(payload.To, "@")
	peer, ok := c.hub.Agent(target)
	if !ok {
		return protocol.NotFound(protocol.CodeAgentNotFound, "no such agent %s", target)
	}
	peer.Deliver(&protocol.FileChunkOut{
		Type:       protocol.TypeFileChunk,
		From:       agent.ID,
		To:         peer.ID,
		TransferID: payload.TransferID,
		Seq:        payload.Seq,
		Data:       payload.Data,
		Final:      payload.Final,
	})
	return nil
}

// ============================================================================
// PROPOSALS
// ============================================================================

func (c *Conn) handleProposal(agent *Agent, in *protocol.Inbound) *protocol.Error {
	payload, perr := protocol.Decode[protocol.ProposalIn](in, "to", "task", "signature")
	if perr != nil {
		return perr
	}
	payload.To = strings.TrimPrefix(payload.To, "@")
	p, perr := c.hub.engine.Create(agent.ID, payload)
	if perr != nil {
		return perr
	}
	c.hub.metrics.ProposalsTotal.WithLabelValues("created").Inc()
	c.sendFrame(&protocol.ProposalNotice{
		Type:       protocol.TypeProposal,
		ProposalID: p.ID,
		From:       p.Proposer,
		To:         p.Recipient,
		State:      string(p.State),
	})
	return nil
}

func (c *Conn) handleAccept(agent *Agent, in *protocol.Inbound) *protocol.Error {
	payload, perr := protocol.Decode[protocol.Accept](in, "proposal_id", "signature")
	if perr != nil {
		return perr
	}
	p, perr := c.hub.engine.Accept(agent.ID, payload)
	if perr != nil {
		return perr
	}
	c.hub.metrics.ProposalsTotal.WithLabelValues("accepted").Inc()
	c.sendFrame(&protocol.ProposalNotice{
		Type:       protocol.TypeAccept,
		ProposalID: p.ID,
		State:      string(p.State),
	})
	return nil
}

func (c *Conn) handleReject(agent *Agent, in *protocol.Inbound) *protocol.Error {
	payload, perr := protocol.Decode[protocol.Reject](in, "proposal_id", "signature")
	if perr != nil {
		return perr
	}
	p, perr := c.hub.engine.Reject(agent.ID, payload)
	if perr != nil {
		return perr
	}
	c.hub.metrics.ProposalsTotal.WithLabelValues("rejected").Inc()
	c.sendFrame(&protocol.ProposalNotice{
		Type:       protocol.TypeReject,
		ProposalID: p.ID,
		State:      string(p.State),
	})
	return nil
}

func (c *Conn) handleComplete(agent *Agent, in *protocol.Inbound) *protocol.Error {
	payload, perr := protocol.Decode[protocol.Complete](in, "proposal_id", "signature")
	if perr != nil {
		return perr
	}
	p, deltas, perr := c.hub.engine.Complete(agent.ID, payload)
	if perr != nil {
		return perr
	}
	c.hub.metrics.ProposalsTotal.WithLabelValues("completed").Inc()
	c.sendFrame(&protocol.ProposalNotice{
		Type:          protocol.TypeComplete,
		ProposalID:    p.ID,
		State:         string(p.State),
		RatingChanges: deltas,
	})
	return nil
}

// handleDispute is the bilateral path. When the court is enabled it
// supersedes this path entirely; parties must file DISPUTE_INTENT.
func (c *Conn) handleDispute(agent *Agent, in *protocol.Inbound) *protocol.Error {
	payload, perr := protocol.Decode[protocol.Dispute](in, "proposal_id", "signature")
	if perr != nil {
		return perr
	}
	if c.hub.cfg.Court.Enabled {
		return protocol.StateConflict(protocol.CodeInvalidMsg,
			"court protocol is enabled; file a DISPUTE_INTENT instead")
	}
	p, deltas, perr := c.hub.engine.DisputeBilateral(agent.ID, payload)
	if perr != nil {
		return perr
	}
	c.hub.metrics.ProposalsTotal.WithLabelValues("disputed").Inc()
	c.sendFrame(&protocol.ProposalNotice{
		Type:          protocol.TypeDispute,
		ProposalID:    p.ID,
		State:         string(p.State),
		RatingChanges: deltas,
	})
	return nil
}

// ============================================================================
// COURT
// ============================================================================

func (c *Conn) courtEnabled() *protocol.Error {
	if !c.hub.cfg.Court.Enabled {
		return protocol.InvalidMsg("court protocol is disabled")
	}
	return nil
}

func (c *Conn) handleDisputeIntent(agent *Agent, in *protocol.Inbound) *protocol.Error {
	if perr := c.courtEnabled(); perr != nil {
		return perr
	}
	payload, perr := protocol.Decode[protocol.DisputeIntent](in, "proposal_id", "reason", "commitment", "signature")
	if perr != nil {
		return perr
	}
	ack, perr := c.hub.court.FileIntent(agent.ID, payload)
	if perr != nil {
		return perr
	}
	c.hub.metrics.DisputesTotal.WithLabelValues("filed").Inc()
	c.sendFrame(ack)
	return nil
}

func (c *Conn) handleDisputeReveal(agent *Agent, in *protocol.Inbound) *protocol.Error {
	if perr := c.courtEnabled(); perr != nil {
		return perr
	}
	payload, perr := protocol.Decode[protocol.DisputeReveal](in, "proposal_id", "nonce", "signature")
	if perr != nil {
		return perr
	}
	return c.hub.court.Reveal(agent.ID, payload)
}

func (c *Conn) handleEvidence(agent *Agent, in *protocol.Inbound) *protocol.Error {
	if perr := c.courtEnabled(); perr != nil {
		return perr
	}
	payload, perr := protocol.Decode[protocol.Evidence](in, "dispute_id", "items", "signature")
	if perr != nil {
		return perr
	}
	return c.hub.court.SubmitEvidence(agent.ID, payload)
}

func (c *Conn) handleArbiterAccept(agent *Agent, in *protocol.Inbound) *protocol.Error {
	if perr := c.courtEnabled(); perr != nil {
		return perr
	}
	payload, perr := protocol.Decode[protocol.ArbiterAccept](in, "dispute_id", "signature")
	if perr != nil {
		return perr
	}
	return c.hub.court.AcceptSeat(agent.ID, payload)
}

func (c *Conn) handleArbiterDecline(agent *Agent, in *protocol.Inbound) *protocol.Error {
	if perr := c.courtEnabled(); perr != nil {
		return perr
	}
	payload, perr := protocol.Decode[protocol.ArbiterDecline](in, "dispute_id", "signature")
	if perr != nil {
		return perr
	}
	return c.hub.court.DeclineSeat(agent.ID, payload)
}

func (c *Conn) handleArbiterVote(agent *Agent, in *protocol.Inbound) *protocol.Error {
	if perr := c.courtEnabled(); perr != nil {
		return perr
	}
	payload, perr := protocol.Decode[protocol.ArbiterVote](in, "dispute_id", "verdict", "signature")
	if perr != nil {
		return perr
	}
	if perr := c.hub.court.CastVote(agent.ID, payload); perr != nil {
		return perr
	}
	c.hub.metrics.DisputesTotal.WithLabelValues("voted").Inc()
	return nil
}

// ============================================================================
// ADMIN
// ============================================================================

func (c *Conn) handleAdmin(in *protocol.Inbound) *protocol.Error {
	payload, perr := protocol.Decode[protocol.AdminAction](in, "key", "agent_id")
	if perr != nil {
		return perr
	}
	configured := c.hub.cfg.Admin.Key
	if configured == "" ||
		subtle.ConstantTimeCompare([]byte(configured), []byte(payload.Key)) != 1 {
		return protocol.Unauthorized(protocol.CodeInvalidMsg, "admin key mismatch")
	}

	target := strings.TrimPrefix(payload.AgentID, "@")
	switch in.Type {
	case protocol.TypeAdminKick:
		return c.hub.Kick(target)
	case protocol.TypeAdminBan:
		c.hub.Ban(target)
	case protocol.TypeAdminUnban:
		c.hub.Unban(target)
	}
	return nil
}
