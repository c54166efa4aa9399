// Package protocol defines the relay's JSON wire protocol: message types,
// payload schemas, strict decoding, and the error taxonomy.
package protocol

// Client → server message types.
const (
	TypeIdentify       = "IDENTIFY"
	TypeVerifyIdentity = "VERIFY_IDENTITY"
	TypeJoin           = "JOIN"
	TypeLeave          = "LEAVE"
	TypeMsg            = "MSG"
	TypeListChannels   = "LIST_CHANNELS"
	TypeListAgents     = "LIST_AGENTS"
	TypeCreateChannel  = "CREATE_CHANNEL"
	TypeInvite         = "INVITE"
	TypeSetNick        = "SET_NICK"
	TypeSetPresence    = "SET_PRESENCE"
	TypePing           = "PING"
	TypeRespondingTo   = "RESPONDING_TO"
	TypeRegisterSkills = "REGISTER_SKILLS"
	TypeSearchSkills   = "SEARCH_SKILLS"
	TypeProposal       = "PROPOSAL"
	TypeAccept         = "ACCEPT"
	TypeReject         = "REJECT"
	TypeComplete       = "COMPLETE"
	TypeDispute        = "DISPUTE"
	TypeDisputeIntent  = "DISPUTE_INTENT"
	TypeDisputeReveal  = "DISPUTE_REVEAL"
	TypeEvidence       = "EVIDENCE"
	TypeArbiterAccept  = "ARBITER_ACCEPT"
	TypeArbiterDecline = "ARBITER_DECLINE"
	TypeArbiterVote    = "ARBITER_VOTE"
	TypeAdminKick      = "ADMIN_KICK"
	TypeAdminBan       = "ADMIN_BAN"
	TypeAdminUnban     = "ADMIN_UNBAN"
	TypeFileChunk      = "FILE_CHUNK"
)

// Server → client message types.
const (
	TypeWelcome             = "WELCOME"
	TypeChallenge           = "CHALLENGE"
	TypeVerificationFailed  = "VERIFICATION_FAILED"
	TypeVerificationExpired = "VERIFICATION_EXPIRED"
	TypeSessionDisplaced    = "SESSION_DISPLACED"
	TypeJoined              = "JOINED"
	TypeAgentJoined         = "AGENT_JOINED"
	TypeInvited             = "INVITED"
	TypeAgentLeft           = "AGENT_LEFT"
	TypeChannels            = "CHANNELS"
	TypeAgents              = "AGENTS"
	TypePong                = "PONG"
	TypeYield               = "YIELD"
	TypeSkillsRegistered    = "SKILLS_REGISTERED"
	TypeSearchResults       = "SEARCH_RESULTS"
	TypeDisputeIntentAck    = "DISPUTE_INTENT_ACK"
	TypeDisputeRevealed     = "DISPUTE_REVEALED"
	TypePanelFormed         = "PANEL_FORMED"
	TypeArbiterAssigned     = "ARBITER_ASSIGNED"
	TypeEvidenceReceived    = "EVIDENCE_RECEIVED"
	TypeCaseReady           = "CASE_READY"
	TypeVerdict             = "VERDICT"
	TypeDisputeFallback     = "DISPUTE_FALLBACK"
	TypePresenceChanged     = "PRESENCE_CHANGED"
	TypeError               = "ERROR"
)

// Presence states an agent can advertise.
var Presences = map[string]bool{
	"online":    true,
	"away":      true,
	"busy":      true,
	"offline":   true,
	"listening": true,
}

// Evidence item kinds accepted by the court.
var EvidenceKinds = map[string]bool{
	"commit":      true,
	"message_log": true,
	"file":        true,
	"screenshot":  true,
	"attestation": true,
	"test_result": true,
	"receipt":     true,
	"other":       true,
}

// Evidence limits.
const (
	MaxEvidenceItems    = 10
	MaxStatementChars   = 2000
	MaxNickChars        = 24
	MaxChannelNameChars = 32 // '#' plus 31 name chars
)

// ============================================================================
// CLIENT → SERVER PAYLOADS
// ============================================================================

type Identify struct {
	PubKey string `json:"pubkey,omitempty"`
	Nick   string `json:"nick,omitempty"`
}

type VerifyIdentity struct {
	ChallengeID string `json:"challenge_id"`
	Signature   string `json:"signature"`
	Timestamp   int64  `json:"timestamp"`
}

type Join struct {
	Channel string `json:"channel"`
}

type Leave struct {
	Channel string `json:"channel"`
}

type MsgIn struct {
	To      string `json:"to"`
	Content string `json:"content"`
}

type ListAgents struct {
	Channel string `json:"channel,omitempty"`
}

type CreateChannel struct {
	Channel    string `json:"channel"`
	InviteOnly bool   `json:"invite_only,omitempty"`
}

type Invite struct {
	Channel string `json:"channel"`
	Agent   string `json:"agent"`
}

type SetNick struct {
	Nick string `json:"nick"`
}

type SetPresence struct {
	Presence string `json:"presence"`
}

type Ping struct {
	TS int64 `json:"ts,omitempty"`
}

type RespondingTo struct {
	MsgID     string `json:"msg_id"`
	StartedAt int64  `json:"started_at"`
	Channel   string `json:"channel"`
}

type RegisterSkills struct {
	Skills []string `json:"skills"`
}

type SearchSkills struct {
	Query string `json:"query"`
}

type ProposalIn struct {
	To          string  `json:"to"`
	Task        string  `json:"task"`
	Amount      float64 `json:"amount,omitempty"`
	Currency    string  `json:"currency,omitempty"`
	PaymentCode string  `json:"payment_code,omitempty"`
	Expires     int64   `json:"expires,omitempty"` // ms epoch
	EloStake    int     `json:"elo_stake,omitempty"`
	Signature   string  `json:"signature"`
}

type Accept struct {
	ProposalID  string `json:"proposal_id"`
	PaymentCode string `json:"payment_code,omitempty"`
	Signature   string `json:"signature"`
}

type Reject struct {
	ProposalID string `json:"proposal_id"`
	Reason     string `json:"reason,omitempty"`
	Signature  string `json:"signature"`
}

type Complete struct {
	ProposalID string `json:"proposal_id"`
	Proof      string `json:"proof,omitempty"`
	Signature  string `json:"signature"`
}

type Dispute struct {
	ProposalID string `json:"proposal_id"`
	Reason     string `json:"reason,omitempty"`
	Signature  string `json:"signature"`
}

type DisputeIntent struct {
	ProposalID string `json:"proposal_id"`
	Reason     string `json:"reason"`
	Commitment string `json:"commitment"`
	Signature  string `json:"signature"`
}

type DisputeReveal struct {
	ProposalID string `json:"proposal_id"`
	Nonce      string `json:"nonce"`
	Signature  string `json:"signature"`
}

type EvidenceItem struct {
	Kind        string `json:"kind"`
	Ref         string `json:"ref,omitempty"`
	Description string `json:"description,omitempty"`
}

type Evidence struct {
	DisputeID string         `json:"dispute_id"`
	Items     []EvidenceItem `json:"items"`
	Statement string         `json:"statement,omitempty"`
	Signature string         `json:"signature"`
}

type ArbiterAccept struct {
	DisputeID string `json:"dispute_id"`
	Signature string `json:"signature"`
}

type ArbiterDecline struct {
	DisputeID string `json:"dispute_id"`
	Reason    string `json:"reason,omitempty"`
	Signature string `json:"signature"`
}

type ArbiterVote struct {
	DisputeID string `json:"dispute_id"`
	Verdict   string `json:"verdict"`
	Signature string `json:"signature"`
}

type AdminAction struct {
	Key     string `json:"key"`
	AgentID string `json:"agent_id"`
}

type FileChunk struct {
	To         string `json:"to"`
	TransferID string `json:"transfer_id"`
	Seq        int    `json:"seq"`
	Data       string `json:"data"` // base64, opaque to the relay
	Final      bool   `json:"final,omitempty"`
}

// ============================================================================
// SERVER → CLIENT PAYLOADS
// ============================================================================

type Welcome struct {
	Type     string `json:"type"`
	AgentID  string `json:"agent_id"`
	Verified bool   `json:"verified"`
	Nick     string `json:"nick,omitempty"`
}

type Challenge struct {
	Type        string `json:"type"`
	Nonce       string `json:"nonce"`
	ChallengeID string `json:"challenge_id"`
	ExpiresAt   int64  `json:"expires_at"` // ms epoch
}

type VerificationFailed struct {
	Type   string `json:"type"`
	Reason string `json:"reason,omitempty"`
}

type VerificationExpired struct {
	Type string `json:"type"`
}

// SessionDisplaced tells a prior connection that its identity verified
// elsewhere, so its client library can inhibit auto-reconnect.
type SessionDisplaced struct {
	Type string `json:"type"`
}

type Msg struct {
	Type     string `json:"type"`
	MsgID    string `json:"msg_id"`
	From     string `json:"from"`
	FromName string `json:"from_name,omitempty"`
	To       string `json:"to"`
	Content  string `json:"content"`
	TS       int64  `json:"ts"`
	Replay   bool   `json:"replay,omitempty"`
}

type AgentSummary struct {
	AgentID  string   `json:"agent_id"`
	Nick     string   `json:"nick,omitempty"`
	Verified bool     `json:"verified"`
	Presence string   `json:"presence,omitempty"`
	Skills   []string `json:"skills,omitempty"`
}

type Joined struct {
	Type    string         `json:"type"`
	Channel string         `json:"channel"`
	Agents  []AgentSummary `json:"agents"`
}

// Invited tells an agent they were added to a channel's invite set.
type Invited struct {
	Type     string `json:"type"`
	Channel  string `json:"channel"`
	From     string `json:"from"`
	FromNick string `json:"from_nick,omitempty"`
}

type AgentJoined struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
	AgentID string `json:"agent_id"`
	Nick    string `json:"nick,omitempty"`
}

type AgentLeft struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
	AgentID string `json:"agent_id"`
	Nick    string `json:"nick,omitempty"`
}

type ChannelSummary struct {
	Channel    string `json:"channel"`
	Members    int    `json:"members"`
	InviteOnly bool   `json:"invite_only"`
}

type Channels struct {
	Type     string           `json:"type"`
	Channels []ChannelSummary `json:"channels"`
}

type Agents struct {
	Type   string         `json:"type"`
	Agents []AgentSummary `json:"agents"`
}

type Pong struct {
	Type string `json:"type"`
	TS   int64  `json:"ts,omitempty"`
}

// RespondingToOut relays a floor claim to the channel so other members can
// see who intends to answer.
type RespondingToOut struct {
	Type      string `json:"type"`
	MsgID     string `json:"msg_id"`
	Channel   string `json:"channel"`
	From      string `json:"from"`
	StartedAt int64  `json:"started_at"`
}

type Yield struct {
	Type    string `json:"type"`
	MsgID   string `json:"msg_id"`
	Winner  string `json:"winner"`
	Channel string `json:"channel"`
}

type SkillsRegistered struct {
	Type   string   `json:"type"`
	Skills []string `json:"skills"`
}

type SearchResults struct {
	Type   string         `json:"type"`
	Query  string         `json:"query"`
	Agents []AgentSummary `json:"agents"`
}

// ProposalNotice fans a proposal lifecycle event out to the parties. The
// Event field mirrors the client→server type that caused the transition.
type ProposalNotice struct {
	Type       string  `json:"type"`
	ProposalID string  `json:"proposal_id"`
	From       string  `json:"from,omitempty"`
	To         string  `json:"to,omitempty"`
	By         string  `json:"by,omitempty"`
	Task       string  `json:"task,omitempty"`
	Amount     float64 `json:"amount,omitempty"`
	Currency   string  `json:"currency,omitempty"`
	Expires    int64   `json:"expires,omitempty"`
	EloStake   int     `json:"elo_stake,omitempty"`
	State      string  `json:"state"`
	Reason     string  `json:"reason,omitempty"`

	RatingChanges map[string]int `json:"rating_changes,omitempty"`
}

type DisputeIntentAck struct {
	Type           string `json:"type"`
	DisputeID      string `json:"dispute_id"`
	ProposalID     string `json:"proposal_id"`
	Commitment     string `json:"commitment"`
	ServerNonce    string `json:"server_nonce"`
	RevealDeadline int64  `json:"reveal_deadline"` // ms epoch
}

type DisputeRevealed struct {
	Type       string `json:"type"`
	DisputeID  string `json:"dispute_id"`
	ProposalID string `json:"proposal_id"`
}

type PanelFormed struct {
	Type             string   `json:"type"`
	DisputeID        string   `json:"dispute_id"`
	Arbiters         []string `json:"arbiters"`
	Seed             string   `json:"seed"`
	ServerNonce      string   `json:"server_nonce"`
	EvidenceDeadline int64    `json:"evidence_deadline"`
	VoteDeadline     int64    `json:"vote_deadline"`
}

type ArbiterAssigned struct {
	Type          string `json:"type"`
	DisputeID     string `json:"dispute_id"`
	ProposalID    string `json:"proposal_id"`
	IsReplacement bool   `json:"is_replacement,omitempty"`
	Deadline      int64  `json:"deadline"`
}

type EvidenceReceived struct {
	Type      string `json:"type"`
	DisputeID string `json:"dispute_id"`
	From      string `json:"from"`
	Items     int    `json:"items"`
}

type PartyEvidence struct {
	Items     []EvidenceItem `json:"items"`
	Statement string         `json:"statement,omitempty"`
}

type CaseReady struct {
	Type         string                   `json:"type"`
	DisputeID    string                   `json:"dispute_id"`
	ProposalID   string                   `json:"proposal_id"`
	Reason       string                   `json:"reason"`
	Evidence     map[string]PartyEvidence `json:"evidence"`
	VoteDeadline int64                    `json:"vote_deadline"`
}

type Verdict struct {
	Type             string            `json:"type"`
	DisputeID        string            `json:"dispute_id"`
	ProposalID       string            `json:"proposal_id"`
	Verdict          string            `json:"verdict"`
	Votes            map[string]string `json:"votes"`
	RatingChanges    map[string]int    `json:"rating_changes"`
	EscrowSettlement string            `json:"escrow_settlement"`
}

type DisputeFallback struct {
	Type       string `json:"type"`
	DisputeID  string `json:"dispute_id"`
	ProposalID string `json:"proposal_id"`
	Reason     string `json:"reason"`
}

type PresenceChanged struct {
	Type     string `json:"type"`
	AgentID  string `json:"agent_id"`
	Presence string `json:"presence"`
}

type ErrorFrame struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// FileChunkOut relays an inbound chunk to its target.
type FileChunkOut struct {
	Type       string `json:"type"`
	From       string `json:"from"`
	To         string `json:"to"`
	TransferID string `json:"transfer_id"`
	Seq        int    `json:"seq"`
	Data       string `json:"data"`
	Final      bool   `json:"final,omitempty"`
}
