package protocol

import "fmt"

// Kind is the failure category an error belongs to. Handlers never panic
// and never throw: every failure is one of these kinds.
type Kind int

const (
	// KindProtocolViolation covers malformed or abusive input. Only some
	// protocol violations (oversize frames, pre-admission abuse) are
	// connection-fatal; the rest surface as ERROR frames.
	KindProtocolViolation Kind = iota

	// KindRateExceeded is fatal pre-auth, surfaced post-auth.
	KindRateExceeded

	// KindAuthFailure covers failed or expired admission challenges.
	KindAuthFailure

	// KindAuthorizationFailure covers operations by the wrong principal.
	KindAuthorizationFailure

	// KindNotFound covers unknown channels, agents, proposals, disputes.
	KindNotFound

	// KindStateConflict covers wrong-phase and terminal-state transitions.
	KindStateConflict

	// KindInvariantViolation covers signature and commitment mismatches.
	KindInvariantViolation

	// KindResourceExhausted covers insufficient rating for a stake.
	KindResourceExhausted
)

// Wire error codes.
const (
	CodeInvalidMsg             = "INVALID_MSG"
	CodeRateLimited            = "RATE_LIMITED"
	CodeChannelNotFound        = "CHANNEL_NOT_FOUND"
	CodeNotInvited             = "NOT_INVITED"
	CodeAgentNotFound          = "AGENT_NOT_FOUND"
	CodeInvalidSignature       = "INVALID_SIGNATURE"
	CodeNotProposalParty       = "NOT_PROPOSAL_PARTY"
	CodeProposalExpired        = "PROPOSAL_EXPIRED"
	CodeInsufficientReputation = "INSUFFICIENT_REPUTATION"
	CodeVerificationRequired   = "VERIFICATION_REQUIRED"
	CodeDisputeAlreadyExists   = "DISPUTE_ALREADY_EXISTS"
	CodeDisputeCommitMismatch  = "DISPUTE_COMMITMENT_MISMATCH"
	CodeDisputeNotParty        = "DISPUTE_NOT_PARTY"
	CodeDisputeNotArbiter      = "DISPUTE_NOT_ARBITER"
	CodeDisputeInvalidPhase    = "DISPUTE_INVALID_PHASE"
	CodeDisputeNotFound        = "DISPUTE_NOT_FOUND"
	CodeDisputeDeadlinePassed  = "DISPUTE_DEADLINE_PASSED"
)

// Error is a categorised wire error. It is returned up the handler chain
// and either written as an ERROR frame or, when fatal, converted into a
// close code.
type Error struct {
	Code    string
	Message string
	Kind    Kind

	fatal bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Fatal reports whether the error must close the connection.
func (e *Error) Fatal() bool {
	return e.fatal
}

// AsFatal marks the error connection-fatal and returns it.
func (e *Error) AsFatal() *Error {
	e.fatal = true
	return e
}

// Errf builds a categorised, non-fatal error.
func Errf(kind Kind, code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

// InvalidMsg reports an unusable frame: unknown type, missing fields, or
// over-limit content. The connection stays open.
func InvalidMsg(format string, args ...any) *Error {
	return Errf(KindProtocolViolation, CodeInvalidMsg, format, args...)
}

// FrameViolation reports a transport-level violation that closes the
// connection (e.g. an oversize frame).
func FrameViolation(format string, args ...any) *Error {
	return InvalidMsg(format, args...).AsFatal()
}

func RateLimited(format string, args ...any) *Error {
	return Errf(KindRateExceeded, CodeRateLimited, format, args...)
}

func NotFound(code, format string, args ...any) *Error {
	return Errf(KindNotFound, code, format, args...)
}

func Unauthorized(code, format string, args ...any) *Error {
	return Errf(KindAuthorizationFailure, code, format, args...)
}

func StateConflict(code, format string, args ...any) *Error {
	return Errf(KindStateConflict, code, format, args...)
}

func InvalidSignature() *Error {
	return Errf(KindInvariantViolation, CodeInvalidSignature, "signature verification failed")
}
