package identity

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Canonical signing strings are pipe-joined ASCII fields in a fixed order.
// Empty optional fields are represented as empty strings so the field count
// is stable for every operation.

// AuthChallengeString is the string a client signs to answer an admission
// challenge.
func AuthChallengeString(nonce, challengeID string, timestamp int64) string {
	return join("AGENTCHAT_AUTH", nonce, challengeID, fmt.Sprintf("%d", timestamp))
}

// ProposalString covers the immutable content of a new proposal.
func ProposalString(to, task, amount, currency, paymentCode, expires string) string {
	return join(to, task, amount, currency, paymentCode, expires)
}

// AcceptString covers a proposal acceptance.
func AcceptString(proposalID, paymentCode string) string {
	return join("ACCEPT", proposalID, paymentCode)
}

// RejectString covers a proposal rejection.
func RejectString(proposalID, reason string) string {
	return join("REJECT", proposalID, reason)
}

// CompleteString covers a proposal completion.
func CompleteString(proposalID, proof string) string {
	return join("COMPLETE", proposalID, proof)
}

// DisputeString covers a bilateral dispute declaration.
func DisputeString(proposalID, reason string) string {
	return join("DISPUTE", proposalID, reason)
}

// DisputeIntentString covers the commit phase of a court filing.
func DisputeIntentString(proposalID, reason, commitment string) string {
	return join("DISPUTE_INTENT", proposalID, reason, commitment)
}

// DisputeRevealString covers the reveal phase of a court filing.
func DisputeRevealString(proposalID, nonce string) string {
	return join("DISPUTE_REVEAL", proposalID, nonce)
}

// EvidenceString covers an evidence submission. The item digest binds the
// signature to the canonicalised evidence items.
func EvidenceString(disputeID, itemsDigest string) string {
	return join("EVIDENCE", disputeID, itemsDigest)
}

// ArbiterAcceptString covers a panel seat acceptance.
func ArbiterAcceptString(disputeID string) string {
	return join("ARBITER_ACCEPT", disputeID)
}

// ArbiterDeclineString covers a panel seat refusal.
func ArbiterDeclineString(disputeID, reason string) string {
	return join("ARBITER_DECLINE", disputeID, reason)
}

// VoteString covers an arbiter verdict vote.
func VoteString(disputeID, verdict string) string {
	return join("VOTE", disputeID, verdict)
}

func join(fields ...string) string {
	return strings.Join(fields, "|")
}

// Sign produces a base64 signature over the canonical string.
func Sign(priv ed25519.PrivateKey, canonical string) string {
	return base64.StdEncoding.EncodeToString(ed25519.Sign(priv, []byte(canonical)))
}

// Verify checks a base64 signature over the canonical string. A malformed
// signature is treated the same as an invalid one.
func Verify(pub ed25519.PublicKey, canonical, signature string) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	return ed25519.Verify(pub, []byte(canonical), sig)
}

// CommitmentFor returns the hex SHA-256 commitment for a reveal nonce.
func CommitmentFor(nonce string) string {
	sum := sha256.Sum256([]byte(nonce))
	return hex.EncodeToString(sum[:])
}

// SelectionSeed derives the arbiter selection seed from the proposal id,
// the disputant's revealed nonce, and the server nonce. Any party can
// recompute it to audit panel selection.
func SelectionSeed(proposalID, disputantNonce, serverNonce string) string {
	sum := sha256.Sum256([]byte(proposalID + disputantNonce + serverNonce))
	return hex.EncodeToString(sum[:])
}

// CanonicalDigest hashes a JSON-encodable value with all object keys
// sorted, so independently produced encodings agree byte for byte.
func CanonicalDigest(v any) (string, error) {
	canon, err := canonicalize(v)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(canon)
	if err != nil {
		return "", fmt.Errorf("canonical marshal: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// canonicalize round-trips v through JSON into maps and slices. Go's
// encoding/json writes map keys in sorted order, which gives the canonical
// form for free once every object is a map.
func canonicalize(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: %w", err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("canonicalize: %w", err)
	}
	return sortKeys(out), nil
}

func sortKeys(v any) any {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		m := make(map[string]any, len(t))
		for _, k := range keys {
			m[k] = sortKeys(t[k])
		}
		return m
	case []any:
		for i := range t {
			t[i] = sortKeys(t[i])
		}
		return t
	default:
		return v
	}
}
