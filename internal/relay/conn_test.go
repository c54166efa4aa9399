package relay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentchat/relay/internal/identity"
	"github.com/agentchat/relay/internal/protocol"
	"github.com/agentchat/relay/internal/ratelimit"
)

func preAuthConn(h *Hub) *Conn {
	limiter := ratelimit.New(ratelimit.Limits{
		PreAuth:  ratelimit.Budget{Max: 10, Window: 10 * time.Second},
		PostAuth: ratelimit.Budget{Max: 60, Window: 10 * time.Second},
	})
	return newConn(h, nil, "127.0.0.1", limiter, nil)
}

// challengeFor runs the IDENTIFY half of the pubkey handshake and returns
// the issued nonce and challenge id.
func challengeFor(t *testing.T, c *Conn, kp *identity.KeyPair) (nonce, challengeID string) {
	t.Helper()
	require.Nil(t, c.dispatch(inbound(t, protocol.TypeIdentify, map[string]any{
		"pubkey": identity.EncodePublicKeyHex(kp.Public),
		"nick":   "alice",
	})))
	challenges := framesOfType(t, c, protocol.TypeChallenge)
	require.Len(t, challenges, 1)
	return challenges[0]["nonce"].(string), challenges[0]["challenge_id"].(string)
}

// ============================================================================
// EPHEMERAL ADMISSION
// ============================================================================

func TestIdentifyEphemeral(t *testing.T) {
	h := newTestHub(t)
	c := preAuthConn(h)

	require.Nil(t, c.dispatch(inbound(t, protocol.TypeIdentify, map[string]any{"nick": "scout"})))

	welcomes := framesOfType(t, c, protocol.TypeWelcome)
	require.Len(t, welcomes, 1)
	assert.Equal(t, false, welcomes[0]["verified"])
	assert.Equal(t, "scout", welcomes[0]["nick"])
	agentID := welcomes[0]["agent_id"].(string)
	assert.Len(t, agentID, identity.StableIDLength)

	_, ok := h.Agent(agentID)
	assert.True(t, ok)

	// A second IDENTIFY on the same connection is refused.
	perr := c.dispatch(inbound(t, protocol.TypeIdentify, map[string]any{"nick": "scout2"}))
	require.NotNil(t, perr)
	assert.Contains(t, perr.Message, "already identified")
}

func TestIdentifyRejectsBadNick(t *testing.T) {
	h := newTestHub(t)
	c := preAuthConn(h)

	perr := c.dispatch(inbound(t, protocol.TypeIdentify, map[string]any{"nick": "has space"}))
	require.NotNil(t, perr)
	assert.Equal(t, protocol.CodeInvalidMsg, perr.Code)
	assert.False(t, perr.Fatal())
}

// ============================================================================
// CHALLENGE-RESPONSE ADMISSION
// ============================================================================

func TestVerifyIdentityHappyPath(t *testing.T) {
	h := newTestHub(t)
	c := preAuthConn(h)
	kp := mustKeyPair(t)

	nonce, challengeID := challengeFor(t, c, kp)
	ts := time.Now().UnixMilli()
	sig := identity.Sign(kp.Private, identity.AuthChallengeString(nonce, challengeID, ts))

	require.Nil(t, c.dispatch(inbound(t, protocol.TypeVerifyIdentity, map[string]any{
		"challenge_id": challengeID,
		"signature":    sig,
		"timestamp":    ts,
	})))

	welcomes := framesOfType(t, c, protocol.TypeWelcome)
	require.Len(t, welcomes, 1)
	assert.Equal(t, true, welcomes[0]["verified"])
	assert.Equal(t, identity.StableID(kp.Public), welcomes[0]["agent_id"])
	assert.Equal(t, "alice", welcomes[0]["nick"])
	assert.True(t, h.IsVerified(identity.StableID(kp.Public)))
}

func TestVerifyBadSignatureAllowsRetry(t *testing.T) {
	h := newTestHub(t)
	c := preAuthConn(h)
	kp := mustKeyPair(t)

	nonce, challengeID := challengeFor(t, c, kp)
	ts := time.Now().UnixMilli()

	// Signature over the wrong nonce fails softly: the challenge stands.
	bad := identity.Sign(kp.Private, identity.AuthChallengeString("not-the-nonce", challengeID, ts))
	require.Nil(t, c.dispatch(inbound(t, protocol.TypeVerifyIdentity, map[string]any{
		"challenge_id": challengeID,
		"signature":    bad,
		"timestamp":    ts,
	})))
	require.Len(t, framesOfType(t, c, protocol.TypeVerificationFailed), 1)

	good := identity.Sign(kp.Private, identity.AuthChallengeString(nonce, challengeID, ts))
	require.Nil(t, c.dispatch(inbound(t, protocol.TypeVerifyIdentity, map[string]any{
		"challenge_id": challengeID,
		"signature":    good,
		"timestamp":    ts,
	})))
	require.Len(t, framesOfType(t, c, protocol.TypeWelcome), 1)
}

func TestVerifyWithoutChallenge(t *testing.T) {
	h := newTestHub(t)
	c := preAuthConn(h)

	perr := c.dispatch(inbound(t, protocol.TypeVerifyIdentity, map[string]any{
		"challenge_id": "nope", "signature": "00", "timestamp": 1,
	}))
	require.NotNil(t, perr)
	assert.Contains(t, perr.Message, "no matching challenge")
}

func TestIdentifyRejectsMalformedPubKey(t *testing.T) {
	h := newTestHub(t)
	c := preAuthConn(h)

	perr := c.dispatch(inbound(t, protocol.TypeIdentify, map[string]any{"pubkey": "zzzz"}))
	require.NotNil(t, perr)
	assert.Equal(t, protocol.CodeInvalidMsg, perr.Code)
}

func TestAllowlistGatesIdentify(t *testing.T) {
	h := newTestHub(t)
	h.cfg.Auth.AllowlistEnabled = true
	allowed := mustKeyPair(t)
	outsider := mustKeyPair(t)
	h.mu.Lock()
	h.allowlist[identity.EncodePublicKeyHex(allowed.Public)] = true
	h.mu.Unlock()

	c := preAuthConn(h)
	perr := c.dispatch(inbound(t, protocol.TypeIdentify, map[string]any{
		"pubkey": identity.EncodePublicKeyHex(outsider.Public),
	}))
	require.NotNil(t, perr)
	assert.Equal(t, protocol.CodeNotInvited, perr.Code)
	assert.True(t, perr.Fatal())

	challengeFor(t, c, allowed)
}

// ============================================================================
// FRAME HANDLING
// ============================================================================

func TestHandleFrameDropsMalformedJSON(t *testing.T) {
	h := newTestHub(t)
	c := preAuthConn(h)

	assert.True(t, c.handleFrame([]byte("{not json")))
	assert.Empty(t, frames(t, c))
}

func TestHandleFrameSurfacesErrors(t *testing.T) {
	h := newTestHub(t)
	c := preAuthConn(h)

	assert.True(t, c.handleFrame([]byte(`{"type":"JOIN","channel":"#general"}`)))
	errs := framesOfType(t, c, protocol.TypeError)
	require.Len(t, errs, 1)
	assert.Equal(t, protocol.CodeInvalidMsg, errs[0]["code"])
}

func TestPreAuthFloodClosesConnection(t *testing.T) {
	h := newTestHub(t)
	limiter := ratelimit.New(ratelimit.Limits{
		PreAuth:  ratelimit.Budget{Max: 10, Window: 10 * time.Second},
		PostAuth: ratelimit.Budget{Max: 60, Window: 10 * time.Second},
	})
	c := newConn(h, wsPair(t), "127.0.0.1", limiter, nil)

	ping := []byte(`{"type":"PING"}`)
	for i := 0; i < 10; i++ {
		require.True(t, c.handleFrame(ping))
	}
	assert.False(t, c.handleFrame(ping))
	select {
	case <-c.done:
	case <-time.After(time.Second):
		t.Fatal("flooded connection never closed")
	}
}
