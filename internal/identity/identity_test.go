package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStableIDDerivation(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	id := StableID(kp.Public)
	assert.Len(t, id, 8)

	// Must equal the first 8 hex chars of SHA-256(pubkey) in every session.
	sum := sha256.Sum256(kp.Public)
	assert.Equal(t, hex.EncodeToString(sum[:])[:8], id)
	assert.Equal(t, id, StableID(kp.Public))
}

func TestEphemeralIDShape(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		id, err := EphemeralID()
		require.NoError(t, err)
		assert.Len(t, id, 8)
		for _, r := range id {
			assert.True(t, (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'), "char %q", r)
		}
		seen[id] = true
	}
	assert.Greater(t, len(seen), 45, "ephemeral ids should be effectively unique")
}

func TestNonceGeneration(t *testing.T) {
	n1, err := GenerateNonce()
	require.NoError(t, err)
	n2, err := GenerateNonce()
	require.NoError(t, err)

	assert.Len(t, n1, 64) // 32 bytes hex-encoded
	assert.NotEqual(t, n1, n2)
}

func TestSignVerifyRoundTrip(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	canonical := ProposalString("abcd1234", "review PR", "10", "USD", "", "")
	sig := Sign(kp.Private, canonical)

	assert.True(t, Verify(kp.Public, canonical, sig))
	assert.False(t, Verify(kp.Public, canonical+"x", sig))
	assert.False(t, Verify(kp.Public, canonical, "not-base64!!"))

	other, err := GenerateKeyPair()
	require.NoError(t, err)
	assert.False(t, Verify(other.Public, canonical, sig))
}

func TestCanonicalStrings(t *testing.T) {
	assert.Equal(t, "AGENTCHAT_AUTH|n|c|42", AuthChallengeString("n", "c", 42))
	assert.Equal(t, "to|task||||", ProposalString("to", "task", "", "", "", ""))
	assert.Equal(t, "ACCEPT|p1|", AcceptString("p1", ""))
	assert.Equal(t, "COMPLETE|p1|proof", CompleteString("p1", "proof"))
	assert.Equal(t, "DISPUTE_INTENT|p1|late|abc", DisputeIntentString("p1", "late", "abc"))
	assert.Equal(t, "DISPUTE_REVEAL|p1|nonce", DisputeRevealString("p1", "nonce"))
	assert.Equal(t, "ARBITER_ACCEPT|d1", ArbiterAcceptString("d1"))
	assert.Equal(t, "ARBITER_DECLINE|d1|busy", ArbiterDeclineString("d1", "busy"))
	assert.Equal(t, "VOTE|d1|disputant", VoteString("d1", "disputant"))
}

func TestCommitmentMatchesSHA256(t *testing.T) {
	nonce := "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	sum := sha256.Sum256([]byte(nonce))
	assert.Equal(t, hex.EncodeToString(sum[:]), CommitmentFor(nonce))
}

func TestSelectionSeedIsReproducible(t *testing.T) {
	s1 := SelectionSeed("prop-1", "nonce-a", "nonce-b")
	s2 := SelectionSeed("prop-1", "nonce-a", "nonce-b")
	assert.Equal(t, s1, s2)
	assert.Len(t, s1, 64)
	assert.NotEqual(t, s1, SelectionSeed("prop-1", "nonce-a", "nonce-c"))
}

func TestCanonicalDigestSortsKeys(t *testing.T) {
	a := map[string]any{"b": 1, "a": map[string]any{"z": true, "y": "x"}}
	b := map[string]any{"a": map[string]any{"y": "x", "z": true}, "b": 1}

	da, err := CanonicalDigest(a)
	require.NoError(t, err)
	db, err := CanonicalDigest(b)
	require.NoError(t, err)
	assert.Equal(t, da, db)

	dc, err := CanonicalDigest(map[string]any{"b": 2})
	require.NoError(t, err)
	assert.NotEqual(t, da, dc)
}

func TestKeyPairFileRoundTrip(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "agent.pem")
	require.NoError(t, SaveKeyPair(kp, path))

	loaded, err := LoadKeyPair(path)
	require.NoError(t, err)
	assert.Equal(t, kp.Public, loaded.Public)
	assert.Equal(t, kp.Private, loaded.Private)

	sig := Sign(loaded.Private, "round|trip")
	assert.True(t, Verify(kp.Public, "round|trip", sig))
}

func TestParsePublicKeyHex(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	enc := EncodePublicKeyHex(kp.Public)
	pub, err := ParsePublicKeyHex(enc)
	require.NoError(t, err)
	assert.Equal(t, kp.Public, pub)

	_, err = ParsePublicKeyHex("zz")
	assert.Error(t, err)
	_, err = ParsePublicKeyHex("abcd")
	assert.Error(t, err)
}

func BenchmarkVerify(b *testing.B) {
	kp, _ := GenerateKeyPair()
	canonical := AuthChallengeString("nonce", "challenge", 1700000000)
	sig := Sign(kp.Private, canonical)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Verify(kp.Public, canonical, sig)
	}
}
