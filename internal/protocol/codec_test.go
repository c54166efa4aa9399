package protocol

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeInbound(t *testing.T) {
	in, err := DecodeInbound([]byte(`{"type":"PING","ts":123}`), 1024)
	require.NoError(t, err)
	assert.Equal(t, "PING", in.Type)

	_, err = DecodeInbound([]byte(`{not json`), 1024)
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = DecodeInbound([]byte(`{"ts":123}`), 1024)
	var werr *Error
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, CodeInvalidMsg, werr.Code)
	assert.False(t, werr.Fatal())
}

func TestDecodeInboundOversizeFrameIsFatal(t *testing.T) {
	frame := []byte(`{"type":"MSG","content":"` + strings.Repeat("x", 300) + `"}`)
	_, err := DecodeInbound(frame, 256)

	var werr *Error
	require.ErrorAs(t, err, &werr)
	assert.True(t, werr.Fatal())
	assert.Equal(t, KindProtocolViolation, werr.Kind)
}

func TestDecodeRequiredFields(t *testing.T) {
	in, err := DecodeInbound([]byte(`{"type":"MSG","to":"#general"}`), 1024)
	require.NoError(t, err)

	_, werr := Decode[MsgIn](in, "to", "content")
	require.NotNil(t, werr)
	assert.Equal(t, CodeInvalidMsg, werr.Code)
	assert.Contains(t, werr.Message, "content")

	in, err = DecodeInbound([]byte(`{"type":"MSG","to":"#general","content":"hi"}`), 1024)
	require.NoError(t, err)
	msg, werr := Decode[MsgIn](in, "to", "content")
	require.Nil(t, werr)
	assert.Equal(t, "#general", msg.To)
	assert.Equal(t, "hi", msg.Content)
}

func TestDecodeTypeMismatch(t *testing.T) {
	in, err := DecodeInbound([]byte(`{"type":"RESPONDING_TO","msg_id":"m1","started_at":"soon","channel":"#dev"}`), 1024)
	require.NoError(t, err)

	_, werr := Decode[RespondingTo](in, "msg_id", "started_at", "channel")
	require.NotNil(t, werr)
	assert.Equal(t, CodeInvalidMsg, werr.Code)
}

func TestValidateContentBoundary(t *testing.T) {
	assert.Nil(t, ValidateContent(strings.Repeat("a", 4096), 4096))

	werr := ValidateContent(strings.Repeat("a", 4097), 4096)
	require.NotNil(t, werr)
	assert.Equal(t, CodeInvalidMsg, werr.Code)
	assert.False(t, werr.Fatal())
}

func TestValidNick(t *testing.T) {
	assert.True(t, ValidNick("agent_42"))
	assert.True(t, ValidNick("A"))
	assert.True(t, ValidNick(strings.Repeat("a", 24)))
	assert.False(t, ValidNick(""))
	assert.False(t, ValidNick(strings.Repeat("a", 25)))
	assert.False(t, ValidNick("has space"))
	assert.False(t, ValidNick("emoji✨"))
}

func TestValidChannelName(t *testing.T) {
	assert.True(t, ValidChannelName("#general"))
	assert.True(t, ValidChannelName("#a"))
	assert.True(t, ValidChannelName("#"+strings.Repeat("x", 31)))
	assert.False(t, ValidChannelName("general"))
	assert.False(t, ValidChannelName("#"))
	assert.False(t, ValidChannelName("#"+strings.Repeat("x", 32)))
	assert.False(t, ValidChannelName("#bad channel"))
}

func TestValidateEvidence(t *testing.T) {
	ok := []EvidenceItem{{Kind: "commit", Ref: "abc123"}}
	assert.Nil(t, ValidateEvidence(ok, "statement"))

	assert.NotNil(t, ValidateEvidence(nil, ""))
	assert.NotNil(t, ValidateEvidence([]EvidenceItem{{Kind: "hearsay"}}, ""))

	tooMany := make([]EvidenceItem, MaxEvidenceItems+1)
	for i := range tooMany {
		tooMany[i] = EvidenceItem{Kind: "other"}
	}
	assert.NotNil(t, ValidateEvidence(tooMany, ""))

	assert.NotNil(t, ValidateEvidence(ok, strings.Repeat("s", MaxStatementChars+1)))
}

func TestErrorHelpers(t *testing.T) {
	e := NotFound(CodeAgentNotFound, "no agent %q", "x")
	assert.Equal(t, KindNotFound, e.Kind)
	assert.Equal(t, "AGENT_NOT_FOUND", e.Code)
	assert.Contains(t, e.Error(), "AGENT_NOT_FOUND")

	assert.True(t, FrameViolation("too big").Fatal())
	assert.False(t, RateLimited("slow down").Fatal())
	assert.Equal(t, KindInvariantViolation, InvalidSignature().Kind)
}
