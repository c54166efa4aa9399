package protocol

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"
)

// ErrMalformed marks a frame that is not valid JSON. Malformed frames are
// dropped silently (logged, no ERROR reply), so this is a sentinel rather
// than a wire Error.
var ErrMalformed = errors.New("malformed frame")

var (
	nickPattern    = regexp.MustCompile(`^[A-Za-z0-9_-]{1,24}$`)
	channelPattern = regexp.MustCompile(`^#[A-Za-z0-9_-]{1,31}$`)
)

// Inbound is a decoded envelope: the discriminating type plus the raw
// payload bytes for a second, type-specific decode.
type Inbound struct {
	Type string
	Raw  json.RawMessage
}

// DecodeInbound parses a frame's envelope. Oversize frames are fatal;
// frames that are not JSON objects return ErrMalformed; a missing type
// field is an INVALID_MSG.
func DecodeInbound(frame []byte, maxFrame int) (*Inbound, error) {
	if len(frame) > maxFrame {
		return nil, FrameViolation("frame of %d bytes exceeds limit %d", len(frame), maxFrame)
	}

	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(frame, &envelope); err != nil {
		return nil, ErrMalformed
	}
	if envelope.Type == "" {
		return nil, InvalidMsg("missing required fields: type")
	}

	return &Inbound{Type: envelope.Type, Raw: json.RawMessage(frame)}, nil
}

// Decode unmarshals the payload into T after checking that every required
// field is present. Field types are checked before any side effect: a
// type mismatch is an INVALID_MSG, not a partial decode.
func Decode[T any](in *Inbound, required ...string) (*T, *Error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(in.Raw, &probe); err != nil {
		return nil, InvalidMsg("payload must be a JSON object")
	}

	var missing []string
	for _, field := range required {
		raw, ok := probe[field]
		if !ok || string(raw) == "null" {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return nil, InvalidMsg("missing required fields: %s", strings.Join(missing, ", "))
	}

	var v T
	if err := json.Unmarshal(in.Raw, &v); err != nil {
		return nil, InvalidMsg("invalid field types: %v", err)
	}
	return &v, nil
}

// Encode marshals an outbound frame. Outbound types are server-built, so a
// marshal failure is a programming error surfaced as nil.
func Encode(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}

// ValidateContent enforces the per-message content character limit.
func ValidateContent(content string, maxChars int) *Error {
	if n := utf8.RuneCountInString(content); n > maxChars {
		return InvalidMsg("content of %d chars exceeds limit %d", n, maxChars)
	}
	return nil
}

// ValidNick reports whether a display nick is acceptable.
func ValidNick(nick string) bool {
	return nickPattern.MatchString(nick)
}

// ValidChannelName reports whether a channel name is acceptable
// ('#' + 1–31 word characters).
func ValidChannelName(name string) bool {
	return channelPattern.MatchString(name)
}

// ValidateEvidence enforces the court's evidence limits.
func ValidateEvidence(items []EvidenceItem, statement string) *Error {
	if len(items) == 0 {
		return InvalidMsg("missing required fields: items")
	}
	if len(items) > MaxEvidenceItems {
		return InvalidMsg("%d evidence items exceeds limit %d", len(items), MaxEvidenceItems)
	}
	for i, item := range items {
		if !EvidenceKinds[item.Kind] {
			return InvalidMsg("evidence item %d has unknown kind %q", i, item.Kind)
		}
	}
	if utf8.RuneCountInString(statement) > MaxStatementChars {
		return InvalidMsg("statement exceeds %d chars", MaxStatementChars)
	}
	return nil
}
