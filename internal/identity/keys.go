// Package identity implements the relay's cryptographic identity layer:
// Ed25519 key material, stable agent identifiers, challenge nonces, and the
// canonical signing strings every signed operation is verified against.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
)

const (
	// StableIDLength is the length of a pubkey-derived agent identifier.
	StableIDLength = 8

	// NonceBytes is the size of challenge nonces (256 bits).
	NonceBytes = 32
)

const ephemeralAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// KeyPair holds an agent's Ed25519 key material.
type KeyPair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// GenerateKeyPair creates a fresh Ed25519 key pair.
func GenerateKeyPair() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key: %w", err)
	}
	return &KeyPair{Public: pub, Private: priv}, nil
}

// StableID derives the durable agent identifier from a public key: the
// first 8 hex characters of SHA-256(pubkey bytes). The same key always maps
// to the same identifier across sessions.
func StableID(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return hex.EncodeToString(sum[:])[:StableIDLength]
}

// EphemeralID returns a random 8-character alphanumeric identifier for
// agents admitted without a public key.
func EphemeralID() (string, error) {
	buf := make([]byte, StableIDLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate ephemeral id: %w", err)
	}
	for i, b := range buf {
		buf[i] = ephemeralAlphabet[int(b)%len(ephemeralAlphabet)]
	}
	return string(buf), nil
}

// GenerateNonce creates a cryptographically secure random nonce,
// hex-encoded (64 chars).
func GenerateNonce() (string, error) {
	nonce := make([]byte, NonceBytes)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	return hex.EncodeToString(nonce), nil
}

// ParsePublicKeyHex decodes a hex-encoded Ed25519 public key.
func ParsePublicKeyHex(s string) (ed25519.PublicKey, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode public key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key must be %d bytes, got %d", ed25519.PublicKeySize, len(raw))
	}
	return ed25519.PublicKey(raw), nil
}

// EncodePublicKeyHex returns the hex encoding used on the wire and in the
// allowlist file.
func EncodePublicKeyHex(pub ed25519.PublicKey) string {
	return hex.EncodeToString(pub)
}

// SaveKeyPair writes the key pair to path as PEM with 0600 permissions.
func SaveKeyPair(kp *KeyPair, path string) error {
	privDER, err := x509.MarshalPKCS8PrivateKey(kp.Private)
	if err != nil {
		return fmt.Errorf("marshal private key: %w", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(kp.Public)
	if err != nil {
		return fmt.Errorf("marshal public key: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("open key file: %w", err)
	}
	defer f.Close()

	if err := pem.Encode(f, &pem.Block{Type: "PRIVATE KEY", Bytes: privDER}); err != nil {
		return fmt.Errorf("encode private key: %w", err)
	}
	if err := pem.Encode(f, &pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}); err != nil {
		return fmt.Errorf("encode public key: %w", err)
	}
	return nil
}

// LoadKeyPair reads a PEM key file written by SaveKeyPair.
func LoadKeyPair(path string) (*KeyPair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	kp := &KeyPair{}
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		switch block.Type {
		case "PRIVATE KEY":
			key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("parse private key: %w", err)
			}
			priv, ok := key.(ed25519.PrivateKey)
			if !ok {
				return nil, errors.New("not an Ed25519 private key")
			}
			kp.Private = priv
		case "PUBLIC KEY":
			key, err := x509.ParsePKIXPublicKey(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("parse public key: %w", err)
			}
			pub, ok := key.(ed25519.PublicKey)
			if !ok {
				return nil, errors.New("not an Ed25519 public key")
			}
			kp.Public = pub
		}
	}

	if kp.Private == nil {
		return nil, errors.New("key file contains no private key")
	}
	if kp.Public == nil {
		kp.Public = kp.Private.Public().(ed25519.PublicKey)
	}
	return kp, nil
}
