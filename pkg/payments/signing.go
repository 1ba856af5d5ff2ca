package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/gowebpki/jcs"
	"golang.org/x/crypto/hkdf"
)

// SigningKeyring derives a per-gateway HMAC key from a single master
// secret via HKDF-SHA256: one master secret, distinct "info" strings per
// subject, no per-gateway secret to manage separately.
type SigningKeyring struct {
	master []byte
}

func NewSigningKeyring(master []byte) *SigningKeyring {
	return &SigningKeyring{master: master}
}

func (k *SigningKeyring) keyFor(gateway GatewayType) ([]byte, error) {
	reader := hkdf.New(sha256.New, k.master, []byte("distro-webhook-kdf"), []byte(gateway))
	key := make([]byte, 32)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("payments: hkdf derive for %s: %w", gateway, err)
	}
	return key, nil
}

// Sign returns the hex HMAC-SHA256 of the JSON-Canonicalized (RFC 8785)
// payload, so semantically-identical JSON with different key ordering
// or whitespace still verifies.
func (k *SigningKeyring) Sign(gateway GatewayType, payload []byte) (string, error) {
	key, err := k.keyFor(gateway)
	if err != nil {
		return "", err
	}
	canonical, err := jcs.Transform(payload)
	if err != nil {
		return "", fmt.Errorf("payments: canonicalize payload: %w", err)
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(canonical)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify reports whether signature matches Sign(gateway, payload),
// using constant-time comparison to avoid a timing oracle.
func (k *SigningKeyring) Verify(gateway GatewayType, payload []byte, signature string) (bool, error) {
	expected, err := k.Sign(gateway, payload)
	if err != nil {
		return false, err
	}
	return hmac.Equal([]byte(expected), []byte(signature)), nil
}
