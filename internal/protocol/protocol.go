// ABOUTME: HMAC request signing and verification for controller-to-agent calls
// ABOUTME: Canonical JSON bodies, URL-safe base64 secrets, replay-window checks

package protocol

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Header names carried on every signed controller→agent request.
const (
	HeaderTimestamp = "X-Timestamp"
	HeaderSignature = "X-Signature"
)

// MaxSkew is the replay window: a signed request is rejected when its
// timestamp differs from the verifier's clock by more than this.
const MaxSkew = 60 * time.Second

// NewSecret returns a fresh 32-byte shared secret encoded as URL-safe
// base64 without padding, suitable for storage and transport.
func NewSecret() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms
		panic(fmt.Sprintf("reading random bytes: %v", err))
	}
	return b64url(buf)
}

// b64url encodes bytes as URL-safe base64 without padding.
func b64url(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// unb64url decodes URL-safe base64, tolerating padded and unpadded input.
func unb64url(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}

// CanonicalJSON serializes body with sorted object keys and no incidental
// whitespace so that signer and verifier compute identical bytes regardless
// of field ordering on either side. A nil body canonicalizes to {}.
func CanonicalJSON(body any) ([]byte, error) {
	if body == nil {
		return []byte("{}"), nil
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling body: %w", err)
	}
	// Round-trip through an untyped value: encoding/json emits map keys in
	// sorted order, which normalizes struct field ordering too.
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("normalizing body: %w", err)
	}
	canonical, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonicalizing body: %w", err)
	}
	return canonical, nil
}

// Sign computes the request signature: HMAC-SHA256 over
// "ts\nMETHOD\npath\ncanonical-body", keyed with the decoded shared secret,
// returned as URL-safe unpadded base64.
func Sign(secret string, ts int64, method, path string, body any) (string, error) {
	key, err := unb64url(secret)
	if err != nil {
		return "", fmt.Errorf("decoding secret: %w", err)
	}
	bodyBytes, err := CanonicalJSON(body)
	if err != nil {
		return "", err
	}
	msg := fmt.Sprintf("%d\n%s\n%s\n", ts, strings.ToUpper(method), path)
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(msg))
	mac.Write(bodyBytes)
	return b64url(mac.Sum(nil)), nil
}

// Verify checks sig against the expected signature for the request, rejecting
// timestamps outside ±MaxSkew of now. The comparison is constant time.
func Verify(secret string, ts int64, method, path string, body any, sig string, now time.Time) bool {
	skew := now.Unix() - ts
	if skew > int64(MaxSkew.Seconds()) || skew < -int64(MaxSkew.Seconds()) {
		return false
	}
	expected, err := Sign(secret, ts, method, path, body)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(expected), []byte(sig))
}
