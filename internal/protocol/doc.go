// Package protocol implements the signed request format shared between the
// controller and its agents.
//
// Every controller-to-agent request carries two headers:
//
//	X-Timestamp: unix seconds at signing time
//	X-Signature: hex HMAC-SHA256 over "<ts>\n<METHOD>\n<path>\n<canonical body>"
//
// The body is canonicalized by re-encoding it as JSON with sorted keys, so
// both sides produce identical bytes regardless of field order. GET requests
// sign their query parameters as the canonical body; a request with no body
// and no parameters signs the empty object.
//
// Shared secrets are 32 random bytes, URL-safe base64 without padding.
// Verification accepts timestamps within MaxSkew of the receiver's clock and
// compares signatures in constant time.
package protocol
