// Package signature authenticates inbound event payloads against the
// shared device secret. Devices sign the exact request body with
// HMAC-SHA1 and present the hex digest in the X-Signature header, either
// bare or prefixed as "sha1=<hex>".
package signature

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"strings"
)

// Header is the HTTP header devices use to carry the digest.
const Header = "X-Signature"

// Verify reports whether presented is a valid digest of raw under secret.
// The comparison is constant time; a missing signature is simply invalid,
// never an error.
//
// raw must be the untouched request body. Re-serializing the JSON (key
// order, spacing, float formatting) changes the bytes and breaks valid
// signatures.
func Verify(raw []byte, presented, secret string) bool {
	if presented == "" {
		return false
	}

	// Strip an "<algo>=" prefix if the device sent one.
	digest := presented
	if i := strings.IndexByte(presented, '='); i >= 0 {
		digest = presented[i+1:]
	}

	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write(raw)
	want := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(want), []byte(digest))
}

// Sign computes the canonical "sha1=<hex>" header value for raw. Used by
// test clients and device firmware simulators.
func Sign(raw []byte, secret string) string {
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write(raw)
	return "sha1=" + hex.EncodeToString(mac.Sum(nil))
}
