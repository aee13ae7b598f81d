// ABOUTME: Order-independent SHA-1 signatures used by callback requests and replies
// ABOUTME: Also serves the GET endpoint-verification handshake

package crypt

import (
	"crypto/sha1" //nolint:gosec // mandated by the platform protocol
	"crypto/subtle"
	"encoding/hex"
	"sort"
	"strings"
)

// Sign returns the hex SHA-1 of the sorted concatenation of parts.
func Sign(parts ...string) string {
	sorted := make([]string, len(parts))
	copy(sorted, parts)
	sort.Strings(sorted)

	sum := sha1.Sum([]byte(strings.Join(sorted, ""))) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

// CheckSignature validates the endpoint-verification handshake signature
// sent with GET requests.
func CheckSignature(token, timestamp, nonce, signature string) bool {
	return signatureEqual(Sign(token, timestamp, nonce), signature)
}

func signatureEqual(expected, actual string) bool {
	return subtle.ConstantTimeCompare([]byte(expected), []byte(strings.ToLower(actual))) == 1
}
