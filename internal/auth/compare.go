// Package auth resolves effective permissions for API keys and provides
// constant-time comparison of secret material.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
)

// DummyBcryptHash is a valid bcrypt hash that matches no issued key. Callers
// on a credential-not-found path must compare against it so that a missing
// credential and a wrong credential cost the same amount of time.
const DummyBcryptHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// SecureCompare reports whether two secret strings are equal. Both inputs are
// reduced to fixed-width digests before comparison, so execution time does
// not depend on the position of the first differing byte or on the input
// lengths.
func SecureCompare(provided, expected string) bool {
	p := sha256.Sum256([]byte(provided))
	e := sha256.Sum256([]byte(expected))
	return subtle.ConstantTimeCompare(p[:], e[:]) == 1
}
