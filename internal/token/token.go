// Package token issues and verifies the opaque bearer secrets that gate
// every operation on a registered zone.
//
// A token is returned to the caller exactly once, in the create response.
// At rest only a BLAKE2b-256 digest of it is kept on the zone record, so a
// leaked store dump never yields usable credentials.
package token

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// secretLen is the number of random bytes behind each token.
const secretLen = 32

// Issue generates a fresh bearer token. It returns the plaintext to hand to
// the caller and the digest to store on the zone. Issuing a new token for a
// zone replaces the stored digest, which invalidates the previous token.
func Issue() (plaintext, digest string, err error) {
	b := make([]byte, secretLen)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("generate token: %w", err)
	}
	plaintext = hex.EncodeToString(b)
	return plaintext, Digest(plaintext), nil
}

// Digest returns the hex-encoded BLAKE2b-256 digest of a plaintext token.
func Digest(plaintext string) string {
	sum := blake2b.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// Verify reports whether presented matches the stored digest. The comparison
// is constant-time over the digests. An empty stored digest never verifies,
// so a missing zone and a wrong token are indistinguishable to the caller.
func Verify(storedDigest, presented string) bool {
	if storedDigest == "" || presented == "" {
		return false
	}
	computed := Digest(presented)
	return subtle.ConstantTimeCompare([]byte(storedDigest), []byte(computed)) == 1
}
