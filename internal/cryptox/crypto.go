// Package cryptox holds the cryptographic primitives of the vault: key
// derivation, verification hashes and single-field envelope encryption.
//
// Keys are derived with Argon2id. Fields are encrypted with AES-256-CBC and
// authenticated with HMAC-SHA256 (encrypt-then-MAC); both sub-keys are split
// from the 32-byte session key with HKDF-SHA256. The textual form of a
// ciphertext is "<ivHex>:<cipherHex>" where cipherHex holds the CBC blocks
// followed by the MAC tag.
package cryptox

import (
	"crypto/subtle"
	"errors"

	"golang.org/x/crypto/argon2"
)

const (
	// KeySize is the length of the session key (AES-256).
	KeySize = 32
	// SaltSize is the length of every salt generated by the vault.
	SaltSize = 16
	hashSize = 32
)

var ErrInvalidKeyLength = errors.New("invalid key length")

// KDFParams are the Argon2id cost parameters. They are persisted next to
// the verification record, so a store keeps opening with the parameters it
// was created with.
type KDFParams struct {
	Time      uint32
	MemoryKiB uint32
	Threads   uint8
}

// DefaultKDFParams returns the interactive-login parameters.
func DefaultKDFParams() KDFParams {
	return KDFParams{Time: 1, MemoryKiB: 64 * 1024, Threads: 4}
}

func (p KDFParams) normalized() KDFParams {
	d := DefaultKDFParams()
	if p.Time == 0 {
		p.Time = d.Time
	}
	if p.MemoryKiB == 0 {
		p.MemoryKiB = d.MemoryKiB
	}
	if p.Threads == 0 {
		p.Threads = d.Threads
	}
	return p
}

// DeriveKey derives the session key from the master password and the store's
// key salt. The same inputs always yield the same key.
func DeriveKey(password, salt []byte, p KDFParams) Key {
	p = p.normalized()
	return Key(argon2.IDKey(password, salt, p.Time, p.MemoryKiB, p.Threads, KeySize))
}

// HashSecret computes a salted verification hash. It is used for the master
// password and for security-question answers, always with a salt distinct
// from the key salt.
func HashSecret(secret, salt []byte, p KDFParams) []byte {
	p = p.normalized()
	return argon2.IDKey(secret, salt, p.Time, p.MemoryKiB, p.Threads, hashSize)
}

// VerifySecret recomputes the hash of secret and compares it in constant time.
func VerifySecret(secret, salt, expected []byte, p KDFParams) bool {
	if len(expected) == 0 {
		return false
	}
	got := HashSecret(secret, salt, p)
	return subtle.ConstantTimeCompare(got, expected) == 1
}
