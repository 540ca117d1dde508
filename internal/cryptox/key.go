package cryptox

import (
	"crypto/subtle"
	"fmt"
	"io"
)

const redacted = "[REDACTED]"

// Key is a symmetric key held in memory. Its formatting and text marshaling
// are redacted so it cannot leak through logs.
type Key []byte

func (k Key) String() string { return redacted }

// Format implements fmt.Formatter so every verb prints the redaction marker.
func (k Key) Format(f fmt.State, _ rune) {
	_, _ = io.WriteString(f, redacted)
}

func (k Key) MarshalText() ([]byte, error) { return []byte(redacted), nil }

// Clone returns an independent copy. A nil key clones to nil.
func (k Key) Clone() Key {
	if k == nil {
		return nil
	}
	out := make(Key, len(k))
	copy(out, k)
	return out
}

// Zero overwrites the key bytes in place.
func (k Key) Zero() {
	for i := range k {
		k[i] = 0
	}
}

// Equal compares two keys in constant time.
func (k Key) Equal(o Key) bool {
	return len(k) == len(o) && subtle.ConstantTimeCompare(k, o) == 1
}

// Valid reports whether k has the session key length.
func (k Key) Valid() bool { return len(k) == KeySize }
