// Package totp implements RFC 6238 time-based one-time passwords with the
// parameters authenticator apps expect by default: HMAC-SHA1, six digits and
// a 30 second step. Validation accepts the previous, current and next step to
// tolerate clock drift.
//
// Nothing here depends on the vault's encryption key, so codes can be checked
// before a session exists.
package totp

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	qrcode "github.com/skip2/go-qrcode"
)

const (
	Digits = 6
	Period = 30 * time.Second
	// Skew is the number of steps accepted on each side of the current one.
	Skew = 1

	secretSize = 20
	qrSize     = 256
)

var (
	ErrInvalidSecret = errors.New("invalid totp secret")
	ErrEmptyIssuer   = errors.New("totp issuer must not be empty")
)

var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// GenerateSecret returns a fresh 160-bit secret, base32 without padding.
func GenerateSecret() (string, error) {
	buf := make([]byte, secretSize)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate totp secret: %w", err)
	}
	return b32.EncodeToString(buf), nil
}

func decodeSecret(secret string) ([]byte, error) {
	s := strings.ToUpper(strings.TrimSpace(secret))
	s = strings.TrimRight(s, "=")
	if s == "" {
		return nil, ErrInvalidSecret
	}
	key, err := b32.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSecret, err)
	}
	return key, nil
}

// hotp is RFC 4226 with dynamic truncation.
func hotp(key []byte, counter uint64) string {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], counter)

	m := hmac.New(sha1.New, key)
	m.Write(msg[:])
	sum := m.Sum(nil)

	off := sum[len(sum)-1] & 0x0f
	bin := binary.BigEndian.Uint32(sum[off:off+4]) & 0x7fffffff
	return fmt.Sprintf("%0*d", Digits, bin%1_000_000)
}

func counterAt(t time.Time) uint64 {
	return uint64(t.Unix()) / uint64(Period/time.Second)
}

// GenerateCodeAt returns the code for the step containing t.
func GenerateCodeAt(secret string, t time.Time) (string, error) {
	key, err := decodeSecret(secret)
	if err != nil {
		return "", err
	}
	return hotp(key, counterAt(t)), nil
}

// VerifyAt reports whether code is valid at time t. Malformed codes and
// secrets are simply invalid.
func VerifyAt(code, secret string, t time.Time) bool {
	code = strings.TrimSpace(code)
	if len(code) != Digits || strings.Trim(code, "0123456789") != "" {
		return false
	}
	key, err := decodeSecret(secret)
	if err != nil {
		return false
	}

	c := counterAt(t)
	ok := false
	for d := -Skew; d <= Skew; d++ {
		if d < 0 && c < uint64(-d) {
			continue
		}
		want := hotp(key, c+uint64(int64(d)))
		// no early return, so timing does not reveal which step matched
		if hmac.Equal([]byte(want), []byte(code)) {
			ok = true
		}
	}
	return ok
}

// ProvisioningURI returns the otpauth URI an authenticator app imports.
func ProvisioningURI(issuer, secret string) (string, error) {
	if strings.TrimSpace(issuer) == "" {
		return "", ErrEmptyIssuer
	}
	if _, err := decodeSecret(secret); err != nil {
		return "", err
	}
	return fmt.Sprintf("otpauth://totp/%s?secret=%s&issuer=%s",
		url.PathEscape(issuer), secret, url.QueryEscape(issuer)), nil
}

// QRCodePNG renders uri as a PNG QR code.
func QRCodePNG(uri string) ([]byte, error) {
	if strings.TrimSpace(uri) == "" {
		return nil, errors.New("qr content must not be empty")
	}
	png, err := qrcode.Encode(uri, qrcode.Medium, qrSize)
	if err != nil {
		return nil, fmt.Errorf("render qr code: %w", err)
	}
	return png, nil
}
