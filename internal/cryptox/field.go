package cryptox

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dmitrijs2005/gophvault/internal/common"
	"golang.org/x/crypto/hkdf"
)

const (
	ivSize  = aes.BlockSize
	tagSize = sha256.Size
)

var (
	fieldInfo     = []byte("gophvault field encryption v1")
	errBadPadding = errors.New("bad padding")
)

// splitKey expands the session key into an AES key and a MAC key.
func splitKey(key Key) (encKey, macKey []byte, err error) {
	if !key.Valid() {
		return nil, nil, ErrInvalidKeyLength
	}
	sub := make([]byte, 2*KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, key, nil, fieldInfo), sub); err != nil {
		return nil, nil, err
	}
	return sub[:KeySize], sub[KeySize:], nil
}

func mac(macKey, iv, ct []byte) []byte {
	h := hmac.New(sha256.New, macKey)
	h.Write(iv)
	h.Write(ct)
	return h.Sum(nil)
}

// EncryptField encrypts plaintext under key with a fresh random IV and
// returns the "<ivHex>:<cipherHex>" textual form.
func EncryptField(plaintext string, key Key) (string, error) {
	encKey, macKey, err := splitKey(key)
	if err != nil {
		return "", err
	}
	defer common.WipeByteArray(encKey)
	defer common.WipeByteArray(macKey)

	block, err := aes.NewCipher(encKey)
	if err != nil {
		return "", err
	}

	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", err
	}

	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	ct := make([]byte, len(padded), len(padded)+tagSize)
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ct, padded)
	ct = append(ct, mac(macKey, iv, ct)...)

	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(ct), nil
}

// DecryptField reverses EncryptField. Every failure, including a wrong key,
// is reported as common.ErrDecryption.
func DecryptField(ciphertext string, key Key) (string, error) {
	encKey, macKey, err := splitKey(key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrDecryption, err)
	}
	defer common.WipeByteArray(encKey)
	defer common.WipeByteArray(macKey)

	ivHex, ctHex, ok := strings.Cut(ciphertext, ":")
	if !ok || strings.Contains(ctHex, ":") {
		return "", fmt.Errorf("%w: malformed ciphertext", common.ErrDecryption)
	}
	iv, err := hex.DecodeString(ivHex)
	if err != nil || len(iv) != ivSize {
		return "", fmt.Errorf("%w: malformed iv", common.ErrDecryption)
	}
	raw, err := hex.DecodeString(ctHex)
	if err != nil || len(raw) < aes.BlockSize+tagSize || (len(raw)-tagSize)%aes.BlockSize != 0 {
		return "", fmt.Errorf("%w: malformed cipher text", common.ErrDecryption)
	}

	ct, tag := raw[:len(raw)-tagSize], raw[len(raw)-tagSize:]
	if !hmac.Equal(tag, mac(macKey, iv, ct)) {
		return "", fmt.Errorf("%w: authentication failed", common.ErrDecryption)
	}

	block, err := aes.NewCipher(encKey)
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrDecryption, err)
	}
	plain := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, ct)

	plain, err = pkcs7Unpad(plain, aes.BlockSize)
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrDecryption, err)
	}
	return string(plain), nil
}

func pkcs7Pad(b []byte, size int) []byte {
	n := size - len(b)%size
	return append(append(make([]byte, 0, len(b)+n), b...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(b []byte, size int) ([]byte, error) {
	if len(b) == 0 || len(b)%size != 0 {
		return nil, errBadPadding
	}
	n := int(b[len(b)-1])
	if n == 0 || n > size || n > len(b) {
		return nil, errBadPadding
	}
	for _, p := range b[len(b)-n:] {
		if int(p) != n {
			return nil, errBadPadding
		}
	}
	return b[:len(b)-n], nil
}
