// Package common defines shared sentinel errors, the boundary result shape
// and small helpers used across gophvault packages. Callers should use
// errors.Is / errors.As to match these values.
package common

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidCredential is returned for a wrong master password, a wrong
	// TOTP code or wrong recovery answers.
	ErrInvalidCredential = errors.New("invalid credentials")

	// ErrNotInitialized is returned when an operation is attempted in a
	// session state that does not allow it (no key, store closed, no setup).
	ErrNotInitialized = errors.New("not initialized")

	// ErrDecryption is returned when a single field cannot be decrypted.
	ErrDecryption = errors.New("decryption failed")

	// ErrPartialRotation is matched by *PartialRotationError.
	ErrPartialRotation = errors.New("partial key rotation")

	// ErrIO wraps filesystem and backup failures.
	ErrIO = errors.New("io error")

	// Repository-level errors.
	ErrorNotFound    = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrorValidation  = errors.New("validation error")

	// ErrSecondFactorReq is a credential failure: the password was right but
	// the one-time code is mandatory.
	ErrSecondFactorReq = fmt.Errorf("second factor required: %w", ErrInvalidCredential)
)

// PartialRotationError reports a key rotation that stopped on its first
// failure. Rotated records were re-encrypted under the new key, Remaining
// records still carry the old one. RolledBack is set when the rotation ran
// inside a transaction that was rolled back, so nothing changed on disk.
type PartialRotationError struct {
	Rotated    int
	Remaining  int
	RolledBack bool
	Err        error
}

func (e *PartialRotationError) Error() string {
	state := "store left with mixed keys"
	if e.RolledBack {
		state = "rolled back"
	}
	return fmt.Sprintf("key rotation failed after %d of %d records (%s): %v",
		e.Rotated, e.Rotated+e.Remaining, state, e.Err)
}

func (e *PartialRotationError) Unwrap() error { return e.Err }

func (e *PartialRotationError) Is(target error) bool { return target == ErrPartialRotation }
