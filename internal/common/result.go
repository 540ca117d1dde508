package common

import (
	"errors"
	"fmt"
)

// Error kinds reported to the boundary layer.
const (
	KindInvalidCredential = "InvalidCredentialError"
	KindNotInitialized    = "NotInitializedError"
	KindDecryption        = "DecryptionError"
	KindPartialRotation   = "PartialRotationError"
	KindIO                = "IOError"
	KindValidation        = "ValidationError"
	KindNotFound          = "NotFoundError"
	KindInternal          = "InternalError"
)

// Result is the shape every operation outcome takes when it crosses into a
// user-facing layer. Messages are generic and never echo secrets.
type Result struct {
	Success   bool   `json:"success"`
	ErrorKind string `json:"errorKind,omitempty"`
	Message   string `json:"message,omitempty"`
}

// OK is the successful Result.
func OK() Result { return Result{Success: true} }

// ToResult classifies err. A nil error yields OK().
func ToResult(err error) Result {
	if err == nil {
		return OK()
	}

	var pre *PartialRotationError
	switch {
	case errors.As(err, &pre):
		msg := fmt.Sprintf("re-encryption stopped: %d records rotated, %d not rotated", pre.Rotated, pre.Remaining)
		if pre.RolledBack {
			msg = "re-encryption failed and was rolled back; nothing was changed"
		}
		return Result{ErrorKind: KindPartialRotation, Message: msg}
	case errors.Is(err, ErrSecondFactorReq):
		return Result{ErrorKind: KindInvalidCredential, Message: "a one-time code is required"}
	case errors.Is(err, ErrInvalidCredential):
		return Result{ErrorKind: KindInvalidCredential, Message: "access denied"}
	case errors.Is(err, ErrNotInitialized):
		return Result{ErrorKind: KindNotInitialized, Message: "vault is locked or not set up"}
	case errors.Is(err, ErrDecryption):
		return Result{ErrorKind: KindDecryption, Message: "stored data could not be decrypted"}
	case errors.Is(err, ErrIO):
		return Result{ErrorKind: KindIO, Message: "file operation failed, please retry"}
	case errors.Is(err, ErrorValidation), errors.Is(err, ErrAlreadyExists):
		return Result{ErrorKind: KindValidation, Message: err.Error()}
	case errors.Is(err, ErrorNotFound):
		return Result{ErrorKind: KindNotFound, Message: "not found"}
	default:
		return Result{ErrorKind: KindInternal, Message: "internal error"}
	}
}
