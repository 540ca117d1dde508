// Package models defines the persisted records of the vault and the views
// handed to callers.
package models

import (
	"time"

	"github.com/dmitrijs2005/gophvault/internal/cryptox"
)

// Account is a credential record as stored. Password holds ciphertext in
// the "<ivHex>:<cipherHex>" form; every other field is plaintext.
type Account struct {
	ID        string
	Name      string
	Username  string
	Password  string
	Website   string
	Notes     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AccountInput carries the user-editable fields of an account with the
// password in plaintext.
type AccountInput struct {
	Name     string
	Username string
	Password string
	Website  string
	Notes    string
}

// AccountView is an account with its password decrypted.
type AccountView struct {
	ID        string
	Name      string
	Username  string
	Password  string
	Website   string
	Notes     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AccountMeta is an account without its password. It can be listed in a
// partially open session.
type AccountMeta struct {
	ID        string
	Name      string
	Username  string
	Website   string
	UpdatedAt time.Time
}

// Meta strips the secret part of a.
func (a Account) Meta() AccountMeta {
	return AccountMeta{ID: a.ID, Name: a.Name, Username: a.Username, Website: a.Website, UpdatedAt: a.UpdatedAt}
}

// MasterVerification is the singleton record used to check the master
// password and to derive the session key.
type MasterVerification struct {
	VerificationHash []byte
	Salt             []byte
	KeySalt          []byte
	KDF              cryptox.KDFParams
	CreatedAt        time.Time
}

// SecurityQuestion is one configured recovery question. The answer is only
// kept as a salted hash of its normalized form.
type SecurityQuestion struct {
	QuestionID string
	Question   string
	AnswerHash []byte
	Salt       []byte
}

// QuestionAnswer is a plaintext answer supplied by the user, either at setup
// or during recovery.
type QuestionAnswer struct {
	QuestionID string
	Question   string
	Answer     string
}

// TOTPSettings is the singleton second-factor configuration. Secret is empty
// while TOTP is disabled.
type TOTPSettings struct {
	Secret    string
	Enabled   bool
	UpdatedAt time.Time
}
