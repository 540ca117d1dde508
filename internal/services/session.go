package services

import (
	"database/sql"
	"sync"

	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/dmitrijs2005/gophvault/internal/cryptox"
)

// State is the authentication state of a Session.
type State int

const (
	StateLocked State = iota
	StatePartiallyOpen
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateLocked:
		return "LOCKED"
	case StatePartiallyOpen:
		return "PARTIALLY_OPEN"
	case StateAuthenticated:
		return "AUTHENTICATED"
	default:
		return "UNKNOWN"
	}
}

// Session holds everything an unlocked vault owns: the primary database
// handle and, once the password was verified, the session key.
//
// rotation is held exclusively for the whole re-key cascade and shared by
// every record mutation.
type Session struct {
	mu    sync.Mutex
	state State
	key   cryptox.Key
	db    *sql.DB

	rotation sync.RWMutex
}

func NewSession() *Session {
	return &Session{state: StateLocked}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// DB returns the primary handle, available in PARTIALLY_OPEN and
// AUTHENTICATED.
func (s *Session) DB() (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, common.ErrNotInitialized
	}
	return s.db, nil
}

// Key returns a copy of the session key. The caller zeroes it when done.
func (s *Session) Key() (cryptox.Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateAuthenticated || !s.key.Valid() {
		return nil, common.ErrNotInitialized
	}
	return s.key.Clone(), nil
}

// requireAuthenticated returns the primary handle and a key copy.
func (s *Session) requireAuthenticated() (*sql.DB, cryptox.Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateAuthenticated || s.db == nil || !s.key.Valid() {
		return nil, nil, common.ErrNotInitialized
	}
	return s.db, s.key.Clone(), nil
}

// open installs db and, when key is non-nil, the session key. The session
// takes ownership of both.
func (s *Session) open(db *sql.DB, key cryptox.Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil && s.db != db {
		_ = s.db.Close()
	}
	s.db = db
	s.key.Zero()
	s.key = key
	if key.Valid() {
		s.state = StateAuthenticated
	} else {
		s.state = StatePartiallyOpen
	}
}

// setKey replaces the session key of an open session, zeroing the old one.
func (s *Session) setKey(key cryptox.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		key.Zero()
		return common.ErrNotInitialized
	}
	s.key.Zero()
	s.key = key
	s.state = StateAuthenticated
	return nil
}

// close zeroes the key, closes the primary handle and locks the session.
func (s *Session) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.key.Zero()
	s.key = nil
	s.state = StateLocked
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
