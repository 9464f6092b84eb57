// Package control implements the single-operator exclusive control
// lock described in spec §4.7: acquire/release, optional passphrase
// gating, and the keystroke/text mutation surface. Adapted from the
// shape of github.com/ManuGH/xg2g/internal/control's auth-gate
// middleware (a single mutable "who is authorized right now" record
// guarded by a mutex) — not from that package's HTTP routing tree,
// which belongs to a different concern in the teacher.
package control

import (
	"sync"
	"time"
	"unicode"

	"github.com/dgruss/karaoked/internal/errs"
)

// Status is the JSON-serializable view of the lock's current state.
type Status struct {
	Owner            int64     `json:"owner"`
	OwnerName        string    `json:"owner_name"`
	AcquiredAt       time.Time `json:"timestamp"`
	PasswordRequired bool      `json:"password_required"`
	PasswordOK       bool      `json:"password_ok"`
}

// whitelisted symbolic key names synthesized as "key" events rather
// than literal "type" events.
var symbolicKeys = map[string]bool{
	"Escape": true, "Return": true, "BackSpace": true, "space": true,
	"Left": true, "Right": true, "Up": true, "Down": true,
}

// Synthesizer is the subset of the input synthesizer Lock needs.
type Synthesizer interface {
	Key(name string) error
	Type(text string) error
}

// Lock is the single-operator exclusive control lock.
type Lock struct {
	passphrase string
	synth      Synthesizer

	mu            sync.Mutex
	ownerSession  int64
	ownerName     string
	acquiredAt    time.Time
	authenticated map[int64]bool
}

// New builds a Lock. An empty passphrase disables the authentication
// gate entirely.
func New(passphrase string, synth Synthesizer) *Lock {
	return &Lock{
		passphrase:    passphrase,
		synth:         synth,
		authenticated: make(map[int64]bool),
	}
}

// Status returns the current lock state as seen from sessionID's
// perspective (password_ok reflects whether sessionID has
// authenticated).
func (l *Lock) Status(sessionID int64) Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Status{
		Owner:            l.ownerSession,
		OwnerName:        l.ownerName,
		AcquiredAt:       l.acquiredAt,
		PasswordRequired: l.passphrase != "",
		PasswordOK:       l.passphrase == "" || l.authenticated[sessionID],
	}
}

// Authenticate checks password against the configured passphrase and,
// on success, stamps sessionID as authenticated.
func (l *Lock) Authenticate(sessionID int64, password string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.passphrase == "" {
		return nil
	}
	if password != l.passphrase {
		return errs.New(errs.InvalidPassword, "incorrect password")
	}
	l.authenticated[sessionID] = true
	return nil
}

func (l *Lock) requireAuthLocked(sessionID int64) error {
	if l.passphrase == "" {
		return nil
	}
	if !l.authenticated[sessionID] {
		return errs.New(errs.ControlPasswordNeeded, "authenticate before acquiring control")
	}
	return nil
}

// Acquire succeeds iff no other session owns the lock.
func (l *Lock) Acquire(sessionID int64, name string) (Status, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.requireAuthLocked(sessionID); err != nil {
		return Status{}, err
	}

	if l.ownerSession != 0 && l.ownerSession != sessionID {
		return Status{
			Owner: l.ownerSession, OwnerName: l.ownerName, AcquiredAt: l.acquiredAt,
			PasswordRequired: l.passphrase != "", PasswordOK: true,
		}, errs.New(errs.Conflict, "control already held by "+l.ownerName)
	}

	l.ownerSession = sessionID
	l.ownerName = name
	l.acquiredAt = time.Now()
	return Status{
		Owner: l.ownerSession, OwnerName: l.ownerName, AcquiredAt: l.acquiredAt,
		PasswordRequired: l.passphrase != "", PasswordOK: true,
	}, nil
}

// Release relinquishes the lock if sessionID is the current owner.
func (l *Lock) Release(sessionID int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ownerSession != sessionID {
		return errs.New(errs.NotOwner, "only the current owner may release control")
	}
	l.ownerSession = 0
	l.ownerName = ""
	l.acquiredAt = time.Time{}
	return nil
}

// ReleaseIfOwner releases the lock unconditionally when sessionID
// happens to hold it; used by the stale-session sweeper, which has no
// "caller" to authorize against.
func (l *Lock) ReleaseIfOwner(sessionID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ownerSession == sessionID {
		l.ownerSession = 0
		l.ownerName = ""
		l.acquiredAt = time.Time{}
	}
}

// IsOwner reports whether sessionID currently owns the lock.
func (l *Lock) IsOwner(sessionID int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ownerSession != 0 && l.ownerSession == sessionID
}

func (l *Lock) requireOwner(sessionID int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ownerSession == 0 {
		return errs.New(errs.ControlRequired, "no session holds control")
	}
	if l.ownerSession != sessionID {
		return errs.New(errs.NotOwner, "only the current owner may do this")
	}
	return nil
}

// Keystroke sends a single key or whitelisted symbolic key name. A
// single printable character is emitted as a literal type; a
// whitelisted symbolic name is emitted as a key; anything else is
// rejected.
func (l *Lock) Keystroke(sessionID int64, key string) error {
	if err := l.requireOwner(sessionID); err != nil {
		return err
	}
	if r := []rune(key); len(r) == 1 && unicode.IsPrint(r[0]) {
		return l.synth.Type(key)
	}
	if symbolicKeys[key] {
		return l.synth.Key(key)
	}
	return errs.New(errs.UnsupportedKey, "unsupported key: "+key)
}

const typeTextBackspaces = 20

// TypeText clears the current field with a run of backspaces, then
// types text.
func (l *Lock) TypeText(sessionID int64, text string) error {
	if err := l.requireOwner(sessionID); err != nil {
		return err
	}
	for i := 0; i < typeTextBackspaces; i++ {
		if err := l.synth.Key("BackSpace"); err != nil {
			return err
		}
	}
	return l.synth.Type(text)
}

// RequireOwnerFor exposes the owner check for other control-gated
// operations outside this package (capacity changes, playlist
// toggle/next), per spec §4.7's "mutating operations require the
// caller to be the current owner."
func (l *Lock) RequireOwnerFor(sessionID int64) error {
	return l.requireOwner(sessionID)
}
