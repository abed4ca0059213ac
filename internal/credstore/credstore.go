// Package credstore is spec.md §6's user-credentials store: WebAuthn
// registrations kept in a single JSON file, loaded once at startup and
// rewritten atomically (write-to-temp-then-rename, the same convention
// internal/tabular.WriteCheckpoint uses) on every change. It implements
// the go-webauthn/webauthn.User interface so it can stand in directly
// for the relying-party library's ceremony state, the way
// internal/auth-v2/users.go stands in as the credential backing store
// for the teacher's session-based Authentication.
package credstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/go-webauthn/webauthn/webauthn"
)

// Record is one registered principal: a stable WebAuthn user handle
// plus every credential it has enrolled.
type Record struct {
	Username    string                `json:"username"`
	UserID      []byte                `json:"userId"`
	Credentials []webauthn.Credential `json:"credentials"`
}

// WebAuthnID, WebAuthnName, WebAuthnDisplayName, WebAuthnCredentials
// implement webauthn.User so a *Record can be passed directly to
// webauthn.BeginRegistration / BeginLogin.
func (r *Record) WebAuthnID() []byte                            { return r.UserID }
func (r *Record) WebAuthnName() string                          { return r.Username }
func (r *Record) WebAuthnDisplayName() string                   { return r.Username }
func (r *Record) WebAuthnCredentials() []webauthn.Credential    { return r.Credentials }
func (r *Record) WebAuthnIcon() string                          { return "" }

// Store is a JSON-on-disk credential store. All mutation is serialized
// behind mu and flushed to path atomically, mirroring the single-owner
// mutex discipline internal/update.Engine uses for the cell grid.
type Store struct {
	mu      sync.Mutex
	path    string
	records map[string]*Record // keyed by username
}

// Open loads path if it exists, or starts an empty store if it does
// not (a fresh node has no enrolled credentials yet).
func Open(path string) (*Store, error) {
	s := &Store{path: path, records: map[string]*Record{}}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("credstore: read %s: %w", path, err)
	}
	var list []*Record
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("credstore: parse %s: %w", path, err)
	}
	for _, r := range list {
		s.records[r.Username] = r
	}
	cclog.Infof("credstore: loaded %d credential record(s) from %s", len(s.records), path)
	return s, nil
}

// Lookup returns the record for username, if enrolled.
func (s *Store) Lookup(username string) (*Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[username]
	return r, ok
}

// LookupByCredentialID scans for the record owning a credential with
// the given WebAuthn credential ID, as required during login when only
// the credential ID (not the username) is known.
func (s *Store) LookupByCredentialID(id []byte) (*Record, *webauthn.Credential, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		for i := range r.Credentials {
			if bytesEqual(r.Credentials[i].ID, id) {
				return r, &r.Credentials[i], true
			}
		}
	}
	return nil, nil, false
}

// EnsureUser returns the existing record for username or creates and
// persists a new one with a freshly minted userID.
func (s *Store) EnsureUser(username string, newUserID func() []byte) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.records[username]; ok {
		return r, nil
	}
	r := &Record{Username: username, UserID: newUserID()}
	s.records[username] = r
	if err := s.flushLocked(); err != nil {
		return nil, err
	}
	return r, nil
}

// AddCredential appends cred to username's record and persists the
// store, completing a WebAuthn registration ceremony.
func (s *Store) AddCredential(username string, cred webauthn.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[username]
	if !ok {
		return fmt.Errorf("credstore: user %q not enrolled", username)
	}
	r.Credentials = append(r.Credentials, cred)
	return s.flushLocked()
}

// UpdateSignCount persists a credential's updated signature counter
// after a successful authentication ceremony, guarding against cloned
// authenticators per the WebAuthn spec's clone-detection requirement.
func (s *Store) UpdateSignCount(username string, credentialID []byte, count uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[username]
	if !ok {
		return fmt.Errorf("credstore: user %q not enrolled", username)
	}
	for i := range r.Credentials {
		if bytesEqual(r.Credentials[i].ID, credentialID) {
			r.Credentials[i].Authenticator.SignCount = count
			return s.flushLocked()
		}
	}
	return fmt.Errorf("credstore: credential not found for user %q", username)
}

func (s *Store) flushLocked() error {
	list := make([]*Record, 0, len(s.records))
	for _, r := range s.records {
		list = append(list, r)
	}
	raw, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("credstore: marshal: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("credstore: mkdir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("credstore: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("credstore: rename %s: %w", tmp, err)
	}
	return nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
