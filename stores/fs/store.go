// Package fs is an easyauth Adapter that keeps one JSON file per record under
// a root directory. Writes are atomic (temp file + rename) and every operation
// holds a process-wide lock, so a directory must only be opened by a single
// process at a time. It suits development and small single-node deployments.
//
// Layout:
//
//	users/<id>.json
//	emails/<hash>.json      normalized email -> user id
//	accounts/<hash>.json    keyed by (provider, providerAccountId)
//	sessions/<id>.json
//	tokens/<hash>.json      keyed by (identifier, token)
//	audit.jsonl             one event per line
package fs

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	ea "github.com/panyam/easyauth"
)

// Store is a file-backed Adapter rooted at StoragePath.
type Store struct {
	StoragePath string
	Clock       clockwork.Clock

	mu sync.Mutex
}

// emailIndex is the content of an emails/ file
type emailIndex struct {
	UserID string `json:"user_id"`
}

func New(storagePath string) *Store {
	return &Store{StoragePath: storagePath, Clock: clockwork.NewRealClock()}
}

func (s *Store) now() time.Time {
	return s.Clock.Now()
}

func (s *Store) userPath(id string) string {
	return filepath.Join(s.StoragePath, "users", filepath.Base(id)+".json")
}

func (s *Store) emailPath(email string) string {
	return filepath.Join(s.StoragePath, "emails", fileName(ea.NormalizeEmail(email)))
}

func (s *Store) accountPath(provider, providerAccountID string) string {
	return filepath.Join(s.StoragePath, "accounts", fileName(provider, providerAccountID))
}

func (s *Store) sessionPath(id string) string {
	return filepath.Join(s.StoragePath, "sessions", filepath.Base(id)+".json")
}

func (s *Store) tokenPath(identifier, token string) string {
	return filepath.Join(s.StoragePath, "tokens", fileName(identifier, token))
}

func (s *Store) emailOwner(email string) (string, error) {
	var idx emailIndex
	found, err := readJSON(s.emailPath(email), &idx)
	if err != nil || !found {
		return "", err
	}
	return idx.UserID, nil
}

func (s *Store) CreateUser(ctx context.Context, user ea.User) (*ea.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.ID == "" {
		user.ID = ea.NewID()
	}
	if _, err := os.Stat(s.userPath(user.ID)); err == nil {
		return nil, ea.NewError(ea.KindConflict, "fs.CreateUser", "user id taken", nil)
	}
	if user.Email != "" {
		owner, err := s.emailOwner(user.Email)
		if err != nil {
			return nil, err
		}
		if owner != "" && owner != user.ID {
			return nil, ea.NewError(ea.KindConflict, "fs.CreateUser", "email taken", nil)
		}
	}
	now := s.now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = now
	}
	// index first so a crash between the writes cannot leave two users
	// sharing an email
	if user.Email != "" {
		if err := writeJSON(s.emailPath(user.Email), emailIndex{UserID: user.ID}); err != nil {
			return nil, err
		}
	}
	if err := writeJSON(s.userPath(user.ID), user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *Store) getUser(id string) (*ea.User, error) {
	var user ea.User
	found, err := readJSON(s.userPath(id), &user)
	if err != nil || !found {
		return nil, err
	}
	return &user, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*ea.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getUser(id)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*ea.User, error) {
	if email == "" {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	owner, err := s.emailOwner(email)
	if err != nil || owner == "" {
		return nil, err
	}
	user, err := s.getUser(owner)
	if err != nil || user == nil {
		return nil, err
	}
	// the index may point at a user whose email has since moved on
	if ea.NormalizeEmail(user.Email) != ea.NormalizeEmail(email) {
		return nil, nil
	}
	return user, nil
}

func (s *Store) UpdateUser(ctx context.Context, id string, patch ea.UserPatch) (*ea.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.getUser(id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, ea.NewError(ea.KindNotFound, "fs.UpdateUser", "user not found", nil)
	}
	updated := patch.Apply(*current)
	oldKey, newKey := ea.NormalizeEmail(current.Email), ea.NormalizeEmail(updated.Email)
	if newKey != oldKey && newKey != "" {
		owner, err := s.emailOwner(newKey)
		if err != nil {
			return nil, err
		}
		if owner != "" && owner != id {
			return nil, ea.NewError(ea.KindConflict, "fs.UpdateUser", "email taken", nil)
		}
		if err := writeJSON(s.emailPath(newKey), emailIndex{UserID: id}); err != nil {
			return nil, err
		}
	}
	updated.UpdatedAt = s.now()
	if err := writeJSON(s.userPath(id), updated); err != nil {
		return nil, err
	}
	if newKey != oldKey && oldKey != "" {
		if err := removeFile(s.emailPath(oldKey)); err != nil {
			return nil, err
		}
	}
	return &updated, nil
}

func (s *Store) LinkAccount(ctx context.Context, account ea.Account) (*ea.Account, error) {
	if err := account.Validate("fs.LinkAccount"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.userPath(account.UserID)); err != nil {
		if os.IsNotExist(err) {
			return nil, ea.NewError(ea.KindNotFound, "fs.LinkAccount", "user not found", nil)
		}
		return nil, err
	}

	path := s.accountPath(account.Provider, account.ProviderAccountID)
	var existing ea.Account
	found, err := readJSON(path, &existing)
	if err != nil {
		return nil, err
	}
	if found {
		if existing.UserID != account.UserID {
			return nil, ea.NewError(ea.KindConflict, "fs.LinkAccount", "account linked to another user", nil)
		}
		account.ID = existing.ID
	}
	if account.ID == "" {
		account.ID = ea.NewID()
	}
	if err := writeJSON(path, account); err != nil {
		return nil, err
	}
	return &account, nil
}

func (s *Store) GetAccountByProvider(ctx context.Context, provider, providerAccountID string) (*ea.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var account ea.Account
	found, err := readJSON(s.accountPath(provider, providerAccountID), &account)
	if err != nil || !found {
		return nil, err
	}
	return &account, nil
}

func (s *Store) CreateSession(ctx context.Context, userID string, expiresAt time.Time) (*ea.Session, error) {
	now := s.now()
	if !expiresAt.After(now) {
		return nil, ea.NewError(ea.KindInvalidArgument, "fs.CreateSession", "expiry must be in the future", nil)
	}
	id, err := ea.NewSessionID()
	if err != nil {
		return nil, err
	}
	session := ea.Session{ID: id, UserID: userID, ExpiresAt: expiresAt, CreatedAt: now, UpdatedAt: now}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := writeJSON(s.sessionPath(id), session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *Store) getSession(id string) (*ea.Session, error) {
	var session ea.Session
	found, err := readJSON(s.sessionPath(id), &session)
	if err != nil || !found {
		return nil, err
	}
	return &session, nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*ea.Session, error) {
	if id == "" {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getSession(id)
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return removeFile(s.sessionPath(id))
}

// ExtendSession moves the expiry of an existing session.
func (s *Store) ExtendSession(ctx context.Context, id string, expiresAt time.Time) (*ea.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, err := s.getSession(id)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ea.NewError(ea.KindNotFound, "fs.ExtendSession", "session not found", nil)
	}
	session.ExpiresAt = expiresAt
	session.UpdatedAt = s.now()
	if err := writeJSON(s.sessionPath(id), session); err != nil {
		return nil, err
	}
	return session, nil
}

// DeleteExpiredSessions scans sessions/ and removes those expired at now.
// Unreadable files are skipped.
func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Join(s.StoragePath, "sessions")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	n := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		if err := ctx.Err(); err != nil {
			return n, err
		}
		var session ea.Session
		path := filepath.Join(dir, entry.Name())
		if found, err := readJSON(path, &session); err != nil || !found {
			continue
		}
		if !session.Valid(now) {
			if err := removeFile(path); err != nil {
				return n, err
			}
			n++
		}
	}
	return n, nil
}

func (s *Store) CreateVerificationToken(ctx context.Context, token ea.VerificationToken) (*ea.VerificationToken, error) {
	if token.Identifier == "" || token.Token == "" {
		return nil, ea.NewError(ea.KindInvalidArgument, "fs.CreateVerificationToken", "identifier and token required", nil)
	}
	if token.ID == "" {
		token.ID = ea.NewID()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := writeJSON(s.tokenPath(token.Identifier, token.Token), token); err != nil {
		return nil, err
	}
	return &token, nil
}

func (s *Store) UseVerificationToken(ctx context.Context, identifier, token string) (*ea.VerificationToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.tokenPath(identifier, token)
	var found ea.VerificationToken
	ok, err := readJSON(path, &found)
	if err != nil || !ok {
		return nil, err
	}
	if err := removeFile(path); err != nil {
		return nil, err
	}
	if found.Expired(s.now()) {
		return nil, nil
	}
	return &found, nil
}

func (s *Store) AppendAudit(ctx context.Context, event ea.AuditEvent) error {
	if event.ID == "" {
		event.ID = ea.NewID()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.now()
	}
	line, err := json.Marshal(event)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(s.StoragePath, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(s.StoragePath, "audit.jsonl"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to append audit event: %w", err)
	}
	return nil
}

var (
	_ ea.Adapter         = (*Store)(nil)
	_ ea.SessionExtender = (*Store)(nil)
	_ ea.SessionReaper   = (*Store)(nil)
)
