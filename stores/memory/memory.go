// Package memory is an in-process Adapter backed by maps. It is the reference
// implementation of the easyauth Adapter contract and the store used by tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	ea "github.com/panyam/easyauth"
)

// Store keeps every entity in memory. All methods are safe for concurrent use
// and return copies so callers can never mutate stored records.
type Store struct {
	// Clock stamps CreatedAt/UpdatedAt and decides token expiry
	Clock clockwork.Clock

	mu       sync.Mutex
	users    map[string]ea.User
	emails   map[string]string // normalized email -> user id
	accounts map[string]ea.Account
	sessions map[string]ea.Session
	tokens   map[string]ea.VerificationToken
	audit    []ea.AuditEvent
}

// New returns an empty Store using the real clock.
func New() *Store {
	return NewWithClock(clockwork.NewRealClock())
}

// NewWithClock returns an empty Store using clock.
func NewWithClock(clock clockwork.Clock) *Store {
	return &Store{
		Clock:    clock,
		users:    map[string]ea.User{},
		emails:   map[string]string{},
		accounts: map[string]ea.Account{},
		sessions: map[string]ea.Session{},
		tokens:   map[string]ea.VerificationToken{},
	}
}

func accountKey(provider, providerAccountID string) string {
	return provider + "\x00" + providerAccountID
}

func tokenKey(identifier, token string) string {
	return identifier + "\x00" + token
}

func (s *Store) now() time.Time {
	return s.Clock.Now()
}

func (s *Store) CreateUser(ctx context.Context, user ea.User) (*ea.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.ID == "" {
		user.ID = ea.NewID()
	}
	if _, exists := s.users[user.ID]; exists {
		return nil, ea.NewError(ea.KindConflict, "memory.CreateUser", "user id taken", nil)
	}
	if user.Email != "" {
		if owner, taken := s.emails[ea.NormalizeEmail(user.Email)]; taken && owner != user.ID {
			return nil, ea.NewError(ea.KindConflict, "memory.CreateUser", "email taken", nil)
		}
	}
	now := s.now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = now
	}
	user = user.Clone()
	s.users[user.ID] = user
	if user.Email != "" {
		s.emails[ea.NormalizeEmail(user.Email)] = user.ID
	}
	out := user.Clone()
	return &out, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*ea.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	user = user.Clone()
	return &user, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*ea.User, error) {
	if email == "" {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.emails[ea.NormalizeEmail(email)]
	if !ok {
		return nil, nil
	}
	user := s.users[id].Clone()
	return &user, nil
}

func (s *Store) UpdateUser(ctx context.Context, id string, patch ea.UserPatch) (*ea.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.users[id]
	if !ok {
		return nil, ea.NewError(ea.KindNotFound, "memory.UpdateUser", "user not found", nil)
	}
	updated := patch.Apply(current)
	oldKey, newKey := ea.NormalizeEmail(current.Email), ea.NormalizeEmail(updated.Email)
	if newKey != oldKey && newKey != "" {
		if owner, taken := s.emails[newKey]; taken && owner != id {
			return nil, ea.NewError(ea.KindConflict, "memory.UpdateUser", "email taken", nil)
		}
	}
	updated.UpdatedAt = s.now()
	if newKey != oldKey {
		if oldKey != "" {
			delete(s.emails, oldKey)
		}
		if newKey != "" {
			s.emails[newKey] = id
		}
	}
	s.users[id] = updated
	out := updated.Clone()
	return &out, nil
}

func (s *Store) LinkAccount(ctx context.Context, account ea.Account) (*ea.Account, error) {
	if err := account.Validate("memory.LinkAccount"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[account.UserID]; !ok {
		return nil, ea.NewError(ea.KindNotFound, "memory.LinkAccount", "user not found", nil)
	}

	key := accountKey(account.Provider, account.ProviderAccountID)
	if existing, ok := s.accounts[key]; ok {
		if existing.UserID != account.UserID {
			return nil, ea.NewError(ea.KindConflict, "memory.LinkAccount", "account linked to another user", nil)
		}
		account.ID = existing.ID
	}
	if account.ID == "" {
		account.ID = ea.NewID()
	}
	s.accounts[key] = account
	return &account, nil
}

func (s *Store) GetAccountByProvider(ctx context.Context, provider, providerAccountID string) (*ea.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[accountKey(provider, providerAccountID)]
	if !ok {
		return nil, nil
	}
	return &account, nil
}

func (s *Store) CreateSession(ctx context.Context, userID string, expiresAt time.Time) (*ea.Session, error) {
	now := s.now()
	if !expiresAt.After(now) {
		return nil, ea.NewError(ea.KindInvalidArgument, "memory.CreateSession", "expiry must be in the future", nil)
	}
	id, err := ea.NewSessionID()
	if err != nil {
		return nil, err
	}
	session := ea.Session{ID: id, UserID: userID, ExpiresAt: expiresAt, CreatedAt: now, UpdatedAt: now}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id] = session
	return &session, nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*ea.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, nil
	}
	return &session, nil
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

// ExtendSession moves the expiry of an existing session.
func (s *Store) ExtendSession(ctx context.Context, id string, expiresAt time.Time) (*ea.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, ea.NewError(ea.KindNotFound, "memory.ExtendSession", "session not found", nil)
	}
	session.ExpiresAt = expiresAt
	session.UpdatedAt = s.now()
	s.sessions[id] = session
	return &session, nil
}

// DeleteExpiredSessions removes sessions that expired at or before now.
func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, session := range s.sessions {
		if !session.Valid(now) {
			delete(s.sessions, id)
			n++
		}
	}
	return n, nil
}

func (s *Store) CreateVerificationToken(ctx context.Context, token ea.VerificationToken) (*ea.VerificationToken, error) {
	if token.Identifier == "" || token.Token == "" {
		return nil, ea.NewError(ea.KindInvalidArgument, "memory.CreateVerificationToken", "identifier and token required", nil)
	}
	if token.ID == "" {
		token.ID = ea.NewID()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[tokenKey(token.Identifier, token.Token)] = token
	return &token, nil
}

func (s *Store) UseVerificationToken(ctx context.Context, identifier, token string) (*ea.VerificationToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := tokenKey(identifier, token)
	found, ok := s.tokens[key]
	if !ok {
		return nil, nil
	}
	delete(s.tokens, key)
	if found.Expired(s.now()) {
		return nil, nil
	}
	return &found, nil
}

func (s *Store) AppendAudit(ctx context.Context, event ea.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if event.ID == "" {
		event.ID = ea.NewID()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.now()
	}
	s.audit = append(s.audit, event.Clone())
	return nil
}

// AuditEvents returns the recorded events oldest first.
func (s *Store) AuditEvents() []ea.AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ea.AuditEvent, len(s.audit))
	for i, event := range s.audit {
		out[i] = event.Clone()
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// SessionsForUser lists the sessions of a user, soonest expiry first.
func (s *Store) SessionsForUser(userID string) []ea.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ea.Session
	for _, session := range s.sessions {
		if session.UserID == userID {
			out = append(out, session)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out
}

var (
	_ ea.Adapter         = (*Store)(nil)
	_ ea.SessionExtender = (*Store)(nil)
	_ ea.SessionReaper   = (*Store)(nil)
)
