// Package postgres is an easyauth Adapter for PostgreSQL using database/sql
// with the pgx driver. The schema ships as embedded goose migrations.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jonboulle/clockwork"

	ea "github.com/panyam/easyauth"
)

// DBTX is the subset of database/sql used by the store.
// Both *sql.DB and *sql.Tx satisfy this interface.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements easyauth.Adapter and easyauth.Transactor.
type Store struct {
	q  DBTX
	db *sql.DB // nil inside a transaction

	Clock clockwork.Clock
}

// New wraps an open database. Run Migrate before first use.
func New(db *sql.DB) *Store {
	return &Store{q: db, db: db, Clock: clockwork.NewRealClock()}
}

// DB returns the underlying pool, or nil for a transaction-bound Store.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) now() time.Time { return s.Clock.Now() }

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation
}

func dbError(op string, err error) error {
	return fmt.Errorf("postgres %s: db error: %w", op, err)
}

// WithTx runs fn against a Store bound to one transaction. Nested calls reuse
// the outer transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx ea.Adapter) error) (err error) {
	if s.db == nil {
		return fn(ctx, s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return dbError("WithTx", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()
	return fn(ctx, &Store{q: tx, Clock: s.Clock})
}

const userColumns = `id, COALESCE(email, ''), email_verified, name, image, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*ea.User, error) {
	var u ea.User
	var verified sql.NullTime
	if err := row.Scan(&u.ID, &u.Email, &verified, &u.Name, &u.Image, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	if verified.Valid {
		t := verified.Time
		u.EmailVerified = &t
	}
	return &u, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func (s *Store) CreateUser(ctx context.Context, user ea.User) (*ea.User, error) {
	if user.ID == "" {
		user.ID = ea.NewID()
	}
	now := s.now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = now
	}

	query :=
		`INSERT INTO users (id, email, email_verified, name, image, created_at, updated_at)
		 VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7)`

	_, err := s.q.ExecContext(ctx, query,
		user.ID, user.Email, nullTime(user.EmailVerified), user.Name, user.Image, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ea.NewError(ea.KindConflict, "postgres.CreateUser", "email or id taken", err)
		}
		return nil, dbError("CreateUser", err)
	}
	return &user, nil
}

func (s *Store) getUser(ctx context.Context, where string, arg any) (*ea.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE ` + where
	user, err := scanUser(s.q.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*ea.User, error) {
	user, err := s.getUser(ctx, `id = $1`, id)
	if err != nil {
		return nil, dbError("GetUser", err)
	}
	return user, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*ea.User, error) {
	if email == "" {
		return nil, nil
	}
	user, err := s.getUser(ctx, `lower(email) = $1`, ea.NormalizeEmail(email))
	if err != nil {
		return nil, dbError("GetUserByEmail", err)
	}
	return user, nil
}

// UpdateUser locks the row, merges the patch and writes it back.
func (s *Store) UpdateUser(ctx context.Context, id string, patch ea.UserPatch) (*ea.User, error) {
	var updated *ea.User
	err := s.WithTx(ctx, func(ctx context.Context, txa ea.Adapter) error {
		tx := txa.(*Store)
		current, err := tx.getUser(ctx, `id = $1 FOR UPDATE`, id)
		if err != nil {
			return dbError("UpdateUser", err)
		}
		if current == nil {
			return ea.NewError(ea.KindNotFound, "postgres.UpdateUser", "user not found", nil)
		}
		next := patch.Apply(*current)
		next.UpdatedAt = tx.now()

		query :=
			`UPDATE users SET email = NULLIF($2, ''), email_verified = $3, name = $4, image = $5, updated_at = $6
			 WHERE id = $1`

		_, err = tx.q.ExecContext(ctx, query,
			id, next.Email, nullTime(next.EmailVerified), next.Name, next.Image, next.UpdatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return ea.NewError(ea.KindConflict, "postgres.UpdateUser", "email taken", err)
			}
			return dbError("UpdateUser", err)
		}
		updated = &next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// LinkAccount upserts on (provider, provider_account_id). The conditional
// DO UPDATE returns no row when the key belongs to another user.
func (s *Store) LinkAccount(ctx context.Context, account ea.Account) (*ea.Account, error) {
	if err := account.Validate("postgres.LinkAccount"); err != nil {
		return nil, err
	}
	id := account.ID
	if id == "" {
		id = ea.NewID()
	}

	query :=
		`INSERT INTO accounts (id, user_id, provider, provider_account_id, access_token, refresh_token,
		                       token_type, scope, expires_at, password_hash)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (provider, provider_account_id) DO UPDATE SET
		     access_token = EXCLUDED.access_token,
		     refresh_token = EXCLUDED.refresh_token,
		     token_type = EXCLUDED.token_type,
		     scope = EXCLUDED.scope,
		     expires_at = EXCLUDED.expires_at,
		     password_hash = EXCLUDED.password_hash
		 WHERE accounts.user_id = EXCLUDED.user_id
		 RETURNING id`

	err := s.q.QueryRowContext(ctx, query,
		id, account.UserID, account.Provider, account.ProviderAccountID, account.AccessToken,
		account.RefreshToken, account.TokenType, account.Scope, account.ExpiresAt, account.PasswordHash,
	).Scan(&account.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ea.NewError(ea.KindConflict, "postgres.LinkAccount", "account linked to another user", nil)
		}
		if isUniqueViolation(err) {
			return nil, ea.NewError(ea.KindConflict, "postgres.LinkAccount", "account id taken", err)
		}
		if isForeignKeyViolation(err) {
			return nil, ea.NewError(ea.KindNotFound, "postgres.LinkAccount", "user not found", err)
		}
		return nil, dbError("LinkAccount", err)
	}
	return &account, nil
}

func (s *Store) GetAccountByProvider(ctx context.Context, provider, providerAccountID string) (*ea.Account, error) {
	query :=
		`SELECT id, user_id, provider, provider_account_id, access_token, refresh_token,
		        token_type, scope, expires_at, password_hash
		 FROM accounts
		 WHERE provider = $1 AND provider_account_id = $2`

	var a ea.Account
	err := s.q.QueryRowContext(ctx, query, provider, providerAccountID).Scan(
		&a.ID, &a.UserID, &a.Provider, &a.ProviderAccountID, &a.AccessToken, &a.RefreshToken,
		&a.TokenType, &a.Scope, &a.ExpiresAt, &a.PasswordHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, dbError("GetAccountByProvider", err)
	}
	return &a, nil
}

func (s *Store) CreateSession(ctx context.Context, userID string, expiresAt time.Time) (*ea.Session, error) {
	now := s.now()
	if !expiresAt.After(now) {
		return nil, ea.NewError(ea.KindInvalidArgument, "postgres.CreateSession", "expiry must be in the future", nil)
	}
	id, err := ea.NewSessionID()
	if err != nil {
		return nil, err
	}
	session := ea.Session{ID: id, UserID: userID, ExpiresAt: expiresAt, CreatedAt: now, UpdatedAt: now}

	query :=
		`INSERT INTO sessions (id, user_id, expires_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)`

	if _, err := s.q.ExecContext(ctx, query, session.ID, session.UserID, session.ExpiresAt, session.CreatedAt, session.UpdatedAt); err != nil {
		return nil, dbError("CreateSession", err)
	}
	return &session, nil
}

func scanSession(row interface{ Scan(...any) error }) (*ea.Session, error) {
	var session ea.Session
	if err := row.Scan(&session.ID, &session.UserID, &session.ExpiresAt, &session.CreatedAt, &session.UpdatedAt); err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*ea.Session, error) {
	query :=
		`SELECT id, user_id, expires_at, created_at, updated_at FROM sessions
		 WHERE id = $1`

	session, err := scanSession(s.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, dbError("GetSession", err)
	}
	return session, nil
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id); err != nil {
		return dbError("DeleteSession", err)
	}
	return nil
}

// ExtendSession moves the expiry of an existing session.
func (s *Store) ExtendSession(ctx context.Context, id string, expiresAt time.Time) (*ea.Session, error) {
	query :=
		`UPDATE sessions SET expires_at = $2, updated_at = $3
		 WHERE id = $1
		 RETURNING id, user_id, expires_at, created_at, updated_at`

	session, err := scanSession(s.q.QueryRowContext(ctx, query, id, expiresAt, s.now()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ea.NewError(ea.KindNotFound, "postgres.ExtendSession", "session not found", nil)
		}
		return nil, dbError("ExtendSession", err)
	}
	return session, nil
}

// DeleteExpiredSessions removes sessions with expires_at <= now.
func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (int, error) {
	res, err := s.q.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, dbError("DeleteExpiredSessions", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, dbError("DeleteExpiredSessions", err)
	}
	return int(n), nil
}

func (s *Store) CreateVerificationToken(ctx context.Context, token ea.VerificationToken) (*ea.VerificationToken, error) {
	if token.Identifier == "" || token.Token == "" {
		return nil, ea.NewError(ea.KindInvalidArgument, "postgres.CreateVerificationToken", "identifier and token required", nil)
	}
	if token.ID == "" {
		token.ID = ea.NewID()
	}

	query :=
		`INSERT INTO verification_tokens (id, identifier, token, expires_at)
		 VALUES ($1, $2, $3, $4)`

	if _, err := s.q.ExecContext(ctx, query, token.ID, token.Identifier, token.Token, token.ExpiresAt); err != nil {
		if isUniqueViolation(err) {
			return nil, ea.NewError(ea.KindConflict, "postgres.CreateVerificationToken", "token exists", err)
		}
		return nil, dbError("CreateVerificationToken", err)
	}
	return &token, nil
}

// UseVerificationToken deletes and returns the row in one statement; of any
// number of concurrent callers only one sees it.
func (s *Store) UseVerificationToken(ctx context.Context, identifier, token string) (*ea.VerificationToken, error) {
	query :=
		`DELETE FROM verification_tokens
		 WHERE identifier = $1 AND token = $2
		 RETURNING id, identifier, token, expires_at`

	var t ea.VerificationToken
	err := s.q.QueryRowContext(ctx, query, identifier, token).Scan(&t.ID, &t.Identifier, &t.Token, &t.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, dbError("UseVerificationToken", err)
	}
	if t.Expired(s.now()) {
		return nil, nil
	}
	return &t, nil
}

func (s *Store) AppendAudit(ctx context.Context, event ea.AuditEvent) error {
	if event.ID == "" {
		event.ID = ea.NewID()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.now()
	}
	var meta []byte
	if len(event.Meta) > 0 {
		var err error
		if meta, err = json.Marshal(event.Meta); err != nil {
			return fmt.Errorf("failed to encode audit meta: %w", err)
		}
	}

	query :=
		`INSERT INTO audit_events (id, type, user_id, ip, meta, created_at)
		 VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6)`

	if _, err := s.q.ExecContext(ctx, query, event.ID, event.Type, event.UserID, event.IP, meta, event.CreatedAt); err != nil {
		return dbError("AppendAudit", err)
	}
	return nil
}

var (
	_ ea.Adapter         = (*Store)(nil)
	_ ea.Transactor      = (*Store)(nil)
	_ ea.SessionExtender = (*Store)(nil)
	_ ea.SessionReaper   = (*Store)(nil)
)
