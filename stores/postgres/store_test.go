package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ea "github.com/panyam/easyauth"
)

var epoch = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func newStoreWithMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	s := New(db)
	s.Clock = clockwork.NewFakeClockAt(epoch)
	return s, mock
}

var userCols = []string{"id", "email", "email_verified", "name", "image", "created_at", "updated_at"}

func TestCreateUser(t *testing.T) {
	s, mock := newStoreWithMock(t)

	q := `(?s)^INSERT\s+INTO\s+users\s*\(id,\s*email,\s*email_verified,\s*name,\s*image,\s*created_at,\s*updated_at\)\s*VALUES\s*\(\$1,\s*NULLIF\(\$2,\s*''\),\s*\$3,\s*\$4,\s*\$5,\s*\$6,\s*\$7\)\s*$`
	mock.ExpectExec(q).
		WithArgs("u-1", "ada@example.com", nil, "Ada", "", epoch, epoch).
		WillReturnResult(sqlmock.NewResult(0, 1))

	user, err := s.CreateUser(context.Background(), ea.User{ID: "u-1", Email: "ada@example.com", Name: "Ada"})
	require.NoError(t, err)
	assert.Equal(t, "u-1", user.ID)
	assert.True(t, user.CreatedAt.Equal(epoch))
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	s, mock := newStoreWithMock(t)

	mock.ExpectExec(`INSERT\s+INTO\s+users`).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "users_email_key"})

	_, err := s.CreateUser(context.Background(), ea.User{Email: "ada@example.com"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ea.ErrConflict)
}

func TestCreateUserDBError(t *testing.T) {
	s, mock := newStoreWithMock(t)

	mock.ExpectExec(`INSERT\s+INTO\s+users`).WillReturnError(errors.New("db down"))

	_, err := s.CreateUser(context.Background(), ea.User{Email: "ada@example.com"})
	require.Error(t, err)
	assert.Regexp(t, `db error: .*db down`, err.Error())
	assert.Equal(t, ea.KindUnknown, ea.KindOf(err))
}

func TestGetUserByEmail(t *testing.T) {
	s, mock := newStoreWithMock(t)

	q := `(?s)^SELECT\s+id,\s*COALESCE\(email,\s*''\),.*FROM\s+users\s+WHERE\s+lower\(email\)\s*=\s*\$1\s*$`
	rows := sqlmock.NewRows(userCols).AddRow("u-1", "Ada@Example.com", epoch, "Ada", "", epoch, epoch)
	mock.ExpectQuery(q).WithArgs("ada@example.com").WillReturnRows(rows)

	user, err := s.GetUserByEmail(context.Background(), "ADA@example.com")
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "u-1", user.ID)
	require.NotNil(t, user.EmailVerified)
	assert.True(t, user.EmailVerified.Equal(epoch))
}

func TestGetUserNotFound(t *testing.T) {
	s, mock := newStoreWithMock(t)

	mock.ExpectQuery(`FROM\s+users\s+WHERE\s+id\s*=\s*\$1`).WithArgs("ghost").WillReturnError(sql.ErrNoRows)

	user, err := s.GetUser(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Nil(t, user)
}

func TestGetUserByEmailEmpty(t *testing.T) {
	s, _ := newStoreWithMock(t)
	user, err := s.GetUserByEmail(context.Background(), "")
	require.NoError(t, err)
	assert.Nil(t, user)
}

func TestUpdateUser(t *testing.T) {
	s, mock := newStoreWithMock(t)
	name := "Lovelace"

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM\s+users\s+WHERE\s+id\s*=\s*\$1\s+FOR\s+UPDATE`).
		WithArgs("u-1").
		WillReturnRows(sqlmock.NewRows(userCols).AddRow("u-1", "ada@example.com", nil, "Ada", "", epoch, epoch))
	mock.ExpectExec(`(?s)^UPDATE\s+users\s+SET\s+email\s*=\s*NULLIF\(\$2,\s*''\),.*WHERE\s+id\s*=\s*\$1\s*$`).
		WithArgs("u-1", "ada@example.com", nil, "Lovelace", "", epoch).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	user, err := s.UpdateUser(context.Background(), "u-1", ea.UserPatch{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "Lovelace", user.Name)
	assert.Nil(t, user.EmailVerified)
}

func TestUpdateUserNotFound(t *testing.T) {
	s, mock := newStoreWithMock(t)
	name := "x"

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR\s+UPDATE`).WithArgs("ghost").WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := s.UpdateUser(context.Background(), "ghost", ea.UserPatch{Name: &name})
	assert.ErrorIs(t, err, ea.ErrNotFound)
}

func TestUpdateUserEmailConflict(t *testing.T) {
	s, mock := newStoreWithMock(t)
	email := "taken@example.com"

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR\s+UPDATE`).
		WithArgs("u-1").
		WillReturnRows(sqlmock.NewRows(userCols).AddRow("u-1", "ada@example.com", nil, "", "", epoch, epoch))
	mock.ExpectExec(`UPDATE\s+users`).WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectRollback()

	_, err := s.UpdateUser(context.Background(), "u-1", ea.UserPatch{Email: &email})
	assert.ErrorIs(t, err, ea.ErrConflict)
}

func TestLinkAccount(t *testing.T) {
	s, mock := newStoreWithMock(t)

	q := `(?s)^INSERT\s+INTO\s+accounts.*ON\s+CONFLICT\s+\(provider,\s*provider_account_id\)\s+DO\s+UPDATE\s+SET.*WHERE\s+accounts\.user_id\s*=\s*EXCLUDED\.user_id\s+RETURNING\s+id\s*$`
	mock.ExpectQuery(q).
		WithArgs(sqlmock.AnyArg(), "u-1", "github", "42", "at", "", "bearer", "", int64(0), "").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("acc-existing"))

	account, err := s.LinkAccount(context.Background(), ea.Account{
		UserID: "u-1", Provider: "github", ProviderAccountID: "42", AccessToken: "at", TokenType: "bearer",
	})
	require.NoError(t, err)
	assert.Equal(t, "acc-existing", account.ID, "upsert reports the stored id")
}

func TestLinkAccountConflict(t *testing.T) {
	s, mock := newStoreWithMock(t)

	mock.ExpectQuery(`INSERT\s+INTO\s+accounts`).WillReturnError(sql.ErrNoRows)

	_, err := s.LinkAccount(context.Background(), ea.Account{UserID: "u-2", Provider: "github", ProviderAccountID: "42"})
	assert.ErrorIs(t, err, ea.ErrConflict)
}

func TestLinkAccountRequiresKey(t *testing.T) {
	s, _ := newStoreWithMock(t)
	_, err := s.LinkAccount(context.Background(), ea.Account{UserID: "u-1"})
	assert.ErrorIs(t, err, ea.ErrInvalidArgument)

	_, err = s.LinkAccount(context.Background(), ea.Account{UserID: "u-1", Provider: "github", ProviderAccountID: "42", PasswordHash: "x:y"})
	assert.ErrorIs(t, err, ea.ErrInvalidArgument)
}

func TestLinkAccountUnknownUser(t *testing.T) {
	s, mock := newStoreWithMock(t)

	mock.ExpectQuery(`INSERT\s+INTO\s+accounts`).WillReturnError(&pgconn.PgError{Code: "23503"})

	_, err := s.LinkAccount(context.Background(), ea.Account{UserID: "ghost", Provider: "github", ProviderAccountID: "42"})
	assert.ErrorIs(t, err, ea.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetAccountByProvider(t *testing.T) {
	s, mock := newStoreWithMock(t)

	cols := []string{"id", "user_id", "provider", "provider_account_id", "access_token", "refresh_token", "token_type", "scope", "expires_at", "password_hash"}
	mock.ExpectQuery(`(?s)FROM\s+accounts\s+WHERE\s+provider\s*=\s*\$1\s+AND\s+provider_account_id\s*=\s*\$2`).
		WithArgs("credentials", "ada@example.com").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("acc-1", "u-1", "credentials", "ada@example.com", "", "", "", "", int64(0), "salt:key"))
	mock.ExpectQuery(`FROM\s+accounts`).WithArgs("github", "404").WillReturnError(sql.ErrNoRows)

	account, err := s.GetAccountByProvider(context.Background(), "credentials", "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, "salt:key", account.PasswordHash)

	missing, err := s.GetAccountByProvider(context.Background(), "github", "404")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestCreateSession(t *testing.T) {
	s, mock := newStoreWithMock(t)
	expires := epoch.Add(time.Hour)

	mock.ExpectExec(`(?s)^INSERT\s+INTO\s+sessions\s*\(id,\s*user_id,\s*expires_at,\s*created_at,\s*updated_at\)`).
		WithArgs(sqlmock.AnyArg(), "u-1", expires, epoch, epoch).
		WillReturnResult(sqlmock.NewResult(0, 1))

	session, err := s.CreateSession(context.Background(), "u-1", expires)
	require.NoError(t, err)
	assert.Len(t, session.ID, 64)

	_, err = s.CreateSession(context.Background(), "u-1", epoch)
	assert.ErrorIs(t, err, ea.ErrInvalidArgument)
}

func TestSessionReadsAndDeletes(t *testing.T) {
	s, mock := newStoreWithMock(t)
	ctx := context.Background()
	cols := []string{"id", "user_id", "expires_at", "created_at", "updated_at"}

	mock.ExpectQuery(`FROM\s+sessions\s+WHERE\s+id\s*=\s*\$1`).
		WithArgs("s-1").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("s-1", "u-1", epoch.Add(time.Hour), epoch, epoch))
	mock.ExpectExec(`^DELETE\s+FROM\s+sessions\s+WHERE\s+id\s*=\s*\$1$`).WithArgs("s-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`^DELETE\s+FROM\s+sessions\s+WHERE\s+id\s*=\s*\$1$`).WithArgs("s-1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`(?s)UPDATE\s+sessions\s+SET\s+expires_at`).WithArgs("s-1", sqlmock.AnyArg(), epoch).WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(`DELETE\s+FROM\s+sessions\s+WHERE\s+expires_at\s*<=\s*\$1`).WithArgs(epoch).WillReturnResult(sqlmock.NewResult(0, 3))

	session, err := s.GetSession(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, "u-1", session.UserID)

	require.NoError(t, s.DeleteSession(ctx, "s-1"))
	require.NoError(t, s.DeleteSession(ctx, "s-1"))

	_, err = s.ExtendSession(ctx, "s-1", epoch.Add(time.Hour))
	assert.ErrorIs(t, err, ea.ErrNotFound)

	n, err := s.DeleteExpiredSessions(ctx, epoch)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestUseVerificationToken(t *testing.T) {
	s, mock := newStoreWithMock(t)
	ctx := context.Background()
	cols := []string{"id", "identifier", "token", "expires_at"}
	q := `(?s)^DELETE\s+FROM\s+verification_tokens\s+WHERE\s+identifier\s*=\s*\$1\s+AND\s+token\s*=\s*\$2\s+RETURNING\s+id,\s*identifier,\s*token,\s*expires_at\s*$`

	mock.ExpectQuery(q).WithArgs("verify-email:a", "live").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("t-1", "verify-email:a", "live", epoch.Add(time.Hour)))
	mock.ExpectQuery(q).WithArgs("verify-email:a", "stale").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("t-2", "verify-email:a", "stale", epoch))
	mock.ExpectQuery(q).WithArgs("verify-email:a", "gone").WillReturnError(sql.ErrNoRows)

	live, err := s.UseVerificationToken(ctx, "verify-email:a", "live")
	require.NoError(t, err)
	require.NotNil(t, live)
	assert.Equal(t, "t-1", live.ID)

	stale, err := s.UseVerificationToken(ctx, "verify-email:a", "stale")
	require.NoError(t, err)
	assert.Nil(t, stale, "expired rows are deleted but not returned")

	gone, err := s.UseVerificationToken(ctx, "verify-email:a", "gone")
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestCreateVerificationToken(t *testing.T) {
	s, mock := newStoreWithMock(t)
	expires := epoch.Add(time.Hour)

	mock.ExpectExec(`INSERT\s+INTO\s+verification_tokens`).
		WithArgs(sqlmock.AnyArg(), "reset-password:a", "tok", expires).
		WillReturnResult(sqlmock.NewResult(0, 1))

	token, err := s.CreateVerificationToken(context.Background(), ea.VerificationToken{Identifier: "reset-password:a", Token: "tok", ExpiresAt: expires})
	require.NoError(t, err)
	assert.NotEmpty(t, token.ID)
}

func TestAppendAudit(t *testing.T) {
	s, mock := newStoreWithMock(t)

	mock.ExpectExec(`(?s)INSERT\s+INTO\s+audit_events.*NULLIF\(\$3,\s*''\)`).
		WithArgs(sqlmock.AnyArg(), ea.AuditLogin, "u-1", "10.0.0.1", []byte(`{"method":"password"}`), epoch).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.AppendAudit(context.Background(), ea.AuditEvent{
		Type: ea.AuditLogin, UserID: "u-1", IP: "10.0.0.1", Meta: map[string]any{"method": "password"},
	})
	require.NoError(t, err)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	s, mock := newStoreWithMock(t)
	boom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT\s+INTO\s+users`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	err := s.WithTx(context.Background(), func(ctx context.Context, tx ea.Adapter) error {
		if _, err := tx.CreateUser(ctx, ea.User{Email: "ada@example.com"}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestWithTxCommits(t *testing.T) {
	s, mock := newStoreWithMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT\s+INTO\s+users`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT\s+INTO\s+accounts`).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("acc-1"))
	mock.ExpectCommit()

	err := s.WithTx(context.Background(), func(ctx context.Context, tx ea.Adapter) error {
		user, err := tx.CreateUser(ctx, ea.User{Email: "ada@example.com"})
		if err != nil {
			return err
		}
		_, err = tx.LinkAccount(ctx, ea.Account{UserID: user.ID, Provider: ea.CredentialsProvider, ProviderAccountID: "ada@example.com"})
		return err
	})
	require.NoError(t, err)
}

func TestRegisterRunsInTransaction(t *testing.T) {
	s, mock := newStoreWithMock(t)

	mock.ExpectQuery(`lower\(email\)\s*=\s*\$1`).WithArgs("ada@example.com").WillReturnError(sql.ErrNoRows)
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT\s+INTO\s+users`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT\s+INTO\s+accounts`).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	auth := (&ea.Auth{Adapter: s, Clock: s.Clock, DisableAudit: true}).EnsureDefaults()
	_, err := auth.Register(context.Background(), "ada@example.com", "correct horse")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}
