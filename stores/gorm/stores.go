//go:build !wasm
// +build !wasm

package gorm

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	ea "github.com/panyam/easyauth"
)

// AutoMigrate runs database migrations for all easyauth tables
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&UserModel{},
		&AccountModel{},
		&SessionModel{},
		&VerificationTokenModel{},
		&AuditEventModel{},
	)
}

// Store implements easyauth.Adapter using GORM
type Store struct {
	db *gorm.DB

	Clock clockwork.Clock
}

func New(db *gorm.DB) *Store {
	return &Store{db: db, Clock: clockwork.NewRealClock()}
}

func (s *Store) now() time.Time { return s.Clock.Now() }

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// WithTx runs fn inside db.Transaction. Nested calls become savepoints.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx ea.Adapter) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, &Store{db: tx, Clock: s.Clock})
	})
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
	if err := s.db.WithContext(ctx).Create(UserToModel(&user)).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ea.NewError(ea.KindConflict, "gorm.CreateUser", "email or id taken", err)
		}
		return nil, err
	}
	return &user, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*ea.User, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return model.ToUser(), nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*ea.User, error) {
	if email == "" {
		return nil, nil
	}
	var model UserModel
	if err := s.db.WithContext(ctx).First(&model, "email_key = ?", ea.NormalizeEmail(email)).Error; err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return model.ToUser(), nil
}

func (s *Store) UpdateUser(ctx context.Context, id string, patch ea.UserPatch) (*ea.User, error) {
	var updated *ea.User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model UserModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&model, "id = ?", id).Error; err != nil {
			if isNotFound(err) {
				return ea.NewError(ea.KindNotFound, "gorm.UpdateUser", "user not found", nil)
			}
			return err
		}
		next := patch.Apply(*model.ToUser())
		next.UpdatedAt = s.now()
		if err := tx.Save(UserToModel(&next)).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ea.NewError(ea.KindConflict, "gorm.UpdateUser", "email taken", err)
			}
			return err
		}
		updated = &next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Store) LinkAccount(ctx context.Context, account ea.Account) (*ea.Account, error) {
	if err := account.Validate("gorm.LinkAccount"); err != nil {
		return nil, err
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var owner UserModel
		if err := tx.Select("id").First(&owner, "id = ?", account.UserID).Error; err != nil {
			if isNotFound(err) {
				return ea.NewError(ea.KindNotFound, "gorm.LinkAccount", "user not found", nil)
			}
			return err
		}
		var existing AccountModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&existing, "provider = ? AND provider_account_id = ?", account.Provider, account.ProviderAccountID).Error
		switch {
		case err == nil:
			if existing.UserID != account.UserID {
				return ea.NewError(ea.KindConflict, "gorm.LinkAccount", "account linked to another user", nil)
			}
			account.ID = existing.ID
			return tx.Save(AccountToModel(&account)).Error
		case isNotFound(err):
			if account.ID == "" {
				account.ID = ea.NewID()
			}
			if err := tx.Create(AccountToModel(&account)).Error; err != nil {
				if errors.Is(err, gorm.ErrDuplicatedKey) {
					// lost a race with a concurrent link of the same key
					return ea.NewError(ea.KindConflict, "gorm.LinkAccount", "account linked concurrently", err)
				}
				return err
			}
			return nil
		default:
			return err
		}
	})
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (s *Store) GetAccountByProvider(ctx context.Context, provider, providerAccountID string) (*ea.Account, error) {
	var model AccountModel
	err := s.db.WithContext(ctx).First(&model, "provider = ? AND provider_account_id = ?", provider, providerAccountID).Error
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return model.ToAccount(), nil
}

func (s *Store) CreateSession(ctx context.Context, userID string, expiresAt time.Time) (*ea.Session, error) {
	now := s.now()
	if !expiresAt.After(now) {
		return nil, ea.NewError(ea.KindInvalidArgument, "gorm.CreateSession", "expiry must be in the future", nil)
	}
	id, err := ea.NewSessionID()
	if err != nil {
		return nil, err
	}
	model := &SessionModel{ID: id, UserID: userID, ExpiresAt: expiresAt, CreatedAt: now, UpdatedAt: now}
	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		return nil, err
	}
	return model.ToSession(), nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*ea.Session, error) {
	var model SessionModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return model.ToSession(), nil
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Where("id = ?", id).Delete(&SessionModel{}).Error
}

// ExtendSession moves the expiry of an existing session.
func (s *Store) ExtendSession(ctx context.Context, id string, expiresAt time.Time) (*ea.Session, error) {
	res := s.db.WithContext(ctx).Model(&SessionModel{}).
		Where("id = ?", id).
		Updates(map[string]any{"expires_at": expiresAt, "updated_at": s.now()})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ea.NewError(ea.KindNotFound, "gorm.ExtendSession", "session not found", nil)
	}
	return s.GetSession(ctx, id)
}

// DeleteExpiredSessions removes sessions with expires_at <= now.
func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (int, error) {
	res := s.db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&SessionModel{})
	if res.Error != nil {
		return 0, res.Error
	}
	return int(res.RowsAffected), nil
}

func (s *Store) CreateVerificationToken(ctx context.Context, token ea.VerificationToken) (*ea.VerificationToken, error) {
	if token.Identifier == "" || token.Token == "" {
		return nil, ea.NewError(ea.KindInvalidArgument, "gorm.CreateVerificationToken", "identifier and token required", nil)
	}
	if token.ID == "" {
		token.ID = ea.NewID()
	}
	model := &VerificationTokenModel{ID: token.ID, Identifier: token.Identifier, Token: token.Token, ExpiresAt: token.ExpiresAt}
	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ea.NewError(ea.KindConflict, "gorm.CreateVerificationToken", "token exists", err)
		}
		return nil, err
	}
	return &token, nil
}

// UseVerificationToken reads then deletes by primary key. When concurrent
// callers read the same row only the one whose delete affects it wins.
func (s *Store) UseVerificationToken(ctx context.Context, identifier, token string) (*ea.VerificationToken, error) {
	db := s.db.WithContext(ctx)
	var model VerificationTokenModel
	if err := db.First(&model, "identifier = ? AND token = ?", identifier, token).Error; err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	res := db.Where("id = ?", model.ID).Delete(&VerificationTokenModel{})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	found := model.ToVerificationToken()
	if found.Expired(s.now()) {
		return nil, nil
	}
	return found, nil
}

func (s *Store) AppendAudit(ctx context.Context, event ea.AuditEvent) error {
	if event.ID == "" {
		event.ID = ea.NewID()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.now()
	}
	return s.db.WithContext(ctx).Create(AuditEventToModel(&event)).Error
}

var (
	_ ea.Adapter         = (*Store)(nil)
	_ ea.Transactor      = (*Store)(nil)
	_ ea.SessionExtender = (*Store)(nil)
	_ ea.SessionReaper   = (*Store)(nil)
)
