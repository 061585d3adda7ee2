package easyauth

import (
	"context"
	"errors"
	"fmt"
)

func invalidCredentials(op string) error {
	return NewError(KindInvalidCredentials, op, "invalid credentials", nil)
}

// Register creates a user with a password. The user and its credentials
// account are written inside a transaction when the Adapter is a Transactor.
// Otherwise a failed account link leaves the user orphaned: it is logged and
// audited, and a later Register for the same email reports KindAlreadyExists
// until an operator links or removes the user.
func (a *Auth) Register(ctx context.Context, email, password string) (*User, error) {
	policy := a.signupPolicy()
	if err := policy.ValidateEmail(email); err != nil {
		return nil, err
	}
	if err := policy.ValidatePassword(password); err != nil {
		return nil, err
	}

	existing, err := a.Adapter.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if existing != nil {
		return nil, NewError(KindAlreadyExists, "Register", "user already exists", nil)
	}

	// Hash before any write so a KDF failure cannot orphan a user.
	passwordHash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	var created, orphan *User
	create := func(ctx context.Context, store Adapter) error {
		user, err := store.CreateUser(ctx, User{Email: email})
		if err != nil {
			return translateConflict("Register", err)
		}
		_, err = store.LinkAccount(ctx, Account{
			UserID:            user.ID,
			Provider:          CredentialsProvider,
			ProviderAccountID: NormalizeEmail(email),
			PasswordHash:      passwordHash,
		})
		if err != nil {
			orphan = user
			return translateConflict("Register", err)
		}
		created = user
		return nil
	}

	if tx, ok := a.Adapter.(Transactor); ok {
		err = tx.WithTx(ctx, create)
		orphan = nil
	} else {
		err = create(ctx, a.Adapter)
	}
	if err != nil {
		if orphan != nil {
			a.logger().ErrorContext(ctx, "registered user has no credentials account",
				"user_id", orphan.ID, "error", err)
			a.audit(ctx, AuditEvent{Type: AuditRegisterOrphaned, UserID: orphan.ID})
		}
		return nil, err
	}

	a.audit(ctx, AuditEvent{Type: AuditRegister, UserID: created.ID})
	return created, nil
}

// translateConflict turns a store level uniqueness violation into KindAlreadyExists.
func translateConflict(op string, err error) error {
	if errors.Is(err, ErrConflict) {
		return NewError(KindAlreadyExists, op, "user already exists", err)
	}
	return err
}

// Login verifies a password and opens a session. Every failure that depends on
// the credentials (unknown email, no password account, wrong password) returns
// the same KindInvalidCredentials error.
func (a *Auth) Login(ctx context.Context, email, password string) (*User, *Session, error) {
	user, err := a.Adapter.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if user == nil {
		burnPasswordCheck(password)
		a.audit(ctx, AuditEvent{Type: AuditLoginFailed, Meta: map[string]any{"reason": "unknown_user"}})
		return nil, nil, invalidCredentials("Login")
	}

	account, err := a.Adapter.GetAccountByProvider(ctx, CredentialsProvider, NormalizeEmail(email))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to look up account: %w", err)
	}
	if account == nil || account.PasswordHash == "" || account.UserID != user.ID {
		burnPasswordCheck(password)
		a.audit(ctx, AuditEvent{Type: AuditLoginFailed, UserID: user.ID, Meta: map[string]any{"reason": "no_credentials"}})
		return nil, nil, invalidCredentials("Login")
	}
	if !VerifyPassword(password, account.PasswordHash) {
		a.audit(ctx, AuditEvent{Type: AuditLoginFailed, UserID: user.ID, Meta: map[string]any{"reason": "bad_password"}})
		return nil, nil, invalidCredentials("Login")
	}

	if NeedsRehash(account.PasswordHash) {
		a.rehash(ctx, *account, password)
	}

	session, err := a.startSession(ctx, user.ID)
	if err != nil {
		return nil, nil, err
	}
	a.audit(ctx, AuditEvent{Type: AuditLogin, UserID: user.ID})
	return user, session, nil
}

// rehash upgrades a legacy hash after a successful login. Failure is logged
// only; the login has already succeeded.
func (a *Auth) rehash(ctx context.Context, account Account, password string) {
	hash, err := HashPassword(password)
	if err == nil {
		account.PasswordHash = hash
		_, err = a.Adapter.LinkAccount(ctx, account)
	}
	if err != nil {
		a.logger().WarnContext(ctx, "failed to upgrade password hash", "user_id", account.UserID, "error", err)
	}
}

// Logout deletes the session. Deleting an unknown session is not an error.
func (a *Auth) Logout(ctx context.Context, sessionID string) error {
	if err := a.Adapter.DeleteSession(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	a.audit(ctx, AuditEvent{Type: AuditLogout, Meta: map[string]any{"session": "deleted"}})
	return nil
}

// GetCurrentUser returns the owner of a live session, or nil if the session
// does not exist or has expired. Expired sessions are left for housekeeping.
func (a *Auth) GetCurrentUser(ctx context.Context, sessionID string) (*User, error) {
	if sessionID == "" {
		return nil, nil
	}
	session, err := a.Adapter.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if session == nil {
		return nil, nil
	}
	return a.ResolveSession(ctx, *session)
}

// ResolveSession applies the GetCurrentUser rules to a session that did not
// come from the Adapter, such as a decoded JWT session.
func (a *Auth) ResolveSession(ctx context.Context, session Session) (*User, error) {
	if !session.Valid(a.now()) {
		return nil, nil
	}
	user, err := a.Adapter.GetUser(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return user, nil
}

// ChangePassword replaces the password of a logged in user after checking the
// current one.
func (a *Auth) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	if err := a.signupPolicy().ValidatePassword(newPassword); err != nil {
		return err
	}
	user, err := a.Adapter.GetUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to load user: %w", err)
	}
	if user == nil || user.Email == "" {
		return invalidCredentials("ChangePassword")
	}
	account, err := a.Adapter.GetAccountByProvider(ctx, CredentialsProvider, NormalizeEmail(user.Email))
	if err != nil {
		return fmt.Errorf("failed to look up account: %w", err)
	}
	if account == nil || account.UserID != user.ID || !VerifyPassword(currentPassword, account.PasswordHash) {
		return invalidCredentials("ChangePassword")
	}
	if err := a.setPassword(ctx, *account, newPassword); err != nil {
		return err
	}
	a.audit(ctx, AuditEvent{Type: AuditPasswordChanged, UserID: user.ID})
	return nil
}

func (a *Auth) setPassword(ctx context.Context, account Account, password string) error {
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	account.PasswordHash = hash
	if _, err := a.Adapter.LinkAccount(ctx, account); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	return nil
}

// passwordAccount returns the credentials account keyed by email, or nil when
// there is none or the key was retired by ChangeEmail.
func (a *Auth) passwordAccount(ctx context.Context, email string) (*Account, error) {
	account, err := a.Adapter.GetAccountByProvider(ctx, CredentialsProvider, NormalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("failed to look up account: %w", err)
	}
	if account == nil || account.PasswordHash == "" {
		return nil, nil
	}
	owner, err := a.Adapter.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if owner == nil || owner.ID != account.UserID {
		return nil, nil
	}
	return account, nil
}

// ChangeEmail moves a user to a new address and clears EmailVerified. A
// credentials account is re-keyed to the new address and the old key is kept
// with an empty hash, so the old address no longer logs in or resets. The
// writes run in one transaction when the Adapter is a Transactor.
func (a *Auth) ChangeEmail(ctx context.Context, userID, newEmail string) (*User, error) {
	if err := a.signupPolicy().ValidateEmail(newEmail); err != nil {
		return nil, err
	}
	user, err := a.Adapter.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if user == nil {
		return nil, NewError(KindNotFound, "ChangeEmail", "user not found", nil)
	}
	oldKey, newKey := NormalizeEmail(user.Email), NormalizeEmail(newEmail)

	var updated *User
	change := func(ctx context.Context, store Adapter) error {
		patch := UserPatch{Email: &newEmail}
		if newKey != oldKey {
			patch.ClearEmailVerified = true
		}
		u, err := store.UpdateUser(ctx, userID, patch)
		if err != nil {
			return fmt.Errorf("failed to update email: %w", err)
		}
		updated = u
		if newKey == oldKey || oldKey == "" {
			return nil
		}

		old, err := store.GetAccountByProvider(ctx, CredentialsProvider, oldKey)
		if err != nil {
			return fmt.Errorf("failed to look up account: %w", err)
		}
		if old == nil || old.UserID != userID || old.PasswordHash == "" {
			return nil
		}
		moved := Account{
			UserID:            userID,
			Provider:          CredentialsProvider,
			ProviderAccountID: newKey,
			PasswordHash:      old.PasswordHash,
		}
		if _, err := store.LinkAccount(ctx, moved); err != nil {
			return fmt.Errorf("failed to move account: %w", err)
		}
		old.PasswordHash = ""
		if _, err := store.LinkAccount(ctx, *old); err != nil {
			return fmt.Errorf("failed to retire account: %w", err)
		}
		return nil
	}

	if tx, ok := a.Adapter.(Transactor); ok {
		err = tx.WithTx(ctx, change)
	} else {
		err = change(ctx, a.Adapter)
	}
	if err != nil {
		return nil, err
	}
	a.audit(ctx, AuditEvent{Type: AuditEmailChanged, UserID: userID})
	return updated, nil
}
