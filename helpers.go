package easyauth

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Paths appended to Auth.BaseURL in emailed links. httpauth serves both with
// GET so the links work when BaseURL points at its mount prefix.
const (
	VerifyEmailPath   = "/verify-email"
	ResetPasswordPath = "/password/reset"
)

func invalidToken(op string) error {
	return NewError(KindExpiredToken, op, "invalid or expired token", nil)
}

// issueToken stores a fresh single-use token for identifier.
func (a *Auth) issueToken(ctx context.Context, identifier string, ttl time.Duration) (*VerificationToken, error) {
	secret, err := GenerateSecureToken()
	if err != nil {
		return nil, err
	}
	token, err := a.Adapter.CreateVerificationToken(ctx, VerificationToken{
		Identifier: identifier,
		Token:      secret,
		ExpiresAt:  a.now().Add(ttl),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create token: %w", err)
	}
	return token, nil
}

func (a *Auth) link(path, email, token string) string {
	q := url.Values{}
	q.Set("email", email)
	q.Set("token", token)
	return strings.TrimSuffix(a.BaseURL, "/") + path + "?" + q.Encode()
}

// RequestEmailVerification issues a verification token for the user's email
// and sends the link when an EmailSender and BaseURL are configured. The token
// is returned for hosts that deliver it themselves.
func (a *Auth) RequestEmailVerification(ctx context.Context, userID string) (*VerificationToken, error) {
	user, err := a.Adapter.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if user == nil {
		return nil, NewError(KindNotFound, "RequestEmailVerification", "user not found", nil)
	}
	if user.Email == "" {
		return nil, NewError(KindInvalidArgument, "RequestEmailVerification", "user has no email", nil)
	}

	token, err := a.issueToken(ctx, IdentifierEmailVerification+NormalizeEmail(user.Email), TokenExpiryEmailVerification)
	if err != nil {
		return nil, err
	}
	if a.EmailSender != nil && a.BaseURL != "" {
		if err := a.EmailSender.SendVerificationEmail(ctx, user.Email, a.link(VerifyEmailPath, user.Email, token.Token)); err != nil {
			a.logger().WarnContext(ctx, "failed to send verification email", "user_id", user.ID, "error", err)
		}
	}
	a.audit(ctx, AuditEvent{Type: AuditVerifyRequested, UserID: user.ID})
	return token, nil
}

// VerifyEmail redeems a verification token and marks the email verified.
// The token is consumed whatever the outcome.
func (a *Auth) VerifyEmail(ctx context.Context, email, token string) (*User, error) {
	used, err := a.Adapter.UseVerificationToken(ctx, IdentifierEmailVerification+NormalizeEmail(email), token)
	if err != nil {
		return nil, fmt.Errorf("failed to redeem token: %w", err)
	}
	if used == nil {
		return nil, invalidToken("VerifyEmail")
	}
	user, err := a.Adapter.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if user == nil {
		return nil, invalidToken("VerifyEmail")
	}
	now := a.now()
	updated, err := a.Adapter.UpdateUser(ctx, user.ID, UserPatch{EmailVerified: &now})
	if err != nil {
		return nil, fmt.Errorf("failed to verify email: %w", err)
	}
	a.audit(ctx, AuditEvent{Type: AuditEmailVerified, UserID: user.ID})
	return updated, nil
}

// RequestPasswordReset issues a reset token when the email belongs to a user
// with a password. For any other email it returns (nil, nil) so callers can
// answer identically either way.
func (a *Auth) RequestPasswordReset(ctx context.Context, email string) (*VerificationToken, error) {
	account, err := a.passwordAccount(ctx, email)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, nil
	}

	token, err := a.issueToken(ctx, IdentifierPasswordReset+NormalizeEmail(email), TokenExpiryPasswordReset)
	if err != nil {
		return nil, err
	}
	if a.EmailSender != nil && a.BaseURL != "" {
		if err := a.EmailSender.SendPasswordResetEmail(ctx, email, a.link(ResetPasswordPath, email, token.Token)); err != nil {
			a.logger().WarnContext(ctx, "failed to send reset email", "user_id", account.UserID, "error", err)
		}
	}
	a.audit(ctx, AuditEvent{Type: AuditResetRequested, UserID: account.UserID})
	return token, nil
}

// ResetPassword redeems a reset token and sets a new password. The password
// is validated before the token is touched so a rejected password does not
// burn the token.
func (a *Auth) ResetPassword(ctx context.Context, email, token, newPassword string) error {
	if err := a.signupPolicy().ValidatePassword(newPassword); err != nil {
		return err
	}
	used, err := a.Adapter.UseVerificationToken(ctx, IdentifierPasswordReset+NormalizeEmail(email), token)
	if err != nil {
		return fmt.Errorf("failed to redeem token: %w", err)
	}
	if used == nil {
		return invalidToken("ResetPassword")
	}
	account, err := a.passwordAccount(ctx, email)
	if err != nil {
		return err
	}
	if account == nil {
		return NewError(KindNotFound, "ResetPassword", "no password account for email", nil)
	}
	if err := a.setPassword(ctx, *account, newPassword); err != nil {
		return err
	}
	a.audit(ctx, AuditEvent{Type: AuditPasswordReset, UserID: account.UserID})
	return nil
}
