package easyauth

import (
	"context"
	"fmt"
	"time"
)

// Profile is the normalized identity a provider reports for a user.
type Profile struct {
	ID    string
	Email string
	Name  string
	Image string
}

// UserinfoEndpoint pairs a provider's userinfo URL with the pure function that
// turns its raw JSON payload into a Profile.
type UserinfoEndpoint struct {
	URL string
	Map func(raw map[string]any) (Profile, error)
}

// Provider describes an OAuth/OIDC provider. It is plain data supplied by the
// host; adding a provider never changes engine code.
type Provider struct {
	ID                  string
	DiscoveryURL        string
	AuthorizationURL    string
	AuthorizationParams map[string]string
	TokenURL            string
	Userinfo            *UserinfoEndpoint
}

// MapUserinfo runs the provider's mapping function and checks the result.
func (p *Provider) MapUserinfo(raw map[string]any) (Profile, error) {
	if p.Userinfo == nil || p.Userinfo.Map == nil {
		return Profile{}, NewError(KindInvalidArgument, "MapUserinfo", fmt.Sprintf("provider %s has no userinfo mapping", p.ID), nil)
	}
	profile, err := p.Userinfo.Map(raw)
	if err != nil {
		return Profile{}, err
	}
	if profile.ID == "" {
		return Profile{}, NewError(KindInvalidArgument, "MapUserinfo", fmt.Sprintf("provider %s returned no account id", p.ID), nil)
	}
	return profile, nil
}

// OAuthTokens are the provider tokens stored on the linked Account.
type OAuthTokens struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	Scope        string
	Expiry       time.Time
}

// OAuthLogin resolves a federated identity to a User and opens a session.
//
// Resolution order: an Account already linked under (provider, profile.ID);
// otherwise an existing User with profile.Email; otherwise a new User built
// from the profile. Two providers reporting the same email therefore resolve
// to the same User. The Account is then upserted and a session created.
func (a *Auth) OAuthLogin(ctx context.Context, provider string, profile Profile) (*User, *Session, error) {
	return a.OAuthLoginWithTokens(ctx, provider, profile, OAuthTokens{})
}

// OAuthLoginWithTokens is OAuthLogin that also stores the provider tokens.
func (a *Auth) OAuthLoginWithTokens(ctx context.Context, provider string, profile Profile, tokens OAuthTokens) (*User, *Session, error) {
	if provider == "" || provider == CredentialsProvider {
		return nil, nil, NewError(KindInvalidArgument, "OAuthLogin", fmt.Sprintf("invalid provider %q", provider), nil)
	}
	if profile.ID == "" {
		return nil, nil, NewError(KindInvalidArgument, "OAuthLogin", "profile id required", nil)
	}

	var (
		user    *User
		existed bool
		orphan  *User
	)
	link := func(ctx context.Context, store Adapter) error {
		existing, err := store.GetAccountByProvider(ctx, provider, profile.ID)
		if err != nil {
			return fmt.Errorf("failed to look up account: %w", err)
		}
		resolved, created, err := resolveOAuthUser(ctx, store, existing, profile)
		if err != nil {
			return err
		}

		account := Account{
			UserID:            resolved.ID,
			Provider:          provider,
			ProviderAccountID: profile.ID,
			AccessToken:       tokens.AccessToken,
			RefreshToken:      tokens.RefreshToken,
			TokenType:         tokens.TokenType,
			Scope:             tokens.Scope,
		}
		if !tokens.Expiry.IsZero() {
			account.ExpiresAt = tokens.Expiry.Unix()
		}
		if existing != nil {
			account.ID = existing.ID
			if account.RefreshToken == "" {
				// providers often send a refresh token only on first consent
				account.RefreshToken = existing.RefreshToken
			}
		}
		if _, err := store.LinkAccount(ctx, account); err != nil {
			if created {
				orphan = resolved
			}
			return fmt.Errorf("failed to link account: %w", err)
		}
		user, existed = resolved, existing != nil
		return nil
	}

	var err error
	if tx, ok := a.Adapter.(Transactor); ok {
		err = tx.WithTx(ctx, link)
		orphan = nil
	} else {
		err = link(ctx, a.Adapter)
	}
	if err != nil {
		if orphan != nil {
			a.logger().ErrorContext(ctx, "oauth user has no linked account",
				"user_id", orphan.ID, "provider", provider, "error", err)
			a.audit(ctx, AuditEvent{Type: AuditRegisterOrphaned, UserID: orphan.ID, Meta: map[string]any{"provider": provider}})
		}
		return nil, nil, err
	}
	if !existed {
		a.audit(ctx, AuditEvent{Type: AuditAccountLinked, UserID: user.ID, Meta: map[string]any{"provider": provider}})
	}

	session, err := a.startSession(ctx, user.ID)
	if err != nil {
		return nil, nil, err
	}
	a.audit(ctx, AuditEvent{Type: AuditOAuthLogin, UserID: user.ID, Meta: map[string]any{"provider": provider}})
	return user, session, nil
}

// resolveOAuthUser reports whether it had to create the user.
func resolveOAuthUser(ctx context.Context, store Adapter, existing *Account, profile Profile) (*User, bool, error) {
	if existing != nil {
		user, err := store.GetUser(ctx, existing.UserID)
		if err != nil {
			return nil, false, fmt.Errorf("failed to load user: %w", err)
		}
		if user == nil {
			return nil, false, NewError(KindNotFound, "OAuthLogin", "linked user not found", nil)
		}
		return user, false, nil
	}

	if profile.Email != "" {
		user, err := store.GetUserByEmail(ctx, profile.Email)
		if err != nil {
			return nil, false, fmt.Errorf("failed to look up user: %w", err)
		}
		if user != nil {
			return user, false, nil
		}
	}

	user, err := store.CreateUser(ctx, User{Email: profile.Email, Name: profile.Name, Image: profile.Image})
	if err != nil {
		return nil, false, fmt.Errorf("failed to create user: %w", err)
	}
	return user, true, nil
}
