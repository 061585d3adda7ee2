// Package jwtsession encodes sessions as signed JWTs for the "jwt" session
// strategy. The token carries the user id, session id and expiry; validity is
// judged with the same rule as stored sessions (now strictly before expiry).
package jwtsession

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"

	ea "github.com/panyam/easyauth"
)

// Claims are the JWT claims of a session token.
type Claims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// Codec issues and parses session tokens. Configure once, then share.
type Codec struct {
	Secret []byte

	// Secrets that still verify but are no longer used for signing, so a
	// key can be rotated without logging everyone out.
	PreviousSecrets [][]byte

	Issuer   string
	Audience string

	// "HS256" (default), "HS384" or "HS512"
	Alg string

	Clock clockwork.Clock
}

// NewCodec builds a Codec from the jwt section of the config.
func NewCodec(cfg ea.JWTConfig) *Codec {
	return &Codec{
		Secret:   []byte(cfg.Secret),
		Issuer:   cfg.Issuer,
		Audience: cfg.Audience,
		Alg:      cfg.Alg,
		Clock:    clockwork.NewRealClock(),
	}
}

func (c *Codec) now() time.Time {
	if c.Clock == nil {
		return time.Now()
	}
	return c.Clock.Now()
}

func (c *Codec) method() jwt.SigningMethod {
	switch c.Alg {
	case "HS384":
		return jwt.SigningMethodHS384
	case "HS512":
		return jwt.SigningMethodHS512
	}
	return jwt.SigningMethodHS256
}

// Issue signs a token for session. Sub-second expiry is truncated.
func (c *Codec) Issue(session *ea.Session) (string, error) {
	if len(c.Secret) == 0 {
		return "", ea.NewError(ea.KindInvalidArgument, "jwtsession.Issue", "no signing secret", nil)
	}
	claims := Claims{
		SessionID: session.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   session.UserID,
			Issuer:    c.Issuer,
			IssuedAt:  jwt.NewNumericDate(session.CreatedAt),
			ExpiresAt: jwt.NewNumericDate(session.ExpiresAt),
		},
	}
	if c.Audience != "" {
		claims.Audience = jwt.ClaimStrings{c.Audience}
	}
	signed, err := jwt.NewWithClaims(c.method(), claims).SignedString(c.Secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Parse verifies a token and returns the session it represents. Expired
// tokens fail with KindExpiredToken and anything else malformed or
// mis-signed fails with KindInvalidCredentials.
func (c *Codec) Parse(token string) (*ea.Session, error) {
	var lastErr error
	for _, secret := range append([][]byte{c.Secret}, c.PreviousSecrets...) {
		session, err := c.parseWith(token, secret)
		if err == nil {
			return session, nil
		}
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ea.NewError(ea.KindExpiredToken, "jwtsession.Parse", "session expired", err)
		}
		lastErr = err
	}
	return nil, ea.NewError(ea.KindInvalidCredentials, "jwtsession.Parse", "invalid session token", lastErr)
}

func (c *Codec) parseWith(token string, secret []byte) (*ea.Session, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{c.method().Alg()}),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
	}
	if c.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.Issuer))
	}
	if c.Audience != "" {
		opts = append(opts, jwt.WithAudience(c.Audience))
	}

	var claims Claims
	if _, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}, opts...); err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, errors.New("missing subject")
	}
	session := &ea.Session{
		ID:        claims.SessionID,
		UserID:    claims.Subject,
		ExpiresAt: claims.ExpiresAt.Time,
	}
	if claims.IssuedAt != nil {
		session.CreatedAt = claims.IssuedAt.Time
		session.UpdatedAt = claims.IssuedAt.Time
	}
	return session, nil
}
