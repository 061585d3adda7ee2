package easyauth

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Session strategies
const (
	SessionStrategyDatabase = "database"
	SessionStrategyJWT      = "jwt"
)

// CookieConfig describes the cookie carrying the session token. How the token
// travels is up to the host; the engine never reads this.
type CookieConfig struct {
	Name     string `json:"name"`
	SameSite string `json:"sameSite"` // "lax", "strict" or "none"
	Domain   string `json:"domain"`
	Secure   bool   `json:"secure"`
}

// JWTConfig holds signing parameters for the jwt session strategy.
type JWTConfig struct {
	Issuer       string `json:"issuer"`
	Audience     string `json:"audience"`
	Secret       string `json:"secret"`
	RotationDays int    `json:"rotationDays"`
	Alg          string `json:"alg"`
}

// SessionConfig selects how sessions are represented and how long they live.
type SessionConfig struct {
	Strategy   string `json:"strategy"`
	TTLMinutes int    `json:"ttlMinutes"`
	Rolling    bool   `json:"rolling"`
}

// FeatureConfig toggles optional behaviour.
type FeatureConfig struct {
	Audit bool `json:"audit"`

	// Applies StrictSignupPolicy instead of the permissive default
	StrictSignup bool `json:"strictSignup"`
}

// Config is consumed once at setup and not re-validated per call.
type Config struct {
	BaseURL  string        `json:"baseUrl"`
	Cookie   CookieConfig  `json:"cookie"`
	JWT      JWTConfig     `json:"jwt"`
	Session  SessionConfig `json:"session"`
	Features FeatureConfig `json:"features"`
}

// DefaultConfig returns development defaults. BaseURL must still be set.
func DefaultConfig() *Config {
	return &Config{
		Cookie: CookieConfig{
			Name:     "easyauth_session",
			SameSite: "lax",
			Secure:   true,
		},
		JWT: JWTConfig{
			Issuer:       "easyauth",
			RotationDays: 30,
			Alg:          "HS256",
		},
		Session: SessionConfig{
			Strategy:   SessionStrategyDatabase,
			TTLMinutes: int(DefaultSessionTTL / time.Minute),
		},
		Features: FeatureConfig{Audit: true},
	}
}

// LoadConfig applies DefaultConfig and then overlays the JSON file at path,
// if path is not empty.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// SessionTTL returns the configured session lifetime.
func (c *Config) SessionTTL() time.Duration {
	if c.Session.TTLMinutes <= 0 {
		return DefaultSessionTTL
	}
	return time.Duration(c.Session.TTLMinutes) * time.Minute
}

// Validate performs the minimal checks needed to boot.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return NewError(KindInvalidArgument, "Config", "baseUrl is required", nil)
	}
	switch c.Session.Strategy {
	case "", SessionStrategyDatabase:
	case SessionStrategyJWT:
		if c.JWT.Secret == "" {
			return NewError(KindInvalidArgument, "Config", "jwt.secret is required for the jwt session strategy", nil)
		}
	default:
		return NewError(KindInvalidArgument, "Config", fmt.Sprintf("unknown session strategy %q", c.Session.Strategy), nil)
	}
	return nil
}
