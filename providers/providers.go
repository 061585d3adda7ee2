// Package providers holds OAuth provider descriptors for common identity
// providers. Each descriptor is plain easyauth.Provider data; hosts may copy
// and tweak them freely.
package providers

import (
	"encoding/json"
	"fmt"
	"sort"

	"golang.org/x/oauth2/endpoints"
	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/google"

	ea "github.com/panyam/easyauth"
)

// Google is an OIDC provider. The v2 authorization endpoint is used so
// prompt=select_account is honoured.
func Google() *ea.Provider {
	return &ea.Provider{
		ID:               "google",
		DiscoveryURL:     "https://accounts.google.com/.well-known/openid-configuration",
		AuthorizationURL: "https://accounts.google.com/o/oauth2/v2/auth",
		AuthorizationParams: map[string]string{
			"scope":       "openid email profile",
			"access_type": "offline",
			"prompt":      "select_account",
		},
		TokenURL: google.Endpoint.TokenURL,
		Userinfo: &ea.UserinfoEndpoint{
			URL: "https://openidconnect.googleapis.com/v1/userinfo",
			Map: func(raw map[string]any) (ea.Profile, error) {
				return ea.Profile{
					ID:    stringField(raw, "sub"),
					Email: stringField(raw, "email"),
					Name:  stringField(raw, "name"),
					Image: stringField(raw, "picture"),
				}, nil
			},
		},
	}
}

// GitHub reports numeric account ids; they are kept in decimal form.
func GitHub() *ea.Provider {
	return &ea.Provider{
		ID:               "github",
		AuthorizationURL: github.Endpoint.AuthURL,
		AuthorizationParams: map[string]string{
			"scope": "read:user user:email",
		},
		TokenURL: github.Endpoint.TokenURL,
		Userinfo: &ea.UserinfoEndpoint{
			URL: "https://api.github.com/user",
			Map: func(raw map[string]any) (ea.Profile, error) {
				return ea.Profile{
					ID:    stringField(raw, "id"),
					Email: stringField(raw, "email"),
					Name:  stringField(raw, "name"),
					Image: stringField(raw, "avatar_url"),
				}, nil
			},
		},
	}
}

func Discord() *ea.Provider {
	return &ea.Provider{
		ID:               "discord",
		AuthorizationURL: endpoints.Discord.AuthURL,
		AuthorizationParams: map[string]string{
			"scope":  "openid email identify",
			"prompt": "consent",
		},
		TokenURL: endpoints.Discord.TokenURL,
		Userinfo: &ea.UserinfoEndpoint{
			URL: "https://discord.com/api/users/@me",
			Map: func(raw map[string]any) (ea.Profile, error) {
				p := ea.Profile{
					ID:    stringField(raw, "id"),
					Email: stringField(raw, "email"),
					Name:  stringField(raw, "username"),
				}
				if avatar := stringField(raw, "avatar"); avatar != "" && p.ID != "" {
					p.Image = fmt.Sprintf("https://cdn.discordapp.com/avatars/%s/%s.png", p.ID, avatar)
				}
				return p, nil
			},
		},
	}
}

var registry = map[string]func() *ea.Provider{
	"google":  Google,
	"github":  GitHub,
	"discord": Discord,
}

// Lookup returns a fresh descriptor for a built-in provider id.
func Lookup(id string) (*ea.Provider, bool) {
	f, ok := registry[id]
	if !ok {
		return nil, false
	}
	return f(), true
}

// Names lists the built-in provider ids in sorted order.
func Names() []string {
	out := make([]string, 0, len(registry))
	for id := range registry {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// stringField reads raw[key] as a string. Numbers, which providers use for
// ids, are rendered without exponent or fraction.
func stringField(raw map[string]any, key string) string {
	switch v := raw[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return fmt.Sprintf("%.0f", v)
	case int64:
		return fmt.Sprintf("%d", v)
	case int:
		return fmt.Sprintf("%d", v)
	}
	return ""
}
