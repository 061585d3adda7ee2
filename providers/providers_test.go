package providers

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoogleMapping(t *testing.T) {
	p, err := Google().MapUserinfo(map[string]any{
		"sub":     "1087",
		"email":   "ada@example.com",
		"name":    "Ada",
		"picture": "https://example.com/ada.png",
	})
	require.NoError(t, err)
	assert.Equal(t, "1087", p.ID)
	assert.Equal(t, "ada@example.com", p.Email)
	assert.Equal(t, "Ada", p.Name)
	assert.Equal(t, "https://example.com/ada.png", p.Image)
}

func TestGitHubNumericID(t *testing.T) {
	cases := []struct {
		name string
		id   any
	}{
		{"float", float64(5839201)},
		{"json number", json.Number("5839201")},
		{"string", "5839201"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := GitHub().MapUserinfo(map[string]any{"id": tc.id, "avatar_url": "https://avatars/1"})
			require.NoError(t, err)
			assert.Equal(t, "5839201", p.ID)
			assert.Empty(t, p.Email)
			assert.Equal(t, "https://avatars/1", p.Image)
		})
	}
}

func TestDiscordAvatarURL(t *testing.T) {
	p, err := Discord().MapUserinfo(map[string]any{"id": "80351110224678912", "username": "nelly", "avatar": "8342729096ea3675442027381ff50dfe"})
	require.NoError(t, err)
	assert.Equal(t, "nelly", p.Name)
	assert.Equal(t, "https://cdn.discordapp.com/avatars/80351110224678912/8342729096ea3675442027381ff50dfe.png", p.Image)

	p, err = Discord().MapUserinfo(map[string]any{"id": "1"})
	require.NoError(t, err)
	assert.Empty(t, p.Image)
}

func TestMissingIDIsRejected(t *testing.T) {
	for _, id := range Names() {
		p, _ := Lookup(id)
		_, err := p.MapUserinfo(map[string]any{"email": "ada@example.com"})
		assert.Error(t, err, id)
	}
}

func TestLookup(t *testing.T) {
	assert.Equal(t, []string{"discord", "github", "google"}, Names())

	a, ok := Lookup("google")
	require.True(t, ok)
	b, _ := Lookup("google")
	a.AuthorizationParams["prompt"] = "none"
	assert.Equal(t, "select_account", b.AuthorizationParams["prompt"], "descriptors are fresh copies")

	_, ok = Lookup("myspace")
	assert.False(t, ok)
}
