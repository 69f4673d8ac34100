package profile_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ITspirit/vanilla/internal/domain"
	"github.com/ITspirit/vanilla/internal/profile"
)

func TestTranslateMapsConfiguredKeys(t *testing.T) {
	raw := map[string]any{
		"sub":    "123",
		"email":  "a@b.com",
		"locale": "en",
	}
	mapping := domain.FieldMapping{UniqueID: "sub", Email: "email"}

	result := profile.Translate(raw, mapping, "keycloak")

	require.Equal(t, "123", result.UniqueID)
	require.Equal(t, "a@b.com", result.Email)
	require.Equal(t, "", result.Photo)
	require.Equal(t, "", result.Name)
	require.Equal(t, "", result.FullName)
	require.Equal(t, "keycloak", result.Provider)
	require.Equal(t, map[string]any{"locale": "en"}, result.Extra)
}

func TestTranslateDefaults(t *testing.T) {
	raw := map[string]any{
		"email":       "user@example.org",
		"picture":     "https://cdn/p.png",
		"displayname": "user",
		"name":        "Full User",
		"user_id":     float64(42),
	}

	result := profile.Translate(raw, domain.FieldMapping{}, "generic")

	require.Equal(t, "user@example.org", result.Email)
	require.Equal(t, "https://cdn/p.png", result.Photo)
	require.Equal(t, "user", result.Name)
	require.Equal(t, "Full User", result.FullName)
	require.Equal(t, "42", result.UniqueID)
	require.Nil(t, result.Extra)
}

func TestTranslateDottedPath(t *testing.T) {
	raw := map[string]any{
		"data": map[string]any{
			"id": "abc",
			"attributes": map[string]any{
				"mail": "nested@example.org",
			},
		},
	}
	mapping := domain.FieldMapping{UniqueID: "data.id", Email: "data.attributes.mail"}

	result := profile.Translate(raw, mapping, "jsonapi")

	require.Equal(t, "abc", result.UniqueID)
	require.Equal(t, "nested@example.org", result.Email)

	// Consumed leaves are removed; the surrounding containers remain.
	data := result.Extra["data"].(map[string]any)
	require.NotContains(t, data, "id")
	require.Empty(t, data["attributes"])
}

func TestTranslateCanonicalValueWinsCollision(t *testing.T) {
	// The provider maps "mail" to Email while also exposing a literal
	// "email" field; the mapped canonical value must not be overwritten.
	raw := map[string]any{
		"mail":  "mapped@example.org",
		"email": "literal@example.org",
	}
	mapping := domain.FieldMapping{Email: "mail"}

	result := profile.Translate(raw, mapping, "exchange")

	require.Equal(t, "mapped@example.org", result.Email)
	require.Equal(t, "literal@example.org", result.Extra["email"])
}

func TestTranslateMissingDottedPath(t *testing.T) {
	raw := map[string]any{"data": "not-a-map"}
	mapping := domain.FieldMapping{UniqueID: "data.id"}

	result := profile.Translate(raw, mapping, "broken")
	require.Equal(t, "", result.UniqueID)
	require.Equal(t, "not-a-map", result.Extra["data"])
}
