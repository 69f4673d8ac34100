package domain

import (
	"strings"
	"time"
)

// FieldMapping names the raw profile keys a provider uses for the canonical
// profile fields. Empty entries fall back to the protocol defaults.
type FieldMapping struct {
	Email    string `json:"email"`
	Photo    string `json:"photo"`
	Name     string `json:"name"`
	FullName string `json:"fullname"`
	UniqueID string `json:"uniqueid"`
}

// Protocol-default profile keys, used when the admin leaves a mapping blank.
const (
	DefaultEmailKey    = "email"
	DefaultPhotoKey    = "picture"
	DefaultNameKey     = "displayname"
	DefaultFullNameKey = "name"
	DefaultUniqueIDKey = "user_id"
)

func (m FieldMapping) EmailKey() string    { return coalesce(m.Email, DefaultEmailKey) }
func (m FieldMapping) PhotoKey() string    { return coalesce(m.Photo, DefaultPhotoKey) }
func (m FieldMapping) NameKey() string     { return coalesce(m.Name, DefaultNameKey) }
func (m FieldMapping) FullNameKey() string { return coalesce(m.FullName, DefaultFullNameKey) }
func (m FieldMapping) UniqueIDKey() string { return coalesce(m.UniqueID, DefaultUniqueIDKey) }

// ProviderConfig is the registration of one external identity provider.
// Owned by the config store; the flow engine only reads it.
type ProviderConfig struct {
	ID           int64
	Key          string
	DisplayName  string
	IconURL      string
	AuthorizeURL string
	TokenURL     string
	ProfileURL   string
	ClientID     string
	ClientSecret string
	Scope        string
	Prompt       string
	FieldMapping FieldMapping

	// Extension points. Extra request parameters a provider needs beyond
	// the protocol set, merged into the respective outbound request.
	AuthorizeParams map[string]string
	TokenParams     map[string]string
	ProfileParams   map[string]string

	// ContentType overrides the token-request encoding. Defaults to
	// application/x-www-form-urlencoded when empty.
	ContentType string

	Active            bool
	IsDefault         bool
	BearerToken       bool
	AllowAccessTokens bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsConfigured reports whether the provider carries usable credentials.
func (p ProviderConfig) IsConfigured() bool {
	return strings.TrimSpace(p.ClientID) != "" && strings.TrimSpace(p.ClientSecret) != ""
}

func coalesce(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
