package domain

import "time"

// CanonicalProfile is the provider-agnostic user profile used for account
// linking. UniqueID is the durable identity key; it is never overwritten by
// later merges. Raw fields the translator did not map are kept in Extra under
// their original keys.
type CanonicalProfile struct {
	Email    string `json:"email"`
	Photo    string `json:"photo"`
	Name     string `json:"name"`
	FullName string `json:"fullname"`
	UniqueID string `json:"unique_id"`
	Provider string `json:"provider"`

	Extra map[string]any `json:"extra,omitempty"`
}

// LinkOptions tunes account linking behavior.
type LinkOptions struct {
	// SyncExisting fills blank fields of an already-linked account from the
	// incoming profile.
	SyncExisting bool
}

// User is the local account a provider identity links to.
type User struct {
	ID        int64
	Email     string
	Name      string
	FullName  string
	PhotoURL  string
	CreatedAt time.Time
	UpdatedAt time.Time
}
