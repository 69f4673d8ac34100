package domain

import "time"

// StashedSession bridges the provider callback and the account-connect step.
// Created once per successful callback, read at most once during connect.
// The stash store enforces expiry; the flow never assumes an entry is still
// present.
type StashedSession struct {
	Provider     string           `json:"provider"`
	AccessToken  string           `json:"access_token"`
	RefreshToken string           `json:"refresh_token,omitempty"`
	Profile      CanonicalProfile `json:"profile"`
	Target       string           `json:"target,omitempty"`
	ExpiresAt    time.Time        `json:"expires_at"`
}

// Expired reports whether the session passed its absolute expiry.
func (s StashedSession) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// ProviderTokens is the token pair attached to connect data under the
// provider key, for later API calls on the user's behalf.
type ProviderTokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
}
