package domain

import "errors"

// Failure taxonomy for the SSO flow. Callers classify with errors.Is; the
// HTTP layer maps each class to a status code without leaking provider
// secrets or tokens.
var (
	// ErrConfiguration marks a provider missing its client ID or secret.
	ErrConfiguration = errors.New("provider not configured")

	// ErrTransport marks a network-level failure or timeout.
	ErrTransport = errors.New("provider unreachable")

	// ErrProvider marks a structured error returned by the provider.
	ErrProvider = errors.New("provider error")

	// ErrServer marks a non-2xx provider response with no parseable error body.
	ErrServer = errors.New("provider server error")

	// ErrValidation marks malformed callback input, e.g. a missing code.
	ErrValidation = errors.New("invalid request")

	// ErrAuthState marks a state-token verification failure. Treated as a
	// security event and logged distinctly from ordinary validation errors.
	ErrAuthState = errors.New("invalid or replayed state")

	// ErrMissingSession marks an absent or expired stash entry.
	ErrMissingSession = errors.New("session missing or expired")

	// ErrClientMismatch marks a client ID that does not match the resolved
	// provider's own configured client ID.
	ErrClientMismatch = errors.New("client id mismatch")

	// ErrInactiveProvider marks an operation against a disabled provider.
	ErrInactiveProvider = errors.New("provider inactive")

	// ErrTokenIssuanceDisallowed marks a provider without access-token
	// issuance enabled.
	ErrTokenIssuanceDisallowed = errors.New("access token issuance disabled")

	// ErrForbidden marks an OAuth access token the provider rejected.
	ErrForbidden = errors.New("access token rejected")

	// ErrNotFound marks an unresolvable lookup, e.g. an unregistered client ID.
	ErrNotFound = errors.New("not found")
)
