// Package flow orchestrates the browser SSO handshake and the server-to-server
// API token issuance exchange.
package flow

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ITspirit/vanilla/internal/domain"
	"github.com/ITspirit/vanilla/internal/profile"
	"github.com/ITspirit/vanilla/internal/provider"
	"github.com/ITspirit/vanilla/internal/state"
)

// ProviderStore loads provider registrations.
type ProviderStore interface {
	GetProviderByKey(ctx context.Context, key string) (*domain.ProviderConfig, error)
	GetAllProviders(ctx context.Context) ([]domain.ProviderConfig, error)
}

// StateTokenService issues and single-use-verifies the anti-replay nonce
// carried inside the state blob. Verify is an atomic check-and-invalidate:
// two concurrent verifies of the same token yield exactly one success.
type StateTokenService interface {
	Issue(ctx context.Context, providerKey string) (string, error)
	Verify(ctx context.Context, providerKey, token string) (bool, error)
}

// StashStore holds callback results for the short window until the connect
// step. Reads do not delete; expiry is time-based and store-enforced.
type StashStore interface {
	Put(ctx context.Context, record domain.StashedSession, ttl time.Duration) (string, error)
	GetAndKeep(ctx context.Context, id string) (*domain.StashedSession, error)
}

const (
	// StashTTL bounds the window between callback and connect.
	StashTTL = 5 * time.Minute

	defaultResponseType = "code"
	stateTokenField     = "token"
	stateTargetField    = "target"
)

// CallbackInput carries the provider callback query parameters.
type CallbackInput struct {
	Code             string
	Error            string
	ErrorDescription string
	State            string
	RedirectURI      string
}

// CallbackResult is handed back to the browser redirect toward the connect
// step.
type CallbackResult struct {
	StashID string
	Target  string
}

// ConnectData is the account-connect handoff for the host's linking step.
// Form holds the pending-account fields after the profile merge; Tokens is
// keyed by provider for later API calls. Trusted means the identity arrived
// through a verified provider exchange; the host still applies its own
// account-creation policy.
type ConnectData struct {
	Form    map[string]string
	Profile domain.CanonicalProfile
	Tokens  map[string]domain.ProviderTokens
	Trusted bool
}

// Controller drives the authorize/callback/connect flow for one request at a
// time. All collaborators are injected at construction and the controller is
// immutable thereafter.
type Controller struct {
	providers   ProviderStore
	stateTokens StateTokenService
	stash       StashStore
	exchange    *provider.ExchangeClient
	fetcher     *provider.ProfileFetcher
	logger      *zap.Logger
}

// NewController wires the flow controller.
func NewController(
	providers ProviderStore,
	stateTokens StateTokenService,
	stash StashStore,
	exchange *provider.ExchangeClient,
	fetcher *provider.ProfileFetcher,
	logger *zap.Logger,
) *Controller {
	if logger == nil {
		logger = zap.L()
	}
	return &Controller{
		providers:   providers,
		stateTokens: stateTokens,
		stash:       stash,
		exchange:    exchange,
		fetcher:     fetcher,
		logger:      logger,
	}
}

// AuthorizeURL builds the provider redirect for the given caller state.
// The state parameter carries the caller blob plus a fresh single-use token
// scoped to the provider.
func (c *Controller) AuthorizeURL(ctx context.Context, providerKey, redirectURI string, callerState state.Blob, extra map[string]string) (string, error) {
	cfg, err := c.loadProvider(ctx, providerKey)
	if err != nil {
		return "", err
	}
	if !cfg.Active {
		return "", fmt.Errorf("provider %q: %w", providerKey, domain.ErrInactiveProvider)
	}
	if !cfg.IsConfigured() {
		return "", fmt.Errorf("provider %q: %w", providerKey, domain.ErrConfiguration)
	}

	nonce, err := c.stateTokens.Issue(ctx, cfg.Key)
	if err != nil {
		return "", fmt.Errorf("issue state token: %w", err)
	}

	blob := state.Blob{}
	for k, v := range callerState {
		blob[k] = v
	}
	blob[stateTokenField] = nonce

	encoded, err := state.Encode(blob)
	if err != nil {
		return "", fmt.Errorf("encode state: %w", err)
	}

	authorizeURL, err := url.Parse(cfg.AuthorizeURL)
	if err != nil {
		return "", fmt.Errorf("parse authorize url: %w", err)
	}

	params := authorizeURL.Query()
	params.Set("response_type", defaultResponseType)
	params.Set("client_id", cfg.ClientID)
	params.Set("redirect_uri", redirectURI)
	params.Set("scope", cfg.Scope)
	params.Set("state", encoded)
	if cfg.Prompt != "" {
		// Passed through uninterpreted; providers disagree on legal values.
		params.Set("prompt", cfg.Prompt)
	}
	for k, v := range cfg.AuthorizeParams {
		if strings.TrimSpace(k) != "" && strings.TrimSpace(v) != "" {
			params.Set(k, v)
		}
	}
	for k, v := range extra {
		if strings.TrimSpace(k) != "" && strings.TrimSpace(v) != "" {
			params.Set(k, v)
		}
	}
	authorizeURL.RawQuery = params.Encode()

	return authorizeURL.String(), nil
}

// HandleCallback runs the callback pipeline: validate input, exchange the
// code, fetch and translate the profile, verify the state token, and stash
// the session. The returned stash ID travels to the connect step.
func (c *Controller) HandleCallback(ctx context.Context, providerKey string, in CallbackInput) (*CallbackResult, error) {
	if in.Error != "" {
		message := in.Error
		if in.ErrorDescription != "" {
			message += ": " + in.ErrorDescription
		}
		return nil, fmt.Errorf("%w: %s", domain.ErrProvider, message)
	}
	if strings.TrimSpace(in.Code) == "" {
		return nil, fmt.Errorf("%w: missing code", domain.ErrValidation)
	}

	cfg, err := c.loadProvider(ctx, providerKey)
	if err != nil {
		return nil, err
	}
	if !cfg.Active {
		return nil, fmt.Errorf("provider %q: %w", providerKey, domain.ErrInactiveProvider)
	}

	token, err := c.exchange.Exchange(ctx, *cfg, in.Code, false, in.RedirectURI, nil)
	if err != nil {
		return nil, err
	}

	raw, err := c.fetcher.Fetch(ctx, *cfg, token.AccessToken)
	if err != nil {
		return nil, err
	}
	canonical := profile.Translate(raw, cfg.FieldMapping, cfg.Key)

	blob := state.Decode(in.State)
	nonce := blob.String(stateTokenField)
	ok, err := c.stateTokens.Verify(ctx, cfg.Key, nonce)
	if err != nil {
		return nil, fmt.Errorf("verify state token: %w", err)
	}
	if !ok {
		c.logger.Warn("state token verification failed",
			zap.String("provider", cfg.Key),
			zap.Bool("token_present", nonce != ""),
		)
		return nil, domain.ErrAuthState
	}

	session := domain.StashedSession{
		Provider:     cfg.Key,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		Profile:      canonical,
		Target:       blob.String(stateTargetField),
		ExpiresAt:    time.Now().Add(StashTTL),
	}
	stashID, err := c.stash.Put(ctx, session, StashTTL)
	if err != nil {
		return nil, fmt.Errorf("stash session: %w", err)
	}

	c.logger.Info("sso callback completed",
		zap.String("provider", cfg.Key),
		zap.String("unique_id", canonical.UniqueID),
	)

	return &CallbackResult{StashID: stashID, Target: session.Target}, nil
}

// PrepareConnect reads the stashed session once and merges the profile into
// the host's pending-account form. Profile values fill only blank form
// fields; existing values win.
func (c *Controller) PrepareConnect(ctx context.Context, stashID string, form map[string]string) (*ConnectData, error) {
	if strings.TrimSpace(stashID) == "" {
		return nil, fmt.Errorf("%w: missing stash id", domain.ErrValidation)
	}
	session, err := c.stash.GetAndKeep(ctx, stashID)
	if err != nil {
		return nil, fmt.Errorf("read stash: %w", err)
	}
	if session == nil || session.Expired(time.Now()) {
		return nil, domain.ErrMissingSession
	}

	merged := make(map[string]string, len(form)+5)
	for k, v := range form {
		merged[k] = v
	}
	fillBlank(merged, "Email", session.Profile.Email)
	fillBlank(merged, "Photo", session.Profile.Photo)
	fillBlank(merged, "Name", session.Profile.Name)
	fillBlank(merged, "FullName", session.Profile.FullName)
	fillBlank(merged, "UniqueID", session.Profile.UniqueID)
	fillBlank(merged, "Provider", session.Profile.Provider)

	return &ConnectData{
		Form:    merged,
		Profile: session.Profile,
		Tokens: map[string]domain.ProviderTokens{
			session.Provider: {
				AccessToken:  session.AccessToken,
				RefreshToken: session.RefreshToken,
			},
		},
		Trusted: true,
	}, nil
}

// Refresh trades a refresh token for a new access token. A rotated refresh
// token is persisted through save only when it differs from the current one;
// a save failure falls back to the token on file without aborting the call.
func (c *Controller) Refresh(ctx context.Context, providerKey, refreshToken string, save func(context.Context, string) error) (*provider.TokenResponse, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return nil, fmt.Errorf("%w: missing refresh token", domain.ErrValidation)
	}
	cfg, err := c.loadProvider(ctx, providerKey)
	if err != nil {
		return nil, err
	}

	token, err := c.exchange.Exchange(ctx, *cfg, refreshToken, true, "", nil)
	if err != nil {
		return nil, err
	}

	if token.RefreshToken != "" && token.RefreshToken != refreshToken && save != nil {
		if err := save(ctx, token.RefreshToken); err != nil {
			c.logger.Warn("failed to persist rotated refresh token",
				zap.String("provider", cfg.Key),
				zap.Error(err),
			)
			token.RefreshToken = refreshToken
		}
	}
	return token, nil
}

// ActiveProviders lists providers eligible for the SSO entry points.
func (c *Controller) ActiveProviders(ctx context.Context) ([]domain.ProviderConfig, error) {
	all, err := c.providers.GetAllProviders(ctx)
	if err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}
	active := make([]domain.ProviderConfig, 0, len(all))
	for _, cfg := range all {
		if cfg.Active {
			active = append(active, cfg)
		}
	}
	return active, nil
}

func (c *Controller) loadProvider(ctx context.Context, key string) (*domain.ProviderConfig, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("%w: missing provider", domain.ErrValidation)
	}
	cfg, err := c.providers.GetProviderByKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load provider %q: %w", key, err)
	}
	if cfg == nil {
		return nil, fmt.Errorf("provider %q: %w", key, domain.ErrNotFound)
	}
	return cfg, nil
}

func fillBlank(form map[string]string, key, value string) {
	if strings.TrimSpace(form[key]) == "" && value != "" {
		form[key] = value
	}
}
