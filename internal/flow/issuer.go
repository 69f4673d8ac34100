package flow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ITspirit/vanilla/internal/domain"
	"github.com/ITspirit/vanilla/internal/profile"
	"github.com/ITspirit/vanilla/internal/provider"
)

// Cache accelerates client-ID resolution. Best effort only: a miss or stale
// entry means a slower correct lookup, never a wrong provider match.
type Cache interface {
	Get(key string) (string, bool)
	Store(key, value string, ttl time.Duration)
}

// AccountLinker connects a provider identity to a local account. Keyed by
// the profile's UniqueID; a caller-supplied local user ID is never trusted.
type AccountLinker interface {
	Connect(ctx context.Context, uniqueID, providerKey string, p domain.CanonicalProfile, opts domain.LinkOptions) (int64, error)
}

// TokenIssuer mints local API tokens.
type TokenIssuer interface {
	Issue(ctx context.Context, userID int64, expiresAt time.Time, claims map[string]any) (string, error)
}

const (
	// ClientIDCacheTTL bounds how long a client-ID→provider mapping is reused.
	ClientIDCacheTTL = 5 * time.Minute

	// APITokenTTL is the fixed lifetime of issued local API tokens.
	APITokenTTL = 24 * time.Hour

	clientIDCachePrefix = "sso:clientid:"
)

// IssuedToken is the result of the API token exchange.
type IssuedToken struct {
	Token     string    `json:"access_token"`
	ExpiresAt time.Time `json:"expires_at"`
	UserID    int64     `json:"-"`
}

// Issuer resolves OAuth client IDs to providers and trades provider access
// tokens for local API tokens. Same profile-translation and account-linking
// path as the browser flow, so both produce identical identity semantics.
type Issuer struct {
	providers ProviderStore
	cache     Cache
	fetcher   *provider.ProfileFetcher
	linker    AccountLinker
	tokens    TokenIssuer
	logger    *zap.Logger
}

// NewIssuer wires the access token issuer.
func NewIssuer(
	providers ProviderStore,
	cache Cache,
	fetcher *provider.ProfileFetcher,
	linker AccountLinker,
	tokens TokenIssuer,
	logger *zap.Logger,
) *Issuer {
	if logger == nil {
		logger = zap.L()
	}
	return &Issuer{
		providers: providers,
		cache:     cache,
		fetcher:   fetcher,
		linker:    linker,
		tokens:    tokens,
		logger:    logger,
	}
}

// ResolveProviderKey finds the provider that owns clientID. Hits are cached
// for ClientIDCacheTTL; a failed resolution is never cached.
func (i *Issuer) ResolveProviderKey(ctx context.Context, clientID string) (string, error) {
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return "", fmt.Errorf("%w: missing client_id", domain.ErrValidation)
	}

	cacheKey := clientIDCachePrefix + clientID
	if i.cache != nil {
		if key, ok := i.cache.Get(cacheKey); ok {
			return key, nil
		}
	}

	all, err := i.providers.GetAllProviders(ctx)
	if err != nil {
		return "", fmt.Errorf("scan providers: %w", err)
	}
	for _, cfg := range all {
		if cfg.ClientID == clientID {
			if i.cache != nil {
				i.cache.Store(cacheKey, cfg.Key, ClientIDCacheTTL)
			}
			return cfg.Key, nil
		}
	}
	return "", fmt.Errorf("client id %q: %w", clientID, domain.ErrNotFound)
}

// IssueAccessToken re-validates the OAuth access token against the provider
// and issues a local API token with a fixed 24-hour expiry.
func (i *Issuer) IssueAccessToken(ctx context.Context, clientID, oauthAccessToken string) (*IssuedToken, error) {
	if strings.TrimSpace(oauthAccessToken) == "" {
		return nil, fmt.Errorf("%w: missing access_token", domain.ErrValidation)
	}

	providerKey, err := i.ResolveProviderKey(ctx, clientID)
	if err != nil {
		return nil, err
	}
	cfg, err := i.providers.GetProviderByKey(ctx, providerKey)
	if err != nil {
		return nil, fmt.Errorf("load provider %q: %w", providerKey, err)
	}
	if cfg == nil {
		return nil, fmt.Errorf("provider %q: %w", providerKey, domain.ErrNotFound)
	}

	if cfg.ClientID != strings.TrimSpace(clientID) {
		return nil, fmt.Errorf("provider %q: %w", providerKey, domain.ErrClientMismatch)
	}
	if !cfg.IsConfigured() {
		return nil, fmt.Errorf("provider %q: %w", providerKey, domain.ErrConfiguration)
	}
	if !cfg.Active {
		return nil, fmt.Errorf("provider %q: %w", providerKey, domain.ErrInactiveProvider)
	}
	if !cfg.AllowAccessTokens {
		return nil, fmt.Errorf("provider %q: %w", providerKey, domain.ErrTokenIssuanceDisallowed)
	}

	raw, err := i.fetcher.Fetch(ctx, *cfg, oauthAccessToken)
	if err != nil {
		// An invalid OAuth token must surface as forbidden, not as a
		// generic server failure.
		return nil, fmt.Errorf("%w: %v", domain.ErrForbidden, err)
	}
	canonical := profile.Translate(raw, cfg.FieldMapping, cfg.Key)
	if canonical.UniqueID == "" {
		return nil, fmt.Errorf("%w: profile missing unique id", domain.ErrForbidden)
	}

	userID, err := i.linker.Connect(ctx, canonical.UniqueID, cfg.Key, canonical, domain.LinkOptions{SyncExisting: true})
	if err != nil {
		return nil, fmt.Errorf("link account: %w", err)
	}

	expiresAt := time.Now().Add(APITokenTTL)
	token, err := i.tokens.Issue(ctx, userID, expiresAt, map[string]any{
		"provider":  cfg.Key,
		"client_id": cfg.ClientID,
	})
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}

	i.logger.Info("api token issued",
		zap.String("provider", cfg.Key),
		zap.Int64("user_id", userID),
	)

	return &IssuedToken{Token: token, ExpiresAt: expiresAt, UserID: userID}, nil
}
