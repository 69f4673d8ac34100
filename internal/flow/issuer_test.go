package flow_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ITspirit/vanilla/internal/domain"
	"github.com/ITspirit/vanilla/internal/flow"
	"github.com/ITspirit/vanilla/internal/httpx"
	"github.com/ITspirit/vanilla/internal/provider"
)

type memoryCache struct {
	entries map[string]string
	stores  int
}

func (m *memoryCache) Get(key string) (string, bool) {
	value, ok := m.entries[key]
	return value, ok
}

func (m *memoryCache) Store(key, value string, ttl time.Duration) {
	if m.entries == nil {
		m.entries = map[string]string{}
	}
	m.entries[key] = value
	m.stores++
}

type memoryLinker struct {
	userID   int64
	err      error
	uniqueID string
	provider string
	opts     domain.LinkOptions
}

func (m *memoryLinker) Connect(ctx context.Context, uniqueID, providerKey string, p domain.CanonicalProfile, opts domain.LinkOptions) (int64, error) {
	m.uniqueID = uniqueID
	m.provider = providerKey
	m.opts = opts
	if m.err != nil {
		return 0, m.err
	}
	return m.userID, nil
}

type memoryTokenIssuer struct {
	token     string
	userID    int64
	expiresAt time.Time
}

func (m *memoryTokenIssuer) Issue(ctx context.Context, userID int64, expiresAt time.Time, claims map[string]any) (string, error) {
	m.userID = userID
	m.expiresAt = expiresAt
	return m.token, nil
}

func issuableProvider() domain.ProviderConfig {
	cfg := activeProvider()
	cfg.AllowAccessTokens = true
	return cfg
}

func newIssuer(store *memoryProviderStore, cache flow.Cache, requester httpx.Requester, linker flow.AccountLinker, tokens flow.TokenIssuer) *flow.Issuer {
	logger := zap.NewNop()
	return flow.NewIssuer(store, cache, provider.NewProfileFetcher(requester, logger), linker, tokens, logger)
}

func TestResolveProviderKeyCachesHit(t *testing.T) {
	store := &memoryProviderStore{configs: map[string]domain.ProviderConfig{"acme": issuableProvider()}}
	cache := &memoryCache{}
	issuer := newIssuer(store, cache, &scriptedRequester{}, &memoryLinker{}, &memoryTokenIssuer{})

	key, err := issuer.ResolveProviderKey(context.Background(), "client-1")
	require.NoError(t, err)
	require.Equal(t, "acme", key)
	require.Equal(t, 1, cache.stores)

	// Second resolution is served from cache even if the store breaks.
	store.err = context.DeadlineExceeded
	key, err = issuer.ResolveProviderKey(context.Background(), "client-1")
	require.NoError(t, err)
	require.Equal(t, "acme", key)
}

func TestResolveProviderKeyNotFoundDoesNotPoisonCache(t *testing.T) {
	store := &memoryProviderStore{configs: map[string]domain.ProviderConfig{"acme": issuableProvider()}}
	cache := &memoryCache{}
	issuer := newIssuer(store, cache, &scriptedRequester{}, &memoryLinker{}, &memoryTokenIssuer{})

	_, err := issuer.ResolveProviderKey(context.Background(), "unknown-client")
	require.ErrorIs(t, err, domain.ErrNotFound)
	require.Zero(t, cache.stores)

	// Registering the client later must resolve without a stale negative.
	cfg := issuableProvider()
	cfg.Key = "beta"
	cfg.ClientID = "unknown-client"
	store.configs["beta"] = cfg

	key, err := issuer.ResolveProviderKey(context.Background(), "unknown-client")
	require.NoError(t, err)
	require.Equal(t, "beta", key)
}

func TestIssueAccessToken(t *testing.T) {
	store := &memoryProviderStore{configs: map[string]domain.ProviderConfig{"acme": issuableProvider()}}
	requester := &scriptedRequester{responses: []*httpx.Response{
		{Status: 200, ContentType: "application/json", Body: []byte(`{"sub":"u-9","email":"a@b.com"}`)},
	}}
	linker := &memoryLinker{userID: 42}
	tokens := &memoryTokenIssuer{token: "api-token"}
	issuer := newIssuer(store, &memoryCache{}, requester, linker, tokens)

	issued, err := issuer.IssueAccessToken(context.Background(), "client-1", "oauth-at")
	require.NoError(t, err)
	require.Equal(t, "api-token", issued.Token)
	require.Equal(t, int64(42), issued.UserID)
	require.WithinDuration(t, time.Now().Add(flow.APITokenTTL), issued.ExpiresAt, 2*time.Second)

	require.Equal(t, "u-9", linker.uniqueID)
	require.Equal(t, "acme", linker.provider)
	require.True(t, linker.opts.SyncExisting)
	require.Equal(t, int64(42), tokens.userID)
}

func TestIssueAccessTokenClientMismatch(t *testing.T) {
	// The cache maps the client ID to a provider whose config has since been
	// rotated to a different client ID; issuance must fail closed.
	store := &memoryProviderStore{configs: map[string]domain.ProviderConfig{"acme": issuableProvider()}}
	cache := &memoryCache{entries: map[string]string{"sso:clientid:old-client": "acme"}}
	issuer := newIssuer(store, cache, &scriptedRequester{}, &memoryLinker{}, &memoryTokenIssuer{})

	_, err := issuer.IssueAccessToken(context.Background(), "old-client", "oauth-at")
	require.ErrorIs(t, err, domain.ErrClientMismatch)
}

func TestIssueAccessTokenGateChecks(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*domain.ProviderConfig)
		wantErr error
	}{
		{"unconfigured", func(cfg *domain.ProviderConfig) { cfg.ClientSecret = "" }, domain.ErrConfiguration},
		{"inactive", func(cfg *domain.ProviderConfig) { cfg.Active = false }, domain.ErrInactiveProvider},
		{"issuance disabled", func(cfg *domain.ProviderConfig) { cfg.AllowAccessTokens = false }, domain.ErrTokenIssuanceDisallowed},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := issuableProvider()
			tc.mutate(&cfg)
			store := &memoryProviderStore{configs: map[string]domain.ProviderConfig{"acme": cfg}}
			issuer := newIssuer(store, &memoryCache{}, &scriptedRequester{}, &memoryLinker{}, &memoryTokenIssuer{})

			_, err := issuer.IssueAccessToken(context.Background(), "client-1", "oauth-at")
			require.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestIssueAccessTokenInvalidOAuthTokenIsForbidden(t *testing.T) {
	store := &memoryProviderStore{configs: map[string]domain.ProviderConfig{"acme": issuableProvider()}}
	requester := &scriptedRequester{responses: []*httpx.Response{
		{Status: 401, ContentType: "application/json", Body: []byte(`{"error":"invalid_token"}`)},
	}}
	issuer := newIssuer(store, &memoryCache{}, requester, &memoryLinker{}, &memoryTokenIssuer{})

	_, err := issuer.IssueAccessToken(context.Background(), "client-1", "bad-token")
	require.ErrorIs(t, err, domain.ErrForbidden)
	require.NotErrorIs(t, err, domain.ErrServer)
}
