package flow_test

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ITspirit/vanilla/internal/domain"
	"github.com/ITspirit/vanilla/internal/flow"
	"github.com/ITspirit/vanilla/internal/httpx"
	"github.com/ITspirit/vanilla/internal/provider"
	"github.com/ITspirit/vanilla/internal/state"
)

type memoryProviderStore struct {
	configs map[string]domain.ProviderConfig
	err     error
}

func (m *memoryProviderStore) GetProviderByKey(ctx context.Context, key string) (*domain.ProviderConfig, error) {
	if m.err != nil {
		return nil, m.err
	}
	cfg, ok := m.configs[key]
	if !ok {
		return nil, nil
	}
	return &cfg, nil
}

func (m *memoryProviderStore) GetAllProviders(ctx context.Context) ([]domain.ProviderConfig, error) {
	if m.err != nil {
		return nil, m.err
	}
	all := make([]domain.ProviderConfig, 0, len(m.configs))
	for _, cfg := range m.configs {
		all = append(all, cfg)
	}
	return all, nil
}

type memoryStateTokens struct {
	issued map[string]string
	verify bool
	err    error
}

func (m *memoryStateTokens) Issue(ctx context.Context, providerKey string) (string, error) {
	if m.issued == nil {
		m.issued = map[string]string{}
	}
	token := fmt.Sprintf("nonce-%s-%d", providerKey, len(m.issued))
	m.issued[providerKey] = token
	return token, nil
}

func (m *memoryStateTokens) Verify(ctx context.Context, providerKey, token string) (bool, error) {
	return m.verify, m.err
}

type memoryStash struct {
	records map[string]domain.StashedSession
	nextID  int
}

func (m *memoryStash) Put(ctx context.Context, record domain.StashedSession, ttl time.Duration) (string, error) {
	if m.records == nil {
		m.records = map[string]domain.StashedSession{}
	}
	m.nextID++
	id := fmt.Sprintf("stash-%d", m.nextID)
	m.records[id] = record
	return id, nil
}

func (m *memoryStash) GetAndKeep(ctx context.Context, id string) (*domain.StashedSession, error) {
	record, ok := m.records[id]
	if !ok {
		return nil, nil
	}
	return &record, nil
}

type scriptedRequester struct {
	responses []*httpx.Response
	errs      []error
	calls     int
}

func (s *scriptedRequester) Request(ctx context.Context, method, rawURL string, params map[string]string, headers map[string]string) (*httpx.Response, error) {
	idx := s.calls
	s.calls++
	var err error
	if idx < len(s.errs) {
		err = s.errs[idx]
	}
	if err != nil {
		return nil, err
	}
	if idx < len(s.responses) {
		return s.responses[idx], nil
	}
	return &httpx.Response{Status: 500}, nil
}

func activeProvider() domain.ProviderConfig {
	return domain.ProviderConfig{
		ID:           1,
		Key:          "acme",
		AuthorizeURL: "https://idp.acme.test/authorize",
		TokenURL:     "https://idp.acme.test/token",
		ProfileURL:   "https://idp.acme.test/me",
		ClientID:     "client-1",
		ClientSecret: "secret-1",
		Scope:        "openid profile",
		Active:       true,
		FieldMapping: domain.FieldMapping{UniqueID: "sub", Email: "email"},
	}
}

func newController(store *memoryProviderStore, tokens *memoryStateTokens, stash *memoryStash, requester httpx.Requester) *flow.Controller {
	logger := zap.NewNop()
	return flow.NewController(
		store,
		tokens,
		stash,
		provider.NewExchangeClient(requester, logger),
		provider.NewProfileFetcher(requester, logger),
		logger,
	)
}

func TestAuthorizeURL(t *testing.T) {
	store := &memoryProviderStore{configs: map[string]domain.ProviderConfig{"acme": activeProvider()}}
	tokens := &memoryStateTokens{}
	controller := newController(store, tokens, &memoryStash{}, &scriptedRequester{})

	raw, err := controller.AuthorizeURL(context.Background(), "acme", "https://app.test/callback", state.Blob{"target": "/home"}, nil)
	require.NoError(t, err)

	parsed, err := url.Parse(raw)
	require.NoError(t, err)
	query := parsed.Query()
	require.Equal(t, "code", query.Get("response_type"))
	require.Equal(t, "client-1", query.Get("client_id"))
	require.Equal(t, "https://app.test/callback", query.Get("redirect_uri"))
	require.Equal(t, "openid profile", query.Get("scope"))
	require.Empty(t, query.Get("prompt"))

	blob := state.Decode(query.Get("state"))
	require.Equal(t, "/home", blob.String("target"))
	require.Equal(t, tokens.issued["acme"], blob.String("token"))
}

func TestAuthorizeURLPromptAndExtras(t *testing.T) {
	cfg := activeProvider()
	cfg.Prompt = "consent"
	cfg.AuthorizeParams = map[string]string{"access_type": "offline"}
	store := &memoryProviderStore{configs: map[string]domain.ProviderConfig{"acme": cfg}}
	controller := newController(store, &memoryStateTokens{}, &memoryStash{}, &scriptedRequester{})

	raw, err := controller.AuthorizeURL(context.Background(), "acme", "https://app.test/cb", nil, map[string]string{"login_hint": "a@b.com"})
	require.NoError(t, err)

	query, _ := url.Parse(raw)
	require.Equal(t, "consent", query.Query().Get("prompt"))
	require.Equal(t, "offline", query.Query().Get("access_type"))
	require.Equal(t, "a@b.com", query.Query().Get("login_hint"))
}

func TestAuthorizeURLInactiveProvider(t *testing.T) {
	cfg := activeProvider()
	cfg.Active = false
	store := &memoryProviderStore{configs: map[string]domain.ProviderConfig{"acme": cfg}}
	controller := newController(store, &memoryStateTokens{}, &memoryStash{}, &scriptedRequester{})

	_, err := controller.AuthorizeURL(context.Background(), "acme", "https://app.test/cb", nil, nil)
	require.ErrorIs(t, err, domain.ErrInactiveProvider)
}

func TestAuthorizeURLUnknownProvider(t *testing.T) {
	store := &memoryProviderStore{configs: map[string]domain.ProviderConfig{}}
	controller := newController(store, &memoryStateTokens{}, &memoryStash{}, &scriptedRequester{})

	_, err := controller.AuthorizeURL(context.Background(), "ghost", "https://app.test/cb", nil, nil)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func validState(t *testing.T, token string) string {
	t.Helper()
	encoded, err := state.Encode(state.Blob{"token": token, "target": "/discussions"})
	require.NoError(t, err)
	return encoded
}

func TestHandleCallbackSuccess(t *testing.T) {
	store := &memoryProviderStore{configs: map[string]domain.ProviderConfig{"acme": activeProvider()}}
	stash := &memoryStash{}
	requester := &scriptedRequester{responses: []*httpx.Response{
		{Status: 200, ContentType: "application/json", Body: []byte(`{"access_token":"at-1","refresh_token":"rt-1"}`)},
		{Status: 200, ContentType: "application/json", Body: []byte(`{"sub":"u-1","email":"a@b.com","locale":"en"}`)},
	}}
	controller := newController(store, &memoryStateTokens{verify: true}, stash, requester)

	result, err := controller.HandleCallback(context.Background(), "acme", flow.CallbackInput{
		Code:        "code-1",
		State:       validState(t, "nonce"),
		RedirectURI: "https://app.test/callback",
	})
	require.NoError(t, err)
	require.NotEmpty(t, result.StashID)
	require.Equal(t, "/discussions", result.Target)

	session := stash.records[result.StashID]
	require.Equal(t, "at-1", session.AccessToken)
	require.Equal(t, "rt-1", session.RefreshToken)
	require.Equal(t, "u-1", session.Profile.UniqueID)
	require.Equal(t, "a@b.com", session.Profile.Email)
	require.Equal(t, "acme", session.Profile.Provider)
	require.Equal(t, "en", session.Profile.Extra["locale"])
	require.WithinDuration(t, time.Now().Add(flow.StashTTL), session.ExpiresAt, 2*time.Second)
}

func TestHandleCallbackProviderError(t *testing.T) {
	store := &memoryProviderStore{configs: map[string]domain.ProviderConfig{"acme": activeProvider()}}
	controller := newController(store, &memoryStateTokens{verify: true}, &memoryStash{}, &scriptedRequester{})

	_, err := controller.HandleCallback(context.Background(), "acme", flow.CallbackInput{
		Error:            "access_denied",
		ErrorDescription: "user cancelled",
	})
	require.ErrorIs(t, err, domain.ErrProvider)
	require.Contains(t, err.Error(), "access_denied")
}

func TestHandleCallbackMissingCode(t *testing.T) {
	store := &memoryProviderStore{configs: map[string]domain.ProviderConfig{"acme": activeProvider()}}
	controller := newController(store, &memoryStateTokens{verify: true}, &memoryStash{}, &scriptedRequester{})

	_, err := controller.HandleCallback(context.Background(), "acme", flow.CallbackInput{Code: "  "})
	require.ErrorIs(t, err, domain.ErrValidation)
	require.Contains(t, err.Error(), "missing code")
}

func TestHandleCallbackTokenErrorIsProviderError(t *testing.T) {
	store := &memoryProviderStore{configs: map[string]domain.ProviderConfig{"acme": activeProvider()}}
	requester := &scriptedRequester{responses: []*httpx.Response{
		{Status: 400, ContentType: "application/json", Body: []byte(`{"error":"invalid_grant"}`)},
	}}
	controller := newController(store, &memoryStateTokens{verify: true}, &memoryStash{}, requester)

	_, err := controller.HandleCallback(context.Background(), "acme", flow.CallbackInput{
		Code:  "code",
		State: validState(t, "nonce"),
	})
	require.ErrorIs(t, err, domain.ErrProvider)
	require.NotErrorIs(t, err, domain.ErrTransport)
}

func TestHandleCallbackStateVerifyFails(t *testing.T) {
	store := &memoryProviderStore{configs: map[string]domain.ProviderConfig{"acme": activeProvider()}}
	requester := &scriptedRequester{responses: []*httpx.Response{
		{Status: 200, ContentType: "application/json", Body: []byte(`{"access_token":"at-1"}`)},
		{Status: 200, ContentType: "application/json", Body: []byte(`{"sub":"u-1"}`)},
	}}
	controller := newController(store, &memoryStateTokens{verify: false}, &memoryStash{}, requester)

	_, err := controller.HandleCallback(context.Background(), "acme", flow.CallbackInput{
		Code:  "code",
		State: validState(t, "replayed"),
	})
	require.ErrorIs(t, err, domain.ErrAuthState)
}

func TestHandleCallbackMalformedStateFailsVerification(t *testing.T) {
	// Garbage state decodes to an empty blob; the missing token field is an
	// authentication failure, not a crash.
	store := &memoryProviderStore{configs: map[string]domain.ProviderConfig{"acme": activeProvider()}}
	requester := &scriptedRequester{responses: []*httpx.Response{
		{Status: 200, ContentType: "application/json", Body: []byte(`{"access_token":"at-1"}`)},
		{Status: 200, ContentType: "application/json", Body: []byte(`{"sub":"u-1"}`)},
	}}
	controller := newController(store, &memoryStateTokens{verify: false}, &memoryStash{}, requester)

	_, err := controller.HandleCallback(context.Background(), "acme", flow.CallbackInput{
		Code:  "code",
		State: "!!!not-state!!!",
	})
	require.ErrorIs(t, err, domain.ErrAuthState)
}

func TestPrepareConnectMergesBlankFieldsOnly(t *testing.T) {
	stash := &memoryStash{records: map[string]domain.StashedSession{
		"stash-1": {
			Provider:     "acme",
			AccessToken:  "at-1",
			RefreshToken: "rt-1",
			Profile: domain.CanonicalProfile{
				Email:    "sso@example.org",
				Name:     "ssoname",
				UniqueID: "u-1",
				Provider: "acme",
			},
			ExpiresAt: time.Now().Add(time.Minute),
		},
	}}
	controller := newController(&memoryProviderStore{}, &memoryStateTokens{}, stash, &scriptedRequester{})

	data, err := controller.PrepareConnect(context.Background(), "stash-1", map[string]string{
		"Name":  "existing",
		"Email": "",
	})
	require.NoError(t, err)
	require.True(t, data.Trusted)
	require.Equal(t, "existing", data.Form["Name"])
	require.Equal(t, "sso@example.org", data.Form["Email"])
	require.Equal(t, "u-1", data.Form["UniqueID"])
	require.Equal(t, domain.ProviderTokens{AccessToken: "at-1", RefreshToken: "rt-1"}, data.Tokens["acme"])
}

func TestPrepareConnectMissingSession(t *testing.T) {
	controller := newController(&memoryProviderStore{}, &memoryStateTokens{}, &memoryStash{}, &scriptedRequester{})

	_, err := controller.PrepareConnect(context.Background(), "ghost", nil)
	require.ErrorIs(t, err, domain.ErrMissingSession)
}

func TestPrepareConnectExpiredSession(t *testing.T) {
	stash := &memoryStash{records: map[string]domain.StashedSession{
		"stash-1": {Provider: "acme", ExpiresAt: time.Now().Add(-time.Second)},
	}}
	controller := newController(&memoryProviderStore{}, &memoryStateTokens{}, stash, &scriptedRequester{})

	_, err := controller.PrepareConnect(context.Background(), "stash-1", nil)
	require.ErrorIs(t, err, domain.ErrMissingSession)
}

func TestRefreshPersistsRotatedToken(t *testing.T) {
	store := &memoryProviderStore{configs: map[string]domain.ProviderConfig{"acme": activeProvider()}}
	requester := &scriptedRequester{responses: []*httpx.Response{
		{Status: 200, ContentType: "application/json", Body: []byte(`{"access_token":"at-2","refresh_token":"rt-2"}`)},
	}}
	controller := newController(store, &memoryStateTokens{}, &memoryStash{}, requester)

	var saved string
	token, err := controller.Refresh(context.Background(), "acme", "rt-1", func(ctx context.Context, next string) error {
		saved = next
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, "at-2", token.AccessToken)
	require.Equal(t, "rt-2", saved)
}

func TestRefreshSameTokenNotPersisted(t *testing.T) {
	store := &memoryProviderStore{configs: map[string]domain.ProviderConfig{"acme": activeProvider()}}
	requester := &scriptedRequester{responses: []*httpx.Response{
		{Status: 200, ContentType: "application/json", Body: []byte(`{"access_token":"at-2","refresh_token":"rt-1"}`)},
	}}
	controller := newController(store, &memoryStateTokens{}, &memoryStash{}, requester)

	called := false
	_, err := controller.Refresh(context.Background(), "acme", "rt-1", func(ctx context.Context, next string) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	require.False(t, called)
}

func TestRefreshSaveFailureFallsBack(t *testing.T) {
	store := &memoryProviderStore{configs: map[string]domain.ProviderConfig{"acme": activeProvider()}}
	requester := &scriptedRequester{responses: []*httpx.Response{
		{Status: 200, ContentType: "application/json", Body: []byte(`{"access_token":"at-2","refresh_token":"rt-2"}`)},
	}}
	controller := newController(store, &memoryStateTokens{}, &memoryStash{}, requester)

	token, err := controller.Refresh(context.Background(), "acme", "rt-1", func(ctx context.Context, next string) error {
		return errors.New("db unavailable")
	})
	require.NoError(t, err)
	require.Equal(t, "at-2", token.AccessToken)
	require.Equal(t, "rt-1", token.RefreshToken)
}

func TestActiveProviders(t *testing.T) {
	inactive := activeProvider()
	inactive.Key = "dormant"
	inactive.Active = false
	store := &memoryProviderStore{configs: map[string]domain.ProviderConfig{
		"acme":    activeProvider(),
		"dormant": inactive,
	}}
	controller := newController(store, &memoryStateTokens{}, &memoryStash{}, &scriptedRequester{})

	active, err := controller.ActiveProviders(context.Background())
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, "acme", active[0].Key)
}
