// Package provider speaks to external identity providers' token and profile
// endpoints through the HTTP collaborator.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/ITspirit/vanilla/internal/domain"
	"github.com/ITspirit/vanilla/internal/httpx"
)

// TokenResponse is the result of a token-endpoint exchange.
type TokenResponse struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	TokenType        string `json:"token_type"`
	ExpiresIn        int64  `json:"expires_in"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// Failed reports the failure condition: a provider error set, or no access
// token at all. Either alone is enough.
func (t *TokenResponse) Failed() bool {
	return t == nil || t.Error != "" || strings.TrimSpace(t.AccessToken) == ""
}

// ErrorMessage prefers the provider-supplied error pair over a generic text.
func (t *TokenResponse) ErrorMessage() string {
	if t == nil {
		return "empty token response"
	}
	if t.Error != "" {
		if t.ErrorDescription != "" {
			return t.Error + ": " + t.ErrorDescription
		}
		return t.Error
	}
	return "no access token in response"
}

// ExchangeClient performs code-for-token and refresh-for-token exchanges.
type ExchangeClient struct {
	http   httpx.Requester
	logger *zap.Logger
}

// NewExchangeClient wires the exchange client.
func NewExchangeClient(requester httpx.Requester, logger *zap.Logger) *ExchangeClient {
	if logger == nil {
		logger = zap.L()
	}
	return &ExchangeClient{http: requester, logger: logger}
}

// Exchange trades an authorization code (or, with refresh set, a refresh
// token) for an access token. redirectURI must match the one sent on the
// authorize redirect. Extra parameters merge over the computed defaults, and
// empty values are dropped before transmission.
func (c *ExchangeClient) Exchange(ctx context.Context, cfg domain.ProviderConfig, codeOrToken string, refresh bool, redirectURI string, extra map[string]string) (*TokenResponse, error) {
	if !cfg.IsConfigured() {
		return nil, fmt.Errorf("provider %q: %w", cfg.Key, domain.ErrConfiguration)
	}

	var params map[string]string
	if refresh {
		params = map[string]string{
			"refresh_token": codeOrToken,
			"grant_type":    "refresh_token",
		}
	} else {
		params = map[string]string{
			"code":          codeOrToken,
			"client_id":     cfg.ClientID,
			"client_secret": cfg.ClientSecret,
			"redirect_uri":  redirectURI,
			"grant_type":    "authorization_code",
			"scope":         cfg.Scope,
		}
	}
	merge(params, cfg.TokenParams)
	merge(params, extra)
	dropEmpty(params)

	contentType := cfg.ContentType
	if contentType == "" {
		contentType = httpx.ContentTypeForm
	}

	resp, err := c.http.Request(ctx, http.MethodPost, cfg.TokenURL, params, map[string]string{
		"Content-Type": contentType,
	})
	if err != nil {
		return nil, fmt.Errorf("token exchange: %w", err)
	}

	token := parseTokenResponse(resp)

	if !resp.OK() {
		if token.Error != "" {
			c.logger.Warn("provider rejected token exchange",
				zap.String("provider", cfg.Key),
				zap.Int("status", resp.Status),
				zap.String("error", token.Error),
			)
			return nil, fmt.Errorf("%w: %s", domain.ErrProvider, token.ErrorMessage())
		}
		return nil, fmt.Errorf("%w: HTTP error %d", domain.ErrServer, resp.Status)
	}
	if token.Failed() {
		return nil, fmt.Errorf("%w: %s", domain.ErrProvider, token.ErrorMessage())
	}
	return token, nil
}

// parseTokenResponse reads the body as JSON when the provider declares JSON,
// else as a form-encoded pair list (GitHub-style token endpoints).
func parseTokenResponse(resp *httpx.Response) *TokenResponse {
	token := &TokenResponse{}
	if resp.JSON() {
		_ = json.Unmarshal(resp.Body, token)
		return token
	}
	values, err := url.ParseQuery(string(resp.Body))
	if err != nil {
		return token
	}
	token.AccessToken = values.Get("access_token")
	token.RefreshToken = values.Get("refresh_token")
	token.TokenType = values.Get("token_type")
	token.Error = values.Get("error")
	token.ErrorDescription = values.Get("error_description")
	return token
}

func merge(dst, src map[string]string) {
	for k, v := range src {
		dst[k] = v
	}
}

func dropEmpty(params map[string]string) {
	for k, v := range params {
		if strings.TrimSpace(v) == "" {
			delete(params, k)
		}
	}
}
