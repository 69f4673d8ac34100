package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/ITspirit/vanilla/internal/domain"
	"github.com/ITspirit/vanilla/internal/httpx"
)

// ProfileFetcher performs the authenticated profile call.
type ProfileFetcher struct {
	http   httpx.Requester
	logger *zap.Logger
}

// NewProfileFetcher wires the profile fetcher.
func NewProfileFetcher(requester httpx.Requester, logger *zap.Logger) *ProfileFetcher {
	if logger == nil {
		logger = zap.L()
	}
	return &ProfileFetcher{http: requester, logger: logger}
}

// Fetch retrieves the raw profile for an access token. The token travels as
// an Authorization: Bearer header when the provider is flagged for it, else
// as an access_token query parameter. Never both.
func (f *ProfileFetcher) Fetch(ctx context.Context, cfg domain.ProviderConfig, accessToken string) (map[string]any, error) {
	params := map[string]string{}
	headers := map[string]string{}

	if cfg.BearerToken {
		headers["Authorization"] = "Bearer " + accessToken
	} else {
		params["access_token"] = accessToken
	}
	merge(params, cfg.ProfileParams)
	dropEmpty(params)

	resp, err := f.http.Request(ctx, http.MethodGet, cfg.ProfileURL, params, headers)
	if err != nil {
		return nil, fmt.Errorf("fetch profile: %w", err)
	}

	if !resp.OK() {
		if resp.JSON() {
			var body struct {
				Error            string `json:"error"`
				ErrorDescription string `json:"error_description"`
			}
			if json.Unmarshal(resp.Body, &body) == nil && body.Error != "" {
				f.logger.Warn("provider rejected profile request",
					zap.String("provider", cfg.Key),
					zap.Int("status", resp.Status),
					zap.String("error", body.Error),
				)
				message := body.Error
				if body.ErrorDescription != "" {
					message += ": " + body.ErrorDescription
				}
				return nil, fmt.Errorf("%w: %s", domain.ErrProvider, message)
			}
		}
		return nil, fmt.Errorf("%w: HTTP error %d", domain.ErrServer, resp.Status)
	}

	var raw map[string]any
	if err := json.Unmarshal(resp.Body, &raw); err != nil {
		return nil, fmt.Errorf("%w: malformed profile body", domain.ErrServer)
	}
	return raw, nil
}
