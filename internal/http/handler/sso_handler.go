package handler

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ITspirit/vanilla/internal/config"
	"github.com/ITspirit/vanilla/internal/domain"
	"github.com/ITspirit/vanilla/internal/flow"
	"github.com/ITspirit/vanilla/internal/state"
)

// SSOHandler exposes the browser SSO flow and the token issuance exchange.
type SSOHandler struct {
	Controller *flow.Controller
	Issuer     *flow.Issuer
	ConnectURL string
	Logger     *zap.Logger
}

// NewSSOHandler creates the handler set.
func NewSSOHandler(cfg config.Config, controller *flow.Controller, issuer *flow.Issuer, logger *zap.Logger) *SSOHandler {
	return &SSOHandler{
		Controller: controller,
		Issuer:     issuer,
		ConnectURL: cfg.ConnectURL,
		Logger:     logger,
	}
}

// ListProviders returns the providers eligible for sign-in.
func (h *SSOHandler) ListProviders(c *gin.Context) {
	providers, err := h.Controller.ActiveProviders(c.Request.Context())
	if err != nil {
		h.respondFlowError(c, err)
		return
	}

	out := make([]gin.H, 0, len(providers))
	for _, p := range providers {
		out = append(out, gin.H{
			"key":          p.Key,
			"display_name": p.DisplayName,
			"icon_url":     p.IconURL,
			"is_default":   p.IsDefault,
		})
	}
	c.JSON(http.StatusOK, gin.H{"providers": out})
}

// Start builds the provider authorization redirect.
func (h *SSOHandler) Start(c *gin.Context) {
	providerKey := c.Param("provider")

	callerState := state.Blob{}
	if target := strings.TrimSpace(c.Query("target")); target != "" {
		callerState["target"] = target
	}

	authorizeURL, err := h.Controller.AuthorizeURL(
		c.Request.Context(),
		providerKey,
		h.callbackURL(c, providerKey),
		callerState,
		nil,
	)
	if err != nil {
		h.respondFlowError(c, err)
		return
	}

	if c.Query("response") == "json" {
		c.JSON(http.StatusOK, gin.H{"authorization_url": authorizeURL})
		return
	}
	c.Redirect(http.StatusFound, authorizeURL)
}

// Callback runs the full callback pipeline and hands the browser off to the
// connect step.
func (h *SSOHandler) Callback(c *gin.Context) {
	providerKey := c.Param("provider")
	input := flow.CallbackInput{
		Code:             c.Query("code"),
		Error:            c.Query("error"),
		ErrorDescription: c.Query("error_description"),
		State:            c.Query("state"),
		RedirectURI:      h.callbackURL(c, providerKey),
	}

	result, err := h.Controller.HandleCallback(c.Request.Context(), providerKey, input)
	if err != nil {
		h.respondFlowError(c, err)
		return
	}

	if h.ConnectURL == "" {
		c.JSON(http.StatusOK, gin.H{"stash": result.StashID, "target": result.Target})
		return
	}

	query := url.Values{}
	query.Set("stash", result.StashID)
	if result.Target != "" {
		query.Set("target", result.Target)
	}
	separator := "?"
	if strings.Contains(h.ConnectURL, "?") {
		separator = "&"
	}
	c.Redirect(http.StatusFound, h.ConnectURL+separator+query.Encode())
}

// Connect merges the stashed profile into the host's pending-account form.
func (h *SSOHandler) Connect(c *gin.Context) {
	stashID := c.Query("stash")

	form := make(map[string]string)
	for key, values := range c.Request.URL.Query() {
		if key == "stash" || len(values) == 0 {
			continue
		}
		form[key] = values[0]
	}

	data, err := h.Controller.PrepareConnect(c.Request.Context(), stashID, form)
	if err != nil {
		h.respondFlowError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"form":    data.Form,
		"profile": data.Profile,
		"tokens":  data.Tokens,
		"trusted": data.Trusted,
	})
}

// Token handles the API token issuance exchange.
func (h *SSOHandler) Token(c *gin.Context) {
	var req struct {
		ClientID    string `form:"client_id" binding:"required"`
		AccessToken string `form:"access_token" binding:"required"`
	}
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "client_id and access_token are required."})
		return
	}

	issued, err := h.Issuer.IssueAccessToken(c.Request.Context(), req.ClientID, req.AccessToken)
	if err != nil {
		h.respondFlowError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"access_token": issued.Token,
		"token_type":   "bearer",
		"expires_at":   issued.ExpiresAt.Unix(),
	})
}

func (h *SSOHandler) callbackURL(c *gin.Context, providerKey string) string {
	return fmt.Sprintf("%s://%s/sso/%s/callback", requestScheme(c.Request), c.Request.Host, providerKey)
}

func (h *SSOHandler) respondFlowError(c *gin.Context, err error) {
	logger := h.Logger
	if logger == nil {
		logger = zap.L()
	}
	switch {
	case errors.Is(err, domain.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": err.Error()})
	case errors.Is(err, domain.ErrClientMismatch):
		logger.Warn("sso client mismatch", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_client", "error_description": "client_id does not match the resolved provider."})
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "error_description": err.Error()})
	case errors.Is(err, domain.ErrAuthState):
		logger.Warn("sso state rejected", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_state", "error_description": "State verification failed."})
	case errors.Is(err, domain.ErrMissingSession):
		c.JSON(http.StatusGone, gin.H{"error": "missing_session", "error_description": "SSO session is missing or expired."})
	case errors.Is(err, domain.ErrForbidden):
		logger.Warn("sso access rejected", zap.Error(err))
		c.JSON(http.StatusForbidden, gin.H{"error": "access_denied", "error_description": "Access token could not be verified."})
	case errors.Is(err, domain.ErrTokenIssuanceDisallowed):
		c.JSON(http.StatusForbidden, gin.H{"error": "access_denied", "error_description": "Provider does not allow API token issuance."})
	case errors.Is(err, domain.ErrInactiveProvider):
		c.JSON(http.StatusForbidden, gin.H{"error": "provider_inactive", "error_description": "Provider is not active."})
	case errors.Is(err, domain.ErrProvider):
		logger.Warn("provider rejected request", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "provider_error", "error_description": err.Error()})
	case errors.Is(err, domain.ErrTransport), errors.Is(err, domain.ErrServer):
		logger.Error("provider unreachable", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "server_error", "error_description": "Upstream provider request failed."})
	case errors.Is(err, domain.ErrConfiguration):
		logger.Error("provider misconfigured", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "error_description": "Provider is not configured."})
	default:
		logger.Error("sso failure", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "error_description": "Internal server error."})
	}
}

func requestScheme(r *http.Request) string {
	scheme := r.Header.Get("X-Forwarded-Proto")
	if scheme == "" {
		if r.TLS != nil {
			scheme = "https"
		} else {
			scheme = "http"
		}
	}
	return scheme
}
