// Package httpx is the outbound HTTP collaborator for provider endpoints.
// The flow engine depends only on the Requester shape; retry policy, if any,
// belongs to the implementation behind it.
package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ITspirit/vanilla/internal/domain"
)

// ContentTypeForm is the default token-request encoding.
const ContentTypeForm = "application/x-www-form-urlencoded"

// Response is the transport-agnostic result of a provider call.
type Response struct {
	Status      int
	ContentType string
	Body        []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r != nil && r.Status >= 200 && r.Status < 300
}

// JSON reports whether the provider declared a JSON body.
func (r *Response) JSON() bool {
	return r != nil && strings.Contains(r.ContentType, "json")
}

// Requester performs one synchronous provider call with a bounded timeout.
type Requester interface {
	Request(ctx context.Context, method, rawURL string, params map[string]string, headers map[string]string) (*Response, error)
}

// Client implements Requester over net/http. GET parameters travel in the
// query string; POST parameters are form- or JSON-encoded depending on the
// Content-Type header.
type Client struct {
	hc     *http.Client
	logger *zap.Logger
}

// NewClient builds a client with the given connect/read timeout.
func NewClient(timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.L()
	}
	return &Client{
		hc: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext:           (&net.Dialer{Timeout: timeout}).DialContext,
				TLSHandshakeTimeout:   timeout,
				ResponseHeaderTimeout: timeout,
				MaxIdleConnsPerHost:   8,
			},
		},
		logger: logger,
	}
}

// Request dispatches the call. Network failures, including timeouts, are
// wrapped as domain.ErrTransport; the flow fails immediately rather than
// blocking or retrying.
func (c *Client) Request(ctx context.Context, method, rawURL string, params map[string]string, headers map[string]string) (*Response, error) {
	contentType := headers["Content-Type"]
	if contentType == "" && method == http.MethodPost {
		contentType = ContentTypeForm
	}

	var body io.Reader
	target := rawURL

	switch method {
	case http.MethodGet:
		if len(params) > 0 {
			parsed, err := url.Parse(rawURL)
			if err != nil {
				return nil, fmt.Errorf("parse url %q: %w", rawURL, err)
			}
			query := parsed.Query()
			for k, v := range params {
				query.Set(k, v)
			}
			parsed.RawQuery = query.Encode()
			target = parsed.String()
		}
	default:
		encoded, err := encodeBody(params, contentType)
		if err != nil {
			return nil, err
		}
		body = encoded
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		c.logger.Warn("provider request failed",
			zap.String("method", method),
			zap.String("host", hostOf(rawURL)),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %v", domain.ErrTransport, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", domain.ErrTransport, err)
	}

	return &Response{
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        payload,
	}, nil
}

func encodeBody(params map[string]string, contentType string) (io.Reader, error) {
	if strings.Contains(contentType, "json") {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("encode json body: %w", err)
		}
		return bytes.NewReader(raw), nil
	}
	form := url.Values{}
	for k, v := range params {
		form.Set(k, v)
	}
	return strings.NewReader(form.Encode()), nil
}

func hostOf(rawURL string) string {
	if parsed, err := url.Parse(rawURL); err == nil {
		return parsed.Host
	}
	return rawURL
}
