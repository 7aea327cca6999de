// Package client is the authenticated request dispatcher every other
// component calls through: it attaches the bearer token, recovers from
// expired-token 401s with a single refresh-and-retry, and converts plan-limit
// 403s into upgrade prompts.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lumenhq/lumen-go/internal/logging"
	"github.com/lumenhq/lumen-go/internal/models"
	"github.com/lumenhq/lumen-go/internal/plan"
	"github.com/rs/zerolog/log"
)

const (
	defaultHTTPTimeout = 30 * time.Second

	// Refresh proactively when the bearer token expires within this window.
	defaultExpirySkew = 30 * time.Second

	maxErrorBodyBytes int64 = 64 * 1024

	maxResponseBodyBytes int64 = 4 * 1024 * 1024
)

// TokenRefresher renews the access token. Concurrent calls are expected to
// share one in-flight renewal.
type TokenRefresher interface {
	Refresh(ctx context.Context) (string, error)
}

// SessionReader provides the persisted session state the dispatcher reads
// fresh at the start of every call.
type SessionReader interface {
	Load() (*models.Session, error)
	LoadProfile() (*models.UserProfile, error)
}

// Config configures the dispatcher.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	ExpirySkew time.Duration
}

// Client dispatches authenticated API requests.
type Client struct {
	baseURL    string
	store      SessionReader
	refresher  TokenRefresher
	emitter    *plan.Emitter
	httpClient *http.Client
	expirySkew time.Duration
}

// APIError represents an HTTP-level error response from the API.
type APIError struct {
	StatusCode int
	Method     string
	Path       string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api request %s %s failed: status=%d body=%q", e.Method, e.Path, e.StatusCode, e.Body)
}

// New creates a dispatcher. store is required; refresher and emitter may be
// nil, which disables 401 recovery and 403 prompt emission respectively.
func New(cfg Config, store SessionReader, refresher TokenRefresher, emitter *plan.Emitter) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("api base URL is required")
	}
	if store == nil {
		return nil, fmt.Errorf("session store is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	skew := cfg.ExpirySkew
	if skew <= 0 {
		skew = defaultExpirySkew
	}

	return &Client{
		baseURL:    baseURL,
		store:      store,
		refresher:  refresher,
		emitter:    emitter,
		httpClient: &http.Client{Timeout: timeout},
		expirySkew: skew,
	}, nil
}

// SetHTTPClient replaces the underlying transport. Used by tests and by
// callers that need custom TLS settings.
func (c *Client) SetHTTPClient(httpClient *http.Client) {
	if httpClient != nil {
		c.httpClient = httpClient
	}
}

// RequestOptions controls the outbound request body and headers.
type RequestOptions struct {
	// Body is sent as the request body and replayed on the 401 retry.
	Body []byte
	// ContentType overrides the Content-Type header. When empty and Body is
	// set, application/json is assumed unless Raw is true.
	ContentType string
	// Raw marks the body as multipart/binary: no default Content-Type is
	// applied, matching transports that set their own boundary header.
	Raw bool
	// Header carries additional headers, set verbatim.
	Header http.Header
}

// request states; the explicit machine makes retry-at-most-once structural
type requestState int

const (
	stateSending requestState = iota
	stateRefreshing
	stateRetrying
	stateDone
)

// Do issues an authenticated request. HTTP-level errors (401, 403, 5xx, ...)
// are returned as responses, never as errors; only transport failures error.
//
// A 401 triggers one token refresh and one retry with the new bearer token.
// The retried response is returned as-is even if it is itself an error. When
// the refresh fails the original 401 comes back unchanged; the refresher has
// already terminated the session as a side effect.
func (c *Client) Do(ctx context.Context, method, path string, opts *RequestOptions) (*http.Response, error) {
	if opts == nil {
		opts = &RequestOptions{}
	}
	ctx, requestID := logging.WithRequestID(ctx, logging.RequestID(ctx))

	// Session state is re-read per call, never captured across calls.
	token, err := c.currentToken(ctx)
	if err != nil {
		return nil, err
	}

	var response *http.Response
	state := stateSending
	for state != stateDone {
		switch state {
		case stateSending:
			response, err = c.send(ctx, method, path, token, opts)
			if err != nil {
				return nil, err
			}
			if response.StatusCode == http.StatusUnauthorized && c.refresher != nil && token != "" {
				state = stateRefreshing
			} else {
				state = stateDone
			}

		case stateRefreshing:
			newToken, refreshErr := c.refresher.Refresh(ctx)
			if refreshErr != nil {
				log.Debug().Str("requestId", requestID).Err(refreshErr).
					Msg("Refresh after 401 failed, returning original response")
				state = stateDone
				break
			}
			response.Body.Close()
			token = newToken
			state = stateRetrying

		case stateRetrying:
			response, err = c.send(ctx, method, path, token, opts)
			if err != nil {
				return nil, err
			}
			// No further retries regardless of the outcome.
			state = stateDone
		}
	}

	if response.StatusCode == http.StatusForbidden && c.emitter != nil {
		c.emitPlanLimitPrompt(response)
	}

	return response, nil
}

// currentToken loads the stored access token, proactively refreshing when it
// is about to expire. A failed proactive refresh is not fatal here; the
// reactive 401 path remains authoritative.
func (c *Client) currentToken(ctx context.Context) (string, error) {
	sess, err := c.store.Load()
	if err != nil {
		return "", fmt.Errorf("load session: %w", err)
	}
	if sess == nil {
		return "", nil
	}

	token := sess.AccessToken
	if c.refresher != nil && tokenExpiringSoon(token, c.expirySkew) {
		if refreshed, refreshErr := c.refresher.Refresh(ctx); refreshErr == nil {
			token = refreshed
		} else {
			log.Debug().Err(refreshErr).Msg("Proactive token refresh failed, sending with current token")
		}
	}
	return token, nil
}

func (c *Client) send(ctx context.Context, method, path, token string, opts *RequestOptions) (*http.Response, error) {
	var body io.Reader
	if opts.Body != nil {
		body = bytes.NewReader(opts.Body)
	}

	request, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), body)
	if err != nil {
		return nil, fmt.Errorf("build api request %s %s: %w", method, path, err)
	}

	request.Header.Set("Accept", "application/json")
	for key, values := range opts.Header {
		for _, value := range values {
			request.Header.Add(key, value)
		}
	}
	switch {
	case opts.ContentType != "":
		request.Header.Set("Content-Type", opts.ContentType)
	case opts.Body != nil && !opts.Raw:
		request.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("api request %s %s failed: %w", method, path, err)
	}
	return response, nil
}

// endpoint resolves a caller-supplied path against the base URL. Absolute
// URLs pass through untouched.
func (c *Client) endpoint(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if strings.HasPrefix(path, "/") {
		return c.baseURL + path
	}
	return c.baseURL + "/" + path
}

// emitPlanLimitPrompt classifies a 403 body and surfaces an upgrade prompt.
// The body is re-attached so the caller still receives the response as-is.
func (c *Client) emitPlanLimitPrompt(response *http.Response) {
	body, err := io.ReadAll(io.LimitReader(response.Body, maxErrorBodyBytes))
	response.Body.Close()
	response.Body = io.NopCloser(bytes.NewReader(body))
	if err != nil {
		c.emitter.Emit(plan.PromptFor(plan.KindGeneral, nil))
		return
	}

	kind := plan.ClassifyLimitError(body)

	var limits *models.PlanLimits
	if profile, profileErr := c.store.LoadProfile(); profileErr == nil && profile != nil && profile.Stats != nil {
		limits = profile.Stats.PlanLimits
	}

	prompt := plan.PromptFor(kind, limits)
	log.Debug().Str("kind", string(kind)).Msg("Plan limit response converted to upgrade prompt")
	c.emitter.Emit(prompt)
}

// GetJSON issues a GET and decodes a 2xx JSON response into destination.
// Non-2xx responses become an *APIError.
func (c *Client) GetJSON(ctx context.Context, path string, destination any) error {
	return c.doJSON(ctx, http.MethodGet, path, nil, destination)
}

// PostJSON issues a POST with a JSON payload and decodes a 2xx JSON response
// into destination. destination may be nil.
func (c *Client) PostJSON(ctx context.Context, path string, payload any, destination any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode api request body for %s: %w", path, err)
	}
	return c.doJSON(ctx, http.MethodPost, path, body, destination)
}

// PatchJSON issues a PATCH with a JSON payload, decoding a 2xx JSON response
// into destination when non-nil.
func (c *Client) PatchJSON(ctx context.Context, path string, payload any, destination any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode api request body for %s: %w", path, err)
	}
	return c.doJSON(ctx, http.MethodPatch, path, body, destination)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body []byte, destination any) (err error) {
	response, err := c.Do(ctx, method, path, &RequestOptions{Body: body})
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := response.Body.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close api response body for %s %s: %w", method, path, closeErr)
		}
	}()

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		detail, readErr := io.ReadAll(io.LimitReader(response.Body, maxErrorBodyBytes))
		if readErr != nil {
			return fmt.Errorf("read api error response for %s %s: %w", method, path, readErr)
		}
		message := strings.TrimSpace(string(detail))
		if message == "" {
			message = http.StatusText(response.StatusCode)
		}
		return &APIError{
			StatusCode: response.StatusCode,
			Method:     method,
			Path:       path,
			Body:       message,
		}
	}

	if destination == nil {
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(response.Body, maxResponseBodyBytes)).Decode(destination); err != nil {
		return fmt.Errorf("decode api response for %s %s: %w", method, path, err)
	}
	return nil
}
