package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lumenhq/lumen-go/internal/models"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

const (
	loginPath   = "/accounts/token/"
	refreshPath = "/accounts/token/refresh/"

	defaultHTTPTimeout = 30 * time.Second

	maxErrorBodyBytes int64 = 4096
)

var (
	// ErrNotAuthenticated means no refresh token exists; the caller must log in.
	ErrNotAuthenticated = errors.New("auth: not authenticated")

	// ErrSessionExpired means the refresh token was rejected and the session has
	// been cleared. Never retried; the user has to log in again.
	ErrSessionExpired = errors.New("auth: session expired")
)

// SessionStore is the durable token storage the service coordinates over.
type SessionStore interface {
	Load() (*models.Session, error)
	Save(models.Session) error
	Clear() error
}

// Service owns the session lifecycle: login, token renewal, and logout.
// Concurrent Refresh callers share a single outbound renewal request.
type Service struct {
	store      SessionStore
	baseURL    string
	httpClient *http.Client

	refreshGroup singleflight.Group
}

// NewService creates an auth service against the given API base URL.
func NewService(store SessionStore, baseURL string, httpClient *http.Client) *Service {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &Service{
		store:      store,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login exchanges credentials for a token pair and persists it.
func (s *Service) Login(ctx context.Context, email, password string) error {
	body, err := json.Marshal(loginRequest{Email: email, Password: password})
	if err != nil {
		return fmt.Errorf("encode login request: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+loginPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build login request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := s.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("login request failed: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		detail, _ := io.ReadAll(io.LimitReader(response.Body, maxErrorBodyBytes))
		return fmt.Errorf("login failed: status=%d body=%q", response.StatusCode, strings.TrimSpace(string(detail)))
	}

	var sess models.Session
	if err := json.NewDecoder(response.Body).Decode(&sess); err != nil {
		return fmt.Errorf("decode login response: %w", err)
	}
	if sess.AccessToken == "" || sess.RefreshToken == "" {
		return fmt.Errorf("login response missing token pair")
	}

	if err := s.store.Save(sess); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}

	log.Debug().Str("email", email).Msg("Logged in")
	return nil
}

// Logout clears the persisted session. Idempotent: logging out of an empty
// store succeeds.
func (s *Service) Logout() error {
	if err := s.store.Clear(); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	log.Debug().Msg("Logged out")
	return nil
}

// Refresh obtains a new access token using the stored refresh token and
// returns it. Callers that arrive while a renewal is outstanding await the
// same result instead of issuing their own request. Failure is terminal: the
// store is cleared and ErrSessionExpired is returned.
func (s *Service) Refresh(ctx context.Context) (string, error) {
	token, err, shared := s.refreshGroup.Do("refresh", func() (interface{}, error) {
		return s.refresh(ctx)
	})
	if err != nil {
		return "", err
	}
	if shared {
		log.Debug().Msg("Token refresh shared with concurrent caller")
	}
	return token.(string), nil
}

type refreshRequest struct {
	Refresh string `json:"refresh"`
}

type refreshResponse struct {
	Access string `json:"access"`
}

func (s *Service) refresh(ctx context.Context) (string, error) {
	sess, err := s.store.Load()
	if err != nil {
		return "", fmt.Errorf("load session: %w", err)
	}
	if sess == nil || sess.RefreshToken == "" {
		return "", ErrNotAuthenticated
	}

	access, err := s.renewAccessToken(ctx, sess.RefreshToken)
	if err != nil {
		// Terminal: a stale or revoked refresh token must never be reused.
		if clearErr := s.store.Clear(); clearErr != nil {
			log.Error().Err(clearErr).Msg("Failed to clear session after refresh failure")
		}
		log.Warn().Err(err).Msg("Token refresh failed, session terminated")
		return "", fmt.Errorf("%w: %v", ErrSessionExpired, err)
	}

	// The renewal endpoint only returns a new access token; the refresh token
	// stays the one we already hold.
	if err := s.store.Save(models.Session{AccessToken: access, RefreshToken: sess.RefreshToken}); err != nil {
		return "", fmt.Errorf("persist refreshed session: %w", err)
	}

	log.Debug().Msg("Access token refreshed")
	return access, nil
}

func (s *Service) renewAccessToken(ctx context.Context, refreshToken string) (string, error) {
	body, err := json.Marshal(refreshRequest{Refresh: refreshToken})
	if err != nil {
		return "", fmt.Errorf("encode refresh request: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+refreshPath, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build refresh request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := s.httpClient.Do(request)
	if err != nil {
		return "", fmt.Errorf("refresh request failed: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		detail, _ := io.ReadAll(io.LimitReader(response.Body, maxErrorBodyBytes))
		return "", fmt.Errorf("refresh rejected: status=%d body=%q", response.StatusCode, strings.TrimSpace(string(detail)))
	}

	var parsed refreshResponse
	if err := json.NewDecoder(response.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode refresh response: %w", err)
	}
	if parsed.Access == "" {
		return "", fmt.Errorf("refresh response missing access token")
	}

	return parsed.Access, nil
}
