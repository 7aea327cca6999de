package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/lumenhq/lumen-go/internal/models"
	"github.com/lumenhq/lumen-go/internal/plan"
	"github.com/lumenhq/lumen-go/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRefresher struct {
	token string
	err   error
	calls atomic.Int32
}

func (s *stubRefresher) Refresh(ctx context.Context) (string, error) {
	s.calls.Add(1)
	if s.err != nil {
		return "", s.err
	}
	return s.token, nil
}

type fixture struct {
	client    *Client
	store     *session.Store
	emitter   *plan.Emitter
	refresher *stubRefresher
	server    *httptest.Server
}

func newFixture(t *testing.T, handler http.Handler) *fixture {
	t.Helper()

	store, err := session.NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	emitter := plan.NewEmitter()
	refresher := &stubRefresher{token: "acc_new"}

	c, err := New(Config{BaseURL: server.URL}, store, refresher, emitter)
	require.NoError(t, err)
	c.SetHTTPClient(server.Client())

	return &fixture{client: c, store: store, emitter: emitter, refresher: refresher, server: server}
}

func saveSession(t *testing.T, store *session.Store, access string) {
	t.Helper()
	require.NoError(t, store.Save(models.Session{AccessToken: access, RefreshToken: "ref"}))
}

func TestDoAttachesBearerToken(t *testing.T) {
	var gotAuth string
	f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
	}))
	saveSession(t, f.store, "acc_1")

	response, err := f.client.Do(context.Background(), http.MethodGet, "/galleries/", nil)
	require.NoError(t, err)
	response.Body.Close()

	assert.Equal(t, "Bearer acc_1", gotAuth)
}

func TestDoWithoutSessionSendsAnonymously(t *testing.T) {
	var gotAuth string
	var calls atomic.Int32
	f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusUnauthorized)
	}))

	response, err := f.client.Do(context.Background(), http.MethodGet, "/galleries/", nil)
	require.NoError(t, err)
	response.Body.Close()

	assert.Empty(t, gotAuth)
	assert.Equal(t, http.StatusUnauthorized, response.StatusCode)
	assert.Equal(t, int32(1), calls.Load(), "anonymous 401 must not trigger refresh")
	assert.Zero(t, f.refresher.calls.Load())
}

func TestDoRefreshesOn401AndRetriesOnce(t *testing.T) {
	var calls atomic.Int32
	f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			require.Equal(t, "Bearer acc_old", r.Header.Get("Authorization"))
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		require.Equal(t, "Bearer acc_new", r.Header.Get("Authorization"))
		w.Write([]byte(`{"ok":true}`))
	}))
	saveSession(t, f.store, "acc_old")

	response, err := f.client.Do(context.Background(), http.MethodGet, "/galleries/", nil)
	require.NoError(t, err)
	defer response.Body.Close()

	assert.Equal(t, http.StatusOK, response.StatusCode)
	assert.Equal(t, int32(2), calls.Load(), "original request plus exactly one retry")
	assert.Equal(t, int32(1), f.refresher.calls.Load())
}

func TestDoRetriedResponseReturnedAsIs(t *testing.T) {
	var calls atomic.Int32
	f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	saveSession(t, f.store, "acc_old")

	response, err := f.client.Do(context.Background(), http.MethodGet, "/galleries/", nil)
	require.NoError(t, err)
	response.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, response.StatusCode)
	assert.Equal(t, int32(2), calls.Load(), "a second 401 must not trigger another retry")
	assert.Equal(t, int32(1), f.refresher.calls.Load())
}

func TestDoRefreshFailureReturnsOriginal401(t *testing.T) {
	var calls atomic.Int32
	f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"detail":"token expired"}`))
	}))
	saveSession(t, f.store, "acc_old")
	f.refresher.err = context.DeadlineExceeded

	response, err := f.client.Do(context.Background(), http.MethodGet, "/galleries/", nil)
	require.NoError(t, err)
	defer response.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, response.StatusCode)
	assert.Equal(t, int32(1), calls.Load())

	body, err := io.ReadAll(response.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "token expired")
}

func TestDoRetryReplaysBody(t *testing.T) {
	var calls atomic.Int32
	var bodies []string
	f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(payload))
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	saveSession(t, f.store, "acc_old")

	response, err := f.client.Do(context.Background(), http.MethodPost, "/galleries/", &RequestOptions{
		Body: []byte(`{"name":"Autumn Wedding"}`),
	})
	require.NoError(t, err)
	response.Body.Close()

	require.Len(t, bodies, 2)
	assert.Equal(t, bodies[0], bodies[1])
	assert.Equal(t, `{"name":"Autumn Wedding"}`, bodies[1])
}

func TestDoContentTypeDefaults(t *testing.T) {
	var contentTypes []string
	f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentTypes = append(contentTypes, r.Header.Get("Content-Type"))
	}))
	saveSession(t, f.store, "acc")

	// JSON body gets the default header.
	response, err := f.client.Do(context.Background(), http.MethodPost, "/galleries/", &RequestOptions{
		Body: []byte(`{}`),
	})
	require.NoError(t, err)
	response.Body.Close()

	// Raw bodies are left alone so a multipart transport can set its own.
	response, err = f.client.Do(context.Background(), http.MethodPost, "/photos/upload/", &RequestOptions{
		Body: []byte("binary"),
		Raw:  true,
	})
	require.NoError(t, err)
	response.Body.Close()

	// Explicit content type wins.
	response, err = f.client.Do(context.Background(), http.MethodPost, "/photos/upload/", &RequestOptions{
		Body:        []byte("binary"),
		ContentType: "multipart/form-data; boundary=xyz",
	})
	require.NoError(t, err)
	response.Body.Close()

	require.Len(t, contentTypes, 3)
	assert.Equal(t, "application/json", contentTypes[0])
	assert.Empty(t, contentTypes[1])
	assert.Equal(t, "multipart/form-data; boundary=xyz", contentTypes[2])
}

func TestDo403EmitsClassifiedPrompt(t *testing.T) {
	f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":"photos limit exceeded"}`))
	}))
	saveSession(t, f.store, "acc")
	require.NoError(t, f.store.SaveProfile(models.UserProfile{
		ID: "u1",
		Stats: &models.Stats{
			PlanLimits: &models.PlanLimits{MaxPhotos: 500, MaxGalleries: 5, MaxClients: 20, MaxStorageBytes: 5 << 30},
		},
	}))

	response, err := f.client.Do(context.Background(), http.MethodPost, "/photos/", nil)
	require.NoError(t, err)
	defer response.Body.Close()

	assert.Equal(t, http.StatusForbidden, response.StatusCode)

	prompt := f.emitter.Current()
	require.NotNil(t, prompt)
	assert.Equal(t, plan.KindPhotos, prompt.Kind)
	assert.Contains(t, prompt.Message, "500 photos")

	// The caller still gets the body even though classification consumed it.
	body, err := io.ReadAll(response.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "photos limit")
}

func TestDo403UnparseableBodyEmitsGenericPrompt(t *testing.T) {
	f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte("forbidden"))
	}))
	saveSession(t, f.store, "acc")

	response, err := f.client.Do(context.Background(), http.MethodPost, "/photos/", nil)
	require.NoError(t, err)
	response.Body.Close()

	prompt := f.emitter.Current()
	require.NotNil(t, prompt)
	assert.Equal(t, plan.KindGeneral, prompt.Kind)
	assert.NotEmpty(t, prompt.Message)
}

func TestEndpointResolution(t *testing.T) {
	store, err := session.NewStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	c, err := New(Config{BaseURL: "https://api.example.com/"}, store, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, "https://api.example.com/galleries/", c.endpoint("/galleries/"))
	assert.Equal(t, "https://api.example.com/galleries/", c.endpoint("galleries/"))
	assert.Equal(t, "https://other.example.com/x", c.endpoint("https://other.example.com/x"))
}

func TestGetJSONDecodesResponse(t *testing.T) {
	f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"id": "g1", "name": "Autumn"})
	}))
	saveSession(t, f.store, "acc")

	var out struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	require.NoError(t, f.client.GetJSON(context.Background(), "/galleries/g1/", &out))
	assert.Equal(t, "Autumn", out.Name)
}

func TestGetJSONReturnsAPIError(t *testing.T) {
	f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	saveSession(t, f.store, "acc")

	err := f.client.GetJSON(context.Background(), "/galleries/", nil)
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Equal(t, "boom", apiErr.Body)
}
