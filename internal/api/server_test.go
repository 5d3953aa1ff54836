package api

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shohag/risebridge/internal/config"
	"github.com/shohag/risebridge/internal/install"
	"github.com/shohag/risebridge/internal/models"
	"github.com/shohag/risebridge/internal/platform"
	"github.com/shohag/risebridge/internal/storage"
	"github.com/shohag/risebridge/internal/token"
	"github.com/shohag/risebridge/internal/webhook"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	server      *httptest.Server
	store       *storage.MemoryStore
	signingKey  *rsa.PrivateKey
	tokenStatus atomic.Int32
	tokenBody   atomic.Value
	tokenCalls  atomic.Int32
	platformFn  http.HandlerFunc
}

func newTestEnv(t *testing.T, adminToken string) *testEnv {
	t.Helper()
	env := &testEnv{store: storage.NewMemory()}
	env.tokenStatus.Store(http.StatusOK)
	env.tokenBody.Store(`{"access_token":"T1","token_type":"Bearer","expires_in":3600}`)

	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		env.tokenCalls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(int(env.tokenStatus.Load()))
		w.Write([]byte(env.tokenBody.Load().(string)))
	}))
	t.Cleanup(tokenSrv.Close)

	platformSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if env.platformFn != nil {
			env.platformFn(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(platformSrv.Close)

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	env.signingKey = key

	log := zerolog.Nop()
	now := func() time.Time { return testNow }

	tokens := token.NewManager(env.store, token.NewClient(token.ClientConfig{
		TokenURL:     tokenSrv.URL + "/oauth/token",
		ClientID:     "client-1",
		ClientSecret: "secret-1",
		Timeout:      2 * time.Second,
	}), log, token.WithNow(now))

	verifier, err := webhook.NewVerifier(&key.PublicKey)
	require.NoError(t, err)

	srv := NewServer(config.ServerConfig{}, Deps{
		Store:   env.store,
		Tokens:  tokens,
		Remover: tokens,
		Redirector: install.NewRedirector(install.RedirectorConfig{
			InstallerURL: "https://platform.example.com/installer/install",
			ClientID:     "client-1",
			CallbackURL:  "https://app.example.com/oauth/callback",
		}),
		Callback:   install.NewCallbackHandler(tokens, env.store, log),
		Verifier:   verifier,
		Dispatcher: webhook.NewDispatcher(tokens, log),
		Platform:   platform.NewClient(platformSrv.URL, 2*time.Second),
		AdminToken: adminToken,
		Metrics:    true,
		Now:        now,
	}, log)

	env.server = httptest.NewServer(srv.Handler())
	t.Cleanup(env.server.Close)
	return env
}

func (e *testEnv) seed(t *testing.T, id, accessToken string, expiresAt time.Time) {
	t.Helper()
	require.NoError(t, e.store.Put(context.Background(), &models.Installation{
		InstanceID:  id,
		AccessToken: accessToken,
		TokenType:   "Bearer",
		ExpiresAt:   expiresAt,
		CreatedAt:   testNow.Add(-time.Hour),
		UpdatedAt:   testNow.Add(-time.Hour),
	}))
}

func noRedirectClient() *http.Client {
	return &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func TestAuthorizeRedirects(t *testing.T) {
	env := newTestEnv(t, "")

	resp, err := noRedirectClient().Get(env.server.URL + "/oauth/authorize?token=abc")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)

	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "platform.example.com", loc.Host)
	assert.Equal(t, "/installer/install", loc.Path)
	assert.Equal(t, "client-1", loc.Query().Get("appId"))
	assert.Equal(t, "https://app.example.com/oauth/callback", loc.Query().Get("redirectUrl"))
	assert.Equal(t, "abc", loc.Query().Get("token"))
	assert.Contains(t, loc.RawQuery, "redirectUrl=https%3A%2F%2Fapp.example.com%2Foauth%2Fcallback")
}

func TestAuthorizeMissingToken(t *testing.T) {
	env := newTestEnv(t, "")

	resp, err := noRedirectClient().Get(env.server.URL + "/oauth/authorize")
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, map[string]any{"error": "missing_token"}, decodeBody(t, resp))
}

func TestCallbackStoresInstallation(t *testing.T) {
	env := newTestEnv(t, "")

	resp, err := http.Get(env.server.URL + "/oauth/callback?code=abc&instanceId=inst1")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	assert.Contains(t, readBody(t, resp), "inst1")

	inst, err := env.store.Get(context.Background(), "inst1")
	require.NoError(t, err)
	require.NotNil(t, inst)
	assert.Equal(t, "T1", inst.AccessToken)
	assert.Equal(t, testNow.Add(3600*time.Second), inst.ExpiresAt)
}

func TestCallbackAcceptsFormPost(t *testing.T) {
	env := newTestEnv(t, "")

	resp, err := http.PostForm(env.server.URL+"/oauth/callback", url.Values{"code": {"abc"}, "instanceId": {"inst2"}})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	inst, err := env.store.Get(context.Background(), "inst2")
	require.NoError(t, err)
	assert.NotNil(t, inst)
}

func TestCallbackMissingParameters(t *testing.T) {
	env := newTestEnv(t, "")

	for _, query := range []string{"", "?code=abc", "?instanceId=inst1"} {
		resp, err := http.Get(env.server.URL + "/oauth/callback" + query)
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, query)
		assert.Equal(t, "missing_parameters", decodeBody(t, resp)["error"], query)
	}
	assert.Equal(t, int32(0), env.tokenCalls.Load())
}

func TestCallbackUpstreamFailureIsSanitized(t *testing.T) {
	env := newTestEnv(t, "")
	env.tokenStatus.Store(http.StatusUnauthorized)
	env.tokenBody.Store(`{"error":"invalid_client","secret_detail":"xyz"}`)

	resp, err := http.Get(env.server.URL + "/oauth/callback?code=abc&instanceId=inst1")
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	body := readBody(t, resp)
	assert.Contains(t, body, "Installation failed")
	assert.NotContains(t, body, "secret_detail")

	inst, err := env.store.Get(context.Background(), "inst1")
	require.NoError(t, err)
	assert.Nil(t, inst)
}

func (e *testEnv) postWebhook(t *testing.T, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(e.server.URL+"/webhooks", "text/plain", strings.NewReader(body))
	require.NoError(t, err)
	return resp
}

func TestWebhookAppRemoved(t *testing.T) {
	env := newTestEnv(t, "")
	env.seed(t, "inst1", "T1", testNow.Add(time.Hour))

	body, err := webhook.Sign(env.signingKey, webhook.Event{
		EventType:  webhook.EventAppRemoved,
		InstanceID: "inst1",
		Data:       json.RawMessage(`{}`),
	}, 0)
	require.NoError(t, err)

	resp := env.postWebhook(t, body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]any{"received": true}, decodeBody(t, resp))

	inst, err := env.store.Get(context.Background(), "inst1")
	require.NoError(t, err)
	assert.Nil(t, inst)

	// Redelivery of the same event is still acknowledged.
	resp = env.postWebhook(t, body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestWebhookUnknownEventAcknowledged(t *testing.T) {
	env := newTestEnv(t, "")
	env.seed(t, "inst1", "T1", testNow.Add(time.Hour))

	body, err := webhook.Sign(env.signingKey, webhook.Event{EventType: "GiftCardCreated", InstanceID: "inst1", Data: json.RawMessage(`{}`)}, 0)
	require.NoError(t, err)

	resp := env.postWebhook(t, body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	inst, err := env.store.Get(context.Background(), "inst1")
	require.NoError(t, err)
	assert.NotNil(t, inst)
}

func TestWebhookWithoutEventTypeAcknowledged(t *testing.T) {
	env := newTestEnv(t, "")
	env.seed(t, "inst1", "T1", testNow.Add(time.Hour))

	body, err := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"data": `{"instanceId":"inst1","data":"{}"}`,
	}).SignedString(env.signingKey)
	require.NoError(t, err)

	resp := env.postWebhook(t, body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]any{"received": true}, decodeBody(t, resp))

	inst, err := env.store.Get(context.Background(), "inst1")
	require.NoError(t, err)
	require.NotNil(t, inst)
	assert.Equal(t, "T1", inst.AccessToken)
}

func TestWebhookMalformedEnvelopeRejected(t *testing.T) {
	env := newTestEnv(t, "")
	env.seed(t, "inst1", "T1", testNow.Add(time.Hour))

	// Correctly signed, but the inner data is an object instead of a string.
	body, err := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"data": `{"eventType":"AppRemoved","instanceId":"inst1","data":{"x":1}}`,
	}).SignedString(env.signingKey)
	require.NoError(t, err)

	resp := env.postWebhook(t, body)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, map[string]any{"error": "webhook_verification_failed"}, decodeBody(t, resp))

	inst, err := env.store.Get(context.Background(), "inst1")
	require.NoError(t, err)
	assert.NotNil(t, inst)
}

func TestWebhookInvalidBodyLeavesStoreUnchanged(t *testing.T) {
	env := newTestEnv(t, "")
	env.seed(t, "inst1", "T1", testNow.Add(time.Hour))

	otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	forged, err := webhook.Sign(otherKey, webhook.Event{EventType: webhook.EventAppRemoved, InstanceID: "inst1", Data: json.RawMessage(`{}`)}, 0)
	require.NoError(t, err)

	for _, body := range []string{"not-a-jwt", "", forged} {
		resp := env.postWebhook(t, body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, map[string]any{"error": "webhook_verification_failed"}, decodeBody(t, resp))
	}

	inst, err := env.store.Get(context.Background(), "inst1")
	require.NoError(t, err)
	require.NotNil(t, inst)
	assert.Equal(t, "T1", inst.AccessToken)
}

func TestInstallationsListHidesTokens(t *testing.T) {
	env := newTestEnv(t, "")
	env.seed(t, "inst1", "SECRET-TOKEN", testNow.Add(time.Hour))
	env.seed(t, "inst2", "OTHER-TOKEN", testNow.Add(-time.Minute))

	resp, err := http.Get(env.server.URL + "/installations")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := readBody(t, resp)
	assert.NotContains(t, body, "SECRET-TOKEN")
	assert.NotContains(t, body, "OTHER-TOKEN")

	var views []models.InstallationView
	require.NoError(t, json.Unmarshal([]byte(body), &views))
	require.Len(t, views, 2)
	expired := map[string]bool{}
	for _, v := range views {
		expired[v.InstanceID] = v.IsExpired
	}
	assert.Equal(t, map[string]bool{"inst1": false, "inst2": true}, expired)
}

func TestInstallationsAdminToken(t *testing.T) {
	env := newTestEnv(t, "op-token")
	env.seed(t, "inst1", "T1", testNow.Add(time.Hour))

	resp, err := http.Get(env.server.URL + "/installations")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, env.server.URL+"/installations", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer wrong")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err = http.NewRequest(http.MethodDelete, env.server.URL+"/installations/inst1", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer op-token")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	inst, err := env.store.Get(context.Background(), "inst1")
	require.NoError(t, err)
	assert.Nil(t, inst)
}

func TestExampleAccountPassthrough(t *testing.T) {
	env := newTestEnv(t, "")
	env.seed(t, "inst1", "T1", testNow.Add(time.Hour))
	env.platformFn = func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/account", r.URL.Path)
		assert.Equal(t, "Bearer T1", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"acc-1","name":"Demo Store"}`))
	}

	resp, err := http.Get(env.server.URL + "/example/account/inst1")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"id":"acc-1","name":"Demo Store"}`, readBody(t, resp))
	assert.Equal(t, int32(0), env.tokenCalls.Load())
}

func TestExampleRefreshesExpiredToken(t *testing.T) {
	env := newTestEnv(t, "")
	env.seed(t, "inst1", "OLD", testNow)
	env.platformFn = func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer T1", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"gc-1"}`))
	}

	resp, err := http.Post(env.server.URL+"/example/gift-cards/inst1", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, int32(1), env.tokenCalls.Load())
}

func TestExampleUnknownInstallation(t *testing.T) {
	env := newTestEnv(t, "")

	resp, err := http.Get(env.server.URL + "/example/sales-channels/missing")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "installation_not_found", decodeBody(t, resp)["error"])
}

func TestExampleUpstreamErrorDetails(t *testing.T) {
	env := newTestEnv(t, "")
	env.seed(t, "inst1", "T1", testNow.Add(time.Hour))
	env.platformFn = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"message":"scope missing"}`))
	}

	resp, err := http.Post(env.server.URL+"/example/wallets/inst1", "application/json", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, "upstream_api_error", body["error"])
	details, ok := body["details"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(http.StatusForbidden), details["status"])
	assert.Equal(t, map[string]any{"message": "scope missing"}, details["body"])
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t, "")

	resp, err := http.Get(env.server.URL + "/health")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"status": "ok", "service": "risebridge"}, decodeBody(t, resp))

	resp, err = http.Get(env.server.URL + "/metrics")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), "risebridge_http_requests_total")
}
