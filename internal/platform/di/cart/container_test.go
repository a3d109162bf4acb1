package cart

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whatsdish/internal/adapters/in/http/middleware"
	appcfg "whatsdish/internal/infra/config"
	shared "whatsdish/internal/platform/di/shared"
)

type orderAPI struct {
	mu       sync.Mutex
	modes    []string
	bodies   []map[string]any
	keys     []string
	bearers  []string
	snapshot string
}

func (o *orderAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/items/set"):
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(raw, &body)
		o.mu.Lock()
		o.modes = append(o.modes, r.URL.Query().Get("mode"))
		o.bodies = append(o.bodies, body)
		o.keys = append(o.keys, r.Header.Get("Idempotency-Key"))
		o.bearers = append(o.bearers, r.Header.Get("Authorization"))
		o.mu.Unlock()
		_, _ = w.Write([]byte(`{"success":true}`))
	case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/cart/items"):
		o.mu.Lock()
		snap := o.snapshot
		o.mu.Unlock()
		_, _ = w.Write([]byte(snap))
	default:
		http.NotFound(w, r)
	}
}

func (o *orderAPI) deltaCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.modes)
}

func newTestContainer(t *testing.T, api http.Handler) *Container {
	t.Helper()
	remote := httptest.NewServer(api)
	t.Cleanup(remote.Close)

	cfg := &appcfg.Config{
		OrderAPIBaseURL: remote.URL,
		OrderAPIToken:   "svc-token",
		OrderAPITimeout: 2 * time.Second,
		AuthMode:        shared.AuthModeHeader,
		SQLitePath:      ":memory:",
		OutboxBackend:   shared.BackendSQLite,
	}
	infra, err := shared.NewInfra(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = infra.Close() })

	cont, err := NewContainer(context.Background(), infra)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cont.Close() })
	return cont
}

func call(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set(middleware.HeaderSessionID, "shopper-1")
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestContainer_AddLineReachesOrderAPI(t *testing.T) {
	api := &orderAPI{}
	cont := newTestContainer(t, api)
	h := NewRouter(cont)

	rec := call(t, h, http.MethodPut, "/session", `{"orderId":"ord-1","accountId":"acct-1"}`)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = call(t, h, http.MethodPost, "/carts/r1/lines",
		`{"itemId":"burger","gid":"g-burger","name":"Burger","unitPrice":"9.50","quantity":2}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	require.Eventually(t, func() bool { return api.deltaCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	api.mu.Lock()
	defer api.mu.Unlock()
	assert.Equal(t, "ADD", api.modes[0])
	assert.EqualValues(t, 2, api.bodies[0]["count"])
	assert.Equal(t, "ord-1", api.bodies[0]["order_id"])
	assert.Equal(t, "acct-1", api.bodies[0]["sub"])
	assert.NotEmpty(t, api.keys[0])
	assert.Equal(t, "Bearer svc-token", api.bearers[0])
}

func TestContainer_ActivateHydratesFromOrderAPI(t *testing.T) {
	api := &orderAPI{snapshot: `{"version":3,"items":[{"item_id":"fries","gid":"g-fries","name":"Fries","price":"3.00","quantity":4}]}`}
	cont := newTestContainer(t, api)
	h := NewRouter(cont)

	require.Equal(t, http.StatusNoContent, call(t, h, http.MethodPut, "/session", `{"orderId":"ord-1","accountId":"acct-1"}`).Code)

	rec := call(t, h, http.MethodPost, "/carts/r1/activate", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = call(t, h, http.MethodGet, "/carts/r1/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got struct {
		TotalItems int `json:"totalItems"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 4, got.TotalItems)
	assert.Zero(t, api.deltaCount(), "hydration must not emit deltas")
}

func TestNewRouter_Healthz(t *testing.T) {
	cont := newTestContainer(t, &orderAPI{})
	rec := httptest.NewRecorder()
	NewRouter(cont).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestRegister_FirebaseModeWithoutClientFailsClosed(t *testing.T) {
	cont := newTestContainer(t, &orderAPI{})
	cont.Infra.Settings.AuthMode = shared.AuthModeFirebase

	rec := httptest.NewRecorder()
	NewRouter(cont).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/carts/r1/", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestContainer_StartAndClose(t *testing.T) {
	cont := newTestContainer(t, &orderAPI{})
	cont.Policy.ReconcileInterval = 10 * time.Millisecond
	cont.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	assert.NoError(t, cont.Close())
}

func TestNewContainer_NilInfra(t *testing.T) {
	_, err := NewContainer(context.Background(), nil)
	assert.Error(t, err)
}
