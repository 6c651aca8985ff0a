package admission

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func identifyFromQuery(r *http.Request) Identity {
	return Identity{
		UserID: r.URL.Query().Get("user"),
		IP:     ClientIP(r, false),
		Tier:   ParseTier(r.Header.Get("X-User-Tier")),
	}
}

func TestMiddlewareAdmitsThenDenies(t *testing.T) {
	clock := newFakeClock()
	ctrl := newController(clock, Limits{Tiers: map[Tier]int{TierFree: 1}})

	var seen Decision
	handler := Middleware(ctrl, identifyFromQuery, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d, ok := FromContext(r.Context())
		require.True(t, ok)
		seen = d
		w.WriteHeader(http.StatusNoContent)
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/ws?user=u1", nil))
	assert.Equal(t, http.StatusNoContent, first.Code)
	assert.Equal(t, "1", first.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", first.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, first.Header().Get("X-RateLimit-Reset"))
	assert.True(t, seen.Allowed)

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/ws?user=u1", nil))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "60", second.Header().Get("Retry-After"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &body))
	assert.Equal(t, ReasonUserLimit, body["error"])
	assert.Equal(t, string(CodeUserLimited), body["code"])
	assert.EqualValues(t, 60, body["retry_after"])
}

func TestMiddlewareSkipsAnonymousRequests(t *testing.T) {
	ctrl := New()
	called := false
	handler := Middleware(ctrl, identifyFromQuery, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, ok := FromContext(r.Context())
		assert.False(t, ok)
		called = true
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.True(t, called)
	assert.Zero(t, ctrl.Stats().GlobalRequests)
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.7:5555"
	r.Header.Set("X-Forwarded-For", "203.0.113.1, 10.0.0.1")
	r.Header.Set("X-Real-IP", "203.0.113.2")

	assert.Equal(t, "192.0.2.7", ClientIP(r, false))
	assert.Equal(t, "203.0.113.1", ClientIP(r, true))

	r.Header.Del("X-Forwarded-For")
	assert.Equal(t, "203.0.113.2", ClientIP(r, true))

	r.RemoteAddr = "not-a-host-port"
	assert.Equal(t, "not-a-host-port", ClientIP(r, false))
}
