// Package integration contains end-to-end tests that drive the room chat
// server over real HTTP and WebSocket connections.
package integration

import (
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/Tyrowin/roomchat/internal/server"
	"github.com/Tyrowin/roomchat/test/testhelpers"
)

// TestHealthEndpointIntegration tests the plain health endpoint end-to-end.
func TestHealthEndpointIntegration(t *testing.T) {
	_, testServer := testhelpers.StartServer(t, server.DefaultConfig())

	resp := testhelpers.MakeRequest(t, http.MethodGet, testServer.URL+"/")
	defer func() { _ = resp.Body.Close() }()

	testhelpers.AssertStatusCode(t, resp, http.StatusOK)
	testhelpers.AssertContentType(t, resp, "text/plain")

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read body: %v", err)
	}
	if !strings.Contains(string(body), "running") {
		t.Errorf("Unexpected health body %q", body)
	}
}

// TestServerTimeouts tests that CreateServer applies production timeouts.
func TestServerTimeouts(t *testing.T) {
	httpServer := server.CreateServer(":0", http.NewServeMux())

	if httpServer.ReadTimeout != 15*time.Second {
		t.Errorf("Expected ReadTimeout 15s, got %v", httpServer.ReadTimeout)
	}
	if httpServer.WriteTimeout != 15*time.Second {
		t.Errorf("Expected WriteTimeout 15s, got %v", httpServer.WriteTimeout)
	}
	if httpServer.IdleTimeout != 60*time.Second {
		t.Errorf("Expected IdleTimeout 60s, got %v", httpServer.IdleTimeout)
	}
}

// TestServerRejectsWrongMethods tests that routes are bound to their methods.
func TestServerRejectsWrongMethods(t *testing.T) {
	_, testServer := testhelpers.StartServer(t, server.DefaultConfig())

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/healthz"},
		{http.MethodPut, "/stats"},
		{http.MethodGet, "/admin/admission/users/alice/unblock"},
		{http.MethodPost, "/admin/connections/abc"},
	}

	for _, tt := range tests {
		resp := testhelpers.MakeRequest(t, tt.method, testServer.URL+tt.path)
		_ = resp.Body.Close()
		testhelpers.AssertStatusCode(t, resp, http.StatusMethodNotAllowed)
	}
}

// TestFullServerIntegration tests the HTTP surface around live connections.
func TestFullServerIntegration(t *testing.T) {
	_, testServer := testhelpers.StartServer(t, server.DefaultConfig())

	testhelpers.Connect(t, testServer.URL, "alice", "lobby")
	testhelpers.Connect(t, testServer.URL, "alice", "dev")
	testhelpers.Connect(t, testServer.URL, "bob", "lobby")

	var health map[string]any
	testhelpers.DecodeJSON(t, testhelpers.MakeRequest(t, http.MethodGet, testServer.URL+"/healthz"), &health)
	if health["status"] != "ok" || health["connections"] != float64(3) || health["rooms"] != float64(2) {
		t.Errorf("Unexpected health report: %v", health)
	}

	var stats server.Stats
	testhelpers.DecodeJSON(t, testhelpers.MakeRequest(t, http.MethodGet, testServer.URL+"/stats"), &stats)
	if stats.TotalDistinctUsers != 2 {
		t.Errorf("Expected 2 distinct users, got %d", stats.TotalDistinctUsers)
	}
	if stats.PerRoomMemberCounts["lobby"] != 2 || stats.PerRoomMemberCounts["dev"] != 1 {
		t.Errorf("Unexpected room counts: %v", stats.PerRoomMemberCounts)
	}

	resp := testhelpers.MakeRequest(t, http.MethodGet, testServer.URL+"/test")
	_ = resp.Body.Close()
	testhelpers.AssertStatusCode(t, resp, http.StatusOK)
	testhelpers.AssertContentType(t, resp, "text/html")
}
