package integration

import (
	"fmt"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/Tyrowin/roomchat/internal/server"
	"github.com/Tyrowin/roomchat/test/testhelpers"
)

// TestOriginValidationEdgeCases tests various edge cases for origin validation.
func TestOriginValidationEdgeCases(t *testing.T) {
	cfg := server.DefaultConfig()
	cfg.AllowedOrigins = []string{"http://example.com"}
	_, testServer := testhelpers.StartServer(t, cfg)

	wsURL := testhelpers.WebSocketURL(testServer.URL, "alice", "")

	tests := []struct {
		name    string
		origin  string
		allowed bool
	}{
		{"missing origin", "", false},
		{"exact", "http://example.com", true},
		{"upper case host", "http://EXAMPLE.COM", true},
		{"upper case scheme", "HTTP://example.com", true},
		{"other scheme", "https://example.com", false},
		{"other host", "http://evil.com", false},
		{"not a url", "not-a-url", false},
		{"missing scheme", "://missing-scheme", false},
		{"missing host", "http://", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := http.Header{}
			if tt.origin != "" {
				header.Set("Origin", tt.origin)
			}
			conn, resp, err := testhelpers.Dial(wsURL, header)
			if resp != nil && resp.Body != nil {
				defer func() { _ = resp.Body.Close() }()
			}
			if tt.allowed {
				if err != nil {
					t.Fatalf("Expected origin %q to be allowed: %v", tt.origin, err)
				}
				_ = conn.Close()
				return
			}
			if err == nil {
				_ = conn.Close()
				t.Fatalf("Expected origin %q to be rejected", tt.origin)
			}
			if resp == nil || resp.StatusCode != http.StatusForbidden {
				t.Errorf("Expected 403 for origin %q, got %v", tt.origin, resp)
			}
		})
	}
}

// TestAdmissionRejectsExcessConnections tests the 429 response and its headers.
func TestAdmissionRejectsExcessConnections(t *testing.T) {
	cfg := server.DefaultConfig()
	cfg.Admission.FreeLimit = 2
	_, testServer := testhelpers.StartServer(t, cfg)

	wsURL := testhelpers.WebSocketURL(testServer.URL, "alice", "")
	for i := 0; i < 2; i++ {
		conn, err := testhelpers.ConnectWebSocket(wsURL)
		if err != nil {
			t.Fatalf("Connection %d should be admitted: %v", i, err)
		}
		defer func() { _ = conn.Close() }()
	}

	_, resp, err := testhelpers.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("Expected the third connection to be refused")
	}
	if resp == nil {
		t.Fatalf("Expected an HTTP response, got %v", err)
	}
	var body struct {
		Error      string `json:"error"`
		Code       string `json:"code"`
		RetryAfter int    `json:"retry_after"`
	}
	testhelpers.DecodeJSON(t, resp, &body)

	testhelpers.AssertStatusCode(t, resp, http.StatusTooManyRequests)
	retry, convErr := strconv.Atoi(resp.Header.Get("Retry-After"))
	if convErr != nil || retry < 1 || retry > 60 {
		t.Errorf("Unexpected Retry-After %q", resp.Header.Get("Retry-After"))
	}
	if body.Code != "user_rate_limited" || body.RetryAfter != retry {
		t.Errorf("Unexpected denial body: %+v", body)
	}
}

// TestIPLimitAndForwardedFor tests the per-address limit with and without
// trusting X-Forwarded-For.
func TestIPLimitAndForwardedFor(t *testing.T) {
	connect := func(t *testing.T, serverURL, user, forwardedFor string) int {
		header := http.Header{"Origin": {testhelpers.TestOrigin}}
		if forwardedFor != "" {
			header.Set("X-Forwarded-For", forwardedFor)
		}
		conn, resp, err := testhelpers.Dial(testhelpers.WebSocketURL(serverURL, user, ""), header)
		if err == nil {
			t.Cleanup(func() { _ = conn.Close() })
			return http.StatusSwitchingProtocols
		}
		if resp == nil {
			t.Fatalf("Dial failed without a response: %v", err)
		}
		_ = resp.Body.Close()
		return resp.StatusCode
	}

	t.Run("untrusted", func(t *testing.T) {
		cfg := server.DefaultConfig()
		cfg.Admission.IPLimit = 2
		_, testServer := testhelpers.StartServer(t, cfg)

		for i := 0; i < 2; i++ {
			if code := connect(t, testServer.URL, fmt.Sprintf("u%d", i), fmt.Sprintf("203.0.113.%d", i)); code != http.StatusSwitchingProtocols {
				t.Fatalf("Connection %d refused with %d", i, code)
			}
		}
		if code := connect(t, testServer.URL, "u9", "203.0.113.9"); code != http.StatusTooManyRequests {
			t.Errorf("Expected 429 once the address limit is reached, got %d", code)
		}
	})

	t.Run("trusted", func(t *testing.T) {
		cfg := server.DefaultConfig()
		cfg.Admission.IPLimit = 2
		cfg.TrustForwardedFor = true
		_, testServer := testhelpers.StartServer(t, cfg)

		for i := 0; i < 4; i++ {
			if code := connect(t, testServer.URL, fmt.Sprintf("u%d", i), fmt.Sprintf("203.0.113.%d", i)); code != http.StatusSwitchingProtocols {
				t.Fatalf("Connection %d refused with %d", i, code)
			}
		}
	})
}

// TestBlockAndUnblock tests escalation to a block and the admin unblock.
func TestBlockAndUnblock(t *testing.T) {
	cfg := server.DefaultConfig()
	cfg.Admission.FreeLimit = 1
	cfg.Admission.ViolationThreshold = 2
	srv, testServer := testhelpers.StartServer(t, cfg)

	wsURL := testhelpers.WebSocketURL(testServer.URL, "alice", "")
	conn, err := testhelpers.ConnectWebSocket(wsURL)
	if err != nil {
		t.Fatalf("First connection should be admitted: %v", err)
	}
	defer func() { _ = conn.Close() }()

	for i := 0; i < 2; i++ {
		if c, err := testhelpers.ConnectWebSocket(wsURL); err == nil {
			_ = c.Close()
			t.Fatalf("Attempt %d should be refused", i)
		}
	}

	_, resp, _ := testhelpers.Dial(wsURL, nil)
	if resp == nil {
		t.Fatal("Expected an HTTP response for a blocked user")
	}
	var body map[string]any
	testhelpers.DecodeJSON(t, resp, &body)
	if body["error"] != "blocked" || resp.Header.Get("Retry-After") != "3600" {
		t.Errorf("Expected a blocked denial, got %v (Retry-After %s)", body, resp.Header.Get("Retry-After"))
	}

	for _, path := range []string{"/admin/admission/users/alice/unblock", "/admin/admission/ips/127.0.0.1/unblock"} {
		r := testhelpers.MakeRequest(t, http.MethodPost, testServer.URL+path)
		_ = r.Body.Close()
		testhelpers.AssertStatusCode(t, r, http.StatusOK)
	}

	stats := srv.Hub().Admission().UserStats("alice")
	if stats.Blocked || stats.Violations != 0 {
		t.Errorf("Expected alice to be unblocked with no violations, got %+v", stats)
	}
}

// TestFrameRateLimiting tests that frames beyond the burst are discarded
// while the connection stays open.
func TestFrameRateLimiting(t *testing.T) {
	cfg := server.DefaultConfig()
	cfg.RateLimit = server.RateLimitConfig{Burst: 3, RefillInterval: time.Hour}
	srv, testServer := testhelpers.StartServer(t, cfg)
	alice, _ := testhelpers.Connect(t, testServer.URL, "alice", "lobby")

	for i := 0; i < 6; i++ {
		if err := testhelpers.SendChat(alice, fmt.Sprintf("burst %d", i)); err != nil {
			t.Fatalf("Failed to send: %v", err)
		}
	}

	for i := 0; i < 3; i++ {
		testhelpers.AssertMessageContent(t, testhelpers.ReadUntil(t, alice, "chat_message"), fmt.Sprintf("burst %d", i))
	}
	testhelpers.ExpectNoEvent(t, alice, "chat_message", 200*time.Millisecond)

	if n := srv.Hub().ClientCount(); n != 1 {
		t.Errorf("Throttled client should stay connected, got %d clients", n)
	}
}
