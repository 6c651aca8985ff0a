// Package testhelpers provides common utilities and helper functions for testing the room chat server.
//
// It starts fully wired servers behind httptest, dials WebSocket clients into rooms and reads
// typed events back, so integration tests stay focused on behaviour.
package testhelpers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/roomchat/internal/server"
)

// TestOrigin is the origin test clients present; DefaultConfig allows it.
const TestOrigin = "http://localhost:8080"

// ReadTimeout bounds every single event read.
const ReadTimeout = 3 * time.Second

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// StartServer builds a server for cfg, starts its hub and serves its routes.
// The hub is shut down and the listener closed when the test ends.
func StartServer(t *testing.T, cfg server.Config, opts ...server.HubOption) (*server.Server, *httptest.Server) {
	t.Helper()
	opts = append([]server.HubOption{server.WithLogger(DiscardLogger())}, opts...)
	srv := server.New(cfg, opts...)
	srv.Start()

	testServer := httptest.NewServer(srv.Routes())
	t.Cleanup(testServer.Close)
	t.Cleanup(func() {
		if err := srv.Hub().Shutdown(5 * time.Second); err != nil {
			t.Errorf("Hub shutdown failed: %v", err)
		}
	})
	return srv, testServer
}

// WebSocketURL returns the ws:// URL for userID joining roomID. An empty
// roomID leaves the choice to the server.
func WebSocketURL(serverURL, userID, roomID string) string {
	u := "ws" + strings.TrimPrefix(serverURL, "http") + "/ws/" + url.PathEscape(userID)
	if roomID != "" {
		u += "?room_id=" + url.QueryEscape(roomID)
	}
	return u
}

// Dial opens a WebSocket with the given headers. A nil header sends TestOrigin.
func Dial(rawURL string, header http.Header) (*websocket.Conn, *http.Response, error) {
	if header == nil {
		header = http.Header{}
		header.Set("Origin", TestOrigin)
	}
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}
	return dialer.Dial(rawURL, header)
}

// ConnectWebSocket creates a WebSocket connection to the specified URL.
// It returns the connection or an error if connection fails.
func ConnectWebSocket(rawURL string) (*websocket.Conn, error) {
	conn, resp, err := Dial(rawURL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// Connect joins userID to roomID, consumes the welcome event and returns
// the connection together with it. The connection is closed when the test ends.
func Connect(t *testing.T, serverURL, userID, roomID string) (*websocket.Conn, map[string]any) {
	t.Helper()
	conn, err := ConnectWebSocket(WebSocketURL(serverURL, userID, roomID))
	if err != nil {
		t.Fatalf("Failed to connect %s: %v", userID, err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	welcome := ReadUntil(t, conn, "welcome")
	return conn, welcome
}

// SendEvent writes one client envelope.
func SendEvent(conn *websocket.Conn, event map[string]any) error {
	return conn.WriteJSON(event)
}

// SendChat sends a chat_message with content.
func SendChat(conn *websocket.Conn, content string) error {
	return SendEvent(conn, map[string]any{"type": "chat_message", "content": content})
}

// ReceiveMessage reads one JSON event, waiting at most ReadTimeout.
func ReceiveMessage(conn *websocket.Conn) (map[string]any, error) {
	if err := conn.SetReadDeadline(time.Now().Add(ReadTimeout)); err != nil {
		return nil, err
	}
	var message map[string]any
	err := conn.ReadJSON(&message)
	return message, err
}

// ReadUntil reads events until one of eventType arrives and returns it.
// Events of other types are skipped.
func ReadUntil(t *testing.T, conn *websocket.Conn, eventType string) map[string]any {
	t.Helper()
	for {
		message, err := ReceiveMessage(conn)
		if err != nil {
			t.Fatalf("Waiting for %s: %v", eventType, err)
		}
		if message["type"] == eventType {
			return message
		}
	}
}

// ExpectNoEvent fails if an event of eventType arrives within wait. A read
// deadline leaves a gorilla connection unusable, so this must be the last
// read on conn.
func ExpectNoEvent(t *testing.T, conn *websocket.Conn, eventType string, wait time.Duration) {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(wait)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	for {
		var message map[string]any
		err := conn.ReadJSON(&message)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return
			}
			t.Fatalf("Unexpected read error: %v", err)
		}
		if message["type"] == eventType {
			t.Fatalf("Unexpected %s event: %v", eventType, message)
		}
	}
}

// ExpectClosed fails unless the server closes conn within ReadTimeout.
func ExpectClosed(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(ReadTimeout)); err != nil {
		return
	}
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				t.Fatal("Connection was not closed by the server")
			}
			return
		}
	}
}

// CloseWebSocket gracefully closes a WebSocket connection.
func CloseWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}

// AssertStatusCode checks if the HTTP response has the expected status code.
// It fails the test with a descriptive error message if the status codes don't match.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Expected status code %d, got %d", expected, resp.StatusCode)
	}
}

// AssertContentType checks if the HTTP response has the expected Content-Type header.
// It fails the test with a descriptive error message if the content types don't match.
func AssertContentType(t *testing.T, resp *http.Response, expected string) {
	t.Helper()
	contentType := resp.Header.Get("Content-Type")
	if contentType != expected {
		t.Errorf("Expected content type %s, got %s", expected, contentType)
	}
}

// MakeRequest creates and executes an HTTP request, returning the response.
// It includes a 5-second timeout and fails the test if the request cannot be
// created or executed successfully.
func MakeRequest(t *testing.T, method, rawURL string) *http.Response {
	t.Helper()

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	req, err := http.NewRequest(method, rawURL, http.NoBody)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}

	return resp
}

// DecodeJSON decodes and closes a response body.
func DecodeJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
}

// AssertMessageContent checks if the received message has the expected content.
func AssertMessageContent(t *testing.T, message map[string]any, expectedContent string) {
	t.Helper()

	content, ok := message["content"]
	if !ok {
		t.Error("Message does not contain 'content' field")
		return
	}

	contentStr, ok := content.(string)
	if !ok {
		t.Error("Message content is not a string")
		return
	}

	if contentStr != expectedContent {
		t.Errorf("Expected content %q, got %q", expectedContent, contentStr)
	}
}
