package integration

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/roomchat/internal/completion"
	"github.com/Tyrowin/roomchat/internal/server"
	"github.com/Tyrowin/roomchat/test/testhelpers"
)

// TestGracefulShutdownWithClients tests that shutdown closes every client
// and refuses new sessions.
func TestGracefulShutdownWithClients(t *testing.T) {
	srv, testServer := testhelpers.StartServer(t, server.DefaultConfig())

	clients := make([]*websocket.Conn, 3)
	for i := range clients {
		clients[i], _ = testhelpers.Connect(t, testServer.URL, fmt.Sprintf("user-%d", i), "lobby")
	}

	if err := srv.Hub().Shutdown(5 * time.Second); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	for _, conn := range clients {
		testhelpers.ExpectClosed(t, conn)
	}
	if n := srv.Hub().ClientCount(); n != 0 {
		t.Errorf("Expected no clients after shutdown, got %d", n)
	}

	late, err := testhelpers.ConnectWebSocket(testhelpers.WebSocketURL(testServer.URL, "late", "lobby"))
	if err == nil {
		defer func() { _ = late.Close() }()
		testhelpers.ExpectClosed(t, late)
	}
}

// TestShutdownWaitsForAIRequests tests that shutdown cancels in-flight
// completions and reports them to the requester.
func TestShutdownWaitsForAIRequests(t *testing.T) {
	started := make(chan struct{})
	var once sync.Once
	blocking := completion.Func(func(ctx context.Context, _, _ string) (string, error) {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return "", ctx.Err()
	})

	srv, testServer := testhelpers.StartServer(t, server.DefaultConfig(), server.WithCompleter(blocking))
	alice, _ := testhelpers.Connect(t, testServer.URL, "alice", "lobby")

	err := testhelpers.SendEvent(alice, map[string]any{"type": "ai_request", "request_id": "r1", "content": "hi"})
	if err != nil {
		t.Fatalf("Failed to send ai_request: %v", err)
	}
	select {
	case <-started:
	case <-time.After(testhelpers.ReadTimeout):
		t.Fatal("Completion never started")
	}

	if err := srv.Hub().Shutdown(5 * time.Second); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	testhelpers.ExpectClosed(t, alice)
}

// TestShutdownWithStuckCompletion tests that shutdown does not wait on a
// completion that ignores cancellation.
func TestShutdownWithStuckCompletion(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	stuck := completion.Func(func(context.Context, string, string) (string, error) {
		once.Do(func() { close(started) })
		<-release
		return "late", nil
	})

	srv, testServer := testhelpers.StartServer(t, server.DefaultConfig(), server.WithCompleter(stuck))
	defer close(release)

	alice, _ := testhelpers.Connect(t, testServer.URL, "alice", "lobby")
	if err := testhelpers.SendEvent(alice, map[string]any{"type": "ai_request", "request_id": "r1", "content": "hi"}); err != nil {
		t.Fatalf("Failed to send ai_request: %v", err)
	}
	<-started

	start := time.Now()
	if err := srv.Hub().Shutdown(2 * time.Second); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Shutdown waited %v on a stuck completion", elapsed)
	}
	testhelpers.ExpectClosed(t, alice)
}

// TestConcurrentShutdown tests that concurrent shutdown calls all complete.
func TestConcurrentShutdown(t *testing.T) {
	srv, testServer := testhelpers.StartServer(t, server.DefaultConfig())
	testhelpers.Connect(t, testServer.URL, "alice", "lobby")

	var wg sync.WaitGroup
	errs := make(chan error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- srv.Hub().Shutdown(5 * time.Second)
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("Shutdown failed: %v", err)
		}
	}
}

// TestNoClientsShutdown tests shutting down an idle hub.
func TestNoClientsShutdown(t *testing.T) {
	srv, _ := testhelpers.StartServer(t, server.DefaultConfig())

	start := time.Now()
	if err := srv.Hub().Shutdown(5 * time.Second); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Idle shutdown took %v", elapsed)
	}
}
