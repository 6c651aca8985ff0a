package server

import (
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(values map[string]string) func(string) string {
	return func(key string) string { return values[key] }
}

// TestLoadConfigLayers verifies YAML values override defaults and
// environment variables override YAML.
func TestLoadConfigLayers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roomchat.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: ":9090"
allowed_origins:
  - https://Chat.Example.com
rate_limit:
  burst: 5
  refill_interval: 2s
rooms:
  default_room: lobby
admission:
  free_limit: 3
ai:
  timeout: 5s
  sender_name: Bot
`), 0o600))

	t.Setenv("SERVER_PORT", ":7070")
	t.Setenv("AI_TIMEOUT", "7")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.Port)
	assert.Equal(t, []string{"https://chat.example.com"}, cfg.AllowedOrigins)
	assert.Equal(t, RateLimitConfig{Burst: 5, RefillInterval: 2 * time.Second}, cfg.RateLimit)
	assert.Equal(t, "lobby", cfg.Rooms.DefaultRoom)
	assert.Equal(t, 100, cfg.Rooms.HistorySize)
	assert.Equal(t, 3, cfg.Admission.FreeLimit)
	assert.Equal(t, 100, cfg.Admission.PremiumLimit)
	assert.Equal(t, 7*time.Second, cfg.AI.Timeout)
	assert.Equal(t, "Bot", cfg.AI.SenderName)
}

// TestLoadConfigMissingFile verifies a bad path is reported.
func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

// TestApplyEnv verifies each recognised variable and the error report for
// unparsable values.
func TestApplyEnv(t *testing.T) {
	cfg, err := applyEnv(DefaultConfig(), envMap(map[string]string{
		"ALLOWED_ORIGINS":            "http://a.test, http://b.test",
		"MAX_MESSAGE_SIZE":           "1024",
		"RATE_LIMIT_BURST":           "20",
		"RATE_LIMIT_REFILL_INTERVAL": "500ms",
		"AI_ENDPOINT":                "http://ai.test/v1/chat/completions",
		"AI_MODEL":                   "gpt-test",
		"AI_API_KEY":                 "secret",
	}))
	require.NoError(t, err)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.AllowedOrigins)
	assert.Equal(t, int64(1024), cfg.MaxMessageSize)
	assert.Equal(t, 20, cfg.RateLimit.Burst)
	assert.Equal(t, 500*time.Millisecond, cfg.RateLimit.RefillInterval)
	assert.Equal(t, "http://ai.test/v1/chat/completions", cfg.AI.Endpoint)
	assert.Equal(t, "gpt-test", cfg.AI.Model)
	assert.Equal(t, "secret", cfg.AI.APIKey)

	_, err = applyEnv(DefaultConfig(), envMap(map[string]string{
		"MAX_MESSAGE_SIZE": "big",
		"RATE_LIMIT_BURST": "-1",
		"AI_TIMEOUT":       "soon",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MAX_MESSAGE_SIZE")
	assert.Contains(t, err.Error(), "RATE_LIMIT_BURST")
	assert.Contains(t, err.Error(), "AI_TIMEOUT")
}

// TestSanitize verifies zero values fall back to defaults and origins are
// normalized.
func TestSanitize(t *testing.T) {
	cfg := Config{
		AllowedOrigins: []string{" * ", "HTTP://Example.COM:8080", "not-an-origin", ""},
		Rooms:          RoomConfig{DefaultRoom: "  "},
	}.Sanitize()

	def := DefaultConfig()
	assert.Equal(t, def.Port, cfg.Port)
	assert.Equal(t, def.MaxMessageSize, cfg.MaxMessageSize)
	assert.Equal(t, def.SendBufferSize, cfg.SendBufferSize)
	assert.Equal(t, def.RateLimit, cfg.RateLimit)
	assert.Equal(t, def.Rooms.DefaultRoom, cfg.Rooms.DefaultRoom)
	assert.Equal(t, def.Rooms.HistorySize, cfg.Rooms.HistorySize)
	assert.Zero(t, cfg.Rooms.RecentOnJoin, "zero recent messages is a valid setting")
	assert.Equal(t, def.Admission, cfg.Admission)
	assert.Equal(t, def.AI, cfg.AI)
	assert.Equal(t, []string{"*", "http://example.com:8080"}, cfg.AllowedOrigins)
}

// TestOriginPolicy verifies origin matching.
func TestOriginPolicy(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"exact match", []string{"http://localhost:8080"}, "http://localhost:8080", true},
		{"case insensitive", []string{"http://localhost:8080"}, "HTTP://LOCALHOST:8080", true},
		{"other host", []string{"http://localhost:8080"}, "http://evil.test", false},
		{"other port", []string{"http://localhost:8080"}, "http://localhost:9090", false},
		{"missing origin", []string{"http://localhost:8080"}, "", false},
		{"wildcard", []string{"*"}, "https://anything.test", true},
		{"wildcard rejects garbage", []string{"*"}, "null", false},
		{"invalid config entry ignored", []string{"localhost"}, "http://localhost", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newOriginPolicy(tt.allowed, discardLogger())
			r := httptest.NewRequest("GET", "/ws", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, p.check(r))
		})
	}
}
