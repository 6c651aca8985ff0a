package server

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Tyrowin/roomchat/internal/admission"
)

// RateLimitConfig defines the per-connection inbound frame throttle.
type RateLimitConfig struct {
	Burst          int           `yaml:"burst"`
	RefillInterval time.Duration `yaml:"refill_interval"`
}

// RoomConfig controls room defaults and history.
type RoomConfig struct {
	DefaultRoom  string `yaml:"default_room"`
	HistorySize  int    `yaml:"history_size"`
	RecentOnJoin int    `yaml:"recent_on_join"`
}

// AdmissionConfig holds the sliding-window limits applied before a
// connection is accepted and before each AI request.
type AdmissionConfig struct {
	FreeLimit          int           `yaml:"free_limit"`
	PremiumLimit       int           `yaml:"premium_limit"`
	EnterpriseLimit    int           `yaml:"enterprise_limit"`
	IPLimit            int           `yaml:"ip_limit"`
	GlobalLimit        int           `yaml:"global_limit"`
	Window             time.Duration `yaml:"window"`
	ViolationThreshold int           `yaml:"violation_threshold"`
	ViolationWindow    time.Duration `yaml:"violation_window"`
	BlockRetryAfter    time.Duration `yaml:"block_retry_after"`
	SweepInterval      time.Duration `yaml:"sweep_interval"`
}

// Limits converts the config into admission limits.
func (a AdmissionConfig) Limits() admission.Limits {
	return admission.Limits{
		Tiers: map[admission.Tier]int{
			admission.TierFree:       a.FreeLimit,
			admission.TierPremium:    a.PremiumLimit,
			admission.TierEnterprise: a.EnterpriseLimit,
		},
		IP:                 a.IPLimit,
		Global:             a.GlobalLimit,
		Window:             a.Window,
		ViolationThreshold: a.ViolationThreshold,
		ViolationWindow:    a.ViolationWindow,
		BlockRetryAfter:    a.BlockRetryAfter,
	}
}

// AIConfig configures the completion relay. An empty Endpoint selects the
// offline simulated completer.
type AIConfig struct {
	Endpoint      string        `yaml:"endpoint"`
	Model         string        `yaml:"model"`
	APIKey        string        `yaml:"api_key"`
	Timeout       time.Duration `yaml:"timeout"`
	MaxConcurrent int64         `yaml:"max_concurrent"`
	SenderName    string        `yaml:"sender_name"`
}

// Config holds the server configuration settings including security controls.
type Config struct {
	Port              string          `yaml:"port"`
	AllowedOrigins    []string        `yaml:"allowed_origins"`
	MaxMessageSize    int64           `yaml:"max_message_size"`
	SendBufferSize    int             `yaml:"send_buffer_size"`
	TrustForwardedFor bool            `yaml:"trust_forwarded_for"`
	ShutdownTimeout   time.Duration   `yaml:"shutdown_timeout"`
	RateLimit         RateLimitConfig `yaml:"rate_limit"`
	Rooms             RoomConfig      `yaml:"rooms"`
	Admission         AdmissionConfig `yaml:"admission"`
	AI                AIConfig        `yaml:"ai"`
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	limits := admission.DefaultLimits()
	return Config{
		Port: ":8080",
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize:  4096,
		SendBufferSize:  256,
		ShutdownTimeout: 10 * time.Second,
		RateLimit: RateLimitConfig{
			Burst:          10,
			RefillInterval: time.Second,
		},
		Rooms: RoomConfig{
			DefaultRoom:  "general",
			HistorySize:  100,
			RecentOnJoin: 10,
		},
		Admission: AdmissionConfig{
			FreeLimit:          limits.Tiers[admission.TierFree],
			PremiumLimit:       limits.Tiers[admission.TierPremium],
			EnterpriseLimit:    limits.Tiers[admission.TierEnterprise],
			IPLimit:            limits.IP,
			GlobalLimit:        limits.Global,
			Window:             limits.Window,
			ViolationThreshold: limits.ViolationThreshold,
			ViolationWindow:    limits.ViolationWindow,
			BlockRetryAfter:    limits.BlockRetryAfter,
			SweepInterval:      time.Minute,
		},
		AI: AIConfig{
			Timeout:       30 * time.Second,
			MaxConcurrent: 16,
			SenderName:    "Zeeky AI",
		},
	}
}

// Sanitize replaces unset or invalid values with defaults and normalizes the
// allowed origins.
func (cfg Config) Sanitize() Config {
	def := DefaultConfig()

	if cfg.Port == "" {
		cfg.Port = def.Port
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = def.SendBufferSize
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = def.RateLimit.Burst
	}
	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}

	if strings.TrimSpace(cfg.Rooms.DefaultRoom) == "" {
		cfg.Rooms.DefaultRoom = def.Rooms.DefaultRoom
	}
	if cfg.Rooms.HistorySize <= 0 {
		cfg.Rooms.HistorySize = def.Rooms.HistorySize
	}
	if cfg.Rooms.RecentOnJoin < 0 {
		cfg.Rooms.RecentOnJoin = def.Rooms.RecentOnJoin
	}

	cfg.Admission = sanitizeAdmission(cfg.Admission, def.Admission)

	if cfg.AI.Timeout <= 0 {
		cfg.AI.Timeout = def.AI.Timeout
	}
	if cfg.AI.MaxConcurrent <= 0 {
		cfg.AI.MaxConcurrent = def.AI.MaxConcurrent
	}
	if cfg.AI.SenderName == "" {
		cfg.AI.SenderName = def.AI.SenderName
	}

	normalized, allowAll := normalizeOrigins(cfg.AllowedOrigins)
	if allowAll {
		normalized = append([]string{"*"}, normalized...)
	}
	cfg.AllowedOrigins = normalized
	return cfg
}

func sanitizeAdmission(a, def AdmissionConfig) AdmissionConfig {
	positive := func(v *int, d int) {
		if *v <= 0 {
			*v = d
		}
	}
	positiveDuration := func(v *time.Duration, d time.Duration) {
		if *v <= 0 {
			*v = d
		}
	}
	positive(&a.FreeLimit, def.FreeLimit)
	positive(&a.PremiumLimit, def.PremiumLimit)
	positive(&a.EnterpriseLimit, def.EnterpriseLimit)
	positive(&a.IPLimit, def.IPLimit)
	positive(&a.GlobalLimit, def.GlobalLimit)
	positive(&a.ViolationThreshold, def.ViolationThreshold)
	positiveDuration(&a.Window, def.Window)
	positiveDuration(&a.ViolationWindow, def.ViolationWindow)
	positiveDuration(&a.BlockRetryAfter, def.BlockRetryAfter)
	positiveDuration(&a.SweepInterval, def.SweepInterval)
	return a
}

// LoadConfig builds a Config from defaults, then the YAML file at path (if
// path is non-empty), then environment variables.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	cfg, err := applyEnv(cfg, os.Getenv)
	if err != nil {
		return Config{}, err
	}
	return cfg.Sanitize(), nil
}

// applyEnv overlays the recognised environment variables. Numeric values
// that fail to parse are reported together.
func applyEnv(cfg Config, getenv func(string) string) (Config, error) {
	var errs []error

	if port := getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
	}
	if origins := getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}
	if maxSize := getenv("MAX_MESSAGE_SIZE"); maxSize != "" {
		size, err := strconv.ParseInt(maxSize, 10, 64)
		if err != nil || size <= 0 {
			errs = append(errs, fmt.Errorf("MAX_MESSAGE_SIZE: invalid value %q", maxSize))
		} else {
			cfg.MaxMessageSize = size
		}
	}
	if burst := getenv("RATE_LIMIT_BURST"); burst != "" {
		n, err := strconv.Atoi(burst)
		if err != nil || n <= 0 {
			errs = append(errs, fmt.Errorf("RATE_LIMIT_BURST: invalid value %q", burst))
		} else {
			cfg.RateLimit.Burst = n
		}
	}
	if interval := getenv("RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		d, err := parseSeconds(interval)
		if err != nil {
			errs = append(errs, fmt.Errorf("RATE_LIMIT_REFILL_INTERVAL: %w", err))
		} else {
			cfg.RateLimit.RefillInterval = d
		}
	}

	if endpoint := getenv("AI_ENDPOINT"); endpoint != "" {
		cfg.AI.Endpoint = endpoint
	}
	if model := getenv("AI_MODEL"); model != "" {
		cfg.AI.Model = model
	}
	if key := getenv("AI_API_KEY"); key != "" {
		cfg.AI.APIKey = key
	}
	if timeout := getenv("AI_TIMEOUT"); timeout != "" {
		d, err := parseSeconds(timeout)
		if err != nil {
			errs = append(errs, fmt.Errorf("AI_TIMEOUT: %w", err))
		} else {
			cfg.AI.Timeout = d
		}
	}

	return cfg, errors.Join(errs...)
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// parseSeconds accepts a whole number of seconds or a Go duration string.
func parseSeconds(value string) (time.Duration, error) {
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds <= 0 {
			return 0, fmt.Errorf("invalid value %q", value)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid value %q", value)
	}
	return d, nil
}
