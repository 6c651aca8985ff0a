package admission

import (
	"log/slog"
	"strings"
	"time"
)

// Tier is the service level of a caller; it selects the per-user limit.
type Tier string

// Known tiers.
const (
	TierFree       Tier = "free"
	TierPremium    Tier = "premium"
	TierEnterprise Tier = "enterprise"
)

// ParseTier maps a header or config value onto a Tier. The "_user" suffix used
// by older clients is accepted; anything unrecognised is TierFree.
func ParseTier(s string) Tier {
	switch strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "_user") {
	case "premium":
		return TierPremium
	case "enterprise":
		return TierEnterprise
	default:
		return TierFree
	}
}

// Limits configures the three sliding windows and abuse escalation.
type Limits struct {
	// Tiers maps a tier to its per-user request limit per Window.
	Tiers map[Tier]int
	// IP is the per-address request limit per Window.
	IP int
	// Global is the process-wide request limit per Window.
	Global int
	// Window is the trailing window length shared by all three counters.
	Window time.Duration

	// ViolationThreshold denials within ViolationWindow block the user and
	// the address that triggered the last one.
	ViolationThreshold int
	ViolationWindow    time.Duration
	// BlockRetryAfter is reported to blocked callers.
	BlockRetryAfter time.Duration
}

// DefaultLimits returns free=20, premium=100, enterprise=500 per user, 50 per
// IP and 1000 globally per minute, with blocking after 5 denials in an hour.
func DefaultLimits() Limits {
	return Limits{
		Tiers: map[Tier]int{
			TierFree:       20,
			TierPremium:    100,
			TierEnterprise: 500,
		},
		IP:                 50,
		Global:             1000,
		Window:             time.Minute,
		ViolationThreshold: 5,
		ViolationWindow:    time.Hour,
		BlockRetryAfter:    time.Hour,
	}
}

func (l Limits) sanitize() Limits {
	def := DefaultLimits()
	tiers := make(map[Tier]int, len(def.Tiers))
	for tier, limit := range def.Tiers {
		tiers[tier] = limit
	}
	for tier, limit := range l.Tiers {
		if limit > 0 {
			tiers[tier] = limit
		}
	}
	l.Tiers = tiers

	if l.IP <= 0 {
		l.IP = def.IP
	}
	if l.Global <= 0 {
		l.Global = def.Global
	}
	if l.Window <= 0 {
		l.Window = def.Window
	}
	if l.ViolationThreshold <= 0 {
		l.ViolationThreshold = def.ViolationThreshold
	}
	if l.ViolationWindow <= 0 {
		l.ViolationWindow = def.ViolationWindow
	}
	if l.BlockRetryAfter <= 0 {
		l.BlockRetryAfter = def.BlockRetryAfter
	}
	return l
}

func (l Limits) forTier(t Tier) int {
	if limit, ok := l.Tiers[t]; ok {
		return limit
	}
	return l.Tiers[TierFree]
}

// Option configures a Controller.
type Option func(*Controller)

// WithLimits replaces the default limits. Unset fields keep their defaults.
func WithLimits(l Limits) Option {
	return func(c *Controller) {
		c.limits = l.sanitize()
	}
}

// WithClock sets the time source, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger sets the logger used for blocking events.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}
