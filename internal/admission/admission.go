// Package admission implements request-rate admission control with three
// independent sliding windows (per user, per IP, global) and escalation to a
// block list for repeat offenders.
package admission

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/Tyrowin/roomchat/internal/ring"
)

// Code classifies a Decision.
type Code string

// Decision codes. Only one denial code is reported per check, evaluated in
// the order user, IP, global.
const (
	CodeAllowed       Code = "allowed"
	CodeUserLimited   Code = "user_rate_limited"
	CodeIPLimited     Code = "ip_rate_limited"
	CodeGlobalLimited Code = "global_rate_limited"
	CodeBlocked       Code = "blocked"
)

// Denial reasons reported to callers.
const (
	ReasonUserLimit   = "user rate limit exceeded"
	ReasonIPLimit     = "IP rate limit exceeded"
	ReasonGlobalLimit = "global rate limit exceeded"
	ReasonBlocked     = "blocked"
)

// Decision is the result of a Check.
type Decision struct {
	Allowed           bool      `json:"allowed"`
	Code              Code      `json:"code"`
	Reason            string    `json:"reason,omitempty"`
	RetryAfterSeconds int       `json:"retry_after_seconds,omitempty"`
	Remaining         int       `json:"remaining"`
	Limit             int       `json:"limit"`
	ResetAt           time.Time `json:"reset_at"`
}

type window = ring.Buffer[time.Time]

// Controller is safe for concurrent use. Each Check purges, compares and
// appends under one lock, so concurrent callers never over-admit.
type Controller struct {
	mu     sync.Mutex
	limits Limits
	now    func() time.Time
	logger *slog.Logger

	users  map[string]*window
	ips    map[string]*window
	global *window

	violations   map[string]*window
	blockedUsers map[string]time.Time
	blockedIPs   map[string]time.Time
}

// New returns a Controller with DefaultLimits unless overridden.
func New(opts ...Option) *Controller {
	c := &Controller{
		limits:       DefaultLimits(),
		now:          time.Now,
		logger:       slog.Default(),
		users:        make(map[string]*window),
		ips:          make(map[string]*window),
		violations:   make(map[string]*window),
		blockedUsers: make(map[string]time.Time),
		blockedIPs:   make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.global = ring.New[time.Time](c.limits.Global)
	return c
}

// Limits returns the active limits.
func (c *Controller) Limits() Limits {
	return c.limits
}

// Check decides whether userID calling from ip at tier may proceed, and
// records the request when it may.
func (c *Controller) Check(userID, ip string, tier Tier) Decision {
	now := c.now()
	userLimit := c.limits.forTier(tier)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isBlocked(userID, ip) {
		return Decision{
			Code:              CodeBlocked,
			Reason:            ReasonBlocked,
			RetryAfterSeconds: seconds(c.limits.BlockRetryAfter),
			Limit:             userLimit,
			ResetAt:           now.Add(c.limits.BlockRetryAfter),
		}
	}

	cutoff := now.Add(-c.limits.Window)
	userWindow := c.purged(c.users, userID, cutoff)
	ipWindow := c.purged(c.ips, ip, cutoff)
	purge(c.global, cutoff)

	switch {
	case length(userWindow) >= userLimit:
		return c.deny(userID, ip, CodeUserLimited, ReasonUserLimit, userWindow, userLimit, now)
	case length(ipWindow) >= c.limits.IP:
		return c.deny(userID, ip, CodeIPLimited, ReasonIPLimit, ipWindow, userLimit, now)
	case c.global.Len() >= c.limits.Global:
		return c.deny(userID, ip, CodeGlobalLimited, ReasonGlobalLimit, c.global, userLimit, now)
	}

	used := length(userWindow)
	c.record(c.users, userID, userLimit, now)
	c.record(c.ips, ip, c.limits.IP, now)
	c.global.Push(now)

	return Decision{
		Allowed:   true,
		Code:      CodeAllowed,
		Remaining: userLimit - used - 1,
		Limit:     userLimit,
		ResetAt:   now.Add(c.limits.Window),
	}
}

func (c *Controller) deny(userID, ip string, code Code, reason string, w *window, limit int, now time.Time) Decision {
	retry := c.limits.Window
	if oldest, ok := w.Front(); ok {
		retry = oldest.Add(c.limits.Window).Sub(now)
	}
	c.recordViolation(userID, ip, now)
	return Decision{
		Code:              code,
		Reason:            reason,
		RetryAfterSeconds: max(seconds(retry), 1),
		Limit:             limit,
		ResetAt:           now.Add(retry),
	}
}

// recordViolation logs a denial against userID and blocks userID and ip once
// the threshold is reached inside the violation window.
func (c *Controller) recordViolation(userID, ip string, now time.Time) {
	log, ok := c.violations[userID]
	if !ok {
		log = ring.New[time.Time](c.limits.ViolationThreshold)
		c.violations[userID] = log
	}
	log.Push(now)
	purge(log, now.Add(-c.limits.ViolationWindow))

	if log.Len() < c.limits.ViolationThreshold {
		return
	}
	c.blockedUsers[userID] = now
	c.blockedIPs[ip] = now
	c.logger.Warn("Blocked user and IP due to repeated rate limit violations",
		"user_id", userID, "ip", ip, "violations", log.Len())
}

func (c *Controller) isBlocked(userID, ip string) bool {
	if _, ok := c.blockedUsers[userID]; ok {
		return true
	}
	_, ok := c.blockedIPs[ip]
	return ok
}

// purged drops expired entries for key and forgets the key once empty.
func (c *Controller) purged(windows map[string]*window, key string, cutoff time.Time) *window {
	w, ok := windows[key]
	if !ok {
		return nil
	}
	purge(w, cutoff)
	if w.Len() == 0 {
		delete(windows, key)
		return nil
	}
	return w
}

func (c *Controller) record(windows map[string]*window, key string, limit int, now time.Time) {
	w, ok := windows[key]
	if !ok {
		w = ring.New[time.Time](limit)
		windows[key] = w
	} else if w.Cap() < limit {
		w.Resize(limit)
	}
	w.Push(now)
}

// UnblockUser lifts a block on userID and clears its violation history.
func (c *Controller) UnblockUser(userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, blocked := c.blockedUsers[userID]
	delete(c.blockedUsers, userID)
	delete(c.violations, userID)
	return blocked
}

// UnblockIP lifts a block on ip.
func (c *Controller) UnblockIP(ip string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, blocked := c.blockedIPs[ip]
	delete(c.blockedIPs, ip)
	return blocked
}

// UserStats summarises one user's admission state.
type UserStats struct {
	CurrentRequests int        `json:"current_requests"`
	Violations      int        `json:"violations"`
	Blocked         bool       `json:"blocked"`
	LastRequest     *time.Time `json:"last_request"`
}

// UserStats reports the current window usage and block state of userID.
func (c *Controller) UserStats(userID string) UserStats {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	var stats UserStats
	if w := c.purged(c.users, userID, now.Add(-c.limits.Window)); w != nil {
		stats.CurrentRequests = w.Len()
		if last, ok := w.Back(); ok {
			stats.LastRequest = &last
		}
	}
	if log, ok := c.violations[userID]; ok {
		stats.Violations = log.Len()
	}
	_, stats.Blocked = c.blockedUsers[userID]
	return stats
}

// Stats summarises the whole controller.
type Stats struct {
	GlobalRequests int `json:"global_requests"`
	ActiveUsers    int `json:"active_users"`
	ActiveIPs      int `json:"active_ips"`
	BlockedUsers   int `json:"blocked_users"`
	BlockedIPs     int `json:"blocked_ips"`
	Violations     int `json:"violations"`
}

// Stats sweeps expired state and returns global counters.
func (c *Controller) Stats() Stats {
	c.Sweep()

	c.mu.Lock()
	defer c.mu.Unlock()

	stats := Stats{
		GlobalRequests: c.global.Len(),
		ActiveUsers:    len(c.users),
		ActiveIPs:      len(c.ips),
		BlockedUsers:   len(c.blockedUsers),
		BlockedIPs:     len(c.blockedIPs),
	}
	for _, log := range c.violations {
		stats.Violations += log.Len()
	}
	return stats
}

// Sweep purges every window and violation log, dropping keys left empty.
// It returns the number of keys removed.
func (c *Controller) Sweep() int {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := now.Add(-c.limits.Window)
	removed := 0
	for _, windows := range []map[string]*window{c.users, c.ips} {
		for key := range windows {
			if c.purged(windows, key, cutoff) == nil {
				removed++
			}
		}
	}
	purge(c.global, cutoff)

	violationCutoff := now.Add(-c.limits.ViolationWindow)
	for user, log := range c.violations {
		purge(log, violationCutoff)
		if log.Len() == 0 {
			delete(c.violations, user)
			removed++
		}
	}
	return removed
}

func purge(w *window, cutoff time.Time) {
	w.DropWhile(func(ts time.Time) bool { return ts.Before(cutoff) })
}

func length(w *window) int {
	if w == nil {
		return 0
	}
	return w.Len()
}

func seconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}
