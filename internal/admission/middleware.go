package admission

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
)

// Identity is who a request is admitted as.
type Identity struct {
	UserID string
	IP     string
	Tier   Tier
}

// IdentifyFunc extracts an Identity from a request. An empty UserID skips
// admission and leaves rejection to the wrapped handler.
type IdentifyFunc func(*http.Request) Identity

type decisionKey struct{}

// FromContext returns the Decision stored by Middleware, if any.
func FromContext(ctx context.Context) (Decision, bool) {
	d, ok := ctx.Value(decisionKey{}).(Decision)
	return d, ok
}

// Middleware admits each request through ctrl before calling next. Denied
// requests get 429 with Retry-After; admitted ones carry X-RateLimit-*
// headers and the Decision in their context.
func Middleware(ctrl *Controller, identify IdentifyFunc, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := identify(r)
		if id.UserID == "" {
			next.ServeHTTP(w, r)
			return
		}

		d := ctrl.Check(id.UserID, id.IP, id.Tier)
		if !d.Allowed {
			WriteDenied(w, d)
			return
		}
		setRateLimitHeaders(w.Header(), d)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), decisionKey{}, d)))
	})
}

type deniedBody struct {
	Error      string `json:"error"`
	Code       Code   `json:"code"`
	RetryAfter int    `json:"retry_after"`
}

// WriteDenied writes a 429 response describing d.
func WriteDenied(w http.ResponseWriter, d Decision) {
	h := w.Header()
	setRateLimitHeaders(h, d)
	h.Set("Retry-After", strconv.Itoa(d.RetryAfterSeconds))
	h.Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(deniedBody{
		Error:      d.Reason,
		Code:       d.Code,
		RetryAfter: d.RetryAfterSeconds,
	})
}

func setRateLimitHeaders(h http.Header, d Decision) {
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(max(d.Remaining, 0)))
	if !d.ResetAt.IsZero() {
		h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
	}
}

// ClientIP returns the caller's address. With trustProxy set the first entry
// of X-Forwarded-For wins, then X-Real-IP.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
