package gateway

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/byheaven/aitoy/pkg/admission"
)

const anonymousClient = "anonymous"

// clientID derives the admission identifier. With forwarded headers trusted
// it is the first X-Forwarded-For hop, then X-Real-IP, then "anonymous";
// otherwise it is the connection's remote host.
func (s *Server) clientID(r *http.Request) string {
	if s.cfg.Gateway.TrustForwarded {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if first = strings.TrimSpace(first); first != "" {
				return first
			}
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
		return anonymousClient
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if host == "" {
		return anonymousClient
	}
	return host
}

type rateLimitInfo struct {
	Limit     int   `json:"limit"`
	Remaining int   `json:"remaining"`
	ResetTime int64 `json:"resetTime"`
}

func rateInfo(d admission.Decision) rateLimitInfo {
	return rateLimitInfo{Limit: d.Limit, Remaining: d.Remaining, ResetTime: d.ResetAt.UnixMilli()}
}

func setRateHeaders(w http.ResponseWriter, d admission.Decision) {
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.UnixMilli(), 10))
}

// admit runs the admission check for the request and records the decision.
// On rejection it writes the 429 response and returns false.
func (s *Server) admit(w http.ResponseWriter, r *http.Request, client, route string) (admission.Decision, bool) {
	d := s.deps.Limiter.Check(client)
	s.deps.Metrics.ObserveAdmission(d.Allowed)
	if s.deps.Stats != nil {
		ev := admission.StatsEvent{Key: client, Allowed: d.Allowed, Route: route, At: s.now()}
		if err := s.deps.Stats.Record(context.WithoutCancel(r.Context()), ev); err != nil {
			s.logger.Warn("admission stats", "err", err)
		}
	}
	setRateHeaders(w, d)
	if d.Allowed {
		return d, true
	}

	s.logger.Info("request rejected", "client", client, "route", route, "reset", d.ResetAt)
	w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(d.RetryAfter.Seconds()))))
	writeJSON(w, http.StatusTooManyRequests, map[string]any{
		"error":     "Too many requests",
		"message":   "Rate limit exceeded. Please try again later.",
		"resetTime": d.ResetAt.UnixMilli(),
	})
	return d, false
}

func (s *Server) handleRateLimit(w http.ResponseWriter, r *http.Request) {
	d := s.deps.Limiter.Status(s.clientID(r))
	setRateHeaders(w, d)
	writeJSON(w, http.StatusOK, map[string]any{
		"allowed":   d.Allowed,
		"limit":     d.Limit,
		"remaining": d.Remaining,
		"resetTime": d.ResetAt.UnixMilli(),
		"window":    s.deps.Limiter.Config().Window.String(),
	})
}
