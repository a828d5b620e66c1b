package websocket

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/samber/lo"
)

// originPolicy decides which browser origins may open a connection.
// A request without Origin header is not a browser one and is let through.
// With no configured origin, only the same host is accepted.
type originPolicy struct {
	allowed  map[string]struct{}
	allowAll bool
	log      *slog.Logger
}

func newOriginPolicy(origins []string, log *slog.Logger) originPolicy {
	policy := originPolicy{allowed: make(map[string]struct{}), log: log}

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		if trimmed == "*" {
			policy.allowAll = true
			continue
		}
		normalized, ok := normalizeOrigin(trimmed)
		if !ok {
			log.Warn("Ignoring invalid origin in configuration", "origin", origin)
			continue
		}
		policy.allowed[normalized] = struct{}{}
	}
	return policy
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil {
		return "", false
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}

func (p originPolicy) check(r *http.Request) bool {
	header := r.Header.Get("Origin")
	if header == "" || p.allowAll {
		return true
	}

	origin, ok := normalizeOrigin(header)
	if !ok {
		p.log.Warn("Blocked connection with malformed origin", "origin", header)
		return false
	}

	if len(p.allowed) == 0 {
		parsed, _ := url.Parse(origin)
		if strings.EqualFold(parsed.Host, r.Host) {
			return true
		}
	} else if lo.HasKey(p.allowed, origin) {
		return true
	}

	p.log.Warn("Blocked connection from disallowed origin", "origin", header)
	return false
}
