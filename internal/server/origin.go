package server

import (
	"net/http"
	"net/url"
	"slices"
	"strings"

	"go.uber.org/zap"
)

// OriginChecker accepts requests without an Origin header (non-browser
// clients) and browser requests whose origin is listed. An empty list accepts
// every origin.
type OriginChecker struct {
	logger         *zap.Logger
	allowedOrigins []string
}

func NewOriginChecker(logger *zap.Logger, allowedOrigins []string) *OriginChecker {
	origins := make([]string, 0, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		if origin = normalizeOrigin(origin); origin != "" {
			origins = append(origins, origin)
		}
	}

	return &OriginChecker{
		logger,
		origins,
	}
}

func (c *OriginChecker) Check(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(c.allowedOrigins) == 0 {
		return true
	}

	if slices.Contains(c.allowedOrigins, normalizeOrigin(origin)) {
		return true
	}

	c.logger.Warn("websocket origin rejected",
		zap.String("origin", origin),
		zap.String("remoteAddr", r.RemoteAddr))

	return false
}

func normalizeOrigin(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return ""
	}

	return strings.ToLower(u.Scheme + "://" + u.Host)
}
