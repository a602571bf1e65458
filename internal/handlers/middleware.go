package handlers

import (
	"crypto/subtle"
	"fmt"
	"math"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/sand/digital-marketplace/backend/internal/auth"
	"github.com/sand/digital-marketplace/backend/internal/metrics"
)

const (
	adminTokenHeader = "X-Admin-Token"
	bearerPrefix     = "Bearer "
)

// adminOnly rejects requests without the configured admin token. With no token
// configured every admin request is rejected.
func (h *HTTPHandler) adminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get(adminTokenHeader)
		if h.adminToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) != 1 {
			h.logger.WarnContext(r.Context(), "Rejected admin request", "path", r.URL.Path, "remote", h.clientIP(r))
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// authenticated resolves the caller from the bearer token and stores it in the request
// context. Without a configured signing secret every request is rejected.
func (h *HTTPHandler) authenticated(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, bearerPrefix) {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
			return
		}
		userID, err := h.tokens.Verify(strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix)))
		if err != nil {
			h.logger.WarnContext(r.Context(), "Rejected user token", "path", r.URL.Path, "remote", h.clientIP(r))
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithUserID(r.Context(), userID)))
	})
}

// actingUser returns the authenticated caller. A user id named in the request body is
// optional, but when present it must be the caller's own.
func (h *HTTPHandler) actingUser(w http.ResponseWriter, r *http.Request, claimed int64) (int64, bool) {
	caller, ok := auth.UserID(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
		return 0, false
	}
	if claimed != 0 && claimed != caller {
		h.logger.WarnContext(r.Context(), "Caller acting for another user", "path", r.URL.Path, "caller_id", caller, "claimed_id", claimed)
		writeJSON(w, http.StatusForbidden, errorResponse{Error: "forbidden"})
		return 0, false
	}
	return caller, true
}

func (h *HTTPHandler) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		result, err := h.limiter.Allow(r.Context(), "ip:"+h.clientIP(r))
		if err != nil {
			h.logger.WarnContext(r.Context(), "Rate limiter unavailable", "error", err)
		}

		if result.Limit > 0 {
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		}
		if !result.Allowed {
			metrics.RateLimited.WithLabelValues(routeTemplate(r)).Inc()
			retryAfter := int(math.Ceil(result.RetryAfter.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "too many requests", Retry: "retry after " + strconv.Itoa(retryAfter) + "s"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP is the peer address, or the nearest untrusted X-Forwarded-For hop when the
// peer is a trusted proxy.
func (h *HTTPHandler) clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if !h.trustedProxy(host) {
		return host
	}

	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}
		if !h.trustedProxy(hop) {
			return hop
		}
		host = hop
	}
	return host
}

func (h *HTTPHandler) trustedProxy(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range h.trustedProxies {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// ParseTrustedProxies accepts CIDR ranges and bare addresses.
func ParseTrustedProxies(values []string) ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if strings.Contains(value, "/") {
			prefix, err := netip.ParsePrefix(value)
			if err != nil {
				return nil, fmt.Errorf("invalid trusted proxy %q: %w", value, err)
			}
			prefixes = append(prefixes, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(value)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", value, err)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

func routeTemplate(r *http.Request) string {
	route := mux.CurrentRoute(r)
	if route == nil {
		return "unknown"
	}
	template, err := route.GetPathTemplate()
	if err != nil {
		return "unknown"
	}
	return template
}
