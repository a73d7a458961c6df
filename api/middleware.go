package api

import (
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	limiterIdle      = time.Hour
	maxAuthFailures  = 5
	authLockout      = 10 * time.Minute
	bearerPrefix     = "Bearer "
	realm            = `Bearer realm="sigforge"`
	cleanupFrequency = time.Hour
)

func clientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// rateLimitMiddleware provides rate limiting per IP
func (a *API) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		a.rateLimitersMu.Lock()
		entry, exists := a.rateLimiters[ip]
		if !exists {
			entry = &rateLimiterEntry{
				limiter: rate.NewLimiter(rate.Limit(a.config.RateLimit.RequestsPerSecond), a.config.RateLimit.Burst),
			}
			a.rateLimiters[ip] = entry
		}
		entry.lastSeen = a.now()
		limiter := entry.limiter
		a.rateLimitersMu.Unlock()

		if !limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, "too many requests", nil, a.logger)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// cleanupRateLimiters drops idle limiters and stale auth failures.
func (a *API) cleanupRateLimiters() {
	ticker := time.NewTicker(cleanupFrequency)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			a.pruneClients(a.now())
		case <-a.stopCh:
			return
		}
	}
}

func (a *API) pruneClients(now time.Time) {
	a.rateLimitersMu.Lock()
	for ip, entry := range a.rateLimiters {
		if now.Sub(entry.lastSeen) > limiterIdle {
			delete(a.rateLimiters, ip)
		}
	}
	a.rateLimitersMu.Unlock()

	a.authFailuresMu.Lock()
	for ip, entry := range a.authFailures {
		if now.Sub(entry.lastFail) > authLockout {
			delete(a.authFailures, ip)
		}
	}
	a.authFailuresMu.Unlock()
}

// corsMiddleware adds CORS headers
func (a *API) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); originAllowed(origin, a.config.AllowedOrigins) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func originAllowed(origin string, allowed []string) bool {
	if origin == "" {
		return false
	}
	for _, o := range allowed {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

// jwtAuthMiddleware requires a valid bearer token. The WebSocket route may
// pass the token as ?token= since browsers cannot set headers on upgrade.
func (a *API) jwtAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := ""
		if h := r.Header.Get("Authorization"); strings.HasPrefix(h, bearerPrefix) {
			token = strings.TrimPrefix(h, bearerPrefix)
		} else if websocketUpgrade(r) {
			token = r.URL.Query().Get("token")
		}
		if token == "" {
			w.Header().Set("WWW-Authenticate", realm)
			writeError(w, http.StatusUnauthorized, "missing bearer token", nil, a.logger)
			return
		}

		claims, err := a.validateJWT(token)
		if err != nil {
			w.Header().Set("WWW-Authenticate", realm)
			writeError(w, http.StatusUnauthorized, "invalid token", err, a.logger)
			return
		}
		next.ServeHTTP(w, r.WithContext(withClaims(r.Context(), claims)))
	})
}

func websocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

// authLocked reports whether ip has exceeded the failed login budget.
func (a *API) authLocked(ip string) bool {
	a.authFailuresMu.Lock()
	defer a.authFailuresMu.Unlock()
	entry, ok := a.authFailures[ip]
	return ok && entry.count >= maxAuthFailures && a.now().Sub(entry.lastFail) < authLockout
}

func (a *API) recordAuthFailure(ip string) {
	a.authFailuresMu.Lock()
	defer a.authFailuresMu.Unlock()
	entry, ok := a.authFailures[ip]
	if !ok {
		entry = &authFailureEntry{}
		a.authFailures[ip] = entry
	}
	entry.count++
	entry.lastFail = a.now()
}

func (a *API) clearAuthFailures(ip string) {
	a.authFailuresMu.Lock()
	delete(a.authFailures, ip)
	a.authFailuresMu.Unlock()
}
