package handler

import (
	"context"
	"crypto/subtle"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/RoyXiang/streamgate/common"
	"github.com/go-chi/chi/v5/middleware"
)

// SessionMiddleware resolves the session and rechecks its key, so that a ban
// or expiry takes effect on the next request.
func (gw *Gateway) SessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		sess, err := gw.sessions.ResolveSession(ctx, sessionToken(r))
		if err != nil {
			writeError(w, r, err)
			return
		}
		if _, err = gw.keys.Recheck(ctx, sess.KeyCode); err != nil {
			writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, sessionCtxKey, sess)))
	})
}

// RealIPMiddleware honors X-Forwarded-For and X-Real-IP only from peers in
// the trusted proxy list. Anyone else keeps their socket address.
func (gw *Gateway) RealIPMiddleware(next http.Handler) http.Handler {
	forwarded := middleware.RealIP(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if gw.trustedPeer(r.RemoteAddr) {
			forwarded.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (gw *Gateway) trustedPeer(remoteAddr string) bool {
	if len(gw.cfg.TrustedProxies) == 0 {
		return false
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	for _, n := range gw.cfg.TrustedProxies {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// ParseTrustedProxies accepts CIDR blocks and bare addresses.
func ParseTrustedProxies(list []string) ([]*net.IPNet, error) {
	nets := make([]*net.IPNet, 0, len(list))
	for _, item := range list {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if !strings.Contains(item, "/") {
			ip := net.ParseIP(item)
			if ip == nil {
				return nil, fmt.Errorf("trusted proxy %q: invalid address", item)
			}
			bits := 128
			if ip4 := ip.To4(); ip4 != nil {
				ip, bits = ip4, 32
			}
			nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, n, err := net.ParseCIDR(item)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", item, err)
		}
		nets = append(nets, n)
	}
	return nets, nil
}

// RateLimitMiddleware bounds key validation attempts per client address.
func (gw *Gateway) RateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if gw.cfg.RateLimit <= 0 {
			next.ServeHTTP(w, r)
			return
		}
		res := gw.limiter.Allow(r.Context(), rateLimitKeyValidate+clientIP(r), gw.cfg.RateLimit, gw.cfg.RateWindow)
		w.Header().Set(headerRateLimit, strconv.Itoa(res.Limit))
		w.Header().Set(headerRateRemaining, strconv.Itoa(res.Remaining))
		if !res.Allowed {
			w.Header().Set(headerRetryAfter, strconv.Itoa(int(math.Ceil(res.RetryAfter.Seconds()))))
			writeError(w, r, errRateLimited)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// CORSMiddleware lets browser players on other origins fetch streams.
// Preflight requests are answered here.
func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := w.Header()
		if origin := r.Header.Get("Origin"); origin != "" {
			header.Set(headerAllowOrigin, origin)
			header.Set("Access-Control-Allow-Credentials", "true")
			header.Add("Vary", "Origin")
		} else {
			header.Set(headerAllowOrigin, "*")
		}
		header.Set(headerAllowMethods, "GET, HEAD, OPTIONS")
		header.Set(headerAllowHeaders, "Range, Accept, Authorization")
		header.Set(headerExposeHeaders, "Content-Length, Content-Range, Accept-Ranges, X-Cache-Status")
		if r.Method == http.MethodOptions {
			header.Set(headerMaxAge, "86400")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// AdminMiddleware guards the internal API with a static bearer token. Without
// a configured token the internal API does not exist.
func (gw *Gateway) AdminMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if gw.cfg.AdminToken == "" {
			http.NotFound(w, r)
			return
		}
		auth := r.Header.Get(headerAuthorization)
		token := strings.TrimPrefix(auth, "Bearer ")
		if token == auth || subtle.ConstantTimeCompare([]byte(token), []byte(gw.cfg.AdminToken)) != 1 {
			writeError(w, r, common.NewError(common.KindAuth, "admin token rejected", nil))
			return
		}
		next.ServeHTTP(w, r)
	})
}
