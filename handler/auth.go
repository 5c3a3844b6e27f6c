package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/RoyXiang/streamgate/keys"
)

func sessionFrom(ctx context.Context) *keys.Session {
	sess, _ := ctx.Value(sessionCtxKey).(*keys.Session)
	return sess
}

// sessionToken reads the session cookie, falling back to a bearer token for
// players that do not keep cookies.
func sessionToken(r *http.Request) string {
	if cookie, err := r.Cookie(cookieSession); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	auth := r.Header.Get(headerAuthorization)
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

func (gw *Gateway) sessionCookie(r *http.Request, value string, expiry time.Time) *http.Cookie {
	cookie := &http.Cookie{
		Name:     cookieSession,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   isSecure(r),
		SameSite: http.SameSiteLaxMode,
	}
	if value == "" {
		cookie.MaxAge = -1
		cookie.Expires = time.Unix(0, 0)
	} else {
		cookie.MaxAge = int(time.Until(expiry).Seconds())
		cookie.Expires = expiry
	}
	return cookie
}

func (gw *Gateway) ValidateKeyHandler(w http.ResponseWriter, r *http.Request) {
	var req validateKeyRequest
	if err := readJSON(r, &req); err != nil || strings.TrimSpace(req.Key) == "" {
		writeError(w, r, errMissingKey)
		return
	}

	key, err := gw.keys.ValidateKey(r.Context(), strings.TrimSpace(req.Key))
	if err != nil {
		writeError(w, r, err)
		return
	}
	sess, err := gw.sessions.CreateSession(key.Code, key.CatalogID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	http.SetCookie(w, gw.sessionCookie(r, sess.Token, sess.Expiry))
	writeJSON(w, http.StatusOK, validateKeyResponse{
		Valid:            true,
		CatalogID:        key.CatalogID,
		ExpiresAt:        key.ExpiresAt,
		SessionExpiresAt: sess.Expiry,
	})
}

func (gw *Gateway) SessionHandler(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())
	writeJSON(w, http.StatusOK, sessionResponse{
		Authenticated: true,
		CatalogID:     sess.CatalogID,
		ExpiresAt:     sess.Expiry,
	})
}

// LogoutHandler forgets the cached session and clears the cookie. The signed
// token itself stays valid until it expires.
func (gw *Gateway) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	if token := sessionToken(r); token != "" {
		gw.sessions.Forget(r.Context(), token)
	}
	http.SetCookie(w, gw.sessionCookie(r, "", time.Time{}))
	w.WriteHeader(http.StatusNoContent)
}
