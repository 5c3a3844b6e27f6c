package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/RoyXiang/streamgate/store"
)

func storeKey(banned bool) store.AccessKey {
	return store.AccessKey{Code: testKey, CatalogID: testCatalogID, Active: true, Banned: banned, CreatedAt: time.Now()}
}

func validateRequest(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, testBaseURL+"/api/validate-key", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestValidateKeyHandler(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	tests := []struct {
		name   string
		key    *store.AccessKey
		body   string
		status int
		code   string
	}{
		{name: "valid", body: `{"key":"TESTKEY23"}`, status: http.StatusOK},
		{name: "surrounding spaces", body: `{"key":"  TESTKEY23 "}`, status: http.StatusOK},
		{name: "missing key", body: `{"key":""}`, status: http.StatusBadRequest, code: "bad_request"},
		{name: "malformed body", body: `{"key":`, status: http.StatusBadRequest, code: "bad_request"},
		{name: "unknown key", body: `{"key":"NOPE"}`, status: http.StatusUnauthorized, code: "auth"},
		{
			name:   "expired key",
			key:    &store.AccessKey{Code: testKey, CatalogID: testCatalogID, Active: true, ExpiresAt: &past},
			body:   `{"key":"TESTKEY23"}`,
			status: http.StatusUnauthorized,
			code:   "auth",
		},
		{
			name:   "inactive key",
			key:    &store.AccessKey{Code: testKey, CatalogID: testCatalogID},
			body:   `{"key":"TESTKEY23"}`,
			status: http.StatusUnauthorized,
			code:   "auth",
		},
		{
			name:   "banned key",
			key:    &store.AccessKey{Code: testKey, CatalogID: testCatalogID, Active: true, Banned: true},
			body:   `{"key":"TESTKEY23"}`,
			status: http.StatusForbidden,
			code:   "authorization",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			if tt.key != nil {
				env.repo.PutKey(*tt.key)
			}
			rec := env.do(validateRequest(tt.body))
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.status, rec.Body.String())
			}
			if tt.status != http.StatusOK {
				if body := decodeError(t, rec); body.Code != tt.code {
					t.Errorf("code = %q, want %q", body.Code, tt.code)
				}
				if len(rec.Result().Cookies()) != 0 {
					t.Error("session cookie set on failure")
				}
				return
			}

			var body validateKeyResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatal(err)
			}
			if !body.Valid || body.CatalogID != testCatalogID {
				t.Errorf("body = %+v", body)
			}
			cookies := rec.Result().Cookies()
			if len(cookies) != 1 || cookies[0].Name != cookieSession || !cookies[0].HttpOnly {
				t.Fatalf("cookies = %+v", cookies)
			}
			sess, err := env.binder.ResolveSession(context.Background(), cookies[0].Value)
			if err != nil || sess.KeyCode != testKey {
				t.Errorf("ResolveSession = %+v, %v", sess, err)
			}
		})
	}
}

func TestValidateKeyRateLimited(t *testing.T) {
	env := newTestEnv(t, nil)
	for i := 0; i < 2; i++ {
		rec := env.do(validateRequest(`{"key":"NOPE"}`))
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d status = %d", i, rec.Code)
		}
		if rec.Header().Get(headerRateLimit) != "2" {
			t.Errorf("limit header = %q", rec.Header().Get(headerRateLimit))
		}
	}
	rec := env.do(validateRequest(`{"key":"TESTKEY23"}`))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get(headerRetryAfter) == "" || rec.Header().Get(headerRateRemaining) != "0" {
		t.Errorf("headers = %v", rec.Header())
	}

	other := validateRequest(`{"key":"TESTKEY23"}`)
	other.RemoteAddr = "198.51.100.7:4000"
	if rec := env.do(other); rec.Code != http.StatusOK {
		t.Errorf("other client status = %d", rec.Code)
	}
}

func TestValidateKeyForwardedFor(t *testing.T) {
	tests := []struct {
		name    string
		trusted []string
		want    []int
	}{
		{"untrusted peer", nil, []int{http.StatusUnauthorized, http.StatusUnauthorized, http.StatusTooManyRequests, http.StatusTooManyRequests}},
		{"trusted proxy", []string{"192.0.2.0/24"}, []int{http.StatusUnauthorized, http.StatusUnauthorized, http.StatusUnauthorized, http.StatusUnauthorized}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nets, err := ParseTrustedProxies(tt.trusted)
			if err != nil {
				t.Fatal(err)
			}
			env := newTestEnv(t, func(cfg *Config, _ *Deps) { cfg.TrustedProxies = nets })
			for i, want := range tt.want {
				req := validateRequest(`{"key":"NOPE"}`)
				req.RemoteAddr = "192.0.2.1:1234"
				req.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i+1))
				if rec := env.do(req); rec.Code != want {
					t.Fatalf("attempt %d status = %d, want %d", i, rec.Code, want)
				}
			}
		})
	}
}

func TestSessionAndLogout(t *testing.T) {
	env := newTestEnv(t, nil)
	cookie := env.sessionCookie(t)

	req := httptest.NewRequest(http.MethodGet, testBaseURL+"/api/session", nil)
	req.AddCookie(cookie)
	rec := env.do(req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body sessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if !body.Authenticated || body.CatalogID != testCatalogID {
		t.Errorf("body = %+v", body)
	}

	bearer := httptest.NewRequest(http.MethodGet, testBaseURL+"/api/session", nil)
	bearer.Header.Set("Authorization", "Bearer "+cookie.Value)
	if rec := env.do(bearer); rec.Code != http.StatusOK {
		t.Errorf("bearer status = %d", rec.Code)
	}

	anonymous := httptest.NewRequest(http.MethodGet, testBaseURL+"/api/session", nil)
	rec = env.do(anonymous)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("anonymous status = %d", rec.Code)
	}
	if body := decodeError(t, rec); body.Error != "Oturum gerekli" {
		t.Errorf("anonymous message = %q", body.Error)
	}

	logout := httptest.NewRequest(http.MethodPost, testBaseURL+"/api/logout", nil)
	logout.AddCookie(cookie)
	rec = env.do(logout)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("logout status = %d", rec.Code)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].MaxAge >= 0 || cookies[0].Value != "" {
		t.Errorf("logout cookies = %+v", cookies)
	}
}
