package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/RoyXiang/streamgate/common"
	"github.com/RoyXiang/streamgate/keys"
	"github.com/RoyXiang/streamgate/telemetry"
	"github.com/go-chi/chi/v5/middleware"
)

var (
	errCatalogNotFound = common.NewError(common.KindNotFound, "catalog not found", nil)
	errMissingKey      = common.NewError(common.KindBadRequest, "key is required", nil)
	errEntryNotFound   = common.NewError(common.KindNotFound, "entry not found", nil)
	errBadType         = common.NewError(common.KindBadRequest, "unknown entry type", nil)
	errMissingRef      = common.NewError(common.KindBadRequest, "stream reference is required", nil)
	errBadTarget       = common.NewError(common.KindBadRequest, "stream reference is not an http url", nil)
	errRateLimited     = common.NewError(common.KindRateLimit, "too many requests", nil)
)

type statusMessage struct {
	status  int
	message string
}

var kindResponses = map[common.Kind]statusMessage{
	common.KindAuth:          {http.StatusUnauthorized, "Geçersiz veya süresi dolmuş anahtar"},
	common.KindAuthorization: {http.StatusForbidden, "Anahtar engellendi"},
	common.KindNotFound:      {http.StatusNotFound, "Kaynak bulunamadı"},
	common.KindBadRequest:    {http.StatusBadRequest, "Geçersiz istek"},
	common.KindFormat:        {http.StatusUnprocessableEntity, "Katalog biçimi tanınmadı"},
	common.KindFetch:         {http.StatusBadGateway, "Yayın kullanılamıyor"},
	common.KindTimeout:       {http.StatusGatewayTimeout, "Yayın zaman aşımına uğradı"},
	common.KindRateLimit:     {http.StatusTooManyRequests, "Çok fazla istek"},
	common.KindDecryption:    {http.StatusInternalServerError, "Kaynak yapılandırması bozuk"},
}

var internalResponse = statusMessage{http.StatusInternalServerError, "Sunucu hatası"}

func responseFor(err error) (statusMessage, common.Kind) {
	kind := common.KindOf(err)
	resp, ok := kindResponses[kind]
	if !ok {
		return internalResponse, common.KindInternal
	}
	if errors.Is(err, keys.ErrNoSession) {
		resp.message = "Oturum gerekli"
	}
	return resp, kind
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set(headerContentType, contentTypeJSON)
	w.Header().Set(headerCacheControl, cacheControlNoStore)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError answers with the status and localized message of the error
// kind. Server side failures are logged and reported.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	resp, kind := responseFor(err)
	if resp.status >= http.StatusInternalServerError && kind != common.KindFetch && kind != common.KindTimeout {
		common.Log("http").WithError(err).WithField("request_id", middleware.GetReqID(r.Context())).Error("request failed")
		telemetry.CaptureError(err, map[string]string{"kind": kind.String()})
	}
	writeJSON(w, resp.status, errorResponse{Error: resp.message, Code: kind.String()})
}

func readJSON(r *http.Request, dst interface{}) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	return json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(dst)
}

func wrapResponseWriter(w http.ResponseWriter, protoMajor int) middleware.WrapResponseWriter {
	if nw, ok := w.(middleware.WrapResponseWriter); ok {
		return nw
	}
	return middleware.NewWrapResponseWriter(w, protoMajor)
}

// publicBase is the origin clients reach the gateway on.
func (gw *Gateway) publicBase(r *http.Request) string {
	if gw.cfg.PublicBaseURL != "" {
		return gw.cfg.PublicBaseURL
	}
	scheme := "http"
	if isSecure(r) {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

// streamURL seals target into a gateway stream URL bound to catalogID.
func (gw *Gateway) streamURL(base string, catalogID int64, target string) (string, error) {
	ref, err := gw.vault.SealRef(catalogID, target)
	if err != nil {
		return "", common.NewError(common.KindInternal, "seal stream reference", err)
	}
	return base + streamPathPrefix + ref, nil
}

func isSecure(r *http.Request) bool {
	return r.TLS != nil || strings.EqualFold(r.Header.Get(headerForwardedProto), "https")
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func randomUserAgent() string {
	return userAgents[rand.Intn(len(userAgents))]
}

func newTransport(timeout time.Duration) *http.Transport {
	dial := 10 * time.Second
	if timeout < dial {
		dial = timeout
	}
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   dial,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          256,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   dial,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: time.Second,
	}
}

// redirectTransport follows upstream redirects itself so that clients only
// ever see gateway URLs.
type redirectTransport struct {
	next http.RoundTripper
	max  int
}

func (t *redirectTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	for hop := 0; ; hop++ {
		resp, err := t.next.RoundTrip(req)
		if err != nil {
			return nil, err
		}
		if !isRedirect(resp.StatusCode) {
			return resp, nil
		}
		if hop >= t.max {
			resp.Body.Close()
			return nil, fmt.Errorf("stopped after %d redirects", t.max)
		}
		loc, err := resp.Location()
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("redirect without location: %w", err)
		}
		if loc.Scheme != "http" && loc.Scheme != "https" {
			return nil, fmt.Errorf("redirect to unsupported scheme %q", loc.Scheme)
		}
		next := req.Clone(req.Context())
		next.URL = loc
		next.Host = ""
		req = next
	}
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// sanitizeError drops the URL wrapper of transport errors, which would
// otherwise carry upstream credentials into logs.
func sanitizeError(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Err
	}
	return err
}
