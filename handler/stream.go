package handler

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/RoyXiang/streamgate/cache"
	"github.com/RoyXiang/streamgate/common"
	"github.com/RoyXiang/streamgate/metrics"
	"github.com/RoyXiang/streamgate/telemetry"
	"github.com/RoyXiang/streamgate/vault"
	"github.com/gorilla/mux"
)

// upstreamStatusError reports a non-2xx upstream answer.
type upstreamStatusError struct {
	status int
}

func (e *upstreamStatusError) Error() string {
	return fmt.Sprintf("upstream answered %d", e.status)
}

var forwardedRequestHeaders = []string{headerRange, headerIfRange, headerAccept}

var forwardedResponseHeaders = []string{
	headerContentType,
	headerContentLength,
	headerContentRange,
	headerAcceptRanges,
	headerLastModified,
	headerETag,
}

func jobFrom(ctx context.Context) *upstreamJob {
	job, _ := ctx.Value(upstreamCtxKey).(*upstreamJob)
	return job
}

// StreamHandler relays one sealed upstream reference for the session's
// catalog.
func (gw *Gateway) StreamHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := sessionFrom(ctx)
	ref := mux.Vars(r)["ref"]
	if ref == "" {
		writeError(w, r, errMissingRef)
		return
	}

	record, err := gw.catalogRecord(ctx, sess.CatalogID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	location, err := gw.vault.Decrypt(record.EncryptedLocation, record.IV)
	if err != nil {
		writeError(w, r, err)
		return
	}
	target, err := gw.vault.OpenRef(sess.CatalogID, ref)
	if err != nil {
		writeError(w, r, err)
		return
	}
	upstream, err := url.Parse(target)
	if err != nil || (upstream.Scheme != "http" && upstream.Scheme != "https") || upstream.Host == "" {
		writeError(w, r, errBadTarget)
		return
	}

	job := &upstreamJob{
		catalogID: sess.CatalogID,
		target:    target,
		upstream:  upstream,
		origin:    originHost(location),
		base:      gw.publicBase(r),
		cacheable: gw.cache.Segments.Enabled() && cacheableRequest(r),
		head:      r.Method == http.MethodHead,
		started:   time.Now(),
	}
	if host, ok := gw.selector.SelectServer(); ok && strings.EqualFold(upstream.Host, job.origin) {
		u := *upstream
		u.Host = host
		job.upstream = &u
		job.egress = host
	}

	if job.cacheable {
		if seg, stale, ok := gw.cache.Segments.Get(ctx, target, gw.refresher(job)); ok {
			gw.serveCached(w, r, job, seg, stale)
			return
		}
	}

	release := gw.selector.Acquire(job.egress)
	defer release()
	metrics.ActiveStreams.Inc()
	defer metrics.ActiveStreams.Dec()

	gw.proxy.ServeHTTP(w, r.WithContext(context.WithValue(ctx, upstreamCtxKey, job)))
}

// MissingRefHandler answers stream requests without a reference.
func (gw *Gateway) MissingRefHandler(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, errMissingRef)
}

func originHost(location string) string {
	u, err := url.Parse(location)
	if err != nil {
		return ""
	}
	return u.Host
}

func (gw *Gateway) newUpstreamProxy() *httputil.ReverseProxy {
	director := func(req *http.Request) {
		job := jobFrom(req.Context())
		u := *job.upstream
		req.URL = &u
		req.Host = ""
		req.Header = upstreamHeaders(req.Header)
	}
	return &httputil.ReverseProxy{
		Director:       director,
		Transport:      gw.transport,
		FlushInterval:  -1,
		ErrorLog:       common.StdLogger("proxy"),
		ModifyResponse: gw.modifyResponse,
		ErrorHandler:   gw.proxyErrorHandler,
	}
}

func upstreamHeaders(in http.Header) http.Header {
	out := http.Header{}
	for _, name := range forwardedRequestHeaders {
		if values, ok := in[name]; ok {
			out[name] = values
		}
	}
	out.Set(headerUserAgent, randomUserAgent())
	// a nil value keeps ReverseProxy from disclosing the client address
	out[headerForwardedFor] = nil
	return out
}

func filterResponseHeaders(in http.Header) http.Header {
	out := http.Header{}
	for _, name := range forwardedResponseHeaders {
		if values, ok := in[name]; ok {
			out[name] = values
		}
	}
	return out
}

// observe feeds one upstream answer into the selector and metrics. Client
// errors still prove the egress server responsive.
func (gw *Gateway) observe(job *upstreamJob, status int) {
	latency := time.Since(job.started)
	metrics.UpstreamLatency.WithLabelValues(job.egressLabel()).Observe(latency.Seconds())
	switch {
	case status >= 200 && status < 300:
		metrics.UpstreamRequests.WithLabelValues("ok").Inc()
		gw.selector.RecordSuccess(job.egress, latency)
	case status >= 500:
		metrics.UpstreamRequests.WithLabelValues("status_5xx").Inc()
		gw.selector.RecordFailure(job.egress)
	default:
		metrics.UpstreamRequests.WithLabelValues("status_4xx").Inc()
		gw.selector.RecordSuccess(job.egress, latency)
	}
}

func (gw *Gateway) modifyResponse(resp *http.Response) error {
	job := jobFrom(resp.Request.Context())
	gw.observe(job, resp.StatusCode)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &upstreamStatusError{status: resp.StatusCode}
	}

	contentType := resp.Header.Get(headerContentType)
	resp.Header = filterResponseHeaders(resp.Header)
	if job.cacheable {
		resp.Header.Set(headerCacheStatus, cacheStatusMiss)
	} else {
		resp.Header.Set(headerCacheStatus, cacheStatusBypass)
	}

	br := bufio.NewReader(resp.Body)
	head, _ := br.Peek(len(utf8BOM) + len(manifestHeader))
	if isManifestType(contentType) || looksLikeManifest(resp.Request.URL.Path, head) {
		return gw.relayManifest(resp, job, br)
	}

	if contentType == "" {
		resp.Header.Set(headerContentType, contentTypeSegment)
	}
	body := &readCloser{Reader: br, Closer: resp.Body}
	resp.Body = body
	if job.cacheable && !job.head && resp.StatusCode == http.StatusOK &&
		resp.ContentLength > 0 && resp.ContentLength <= gw.cfg.MaxSegmentBytes {
		resp.Body = gw.cachingBody(body, job, resp.Request.URL, resp.Header.Get(headerContentType), resp.ContentLength)
		resp.Header.Set(headerCacheControl, fmt.Sprintf("public, max-age=%d", int(gw.cache.Segments.Fresh().Seconds())))
	} else {
		resp.Header.Set(headerCacheControl, cacheControlNoCache)
	}
	return nil
}

// relayManifest buffers a manifest, caches its upstream form, and hands the
// client a copy whose references all point back at the gateway.
func (gw *Gateway) relayManifest(resp *http.Response, job *upstreamJob, br *bufio.Reader) error {
	resp.Header.Set(headerContentType, contentTypeManifest)
	resp.Header.Set(headerCacheControl, cacheControlNoCache)
	resp.Header.Del(headerContentRange)
	resp.Header.Del(headerAcceptRanges)
	if job.head {
		resp.Header.Del(headerContentLength)
		return nil
	}

	body, err := io.ReadAll(io.LimitReader(br, gw.cfg.MaxManifestBytes+1))
	resp.Body.Close()
	if err != nil {
		return err
	}
	if int64(len(body)) > gw.cfg.MaxManifestBytes {
		return common.NewError(common.KindFormat, "manifest too large", nil)
	}

	final := resp.Request.URL
	if job.cacheable && resp.StatusCode == http.StatusOK {
		gw.cache.Segments.Put(resp.Request.Context(), job.target, &cache.Segment{
			URL:         job.canonical(final).String(),
			ContentType: contentTypeManifest,
			Body:        body,
		})
	}
	out, err := gw.rewriteFor(job, body, final)
	if err != nil {
		return err
	}
	resp.Body = io.NopCloser(bytes.NewReader(out))
	resp.ContentLength = int64(len(out))
	resp.Header.Set(headerContentLength, strconv.Itoa(len(out)))
	return nil
}

func (gw *Gateway) proxyErrorHandler(w http.ResponseWriter, r *http.Request, err error) {
	job := jobFrom(r.Context())
	var statusErr *upstreamStatusError
	switch {
	case errors.As(err, &statusErr):
		writeError(w, r, common.NewError(common.KindFetch, "upstream status", err))
	case errors.Is(r.Context().Err(), context.Canceled):
		metrics.UpstreamRequests.WithLabelValues("canceled").Inc()
		w.WriteHeader(http.StatusBadRequest)
	case isTimeout(err):
		metrics.UpstreamRequests.WithLabelValues("timeout").Inc()
		gw.selector.RecordFailure(job.egress)
		writeError(w, r, common.NewError(common.KindTimeout, "upstream timeout", nil))
	case common.KindOf(err) == common.KindFormat:
		writeError(w, r, common.NewError(common.KindFetch, "upstream manifest", err))
	default:
		metrics.UpstreamRequests.WithLabelValues("error").Inc()
		gw.selector.RecordFailure(job.egress)
		err = sanitizeError(err)
		gw.log.WithError(err).WithField("upstream", vault.Redact(job.upstream.String())).Warn("upstream request failed")
		telemetry.CaptureError(err, map[string]string{"egress": job.egressLabel()})
		writeError(w, r, common.NewError(common.KindFetch, "upstream unreachable", nil))
	}
}

type readCloser struct {
	io.Reader
	io.Closer
}
