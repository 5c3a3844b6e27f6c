package handler

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/RoyXiang/streamgate/cache"
	"github.com/RoyXiang/streamgate/common"
	"github.com/RoyXiang/streamgate/metrics"
)

// serveCached answers from a cached segment or manifest. Manifests are stored
// in upstream form and rewritten on every serve.
func (gw *Gateway) serveCached(w http.ResponseWriter, r *http.Request, job *upstreamJob, seg *cache.Segment, stale bool) {
	body := seg.Body
	header := w.Header()
	if stale {
		header.Set(headerCacheStatus, cacheStatusStale)
	} else {
		header.Set(headerCacheStatus, cacheStatusHit)
	}

	if isManifestType(seg.ContentType) {
		base, err := url.Parse(seg.URL)
		if err != nil || seg.URL == "" {
			base = job.upstream
		}
		out, err := gw.rewriteFor(job, body, base)
		if err != nil {
			writeError(w, r, err)
			return
		}
		body = out
		header.Set(headerCacheControl, cacheControlNoCache)
	} else {
		remaining := gw.cache.Segments.Fresh() - gw.cache.Segments.Age(seg)
		if stale || remaining.Seconds() < 1 {
			header.Set(headerCacheControl, cacheControlNoCache)
		} else {
			header.Set(headerCacheControl, fmt.Sprintf("public, max-age=%d", int(remaining.Seconds())))
		}
	}

	contentType := seg.ContentType
	if contentType == "" {
		contentType = contentTypeSegment
	}
	header.Set(headerContentType, contentType)
	header.Set(headerContentLength, strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		_, _ = w.Write(body)
	}
}

// refresher fetches the upstream copy of job.target for a background
// revalidation. Nothing from the triggering request is reused.
func (gw *Gateway) refresher(job *upstreamJob) cache.Refresher {
	return func(ctx context.Context) (*cache.Segment, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, job.upstream.String(), nil)
		if err != nil {
			return nil, err
		}
		req.Header = upstreamHeaders(http.Header{})
		delete(req.Header, headerForwardedFor)

		release := gw.selector.Acquire(job.egress)
		defer release()
		resp, err := gw.client.Do(req)
		if err != nil {
			gw.selector.RecordFailure(job.egress)
			return nil, sanitizeError(err)
		}
		defer resp.Body.Close()
		gw.observe(job, resp.StatusCode)
		if resp.StatusCode != http.StatusOK {
			return nil, &upstreamStatusError{status: resp.StatusCode}
		}

		limit := gw.cfg.MaxSegmentBytes
		if isManifestType(resp.Header.Get(headerContentType)) {
			limit = gw.cfg.MaxManifestBytes
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
		if err != nil {
			return nil, err
		}
		if int64(len(body)) > limit {
			return nil, common.NewError(common.KindFormat, "refreshed body too large", nil)
		}

		contentType := resp.Header.Get(headerContentType)
		if isManifestType(contentType) || looksLikeManifest(resp.Request.URL.Path, body) {
			contentType = contentTypeManifest
		} else if contentType == "" {
			contentType = contentTypeSegment
		}
		return &cache.Segment{
			URL:         job.canonical(resp.Request.URL).String(),
			ContentType: contentType,
			Body:        body,
		}, nil
	}
}

// cachingBody tees a relayed segment into memory and stores it once the body
// has been read completely with the announced length.
func (gw *Gateway) cachingBody(body io.ReadCloser, job *upstreamJob, final *url.URL, contentType string, length int64) io.ReadCloser {
	return &teeBody{
		ReadCloser: body,
		expected:   length,
		done: func(b []byte) {
			seg := &cache.Segment{
				URL:         job.canonical(final).String(),
				ContentType: contentType,
				Body:        b,
			}
			go gw.cache.Segments.Put(context.Background(), job.target, seg)
		},
	}
}

type teeBody struct {
	io.ReadCloser
	buf      bytes.Buffer
	expected int64
	done     func([]byte)
	finished bool
}

func (b *teeBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if b.finished {
		return n, err
	}
	if n > 0 {
		if int64(b.buf.Len()+n) > b.expected {
			b.finished = true
			b.buf = bytes.Buffer{}
			metrics.CacheErrors.WithLabelValues("oversize").Inc()
			return n, err
		}
		b.buf.Write(p[:n])
	}
	if err == io.EOF {
		b.finished = true
		if int64(b.buf.Len()) == b.expected {
			b.done(b.buf.Bytes())
		}
	}
	return n, err
}
