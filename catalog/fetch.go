package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/RoyXiang/streamgate/common"
	"github.com/RoyXiang/streamgate/vault"
)

const (
	defaultUserAgent = "VLC/3.0.18 LibVLC/3.0.18"
	defaultMaxBody   = 64 << 20
)

// Fetcher downloads catalog documents with a capped body size.
type Fetcher struct {
	Client    *http.Client
	UserAgent string
	MaxBody   int64
}

func NewFetcher(timeout time.Duration) *Fetcher {
	return &Fetcher{
		Client:    &http.Client{Timeout: timeout},
		UserAgent: defaultUserAgent,
		MaxBody:   defaultMaxBody,
	}
}

func (f *Fetcher) get(ctx context.Context, rawURL string) ([]byte, error) {
	host := vault.Redact(rawURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, common.NewError(common.KindFormat, "invalid catalog location", nil)
	}
	req.Header.Set("User-Agent", f.UserAgent)
	req.Header.Set("Accept", "*/*")

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fetchError(host, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, common.NewError(common.KindFetch, fmt.Sprintf("%s answered %d", host, resp.StatusCode), nil)
	}

	max := f.MaxBody
	if max <= 0 {
		max = defaultMaxBody
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, max+1))
	if err != nil {
		return nil, fetchError(host, err)
	}
	if int64(len(body)) > max {
		return nil, common.NewError(common.KindFormat, fmt.Sprintf("%s body exceeds %d bytes", host, max), nil)
	}
	return body, nil
}

// fetchError drops the *url.Error wrapper, which would carry the full
// location including credentials.
func fetchError(host string, err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		err = uerr.Err
	}
	var nerr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &nerr) && nerr.Timeout()) {
		return common.NewError(common.KindTimeout, host+" timed out", err)
	}
	return common.NewError(common.KindFetch, host+" unreachable", err)
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return scheme == "http" || scheme == "https"
}
