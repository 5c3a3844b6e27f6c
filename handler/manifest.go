package handler

import (
	"bytes"
	"net/url"
	"strings"
)

var (
	manifestContentTypes = []string{"mpegurl"}
	manifestHeader       = []byte("#EXTM3U")
	utf8BOM              = []byte("\ufeff")
)

func isManifestType(contentType string) bool {
	contentType = strings.ToLower(contentType)
	for _, t := range manifestContentTypes {
		if strings.Contains(contentType, t) {
			return true
		}
	}
	return false
}

// looksLikeManifest catches manifests served with a generic content type.
func looksLikeManifest(path string, head []byte) bool {
	if !strings.HasSuffix(strings.ToLower(path), ".m3u8") {
		return false
	}
	return bytes.HasPrefix(bytes.TrimPrefix(head, utf8BOM), manifestHeader)
}

// RewriteManifest replaces every reference line of an HLS manifest with the
// result of proxify, called with the reference resolved against base. Tag,
// comment and blank lines are copied untouched, as are line endings.
func RewriteManifest(body []byte, base *url.URL, proxify func(abs string) (string, error)) ([]byte, error) {
	var out bytes.Buffer
	out.Grow(len(body) + len(body)/2)

	for _, raw := range bytes.SplitAfter(body, []byte("\n")) {
		line := bytes.TrimRight(raw, "\r\n")
		trimmed := bytes.TrimSpace(bytes.TrimPrefix(line, utf8BOM))
		if len(trimmed) == 0 || trimmed[0] == '#' {
			out.Write(raw)
			continue
		}
		ref, err := url.Parse(string(trimmed))
		if err != nil {
			out.Write(raw)
			continue
		}
		proxied, err := proxify(base.ResolveReference(ref).String())
		if err != nil {
			return nil, err
		}
		out.WriteString(proxied)
		out.Write(raw[len(line):])
	}
	return out.Bytes(), nil
}

func (gw *Gateway) rewriteFor(job *upstreamJob, body []byte, base *url.URL) ([]byte, error) {
	return RewriteManifest(body, job.canonical(base), func(abs string) (string, error) {
		return gw.streamURL(job.base, job.catalogID, abs)
	})
}
