package handler

import (
	"net/http"
)

// cacheableRequest reports whether a stream request may be answered from, and
// stored into, the segment cache. Partial requests always go upstream.
func cacheableRequest(r *http.Request) bool {
	if r.Header.Get(headerRange) != "" || r.Header.Get(headerIfRange) != "" {
		return false
	}
	switch r.Method {
	case http.MethodGet, http.MethodHead:
		return true
	}
	return false
}
