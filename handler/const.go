package handler

const (
	headerAccept          = "Accept"
	headerAcceptRanges    = "Accept-Ranges"
	headerAuthorization   = "Authorization"
	headerCacheControl    = "Cache-Control"
	headerCacheStatus     = "X-Cache-Status"
	headerContentLength   = "Content-Length"
	headerContentRange    = "Content-Range"
	headerContentType     = "Content-Type"
	headerETag            = "ETag"
	headerForwardedFor    = "X-Forwarded-For"
	headerForwardedProto  = "X-Forwarded-Proto"
	headerIfRange         = "If-Range"
	headerLastModified    = "Last-Modified"
	headerRange           = "Range"
	headerRateLimit       = "X-RateLimit-Limit"
	headerRateRemaining   = "X-RateLimit-Remaining"
	headerRetryAfter      = "Retry-After"
	headerUserAgent       = "User-Agent"
	headerAllowOrigin     = "Access-Control-Allow-Origin"
	headerAllowMethods    = "Access-Control-Allow-Methods"
	headerAllowHeaders    = "Access-Control-Allow-Headers"
	headerExposeHeaders   = "Access-Control-Expose-Headers"
	headerMaxAge          = "Access-Control-Max-Age"
	cookieSession         = "user_session"
	contentTypeJSON       = "application/json; charset=utf-8"
	contentTypeManifest   = "application/vnd.apple.mpegurl"
	contentTypeSegment    = "video/mp2t"
	cacheControlNoStore   = "no-cache, no-store, must-revalidate"
	cacheControlNoCache   = "no-cache"
	defaultMaxSegment     = 16 << 20
	defaultMaxManifest    = 4 << 20
	maxRedirects          = 5
	streamPathPrefix      = "/stream/"
	cacheStatusHit        = "HIT"
	cacheStatusStale      = "STALE"
	cacheStatusMiss       = "MISS"
	cacheStatusBypass     = "BYPASS"
	eventCatalogCreated   = "catalog.created"
	eventCatalogUpdated   = "catalog.updated"
	eventCatalogDeleted   = "catalog.deleted"
	rateLimitKeyValidate  = "rate:validate-key:"
	maxRequestBody        = 4 << 10
)

var userAgents = []string{
	"VLC/3.0.18 LibVLC/3.0.18",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36",
	"Kodi/20.0 (Windows NT 10.0; Win64; x64)",
}
