package catalog

import (
	"net/url"
	"path"
	"regexp"
	"strings"
)

const defaultManifestSuffix = ".m3u8"

var seriesPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bS\d{1,2}\s*[._-]?\s*E\d{1,3}\b`),
	regexp.MustCompile(`(?i)\b\d{1,2}x\d{2,3}\b`),
	regexp.MustCompile(`(?i)\b(season|sezon)\s*\d+`),
	regexp.MustCompile(`(?i)\b\d+\.?\s*sezon\b`),
	regexp.MustCompile(`(?i)\b(episode|bölüm)\s*\d+`),
}

var seriesKeywords = []string{"series", "serie", "dizi", "/series/"}

var movieKeywords = []string{"movie", "film", "vod", "sinema", "cinema", "/movie/"}

var streamSuffixes = map[string]bool{
	".m3u8": true,
	".m3u":  true,
	".ts":   true,
	".mp4":  true,
	".mkv":  true,
	".avi":  true,
	".mpd":  true,
	".flv":  true,
	".mov":  true,
	".webm": true,
}

// Classify decides the entry type. Series signals win over movie signals,
// and anything without either is live.
func Classify(name, group, rawURL string) Type {
	for _, re := range seriesPatterns {
		if re.MatchString(name) {
			return Series
		}
	}
	haystack := strings.ToLower(name + "\n" + group + "\n" + rawURL)
	for _, kw := range seriesKeywords {
		if strings.Contains(haystack, kw) {
			return Series
		}
	}
	for _, kw := range movieKeywords {
		if strings.Contains(haystack, kw) {
			return Movie
		}
	}
	return Live
}

// withManifestSuffix appends the default manifest suffix when the URL path
// has no recognised streaming container.
func withManifestSuffix(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	if streamSuffixes[strings.ToLower(path.Ext(u.Path))] {
		return raw
	}
	u.Path += defaultManifestSuffix
	if u.RawPath != "" {
		u.RawPath += defaultManifestSuffix
	}
	return u.String()
}
