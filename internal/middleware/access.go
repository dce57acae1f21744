package middleware

import (
	"net/http"
	"net/url"
	"strings"
)

// protectedPrefixes is the single list of path prefixes that require an
// authenticated session. Matching is by whole path segment.
var protectedPrefixes = []string{
	"/dashboard",
	"/notes",
	"/api/notes",
	"/api/ai",
	"/ws",
}

// apiPrefixes mark requests that expect JSON (or a socket) rather than a page.
var apiPrefixes = []string{
	"/api",
	"/ws",
}

// IsProtected reports whether path requires an authenticated session.
func IsProtected(path string) bool {
	return matchAny(protectedPrefixes, path)
}

// IsAPI reports whether path is served as an API rather than a page.
func IsAPI(path string) bool {
	return matchAny(apiPrefixes, path)
}

func matchAny(prefixes []string, path string) bool {
	for _, p := range prefixes {
		if hasSegmentPrefix(path, p) {
			return true
		}
	}
	return false
}

func hasSegmentPrefix(path, prefix string) bool {
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	rest := path[len(prefix):]
	return rest == "" || rest[0] == '/'
}

// LoginURL builds the login location carrying the original request as the
// return target.
func LoginURL(r *http.Request) string {
	target := r.URL.Path
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}
	return "/login?next=" + url.QueryEscape(target)
}

// SafeNext returns next when it is a local absolute path, and fallback
// otherwise. It guards redirects after login against open redirects.
func SafeNext(next, fallback string) string {
	if next == "" || next[0] != '/' {
		return fallback
	}
	if len(next) > 1 && (next[1] == '/' || next[1] == '\\') {
		return fallback
	}
	u, err := url.Parse(next)
	if err != nil || u.IsAbs() || u.Host != "" {
		return fallback
	}
	return next
}
