// Package links rewrites outbound URLs into tracked redirects and issues
// persistent short codes for them.
package links

import (
	"net/url"
	"strings"

	"letterdesk/internal/logger"
)

// RedirectPath is the wrapped-URL endpoint served by the HTTP server.
const RedirectPath = "/api/redirect"

// ShortPathPrefix is the short-code endpoint prefix served by the HTTP server.
const ShortPathPrefix = "/r/"

var redirectPrefixes = []string{RedirectPath, ShortPathPrefix}

// Wrap rewrites rawURL into a tracked redirect through origin.
// Empty input, an already wrapped URL, or anything that fails to parse is
// returned unchanged.
func Wrap(rawURL, origin string) string {
	if rawURL == "" || origin == "" {
		return rawURL
	}

	originURL, err := url.Parse(strings.TrimSpace(origin))
	if err != nil || originURL.Host == "" {
		logger.Warn("Cannot wrap link, invalid origin", "origin", origin)
		return rawURL
	}
	target, err := url.Parse(rawURL)
	if err != nil {
		logger.Warn("Cannot wrap link, invalid url", "url", rawURL, "error", err.Error())
		return rawURL
	}

	if IsWrapped(target, originURL) {
		return rawURL
	}

	base := strings.TrimRight(originURL.Scheme+"://"+originURL.Host+originURL.Path, "/")
	return base + RedirectPath + "?url=" + url.QueryEscape(rawURL)
}

// IsWrapped reports whether u already points at one of origin's redirect endpoints.
func IsWrapped(u, origin *url.URL) bool {
	if u == nil || origin == nil || !strings.EqualFold(u.Host, origin.Host) {
		return false
	}
	path := strings.TrimPrefix(u.Path, strings.TrimRight(origin.Path, "/"))
	for _, prefix := range redirectPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// Unwrap returns the destination of a wrapped redirect URL, or rawURL itself
// when it is not a wrapped link.
func Unwrap(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || !strings.HasSuffix(u.Path, RedirectPath) {
		return rawURL
	}
	if target := u.Query().Get("url"); target != "" {
		return target
	}
	return rawURL
}
