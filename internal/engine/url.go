package engine

import (
	"fmt"
	"net/url"
	"strings"
)

// DefaultTrackingParams are query parameters stripped during normalization
// unless the job configuration overrides the list.
var DefaultTrackingParams = []string{
	"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content",
	"gclid", "fbclid", "mc_cid", "mc_eid", "ref",
}

// NormalizeURL standardizes a URL so the frontier can deduplicate it.
// It lowercases the scheme and host, removes default ports and fragments,
// strips the given tracking parameters, sorts the remaining query, and
// drops a trailing slash on non-root paths.
func NormalizeURL(rawURL string, trackingParams []string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url %q missing scheme or host", rawURL)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""

	q := u.Query()
	for _, param := range trackingParams {
		q.Del(param)
	}
	u.RawQuery = q.Encode()

	if len(u.Path) > 1 {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}

	return u.String(), nil
}

// DomainOf extracts the lowercase hostname, or "unknown" when unparsable.
func DomainOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}
