package catalog

import (
	"net/url"
	"strings"
)

// Host returns the lower-cased publishing domain of rawURL, without a leading "www.".
// It returns "" when rawURL has no host.
func Host(rawURL string) string {
	if !strings.Contains(rawURL, "://") {
		rawURL = "https://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

// Account returns the first host label, which names the artist or label
// account on the publishing platform.
func Account(rawURL string) string {
	host := Host(rawURL)
	if host == "" {
		return ""
	}
	label, _, _ := strings.Cut(host, ".")
	return label
}

// ItemSlug returns the last non-empty path segment of rawURL.
func ItemSlug(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	return strings.ToLower(segments[len(segments)-1])
}

// NormalizeURL strips query and fragment, lower-cases the host and drops a
// trailing slash so equivalent listing URLs compare equal.
func NormalizeURL(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return strings.TrimSpace(rawURL)
	}
	u.Host = strings.ToLower(u.Host)
	u.RawQuery = ""
	u.Fragment = ""
	u.Path = strings.TrimSuffix(u.Path, "/")
	if u.Scheme == "" {
		u.Scheme = "https"
	}
	return u.String()
}
