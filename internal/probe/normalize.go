package probe

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var ErrInvalidURL = errors.New("invalid url")

// NormalizeURL trims raw and prepends "https://" unless it already starts
// with http:// or https:// (any case). It is idempotent.
func NormalizeURL(raw string) string {
	s := strings.TrimSpace(raw)
	low := strings.ToLower(s)
	if strings.HasPrefix(low, "http://") || strings.HasPrefix(low, "https://") {
		return s
	}
	return "https://" + s
}

// ValidateURL normalizes raw and returns its canonical form: lowercase
// scheme and host, no default port, no fragment, no trailing slash.
// Errors wrap ErrInvalidURL.
func ValidateURL(raw string) (string, error) {
	s := NormalizeURL(raw)
	if strings.ContainsAny(s, " \t\r\n") {
		return "", fmt.Errorf("%w: contains whitespace", ErrInvalidURL)
	}
	u, err := url.Parse(s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	if strings.HasPrefix(host, ".") || strings.HasSuffix(host, "..") || strings.Contains(host, "..") {
		return "", fmt.Errorf("%w: malformed host %q", ErrInvalidURL, host)
	}
	if u.User != nil {
		return "", fmt.Errorf("%w: credentials in url are not allowed", ErrInvalidURL)
	}

	u.Host = strings.ToLower(u.Host)
	if (u.Scheme == "http" && u.Port() == "80") || (u.Scheme == "https" && u.Port() == "443") {
		u.Host = strings.ToLower(host)
		if strings.Contains(host, ":") {
			u.Host = "[" + u.Host + "]"
		}
	}
	u.Fragment = ""
	u.RawFragment = ""
	if strings.HasSuffix(u.Path, "/") {
		u.Path = strings.TrimSuffix(u.Path, "/")
		u.RawPath = ""
	}
	return u.String(), nil
}
