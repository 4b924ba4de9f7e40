package tracker

import (
	"errors"
	"net/url"
	"strings"
)

var (
	// ErrNoDomain means a URL has no hostname to attribute time to.
	ErrNoDomain = errors.New("tracker: url has no domain")
	// ErrTabNotFound means a tab lookup found nothing.
	ErrTabNotFound = errors.New("tracker: tab not found")
)

// ExtractDomain returns the lower-cased hostname of rawURL. URLs that fail to
// parse or carry no host (about:blank, file paths, bare words) yield
// ErrNoDomain.
func ExtractDomain(rawURL string) (string, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return "", ErrNoDomain
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", ErrNoDomain
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", ErrNoDomain
	}
	return host, nil
}
