// Package simple contains the URL admission policy applied before outbound fetches.
package simple

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrDisallowedURL is wrapped by every rejection.
var ErrDisallowedURL = errors.New("url not allowed")

// Policy admits absolute http(s) URLs whose host is not on the deny list.
type Policy struct {
	denied map[string]struct{}
}

// New creates a Policy rejecting the given hosts (case-insensitive).
func New(deniedHosts ...string) *Policy {
	denied := make(map[string]struct{}, len(deniedHosts))
	for _, h := range deniedHosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h != "" {
			denied[h] = struct{}{}
		}
	}
	return &Policy{denied: denied}
}

// AllowFetch returns nil when rawURL may be fetched.
func (p *Policy) AllowFetch(rawURL string) error {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDisallowedURL, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return fmt.Errorf("%w: scheme %q", ErrDisallowedURL, u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return fmt.Errorf("%w: missing host", ErrDisallowedURL)
	}
	if p != nil {
		if _, blocked := p.denied[host]; blocked {
			return fmt.Errorf("%w: host %s is denied", ErrDisallowedURL, host)
		}
	}
	return nil
}
