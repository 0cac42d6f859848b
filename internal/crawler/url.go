package crawler

import (
	"fmt"
	"net/url"
	"strings"
)

// HostOf derives the admission host for an identifier. Hosts are compared
// case-insensitively and without the port.
func HostOf(id string) (string, error) {
	u, err := url.Parse(id)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrMalformedIdentifier, id, err)
	}
	if u.Scheme == "" {
		return "", fmt.Errorf("%w: %q: missing scheme", ErrMalformedIdentifier, id)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("%w: %q: missing host", ErrMalformedIdentifier, id)
	}
	return host, nil
}
