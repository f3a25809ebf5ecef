package capabilities

import (
	"fmt"
	"net/url"
	"strings"
)

// Canonical normalizes a URL so that equivalent spellings share one cache
// entry: scheme and host are lower-cased, query parameters sorted and the
// fragment dropped.
func Canonical(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	if u.RawQuery != "" {
		u.RawQuery = u.Query().Encode()
	}
	return u.String(), nil
}

// CapabilitiesURL derives the GetCapabilities URL of a service from a layer
// source. explicit, when set, wins: absolute URLs are used as is and relative
// ones resolve against base.
func CapabilitiesURL(base, service, explicit string) (string, error) {
	b, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", fmt.Errorf("service url %q: %w", base, err)
	}
	if explicit != "" {
		ref, err := url.Parse(strings.TrimSpace(explicit))
		if err != nil {
			return "", fmt.Errorf("capabilities url %q: %w", explicit, err)
		}
		return Canonical(b.ResolveReference(ref).String())
	}
	// Tile templates carry placeholders in the path; only the service root
	// matters here.
	q := url.Values{}
	q.Set("service", strings.ToUpper(service))
	q.Set("request", "GetCapabilities")
	b.RawQuery = q.Encode()
	b.Fragment = ""
	return Canonical(b.String())
}
