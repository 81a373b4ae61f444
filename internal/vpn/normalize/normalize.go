// Package normalize provides pure, idempotent string transforms over VLESS
// share URLs. It never fabricates cryptographic material (UUIDs, keys) —
// it only rewrites the host and fragment portions a client already trusts.
package normalize

import (
	"net/url"
	"strings"
)

// NormalizeHost rewrites the host (and only the host, preserving port and
// userinfo) embedded in a vless:// URL to hostOverride. Backend management
// APIs often return client configs pointing at an internal/default host
// that is unreachable from outside; the bundle server substitutes the
// server's public domain before handing the config to a client.
// Idempotent: normalizing an already-normalized URL with the same override
// yields the same result. A URL with no vless:// scheme or no override is
// returned unchanged.
func NormalizeHost(rawURL, hostOverride string) string {
	hostOverride = strings.TrimSpace(hostOverride)
	if hostOverride == "" || !strings.HasPrefix(rawURL, "vless://") {
		return rawURL
	}
	// url.Parse doesn't accept the vless scheme's userinfo@host shape
	// reliably across all encodings, so swap in https:// for parsing and
	// swap back — the same trick the reference implementation uses.
	u, err := url.Parse("https://" + strings.TrimPrefix(rawURL, "vless://"))
	if err != nil {
		return rawURL
	}
	port := u.Port()
	if port != "" {
		u.Host = hostOverride + ":" + port
	} else {
		u.Host = hostOverride
	}
	return "vless://" + strings.TrimPrefix(u.String(), "https://")
}

// StripFragment removes the #fragment portion of a VLESS share URL, if any.
// Idempotent: stripping an already-stripped URL is a no-op.
func StripFragment(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	u.Fragment = ""
	return u.String(), nil
}

// SetFragment replaces (or adds) the #fragment portion of a VLESS share URL
// with the given display name. Idempotent for a fixed fragment value:
// calling it twice with the same fragment yields the same URL.
func SetFragment(rawURL, fragment string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	u.Fragment = fragment
	return u.String(), nil
}
