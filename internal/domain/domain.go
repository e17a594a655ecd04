// Package domain canonicalizes and validates user-supplied domain names.
package domain

import (
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"
)

var ErrInvalidDomain = errors.New("invalid domain")

var labelPattern = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?$`)

// systemNames must never end up in a blocklist; removing or rerouting them
// breaks local name resolution.
var systemNames = map[string]bool{
	"localhost":             true,
	"localhost.localdomain": true,
	"ip6-localhost":         true,
	"ip6-loopback":          true,
}

// Normalize turns an arbitrary user-supplied string into a canonical domain:
// no scheme, no path, no port, no leading www., lowercased. Returns
// ErrInvalidDomain when the remainder is not a valid hostname.
func Normalize(raw string) (string, error) {
	d := strings.TrimSpace(raw)
	if d == "" {
		return "", fmt.Errorf("%w: empty input", ErrInvalidDomain)
	}

	if i := strings.Index(d, "://"); i >= 0 {
		d = d[i+3:]
	}
	if i := strings.IndexAny(d, "/?"); i >= 0 {
		d = d[:i]
	}
	if i := strings.LastIndex(d, ":"); i >= 0 && net.ParseIP(d) == nil {
		// Keep bracketed IPv6 literals intact; everything else loses the port.
		if !strings.HasPrefix(d, "[") {
			d = d[:i]
		}
	}
	d = strings.ToLower(d)
	d = strings.TrimPrefix(d, "www.")

	if d == "" {
		return "", fmt.Errorf("%w: empty after stripping", ErrInvalidDomain)
	}
	if len(d) > 253 {
		return "", fmt.Errorf("%w: name too long", ErrInvalidDomain)
	}
	if strings.Contains(d, "..") {
		return "", fmt.Errorf("%w: consecutive dots in %q", ErrInvalidDomain, d)
	}
	if strings.HasPrefix(d, ".") || strings.HasSuffix(d, ".") {
		return "", fmt.Errorf("%w: leading or trailing dot in %q", ErrInvalidDomain, d)
	}
	for _, label := range strings.Split(d, ".") {
		if !labelPattern.MatchString(label) {
			return "", fmt.Errorf("%w: bad label %q", ErrInvalidDomain, label)
		}
	}
	return d, nil
}

// Parents returns the hierarchical suffix walk of a domain, nearest first:
// a.b.example.com -> [b.example.com example.com com].
func Parents(d string) []string {
	parts := strings.Split(d, ".")
	if len(parts) < 2 {
		return nil
	}
	out := make([]string, 0, len(parts)-1)
	for i := 1; i < len(parts); i++ {
		out = append(out, strings.Join(parts[i:], "."))
	}
	return out
}

// IsSystem reports whether d is a hostname the system itself depends on.
func IsSystem(d string) bool { return systemNames[d] }

// Valid reports whether d is already in canonical form.
func Valid(d string) bool {
	n, err := Normalize(d)
	return err == nil && n == d
}
