// Package horosafe checks input that reaches rtlwatch over its API before
// it is used to drive the browser: page URLs and page identifiers.
package horosafe

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"
)

var (
	// ErrSSRF is returned when a URL targets a private or loopback address.
	ErrSSRF = errors.New("horosafe: URL targets a private or loopback address")

	// ErrUnsafeScheme is returned when a URL uses a non-HTTP(S) scheme.
	ErrUnsafeScheme = errors.New("horosafe: only http and https schemes are allowed")
)

// URLPolicy controls ValidateURL.
type URLPolicy struct {
	// AllowPrivate accepts loopback, link-local and RFC 1918 targets. Set it
	// when the API only listens locally and pages live on the same host.
	AllowPrivate bool

	// Resolve looks the host up and checks every address, which catches
	// internal names. nil uses net.LookupHost.
	Resolve func(host string) ([]string, error)
}

// ValidateURL checks that rawURL uses http/https, has a host and, unless
// the policy allows it, does not point at a private address.
func ValidateURL(rawURL string, p URLPolicy) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("horosafe: invalid URL: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return ErrUnsafeScheme
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("horosafe: URL has no host")
	}
	if p.AllowPrivate {
		return nil
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		if isPrivate(addr) {
			return ErrSSRF
		}
		return nil
	}

	resolve := p.Resolve
	if resolve == nil {
		resolve = net.LookupHost
	}
	addrs, err := resolve(host)
	if err != nil {
		// Unresolvable now; navigation fails later with a network error.
		return nil
	}
	for _, a := range addrs {
		if addr, err := netip.ParseAddr(a); err == nil && isPrivate(addr) {
			return ErrSSRF
		}
	}
	return nil
}

// ValidateIdentifier accepts page IDs made of letters, digits, '_', '-'
// and '.', at most 128 bytes.
func ValidateIdentifier(s string) error {
	if s == "" {
		return fmt.Errorf("horosafe: identifier must not be empty")
	}
	if len(s) > 128 {
		return fmt.Errorf("horosafe: identifier too long (max 128)")
	}
	for _, r := range s {
		if !isIdentChar(r) {
			return fmt.Errorf("horosafe: invalid character %q in identifier", r)
		}
	}
	return nil
}

func isIdentChar(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9') || r == '_' || r == '-' || r == '.'
}

func isPrivate(addr netip.Addr) bool {
	addr = addr.Unmap()
	return addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() || addr.IsUnspecified()
}
