package source

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/idna"
)

// siteLocalV6 is the deprecated IPv6 site-local range. The net package
// has no predicate for it, so it gets an explicit check.
var siteLocalV6 = mustCIDR("fec0::/10")

func mustCIDR(s string) *net.IPNet {
	_, n, err := net.ParseCIDR(s)
	if err != nil {
		panic(err)
	}
	return n
}

// ValidateURL rejects URLs that could reach internal infrastructure.
// It is called at submission time and again immediately before each
// HTTP request, so a DNS answer that changes between the two checks
// still cannot route a fetch inside the perimeter.
func ValidateURL(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("source: invalid URL %q: %w", rawURL, err)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("source: only HTTP(S) URLs are allowed, got %q", rawURL)
	}

	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("source: URL %q has no hostname", rawURL)
	}

	// Internationalized hostnames are normalized before resolution;
	// malformed Unicode is rejected outright.
	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return fmt.Errorf("source: invalid hostname in %q: %w", rawURL, err)
	}

	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, ascii)
	if err != nil {
		return fmt.Errorf("source: cannot resolve host in %q: %w", rawURL, err)
	}
	if len(addrs) == 0 {
		return fmt.Errorf("source: host in %q resolved to no addresses", rawURL)
	}

	// Every resolved address must be public; one private A record among
	// public ones is enough to reject.
	for _, addr := range addrs {
		if reason := blockedIPReason(addr.IP); reason != "" {
			return fmt.Errorf("source: URL %q resolves to %s address %s", rawURL, reason, addr.IP)
		}
	}
	return nil
}

func blockedIPReason(ip net.IP) string {
	switch {
	case ip.IsLoopback():
		return "loopback"
	case ip.IsPrivate():
		return "private"
	case ip.IsLinkLocalUnicast(), ip.IsLinkLocalMulticast():
		return "link-local"
	case ip.IsUnspecified():
		return "unspecified"
	case siteLocalV6.Contains(ip):
		return "site-local"
	}
	return ""
}
