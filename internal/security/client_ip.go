package security

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// proxyHeaders is the priority order in which forwarding headers are
// consulted when resolving the real client address.
var proxyHeaders = []string{
	"CF-Connecting-IP",
	"True-Client-IP",
	"X-Real-IP",
	"X-Forwarded-For",
}

// RealClientIP resolves the client address behind trusted proxies. Each
// header candidate must parse as a public IP before it is accepted;
// otherwise the direct connection address is used. X-Forwarded-For is
// scanned left to right, taking the first public hop.
func RealClientIP(r *http.Request) string {
	for _, header := range proxyHeaders {
		value := r.Header.Get(header)
		if value == "" {
			continue
		}
		for _, candidate := range strings.Split(value, ",") {
			if ip, ok := parsePublicIP(strings.TrimSpace(candidate)); ok {
				return ip
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// parsePublicIP reports whether s is a valid, publicly routable IP.
func parsePublicIP(s string) (string, bool) {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return "", false
	}
	if addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() || addr.IsMulticast() || addr.IsUnspecified() {
		return "", false
	}
	return addr.String(), true
}
