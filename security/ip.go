package security

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP extracts the client IP address from a request. Forwarding
// headers (X-Forwarded-For, X-Real-IP) are honored only when trustProxy is
// set; otherwise spoofed headers would defeat per-IP rate limiting.
//
// trustedProxyCount is the number of proxies under our control counted from
// the right of the X-Forwarded-For chain; zero means one.
func ClientIP(r *http.Request, trustProxy bool, trustedProxyCount int) string {
	if trustProxy {
		if ip := clientIPFromXFF(r.Header.Get("X-Forwarded-For"), trustedProxyCount); ip != "" {
			return ip
		}
		if ip := r.Header.Get("X-Real-IP"); net.ParseIP(ip) != nil {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// clientIPFromXFF picks the client entry out of an X-Forwarded-For chain.
// The chain reads "client, proxy1, proxy2, ..."; the rightmost entries are
// the proxies we trust, so the client sits trustedProxyCount+1 from the end.
func clientIPFromXFF(xff string, trustedProxyCount int) string {
	if xff == "" {
		return ""
	}

	entries := strings.Split(xff, ",")
	proxies := trustedProxyCount
	if proxies == 0 {
		proxies = 1
	}
	idx := len(entries) - proxies - 1
	if idx < 0 {
		idx = 0
	}

	candidate := strings.TrimSpace(entries[idx])
	if net.ParseIP(candidate) == nil {
		return ""
	}
	return candidate
}
