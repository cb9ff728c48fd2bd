// Package ipaccess extracts the client IP a request is attributed to,
// following the trusted-proxy middleware shape of the teacher's
// pkg/cloudflare/middleware.go but generalized to any single trusted proxy
// prefix set rather than a hardcoded Cloudflare IP list.
package ipaccess

import (
	"fmt"
	"net/http"
	"net/netip"
)

// ClientIP returns the IP address the request should be attributed to: the
// value of trustedHeader (e.g. "CF-Connecting-IP", "X-Real-IP") if the
// immediate peer address falls within trusted, otherwise the peer address
// itself.
func ClientIP(r *http.Request, trusted []netip.Prefix, trustedHeader string) (netip.Addr, error) {
	raddr, err := netip.ParseAddrPort(r.RemoteAddr)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("parse remote addr %q: %w", r.RemoteAddr, err)
	}

	if trustedHeader == "" || !inAny(raddr.Addr(), trusted) {
		return raddr.Addr(), nil
	}

	h := r.Header.Get(trustedHeader)
	if h == "" {
		return raddr.Addr(), nil
	}

	ip, err := netip.ParseAddr(h)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("parse %s %q: %w", trustedHeader, h, err)
	}
	return ip, nil
}

func inAny(ip netip.Addr, prefixes []netip.Prefix) bool {
	for _, p := range prefixes {
		if p.Contains(ip) {
			return true
		}
	}
	return false
}
