package middleware

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// Forwarding headers honoured from trusted proxies.
const (
	HeaderXForwardedFor = "X-Forwarded-For"
	HeaderXRealIP       = "X-Real-IP"
)

// proxySet matches peer addresses against configured proxies. Entries may be
// single addresses or CIDR prefixes; unparsable entries are ignored. An empty
// set trusts every peer.
type proxySet []netip.Prefix

func newProxySet(entries []string) proxySet {
	var set proxySet
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if p, err := netip.ParsePrefix(e); err == nil {
			set = append(set, p.Masked())
			continue
		}
		if a, err := netip.ParseAddr(e); err == nil {
			a = a.Unmap()
			set = append(set, netip.PrefixFrom(a, a.BitLen()))
		}
	}
	return set
}

func (s proxySet) trusts(ip string) bool {
	if len(s) == 0 {
		return true
	}
	a, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	a = a.Unmap()
	for _, p := range s {
		if p.Contains(a) {
			return true
		}
	}
	return false
}

// ClientIP resolves the caller's address once and stores it in the request
// context. With trustProxy set, X-Forwarded-For and then X-Real-IP are read,
// but only when the peer is one of trustedProxies (any peer when empty).
func ClientIP(trustProxy bool, trustedProxies []string) Middleware {
	proxies := newProxySet(trustedProxies)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := extractClientIP(r, trustProxy, proxies)
			next.ServeHTTP(w, r.WithContext(withClientIP(r.Context(), ip)))
		})
	}
}

// extractClientIP picks the address that identifies the caller. Forwarded
// values that do not parse as IP addresses are skipped so a client cannot
// mint arbitrary identifiers through the headers.
func extractClientIP(r *http.Request, trustProxy bool, proxies proxySet) string {
	peer := extractIP(r.RemoteAddr)
	if !trustProxy || !proxies.trusts(peer) {
		return peer
	}

	first, _, _ := strings.Cut(r.Header.Get(HeaderXForwardedFor), ",")
	if ip, ok := parseForwarded(first); ok {
		return ip
	}
	if ip, ok := parseForwarded(r.Header.Get(HeaderXRealIP)); ok {
		return ip
	}
	return peer
}

func parseForwarded(v string) (string, bool) {
	a, err := netip.ParseAddr(strings.TrimSpace(v))
	if err != nil {
		return "", false
	}
	return a.Unmap().String(), true
}

// extractIP strips the port from a host:port pair and unmaps IPv4-mapped
// IPv6 addresses, so a caller keys the same way however it connected.
// Unparsable addresses are returned with only the port removed.
func extractIP(addr string) string {
	if ap, err := netip.ParseAddrPort(addr); err == nil {
		return ap.Addr().Unmap().String()
	}
	if a, err := netip.ParseAddr(addr); err == nil {
		return a.Unmap().String()
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
