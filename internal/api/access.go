package api

import (
	"log/slog"
	"net/http"
	"net/netip"
	"strings"
)

var loopbackEntries = []string{"127.0.0.1/32", "::1/128"}

// addressSet matches client addresses against configured prefixes. Bare addresses are host prefixes.
type addressSet []netip.Prefix

func parseAddressSet(entries []string, logger *slog.Logger) addressSet {
	set := make(addressSet, 0, len(entries))
	for _, raw := range entries {
		value := strings.TrimSpace(raw)
		if value == "" {
			continue
		}
		if addr, err := netip.ParseAddr(value); err == nil {
			addr = addr.Unmap()
			set = append(set, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}
		prefix, err := netip.ParsePrefix(value)
		if err != nil {
			logger.Warn("ignoring invalid network entry", "entry", value, "error", err)
			continue
		}
		set = append(set, prefix.Masked())
	}
	return set
}

func (s addressSet) contains(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, prefix := range s {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// operatorNetwork limits the queue administration surface to allowlisted clients. Forwarding
// headers name the client only when the direct peer is a trusted proxy.
type operatorNetwork struct {
	allowed addressSet
	proxies addressSet
}

func newOperatorNetwork(allowed, trustedProxies []string, logger *slog.Logger) operatorNetwork {
	if logger == nil {
		logger = slog.Default()
	}
	if len(allowed) == 0 {
		allowed = loopbackEntries
	}
	if len(trustedProxies) == 0 {
		trustedProxies = loopbackEntries
	}
	return operatorNetwork{
		allowed: parseAddressSet(allowed, logger),
		proxies: parseAddressSet(trustedProxies, logger),
	}
}

func (n operatorNetwork) clientAddr(r *http.Request) (netip.Addr, bool) {
	peer, ok := peerAddr(r)
	if !ok {
		return netip.Addr{}, false
	}
	if !n.proxies.contains(peer) {
		return peer, true
	}
	for _, part := range strings.Split(r.Header.Get("X-Forwarded-For"), ",") {
		if addr, err := netip.ParseAddr(strings.TrimSpace(part)); err == nil {
			return addr.Unmap(), true
		}
	}
	if addr, err := netip.ParseAddr(strings.TrimSpace(r.Header.Get("X-Real-IP"))); err == nil {
		return addr.Unmap(), true
	}
	return peer, true
}

func (n operatorNetwork) allows(r *http.Request) bool {
	addr, ok := n.clientAddr(r)
	return ok && n.allowed.contains(addr)
}

// restrict answers 404 to clients outside the allowlist.
func (n operatorNetwork) restrict(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !n.allows(r) {
			http.NotFound(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func peerAddr(r *http.Request) (netip.Addr, bool) {
	raw := strings.TrimSpace(r.RemoteAddr)
	if addrPort, err := netip.ParseAddrPort(raw); err == nil {
		return addrPort.Addr().Unmap(), true
	}
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}
