package api

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
)

func TestParseAddressSet(t *testing.T) {
	set := parseAddressSet([]string{" 10.1.2.3 ", "192.168.7.9/16", "", "not-a-network", "2001:db8::/32"}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	want := []string{"10.1.2.3/32", "192.168.0.0/16", "2001:db8::/32"}
	if len(set) != len(want) {
		t.Fatalf("parseAddressSet() = %v, want %v", set, want)
	}
	for i, prefix := range set {
		if prefix.String() != want[i] {
			t.Fatalf("entry %d = %s, want %s", i, prefix, want[i])
		}
	}

	for addr, contained := range map[string]bool{
		"10.1.2.3":        true,
		"10.1.2.4":        false,
		"192.168.200.1":   true,
		"::ffff:10.1.2.3": true,
		"2001:db8:1::7":   true,
		"2001:db9::1":     false,
		"fe80::1":         false,
		"198.51.100.250":  false,
	} {
		if got := set.contains(netip.MustParseAddr(addr)); got != contained {
			t.Fatalf("contains(%s) = %v, want %v", addr, got, contained)
		}
	}
}

func TestOperatorNetworkClientAddr(t *testing.T) {
	tests := []struct {
		name      string
		proxies   []string
		peer      string
		forwarded string
		realIP    string
		want      string
	}{
		{name: "loopback proxy forwards", peer: "127.0.0.1:4000", forwarded: "203.0.113.7, 198.51.100.4", want: "203.0.113.7"},
		{name: "untrusted peer ignores headers", peer: "198.51.100.10:4000", forwarded: "203.0.113.7", want: "198.51.100.10"},
		{name: "configured proxy", proxies: []string{"198.51.100.0/24"}, peer: "198.51.100.10:4000", forwarded: "203.0.113.7", want: "203.0.113.7"},
		{name: "malformed forwarded falls back to real ip", peer: "[::1]:4000", forwarded: "garbage", realIP: "203.0.113.9", want: "203.0.113.9"},
		{name: "proxy without headers", peer: "127.0.0.1:4000", want: "127.0.0.1"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			network := newOperatorNetwork(nil, tc.proxies, nil)
			req := httptest.NewRequest(http.MethodGet, "/api/v1/sites/main/queue", nil)
			req.RemoteAddr = tc.peer
			if tc.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tc.forwarded)
			}
			if tc.realIP != "" {
				req.Header.Set("X-Real-IP", tc.realIP)
			}
			got, ok := network.clientAddr(req)
			if !ok || got.String() != tc.want {
				t.Fatalf("clientAddr() = %v, %v, want %s", got, ok, tc.want)
			}
		})
	}
}

func TestOperatorNetworkRejectsUnparseablePeer(t *testing.T) {
	network := newOperatorNetwork(nil, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/sites", nil)
	req.RemoteAddr = "somewhere"
	if network.allows(req) {
		t.Fatal("allows() = true for an unparseable peer")
	}
}

func TestQueueRoutesFollowForwardedOperator(t *testing.T) {
	f := newAPIFixture(t, ServerOptions{
		AdminAllowedCIDRs: []string{"203.0.113.0/24"},
		TrustedProxies:    []string{"10.0.0.0/8"},
	})

	send := func(peer string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/sites/main/queue", nil)
		req.RemoteAddr = peer
		req.Header.Set("X-Forwarded-For", "203.0.113.7")
		req.Header.Set("Authorization", "Bearer "+f.token)
		resp := httptest.NewRecorder()
		f.server.ServeHTTP(resp, req)
		return resp.Code
	}

	if got := send("10.4.5.6:4000"); got != http.StatusOK {
		t.Fatalf("expected overview through trusted proxy, got %d", got)
	}
	if got := send("198.51.100.10:4000"); got != http.StatusNotFound {
		t.Fatalf("expected overview hidden behind untrusted proxy, got %d", got)
	}
}
