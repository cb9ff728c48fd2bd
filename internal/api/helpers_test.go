package api

import (
	"net/http/httptest"
	"net/netip"
	"testing"
)

func mustAddr(t *testing.T, s string) netip.Addr {
	t.Helper()
	a, err := netip.ParseAddr(s)
	if err != nil {
		t.Fatalf("parse addr %q: %v", s, err)
	}
	return a
}

// mustPort returns the port a httptest.Server is listening on.
func mustPort(t *testing.T, srv *httptest.Server) uint16 {
	t.Helper()
	addrPort, err := netip.ParseAddrPort(srv.Listener.Addr().String())
	if err != nil {
		t.Fatalf("parse listener addr %q: %v", srv.Listener.Addr(), err)
	}
	return addrPort.Port()
}
