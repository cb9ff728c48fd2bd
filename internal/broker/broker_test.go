package broker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"path/filepath"
	"testing"

	"github.com/Alainx277/northstar-master-server/internal/registry"
	"github.com/Alainx277/northstar-master-server/internal/store"
	"github.com/Alainx277/northstar-master-server/internal/uid"
)

const testBlob = "0123456789"

func newTestBroker(t *testing.T) *Broker {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(context.Background(), filepath.Join(dir, "accounts.db"), []byte(testBlob))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	reg := registry.New(10)
	return New(st, reg, len(testBlob))
}

func TestOriginAuthenticateAcceptsAndCreatesAccount(t *testing.T) {
	b := newTestBroker(t)
	b.NucleusAuth = func(ctx context.Context, code string, accountID uint32) ([]byte, error) {
		return []byte(`{"hasOnlineAccess":"1","storeUri":"https://example.com/titanfall-2"}`), nil
	}

	ip := netip.MustParseAddr("198.51.100.9")
	token, err := b.OriginAuthenticate(context.Background(), 7, "code", ip)
	if err != nil {
		t.Fatalf("origin authenticate: %v", err)
	}

	ok, err := b.Store.Authenticate(context.Background(), 7, token)
	if err != nil || !ok {
		t.Fatalf("expected issued token to authenticate, ok=%v err=%v", ok, err)
	}
}

func TestOriginAuthenticateRejectsInvalidToken(t *testing.T) {
	b := newTestBroker(t)
	b.NucleusAuth = func(ctx context.Context, code string, accountID uint32) ([]byte, error) {
		return nil, ErrNoGame // stand-in: the real stryder package wraps its own sentinel errors
	}
	if _, err := b.OriginAuthenticate(context.Background(), 7, "code", netip.MustParseAddr("198.51.100.9")); err == nil {
		t.Fatalf("expected rejection")
	}
}

func TestAuthenticateSelf(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()
	if err := b.Store.Create(ctx, 7); err != nil {
		t.Fatal(err)
	}
	token, err := b.Store.CreateToken(ctx, 7, netip.MustParseAddr("198.51.100.9"))
	if err != nil {
		t.Fatal(err)
	}

	res, err := b.AuthenticateSelf(ctx, 7, token)
	if err != nil {
		t.Fatalf("authenticate self: %v", err)
	}
	if res.ID != "7" {
		t.Fatalf("expected id \"7\", got %q", res.ID)
	}
	if string(res.PersistentData) != testBlob {
		t.Fatalf("expected default blob, got %q", res.PersistentData)
	}

	other, _ := uid.New()
	if _, err := b.AuthenticateSelf(ctx, 7, other); err != ErrInvalidMasterserverToken {
		t.Fatalf("expected ErrInvalidMasterserverToken, got %v", err)
	}
}

func TestAuthenticateWithServer(t *testing.T) {
	var gotUsername string
	gs := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("auth_token") == "" || r.URL.Query().Get("server_auth_token") == "" {
			t.Errorf("expected snake_case auth_token/server_auth_token params, got %q", r.URL.RawQuery)
		}
		gotUsername = r.URL.Query().Get("username")
		json.NewEncoder(w).Encode(map[string]any{"success": true})
	}))
	defer gs.Close()

	b := newTestBroker(t)
	ctx := context.Background()
	if err := b.Store.Create(ctx, 7); err != nil {
		t.Fatal(err)
	}
	token, err := b.Store.CreateToken(ctx, 7, netip.MustParseAddr("198.51.100.9"))
	if err != nil {
		t.Fatal(err)
	}

	addrPort, err := netip.ParseAddrPort(gs.Listener.Addr().String())
	if err != nil {
		t.Fatal(err)
	}

	srv, err := b.Registry.Push(addrPort.Addr(), registry.Settings{GamePort: 37015, AuthPort: addrPort.Port()}, nil)
	if err != nil {
		t.Fatal(err)
	}

	res, err := b.AuthenticateWithServer(ctx, 7, token, srv.ID, "")
	if err != nil {
		t.Fatalf("authenticate with server: %v", err)
	}
	if len(res.AuthToken) != 20 {
		t.Fatalf("expected 20-char truncated token, got %q (%d chars)", res.AuthToken, len(res.AuthToken))
	}
	// account 7 has never had a display name recorded, so the account store's
	// GetName reports "" rather than any client-supplied value.
	if gotUsername != "" {
		t.Fatalf("expected username sourced from the account store, got %q", gotUsername)
	}

	auth, err := b.Store.GetAuth(ctx, 7)
	if err != nil {
		t.Fatal(err)
	}
	if auth.CurrentServer == nil || *auth.CurrentServer != srv.ID {
		t.Fatalf("expected current server to be recorded")
	}
}

func TestAuthenticateWithServerWrongPassword(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()
	if err := b.Store.Create(ctx, 7); err != nil {
		t.Fatal(err)
	}
	token, err := b.Store.CreateToken(ctx, 7, netip.MustParseAddr("198.51.100.9"))
	if err != nil {
		t.Fatal(err)
	}
	srv, err := b.Registry.Push(netip.MustParseAddr("203.0.113.1"), registry.Settings{GamePort: 1, AuthPort: 1, Password: "hunter2"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.AuthenticateWithServer(ctx, 7, token, srv.ID, "wrong"); err != ErrWrongPassword {
		t.Fatalf("expected ErrWrongPassword, got %v", err)
	}
}

func TestAuthenticateWithServerChecksTokenBeforeServer(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()
	if err := b.Store.Create(ctx, 7); err != nil {
		t.Fatal(err)
	}
	other, err := uid.New()
	if err != nil {
		t.Fatal(err)
	}

	noServer, err := uid.New()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.AuthenticateWithServer(ctx, 7, other, noServer, "wrong"); err != ErrInvalidMasterserverToken {
		t.Fatalf("expected an invalid token to be rejected before a missing server is considered, got %v", err)
	}
}

func TestAuthorizePersistenceUploadByLastAuthIP(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()
	if err := b.Store.Create(ctx, 7); err != nil {
		t.Fatal(err)
	}
	ip := netip.MustParseAddr("198.51.100.9")
	if _, err := b.Store.CreateToken(ctx, 7, ip); err != nil {
		t.Fatal(err)
	}

	if err := b.AuthorizePersistenceUpload(ctx, 7, nil, ip, []byte(testBlob)); err != nil {
		t.Fatalf("expected authorized upload to succeed: %v", err)
	}

	blob, err := b.Store.GetData(ctx, 7)
	if err != nil || string(blob) != testBlob {
		t.Fatalf("expected blob to be stored, got %q err=%v", blob, err)
	}

	other := netip.MustParseAddr("203.0.113.50")
	if err := b.AuthorizePersistenceUpload(ctx, 7, nil, other, []byte(testBlob)); err != ErrNotPermitted {
		t.Fatalf("expected ErrNotPermitted for mismatched ip, got %v", err)
	}
}

func TestAuthorizePersistenceUploadRejectsWrongLength(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()
	if err := b.Store.Create(ctx, 7); err != nil {
		t.Fatal(err)
	}
	ip := netip.MustParseAddr("198.51.100.9")
	if _, err := b.Store.CreateToken(ctx, 7, ip); err != nil {
		t.Fatal(err)
	}
	if err := b.AuthorizePersistenceUpload(ctx, 7, nil, ip, []byte("short")); err != ErrInvalidData {
		t.Fatalf("expected ErrInvalidData, got %v", err)
	}
}

func TestAuthorizePersistenceUploadByCurrentServer(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()
	if err := b.Store.Create(ctx, 7); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Store.CreateToken(ctx, 7, netip.MustParseAddr("198.51.100.9")); err != nil {
		t.Fatal(err)
	}

	serverIP := netip.MustParseAddr("203.0.113.1")
	srv, err := b.Registry.Push(serverIP, registry.Settings{GamePort: 1, AuthPort: 1}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Store.JoinServer(ctx, 7, srv.ID); err != nil {
		t.Fatal(err)
	}

	// request comes from the server's own IP, not the player's last_auth_ip.
	if err := b.AuthorizePersistenceUpload(ctx, 7, &srv.ID, serverIP, []byte(testBlob)); err != nil {
		t.Fatalf("expected authorization via current_server match, got %v", err)
	}
}

func TestAuthorizePersistenceUploadInvalidAccount(t *testing.T) {
	b := newTestBroker(t)
	if err := b.AuthorizePersistenceUpload(context.Background(), 999, nil, netip.MustParseAddr("198.51.100.9"), []byte(testBlob)); err != ErrInvalidAccount {
		t.Fatalf("expected ErrInvalidAccount, got %v", err)
	}
}
