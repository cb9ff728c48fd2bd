package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"

	"github.com/Alainx277/northstar-master-server/internal/registry"
)

func TestHandleClientOriginAuthIssuesToken(t *testing.T) {
	h := newTestHandler(t)

	r := httptest.NewRequest(http.MethodGet, "/client/origin_auth?id=7&token=anycode", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var obj map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &obj); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if obj["success"] != true {
		t.Fatalf("expected success, got %v", obj)
	}
	if _, ok := obj["token"].(string); !ok {
		t.Fatalf("expected string token, got %v", obj["token"])
	}
}

func TestHandleClientOriginAuthRequiresToken(t *testing.T) {
	h := newTestHandler(t)

	r := httptest.NewRequest(http.MethodGet, "/client/origin_auth?id=7", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestHandleClientAuthWithSelfReturnsPersistentData(t *testing.T) {
	h := newTestHandler(t)
	if err := h.Store.Create(context.Background(), 7); err != nil {
		t.Fatal(err)
	}

	r := httptest.NewRequest(http.MethodPost, "/client/auth_with_self?id=7&playerToken=00000000000000000000000000000000", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var obj map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &obj); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if obj["id"] != "7" {
		t.Fatalf("expected id \"7\", got %v", obj["id"])
	}
	if _, ok := obj["persistentData"].([]any); !ok {
		t.Fatalf("expected persistentData array, got %v", obj["persistentData"])
	}
}

func TestHandleClientAuthWithSelfRejectsMalformedToken(t *testing.T) {
	h := newTestHandler(t)
	if err := h.Store.Create(context.Background(), 7); err != nil {
		t.Fatal(err)
	}

	r := httptest.NewRequest(http.MethodPost, "/client/auth_with_self?id=7&playerToken=not-hex", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestHandleClientAuthWithServerJoinsServer(t *testing.T) {
	h := newTestHandler(t)
	ctx := context.Background()
	if err := h.Store.Create(ctx, 7); err != nil {
		t.Fatal(err)
	}

	gs := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"success": true})
	}))
	defer gs.Close()

	gsAddrPort, err := netip.ParseAddrPort(gs.Listener.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	srv, err := h.Registry.Push(
		gsAddrPort.Addr(),
		registry.Settings{GamePort: 37015, AuthPort: gsAddrPort.Port()},
		nil,
	)
	if err != nil {
		t.Fatal(err)
	}

	r := httptest.NewRequest(http.MethodPost, "/client/auth_with_server?id=7&playerToken=00000000000000000000000000000000&server="+srv.ID.String(), nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandleClientAuthWithServerUnknownServer(t *testing.T) {
	h := newTestHandler(t)
	if err := h.Store.Create(context.Background(), 7); err != nil {
		t.Fatal(err)
	}

	r := httptest.NewRequest(http.MethodPost, "/client/auth_with_server?id=7&playerToken=00000000000000000000000000000000&server=ffffffffffffffffffffffffffffffff", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestHandleClientServersListsRegistered(t *testing.T) {
	h := newTestHandler(t)
	_, err := h.Registry.Push(mustAddr(t, "203.0.113.7"), registry.Settings{GamePort: 37015, AuthPort: 8081, Name: "X"}, nil)
	if err != nil {
		t.Fatal(err)
	}

	r := httptest.NewRequest(http.MethodGet, "/client/servers", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var entries []map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &entries); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(entries) != 1 || entries[0]["name"] != "X" {
		t.Fatalf("expected one listing named X, got %v", entries)
	}
}
