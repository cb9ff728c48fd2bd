package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHandlePlayerPdataReturnsEverything(t *testing.T) {
	h := newTestHandler(t)
	if err := h.Store.Create(context.Background(), 7); err != nil {
		t.Fatal(err)
	}

	r := httptest.NewRequest(http.MethodGet, "/player/pdata?id=7", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var obj map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &obj); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, f := range []string{"xp", "weaponStats", "activeLoadoutName"} {
		if _, ok := obj[f]; !ok {
			t.Errorf("expected full pdata to include %q", f)
		}
	}
}

func TestHandlePlayerInfoIsRestrictedToInfoFields(t *testing.T) {
	h := newTestHandler(t)
	if err := h.Store.Create(context.Background(), 7); err != nil {
		t.Fatal(err)
	}

	r := httptest.NewRequest(http.MethodGet, "/player/info?id=7", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var obj map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &obj); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, f := range []string{"id", "name", "gen", "xp", "activeCallingCardIndex", "activeCallsignIconIndex", "activeCallsignIconStyleIndex", "netWorth"} {
		if _, ok := obj[f]; !ok {
			t.Errorf("expected info view to include %q", f)
		}
	}
	if got := obj["id"]; got != float64(7) {
		t.Errorf("expected id 7, got %v", got)
	}
	if _, ok := obj["weaponStats"]; ok {
		t.Errorf("expected info view to exclude weaponStats")
	}
	if _, ok := obj["previousXp"]; ok {
		t.Errorf("expected info view to exclude raw pdata fields like previousXp")
	}
}

func TestHandlePlayerStatsIsRestrictedToStatsFields(t *testing.T) {
	h := newTestHandler(t)
	if err := h.Store.Create(context.Background(), 7); err != nil {
		t.Fatal(err)
	}

	r := httptest.NewRequest(http.MethodGet, "/player/stats?id=7", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	var obj map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &obj); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := obj["weaponStats"]; !ok {
		t.Errorf("expected stats view to include weaponStats")
	}
	if _, ok := obj["xp"]; ok {
		t.Errorf("expected stats view to exclude xp")
	}
}

func TestHandlePlayerLoadoutIsRestrictedToLoadoutFields(t *testing.T) {
	h := newTestHandler(t)
	if err := h.Store.Create(context.Background(), 7); err != nil {
		t.Fatal(err)
	}

	r := httptest.NewRequest(http.MethodGet, "/player/loadout?id=7", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	var obj map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &obj); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := obj["activeLoadoutName"]; !ok {
		t.Errorf("expected loadout view to include activeLoadoutName")
	}
	if _, ok := obj["challenges"]; ok {
		t.Errorf("expected loadout view to exclude challenges")
	}
}

func TestHandlePlayerUnknownAccountNotFound(t *testing.T) {
	h := newTestHandler(t)

	r := httptest.NewRequest(http.MethodGet, "/player/info?id=999", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}
