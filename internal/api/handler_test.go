package api

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/Alainx277/northstar-master-server/internal/broker"
	"github.com/Alainx277/northstar-master-server/internal/pdata"
	"github.com/Alainx277/northstar-master-server/internal/prober"
	"github.com/Alainx277/northstar-master-server/internal/registry"
	"github.com/Alainx277/northstar-master-server/internal/store"
)

// newTestHandler wires a Handler against a temporary on-disk sqlite store,
// fresh registry, and default blob, mirroring the construction
// cmd/atlasd performs at startup.
func newTestHandler(t *testing.T) *Handler {
	t.Helper()

	schema, err := pdata.Schema()
	if err != nil {
		t.Fatalf("parse schema: %v", err)
	}
	blob, err := os.ReadFile(filepath.Join("..", "..", "assets", "default.pdata"))
	if err != nil {
		t.Fatalf("read default.pdata: %v", err)
	}

	dir := t.TempDir()
	st, err := store.Open(context.Background(), filepath.Join(dir, "accounts.db"), blob)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	reg := registry.New(10)
	br := broker.New(st, reg, len(blob))
	br.InsecureDevNoCheckPlayerAuth = true

	return &Handler{
		Broker:      br,
		Registry:    reg,
		Store:       st,
		Prober:      &prober.Prober{},
		Schema:      schema,
		DefaultBlob: blob,
	}
}
