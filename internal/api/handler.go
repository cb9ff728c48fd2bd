package api

import (
	"encoding/json"
	"net/http"
	"net/netip"
	"sync"

	"github.com/rs/zerolog/hlog"

	"github.com/Alainx277/northstar-master-server/internal/broker"
	"github.com/Alainx277/northstar-master-server/internal/ipaccess"
	"github.com/Alainx277/northstar-master-server/internal/metrics"
	"github.com/Alainx277/northstar-master-server/internal/pdata"
	"github.com/Alainx277/northstar-master-server/internal/pdef"
	"github.com/Alainx277/northstar-master-server/internal/prober"
	"github.com/Alainx277/northstar-master-server/internal/registry"
	"github.com/Alainx277/northstar-master-server/internal/store"
)

// Handler serves the HTTP surface (C8) over the C1-C6 components, following
// the shape of the teacher's pkg/api/api0.Handler: a single struct with a
// ServeHTTP path switch and thin per-route methods that parse the request and
// call straight into the components below.
type Handler struct {
	Broker   *broker.Broker
	Registry *registry.Registry
	Store    *store.Store
	Prober   *prober.Prober
	Schema   *pdef.Pdef

	// DefaultBlob is the canonical empty persistence blob, loaded once at
	// startup from default.pdata.
	DefaultBlob []byte

	// MinimumLauncherVersion configures the C7 version gate. Empty disables
	// it.
	MinimumLauncherVersion string

	// TrustedProxies and TrustedIPHeader configure client IP extraction
	// behind a reverse proxy; see internal/ipaccess.
	TrustedProxies  []netip.Prefix
	TrustedIPHeader string

	// MainMenuPromos is the static payload served verbatim for
	// /client/mainmenupromos, loaded once from mainmenupromodata.json.
	MainMenuPromos json.RawMessage

	// MainMenuPromosHook, if set, overrides MainMenuPromos on a per-request
	// basis; an error fails the request with 500, matching spec's
	// "served as application/json; 500 on read error" filesystem contract
	// for a live-reloaded mainmenupromodata.json. Retained as an optional
	// hook so the dynamic-promo behavior of the teacher's client.go is
	// available without being required; nil means static passthrough.
	MainMenuPromosHook func(*http.Request) (json.RawMessage, error)

	// NotFound handles requests not handled by this Handler.
	NotFound http.Handler

	metricsOnce sync.Once
}

// ServeHTTP routes requests to Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Server", "northstar-master-server")

	switch r.URL.Path {
	case "/client/mainmenupromos":
		h.handleMainMenuPromos(w, r)
	case "/client/origin_auth":
		h.handleClientOriginAuth(w, r)
	case "/client/auth_with_self":
		h.handleClientAuthWithSelf(w, r)
	case "/client/auth_with_server":
		h.handleClientAuthWithServer(w, r)
	case "/client/servers":
		h.handleClientServers(w, r)
	case "/server/add_server", "/server/update_values", "/server/heartbeat":
		h.handleServerUpsert(w, r)
	case "/server/remove_server":
		h.handleServerRemove(w, r)
	case "/accounts/write_persistence":
		h.handleAccountsWritePersistence(w, r)
	case "/player/pdata", "/player/info", "/player/stats", "/player/loadout":
		h.handlePlayer(w, r)
	default:
		if h.NotFound != nil {
			h.NotFound.ServeHTTP(w, r)
		} else {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		}
	}
}

// clientIP extracts the IP this request should be attributed to.
func (h *Handler) clientIP(r *http.Request) (netip.Addr, error) {
	return ipaccess.ClientIP(r, h.TrustedProxies, h.TrustedIPHeader)
}

// decodePdata decodes a stored blob against the handler's schema, logging and
// mapping any codec failure to an infrastructure-level error since a stored
// blob is only ever written by this system itself (see spec.md's C2 codec
// contract: decode failures here mean corrupt storage, not a client error).
func (h *Handler) decodePdata(r *http.Request, blob []byte) (*pdata.Pdata, error) {
	d, err := pdata.Decode(h.Schema, blob)
	if err != nil {
		metrics.CodecDecodeFailuresTotal.Inc()
		hlog.FromRequest(r).Error().Err(err).Msg("failed to decode stored persistent data")
		return nil, err
	}
	return d, nil
}
