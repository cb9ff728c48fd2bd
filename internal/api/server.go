package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/netip"
	"strconv"

	"github.com/rs/zerolog/hlog"

	"github.com/Alainx277/northstar-master-server/internal/prober"
	"github.com/Alainx277/northstar-master-server/internal/registry"
	"github.com/Alainx277/northstar-master-server/internal/uid"
)

// handleServerUpsert dispatches /server/add_server, /server/update_values,
// and /server/heartbeat, following the teacher's routing of all three onto a
// single handler (pkg/api/api0/api.go's ServeHTTP).
func (h *Handler) handleServerUpsert(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Cache-Control", "private, no-cache, no-store")

	if !checkLauncherVersion(r, h.MinimumLauncherVersion) {
		respFail(w, r, http.StatusBadRequest, ErrUnsupportedVersion.MessageObj())
		return
	}

	ip, err := h.clientIP(r)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("failed to determine client ip")
		respFail(w, r, http.StatusInternalServerError, ErrUnknown.MessageObj())
		return
	}

	if r.URL.Path == "/server/add_server" {
		h.handleServerAdd(w, r, ip)
	} else {
		h.handleServerUpdate(w, r, ip)
	}
}

func (h *Handler) handleServerAdd(w http.ResponseWriter, r *http.Request, ip netip.Addr) {
	q := r.URL.Query()

	gamePort, ok := parsePort(w, r, q.Get("port"), "port")
	if !ok {
		return
	}
	authPort, ok := parsePort(w, r, q.Get("authPort"), "authPort")
	if !ok {
		return
	}
	name := q.Get("name")
	if name == "" {
		respFail(w, r, http.StatusBadRequest, ErrInvalidModInfo.MessageObjf("name param must not be empty"))
		return
	}

	settings := registry.Settings{
		GamePort:    gamePort,
		AuthPort:    authPort,
		Name:        name,
		Description: q.Get("description"),
		Map:         q.Get("map"),
		Playlist:    q.Get("playlist"),
		Password:    q.Get("password"),
	}
	if v := q.Get("maxPlayers"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			settings.MaxPlayers = uint32(n)
		}
	}

	modInfo, err := parseModInfo(r)
	if err != nil {
		hlog.FromRequest(r).Warn().Err(err).Msg("failed to parse modinfo")
	}

	if err := h.Prober.Verify(r.Context(), ip, authPort); err != nil {
		var perr *prober.Error
		if errors.As(err, &perr) && perr.Result == prober.WrongResponse {
			respFail(w, r, http.StatusBadGateway, ErrBadGameserverResponse.MessageObjf("unexpected response from auth port"))
		} else {
			respFail(w, r, http.StatusBadGateway, ErrNoGameserverResponse.MessageObjf("%v", err))
		}
		return
	}

	srv, err := h.Registry.Push(ip, settings, modInfo)
	if err != nil {
		var maxErr *registry.ErrMaximumServersForHost
		var conflictErr *registry.ErrConflictingAuthPort
		switch {
		case errors.As(err, &maxErr):
			respFail(w, r, http.StatusForbidden, ErrMaxServersForIP.MessageObj())
		case errors.As(err, &conflictErr):
			respFail(w, r, http.StatusForbidden, ErrBadGameserverResponse.MessageObjf("conflicting auth port"))
		default:
			hlog.FromRequest(r).Error().Err(err).Msg("failed to register server")
			respFail(w, r, http.StatusInternalServerError, ErrUnknown.MessageObj())
		}
		return
	}

	respSuccess(w, r, http.StatusOK, map[string]any{
		"id":              srv.ID.String(),
		"serverAuthToken": srv.AuthToken.String(),
	})
}

func (h *Handler) handleServerUpdate(w http.ResponseWriter, r *http.Request, ip netip.Addr) {
	q := r.URL.Query()

	id, err := uid.Parse(q.Get("id"))
	if err != nil {
		respFail(w, r, http.StatusNotFound, ErrServerNotFound.MessageObjf("id param is required"))
		return
	}

	err = h.Registry.Update(id, ip, func(s *registry.Settings, playerCount **uint32) {
		if v := q.Get("name"); v != "" {
			s.Name = v
		}
		if v := q.Get("description"); v != "" {
			s.Description = v
		}
		if v := q.Get("map"); v != "" {
			s.Map = v
		}
		if v := q.Get("playlist"); v != "" {
			s.Playlist = v
		}
		if v := q.Get("maxPlayers"); v != "" {
			if n, err := strconv.ParseUint(v, 10, 32); err == nil {
				s.MaxPlayers = uint32(n)
			}
		}
		if q.Has("password") {
			s.Password = q.Get("password")
		}
		if v := q.Get("playerCount"); v != "" {
			if n, err := strconv.ParseUint(v, 10, 32); err == nil {
				u := uint32(n)
				*playerCount = &u
			}
		}
	})
	if err != nil {
		switch {
		case errors.Is(err, registry.ErrNotFound):
			respFail(w, r, http.StatusNotFound, ErrServerNotFound.MessageObj())
		case errors.Is(err, registry.ErrForbidden):
			respFail(w, r, http.StatusForbidden, ErrUnauthorizedGameserver.MessageObj())
		default:
			hlog.FromRequest(r).Error().Err(err).Msg("failed to update server")
			respFail(w, r, http.StatusInternalServerError, ErrUnknown.MessageObj())
		}
		return
	}

	respSuccess(w, r, http.StatusOK, nil)
}

// handleServerRemove implements DELETE /server/remove_server?id=. Per
// SPEC_FULL.md, deregistration is restricted to the server's own IP, the same
// rule §4.4 states for updates.
func (h *Handler) handleServerRemove(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	id, err := uid.Parse(r.URL.Query().Get("id"))
	if err != nil {
		respFail(w, r, http.StatusNotFound, ErrServerNotFound.MessageObjf("id param is required"))
		return
	}

	ip, err := h.clientIP(r)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("failed to determine client ip")
		respFail(w, r, http.StatusInternalServerError, ErrUnknown.MessageObj())
		return
	}

	if err := h.Registry.Remove(id, ip); err != nil {
		switch {
		case errors.Is(err, registry.ErrNotFound):
			respFail(w, r, http.StatusNotFound, ErrServerNotFound.MessageObj())
		case errors.Is(err, registry.ErrForbidden):
			respFail(w, r, http.StatusForbidden, ErrUnauthorizedGameserver.MessageObj())
		default:
			hlog.FromRequest(r).Error().Err(err).Msg("failed to remove server")
			respFail(w, r, http.StatusInternalServerError, ErrUnknown.MessageObj())
		}
		return
	}

	respSuccess(w, r, http.StatusOK, nil)
}

func parsePort(w http.ResponseWriter, r *http.Request, v, name string) (uint16, bool) {
	if v == "" {
		respFail(w, r, http.StatusBadRequest, ErrInvalidModInfo.MessageObjf("%s param is required", name))
		return 0, false
	}
	n, err := strconv.ParseUint(v, 10, 16)
	if err != nil {
		respFail(w, r, http.StatusBadRequest, ErrInvalidModInfo.MessageObjf("%s param is invalid", name))
		return 0, false
	}
	return uint16(n), true
}

func parseModInfo(r *http.Request) (*registry.ModInfo, error) {
	if err := r.ParseMultipartForm(1 << 18); err != nil {
		return nil, err
	}
	mf, _, err := r.FormFile("modinfo")
	if err != nil {
		return nil, nil
	}
	defer mf.Close()

	var obj struct {
		Mods []struct {
			Name             string `json:"Name"`
			Version          string `json:"Version"`
			RequiredOnClient bool   `json:"RequiredOnClient"`
		} `json:"Mods"`
	}
	if err := json.NewDecoder(mf).Decode(&obj); err != nil {
		return nil, err
	}

	mi := &registry.ModInfo{}
	for _, m := range obj.Mods {
		if m.Name == "" {
			continue
		}
		if m.Version == "" {
			m.Version = "0.0.0"
		}
		mi.Mods = append(mi.Mods, registry.ModEntry{Name: m.Name, Version: m.Version, RequiredOnClient: m.RequiredOnClient})
	}
	return mi, nil
}
