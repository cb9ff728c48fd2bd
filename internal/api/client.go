package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/hlog"

	"github.com/Alainx277/northstar-master-server/internal/broker"
	"github.com/Alainx277/northstar-master-server/internal/uid"
)

func (h *Handler) handleMainMenuPromos(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Cache-Control", "private, no-cache, no-store")

	payload := h.MainMenuPromos
	if h.MainMenuPromosHook != nil {
		p, err := h.MainMenuPromosHook(r)
		if err != nil {
			hlog.FromRequest(r).Error().Err(err).Msg("failed to read main menu promo data")
			respFail(w, r, http.StatusInternalServerError, ErrUnknown.MessageObj())
			return
		}
		payload = p
	}
	if payload == nil {
		payload = []byte(`{}`)
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		w.Write(payload)
	}
}

// handleClientOriginAuth implements flow 6a over HTTP: GET
// /client/origin_auth?id=&token=.
func (h *Handler) handleClientOriginAuth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Cache-Control", "private, no-cache, no-store")

	if !checkLauncherVersion(r, h.MinimumLauncherVersion) {
		respFail(w, r, http.StatusBadRequest, ErrUnsupportedVersion.MessageObj())
		return
	}

	accountID, ok := parseAccountID(w, r, r.URL.Query().Get("id"))
	if !ok {
		return
	}
	code := r.URL.Query().Get("token")
	if code == "" {
		respFail(w, r, http.StatusBadRequest, ErrUnauthorizedGame.MessageObjf("token param is required"))
		return
	}

	ip, err := h.clientIP(r)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("failed to determine client ip")
		respFail(w, r, http.StatusInternalServerError, ErrUnknown.MessageObj())
		return
	}

	token, err := h.Broker.OriginAuthenticate(r.Context(), accountID, code, ip)
	if err != nil {
		switch {
		case errors.Is(err, broker.ErrNoGame):
			respFail(w, r, http.StatusForbidden, ErrUnauthorizedGame.MessageObj())
		case errors.Is(err, broker.ErrStryderError):
			respFail(w, r, http.StatusInternalServerError, ErrStryderResponse.MessageObjf("%v", err))
		default:
			hlog.FromRequest(r).Error().Err(err).Msg("origin authentication failed")
			respFail(w, r, http.StatusInternalServerError, ErrUnknown.MessageObj())
		}
		return
	}

	respSuccess(w, r, http.StatusOK, map[string]any{"token": token.String()})
}

// handleClientAuthWithSelf implements flow 6b: POST
// /client/auth_with_self?id=&playerToken=.
func (h *Handler) handleClientAuthWithSelf(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Cache-Control", "private, no-cache, no-store")

	if !checkLauncherVersion(r, h.MinimumLauncherVersion) {
		respFail(w, r, http.StatusBadRequest, ErrUnsupportedVersion.MessageObj())
		return
	}

	accountID, ok := parseAccountID(w, r, r.URL.Query().Get("id"))
	if !ok {
		return
	}
	playerToken, ok := parseToken(w, r, r.URL.Query().Get("playerToken"))
	if !ok {
		return
	}

	res, err := h.Broker.AuthenticateSelf(r.Context(), accountID, playerToken)
	if err != nil {
		switch {
		case errors.Is(err, broker.ErrInvalidMasterserverToken):
			respFail(w, r, http.StatusUnauthorized, ErrInvalidMasterserverToken.MessageObj())
		default:
			hlog.FromRequest(r).Error().Err(err).Msg("self authentication failed")
			respFail(w, r, http.StatusInternalServerError, ErrUnknown.MessageObj())
		}
		return
	}

	respSuccess(w, r, http.StatusOK, map[string]any{
		"id":             res.ID,
		"authToken":      res.AuthToken.String(),
		"persistentData": bytesAsNumberArray(res.PersistentData),
	})
}

// handleClientAuthWithServer implements flow 6c: POST
// /client/auth_with_server?id=&playerToken=&server=&password=.
func (h *Handler) handleClientAuthWithServer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Cache-Control", "private, no-cache, no-store")

	if !checkLauncherVersion(r, h.MinimumLauncherVersion) {
		respFail(w, r, http.StatusBadRequest, ErrUnsupportedVersion.MessageObj())
		return
	}

	accountID, ok := parseAccountID(w, r, r.URL.Query().Get("id"))
	if !ok {
		return
	}
	playerToken, ok := parseToken(w, r, r.URL.Query().Get("playerToken"))
	if !ok {
		return
	}
	serverID, err := uid.Parse(r.URL.Query().Get("server"))
	if err != nil {
		respFail(w, r, http.StatusNotFound, ErrServerNotFound.MessageObj())
		return
	}
	password := r.URL.Query().Get("password")

	res, err := h.Broker.AuthenticateWithServer(r.Context(), accountID, playerToken, serverID, password)
	if err != nil {
		switch {
		case errors.Is(err, broker.ErrNoServer):
			respFail(w, r, http.StatusNotFound, ErrServerNotFound.MessageObj())
		case errors.Is(err, broker.ErrWrongPassword):
			respFail(w, r, http.StatusUnauthorized, ErrUnauthorizedPwd.MessageObj())
		case errors.Is(err, broker.ErrInvalidMasterserverToken):
			respFail(w, r, http.StatusUnauthorized, ErrInvalidMasterserverToken.MessageObj())
		case errors.Is(err, broker.ErrConnection):
			respFail(w, r, http.StatusGatewayTimeout, ErrNoGameserverResponse.MessageObj())
		case errors.Is(err, broker.ErrWrongResponse):
			respFail(w, r, http.StatusInternalServerError, ErrBadGameserverResponse.MessageObjf("%v", err))
		default:
			hlog.FromRequest(r).Error().Err(err).Msg("server authentication failed")
			respFail(w, r, http.StatusInternalServerError, ErrUnknown.MessageObj())
		}
		return
	}

	respSuccess(w, r, http.StatusOK, map[string]any{
		"ip":        res.IP.String(),
		"port":      res.GamePort,
		"authToken": res.AuthToken,
	})
}

// handleClientServers implements GET /client/servers: the liveness-swept
// listing projection, gzip-compressed when useful.
func (h *Handler) handleClientServers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Cache-Control", "private, no-cache, no-store")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	listing := h.Registry.List()
	buf, err := marshalListing(listing)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("failed to marshal server listing")
		respFail(w, r, http.StatusInternalServerError, ErrUnknown.MessageObj())
		return
	}
	respMaybeCompress(w, r, http.StatusOK, buf)
}

// parseAccountID parses the "id" query parameter as the u32 account
// identifier, writing a PLAYER_NOT_FOUND failure and returning ok=false on
// error (matching the teacher's treatment of an unparseable id as "no such
// player" rather than a bad request).
func parseAccountID(w http.ResponseWriter, r *http.Request, v string) (uint32, bool) {
	if v == "" {
		respFail(w, r, http.StatusNotFound, ErrPlayerNotFound.MessageObjf("id param is required"))
		return 0, false
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		respFail(w, r, http.StatusNotFound, ErrPlayerNotFound.MessageObj())
		return 0, false
	}
	return uint32(n), true
}

func parseToken(w http.ResponseWriter, r *http.Request, v string) (uid.UID, bool) {
	t, err := uid.Parse(v)
	if err != nil {
		respFail(w, r, http.StatusUnauthorized, ErrInvalidMasterserverToken.MessageObj())
		return uid.UID{}, false
	}
	return t, true
}

// bytesAsNumberArray renders b as a JSON array of numbers rather than the
// default base64 string, for wire compatibility with existing launcher code
// that expects persistentData this way.
func bytesAsNumberArray(b []byte) []int {
	out := make([]int, len(b))
	for i, c := range b {
		out[i] = int(c)
	}
	return out
}

