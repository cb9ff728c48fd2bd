package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/hlog"

	"github.com/Alainx277/northstar-master-server/internal/pdata"
	"github.com/Alainx277/northstar-master-server/internal/store"
)

// playerInfoResponse is the flat view served at /player/info, matching the
// original player_info handler's PlayerInfoResponse exactly: the account's
// id and stored display name alongside the six progression fields spec §3
// consumes. Unlike /player/stats and /player/loadout, this is not a filtered
// projection of the raw decoded record.
type playerInfoResponse struct {
	ID                           uint32 `json:"id"`
	Name                         string `json:"name"`
	Gen                          int32  `json:"gen"`
	XP                           int32  `json:"xp"`
	ActiveCallingCardIndex       int32  `json:"activeCallingCardIndex"`
	ActiveCallsignIconIndex      int32  `json:"activeCallsignIconIndex"`
	ActiveCallsignIconStyleIndex int32  `json:"activeCallsignIconStyleIndex"`
	NetWorth                     int32  `json:"netWorth"`
}

// playerStatsFields and playerLoadoutFields project disjoint views of the
// decoded blob for /player/stats and /player/loadout respectively, mirroring
// the teacher's split of the full pdata record into focused API responses.
// /player/pdata returns every field unfiltered.
var playerStatsFields = map[string]bool{
	"weaponStats":         true,
	"mapStats":            true,
	"modeStats":           true,
	"pilotExecutionKills": true,
	"challenges":          true,
	"dailyChallenges":     true,
}

var playerLoadoutFields = map[string]bool{
	"activeLoadoutName":  true,
	"activePilotLoadout": true,
	"activeTitanLoadout": true,
}

// handlePlayer dispatches /player/pdata, /player/info, /player/stats, and
// /player/loadout: all four fetch the same stored blob and differ only in
// how the decoded record is rendered. /player/info is not a filtered
// projection of the raw record; it returns the flat playerInfoResponse shape.
func (h *Handler) handlePlayer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Cache-Control", "private, no-cache, no-store")

	accountID, ok := parseAccountID(w, r, r.URL.Query().Get("id"))
	if !ok {
		return
	}

	blob, err := h.Store.GetData(r.Context(), accountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respFail(w, r, http.StatusNotFound, ErrPlayerNotFound.MessageObj())
			return
		}
		hlog.FromRequest(r).Error().Err(err).Uint64("id", uint64(accountID)).Msg("failed to load persistent data")
		respFail(w, r, http.StatusInternalServerError, ErrUnknown.MessageObj())
		return
	}

	d, err := h.decodePdata(r, blob)
	if err != nil {
		respFail(w, r, http.StatusInternalServerError, ErrUnknown.MessageObj())
		return
	}

	if r.URL.Path == "/player/info" {
		name, err := h.Store.GetName(r.Context(), accountID)
		if err != nil {
			hlog.FromRequest(r).Error().Err(err).Uint64("id", uint64(accountID)).Msg("failed to load account name")
			respFail(w, r, http.StatusInternalServerError, ErrUnknown.MessageObj())
			return
		}

		info := playerInfoResponse{
			ID:                           accountID,
			Name:                         name,
			Gen:                          int32(pdataByte(d, "gen")),
			XP:                           pdataInt(d, "xp"),
			ActiveCallingCardIndex:       pdataInt(d, "activeCallingCardIndex"),
			ActiveCallsignIconIndex:      pdataInt(d, "activeCallsignIconIndex"),
			ActiveCallsignIconStyleIndex: pdataInt(d, "activeCallsignIconStyleIndex"),
			NetWorth:                     pdataInt(d, "netWorth"),
		}
		buf, err := json.Marshal(info)
		if err != nil {
			hlog.FromRequest(r).Error().Err(err).Msg("failed to marshal player info")
			respFail(w, r, http.StatusInternalServerError, ErrUnknown.MessageObj())
			return
		}
		respMaybeCompress(w, r, http.StatusOK, buf)
		return
	}

	var fields map[string]bool
	switch r.URL.Path {
	case "/player/stats":
		fields = playerStatsFields
	case "/player/loadout":
		fields = playerLoadoutFields
	default: // /player/pdata
		fields = nil
	}

	var buf []byte
	if fields == nil {
		buf, err = d.MarshalJSON()
	} else {
		buf, err = d.MarshalJSONFilter(func(path ...string) bool {
			return fields[path[0]]
		})
	}
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("failed to marshal persistent data projection")
		respFail(w, r, http.StatusInternalServerError, ErrUnknown.MessageObj())
		return
	}

	respMaybeCompress(w, r, http.StatusOK, buf)
}

// pdataInt reads a root-level int field, returning 0 if absent or of an
// unexpected type.
func pdataInt(d *pdata.Pdata, name string) int32 {
	v, ok := d.Get(name)
	if !ok {
		return 0
	}
	n, _ := v.(int32)
	return n
}

// pdataByte reads a root-level byte field, returning 0 if absent or of an
// unexpected type.
func pdataByte(d *pdata.Pdata, name string) uint8 {
	v, ok := d.Get(name)
	if !ok {
		return 0
	}
	n, _ := v.(uint8)
	return n
}
