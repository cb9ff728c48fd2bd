package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog/hlog"

	"github.com/Alainx277/northstar-master-server/internal/broker"
	"github.com/Alainx277/northstar-master-server/internal/uid"
)

// maxPersistenceUploadSize bounds the multipart blob part, following the
// teacher's accounts.go limit on the pdata file.
const maxPersistenceUploadSize = 2 << 20

// handleAccountsWritePersistence implements flow 6d: POST
// /accounts/write_persistence?id=&serverId=, with the blob carried as an
// unnamed multipart part (form field name "").
func (h *Handler) handleAccountsWritePersistence(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodOptions && r.Method != http.MethodPost {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Cache-Control", "private, no-cache, no-store, max-age=0, must-revalidate")
	w.Header().Set("Expires", "0")
	w.Header().Set("Pragma", "no-cache")

	if r.Method == http.MethodOptions {
		w.Header().Set("Allow", "OPTIONS, POST")
		w.WriteHeader(http.StatusNoContent)
		return
	}

	accountID, ok := parseAccountID(w, r, r.URL.Query().Get("id"))
	if !ok {
		return
	}
	serverIDQ := r.URL.Query().Get("serverId") // blank on a listen server

	var serverID *uid.UID
	if serverIDQ != "" {
		id, err := uid.Parse(serverIDQ)
		if err != nil {
			respFail(w, r, http.StatusNotFound, ErrServerNotFound.MessageObjf("invalid serverId"))
			return
		}
		serverID = &id
	}

	if err := r.ParseMultipartForm(maxPersistenceUploadSize); err != nil {
		respFail(w, r, http.StatusBadRequest, ErrInvalidPersistentData.MessageObjf("failed to parse multipart form: %v", err))
		return
	}

	pf, pfHdr, err := r.FormFile("")
	if err != nil {
		respFail(w, r, http.StatusBadRequest, ErrInvalidPersistentData.MessageObjf("missing blob part"))
		return
	}
	defer pf.Close()

	if pfHdr.Size > maxPersistenceUploadSize {
		respFail(w, r, http.StatusBadRequest, ErrInvalidPersistentData.MessageObjf("blob is too large"))
		return
	}

	blob, err := io.ReadAll(pf)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("failed to read uploaded persistence blob")
		respFail(w, r, http.StatusInternalServerError, ErrUnknown.MessageObj())
		return
	}

	ip, err := h.clientIP(r)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("failed to determine client ip")
		respFail(w, r, http.StatusInternalServerError, ErrUnknown.MessageObj())
		return
	}

	if err := h.Broker.AuthorizePersistenceUpload(r.Context(), accountID, serverID, ip, blob); err != nil {
		switch {
		case errors.Is(err, broker.ErrInvalidAccount):
			respFail(w, r, http.StatusNotFound, ErrPlayerNotFound.MessageObj())
		case errors.Is(err, broker.ErrNotPermitted):
			respFail(w, r, http.StatusForbidden, ErrUnauthorizedGameserver.MessageObj())
		case errors.Is(err, broker.ErrInvalidData):
			respFail(w, r, http.StatusBadRequest, ErrInvalidPersistentData.MessageObj())
		default:
			hlog.FromRequest(r).Error().Err(err).Uint64("id", uint64(accountID)).Msg("failed to store persistence blob")
			respFail(w, r, http.StatusInternalServerError, ErrUnknown.MessageObj())
		}
		return
	}

	respSuccess(w, r, http.StatusOK, nil)
}
