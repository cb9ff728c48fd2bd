package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog/hlog"
	"golang.org/x/mod/semver"

	"github.com/Alainx277/northstar-master-server/internal/metrics"
)

// respJSON writes the JSON encoding of obj with the given status, following
// the teacher's pkg/api/api0/api.go respJSON.
func respJSON(w http.ResponseWriter, r *http.Request, status int, obj any) {
	if r.Method == http.MethodHead {
		w.WriteHeader(status)
		return
	}
	buf, err := json.Marshal(obj)
	if err != nil {
		panic(err)
	}
	hlog.FromRequest(r).Trace().Msgf("json api response %.2048s", string(buf))
	buf = append(buf, '\n')
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(buf)))
	w.WriteHeader(status)
	w.Write(buf)
}

// respSuccess writes {"success":true, ...fields}. fields may be nil.
func respSuccess(w http.ResponseWriter, r *http.Request, status int, fields map[string]any) {
	obj := map[string]any{"success": true}
	for k, v := range fields {
		obj[k] = v
	}
	respJSON(w, r, status, obj)
}

// respFail writes {"success":false,"error":obj,"request_id":<id>} (the
// request id is included when hlog's request-id middleware populated one).
func respFail(w http.ResponseWriter, r *http.Request, status int, obj ErrorObj) {
	if rid, ok := hlog.IDFromRequest(r); ok {
		respJSON(w, r, status, map[string]any{
			"success":    false,
			"error":      obj,
			"request_id": rid.String(),
		})
		return
	}
	respJSON(w, r, status, map[string]any{
		"success": false,
		"error":   obj,
	})
}

// respMaybeCompress writes buf with the given status, gzip-compressing it
// when the client advertises support and compression actually shrinks the
// payload, following serverlist.go's respMaybeCompress.
func respMaybeCompress(w http.ResponseWriter, r *http.Request, status int, buf []byte) {
	for _, e := range strings.Split(r.Header.Get("Accept-Encoding"), ",") {
		if t, _, _ := strings.Cut(e, ";"); strings.TrimSpace(t) == "gzip" {
			var cbuf bytes.Buffer
			gw := gzip.NewWriter(&cbuf)
			if _, err := gw.Write(buf); err != nil {
				break
			}
			if err := gw.Close(); err != nil {
				break
			}
			if cbuf.Len() < int(float64(len(buf))*0.8) {
				buf = cbuf.Bytes()
				w.Header().Set("Content-Encoding", "gzip")
			}
			break
		}
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(buf)))
	w.WriteHeader(status)
	if r.Method != http.MethodHead {
		w.Write(buf)
	}
}

// checkLauncherVersion implements the version gate of C7: if minVersion is
// configured, the request's User-Agent must be "R2Northstar/<semver>" and
// satisfy the minimum, unless the version string contains "dev". Grounded on
// pkg/api/api0/api.go's checkLauncherVersion.
func checkLauncherVersion(r *http.Request, minVersion string) bool {
	if minVersion == "" {
		metrics.VersionGateTotal("accept_ok").Inc()
		return true
	}

	rver, _, _ := strings.Cut(r.Header.Get("User-Agent"), " ")
	x := strings.TrimPrefix(rver, "R2Northstar/")
	if x == rver {
		metrics.VersionGateTotal("reject_notns").Inc()
		return false
	}
	if len(x) > 0 && x[0] != 'v' {
		rver = "v" + x
	} else {
		rver = x
	}

	mver := minVersion
	if mver[0] != 'v' {
		mver = "v" + mver
	}
	if !semver.IsValid(mver) {
		metrics.VersionGateTotal("accept_ok").Inc()
		return true
	}

	if strings.Contains(rver, "dev") {
		metrics.VersionGateTotal("accept_dev").Inc()
		return true
	}
	if !semver.IsValid(rver) {
		metrics.VersionGateTotal("reject_invalid").Inc()
		return false
	}
	if semver.Compare(rver, mver) < 0 {
		metrics.VersionGateTotal("reject_old").Inc()
		return false
	}
	metrics.VersionGateTotal("accept_ok").Inc()
	return true
}
