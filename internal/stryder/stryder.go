// Package stryder is a client for the Stryder nucleus-oauth endpoint, the
// platform oracle that the origin_authentication flow consults to turn a
// scoped Origin token into proof that a user owns a legitimate copy of
// Titanfall 2 with multiplayer access.
package stryder

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

var (
	ErrStryder               = errors.New("internal stryder error")
	ErrInvalidToken          = errors.New("invalid token")
	ErrMultiplayerNotAllowed = errors.New("multiplayer not allowed")
	ErrInvalidGame           = errors.New("invalid game")
)

// NucleusAuth verifies the provided scoped nucleus token and account id for
// Titanfall 2 multiplayer. The query parameters are the exact snake_case set
// Stryder expects; the upstream SDK this was reverse engineered from used
// camelCase for some of them, which Stryder silently ignores as unrecognized
// extra parameters while falling back to defaults, so that version only
// worked by accident for the parameters that happen to share a default with
// what we need.
func NucleusAuth(ctx context.Context, token string, accountID uint32) ([]byte, error) {
	var idBytes [8]byte
	binary.BigEndian.PutUint64(idBytes[:], uint64(accountID))

	q := url.Values{}
	q.Set("qt", "origin-requesttoken")
	q.Set("type", "server_token")
	q.Set("code", token)
	q.Set("force_trial", "0")
	q.Set("proto", "0")
	q.Set("json", "1")
	q.Set("env", "production")
	q.Set("user_id", strings.ToUpper(hex.EncodeToString(idBytes[:])))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		"https://r2-pc.stryder.respawn.com/nucleus-oauth.php?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return nucleusAuth(resp)
}

func nucleusAuth(r *http.Response) ([]byte, error) {
	buf, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}

	buf = bytes.TrimSpace(buf)

	if len(buf) == 0 {
		return buf, fmt.Errorf("%w: empty response", ErrStryder)
	}

	// the subset of the response that we care about
	var obj struct {
		// error
		Success *bool       `json:"success,omitempty"`
		Status  json.Number `json:"status,omitempty"`
		Error   any         `json:"error,omitempty"`

		// success
		StoreURI        string      `json:"storeUri,omitempty"`
		HasOnlineAccess json.Number `json:"hasOnlineAccess,omitempty"`
	}

	if err = json.Unmarshal(buf, &obj); err != nil {
		tmp := escapeBareNewlines(buf)

		// Stryder sometimes embeds a nested JSON object as a raw, unescaped
		// string value; fix it up before giving up.
		tmp = bytes.ReplaceAll(tmp, []byte(`"{`), []byte(`{`))
		tmp = bytes.ReplaceAll(tmp, []byte(`}"`), []byte(`}`))

		if json.Unmarshal(tmp, &obj) != nil {
			return buf, fmt.Errorf("%w: invalid json response %#q: %v", ErrStryder, string(buf), err)
		}
	}

	if obj.Success != nil && !*obj.Success {
		if castOr(castOr(obj.Error, map[string]any{})["error"], "") == "invalid_grant" {
			return buf, ErrInvalidToken
		}
		oerr, _ := json.Marshal(obj.Error)
		return buf, fmt.Errorf("%w: error response %#q (status %#v)", ErrStryder, oerr, obj.Status)
	}

	if !strings.Contains(obj.StoreURI, "/titanfall-2") {
		return buf, ErrInvalidGame
	}

	if obj.HasOnlineAccess != "1" {
		return buf, ErrMultiplayerNotAllowed
	}

	return buf, nil
}

func castOr[T any](v any, d T) T {
	if x, ok := v.(T); ok {
		return x
	}
	return d
}

// escapeBareNewlines rewrites literal, unescaped newline and carriage return
// bytes occurring inside JSON string values into their \n/\r escapes. Stryder
// occasionally emits these instead of properly escaping them, which
// encoding/json rejects outright.
func escapeBareNewlines(buf []byte) []byte {
	var out bytes.Buffer
	out.Grow(len(buf))
	inString := false
	escaped := false
	for _, b := range buf {
		if inString {
			switch {
			case escaped:
				escaped = false
				out.WriteByte(b)
			case b == '\\':
				escaped = true
				out.WriteByte(b)
			case b == '"':
				inString = false
				out.WriteByte(b)
			case b == '\n':
				out.WriteString(`\n`)
			case b == '\r':
				out.WriteString(`\r`)
			default:
				out.WriteByte(b)
			}
			continue
		}
		if b == '"' {
			inString = true
		}
		out.WriteByte(b)
	}
	return out.Bytes()
}
