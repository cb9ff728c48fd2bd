// Package broker orchestrates the three authentication flows and the
// persistence-upload authorization rule: the C6 component. It has no HTTP
// surface of its own; internal/api calls into it.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strconv"
	"time"

	"github.com/Alainx277/northstar-master-server/internal/metrics"
	"github.com/Alainx277/northstar-master-server/internal/registry"
	"github.com/Alainx277/northstar-master-server/internal/store"
	"github.com/Alainx277/northstar-master-server/internal/stryder"
	"github.com/Alainx277/northstar-master-server/internal/uid"
)

var (
	// ErrStryderError is returned by OriginAuthenticate when the platform
	// oracle itself could not be reached or returned an unexpected shape.
	ErrStryderError = errors.New("broker: platform oracle error")
	// ErrNoGame is returned by OriginAuthenticate when the oracle rejected the
	// code (invalid token, no multiplayer access, or wrong game).
	ErrNoGame = errors.New("broker: account does not own a valid copy of the game")

	// ErrInvalidMasterserverToken is returned by AuthenticateSelf and
	// AuthenticateWithServer when the player token does not check out.
	ErrInvalidMasterserverToken = errors.New("broker: invalid masterserver token")

	// ErrNoServer is returned by AuthenticateWithServer when the target
	// server id is not registered.
	ErrNoServer = errors.New("broker: no such server")
	// ErrWrongPassword is returned by AuthenticateWithServer when the given
	// password does not match the server's.
	ErrWrongPassword = errors.New("broker: wrong password")
	// ErrConnection is returned by AuthenticateWithServer when the game
	// server could not be reached at all.
	ErrConnection = errors.New("broker: could not connect to game server")
	// ErrWrongResponse is returned by AuthenticateWithServer when the game
	// server rejected the player or returned an unparseable response.
	ErrWrongResponse = errors.New("broker: game server rejected the player")

	// ErrInvalidAccount is returned by AuthorizePersistenceUpload when the
	// account does not exist.
	ErrInvalidAccount = errors.New("broker: invalid account")
	// ErrNotPermitted is returned by AuthorizePersistenceUpload when neither
	// authorization rule is satisfied.
	ErrNotPermitted = errors.New("broker: not permitted to upload persistence for this account")
	// ErrInvalidData is returned by AuthorizePersistenceUpload when the blob
	// length does not match the canonical default blob length.
	ErrInvalidData = errors.New("broker: invalid persistence data")
)

// GameServerTimeout bounds the authenticate_incoming_player call.
const GameServerTimeout = 5 * time.Second

// Broker ties the account store, server registry, and platform oracle
// together. The zero value is not usable; use New.
type Broker struct {
	Store    *store.Store
	Registry *registry.Registry
	Client   *http.Client

	// DefaultBlobLen is the canonical default persistence blob's length, used
	// to validate uploads per spec.
	DefaultBlobLen int

	// NucleusAuth is the platform oracle call. Defaults to
	// stryder.NucleusAuth; overridable in tests.
	NucleusAuth func(ctx context.Context, code string, accountID uint32) ([]byte, error)

	// InsecureDevNoCheckPlayerAuth skips the platform oracle call in
	// OriginAuthenticate and the stored-token check in AuthenticateSelf and
	// AuthenticateWithServer. For local development only; see
	// internal/config.Config.InsecureDevNoCheckPlayerAuth.
	InsecureDevNoCheckPlayerAuth bool
}

// New creates a Broker.
func New(st *store.Store, reg *registry.Registry, defaultBlobLen int) *Broker {
	return &Broker{
		Store:          st,
		Registry:       reg,
		Client:         &http.Client{Timeout: GameServerTimeout},
		DefaultBlobLen: defaultBlobLen,
		NucleusAuth:    stryder.NucleusAuth,
	}
}

// checkPlayerAuth checks playerToken against the stored session token, unless
// InsecureDevNoCheckPlayerAuth is set, in which case any token is accepted.
func (b *Broker) checkPlayerAuth(ctx context.Context, accountID uint32, playerToken uid.UID) (bool, error) {
	if b.InsecureDevNoCheckPlayerAuth {
		return true, nil
	}
	return b.Store.Authenticate(ctx, accountID, playerToken)
}

// OriginAuthenticate implements flow 6a: platform -> master.
func (b *Broker) OriginAuthenticate(ctx context.Context, accountID uint32, code string, ip netip.Addr) (uid.UID, error) {
	metrics.BrokerOriginAuthTotal.Inc()

	if !b.InsecureDevNoCheckPlayerAuth {
		_, err := b.NucleusAuth(ctx, code, accountID)
		if err != nil {
			switch {
			case errors.Is(err, stryder.ErrInvalidToken),
				errors.Is(err, stryder.ErrMultiplayerNotAllowed),
				errors.Is(err, stryder.ErrInvalidGame):
				return uid.UID{}, ErrNoGame
			default:
				return uid.UID{}, fmt.Errorf("%w: %v", ErrStryderError, err)
			}
		}
	}

	exists, err := b.Store.Exists(ctx, accountID)
	if err != nil {
		return uid.UID{}, fmt.Errorf("check account existence: %w", err)
	}
	if !exists {
		if err := b.Store.Create(ctx, accountID); err != nil && !errors.Is(err, store.ErrAlreadyExists) {
			return uid.UID{}, fmt.Errorf("create account: %w", err)
		}
	}

	token, err := b.Store.CreateToken(ctx, accountID, ip)
	if err != nil {
		return uid.UID{}, fmt.Errorf("create session token: %w", err)
	}

	metrics.BrokerOriginAuthAccepted.Inc()
	return token, nil
}

// SelfAuth is the result of AuthenticateSelf.
type SelfAuth struct {
	ID             string
	AuthToken      uid.UID
	PersistentData []byte
}

// AuthenticateSelf implements flow 6b: master -> self. The returned AuthToken
// is a convenience value for the client; the broker does not track it.
func (b *Broker) AuthenticateSelf(ctx context.Context, accountID uint32, playerToken uid.UID) (SelfAuth, error) {
	if ok, err := b.checkPlayerAuth(ctx, accountID, playerToken); err != nil {
		return SelfAuth{}, fmt.Errorf("authenticate: %w", err)
	} else if !ok {
		return SelfAuth{}, ErrInvalidMasterserverToken
	}

	authToken, err := uid.New()
	if err != nil {
		return SelfAuth{}, fmt.Errorf("generate auth token: %w", err)
	}
	data, err := b.Store.GetData(ctx, accountID)
	if err != nil {
		return SelfAuth{}, fmt.Errorf("get persistent data: %w", err)
	}

	return SelfAuth{
		ID:             strconv.FormatUint(uint64(accountID), 10),
		AuthToken:      authToken,
		PersistentData: data,
	}, nil
}

// ServerAuth is the result of AuthenticateWithServer.
type ServerAuth struct {
	IP        netip.Addr
	GamePort  uint16
	AuthToken string // truncated to 20 characters, see spec's compatibility contract
}

// AuthenticateWithServer implements flow 6c: master -> game server. The
// player token is checked before the server is consulted at all, so an
// unauthenticated caller learns nothing about server existence or password
// correctness.
func (b *Broker) AuthenticateWithServer(ctx context.Context, accountID uint32, playerToken uid.UID, serverID uid.UID, password string) (ServerAuth, error) {
	metrics.BrokerAuthWithServerTotal.Inc()

	if ok, err := b.checkPlayerAuth(ctx, accountID, playerToken); err != nil {
		return ServerAuth{}, fmt.Errorf("authenticate: %w", err)
	} else if !ok {
		return ServerAuth{}, ErrInvalidMasterserverToken
	}

	srv, ok := b.Registry.Get(serverID)
	if !ok {
		return ServerAuth{}, ErrNoServer
	}
	if !srv.CheckPassword(password) {
		return ServerAuth{}, ErrWrongPassword
	}

	full, err := uid.New()
	if err != nil {
		return ServerAuth{}, fmt.Errorf("generate connect token: %w", err)
	}
	truncated := full.Truncated(20)

	blob, err := b.Store.GetData(ctx, accountID)
	if err != nil {
		return ServerAuth{}, fmt.Errorf("get persistent data: %w", err)
	}

	username, err := b.Store.GetName(ctx, accountID)
	if err != nil {
		return ServerAuth{}, fmt.Errorf("get account name: %w", err)
	}

	authCtx, cancel := context.WithTimeout(ctx, GameServerTimeout)
	defer cancel()
	if err := b.authenticateIncomingPlayer(authCtx, netip.AddrPortFrom(srv.IP, srv.Settings.AuthPort), accountID, truncated, srv.AuthToken.String(), username, blob); err != nil {
		if errors.Is(err, ErrConnection) {
			return ServerAuth{}, err
		}
		return ServerAuth{}, fmt.Errorf("%w: %v", ErrWrongResponse, err)
	}

	if err := b.Store.JoinServer(ctx, accountID, serverID); err != nil {
		return ServerAuth{}, fmt.Errorf("record current server: %w", err)
	}

	return ServerAuth{IP: srv.IP, GamePort: srv.Settings.GamePort, AuthToken: truncated}, nil
}

// authenticateIncomingPlayer POSTs to the game server's
// /authenticate_incoming_player endpoint, following spec.md §4.6 step 6's
// exact snake_case query parameter set (the teacher's
// pkg/api/api0/api0gameserver/nsserver.go uses camelCase names for the same
// endpoint; this is adapted to match).
func (b *Broker) authenticateIncomingPlayer(ctx context.Context, auth netip.AddrPort, accountID uint32, authToken, serverAuthToken, username string, blob []byte) error {
	q := url.Values{}
	q.Set("id", strconv.FormatUint(uint64(accountID), 10))
	q.Set("auth_token", authToken)
	q.Set("server_auth_token", serverAuthToken)
	q.Set("username", username)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		"http://"+auth.String()+"/authenticate_incoming_player?"+q.Encode(), bytes.NewReader(blob))
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", "northstar-master-server")

	resp, err := b.Client.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) {
			return ErrConnection
		}
		return err
	}
	defer resp.Body.Close()

	var obj struct {
		Success bool `json:"success"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&obj); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if !obj.Success {
		return errors.New("game server reported success=false")
	}
	return nil
}

// AuthorizePersistenceUpload implements flow 6d. It validates the blob
// length, checks authorization, and on success persists the blob.
func (b *Broker) AuthorizePersistenceUpload(ctx context.Context, accountID uint32, serverID *uid.UID, requestIP netip.Addr, blob []byte) error {
	metrics.BrokerPersistenceUploadTotal.Inc()

	exists, err := b.Store.Exists(ctx, accountID)
	if err != nil {
		return fmt.Errorf("check account existence: %w", err)
	}
	if !exists {
		return ErrInvalidAccount
	}

	if len(blob) != b.DefaultBlobLen {
		return ErrInvalidData
	}

	auth, err := b.Store.GetAuth(ctx, accountID)
	authorized := false
	switch {
	case err == nil && auth.LastAuthIP == requestIP:
		authorized = true
	case err != nil && !errors.Is(err, store.ErrNoAuthIP):
		return fmt.Errorf("get account auth state: %w", err)
	}

	if !authorized && serverID != nil && err == nil && auth.CurrentServer != nil && *auth.CurrentServer == *serverID {
		if srv, ok := b.Registry.Get(*serverID); ok && srv.IP == requestIP {
			authorized = true
		}
	}

	if !authorized {
		return ErrNotPermitted
	}

	if err := b.Store.SetData(ctx, accountID, blob); err != nil {
		return fmt.Errorf("set data: %w", err)
	}
	return nil
}
