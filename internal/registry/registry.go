// Package registry implements the in-memory directory of live game servers:
// the C4 component. It is the only piece of shared mutable state in the
// system and is guarded by a single reader/writer lock, following the design
// of the teacher's pkg/api/api0/serverlist.go, simplified from that package's
// three-state (alive/ghost/gone) lifecycle down to the two-threshold contract
// this system actually needs: a server is listed while younger than 60
// seconds and fully removed once older than 5 minutes.
package registry

import (
	"net/netip"
	"sort"
	"sync"
	"time"

	"github.com/mmcloughlin/geohash"

	"github.com/Alainx277/northstar-master-server/internal/metrics"
	"github.com/Alainx277/northstar-master-server/internal/uid"
)

// DefaultMaxServersPerHost is used when no override is configured.
const DefaultMaxServersPerHost = 10

// ListingWindow is the age below which a server appears in listings.
const ListingWindow = 60 * time.Second

// LivenessWindow is the age beyond which a server is swept from the registry
// entirely.
const LivenessWindow = 5 * time.Minute

// ErrMaximumServersForHost is returned by Push when the host's bucket is
// already at capacity.
type ErrMaximumServersForHost struct{ IP netip.Addr }

func (e *ErrMaximumServersForHost) Error() string {
	return "registry: maximum servers reached for host " + e.IP.String()
}

// ErrConflictingAuthPort is returned by Push when another server on the same
// host already uses the requested auth port.
type ErrConflictingAuthPort struct{ IP netip.Addr }

func (e *ErrConflictingAuthPort) Error() string {
	return "registry: conflicting auth port on host " + e.IP.String()
}

// ErrNotFound is returned by operations referring to an unknown server id.
var ErrNotFound = errNotFound{}

type errNotFound struct{}

func (errNotFound) Error() string { return "registry: server not found" }

// ErrForbidden is returned by Update/Remove when the requesting IP does not
// match the server's registered IP.
var ErrForbidden = errForbidden{}

type errForbidden struct{}

func (errForbidden) Error() string { return "registry: requesting ip does not own this server" }

// ModInfo mirrors spec.md's Server.mod_info.
type ModInfo struct {
	Mods []ModEntry
}

// ModEntry is a single entry of ModInfo.Mods.
type ModEntry struct {
	RequiredOnClient bool
	Name             string
	Version          string
}

// Settings is the mutable, registrant-controlled portion of a Server.
type Settings struct {
	GamePort    uint16
	AuthPort    uint16
	Name        string
	Description string
	Map         string
	Playlist    string
	MaxPlayers  uint32
	Password    string // "" means no password
}

// Server is a registered game server.
type Server struct {
	ID        uid.UID
	AuthToken uid.UID
	IP        netip.Addr
	Settings  Settings
	LastSeen  time.Time
	PlayerCount *uint32
	ModInfo     *ModInfo
}

// CheckPassword implements spec.md's password rule: if the server has no
// password, any input (including empty) is accepted; otherwise the given
// password must equal the stored one exactly.
func (s *Server) CheckPassword(given string) bool {
	if s.Settings.Password == "" {
		return true
	}
	return given == s.Settings.Password
}

// Listing is the public projection of a Server, per spec.md §4.4.
type Listing struct {
	ID          uid.UID
	Name        string
	Description string
	Map         string
	Playlist    string
	MaxPlayers  uint32
	HasPassword bool
	PlayerCount uint32
	ModInfo     ModInfo
}

// Registry is the process-wide server directory. The zero value is not
// usable; use New.
type Registry struct {
	maxServersPerHost int

	mu      sync.RWMutex
	servers map[uid.UID]*Server
	byHost  map[netip.Addr]map[uid.UID]struct{}
}

// New creates an empty Registry. maxServersPerHost <= 0 uses
// DefaultMaxServersPerHost.
func New(maxServersPerHost int) *Registry {
	if maxServersPerHost <= 0 {
		maxServersPerHost = DefaultMaxServersPerHost
	}
	return &Registry{
		maxServersPerHost: maxServersPerHost,
		servers:           map[uid.UID]*Server{},
		byHost:            map[netip.Addr]map[uid.UID]struct{}{},
	}
}

// Push registers a new server, assigning it a fresh ID and auth token. It
// implements the insertion algorithm from spec.md §4.4: host quota, same-port
// eviction, then auth-port conflict check. The quota is checked against the
// host's current server count before any eviction, so a same-port restart
// that lands exactly at the quota is rejected rather than silently swapping
// in for the stale entry.
func (r *Registry) Push(ip netip.Addr, settings Settings, modInfo *ModInfo) (*Server, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	bucket := r.byHost[ip]

	if len(bucket) >= r.maxServersPerHost {
		metrics.RegistryPushRejected.Inc()
		return nil, &ErrMaximumServersForHost{IP: ip}
	}

	if evictID, shouldEvict := r.samePortServer(bucket, settings.GamePort); shouldEvict {
		r.removeLocked(evictID)
		bucket = r.byHost[ip]
	}

	for id := range bucket {
		if r.servers[id].Settings.AuthPort == settings.AuthPort {
			metrics.RegistryPushRejected.Inc()
			return nil, &ErrConflictingAuthPort{IP: ip}
		}
	}

	id, err := uid.New()
	if err != nil {
		return nil, err
	}
	if _, collision := r.servers[id]; collision {
		panic("registry: generated server id collides with an existing one")
	}
	token, err := uid.New()
	if err != nil {
		return nil, err
	}

	s := &Server{
		ID:        id,
		AuthToken: token,
		IP:        ip,
		Settings:  settings,
		LastSeen:  time.Now(),
		ModInfo:   modInfo,
	}
	r.servers[id] = s
	if r.byHost[ip] == nil {
		r.byHost[ip] = map[uid.UID]struct{}{}
	}
	r.byHost[ip][id] = struct{}{}

	metrics.RegistryPushTotal.Inc()
	metrics.RegistryServersByRegion(geohash.EncodeWithPrecision(ip2lat(ip), ip2lon(ip), 3)).Inc()
	return s, nil
}

// samePortServer finds an existing server in bucket whose game port matches
// port, if any.
func (r *Registry) samePortServer(bucket map[uid.UID]struct{}, port uint16) (uid.UID, bool) {
	for id := range bucket {
		if r.servers[id].Settings.GamePort == port {
			return id, true
		}
	}
	return uid.UID{}, false
}

// Get returns the server with the given id.
func (r *Registry) Get(id uid.UID) (*Server, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.servers[id]
	return s, ok
}

// Remove deregisters a server. requestIP must match the server's registered
// IP or ErrForbidden is returned; pass a zero netip.Addr to bypass this check.
// Same-port eviction and the liveness sweep remove servers without going
// through Remove.
func (r *Registry) Remove(id uid.UID, requestIP netip.Addr) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.servers[id]
	if !ok {
		return ErrNotFound
	}
	if requestIP.IsValid() && requestIP != s.IP {
		return ErrForbidden
	}
	r.removeLocked(id)
	return nil
}

func (r *Registry) removeLocked(id uid.UID) {
	s, ok := r.servers[id]
	if !ok {
		return
	}
	delete(r.servers, id)
	if bucket := r.byHost[s.IP]; bucket != nil {
		delete(bucket, id)
		if len(bucket) == 0 {
			delete(r.byHost, s.IP)
		}
	}
	metrics.RegistryRemoveTotal.Inc()
}

// Update applies a heartbeat/settings update. update mutates the stored
// Settings and player count in place, under the write lock; any field update leaves other fields
// untouched except PlayerCount and Password, which follow their own rules. An
// empty-string password means "remove password" (spec.md §4.4).
func (r *Registry) Update(id uid.UID, requestIP netip.Addr, update func(*Settings, **uint32)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.servers[id]
	if !ok {
		return ErrNotFound
	}
	if requestIP != s.IP {
		return ErrForbidden
	}
	update(&s.Settings, &s.PlayerCount)
	s.LastSeen = time.Now()
	return nil
}

// RemoveInactive sweeps every server whose LastSeen is older than
// LivenessWindow. List runs the same sweep under its own write lock; this
// entry point takes the lock itself and can be called standalone (e.g. from a
// periodic background task).
func (r *Registry) RemoveInactive() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeInactiveLocked()
}

func (r *Registry) removeInactiveLocked() {
	cutoff := time.Now().Add(-LivenessWindow)
	var stale []uid.UID
	for id, s := range r.servers {
		if s.LastSeen.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		r.removeLocked(id)
	}
}

// List runs the liveness sweep and then returns the listing projection for
// every server younger than ListingWindow, per spec.md §4.4. The sweep and
// the projection happen under a single write-lock critical section so that a
// concurrent Push cannot observe a partially-swept registry.
func (r *Registry) List() []Listing {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeInactiveLocked()

	now := time.Now()
	out := make([]Listing, 0, len(r.servers))
	for id, s := range r.servers {
		if now.Sub(s.LastSeen) >= ListingWindow {
			continue
		}
		maxPlayers := s.Settings.MaxPlayers
		if maxPlayers > 32 {
			maxPlayers = 32
		}
		var playerCount uint32
		if s.PlayerCount != nil {
			playerCount = *s.PlayerCount
			if playerCount > maxPlayers {
				playerCount = maxPlayers
			}
		}
		l := Listing{
			ID:          id,
			Name:        s.Settings.Name,
			Description: s.Settings.Description,
			Map:         s.Settings.Map,
			Playlist:    s.Settings.Playlist,
			MaxPlayers:  maxPlayers,
			HasPassword: s.Settings.Password != "",
			PlayerCount: playerCount,
		}
		if s.ModInfo != nil {
			l.ModInfo = *s.ModInfo
		}
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out
}

// ip2lat and ip2lon derive a coarse, stable pseudo-coordinate from an IP for
// the geohash region bucketing metric, from the first two bytes of the
// (unmapped) address. This is not a real geolocation (no
// database is consulted, see DESIGN.md for why pg9182/ip2x was not wired
// here); it is only precise enough to group a fleet's registered hosts into
// stable buckets for the servers_by_region counter.
func ip2lat(ip netip.Addr) float64 {
	b := append(ip.Unmap().AsSlice(), 0, 0)
	return float64(int(b[0])-128) / 128 * 90
}

func ip2lon(ip netip.Addr) float64 {
	b := append(ip.Unmap().AsSlice(), 0, 0)
	return float64(int(b[1])-128) / 128 * 180
}
