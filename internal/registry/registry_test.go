package registry

import (
	"errors"
	"net/netip"
	"testing"
	"time"
)

func TestPushAndList(t *testing.T) {
	r := New(10)
	ip := netip.MustParseAddr("203.0.113.7")
	s, err := r.Push(ip, Settings{GamePort: 37015, AuthPort: 8081, Name: "X", Map: "mp_eden", Playlist: "tdm", MaxPlayers: 8}, nil)
	if err != nil {
		t.Fatalf("push: %v", err)
	}

	listing := r.List()
	if len(listing) != 1 {
		t.Fatalf("expected 1 listed server, got %d", len(listing))
	}
	if listing[0].ID != s.ID {
		t.Fatalf("listed id mismatch")
	}
}

func TestAuthPortConflict(t *testing.T) {
	r := New(10)
	ip := netip.MustParseAddr("203.0.113.7")
	if _, err := r.Push(ip, Settings{GamePort: 37015, AuthPort: 8081}, nil); err != nil {
		t.Fatal(err)
	}
	_, err := r.Push(ip, Settings{GamePort: 37016, AuthPort: 8081}, nil)
	var conflict *ErrConflictingAuthPort
	if err == nil {
		t.Fatalf("expected conflict error")
	}
	if !errors.As(err, &conflict) {
		t.Fatalf("expected *ErrConflictingAuthPort, got %T: %v", err, err)
	}
}

func TestSamePortReplace(t *testing.T) {
	r := New(10)
	ip := netip.MustParseAddr("203.0.113.7")
	first, err := r.Push(ip, Settings{GamePort: 37015, AuthPort: 8081}, nil)
	if err != nil {
		t.Fatal(err)
	}
	second, err := r.Push(ip, Settings{GamePort: 37015, AuthPort: 8082}, nil)
	if err != nil {
		t.Fatalf("expected same-port replace to succeed: %v", err)
	}
	if _, ok := r.Get(first.ID); ok {
		t.Fatalf("expected evicted server to be gone")
	}
	if _, ok := r.Get(second.ID); !ok {
		t.Fatalf("expected new server to be present")
	}
}

func TestSamePortReplaceRejectedAtQuota(t *testing.T) {
	r := New(1)
	ip := netip.MustParseAddr("203.0.113.7")
	first, err := r.Push(ip, Settings{GamePort: 37015, AuthPort: 8081}, nil)
	if err != nil {
		t.Fatal(err)
	}

	_, err = r.Push(ip, Settings{GamePort: 37015, AuthPort: 8082}, nil)
	var quota *ErrMaximumServersForHost
	if !errors.As(err, &quota) {
		t.Fatalf("expected a same-port restart at quota to be rejected, got %T: %v", err, err)
	}
	if _, ok := r.Get(first.ID); !ok {
		t.Fatalf("expected the original server to remain registered")
	}
}

func TestHostQuota(t *testing.T) {
	r := New(2)
	ip := netip.MustParseAddr("203.0.113.7")
	if _, err := r.Push(ip, Settings{GamePort: 1, AuthPort: 1}, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Push(ip, Settings{GamePort: 2, AuthPort: 2}, nil); err != nil {
		t.Fatal(err)
	}
	_, err := r.Push(ip, Settings{GamePort: 3, AuthPort: 3}, nil)
	var quota *ErrMaximumServersForHost
	if !errors.As(err, &quota) {
		t.Fatalf("expected *ErrMaximumServersForHost, got %T: %v", err, err)
	}
}

func TestLivenessSweep(t *testing.T) {
	r := New(10)
	ip := netip.MustParseAddr("203.0.113.7")
	s, err := r.Push(ip, Settings{GamePort: 1, AuthPort: 1}, nil)
	if err != nil {
		t.Fatal(err)
	}
	r.mu.Lock()
	r.servers[s.ID].LastSeen = time.Now().Add(-6 * time.Minute)
	r.mu.Unlock()

	r.RemoveInactive()
	if _, ok := r.Get(s.ID); ok {
		t.Fatalf("expected server to be swept after 5 minutes of inactivity")
	}
}

func TestListingClamp(t *testing.T) {
	r := New(10)
	ip := netip.MustParseAddr("203.0.113.7")
	s, err := r.Push(ip, Settings{GamePort: 1, AuthPort: 1, MaxPlayers: 999}, nil)
	if err != nil {
		t.Fatal(err)
	}
	pc := uint32(500)
	if err := r.Update(s.ID, ip, func(set *Settings, playerCount **uint32) { *playerCount = &pc }); err != nil {
		t.Fatal(err)
	}
	listing := r.List()
	if len(listing) != 1 {
		t.Fatalf("expected 1 listing, got %d", len(listing))
	}
	if listing[0].MaxPlayers != 32 {
		t.Fatalf("expected maxPlayers clamped to 32, got %d", listing[0].MaxPlayers)
	}
	if listing[0].PlayerCount != 32 {
		t.Fatalf("expected playerCount clamped to 32, got %d", listing[0].PlayerCount)
	}
}

func TestListingExcludesOldServers(t *testing.T) {
	r := New(10)
	ip := netip.MustParseAddr("203.0.113.7")
	s, err := r.Push(ip, Settings{GamePort: 1, AuthPort: 1}, nil)
	if err != nil {
		t.Fatal(err)
	}
	r.mu.Lock()
	r.servers[s.ID].LastSeen = time.Now().Add(-90 * time.Second)
	r.mu.Unlock()

	if listing := r.List(); len(listing) != 0 {
		t.Fatalf("expected server older than 60s to be excluded from listing, got %d", len(listing))
	}
	if _, ok := r.Get(s.ID); !ok {
		t.Fatalf("server should still exist in the registry (only listing-hidden, not swept)")
	}
}

func TestPasswordSemantics(t *testing.T) {
	r := New(10)
	ip := netip.MustParseAddr("203.0.113.7")
	s, err := r.Push(ip, Settings{GamePort: 1, AuthPort: 1}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !s.CheckPassword("") {
		t.Fatalf("expected empty password to be accepted for a server with no password")
	}
	if err := r.Update(s.ID, ip, func(set *Settings, _ **uint32) { set.Password = "hunter2" }); err != nil {
		t.Fatal(err)
	}
	if s.CheckPassword("") {
		t.Fatalf("expected empty password to be rejected once a password is set")
	}
	if !s.CheckPassword("hunter2") {
		t.Fatalf("expected matching password to be accepted")
	}
	if err := r.Update(s.ID, ip, func(set *Settings, _ **uint32) { set.Password = "" }); err != nil {
		t.Fatal(err)
	}
	if !s.CheckPassword("") {
		t.Fatalf("expected empty-string update to remove the password")
	}
}

func TestRemoveRequiresOwnIP(t *testing.T) {
	r := New(10)
	ip := netip.MustParseAddr("203.0.113.7")
	s, err := r.Push(ip, Settings{GamePort: 1, AuthPort: 1}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Remove(s.ID, netip.MustParseAddr("203.0.113.8")); err != ErrForbidden {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if err := r.Remove(s.ID, ip); err != nil {
		t.Fatalf("expected remove from owning ip to succeed: %v", err)
	}
}
