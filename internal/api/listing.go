package api

import (
	"bytes"
	"encoding/json"

	"github.com/Alainx277/northstar-master-server/internal/registry"
)

// listingMod and listingEntry mirror the wire shape of serverlist.go's
// hand-written JSON encoder, field-for-field.
type listingMod struct {
	Name             string `json:"Name"`
	Version          string `json:"Version"`
	RequiredOnClient bool   `json:"RequiredOnClient"`
}

type listingModInfo struct {
	Mods []listingMod `json:"Mods"`
}

type listingEntry struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	PlayerCount uint32         `json:"playerCount"`
	MaxPlayers  uint32         `json:"maxPlayers"`
	Map         string         `json:"map"`
	Playlist    string         `json:"playlist"`
	HasPassword bool           `json:"hasPassword"`
	ModInfo     listingModInfo `json:"modInfo"`
}

// marshalListing renders a registry listing as the /client/servers JSON
// array.
func marshalListing(listing []registry.Listing) ([]byte, error) {
	entries := make([]listingEntry, len(listing))
	for i, l := range listing {
		mods := make([]listingMod, len(l.ModInfo.Mods))
		for j, m := range l.ModInfo.Mods {
			mods[j] = listingMod{Name: m.Name, Version: m.Version, RequiredOnClient: m.RequiredOnClient}
		}
		entries[i] = listingEntry{
			ID:          l.ID.String(),
			Name:        l.Name,
			Description: l.Description,
			PlayerCount: l.PlayerCount,
			MaxPlayers:  l.MaxPlayers,
			Map:         l.Map,
			Playlist:    l.Playlist,
			HasPassword: l.HasPassword,
			ModInfo:     listingModInfo{Mods: mods},
		}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	if err := enc.Encode(entries); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
