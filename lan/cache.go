package lan

import (
	"encoding/json"
	"net"
	"os"
	"time"

	"github.com/ubinox-pi/anonet-sub000/kademlia"
	"github.com/ubinox-pi/anonet-sub000/nodeid"
)

// cachedContact is the plain-JSON persisted form of a kademlia.Contact,
// adapted from go-node's peers_autosave.go periodic-persistence idiom:
// that file encrypts its snapshot because it also carries a chat
// pubkey and hostname; the node cache here holds nothing spec.md
// treats as a wire format or secret, so it is plain JSON instead.
type cachedContact struct {
	ID   string `json:"id"`
	Addr string `json:"addr"`
	Port uint16 `json:"port"`
}

// SaveCache writes contacts to path as JSON.
func SaveCache(path string, contacts []kademlia.Contact) error {
	out := make([]cachedContact, 0, len(contacts))
	for _, c := range contacts {
		out = append(out, cachedContact{ID: c.ID.String(), Addr: c.Addr.String(), Port: c.Port})
	}
	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0600)
}

// LoadCache reads a previously saved node cache, the first-priority
// bootstrap source per spec.md §4.6. A missing or corrupt file yields
// an empty list rather than an error, since bootstrap always has
// LAN discovery and hard-coded seeds to fall back on.
func LoadCache(path string) []kademlia.Contact {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var in []cachedContact
	if err := json.Unmarshal(b, &in); err != nil {
		return nil
	}
	out := make([]kademlia.Contact, 0, len(in))
	for _, c := range in {
		id, err := nodeid.FromHex(c.ID)
		if err != nil {
			continue
		}
		ip := net.ParseIP(c.Addr).To4()
		if ip == nil {
			continue
		}
		out = append(out, kademlia.Contact{ID: id, Addr: ip, Port: c.Port, LastSeen: time.Now()})
	}
	return out
}

// AutoSave periodically writes routing's current contacts to path
// until stop is closed, mirroring go-node's startAutoSavePeersLoop
// ticker-driven persistence.
func AutoSave(stop <-chan struct{}, path string, routing *kademlia.RoutingTable, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			_ = SaveCache(path, routing.All())
			return
		case <-ticker.C:
			_ = SaveCache(path, routing.All())
		}
	}
}
