// Package kademlia implements the per-bucket contact lists and the
// routing table that indexes them by XOR distance, generalizing the
// teacher's RWMutex-guarded flat peer store to the bucketed structure
// Kademlia requires.
package kademlia

import (
	"net"
	"time"

	"github.com/ubinox-pi/anonet-sub000/nodeid"
)

// Contact is a single routing-table entry: a node id, its IPv4
// address and UDP port, and liveness bookkeeping.
type Contact struct {
	ID            nodeid.ID
	Addr          net.IP
	Port          uint16
	LastSeen      time.Time
	FailedQueries int
}

// StaleAfter is the duration after which a contact with no recent
// activity is considered stale.
const StaleAfter = 15 * time.Minute

// MaxFailedQueries is the failure count at which a contact is
// considered bad.
const MaxFailedQueries = 3

// IsStale reports whether the contact has been silent too long.
func (c Contact) IsStale(now time.Time) bool {
	return now.Sub(c.LastSeen) > StaleAfter
}

// IsBad reports whether the contact has failed enough queries to be
// considered dead.
func (c Contact) IsBad() bool {
	return c.FailedQueries >= MaxFailedQueries
}

// Equal compares contacts by node id only, per spec.
func (c Contact) Equal(other Contact) bool {
	return c.ID.Equal(other.ID)
}
