// Package events carries the single status-event channel every
// subsystem feeds and collaborators drain, replacing per-component
// callback sinks with one tagged stream.
package events

import "fmt"

// Kind tags which variant an Event carries.
type Kind string

const (
	KindLookup   Kind = "lookup"
	KindAnnounce Kind = "announce"
	KindCircuit  Kind = "circuit"
	KindRelay    Kind = "relay"
)

// Event is implemented by every status-event variant below.
type Event interface {
	Kind() Kind
	Format() string
}

// LookupEvent reports progress of an iterative FIND_VALUE lookup.
type LookupEvent struct {
	Key    string
	Status string // started, queried, found, not_found
	Detail string
}

func (e LookupEvent) Kind() Kind { return KindLookup }

func (e LookupEvent) Format() string {
	if e.Detail == "" {
		return fmt.Sprintf("lookup %s: %s", e.Key, e.Status)
	}
	return fmt.Sprintf("lookup %s: %s (%s)", e.Key, e.Status, e.Detail)
}

// AnnounceEvent reports publication of a peer announcement.
type AnnounceEvent struct {
	Username string
	Status   string // published, accepted, rejected
	Peers    int
}

func (e AnnounceEvent) Kind() Kind { return KindAnnounce }

func (e AnnounceEvent) Format() string {
	return fmt.Sprintf("announce %s: %s (%d peers)", e.Username, e.Status, e.Peers)
}

// CircuitEvent reports an onion circuit state transition.
type CircuitEvent struct {
	CircuitID uint32
	Status    string // building, extended, ready, destroyed, failed
	Hops      int
	Reason    string
}

func (e CircuitEvent) Kind() Kind { return KindCircuit }

func (e CircuitEvent) Format() string {
	if e.Reason == "" {
		return fmt.Sprintf("circuit %d: %s (%d hops)", e.CircuitID, e.Status, e.Hops)
	}
	return fmt.Sprintf("circuit %d: %s (%d hops): %s", e.CircuitID, e.Status, e.Hops, e.Reason)
}

// RelayEvent reports relay-server connection handling.
type RelayEvent struct {
	RemoteAddr string
	Status     string // accepted, authenticated, rejected, rate_limited, capacity_exceeded, closed
	Detail     string
}

func (e RelayEvent) Kind() Kind { return KindRelay }

func (e RelayEvent) Format() string {
	if e.Detail == "" {
		return fmt.Sprintf("relay %s: %s", e.RemoteAddr, e.Status)
	}
	return fmt.Sprintf("relay %s: %s: %s", e.RemoteAddr, e.Status, e.Detail)
}

// Sink is a buffered channel of status events. Subsystems send on it
// through Emit; collaborators receive from it.
type Sink chan Event

// NewSink creates a buffered event channel. When it is full, Emit drops
// the new event rather than blocking a subsystem's hot path.
func NewSink(buffer int) Sink {
	return make(Sink, buffer)
}

// Emit sends an event without blocking; if the sink is full, the event
// is dropped.
func Emit(sink Sink, e Event) {
	if sink == nil {
		return
	}
	select {
	case sink <- e:
	default:
	}
}
