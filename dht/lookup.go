package dht

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/ubinox-pi/anonet-sub000/announce"
	"github.com/ubinox-pi/anonet-sub000/events"
	"github.com/ubinox-pi/anonet-sub000/kademlia"
	"github.com/ubinox-pi/anonet-sub000/nodeid"
)

// LookupTimeout is the hard budget for an iterative FIND_VALUE.
const LookupTimeout = 10 * time.Second

// FinalWait is the extra time given to late responses after the
// timeout before giving up.
const FinalWait = 3 * time.Second

// pollInterval is how long each lookup round waits before checking
// the local store for a value written by a reply handler.
const pollInterval = 2 * time.Second

// LookupValue performs an iterative FIND_VALUE for key, per
// spec.md §4.4. Each round sends up to Alpha queries, sleeps
// pollInterval and then polls the local store, where reply handlers
// place any verified VALUE; replies do not end the lookup directly.
func (n *Node) LookupValue(key nodeid.ID) (*announce.Announcement, bool) {
	events.Emit(n.events, events.LookupEvent{Key: key.String(), Status: "started"})

	if value, ok := n.store.Get(key); ok {
		if a, err := announce.FromBytes(value); err == nil && a.Verify() {
			events.Emit(n.events, events.LookupEvent{Key: key.String(), Status: "found", Detail: "local"})
			return a, true
		}
	}

	candidates := n.routing.Closest(key, K)
	if len(candidates) == 0 {
		events.Emit(n.events, events.LookupEvent{Key: key.String(), Status: "not_found", Detail: "no candidates"})
		return nil, false
	}

	queried := make(map[nodeid.ID]bool)
	deadline := time.Now().Add(LookupTimeout)

	for time.Now().Before(deadline) {
		round := nextUnqueried(candidates, queried, Alpha)
		if len(round) == 0 {
			break
		}
		for _, c := range round {
			queried[c.ID] = true
			n.sendFindValueAsync(key, c)
		}

		events.Emit(n.events, events.LookupEvent{Key: key.String(), Status: "queried", Detail: strconv.Itoa(len(round))})
		time.Sleep(pollInterval)

		if value, ok := n.store.Get(key); ok {
			if a, err := announce.FromBytes(value); err == nil && a.Verify() {
				events.Emit(n.events, events.LookupEvent{Key: key.String(), Status: "found"})
				return a, true
			}
		}
		candidates = n.routing.Closest(key, K)
	}

	// Final wait: re-send once to the current K-closest, then wait.
	for _, c := range n.routing.Closest(key, K) {
		n.sendFindValueAsync(key, c)
	}
	time.Sleep(FinalWait)

	if value, ok := n.store.Get(key); ok {
		if a, err := announce.FromBytes(value); err == nil && a.Verify() {
			events.Emit(n.events, events.LookupEvent{Key: key.String(), Status: "found", Detail: "final_wait"})
			return a, true
		}
	}

	events.Emit(n.events, events.LookupEvent{Key: key.String(), Status: "not_found"})
	return nil, false
}

func nextUnqueried(candidates []kademlia.Contact, queried map[nodeid.ID]bool, max int) []kademlia.Contact {
	var out []kademlia.Contact
	for _, c := range candidates {
		if queried[c.ID] {
			continue
		}
		out = append(out, c)
		if len(out) >= max {
			break
		}
	}
	return out
}

// sendFindValueAsync registers a transaction in the pending-query
// registry and fires FIND_VALUE. The reply, if one arrives within
// QueryTimeout, goes to handleLookupReply: a verified VALUE is written
// into the local store (where LookupValue's poll finds it) and NODES
// contacts are registered as senders.
func (n *Node) sendFindValueAsync(key nodeid.ID, c kademlia.Contact) {
	addr := &net.UDPAddr{IP: c.Addr, Port: int(c.Port)}
	txnID, resultCh := n.transport.RegisterTxn()
	msg := Message{Type: TypeFindValue, TxnID: txnID, Sender: n.self, Payload: key.Bytes()}
	if err := n.transport.Send(addr, msg); err != nil {
		return
	}
	go func() {
		select {
		case reply, ok := <-resultCh:
			if !ok {
				return
			}
			n.handleLookupReply(key, reply)
		case <-time.After(QueryTimeout):
		}
	}()
}

func (n *Node) handleLookupReply(key nodeid.ID, reply Message) {
	switch reply.Type {
	case TypeValue:
		if a, err := announce.FromBytes(reply.Payload); err == nil && a.Verify() {
			n.store.Put(key, reply.Payload)
		}
	case TypeNodes:
		contacts, err := DecodeContacts(reply.Payload)
		if err != nil {
			return
		}
		for _, c := range contacts {
			n.registerSender(&net.UDPAddr{IP: c.Addr, Port: int(c.Port)}, c.ID)
		}
	}
}

// Announce publishes a for the owner: stores locally at both keys and
// fans out ANNOUNCE to the union of K-closest contacts to each key.
func (n *Node) Announce(a *announce.Announcement) error {
	wire, err := a.ToBytes()
	if err != nil {
		return err
	}
	n.store.Put(a.DHTKey(), wire)
	n.store.Put(a.FingerprintKey(), wire)

	targets := make(map[nodeid.ID]kademlia.Contact)
	for _, c := range n.routing.Closest(a.DHTKey(), K) {
		targets[c.ID] = c
	}
	for _, c := range n.routing.Closest(a.FingerprintKey(), K) {
		targets[c.ID] = c
	}

	for _, c := range targets {
		addr := &net.UDPAddr{IP: c.Addr, Port: int(c.Port)}
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		msg := Message{Type: TypeAnnounce, TxnID: NewTxnID(), Sender: n.self, Payload: wire}
		_, _ = n.transport.Query(ctx, addr, msg)
		cancel()
	}

	events.Emit(n.events, events.AnnounceEvent{Username: a.Username, Status: "published", Peers: len(targets)})
	return nil
}
