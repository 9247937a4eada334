package dht

import (
	"context"
	"net"
	"time"

	"github.com/ubinox-pi/anonet-sub000/kademlia"
)

// bootstrapTimeout bounds each seed's PING+FIND_NODE warm-up, per
// spec.md §5's bounded-timeout requirement for every suspension point.
const bootstrapTimeout = 5 * time.Second

// Bootstrap warms the routing table from a priority-ordered list of
// seed addresses (cached nodes file, then LAN-discovered nodes, then
// hard-coded seeds, per spec.md §4.6), sending a PING and a
// FIND_NODE(local_id) to each so replies populate the routing table
// via the normal receive path.
func (n *Node) Bootstrap(ctx context.Context, seeds []*net.UDPAddr) {
	for _, addr := range seeds {
		select {
		case <-ctx.Done():
			return
		default:
		}
		seedCtx, cancel := context.WithTimeout(ctx, bootstrapTimeout)
		_ = n.Ping(seedCtx, addr)
		_, _ = n.FindNode(seedCtx, addr, n.self)
		cancel()
	}
}

// BootstrapFromContacts is the same warm-up, for seeds already known
// as kademlia.Contact values (e.g. loaded from the node cache).
func (n *Node) BootstrapFromContacts(ctx context.Context, contacts []kademlia.Contact) {
	addrs := make([]*net.UDPAddr, 0, len(contacts))
	for _, c := range contacts {
		addrs = append(addrs, &net.UDPAddr{IP: c.Addr, Port: int(c.Port)})
	}
	n.Bootstrap(ctx, addrs)
}
