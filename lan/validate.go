package lan

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/ubinox-pi/anonet-sub000/kademlia"
)

// pingTimeout bounds the PING/PONG round-trip used to validate a
// LAN-discovered address before it is promoted into the routing
// table.
const pingTimeout = 3 * time.Second

// Pinger is the subset of *dht.Node a Validator needs: a PING that
// either succeeds (the address answers) or errors. The replying node's
// id is not compared with the beacon's SenderID, and a candidate that
// fails the PING is dropped.
type Pinger interface {
	Ping(ctx context.Context, addr *net.UDPAddr) error
}

// Validator drains a Listener's Discovered channel and promotes each
// candidate into routing only after a successful PING, per
// SPEC_FULL.md §9's resolution of spec.md's open LAN-trust question:
// "a malicious beacon can inject arbitrary IP:port pairs ... consider
// a minimum PING validation before promoting to the routing table."
type Validator struct {
	Node    Pinger
	Routing *kademlia.RoutingTable
	Logger  *slog.Logger
}

// Run validates candidates from ch until ctx is done.
func (v *Validator) Run(ctx context.Context, ch <-chan Discovered) {
	logger := v.Logger
	if logger == nil {
		logger = slog.Default()
	}
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-ch:
			if !ok {
				return
			}
			v.validateOne(ctx, d, logger)
		}
	}
}

func (v *Validator) validateOne(ctx context.Context, d Discovered, logger *slog.Logger) {
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := v.Node.Ping(pingCtx, d.Addr); err != nil {
		logger.Debug("lan candidate failed ping validation", "addr", d.Addr, "err", err)
		return
	}
	v.Routing.AddContact(kademlia.Contact{
		ID:       d.SenderID,
		Addr:     d.Addr.IP.To4(),
		Port:     uint16(d.Addr.Port),
		LastSeen: time.Now(),
	})
	logger.Debug("lan candidate promoted after ping validation", "addr", d.Addr, "id", d.SenderID)
}
