package dht

import (
	"context"
	"net"
	"time"
)

// MaintenanceInterval is the periodic tick that pings stale contacts.
// The tick does not sweep the store; expired entries are removed by
// Store itself, lazily on access and when it is full.
const MaintenanceInterval = 60 * time.Second

func (n *Node) maintenanceLoop() {
	ticker := time.NewTicker(MaintenanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-n.transport.closed:
			return
		case <-ticker.C:
			n.runMaintenance()
		}
	}
}

func (n *Node) runMaintenance() {
	stale := n.routing.Stale(time.Now())
	for _, c := range stale {
		addr := &net.UDPAddr{IP: c.Addr, Port: int(c.Port)}
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		err := n.Ping(ctx, addr)
		cancel()
		if err != nil {
			n.routing.MarkFailed(c.ID)
			continue
		}
		n.routing.MarkSeen(c.ID, time.Now())
	}
}
