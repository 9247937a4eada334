package dht

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ubinox-pi/anonet-sub000/kademlia"
	"github.com/ubinox-pi/anonet-sub000/nodeid"
)

func TestRunMaintenancePingsStaleAndEvictsAfterRepeatedFailure(t *testing.T) {
	node, err := NewNode("127.0.0.1:0", nodeid.FromString("node-a"), testLogger(), nil)
	require.NoError(t, err)
	defer node.Close()

	// A dead address: nothing listens here, so Ping will time out.
	deadConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	deadAddr := deadConn.LocalAddr().(*net.UDPAddr)
	require.NoError(t, deadConn.Close())

	dead := nodeid.FromString("dead-node")
	node.routing.AddContact(kademlia.Contact{
		ID:       dead,
		Addr:     net.ParseIP("127.0.0.1").To4(),
		Port:     uint16(deadAddr.Port),
		LastSeen: time.Now().Add(-kademlia.StaleAfter - time.Minute),
	})
	require.Equal(t, 1, node.routing.Total())

	for i := 0; i < kademlia.MaxFailedQueries; i++ {
		node.runMaintenance()
	}

	require.Equal(t, 0, node.routing.Total(), "contact should be evicted after repeated failed liveness pings")
}

func TestRunMaintenanceRefreshesLiveContact(t *testing.T) {
	nodeA, err := NewNode("127.0.0.1:0", nodeid.FromString("node-a"), testLogger(), nil)
	require.NoError(t, err)
	defer nodeA.Close()

	nodeB, err := NewNode("127.0.0.1:0", nodeid.FromString("node-b"), testLogger(), nil)
	require.NoError(t, err)
	defer nodeB.Close()

	stale := time.Now().Add(-kademlia.StaleAfter - time.Minute)
	nodeA.routing.AddContact(kademlia.Contact{
		ID:       nodeB.Self(),
		Addr:     nodeB.LocalAddr().IP.To4(),
		Port:     uint16(nodeB.LocalAddr().Port),
		LastSeen: stale,
	})

	nodeA.runMaintenance()

	all := nodeA.routing.All()
	require.Len(t, all, 1)
	require.Zero(t, all[0].FailedQueries)
	require.True(t, all[0].LastSeen.After(stale))
}
