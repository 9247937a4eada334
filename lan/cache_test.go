package lan

import (
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ubinox-pi/anonet-sub000/kademlia"
	"github.com/ubinox-pi/anonet-sub000/nodeid"
)

func TestSaveLoadCacheRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nodes.json")
	in := []kademlia.Contact{
		{ID: nodeid.FromString("alice"), Addr: net.IPv4(10, 0, 0, 1), Port: 51820, LastSeen: time.Now()},
		{ID: nodeid.FromString("bob"), Addr: net.IPv4(10, 0, 0, 2), Port: 51821, LastSeen: time.Now()},
	}

	require.NoError(t, SaveCache(path, in))
	out := LoadCache(path)

	require.Len(t, out, len(in))
	for i := range in {
		require.True(t, in[i].ID.Equal(out[i].ID))
		require.True(t, in[i].Addr.Equal(out[i].Addr))
		require.Equal(t, in[i].Port, out[i].Port)
	}
}

func TestLoadCacheMissingFileReturnsEmpty(t *testing.T) {
	out := LoadCache(filepath.Join(t.TempDir(), "missing.json"))
	require.Empty(t, out)
}
