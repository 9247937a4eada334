package kademlia

import (
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ubinox-pi/anonet-sub000/nodeid"
)

func TestAddContactIgnoresSelf(t *testing.T) {
	self := nodeid.FromString("self")
	rt := New(self)
	cand := rt.AddContact(Contact{ID: self, LastSeen: time.Now()})
	require.Nil(t, cand)
	require.Equal(t, 0, rt.Total())
}

// findColliding finds 21 distinct ids that all land in the same
// bucket index relative to self, by brute-force search over small
// integer-keyed strings (mirrors spec scenario 2: "21 distinct
// contacts that all map to the same bucket").
func findColliding(self nodeid.ID, n int) []nodeid.ID {
	byBucket := make(map[int][]nodeid.ID)
	for i := 0; len(byBucket[bucketOfMax(byBucket)]) < n; i++ {
		id := nodeid.FromString(fmt.Sprintf("contact-%d", i))
		if id.Equal(self) {
			continue
		}
		idx := nodeid.BucketIndex(self, id)
		byBucket[idx] = append(byBucket[idx], id)
		if len(byBucket[idx]) >= n {
			return byBucket[idx][:n]
		}
		if i > 200000 {
			break
		}
	}
	return nil
}

func bucketOfMax(m map[int][]nodeid.ID) int {
	best, bestLen := 0, -1
	for k, v := range m {
		if len(v) > bestLen {
			best, bestLen = k, len(v)
		}
	}
	return best
}

func TestRoutingTableFillBucketCapsAt20(t *testing.T) {
	self := nodeid.FromString("local-node")
	ids := findColliding(self, 21)
	require.Len(t, ids, 21, "could not find 21 colliding ids within search budget")

	rt := New(self)
	var lastCandidate *Contact
	for i, id := range ids {
		cand := rt.AddContact(Contact{ID: id, Addr: net.ParseIP("127.0.0.1"), Port: 1000, LastSeen: time.Now()})
		if i == 20 {
			lastCandidate = cand
		}
	}

	idx := nodeid.BucketIndex(self, ids[0])
	require.Len(t, rt.buckets[idx].contacts, 20)
	require.NotNil(t, lastCandidate, "21st insert should return a ping candidate")

	// No contact silently evicted: the 20 contacts present are the
	// first 20 inserted, since the 21st was dropped pending ping.
	present := make(map[nodeid.ID]bool)
	for _, c := range rt.buckets[idx].contacts {
		present[c.ID] = true
	}
	for i := 0; i < 20; i++ {
		require.True(t, present[ids[i]], "contact %d should still be present", i)
	}
}

func TestClosestReturnsMinCountTotal(t *testing.T) {
	self := nodeid.FromString("local-node")
	rt := New(self)
	for i := 0; i < 5; i++ {
		id := nodeid.FromString(fmt.Sprintf("peer-%d", i))
		rt.AddContact(Contact{ID: id, LastSeen: time.Now()})
	}

	target := nodeid.FromString("lookup-target")
	got := rt.Closest(target, 3)
	require.Len(t, got, 3)

	gotAll := rt.Closest(target, 100)
	require.Len(t, gotAll, 5)

	// monotonically non-decreasing in XOR distance to target
	for i := 1; i < len(gotAll); i++ {
		prev := nodeid.Xor(gotAll[i-1].ID, target)
		cur := nodeid.Xor(gotAll[i].ID, target)
		require.False(t, cur.Less(prev), "closest() must be sorted by increasing distance")
	}
}

func TestRemoveAndMarkSeen(t *testing.T) {
	self := nodeid.FromString("local-node")
	rt := New(self)
	id := nodeid.FromString("peer-x")
	rt.AddContact(Contact{ID: id, LastSeen: time.Now().Add(-time.Hour)})

	require.True(t, rt.MarkSeen(id, time.Now()))
	require.True(t, rt.Remove(id))
	require.False(t, rt.Remove(id))
}

func TestStaleContacts(t *testing.T) {
	self := nodeid.FromString("local-node")
	rt := New(self)
	oldID := nodeid.FromString("stale-peer")
	rt.AddContact(Contact{ID: oldID, LastSeen: time.Now().Add(-20 * time.Minute)})

	freshID := nodeid.FromString("fresh-peer")
	rt.AddContact(Contact{ID: freshID, LastSeen: time.Now()})

	stale := rt.Stale(time.Now())
	require.Len(t, stale, 1)
	require.True(t, stale[0].ID.Equal(oldID))
}
