package kademlia

import (
	"sort"
	"sync"
	"time"

	"github.com/ubinox-pi/anonet-sub000/nodeid"
)

// Buckets is the number of buckets in a routing table, one per
// possible bit-position of an 160-bit id.
const Buckets = 160

// RoutingTable indexes known contacts into 160 k-buckets by their XOR
// distance to the local node, behind a single coarse lock as spec
// permits (multi-reader/single-writer per bucket in aggregate).
type RoutingTable struct {
	mu      sync.RWMutex
	localID nodeid.ID
	buckets [Buckets]bucket
}

// New creates an empty routing table for the given local node id.
func New(localID nodeid.ID) *RoutingTable {
	return &RoutingTable{localID: localID}
}

func (rt *RoutingTable) bucketIndex(id nodeid.ID) int {
	return nodeid.BucketIndex(rt.localID, id)
}

// AddContact inserts or refreshes a contact. The local node's own id
// is always ignored. Returns a non-nil ping candidate when the target
// bucket was full and the new contact was dropped — the caller should
// ping the candidate and call Remove+AddContact again if it's dead.
func (rt *RoutingTable) AddContact(c Contact) (pingCandidate *Contact) {
	if c.ID.Equal(rt.localID) {
		return nil
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	idx := rt.bucketIndex(c.ID)
	return rt.buckets[idx].add(c)
}

// MarkSeen refreshes a known contact's last-seen time, moving it to
// the bucket tail.
func (rt *RoutingTable) MarkSeen(id nodeid.ID, now time.Time) bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	idx := rt.bucketIndex(id)
	return rt.buckets[idx].touch(Contact{ID: id}, now)
}

// MarkFailed increments the stored contact's failed-query counter and
// evicts it once MaxFailedQueries is reached. Reports whether the
// contact was evicted.
func (rt *RoutingTable) MarkFailed(id nodeid.ID) bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	idx := rt.bucketIndex(id)
	bad, ok := rt.buckets[idx].markFailed(Contact{ID: id})
	if !ok {
		return false
	}
	if bad {
		rt.buckets[idx].evict(Contact{ID: id})
		return true
	}
	return false
}

// Remove evicts a contact by id.
func (rt *RoutingTable) Remove(id nodeid.ID) bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	idx := rt.bucketIndex(id)
	return rt.buckets[idx].evict(Contact{ID: id})
}

// Closest returns up to count contacts ordered by increasing XOR
// distance to target, gathered by widening outward from target's own
// bucket until enough candidates are collected.
func (rt *RoutingTable) Closest(target nodeid.ID, count int) []Contact {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	start := rt.bucketIndex(target)
	seen := make(map[nodeid.ID]struct{})
	var candidates []Contact

	collect := func(idx int) {
		if idx < 0 || idx >= Buckets {
			return
		}
		for _, c := range rt.buckets[idx].contacts {
			if _, dup := seen[c.ID]; dup {
				continue
			}
			seen[c.ID] = struct{}{}
			candidates = append(candidates, c)
		}
	}

	collect(start)
	for offset := 1; len(candidates) < count && (start-offset >= 0 || start+offset < Buckets); offset++ {
		collect(start - offset)
		collect(start + offset)
	}

	sort.Slice(candidates, func(i, j int) bool {
		di := nodeid.Xor(candidates[i].ID, target)
		dj := nodeid.Xor(candidates[j].ID, target)
		if di == dj {
			return candidates[i].ID.Less(candidates[j].ID)
		}
		return di.Less(dj)
	})

	if len(candidates) > count {
		candidates = candidates[:count]
	}
	return candidates
}

// Stale returns all contacts across every bucket that are overdue for
// a liveness check.
func (rt *RoutingTable) Stale(now time.Time) []Contact {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	var out []Contact
	for i := range rt.buckets {
		out = append(out, rt.buckets[i].stale(now)...)
	}
	return out
}

// All returns every contact in the table.
func (rt *RoutingTable) All() []Contact {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	var out []Contact
	for i := range rt.buckets {
		out = append(out, rt.buckets[i].all()...)
	}
	return out
}

// Total returns the total number of contacts across all buckets.
func (rt *RoutingTable) Total() int {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	n := 0
	for i := range rt.buckets {
		n += len(rt.buckets[i].contacts)
	}
	return n
}

// NonEmptyBucketCount returns how many buckets hold at least one
// contact.
func (rt *RoutingTable) NonEmptyBucketCount() int {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	n := 0
	for i := range rt.buckets {
		if len(rt.buckets[i].contacts) > 0 {
			n++
		}
	}
	return n
}
