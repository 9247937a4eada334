package kademlia

import "time"

// K is the per-bucket capacity bound.
const K = 20

// bucket is an ordered list of up to K contacts, oldest first. Not
// safe for concurrent use on its own; RoutingTable serializes access.
type bucket struct {
	contacts []Contact
}

// indexOf returns the slice index of a contact by node id, or -1.
func (b *bucket) indexOf(c Contact) int {
	for i, existing := range b.contacts {
		if existing.Equal(c) {
			return i
		}
	}
	return -1
}

// add inserts or refreshes c. If the bucket already holds c's id, it
// moves to the tail with an updated LastSeen. Otherwise, if the
// bucket has room, c is appended. If the bucket is full, the oldest
// contact is returned as a ping candidate and the new contact is
// dropped; the caller may call evict after confirming the candidate
// dead.
func (b *bucket) add(c Contact) (pingCandidate *Contact) {
	if i := b.indexOf(c); i >= 0 {
		existing := b.contacts[i]
		existing.LastSeen = c.LastSeen
		b.contacts = append(b.contacts[:i], b.contacts[i+1:]...)
		b.contacts = append(b.contacts, existing)
		return nil
	}
	if len(b.contacts) < K {
		b.contacts = append(b.contacts, c)
		return nil
	}
	oldest := b.contacts[0]
	return &oldest
}

// evict removes a contact by id, used once a ping candidate is
// confirmed dead.
func (b *bucket) evict(id Contact) bool {
	if i := b.indexOf(id); i >= 0 {
		b.contacts = append(b.contacts[:i], b.contacts[i+1:]...)
		return true
	}
	return false
}

// touch refreshes LastSeen and moves the contact to the tail.
func (b *bucket) touch(id Contact, now time.Time) bool {
	if i := b.indexOf(id); i >= 0 {
		existing := b.contacts[i]
		existing.LastSeen = now
		b.contacts = append(b.contacts[:i], b.contacts[i+1:]...)
		b.contacts = append(b.contacts, existing)
		return true
	}
	return false
}

// markFailed increments the stored contact's FailedQueries counter and
// reports whether it has since become bad (caller evicts on true).
func (b *bucket) markFailed(id Contact) (bad bool, ok bool) {
	i := b.indexOf(id)
	if i < 0 {
		return false, false
	}
	b.contacts[i].FailedQueries++
	return b.contacts[i].IsBad(), true
}

func (b *bucket) all() []Contact {
	out := make([]Contact, len(b.contacts))
	copy(out, b.contacts)
	return out
}

func (b *bucket) stale(now time.Time) []Contact {
	var out []Contact
	for _, c := range b.contacts {
		if c.IsStale(now) {
			out = append(out, c)
		}
	}
	return out
}
