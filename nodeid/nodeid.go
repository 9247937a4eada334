// Package nodeid implements the 160-bit Kademlia node identifier and
// XOR-distance metric, completing the xorDistance/leftPad stub the
// teacher's simpleDHT left for "future Kademlia" use.
package nodeid

import (
	"crypto/rand"
	"crypto/sha1"
	"encoding/hex"
	"math/big"

	"github.com/ubinox-pi/anonet-sub000/anerr"
)

// Size is the node id length in bytes (160 bits).
const Size = 20

// ID is an opaque 160-bit identifier.
type ID [Size]byte

// Random generates a cryptographically random id.
func Random() (ID, error) {
	var id ID
	if _, err := rand.Read(id[:]); err != nil {
		return ID{}, anerr.Unavailable("read random bytes", err)
	}
	return id, nil
}

// FromString derives a node id as SHA-1 of an arbitrary UTF-8 string,
// the constructor used for deriving ids from usernames and
// fingerprints alike.
func FromString(s string) ID {
	return ID(sha1.Sum([]byte(s)))
}

// FromBytes builds an id from exactly Size raw bytes.
func FromBytes(b []byte) (ID, error) {
	if len(b) != Size {
		return ID{}, anerr.Malformed("node id must be 20 bytes", nil)
	}
	var id ID
	copy(id[:], b)
	return id, nil
}

// FromHex parses a 40-character hex string into an id.
func FromHex(s string) (ID, error) {
	if len(s) != Size*2 {
		return ID{}, anerr.Malformed("node id hex must be 40 chars", nil)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return ID{}, anerr.Malformed("node id hex decode", err)
	}
	return FromBytes(b)
}

// String renders the id as lowercase hex.
func (id ID) String() string { return hex.EncodeToString(id[:]) }

// Bytes returns the raw 20 bytes.
func (id ID) Bytes() []byte { return id[:] }

// Equal reports byte-for-byte equality.
func (id ID) Equal(other ID) bool { return id == other }

// Xor computes the elementwise XOR distance between two ids.
func Xor(a, b ID) ID {
	var out ID
	for i := range out {
		out[i] = a[i] ^ b[i]
	}
	return out
}

// Less performs an unsigned big-endian 160-bit comparison, the
// ordering used to rank candidates by XOR distance.
func (id ID) Less(other ID) bool {
	for i := range id {
		if id[i] != other[i] {
			return id[i] < other[i]
		}
	}
	return false
}

// Int renders the id as an unsigned big.Int, convenient for the
// triangle-inequality and distance-ordering properties that are
// easiest to state arithmetically.
func (id ID) Int() *big.Int {
	return new(big.Int).SetBytes(id[:])
}

// IsCloserTo reports whether self is closer to target than other is,
// i.e. xor(self,target) < xor(other,target).
func IsCloserTo(self, other, target ID) bool {
	return Xor(self, target).Less(Xor(other, target))
}

// highestSetBit returns the 0-based bit index (0 = LSB) of the
// highest set bit across the 160-bit id, or -1 if the id is all zero.
func (id ID) highestSetBit() int {
	for byteIdx := 0; byteIdx < Size; byteIdx++ {
		b := id[byteIdx]
		if b == 0 {
			continue
		}
		bitInByte := 7
		for ; bitInByte >= 0; bitInByte-- {
			if b&(1<<uint(bitInByte)) != 0 {
				break
			}
		}
		// byteIdx=0 holds the most-significant byte; bit 159 is its
		// top bit.
		return (Size-1-byteIdx)*8 + bitInByte
	}
	return -1
}

// BucketIndex computes the routing-table bucket index of other
// relative to self: 159 minus the index of the highest set bit of
// self XOR other, or 0 by convention when self == other.
func BucketIndex(self, other ID) int {
	d := Xor(self, other)
	hb := d.highestSetBit()
	if hb < 0 {
		return 0
	}
	return 159 - hb
}
