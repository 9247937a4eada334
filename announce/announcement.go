// Package announce implements the signed, self-certifying peer
// announcement record and its DHT wire codec, generalizing the
// teacher's body()-then-sign pattern (ChatMsg/FileManifest in
// types.go) from JSON canonical bytes to the fixed binary layout the
// wire protocol requires.
package announce

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/ubinox-pi/anonet-sub000/anerr"
	"github.com/ubinox-pi/anonet-sub000/identity"
	"github.com/ubinox-pi/anonet-sub000/nodeid"
)

// MaxPortCandidates bounds the number of advertised ports.
const MaxPortCandidates = 5

// Announcement is a signed, self-certifying peer record binding a
// username, fingerprint, public key, and advertised ports.
type Announcement struct {
	Username       string
	Fingerprint    string
	PublicKeyDER   []byte
	PortCandidates []uint16
	TimestampMs    int64
	Signature      []byte
}

// New builds and signs an announcement for the given identity and
// ports, stamping the current time.
func New(id *identity.Identity, username string, ports []uint16, nowMs int64) (*Announcement, error) {
	if len(ports) > MaxPortCandidates {
		return nil, anerr.Malformed(fmt.Sprintf("too many port candidates: %d > %d", len(ports), MaxPortCandidates), nil)
	}
	a := &Announcement{
		Username:       username,
		Fingerprint:    id.Fingerprint(),
		PublicKeyDER:   id.PublicKeyDER(),
		PortCandidates: ports,
		TimestampMs:    nowMs,
	}
	sig, err := id.Sign(a.signableBytes())
	if err != nil {
		return nil, err
	}
	a.Signature = sig
	return a, nil
}

// signableBytes produces the canonical bytes that are signed:
// username || fingerprint || public_key_DER || (u16 port)* || i64 timestamp,
// excluding all length prefixes and the signature itself.
func (a *Announcement) signableBytes() []byte {
	buf := make([]byte, 0, len(a.Username)+len(a.Fingerprint)+len(a.PublicKeyDER)+2*len(a.PortCandidates)+8)
	buf = append(buf, []byte(a.Username)...)
	buf = append(buf, []byte(a.Fingerprint)...)
	buf = append(buf, a.PublicKeyDER...)
	for _, p := range a.PortCandidates {
		var pb [2]byte
		binary.BigEndian.PutUint16(pb[:], p)
		buf = append(buf, pb[:]...)
	}
	var tb [8]byte
	binary.BigEndian.PutUint64(tb[:], uint64(a.TimestampMs))
	buf = append(buf, tb[:]...)
	return buf
}

// Verify checks the embedded signature against the embedded public
// key and — per the hardening decision in SPEC_FULL.md §9 — requires
// the fingerprint to actually bind to that public key.
func (a *Announcement) Verify() bool {
	pub, err := identity.ParsePublicKeyDER(a.PublicKeyDER)
	if err != nil {
		return false
	}
	sum := sha256.Sum256(a.PublicKeyDER)
	if hex.EncodeToString(sum[:]) != a.Fingerprint {
		return false
	}
	return identity.Verify(pub, a.signableBytes(), a.Signature)
}

// DHTKey is SHA1(username), the primary publication key.
func (a *Announcement) DHTKey() nodeid.ID { return nodeid.FromString(a.Username) }

// FingerprintKey is SHA1(fingerprint), the secondary publication key.
func (a *Announcement) FingerprintKey() nodeid.ID { return nodeid.FromString(a.Fingerprint) }

// ToBytes serializes the announcement to its length-prefixed wire
// form: u16 username_len||username, u16 fp_len||fp, u16 pk_len||pk,
// u8 num_ports||(u16 port)*, i64 timestamp, u16 sig_len||sig, all
// big-endian.
func (a *Announcement) ToBytes() ([]byte, error) {
	if len(a.PortCandidates) > MaxPortCandidates {
		return nil, anerr.Malformed("too many port candidates", nil)
	}
	var buf []byte
	buf = appendLP16(buf, []byte(a.Username))
	buf = appendLP16(buf, []byte(a.Fingerprint))
	buf = appendLP16(buf, a.PublicKeyDER)

	buf = append(buf, byte(len(a.PortCandidates)))
	for _, p := range a.PortCandidates {
		var pb [2]byte
		binary.BigEndian.PutUint16(pb[:], p)
		buf = append(buf, pb[:]...)
	}

	var tb [8]byte
	binary.BigEndian.PutUint64(tb[:], uint64(a.TimestampMs))
	buf = append(buf, tb[:]...)

	buf = appendLP16(buf, a.Signature)
	return buf, nil
}

// FromBytes parses the wire form produced by ToBytes.
func FromBytes(b []byte) (*Announcement, error) {
	r := &reader{buf: b}

	username, err := r.lp16()
	if err != nil {
		return nil, err
	}
	fingerprint, err := r.lp16()
	if err != nil {
		return nil, err
	}
	pk, err := r.lp16()
	if err != nil {
		return nil, err
	}

	numPorts, err := r.u8()
	if err != nil {
		return nil, err
	}
	if int(numPorts) > MaxPortCandidates {
		return nil, anerr.Malformed("announcement exceeds max port candidates", nil)
	}
	ports := make([]uint16, numPorts)
	for i := range ports {
		p, err := r.u16()
		if err != nil {
			return nil, err
		}
		ports[i] = p
	}

	ts, err := r.i64()
	if err != nil {
		return nil, err
	}

	sig, err := r.lp16()
	if err != nil {
		return nil, err
	}
	if !r.exhausted() {
		return nil, anerr.Malformed("trailing bytes after announcement", nil)
	}

	return &Announcement{
		Username:       string(username),
		Fingerprint:    string(fingerprint),
		PublicKeyDER:   pk,
		PortCandidates: ports,
		TimestampMs:    ts,
		Signature:      sig,
	}, nil
}

func appendLP16(buf []byte, field []byte) []byte {
	var lb [2]byte
	binary.BigEndian.PutUint16(lb[:], uint16(len(field)))
	buf = append(buf, lb[:]...)
	return append(buf, field...)
}

type reader struct {
	buf []byte
	pos int
}

func (r *reader) exhausted() bool { return r.pos == len(r.buf) }

func (r *reader) need(n int) error {
	if r.pos+n > len(r.buf) {
		return anerr.Malformed("announcement truncated", nil)
	}
	return nil
}

func (r *reader) u8() (byte, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) u16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *reader) i64() (int64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return int64(v), nil
}

func (r *reader) lp16() ([]byte, error) {
	n, err := r.u16()
	if err != nil {
		return nil, err
	}
	if err := r.need(int(n)); err != nil {
		return nil, err
	}
	b := r.buf[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return b, nil
}
