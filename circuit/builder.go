package circuit

import (
	"crypto/ecdh"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net"
	"strconv"

	"github.com/ubinox-pi/anonet-sub000/anerr"
	"github.com/ubinox-pi/anonet-sub000/identity"
	"github.com/ubinox-pi/anonet-sub000/onion"
)

// Target names a relay to build a hop through: its TCP address and,
// if already known (e.g. resolved via a DHT Announcement), the
// identity fingerprint it must present.
type Target struct {
	Addr        string
	Fingerprint string
}

// Builder constructs client-side circuits.
type Builder struct {
	Self *identity.Identity
}

// NewBuilder returns a Builder that authenticates as self.
func NewBuilder(self *identity.Identity) *Builder {
	return &Builder{Self: self}
}

// Build opens a TCP connection to targets[0] (the guard), authenticates,
// performs CREATE/CREATED, then extends through targets[1:] in order.
// Per spec.md §4.9 failure semantics, any I/O error during build or
// extend destroys the partial circuit and returns an error; an
// unexpected command surfaces as anerr.ProtocolViolation.
func (b *Builder) Build(targets []Target) (*Circuit, error) {
	if len(targets) == 0 {
		return nil, anerr.Malformed("circuit requires at least one hop", nil)
	}

	guard := targets[0]
	conn, err := net.DialTimeout("tcp", guard.Addr, DialTimeout)
	if err != nil {
		return nil, anerr.Unavailable("dial guard relay", err).With("circuit_build_failed", true)
	}

	circ := &Circuit{Conn: conn, State: StateBuilding}
	fail := func(err error) (*Circuit, error) {
		circ.State = StateFailed
		conn.Close()
		return nil, err
	}

	if err := AuthenticateAsClient(conn, b.Self); err != nil {
		return fail(err)
	}

	circID, err := randomCircuitID()
	if err != nil {
		return fail(err)
	}
	circ.ID = circID

	guardCrypto, err := createHop(conn, circID)
	if err != nil {
		return fail(err)
	}
	circ.Hops = append(circ.Hops, &Hop{PeerAddr: guard.Addr, PeerFingerprint: guard.Fingerprint, Crypto: guardCrypto})

	for _, target := range targets[1:] {
		circ.State = StateExtending
		if err := circ.extend(target); err != nil {
			return fail(err)
		}
	}

	circ.State = StateReady
	return circ, nil
}

// createHop performs a single CREATE/CREATED exchange directly over
// conn, returning the derived hop crypto.
func createHop(conn net.Conn, circID uint32) (*onion.Crypto, error) {
	ephemeral, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, anerr.Crypto(anerr.KeyAgreement, "generate ephemeral key", err)
	}

	payload := make([]byte, ecdhPubSize)
	copy(payload, ephemeral.PublicKey().Bytes())
	cell, err := onion.NewCell(circID, onion.CmdCreate, payload)
	if err != nil {
		return nil, err
	}
	if err := writeCell(conn, cell); err != nil {
		return nil, err
	}

	resp, err := readCell(conn, CellTimeout)
	if err != nil {
		return nil, err
	}
	switch resp.Command() {
	case onion.CmdDestroy:
		return nil, anerr.Unavailable("relay sent DESTROY instead of CREATED", nil).With("circuit_build_failed", true)
	case onion.CmdCreated:
	default:
		return nil, anerr.Protocol("expected CREATED cell", nil)
	}

	peerPubBytes := resp.Payload()[:ecdhPubSize]
	peerPub, err := ecdh.P256().NewPublicKey(peerPubBytes)
	if err != nil {
		return nil, anerr.Crypto(anerr.KeyAgreement, "parse peer ephemeral key", err)
	}
	shared, err := ephemeral.ECDH(peerPub)
	if err != nil {
		return nil, anerr.Crypto(anerr.KeyAgreement, "compute ECDH shared secret", err)
	}
	return onion.NewCrypto(shared, true)
}

// extend builds an EXTEND payload for target, wraps it through the
// circuit's existing hops, and awaits EXTENDED, appending the new hop
// on success.
func (c *Circuit) extend(target Target) error {
	ephemeral, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return anerr.Crypto(anerr.KeyAgreement, "generate ephemeral key", err)
	}

	ipv4, port, err := resolveIPv4(target.Addr)
	if err != nil {
		return err
	}

	extendPayload := make([]byte, 0, 4+2+ecdhPubSize)
	extendPayload = append(extendPayload, ipv4...)
	var pb [2]byte
	binary.BigEndian.PutUint16(pb[:], port)
	extendPayload = append(extendPayload, pb[:]...)
	extendPayload = append(extendPayload, ephemeral.PublicKey().Bytes()...)

	plain, err := onion.EncodeRelayPayload(onion.RelayPayload{Command: onion.RelayExtend, StreamID: 0, Data: extendPayload})
	if err != nil {
		return err
	}
	envelope, err := onion.WrapOutbound(plain, wrapOrder(c.Hops))
	if err != nil {
		return err
	}
	cell, err := onion.NewCell(c.ID, onion.CmdRelayEarly, envelope)
	if err != nil {
		return err
	}
	if err := writeCell(c.Conn, cell); err != nil {
		return err
	}

	resp, err := readCell(c.Conn, CellTimeout)
	if err != nil {
		return err
	}
	switch resp.Command() {
	case onion.CmdDestroy:
		return anerr.Unavailable("relay sent DESTROY during extend", nil).With("circuit_build_failed", true)
	case onion.CmdRelay, onion.CmdRelayEarly:
	default:
		return anerr.Protocol("expected RELAY cell for EXTENDED", nil)
	}

	payload := resp.Payload()
	for _, h := range c.Hops {
		payload, err = onion.PeelOneLayer(payload, h.Crypto)
		if err != nil {
			return err
		}
	}
	final, inner, err := onion.IsFinalLayer(payload)
	if err != nil {
		return err
	}
	if !final {
		return anerr.Protocol("EXTENDED reply has unexpected remaining layers", nil)
	}
	relayResp, err := onion.DecodeRelayPayload(inner)
	if err != nil {
		return err
	}
	if relayResp.Command != onion.RelayExtended {
		return anerr.Protocol(fmt.Sprintf("expected RELAY_EXTENDED, got relay command %d", relayResp.Command), nil)
	}
	if len(relayResp.Data) != ecdhPubSize {
		return anerr.Malformed("EXTENDED payload has wrong ephemeral key length", nil)
	}

	peerPub, err := ecdh.P256().NewPublicKey(relayResp.Data)
	if err != nil {
		return anerr.Crypto(anerr.KeyAgreement, "parse extended peer key", err)
	}
	shared, err := ephemeral.ECDH(peerPub)
	if err != nil {
		return anerr.Crypto(anerr.KeyAgreement, "compute ECDH shared secret", err)
	}
	crypto, err := onion.NewCrypto(shared, true)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.Hops = append(c.Hops, &Hop{PeerAddr: target.Addr, PeerFingerprint: target.Fingerprint, Crypto: crypto})
	c.mu.Unlock()
	return nil
}

func resolveIPv4(addr string) (ipv4 [4]byte, port uint16, err error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return ipv4, 0, anerr.Malformed("relay address must be host:port", err)
	}
	ip := net.ParseIP(host)
	if ip == nil {
		resolved, err := net.ResolveIPAddr("ip4", host)
		if err != nil {
			return ipv4, 0, anerr.Malformed("cannot resolve relay address", err)
		}
		ip = resolved.IP
	}
	v4 := ip.To4()
	if v4 == nil {
		return ipv4, 0, anerr.Malformed("relay address is not IPv4", nil)
	}
	copy(ipv4[:], v4)
	p, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return ipv4, 0, anerr.Malformed("invalid relay port", err)
	}
	return ipv4, uint16(p), nil
}
