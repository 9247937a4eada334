// Package circuit implements the client-side onion circuit: the
// per-hop state machine, the CREATE/CREATED and RELAY_EXTEND build
// sequence, and relay traffic through an established path.
// Generalizes cvsouth-tor-go's circuit package (Hop/Circuit,
// CREATE2/CREATED2 ntor handshake, SendRelay/ReceiveRelay) from Tor's
// AES-CTR/SHA-1-digest hop crypto and ntor key agreement to spec.md
// §4.9's ECDH-P256 + onion.Crypto (AES-256-GCM) scheme.
package circuit

import (
	"crypto/rand"
	"encoding/binary"
	"net"
	"sync"
	"time"

	"github.com/ubinox-pi/anonet-sub000/anerr"
	"github.com/ubinox-pi/anonet-sub000/onion"
)

// State is a circuit's lifecycle stage, per spec.md §3.
type State int

const (
	StateBuilding State = iota
	StateReady
	StateExtending
	StateDestroyed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateBuilding:
		return "building"
	case StateReady:
		return "ready"
	case StateExtending:
		return "extending"
	case StateDestroyed:
		return "destroyed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// DialTimeout bounds opening the TCP connection to the guard hop.
const DialTimeout = 10 * time.Second

// CellTimeout bounds reading a single cell off the wire.
const CellTimeout = 30 * time.Second

// ecdhPubSize is the fixed length of an uncompressed P-256 point: the
// format used for every ephemeral key this package puts on the wire
// (CREATE/CREATED/EXTEND/EXTENDED), in place of spec.md's looser
// "ephemeral_pub_DER" phrasing — a fixed-length encoding is what makes
// the EXTEND payload's ipv4||port||key layout parseable without its
// own length prefix.
const ecdhPubSize = 65

// Hop is one established leg of a circuit.
type Hop struct {
	PeerAddr        string
	PeerFingerprint string
	Crypto          *onion.Crypto
}

// Circuit is a client-built onion circuit over a single TCP connection
// to its guard hop.
type Circuit struct {
	mu sync.Mutex

	ID    uint32
	Conn  net.Conn
	Hops  []*Hop
	State State

	streamIDCounter uint16
}

// NextStreamID returns the next monotonic stream id, starting at 1.
func (c *Circuit) NextStreamID() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.streamIDCounter++
	return c.streamIDCounter
}

func randomCircuitID() (uint32, error) {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, anerr.Unavailable("generate circuit id", err)
	}
	// 31-bit id per spec.md §3: the top bit is masked off here rather
	// than used as a role marker.
	return binary.BigEndian.Uint32(buf[:]) & 0x7FFFFFFF, nil
}

// wrapOrder returns the existing hops' crypto in innermost-first
// order for outbound layering, per spec.md §4.9: the most recently
// added hop is innermost, the guard is outermost.
func wrapOrder(hops []*Hop) []*onion.Crypto {
	out := make([]*onion.Crypto, len(hops))
	for i, h := range hops {
		out[len(hops)-1-i] = h.Crypto
	}
	return out
}

// SendRelay wraps a RELAY payload through every hop (innermost-first)
// and writes it as a RELAY cell to the guard.
func (c *Circuit) SendRelay(cmd onion.RelayCommand, streamID uint16, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.State != StateReady {
		return anerr.Protocol("circuit not ready for relay traffic", nil)
	}
	plain, err := onion.EncodeRelayPayload(onion.RelayPayload{Command: cmd, StreamID: streamID, Data: data})
	if err != nil {
		return err
	}
	envelope, err := onion.WrapOutbound(plain, wrapOrder(c.Hops))
	if err != nil {
		return err
	}
	cell, err := onion.NewCell(c.ID, onion.CmdRelay, envelope)
	if err != nil {
		return err
	}
	return writeCell(c.Conn, cell)
}

// ReceiveRelay reads one RELAY cell from the guard and peels every
// hop's layer (outermost/guard first), returning the innermost
// RelayPayload.
func (c *Circuit) ReceiveRelay() (onion.RelayPayload, error) {
	c.mu.Lock()
	hops := append([]*Hop(nil), c.Hops...)
	conn := c.Conn
	c.mu.Unlock()

	cell, err := readCell(conn, CellTimeout)
	if err != nil {
		return onion.RelayPayload{}, err
	}
	switch cell.Command() {
	case onion.CmdDestroy:
		c.setState(StateDestroyed)
		return onion.RelayPayload{}, anerr.Protocol("circuit destroyed by peer", nil)
	case onion.CmdRelay, onion.CmdRelayEarly:
		payload := cell.Payload()
		for _, h := range hops {
			payload, err = onion.PeelOneLayer(payload, h.Crypto)
			if err != nil {
				return onion.RelayPayload{}, err
			}
		}
		final, inner, err := onion.IsFinalLayer(payload)
		if err != nil {
			return onion.RelayPayload{}, err
		}
		if !final {
			return onion.RelayPayload{}, anerr.Protocol("relay payload has unexpected remaining layers", nil)
		}
		return onion.DecodeRelayPayload(inner)
	default:
		return onion.RelayPayload{}, anerr.Protocol("unexpected cell command on circuit", nil)
	}
}

// Destroy sends a DESTROY cell and marks the circuit torn down.
func (c *Circuit) Destroy() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.State == StateDestroyed {
		return nil
	}
	cell, err := onion.NewCell(c.ID, onion.CmdDestroy, nil)
	if err == nil {
		_ = writeCell(c.Conn, cell)
	}
	c.State = StateDestroyed
	return c.Conn.Close()
}

func (c *Circuit) setState(s State) {
	c.mu.Lock()
	c.State = s
	c.mu.Unlock()
}
