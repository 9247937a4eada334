// Package onion implements the fixed-size onion cell codec, the inner
// RELAY payload layout, and the per-hop key schedule used to layer
// and peel encryption across a circuit, generalizing cvsouth-tor-go's
// cell package from Tor's 512-byte/CmdRelay framing to spec.md §4.8's
// 514-byte/509-payload layout.
package onion

import (
	"encoding/binary"

	"github.com/ubinox-pi/anonet-sub000/anerr"
)

// CellSize is the fixed wire size of every onion cell on every link.
const CellSize = 514

// PayloadSize is the zero-padded payload region following the header.
const PayloadSize = 509

// Command enumerates onion cell commands.
type Command byte

const (
	CmdCreate      Command = 0x01
	CmdCreated     Command = 0x02
	CmdRelay       Command = 0x03
	CmdDestroy     Command = 0x04
	CmdPadding     Command = 0x05
	CmdCreateFast  Command = 0x06
	CmdCreatedFast Command = 0x07
	CmdRelayEarly  Command = 0x08
)

// Cell is a fixed 514-byte onion cell: u32 circuit_id || u8 command ||
// 509-byte zero-padded payload.
type Cell [CellSize]byte

// NewCell builds a cell with the given circuit id, command, and
// payload, zero-padding the remainder.
func NewCell(circuitID uint32, cmd Command, payload []byte) (Cell, error) {
	if len(payload) > PayloadSize {
		return Cell{}, anerr.Malformed("onion payload exceeds 509 bytes", nil)
	}
	var c Cell
	binary.BigEndian.PutUint32(c[0:4], circuitID)
	c[4] = byte(cmd)
	copy(c[5:], payload)
	return c, nil
}

// CircuitID extracts the circuit id.
func (c Cell) CircuitID() uint32 { return binary.BigEndian.Uint32(c[0:4]) }

// Command extracts the command byte.
func (c Cell) Command() Command { return Command(c[4]) }

// Payload returns the full 509-byte payload region (including any
// trailing zero padding).
func (c Cell) Payload() []byte { return c[5:CellSize] }

// Encode returns the raw wire bytes.
func (c Cell) Encode() []byte {
	out := make([]byte, CellSize)
	copy(out, c[:])
	return out
}

// DecodeCell parses exactly CellSize bytes into a Cell.
func DecodeCell(buf []byte) (Cell, error) {
	if len(buf) != CellSize {
		return Cell{}, anerr.Malformed("onion cell must be 514 bytes", nil)
	}
	var c Cell
	copy(c[:], buf)
	return c, nil
}
