package circuit

import (
	"io"
	"net"
	"time"

	"github.com/ubinox-pi/anonet-sub000/anerr"
	"github.com/ubinox-pi/anonet-sub000/onion"
)

// WriteCell writes a cell's wire encoding to conn. Exported so the
// relay server can reuse the same framing when it forwards cells
// between links.
func WriteCell(conn net.Conn, cell onion.Cell) error {
	if _, err := conn.Write(cell.Encode()); err != nil {
		return anerr.Unavailable("write onion cell", err)
	}
	return nil
}

// ReadCell reads exactly one fixed-size cell from conn, with an
// optional read deadline.
func ReadCell(conn net.Conn, timeout time.Duration) (onion.Cell, error) {
	if timeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(timeout))
		defer conn.SetReadDeadline(time.Time{})
	}
	buf := make([]byte, onion.CellSize)
	if _, err := io.ReadFull(conn, buf); err != nil {
		return onion.Cell{}, anerr.TimedOut("read onion cell", err)
	}
	return onion.DecodeCell(buf)
}

func writeCell(conn net.Conn, cell onion.Cell) error { return WriteCell(conn, cell) }
func readCell(conn net.Conn, timeout time.Duration) (onion.Cell, error) {
	return ReadCell(conn, timeout)
}
