package relay

import (
	"net"
	"sync"

	"github.com/ubinox-pi/anonet-sub000/onion"
)

// relayCircuit is the per-connection-scoped bookkeeping for one
// circuit hop terminating at this relay: addressed, per spec.md
// §4.10's invariant, by (inbound connection, circuit id) rather than
// circuit id alone.
type relayCircuit struct {
	id   uint32
	crypto *onion.Crypto

	prevConn net.Conn
	prevMu   *sync.Mutex // shared write lock for prevConn across all circuits on that connection

	mu       sync.Mutex
	nextConn net.Conn // set once this hop has extended toward another relay
	appConn  net.Conn // set once this hop has opened a RELAY_BEGIN destination
	streamID uint16
	closed   bool
}

func (rc *relayCircuit) setNext(conn net.Conn) {
	rc.mu.Lock()
	rc.nextConn = conn
	rc.mu.Unlock()
}

func (rc *relayCircuit) setApp(conn net.Conn, streamID uint16) {
	rc.mu.Lock()
	rc.appConn = conn
	rc.streamID = streamID
	rc.mu.Unlock()
}

func (rc *relayCircuit) close() {
	rc.mu.Lock()
	if rc.closed {
		rc.mu.Unlock()
		return
	}
	rc.closed = true
	next, app := rc.nextConn, rc.appConn
	rc.mu.Unlock()
	if next != nil {
		next.Close()
	}
	if app != nil {
		app.Close()
	}
}

func (rc *relayCircuit) writeToPrev(cell onion.Cell) error {
	rc.prevMu.Lock()
	defer rc.prevMu.Unlock()
	_, err := rc.prevConn.Write(cell.Encode())
	return err
}
