// Package relay implements the onion circuit relay server: per-IP
// rate limiting, challenge-response authentication, and the per-hop
// cell dispatch loop (CREATE/RELAY/DESTROY/PADDING), generalizing
// cvsouth-tor-go's per-connection handling idiom and the pack's
// token-bucket-as-a-component idiom (golang.org/x/time/rate) from a
// Tor relay's ntor/AES-CTR hop crypto to this module's
// onion.Crypto/AES-256-GCM scheme.
package relay

import (
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ubinox-pi/anonet-sub000/anerr"
	"github.com/ubinox-pi/anonet-sub000/circuit"
	"github.com/ubinox-pi/anonet-sub000/events"
	"github.com/ubinox-pi/anonet-sub000/identity"
	"github.com/ubinox-pi/anonet-sub000/onion"
)

// MaxCircuits bounds concurrent circuits relay-wide, per spec.md §5.
const MaxCircuits = 1000

const connectTimeout = 10 * time.Second
const cellTimeout = 30 * time.Second

// Server accepts circuit-building connections and relays cells.
type Server struct {
	listener net.Listener
	self     *identity.Identity
	logger   *slog.Logger
	sink     events.Sink

	limiters     *limiterSet
	circuitCount atomic.Int64
}

// NewServer wraps an already-bound listener.
func NewServer(listener net.Listener, self *identity.Identity, logger *slog.Logger, sink events.Sink) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{listener: listener, self: self, logger: logger, sink: sink, limiters: newLimiterSet()}
}

// Serve runs the accept loop until the listener is closed.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return anerr.Unavailable("accept relay connection", err)
		}
		go s.handleConn(conn)
	}
}

func (s *Server) remoteIP(conn net.Conn) string {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return conn.RemoteAddr().String()
	}
	return host
}

func (s *Server) emit(e events.Event) { events.Emit(s.sink, e) }

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	remote := conn.RemoteAddr().String()
	logger := s.logger.With("remote", remote, "conn_id", uuid.NewString())
	logger.Debug("relay connection accepted")
	s.emit(events.RelayEvent{RemoteAddr: remote, Status: "accepted"})

	if !s.limiters.allow(s.remoteIP(conn)) {
		err := anerr.Limited("rate limit exceeded for " + s.remoteIP(conn))
		logger.Info("relay connection rate limited", "error", err)
		s.emit(events.RelayEvent{RemoteAddr: remote, Status: "rate_limited", Detail: err.Error()})
		return
	}

	peerFingerprint, err := s.authenticate(conn)
	if err != nil {
		logger.Warn("relay authentication rejected", "error", err)
		s.emit(events.RelayEvent{RemoteAddr: remote, Status: "rejected", Detail: err.Error()})
		return
	}
	logger.Info("relay connection authenticated", "fingerprint", peerFingerprint)
	s.emit(events.RelayEvent{RemoteAddr: remote, Status: "authenticated", Detail: peerFingerprint})

	prevMu := &sync.Mutex{}
	circuits := make(map[uint32]*relayCircuit)
	defer func() {
		for _, rc := range circuits {
			rc.close()
			s.circuitCount.Add(-1)
		}
		s.emit(events.RelayEvent{RemoteAddr: remote, Status: "closed"})
	}()

	for {
		cell, err := circuit.ReadCell(conn, cellTimeout)
		if err != nil {
			return
		}
		switch cell.Command() {
		case onion.CmdCreate:
			s.handleCreate(conn, prevMu, circuits, cell)
		case onion.CmdRelay, onion.CmdRelayEarly:
			s.handleRelay(conn, prevMu, circuits, cell)
		case onion.CmdDestroy:
			if rc, ok := circuits[cell.CircuitID()]; ok {
				rc.close()
				delete(circuits, cell.CircuitID())
				s.circuitCount.Add(-1)
			}
		case onion.CmdPadding:
			// ignore
		default:
			// unknown command on an established link: ignore rather
			// than tear down the whole connection.
		}
	}
}

// authenticate performs the relay side of the challenge-response
// handshake and returns the verified peer's identity fingerprint.
func (s *Server) authenticate(conn net.Conn) (string, error) {
	_ = conn.SetReadDeadline(time.Now().Add(cellTimeout))
	defer conn.SetReadDeadline(time.Time{})

	challenge := make([]byte, circuit.ChallengeSize)
	if _, err := rand.Read(challenge); err != nil {
		return "", anerr.Unavailable("generate auth challenge", err)
	}
	if _, err := conn.Write(challenge); err != nil {
		return "", anerr.Unavailable("send auth challenge", err)
	}

	sig, pubDER, err := circuit.ReadAuthResponse(conn)
	if err != nil {
		return "", err
	}
	pub, err := identity.ParsePublicKeyDER(pubDER)
	if err != nil {
		return "", err
	}
	if !identity.Verify(pub, challenge, sig) {
		return "", anerr.NotAuthenticated("relay challenge signature invalid")
	}
	sum := sha256.Sum256(pubDER)
	return hex.EncodeToString(sum[:]), nil
}

func (s *Server) handleCreate(conn net.Conn, prevMu *sync.Mutex, circuits map[uint32]*relayCircuit, cell onion.Cell) {
	if s.circuitCount.Load() >= MaxCircuits {
		err := anerr.CapacityExceeded("relay circuit table full")
		s.logger.Warn("circuit create denied", "error", err)
		s.emit(events.RelayEvent{RemoteAddr: conn.RemoteAddr().String(), Status: "capacity_exceeded", Detail: err.Error()})
		destroy, _ := onion.NewCell(cell.CircuitID(), onion.CmdDestroy, nil)
		prevMu.Lock()
		_, _ = conn.Write(destroy.Encode())
		prevMu.Unlock()
		return
	}

	ephemeral, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return
	}
	clientPub, err := ecdh.P256().NewPublicKey(cell.Payload()[:65])
	if err != nil {
		return
	}
	shared, err := ephemeral.ECDH(clientPub)
	if err != nil {
		return
	}
	crypto, err := onion.NewCrypto(shared, false)
	if err != nil {
		return
	}

	rc := &relayCircuit{id: cell.CircuitID(), crypto: crypto, prevConn: conn, prevMu: prevMu}
	circuits[rc.id] = rc
	s.circuitCount.Add(1)

	payload := make([]byte, 65)
	copy(payload, ephemeral.PublicKey().Bytes())
	created, err := onion.NewCell(rc.id, onion.CmdCreated, payload)
	if err != nil {
		return
	}
	_ = rc.writeToPrev(created)
}

func (s *Server) handleRelay(conn net.Conn, prevMu *sync.Mutex, circuits map[uint32]*relayCircuit, cell onion.Cell) {
	rc, ok := circuits[cell.CircuitID()]
	if !ok {
		destroy, _ := onion.NewCell(cell.CircuitID(), onion.CmdDestroy, nil)
		prevMu.Lock()
		_, _ = conn.Write(destroy.Encode())
		prevMu.Unlock()
		return
	}

	peeled, err := onion.PeelOneLayer(cell.Payload(), rc.crypto)
	if err != nil {
		s.destroyCircuit(circuits, rc)
		return
	}

	final, inner, err := onion.IsFinalLayer(peeled)
	if err != nil {
		s.destroyCircuit(circuits, rc)
		return
	}
	if !final {
		rc.mu.Lock()
		next := rc.nextConn
		rc.mu.Unlock()
		if next == nil {
			s.destroyCircuit(circuits, rc)
			return
		}
		forward, err := onion.NewCell(rc.id, cell.Command(), peeled)
		if err != nil {
			return
		}
		_, _ = next.Write(forward.Encode())
		return
	}

	relayPayload, err := onion.DecodeRelayPayload(inner)
	if err != nil {
		s.destroyCircuit(circuits, rc)
		return
	}

	switch relayPayload.Command {
	case onion.RelayExtend:
		s.handleExtend(rc, relayPayload)
	case onion.RelayBegin:
		s.handleBegin(rc, relayPayload)
	case onion.RelayData:
		s.handleData(rc, relayPayload)
	case onion.RelayEnd:
		rc.close()
	case onion.RelayDrop:
		// padding-equivalent; nothing to do
	}
}

func (s *Server) destroyCircuit(circuits map[uint32]*relayCircuit, rc *relayCircuit) {
	rc.close()
	delete(circuits, rc.id)
	s.circuitCount.Add(-1)
}

func (s *Server) handleExtend(rc *relayCircuit, payload onion.RelayPayload) {
	if len(payload.Data) < 4+2+65 {
		return
	}
	ip := net.IP(payload.Data[0:4]).String()
	port := binary.BigEndian.Uint16(payload.Data[4:6])
	ephemeralPubBytes := append([]byte(nil), payload.Data[6:71]...)
	addr := net.JoinHostPort(ip, formatPort(port))

	nextConn, err := net.DialTimeout("tcp", addr, connectTimeout)
	if err != nil {
		s.sendDestroy(rc)
		return
	}

	if err := circuit.AuthenticateAsClient(nextConn, s.self); err != nil {
		nextConn.Close()
		s.sendDestroy(rc)
		return
	}

	createCell, err := onion.NewCell(rc.id, onion.CmdCreate, ephemeralPubBytes)
	if err != nil {
		nextConn.Close()
		s.sendDestroy(rc)
		return
	}
	if _, err := nextConn.Write(createCell.Encode()); err != nil {
		nextConn.Close()
		s.sendDestroy(rc)
		return
	}
	createdCell, err := circuit.ReadCell(nextConn, cellTimeout)
	if err != nil || createdCell.Command() != onion.CmdCreated {
		nextConn.Close()
		s.sendDestroy(rc)
		return
	}

	rc.setNext(nextConn)
	go s.pumpBackward(rc)

	extendedPlain, err := onion.EncodeRelayPayload(onion.RelayPayload{
		Command: onion.RelayExtended,
		Data:    append([]byte(nil), createdCell.Payload()[:65]...),
	})
	if err != nil {
		return
	}
	sealed, err := rc.crypto.EncryptOutbound(extendedPlain)
	if err != nil {
		return
	}
	envelope, err := onion.EncodeEnvelope(sealed)
	if err != nil {
		return
	}
	reply, err := onion.NewCell(rc.id, onion.CmdRelay, envelope)
	if err != nil {
		return
	}
	_ = rc.writeToPrev(reply)
}

func (s *Server) handleBegin(rc *relayCircuit, payload onion.RelayPayload) {
	if len(payload.Data) < 6 {
		return
	}
	ip := net.IP(payload.Data[0:4]).String()
	port := binary.BigEndian.Uint16(payload.Data[4:6])
	addr := net.JoinHostPort(ip, formatPort(port))

	appConn, err := net.DialTimeout("tcp", addr, connectTimeout)
	if err != nil {
		s.replyRelay(rc, onion.RelayEnd, payload.StreamID, nil)
		return
	}
	rc.setApp(appConn, payload.StreamID)
	s.replyRelay(rc, onion.RelayConnected, payload.StreamID, nil)
	go s.pumpApp(rc)
}

func (s *Server) handleData(rc *relayCircuit, payload onion.RelayPayload) {
	rc.mu.Lock()
	app := rc.appConn
	rc.mu.Unlock()
	if app == nil {
		return
	}
	_, _ = app.Write(payload.Data)
}

func (s *Server) replyRelay(rc *relayCircuit, cmd onion.RelayCommand, streamID uint16, data []byte) {
	plain, err := onion.EncodeRelayPayload(onion.RelayPayload{Command: cmd, StreamID: streamID, Data: data})
	if err != nil {
		return
	}
	sealed, err := rc.crypto.EncryptOutbound(plain)
	if err != nil {
		return
	}
	envelope, err := onion.EncodeEnvelope(sealed)
	if err != nil {
		return
	}
	cell, err := onion.NewCell(rc.id, onion.CmdRelay, envelope)
	if err != nil {
		return
	}
	_ = rc.writeToPrev(cell)
}

func (s *Server) sendDestroy(rc *relayCircuit) {
	cell, err := onion.NewCell(rc.id, onion.CmdDestroy, nil)
	if err != nil {
		return
	}
	_ = rc.writeToPrev(cell)
}

// pumpApp forwards bytes read from rc.appConn back up the circuit as
// RELAY_DATA cells, until the connection closes.
func (s *Server) pumpApp(rc *relayCircuit) {
	buf := make([]byte, onion.MaxRelayData)
	for {
		rc.mu.Lock()
		app := rc.appConn
		streamID := rc.streamID
		rc.mu.Unlock()
		if app == nil {
			return
		}
		n, err := app.Read(buf)
		if n > 0 {
			s.replyRelay(rc, onion.RelayData, streamID, append([]byte(nil), buf[:n]...))
		}
		if err != nil {
			s.replyRelay(rc, onion.RelayEnd, streamID, nil)
			return
		}
	}
}

// pumpBackward forwards cells arriving from rc.nextConn back toward
// the client, adding this hop's own encryption layer so the client's
// outermost-first peel recovers the original nesting.
func (s *Server) pumpBackward(rc *relayCircuit) {
	for {
		rc.mu.Lock()
		next := rc.nextConn
		rc.mu.Unlock()
		if next == nil {
			return
		}
		cell, err := circuit.ReadCell(next, 0)
		if err != nil {
			return
		}
		switch cell.Command() {
		case onion.CmdDestroy:
			s.sendDestroy(rc)
			return
		case onion.CmdRelay, onion.CmdRelayEarly:
			wrapped, err := onion.WrapOneLayer(cell.Payload(), rc.crypto)
			if err != nil {
				return
			}
			forward, err := onion.NewCell(rc.id, cell.Command(), wrapped)
			if err != nil {
				return
			}
			_ = rc.writeToPrev(forward)
		}
	}
}

func formatPort(p uint16) string {
	return strconv.Itoa(int(p))
}
