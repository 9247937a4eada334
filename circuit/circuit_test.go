package circuit

import (
	"crypto/ecdh"
	"crypto/rand"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ubinox-pi/anonet-sub000/identity"
	"github.com/ubinox-pi/anonet-sub000/onion"
)

// fakeRelay is a minimal in-test stand-in for the relay server: it
// authenticates one inbound connection, answers CREATE, and if told a
// nextAddr, forwards RELAY_EXTEND to a real next hop and relays
// RELAY_EXTENDED back. It exists to exercise the circuit package's
// build/extend wire protocol without depending on the relay package.
type fakeRelay struct {
	listener  net.Listener
	identity  *identity.Identity
	nextAddr  string // empty for a terminal (tail) relay
	fwdCrypto *onion.Crypto
}

func startFakeRelay(t *testing.T, nextAddr string) *fakeRelay {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	id, err := identity.Generate()
	require.NoError(t, err)
	r := &fakeRelay{listener: ln, identity: id, nextAddr: nextAddr}
	go r.serveOne(t)
	return r
}

func (r *fakeRelay) addr() string { return r.listener.Addr().String() }

func (r *fakeRelay) serveOne(t *testing.T) {
	conn, err := r.listener.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	challenge := make([]byte, ChallengeSize)
	_, _ = rand.Read(challenge)
	if _, err := conn.Write(challenge); err != nil {
		return
	}
	sig, pubDER, err := ReadAuthResponse(conn)
	if err != nil {
		return
	}
	pub, err := identity.ParsePublicKeyDER(pubDER)
	if err != nil || !identity.Verify(pub, challenge, sig) {
		return
	}

	createCell, err := readCell(conn, 5*time.Second)
	if err != nil || createCell.Command() != onion.CmdCreate {
		return
	}
	clientPub, err := ecdh.P256().NewPublicKey(createCell.Payload()[:65])
	if err != nil {
		return
	}
	myPriv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return
	}
	shared, err := myPriv.ECDH(clientPub)
	if err != nil {
		return
	}
	crypto, err := onion.NewCrypto(shared, false)
	if err != nil {
		return
	}
	r.fwdCrypto = crypto

	createdPayload := make([]byte, 65)
	copy(createdPayload, myPriv.PublicKey().Bytes())
	createdCell, err := onion.NewCell(createCell.CircuitID(), onion.CmdCreated, createdPayload)
	if err != nil {
		return
	}
	if err := writeCell(conn, createdCell); err != nil {
		return
	}

	if r.nextAddr == "" {
		return
	}

	// Expect a RELAY_EXTEND cell, single-layer-wrapped by this hop's key.
	extendCell, err := readCell(conn, 5*time.Second)
	if err != nil {
		return
	}
	plain, err := crypto.DecryptInbound(decodeEnvelopeForTest(t, extendCell.Payload()))
	if err != nil {
		return
	}
	relayPayload, err := onion.DecodeRelayPayload(plain)
	if err != nil || relayPayload.Command != onion.RelayExtend {
		return
	}
	nextIP := net.IP(relayPayload.Data[0:4]).String()
	nextPort := binary.BigEndian.Uint16(relayPayload.Data[4:6])
	nextEphemeral := relayPayload.Data[6:71]
	_ = nextIP

	nextConn, err := net.Dial("tcp", r.nextAddr)
	if err != nil {
		return
	}
	defer nextConn.Close()

	nextChallenge := make([]byte, ChallengeSize)
	if _, err := io.ReadFull(nextConn, nextChallenge); err != nil {
		return
	}
	relaySig, err := r.identity.Sign(nextChallenge)
	if err != nil {
		return
	}
	if _, err := nextConn.Write(EncodeAuthResponse(relaySig, r.identity.PublicKeyDER())); err != nil {
		return
	}

	forwardedCreate, err := onion.NewCell(createCell.CircuitID(), onion.CmdCreate, append([]byte(nil), nextEphemeral...))
	if err != nil {
		return
	}
	if err := writeCell(nextConn, forwardedCreate); err != nil {
		return
	}
	nextCreated, err := readCell(nextConn, 5*time.Second)
	if err != nil || nextCreated.Command() != onion.CmdCreated {
		return
	}

	_ = nextPort
	extendedPlain, err := onion.EncodeRelayPayload(onion.RelayPayload{
		Command: onion.RelayExtended,
		Data:    append([]byte(nil), nextCreated.Payload()[:65]...),
	})
	if err != nil {
		return
	}
	sealed, err := crypto.EncryptOutbound(extendedPlain)
	if err != nil {
		return
	}
	envelope, err := onion.EncodeEnvelope(sealed)
	if err != nil {
		return
	}
	extendedCell, err := onion.NewCell(createCell.CircuitID(), onion.CmdRelay, envelope)
	if err != nil {
		return
	}
	_ = writeCell(conn, extendedCell)
}

func decodeEnvelopeForTest(t *testing.T, payload []byte) []byte {
	t.Helper()
	ct, err := onion.DecodeEnvelope(payload)
	require.NoError(t, err)
	return ct
}

func TestBuildSingleHopCircuit(t *testing.T) {
	guard := startFakeRelay(t, "")
	self, err := identity.Generate()
	require.NoError(t, err)

	b := NewBuilder(self)
	circ, err := b.Build([]Target{{Addr: guard.addr()}})
	require.NoError(t, err)
	require.Equal(t, StateReady, circ.State)
	require.Len(t, circ.Hops, 1)
	circ.Destroy()
}

func TestBuildTwoHopCircuitExtends(t *testing.T) {
	tail := startFakeRelay(t, "")
	guard := startFakeRelay(t, tail.addr())

	self, err := identity.Generate()
	require.NoError(t, err)

	b := NewBuilder(self)
	circ, err := b.Build([]Target{{Addr: guard.addr()}, {Addr: tail.addr()}})
	require.NoError(t, err)
	require.Equal(t, StateReady, circ.State)
	require.Len(t, circ.Hops, 2)
	circ.Destroy()
}

func TestBuildFailsOnUnreachableGuard(t *testing.T) {
	self, err := identity.Generate()
	require.NoError(t, err)
	b := NewBuilder(self)

	_, err = b.Build([]Target{{Addr: "127.0.0.1:1"}})
	require.Error(t, err)
}
