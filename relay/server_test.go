package relay

import (
	"encoding/binary"
	"net"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ubinox-pi/anonet-sub000/circuit"
	"github.com/ubinox-pi/anonet-sub000/identity"
	"github.com/ubinox-pi/anonet-sub000/onion"
)

func startServer(t *testing.T) (*Server, net.Listener, *identity.Identity) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	id, err := identity.Generate()
	require.NoError(t, err)
	s := NewServer(ln, id, nil, nil)
	go s.Serve()
	return s, ln, id
}

func TestBuildCircuitThroughRealRelay(t *testing.T) {
	_, ln, _ := startServer(t)
	defer ln.Close()

	clientID, err := identity.Generate()
	require.NoError(t, err)

	b := circuit.NewBuilder(clientID)
	circ, err := b.Build([]circuit.Target{{Addr: ln.Addr().String()}})
	require.NoError(t, err)
	require.Equal(t, circuit.StateReady, circ.State)
	require.Len(t, circ.Hops, 1)
	defer circ.Destroy()
}

func TestBuildTwoHopCircuitThroughRealRelays(t *testing.T) {
	_, tailLn, _ := startServer(t)
	defer tailLn.Close()
	_, guardLn, _ := startServer(t)
	defer guardLn.Close()

	clientID, err := identity.Generate()
	require.NoError(t, err)

	b := circuit.NewBuilder(clientID)
	circ, err := b.Build([]circuit.Target{
		{Addr: guardLn.Addr().String()},
		{Addr: tailLn.Addr().String()},
	})
	require.NoError(t, err)
	require.Equal(t, circuit.StateReady, circ.State)
	require.Len(t, circ.Hops, 2)
	defer circ.Destroy()
}

func TestRelayBeginDataRoundTrip(t *testing.T) {
	// A plain TCP echo server stands in for the circuit's destination.
	echoLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer echoLn.Close()
	go func() {
		conn, err := echoLn.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 1024)
		for {
			n, err := conn.Read(buf)
			if n > 0 {
				conn.Write(buf[:n])
			}
			if err != nil {
				return
			}
		}
	}()

	_, relayLn, _ := startServer(t)
	defer relayLn.Close()

	clientID, err := identity.Generate()
	require.NoError(t, err)
	b := circuit.NewBuilder(clientID)
	circ, err := b.Build([]circuit.Target{{Addr: relayLn.Addr().String()}})
	require.NoError(t, err)
	defer circ.Destroy()

	echoHost, echoPortStr, err := net.SplitHostPort(echoLn.Addr().String())
	require.NoError(t, err)
	echoIP := net.ParseIP(echoHost).To4()
	require.NotNil(t, echoIP)
	echoPort, err := strconv.Atoi(echoPortStr)
	require.NoError(t, err)
	var portBuf [2]byte
	binary.BigEndian.PutUint16(portBuf[:], uint16(echoPort))

	beginData := append(append([]byte(nil), echoIP...), portBuf[:]...)
	streamID := circ.NextStreamID()
	require.NoError(t, circ.SendRelay(onion.RelayBegin, streamID, beginData))

	connected, err := circ.ReceiveRelay()
	require.NoError(t, err)
	require.Equal(t, onion.RelayConnected, connected.Command)

	payload := []byte("hello through the circuit")
	require.NoError(t, circ.SendRelay(onion.RelayData, streamID, payload))

	reply, err := circ.ReceiveRelay()
	require.NoError(t, err)
	require.Equal(t, onion.RelayData, reply.Command)
	require.Equal(t, payload, reply.Data)
}

func TestRateLimiterRejectsBurst(t *testing.T) {
	s := &Server{limiters: newLimiterSet()}
	ip := "203.0.113.7"
	allowed := 0
	for i := 0; i < rateBurst+5; i++ {
		if s.limiters.allow(ip) {
			allowed++
		}
	}
	require.Equal(t, rateBurst, allowed)
}
