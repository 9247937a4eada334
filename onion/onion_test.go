package onion

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func sharedSecret(t *testing.T, seed byte) []byte {
	t.Helper()
	s := make([]byte, 32)
	for i := range s {
		s[i] = seed
	}
	return s
}

func hopPair(t *testing.T, seed byte) (client *Crypto, relay *Crypto) {
	t.Helper()
	secret := sharedSecret(t, seed)
	client, err := NewCrypto(secret, true)
	require.NoError(t, err)
	relay, err = NewCrypto(secret, false)
	require.NoError(t, err)
	return client, relay
}

func TestCellRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte{0xAB}, 100)
	c, err := NewCell(42, CmdRelay, payload)
	require.NoError(t, err)

	wire := c.Encode()
	decoded, err := DecodeCell(wire)
	require.NoError(t, err)
	require.Equal(t, uint32(42), decoded.CircuitID())
	require.Equal(t, CmdRelay, decoded.Command())
	require.True(t, bytes.Equal(payload, decoded.Payload()[:len(payload)]))
}

func TestRelayPayloadRoundTrip(t *testing.T) {
	p := RelayPayload{Command: RelayData, StreamID: 7, Data: []byte("hello stream")}
	buf, err := EncodeRelayPayload(p)
	require.NoError(t, err)
	require.Len(t, buf, PlaintextCapacity)

	got, err := DecodeRelayPayload(buf)
	require.NoError(t, err)
	require.Equal(t, p.Command, got.Command)
	require.Equal(t, p.StreamID, got.StreamID)
	require.Equal(t, p.Data, got.Data)
}

// TestThreeHopNesting exercises spec.md §8's onion-nesting property: a
// payload encrypted outbound through three hops can only be fully
// recovered by peeling those hops in reverse outbound order, and
// omitting any hop leaves it unreadable.
func TestThreeHopNesting(t *testing.T) {
	clientGuard, relayGuard := hopPair(t, 1)
	clientMiddle, relayMiddle := hopPair(t, 2)
	clientExit, relayExit := hopPair(t, 3)

	plain, err := EncodeRelayPayload(RelayPayload{Command: RelayBegin, StreamID: 1, Data: []byte("connect")})
	require.NoError(t, err)

	// Innermost hop first, outermost (guard) last.
	envelope, err := WrapOutbound(plain, []*Crypto{clientExit, clientMiddle, clientGuard})
	require.NoError(t, err)
	require.Len(t, envelope, PayloadSize)

	afterGuard, err := PeelOneLayer(envelope, relayGuard)
	require.NoError(t, err)
	final, inner, err := IsFinalLayer(afterGuard)
	require.NoError(t, err)
	require.False(t, final)

	afterMiddle, err := PeelOneLayer(afterGuard, relayMiddle)
	require.NoError(t, err)
	final, inner, err = IsFinalLayer(afterMiddle)
	require.NoError(t, err)
	require.False(t, final)

	afterExit, err := PeelOneLayer(afterMiddle, relayExit)
	require.NoError(t, err)
	final, inner, err = IsFinalLayer(afterExit)
	require.NoError(t, err)
	require.True(t, final)

	got, err := DecodeRelayPayload(inner)
	require.NoError(t, err)
	require.Equal(t, RelayBegin, got.Command)
	require.Equal(t, []byte("connect"), got.Data)
}

func TestNestingFailsIfHopOmitted(t *testing.T) {
	clientGuard, relayGuard := hopPair(t, 1)
	clientMiddle, _ := hopPair(t, 2)
	clientExit, relayExit := hopPair(t, 3)

	plain, err := EncodeRelayPayload(RelayPayload{Command: RelayData, StreamID: 2, Data: []byte("x")})
	require.NoError(t, err)

	envelope, err := WrapOutbound(plain, []*Crypto{clientExit, clientMiddle, clientGuard})
	require.NoError(t, err)

	afterGuard, err := PeelOneLayer(envelope, relayGuard)
	require.NoError(t, err)

	// Skip the middle hop and try the exit hop directly: authentication
	// must fail since the exit's key never layered the middle's tag.
	_, err = PeelOneLayer(afterGuard, relayExit)
	require.Error(t, err)
}

func TestOnionCryptoRoleSwap(t *testing.T) {
	client, relay := hopPair(t, 9)
	msg := []byte("through the onion")

	sealed, err := client.EncryptOutbound(msg)
	require.NoError(t, err)
	opened, err := relay.DecryptInbound(sealed)
	require.NoError(t, err)
	require.Equal(t, msg, opened)

	reply := []byte("reply")
	sealedReply, err := relay.EncryptOutbound(reply)
	require.NoError(t, err)
	openedReply, err := client.DecryptInbound(sealedReply)
	require.NoError(t, err)
	require.Equal(t, reply, openedReply)
}
