package securechannel

import (
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ubinox-pi/anonet-sub000/identity"
)

func handshakePair(t *testing.T) (client, server *Channel) {
	t.Helper()
	clientID, err := identity.Generate()
	require.NoError(t, err)
	serverID, err := identity.Generate()
	require.NoError(t, err)

	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	var wg sync.WaitGroup
	wg.Add(2)
	var clientErr, serverErr error
	go func() {
		defer wg.Done()
		client, clientErr = Handshake(a, clientID, serverID.Fingerprint())
	}()
	go func() {
		defer wg.Done()
		server, serverErr = Handshake(b, serverID, clientID.Fingerprint())
	}()
	wg.Wait()

	require.NoError(t, clientErr)
	require.NoError(t, serverErr)
	return client, server
}

func TestHandshakeDerivesSharedSession(t *testing.T) {
	client, server := handshakePair(t)
	require.NotNil(t, client)
	require.NotNil(t, server)

	msg := []byte("hello over the secure channel")
	frame, err := client.Encrypt(msg)
	require.NoError(t, err)

	got, err := server.Decrypt(frame)
	require.NoError(t, err)
	require.Equal(t, msg, got)
}

func TestHandshakeRejectsFingerprintMismatch(t *testing.T) {
	clientID, err := identity.Generate()
	require.NoError(t, err)
	serverID, err := identity.Generate()
	require.NoError(t, err)
	wrongID, err := identity.Generate()
	require.NoError(t, err)

	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	var wg sync.WaitGroup
	wg.Add(2)
	var clientErr, serverErr error
	go func() {
		defer wg.Done()
		_, clientErr = Handshake(a, clientID, wrongID.Fingerprint())
	}()
	go func() {
		defer wg.Done()
		_, serverErr = Handshake(b, serverID, clientID.Fingerprint())
	}()
	wg.Wait()

	require.Error(t, clientErr)
	require.NoError(t, serverErr)
}

func TestChannelBidirectionalSequences(t *testing.T) {
	client, server := handshakePair(t)

	f1, err := client.Encrypt([]byte("first"))
	require.NoError(t, err)
	f2, err := client.Encrypt([]byte("second"))
	require.NoError(t, err)

	got1, err := server.Decrypt(f1)
	require.NoError(t, err)
	require.Equal(t, []byte("first"), got1)
	got2, err := server.Decrypt(f2)
	require.NoError(t, err)
	require.Equal(t, []byte("second"), got2)

	reply, err := server.Encrypt([]byte("ack"))
	require.NoError(t, err)
	gotReply, err := client.Decrypt(reply)
	require.NoError(t, err)
	require.Equal(t, []byte("ack"), gotReply)
}

func TestChannelRejectsSequenceReplay(t *testing.T) {
	client, server := handshakePair(t)

	frame, err := client.Encrypt([]byte("once"))
	require.NoError(t, err)

	_, err = server.Decrypt(frame)
	require.NoError(t, err)

	_, err = server.Decrypt(frame)
	require.Error(t, err)
}

func TestChannelRejectsTamperedCiphertext(t *testing.T) {
	client, server := handshakePair(t)

	frame, err := client.Encrypt([]byte("integrity matters"))
	require.NoError(t, err)
	frame[10] ^= 0xFF

	_, err = server.Decrypt(frame)
	require.Error(t, err)
}

func TestChannelRejectsUseAfterClose(t *testing.T) {
	client, server := handshakePair(t)
	client.Close()

	_, err := client.Encrypt([]byte("too late"))
	require.Error(t, err)
	require.True(t, client.Closed())

	frame, err := server.Encrypt([]byte("still fine on the other side"))
	require.NoError(t, err)

	_, err = client.Decrypt(frame)
	require.Error(t, err)
}
