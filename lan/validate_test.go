package lan

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ubinox-pi/anonet-sub000/kademlia"
	"github.com/ubinox-pi/anonet-sub000/nodeid"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakePinger struct {
	allow map[string]bool
}

func (f *fakePinger) Ping(_ context.Context, addr *net.UDPAddr) error {
	if f.allow[addr.String()] {
		return nil
	}
	return context.DeadlineExceeded
}

func TestValidatorPromotesOnlySuccessfulPings(t *testing.T) {
	local := nodeid.FromString("local")
	routing := kademlia.New(local)

	good := nodeid.FromString("good")
	bad := nodeid.FromString("bad")
	goodAddr := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 51820}
	badAddr := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 2), Port: 51820}

	pinger := &fakePinger{allow: map[string]bool{goodAddr.String(): true}}
	v := &Validator{Node: pinger, Routing: routing}

	v.validateOne(context.Background(), Discovered{SenderID: good, Addr: goodAddr}, discardLogger())
	v.validateOne(context.Background(), Discovered{SenderID: bad, Addr: badAddr}, discardLogger())

	contacts := routing.All()
	require.Len(t, contacts, 1)
	require.True(t, contacts[0].ID.Equal(good))
}

func TestValidatorRunDrainsChannelUntilCancel(t *testing.T) {
	local := nodeid.FromString("local")
	routing := kademlia.New(local)
	ch := make(chan Discovered, 1)
	pinger := &fakePinger{allow: map[string]bool{}}
	v := &Validator{Node: pinger, Routing: routing}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		v.Run(ctx, ch)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
