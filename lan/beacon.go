// Package lan implements LAN bootstrap beaconing and the persisted
// node cache, generalizing go-node's discover.go broadcaster/listener
// loops from its encrypted JSON beacon format to spec.md §6's plain
// "ANONET_DHT_BOOTSTRAP|<hex_nodeid>|<dht_port>" string, and its
// peers_autosave.go periodic-persistence idiom for the cached-nodes
// file spec.md §4.6 names as the first bootstrap-priority source.
package lan

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/ubinox-pi/anonet-sub000/nodeid"
)

// BeaconPrefix tags a LAN bootstrap beacon string, per spec.md §4.6/§6.
const BeaconPrefix = "ANONET_DHT_BOOTSTRAP"

// Discovered is a LAN-advertised (ip, port) pair paired with the
// sender's claimed node id. It is NOT yet trusted: spec.md §9 flags
// that an unvalidated beacon can inject arbitrary addresses, so
// SPEC_FULL.md's Open Question resolution requires a PING/PONG
// round-trip (see Validator in validate.go) before promotion into the
// routing table.
type Discovered struct {
	SenderID nodeid.ID
	Addr     *net.UDPAddr
}

func encodeBeacon(self nodeid.ID, dhtPort int) string {
	return fmt.Sprintf("%s|%s|%d", BeaconPrefix, self.String(), dhtPort)
}

func decodeBeacon(s string, localID nodeid.ID) (Discovered, bool) {
	parts := strings.SplitN(strings.TrimSpace(s), "|", 3)
	if len(parts) != 3 || parts[0] != BeaconPrefix {
		return Discovered{}, false
	}
	senderID, err := nodeid.FromHex(parts[1])
	if err != nil || senderID.Equal(localID) {
		return Discovered{}, false
	}
	port, err := strconv.Atoi(parts[2])
	if err != nil || port <= 0 || port > 65535 {
		return Discovered{}, false
	}
	return Discovered{SenderID: senderID, Addr: &net.UDPAddr{Port: port}}, true
}

// Broadcaster periodically broadcasts a bootstrap beacon on every
// non-loopback IPv4 interface, per spec.md §4.6.
type Broadcaster struct {
	Self     nodeid.ID
	DHTPort  int
	Interval time.Duration
	Logger   *slog.Logger
}

// Run broadcasts until ctx is done, binding a fresh broadcast socket
// per interface on each tick (interfaces can come and go).
func (b *Broadcaster) Run(ctx context.Context, beaconPort int) {
	logger := b.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ticker := time.NewTicker(b.Interval)
	defer ticker.Stop()
	payload := []byte(encodeBeacon(b.Self, b.DHTPort))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, bcastIP := range broadcastAddrs() {
				addr := &net.UDPAddr{IP: bcastIP, Port: beaconPort}
				conn, err := net.DialUDP("udp4", nil, addr)
				if err != nil {
					continue
				}
				if _, err := conn.Write(payload); err != nil {
					logger.Debug("beacon broadcast failed", "addr", addr, "err", err)
				}
				conn.Close()
			}
		}
	}
}

// broadcastAddrs returns the IPv4 broadcast address of every
// non-loopback, up interface.
func broadcastAddrs() []net.IP {
	var out []net.IP
	ifaces, err := net.Interfaces()
	if err != nil {
		return out
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			ip4 := ipNet.IP.To4()
			if ip4 == nil {
				continue
			}
			bcast := make(net.IP, 4)
			mask := ipNet.Mask
			for i := range ip4 {
				bcast[i] = ip4[i] | ^mask[i]
			}
			out = append(out, bcast)
		}
	}
	return out
}

// Listener listens for LAN bootstrap beacons on a well-known UDP
// port, producing unvalidated Discovered candidates on a channel.
type Listener struct {
	conn    *net.UDPConn
	localID nodeid.ID
	logger  *slog.Logger
	found   chan Discovered
}

// ListenBeacons binds the LAN beacon listener on bindIP at startPort,
// trying up to 16 consecutive ports from startPort if it is already
// bound, per spec.md §4.6. It returns the port actually bound.
func ListenBeacons(bindIP string, startPort int, localID nodeid.ID, logger *slog.Logger) (*Listener, int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var conn *net.UDPConn
	var port int
	var lastErr error
	for p := startPort; p < startPort+16; p++ {
		addr := &net.UDPAddr{IP: net.ParseIP(bindIP), Port: p}
		c, err := net.ListenUDP("udp4", addr)
		if err == nil {
			conn = c
			port = p
			break
		}
		lastErr = err
	}
	if conn == nil {
		return nil, 0, lastErr
	}
	l := &Listener{conn: conn, localID: localID, logger: logger, found: make(chan Discovered, 64)}
	go l.readLoop()
	return l, port, nil
}

// Discovered yields each validated-format beacon as it arrives. The
// receiver is responsible for PING-validating before promotion.
func (l *Listener) Discovered() <-chan Discovered { return l.found }

// Close stops the listener.
func (l *Listener) Close() error { return l.conn.Close() }

func (l *Listener) readLoop() {
	buf := make([]byte, 512)
	for {
		_ = l.conn.SetReadDeadline(time.Now().Add(1 * time.Second))
		n, src, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return
		}
		d, ok := decodeBeacon(string(buf[:n]), l.localID)
		if !ok {
			continue
		}
		d.Addr.IP = src.IP
		select {
		case l.found <- d:
		default:
		}
	}
}
