// Command anonetd is the process entrypoint wiring identity, DHT,
// LAN bootstrap, secure-channel, and onion-circuit/relay subsystems
// together, grounded on go-node's main.go flag-parse -> construct ->
// serve -> block-forever shape.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ubinox-pi/anonet-sub000/announce"
	"github.com/ubinox-pi/anonet-sub000/config"
	"github.com/ubinox-pi/anonet-sub000/dht"
	"github.com/ubinox-pi/anonet-sub000/events"
	"github.com/ubinox-pi/anonet-sub000/identity"
	"github.com/ubinox-pi/anonet-sub000/lan"
	"github.com/ubinox-pi/anonet-sub000/nodeid"
	"github.com/ubinox-pi/anonet-sub000/relay"
)

func main() {
	cfg := config.Default()
	cfg.RegisterFlags(flag.CommandLine)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	envPass := os.Getenv(cfg.EnvPassEnvVar)
	if envPass == "" {
		log.Fatalf("identity passphrase missing: set %s", cfg.EnvPassEnvVar)
	}

	id, err := config.LoadOrCreateIdentity(cfg, []byte(envPass))
	if err != nil {
		log.Fatalf("identity: %v", err)
	}
	logger.Info("identity loaded", "fingerprint", id.Fingerprint(), "discriminator", id.Discriminator())

	self := nodeid.FromString(id.Fingerprint())
	sink := events.NewSink(256)
	go logEvents(logger, sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dhtAddr := fmt.Sprintf("%s:%d", cfg.BindIP, cfg.DHTPort)
	node, err := dht.NewNode(dhtAddr, self, logger.With("component", "dht"), sink)
	if err != nil {
		log.Fatalf("dht listen: %v", err)
	}
	defer node.Close()
	logger.Info("dht listening", "addr", node.LocalAddr())

	relayAddr := fmt.Sprintf("%s:%d", cfg.BindIP, cfg.RelayPort)
	listener, err := net.Listen("tcp", relayAddr)
	if err != nil {
		log.Fatalf("relay listen: %v", err)
	}
	relaySrv := relay.NewServer(listener, id, logger.With("component", "relay"), sink)
	go func() {
		if err := relaySrv.Serve(); err != nil {
			logger.Error("relay server stopped", "err", err)
		}
	}()
	logger.Info("relay listening", "addr", listener.Addr())

	beaconListener, beaconPort, err := lan.ListenBeacons(cfg.BindIP, cfg.BeaconPort, self, logger.With("component", "lan"))
	if err != nil {
		logger.Warn("lan beacon listener unavailable", "err", err)
	} else {
		defer beaconListener.Close()
		validator := &lan.Validator{Node: node, Routing: node.Routing(), Logger: logger.With("component", "lan")}
		go validator.Run(ctx, beaconListener.Discovered())

		broadcaster := &lan.Broadcaster{Self: self, DHTPort: cfg.DHTPort, Interval: cfg.BeaconInterval, Logger: logger.With("component", "lan")}
		go broadcaster.Run(ctx, beaconPort)
	}

	cachePath := cfg.NodeCachePath()
	cached := lan.LoadCache(cachePath)
	node.BootstrapFromContacts(ctx, cached)
	for _, seed := range cfg.BootstrapSeeds {
		if addr, err := net.ResolveUDPAddr("udp", seed); err == nil {
			node.Bootstrap(ctx, []*net.UDPAddr{addr})
		}
	}
	stop := make(chan struct{})
	defer close(stop)
	go lan.AutoSave(stop, cachePath, node.Routing(), time.Minute)

	if cfg.Username != "" {
		go runAnnounceLoop(ctx, node, id, cfg, logger)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")
}

func logEvents(logger *slog.Logger, sink events.Sink) {
	for e := range sink {
		logger.Info(e.Format(), "kind", e.Kind())
	}
}

// runAnnounceLoop publishes a fresh PeerAnnouncement every
// cfg.AnnounceInterval, per spec.md §4.5.
func runAnnounceLoop(ctx context.Context, node *dht.Node, id *identity.Identity, cfg *config.Config, logger *slog.Logger) {
	ports := []uint16{uint16(cfg.TransferPort)}
	full := cfg.Username + "#" + id.Discriminator()
	ticker := time.NewTicker(cfg.AnnounceInterval)
	defer ticker.Stop()

	publish := func() {
		a, err := announce.New(id, full, ports, time.Now().UnixMilli())
		if err != nil {
			logger.Error("build announcement", "err", err)
			return
		}
		if err := node.Announce(a); err != nil {
			logger.Error("publish announcement", "err", err)
		}
	}

	publish()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			publish()
		}
	}
}
