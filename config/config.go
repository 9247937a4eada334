// Package config implements the outermost CLI/process shell around
// the core: flag-parsed ports and bootstrap settings, plus an
// encrypted local identity-state file. spec.md §6 calls the CLI
// surface "none within the core"; this package is exactly that
// outside-the-core collaborator, grounded on go-node's config.go/
// main.go flag wiring.
package config

import (
	"flag"
	"time"
)

// Default ports, per spec.md §6. Only the LAN beacon listener
// (lan.ListenBeacons) probes the next ports when its port is already
// bound; the DHT socket and the relay listener bind exactly the
// configured port.
const (
	DefaultDHTPort      = 51820
	DefaultTransferPort = 51821
	DefaultBeaconPort   = 51819
	DefaultRelayPort    = 51823

	DefaultAnnounceInterval = 5 * time.Minute
	DefaultBeaconInterval   = 5 * time.Second
)

// Config holds the flag-parsed process configuration.
type Config struct {
	DataDir string

	DHTPort      int
	TransferPort int
	BeaconPort   int
	RelayPort    int

	BindIP string

	AnnounceInterval time.Duration
	BeaconInterval   time.Duration

	BootstrapSeeds stringList
	Username       string

	EnvPassEnvVar string
}

// stringList implements flag.Value to accept a repeatable
// -bootstrap=host:port flag.
type stringList []string

func (s *stringList) String() string {
	if s == nil {
		return ""
	}
	return joinComma(*s)
}

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func joinComma(items []string) string {
	out := ""
	for i, it := range items {
		if i > 0 {
			out += ","
		}
		out += it
	}
	return out
}

// Default returns a Config populated with the package defaults, the
// way go-node's defaultConfig() seeds its Config before flag parsing.
func Default() *Config {
	return &Config{
		DataDir:          defaultDataDir(),
		DHTPort:          DefaultDHTPort,
		TransferPort:     DefaultTransferPort,
		BeaconPort:       DefaultBeaconPort,
		RelayPort:        DefaultRelayPort,
		AnnounceInterval: DefaultAnnounceInterval,
		BeaconInterval:   DefaultBeaconInterval,
		EnvPassEnvVar:    "ANONET_ENV_PASS",
	}
}

// RegisterFlags binds cfg's fields onto fs, mirroring go-node's
// main.go flag.IntVar/flag.StringVar wiring.
func (cfg *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "directory holding identity.enc and the node cache")
	fs.IntVar(&cfg.DHTPort, "dht-port", cfg.DHTPort, "UDP port for the Kademlia DHT transport")
	fs.IntVar(&cfg.TransferPort, "transfer-port", cfg.TransferPort, "advertised file-transfer port candidate")
	fs.IntVar(&cfg.BeaconPort, "beacon-port", cfg.BeaconPort, "UDP port for the LAN bootstrap beacon")
	fs.IntVar(&cfg.RelayPort, "relay-port", cfg.RelayPort, "TCP port for the onion relay server")
	fs.StringVar(&cfg.BindIP, "bind", cfg.BindIP, "bind IP for DHT/relay sockets (default: wildcard)")
	fs.DurationVar(&cfg.AnnounceInterval, "announce-interval", cfg.AnnounceInterval, "re-announce period")
	fs.DurationVar(&cfg.BeaconInterval, "beacon-interval", cfg.BeaconInterval, "LAN beacon broadcast period")
	fs.StringVar(&cfg.Username, "username", cfg.Username, "display name announced to the DHT (identity discriminator is appended automatically)")
	fs.Var(&cfg.BootstrapSeeds, "bootstrap", "host:port DHT bootstrap seed (repeatable)")
}
