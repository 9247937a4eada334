package config

import (
	"os"
	"path/filepath"
)

// defaultDataDir returns the cross-platform default data directory
// (~/.anonet), mirroring go-node's initStorageEnv() home-directory
// resolution.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".anonet"
	}
	return filepath.Join(home, ".anonet")
}

// IdentityStatePath is the path to the encrypted identity/mnemonic
// blob under cfg.DataDir.
func (cfg *Config) IdentityStatePath() string {
	return filepath.Join(cfg.DataDir, "identity.enc")
}

// NodeCachePath is the path to the persisted bootstrap node cache,
// the first-priority bootstrap source per spec.md §4.6.
func (cfg *Config) NodeCachePath() string {
	return filepath.Join(cfg.DataDir, "nodes.json")
}

// EnsureDataDir creates cfg.DataDir (and any parents) if missing.
func (cfg *Config) EnsureDataDir() error {
	return os.MkdirAll(cfg.DataDir, 0700)
}
