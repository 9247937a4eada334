package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSealStateRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.enc")
	in := &State{Mnemonic: "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about", Passphrase: "correct horse"}

	require.NoError(t, SealState(path, []byte("env-pass"), in))

	out, err := OpenState(path, []byte("env-pass"))
	require.NoError(t, err)
	require.Equal(t, in.Mnemonic, out.Mnemonic)
	require.Equal(t, in.Passphrase, out.Passphrase)
}

func TestOpenStateWrongPassphraseFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.enc")
	require.NoError(t, SealState(path, []byte("right"), &State{Mnemonic: "m"}))

	_, err := OpenState(path, []byte("wrong"))
	require.Error(t, err)
}

func TestLoadOrCreateIdentityCreatesThenReloads(t *testing.T) {
	cfg := Default()
	cfg.DataDir = t.TempDir()
	envPass := []byte("env-pass")

	first, err := LoadOrCreateIdentity(cfg, envPass)
	require.NoError(t, err)

	second, err := LoadOrCreateIdentity(cfg, envPass)
	require.NoError(t, err)

	require.Equal(t, first.Fingerprint(), second.Fingerprint())
}
