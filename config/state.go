package config

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"os"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/ubinox-pi/anonet-sub000/anerr"
	"github.com/ubinox-pi/anonet-sub000/identity"
)

// stateMagic tags the encrypted identity-state file, per SPEC_FULL.md
// §6.1's "ANET1" header.
var stateMagic = []byte("ANET1")

// Argon2id parameters, matching go-node's env_encrypt.go kdf() tuning
// (m=64MiB, t=2, p=1) scaled to the 32-byte XChaCha20-Poly1305 key
// size SPEC_FULL.md §6.1 specifies.
const (
	argonTime    = 2
	argonMemory  = 64 * 1024
	argonThreads = 1
	argonKeyLen  = 32
	saltSize     = 16
)

// State is the node's persisted secret material: the BIP-39 mnemonic
// identity was derived from, plus the passphrase used at derivation
// time (empty string is valid and is itself the passphrase).
type State struct {
	Mnemonic   string `json:"mnemonic"`
	Passphrase string `json:"passphrase"`
}

// SealState encrypts state into path: MAGIC || salt(16) || nonce(24)
// || u32_be(len) || ciphertext, Argon2id-derived XChaCha20-Poly1305,
// directly modeled on go-node's env_encrypt.go sealEnvSecrets.
func SealState(path string, envPass []byte, state *State) error {
	plain, err := json.Marshal(state)
	if err != nil {
		return anerr.Malformed("marshal identity state", err)
	}
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return anerr.Unavailable("generate identity state salt", err)
	}
	key := argon2.IDKey(envPass, salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return anerr.Crypto(anerr.AEAD, "build identity state cipher", err)
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return anerr.Unavailable("generate identity state nonce", err)
	}
	ct := aead.Seal(nil, nonce, plain, nil)

	out := make([]byte, 0, len(stateMagic)+saltSize+len(nonce)+4+len(ct))
	out = append(out, stateMagic...)
	out = append(out, salt...)
	out = append(out, nonce...)
	var lbuf [4]byte
	binary.BigEndian.PutUint32(lbuf[:], uint32(len(plain)))
	out = append(out, lbuf[:]...)
	out = append(out, ct...)
	return os.WriteFile(path, out, 0600)
}

// OpenState decrypts path with envPass, the mirror of SealState.
func OpenState(path string, envPass []byte) (*State, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	minLen := len(stateMagic) + saltSize + chacha20poly1305.NonceSizeX + 4
	if len(b) < minLen {
		return nil, anerr.Malformed("identity state file too short", nil)
	}
	if string(b[:len(stateMagic)]) != string(stateMagic) {
		return nil, anerr.Malformed("bad identity state magic", nil)
	}
	off := len(stateMagic)
	salt := b[off : off+saltSize]
	off += saltSize
	nonce := b[off : off+chacha20poly1305.NonceSizeX]
	off += chacha20poly1305.NonceSizeX
	off += 4 // length prefix, not needed to locate ciphertext end
	ct := b[off:]

	key := argon2.IDKey(envPass, salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, anerr.Crypto(anerr.AEAD, "build identity state cipher", err)
	}
	plain, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, anerr.Crypto(anerr.AEAD, "decrypt identity state (wrong passphrase?)", err)
	}
	var state State
	if err := json.Unmarshal(plain, &state); err != nil {
		return nil, anerr.Malformed("parse identity state", err)
	}
	return &state, nil
}

// LoadOrCreateIdentity opens the encrypted identity state at
// cfg.IdentityStatePath(), deriving the node's Identity from its
// stored mnemonic. If no state file exists, it generates a fresh
// mnemonic, derives the identity from it, and seals it under envPass.
func LoadOrCreateIdentity(cfg *Config, envPass []byte) (*identity.Identity, error) {
	path := cfg.IdentityStatePath()
	if _, err := os.Stat(path); err == nil {
		state, err := OpenState(path, envPass)
		if err != nil {
			return nil, err
		}
		return identity.FromMnemonic(state.Mnemonic, state.Passphrase)
	}

	if err := cfg.EnsureDataDir(); err != nil {
		return nil, anerr.Unavailable("create data directory", err)
	}
	mnemonic, err := identity.NewMnemonic()
	if err != nil {
		return nil, err
	}
	id, err := identity.FromMnemonic(mnemonic, "")
	if err != nil {
		return nil, err
	}
	if err := SealState(path, envPass, &State{Mnemonic: mnemonic}); err != nil {
		return nil, err
	}
	return id, nil
}
