package onion

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/binary"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/ubinox-pi/anonet-sub000/anerr"
)

// hkdfSalt is the fixed salt spec.md §3 mandates for onion key
// derivation, distinguishing it from the secure channel's own HKDF use.
const hkdfSalt = "anonet-onion-v1"

const (
	infoForwardKey     = "onion-forward-key"
	infoBackwardKey    = "onion-backward-key"
	infoForwardDigest  = "onion-forward-digest"
	infoBackwardDigest = "onion-backward-digest"
)

// keySize is the AES-256 key length; nonceBaseSize matches the
// secure channel's 12-byte GCM nonce base so both subsystems share
// one XOR-counter nonce scheme.
const (
	keySize      = 32
	nonceBaseSize = 12
)

func deriveMaterial(sharedSecret []byte, info string, n int) ([]byte, error) {
	r := hkdf.New(sha256.New, sharedSecret, []byte(hkdfSalt), []byte(info))
	out := make([]byte, n)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, anerr.Crypto(anerr.KeyAgreement, "derive onion key material", err)
	}
	return out, nil
}

// Crypto is a single hop's forward/backward AES-GCM key schedule,
// derived from an ECDH shared secret. Per spec.md §3, the initiator
// assigns forward=fwd/backward=bwd while the responder (the relay
// that shares this secret) swaps the assignment, so that both sides'
// generic Outbound/Inbound operations line up on the same wire key
// regardless of role.
type Crypto struct {
	outKey  []byte
	inKey   []byte
	outBase [nonceBaseSize]byte
	inBase  [nonceBaseSize]byte

	outCounter uint64
	inCounter  uint64
}

// NewCrypto derives a hop's key schedule from an ECDH shared secret.
// initiator is true for the circuit-building client side, false for
// the relay side of a CREATE/CREATED exchange.
func NewCrypto(sharedSecret []byte, initiator bool) (*Crypto, error) {
	fwdKey, err := deriveMaterial(sharedSecret, infoForwardKey, keySize)
	if err != nil {
		return nil, err
	}
	bwdKey, err := deriveMaterial(sharedSecret, infoBackwardKey, keySize)
	if err != nil {
		return nil, err
	}
	fwdBase, err := deriveMaterial(sharedSecret, infoForwardDigest, nonceBaseSize)
	if err != nil {
		return nil, err
	}
	bwdBase, err := deriveMaterial(sharedSecret, infoBackwardDigest, nonceBaseSize)
	if err != nil {
		return nil, err
	}

	c := &Crypto{}
	if initiator {
		c.outKey, c.inKey = fwdKey, bwdKey
		copy(c.outBase[:], fwdBase)
		copy(c.inBase[:], bwdBase)
	} else {
		c.outKey, c.inKey = bwdKey, fwdKey
		copy(c.outBase[:], bwdBase)
		copy(c.inBase[:], fwdBase)
	}
	return c, nil
}

func nonceFor(base [nonceBaseSize]byte, counter uint64) []byte {
	nonce := make([]byte, nonceBaseSize)
	copy(nonce, base[:])
	var cb [8]byte
	binary.BigEndian.PutUint64(cb[:], counter)
	for i := 0; i < 8; i++ {
		nonce[nonceBaseSize-8+i] ^= cb[i]
	}
	return nonce
}

func aeadFor(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, anerr.Crypto(anerr.KeyAgreement, "init AES cipher", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, anerr.Crypto(anerr.KeyAgreement, "init AES-GCM", err)
	}
	return aead, nil
}

// EncryptOutbound seals plaintext with this side's outbound key and
// monotonic counter, advancing the counter.
func (c *Crypto) EncryptOutbound(plaintext []byte) ([]byte, error) {
	aead, err := aeadFor(c.outKey)
	if err != nil {
		return nil, err
	}
	nonce := nonceFor(c.outBase, c.outCounter)
	c.outCounter++
	return aead.Seal(nil, nonce, plaintext, nil), nil
}

// DecryptInbound opens ciphertext with this side's inbound key and
// monotonic counter, advancing the counter. An authentication failure
// surfaces as anerr.CryptoFailure(AEAD).
func (c *Crypto) DecryptInbound(ciphertext []byte) ([]byte, error) {
	aead, err := aeadFor(c.inKey)
	if err != nil {
		return nil, err
	}
	nonce := nonceFor(c.inBase, c.inCounter)
	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, anerr.Crypto(anerr.AEAD, "onion layer authentication failed", err)
	}
	c.inCounter++
	return plain, nil
}

// TagOverhead is the fixed per-layer AES-GCM tag size.
const TagOverhead = 16
