package securechannel

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"sync"

	"github.com/ubinox-pi/anonet-sub000/anerr"
)

// Channel is a signed-ephemeral-ECDH-derived AES-256-GCM session, per
// spec.md §4.7: one shared aead key and nonce base, independent
// monotonic send/receive sequence counters.
type Channel struct {
	mu sync.Mutex

	aead      cipher.AEAD
	nonceBase [nonceBaseSize]byte

	sendSeq uint64
	// highestRecvSeq is the anti-replay high-water mark: an incoming
	// message's declared sequence must exceed it. Gaps are tolerated
	// (no strict contiguity, per spec.md §4.7), reuse is not.
	highestRecvSeq uint64
	sawFirstRecv   bool

	peerFingerprint string
	closed          bool
}

func newChannel(key []byte, nonceBase [nonceBaseSize]byte, peerFingerprint string) (*Channel, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, anerr.Crypto(anerr.KeyAgreement, "init AES cipher", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, anerr.Crypto(anerr.KeyAgreement, "init AES-GCM", err)
	}
	return &Channel{aead: aead, nonceBase: nonceBase, peerFingerprint: peerFingerprint}, nil
}

// PeerFingerprint returns the fingerprint of the identity key the peer
// presented during the handshake.
func (c *Channel) PeerFingerprint() string { return c.peerFingerprint }

func nonceFor(base [nonceBaseSize]byte, seq uint64) []byte {
	nonce := make([]byte, nonceBaseSize)
	copy(nonce, base[:])
	var sb [8]byte
	binary.BigEndian.PutUint64(sb[:], seq)
	for i := 0; i < 8; i++ {
		nonce[nonceBaseSize-8+i] ^= sb[i]
	}
	return nonce
}

// Encrypt seals plaintext under the next send sequence number,
// producing the wire frame: u32 length || ciphertext+tag || u64 sequence.
func (c *Channel) Encrypt(plaintext []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, anerr.Protocol("channel closed", nil)
	}

	seq := c.sendSeq
	c.sendSeq++

	nonce := nonceFor(c.nonceBase, seq)
	ciphertext := c.aead.Seal(nil, nonce, plaintext, nil)

	frame := make([]byte, 4+len(ciphertext)+8)
	binary.BigEndian.PutUint32(frame[0:4], uint32(len(ciphertext)))
	copy(frame[4:], ciphertext)
	binary.BigEndian.PutUint64(frame[4+len(ciphertext):], seq)
	return frame, nil
}

// Decrypt opens a wire frame produced by Encrypt. Authentication
// failure, sequence reuse, and use-after-close all surface as
// anerr errors per spec.md §4.7's failure modes.
func (c *Channel) Decrypt(frame []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, anerr.Protocol("channel closed", nil)
	}
	if len(frame) < 4+8 {
		return nil, anerr.Malformed("secure channel frame too short", nil)
	}
	n := binary.BigEndian.Uint32(frame[0:4])
	if int(n) != len(frame)-4-8 {
		return nil, anerr.Malformed("secure channel frame length mismatch", nil)
	}
	ciphertext := frame[4 : 4+n]
	seq := binary.BigEndian.Uint64(frame[4+n:])

	if c.sawFirstRecv && seq <= c.highestRecvSeq {
		return nil, anerr.Crypto(anerr.AEAD, "secure channel sequence reuse", nil)
	}

	nonce := nonceFor(c.nonceBase, seq)
	plain, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, anerr.Crypto(anerr.AEAD, "secure channel authentication failed", err)
	}

	if !c.sawFirstRecv || seq > c.highestRecvSeq {
		c.highestRecvSeq = seq
		c.sawFirstRecv = true
	}
	return plain, nil
}

// Close marks the channel closed; subsequent Encrypt/Decrypt calls
// fail.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

// Closed reports whether Close has been called.
func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
