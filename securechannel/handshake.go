// Package securechannel implements the signed ephemeral ECDH handshake
// and AES-256-GCM sequence-numbered framing used for pairwise
// authenticated, forward-secret transfer, generalizing go-node's
// crypto.go helpers (hkdfBytes, gcm) from a single shared group key to
// a per-pair ephemeral-ECDH-derived session.
package securechannel

import (
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/binary"
	"encoding/hex"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/ubinox-pi/anonet-sub000/anerr"
	"github.com/ubinox-pi/anonet-sub000/identity"
)

const hkdfInfo = "anonet-securechannel-v1"

const (
	aeadKeySize   = 32
	nonceBaseSize = 12
)

// handshakeMessage is the length-prefixed payload each side sends:
// ephemeral_pub_DER || signature || identity_pub_DER, per spec.md
// §4.7 step 1.
type handshakeMessage struct {
	EphemeralPub []byte
	Signature       []byte
	IdentityPubDER  []byte
}

func (m handshakeMessage) encode() []byte {
	var buf []byte
	buf = appendLP(buf, m.EphemeralPub)
	buf = appendLP(buf, m.Signature)
	buf = appendLP(buf, m.IdentityPubDER)
	return buf
}

func appendLP(buf, field []byte) []byte {
	var lb [4]byte
	binary.BigEndian.PutUint32(lb[:], uint32(len(field)))
	buf = append(buf, lb[:]...)
	return append(buf, field...)
}

func readLP(r io.Reader) ([]byte, error) {
	var lb [4]byte
	if _, err := io.ReadFull(r, lb[:]); err != nil {
		return nil, anerr.Protocol("read handshake field length", err)
	}
	n := binary.BigEndian.Uint32(lb[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, anerr.Protocol("read handshake field", err)
	}
	return buf, nil
}

func readHandshakeMessage(r io.Reader) (handshakeMessage, error) {
	ephemeral, err := readLP(r)
	if err != nil {
		return handshakeMessage{}, err
	}
	sig, err := readLP(r)
	if err != nil {
		return handshakeMessage{}, err
	}
	idPub, err := readLP(r)
	if err != nil {
		return handshakeMessage{}, err
	}
	return handshakeMessage{EphemeralPub: ephemeral, Signature: sig, IdentityPubDER: idPub}, nil
}

// Handshake performs the symmetric signed-ephemeral-ECDH exchange over
// rw and returns a ready Channel. If expectedFingerprint is non-empty,
// the peer's identity public key must hash to it — callers that
// already resolved the peer via an Announcement should pass its
// Fingerprint; callers accepting an unauthenticated inbound connection
// pass "" and inspect the returned PeerFingerprint themselves.
func Handshake(rw io.ReadWriter, self *identity.Identity, expectedFingerprint string) (*Channel, error) {
	ephemeralPriv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, anerr.Crypto(anerr.KeyAgreement, "generate ephemeral key", err)
	}
	ephemeralPubBytes, err := x509.MarshalPKIXPublicKey(ephemeralPriv.PublicKey())
	if err != nil {
		return nil, anerr.Crypto(anerr.KeyAgreement, "encode ephemeral key", err)
	}

	sig, err := self.Sign(ephemeralPubBytes)
	if err != nil {
		return nil, err
	}

	out := handshakeMessage{
		EphemeralPub: ephemeralPubBytes,
		Signature:       sig,
		IdentityPubDER:  self.PublicKeyDER(),
	}

	type readResult struct {
		msg handshakeMessage
		err error
	}
	readCh := make(chan readResult, 1)
	go func() {
		msg, err := readHandshakeMessage(rw)
		readCh <- readResult{msg, err}
	}()

	if _, err := rw.Write(out.encode()); err != nil {
		return nil, anerr.Protocol("write handshake message", err)
	}

	result := <-readCh
	if result.err != nil {
		return nil, result.err
	}
	peer := result.msg

	peerIdentityPub, err := identity.ParsePublicKeyDER(peer.IdentityPubDER)
	if err != nil {
		return nil, anerr.Protocol("parse peer identity public key", err)
	}
	if !identity.Verify(peerIdentityPub, peer.EphemeralPub, peer.Signature) {
		return nil, anerr.Crypto(anerr.Signature, "peer handshake signature invalid", nil)
	}
	peerFingerprint := fingerprintOf(peer.IdentityPubDER)
	if expectedFingerprint != "" && peerFingerprint != expectedFingerprint {
		return nil, anerr.Protocol("peer identity fingerprint mismatch", nil)
	}

	peerEphemeralECDSA, err := identity.ParsePublicKeyDER(peer.EphemeralPub)
	if err != nil {
		return nil, anerr.Crypto(anerr.KeyAgreement, "parse peer ephemeral key", err)
	}
	peerEphemeralPub, err := peerEphemeralECDSA.ECDH()
	if err != nil {
		return nil, anerr.Crypto(anerr.KeyAgreement, "convert peer ephemeral key", err)
	}
	shared, err := ephemeralPriv.ECDH(peerEphemeralPub)
	if err != nil {
		return nil, anerr.Crypto(anerr.KeyAgreement, "compute ECDH shared secret", err)
	}

	aeadKey, nonceBase, err := deriveSessionKeys(shared)
	if err != nil {
		return nil, err
	}

	ch, err := newChannel(aeadKey, nonceBase, peerFingerprint)
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func fingerprintOf(pubDER []byte) string {
	sum := sha256.Sum256(pubDER)
	return hex.EncodeToString(sum[:])
}

// deriveSessionKeys runs HKDF-SHA256 over the ECDH shared secret,
// producing the 32-byte AES key and 12-byte nonce base both sides
// derive identically, per spec.md §4.7 step 4.
func deriveSessionKeys(shared []byte) (key []byte, nonceBase [nonceBaseSize]byte, err error) {
	r := hkdf.New(sha256.New, shared, nil, []byte(hkdfInfo))
	key = make([]byte, aeadKeySize)
	if _, err = io.ReadFull(r, key); err != nil {
		return nil, nonceBase, anerr.Crypto(anerr.KeyAgreement, "derive session key", err)
	}
	var base [nonceBaseSize]byte
	if _, err = io.ReadFull(r, base[:]); err != nil {
		return nil, nonceBase, anerr.Crypto(anerr.KeyAgreement, "derive nonce base", err)
	}
	return key, base, nil
}
