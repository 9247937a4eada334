// Package identity implements the deterministic EC P-256 identity
// primitives shared by the DHT, secure channel, and onion-circuit
// subsystems: key generation, SHA-256 fingerprints, and ECDSA
// signing.
package identity

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ubinox-pi/anonet-sub000/anerr"
)

// Identity is an immutable EC P-256 key pair plus its derived
// fingerprint and discriminator. Created once from a mnemonic (or
// regenerated on restore), never mutated, and passed explicitly to
// every constructor that needs it.
type Identity struct {
	private *ecdsa.PrivateKey
	public  *ecdsa.PublicKey

	fingerprint   string
	discriminator string
}

// Generate creates a fresh random identity.
func Generate() (*Identity, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, anerr.Crypto(anerr.KeyAgreement, "generate P-256 key", err)
	}
	return fromPrivateKey(priv)
}

// FromScalar builds an identity from an explicit private scalar, used
// by mnemonic-based deterministic derivation.
func FromScalar(scalar *big.Int) (*Identity, error) {
	curve := elliptic.P256()
	x, y := curve.ScalarBaseMult(scalar.Bytes())
	priv := &ecdsa.PrivateKey{
		PublicKey: ecdsa.PublicKey{Curve: curve, X: x, Y: y},
		D:         scalar,
	}
	return fromPrivateKey(priv)
}

func fromPrivateKey(priv *ecdsa.PrivateKey) (*Identity, error) {
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, anerr.Crypto(anerr.KeyAgreement, "marshal public key", err)
	}
	sum := sha256.Sum256(der)
	fp := hex.EncodeToString(sum[:])
	return &Identity{
		private:       priv,
		public:        &priv.PublicKey,
		fingerprint:   fp,
		discriminator: strings.ToUpper(fp[:8]),
	}, nil
}

// PublicKeyDER returns the X.509 SubjectPublicKeyInfo DER encoding of
// the public key, the exact bytes embedded in a PeerAnnouncement.
func (id *Identity) PublicKeyDER() []byte {
	der, _ := x509.MarshalPKIXPublicKey(id.public)
	return der
}

// Fingerprint returns the lowercase hex SHA-256 digest of the public
// key's X.509 DER encoding.
func (id *Identity) Fingerprint() string { return id.fingerprint }

// Discriminator returns the first 8 uppercase hex chars of the
// fingerprint, used for human disambiguation (displayName#DISC).
func (id *Identity) Discriminator() string { return id.discriminator }

// PublicKey exposes the raw EC public key for ECDH/verification use.
func (id *Identity) PublicKey() *ecdsa.PublicKey { return id.public }

// PrivateKey exposes the raw EC private key for ECDH/signing use.
func (id *Identity) PrivateKey() *ecdsa.PrivateKey { return id.private }

// Sign produces an ECDSA signature (ASN.1 DER) over SHA-256(msg).
func (id *Identity) Sign(msg []byte) ([]byte, error) {
	digest := sha256.Sum256(msg)
	sig, err := ecdsa.SignASN1(rand.Reader, id.private, digest[:])
	if err != nil {
		return nil, anerr.Crypto(anerr.Signature, "sign message", err)
	}
	return sig, nil
}

// Verify checks an ECDSA signature (ASN.1 DER) over SHA-256(msg)
// against an arbitrary public key, typically one embedded in a
// received announcement or handshake message.
func Verify(pub *ecdsa.PublicKey, msg, sig []byte) bool {
	digest := sha256.Sum256(msg)
	return ecdsa.VerifyASN1(pub, digest[:], sig)
}

// ParsePublicKeyDER decodes an X.509 SubjectPublicKeyInfo DER blob
// into an EC P-256 public key, rejecting any other key type or curve.
func ParsePublicKeyDER(der []byte) (*ecdsa.PublicKey, error) {
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, anerr.Malformed("parse public key DER", err)
	}
	ecPub, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		return nil, anerr.Malformed(fmt.Sprintf("public key is %T, not ECDSA", pub), nil)
	}
	if ecPub.Curve != elliptic.P256() {
		return nil, anerr.Malformed("public key curve is not P-256", nil)
	}
	return ecPub, nil
}
