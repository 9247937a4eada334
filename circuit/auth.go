package circuit

import (
	"encoding/binary"
	"io"
	"net"
	"time"

	"github.com/ubinox-pi/anonet-sub000/anerr"
	"github.com/ubinox-pi/anonet-sub000/identity"
)

// ChallengeSize is the length of the relay's random authentication
// challenge, per spec.md §4.9/§4.10.
const ChallengeSize = 32

// EncodeAuthResponse renders the client's challenge-response reply:
// u32 sig_len || sig || u32 key_len || key. Exported so the relay
// server (which verifies the same wire format) can share this codec.
func EncodeAuthResponse(sig, identityPubDER []byte) []byte {
	buf := make([]byte, 0, 8+len(sig)+len(identityPubDER))
	var sl, kl [4]byte
	binary.BigEndian.PutUint32(sl[:], uint32(len(sig)))
	binary.BigEndian.PutUint32(kl[:], uint32(len(identityPubDER)))
	buf = append(buf, sl[:]...)
	buf = append(buf, sig...)
	buf = append(buf, kl[:]...)
	buf = append(buf, identityPubDER...)
	return buf
}

// ReadAuthResponse parses the wire format EncodeAuthResponse produces
// off r.
func ReadAuthResponse(r io.Reader) (sig, identityPubDER []byte, err error) {
	var sl [4]byte
	if _, err = io.ReadFull(r, sl[:]); err != nil {
		return nil, nil, anerr.Protocol("read auth signature length", err)
	}
	sig = make([]byte, binary.BigEndian.Uint32(sl[:]))
	if _, err = io.ReadFull(r, sig); err != nil {
		return nil, nil, anerr.Protocol("read auth signature", err)
	}
	var kl [4]byte
	if _, err = io.ReadFull(r, kl[:]); err != nil {
		return nil, nil, anerr.Protocol("read auth key length", err)
	}
	identityPubDER = make([]byte, binary.BigEndian.Uint32(kl[:]))
	if _, err = io.ReadFull(r, identityPubDER); err != nil {
		return nil, nil, anerr.Protocol("read auth key", err)
	}
	return sig, identityPubDER, nil
}

// AuthenticateAsClient performs the client side of the relay's
// challenge-response authentication: read a 32-byte challenge, sign
// it with self's identity key, and reply. Exported so the relay
// server can reuse it when extending a circuit to a further hop on
// the client's behalf.
func AuthenticateAsClient(conn net.Conn, self *identity.Identity) error {
	_ = conn.SetReadDeadline(time.Now().Add(CellTimeout))
	defer conn.SetReadDeadline(time.Time{})

	challenge := make([]byte, ChallengeSize)
	if _, err := io.ReadFull(conn, challenge); err != nil {
		return anerr.Unavailable("read relay auth challenge", err)
	}
	sig, err := self.Sign(challenge)
	if err != nil {
		return err
	}
	if _, err := conn.Write(EncodeAuthResponse(sig, self.PublicKeyDER())); err != nil {
		return anerr.Unavailable("write relay auth response", err)
	}
	return nil
}
