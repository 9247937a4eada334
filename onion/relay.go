package onion

import (
	"encoding/binary"

	"github.com/ubinox-pi/anonet-sub000/anerr"
)

// RelayCommand enumerates the inner RELAY payload's command byte.
type RelayCommand byte

const (
	RelayBegin     RelayCommand = 0x01
	RelayData      RelayCommand = 0x02
	RelayEnd       RelayCommand = 0x03
	RelayConnected RelayCommand = 0x04
	RelayExtend    RelayCommand = 0x05
	RelayExtended  RelayCommand = 0x06
	RelayDrop      RelayCommand = 0x07
)

// relayHeaderSize is relay_cmd(1) + reserved(2) + stream_id(2) +
// digest(4) + data_len(2), per spec.md §4.8.
const relayHeaderSize = 11

// Hops is the default and maximum circuit depth: three hops per
// spec.md §4.9. PlaintextCapacity reserves tag room for this many
// layers, so shorter circuits also fit.
const Hops = 3

// lenPrefixSize is a plaintext u16 prepended to the payload's
// encrypted region, naming how many of the following bytes are live
// AES-GCM ciphertext versus trailing zero padding. Reconciling
// spec.md §4.8's fixed 509-byte payload with §3's per-hop AES-GCM
// OnionCrypto requires this: each peeled layer shrinks the ciphertext
// by TagOverhead bytes, and a relay forwarding a still-wrapped cell
// has no other way to know where its successor's real ciphertext ends
// and zero padding begins. It sits outside every hop's AEAD input
// (each hop only ever seals/opens the ciphertext region it names), so
// it carries no authenticity burden of its own — a tampered length
// either points GCM.Open at the wrong bytes (and the tag check fails)
// or is irrelevant padding-boundary noise.
const lenPrefixSize = 2

// PlaintextCapacity is the size of the innermost RELAY payload before
// any hop encryption is applied: the full post-prefix budget minus
// Hops worth of AES-GCM tags, so that Hops rounds of EncryptOutbound
// land exactly on the 509-byte payload boundary.
const PlaintextCapacity = PayloadSize - lenPrefixSize - Hops*TagOverhead

// MaxRelayData is the largest data chunk a single RELAY_DATA cell can
// carry after the fixed relay header.
const MaxRelayData = PlaintextCapacity - relayHeaderSize

// RelayPayload is the decoded inner RELAY structure carried, once
// fully peeled, inside a RELAY cell.
type RelayPayload struct {
	Command  RelayCommand
	StreamID uint16
	Data     []byte
}

// EncodeRelayPayload renders a RelayPayload into the fixed
// PlaintextCapacity-byte innermost buffer (zero-padded), per spec.md
// §4.8: u8 relay_cmd || u16 reserved || u16 stream_id || u32 digest ||
// u16 data_len || data || zero padding. The digest field is always
// zero: per SPEC_FULL.md §4.8, per-hop AEAD tags now carry the
// authenticity job the original digest field did.
func EncodeRelayPayload(p RelayPayload) ([]byte, error) {
	if len(p.Data) > MaxRelayData {
		return nil, anerr.Malformed("relay data exceeds capacity", nil)
	}
	buf := make([]byte, PlaintextCapacity)
	buf[0] = byte(p.Command)
	binary.BigEndian.PutUint16(buf[3:5], p.StreamID)
	binary.BigEndian.PutUint16(buf[9:11], uint16(len(p.Data)))
	copy(buf[relayHeaderSize:], p.Data)
	return buf, nil
}

// DecodeRelayPayload parses a fully-peeled PlaintextCapacity-byte
// innermost buffer back into a RelayPayload.
func DecodeRelayPayload(buf []byte) (RelayPayload, error) {
	if len(buf) != PlaintextCapacity {
		return RelayPayload{}, anerr.Malformed("relay payload has wrong length", nil)
	}
	dataLen := binary.BigEndian.Uint16(buf[9:11])
	if int(dataLen) > MaxRelayData {
		return RelayPayload{}, anerr.Malformed("relay payload data_len exceeds capacity", nil)
	}
	data := append([]byte(nil), buf[relayHeaderSize:relayHeaderSize+int(dataLen)]...)
	return RelayPayload{
		Command:  RelayCommand(buf[0]),
		StreamID: binary.BigEndian.Uint16(buf[3:5]),
		Data:     data,
	}, nil
}

// EncodeEnvelope packs a ciphertext (plus trailing zero padding up to
// PayloadSize) behind its plaintext length prefix, producing the
// exact 509-byte RELAY cell payload.
func EncodeEnvelope(ciphertext []byte) ([]byte, error) {
	if lenPrefixSize+len(ciphertext) > PayloadSize {
		return nil, anerr.Malformed("onion ciphertext too large for payload", nil)
	}
	buf := make([]byte, PayloadSize)
	binary.BigEndian.PutUint16(buf[0:lenPrefixSize], uint16(len(ciphertext)))
	copy(buf[lenPrefixSize:], ciphertext)
	return buf, nil
}

// DecodeEnvelope extracts the live ciphertext region from a
// PayloadSize-byte RELAY cell payload, per its plaintext length
// prefix.
func DecodeEnvelope(payload []byte) ([]byte, error) {
	if len(payload) != PayloadSize {
		return nil, anerr.Malformed("onion payload must be 509 bytes", nil)
	}
	n := binary.BigEndian.Uint16(payload[0:lenPrefixSize])
	if lenPrefixSize+int(n) > PayloadSize {
		return nil, anerr.Malformed("onion envelope length prefix out of range", nil)
	}
	return payload[lenPrefixSize : lenPrefixSize+int(n)], nil
}

// WrapOutbound layers plaintext (a PlaintextCapacity-byte encoded
// RelayPayload) through hops in the order given — per spec.md §4.9
// "innermost hop first, outermost hop last" — returning a 509-byte
// envelope ready to place in a RELAY cell addressed to the first hop
// on the wire (hops[len(hops)-1], the outermost/guard hop).
func WrapOutbound(plaintext []byte, hops []*Crypto) ([]byte, error) {
	if len(plaintext) != PlaintextCapacity {
		return nil, anerr.Malformed("onion plaintext must be PlaintextCapacity bytes", nil)
	}
	buf := plaintext
	for _, h := range hops {
		sealed, err := h.EncryptOutbound(buf)
		if err != nil {
			return nil, err
		}
		buf = sealed
	}
	return EncodeEnvelope(buf)
}

// PeelOneLayer removes exactly one hop's encryption from a
// PayloadSize-byte RELAY cell payload, returning a fresh
// PayloadSize-byte envelope (re-prefixed and re-padded) ready either
// to forward to the next hop, or — once its contained ciphertext
// length equals PlaintextCapacity — to decode directly as the final
// RelayPayload.
func PeelOneLayer(payload []byte, hop *Crypto) ([]byte, error) {
	ciphertext, err := DecodeEnvelope(payload)
	if err != nil {
		return nil, err
	}
	plain, err := hop.DecryptInbound(ciphertext)
	if err != nil {
		return nil, err
	}
	return EncodeEnvelope(plain)
}

// IsFinalLayer reports whether a peeled PayloadSize-byte envelope
// holds the innermost plaintext (no further hop decryption needed).
func IsFinalLayer(payload []byte) (bool, []byte, error) {
	inner, err := DecodeEnvelope(payload)
	if err != nil {
		return false, nil, err
	}
	return len(inner) == PlaintextCapacity, inner, nil
}

// WrapOneLayer adds exactly one hop's encryption to a PayloadSize-byte
// envelope, the mirror of PeelOneLayer. A relay forwarding a reply
// backward along a circuit calls this with its own Crypto so the
// client's corresponding PeelOneLayer (applied outermost-hop-first, as
// Circuit.ReceiveRelay does) recovers the original layering.
func WrapOneLayer(payload []byte, hop *Crypto) ([]byte, error) {
	plain, err := DecodeEnvelope(payload)
	if err != nil {
		return nil, err
	}
	sealed, err := hop.EncryptOutbound(plain)
	if err != nil {
		return nil, err
	}
	return EncodeEnvelope(sealed)
}
