// Package dht implements the Kademlia-style UDP wire protocol,
// iterative lookup, announcement publication, and maintenance loop —
// the real implementation of the "future Kademlia" stub the teacher's
// dht.go left as xorDistance/leftPad helpers around a non-Kademlia
// simpleDHT.
package dht

import (
	"encoding/binary"
	"net"

	"github.com/ubinox-pi/anonet-sub000/anerr"
	"github.com/ubinox-pi/anonet-sub000/kademlia"
	"github.com/ubinox-pi/anonet-sub000/nodeid"
)

// Magic identifies an anonet DHT datagram ("ANOD").
const Magic uint32 = 0x414E4F44

// HeaderSize is the fixed header length: magic(4) + type(1) + txn(4) + sender id(20).
const HeaderSize = 29

// MaxPacketSize bounds a single UDP datagram.
const MaxPacketSize = 1400

// MessageType enumerates the DHT wire message kinds.
type MessageType byte

const (
	TypePing       MessageType = 0x01
	TypePong       MessageType = 0x02
	TypeFindNode   MessageType = 0x03
	TypeNodes      MessageType = 0x04
	TypeFindValue  MessageType = 0x05
	TypeValue      MessageType = 0x06
	TypeStore      MessageType = 0x07
	TypeStored     MessageType = 0x08
	TypeAnnounce   MessageType = 0x09
	TypeAnnounced  MessageType = 0x0A
)

// Message is a decoded DHT datagram.
type Message struct {
	Type    MessageType
	TxnID   uint32
	Sender  nodeid.ID
	Payload []byte
}

// Encode serializes the header and payload into a single datagram.
func (m Message) Encode() []byte {
	buf := make([]byte, HeaderSize+len(m.Payload))
	binary.BigEndian.PutUint32(buf[0:4], Magic)
	buf[4] = byte(m.Type)
	binary.BigEndian.PutUint32(buf[5:9], m.TxnID)
	copy(buf[9:29], m.Sender[:])
	copy(buf[HeaderSize:], m.Payload)
	return buf
}

// Decode parses a datagram into a Message, validating the magic and
// minimum length.
func Decode(buf []byte) (Message, error) {
	if len(buf) < HeaderSize {
		return Message{}, anerr.Malformed("datagram shorter than header", nil)
	}
	magic := binary.BigEndian.Uint32(buf[0:4])
	if magic != Magic {
		return Message{}, anerr.Malformed("bad magic", nil)
	}
	sender, err := nodeid.FromBytes(buf[9:29])
	if err != nil {
		return Message{}, err
	}
	return Message{
		Type:    MessageType(buf[4]),
		TxnID:   binary.BigEndian.Uint32(buf[5:9]),
		Sender:  sender,
		Payload: append([]byte(nil), buf[HeaderSize:]...),
	}, nil
}

// EncodeContact renders a contact as the 26-byte wire form: 20-byte
// node id || 4-byte IPv4 || 2-byte port, big-endian.
func EncodeContact(c kademlia.Contact) ([]byte, error) {
	ip4 := c.Addr.To4()
	if ip4 == nil {
		return nil, anerr.Malformed("contact address is not IPv4", nil)
	}
	buf := make([]byte, 26)
	copy(buf[0:20], c.ID[:])
	copy(buf[20:24], ip4)
	binary.BigEndian.PutUint16(buf[24:26], c.Port)
	return buf, nil
}

// DecodeContact parses a 26-byte wire contact.
func DecodeContact(buf []byte) (kademlia.Contact, error) {
	if len(buf) != 26 {
		return kademlia.Contact{}, anerr.Malformed("contact must be 26 bytes", nil)
	}
	id, err := nodeid.FromBytes(buf[0:20])
	if err != nil {
		return kademlia.Contact{}, err
	}
	ip := net.IPv4(buf[20], buf[21], buf[22], buf[23])
	port := binary.BigEndian.Uint16(buf[24:26])
	return kademlia.Contact{ID: id, Addr: ip, Port: port}, nil
}

// EncodeContacts renders a slice of contacts back-to-back.
func EncodeContacts(cs []kademlia.Contact) ([]byte, error) {
	var buf []byte
	for _, c := range cs {
		b, err := EncodeContact(c)
		if err != nil {
			return nil, err
		}
		buf = append(buf, b...)
	}
	return buf, nil
}

// DecodeContacts parses a sequence of 26-byte contacts.
func DecodeContacts(buf []byte) ([]kademlia.Contact, error) {
	if len(buf)%26 != 0 {
		return nil, anerr.Malformed("contacts payload not a multiple of 26 bytes", nil)
	}
	n := len(buf) / 26
	out := make([]kademlia.Contact, 0, n)
	for i := 0; i < n; i++ {
		c, err := DecodeContact(buf[i*26 : (i+1)*26])
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}
