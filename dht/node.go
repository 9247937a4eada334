package dht

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/ubinox-pi/anonet-sub000/announce"
	"github.com/ubinox-pi/anonet-sub000/events"
	"github.com/ubinox-pi/anonet-sub000/kademlia"
	"github.com/ubinox-pi/anonet-sub000/nodeid"
)

// K is the fanout used for NODES replies and closest-contact queries.
const K = kademlia.K

// Alpha is the per-round parallelism of iterative lookups.
const Alpha = 3

// Node wires the routing table, announcement store, and UDP transport
// together and implements Handler to answer inbound requests per the
// receiver-behavior table.
type Node struct {
	self      nodeid.ID
	transport *Transport
	routing   *kademlia.RoutingTable
	store     *announce.Store
	events    events.Sink
	logger    *slog.Logger
}

// NewNode creates a node bound to addr with a fresh routing table and
// announcement store.
func NewNode(addr string, self nodeid.ID, logger *slog.Logger, sink events.Sink) (*Node, error) {
	n := &Node{
		self:    self,
		routing: kademlia.New(self),
		store:   announce.NewStore(),
		events:  sink,
		logger:  logger,
	}
	t, err := Listen(addr, logger, n)
	if err != nil {
		return nil, err
	}
	n.transport = t
	go n.maintenanceLoop()
	return n, nil
}

// Self returns the local node id.
func (n *Node) Self() nodeid.ID { return n.self }

// Routing exposes the routing table for bootstrap/lookup collaborators.
func (n *Node) Routing() *kademlia.RoutingTable { return n.routing }

// LocalAddr returns the bound UDP address.
func (n *Node) LocalAddr() *net.UDPAddr { return n.transport.LocalAddr() }

// Close shuts down the node's transport.
func (n *Node) Close() error { return n.transport.Close() }

func (n *Node) registerSender(from *net.UDPAddr, sender nodeid.ID) {
	if sender.Equal(n.self) {
		return
	}
	ip4 := from.IP.To4()
	if ip4 == nil {
		return
	}
	n.routing.AddContact(kademlia.Contact{
		ID:       sender,
		Addr:     ip4,
		Port:     uint16(from.Port),
		LastSeen: time.Now(),
	})
}

// Handle implements Handler, dispatching per spec.md §4.3's receiver
// behavior table.
func (n *Node) Handle(from *net.UDPAddr, msg Message) {
	n.registerSender(from, msg.Sender)

	switch msg.Type {
	case TypePing:
		n.reply(from, msg.TxnID, TypePong, nil)

	case TypeFindNode:
		target, err := nodeid.FromBytes(msg.Payload)
		if err != nil {
			return
		}
		contacts := n.routing.Closest(target, K)
		payload, err := EncodeContacts(contacts)
		if err != nil {
			return
		}
		n.reply(from, msg.TxnID, TypeNodes, payload)

	case TypeFindValue:
		key, err := nodeid.FromBytes(msg.Payload)
		if err != nil {
			return
		}
		if value, ok := n.store.Get(key); ok {
			n.reply(from, msg.TxnID, TypeValue, value)
			return
		}
		contacts := n.routing.Closest(key, K)
		payload, _ := EncodeContacts(contacts)
		n.reply(from, msg.TxnID, TypeNodes, payload)

	case TypeStore:
		if len(msg.Payload) < nodeid.Size {
			return
		}
		key, _ := nodeid.FromBytes(msg.Payload[:nodeid.Size])
		value := msg.Payload[nodeid.Size:]
		ok := n.acceptStore(value)
		if ok {
			n.store.Put(key, value)
		}
		n.reply(from, msg.TxnID, TypeStored, successByte(ok))

	case TypeAnnounce:
		a, err := announce.FromBytes(msg.Payload)
		ok := err == nil && a.Verify()
		username := ""
		if ok {
			wire, _ := a.ToBytes()
			n.store.Put(a.DHTKey(), wire)
			n.store.Put(a.FingerprintKey(), wire)
			username = a.Username
		}
		n.reply(from, msg.TxnID, TypeAnnounced, successByte(ok))
		events.Emit(n.events, events.AnnounceEvent{Username: username, Status: announceStatus(ok), Peers: 0})

	default:
		// Unknown types are dropped.
	}
}

// acceptStore implements the Open Question resolution in
// SPEC_FULL.md §9: STORE values must parse and verify as a
// PeerAnnouncement.
func (n *Node) acceptStore(value []byte) bool {
	a, err := announce.FromBytes(value)
	if err != nil {
		return false
	}
	return a.Verify()
}

func (n *Node) reply(to *net.UDPAddr, txnID uint32, typ MessageType, payload []byte) {
	msg := Message{Type: typ, TxnID: txnID, Sender: n.self, Payload: payload}
	_ = n.transport.Send(to, msg)
}

func successByte(ok bool) []byte {
	if ok {
		return []byte{1}
	}
	return []byte{0}
}

func announceStatus(ok bool) string {
	if ok {
		return "accepted"
	}
	return "rejected"
}

// Ping sends a PING and waits for PONG.
func (n *Node) Ping(ctx context.Context, addr *net.UDPAddr) error {
	_, err := n.transport.Query(ctx, addr, Message{Type: TypePing, TxnID: NewTxnID(), Sender: n.self})
	return err
}

// FindNode sends FIND_NODE(target) and returns the NODES reply.
func (n *Node) FindNode(ctx context.Context, addr *net.UDPAddr, target nodeid.ID) ([]kademlia.Contact, error) {
	reply, err := n.transport.Query(ctx, addr, Message{Type: TypeFindNode, TxnID: NewTxnID(), Sender: n.self, Payload: target.Bytes()})
	if err != nil {
		return nil, err
	}
	if reply.Type != TypeNodes {
		return nil, nil
	}
	return DecodeContacts(reply.Payload)
}
