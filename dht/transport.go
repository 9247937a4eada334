package dht

import (
	"context"
	"log/slog"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/ubinox-pi/anonet-sub000/anerr"
)

// QueryTimeout is how long a pending query waits for a response
// before being garbage-collected.
const QueryTimeout = 5 * time.Second

// pendingQuery tracks an in-flight request awaiting a response by
// transaction id.
type pendingQuery struct {
	resultCh chan Message
	created  time.Time
}

// Transport owns the UDP socket, the single reader loop, and the
// pending-query registry that both request/response correlation and
// the iterative lookup's direct future-resolution path share.
type Transport struct {
	conn   *net.UDPConn
	logger *slog.Logger

	mu      sync.Mutex
	pending map[uint32]*pendingQuery

	handler Handler

	closeOnce sync.Once
	closed    chan struct{}
}

// Handler processes an inbound message that isn't a response to a
// pending query (i.e. a request this node must answer).
type Handler interface {
	Handle(from *net.UDPAddr, msg Message)
}

// Listen opens a UDP socket on addr and starts the reader loop.
func Listen(addr string, logger *slog.Logger, handler Handler) (*Transport, error) {
	udpAddr, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return nil, anerr.Unavailable("resolve UDP address", err)
	}
	conn, err := net.ListenUDP("udp4", udpAddr)
	if err != nil {
		return nil, anerr.Unavailable("bind UDP socket", err)
	}
	t := &Transport{
		conn:    conn,
		logger:  logger,
		pending: make(map[uint32]*pendingQuery),
		handler: handler,
		closed:  make(chan struct{}),
	}
	go t.readLoop()
	go t.gcLoop()
	return t, nil
}

// LocalAddr returns the bound local address.
func (t *Transport) LocalAddr() *net.UDPAddr {
	return t.conn.LocalAddr().(*net.UDPAddr)
}

// Close shuts down the socket; the blocked reader observes this and
// exits its loop.
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closed)
		err = t.conn.Close()
	})
	return err
}

func (t *Transport) readLoop() {
	buf := make([]byte, MaxPacketSize)
	for {
		t.conn.SetReadDeadline(time.Now().Add(1 * time.Second))
		n, addr, err := t.conn.ReadFromUDP(buf)
		select {
		case <-t.closed:
			return
		default:
		}
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			continue
		}
		msg, err := Decode(buf[:n])
		if err != nil {
			t.logger.Debug("dropping malformed datagram", "addr", addr, "err", err)
			continue
		}
		if t.resolvePending(msg) {
			continue
		}
		if t.handler != nil {
			go t.handler.Handle(addr, msg)
		}
	}
}

func (t *Transport) resolvePending(msg Message) bool {
	t.mu.Lock()
	pq, ok := t.pending[msg.TxnID]
	if ok {
		delete(t.pending, msg.TxnID)
	}
	t.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case pq.resultCh <- msg:
	default:
	}
	return true
}

func (t *Transport) gcLoop() {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-t.closed:
			return
		case now := <-ticker.C:
			t.mu.Lock()
			for id, pq := range t.pending {
				if now.Sub(pq.created) > QueryTimeout {
					delete(t.pending, id)
					close(pq.resultCh)
				}
			}
			t.mu.Unlock()
		}
	}
}

// Send fires a message at addr without waiting for a response.
func (t *Transport) Send(addr *net.UDPAddr, msg Message) error {
	_, err := t.conn.WriteToUDP(msg.Encode(), addr)
	if err != nil {
		return anerr.Unavailable("send UDP datagram", err)
	}
	return nil
}

// Query sends msg and waits (up to ctx's deadline or QueryTimeout) for
// a reply carrying the same transaction id, registering that id in
// the pending-query registry so a concurrent inbound response
// resolves this call directly rather than via polling.
func (t *Transport) Query(ctx context.Context, addr *net.UDPAddr, msg Message) (Message, error) {
	pq := &pendingQuery{resultCh: make(chan Message, 1), created: time.Now()}
	t.mu.Lock()
	t.pending[msg.TxnID] = pq
	t.mu.Unlock()

	if err := t.Send(addr, msg); err != nil {
		t.mu.Lock()
		delete(t.pending, msg.TxnID)
		t.mu.Unlock()
		return Message{}, err
	}

	select {
	case reply, ok := <-pq.resultCh:
		if !ok {
			return Message{}, anerr.TimedOut("query timed out", nil)
		}
		return reply, nil
	case <-ctx.Done():
		t.mu.Lock()
		delete(t.pending, msg.TxnID)
		t.mu.Unlock()
		return Message{}, anerr.TimedOut("query canceled", ctx.Err())
	case <-time.After(QueryTimeout):
		t.mu.Lock()
		delete(t.pending, msg.TxnID)
		t.mu.Unlock()
		return Message{}, anerr.TimedOut("query timed out", nil)
	}
}

// RegisterTxn exposes the pending-query registry to the iterative
// lookup so replies to FIND_VALUE fanout queries are delivered to the
// lookup's reply handler, which writes a verified VALUE into the store.
func (t *Transport) RegisterTxn() (txnID uint32, resultCh <-chan Message) {
	id := rand.Uint32()
	pq := &pendingQuery{resultCh: make(chan Message, 1), created: time.Now()}
	t.mu.Lock()
	t.pending[id] = pq
	t.mu.Unlock()
	return id, pq.resultCh
}

// NewTxnID returns a fresh random transaction id. Query uses the
// TxnID already set on its message, so callers of Query take it from
// here; RegisterTxn allocates its own.
func NewTxnID() uint32 {
	return rand.Uint32()
}
