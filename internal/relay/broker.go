package relay

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/dgnsrekt/tabscribe/internal/protocol"
)

// ErrUnknownConn is returned by SendTo when the target is no longer registered.
var ErrUnknownConn = errors.New("connection not registered")

// Broker tracks open UI connections and fans events out to them.
type Broker struct {
	mu     sync.RWMutex
	conns  map[int64]*Conn
	nextID atomic.Int64
}

// NewBroker creates an empty connection broker.
func NewBroker() *Broker {
	return &Broker{
		conns: make(map[int64]*Conn),
	}
}

// Open allocates a connection with a fresh ID and registers it.
func (b *Broker) Open(remote string) *Conn {
	c := NewConn(b.nextID.Add(1), remote)
	b.Register(c)
	return c
}

// Register adds a connection to the active set.
func (b *Broker) Register(c *Conn) {
	b.mu.Lock()
	b.conns[c.ID()] = c
	n := len(b.conns)
	b.mu.Unlock()
	slog.Debug("relay: connection registered", "conn_id", c.ID(), "remote", c.Remote(), "clients", n)
}

// Unregister removes a connection and closes its outbound queue.
func (b *Broker) Unregister(id int64) {
	b.mu.Lock()
	c, ok := b.conns[id]
	if ok {
		delete(b.conns, id)
	}
	n := len(b.conns)
	b.mu.Unlock()
	if ok {
		c.Close()
		slog.Debug("relay: connection unregistered", "conn_id", id, "clients", n)
	}
}

// Broadcast delivers evt to every connection registered at call time and
// returns how many accepted it. A closed or saturated connection is skipped.
func (b *Broker) Broadcast(evt protocol.UIEvent) int {
	data, err := json.Marshal(evt)
	if err != nil {
		slog.Error("relay: marshal broadcast", "type", evt.EventType(), "error", err)
		return 0
	}

	b.mu.RLock()
	targets := make([]*Conn, 0, len(b.conns))
	for _, c := range b.conns {
		targets = append(targets, c)
	}
	b.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		if err := c.Enqueue(data); err != nil {
			slog.Debug("relay: broadcast skipped connection", "conn_id", c.ID(), "type", evt.EventType(), "error", err)
			continue
		}
		delivered++
	}
	return delivered
}

// SendTo delivers evt to a single registered connection.
func (b *Broker) SendTo(id int64, evt protocol.UIEvent) error {
	b.mu.RLock()
	c, ok := b.conns[id]
	b.mu.RUnlock()
	if !ok {
		return ErrUnknownConn
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return c.Enqueue(data)
}

// Has reports whether id is currently registered.
func (b *Broker) Has(id int64) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.conns[id]
	return ok
}

// ClientCount returns the number of registered connections.
func (b *Broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.conns)
}
