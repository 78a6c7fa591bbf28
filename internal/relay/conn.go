package relay

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

const (
	connBufSize = 256
	writeWait   = 10 * time.Second
)

var (
	ErrConnClosed = errors.New("connection closed")
	ErrBufferFull = errors.New("connection send buffer full")
)

// Conn is one websocket peer. Outbound frames are queued and written in
// order by a single writer goroutine.
type Conn struct {
	id     int64
	remote string

	mu     sync.Mutex
	closed bool
	send   chan []byte
	done   chan struct{}
}

// NewConn builds an unregistered connection.
func NewConn(id int64, remote string) *Conn {
	return &Conn{
		id:     id,
		remote: remote,
		send:   make(chan []byte, connBufSize),
		done:   make(chan struct{}),
	}
}

func (c *Conn) ID() int64      { return c.id }
func (c *Conn) Remote() string { return c.remote }

// Done is closed once the connection is closed.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Enqueue queues a frame without blocking.
func (c *Conn) Enqueue(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrBufferFull
	}
}

// Close marks the connection closed; queued frames are discarded. A
// connection being served has its socket closed as well.
func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
}

// Serve pumps frames between rw and c until either side closes. Each
// inbound text frame is passed to onMessage on the calling goroutine.
func Serve(rw io.ReadWriteCloser, c *Conn, onMessage func([]byte)) {
	defer c.Close()
	defer rw.Close()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		writePump(rw, c)
	}()
	go func() {
		<-c.done
		rw.Close()
	}()

	for {
		data, op, err := wsutil.ReadClientData(rw)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				var closed wsutil.ClosedError
				if !errors.As(err, &closed) {
					slog.Debug("relay: read loop exit", "conn_id", c.id, "error", err)
				}
			}
			break
		}
		if op != ws.OpText {
			continue
		}
		onMessage(data)
	}

	c.Close()
	<-writerDone
}

func writePump(w io.Writer, c *Conn) {
	for {
		select {
		case data := <-c.send:
			if dl, ok := w.(interface{ SetWriteDeadline(time.Time) error }); ok {
				_ = dl.SetWriteDeadline(time.Now().Add(writeWait))
			}
			if err := wsutil.WriteServerText(w, data); err != nil {
				slog.Debug("relay: write failed", "conn_id", c.id, "error", err)
				c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}
