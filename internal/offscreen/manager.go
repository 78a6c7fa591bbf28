package offscreen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gobwas/ws"

	"github.com/dgnsrekt/tabscribe/internal/protocol"
	"github.com/dgnsrekt/tabscribe/internal/relay"
)

var (
	ErrNotAttached = errors.New("capture page not attached")
	ErrNoInstance  = errors.New("capture page not created")
)

// PageOpener creates and closes the browser page hosting the capture context.
type PageOpener interface {
	OpenPage(ctx context.Context, url string) (string, error)
	ClosePage(ctx context.Context, id string) error
}

// Manager keeps at most one capture page alive and tracks its readiness.
// The page connects back over a websocket and announces itself with
// offscreen-ready.
type Manager struct {
	opener PageOpener
	url    string
	nextID atomic.Int64

	mu        sync.Mutex
	pageID    string
	exists    bool
	ready     bool
	readyCh   chan struct{}
	conn      *relay.Conn
	onMessage func(protocol.OffscreenMessage)
}

func NewManager(opener PageOpener, url string) *Manager {
	return &Manager{
		opener:  opener,
		url:     url,
		readyCh: make(chan struct{}),
	}
}

// SetHandler registers the receiver for capture messages other than the
// readiness handshake.
func (m *Manager) SetHandler(fn func(protocol.OffscreenMessage)) {
	m.mu.Lock()
	m.onMessage = fn
	m.mu.Unlock()
}

// Ensure creates the capture page if none exists. If one exists but has
// not announced itself, it is probed with a ping; a failed probe is not an
// error since the page will announce itself when it loads.
func (m *Manager) Ensure(ctx context.Context) error {
	m.mu.Lock()
	if m.exists {
		ready := m.ready
		m.mu.Unlock()
		if !ready {
			if err := m.Send(protocol.NewPing()); err != nil {
				slog.Debug("offscreen: probe failed, waiting for announce", "error", err)
			}
		}
		return nil
	}
	m.exists = true
	m.ready = false
	m.readyCh = make(chan struct{})
	m.mu.Unlock()

	id, err := m.opener.OpenPage(ctx, m.url)
	if err != nil {
		m.mu.Lock()
		m.exists = false
		m.mu.Unlock()
		return fmt.Errorf("create capture page: %w", err)
	}
	m.mu.Lock()
	m.pageID = id
	m.mu.Unlock()
	return nil
}

// AwaitReady returns once the current page has announced readiness or ctx
// ends. A page that misses the deadline is discarded so the next Ensure
// opens a fresh one.
func (m *Manager) AwaitReady(ctx context.Context) error {
	m.mu.Lock()
	if !m.exists {
		m.mu.Unlock()
		return ErrNoInstance
	}
	ch := m.readyCh
	m.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			m.discard(ch)
		}
		return fmt.Errorf("capture page not ready: %w", ctx.Err())
	}
}

// discard drops the instance still waiting on ch.
func (m *Manager) discard(ch chan struct{}) {
	m.mu.Lock()
	if m.ready || m.readyCh != ch {
		m.mu.Unlock()
		return
	}
	id := m.pageID
	conn := m.conn
	m.resetLocked()
	m.mu.Unlock()

	slog.Warn("offscreen: capture page never became ready, discarding", "page_id", id)
	if conn != nil {
		conn.Close()
	}
	m.closePage(id)
}

// Ready reports whether the capture page has announced itself.
func (m *Manager) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ready
}

// Send delivers cmd to the attached capture page.
func (m *Manager) Send(cmd protocol.OffscreenCommand) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return ErrNotAttached
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	return conn.Enqueue(data)
}

// Close tears down the capture page.
func (m *Manager) Close(ctx context.Context) {
	m.mu.Lock()
	id := m.pageID
	conn := m.conn
	m.resetLocked()
	m.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if id != "" {
		if err := m.opener.ClosePage(ctx, id); err != nil {
			slog.Debug("offscreen: close page failed", "page_id", id, "error", err)
		}
	}
}

func (m *Manager) markReady(c *relay.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ready || m.conn != c {
		return
	}
	m.exists = true
	m.ready = true
	close(m.readyCh)
	slog.Info("offscreen: capture page ready", "page_id", m.pageID)
}

// resetLocked forgets the current instance so the next Ensure recreates it.
func (m *Manager) resetLocked() {
	m.exists = false
	m.ready = false
	m.pageID = ""
	m.conn = nil
	m.readyCh = make(chan struct{})
}

func (m *Manager) attach(c *relay.Conn) {
	m.mu.Lock()
	old := m.conn
	m.conn = c
	m.exists = true
	if old != nil && m.ready {
		m.ready = false
		m.readyCh = make(chan struct{})
	}
	m.mu.Unlock()
	if old != nil {
		old.Close()
	}
}

func (m *Manager) detach(c *relay.Conn) {
	m.mu.Lock()
	if m.conn != c {
		m.mu.Unlock()
		return
	}
	id := m.pageID
	slog.Info("offscreen: capture page disconnected", "page_id", id)
	m.resetLocked()
	m.mu.Unlock()

	m.closePage(id)
	m.lost("Capture page disconnected")
}

func (m *Manager) closePage(id string) {
	if id == "" {
		return
	}
	go func() {
		if err := m.opener.ClosePage(context.Background(), id); err != nil {
			slog.Debug("offscreen: close page failed", "page_id", id, "error", err)
		}
	}()
}

// lost tells the handler the page went away so an active recording can
// fail instead of waiting forever.
func (m *Manager) lost(text string) {
	m.mu.Lock()
	fn := m.onMessage
	m.mu.Unlock()
	if fn != nil {
		fn(protocol.OffscreenMessage{Type: protocol.OffscreenLost, Text: text})
	}
}

func (m *Manager) handle(c *relay.Conn, data []byte) {
	msg, err := protocol.DecodeOffscreen(data)
	if err != nil {
		slog.Warn("offscreen: dropping message", "error", err)
		return
	}

	m.mu.Lock()
	current := m.conn == c
	fn := m.onMessage
	m.mu.Unlock()
	if !current {
		slog.Debug("offscreen: ignoring message from replaced page", "conn_id", c.ID(), "type", msg.Type)
		return
	}

	switch msg.Type {
	case protocol.OffscreenReady, protocol.OffscreenPong:
		m.markReady(c)
		return
	case protocol.OffscreenClosed:
		m.mu.Lock()
		current = m.conn == c
		if current {
			m.resetLocked()
		}
		m.mu.Unlock()
		if !current {
			return
		}
		slog.Info("offscreen: capture page closed")
		c.Close()
		m.lost("Capture page closed")
		return
	}

	if fn != nil {
		fn(msg)
	}
}

// Handler serves the websocket the capture page connects to.
func (m *Manager) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		netConn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			slog.Warn("offscreen: websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
			return
		}
		c := relay.NewConn(m.nextID.Add(1), r.RemoteAddr)
		m.attach(c)
		slog.Debug("offscreen: capture page attached", "conn_id", c.ID())

		go func() {
			relay.Serve(netConn, c, func(data []byte) {
				m.handle(c, data)
			})
			m.detach(c)
		}()
	}
}
