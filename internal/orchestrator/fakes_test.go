package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dgnsrekt/tabscribe/internal/cdp"
	"github.com/dgnsrekt/tabscribe/internal/hostproc"
	"github.com/dgnsrekt/tabscribe/internal/protocol"
	"github.com/dgnsrekt/tabscribe/internal/tabs"
)

// fakeConns records events per connection.
type fakeConns struct {
	mu     sync.Mutex
	open   map[int64]bool
	events map[int64][]protocol.UIEvent
}

func newFakeConns(ids ...int64) *fakeConns {
	f := &fakeConns{open: make(map[int64]bool), events: make(map[int64][]protocol.UIEvent)}
	for _, id := range ids {
		f.open[id] = true
	}
	return f
}

func (f *fakeConns) Broadcast(evt protocol.UIEvent) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for id, ok := range f.open {
		if ok {
			f.events[id] = append(f.events[id], evt)
			n++
		}
	}
	return n
}

func (f *fakeConns) SendTo(id int64, evt protocol.UIEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.open[id] {
		return errors.New("closed")
	}
	f.events[id] = append(f.events[id], evt)
	return nil
}

func (f *fakeConns) Has(id int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open[id]
}

func (f *fakeConns) ClientCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.open)
}

func (f *fakeConns) close(id int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.open, id)
}

func (f *fakeConns) of(id int64) []protocol.UIEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.UIEvent(nil), f.events[id]...)
}

func (f *fakeConns) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = make(map[int64][]protocol.UIEvent)
}

func countType(events []protocol.UIEvent, typ string) int {
	n := 0
	for _, e := range events {
		if e.EventType() == typ {
			n++
		}
	}
	return n
}

func lastStatus(events []protocol.UIEvent) string {
	for i := len(events) - 1; i >= 0; i-- {
		if rs, ok := events[i].(protocol.RecordingStatus); ok {
			return rs.Status
		}
	}
	return ""
}

// fakeChannel is a host channel whose traffic the test drives directly.
type fakeChannel struct {
	mu      sync.Mutex
	sent    []protocol.HostCommand
	sendErr error
	closed  bool
	h       hostproc.Handlers
}

func (c *fakeChannel) Send(cmd protocol.HostCommand) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, cmd)
	return nil
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeChannel) commands() []protocol.HostCommand {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.HostCommand(nil), c.sent...)
}

func (c *fakeChannel) reply(t *testing.T, msg map[string]any) {
	t.Helper()
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}
	c.h.OnMessage(data)
}

func (c *fakeChannel) disconnect(err error) {
	c.h.OnDisconnect(err)
}

type fakeDialer struct {
	mu       sync.Mutex
	dials    int
	err      error
	channels []*fakeChannel
}

func (d *fakeDialer) Dial(_ context.Context, h hostproc.Handlers) (hostproc.Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.err != nil {
		return nil, d.err
	}
	ch := &fakeChannel{h: h}
	d.channels = append(d.channels, ch)
	return ch, nil
}

func (d *fakeDialer) last() *fakeChannel {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.channels) == 0 {
		return nil
	}
	return d.channels[len(d.channels)-1]
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

type fakeTabs struct {
	tab cdp.Tab
	err error
}

func (f *fakeTabs) ActiveTab(context.Context) (cdp.Tab, error) { return f.tab, f.err }

type fakeStreams struct {
	err error
}

func (f *fakeStreams) IssueStream(_ context.Context, tabID string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return tabID + ":stream", nil
}

type fakeCapture struct {
	mu        sync.Mutex
	ensureErr error
	readyErr  error
	sendErr   error
	sent      []protocol.OffscreenCommand
	onAwait   func()
}

func (f *fakeCapture) Ensure(context.Context) error { return f.ensureErr }

func (f *fakeCapture) AwaitReady(context.Context) error {
	if f.onAwait != nil {
		f.onAwait()
	}
	return f.readyErr
}

func (f *fakeCapture) Send(cmd protocol.OffscreenCommand) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, cmd)
	return nil
}

func (f *fakeCapture) Ready() bool { return f.readyErr == nil }

func (f *fakeCapture) commands() []protocol.OffscreenCommand {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.OffscreenCommand(nil), f.sent...)
}

type harness struct {
	o       *Orchestrator
	conns   *fakeConns
	dialer  *fakeDialer
	tabs    *fakeTabs
	streams *fakeStreams
	capture *fakeCapture
}

func newHarness(t *testing.T, connIDs ...int64) *harness {
	t.Helper()
	if len(connIDs) == 0 {
		connIDs = []int64{1}
	}
	h := &harness{
		conns:   newFakeConns(connIDs...),
		dialer:  &fakeDialer{},
		tabs:    &fakeTabs{tab: cdp.Tab{ID: "T1", Title: "Meeting", URL: "https://meet.example/abc"}},
		streams: &fakeStreams{},
		capture: &fakeCapture{},
	}
	h.o = New(Options{
		Conns:         h.conns,
		Dialer:        h.dialer,
		Tabs:          h.tabs,
		Streams:       h.streams,
		Capture:       h.capture,
		Identities:    tabs.NewMap(nil),
		RecordingsDir: "/data/recordings",
		ReadyTimeout:  time.Second,
		AckTimeout:    5 * time.Second,
	})
	t.Cleanup(h.o.Close)
	return h
}

func (h *harness) status() Status {
	return h.o.Snapshot().Session.Status
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func cdpTab(id string) cdp.Tab { return cdp.Tab{ID: id, Title: id, URL: "https://example.com/" + id} }
