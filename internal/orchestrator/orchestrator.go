package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dgnsrekt/tabscribe/internal/cdp"
	"github.com/dgnsrekt/tabscribe/internal/hostproc"
	"github.com/dgnsrekt/tabscribe/internal/protocol"
	"github.com/dgnsrekt/tabscribe/internal/relay"
	"github.com/dgnsrekt/tabscribe/internal/tabs"
)

const (
	defaultReadyTimeout = 10 * time.Second
	defaultAckTimeout   = 15 * time.Second
)

// Broadcaster delivers events to UI connections.
type Broadcaster interface {
	Broadcast(evt protocol.UIEvent) int
	SendTo(id int64, evt protocol.UIEvent) error
	Has(id int64) bool
	ClientCount() int
}

// TabResolver finds the tab a recording should capture.
type TabResolver interface {
	ActiveTab(ctx context.Context) (cdp.Tab, error)
}

// StreamIssuer acquires a capture stream identifier for a tab.
type StreamIssuer interface {
	IssueStream(ctx context.Context, tabID string) (string, error)
}

// CaptureContext is the ephemeral page that performs the capture.
type CaptureContext interface {
	Ensure(ctx context.Context) error
	AwaitReady(ctx context.Context) error
	Send(cmd protocol.OffscreenCommand) error
	Ready() bool
}

// Options wires the orchestrator's collaborators.
type Options struct {
	Conns         Broadcaster
	Dialer        hostproc.Dialer
	Tabs          TabResolver
	Streams       StreamIssuer
	Capture       CaptureContext
	Identities    *tabs.Map
	RecordingsDir string
	ReadyTimeout  time.Duration
	AckTimeout    time.Duration
}

// Orchestrator owns the host channel, the recording session and the
// pending request tables. All of that state is guarded by mu; blocking
// work happens outside it.
type Orchestrator struct {
	conns         Broadcaster
	dialer        hostproc.Dialer
	tabs          TabResolver
	streams       StreamIssuer
	capture       CaptureContext
	identities    *tabs.Map
	recordingsDir string
	readyTimeout  time.Duration
	ackTimeout    time.Duration

	// dialMu serializes host establishment so at most one instance exists.
	dialMu sync.Mutex

	mu        sync.Mutex
	hostState HostState
	host      hostproc.Channel
	hostGen   uint64

	session       Session
	startInFlight bool
	attempt       uint64
	ackTimer      *time.Timer
	ackSeq        uint64

	audio   *pendingTable
	history *pendingTable

	baseCtx    context.Context
	baseCancel context.CancelFunc
}

// New builds an orchestrator. Conns, Dialer, Tabs, Streams and Capture are
// required.
func New(opts Options) *Orchestrator {
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = defaultReadyTimeout
	}
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = defaultAckTimeout
	}
	if opts.Identities == nil {
		opts.Identities = tabs.NewMap(nil)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		conns:         opts.Conns,
		dialer:        opts.Dialer,
		tabs:          opts.Tabs,
		streams:       opts.Streams,
		capture:       opts.Capture,
		identities:    opts.Identities,
		recordingsDir: opts.RecordingsDir,
		readyTimeout:  opts.ReadyTimeout,
		ackTimeout:    opts.AckTimeout,
		hostState:     HostAbsent,
		session:       Session{Status: StatusIdle},
		audio:         newPendingTable(kindAudio),
		history:       newPendingTable(kindHistory),
		baseCtx:       ctx,
		baseCancel:    cancel,
	}
}

// Snapshot is a point-in-time view of orchestrator state.
type Snapshot struct {
	Host           HostState `json:"host"`
	Session        Session   `json:"session"`
	StartInFlight  bool      `json:"startInFlight"`
	Connections    int       `json:"connections"`
	PendingAudio   int       `json:"pendingAudio"`
	PendingHistory int       `json:"pendingHistory"`
	CaptureReady   bool      `json:"captureReady"`
}

func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	snap := Snapshot{
		Host:           o.hostState,
		Session:        o.session,
		StartInFlight:  o.startInFlight,
		PendingAudio:   o.audio.len(),
		PendingHistory: o.history.len(),
	}
	o.mu.Unlock()
	snap.Connections = o.conns.ClientCount()
	snap.CaptureReady = o.capture.Ready()
	return snap
}

// Identities exposes the tab identity map.
func (o *Orchestrator) Identities() *tabs.Map { return o.identities }

// Close stops timers and the host channel.
func (o *Orchestrator) Close() {
	o.baseCancel()
	o.mu.Lock()
	o.stopAckLocked()
	host := o.host
	o.mu.Unlock()
	if host != nil {
		_ = host.Close()
	}
}

// ConnOpened sends a new panel the current recording status, plus
// host-ready when the host is up.
func (o *Orchestrator) ConnOpened(c *relay.Conn) {
	o.mu.Lock()
	defer o.mu.Unlock()
	_ = o.conns.SendTo(c.ID(), o.session.event())
	if o.hostState == HostReady {
		_ = o.conns.SendTo(c.ID(), protocol.HostReady())
	}
}

// ConnClosed forgets every pending request owned by the connection.
func (o *Orchestrator) ConnClosed(c *relay.Conn) {
	o.mu.Lock()
	defer o.mu.Unlock()
	a := o.audio.dropOwner(c.ID())
	h := o.history.dropOwner(c.ID())
	if a+h > 0 {
		slog.Debug("orchestrator: dropped pending requests for closed connection", "conn_id", c.ID(), "audio", a, "history", h)
	}
}

// ConnMessage decodes and dispatches one panel command.
func (o *Orchestrator) ConnMessage(c *relay.Conn, data []byte) {
	cmd, err := protocol.DecodeUI(data)
	if err != nil {
		slog.Warn("orchestrator: invalid ui message", "conn_id", c.ID(), "error", err)
		_ = o.conns.SendTo(c.ID(), protocol.Error(newError(CodeValidation, "invalid message", err).Error()))
		return
	}
	o.Dispatch(c.ID(), cmd)
}

// Dispatch runs cmd on behalf of connection connID. Recording commands
// run asynchronously so the connection keeps reading.
func (o *Orchestrator) Dispatch(connID int64, cmd protocol.UICommand) {
	ctx := o.baseCtx
	switch cmd := cmd.(type) {
	case protocol.EnsureHost:
		_, _ = o.EnsureHost(ctx)
	case protocol.StartRecording:
		go func() { _ = o.StartRecording(ctx) }()
	case protocol.StopRecording:
		go func() { _ = o.StopRecording(ctx) }()
	case protocol.OpenRecordingsFolder:
		o.OpenRecordingsFolder(ctx, connID)
	case protocol.OpenSavedFolder:
		o.OpenSavedFolder(ctx, connID, cmd)
	case protocol.RequestAudioPlayback:
		o.RequestAudio(ctx, connID, cmd)
	case protocol.RequestTabHistory:
		o.RequestHistory(ctx, connID, cmd)
	default:
		slog.Warn("orchestrator: unhandled command", "type", cmd.CommandType())
	}
}

// deliverLocked sends evt to its origin connection when still registered
// and broadcasts it otherwise, so a reply is never silently lost.
func (o *Orchestrator) deliverLocked(connID int64, evt protocol.UIEvent) {
	if o.conns.Has(connID) {
		err := o.conns.SendTo(connID, evt)
		if err == nil {
			return
		}
		slog.Debug("orchestrator: targeted delivery failed, broadcasting", "conn_id", connID, "type", evt.EventType(), "error", err)
	}
	o.conns.Broadcast(evt)
}
