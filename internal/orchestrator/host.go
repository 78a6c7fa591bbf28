package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dgnsrekt/tabscribe/internal/hostproc"
	"github.com/dgnsrekt/tabscribe/internal/protocol"
)

// HostState is the lifecycle state of the host channel.
type HostState string

const (
	HostAbsent     HostState = "absent"
	HostConnecting HostState = "connecting"
	HostReady      HostState = "ready"
)

const (
	msgHostUnavailable  = "Native host unavailable"
	msgHostDisconnected = "Native host disconnected"
)

var errHostUnavailable = newError(CodeConnection, msgHostUnavailable, nil)

// EnsureHost returns the live host channel, establishing one if none
// exists. On failure the channel stays absent and an error is broadcast.
func (o *Orchestrator) EnsureHost(ctx context.Context) (hostproc.Channel, error) {
	o.dialMu.Lock()
	defer o.dialMu.Unlock()

	o.mu.Lock()
	if o.hostState != HostAbsent {
		host := o.host
		o.mu.Unlock()
		return host, nil
	}
	o.hostGen++
	gen := o.hostGen
	o.hostState = HostConnecting
	o.mu.Unlock()

	host, err := o.dialer.Dial(ctx, hostproc.Handlers{
		OnMessage:    func(data []byte) { o.handleHostMessage(gen, data) },
		OnDisconnect: func(err error) { o.handleHostDisconnect(gen, err) },
	})

	o.mu.Lock()
	defer o.mu.Unlock()
	if err != nil {
		if o.hostGen == gen {
			o.hostState = HostAbsent
		}
		slog.Error("orchestrator: host connect failed", "error", err)
		o.conns.Broadcast(protocol.Error("Failed to connect to native host: " + err.Error()))
		return nil, newError(CodeConnection, "connect to native host", err)
	}
	if o.hostGen != gen || o.hostState == HostAbsent {
		// Disconnected before Dial returned.
		go func() { _ = host.Close() }()
		return nil, errHostUnavailable
	}
	o.host = host
	slog.Info("orchestrator: host channel established", "host_gen", gen)
	return host, nil
}

// handleHostMessage demultiplexes one inbound host frame: correlated
// replies go to their origin, the first frame marks the channel ready, and
// anything with a type or text is rebroadcast.
func (o *Orchestrator) handleHostMessage(gen uint64, data []byte) {
	msg, err := protocol.DecodeHost(data)
	if err != nil {
		slog.Warn("orchestrator: dropping host frame", "error", err)
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if gen != o.hostGen || o.hostState == HostAbsent {
		return
	}

	if msg.Correlated() && msg.RequestID != "" {
		table := o.history
		if msg.AudioReply() {
			table = o.audio
		}
		if p, ok := table.resolve(msg.RequestID); ok {
			o.deliverLocked(p.connID, msg.Reply(p.clientRequestID))
			return
		}
		// An orphan reply is relayed but does not count as the host's first message.
		slog.Debug("orchestrator: reply for unknown request, broadcasting", "type", msg.Type, "request_id", msg.RequestID)
		o.conns.Broadcast(msg.Reply(msg.RequestID))
		return
	}

	if o.hostState != HostReady {
		o.hostState = HostReady
		slog.Info("orchestrator: host ready", "host_gen", gen)
		o.conns.Broadcast(protocol.HostReady())
	}

	if msg.HasContent() {
		o.conns.Broadcast(msg.Notice())
	}
}

// handleHostDisconnect tears the channel down and fails every pending
// request so no panel waits forever.
func (o *Orchestrator) handleHostDisconnect(gen uint64, cause error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if gen != o.hostGen || o.hostState == HostAbsent {
		return
	}
	o.hostState = HostAbsent
	o.host = nil
	slog.Warn("orchestrator: host disconnected", "host_gen", gen, "error", cause)

	for _, p := range o.history.drain() {
		o.deliverLocked(p.connID, protocol.TabHistoryFailure(p.clientRequestID, p.tabUUID, msgHostDisconnected))
	}
	for _, p := range o.audio.drain() {
		o.deliverLocked(p.connID, protocol.AudioFileFailure(p.clientRequestID, msgHostDisconnected))
	}

	if o.session.Status != StatusIdle || o.startInFlight {
		o.conns.Broadcast(protocol.Warn("Native host disconnected; capture continues but audio will not be transcribed until it reconnects"))
	}
	o.conns.Broadcast(protocol.Status(msgHostDisconnected))
}

// sendHostLocked forwards cmd to the host when connecting or ready.
func (o *Orchestrator) sendHostLocked(cmd protocol.HostCommand) error {
	if o.hostState == HostAbsent || o.host == nil {
		return errHostUnavailable
	}
	if err := o.host.Send(cmd); err != nil {
		slog.Error("orchestrator: send to host failed", "command", cmd.HostCommandName(), "error", err)
		o.conns.Broadcast(protocol.Error("Failed to send to native host: " + err.Error()))
		return newError(CodeTransport, "send to native host", err)
	}
	return nil
}

// sendHost ensures a channel exists and forwards cmd to it.
func (o *Orchestrator) sendHost(ctx context.Context, cmd protocol.HostCommand) error {
	if _, err := o.EnsureHost(ctx); err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sendHostLocked(cmd)
}

// OpenRecordingsFolder asks the host to reveal the recordings directory.
func (o *Orchestrator) OpenRecordingsFolder(ctx context.Context, connID int64) error {
	err := o.sendHost(ctx, protocol.OpenRecordingsFolderCommand{
		Command:   protocol.HostOpenRecordingsFolder,
		OutputDir: o.recordingsDir,
	})
	if errors.Is(err, errHostUnavailable) {
		_ = o.conns.SendTo(connID, protocol.Error(msgHostUnavailable))
	}
	return err
}

// OpenSavedFolder asks the host to reveal one recording's folder.
func (o *Orchestrator) OpenSavedFolder(ctx context.Context, connID int64, cmd protocol.OpenSavedFolder) error {
	path, err := resolveSavedFolder(o.recordingsDir, cmd.FolderPath)
	if err != nil {
		_ = o.conns.SendTo(connID, protocol.Error("Cannot open folder: "+err.Error()))
		return newError(CodeValidation, "invalid folder path", err)
	}
	err = o.sendHost(ctx, protocol.OpenFolderCommand{Command: protocol.HostOpenFolder, Path: path})
	if errors.Is(err, errHostUnavailable) {
		_ = o.conns.SendTo(connID, protocol.Error(msgHostUnavailable))
	}
	return err
}

// RequestAudio issues a correlated load-audio-file request. The reply, or
// an immediate failure, reaches only connID.
func (o *Orchestrator) RequestAudio(ctx context.Context, connID int64, cmd protocol.RequestAudioPlayback) {
	id := uuid.NewString()
	clientID := cmd.RequestID
	if clientID == "" {
		clientID = id
	}

	if _, err := o.EnsureHost(ctx); err != nil {
		_ = o.conns.SendTo(connID, protocol.AudioFileFailure(clientID, msgHostUnavailable))
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	err := o.sendHostLocked(protocol.LoadAudioFileCommand{
		Command:   protocol.HostLoadAudioFile,
		RequestID: id,
		Path:      cmd.AudioPath,
		TabTitle:  cmd.TabTitle,
		MimeType:  cmd.MimeType,
	})
	if err != nil {
		_ = o.conns.SendTo(connID, protocol.AudioFileFailure(clientID, msgHostUnavailable))
		return
	}
	o.audio.add(pendingRequest{
		id:              id,
		kind:            kindAudio,
		connID:          connID,
		clientRequestID: clientID,
		path:            cmd.AudioPath,
		issuedAt:        time.Now(),
	})
}

// RequestHistory issues a correlated load-tab-history request.
func (o *Orchestrator) RequestHistory(ctx context.Context, connID int64, cmd protocol.RequestTabHistory) {
	id := uuid.NewString()
	clientID := cmd.RequestID
	if clientID == "" {
		clientID = id
	}

	tabUUID := cmd.TabUUID
	if tabUUID == "" {
		tabUUID = o.identities.Ensure(ctx, cmd.TabID.String())
	}
	outputDir := cmd.OutputDir
	if outputDir == "" {
		outputDir = o.recordingsDir
	}

	if _, err := o.EnsureHost(ctx); err != nil {
		_ = o.conns.SendTo(connID, protocol.TabHistoryFailure(clientID, tabUUID, msgHostUnavailable))
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	err := o.sendHostLocked(protocol.LoadTabHistoryCommand{
		Command:            protocol.HostLoadTabHistory,
		RequestID:          id,
		TabUUID:            tabUUID,
		TabID:              cmd.TabID,
		TabTitle:           cmd.TabTitle,
		IncludeTranscripts: cmd.Transcripts(),
		Limit:              cmd.Limit,
		OutputDir:          outputDir,
	})
	if err != nil {
		_ = o.conns.SendTo(connID, protocol.TabHistoryFailure(clientID, tabUUID, msgHostUnavailable))
		return
	}
	o.history.add(pendingRequest{
		id:              id,
		kind:            kindHistory,
		connID:          connID,
		clientRequestID: clientID,
		tabUUID:         tabUUID,
		issuedAt:        time.Now(),
	})
}
