package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/dgnsrekt/tabscribe/internal/cdp"
	"github.com/dgnsrekt/tabscribe/internal/protocol"
)

// Status is the recording session state.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusStarting  Status = "starting"
	StatusRecording Status = "recording"
)

// Session is the single recording session.
type Session struct {
	Status   Status `json:"status"`
	TabID    string `json:"tabId,omitempty"`
	TabUUID  string `json:"tabUUID,omitempty"`
	TabTitle string `json:"tabTitle,omitempty"`
	TabURL   string `json:"tabURL,omitempty"`
	StreamID string `json:"streamId,omitempty"`
}

func (s Session) event() protocol.RecordingStatus {
	return protocol.RecordingStatus{
		Type:     protocol.EventRecordingStatus,
		Status:   string(s.Status),
		TabID:    s.TabID,
		TabTitle: s.TabTitle,
		TabUUID:  s.TabUUID,
	}
}

// StartRecording runs the start sequence: resolve the active tab, bring up
// the capture page, acquire a stream and instruct the page to start. The
// session enters recording only when the page acknowledges.
func (o *Orchestrator) StartRecording(ctx context.Context) error {
	o.mu.Lock()
	if o.session.Status != StatusIdle || o.startInFlight {
		o.conns.Broadcast(protocol.Warn("Recording already in progress"))
		o.mu.Unlock()
		return newError(CodeState, "recording already in progress", nil)
	}
	o.startInFlight = true
	o.attempt++
	attempt := o.attempt
	o.conns.Broadcast(protocol.Status("Preparing recording..."))
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		if o.attempt == attempt {
			o.startInFlight = false
		}
		o.mu.Unlock()
	}()

	tab, err := o.tabs.ActiveTab(ctx)
	if err != nil {
		return o.fail(attempt, CodeCapability, "Could not find an active tab to record", err)
	}
	tabUUID := o.identities.Ensure(ctx, tab.ID)

	if err := o.capture.Ensure(ctx); err != nil {
		return o.fail(attempt, CodeCapability, "Could not create capture context", err)
	}
	readyCtx, cancel := context.WithTimeout(ctx, o.readyTimeout)
	err = o.capture.AwaitReady(readyCtx)
	cancel()
	if err != nil {
		return o.fail(attempt, CodeCapability, "Capture context did not become ready", err)
	}

	if !o.step(attempt, func() {
		o.session.Status = StatusStarting
		o.session.TabID = tab.ID
		o.session.TabUUID = tabUUID
		o.session.TabTitle = tab.Title
		o.session.TabURL = tab.URL
		o.conns.Broadcast(o.session.event())
	}) {
		return newError(CodeState, "start superseded", nil)
	}

	streamID, err := o.streams.IssueStream(ctx, tab.ID)
	if err != nil {
		return o.fail(attempt, CodeCapability, "Could not capture the active tab", err)
	}

	var start protocol.StartCapture
	if !o.step(attempt, func() {
		o.session.StreamID = streamID
		start = protocol.StartCapture{
			Type:     protocol.OffscreenStart,
			TabID:    protocol.TabHandle(o.session.TabID),
			TabTitle: o.session.TabTitle,
			TabUUID:  o.session.TabUUID,
			TabURL:   o.session.TabURL,
			StreamID: streamID,
		}
	}) {
		return newError(CodeState, "start superseded", nil)
	}

	if err := o.capture.Send(start); err != nil {
		return o.fail(attempt, CodeCapability, "Failed to start capture", err)
	}

	o.mu.Lock()
	if o.attempt == attempt && o.session.Status == StatusStarting {
		o.armAckLocked(attempt, "start")
	}
	o.mu.Unlock()
	slog.Info("orchestrator: capture requested", "tab_id", tab.ID, "tab_uuid", tabUUID)
	return nil
}

// StopRecording asks the capture page to stop. The session returns to idle
// when the page acknowledges.
func (o *Orchestrator) StopRecording(ctx context.Context) error {
	o.mu.Lock()
	if o.session.Status == StatusIdle {
		o.conns.Broadcast(protocol.Warn("No active recording to stop"))
		o.mu.Unlock()
		return newError(CodeState, "no active recording", nil)
	}
	attempt := o.attempt
	o.conns.Broadcast(protocol.Status("Stopping recording..."))
	o.mu.Unlock()

	if err := o.capture.Ensure(ctx); err != nil {
		return o.fail(attempt, CodeCapability, "Could not reach capture context", err)
	}
	readyCtx, cancel := context.WithTimeout(ctx, o.readyTimeout)
	err := o.capture.AwaitReady(readyCtx)
	cancel()
	if err != nil {
		return o.fail(attempt, CodeCapability, "Capture context did not become ready", err)
	}
	if err := o.capture.Send(protocol.NewStopCapture()); err != nil {
		return o.fail(attempt, CodeCapability, "Failed to stop capture", err)
	}

	o.mu.Lock()
	if o.attempt == attempt && o.session.Status != StatusIdle {
		o.armAckLocked(attempt, "stop")
	}
	o.mu.Unlock()
	return nil
}

// step applies fn under the lock if attempt is still current.
func (o *Orchestrator) step(attempt uint64, fn func()) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.attempt != attempt {
		return false
	}
	fn()
	return true
}

// fail is the single failure path: log, broadcast the error, reset the
// session to idle and broadcast the reset status.
func (o *Orchestrator) fail(attempt uint64, code, text string, cause error) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.attempt != attempt {
		return newError(code, text, cause)
	}
	o.failLocked(code, text, cause)
	return newError(code, text, cause)
}

func (o *Orchestrator) failLocked(code, text string, cause error) {
	slog.Error("orchestrator: recording failed", "code", code, "message", text, "error", cause)
	msg := text
	if cause != nil {
		msg = text + ": " + cause.Error()
	}
	o.conns.Broadcast(protocol.Error(msg))
	o.resetSessionLocked()
}

func (o *Orchestrator) resetSessionLocked() {
	o.stopAckLocked()
	o.attempt++
	o.startInFlight = false
	o.session = Session{Status: StatusIdle}
	o.conns.Broadcast(o.session.event())
}

func (o *Orchestrator) armAckLocked(attempt uint64, phase string) {
	o.stopAckLocked()
	o.ackSeq++
	seq := o.ackSeq
	o.ackTimer = time.AfterFunc(o.ackTimeout, func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		if o.ackSeq != seq || o.attempt != attempt {
			return
		}
		o.ackTimer = nil
		o.failLocked(CodeCapability, "Capture context did not acknowledge "+phase, nil)
	})
}

func (o *Orchestrator) stopAckLocked() {
	if o.ackTimer != nil {
		o.ackTimer.Stop()
		o.ackTimer = nil
	}
	o.ackSeq++
}

// HandleCapture processes a message from the capture page.
func (o *Orchestrator) HandleCapture(msg protocol.OffscreenMessage) {
	switch msg.Type {
	case protocol.OffscreenAudio:
		o.forwardAudio(msg)
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	switch msg.Type {
	case protocol.OffscreenStarted:
		if o.session.Status != StatusStarting {
			slog.Warn("orchestrator: unexpected start acknowledgment", "status", o.session.Status)
			return
		}
		o.stopAckLocked()
		o.session.Status = StatusRecording
		o.conns.Broadcast(protocol.RecordingStarted())
		o.conns.Broadcast(o.session.event())
	case protocol.OffscreenStopped:
		if o.session.Status == StatusIdle {
			return
		}
		o.stopAckLocked()
		o.attempt++
		o.session = Session{Status: StatusIdle}
		o.conns.Broadcast(protocol.RecordingStopped())
		o.conns.Broadcast(o.session.event())
	case protocol.EventError:
		if o.session.Status != StatusIdle || o.startInFlight {
			o.failLocked(CodeCapability, "Capture error", errorText(msg.Text))
			return
		}
		o.conns.Broadcast(protocol.Error(msg.Text))
	case protocol.OffscreenLost:
		if o.session.Status != StatusIdle || o.startInFlight {
			o.failLocked(CodeCapability, "Capture error", errorText(msg.Text))
		}
	case protocol.EventStatus, protocol.EventWarn:
		o.conns.Broadcast(protocol.Notice{Type: msg.Type, Text: msg.Text})
	}
}

type errorText string

func (e errorText) Error() string { return string(e) }

// forwardAudio uploads a finished capture to the host.
func (o *Orchestrator) forwardAudio(msg protocol.OffscreenMessage) {
	upload := msg.Upload()
	if upload.TabUUID == "" && upload.TabID != "" {
		upload.TabUUID = o.identities.Ensure(o.baseCtx, upload.TabID.String())
	}
	err := o.sendHost(o.baseCtx, upload)
	if err != nil {
		slog.Error("orchestrator: audio upload failed", "tab_uuid", upload.TabUUID, "error", err)
		o.mu.Lock()
		o.conns.Broadcast(protocol.Error("Recording could not be sent for transcription: " + msgHostUnavailable))
		o.mu.Unlock()
		return
	}
	o.mu.Lock()
	o.conns.Broadcast(protocol.Status("Audio sent for transcription"))
	o.mu.Unlock()
}

// TabOpened assigns an identity to a newly observed tab.
func (o *Orchestrator) TabOpened(tab cdp.Tab) {
	o.identities.Ensure(o.baseCtx, tab.ID)
}

// TabClosed forgets the tab's identity. If it was the recording tab the
// session's tab context is cleared; the status is left for the capture
// page to resolve through its normal error path.
func (o *Orchestrator) TabClosed(id string) {
	if !o.identities.Remove(o.baseCtx, id) {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session.TabID != id {
		return
	}
	slog.Info("orchestrator: recording tab closed", "tab_id", id, "status", o.session.Status)
	o.session.TabID = ""
	o.session.TabUUID = ""
	o.session.TabTitle = ""
	o.session.TabURL = ""
}
