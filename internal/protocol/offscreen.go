package protocol

import (
	"encoding/json"
	"fmt"
)

// Messages exchanged with the offscreen capture page.
const (
	OffscreenPing    = "ping"
	OffscreenPong    = "pong"
	OffscreenStart   = "start-recording"
	OffscreenStop    = "stop-recording"
	OffscreenReady   = "offscreen-ready"
	OffscreenClosed  = "offscreen-closed"
	OffscreenAudio   = "audio"
	OffscreenStarted = EventRecordingStarted
	OffscreenStopped = EventRecordingStopped
)

// OffscreenLost is raised locally when the capture page goes away. The page
// never sends it.
const OffscreenLost = "offscreen-lost"

// OffscreenCommand is one of the closed set of messages sent to the capture page.
type OffscreenCommand interface {
	OffscreenType() string
}

type Ping struct {
	Type string `json:"type"`
}

type StartCapture struct {
	Type     string    `json:"type"`
	TabID    TabHandle `json:"tabId"`
	TabTitle string    `json:"tabTitle,omitempty"`
	TabUUID  string    `json:"tabUUID,omitempty"`
	TabURL   string    `json:"tabURL,omitempty"`
	StreamID string    `json:"streamId"`
}

type StopCapture struct {
	Type string `json:"type"`
}

func (Ping) OffscreenType() string         { return OffscreenPing }
func (StartCapture) OffscreenType() string { return OffscreenStart }
func (StopCapture) OffscreenType() string  { return OffscreenStop }

func NewPing() Ping               { return Ping{Type: OffscreenPing} }
func NewStopCapture() StopCapture { return StopCapture{Type: OffscreenStop} }

// OffscreenMessage is an inbound message from the capture page.
type OffscreenMessage struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	Base64   string    `json:"base64,omitempty"`
	TabTitle string    `json:"tabTitle,omitempty"`
	TabUUID  string    `json:"tabUUID,omitempty"`
	TabID    TabHandle `json:"tabId,omitempty"`
	TabURL   string    `json:"tabURL,omitempty"`
}

// DecodeOffscreen parses and validates a capture page message.
func DecodeOffscreen(data []byte) (OffscreenMessage, error) {
	var msg OffscreenMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return OffscreenMessage{}, fmt.Errorf("decode offscreen message: %w", err)
	}
	switch msg.Type {
	case OffscreenReady, OffscreenClosed, OffscreenPong, OffscreenStarted, OffscreenStopped,
		EventStatus, EventWarn, EventError:
		return msg, nil
	case OffscreenAudio:
		if msg.Base64 == "" {
			return OffscreenMessage{}, fmt.Errorf("offscreen audio: empty payload")
		}
		return msg, nil
	case "":
		return OffscreenMessage{}, fmt.Errorf("decode offscreen message: missing type")
	default:
		return OffscreenMessage{}, fmt.Errorf("%w: offscreen %q", ErrUnknownCommand, msg.Type)
	}
}

// Upload converts a captured audio message into the host upload payload.
func (m OffscreenMessage) Upload() AudioUpload {
	return AudioUpload{
		AudioChunk: m.Base64,
		TabTitle:   m.TabTitle,
		TabUUID:    m.TabUUID,
		TabID:      m.TabID,
		TabURL:     m.TabURL,
	}
}
