package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Commands understood by the transcription host.
const (
	HostOpenRecordingsFolder = "open-recordings-folder"
	HostOpenFolder           = "open-folder"
	HostLoadAudioFile        = "load-audio-file"
	HostLoadTabHistory       = "load-tab-history"
)

// HostCommand is one of the closed set of payloads written to the host.
type HostCommand interface {
	HostCommandName() string
}

// AudioUpload carries one captured recording for transcription.
type AudioUpload struct {
	AudioChunk string    `json:"audioChunk"`
	TabTitle   string    `json:"tabTitle,omitempty"`
	TabUUID    string    `json:"tabUUID,omitempty"`
	TabID      TabHandle `json:"tabId,omitempty"`
	TabURL     string    `json:"tabURL,omitempty"`
}

type OpenRecordingsFolderCommand struct {
	Command   string `json:"command"`
	OutputDir string `json:"outputDir,omitempty"`
}

type OpenFolderCommand struct {
	Command string `json:"command"`
	Path    string `json:"path"`
}

type LoadAudioFileCommand struct {
	Command   string `json:"command"`
	RequestID string `json:"requestId"`
	Path      string `json:"path"`
	TabTitle  string `json:"tabTitle,omitempty"`
	MimeType  string `json:"mimeType,omitempty"`
}

type LoadTabHistoryCommand struct {
	Command            string    `json:"command"`
	RequestID          string    `json:"requestId"`
	TabUUID            string    `json:"tabUUID"`
	TabID              TabHandle `json:"tabId,omitempty"`
	TabTitle           string    `json:"tabTitle,omitempty"`
	IncludeTranscripts bool      `json:"includeTranscripts"`
	Limit              *int      `json:"limit,omitempty"`
	OutputDir          string    `json:"outputDir,omitempty"`
}

func (AudioUpload) HostCommandName() string                   { return "audio" }
func (c OpenRecordingsFolderCommand) HostCommandName() string { return c.Command }
func (c OpenFolderCommand) HostCommandName() string           { return c.Command }
func (c LoadAudioFileCommand) HostCommandName() string        { return c.Command }
func (c LoadTabHistoryCommand) HostCommandName() string       { return c.Command }

// HostMessage is an inbound message from the host. The host speaks a loose
// dialect: every field is optional and unknown fields are ignored.
type HostMessage struct {
	Type       string          `json:"type,omitempty"`
	Text       string          `json:"text,omitempty"`
	RequestID  string          `json:"requestId,omitempty"`
	TabUUID    string          `json:"tabUUID,omitempty"`
	Path       string          `json:"path,omitempty"`
	MimeType   string          `json:"mimeType,omitempty"`
	Base64     string          `json:"base64,omitempty"`
	Entries    json.RawMessage `json:"entries,omitempty"`
	SavedPaths json.RawMessage `json:"savedPaths,omitempty"`
}

var errNotObject = errors.New("host message is not a JSON object")

// DecodeHost parses a host frame. Only JSON objects are accepted.
func DecodeHost(data []byte) (HostMessage, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return HostMessage{}, errNotObject
	}
	var msg HostMessage
	if err := json.Unmarshal(trimmed, &msg); err != nil {
		return HostMessage{}, fmt.Errorf("decode host message: %w", err)
	}
	return msg, nil
}

// Correlated reports whether the message is a reply to a correlated request.
func (m HostMessage) Correlated() bool {
	switch m.Type {
	case EventAudioFile, EventAudioFileError, EventTabHistoryResult, EventTabHistoryError:
		return true
	}
	return false
}

// AudioReply reports whether the message answers a load-audio-file command.
func (m HostMessage) AudioReply() bool {
	return m.Type == EventAudioFile || m.Type == EventAudioFileError
}

// HasContent reports whether the message carries a type or text worth relaying.
func (m HostMessage) HasContent() bool {
	return m.Type != "" || m.Text != ""
}

// Notice converts a free-form host message to the event rebroadcast to panels.
func (m HostMessage) Notice() UIEvent {
	switch m.Type {
	case EventResult:
		return Result{Type: EventResult, Text: m.Text, SavedPaths: m.SavedPaths}
	case EventWarn, EventError:
		return Notice{Type: m.Type, Text: m.Text}
	}
	text := m.Text
	if text == "" {
		text = m.Type
	}
	return Status(text)
}

// Reply converts a correlated host reply into the event for the panel that
// asked, substituting the panel's own request identifier.
func (m HostMessage) Reply(clientRequestID string) UIEvent {
	switch m.Type {
	case EventAudioFile:
		mime := m.MimeType
		if mime == "" {
			mime = defaultAudioMimeType
		}
		return AudioFile{Type: EventAudioFile, RequestID: clientRequestID, Base64: m.Base64, MimeType: mime, Path: m.Path}
	case EventAudioFileError:
		return AudioFileFailure(clientRequestID, m.Text)
	case EventTabHistoryResult:
		entries := m.Entries
		if len(entries) == 0 {
			entries = json.RawMessage("[]")
		}
		return TabHistoryResult{Type: EventTabHistoryResult, RequestID: clientRequestID, TabUUID: m.TabUUID, Entries: entries}
	default:
		return TabHistoryFailure(clientRequestID, m.TabUUID, m.Text)
	}
}
