package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Commands a UI panel may send.
const (
	UIEnsureHost           = "ensure-host"
	UIStartRecording       = "start-recording"
	UIStopRecording        = "stop-recording"
	UIOpenRecordingsFolder = "open-recordings-folder"
	UIOpenSavedFolder      = "open-saved-folder"
	UIRequestAudioPlayback = "request-audio-playback"
	UIRequestTabHistory    = "request-tab-history"
)

// Events the orchestrator sends to UI panels.
const (
	EventHostReady        = "host-ready"
	EventStatus           = "status"
	EventWarn             = "warn"
	EventError            = "error"
	EventRecordingStatus  = "recording-status"
	EventRecordingStarted = "recording-started"
	EventRecordingStopped = "recording-stopped"
	EventResult           = "result"
	EventAudioFile        = "audio-file"
	EventAudioFileError   = "audio-file-error"
	EventTabHistoryResult = "tab-history-result"
	EventTabHistoryError  = "tab-history-error"
)

const (
	defaultAudioMimeType   = "audio/webm"
	defaultHistoryMaxLimit = 500
)

// ErrUnknownCommand is wrapped by DecodeUI for an unrecognised type.
var ErrUnknownCommand = errors.New("unknown command")

// UICommand is one of the closed set of commands a panel can send.
type UICommand interface {
	CommandType() string
}

type EnsureHost struct{}

type StartRecording struct{}

type StopRecording struct{}

type OpenRecordingsFolder struct{}

type OpenSavedFolder struct {
	FolderPath string `json:"folderPath"`
}

type RequestAudioPlayback struct {
	RequestID string `json:"requestId,omitempty"`
	AudioPath string `json:"audioPath"`
	TabTitle  string `json:"tabTitle,omitempty"`
	MimeType  string `json:"mimeType,omitempty"`
}

type RequestTabHistory struct {
	RequestID          string    `json:"requestId,omitempty"`
	TabID              TabHandle `json:"tabId"`
	TabUUID            string    `json:"tabUUID,omitempty"`
	TabTitle           string    `json:"tabTitle,omitempty"`
	IncludeTranscripts *bool     `json:"includeTranscripts,omitempty"`
	Limit              *int      `json:"limit,omitempty"`
	OutputDir          string    `json:"outputDir,omitempty"`
}

func (EnsureHost) CommandType() string           { return UIEnsureHost }
func (StartRecording) CommandType() string       { return UIStartRecording }
func (StopRecording) CommandType() string        { return UIStopRecording }
func (OpenRecordingsFolder) CommandType() string { return UIOpenRecordingsFolder }
func (OpenSavedFolder) CommandType() string      { return UIOpenSavedFolder }
func (RequestAudioPlayback) CommandType() string { return UIRequestAudioPlayback }
func (RequestTabHistory) CommandType() string    { return UIRequestTabHistory }

// Transcripts reports whether transcripts were requested; absent means yes.
func (r RequestTabHistory) Transcripts() bool {
	return r.IncludeTranscripts == nil || *r.IncludeTranscripts
}

// DecodeUI parses and validates a panel message.
func DecodeUI(data []byte) (UICommand, error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode ui message: %w", err)
	}

	switch env.Type {
	case UIEnsureHost:
		return EnsureHost{}, nil
	case UIStartRecording:
		return StartRecording{}, nil
	case UIStopRecording:
		return StopRecording{}, nil
	case UIOpenRecordingsFolder:
		return OpenRecordingsFolder{}, nil
	case UIOpenSavedFolder:
		var cmd OpenSavedFolder
		if err := json.Unmarshal(data, &cmd); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		cmd.FolderPath = strings.TrimSpace(cmd.FolderPath)
		if cmd.FolderPath == "" {
			return nil, fmt.Errorf("%s: folderPath is required", env.Type)
		}
		return cmd, nil
	case UIRequestAudioPlayback:
		var cmd RequestAudioPlayback
		if err := json.Unmarshal(data, &cmd); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		cmd.AudioPath = strings.TrimSpace(cmd.AudioPath)
		if cmd.AudioPath == "" {
			return nil, fmt.Errorf("%s: audioPath is required", env.Type)
		}
		if cmd.MimeType == "" {
			cmd.MimeType = defaultAudioMimeType
		}
		return cmd, nil
	case UIRequestTabHistory:
		var cmd RequestTabHistory
		if err := json.Unmarshal(data, &cmd); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		if cmd.TabID == "" && cmd.TabUUID == "" {
			return nil, fmt.Errorf("%s: tabId or tabUUID is required", env.Type)
		}
		if cmd.Limit != nil && (*cmd.Limit < 0 || *cmd.Limit > defaultHistoryMaxLimit) {
			return nil, fmt.Errorf("%s: limit must be between 0 and %d", env.Type, defaultHistoryMaxLimit)
		}
		return cmd, nil
	case "":
		return nil, fmt.Errorf("decode ui message: missing type")
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, env.Type)
	}
}

// UIEvent is one of the closed set of messages sent to panels.
type UIEvent interface {
	EventType() string
}

// Signal is an event that carries only its type.
type Signal struct {
	Type string `json:"type"`
}

// Notice carries user-visible text at status, warn or error severity.
type Notice struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type RecordingStatus struct {
	Type     string `json:"type"`
	Status   string `json:"status"`
	TabID    string `json:"tabId,omitempty"`
	TabTitle string `json:"tabTitle,omitempty"`
	TabUUID  string `json:"tabUUID,omitempty"`
}

type Result struct {
	Type       string          `json:"type"`
	Text       string          `json:"text"`
	SavedPaths json.RawMessage `json:"savedPaths,omitempty"`
}

type AudioFile struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId"`
	Base64    string `json:"base64"`
	MimeType  string `json:"mimeType"`
	Path      string `json:"path,omitempty"`
}

// RequestFailure is the error reply for a correlated request
// (audio-file-error or tab-history-error).
type RequestFailure struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId"`
	TabUUID   string `json:"tabUUID,omitempty"`
	Text      string `json:"text"`
}

type TabHistoryResult struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId"`
	TabUUID   string          `json:"tabUUID,omitempty"`
	Entries   json.RawMessage `json:"entries"`
}

func (s Signal) EventType() string         { return s.Type }
func (n Notice) EventType() string         { return n.Type }
func (RecordingStatus) EventType() string  { return EventRecordingStatus }
func (Result) EventType() string           { return EventResult }
func (AudioFile) EventType() string        { return EventAudioFile }
func (f RequestFailure) EventType() string { return f.Type }
func (TabHistoryResult) EventType() string { return EventTabHistoryResult }

func HostReady() Signal        { return Signal{Type: EventHostReady} }
func RecordingStarted() Signal { return Signal{Type: EventRecordingStarted} }
func RecordingStopped() Signal { return Signal{Type: EventRecordingStopped} }

func Status(text string) Notice { return Notice{Type: EventStatus, Text: text} }
func Warn(text string) Notice   { return Notice{Type: EventWarn, Text: text} }
func Error(text string) Notice  { return Notice{Type: EventError, Text: text} }

func AudioFileFailure(requestID, text string) RequestFailure {
	return RequestFailure{Type: EventAudioFileError, RequestID: requestID, Text: text}
}

func TabHistoryFailure(requestID, tabUUID, text string) RequestFailure {
	return RequestFailure{Type: EventTabHistoryError, RequestID: requestID, TabUUID: tabUUID, Text: text}
}
