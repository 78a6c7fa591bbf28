package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, map[string]string{"type": "status", "text": "Whisper host started"}); err != nil {
		t.Fatalf("WriteFrame() error = %v", err)
	}
	if got, want := buf.Bytes()[0:4], []byte{47, 0, 0, 0}; !bytes.Equal(got, want) {
		t.Fatalf("header = %v; want little-endian %v", got, want)
	}

	payload, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame() error = %v", err)
	}
	msg, err := DecodeHost(payload)
	if err != nil {
		t.Fatalf("DecodeHost() error = %v", err)
	}
	if msg.Type != "status" || msg.Text != "Whisper host started" {
		t.Fatalf("decoded = %+v", msg)
	}

	if _, err := ReadFrame(&buf); !errors.Is(err, io.EOF) {
		t.Fatalf("ReadFrame() on drained stream = %v; want io.EOF", err)
	}
}

func TestReadFrameRejectsOversizedHeader(t *testing.T) {
	r := bytes.NewReader([]byte{0xff, 0xff, 0xff, 0xff})
	if _, err := ReadFrame(r); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("ReadFrame() error = %v; want ErrFrameTooLarge", err)
	}
}

func TestReadFrameShortPayload(t *testing.T) {
	r := bytes.NewReader([]byte{10, 0, 0, 0, '{', '}'})
	_, err := ReadFrame(r)
	if err == nil || !strings.Contains(err.Error(), "short payload") {
		t.Fatalf("ReadFrame() error = %v; want short payload", err)
	}
}

func TestDecodeUIValidation(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr string
	}{
		{name: "ensure host", raw: `{"type":"ensure-host"}`, want: UIEnsureHost},
		{name: "start", raw: `{"type":"start-recording"}`, want: UIStartRecording},
		{name: "saved folder", raw: `{"type":"open-saved-folder","folderPath":" recordings/a "}`, want: UIOpenSavedFolder},
		{name: "saved folder missing path", raw: `{"type":"open-saved-folder"}`, wantErr: "folderPath is required"},
		{name: "audio", raw: `{"type":"request-audio-playback","audioPath":"a.wav"}`, want: UIRequestAudioPlayback},
		{name: "audio missing path", raw: `{"type":"request-audio-playback","audioPath":"  "}`, wantErr: "audioPath is required"},
		{name: "history numeric tab", raw: `{"type":"request-tab-history","tabId":42,"includeTranscripts":false}`, want: UIRequestTabHistory},
		{name: "history missing tab", raw: `{"type":"request-tab-history"}`, wantErr: "tabId or tabUUID is required"},
		{name: "history bad limit", raw: `{"type":"request-tab-history","tabId":"t","limit":-1}`, wantErr: "limit must be between"},
		{name: "missing type", raw: `{}`, wantErr: "missing type"},
		{name: "unknown", raw: `{"type":"reboot"}`, wantErr: "unknown command"},
		{name: "not json", raw: `nope`, wantErr: "decode ui message"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := DecodeUI([]byte(tt.raw))
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("DecodeUI() error = %v; want to contain %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeUI() error = %v", err)
			}
			if got := cmd.CommandType(); got != tt.want {
				t.Fatalf("CommandType() = %q; want %q", got, tt.want)
			}
		})
	}
}

func TestDecodeUIDefaults(t *testing.T) {
	cmd, err := DecodeUI([]byte(`{"type":"request-tab-history","tabId":7}`))
	if err != nil {
		t.Fatalf("DecodeUI() error = %v", err)
	}
	hist := cmd.(RequestTabHistory)
	if hist.TabID != "7" {
		t.Fatalf("TabID = %q; want %q", hist.TabID, "7")
	}
	if !hist.Transcripts() {
		t.Fatal("Transcripts() = false; want true when omitted")
	}

	cmd, err = DecodeUI([]byte(`{"type":"request-audio-playback","audioPath":"x.webm"}`))
	if err != nil {
		t.Fatalf("DecodeUI() error = %v", err)
	}
	if got := cmd.(RequestAudioPlayback).MimeType; got != "audio/webm" {
		t.Fatalf("MimeType = %q; want audio/webm", got)
	}
}

func TestHostMessageNotice(t *testing.T) {
	msg, err := DecodeHost([]byte(`{"type":"result","text":"hello","savedPaths":{"folder":"recordings/x"}}`))
	if err != nil {
		t.Fatalf("DecodeHost() error = %v", err)
	}
	res, ok := msg.Notice().(Result)
	if !ok {
		t.Fatalf("Notice() = %T; want Result", msg.Notice())
	}
	if !strings.Contains(string(res.SavedPaths), "recordings/x") {
		t.Fatalf("SavedPaths = %s; want folder carried through", res.SavedPaths)
	}

	typed, _ := DecodeHost([]byte(`{"type":"ModelReady"}`))
	if n := typed.Notice().(Notice); n.Type != EventStatus || n.Text != "ModelReady" {
		t.Fatalf("Notice() = %+v; want status carrying the type", n)
	}

	if _, err := DecodeHost([]byte(`[1,2]`)); err == nil {
		t.Fatal("DecodeHost() accepted an array")
	}
}

func TestHostReplyRewritesRequestID(t *testing.T) {
	msg := HostMessage{Type: EventTabHistoryResult, RequestID: "internal-1", TabUUID: "u1"}
	reply := msg.Reply("client-9").(TabHistoryResult)
	if reply.RequestID != "client-9" {
		t.Fatalf("RequestID = %q; want client-9", reply.RequestID)
	}
	if string(reply.Entries) != "[]" {
		t.Fatalf("Entries = %s; want []", reply.Entries)
	}

	data, err := json.Marshal(HostMessage{Type: EventAudioFileError, Text: "gone"}.Reply("c"))
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	if !strings.Contains(string(data), `"type":"audio-file-error"`) {
		t.Fatalf("reply = %s", data)
	}
}

func TestDecodeOffscreen(t *testing.T) {
	msg, err := DecodeOffscreen([]byte(`{"type":"audio","base64":"AAA","tabId":3,"tabUUID":"u"}`))
	if err != nil {
		t.Fatalf("DecodeOffscreen() error = %v", err)
	}
	up := msg.Upload()
	if up.AudioChunk != "AAA" || up.TabID != "3" || up.TabUUID != "u" {
		t.Fatalf("Upload() = %+v", up)
	}

	if _, err := DecodeOffscreen([]byte(`{"type":"audio"}`)); err == nil {
		t.Fatal("DecodeOffscreen() accepted empty audio")
	}
	if _, err := DecodeOffscreen([]byte(`{"type":"dance"}`)); !errors.Is(err, ErrUnknownCommand) {
		t.Fatalf("DecodeOffscreen() error = %v; want ErrUnknownCommand", err)
	}
}
