package hostproc

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dgnsrekt/tabscribe/internal/protocol"
)

// TestHelperHost is not a real test: it is re-executed as a fake host.
func TestHelperHost(t *testing.T) {
	if os.Getenv("TABSCRIBE_HELPER_HOST") != "1" {
		return
	}
	_ = protocol.WriteFrame(os.Stdout, map[string]string{"type": "status", "text": "Whisper host started"})
	for {
		data, err := protocol.ReadFrame(os.Stdin)
		if err != nil {
			os.Exit(0)
		}
		var cmd map[string]any
		_ = json.Unmarshal(data, &cmd)
		os.Stderr.WriteString("frame received\n")
		_ = protocol.WriteFrame(os.Stdout, map[string]any{"type": "status", "text": "echo:" + toString(cmd["command"])})
	}
}

func toString(v any) string {
	s, _ := v.(string)
	return s
}

func helperManifest() Manifest {
	return Manifest{
		Name: "helper",
		Path: os.Args[0],
		Args: []string{"-test.run=^TestHelperHost$"},
		Env:  map[string]string{"TABSCRIBE_HELPER_HOST": "1"},
	}
}

func TestProcessRoundTrip(t *testing.T) {
	msgs := make(chan protocol.HostMessage, 4)
	disconnected := make(chan error, 1)

	d := &ExecDialer{Manifests: Static(helperManifest())}
	ch, err := d.Dial(context.Background(), Handlers{
		OnMessage: func(data []byte) {
			msg, err := protocol.DecodeHost(data)
			if err == nil {
				msgs <- msg
			}
		},
		OnDisconnect: func(err error) { disconnected <- err },
	})
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}

	recv := func() protocol.HostMessage {
		t.Helper()
		select {
		case m := <-msgs:
			return m
		case <-time.After(10 * time.Second):
			t.Fatal("timed out waiting for host message")
		}
		return protocol.HostMessage{}
	}

	if m := recv(); m.Text != "Whisper host started" {
		t.Fatalf("first message = %+v", m)
	}
	if err := ch.Send(protocol.OpenFolderCommand{Command: protocol.HostOpenFolder, Path: "/tmp"}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if m := recv(); m.Text != "echo:open-folder" {
		t.Fatalf("reply = %+v; want echo:open-folder", m)
	}

	if err := ch.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	select {
	case <-disconnected:
	case <-time.After(10 * time.Second):
		t.Fatal("OnDisconnect not called after Close()")
	}
	if err := ch.Send(protocol.OpenFolderCommand{Command: protocol.HostOpenFolder}); err != ErrChannelClosed {
		t.Fatalf("Send() after Close() = %v; want ErrChannelClosed", err)
	}
}

func TestDialMissingBinary(t *testing.T) {
	d := &ExecDialer{Manifests: Static(Manifest{Name: "ghost", Path: filepath.Join(t.TempDir(), "nope")})}
	if _, err := d.Dial(context.Background(), Handlers{}); err == nil {
		t.Fatal("Dial() succeeded for a missing binary")
	}
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "host.yaml")
	body := "path: /usr/local/bin/whisper-host\nargs: [--model, base]\ndir: work\nenv:\n  MODEL: base\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	m, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("LoadManifest() error = %v", err)
	}
	if m.Name != "whisper-host" {
		t.Fatalf("Name = %q; want default from path", m.Name)
	}
	if m.Dir != filepath.Join(dir, "work") {
		t.Fatalf("Dir = %q; want resolved against manifest dir", m.Dir)
	}
	if len(m.Args) != 2 || m.Env["MODEL"] != "base" {
		t.Fatalf("manifest = %+v", m)
	}

	if err := os.WriteFile(path, []byte("name: x\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadManifest(path); err == nil || !strings.Contains(err.Error(), "missing path") {
		t.Fatalf("LoadManifest() error = %v; want missing path", err)
	}
}

func TestManifestSourceWatchReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "host.yaml")
	if err := os.WriteFile(path, []byte("path: /bin/one\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	src := NewManifestSource(path)
	if m, err := src.Current(); err != nil || m.Path != "/bin/one" {
		t.Fatalf("Current() = %+v, %v", m, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = src.Watch(ctx) }()
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(path, []byte("path: /bin/two\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if m, _ := src.Current(); m.Path == "/bin/two" {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if m, _ := src.Current(); m.Path != "/bin/two" {
		t.Fatalf("Current().Path = %q after edit; want /bin/two", m.Path)
	}

	if err := os.WriteFile(path, []byte("path: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(500 * time.Millisecond)
	if m, err := src.Current(); err != nil || m.Path != "/bin/two" {
		t.Fatalf("Current() after bad edit = %+v, %v; want previous manifest kept", m, err)
	}
}

func TestStderrDrainedPastLongLine(t *testing.T) {
	p := &Process{name: "chatty"}
	r, w := io.Pipe()
	done := make(chan struct{})
	go func() {
		p.logStderr(r)
		close(done)
	}()

	wrote := make(chan error, 1)
	go func() {
		long := strings.Repeat("x", 2*1024*1024)
		if _, err := io.WriteString(w, long+"\n"); err != nil {
			wrote <- err
			return
		}
		_, err := io.WriteString(w, strings.Repeat("more output\n", 10000))
		wrote <- err
	}()

	select {
	case err := <-wrote:
		if err != nil {
			t.Fatalf("write stderr error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("stderr writer blocked after an oversized line")
	}
	w.Close()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("logStderr did not return after EOF")
	}
}
