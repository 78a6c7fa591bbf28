package hostproc

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/dgnsrekt/tabscribe/internal/protocol"
)

const (
	sendQueueSize = 64
	stopGrace     = 5 * time.Second
)

var (
	ErrChannelClosed = errors.New("host channel closed")
	ErrSendQueueFull = errors.New("host send queue full")
)

// Handlers receive inbound frames and the single disconnect notification.
// OnMessage is called sequentially from one goroutine in arrival order.
type Handlers struct {
	OnMessage    func(data []byte)
	OnDisconnect func(err error)
}

// Channel is an established connection to the host.
type Channel interface {
	Send(cmd protocol.HostCommand) error
	Close() error
}

// Dialer establishes a host channel.
type Dialer interface {
	Dial(ctx context.Context, h Handlers) (Channel, error)
}

// ExecDialer launches the host described by the current manifest.
type ExecDialer struct {
	Manifests *ManifestSource
}

func (d *ExecDialer) Dial(ctx context.Context, h Handlers) (Channel, error) {
	m, err := d.Manifests.Current()
	if err != nil {
		return nil, err
	}
	return Start(ctx, m, h)
}

// Process is a running host speaking length-prefixed JSON on stdin/stdout.
type Process struct {
	name  string
	cmd   *exec.Cmd
	stdin io.WriteCloser
	h     Handlers

	queue chan []byte
	done  chan struct{}

	mu     sync.Mutex
	closed bool
}

// Start launches the host process and begins reading frames from it.
func Start(ctx context.Context, m Manifest, h Handlers) (*Process, error) {
	if _, err := exec.LookPath(m.Path); err != nil {
		return nil, fmt.Errorf("host %s: %w", m.Name, err)
	}

	cmd := exec.Command(m.Path, m.Args...)
	cmd.Dir = m.Dir
	cmd.Env = os.Environ()
	for k, v := range m.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("host stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("host stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("host stderr: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start host %s: %w", m.Name, err)
	}
	slog.Info("hostproc: host started", "name", m.Name, "pid", cmd.Process.Pid)

	p := &Process{
		name:  m.Name,
		cmd:   cmd,
		stdin: stdin,
		h:     h,
		queue: make(chan []byte, sendQueueSize),
		done:  make(chan struct{}),
	}

	var stderrDone sync.WaitGroup
	stderrDone.Add(1)
	go func() {
		defer stderrDone.Done()
		p.logStderr(stderr)
	}()
	go p.writeLoop()
	go p.readLoop(stdout, &stderrDone)
	return p, nil
}

// Send encodes cmd and queues it for the writer. It never blocks.
func (p *Process) Send(cmd protocol.HostCommand) error {
	var buf bytes.Buffer
	if err := protocol.WriteFrame(&buf, cmd); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrChannelClosed
	}
	select {
	case p.queue <- buf.Bytes():
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Close stops the host: stdin is closed, then SIGTERM, then SIGKILL after
// a grace period. OnDisconnect still fires once from the read loop.
func (p *Process) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.done
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	_ = p.stdin.Close()
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Signal(syscall.SIGTERM)
	}

	select {
	case <-p.done:
		slog.Info("hostproc: host stopped", "name", p.name)
	case <-time.After(stopGrace):
		slog.Warn("hostproc: host did not exit, sending SIGKILL", "name", p.name)
		_ = p.cmd.Process.Kill()
		<-p.done
	}
	return nil
}

// Done is closed once the host has exited.
func (p *Process) Done() <-chan struct{} { return p.done }

func (p *Process) readLoop(stdout io.Reader, stderrDone *sync.WaitGroup) {
	var readErr error
	for {
		data, err := protocol.ReadFrame(stdout)
		if err != nil {
			readErr = err
			break
		}
		if p.h.OnMessage != nil {
			p.h.OnMessage(data)
		}
	}

	if !errors.Is(readErr, io.EOF) {
		slog.Warn("hostproc: host stream broken", "name", p.name, "error", readErr)
		_ = p.cmd.Process.Kill()
	}
	stderrDone.Wait()
	waitErr := p.cmd.Wait()

	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	close(p.done)

	err := waitErr
	if err == nil && !errors.Is(readErr, io.EOF) {
		err = readErr
	}
	slog.Info("hostproc: host exited", "name", p.name, "error", err)
	if p.h.OnDisconnect != nil {
		p.h.OnDisconnect(err)
	}
}

func (p *Process) writeLoop() {
	for {
		select {
		case data := <-p.queue:
			if _, err := p.stdin.Write(data); err != nil {
				slog.Warn("hostproc: write to host failed", "name", p.name, "error", err)
				_ = p.cmd.Process.Kill()
				return
			}
		case <-p.done:
			return
		}
	}
}

func (p *Process) logStderr(r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		slog.Debug("hostproc: stderr", "name", p.name, "line", sc.Text())
	}
	if err := sc.Err(); err != nil {
		slog.Warn("hostproc: stderr unreadable, discarding rest", "name", p.name, "error", err)
		_, _ = io.Copy(io.Discard, r)
	}
}
