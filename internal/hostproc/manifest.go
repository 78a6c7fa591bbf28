package hostproc

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

const manifestDebounce = 150 * time.Millisecond

// Manifest describes how to launch the transcription host.
type Manifest struct {
	Name          string            `yaml:"name"`
	Path          string            `yaml:"path"`
	Args          []string          `yaml:"args,omitempty"`
	Env           map[string]string `yaml:"env,omitempty"`
	Dir           string            `yaml:"dir,omitempty"`
	RecordingsDir string            `yaml:"recordings_dir,omitempty"`
}

// LoadManifest reads and validates a host manifest file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("host manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("host manifest: %w", err)
	}
	if m.Path == "" {
		return nil, fmt.Errorf("host manifest: missing path")
	}
	if m.Name == "" {
		m.Name = filepath.Base(m.Path)
	}
	if m.Dir != "" && !filepath.IsAbs(m.Dir) {
		m.Dir = filepath.Join(filepath.Dir(path), m.Dir)
	}
	return &m, nil
}

// ManifestSource holds the most recently loaded manifest. A failed reload
// keeps the previous good manifest.
type ManifestSource struct {
	path string

	mu      sync.RWMutex
	current *Manifest
	lastErr error
}

// NewManifestSource loads path once. A load error is kept and reported by
// Current until a later reload succeeds.
func NewManifestSource(path string) *ManifestSource {
	s := &ManifestSource{path: filepath.Clean(path)}
	_ = s.Reload()
	return s
}

// Static wraps an in-memory manifest that never reloads.
func Static(m Manifest) *ManifestSource {
	return &ManifestSource{current: &m}
}

func (s *ManifestSource) Path() string { return s.path }

// Current returns a copy of the active manifest.
func (s *ManifestSource) Current() (Manifest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		if s.lastErr != nil {
			return Manifest{}, s.lastErr
		}
		return Manifest{}, fmt.Errorf("host manifest: not loaded")
	}
	return *s.current, nil
}

// Reload re-reads the manifest file.
func (s *ManifestSource) Reload() error {
	if s.path == "" {
		return nil
	}
	m, err := LoadManifest(s.path)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.lastErr = err
		return err
	}
	s.current = m
	s.lastErr = nil
	return nil
}

// Watch reloads the manifest whenever its file changes, until ctx ends.
// The parent directory is watched so editors that replace the file by
// rename are picked up.
func (s *ManifestSource) Watch(ctx context.Context) error {
	if s.path == "" {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("manifest watch: %w", err)
	}
	defer w.Close()
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("manifest watch: %w", err)
	}

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	reload := func() {
		if err := s.Reload(); err != nil {
			slog.Warn("hostproc: manifest reload failed, keeping previous", "path", s.path, "error", err)
			return
		}
		slog.Info("hostproc: manifest reloaded", "path", s.path)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != s.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(manifestDebounce, reload)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Warn("hostproc: manifest watcher error", "error", err)
		}
	}
}
