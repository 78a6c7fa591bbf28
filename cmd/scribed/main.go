package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dgnsrekt/tabscribe/internal/api"
	"github.com/dgnsrekt/tabscribe/internal/browser"
	"github.com/dgnsrekt/tabscribe/internal/cdp"
	"github.com/dgnsrekt/tabscribe/internal/config"
	"github.com/dgnsrekt/tabscribe/internal/hostproc"
	"github.com/dgnsrekt/tabscribe/internal/netutil"
	"github.com/dgnsrekt/tabscribe/internal/offscreen"
	"github.com/dgnsrekt/tabscribe/internal/orchestrator"
	"github.com/dgnsrekt/tabscribe/internal/relay"
	"github.com/dgnsrekt/tabscribe/internal/tabs"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if err := setupLogger(cfg.LogLevel, cfg.LogFile); err != nil {
		_, _ = io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n")
		os.Exit(1)
	}

	slog.Info("scribed config loaded",
		"bind_addr", cfg.BindAddr,
		"cdp_url", cfg.GetCDPURL(),
		"browser_auto_launch", cfg.BrowserAutoLaunch,
		"tab_url_filter", cfg.TabURLFilter,
		"bind_auto_fallback", cfg.BindAutoFallback,
		"bind_candidates", cfg.BindCandidates,
		"host_manifest", cfg.HostManifest,
		"state_db", cfg.StateDB,
		"log_level", cfg.LogLevel,
		"log_file", cfg.LogFile,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("scribed failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	ln, err := netutil.Listen(cfg.BindAddr, cfg.BindCandidates, cfg.BindAutoFallback)
	if err != nil {
		slog.Error("failed to select bind address", "preferred", cfg.BindAddr, "error", err)
		return err
	}
	defer ln.Close()
	bindAddr := ln.Addr().String()
	captureURL := cfg.CaptureURL(bindAddr)

	if cfg.BrowserAutoLaunch {
		launcher := browser.NewLauncher(browser.Config{
			CDPAddress: cfg.CDPAddress,
			CDPPort:    cfg.CDPPort,
			ProfileDir: cfg.BrowserProfileDir,
			Headless:   true,
		})
		if err := launcher.Launch(ctx); err != nil {
			return err
		}
		defer launcher.Stop()
	}

	if err := os.MkdirAll(filepath.Dir(cfg.StateDB), 0o755); err != nil {
		return err
	}
	store, err := tabs.OpenStore(ctx, cfg.StateDB)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	identities := tabs.NewMap(store)
	if err := identities.Load(ctx); err != nil {
		return err
	}

	br := cdp.NewBrowser(cdp.Config{
		CDPURL:            cfg.GetCDPURL(),
		TabURLFilter:      cfg.TabURLFilter,
		IgnoreURLPrefixes: []string{captureURL},
	})
	if err := br.Connect(ctx); err != nil {
		slog.Error("failed to connect to browser", "cdp_url", cfg.GetCDPURL(), "error", err)
		return err
	}
	defer br.Close()

	if open, err := br.Tabs(ctx); err != nil {
		slog.Warn("initial tab listing failed", "error", err)
	} else {
		live := make([]string, 0, len(open))
		for _, t := range open {
			live = append(live, t.ID)
		}
		identities.Reconcile(ctx, live)
	}

	manifests := hostproc.NewManifestSource(cfg.HostManifest)
	recordingsDir := cfg.RecordingsDir
	if m, err := manifests.Current(); err != nil {
		slog.Warn("host manifest not loaded, host starts on first use once fixed", "path", cfg.HostManifest, "error", err)
	} else if recordingsDir == "" {
		recordingsDir = m.RecordingsDir
	}
	go func() {
		if err := manifests.Watch(ctx); err != nil {
			slog.Warn("host manifest watch disabled", "error", err)
		}
	}()

	broker := relay.NewBroker()
	capture := offscreen.NewManager(br, captureURL)
	orch := orchestrator.New(orchestrator.Options{
		Conns:         broker,
		Dialer:        &hostproc.ExecDialer{Manifests: manifests},
		Tabs:          br,
		Streams:       br,
		Capture:       capture,
		Identities:    identities,
		RecordingsDir: recordingsDir,
		ReadyTimeout:  cfg.ReadyTimeout,
		AckTimeout:    cfg.AckTimeout,
	})
	defer orch.Close()
	capture.SetHandler(orch.HandleCapture)

	unwatch, err := br.WatchTargets(ctx, cdp.TargetHandlers{
		Created:   orch.TabOpened,
		Destroyed: orch.TabClosed,
	})
	if err != nil {
		slog.Warn("tab events unavailable", "error", err)
	} else {
		defer unwatch()
	}

	h := api.NewServer(api.NewService(orch), api.Sockets{
		UI:            relay.WSHandler(broker, orch),
		Offscreen:     capture.Handler(),
		OffscreenPage: offscreen.PageHandler(),
	})
	srv := &http.Server{Handler: h}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("scribed listening", "addr", bindAddr, "capture_url", captureURL, "docs", "http://"+bindAddr+"/docs")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	slog.Info("scribed shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	capture.Close(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("scribed shutdown failed", "error", err)
	}
	return nil
}

func setupLogger(level, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return err
	}

	logWriter := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    25,
		MaxBackups: 10,
		MaxAge:     14,
		Compress:   true,
	}

	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	h := slog.NewTextHandler(io.MultiWriter(os.Stdout, logWriter), &slog.HandlerOptions{Level: slogLevel})
	slog.SetDefault(slog.New(h))
	return nil
}
