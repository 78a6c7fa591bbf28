package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dgnsrekt/tabscribe/internal/orchestrator"
	"github.com/dgnsrekt/tabscribe/internal/tabs"
)

// Service is the orchestrator surface exposed over HTTP.
type Service interface {
	Snapshot() orchestrator.Snapshot
	TabIdentities() []tabs.Entry
	StartRecording(ctx context.Context) error
	StopRecording(ctx context.Context) error
	EnsureHost(ctx context.Context) error
}

// Sockets are the websocket and page endpoints mounted beside the API.
// Nil entries are not mounted.
type Sockets struct {
	UI            http.Handler
	Offscreen     http.Handler
	OffscreenPage http.Handler
}

func NewServer(svc Service, sockets Sockets) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("Tabscribe API", "1.0.0")
	cfg.DocsPath = ""
	api := humachi.New(router, cfg)

	router.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(docsHTML)); err != nil {
			slog.Debug("docs response write failed", "error", err)
		}
	})
	router.Get("/docs/ws", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(wsDocsHTML)); err != nil {
			slog.Debug("docs response write failed", "error", err)
		}
	})

	if sockets.UI != nil {
		router.Handle("/ws/ui", sockets.UI)
	}
	if sockets.Offscreen != nil {
		router.Handle("/ws/offscreen", sockets.Offscreen)
	}
	if sockets.OffscreenPage != nil {
		router.Handle("/offscreen", sockets.OffscreenPage)
	}

	registerStatusHandlers(api, svc)
	registerRecordingHandlers(api, svc)

	return router
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var coded *orchestrator.CodedError
	if errors.As(err, &coded) {
		switch coded.Code {
		case orchestrator.CodeValidation:
			return huma.Error400BadRequest(coded.Message)
		case orchestrator.CodeState:
			return huma.Error409Conflict(coded.Message)
		case orchestrator.CodeCapability:
			return huma.Error503ServiceUnavailable(coded.Message)
		case orchestrator.CodeConnection, orchestrator.CodeTransport, orchestrator.CodeProtocol:
			return huma.Error502BadGateway(coded.Message)
		default:
			return huma.Error500InternalServerError(fmt.Sprintf("%s: %s", coded.Code, coded.Message))
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return huma.Error504GatewayTimeout(err.Error())
	}
	return huma.Error500InternalServerError(err.Error())
}
