package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/dgnsrekt/tabscribe/internal/orchestrator"
	"github.com/dgnsrekt/tabscribe/internal/tabs"
)

type actionOutput struct {
	Body struct {
		Status string `json:"status"`
	}
}

func accepted(status string) *actionOutput {
	out := &actionOutput{}
	out.Body.Status = status
	return out
}

func registerStatusHandlers(api huma.API, svc Service) {
	type healthOutput struct {
		Body struct {
			Status string `json:"status"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "health", Method: http.MethodGet, Path: "/health", Summary: "Health check", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*healthOutput, error) {
			out := &healthOutput{}
			out.Body.Status = "ok"
			return out, nil
		})

	type statusOutput struct {
		Body orchestrator.Snapshot
	}
	huma.Register(api, huma.Operation{OperationID: "get-status", Method: http.MethodGet, Path: "/api/v1/status", Summary: "Host, session and connection state", Tags: []string{"Status"}},
		func(ctx context.Context, input *struct{}) (*statusOutput, error) {
			return &statusOutput{Body: svc.Snapshot()}, nil
		})

	type tabsOutput struct {
		Body struct {
			Tabs []tabs.Entry `json:"tabs"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-tabs", Method: http.MethodGet, Path: "/api/v1/tabs", Summary: "List known tab identities", Tags: []string{"Status"}},
		func(ctx context.Context, input *struct{}) (*tabsOutput, error) {
			out := &tabsOutput{}
			out.Body.Tabs = svc.TabIdentities()
			if out.Body.Tabs == nil {
				out.Body.Tabs = []tabs.Entry{}
			}
			return out, nil
		})
}

func registerRecordingHandlers(api huma.API, svc Service) {
	huma.Register(api, huma.Operation{OperationID: "start-recording", Method: http.MethodPost, Path: "/api/v1/recording/start", Summary: "Start recording the active tab", Tags: []string{"Recording"}},
		func(ctx context.Context, input *struct{}) (*actionOutput, error) {
			if err := svc.StartRecording(ctx); err != nil {
				return nil, mapErr(err)
			}
			return accepted("starting"), nil
		})

	huma.Register(api, huma.Operation{OperationID: "stop-recording", Method: http.MethodPost, Path: "/api/v1/recording/stop", Summary: "Stop the current recording", Tags: []string{"Recording"}},
		func(ctx context.Context, input *struct{}) (*actionOutput, error) {
			if err := svc.StopRecording(ctx); err != nil {
				return nil, mapErr(err)
			}
			return accepted("stopping"), nil
		})

	huma.Register(api, huma.Operation{OperationID: "ensure-host", Method: http.MethodPost, Path: "/api/v1/host/ensure", Summary: "Start the transcription host if absent", Tags: []string{"Host"}},
		func(ctx context.Context, input *struct{}) (*actionOutput, error) {
			if err := svc.EnsureHost(ctx); err != nil {
				return nil, mapErr(err)
			}
			return accepted("ok"), nil
		})
}
