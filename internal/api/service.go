package api

import (
	"context"

	"github.com/dgnsrekt/tabscribe/internal/orchestrator"
	"github.com/dgnsrekt/tabscribe/internal/tabs"
)

type orchestratorService struct {
	o *orchestrator.Orchestrator
}

// NewService adapts an orchestrator to the API.
func NewService(o *orchestrator.Orchestrator) Service {
	return &orchestratorService{o: o}
}

func (s *orchestratorService) Snapshot() orchestrator.Snapshot { return s.o.Snapshot() }

func (s *orchestratorService) TabIdentities() []tabs.Entry { return s.o.Identities().Snapshot() }

// Recording requests outlive the HTTP request; the orchestrator's own
// context bounds them.
func (s *orchestratorService) StartRecording(ctx context.Context) error {
	return s.o.StartRecording(context.WithoutCancel(ctx))
}

func (s *orchestratorService) StopRecording(ctx context.Context) error {
	return s.o.StopRecording(context.WithoutCancel(ctx))
}

func (s *orchestratorService) EnsureHost(ctx context.Context) error {
	_, err := s.o.EnsureHost(ctx)
	return err
}
