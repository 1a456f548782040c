package app

import (
	"context"
	"fmt"

	"bra_notification_bot/internal/domain/cronrun"
)

var ErrAdminNotAuthorized = fmt.Errorf("performing user is not authorized as an admin")

// PipelineRunner triggers one pipeline run. *CronOrchestrator satisfies it.
type PipelineRunner interface {
	Run(ctx context.Context) (*cronrun.Execution, error)
}

// AdminService exposes operator commands restricted to the configured admin.
type AdminService struct {
	execRepo        cronrun.Repository
	runner          PipelineRunner
	adminTelegramID int64
}

func NewAdminService(er cronrun.Repository, runner PipelineRunner, adminID int64) *AdminService {
	return &AdminService{
		execRepo:        er,
		runner:          runner,
		adminTelegramID: adminID,
	}
}

func (s *AdminService) authorize(performingAdminID int64) error {
	if s.adminTelegramID == 0 || performingAdminID != s.adminTelegramID {
		return ErrAdminNotAuthorized
	}
	return nil
}

// RecentExecutions lists the latest pipeline runs, newest first.
func (s *AdminService) RecentExecutions(ctx context.Context, performingAdminID int64, limit int) ([]*cronrun.Execution, error) {
	if err := s.authorize(performingAdminID); err != nil {
		return nil, err
	}
	executions, err := s.execRepo.ListRecent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list cron executions: %w", err)
	}
	return executions, nil
}

// TriggerRun runs the pipeline immediately. The execution is returned even
// when the run failed so the caller can report it.
func (s *AdminService) TriggerRun(ctx context.Context, performingAdminID int64) (*cronrun.Execution, error) {
	if err := s.authorize(performingAdminID); err != nil {
		return nil, err
	}
	return s.runner.Run(ctx)
}
