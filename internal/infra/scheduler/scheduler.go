package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bra_notification_bot/internal/app"
	"bra_notification_bot/internal/domain/cronrun"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Runner executes one pipeline run. *app.CronOrchestrator satisfies it.
type Runner interface {
	Run(ctx context.Context) (*cronrun.Execution, error)
}

// BulletinScheduler triggers the bulletin pipeline on a cron schedule.
type BulletinScheduler struct {
	cronEngine *cron.Cron
	runner     Runner
	spec       string
	runTimeout time.Duration
	logger     *logrus.Entry
}

func NewBulletinScheduler(runner Runner, spec string, runTimeout time.Duration, logger *logrus.Entry) *BulletinScheduler {
	return &BulletinScheduler{
		cronEngine: cron.New(cron.WithLocation(time.UTC)),
		runner:     runner,
		spec:       spec,
		runTimeout: runTimeout,
		logger:     logger.WithField("component", "scheduler"),
	}
}

// Start registers the pipeline job and starts the cron engine.
func (s *BulletinScheduler) Start() error {
	if _, err := s.cronEngine.AddFunc(s.spec, s.runOnce); err != nil {
		return fmt.Errorf("could not add pipeline cron job %q: %w", s.spec, err)
	}
	s.cronEngine.Start()
	s.logger.WithField("spec", s.spec).Info("Bulletin scheduler started")
	return nil
}

func (s *BulletinScheduler) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.runTimeout)
	defer cancel()

	s.logger.Info("Cron job triggered for bulletin pipeline")
	exec, err := s.runner.Run(ctx)
	switch {
	case errors.Is(err, app.ErrRunInProgress):
		s.logger.Warn("Previous pipeline run still in progress, skipping")
	case err != nil:
		s.logger.WithError(err).Error("Pipeline run failed")
	default:
		s.logger.WithField("status", exec.Status).Info("Pipeline run finished")
	}
}

// Stop stops scheduling and waits for a running job to finish.
func (s *BulletinScheduler) Stop() {
	s.logger.Info("Stopping bulletin scheduler...")
	ctx := s.cronEngine.Stop()
	<-ctx.Done()
	s.logger.Info("Bulletin scheduler gracefully stopped")
}
