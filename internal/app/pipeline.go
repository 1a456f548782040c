package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"bra_notification_bot/internal/domain/bulletin"
	"bra_notification_bot/internal/domain/cronrun"
	"bra_notification_bot/internal/domain/messaging"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Stage names recorded on a failed execution.
const (
	StageCheck    = "check_for_new_bulletins"
	StageFetch    = "fetch_and_store_bulletins"
	StagePlan     = "generate_subscription_destinations"
	StageDispatch = "send"
)

// ErrRunInProgress is returned when a run is requested while another one is active.
var ErrRunInProgress = errors.New("a pipeline run is already in progress")

const auditWriteTimeout = 10 * time.Second

// CronOrchestrator runs the bulletin pipeline once per invocation and always
// records the outcome.
type CronOrchestrator struct {
	checker    *FreshnessChecker
	fetcher    *BulletinFetcher
	planner    *DeliveryPlanner
	dispatcher *DeliveryDispatcher
	bulletins  bulletin.Repository
	senders    []messaging.Sender
	execRepo   cronrun.Repository
	logger     *logrus.Entry

	running sync.Mutex
	now     func() time.Time
}

func NewCronOrchestrator(
	checker *FreshnessChecker,
	fetcher *BulletinFetcher,
	planner *DeliveryPlanner,
	dispatcher *DeliveryDispatcher,
	bulletins bulletin.Repository,
	senders []messaging.Sender,
	execRepo cronrun.Repository,
	logger *logrus.Entry,
) *CronOrchestrator {
	return &CronOrchestrator{
		checker:    checker,
		fetcher:    fetcher,
		planner:    planner,
		dispatcher: dispatcher,
		bulletins:  bulletins,
		senders:    senders,
		execRepo:   execRepo,
		logger:     logger.WithField("component", "cron_orchestrator"),
		now:        time.Now,
	}
}

// Run executes check, fetch, plan and send in strict order. Unit failures
// make the run partial; a stage error makes it failed and is returned. The
// execution row is written on every path, including panics.
//
// Planning covers the current stored bulletin of every subscribed massif, not
// only the ones fetched by this run, so a recipient without a delivery record
// is retried on the next run.
func (o *CronOrchestrator) Run(ctx context.Context) (exec *cronrun.Execution, err error) {
	if !o.running.TryLock() {
		return nil, ErrRunInProgress
	}
	defer o.running.Unlock()

	exec = &cronrun.Execution{ID: uuid.New(), StartedAt: o.now()}
	log := o.logger.WithField("execution_id", exec.ID)
	log.Info("Pipeline run started")

	stage := ""
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		exec.Duration = o.now().Sub(exec.StartedAt)
		switch {
		case err != nil:
			exec.Status = cronrun.StatusFailed
			exec.FailedStage = stage
			exec.Error = err.Error()
		case exec.Failures > 0:
			exec.Status = cronrun.StatusPartial
		default:
			exec.Status = cronrun.StatusSuccess
		}
		exec.Summary = summarize(exec)
		o.writeExecution(ctx, exec, log)

		fields := logrus.Fields{"status": exec.Status, "duration": exec.Duration.String()}
		if err != nil {
			log.WithFields(fields).WithField("stage", stage).WithError(err).Error("Pipeline run failed")
		} else {
			log.WithFields(fields).Info(exec.Summary)
		}
	}()

	stage = StageCheck
	freshness, err := o.checker.CheckForNewBulletins(ctx)
	if err != nil {
		return exec, err
	}
	exec.MassifsChecked = freshness.Checked()
	exec.BulletinsNew = len(freshness.New)
	exec.BulletinsUpdated = len(freshness.Updated)
	exec.Failures += len(freshness.Failed)

	stage = StageFetch
	if len(freshness.ToFetch) > 0 {
		fetched, err := o.fetcher.FetchAndStoreBulletins(ctx, freshness.ToFetch)
		if err != nil {
			return exec, err
		}
		exec.BulletinsStored = len(fetched.Stored)
		exec.Failures += len(fetched.Failed)
	}

	stage = StagePlan
	current, err := o.bulletins.ListLatest(ctx, freshness.Subscribed)
	if err != nil {
		return exec, fmt.Errorf("failed to load current bulletins: %w", err)
	}
	if len(current) == 0 {
		return exec, nil
	}

	for _, sender := range o.senders {
		stage = StagePlan
		destinations, err := o.planner.GenerateSubscriptionDestinations(ctx, current, sender.Platform())
		if err != nil {
			return exec, err
		}

		stage = StageDispatch
		report := o.dispatcher.Send(ctx, sender, destinations)
		exec.DeliveriesSent += report.Sent
		exec.Failures += report.Failures()
	}
	return exec, nil
}

// writeExecution persists the audit row even when the run context is gone.
func (o *CronOrchestrator) writeExecution(ctx context.Context, exec *cronrun.Execution, log *logrus.Entry) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditWriteTimeout)
	defer cancel()
	if err := o.execRepo.Create(writeCtx, exec); err != nil {
		log.WithError(err).Error("Failed to record cron execution")
	}
}

func summarize(e *cronrun.Execution) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d massif(s) vérifié(s), %d nouveau(x), %d mis à jour, %d BRA stocké(s), %d envoi(s)",
		e.MassifsChecked, e.BulletinsNew, e.BulletinsUpdated, e.BulletinsStored, e.DeliveriesSent)
	if e.Failures > 0 {
		fmt.Fprintf(&b, ", %d échec(s)", e.Failures)
	}
	return b.String()
}
