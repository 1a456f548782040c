package app

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"bra_notification_bot/internal/domain/alert"
	"bra_notification_bot/internal/domain/bulletin"
	"bra_notification_bot/internal/domain/subscription"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// MetadataSource reports the current upstream bulletin of a massif.
type MetadataSource interface {
	FetchMetadata(ctx context.Context, massifCode int) (*bulletin.Metadata, error)
}

// Freshness classifies one massif against the stored bulletins.
type Freshness string

const (
	FreshnessNew       Freshness = "new"
	FreshnessUpdated   Freshness = "updated"
	FreshnessUnchanged Freshness = "unchanged"
	FreshnessFailed    Freshness = "failed"
)

// MassifFailure is a per-massif failure isolated from the rest of the batch.
type MassifFailure struct {
	MassifCode int
	Err        error
}

// FreshnessReport is the outcome of one freshness check.
type FreshnessReport struct {
	Subscribed []int               // every massif with at least one subscriber
	ToFetch    []bulletin.Metadata // new ∪ updated
	New        []int
	Updated    []int
	Unchanged  []int
	Failed     []MassifFailure
}

// Checked returns how many massifs were looked at.
func (r *FreshnessReport) Checked() int {
	return len(r.New) + len(r.Updated) + len(r.Unchanged) + len(r.Failed)
}

// Classify compares freshly fetched metadata with the stored maximum ValidFrom.
// Only a strictly later ValidFrom is an update.
func Classify(meta bulletin.Metadata, stored map[int]time.Time) Freshness {
	latest, ok := stored[meta.MassifCode]
	if !ok {
		return FreshnessNew
	}
	if meta.ValidFrom.After(latest) {
		return FreshnessUpdated
	}
	return FreshnessUnchanged
}

// FreshnessChecker decides which subscribed massifs need their bulletin refetched.
type FreshnessChecker struct {
	subsRepo       subscription.Repository
	bulletinRepo   bulletin.Repository
	source         MetadataSource
	alerter        alert.Notifier
	requestTimeout time.Duration
	concurrency    int
	logger         *logrus.Entry
}

func NewFreshnessChecker(
	sr subscription.Repository,
	br bulletin.Repository,
	source MetadataSource,
	alerter alert.Notifier,
	requestTimeout time.Duration,
	concurrency int,
	logger *logrus.Entry,
) *FreshnessChecker {
	if concurrency < 1 {
		concurrency = 1
	}
	return &FreshnessChecker{
		subsRepo:       sr,
		bulletinRepo:   br,
		source:         source,
		alerter:        alerter,
		requestTimeout: requestTimeout,
		concurrency:    concurrency,
		logger:         logger.WithField("component", "freshness_checker"),
	}
}

// CheckForNewBulletins fetches upstream metadata for every subscribed massif
// and classifies each one. Per-massif failures are collected, alerted and
// returned in the report; only store failures are returned as errors.
func (c *FreshnessChecker) CheckForNewBulletins(ctx context.Context) (*FreshnessReport, error) {
	codes, err := c.subsRepo.ListSubscribedMassifCodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscribed massifs: %w", err)
	}
	report := &FreshnessReport{}
	if len(codes) == 0 {
		c.logger.Info("No subscribed massifs, nothing to check")
		return report, nil
	}
	sort.Ints(codes)
	report.Subscribed = codes

	stored, err := c.bulletinRepo.LatestValidFromByMassif(ctx, codes)
	if err != nil {
		return nil, fmt.Errorf("failed to load latest stored bulletins: %w", err)
	}

	type result struct {
		meta *bulletin.Metadata
		err  error
	}
	results := make([]result, len(codes))

	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for i, code := range codes {
		g.Go(func() error {
			reqCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
			defer cancel()
			meta, err := c.source.FetchMetadata(reqCtx, code)
			if err == nil && (meta == nil || meta.ValidFrom.IsZero() || meta.ValidTo.IsZero()) {
				err = fmt.Errorf("incomplete bulletin metadata")
			}
			results[i] = result{meta: meta, err: err}
			return nil // all-settled: a failing massif never cancels its siblings
		})
	}
	_ = g.Wait()

	for i, code := range codes {
		r := results[i]
		if r.err != nil {
			c.logger.WithFields(logrus.Fields{"massif": code}).WithError(r.err).Warn("Failed to fetch bulletin metadata")
			report.Failed = append(report.Failed, MassifFailure{MassifCode: code, Err: r.err})
			continue
		}
		meta := *r.meta
		meta.MassifCode = code
		switch Classify(meta, stored) {
		case FreshnessNew:
			report.New = append(report.New, code)
			report.ToFetch = append(report.ToFetch, meta)
		case FreshnessUpdated:
			report.Updated = append(report.Updated, code)
			report.ToFetch = append(report.ToFetch, meta)
		default:
			report.Unchanged = append(report.Unchanged, code)
		}
	}

	c.logger.WithFields(logrus.Fields{
		"checked":   report.Checked(),
		"new":       len(report.New),
		"updated":   len(report.Updated),
		"unchanged": len(report.Unchanged),
		"failed":    len(report.Failed),
	}).Info("Bulletin freshness check complete")

	if len(report.Failed) > 0 {
		c.alerter.Notify(ctx, "Vérification des BRA incomplète", formatMassifFailures(report.Failed))
	}
	return report, nil
}

func formatMassifFailures(failures []MassifFailure) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d massif(s) en échec:\n", len(failures))
	for _, f := range failures {
		fmt.Fprintf(&b, "- massif %d: %v\n", f.MassifCode, f.Err)
	}
	return b.String()
}
