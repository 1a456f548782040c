package app

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"bra_notification_bot/internal/domain/bulletin"
	"bra_notification_bot/internal/domain/subscription"
)

var (
	jan1 = time.Date(2024, 1, 1, 6, 0, 0, 0, time.UTC)
	jan2 = time.Date(2024, 1, 2, 6, 0, 0, 0, time.UTC)
)

func meta(code int, from time.Time, risk int32) *bulletin.Metadata {
	m := &bulletin.Metadata{MassifCode: code, ValidFrom: from, ValidTo: from.Add(30 * time.Hour)}
	if risk >= 0 {
		m.RiskLevel = sql.NullInt32{Int32: risk, Valid: true}
	}
	return m
}

func TestClassify(t *testing.T) {
	stored := map[int]time.Time{18: jan2}
	tests := []struct {
		name string
		meta bulletin.Metadata
		want Freshness
	}{
		{"no stored bulletin", bulletin.Metadata{MassifCode: 21, ValidFrom: jan1}, FreshnessNew},
		{"strictly later", bulletin.Metadata{MassifCode: 18, ValidFrom: jan2.Add(time.Second)}, FreshnessUpdated},
		{"equal", bulletin.Metadata{MassifCode: 18, ValidFrom: jan2}, FreshnessUnchanged},
		{"earlier", bulletin.Metadata{MassifCode: 18, ValidFrom: jan1}, FreshnessUnchanged},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.meta, stored); got != tt.want {
				t.Errorf("Classify = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestCheckForNewBulletins_IsolatesFailures(t *testing.T) {
	subs := &fakeSubsRepo{}
	subs.add(subscription.PlatformTelegram, "1", 18, subscription.DefaultPreferences())
	subs.add(subscription.PlatformWhatsApp, "2", 21, subscription.DefaultPreferences())
	subs.add(subscription.PlatformTelegram, "3", 3, subscription.DefaultPreferences())
	subs.add(subscription.PlatformTelegram, "4", 17, subscription.DefaultPreferences())

	bulletins := &fakeBulletinRepo{rows: []*bulletin.Bulletin{
		{MassifCode: 18, ValidFrom: jan1},
		{MassifCode: 3, ValidFrom: jan2},
	}}
	source := &fakeMetadata{
		metas: map[int]*bulletin.Metadata{
			18: meta(18, jan2, 3),
			3:  meta(3, jan2, 2),
			17: {MassifCode: 17, ValidFrom: jan2}, // no valid_to
		},
		errs: map[int]error{21: errors.New("timeout")},
	}
	alerter := &fakeAlerter{}
	checker := NewFreshnessChecker(subs, bulletins, source, alerter, time.Second, 4, testLogger())

	report, err := checker.CheckForNewBulletins(context.Background())
	if err != nil {
		t.Fatalf("CheckForNewBulletins: %v", err)
	}

	if len(report.Updated) != 1 || report.Updated[0] != 18 {
		t.Errorf("Updated = %v, want [18]", report.Updated)
	}
	if len(report.Unchanged) != 1 || report.Unchanged[0] != 3 {
		t.Errorf("Unchanged = %v, want [3]", report.Unchanged)
	}
	if len(report.Failed) != 2 {
		t.Fatalf("Failed = %v, want massifs 17 and 21", report.Failed)
	}
	if report.Failed[0].MassifCode != 17 || report.Failed[1].MassifCode != 21 {
		t.Errorf("Failed codes = %d, %d", report.Failed[0].MassifCode, report.Failed[1].MassifCode)
	}
	if len(report.ToFetch) != 1 || report.ToFetch[0].MassifCode != 18 || report.ToFetch[0].RiskLevel.Int32 != 3 {
		t.Errorf("ToFetch = %+v", report.ToFetch)
	}
	if report.Checked() != 4 {
		t.Errorf("Checked = %d, want 4", report.Checked())
	}
	if alerter.count() != 1 {
		t.Errorf("expected one aggregated alert, got %d", alerter.count())
	}
}

func TestCheckForNewBulletins_NoSubscribers(t *testing.T) {
	checker := NewFreshnessChecker(&fakeSubsRepo{}, &fakeBulletinRepo{}, &fakeMetadata{}, &fakeAlerter{}, time.Second, 2, testLogger())
	report, err := checker.CheckForNewBulletins(context.Background())
	if err != nil {
		t.Fatalf("CheckForNewBulletins: %v", err)
	}
	if report.Checked() != 0 || len(report.ToFetch) != 0 {
		t.Fatalf("expected an empty report, got %+v", report)
	}
}

func TestCheckForNewBulletins_StoreFailureIsReturned(t *testing.T) {
	subs := &fakeSubsRepo{}
	subs.add(subscription.PlatformTelegram, "1", 18, subscription.DefaultPreferences())
	checker := NewFreshnessChecker(subs, &fakeBulletinRepo{latestErr: errors.New("connection refused")}, &fakeMetadata{}, &fakeAlerter{}, time.Second, 2, testLogger())
	if _, err := checker.CheckForNewBulletins(context.Background()); err == nil {
		t.Fatal("expected store failure to propagate")
	}
}
