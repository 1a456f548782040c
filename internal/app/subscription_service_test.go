package app

import (
	"context"
	"errors"
	"testing"

	"bra_notification_bot/internal/domain/cronrun"
	"bra_notification_bot/internal/domain/subscription"
)

func TestSubscriptionService_SubscribeDefaultsToBulletin(t *testing.T) {
	repo := &fakeSubsRepo{}
	svc := NewSubscriptionService(repo, testMassifs(), testLogger())
	ctx := context.Background()

	sub, err := svc.Subscribe(ctx, subscription.PlatformTelegram, "42", 18, subscription.ContentPreferences{})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if !sub.Preferences.Bulletin || len(sub.Preferences.Enabled()) != 1 {
		t.Fatalf("expected bulletin-only default, got %+v", sub.Preferences)
	}

	if _, err := svc.Subscribe(ctx, subscription.PlatformTelegram, "42", 999, subscription.DefaultPreferences()); !errors.Is(err, ErrUnknownMassif) {
		t.Fatalf("Subscribe(999) err = %v, want ErrUnknownMassif", err)
	}
}

func TestSubscriptionService_SubscribeTwiceKeepsOneRow(t *testing.T) {
	repo := &fakeSubsRepo{}
	svc := NewSubscriptionService(repo, testMassifs(), testLogger())
	ctx := context.Background()

	svc.Subscribe(ctx, subscription.PlatformWhatsApp, "336", 18, subscription.DefaultPreferences())
	svc.Subscribe(ctx, subscription.PlatformWhatsApp, "336", 18, subscription.ContentPreferences{Weather: true})

	subs, _ := svc.ListForRecipient(ctx, subscription.PlatformWhatsApp, "336")
	if len(subs) != 1 || subs[0].Preferences.Bulletin || !subs[0].Preferences.Weather {
		t.Fatalf("expected one replaced subscription, got %+v", subs)
	}
}

func TestSubscriptionService_ToggleContent(t *testing.T) {
	repo := &fakeSubsRepo{}
	repo.add(subscription.PlatformWhatsApp, "336", 18, subscription.DefaultPreferences())
	svc := NewSubscriptionService(repo, testMassifs(), testLogger())
	ctx := context.Background()

	sub, err := svc.ToggleContent(ctx, subscription.PlatformWhatsApp, "336", 18, subscription.ContentFreshSnow)
	if err != nil || !sub.Preferences.FreshSnow {
		t.Fatalf("ToggleContent = %+v, %v", sub, err)
	}
	if _, err := svc.ToggleContent(ctx, subscription.PlatformWhatsApp, "336", 18, subscription.ContentBulletin); err != nil {
		t.Fatalf("disabling bulletin while fresh snow stays on: %v", err)
	}
	if _, err := svc.ToggleContent(ctx, subscription.PlatformWhatsApp, "336", 18, subscription.ContentFreshSnow); !errors.Is(err, ErrNoContentSelected) {
		t.Fatalf("turning off the last content type: err = %v", err)
	}
	stored, _ := repo.Get(ctx, "336", 18, subscription.PlatformWhatsApp)
	if !stored.Preferences.FreshSnow {
		t.Fatal("refused toggle must not be persisted")
	}

	if _, err := svc.ToggleContent(ctx, subscription.PlatformWhatsApp, "336", 21, subscription.ContentWeather); !errors.Is(err, ErrNotSubscribed) {
		t.Fatalf("toggle on missing subscription: err = %v", err)
	}
}

func TestSubscriptionService_Unsubscribe(t *testing.T) {
	repo := &fakeSubsRepo{}
	repo.add(subscription.PlatformTelegram, "42", 18, subscription.DefaultPreferences())
	repo.add(subscription.PlatformTelegram, "42", 21, subscription.DefaultPreferences())
	repo.add(subscription.PlatformWhatsApp, "42", 21, subscription.DefaultPreferences())
	svc := NewSubscriptionService(repo, testMassifs(), testLogger())
	ctx := context.Background()

	if err := svc.Unsubscribe(ctx, subscription.PlatformTelegram, "42", 18); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	if err := svc.Unsubscribe(ctx, subscription.PlatformTelegram, "42", 18); !errors.Is(err, ErrNotSubscribed) {
		t.Fatalf("second Unsubscribe err = %v, want ErrNotSubscribed", err)
	}
	n, err := svc.UnsubscribeAll(ctx, subscription.PlatformTelegram, "42")
	if err != nil || n != 1 {
		t.Fatalf("UnsubscribeAll = %d, %v; want 1", n, err)
	}
	if subs, _ := svc.ListForRecipient(ctx, subscription.PlatformWhatsApp, "42"); len(subs) != 1 {
		t.Fatal("other platform subscriptions must be untouched")
	}
}

type stubRunner struct{ calls int }

func (r *stubRunner) Run(ctx context.Context) (*cronrun.Execution, error) {
	r.calls++
	return &cronrun.Execution{Status: cronrun.StatusSuccess}, nil
}

func TestAdminService_Authorization(t *testing.T) {
	execs := &fakeExecRepo{}
	runner := &stubRunner{}
	svc := NewAdminService(execs, runner, 1000)
	ctx := context.Background()

	if _, err := svc.TriggerRun(ctx, 5); !errors.Is(err, ErrAdminNotAuthorized) {
		t.Fatalf("non-admin TriggerRun err = %v", err)
	}
	if _, err := svc.TriggerRun(ctx, 1000); err != nil || runner.calls != 1 {
		t.Fatalf("admin TriggerRun err = %v, calls = %d", err, runner.calls)
	}
	if _, err := svc.RecentExecutions(ctx, 5, 5); !errors.Is(err, ErrAdminNotAuthorized) {
		t.Fatalf("non-admin RecentExecutions err = %v", err)
	}

	unset := NewAdminService(execs, runner, 0)
	if _, err := unset.TriggerRun(ctx, 0); !errors.Is(err, ErrAdminNotAuthorized) {
		t.Fatal("no admin configured means nobody is admin")
	}
}
