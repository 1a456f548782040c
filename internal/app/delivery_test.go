package app

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"bra_notification_bot/internal/command"
	"bra_notification_bot/internal/domain/bulletin"
	"bra_notification_bot/internal/domain/subscription"
)

func newTestDispatcher(dr *fakeDeliveryRepo, images ImageSource, alerter *fakeAlerter, sleeps *int) *DeliveryDispatcher {
	d := NewDeliveryDispatcher(dr, images, alerter, DispatcherConfig{
		BatchSizes: map[subscription.Platform]int{
			subscription.PlatformTelegram: 20,
			subscription.PlatformWhatsApp: 10,
		},
		BatchDelay: time.Second,
	}, testLogger())
	d.sleep = func(ctx context.Context, dur time.Duration) error {
		if sleeps != nil {
			*sleeps++
		}
		return ctx.Err()
	}
	return d
}

func vanoiseBulletin() *bulletin.Bulletin {
	return &bulletin.Bulletin{MassifCode: 18, ValidFrom: jan2, ValidTo: jan2.Add(30 * time.Hour), Filename: "BRA_vanoise.pdf", PublicURL: "https://x/vanoise.pdf"}
}

func TestPlan_ExcludesDeliveredAndDuplicates(t *testing.T) {
	dr := newFakeDeliveryRepo()
	dr.mark("b", 18, jan2, subscription.PlatformTelegram)
	dr.mark("a", 21, jan2, subscription.PlatformTelegram)
	planner := NewDeliveryPlanner(&fakeSubsRepo{}, dr, testMassifs(), testLogger())

	ecrins := &bulletin.Bulletin{MassifCode: 21, ValidFrom: jan2}
	byMassif := map[int][]subscription.Subscriber{
		18: {{RecipientID: "a"}, {RecipientID: "b"}, {RecipientID: "a"}},
		21: {{RecipientID: "a"}},
	}
	dests, err := planner.Plan(context.Background(), []*bulletin.Bulletin{vanoiseBulletin(), ecrins}, byMassif, subscription.PlatformTelegram)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(dests) != 1 {
		t.Fatalf("expected only Vanoise, got %d destinations", len(dests))
	}
	if dests[0].MassifName != "Vanoise" || len(dests[0].Recipients) != 1 || dests[0].Recipients[0].RecipientID != "a" {
		t.Fatalf("unexpected destination %+v", dests[0])
	}
	if dr.lookups != 2 {
		t.Errorf("expected one delivery lookup per massif, got %d", dr.lookups)
	}
}

func TestPlan_OtherPlatformRecordDoesNotCount(t *testing.T) {
	dr := newFakeDeliveryRepo()
	dr.mark("a", 18, jan2, subscription.PlatformWhatsApp)
	planner := NewDeliveryPlanner(&fakeSubsRepo{}, dr, testMassifs(), testLogger())

	dests, err := planner.Plan(context.Background(), []*bulletin.Bulletin{vanoiseBulletin()},
		map[int][]subscription.Subscriber{18: {{RecipientID: "a"}}}, subscription.PlatformTelegram)
	if err != nil || len(dests) != 1 {
		t.Fatalf("Plan = %v, %v; want one destination", dests, err)
	}
}

func TestSend_IdempotentAcrossRuns(t *testing.T) {
	dr := newFakeDeliveryRepo()
	subs := &fakeSubsRepo{}
	subs.add(subscription.PlatformTelegram, "a", 18, subscription.DefaultPreferences())
	planner := NewDeliveryPlanner(subs, dr, testMassifs(), testLogger())
	dispatcher := newTestDispatcher(dr, &fakeImages{}, &fakeAlerter{}, nil)
	sender := newFakeSender(subscription.PlatformTelegram)
	ctx := context.Background()

	for run := 0; run < 2; run++ {
		dests, err := planner.GenerateSubscriptionDestinations(ctx, []*bulletin.Bulletin{vanoiseBulletin()}, subscription.PlatformTelegram)
		if err != nil {
			t.Fatalf("run %d: %v", run, err)
		}
		dispatcher.Send(ctx, sender, dests)
	}
	if got := len(sender.docs["a"]); got != 1 {
		t.Fatalf("recipient received %d documents over two runs, want 1", got)
	}
}

func TestSend_BatchesWithDelay(t *testing.T) {
	var sleeps int
	dr := newFakeDeliveryRepo()
	dispatcher := newTestDispatcher(dr, nil, &fakeAlerter{}, &sleeps)
	sender := newFakeSender(subscription.PlatformTelegram)

	var recipients []subscription.Subscriber
	for i := 0; i < 45; i++ {
		recipients = append(recipients, subscription.Subscriber{RecipientID: fmt.Sprintf("r%02d", i), Preferences: subscription.DefaultPreferences()})
	}
	report := dispatcher.Send(context.Background(), sender, []Destination{{Bulletin: vanoiseBulletin(), MassifName: "Vanoise", Recipients: recipients}})

	if report.Sent != 45 {
		t.Fatalf("Sent = %d, want 45", report.Sent)
	}
	if sleeps != 2 {
		t.Fatalf("45 items in batches of 20 need 2 inter-batch delays, got %d", sleeps)
	}
	if dr.creates != 45 {
		t.Fatalf("expected 45 delivery records, got %d", dr.creates)
	}
}

func TestSend_IsolatesSendAndRecordFailures(t *testing.T) {
	dr := newFakeDeliveryRepo()
	dr.failCreate["c"] = true
	alerter := &fakeAlerter{}
	dispatcher := newTestDispatcher(dr, nil, alerter, nil)
	sender := newFakeSender(subscription.PlatformTelegram)
	sender.failDoc["b"] = true

	prefs := subscription.DefaultPreferences()
	report := dispatcher.Send(context.Background(), sender, []Destination{{
		Bulletin:   vanoiseBulletin(),
		MassifName: "Vanoise",
		Recipients: []subscription.Subscriber{{RecipientID: "a", Preferences: prefs}, {RecipientID: "b", Preferences: prefs}, {RecipientID: "c", Preferences: prefs}},
	}})

	if report.Sent != 2 {
		t.Errorf("Sent = %d, want 2 (a recorded, c sent without record)", report.Sent)
	}
	if len(report.SendFailures) != 1 || report.SendFailures[0].RecipientID != "b" {
		t.Errorf("SendFailures = %+v, want b", report.SendFailures)
	}
	if len(report.RecordFailures) != 1 || report.RecordFailures[0].RecipientID != "c" {
		t.Errorf("RecordFailures = %+v, want c", report.RecordFailures)
	}
	if dr.has("b", 18, jan2, subscription.PlatformTelegram) {
		t.Error("failed send must not be recorded")
	}
	if alerter.count() != 1 {
		t.Fatalf("expected one aggregated alert, got %d", alerter.count())
	}
	if !strings.Contains(alerter.calls[0].body, "réconcilier") {
		t.Errorf("record failures must be reported distinctly: %q", alerter.calls[0].body)
	}
}

func TestSend_ImagesFetchedOncePerMassif(t *testing.T) {
	images := &fakeImages{fail: map[subscription.ContentType]bool{subscription.ContentWeather: true}}
	dispatcher := newTestDispatcher(newFakeDeliveryRepo(), images, &fakeAlerter{}, nil)
	sender := newFakeSender(subscription.PlatformTelegram)

	withImages := subscription.ContentPreferences{Bulletin: true, RosePentes: true, Weather: true}
	imagesOnly := subscription.ContentPreferences{RosePentes: true}
	report := dispatcher.Send(context.Background(), sender, []Destination{{
		Bulletin:   vanoiseBulletin(),
		MassifName: "Vanoise",
		Recipients: []subscription.Subscriber{
			{RecipientID: "a", Preferences: withImages},
			{RecipientID: "b", Preferences: withImages},
			{RecipientID: "c", Preferences: imagesOnly},
		},
	}})

	if report.Sent != 3 {
		t.Fatalf("Sent = %d, want 3: a failing image must not fail the item", report.Sent)
	}
	if images.calls["18/rose_pentes"] != 1 || images.calls["18/weather"] != 1 {
		t.Errorf("each image must be fetched once per run, got %v", images.calls)
	}
	if len(sender.docs["c"]) != 0 || len(sender.images["c"]) != 1 {
		t.Errorf("c wanted images only, got docs=%d images=%d", len(sender.docs["c"]), len(sender.images["c"]))
	}
	if len(sender.images["a"]) != 1 {
		t.Errorf("a should get the rose des pentes only, got %d images", len(sender.images["a"]))
	}
}

func TestSend_SeveralImagesGoOutAsOneGroup(t *testing.T) {
	images := &fakeImages{fail: map[subscription.ContentType]bool{subscription.ContentFreshSnow: true}}
	dispatcher := newTestDispatcher(newFakeDeliveryRepo(), images, &fakeAlerter{}, nil)
	sender := newGroupSender(subscription.PlatformTelegram)

	many := subscription.ContentPreferences{Bulletin: true, Weather: true, RosePentes: true, FreshSnow: true}
	single := subscription.ContentPreferences{RosePentes: true}
	report := dispatcher.Send(context.Background(), sender, []Destination{{
		Bulletin:   vanoiseBulletin(),
		MassifName: "Vanoise",
		Recipients: []subscription.Subscriber{
			{RecipientID: "a", Preferences: many},
			{RecipientID: "b", Preferences: single},
		},
	}})

	if report.Sent != 2 {
		t.Fatalf("Sent = %d, want 2", report.Sent)
	}
	if len(sender.groups["a"]) != 1 || len(sender.groups["a"][0]) != 2 {
		t.Fatalf("a should get one group of the two available images, got %v", sender.groups["a"])
	}
	if len(sender.images["a"]) != 0 {
		t.Errorf("grouped images must not also go out one by one, got %d", len(sender.images["a"]))
	}
	if len(sender.groups["b"]) != 0 || len(sender.images["b"]) != 1 {
		t.Errorf("a single image is sent on its own, groups=%d images=%d", len(sender.groups["b"]), len(sender.images["b"]))
	}
}

func TestSend_FailedImageGroupFallsBackToDocument(t *testing.T) {
	dr := newFakeDeliveryRepo()
	dispatcher := newTestDispatcher(dr, &fakeImages{}, &fakeAlerter{}, nil)
	sender := newGroupSender(subscription.PlatformTelegram)
	sender.groupErr = fmt.Errorf("Bad Request: wrong file identifier")

	withDoc := subscription.ContentPreferences{Bulletin: true, Weather: true, RosePentes: true}
	imagesOnly := subscription.ContentPreferences{Weather: true, RosePentes: true}
	report := dispatcher.Send(context.Background(), sender, []Destination{{
		Bulletin:   vanoiseBulletin(),
		MassifName: "Vanoise",
		Recipients: []subscription.Subscriber{
			{RecipientID: "a", Preferences: withDoc},
			{RecipientID: "b", Preferences: imagesOnly},
		},
	}})

	if report.Sent != 1 || !dr.has("a", 18, jan2, subscription.PlatformTelegram) {
		t.Fatalf("a still got the bulletin and must count as sent: %+v", report)
	}
	if dr.has("b", 18, jan2, subscription.PlatformTelegram) {
		t.Error("b received nothing and must stay unrecorded")
	}
}

func TestSend_ImagesOnlyAllFailingIsSendFailure(t *testing.T) {
	images := &fakeImages{fail: map[subscription.ContentType]bool{subscription.ContentRosePentes: true}}
	dr := newFakeDeliveryRepo()
	dispatcher := newTestDispatcher(dr, images, &fakeAlerter{}, nil)
	report := dispatcher.Send(context.Background(), newFakeSender(subscription.PlatformTelegram), []Destination{{
		Bulletin:   vanoiseBulletin(),
		MassifName: "Vanoise",
		Recipients: []subscription.Subscriber{{RecipientID: "a", Preferences: subscription.ContentPreferences{RosePentes: true}}},
	}})
	if report.Sent != 0 || len(report.SendFailures) != 1 {
		t.Fatalf("report = %+v, want one send failure", report)
	}
	if dr.creates != 0 {
		t.Fatal("nothing delivered, nothing recorded")
	}
}

func TestSend_WhatsAppFollowUpPerRecipient(t *testing.T) {
	dispatcher := newTestDispatcher(newFakeDeliveryRepo(), nil, &fakeAlerter{}, nil)
	sender := newFakeSender(subscription.PlatformWhatsApp)

	ecrins := &bulletin.Bulletin{MassifCode: 21, ValidFrom: jan2, PublicURL: "https://x/ecrins.pdf"}
	prefs := subscription.DefaultPreferences()
	report := dispatcher.Send(context.Background(), sender, []Destination{
		{Bulletin: vanoiseBulletin(), MassifName: "Vanoise", Recipients: []subscription.Subscriber{{RecipientID: "a", Preferences: prefs}, {RecipientID: "b", Preferences: prefs}}},
		{Bulletin: ecrins, MassifName: "Écrins", Recipients: []subscription.Subscriber{{RecipientID: "a", Preferences: prefs}}},
	})

	if report.FollowUps != 2 || len(sender.buttons) != 2 {
		t.Fatalf("expected one follow-up per recipient, got %d", len(sender.buttons))
	}
	byRecipient := map[string]sentButtons{}
	for _, b := range sender.buttons {
		byRecipient[b.recipient] = b
	}
	if !strings.Contains(byRecipient["a"].body, "Vos 2 bulletins") {
		t.Errorf("plural follow-up expected for a: %q", byRecipient["a"].body)
	}
	if !strings.Contains(byRecipient["b"].body, "Votre bulletin") {
		t.Errorf("singular follow-up expected for b: %q", byRecipient["b"].body)
	}
	if byRecipient["b"].buttons[1].ID != command.UnsubscribeToken(18) {
		t.Errorf("singular follow-up should offer unsubscribing from Vanoise, got %+v", byRecipient["b"].buttons)
	}
}

func TestSend_TelegramHasNoFollowUp(t *testing.T) {
	dispatcher := newTestDispatcher(newFakeDeliveryRepo(), nil, &fakeAlerter{}, nil)
	sender := newFakeSender(subscription.PlatformTelegram)
	dispatcher.Send(context.Background(), sender, []Destination{{
		Bulletin: vanoiseBulletin(), MassifName: "Vanoise",
		Recipients: []subscription.Subscriber{{RecipientID: "a", Preferences: subscription.DefaultPreferences()}},
	}})
	if len(sender.buttons) != 0 {
		t.Fatalf("Telegram deliveries get no follow-up, got %d", len(sender.buttons))
	}
}

func TestSend_CancelledBetweenBatches(t *testing.T) {
	dr := newFakeDeliveryRepo()
	d := newTestDispatcher(dr, nil, &fakeAlerter{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	d.sleep = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}
	d.cfg.BatchSizes[subscription.PlatformTelegram] = 1

	prefs := subscription.DefaultPreferences()
	report := d.Send(ctx, newFakeSender(subscription.PlatformTelegram), []Destination{{
		Bulletin: vanoiseBulletin(), MassifName: "Vanoise",
		Recipients: []subscription.Subscriber{{RecipientID: "a", Preferences: prefs}, {RecipientID: "b", Preferences: prefs}},
	}})
	if report.Sent != 1 || len(report.SendFailures) != 1 {
		t.Fatalf("report = %+v, want 1 sent and 1 unsent", report)
	}
}

func TestDeliverTo(t *testing.T) {
	dr := newFakeDeliveryRepo()
	d := newTestDispatcher(dr, nil, &fakeAlerter{}, nil)
	sender := newFakeSender(subscription.PlatformWhatsApp)

	err := d.DeliverTo(context.Background(), sender, vanoiseBulletin(), "Vanoise", subscription.Subscriber{RecipientID: "a", Preferences: subscription.DefaultPreferences()})
	if err != nil {
		t.Fatalf("DeliverTo: %v", err)
	}
	if !dr.has("a", 18, jan2, subscription.PlatformWhatsApp) {
		t.Error("on-demand delivery should be recorded")
	}
	if len(sender.buttons) != 0 {
		t.Error("on-demand delivery sends no follow-up")
	}

	sender.failDoc["z"] = true
	if err := d.DeliverTo(context.Background(), sender, vanoiseBulletin(), "Vanoise", subscription.Subscriber{RecipientID: "z", Preferences: subscription.DefaultPreferences()}); err == nil {
		t.Fatal("expected the send error")
	}
}
