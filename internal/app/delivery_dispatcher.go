package app

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"bra_notification_bot/internal/command"
	"bra_notification_bot/internal/domain/alert"
	"bra_notification_bot/internal/domain/bulletin"
	"bra_notification_bot/internal/domain/delivery"
	"bra_notification_bot/internal/domain/messaging"
	"bra_notification_bot/internal/domain/subscription"

	"github.com/sirupsen/logrus"
)

// ImageSource returns the current auxiliary image of a massif for a content type.
type ImageSource interface {
	FetchImage(ctx context.Context, massifCode int, ct subscription.ContentType) (data []byte, mimeType string, err error)
}

// ItemState tracks one (recipient, bulletin) delivery through a dispatch run.
type ItemState string

const (
	ItemPending      ItemState = "pending"
	ItemSent         ItemState = "sent"
	ItemRecorded     ItemState = "recorded"
	ItemSendFailed   ItemState = "send_failed"
	ItemRecordFailed ItemState = "record_failed"
)

// DeliveryFailure is one recipient-level failure.
type DeliveryFailure struct {
	RecipientID string
	MassifCode  int
	Platform    subscription.Platform
	Err         error
}

// DispatchReport summarises a dispatch run. RecordFailures were delivered to
// the recipient but have no delivery record and need reconciliation.
type DispatchReport struct {
	Sent           int
	SendFailures   []DeliveryFailure
	RecordFailures []DeliveryFailure
	FollowUps      int
}

// Failures counts every failed unit of the run.
func (r *DispatchReport) Failures() int {
	return len(r.SendFailures) + len(r.RecordFailures)
}

func (r *DispatchReport) merge(other *DispatchReport) {
	r.Sent += other.Sent
	r.SendFailures = append(r.SendFailures, other.SendFailures...)
	r.RecordFailures = append(r.RecordFailures, other.RecordFailures...)
	r.FollowUps += other.FollowUps
}

// DispatcherConfig sets the static per-platform throttle.
type DispatcherConfig struct {
	BatchSizes map[subscription.Platform]int
	BatchDelay time.Duration
}

const defaultBatchSize = 10

type item struct {
	bulletin   *bulletin.Bulletin
	massifName string
	recipient  subscription.Subscriber
	state      ItemState
	err        error
}

// DeliveryDispatcher sends planned destinations in sequential batches of
// concurrent sends and records each delivery right after its send.
type DeliveryDispatcher struct {
	deliveryRepo delivery.Repository
	images       ImageSource
	alerter      alert.Notifier
	cfg          DispatcherConfig
	sleep        func(ctx context.Context, d time.Duration) error
	now          func() time.Time
	logger       *logrus.Entry
}

func NewDeliveryDispatcher(dr delivery.Repository, images ImageSource, alerter alert.Notifier, cfg DispatcherConfig, logger *logrus.Entry) *DeliveryDispatcher {
	return &DeliveryDispatcher{
		deliveryRepo: dr,
		images:       images,
		alerter:      alerter,
		cfg:          cfg,
		sleep:        sleepContext,
		now:          time.Now,
		logger:       logger.WithField("component", "delivery_dispatcher"),
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *DeliveryDispatcher) batchSize(p subscription.Platform) int {
	if n := d.cfg.BatchSizes[p]; n > 0 {
		return n
	}
	return defaultBatchSize
}

// Send delivers every destination through the sender of its platform.
// Per-recipient failures are isolated and reported, never returned.
func (d *DeliveryDispatcher) Send(ctx context.Context, sender messaging.Sender, destinations []Destination) *DispatchReport {
	report := &DispatchReport{}
	platform := sender.Platform()

	var items []*item
	for _, dest := range destinations {
		for _, r := range dest.Recipients {
			items = append(items, &item{bulletin: dest.Bulletin, massifName: dest.MassifName, recipient: r, state: ItemPending})
		}
	}
	if len(items) == 0 {
		return report
	}

	log := d.logger.WithField("platform", platform)
	images := newImageCache(d.images)
	size := d.batchSize(platform)
	batches := (len(items) + size - 1) / size
	log.WithFields(logrus.Fields{"items": len(items), "batches": batches}).Info("Dispatching bulletins")

	for start := 0; start < len(items); start += size {
		if start > 0 {
			if err := d.sleep(ctx, d.cfg.BatchDelay); err != nil {
				for _, it := range items[start:] {
					it.state, it.err = ItemSendFailed, err
				}
				log.WithError(err).Warn("Dispatch interrupted between batches")
				break
			}
		}
		end := min(start+size, len(items))

		var wg sync.WaitGroup
		for _, it := range items[start:end] {
			wg.Add(1)
			go func() {
				defer wg.Done()
				d.deliver(ctx, sender, images, it)
			}()
		}
		wg.Wait()
	}

	delivered := make(map[string][]*item)
	for _, it := range items {
		failure := DeliveryFailure{RecipientID: it.recipient.RecipientID, MassifCode: it.bulletin.MassifCode, Platform: platform, Err: it.err}
		switch it.state {
		case ItemRecorded:
			report.Sent++
			delivered[it.recipient.RecipientID] = append(delivered[it.recipient.RecipientID], it)
		case ItemRecordFailed:
			report.Sent++
			report.RecordFailures = append(report.RecordFailures, failure)
			delivered[it.recipient.RecipientID] = append(delivered[it.recipient.RecipientID], it)
		default:
			report.SendFailures = append(report.SendFailures, failure)
		}
	}

	if platform == subscription.PlatformWhatsApp {
		report.FollowUps = d.sendFollowUps(ctx, sender, delivered)
	}

	log.WithFields(logrus.Fields{
		"sent":            report.Sent,
		"send_failures":   len(report.SendFailures),
		"record_failures": len(report.RecordFailures),
		"follow_ups":      report.FollowUps,
	}).Info("Dispatch complete")

	if report.Failures() > 0 {
		d.alerter.Notify(ctx, fmt.Sprintf("Envoi %s incomplet", platform), formatDeliveryFailures(report))
	}
	return report
}

// DeliverTo sends one bulletin to a single recipient outside of a cron run
// and records the delivery. The error is the send error; a record failure is
// only logged because the recipient did receive the content.
func (d *DeliveryDispatcher) DeliverTo(ctx context.Context, sender messaging.Sender, b *bulletin.Bulletin, massifName string, recipient subscription.Subscriber) error {
	it := &item{bulletin: b, massifName: massifName, recipient: recipient, state: ItemPending}
	d.deliver(ctx, sender, newImageCache(d.images), it)
	if it.state == ItemSendFailed {
		return it.err
	}
	return nil
}

func (d *DeliveryDispatcher) deliver(ctx context.Context, sender messaging.Sender, images *imageCache, it *item) {
	log := d.logger.WithFields(logrus.Fields{
		"platform":  sender.Platform(),
		"recipient": it.recipient.RecipientID,
		"massif":    it.bulletin.MassifCode,
	})

	if err := d.sendContent(ctx, sender, images, it, log); err != nil {
		it.state, it.err = ItemSendFailed, err
		log.WithError(err).Warn("Failed to send bulletin")
		return
	}
	it.state = ItemSent

	rec := &delivery.Record{
		RecipientID: it.recipient.RecipientID,
		MassifCode:  it.bulletin.MassifCode,
		ValidFrom:   it.bulletin.ValidFrom,
		Platform:    sender.Platform(),
		DeliveredAt: d.now(),
	}
	if err := d.deliveryRepo.Create(ctx, rec); err != nil {
		it.state, it.err = ItemRecordFailed, err
		log.WithError(err).Error("Bulletin sent but delivery record not written")
		return
	}
	it.state = ItemRecorded
}

func (d *DeliveryDispatcher) sendContent(ctx context.Context, sender messaging.Sender, images *imageCache, it *item, log *logrus.Entry) error {
	prefs := it.recipient.Preferences
	if prefs.IsEmpty() {
		return fmt.Errorf("no content type enabled")
	}
	b := it.bulletin
	rid := it.recipient.RecipientID

	docSent := false
	if prefs.Bulletin {
		doc := messaging.Document{URL: b.PublicURL, Filename: b.Filename, Caption: BulletinCaption(it.massifName, b)}
		if err := sender.SendDocument(ctx, rid, doc); err != nil {
			return fmt.Errorf("send document: %w", err)
		}
		docSent = true
	}

	var pending []messaging.Image
	var lastErr error
	for _, ct := range prefs.Images() {
		data, mime, err := images.get(ctx, b.MassifCode, ct)
		if err != nil {
			lastErr = err
			log.WithField("content", ct).WithError(err).Warn("Failed to fetch image")
			continue
		}
		pending = append(pending, messaging.Image{
			Key:      fmt.Sprintf("%d/%s/%d", b.MassifCode, ct, b.ValidFrom.Unix()),
			Data:     data,
			MimeType: mime,
			Caption:  fmt.Sprintf("%s · %s", ct.Label(), it.massifName),
		})
	}

	imagesSent := 0
	if group, ok := sender.(messaging.MediaGroupSender); ok && len(pending) > 1 {
		if err := group.SendImageGroup(ctx, rid, pending); err != nil {
			lastErr = err
			log.WithField("images", len(pending)).WithError(err).Warn("Failed to send image group")
		} else {
			imagesSent = len(pending)
		}
	} else {
		for _, img := range pending {
			if err := sender.SendImage(ctx, rid, img); err != nil {
				lastErr = err
				log.WithField("image", img.Key).WithError(err).Warn("Failed to send image")
				continue
			}
			imagesSent++
		}
	}

	if !docSent && imagesSent == 0 {
		return fmt.Errorf("no image delivered: %w", lastErr)
	}
	return nil
}

// sendFollowUps sends exactly one follow-up per recipient that received something.
func (d *DeliveryDispatcher) sendFollowUps(ctx context.Context, sender messaging.Sender, delivered map[string][]*item) int {
	recipients := make([]string, 0, len(delivered))
	for rid := range delivered {
		recipients = append(recipients, rid)
	}
	sort.Strings(recipients)

	sent := 0
	for _, rid := range recipients {
		body, buttons := followUpMessage(delivered[rid])
		if err := sender.SendButtons(ctx, rid, body, buttons); err != nil {
			d.logger.WithField("recipient", rid).WithError(err).Warn("Failed to send follow-up")
			continue
		}
		sent++
	}
	return sent
}

func followUpMessage(items []*item) (string, []messaging.Button) {
	if len(items) == 1 {
		it := items[0]
		body := fmt.Sprintf("Votre bulletin d'avalanche pour %s vient d'être envoyé.", it.massifName)
		return body, []messaging.Button{
			{ID: command.ManageMassifToken(it.bulletin.MassifCode), Title: "Gérer"},
			{ID: command.UnsubscribeToken(it.bulletin.MassifCode), Title: "Se désabonner"},
		}
	}
	names := make([]string, len(items))
	for i, it := range items {
		names[i] = it.massifName
	}
	body := fmt.Sprintf("Vos %d bulletins d'avalanche (%s) viennent d'être envoyés.", len(items), strings.Join(names, ", "))
	return body, []messaging.Button{
		{ID: command.ManageMenuToken(), Title: "Gérer abonnements"},
		{ID: command.UnsubscribeAllToken(), Title: "Tout désabonner"},
	}
}

// BulletinCaption is the text shown with a bulletin document.
func BulletinCaption(massifName string, b *bulletin.Bulletin) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "BRA %s du %s", massifName, b.ValidFrom.UTC().Format("02/01/2006"))
	if b.RiskLevel.Valid {
		fmt.Fprintf(&sb, " · risque %d/5", b.RiskLevel.Int32)
	}
	return sb.String()
}

func formatDeliveryFailures(r *DispatchReport) string {
	var b strings.Builder
	if len(r.SendFailures) > 0 {
		fmt.Fprintf(&b, "%d envoi(s) en échec:\n", len(r.SendFailures))
		for _, f := range r.SendFailures {
			fmt.Fprintf(&b, "- %s massif %d: %v\n", f.RecipientID, f.MassifCode, f.Err)
		}
	}
	if len(r.RecordFailures) > 0 {
		fmt.Fprintf(&b, "%d envoi(s) réussi(s) sans enregistrement (à réconcilier):\n", len(r.RecordFailures))
		for _, f := range r.RecordFailures {
			fmt.Fprintf(&b, "- %s massif %d: %v\n", f.RecipientID, f.MassifCode, f.Err)
		}
	}
	return b.String()
}

type imageKey struct {
	massifCode int
	content    subscription.ContentType
}

type imageEntry struct {
	once sync.Once
	data []byte
	mime string
	err  error
}

// imageCache fetches each (massif, content type) image at most once per run.
type imageCache struct {
	source  ImageSource
	mu      sync.Mutex
	entries map[imageKey]*imageEntry
}

func newImageCache(source ImageSource) *imageCache {
	return &imageCache{source: source, entries: make(map[imageKey]*imageEntry)}
}

func (c *imageCache) get(ctx context.Context, massifCode int, ct subscription.ContentType) ([]byte, string, error) {
	if c.source == nil {
		return nil, "", fmt.Errorf("no image source configured")
	}
	key := imageKey{massifCode: massifCode, content: ct}
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		e = &imageEntry{}
		c.entries[key] = e
	}
	c.mu.Unlock()

	e.once.Do(func() {
		e.data, e.mime, e.err = c.source.FetchImage(ctx, massifCode, ct)
	})
	return e.data, e.mime, e.err
}
