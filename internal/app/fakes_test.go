package app

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"bra_notification_bot/internal/domain/bulletin"
	"bra_notification_bot/internal/domain/cronrun"
	"bra_notification_bot/internal/domain/delivery"
	"bra_notification_bot/internal/domain/massif"
	"bra_notification_bot/internal/domain/messaging"
	"bra_notification_bot/internal/domain/subscription"
	idb "bra_notification_bot/internal/infra/database"
	"bra_notification_bot/internal/massifs"

	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func testMassifs() *massifs.Directory {
	return massifs.New([]*massif.Massif{
		{Code: 3, Name: "Mont-Blanc", Mountain: "Alpes du Nord"},
		{Code: 17, Name: "Haute-Maurienne", Mountain: "Alpes du Nord"},
		{Code: 18, Name: "Vanoise", Mountain: "Alpes du Nord"},
		{Code: 21, Name: "Écrins", Mountain: "Alpes du Sud"},
	})
}

// fakeSubsRepo keeps subscriptions in memory.
type fakeSubsRepo struct {
	mu     sync.Mutex
	subs   []*subscription.Subscription
	nextID int64
	err    error
}

func (r *fakeSubsRepo) add(platform subscription.Platform, recipient string, code int, prefs subscription.ContentPreferences) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	r.subs = append(r.subs, &subscription.Subscription{ID: r.nextID, RecipientID: recipient, MassifCode: code, Platform: platform, Preferences: prefs})
}

func (r *fakeSubsRepo) ListSubscribedMassifCodes(ctx context.Context) ([]int, error) {
	if r.err != nil {
		return nil, r.err
	}
	seen := map[int]bool{}
	var codes []int
	for _, s := range r.subs {
		if !seen[s.MassifCode] {
			seen[s.MassifCode] = true
			codes = append(codes, s.MassifCode)
		}
	}
	return codes, nil
}

func (r *fakeSubsRepo) ListSubscribersByMassif(ctx context.Context, platform subscription.Platform) (map[int][]subscription.Subscriber, error) {
	if r.err != nil {
		return nil, r.err
	}
	out := map[int][]subscription.Subscriber{}
	for _, s := range r.subs {
		if s.Platform == platform {
			out[s.MassifCode] = append(out[s.MassifCode], subscription.Subscriber{RecipientID: s.RecipientID, Preferences: s.Preferences})
		}
	}
	return out, nil
}

func (r *fakeSubsRepo) find(recipientID string, code int, platform subscription.Platform) int {
	for i, s := range r.subs {
		if s.RecipientID == recipientID && s.MassifCode == code && s.Platform == platform {
			return i
		}
	}
	return -1
}

func (r *fakeSubsRepo) Get(ctx context.Context, recipientID string, code int, platform subscription.Platform) (*subscription.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i := r.find(recipientID, code, platform); i >= 0 {
		cp := *r.subs[i]
		return &cp, nil
	}
	return nil, idb.ErrSubscriptionNotFound
}

func (r *fakeSubsRepo) ListByRecipient(ctx context.Context, recipientID string, platform subscription.Platform) ([]*subscription.Subscription, error) {
	var out []*subscription.Subscription
	for _, s := range r.subs {
		if s.RecipientID == recipientID && s.Platform == platform {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MassifCode < out[j].MassifCode })
	return out, nil
}

func (r *fakeSubsRepo) Upsert(ctx context.Context, s *subscription.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i := r.find(s.RecipientID, s.MassifCode, s.Platform); i >= 0 {
		s.ID = r.subs[i].ID
		cp := *s
		r.subs[i] = &cp
		return nil
	}
	r.nextID++
	s.ID = r.nextID
	cp := *s
	r.subs = append(r.subs, &cp)
	return nil
}

func (r *fakeSubsRepo) Delete(ctx context.Context, recipientID string, code int, platform subscription.Platform) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.find(recipientID, code, platform)
	if i < 0 {
		return idb.ErrSubscriptionNotFound
	}
	r.subs = append(r.subs[:i], r.subs[i+1:]...)
	return nil
}

func (r *fakeSubsRepo) DeleteAll(ctx context.Context, recipientID string, platform subscription.Platform) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var kept []*subscription.Subscription
	var n int64
	for _, s := range r.subs {
		if s.RecipientID == recipientID && s.Platform == platform {
			n++
			continue
		}
		kept = append(kept, s)
	}
	r.subs = kept
	return n, nil
}

type fakeBulletinRepo struct {
	mu            sync.Mutex
	rows          []*bulletin.Bulletin
	bulkCalls     int
	latestErr     error
	listLatestErr error
	bulkErr       error
}

func (r *fakeBulletinRepo) LatestValidFromByMassif(ctx context.Context, codes []int) (map[int]time.Time, error) {
	if r.latestErr != nil {
		return nil, r.latestErr
	}
	out := map[int]time.Time{}
	for _, b := range r.rows {
		if cur, ok := out[b.MassifCode]; !ok || b.ValidFrom.After(cur) {
			out[b.MassifCode] = b.ValidFrom
		}
	}
	return out, nil
}

func (r *fakeBulletinRepo) GetLatest(ctx context.Context, code int) (*bulletin.Bulletin, error) {
	var latest *bulletin.Bulletin
	for _, b := range r.rows {
		if b.MassifCode == code && (latest == nil || b.ValidFrom.After(latest.ValidFrom)) {
			latest = b
		}
	}
	if latest == nil {
		return nil, idb.ErrBulletinNotFound
	}
	return latest, nil
}

func (r *fakeBulletinRepo) ListLatest(ctx context.Context, codes []int) ([]*bulletin.Bulletin, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listLatestErr != nil {
		return nil, r.listLatestErr
	}
	var out []*bulletin.Bulletin
	for _, code := range codes {
		var latest *bulletin.Bulletin
		for _, b := range r.rows {
			if b.MassifCode == code && (latest == nil || b.ValidFrom.After(latest.ValidFrom)) {
				latest = b
			}
		}
		if latest != nil {
			out = append(out, latest)
		}
	}
	return out, nil
}

func (r *fakeBulletinRepo) BulkCreate(ctx context.Context, bulletins []*bulletin.Bulletin) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bulkCalls++
	if r.bulkErr != nil {
		return r.bulkErr
	}
	r.rows = append(r.rows, bulletins...)
	return nil
}

type deliveryKey struct {
	recipient string
	massif    int
	version   int64
	platform  subscription.Platform
}

type fakeDeliveryRepo struct {
	mu         sync.Mutex
	records    map[deliveryKey]bool
	lookups    int
	failCreate map[string]bool // recipient ids whose record write fails
	creates    int
	listErr    error
}

func newFakeDeliveryRepo() *fakeDeliveryRepo {
	return &fakeDeliveryRepo{records: map[deliveryKey]bool{}, failCreate: map[string]bool{}}
}

func (r *fakeDeliveryRepo) mark(recipient string, code int, version time.Time, platform subscription.Platform) {
	r.records[deliveryKey{recipient, code, version.Unix(), platform}] = true
}

func (r *fakeDeliveryRepo) has(recipient string, code int, version time.Time, platform subscription.Platform) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.records[deliveryKey{recipient, code, version.Unix(), platform}]
}

func (r *fakeDeliveryRepo) ListDelivered(ctx context.Context, code int, validFrom time.Time, platform subscription.Platform, ids []string) (map[string]bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lookups++
	if r.listErr != nil {
		return nil, r.listErr
	}
	out := map[string]bool{}
	for _, id := range ids {
		if r.records[deliveryKey{id, code, validFrom.Unix(), platform}] {
			out[id] = true
		}
	}
	return out, nil
}

func (r *fakeDeliveryRepo) Create(ctx context.Context, rec *delivery.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.creates++
	if r.failCreate[rec.RecipientID] {
		return fmt.Errorf("insert failed")
	}
	r.records[deliveryKey{rec.RecipientID, rec.MassifCode, rec.ValidFrom.Unix(), rec.Platform}] = true
	return nil
}

type fakeMetadata struct {
	metas map[int]*bulletin.Metadata
	errs  map[int]error
}

func (f *fakeMetadata) FetchMetadata(ctx context.Context, code int) (*bulletin.Metadata, error) {
	if err := f.errs[code]; err != nil {
		return nil, err
	}
	m, ok := f.metas[code]
	if !ok {
		return nil, fmt.Errorf("massif %d: 404", code)
	}
	if m == nil {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

type fakeDocuments struct {
	fail map[int]bool
}

func (f *fakeDocuments) OpenPDF(ctx context.Context, code int) (io.ReadCloser, error) {
	if f.fail[code] {
		return nil, fmt.Errorf("upstream returned 503")
	}
	return io.NopCloser(strings.NewReader("%PDF-1.4 massif")), nil
}

type fakeStorage struct {
	mu      sync.Mutex
	objects map[string]string
}

func (s *fakeStorage) Upload(ctx context.Context, name string, r io.Reader, contentType string) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.objects == nil {
		s.objects = map[string]string{}
	}
	s.objects[name] = string(data)
	return "https://storage.googleapis.com/bra/" + name, nil
}

type fakeImages struct {
	mu    sync.Mutex
	calls map[string]int
	fail  map[subscription.ContentType]bool
}

func (f *fakeImages) FetchImage(ctx context.Context, code int, ct subscription.ContentType) ([]byte, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[fmt.Sprintf("%d/%s", code, ct)]++
	if f.fail[ct] {
		return nil, "", fmt.Errorf("image %s unavailable", ct)
	}
	return []byte("png-" + string(ct)), "image/png", nil
}

type sentButtons struct {
	recipient string
	body      string
	buttons   []messaging.Button
}

type fakeSender struct {
	platform subscription.Platform
	mu       sync.Mutex
	docs     map[string][]messaging.Document
	images   map[string][]messaging.Image
	texts    map[string][]string
	buttons  []sentButtons
	failDoc  map[string]bool
}

func newFakeSender(p subscription.Platform) *fakeSender {
	return &fakeSender{
		platform: p,
		docs:     map[string][]messaging.Document{},
		images:   map[string][]messaging.Image{},
		texts:    map[string][]string{},
		failDoc:  map[string]bool{},
	}
}

func (s *fakeSender) Platform() subscription.Platform { return s.platform }

func (s *fakeSender) SendText(ctx context.Context, rid, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts[rid] = append(s.texts[rid], text)
	return nil
}

func (s *fakeSender) SendDocument(ctx context.Context, rid string, doc messaging.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failDoc[rid] {
		return fmt.Errorf("recipient blocked the bot")
	}
	s.docs[rid] = append(s.docs[rid], doc)
	return nil
}

func (s *fakeSender) SendImage(ctx context.Context, rid string, img messaging.Image) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.images[rid] = append(s.images[rid], img)
	return nil
}

func (s *fakeSender) SendButtons(ctx context.Context, rid, body string, buttons []messaging.Button) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buttons = append(s.buttons, sentButtons{recipient: rid, body: body, buttons: buttons})
	return nil
}

func (s *fakeSender) docCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, d := range s.docs {
		n += len(d)
	}
	return n
}

// groupSender adds grouped image delivery on top of fakeSender.
type groupSender struct {
	*fakeSender
	groups   map[string][][]messaging.Image
	groupErr error
}

func newGroupSender(p subscription.Platform) *groupSender {
	return &groupSender{fakeSender: newFakeSender(p), groups: map[string][][]messaging.Image{}}
}

func (s *groupSender) SendImageGroup(ctx context.Context, rid string, imgs []messaging.Image) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.groupErr != nil {
		return s.groupErr
	}
	s.groups[rid] = append(s.groups[rid], imgs)
	return nil
}

type alertCall struct {
	subject string
	body    string
}

type fakeAlerter struct {
	mu    sync.Mutex
	calls []alertCall
}

func (a *fakeAlerter) Notify(ctx context.Context, subject, body string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, alertCall{subject, body})
}

func (a *fakeAlerter) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.calls)
}

type fakeExecRepo struct {
	mu         sync.Mutex
	executions []*cronrun.Execution
	err        error
}

func (r *fakeExecRepo) Create(ctx context.Context, e *cronrun.Execution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *e
	r.executions = append(r.executions, &cp)
	return r.err
}

func (r *fakeExecRepo) ListRecent(ctx context.Context, limit int) ([]*cronrun.Execution, error) {
	out := make([]*cronrun.Execution, 0, limit)
	for i := len(r.executions) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, r.executions[i])
	}
	return out, nil
}

func noSleep(ctx context.Context, d time.Duration) error { return ctx.Err() }
