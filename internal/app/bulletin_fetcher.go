package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"bra_notification_bot/internal/domain/alert"
	"bra_notification_bot/internal/domain/bulletin"
	"bra_notification_bot/internal/domain/massif"
	idb "bra_notification_bot/internal/infra/database"
	"bra_notification_bot/internal/textnorm"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// DocumentSource streams the PDF of the current bulletin of a massif.
type DocumentSource interface {
	OpenPDF(ctx context.Context, massifCode int) (io.ReadCloser, error)
}

// ObjectStorage uploads a publicly readable object and returns its public URL.
type ObjectStorage interface {
	Upload(ctx context.Context, objectName string, r io.Reader, contentType string) (string, error)
}

// MassifLookup resolves massif codes. *massifs.Directory satisfies it.
type MassifLookup interface {
	ByCode(code int) *massif.Massif
}

// FetchReport is the outcome of one fetch-and-store pass.
type FetchReport struct {
	Stored []*bulletin.Bulletin
	Failed []MassifFailure
}

// BulletinFetcher downloads bulletin PDFs, uploads them to object storage and
// persists the bulletin rows in one batch.
type BulletinFetcher struct {
	bulletinRepo bulletin.Repository
	metadata     MetadataSource
	documents    DocumentSource
	storage      ObjectStorage
	massifs      MassifLookup
	alerter      alert.Notifier
	scratchDir   string
	concurrency  int
	logger       *logrus.Entry
}

func NewBulletinFetcher(
	br bulletin.Repository,
	metadata MetadataSource,
	documents DocumentSource,
	storage ObjectStorage,
	massifs MassifLookup,
	alerter alert.Notifier,
	scratchDir string,
	concurrency int,
	logger *logrus.Entry,
) *BulletinFetcher {
	if concurrency < 1 {
		concurrency = 1
	}
	return &BulletinFetcher{
		bulletinRepo: br,
		metadata:     metadata,
		documents:    documents,
		storage:      storage,
		massifs:      massifs,
		alerter:      alerter,
		scratchDir:   scratchDir,
		concurrency:  concurrency,
		logger:       logger.WithField("component", "bulletin_fetcher"),
	}
}

// BulletinFilename encodes massif name, validity start and optional risk level.
func BulletinFilename(massifName string, meta bulletin.Metadata) string {
	name := textnorm.Slug(massifName)
	if name == "" {
		name = fmt.Sprintf("massif_%d", meta.MassifCode)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "BRA_%s_%s", name, meta.ValidFrom.UTC().Format("2006-01-02_15h04"))
	if meta.RiskLevel.Valid {
		fmt.Fprintf(&b, "_risque%d", meta.RiskLevel.Int32)
	}
	b.WriteString(".pdf")
	return b.String()
}

// FetchAndStoreBulletins downloads and uploads every bulletin concurrently,
// then inserts the successful ones with a single batched insert.
// A failing massif is reported and excluded; it never fails the pass.
func (f *BulletinFetcher) FetchAndStoreBulletins(ctx context.Context, metas []bulletin.Metadata) (*FetchReport, error) {
	report := &FetchReport{}
	if len(metas) == 0 {
		return report, nil
	}

	type result struct {
		b   *bulletin.Bulletin
		err error
	}
	results := make([]result, len(metas))

	var g errgroup.Group
	g.SetLimit(f.concurrency)
	for i, meta := range metas {
		g.Go(func() error {
			b, err := f.fetchOne(ctx, meta)
			results[i] = result{b: b, err: err}
			return nil
		})
	}
	_ = g.Wait()

	staged := make([]*bulletin.Bulletin, 0, len(metas))
	for i, r := range results {
		if r.err != nil {
			f.logger.WithField("massif", metas[i].MassifCode).WithError(r.err).Warn("Failed to fetch bulletin")
			report.Failed = append(report.Failed, MassifFailure{MassifCode: metas[i].MassifCode, Err: r.err})
			continue
		}
		staged = append(staged, r.b)
	}

	if len(report.Failed) > 0 {
		f.alerter.Notify(ctx, "Téléchargement des BRA incomplet", formatMassifFailures(report.Failed))
	}
	if len(staged) == 0 {
		return report, nil
	}

	if err := f.bulletinRepo.BulkCreate(ctx, staged); err != nil {
		return report, fmt.Errorf("failed to insert %d bulletins: %w", len(staged), err)
	}
	report.Stored = staged
	f.logger.WithFields(logrus.Fields{"stored": len(staged), "failed": len(report.Failed)}).Info("Bulletins stored")
	return report, nil
}

// FetchLatest fetches and stores the current upstream bulletin of a single massif.
// Used for on-demand requests when nothing is stored yet.
func (f *BulletinFetcher) FetchLatest(ctx context.Context, massifCode int) (*bulletin.Bulletin, error) {
	meta, err := f.metadata.FetchMetadata(ctx, massifCode)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch metadata for massif %d: %w", massifCode, err)
	}
	if meta == nil || meta.ValidFrom.IsZero() || meta.ValidTo.IsZero() {
		return nil, fmt.Errorf("incomplete bulletin metadata for massif %d", massifCode)
	}
	meta.MassifCode = massifCode
	report, err := f.FetchAndStoreBulletins(ctx, []bulletin.Metadata{*meta})
	if err != nil {
		return nil, err
	}
	if len(report.Stored) == 0 {
		if len(report.Failed) > 0 {
			return nil, report.Failed[0].Err
		}
		return nil, fmt.Errorf("no bulletin stored for massif %d", massifCode)
	}
	return report.Stored[0], nil
}

func (f *BulletinFetcher) fetchOne(ctx context.Context, meta bulletin.Metadata) (*bulletin.Bulletin, error) {
	name := fmt.Sprintf("massif %d", meta.MassifCode)
	if m := f.massifs.ByCode(meta.MassifCode); m != nil {
		name = m.Name
	}
	filename := BulletinFilename(name, meta)

	body, err := f.documents.OpenPDF(ctx, meta.MassifCode)
	if err != nil {
		return nil, fmt.Errorf("download pdf: %w", err)
	}
	defer body.Close()

	scratch, err := os.CreateTemp(f.scratchDir, "bra-*.pdf")
	if err != nil {
		return nil, fmt.Errorf("create scratch file: %w", err)
	}
	defer func() {
		scratch.Close()
		os.Remove(scratch.Name())
	}()

	if _, err := io.Copy(scratch, body); err != nil {
		return nil, fmt.Errorf("write scratch file: %w", err)
	}
	if _, err := scratch.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind scratch file: %w", err)
	}

	objectName := fmt.Sprintf("bulletins/%d/%s", meta.MassifCode, filename)
	publicURL, err := f.storage.Upload(ctx, objectName, scratch, "application/pdf")
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", objectName, err)
	}

	return &bulletin.Bulletin{
		MassifCode: meta.MassifCode,
		ValidFrom:  meta.ValidFrom,
		ValidTo:    meta.ValidTo,
		RiskLevel:  meta.RiskLevel,
		Filename:   filename,
		PublicURL:  publicURL,
		CreatedAt:  time.Now(),
	}, nil
}

// LatestOrFetch returns the latest stored bulletin of a massif, fetching it
// from upstream when nothing is stored yet.
func (f *BulletinFetcher) LatestOrFetch(ctx context.Context, massifCode int) (*bulletin.Bulletin, error) {
	b, err := f.bulletinRepo.GetLatest(ctx, massifCode)
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, idb.ErrBulletinNotFound) {
		return nil, fmt.Errorf("failed to load latest bulletin: %w", err)
	}
	f.logger.WithField("massif", massifCode).Info("No stored bulletin, fetching on demand")
	return f.FetchLatest(ctx, massifCode)
}
