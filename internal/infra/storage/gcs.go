// Package storage uploads bulletin PDFs to Google Cloud Storage.
package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/sirupsen/logrus"
)

const publicHost = "https://storage.googleapis.com"

// GCSUploader writes objects into one bucket. The bucket is expected to grant
// public read access, objects are addressed by their public URL.
type GCSUploader struct {
	client *storage.Client
	bucket string
	logger *logrus.Entry
}

// NewGCSUploader uses application default credentials, or STORAGE_EMULATOR_HOST when set.
func NewGCSUploader(ctx context.Context, bucket string, logger *logrus.Entry) (*GCSUploader, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &GCSUploader{
		client: client,
		bucket: bucket,
		logger: logger.WithField("component", "gcs_uploader"),
	}, nil
}

// Upload stores r under objectName and returns its public URL.
func (u *GCSUploader) Upload(ctx context.Context, objectName string, r io.Reader, contentType string) (string, error) {
	w := u.client.Bucket(u.bucket).Object(objectName).NewWriter(ctx)
	w.ContentType = contentType
	w.CacheControl = "public, max-age=3600"
	// Bulletins are small, a single request is enough.
	w.ChunkSize = 0

	n, err := io.Copy(w, r)
	if err != nil {
		_ = w.Close()
		return "", fmt.Errorf("write gs://%s/%s: %w", u.bucket, objectName, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize gs://%s/%s: %w", u.bucket, objectName, err)
	}

	u.logger.WithFields(logrus.Fields{"object": objectName, "bytes": n}).Debug("Object uploaded")
	return PublicURL(u.bucket, objectName), nil
}

func (u *GCSUploader) Close() error {
	return u.client.Close()
}

// PublicURL is the anonymous download URL of an object.
func PublicURL(bucket, objectName string) string {
	segments := strings.Split(objectName, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return fmt.Sprintf("%s/%s/%s", publicHost, bucket, strings.Join(segments, "/"))
}
