package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/threadscope/threadscope-backend/internal/logger"
)

// SnapshotArchive stores raw HTML captures from the fetch stage. It is
// optional wiring: with no bucket configured every call is a cheap
// no-op and the pipeline carries on without lineage objects.
type SnapshotArchive interface {
	Enabled() bool
	ArchiveHTML(ctx context.Context, postURL string, html string) (string, error)
	Close() error
}

type snapshotArchive struct {
	log    *logger.Logger
	client *storage.Client
	bucket string
}

type disabledArchive struct{}

func (disabledArchive) Enabled() bool { return false }
func (disabledArchive) ArchiveHTML(context.Context, string, string) (string, error) {
	return "", nil
}
func (disabledArchive) Close() error { return nil }

// NewSnapshotArchive reads SNAPSHOT_BUCKET; an empty value disables
// archival entirely.
func NewSnapshotArchive(baseLog *logger.Logger) (SnapshotArchive, error) {
	log := baseLog.With("service", "SnapshotArchive")
	bucket := strings.TrimSpace(os.Getenv("SNAPSHOT_BUCKET"))
	if bucket == "" {
		log.Info("snapshot archive disabled (SNAPSHOT_BUCKET empty)")
		return disabledArchive{}, nil
	}

	saPath := strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS_JSON"))
	if saPath == "" {
		saPath = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}
	ctx := context.Background()
	var (
		client *storage.Client
		err    error
	)
	if saPath != "" {
		client, err = storage.NewClient(ctx, option.WithCredentialsFile(saPath), option.WithScopes(storage.ScopeReadWrite))
	} else {
		client, err = storage.NewClient(ctx, option.WithScopes(storage.ScopeReadWrite))
	}
	if err != nil {
		return nil, fmt.Errorf("storage client: %w", err)
	}
	return &snapshotArchive{log: log, client: client, bucket: bucket}, nil
}

func (s *snapshotArchive) Enabled() bool { return true }

func (s *snapshotArchive) ArchiveHTML(ctx context.Context, postURL string, html string) (string, error) {
	if html == "" {
		return "", nil
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	sum := sha256.Sum256([]byte(postURL))
	key := fmt.Sprintf("snapshots/%s/%s.html",
		time.Now().UTC().Format("2006-01-02"), hex.EncodeToString(sum[:8]))

	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ContentType = "text/html; charset=utf-8"
	if _, err := w.Write([]byte(html)); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close snapshot writer: %w", err)
	}
	s.log.Debug("archived html snapshot", "key", key, "bytes", len(html))
	return "gs://" + s.bucket + "/" + key, nil
}

func (s *snapshotArchive) Close() error { return s.client.Close() }
