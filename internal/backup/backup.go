// Package backup snapshots the billing database to S3-compatible storage.
// The subscription store is the engine's only durable state, so a daily
// snapshot plus the provider's payment history is enough to rebuild after a
// disk loss.
package backup

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const keyPrefix = "snapshots/"

// s3Client is an interface for testability.
type s3Client interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, input *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Config holds S3-compatible storage configuration.
type S3Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
}

// Config holds snapshot manager configuration.
type Config struct {
	S3            S3Config
	DBPath        string
	Hour          int // UTC hour of the daily snapshot
	RetentionDays int
}

// Manager takes daily snapshots of the billing database.
type Manager struct {
	mu     sync.RWMutex
	cfg    Config
	db     *sql.DB
	client s3Client
	logger *slog.Logger

	lastRun time.Time
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewManager creates a snapshot manager. With incomplete S3 credentials the
// manager is disabled and Start is a no-op.
func NewManager(cfg Config, db *sql.DB, logger *slog.Logger) *Manager {
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 30
	}
	m := &Manager{cfg: cfg, db: db, logger: logger}
	if cfg.S3.Bucket != "" && cfg.S3.AccessKey != "" && cfg.S3.SecretKey != "" {
		m.client = newS3Client(cfg.S3)
	}
	return m
}

func newS3Client(cfg S3Config) *s3.Client {
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return s3.New(opts)
}

// Enabled reports whether snapshots are configured.
func (m *Manager) Enabled() bool {
	return m.client != nil
}

// Start begins the snapshot schedule loop.
func (m *Manager) Start(ctx context.Context) {
	if m.client == nil {
		return
	}

	m.mu.Lock()
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	m.mu.Unlock()

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(1 * time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.checkSchedule(ctx)
			}
		}
	}()
}

// Stop gracefully stops the manager.
func (m *Manager) Stop() {
	m.mu.RLock()
	cancel := m.cancel
	done := m.done
	m.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (m *Manager) checkSchedule(ctx context.Context) {
	now := time.Now().UTC()
	if now.Hour() != m.cfg.Hour {
		return
	}

	m.mu.RLock()
	ranToday := m.lastRun.Year() == now.Year() && m.lastRun.YearDay() == now.YearDay()
	m.mu.RUnlock()
	if ranToday {
		return
	}

	if err := m.RunNow(ctx); err != nil {
		m.logger.Error("scheduled snapshot failed", "error", err)
		return
	}
	if err := m.Cleanup(ctx); err != nil {
		m.logger.Error("snapshot cleanup failed", "error", err)
	}
}

// RunNow checkpoints the database and uploads a snapshot immediately.
func (m *Manager) RunNow(ctx context.Context) error {
	if m.client == nil {
		return fmt.Errorf("snapshots not configured: S3 credentials missing")
	}

	timestamp := time.Now().UTC().Format("2006-01-02T150405Z")
	key := fmt.Sprintf("%schainbill-%s.db", keyPrefix, timestamp)

	tmpCopy := filepath.Join(os.TempDir(), fmt.Sprintf("chainbill-snapshot-%s.db", timestamp))
	defer os.Remove(tmpCopy)

	// Checkpoint WAL so the main file is complete before copying.
	if _, err := m.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("wal checkpoint: %w", err)
	}
	if err := copyFile(m.cfg.DBPath, tmpCopy); err != nil {
		return fmt.Errorf("copy database: %w", err)
	}

	f, err := os.Open(tmpCopy)
	if err != nil {
		return fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat snapshot: %w", err)
	}

	_, err = m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(m.cfg.S3.Bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(stat.Size()),
	})
	if err != nil {
		return fmt.Errorf("upload snapshot: %w", err)
	}

	m.mu.Lock()
	m.lastRun = time.Now().UTC()
	m.mu.Unlock()

	m.logger.Info("snapshot uploaded", "key", key, "bytes", stat.Size())
	return nil
}

// Cleanup deletes snapshots older than the retention period.
func (m *Manager) Cleanup(ctx context.Context) error {
	if m.client == nil {
		return nil
	}

	out, err := m.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(m.cfg.S3.Bucket),
		Prefix: aws.String(keyPrefix),
	})
	if err != nil {
		return fmt.Errorf("list snapshots: %w", err)
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -m.cfg.RetentionDays)
	for _, obj := range out.Contents {
		if obj.LastModified == nil || obj.Key == nil {
			continue
		}
		if obj.LastModified.After(cutoff) {
			continue
		}
		if _, err := m.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(m.cfg.S3.Bucket),
			Key:    obj.Key,
		}); err != nil {
			m.logger.Warn("delete expired snapshot", "key", *obj.Key, "error", err)
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
