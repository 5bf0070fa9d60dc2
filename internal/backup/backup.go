// Package backup uploads encrypted snapshots of the ledger documents to
// S3-compatible storage and restores them.
package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/dukerupert/larder/internal/event"
	"github.com/dukerupert/larder/internal/model"
	"github.com/dukerupert/larder/internal/store"
)

var (
	ErrNotConfigured = errors.New("backup not configured: S3 credentials missing")
	ErrNoPassphrase  = errors.New("backup passphrase is required")
	ErrNotFound      = errors.New("backup not found")
)

const archiveFormat = 1

// s3Client is an interface for testability.
type s3Client interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
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

func (c S3Config) complete() bool {
	return c.Bucket != "" && c.AccessKey != "" && c.SecretKey != ""
}

type Config struct {
	S3 S3Config
	// Prefix is prepended to every object key.
	Prefix string
	// Passphrase and Interval drive scheduled backups; either left empty
	// disables the schedule but not manual backups.
	Passphrase string
	Interval   time.Duration
	// Retain is how many of this process's backups are kept in the bucket.
	Retain int
}

type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateDisabled State = "disabled"
	StateError    State = "error"
)

type Status struct {
	State      State      `json:"state"`
	LastBackup *time.Time `json:"last_backup,omitempty"`
	LastKey    string     `json:"last_key,omitempty"`
	Error      string     `json:"error,omitempty"`
	InProgress bool       `json:"in_progress"`
}

// StatusCallback is called whenever the backup state changes.
type StatusCallback func(Status)

// archive is the plaintext inside an encrypted backup.
type archive struct {
	Format    int                        `json:"format"`
	Revision  int64                      `json:"revision"`
	CreatedAt time.Time                  `json:"created_at"`
	Docs      map[string]json.RawMessage `json:"docs"`
}

type Manager struct {
	mu       sync.RWMutex
	cfg      Config
	status   Status
	callback StatusCallback
	history  []model.Backup

	docs   store.Documents
	events event.Publisher
	client s3Client
	logger *slog.Logger
	now    func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

func NewManager(cfg Config, docs store.Documents, events event.Publisher, logger *slog.Logger, callback StatusCallback) *Manager {
	if events == nil {
		events = event.Discard{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Retain <= 0 {
		cfg.Retain = 7
	}
	m := &Manager{
		cfg:      cfg,
		docs:     docs,
		events:   events,
		logger:   logger,
		callback: callback,
		now:      time.Now,
		status:   Status{State: StateDisabled},
	}
	if cfg.S3.complete() {
		m.client = newS3Client(cfg.S3)
		m.status.State = StateIdle
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

// Start runs a backup every Interval until Stop or ctx is done. It is a
// no-op when storage, passphrase or interval is missing.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.status.State == StateDisabled || m.cfg.Passphrase == "" || m.cfg.Interval <= 0 {
		m.mu.Unlock()
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	interval := m.cfg.Interval
	passphrase := m.cfg.Passphrase
	m.mu.Unlock()

	m.logger.Info("scheduled backups enabled", "interval", interval.String())

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := m.RunNow(ctx, passphrase); err != nil {
					m.logger.Error("scheduled backup failed", "error", err)
				}
			}
		}
	}()
}

// Stop ends the schedule and waits for a running backup to finish.
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

func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// History lists backups made by this process, newest first.
func (m *Manager) History() []model.Backup {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Backup, len(m.history))
	copy(out, m.history)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (m *Manager) setStatus(s Status) {
	m.mu.Lock()
	m.status = s
	m.mu.Unlock()
	if m.callback != nil {
		m.callback(s)
	}
}

func (m *Manager) fail(err error) {
	m.setStatus(Status{State: StateError, Error: err.Error()})
}

// RunNow snapshots every document, encrypts the snapshot with passphrase
// and uploads it.
func (m *Manager) RunNow(ctx context.Context, passphrase string) (model.Backup, error) {
	if passphrase == "" {
		return model.Backup{}, ErrNoPassphrase
	}
	m.mu.RLock()
	client := m.client
	bucket := m.cfg.S3.Bucket
	prefix := m.cfg.Prefix
	m.mu.RUnlock()

	if client == nil {
		return model.Backup{}, ErrNotConfigured
	}

	m.setStatus(Status{State: StateRunning, InProgress: true})

	snap, err := m.docs.Snapshot(store.AllKeys...)
	if err != nil {
		m.fail(err)
		return model.Backup{}, fmt.Errorf("snapshot documents: %w", err)
	}

	createdAt := m.now().UTC()
	arc := archive{
		Format:    archiveFormat,
		Revision:  snap.Revision,
		CreatedAt: createdAt,
		Docs:      make(map[string]json.RawMessage, len(snap.Docs)),
	}
	for key, doc := range snap.Docs {
		arc.Docs[key] = json.RawMessage(doc)
	}
	plaintext, err := json.Marshal(arc)
	if err != nil {
		m.fail(err)
		return model.Backup{}, fmt.Errorf("marshal archive: %w", err)
	}

	salt, err := GenerateSalt()
	if err != nil {
		m.fail(err)
		return model.Backup{}, err
	}
	sealed, err := Encrypt(plaintext, passphrase, salt)
	if err != nil {
		m.fail(err)
		return model.Backup{}, fmt.Errorf("encrypt: %w", err)
	}

	record := model.Backup{
		Key:       fmt.Sprintf("%sbackup-%s-r%d.json.enc", prefix, createdAt.Format("2006-01-02T150405Z"), snap.Revision),
		Revision:  snap.Revision,
		SizeBytes: int64(len(sealed)),
		Status:    model.BackupStatusUploading,
		CreatedAt: createdAt,
	}

	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(record.Key),
		Body:          bytes.NewReader(sealed),
		ContentLength: aws.Int64(record.SizeBytes),
	})
	if err != nil {
		record.Status = model.BackupStatusFailed
		m.record(record)
		m.fail(err)
		return record, fmt.Errorf("upload to s3: %w", err)
	}

	record.Status = model.BackupStatusCompleted
	m.record(record)
	m.logger.Info("backup uploaded", "key", record.Key, "revision", record.Revision, "size_bytes", record.SizeBytes)
	m.setStatus(Status{State: StateIdle, LastBackup: &createdAt, LastKey: record.Key})

	m.prune(ctx, client, bucket)
	return record, nil
}

func (m *Manager) record(b model.Backup) {
	m.mu.Lock()
	m.history = append(m.history, b)
	m.mu.Unlock()
}

// prune deletes completed backups beyond the retention count, oldest first.
func (m *Manager) prune(ctx context.Context, client s3Client, bucket string) {
	m.mu.Lock()
	var completed []int
	for i, b := range m.history {
		if b.Status == model.BackupStatusCompleted {
			completed = append(completed, i)
		}
	}
	excess := len(completed) - m.cfg.Retain
	if excess <= 0 {
		m.mu.Unlock()
		return
	}
	drop := make(map[int]bool, excess)
	var keys []string
	for _, i := range completed[:excess] {
		drop[i] = true
		keys = append(keys, m.history[i].Key)
	}
	kept := m.history[:0]
	for i, b := range m.history {
		if !drop[i] {
			kept = append(kept, b)
		}
	}
	m.history = kept
	m.mu.Unlock()

	for _, key := range keys {
		if _, err := client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		}); err != nil {
			m.logger.Warn("delete old backup", "key", key, "error", err)
		}
	}
}

// Restore downloads the backup at key, decrypts and validates it, and
// replaces every document in one write. Listeners are told the whole store
// changed.
func (m *Manager) Restore(ctx context.Context, key, passphrase string) (model.Backup, error) {
	if passphrase == "" {
		return model.Backup{}, ErrNoPassphrase
	}
	m.mu.RLock()
	client := m.client
	bucket := m.cfg.S3.Bucket
	m.mu.RUnlock()

	if client == nil {
		return model.Backup{}, ErrNotConfigured
	}

	result, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return model.Backup{}, ErrNotFound
		}
		return model.Backup{}, fmt.Errorf("download from s3: %w", err)
	}
	defer result.Body.Close()

	sealed, err := io.ReadAll(result.Body)
	if err != nil {
		return model.Backup{}, fmt.Errorf("read backup: %w", err)
	}
	plaintext, err := Decrypt(sealed, passphrase)
	if err != nil {
		return model.Backup{}, err
	}

	var arc archive
	if err := json.Unmarshal(plaintext, &arc); err != nil {
		return model.Backup{}, fmt.Errorf("decode archive: %w", err)
	}
	if arc.Format != archiveFormat {
		return model.Backup{}, fmt.Errorf("unsupported archive format %d", arc.Format)
	}
	docs, err := validateDocs(arc.Docs)
	if err != nil {
		return model.Backup{}, err
	}

	if err := m.docs.PutAll(docs); err != nil {
		return model.Backup{}, fmt.Errorf("write restored documents: %w", err)
	}

	m.logger.Info("backup restored", "key", key, "revision", arc.Revision)
	m.events.Publish(event.Change{Entity: event.EntityStore, Action: event.ActionRestored, Key: key})

	return model.Backup{
		Key:       key,
		Revision:  arc.Revision,
		SizeBytes: int64(len(sealed)),
		Status:    model.BackupStatusCompleted,
		CreatedAt: arc.CreatedAt,
	}, nil
}

// validateDocs decodes each document the engine owns so a restore never
// writes something the ledger cannot read back. Documents missing from the
// archive are reset to empty.
func validateDocs(raw map[string]json.RawMessage) (map[string][]byte, error) {
	entries, err := store.DecodeEntries(raw[store.KeyEntries])
	if err != nil {
		return nil, fmt.Errorf("validate entries: %w", err)
	}
	usage, err := store.DecodeUsage(raw[store.KeyUsage])
	if err != nil {
		return nil, fmt.Errorf("validate usage: %w", err)
	}
	remaining, err := store.DecodeRemaining(raw[store.KeyRemaining])
	if err != nil {
		return nil, fmt.Errorf("validate remaining: %w", err)
	}

	out := make(map[string][]byte, len(store.AllKeys))
	if out[store.KeyEntries], err = store.EncodeEntries(entries); err != nil {
		return nil, err
	}
	if out[store.KeyUsage], err = store.EncodeUsage(usage); err != nil {
		return nil, err
	}
	if out[store.KeyRemaining], err = store.EncodeRemaining(remaining); err != nil {
		return nil, err
	}
	return out, nil
}
