package backup

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/dukerupert/larder/internal/event"
	"github.com/dukerupert/larder/internal/model"
	"github.com/dukerupert/larder/internal/store"
)

// mockS3Client implements s3Client for testing.
type mockS3Client struct {
	mu      sync.Mutex
	objects map[string][]byte
	deleted []string
	putErr  error
	getErr  error
}

func newMockS3() *mockS3Client {
	return &mockS3Client{objects: make(map[string][]byte)}
}

func (m *mockS3Client) PutObject(_ context.Context, input *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.putErr != nil {
		return nil, m.putErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, _ := io.ReadAll(input.Body)
	m.objects[*input.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3Client) GetObject(_ context.Context, input *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[*input.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{
		Body: io.NopCloser(bytes.NewReader(data)),
	}, nil
}

func (m *mockS3Client) DeleteObject(_ context.Context, input *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, *input.Key)
	m.deleted = append(m.deleted, *input.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func testManager(t *testing.T, cfg Config, docs store.Documents, events event.Publisher) (*Manager, *mockS3Client) {
	t.Helper()
	cfg.S3 = S3Config{Bucket: "test", AccessKey: "key", SecretKey: "secret"}
	m := NewManager(cfg, docs, events, slog.New(slog.DiscardHandler), nil)
	mock := newMockS3()
	m.client = mock
	clock := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	m.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}
	return m, mock
}

func seedDocs(t *testing.T) *store.MemoryDocuments {
	t.Helper()
	docs := store.NewMemoryDocuments()
	err := docs.PutAll(map[string][]byte{
		store.KeyEntries:   []byte(`[{"id":"entry-1","name":"Rice","unit":"kg","quantity":"10","price":"50","amount":"500","date":"2026-03-01"}]`),
		store.KeyRemaining: []byte(`{"Rice":"4"}`),
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return docs
}

func TestManagerStateLifecycle(t *testing.T) {
	m := NewManager(Config{}, store.NewMemoryDocuments(), nil, nil, nil)
	if m.Status().State != StateDisabled {
		t.Errorf("state = %q, want %q", m.Status().State, StateDisabled)
	}

	m2 := NewManager(Config{
		S3: S3Config{Bucket: "test", AccessKey: "key", SecretKey: "secret"},
	}, store.NewMemoryDocuments(), nil, nil, nil)
	if m2.Status().State != StateIdle {
		t.Errorf("state = %q, want %q", m2.Status().State, StateIdle)
	}
}

func TestRunNowNotConfigured(t *testing.T) {
	m := NewManager(Config{}, store.NewMemoryDocuments(), nil, nil, nil)
	if _, err := m.RunNow(context.Background(), "pass"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("err = %v, want ErrNotConfigured", err)
	}
}

func TestRunNowRequiresPassphrase(t *testing.T) {
	m, _ := testManager(t, Config{}, store.NewMemoryDocuments(), nil)
	if _, err := m.RunNow(context.Background(), ""); !errors.Is(err, ErrNoPassphrase) {
		t.Fatalf("err = %v, want ErrNoPassphrase", err)
	}
}

func TestRunNowAndRestore(t *testing.T) {
	docs := seedDocs(t)
	bus := event.NewBus()
	m, mock := testManager(t, Config{Prefix: "larder/"}, docs, bus)

	rec, err := m.RunNow(context.Background(), "correct horse")
	if err != nil {
		t.Fatalf("run backup: %v", err)
	}
	if rec.Status != model.BackupStatusCompleted {
		t.Errorf("status = %q, want completed", rec.Status)
	}
	if rec.Revision != 1 {
		t.Errorf("revision = %d, want 1", rec.Revision)
	}
	sealed, ok := mock.objects[rec.Key]
	if !ok {
		t.Fatalf("object %q not uploaded", rec.Key)
	}
	if bytes.Contains(sealed, []byte("Rice")) {
		t.Error("uploaded archive is not encrypted")
	}
	if got := m.Status(); got.State != StateIdle || got.LastKey != rec.Key || got.LastBackup == nil {
		t.Errorf("unexpected status %+v", got)
	}

	// Wreck the live documents, then restore.
	if err := docs.PutAll(map[string][]byte{
		store.KeyEntries:   []byte(`[]`),
		store.KeyRemaining: []byte(`{}`),
		store.KeyUsage:     []byte(`{"Oil":{"days":[]}}`),
	}); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	var changes []event.Change
	bus.Subscribe(func(c event.Change) { changes = append(changes, c) })

	restored, err := m.Restore(context.Background(), rec.Key, "correct horse")
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored.Revision != 1 {
		t.Errorf("restored revision = %d, want 1", restored.Revision)
	}

	entries, _ := docs.Get(store.KeyEntries)
	list, err := store.DecodeEntries(entries)
	if err != nil || len(list) != 1 || list[0].Name != "Rice" {
		t.Fatalf("entries after restore = %v (%v)", list, err)
	}
	usage, _ := docs.Get(store.KeyUsage)
	if string(usage) != "{}" {
		t.Errorf("usage after restore = %s, want {}", usage)
	}
	if len(changes) != 1 || changes[0].Entity != event.EntityStore || changes[0].Action != event.ActionRestored {
		t.Errorf("changes = %+v", changes)
	}
}

func TestRestoreWrongPassphrase(t *testing.T) {
	docs := seedDocs(t)
	m, _ := testManager(t, Config{}, docs, nil)

	rec, err := m.RunNow(context.Background(), "right")
	if err != nil {
		t.Fatalf("run backup: %v", err)
	}
	if _, err := m.Restore(context.Background(), rec.Key, "wrong"); !errors.Is(err, ErrDecrypt) {
		t.Fatalf("err = %v, want ErrDecrypt", err)
	}
}

func TestRestoreMissingKey(t *testing.T) {
	m, _ := testManager(t, Config{}, store.NewMemoryDocuments(), nil)
	if _, err := m.Restore(context.Background(), "nope", "pass"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestRestoreRejectsInvalidDocuments(t *testing.T) {
	docs := store.NewMemoryDocuments()
	m, mock := testManager(t, Config{}, docs, nil)

	salt, _ := GenerateSalt()
	sealed, err := Encrypt([]byte(`{"format":1,"revision":3,"docs":{"entries":{"not":"a list"}}}`), "pass", salt)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	mock.objects["bad"] = sealed

	if _, err := m.Restore(context.Background(), "bad", "pass"); err == nil {
		t.Fatal("expected validation error")
	}
	if raw, _ := docs.Get(store.KeyEntries); raw != nil {
		t.Errorf("documents written despite invalid archive: %s", raw)
	}
}

func TestRunNowUploadFailure(t *testing.T) {
	var received []Status
	m, mock := testManager(t, Config{}, seedDocs(t), nil)
	m.callback = func(s Status) { received = append(received, s) }
	mock.putErr = errors.New("bucket gone")

	rec, err := m.RunNow(context.Background(), "pass")
	if !errors.Is(err, mock.putErr) {
		t.Fatalf("err = %v, want %v", err, mock.putErr)
	}
	if rec.Status != model.BackupStatusFailed {
		t.Errorf("record status = %q, want failed", rec.Status)
	}
	if len(received) != 2 || received[0].State != StateRunning || received[1].State != StateError {
		t.Errorf("callbacks = %+v", received)
	}
	if m.Status().Error != "bucket gone" {
		t.Errorf("status error = %q", m.Status().Error)
	}
}

func TestRetentionPrunesOldest(t *testing.T) {
	m, mock := testManager(t, Config{Retain: 2}, seedDocs(t), nil)

	var keys []string
	for i := 0; i < 4; i++ {
		rec, err := m.RunNow(context.Background(), "pass")
		if err != nil {
			t.Fatalf("backup %d: %v", i, err)
		}
		keys = append(keys, rec.Key)
	}

	if len(mock.objects) != 2 {
		t.Errorf("objects left = %d, want 2", len(mock.objects))
	}
	if len(mock.deleted) != 2 || mock.deleted[0] != keys[0] || mock.deleted[1] != keys[1] {
		t.Errorf("deleted = %v, want %v", mock.deleted, keys[:2])
	}
	history := m.History()
	if len(history) != 2 || history[0].Key != keys[3] {
		t.Errorf("history = %+v", history)
	}
}

func TestManagerStopSafety(t *testing.T) {
	m, _ := testManager(t, Config{Passphrase: "pass", Interval: time.Hour}, store.NewMemoryDocuments(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	time.Sleep(20 * time.Millisecond)
	cancel()
	m.Stop()

	// Double stop should not panic
	m.Stop()
}

func TestScheduledBackupRuns(t *testing.T) {
	m, mock := testManager(t, Config{Passphrase: "pass", Interval: 10 * time.Millisecond}, seedDocs(t), nil)

	m.Start(context.Background())
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mock.mu.Lock()
		n := len(mock.objects)
		mock.mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	m.Stop()

	mock.mu.Lock()
	defer mock.mu.Unlock()
	if len(mock.objects) == 0 {
		t.Fatal("scheduled backup never uploaded")
	}
}

func TestManagerDisabledNoStart(t *testing.T) {
	m := NewManager(Config{Passphrase: "pass", Interval: time.Minute}, store.NewMemoryDocuments(), nil, nil, nil)
	m.Start(context.Background())
	// Stop should not block
	m.Stop()
}
