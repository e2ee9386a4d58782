package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/swarmguard/taskctl/internal/core/resilience"
)

// TaskStatus is the lifecycle state of a Task.
type TaskStatus string

const (
	StatusPending       TaskStatus = "pending"
	StatusInProgress    TaskStatus = "in_progress"
	StatusDone          TaskStatus = "done"
	StatusFailed        TaskStatus = "failed"
	StatusFailedRollback TaskStatus = "failed_rollback"
	StatusBlocked       TaskStatus = "blocked"
)

// Task is the unit the orchestrator loop moves through its lifecycle. The
// task store is an external collaborator; this struct is the shape the loop
// expects back from it.
type Task struct {
	ID             string
	Type           string
	Content        string
	Priority       string // low|normal|high|critical
	Classification string // simple|complex|manual_review|unknown
	SLARisk        float64
	Status         TaskStatus
	Version        int64
	CreatedAt      time.Time
	ClassifiedAt   time.Time
	CompletedAt    time.Time
	Override       bool
	Metadata       map[string]any
}

var ErrStaleVersion = errors.New("orchestrator: stale task version")
var ErrTaskNotFound = errors.New("orchestrator: task not found")

// TaskStore is the external task-store collaborator contract.
type TaskStore interface {
	ListPending() ([]*Task, error)
	Read(taskID string) (content string, metadata map[string]any, err error)
	UpdateStatus(taskID string, status TaskStatus, version int64) error
}

// MemoryTaskStore is a reference TaskStore: an in-memory map guarded by a
// mutex, with the optimistic version check the Task model requires.
type MemoryTaskStore struct {
	mu    sync.RWMutex
	tasks map[string]*Task
}

// NewMemoryTaskStore constructs an empty store.
func NewMemoryTaskStore() *MemoryTaskStore {
	return &MemoryTaskStore{tasks: make(map[string]*Task)}
}

// Put inserts or replaces a task, for seeding and tests.
func (m *MemoryTaskStore) Put(t *Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	m.tasks[t.ID] = t
}

// Get returns the stored task by id, for tests and diagnostics.
func (m *MemoryTaskStore) Get(taskID string) (*Task, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[taskID]
	return t, ok
}

func (m *MemoryTaskStore) ListPending() ([]*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Task
	for _, t := range m.tasks {
		if t.Status == StatusPending {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *MemoryTaskStore) Read(taskID string) (string, map[string]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return "", nil, ErrTaskNotFound
	}
	return t.Content, t.Metadata, nil
}

func (m *MemoryTaskStore) UpdateStatus(taskID string, status TaskStatus, version int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	if t.Version != version {
		return ErrStaleVersion
	}
	t.Status = status
	t.Version++
	if status == StatusDone || status == StatusFailed || status == StatusFailedRollback || status == StatusBlocked {
		t.CompletedAt = time.Now()
	}
	return nil
}

// RollbackSystem is the external rollback-snapshot collaborator contract.
type RollbackSystem interface {
	Snapshot(taskID string) (handle string, err error)
	Restore(handle, taskID string) (bool, error)
	PurgeExpired() (int, error)
}

// FileRollbackStore writes one JSON snapshot file per handle under dir,
// expiring handles older than retention on PurgeExpired.
type FileRollbackStore struct {
	mu        sync.Mutex
	dir       string
	retention time.Duration
}

type rollbackSnapshot struct {
	Handle    string    `json:"handle"`
	TaskID    string    `json:"task_id"`
	CreatedAt time.Time `json:"created_at"`
}

// NewFileRollbackStore constructs a store rooted at dir, creating it if
// absent.
func NewFileRollbackStore(dir string, retention time.Duration) (*FileRollbackStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create rollback dir: %w", err)
	}
	return &FileRollbackStore{dir: dir, retention: retention}, nil
}

func (f *FileRollbackStore) Snapshot(taskID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	handle := uuid.NewString()
	snap := rollbackSnapshot{Handle: handle, TaskID: taskID, CreatedAt: time.Now()}
	data, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}
	path := filepath.Join(f.dir, handle+".json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	return handle, nil
}

func (f *FileRollbackStore) Restore(handle, taskID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := filepath.Join(f.dir, handle+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read snapshot: %w", err)
	}
	var snap rollbackSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return false, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	if snap.TaskID != taskID {
		return false, nil
	}
	return true, nil
}

func (f *FileRollbackStore) PurgeExpired() (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return 0, fmt.Errorf("read rollback dir: %w", err)
	}
	purged := 0
	cutoff := time.Now().Add(-f.retention)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(f.dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var snap rollbackSnapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			continue
		}
		if snap.CreatedAt.Before(cutoff) {
			if err := os.Remove(path); err == nil {
				purged++
			}
		}
	}
	return purged, nil
}

// Notifier is the external notification collaborator contract: fire and
// forget, never raises.
type Notifier interface {
	Send(event string)
}

// NoopNotifier discards every event.
type NoopNotifier struct{}

func (NoopNotifier) Send(string) {}

// WebhookNotifier POSTs events to a fixed URL, rate-limited so a flood of
// task failures cannot turn into a flood of outbound requests.
type WebhookNotifier struct {
	url     string
	client  *http.Client
	limiter *resilience.RateLimiter
}

// NewWebhookNotifier constructs a notifier capped at maxPerWindow sends per
// window, with a token-bucket burst allowance of capacity.
func NewWebhookNotifier(url string, capacity int64, fillRate float64, window time.Duration, maxPerWindow int64) *WebhookNotifier {
	return &WebhookNotifier{
		url:     url,
		client:  &http.Client{Timeout: 5 * time.Second},
		limiter: resilience.NewRateLimiter(capacity, fillRate, window, maxPerWindow),
	}
}

// Send posts event as the request body, retrying transient failures with
// backoff. Never raises: failures are swallowed, matching the contract's
// fire-and-forget semantics.
func (w *WebhookNotifier) Send(event string) {
	if !w.limiter.Allow() {
		return
	}
	_, _ = resilience.Retry(context.Background(), 3, 200*time.Millisecond, func() (struct{}, error) {
		resp, err := w.client.Post(w.url, "application/json", bytes.NewBufferString(event))
		if err != nil {
			return struct{}{}, err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 500 {
			return struct{}{}, fmt.Errorf("webhook status %d", resp.StatusCode)
		}
		return struct{}{}, nil
	})
}

// CredentialScanner is the external credential-scanning collaborator contract.
type CredentialScanner interface {
	Scan(root string) ([]string, error)
}

// credentialScanKeywords mirrors the classifier's credential keyword set;
// kept separate so the scanner has no import-time dependency on classifier
// internals.
var credentialScanKeywords = []string{
	"password", "secret", "token", "api_key", "api-key", "credential",
	"auth", "oauth", "private_key", "access_key", "ssh", "certificate",
	".pem", ".key", ".env",
}

// KeywordCredentialScanner walks a directory tree of task content files,
// flagging any whose contents contain a credential keyword.
type KeywordCredentialScanner struct{}

// Scan returns the paths of files under root containing a credential
// keyword.
func (KeywordCredentialScanner) Scan(root string) ([]string, error) {
	var findings []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // skip unreadable entries, don't abort the scan
		}
		if d.IsDir() {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		lower := strings.ToLower(string(data))
		for _, kw := range credentialScanKeywords {
			if strings.Contains(lower, kw) {
				findings = append(findings, path)
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	return findings, nil
}
