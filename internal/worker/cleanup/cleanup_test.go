package cleanup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/approvalportal/internal/metrics"
)

type mockDeleter struct {
	mu      sync.Mutex
	calls   int
	deleted int64
	err     error
}

func (m *mockDeleter) DeleteExpired(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.deleted, m.err
}

func (m *mockDeleter) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type purgeRecorder struct {
	metrics.Nop
	mu     sync.Mutex
	purged []int64
}

func (p *purgeRecorder) RecordSessionsPurged(count int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.purged = append(p.purged, count)
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

func TestCleanupJob_Run_DeletesAndLogs(t *testing.T) {
	var buf bytes.Buffer
	deleter := &mockDeleter{deleted: 3}
	rec := &purgeRecorder{}
	job := NewCleanupJob(deleter, newTestLogger(&buf), rec)

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if deleter.callCount() != 1 {
		t.Errorf("DeleteExpired calls = %d, want 1", deleter.callCount())
	}
	if len(rec.purged) != 1 || rec.purged[0] != 3 {
		t.Errorf("purged = %v, want [3]", rec.purged)
	}

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log is not JSON: %v", err)
	}
	if entry["msg"] != "session cleanup completed" {
		t.Errorf("msg = %v", entry["msg"])
	}
	if entry["deleted_count"] != float64(3) {
		t.Errorf("deleted_count = %v, want 3", entry["deleted_count"])
	}
}

func TestCleanupJob_Run_Error(t *testing.T) {
	var buf bytes.Buffer
	deleter := &mockDeleter{err: errors.New("connection refused")}
	rec := &purgeRecorder{}
	job := NewCleanupJob(deleter, newTestLogger(&buf), rec)

	err := job.Run(context.Background())
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("error = %v, should wrap cause", err)
	}
	if len(rec.purged) != 0 {
		t.Errorf("purged = %v, want none", rec.purged)
	}
	if !strings.Contains(buf.String(), `"level":"ERROR"`) {
		t.Errorf("expected ERROR log, got %s", buf.String())
	}
}

func TestCleanupJob_Run_Idempotent(t *testing.T) {
	deleter := &mockDeleter{}
	job := NewCleanupJob(deleter, nil, nil)

	for range 2 {
		if err := job.Run(context.Background()); err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	}
	if deleter.callCount() != 2 {
		t.Errorf("DeleteExpired calls = %d, want 2", deleter.callCount())
	}
}

func TestCleanupJob_Start_RunsImmediatelyAndStopsOnCancel(t *testing.T) {
	var buf bytes.Buffer
	deleter := &mockDeleter{}
	job := NewCleanupJob(deleter, newTestLogger(&buf), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		job.Start(ctx, 10*time.Millisecond)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for deleter.callCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
	if deleter.callCount() < 2 {
		t.Errorf("DeleteExpired calls = %d, want at least 2", deleter.callCount())
	}
}
