package workflow

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/hitoshi/approvalportal/internal/backend"
)

// mockBackend はBackendのテスト用モック。
type mockBackend struct {
	mu       sync.Mutex
	doFn     func(ctx context.Context, r backend.Request) (*backend.Response, error)
	requests []backend.Request
}

func (m *mockBackend) Do(ctx context.Context, r backend.Request) (*backend.Response, error) {
	m.mu.Lock()
	m.requests = append(m.requests, r)
	m.mu.Unlock()
	if m.doFn != nil {
		return m.doFn(ctx, r)
	}
	return jsonResponse(200, `[]`), nil
}

func (m *mockBackend) calls() []backend.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]backend.Request(nil), m.requests...)
}

func jsonResponse(status int, body string) *backend.Response {
	return &backend.Response{StatusCode: status, ContentType: "application/json", Body: []byte(body)}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// countingMetrics は重複操作の記録回数を数える。
type countingMetrics struct {
	mu         sync.Mutex
	duplicates map[string]int
}

func (c *countingMetrics) RecordDuplicateMutation(action string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.duplicates == nil {
		c.duplicates = map[string]int{}
	}
	c.duplicates[action]++
}

func (c *countingMetrics) count(action string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.duplicates[action]
}
