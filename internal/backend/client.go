package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/approvalportal/internal/metrics"
)

// maxResponseSize はバックエンドのレスポンスとして読み込む最大サイズ。
const maxResponseSize = 10 << 20

// Request はバックエンドへの1回の呼び出しを表す。
type Request struct {
	Operation string // メトリクスとログに使う操作名（例: "list_assigned_tasks"）
	Method    string
	Path      string
	Query     url.Values
	Header    http.Header
	Body      []byte
}

// Response はバックエンドのレスポンス。ステータスに関わらずボディを保持する。
type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// IsJSON はレスポンスのContent-TypeがJSONかどうかを返す。
func (r *Response) IsJSON() bool {
	mt, _, err := mime.ParseMediaType(r.ContentType)
	if err != nil {
		return false
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}

// OK はステータスが2xxかどうかを返す。
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// StatusError はバックエンドが2xx以外を返したことを表す。
type StatusError struct {
	Operation  string
	StatusCode int
	Body       []byte
}

// Error はerrorインターフェースを実装する。
func (e *StatusError) Error() string {
	return fmt.Sprintf("backend %s returned status %d", e.Operation, e.StatusCode)
}

// Client はワークフローバックエンドのクライアント。
// 1回の呼び出しにつき1回だけリクエストし、リトライしない。
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	metrics    metrics.MetricsCollector
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger, m metrics.MetricsCollector) *Client {
	if m == nil {
		m = metrics.Nop{}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
		metrics:    m,
	}
}

// Do はリクエストを送信し、ステータスに関わらずレスポンスを返す。
// 通信エラーとレスポンスの読み取りエラーのみをerrorとして返す。
func (c *Client) Do(ctx context.Context, r Request) (*Response, error) {
	reqURL := c.baseURL + r.Path
	if len(r.Query) > 0 {
		reqURL += "?" + r.Query.Encode()
	}

	var body io.Reader
	if r.Body != nil {
		body = bytes.NewReader(r.Body)
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, reqURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create backend request: %w", err)
	}
	for k, vs := range r.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.RecordBackendTransportError(r.Operation)
		c.logger.Error("backend request failed",
			slog.String("operation", r.Operation),
			slog.String("method", r.Method),
			slog.String("path", r.Path),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("failed to call backend %s: %w", r.Operation, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		c.metrics.RecordBackendTransportError(r.Operation)
		return nil, fmt.Errorf("failed to read backend %s response: %w", r.Operation, err)
	}

	duration := time.Since(start)
	c.metrics.RecordBackendRequest(r.Operation, resp.StatusCode, duration)

	level := slog.LevelInfo
	if resp.StatusCode >= 400 {
		level = slog.LevelWarn
	}
	c.logger.Log(ctx, level, "backend request completed",
		slog.String("operation", r.Operation),
		slog.String("method", r.Method),
		slog.String("path", r.Path),
		slog.Int("http_status", resp.StatusCode),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return &Response{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        respBody,
	}, nil
}

// Call はDoを実行し、2xx以外の場合は*StatusErrorを返す。
func (c *Client) Call(ctx context.Context, r Request) (*Response, error) {
	resp, err := c.Do(ctx, r)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return resp, &StatusError{Operation: r.Operation, StatusCode: resp.StatusCode, Body: resp.Body}
	}
	return resp, nil
}

// GetJSON はGETリクエストを送り、2xxのレスポンスをoutにデコードする。
func (c *Client) GetJSON(ctx context.Context, operation, path string, header http.Header, out any) error {
	resp, err := c.Call(ctx, Request{
		Operation: operation,
		Method:    http.MethodGet,
		Path:      path,
		Header:    header,
	})
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("failed to decode backend %s response: %w", operation, err)
	}
	return nil
}
