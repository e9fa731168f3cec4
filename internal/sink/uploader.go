package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/neil-agrawal1/react-native-nitro-sound-sub000/internal/metrics"
	"github.com/neil-agrawal1/react-native-nitro-sound-sub000/internal/segment"
)

// Config contains uploader configuration
type Config struct {
	Endpoint      string
	APIKey        string
	Timeout       time.Duration
	MaxRetries    int
	MaxConcurrent int
	Backoff       time.Duration // First retry delay; doubles per attempt up to MaxBackoff
	MaxBackoff    time.Duration
}

// Receipt describes an accepted upload
type Receipt struct {
	RequestID  string `json:"request_id"`
	RemoteID   string `json:"id,omitempty"`
	StatusCode int    `json:"-"`
}

// Stats represents uploader statistics
type Stats struct {
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	SuccessRate     float64       `json:"success_rate"`
	TotalRetries    uint64        `json:"total_retries"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	ActiveRequests  int           `json:"active_requests"`
}

// StatusError is returned when the endpoint answers with a non-2xx status
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP error %d: %s", e.StatusCode, e.Body)
}

// Uploader sends segment files to the configured endpoint
type Uploader struct {
	config     Config
	httpClient *http.Client
	semaphore  chan struct{}
	logger     *slog.Logger
	metrics    *metrics.Metrics

	ctx     context.Context
	cancel  context.CancelFunc
	pending sync.WaitGroup

	mu              sync.RWMutex
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	totalRetries    uint64
	avgResponseTime time.Duration
}

// NewUploader creates an uploader
func NewUploader(config Config, logger *slog.Logger, m *metrics.Metrics) (*Uploader, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	if config.MaxRetries < 0 {
		config.MaxRetries = 3
	}

	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 4
	}

	if config.Backoff <= 0 {
		config.Backoff = time.Second
	}

	if config.MaxBackoff <= 0 {
		config.MaxBackoff = 30 * time.Second
	}

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        16,
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Uploader{
		config:     config,
		httpClient: httpClient,
		semaphore:  make(chan struct{}, config.MaxConcurrent),
		logger:     logger,
		metrics:    m,
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// Enqueue uploads a completed segment in the background. It matches
// segment.CompletionHandler.
func (u *Uploader) Enqueue(c segment.Completion) {
	u.pending.Add(1)
	go func() {
		defer u.pending.Done()

		ctx, cancel := context.WithTimeout(u.ctx, u.config.Timeout*time.Duration(u.config.MaxRetries+1)+u.config.MaxBackoff)
		defer cancel()

		receipt, err := u.Upload(ctx, c)
		if err != nil {
			u.logger.Error("Segment upload failed",
				slog.String("filename", c.Filename),
				slog.String("error", err.Error()),
			)
			return
		}

		u.logger.Info("Segment uploaded",
			slog.String("filename", c.Filename),
			slog.String("request_id", receipt.RequestID),
			slog.String("remote_id", receipt.RemoteID),
		)
	}()
}

// Upload sends one segment file, retrying transient failures
func (u *Uploader) Upload(ctx context.Context, c segment.Completion) (*Receipt, error) {
	select {
	case u.semaphore <- struct{}{}:
		defer func() { <-u.semaphore }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	data, err := os.ReadFile(c.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read segment %s: %w", c.Filename, err)
	}

	requestID := uuid.NewString()
	startTime := time.Now()
	u.incrementTotalRequests()
	u.metrics.RecordUploadRequest()

	var lastErr error

	for attempt := 0; attempt <= u.config.MaxRetries; attempt++ {
		if attempt > 0 {
			u.incrementTotalRetries()
			u.metrics.RecordUploadRetry()

			backoff := u.config.Backoff << (attempt - 1)
			if backoff > u.config.MaxBackoff || backoff <= 0 {
				backoff = u.config.MaxBackoff
			}

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				u.incrementFailedRequests()
				u.metrics.RecordUploadFailure(time.Since(startTime).Seconds())
				return nil, ctx.Err()
			}
		}

		receipt, err := u.doRequest(ctx, requestID, c, data)
		if err == nil {
			elapsed := time.Since(startTime)
			u.incrementSuccessRequests(elapsed)
			u.metrics.RecordUploadSuccess(elapsed.Seconds())
			return receipt, nil
		}

		lastErr = err

		if !isRetryable(err) {
			break
		}

		u.logger.Debug("Retrying segment upload",
			slog.String("filename", c.Filename),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)
	}

	u.incrementFailedRequests()
	u.metrics.RecordUploadFailure(time.Since(startTime).Seconds())
	return nil, fmt.Errorf("upload of %s failed: %w", c.Filename, lastErr)
}

func (u *Uploader) doRequest(ctx context.Context, requestID string, c segment.Completion, data []byte) (*Receipt, error) {
	body, contentType, err := createMultipartBody(requestID, c, data)
	if err != nil {
		return nil, fmt.Errorf("failed to create multipart request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.config.Endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "soundd/1.0")
	req.Header.Set("X-Request-ID", requestID)
	if u.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+u.config.APIKey)
	}

	resp, err := u.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	receipt := &Receipt{RequestID: requestID, StatusCode: resp.StatusCode}
	if len(bytes.TrimSpace(respBody)) > 0 {
		if err := json.Unmarshal(respBody, receipt); err != nil {
			u.logger.Debug("Upload response is not JSON", slog.String("request_id", requestID))
		}
		receipt.RequestID = requestID
	}

	return receipt, nil
}

func createMultipartBody(requestID string, c segment.Completion, data []byte) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fileWriter, err := writer.CreateFormFile("file", c.Filename)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}

	if _, err := fileWriter.Write(data); err != nil {
		return nil, "", fmt.Errorf("failed to write audio data: %w", err)
	}

	fields := []struct{ key, value string }{
		{"request_id", requestID},
		{"filename", c.Filename},
		{"relative_path", c.RelativePath},
		{"is_manual", fmt.Sprintf("%t", c.IsManual)},
		{"duration", fmt.Sprintf("%.3f", c.Duration)},
		{"created_at", c.CreatedAt.Format(time.RFC3339)},
	}

	for _, f := range fields {
		if err := writer.WriteField(f.key, f.value); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", f.key, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}

// isRetryable reports whether an upload error is worth another attempt: server
// errors, rate limiting, timeouts and network failures
func isRetryable(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= 500 || statusErr.StatusCode == http.StatusTooManyRequests
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

func (u *Uploader) incrementTotalRequests() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.totalRequests++
}

func (u *Uploader) incrementSuccessRequests(responseTime time.Duration) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.successRequests++
	if u.avgResponseTime == 0 {
		u.avgResponseTime = responseTime
	} else {
		u.avgResponseTime = (u.avgResponseTime + responseTime) / 2
	}
}

func (u *Uploader) incrementFailedRequests() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.failedRequests++
}

func (u *Uploader) incrementTotalRetries() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.totalRetries++
}

// GetStats returns current uploader statistics
func (u *Uploader) GetStats() Stats {
	u.mu.RLock()
	defer u.mu.RUnlock()

	successRate := float64(0)
	if u.totalRequests > 0 {
		successRate = float64(u.successRequests) / float64(u.totalRequests) * 100
	}

	return Stats{
		TotalRequests:   u.totalRequests,
		SuccessRequests: u.successRequests,
		FailedRequests:  u.failedRequests,
		SuccessRate:     successRate,
		TotalRetries:    u.totalRetries,
		AvgResponseTime: u.avgResponseTime,
		ActiveRequests:  len(u.semaphore),
	}
}

// Close waits for background uploads to finish, cancelling them after timeout
func (u *Uploader) Close(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		u.pending.Wait()
		close(done)
	}()

	select {
	case <-done:
		u.cancel()
		return nil
	case <-time.After(timeout):
		u.cancel()
		<-done
		return fmt.Errorf("cancelled pending uploads after %v", timeout)
	}
}
