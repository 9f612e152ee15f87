package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sync"
	"time"

	"github.com/skypro1111/voicememo-service/internal/audio"
)

// HTTPConfig contains configuration for a multipart transcription endpoint
type HTTPConfig struct {
	Endpoint      string
	APIKey        string
	Model         string
	Timeout       time.Duration
	MaxConcurrent int
}

// HTTP sends audio to a transcription API as a multipart upload.
// Requests are never retried.
type HTTP struct {
	config     HTTPConfig
	httpClient *http.Client
	semaphore  chan struct{}

	// Statistics
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	avgResponseTime time.Duration
	closed          bool

	mu sync.RWMutex
}

// HTTPStats represents client statistics
type HTTPStats struct {
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	SuccessRate     float64       `json:"success_rate"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	ActiveRequests  int           `json:"active_requests"`
}

type httpResponse struct {
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

// NewHTTP creates a new multipart transcription client
func NewHTTP(config HTTPConfig) (*HTTP, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}

	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 2
	}

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: config.MaxConcurrent,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &HTTP{
		config:     config,
		httpClient: httpClient,
		semaphore:  make(chan struct{}, config.MaxConcurrent),
	}, nil
}

// IsReady reports whether the client can accept work
func (c *HTTP) IsReady() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.closed
}

// Transcribe uploads samples as a 16-bit WAV file and returns the text
func (c *HTTP) Transcribe(ctx context.Context, samples []float32, language string) (string, error) {
	if !c.IsReady() {
		return "", engineError("client closed", ErrNotReady)
	}
	if len(samples) == 0 {
		return "", nil
	}

	// Acquire semaphore for rate limiting
	select {
	case c.semaphore <- struct{}{}:
		defer func() { <-c.semaphore }()
	case <-ctx.Done():
		return "", ctx.Err()
	}

	startTime := time.Now()
	c.incrementTotalRequests()

	text, err := c.doRequest(ctx, samples, language)
	if err != nil {
		c.incrementFailedRequests()
		return "", err
	}

	c.incrementSuccessRequests()
	c.updateAvgResponseTime(time.Since(startTime))
	return text, nil
}

// doRequest performs a single HTTP request to the transcription API
func (c *HTTP) doRequest(ctx context.Context, samples []float32, language string) (string, error) {
	body, contentType, err := c.createMultipartRequest(samples, language)
	if err != nil {
		return "", engineError("failed to create multipart request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, body)
	if err != nil {
		return "", engineError("failed to create HTTP request", err)
	}

	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", "VoiceMemo-Service/1.0")
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", engineError("HTTP request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", engineError("failed to read response body", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", engineError(fmt.Sprintf("HTTP error %d: %s", resp.StatusCode, bytes.TrimSpace(respBody)), nil)
	}

	var parsed httpResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", engineError("failed to parse response JSON", err)
	}
	if parsed.Error != "" {
		return "", engineError(parsed.Error, nil)
	}

	return parsed.Text, nil
}

// createMultipartRequest creates a multipart/form-data request body
func (c *HTTP) createMultipartRequest(samples []float32, language string) (io.Reader, string, error) {
	wav, err := audio.EncodeFloat32WAV(samples, SampleRate)
	if err != nil {
		return nil, "", fmt.Errorf("failed to encode audio: %w", err)
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fileWriter, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := fileWriter.Write(wav); err != nil {
		return nil, "", fmt.Errorf("failed to write audio data: %w", err)
	}

	fields := map[string]string{
		"language":        language,
		"sample_rate":     fmt.Sprintf("%d", SampleRate),
		"duration":        fmt.Sprintf("%.3f", audio.Duration(len(samples), SampleRate)),
		"response_format": "json",
	}
	if c.config.Model != "" {
		fields["model"] = c.config.Model
	}

	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", key, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}

// Statistics methods
func (c *HTTP) incrementTotalRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
}

func (c *HTTP) incrementSuccessRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.successRequests++
}

func (c *HTTP) incrementFailedRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failedRequests++
}

func (c *HTTP) updateAvgResponseTime(responseTime time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Simple moving average
	if c.avgResponseTime == 0 {
		c.avgResponseTime = responseTime
	} else {
		c.avgResponseTime = (c.avgResponseTime + responseTime) / 2
	}
}

// GetStats returns current client statistics
func (c *HTTP) GetStats() HTTPStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	successRate := float64(0)
	if c.totalRequests > 0 {
		successRate = float64(c.successRequests) / float64(c.totalRequests) * 100
	}

	return HTTPStats{
		TotalRequests:   c.totalRequests,
		SuccessRequests: c.successRequests,
		FailedRequests:  c.failedRequests,
		SuccessRate:     successRate,
		AvgResponseTime: c.avgResponseTime,
		ActiveRequests:  len(c.semaphore),
	}
}

// Close waits for in-flight requests and rejects new ones
func (c *HTTP) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	for i := 0; i < cap(c.semaphore); i++ {
		c.semaphore <- struct{}{}
	}
	c.httpClient.CloseIdleConnections()

	return nil
}
