package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/skypro1111/wavecore/internal/audio"
	"github.com/skypro1111/wavecore/internal/capture"
	"github.com/skypro1111/wavecore/internal/metrics"
)

const (
	DefaultSavePath     = "/audio/save"
	DefaultSearchPath   = "/audio/search"
	DefaultListPath     = "/audio/list"
	DefaultDownloadPath = "/api/download/youtube"
	DefaultUserAgent    = "wavecore/1.0"

	// FormField is the multipart field carrying the WAV file
	FormField = "audio"

	// maxErrorBody bounds how much of a failed response is kept in StatusError
	maxErrorBody = 4096
)

// Client provides HTTP client functionality for the match service
type Client struct {
	config     Config
	httpClient *http.Client
	semaphore  chan struct{} // Concurrency limiting semaphore
	logger     *slog.Logger
	metrics    *metrics.Metrics

	// Statistics
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	avgResponseTime time.Duration

	mu sync.RWMutex
}

// Config contains match service client configuration
type Config struct {
	BaseURL       string
	SavePath      string
	SearchPath    string
	ListPath      string
	DownloadPath  string
	APIKey        string
	Timeout       time.Duration
	MaxConcurrent int
	UserAgent     string
}

// ClientStats represents client statistics
type ClientStats struct {
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	SuccessRate     float64       `json:"success_rate"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	ActiveRequests  int           `json:"active_requests"`
}

// StatusError is returned when the service answers with a non-2xx status
type StatusError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: HTTP error %d", e.Endpoint, e.StatusCode)
	}
	return fmt.Sprintf("%s: HTTP error %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

type searchResponse struct {
	Matches []string `json:"matches"`
}

type listResponse struct {
	FileNames []string `json:"fileNames"`
}

// NewClient creates a new match service HTTP client. logger and m may be nil.
func NewClient(config Config, logger *slog.Logger, m *metrics.Metrics) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("base URL cannot be empty")
	}
	if _, err := url.Parse(config.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	if config.SavePath == "" {
		config.SavePath = DefaultSavePath
	}
	if config.SearchPath == "" {
		config.SearchPath = DefaultSearchPath
	}
	if config.ListPath == "" {
		config.ListPath = DefaultListPath
	}
	if config.DownloadPath == "" {
		config.DownloadPath = DefaultDownloadPath
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 4
	}
	if config.UserAgent == "" {
		config.UserAgent = DefaultUserAgent
	}
	if logger == nil {
		logger = slog.Default()
	}

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &Client{
		config:     config,
		httpClient: httpClient,
		semaphore:  make(chan struct{}, config.MaxConcurrent),
		logger:     logger,
		metrics:    m,
	}, nil
}

// Save uploads canonical audio to the service's library
func (c *Client) Save(ctx context.Context, wav audio.CanonicalAudio) error {
	_, err := c.upload(ctx, "save", c.config.SavePath, wav)
	return err
}

// Search uploads canonical audio and returns the ordered list of matching
// titles. An empty list is a successful search with no matches.
func (c *Client) Search(ctx context.Context, wav audio.CanonicalAudio) ([]string, error) {
	body, err := c.upload(ctx, "search", c.config.SearchPath, wav)
	if err != nil {
		return nil, err
	}

	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("search: failed to parse response JSON: %w", err)
	}
	if resp.Matches == nil {
		resp.Matches = []string{}
	}

	return resp.Matches, nil
}

// List returns the names of the files stored by the service
func (c *Client) List(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+c.config.ListPath, nil)
	if err != nil {
		return nil, fmt.Errorf("list: failed to create HTTP request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	_, body, err := c.do(ctx, "list", req)
	if err != nil {
		return nil, err
	}

	var list listResponse
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("list: failed to parse response JSON: %w", err)
	}
	if list.FileNames == nil {
		list.FileNames = []string{}
	}

	return list.FileNames, nil
}

// Download asks the service to fetch the media at mediaURL and returns it
// named after the response's Content-Disposition header. A response with
// no usable file name fails with capture.ErrMissingFileName.
func (c *Client) Download(ctx context.Context, mediaURL string) (audio.MediaBlob, error) {
	if mediaURL == "" {
		return audio.MediaBlob{}, fmt.Errorf("download: URL cannot be empty")
	}

	endpoint := c.config.BaseURL + c.config.DownloadPath + "?" + url.Values{"url": {mediaURL}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return audio.MediaBlob{}, fmt.Errorf("download: failed to create HTTP request: %w", err)
	}

	header, data, err := c.do(ctx, "download", req)
	if err != nil {
		return audio.MediaBlob{}, err
	}

	name, ok := FileNameFromDisposition(header.Get("Content-Disposition"))
	if !ok {
		return audio.MediaBlob{}, fmt.Errorf("download %s: %w", mediaURL, capture.ErrMissingFileName)
	}

	c.logger.Debug("Downloaded media",
		slog.String("url", mediaURL),
		slog.String("file_name", name),
		slog.Int("bytes", len(data)),
	)

	return audio.NewMediaBlob(name, header.Get("Content-Type"), data), nil
}

// upload posts wav as a multipart file and returns the response body
func (c *Client) upload(ctx context.Context, endpoint, path string, wav audio.CanonicalAudio) ([]byte, error) {
	body, contentType, err := createMultipartRequest(wav)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create multipart request: %w", endpoint, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create HTTP request: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	_, respBody, err := c.do(ctx, endpoint, req)
	return respBody, err
}

// do performs a single request under the concurrency limit and reads the
// whole response. Non-2xx responses become *StatusError.
func (c *Client) do(ctx context.Context, endpoint string, req *http.Request) (http.Header, []byte, error) {
	select {
	case c.semaphore <- struct{}{}:
		defer func() { <-c.semaphore }()
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}

	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)

	startTime := time.Now()
	c.incrementTotalRequests()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.incrementFailedRequests()
		c.metrics.RecordRemoteRequest(endpoint, "error", time.Since(startTime).Seconds())
		return nil, nil, fmt.Errorf("%s: HTTP request failed: %w", endpoint, err)
	}
	defer resp.Body.Close()

	c.metrics.RecordRemoteRequest(endpoint, strconv.Itoa(resp.StatusCode), time.Since(startTime).Seconds())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.incrementFailedRequests()

		c.logger.Warn("Match service returned error",
			slog.String("endpoint", endpoint),
			slog.Int("status", resp.StatusCode),
		)
		return nil, nil, &StatusError{
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(respBody)),
		}
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		c.incrementFailedRequests()
		return nil, nil, fmt.Errorf("%s: failed to read response body: %w", endpoint, err)
	}

	c.incrementSuccessRequests()
	c.updateAvgResponseTime(time.Since(startTime))

	return resp.Header, respBody, nil
}

// createMultipartRequest creates a multipart/form-data request body
func createMultipartRequest(wav audio.CanonicalAudio) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fileWriter, err := writer.CreateFormFile(FormField, wav.Name())
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := fileWriter.Write(wav.View()); err != nil {
		return nil, "", fmt.Errorf("failed to write audio data: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}

var dispositionFileName = regexp.MustCompile(`filename[^;=\n]*=(?:"([^"]*)"|'([^']*)'|([^;\n]*))`)

// FileNameFromDisposition extracts the file name from a Content-Disposition
// header value, stripping any quotes. It reports false when the header has
// no plain filename parameter or the name is empty.
func FileNameFromDisposition(header string) (string, bool) {
	if !strings.Contains(header, "filename=") {
		return "", false
	}

	m := dispositionFileName.FindStringSubmatch(header)
	if m == nil {
		return "", false
	}

	name := strings.TrimSpace(m[1] + m[2] + m[3])
	if name == "" {
		return "", false
	}

	return name, true
}

// Statistics methods
func (c *Client) incrementTotalRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
}

func (c *Client) incrementSuccessRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.successRequests++
}

func (c *Client) incrementFailedRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failedRequests++
}

func (c *Client) updateAvgResponseTime(responseTime time.Duration) {
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
func (c *Client) GetStats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	successRate := float64(0)
	if c.totalRequests > 0 {
		successRate = float64(c.successRequests) / float64(c.totalRequests) * 100
	}

	return ClientStats{
		TotalRequests:   c.totalRequests,
		SuccessRequests: c.successRequests,
		FailedRequests:  c.failedRequests,
		SuccessRate:     successRate,
		AvgResponseTime: c.avgResponseTime,
		ActiveRequests:  len(c.semaphore),
	}
}

// Close waits for in-flight requests to finish
func (c *Client) Close() error {
	for i := 0; i < c.config.MaxConcurrent; i++ {
		c.semaphore <- struct{}{}
	}

	c.httpClient.CloseIdleConnections()
	return nil
}
