package comfy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/SektaHub/SektaBot/internal/logging"
	"github.com/SektaHub/SektaBot/internal/workflow"
)

// Options tunes a Client. Zero values select the package defaults.
type Options struct {
	// HTTPTimeout bounds each request/response call
	HTTPTimeout time.Duration
	// ReceiveTimeout bounds each wait for a notification frame
	ReceiveTimeout time.Duration
	// HistoryAttempts is the number of history lookups before giving up
	HistoryAttempts int
	// HistoryDelay is the fixed pause between history lookups; negative
	// disables the pause
	HistoryDelay time.Duration
	// Logger receives retry and protocol diagnostics (nil discards)
	Logger *logging.Logger
}

// Client talks to one ComfyUI server over HTTP and WebSocket.
// A Client holds no per-job state and is safe for concurrent use.
type Client struct {
	baseURL    *url.URL
	wsURL      *url.URL
	httpClient *http.Client

	receiveTimeout  time.Duration
	historyAttempts int
	historyDelay    time.Duration
	logger          *logging.Logger

	// sleep pauses between history attempts; replaced in tests
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient creates a client for the server at address with default settings.
// The address is either host:port or an http(s) URL.
func NewClient(address string) (*Client, error) {
	return NewClientWithOptions(address, Options{})
}

// NewClientWithOptions creates a client for the server at address.
func NewClientWithOptions(address string, opts Options) (*Client, error) {
	base, err := ParseAddress(address)
	if err != nil {
		return nil, err
	}

	ws := *base
	if base.Scheme == "https" {
		ws.Scheme = "wss"
	} else {
		ws.Scheme = "ws"
	}
	ws.Path = strings.TrimSuffix(base.Path, "/") + EndpointWebSocket

	if opts.HTTPTimeout <= 0 {
		opts.HTTPTimeout = DefaultHTTPTimeout
	}
	if opts.ReceiveTimeout <= 0 {
		opts.ReceiveTimeout = DefaultReceiveTimeout
	}
	if opts.HistoryAttempts <= 0 {
		opts.HistoryAttempts = DefaultHistoryAttempts
	}
	if opts.HistoryDelay < 0 {
		opts.HistoryDelay = 0
	} else if opts.HistoryDelay == 0 {
		opts.HistoryDelay = DefaultHistoryDelay
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}

	return &Client{
		baseURL:         base,
		wsURL:           &ws,
		httpClient:      &http.Client{Timeout: opts.HTTPTimeout},
		receiveTimeout:  opts.ReceiveTimeout,
		historyAttempts: opts.HistoryAttempts,
		historyDelay:    opts.HistoryDelay,
		logger:          opts.Logger,
		sleep:           sleepContext,
	}, nil
}

// ParseAddress normalizes a server address into its HTTP base URL.
// Bare host:port values get the http scheme. Only http and https are
// accepted, and any query or fragment is rejected.
func ParseAddress(address string) (*url.URL, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, fmt.Errorf("%w: empty address", ErrInvalidAddress)
	}
	if !strings.Contains(address, "://") {
		address = "http://" + address
	}

	u, err := url.Parse(address)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: scheme must be http or https, got %q", ErrInvalidAddress, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidAddress)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return nil, fmt.Errorf("%w: query and fragment are not allowed", ErrInvalidAddress)
	}
	u.Path = strings.TrimSuffix(u.Path, "/")
	return u, nil
}

// BaseURL returns the HTTP base URL of the server.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// ReceiveTimeout returns the per-frame wait used for completion tracking.
func (c *Client) ReceiveTimeout() time.Duration {
	return c.receiveTimeout
}

// endpoint builds an absolute URL for path with optional query parameters.
func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = c.baseURL.Path + path
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// Submit queues a filled workflow document under clientID and returns the
// handle of the new job.
//
// Returns ErrRequestFailed if the server rejects the graph; the error text
// carries the server's explanation (ComfyUI answers 400 with node_errors).
func (c *Client) Submit(ctx context.Context, doc json.RawMessage, clientID string) (JobHandle, error) {
	if clientID == "" {
		return JobHandle{}, errors.New("client id cannot be empty")
	}

	body, err := json.Marshal(PromptRequest{Prompt: doc, ClientID: clientID})
	if err != nil {
		return JobHandle{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(EndpointPrompt, nil), bytes.NewReader(body))
	if err != nil {
		return JobHandle{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return JobHandle{}, c.classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return JobHandle{}, statusError(resp)
	}

	var promptResp PromptResponse
	if err := json.NewDecoder(resp.Body).Decode(&promptResp); err != nil {
		return JobHandle{}, fmt.Errorf("failed to decode response: %w", err)
	}
	if promptResp.PromptID == "" {
		return JobHandle{}, fmt.Errorf("%w: response carried no prompt_id", ErrRequestFailed)
	}

	c.logger.Debug("Queued prompt %s (queue position %d)", promptResp.PromptID, promptResp.Number)

	return JobHandle{PromptID: promptResp.PromptID, ClientID: clientID}, nil
}

// SubmitWorkflow fills promptText into tmpl and submits the result.
// A template without the prompt field fails with workflow.ErrFieldNotFound
// before anything is sent.
func (c *Client) SubmitWorkflow(ctx context.Context, tmpl *workflow.Template, promptText, clientID string) (JobHandle, error) {
	doc, err := tmpl.Fill(promptText)
	if err != nil {
		return JobHandle{}, err
	}
	return c.Submit(ctx, doc, clientID)
}

// FetchArtifact downloads the raw bytes of one output file via /view.
func (c *Client) FetchArtifact(ctx context.Context, ref ArtifactRef) ([]byte, error) {
	query := url.Values{}
	query.Set("filename", ref.Filename)
	query.Set("subfolder", ref.Subfolder)
	query.Set("type", ref.Type)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(EndpointView, query), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxArtifactSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact %s: %w", ref.Filename, err)
	}
	if len(data) > MaxArtifactSize {
		return nil, fmt.Errorf("artifact %s exceeds %d bytes", ref.Filename, MaxArtifactSize)
	}

	return data, nil
}

// SystemStats queries /system_stats. It is used to check that the server is
// reachable before the bot starts taking commands.
func (c *Client) SystemStats(ctx context.Context) (*SystemStats, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(EndpointSystemStats, nil), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		classified := c.classifyError(err)
		if errors.Is(classified, ErrNotRunning) {
			return nil, fmt.Errorf("%w at %s", ErrNotRunning, c.baseURL)
		}
		return nil, classified
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	var stats SystemStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &stats, nil
}

// statusError builds an ErrRequestFailed from a non-200 response, keeping a
// bounded excerpt of the body for diagnosis.
func statusError(resp *http.Response) error {
	errBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if readErr != nil {
		return fmt.Errorf("%w: status %d (failed to read error: %v)", ErrRequestFailed, resp.StatusCode, readErr)
	}
	msg := strings.TrimSpace(string(errBody))
	if msg == "" {
		return fmt.Errorf("%w: status %d", ErrRequestFailed, resp.StatusCode)
	}
	return fmt.Errorf("%w: status %d: %s", ErrRequestFailed, resp.StatusCode, msg)
}

// classifyError converts low-level HTTP errors into client errors.
func (c *Client) classifyError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.Canceled) {
		return context.Canceled
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrConnectionTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrConnectionTimeout
	}

	if errors.Is(err, syscall.ECONNREFUSED) {
		return ErrNotRunning
	}

	return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
}

// sleepContext pauses for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
