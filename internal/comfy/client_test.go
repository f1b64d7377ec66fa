package comfy

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/SektaHub/SektaBot/internal/workflow"
)

func newTestClient(t *testing.T, serverURL string) *Client {
	t.Helper()
	c, err := NewClientWithOptions(serverURL, Options{HTTPTimeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("NewClientWithOptions() error = %v", err)
	}
	return c
}

func TestNewClient_Defaults(t *testing.T) {
	c, err := NewClient(DefaultAddress)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	if c.BaseURL() != "http://127.0.0.1:7821" {
		t.Errorf("BaseURL() = %q, want http://127.0.0.1:7821", c.BaseURL())
	}
	if c.wsURL.String() != "ws://127.0.0.1:7821/ws" {
		t.Errorf("wsURL = %q, want ws://127.0.0.1:7821/ws", c.wsURL)
	}
	if c.ReceiveTimeout() != DefaultReceiveTimeout {
		t.Errorf("ReceiveTimeout() = %v, want %v", c.ReceiveTimeout(), DefaultReceiveTimeout)
	}
	if c.historyAttempts != DefaultHistoryAttempts {
		t.Errorf("historyAttempts = %d, want %d", c.historyAttempts, DefaultHistoryAttempts)
	}
	if c.historyDelay != DefaultHistoryDelay {
		t.Errorf("historyDelay = %v, want %v", c.historyDelay, DefaultHistoryDelay)
	}
	if c.httpClient.Timeout != DefaultHTTPTimeout {
		t.Errorf("http timeout = %v, want %v", c.httpClient.Timeout, DefaultHTTPTimeout)
	}
}

func TestNewClient_HTTPSUsesWSS(t *testing.T) {
	c, err := NewClient("https://comfy.example.com/api/")
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	if got := c.wsURL.String(); got != "wss://comfy.example.com/api/ws" {
		t.Errorf("wsURL = %q, want wss://comfy.example.com/api/ws", got)
	}
	if got := c.endpoint(EndpointPrompt, nil); got != "https://comfy.example.com/api/prompt" {
		t.Errorf("endpoint = %q, want https://comfy.example.com/api/prompt", got)
	}
}

func TestParseAddress_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		address string
	}{
		{"empty", ""},
		{"blank", "   "},
		{"file scheme", "file:///etc/passwd"},
		{"ftp scheme", "ftp://example.com"},
		{"ws scheme", "ws://127.0.0.1:7821"},
		{"query", "http://127.0.0.1:7821/?x=1"},
		{"fragment", "http://127.0.0.1:7821/#frag"},
		{"no host", "http://"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseAddress(tt.address)
			if !errors.Is(err, ErrInvalidAddress) {
				t.Errorf("ParseAddress(%q) error = %v, want ErrInvalidAddress", tt.address, err)
			}
		})
	}
}

func TestSubmit_Success(t *testing.T) {
	var gotBody PromptRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != EndpointPrompt {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q, want application/json", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Write([]byte(`{"prompt_id": "4b7c1c1e-prompt", "number": 3, "node_errors": {}}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	doc := json.RawMessage(`{"6":{"inputs":{"text":"a red fox"}}}`)

	handle, err := c.Submit(context.Background(), doc, "client-1")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	if handle.PromptID != "4b7c1c1e-prompt" {
		t.Errorf("PromptID = %q, want 4b7c1c1e-prompt", handle.PromptID)
	}
	if handle.ClientID != "client-1" {
		t.Errorf("ClientID = %q, want client-1", handle.ClientID)
	}
	if gotBody.ClientID != "client-1" {
		t.Errorf("client_id sent = %q, want client-1", gotBody.ClientID)
	}
	if string(gotBody.Prompt) != string(doc) {
		t.Errorf("prompt sent = %s, want %s", gotBody.Prompt, doc)
	}
}

func TestSubmit_Rejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": {"type": "prompt_outputs_failed_validation"}, "node_errors": {"4": {}}}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	_, err := c.Submit(context.Background(), json.RawMessage(`{}`), "client-1")

	if !errors.Is(err, ErrRequestFailed) {
		t.Fatalf("Submit() error = %v, want ErrRequestFailed", err)
	}
	if !strings.Contains(err.Error(), "prompt_outputs_failed_validation") {
		t.Errorf("error does not carry server message: %v", err)
	}
}

func TestSubmit_MissingPromptID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"number": 1}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	_, err := c.Submit(context.Background(), json.RawMessage(`{}`), "client-1")
	if !errors.Is(err, ErrRequestFailed) {
		t.Errorf("Submit() error = %v, want ErrRequestFailed", err)
	}
}

func TestSubmit_EmptyClientID(t *testing.T) {
	c := newTestClient(t, "http://127.0.0.1:1")
	if _, err := c.Submit(context.Background(), json.RawMessage(`{}`), ""); err == nil {
		t.Error("Submit() with empty client id: error = nil, want error")
	}
}

func TestSubmit_NotRunning(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := server.URL
	server.Close()

	c := newTestClient(t, addr)
	_, err := c.Submit(context.Background(), json.RawMessage(`{}`), "client-1")
	if !errors.Is(err, ErrNotRunning) {
		t.Errorf("Submit() error = %v, want ErrNotRunning", err)
	}
}

func TestSubmitWorkflow_FillsPromptField(t *testing.T) {
	var sent PromptRequest
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		json.NewDecoder(r.Body).Decode(&sent)
		w.Write([]byte(`{"prompt_id": "p"}`))
	}))
	defer server.Close()

	tmpl, err := workflow.Parse([]byte(`{"12": {"inputs": {"text": "x", "clip": ["4", 1]}}}`), []string{"12", "inputs", "text"})
	if err != nil {
		t.Fatalf("workflow.Parse() error = %v", err)
	}
	c := newTestClient(t, server.URL)

	handle, err := c.SubmitWorkflow(context.Background(), tmpl, "a lighthouse at dusk", "client-1")
	if err != nil {
		t.Fatalf("SubmitWorkflow() error = %v", err)
	}
	if handle.PromptID != "p" || calls != 1 {
		t.Errorf("handle = %+v, calls = %d", handle, calls)
	}

	var doc map[string]struct {
		Inputs map[string]json.RawMessage `json:"inputs"`
	}
	if err := json.Unmarshal(sent.Prompt, &doc); err != nil {
		t.Fatalf("sent prompt is not a graph: %v", err)
	}
	if got := string(doc["12"].Inputs["text"]); got != `"a lighthouse at dusk"` {
		t.Errorf("text input = %s, want \"a lighthouse at dusk\"", got)
	}
}

func TestFetchArtifact_QueryParameters(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != EndpointView {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("filename") != "ComfyUI_00001_.png" || q.Get("subfolder") != "bot run" || q.Get("type") != "output" {
			t.Errorf("unexpected query: %s", r.URL.RawQuery)
		}
		if _, ok := q["subfolder"]; !ok {
			t.Error("subfolder parameter missing")
		}
		w.Write([]byte("\x89PNG fake bytes"))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	data, err := c.FetchArtifact(context.Background(), ArtifactRef{Filename: "ComfyUI_00001_.png", Subfolder: "bot run", Type: "output"})
	if err != nil {
		t.Fatalf("FetchArtifact() error = %v", err)
	}
	if string(data) != "\x89PNG fake bytes" {
		t.Errorf("data = %q", data)
	}
}

func TestFetchArtifact_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	_, err := c.FetchArtifact(context.Background(), ArtifactRef{Filename: "gone.png", Type: "output"})
	if !errors.Is(err, ErrRequestFailed) {
		t.Errorf("FetchArtifact() error = %v, want ErrRequestFailed", err)
	}
}

func TestSystemStats(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != EndpointSystemStats {
			http.NotFound(w, r)
			return
		}
		io.WriteString(w, `{"system":{"os":"posix","comfyui_version":"0.3.10"},"devices":[{"name":"cuda:0 NVIDIA","type":"cuda","vram_total":25393692672}]}`)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	stats, err := c.SystemStats(context.Background())
	if err != nil {
		t.Fatalf("SystemStats() error = %v", err)
	}
	if stats.System.ComfyUIVersion != "0.3.10" {
		t.Errorf("ComfyUIVersion = %q, want 0.3.10", stats.System.ComfyUIVersion)
	}
	if len(stats.Devices) != 1 || stats.Devices[0].Type != "cuda" {
		t.Errorf("Devices = %+v", stats.Devices)
	}
}

func TestClassifyError(t *testing.T) {
	c := newTestClient(t, "http://127.0.0.1:1")

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"deadline", context.DeadlineExceeded, ErrConnectionTimeout},
		{"canceled", context.Canceled, context.Canceled},
		{"other", errors.New("tls: bad certificate"), ErrConnectionFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.classifyError(tt.err); !errors.Is(got, tt.want) {
				t.Errorf("classifyError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}

	if c.classifyError(nil) != nil {
		t.Error("classifyError(nil) != nil")
	}
}
