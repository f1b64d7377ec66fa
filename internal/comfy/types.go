// Package comfy is a client for the ComfyUI generation server.
//
// A job runs in three steps, each exposed separately so it can be tested on
// its own:
//
//  1. Subscribe opens the /ws notification channel for a client id, and
//     Submit posts the filled workflow to /prompt. The subscription is opened
//     first so the completion broadcast cannot be missed.
//  2. WaitForCompletion consumes notification frames until the server reports
//     an empty queue, the per-receive timeout expires, or the channel fails.
//  3. FetchManifest looks up /history/{prompt_id} with a bounded retry, and
//     FetchResults downloads every referenced image from /view in manifest
//     order.
//
// The client id is always passed explicitly; the package keeps no identity
// state of its own.
package comfy

import (
	"encoding/json"
	"errors"
	"time"
)

// Default configuration constants
const (
	DefaultAddress         = "127.0.0.1:7821"
	DefaultHTTPTimeout     = 60 * time.Second
	DefaultReceiveTimeout  = 180 * time.Second
	DefaultHistoryAttempts = 5
	DefaultHistoryDelay    = 2 * time.Second
)

// API endpoints
const (
	EndpointPrompt      = "/prompt"
	EndpointHistory     = "/history/"
	EndpointView        = "/view"
	EndpointSystemStats = "/system_stats"
	EndpointWebSocket   = "/ws"
)

const (
	// MaxArtifactSize caps a single /view download (64 MB)
	MaxArtifactSize = 64 * 1024 * 1024
	// maxFrameSize caps a single notification frame; preview frames are the
	// largest thing the server pushes.
	maxFrameSize = 32 * 1024 * 1024
	// maxErrorBody is how much of a failed response body is kept for the error
	maxErrorBody = 1024
)

// Sentinel errors for generation client operations
var (
	// ErrNotRunning is returned when the server refuses connections
	ErrNotRunning = errors.New("comfyui server not running")
	// ErrConnectionTimeout is returned when an HTTP request times out
	ErrConnectionTimeout = errors.New("comfyui connection timeout")
	// ErrConnectionFailed is returned when a connection fails for other reasons
	ErrConnectionFailed = errors.New("comfyui connection failed")
	// ErrRequestFailed is returned when the server answers with an error status
	ErrRequestFailed = errors.New("comfyui request failed")
	// ErrInvalidAddress is returned when the server address cannot be used
	ErrInvalidAddress = errors.New("invalid comfyui server address")

	// ErrTimeout is returned when no completion event arrives within the
	// per-receive window
	ErrTimeout = errors.New("timed out waiting for job completion")
	// ErrChannel is returned when the notification channel fails or delivers
	// a payload that cannot be parsed
	ErrChannel = errors.New("notification channel error")
	// ErrRecordNotFound is returned when the job record is still missing after
	// the retry budget is spent
	ErrRecordNotFound = errors.New("job record not found in history")
	// ErrJobFailed is returned when the history record reports an execution error
	ErrJobFailed = errors.New("job failed on server")
)

// PromptRequest is the body of POST /prompt.
type PromptRequest struct {
	Prompt   json.RawMessage `json:"prompt"`
	ClientID string          `json:"client_id"`
}

// PromptResponse is the body returned by POST /prompt.
type PromptResponse struct {
	PromptID   string                     `json:"prompt_id"`
	Number     int                        `json:"number"`
	NodeErrors map[string]json.RawMessage `json:"node_errors,omitempty"`
}

// JobHandle identifies one submitted job. The prompt id correlates the
// history lookup; the client id scopes the notification channel.
type JobHandle struct {
	PromptID string
	ClientID string
}

// ArtifactRef identifies one output file on the server.
type ArtifactRef struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// NodeOutput lists the images one output node produced.
type NodeOutput struct {
	NodeID string
	Images []ArtifactRef
}

// JobStatus is the execution summary the server stores with a history record.
type JobStatus struct {
	StatusStr string            `json:"status_str"`
	Completed bool              `json:"completed"`
	Messages  []json.RawMessage `json:"messages,omitempty"`
}

// Manifest is the output record of a completed job. Nodes keep the order in
// which the server listed them.
type Manifest struct {
	PromptID string
	Status   JobStatus
	Nodes    []NodeOutput
}

// NodeArtifacts holds the downloaded payloads for one node, in manifest order.
type NodeArtifacts struct {
	NodeID   string
	Payloads [][]byte
}

// SystemStats is the subset of GET /system_stats used for startup checks.
type SystemStats struct {
	System struct {
		OS             string `json:"os"`
		PythonVersion  string `json:"python_version"`
		ComfyUIVersion string `json:"comfyui_version"`
	} `json:"system"`
	Devices []struct {
		Name      string `json:"name"`
		Type      string `json:"type"`
		VRAMTotal int64  `json:"vram_total"`
		VRAMFree  int64  `json:"vram_free"`
	} `json:"devices"`
}
