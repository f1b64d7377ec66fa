package comfy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// errRecordPending marks a lookup whose response did not yet contain the job.
var errRecordPending = errors.New("record not yet visible")

// FetchManifest looks up the history record of a completed job.
//
// The record can lag the completion event, so the lookup is retried: up to
// the configured number of attempts with a fixed pause between them and none
// after the last. Transport failures, error statuses and responses that do
// not yet list the job all count as failed attempts.
//
// Returns ErrRecordNotFound once the attempts are used up.
// Returns ErrJobFailed immediately if the record reports an execution error.
func (c *Client) FetchManifest(ctx context.Context, handle JobHandle) (*Manifest, error) {
	if handle.PromptID == "" {
		return nil, errors.New("prompt id cannot be empty")
	}

	var lastErr error
	for attempt := 1; attempt <= c.historyAttempts; attempt++ {
		manifest, err := c.lookupHistory(ctx, handle.PromptID)
		if err == nil {
			if manifest.Status.StatusStr == "error" {
				return manifest, fmt.Errorf("%w: prompt %s: %s", ErrJobFailed, handle.PromptID, executionMessage(manifest.Status))
			}
			c.logger.Debug("Retrieved history for prompt %s on attempt %d", handle.PromptID, attempt)
			return manifest, nil
		}
		if errors.Is(err, context.Canceled) {
			return nil, err
		}

		lastErr = err
		c.logger.Warn("History lookup for prompt %s failed (%d/%d): %v", handle.PromptID, attempt, c.historyAttempts, err)

		if attempt < c.historyAttempts {
			if err := c.sleep(ctx, c.historyDelay); err != nil {
				return nil, err
			}
		}
	}

	c.logger.Error("Prompt %s not found in history after %d attempts", handle.PromptID, c.historyAttempts)
	return nil, fmt.Errorf("%w: prompt %s after %d attempts: %v", ErrRecordNotFound, handle.PromptID, c.historyAttempts, lastErr)
}

// lookupHistory performs a single GET /history/{prompt_id}.
func (c *Client) lookupHistory(ctx context.Context, promptID string) (*Manifest, error) {
	endpoint := c.endpoint(EndpointHistory+url.PathEscape(promptID), nil)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
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

	var records map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	raw, ok := records[promptID]
	if !ok {
		return nil, errRecordPending
	}

	return parseRecord(promptID, raw)
}

// parseRecord decodes one history record, keeping the order of its outputs.
func parseRecord(promptID string, raw json.RawMessage) (*Manifest, error) {
	var record struct {
		Outputs json.RawMessage `json:"outputs"`
		Status  JobStatus       `json:"status"`
	}
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}

	nodes, err := parseOutputs(record.Outputs)
	if err != nil {
		return nil, err
	}

	return &Manifest{
		PromptID: promptID,
		Status:   record.Status,
		Nodes:    nodes,
	}, nil
}

// parseOutputs walks the outputs object token by token; decoding into a map
// would lose the node order the server reported.
func parseOutputs(raw json.RawMessage) ([]NodeOutput, error) {
	if len(bytes.TrimSpace(raw)) == 0 || string(raw) == "null" {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to decode outputs: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("failed to decode outputs: expected object, got %v", tok)
	}

	var nodes []NodeOutput
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("failed to decode outputs: %w", err)
		}
		nodeID, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("failed to decode outputs: unexpected key %v", keyTok)
		}

		var node struct {
			Images []ArtifactRef `json:"images"`
		}
		if err := dec.Decode(&node); err != nil {
			return nil, fmt.Errorf("failed to decode output of node %s: %w", nodeID, err)
		}
		nodes = append(nodes, NodeOutput{NodeID: nodeID, Images: node.Images})
	}

	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("failed to decode outputs: %w", err)
	}
	return nodes, nil
}

// executionMessage extracts the exception text from an execution_error entry
// in the record's status messages.
func executionMessage(status JobStatus) string {
	for _, raw := range status.Messages {
		var entry []json.RawMessage
		if err := json.Unmarshal(raw, &entry); err != nil || len(entry) != 2 {
			continue
		}
		var name string
		if err := json.Unmarshal(entry[0], &name); err != nil || name != EventExecutionError {
			continue
		}
		var data struct {
			NodeID           string `json:"node_id"`
			NodeType         string `json:"node_type"`
			ExceptionMessage string `json:"exception_message"`
		}
		if err := json.Unmarshal(entry[1], &data); err != nil {
			continue
		}
		msg := strings.TrimSpace(data.ExceptionMessage)
		if data.NodeID != "" {
			return fmt.Sprintf("node %s (%s): %s", data.NodeID, data.NodeType, msg)
		}
		return msg
	}
	return "execution error"
}
