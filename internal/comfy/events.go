package comfy

import (
	"encoding/json"
	"fmt"
)

// Notification message types pushed on /ws
const (
	EventStatus         = "status"
	EventExecutionStart = "execution_start"
	EventExecuting      = "executing"
	EventProgress       = "progress"
	EventExecuted       = "executed"
	EventExecutionError = "execution_error"
)

// Frame is one message received on the notification channel.
// Binary frames carry preview images; text frames carry JSON events.
type Frame struct {
	Binary bool
	Data   []byte
}

// Event is the envelope of a JSON notification.
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// StatusEvent is the payload of a "status" notification. Both fields are
// optional on the wire.
type StatusEvent struct {
	QueueRemaining *int
	SessionID      *string
}

// statusData mirrors {"status": {"exec_info": {"queue_remaining": n}}, "sid": s}
type statusData struct {
	Status *struct {
		ExecInfo *struct {
			QueueRemaining *int `json:"queue_remaining"`
		} `json:"exec_info"`
	} `json:"status"`
	SID *string `json:"sid"`
}

// Completes reports whether the event signals that the job finished: the
// queue is empty and the event is a broadcast rather than the greeting the
// server sends to a newly connected session (which carries sid).
func (e StatusEvent) Completes() bool {
	return e.QueueRemaining != nil && *e.QueueRemaining == 0 && e.SessionID == nil
}

// ParseEvent decodes a text frame. The returned StatusEvent is nil for
// every type other than "status".
func ParseEvent(data []byte) (Event, *StatusEvent, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, nil, fmt.Errorf("malformed event: %w", err)
	}

	if ev.Type != EventStatus || len(ev.Data) == 0 || string(ev.Data) == "null" {
		return ev, nil, nil
	}

	var sd statusData
	if err := json.Unmarshal(ev.Data, &sd); err != nil {
		return ev, nil, fmt.Errorf("malformed status event: %w", err)
	}

	status := &StatusEvent{SessionID: sd.SID}
	if sd.Status != nil && sd.Status.ExecInfo != nil {
		status.QueueRemaining = sd.Status.ExecInfo.QueueRemaining
	}
	return ev, status, nil
}
