package comfy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/SektaHub/SektaBot/internal/logging"
)

// WaitState is the state of the completion-wait machine.
type WaitState int

const (
	// StateAwaitingEvent is the initial state: reading frames
	StateAwaitingEvent WaitState = iota
	// StateDone means the completion event arrived
	StateDone
	// StateTimedOut means no frame arrived within the per-receive window
	StateTimedOut
	// StateChannelError means the channel failed or sent garbage
	StateChannelError
)

// String returns the string representation of a wait state
func (s WaitState) String() string {
	switch s {
	case StateAwaitingEvent:
		return "awaiting_event"
	case StateDone:
		return "done"
	case StateTimedOut:
		return "timed_out"
	case StateChannelError:
		return "channel_error"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible.
func (s WaitState) Terminal() bool {
	return s == StateDone || s == StateTimedOut || s == StateChannelError
}

// WaitForCompletion reads frames from src until the completion event
// arrives, and always closes src before returning.
//
// Each read is bounded by receiveTimeout. Binary frames (previews) and every
// event other than a qualifying "status" event are skipped.
//
// Returns StateDone and nil on completion.
// Returns StateTimedOut and ErrTimeout if a single read waits longer than
// receiveTimeout.
// Returns StateChannelError and an error wrapping ErrChannel if the source
// fails, a text frame cannot be parsed, or ctx is cancelled.
func WaitForCompletion(ctx context.Context, src EventSource, receiveTimeout time.Duration, logger *logging.Logger) (WaitState, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	if receiveTimeout <= 0 {
		receiveTimeout = DefaultReceiveTimeout
	}

	defer func() {
		if err := src.Close(); err != nil {
			logger.Debug("Closing notification channel: %v", err)
		}
	}()

	state := StateAwaitingEvent
	frames := 0
	for !state.Terminal() {
		readCtx, cancel := context.WithTimeout(ctx, receiveTimeout)
		frame, err := src.Next(readCtx)
		timedOut := errors.Is(readCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
		cancel()

		if err != nil {
			if timedOut {
				logger.Warn("No notification within %v after %d frames", receiveTimeout, frames)
				return StateTimedOut, fmt.Errorf("%w (no event within %v)", ErrTimeout, receiveTimeout)
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return StateChannelError, fmt.Errorf("%w: %w", ErrChannel, ctxErr)
			}
			return StateChannelError, fmt.Errorf("%w: %w", ErrChannel, err)
		}
		frames++

		state, err = step(frame, logger)
		if err != nil {
			return state, err
		}
	}

	logger.Debug("Completion event received after %d frames", frames)
	return state, nil
}

// step classifies one frame and returns the next state.
func step(frame Frame, logger *logging.Logger) (WaitState, error) {
	if frame.Binary {
		return StateAwaitingEvent, nil
	}

	ev, status, err := ParseEvent(frame.Data)
	if err != nil {
		return StateChannelError, fmt.Errorf("%w: %w", ErrChannel, err)
	}
	if status == nil {
		logger.Debug("Ignoring %q event", ev.Type)
		return StateAwaitingEvent, nil
	}

	if status.Completes() {
		return StateDone, nil
	}

	if status.QueueRemaining != nil {
		logger.Debug("Queue remaining: %d", *status.QueueRemaining)
	}
	return StateAwaitingEvent, nil
}
