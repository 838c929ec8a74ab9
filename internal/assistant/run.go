package assistant

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/router-for-me/GPTHub/internal/apperr"
	log "github.com/sirupsen/logrus"
)

// RunState is the local view of a run's lifecycle.
type RunState int

const (
	RunQueued RunState = iota
	RunRunning
	RunCompleted
	RunFailed
	RunCancelled
	RunTimedOut
)

// String returns the state name.
func (s RunState) String() string {
	switch s {
	case RunQueued:
		return "queued"
	case RunRunning:
		return "running"
	case RunCompleted:
		return "completed"
	case RunFailed:
		return "failed"
	case RunCancelled:
		return "cancelled"
	case RunTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions happen from s.
func (s RunState) Terminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunCancelled || s == RunTimedOut
}

// Upstream run statuses.
const (
	StatusQueued         = "queued"
	StatusInProgress     = "in_progress"
	StatusRequiresAction = "requires_action"
	StatusCancelling     = "cancelling"
	StatusCancelled      = "cancelled"
	StatusFailed         = "failed"
	StatusCompleted      = "completed"
	StatusIncomplete     = "incomplete"
	StatusExpired        = "expired"
)

// StateFromStatus maps an upstream run status onto RunState.
// Tool calls are not supported, so requires_action ends the run as failed.
func StateFromStatus(status string) RunState {
	switch status {
	case StatusQueued:
		return RunQueued
	case StatusInProgress, StatusCancelling:
		return RunRunning
	case StatusCompleted:
		return RunCompleted
	case StatusCancelled:
		return RunCancelled
	case StatusFailed, StatusIncomplete, StatusExpired, StatusRequiresAction:
		return RunFailed
	default:
		return RunRunning
	}
}

// maxPollFailures bounds consecutive transient errors while polling.
const maxPollFailures = 3

// Waiter polls a run until it reaches a terminal state or the wait budget is spent.
type Waiter struct {
	client   Client
	interval time.Duration
	maxWait  time.Duration
}

// NewWaiter constructs a Waiter; non-positive durations fall back to defaults.
func NewWaiter(client Client, interval, maxWait time.Duration) *Waiter {
	if interval <= 0 {
		interval = time.Second
	}
	if maxWait <= 0 {
		maxWait = 2 * time.Minute
	}
	return &Waiter{client: client, interval: interval, maxWait: maxWait}
}

// Wait blocks until run finishes. It returns the last observed run and its state;
// the error is nil only for RunCompleted.
func (w *Waiter) Wait(ctx context.Context, threadID string, run Run) (Run, RunState, error) {
	waitCtx, cancel := context.WithTimeout(ctx, w.maxWait)
	defer cancel()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	failures := 0
	for {
		state := StateFromStatus(run.Status)
		if state.Terminal() {
			return run, state, stateError(run, state)
		}

		select {
		case <-waitCtx.Done():
			if errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
				return run, RunTimedOut, apperr.New(apperr.KindAssistantRunTimeout,
					"assistant run %s did not finish within %s", run.ID, w.maxWait)
			}
			return run, state, waitCtx.Err()
		case <-ticker.C:
		}

		next, errRetrieve := w.client.RetrieveRun(waitCtx, threadID, run.ID)
		if errRetrieve != nil {
			if waitCtx.Err() != nil {
				continue
			}
			failures++
			if failures >= maxPollFailures {
				return run, state, errRetrieve
			}
			log.WithError(errRetrieve).WithField("run_id", run.ID).Warn("assistant: poll run failed, retrying")
			continue
		}
		failures = 0
		run = next
	}
}

func stateError(run Run, state RunState) error {
	switch state {
	case RunCompleted:
		return nil
	case RunCancelled:
		return apperr.New(apperr.KindAssistantRunFailed, "assistant run %s was cancelled", run.ID)
	case RunFailed:
		detail := run.LastError
		if detail == "" {
			detail = run.Status
		}
		return apperr.New(apperr.KindAssistantRunFailed, "assistant run failed: %s", detail)
	default:
		return fmt.Errorf("assistant: unexpected run state %s", state)
	}
}
