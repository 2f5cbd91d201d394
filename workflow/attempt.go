package workflow

import (
	"errors"
	"fmt"
	"sync"

	"payflow/api"
	"payflow/payments"

	"github.com/google/uuid"
)

var (
	// ErrDisabled means the step's precondition is not met. No network call
	// was made.
	ErrDisabled = errors.New("step is disabled")
	// ErrInFlight means another attempt of the same step is still running
	ErrInFlight = errors.New("an attempt is already in progress")
	// ErrInvalidInput wraps input validation failures
	ErrInvalidInput = errors.New("invalid input")
	// ErrSuperseded means the step was reset or the session was reset while
	// the attempt was running; its result was dropped.
	ErrSuperseded = errors.New("attempt was superseded")
)

// ConfirmError is returned when the payment SDK refused to confirm
type ConfirmError struct {
	Result payments.Result
}

func (e *ConfirmError) Error() string {
	return fmt.Sprintf("confirmation failed: %v", e.Result.Reason)
}

type Status string

const (
	StatusIdle       Status = "idle"
	StatusProcessing Status = "processing"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
)

// Attempt is the transient state of one submission of a step
type Attempt struct {
	ID     string `json:"id,omitempty"`
	Status Status `json:"status"`
	Error  string `json:"error,omitempty"`
	Result string `json:"result,omitempty"`
}

// Loading reports whether the attempt is in flight
func (a Attempt) Loading() bool {
	return a.Status == StatusProcessing
}

// attemptGuard allows one in-flight attempt at a time. Every attempt gets a
// fresh token; a finish carrying a stale token is ignored.
type attemptGuard struct {
	mu      sync.Mutex
	attempt Attempt
}

func (g *attemptGuard) current() Attempt {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.attempt.Status == "" {
		return Attempt{Status: StatusIdle}
	}
	return g.attempt
}

func (g *attemptGuard) begin() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.attempt.Status == StatusProcessing {
		return "", ErrInFlight
	}
	id := uuid.NewString()
	g.attempt = Attempt{ID: id, Status: StatusProcessing}
	return id, nil
}

// finish records the outcome of attempt id and reports whether it was still
// the current attempt.
func (g *attemptGuard) finish(id string, status Status, errMsg string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.attempt.ID != id {
		return false
	}
	g.attempt.Status = status
	g.attempt.Error = errMsg
	return true
}

func (g *attemptGuard) setResult(id, result string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.attempt.ID == id {
		g.attempt.Result = result
	}
}

// reset returns to idle. A running attempt keeps running but its result will
// be dropped.
func (g *attemptGuard) reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.attempt = Attempt{Status: StatusIdle}
}

// displayError picks the text to show for a failed call: the backend's own
// message when it sent one, the SDK reason for card errors, fallback
// otherwise.
func displayError(fallback string, err error) string {
	var apiErr *api.Error
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	var confirmErr *ConfirmError
	if errors.As(err, &confirmErr) && confirmErr.Result.Reason != "" {
		return confirmErr.Result.Reason
	}
	return fallback
}
