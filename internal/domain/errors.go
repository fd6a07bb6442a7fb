package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound reports an absent thread, run or checkpoint.
	ErrNotFound = errors.New("not found")
	// ErrInvalidState reports an operation that is illegal for the current run status.
	ErrInvalidState = errors.New("invalid state")
	// ErrThreadBusy reports that another run already holds the thread.
	ErrThreadBusy = errors.New("thread busy")
	// ErrOverloaded reports an admission control rejection.
	ErrOverloaded = errors.New("overloaded")
	// ErrStorage reports a transient IO or connection fault.
	ErrStorage = errors.New("storage failure")
	// ErrConstraint reports a violated storage constraint. It is never retried.
	ErrConstraint = errors.New("constraint violation")
	// ErrStreamGap reports that a replay position has been evicted.
	ErrStreamGap = errors.New("stream gap")
	// ErrComputationFault reports an unrecoverable graph step error.
	ErrComputationFault = errors.New("computation fault")
	// ErrForbidden reports that the principal does not own the resource.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidArgument reports a malformed request.
	ErrInvalidArgument = errors.New("invalid argument")
)

// OverloadedError carries a retry-after hint.
type OverloadedError struct {
	RetryAfter time.Duration
}

func (e *OverloadedError) Error() string {
	return fmt.Sprintf("overloaded: retry after %s", e.RetryAfter)
}

func (e *OverloadedError) Is(target error) bool { return target == ErrOverloaded }

// StreamGapError is returned when a consumer asks to replay events that were evicted.
type StreamGapError struct {
	RunID     string
	Requested int64
	Oldest    int64
}

func (e *StreamGapError) Error() string {
	return fmt.Sprintf("stream gap on run %s: requested seq %d, oldest retained %d", e.RunID, e.Requested, e.Oldest)
}

func (e *StreamGapError) Is(target error) bool { return target == ErrStreamGap }

// ComputationFault is returned when a graph step fails. CheckpointID and Seq name
// the last checkpoint that was durably written before the fault.
type ComputationFault struct {
	RunID        string
	Step         int
	CheckpointID string
	Seq          int64
	Err          error
}

func (e *ComputationFault) Error() string {
	return fmt.Sprintf("run %s failed at step %d (last checkpoint %q seq %d): %v",
		e.RunID, e.Step, e.CheckpointID, e.Seq, e.Err)
}

func (e *ComputationFault) Unwrap() error { return e.Err }

func (e *ComputationFault) Is(target error) bool { return target == ErrComputationFault }

// Payload converts the fault into the persisted error shape.
func (e *ComputationFault) Payload() ErrorPayload {
	msg := ""
	if e.Err != nil {
		msg = e.Err.Error()
	}
	return ErrorPayload{
		Code:         "computation_fault",
		Message:      msg,
		CheckpointID: e.CheckpointID,
		Seq:          e.Seq,
	}
}

// ErrorCode returns the stable code string for an error in the taxonomy.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrThreadBusy):
		return "thread_busy"
	case errors.Is(err, ErrOverloaded):
		return "overloaded"
	case errors.Is(err, ErrStreamGap):
		return "stream_gap"
	case errors.Is(err, ErrComputationFault):
		return "computation_fault"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, ErrConstraint):
		return "constraint_violation"
	case errors.Is(err, ErrStorage):
		return "storage_failure"
	}
	return "internal"
}
