package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrAlreadyExists       = errors.New("already exists")
	ErrInsufficientHistory = errors.New("insufficient history for feature window")
	ErrModelUnavailable    = errors.New("signal model unavailable")
	ErrLabelLeakage        = errors.New("label leakage: forward bars precede the signal")
	ErrContextDone         = errors.New("context cancelled")
	ErrLockHeld            = errors.New("lock already held")
)

// Risk rejection reasons. These are expected-path vetoes, not faults.
const (
	RejectConfidence       = "confidence_threshold"
	RejectPositionLimit    = "position_limit"
	RejectPortfolioRisk    = "portfolio_risk"
	RejectInsufficientCash = "insufficient_cash"
	RejectHalted           = "halted"
	RejectNoSide           = "no_tradeable_direction"
	RejectNoPrice          = "no_mark_price"
	RejectSuperseded       = "superseded_by_better_signal"
)

// RiskRejectedError is the risk manager's veto of a proposed order.
// It is logged and counted, never treated as a pipeline failure.
type RiskRejectedError struct {
	Reason string
	Detail string
}

func (e *RiskRejectedError) Error() string {
	if e.Detail == "" {
		return "risk rejected: " + e.Reason
	}
	return "risk rejected: " + e.Reason + ": " + e.Detail
}

// RiskRejected builds a veto with a formatted detail message.
func RiskRejected(reason, format string, args ...any) error {
	return &RiskRejectedError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// IsRiskRejected reports whether err is a risk veto, returning the
// reason when it is.
func IsRiskRejected(err error) (string, bool) {
	var rr *RiskRejectedError
	if errors.As(err, &rr) {
		return rr.Reason, true
	}
	return "", false
}

// Execution rejection reasons.
const (
	ExecRejectTimeout       = "timeout"
	ExecRejectConnectivity  = "connectivity"
	ExecRejectUnknownOrder  = "unknown_order"
	ExecRejectBadTransition = "invalid_status_transition"
	ExecRejectNoLiquidity   = "no_liquidity"
)

// ExecutionRejectedError is an execution backend refusal. Transient
// rejections (timeouts, connectivity) are retried exactly once by the
// gateway before being surfaced.
type ExecutionRejectedError struct {
	Reason    string
	Transient bool
	Err       error
}

func (e *ExecutionRejectedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("execution rejected (%s): %v", e.Reason, e.Err)
	}
	return "execution rejected: " + e.Reason
}

func (e *ExecutionRejectedError) Unwrap() error { return e.Err }

// ExecutionRejected builds a non-transient backend refusal.
func ExecutionRejected(reason string, err error) error {
	return &ExecutionRejectedError{Reason: reason, Err: err}
}

// ExecutionRejectedTransient builds a refusal eligible for one retry.
func ExecutionRejectedTransient(reason string, err error) error {
	return &ExecutionRejectedError{Reason: reason, Transient: true, Err: err}
}

// IsExecutionRejected reports whether err is an execution refusal.
func IsExecutionRejected(err error) (*ExecutionRejectedError, bool) {
	var er *ExecutionRejectedError
	if errors.As(err, &er) {
		return er, true
	}
	return nil, false
}

// InvariantViolationError is a fatal pipeline bug: future-data access,
// negative sizing, or a broken lifecycle transition. It aborts the run
// with a diagnostic naming the offending instrument and bar.
type InvariantViolationError struct {
	Instrument string
	Timestamp  time.Time
	Cause      string
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("invariant violation on %s at %s: %s",
		e.Instrument, e.Timestamp.UTC().Format(time.RFC3339), e.Cause)
}

// Invariant builds a fatal invariant violation diagnostic.
func Invariant(instrument string, ts time.Time, format string, args ...any) error {
	return &InvariantViolationError{
		Instrument: instrument,
		Timestamp:  ts,
		Cause:      fmt.Sprintf(format, args...),
	}
}
