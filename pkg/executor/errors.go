package executor

import (
	"errors"
	"fmt"
)

// Error codes.
const (
	CodeStepFailed         = "PILGRIM/CORE/STEP_FAILED"
	CodeVerificationFailed = "PILGRIM/CORE/VERIFICATION_FAILED"
)

var (
	// ErrStepFailed matches *StepFailedError.
	ErrStepFailed = errors.New("step failed")
	// ErrVerificationFailed matches *VerificationError.
	ErrVerificationFailed = errors.New("verification failed")
)

// StepFailedError aborts a run. No receipt exists for the partial trace.
type StepFailedError struct {
	StepName string `json:"step_name"`
	Reason   string `json:"reason"`
	Err      error  `json:"-"`
}

func (e *StepFailedError) Error() string {
	return fmt.Sprintf("step %q failed: %s", e.StepName, e.Reason)
}

func (e *StepFailedError) Unwrap() error { return e.Err }

func (e *StepFailedError) Is(target error) bool { return target == ErrStepFailed }

func (e *StepFailedError) Code() string { return CodeStepFailed }

// VerificationReason classifies a receipt that does not reproduce.
type VerificationReason string

const (
	IntentDigestMismatch VerificationReason = "IntentDigestMismatch"
	TraceHashMismatch    VerificationReason = "TraceHashMismatch"
	OutputMismatch       VerificationReason = "OutputMismatch"
)

// VerificationError is returned by VerifyRun and VerifyReceipt.
type VerificationError struct {
	Reason VerificationReason `json:"reason"`
	Detail string             `json:"detail,omitempty"`
	Err    error              `json:"-"`
}

func (e *VerificationError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("verification failed: %s: %s", e.Reason, e.Detail)
	}
	return fmt.Sprintf("verification failed: %s", e.Reason)
}

func (e *VerificationError) Unwrap() error { return e.Err }

func (e *VerificationError) Is(target error) bool { return target == ErrVerificationFailed }

func (e *VerificationError) Code() string { return CodeVerificationFailed }

func mismatch(reason VerificationReason, format string, args ...any) *VerificationError {
	return &VerificationError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}
