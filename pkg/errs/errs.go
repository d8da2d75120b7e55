package errs

import (
	"errors"
	"fmt"
	"strings"
)

// Family is the error-code namespace prefix
type Family string

const (
	FamilyNetwork     Family = "NET"
	FamilyValidation  Family = "VAL"
	FamilyPersistence Family = "PER"
	FamilyBusiness    Family = "BUS"
	FamilySystem      Family = "SYS"
	FamilySecurity    Family = "SEC"
	FamilyResource    Family = "RES"
	FamilyTimeout     Family = "TIM"
)

// Code is a stable machine-readable error identifier
type Code string

const (
	NetConnectionFailed Code = "NET_CONNECTION_FAILED"
	NetTimeout          Code = "NET_TIMEOUT"
	NetThrottled        Code = "NET_THROTTLED"

	ValMissingField  Code = "VAL_MISSING_FIELD"
	ValBadEnum       Code = "VAL_BAD_ENUM"
	ValDuration      Code = "VAL_DURATION"
	ValProgressRange Code = "VAL_PROGRESS_RANGE"
	ValTaskInvalid   Code = "VAL_TASK_INVALID"
	ValConfigInvalid Code = "VAL_CONFIG_INVALID"
	ValQueueInvalid  Code = "VAL_QUEUE_INVALID"

	PerVersionConflict   Code = "PER_VERSION_CONFLICT"
	PerChecksumMismatch  Code = "PER_CHECKSUM_MISMATCH"
	PerNotFound          Code = "PER_NOT_FOUND"
	PerQueueUnrepairable Code = "PER_QUEUE_UNREPAIRABLE"
	PerRetriesExhausted  Code = "PER_RETRIES_EXHAUSTED"
	PerPlanImpossible    Code = "PER_PLAN_IMPOSSIBLE"

	BusQueueFull             Code = "BUS_QUEUE_FULL"
	BusTaskTooLong           Code = "BUS_TASK_TOO_LONG"
	BusTotalDurationExceeded Code = "BUS_TOTAL_DURATION_EXCEEDED"
	BusPrereqNotMet          Code = "BUS_PREREQ_NOT_MET"
	BusInsufficientResources Code = "BUS_INSUFFICIENT_RESOURCES"
	BusAlreadyPaused         Code = "BUS_ALREADY_PAUSED"
	BusNotPaused             Code = "BUS_NOT_PAUSED"
	BusResumeForbidden       Code = "BUS_RESUME_FORBIDDEN"

	SysInternal    Code = "SYS_INTERNAL"
	SysCorruption  Code = "SYS_CORRUPTION"
	SysCircuitOpen Code = "SYS_CIRCUIT_OPEN"

	SecUnauthorized   Code = "SEC_UNAUTHORIZED"
	SecPlayerMismatch Code = "SEC_PLAYER_MISMATCH"

	ResSystemOverloaded    Code = "RES_SYSTEM_OVERLOADED"
	ResGracefulDegradation Code = "RES_GRACEFUL_DEGRADATION"

	TimDeadlineExceeded Code = "TIM_DEADLINE_EXCEEDED"
)

// Family returns the namespace of a code ("" when malformed).
func (c Code) Family() Family {
	s := string(c)
	i := strings.IndexByte(s, '_')
	if i <= 0 {
		return ""
	}
	return Family(s[:i])
}

// Error is the coded error carried across component boundaries. It
// wraps an optional cause for errors.Is/As chains.
type Error struct {
	Code             Code
	Message          string
	RetryRecommended bool
	Warning          bool // advisory failures (e.g. pausing a paused queue)
	SuggestedActions []string
	RetryAfterMs     int64 // populated for circuit-open / degradation results
	cause            error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is lets errors.Is match two coded errors by code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// New builds a coded error with the family's default retry advice and
// suggested actions.
func New(code Code, format string, args ...interface{}) *Error {
	e := &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
	e.RetryRecommended = defaultRetry(code)
	e.SuggestedActions = defaultActions(code)
	return e
}

// Wrap attaches a cause to a new coded error.
func Wrap(code Code, cause error, format string, args ...interface{}) *Error {
	e := New(code, format, args...)
	e.cause = cause
	return e
}

// WithActions replaces the suggested actions.
func (e *Error) WithActions(actions ...string) *Error {
	e.SuggestedActions = actions
	return e
}

// WithRetryAfter records how long the caller should wait.
func (e *Error) WithRetryAfter(ms int64) *Error {
	e.RetryAfterMs = ms
	return e
}

// AsWarning downgrades the error to advisory severity.
func (e *Error) AsWarning() *Error {
	e.Warning = true
	return e
}

func defaultRetry(code Code) bool {
	switch code {
	case PerVersionConflict, PerRetriesExhausted:
		return true
	case SysInternal, SysCorruption:
		return true
	}
	switch code.Family() {
	case FamilyNetwork, FamilyTimeout:
		return true
	}
	return false
}

func defaultActions(code Code) []string {
	switch code.Family() {
	case FamilyNetwork, FamilyTimeout:
		return []string{"Wait and retry"}
	case FamilyPersistence:
		return []string{"Refresh and try again"}
	case FamilyBusiness:
		return []string{"Check requirements"}
	case FamilyResource:
		return []string{"Wait and retry"}
	}
	return nil
}

// CodeOf extracts the code from any error in the chain, or "".
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// IsWarning reports whether err is advisory rather than fatal.
func IsWarning(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Warning
	}
	return false
}

// Retryable reports whether the caller is advised to retry.
func Retryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.RetryRecommended
	}
	return false
}

// CountsForBreaker reports whether a failure should trip circuit
// breakers: infrastructure faults do, business and validation outcomes
// do not.
func CountsForBreaker(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		// unknown errors are treated as infrastructure faults
		return err != nil
	}
	switch e.Code {
	case SysInternal, SysCorruption:
		return true
	case SysCircuitOpen:
		return false
	}
	switch e.Code.Family() {
	case FamilyNetwork, FamilyTimeout:
		return true
	}
	return false
}

// RetryAfterMs extracts the advised wait from the error chain, or 0.
func RetryAfterMs(err error) int64 {
	var e *Error
	if errors.As(err, &e) {
		return e.RetryAfterMs
	}
	return 0
}
