// Package errors provides the structured error type shared by the engine,
// router, coordinator, clock and execution manager. Adapted from the
// teacher's internal/common/errors (code + message + optional cause/
// details) with the HTTP/auth ErrorCode taxonomy replaced by the
// RejectReason/routing/coordination/fatal taxonomy of spec.md §7.
package errors

import (
	"fmt"
	"runtime"
	"time"
)

// Code identifies the kind of error, grouped the way spec.md §7 groups
// them: validation, backpressure, routing, coordination, fatal.
type Code string

const (
	// Validation errors. Reported as Lifecycle::Rejected; never propagate
	// upward past the engine.
	InvalidPriceDomain Code = "INVALID_PRICE_DOMAIN"
	InvalidTickSize    Code = "INVALID_TICK_SIZE"
	InvalidQty         Code = "INVALID_QTY"
	ArenaFull          Code = "ARENA_FULL"
	MarketColdStart    Code = "MARKET_COLD_START"
	MarketNoLiquidity  Code = "MARKET_NO_LIQUIDITY"
	IocResidual        Code = "IOC_RESIDUAL"
	PostOnlyCross      Code = "POST_ONLY_CROSS"
	OutsideBand        Code = "OUTSIDE_BAND"
	UnknownOrder       Code = "UNKNOWN_ORDER"
	DuplicateOrderId   Code = "DUPLICATE_ORDER_ID"
	SelfMatchPrevented Code = "SELF_MATCH_PREVENTED"

	// Backpressure errors.
	QueueBackpressure Code = "QUEUE_BACKPRESSURE"

	// Routing errors, returned by the router without enqueueing.
	SymbolInactive Code = "SYMBOL_INACTIVE"
	SymbolCapacity Code = "SYMBOL_CAPACITY"
	ShardMismatch  Code = "SHARD_MISMATCH"

	// Coordination errors, returned by coordinator/execution-manager ops.
	SymbolAlreadyRegistered Code = "SYMBOL_ALREADY_REGISTERED"
	SymbolEvicting          Code = "SYMBOL_EVICTING"
	TickNotReady            Code = "TICK_NOT_READY"

	// Fatal: outbound-queue overflow under Fatal policy, or
	// ErrorRecovery::Halt after a per-symbol failure. Both terminate the
	// process with a diagnostic.
	OutboundOverflowFatal Code = "OUTBOUND_OVERFLOW_FATAL"
	HaltedBySymbolFailure Code = "HALTED_BY_SYMBOL_FAILURE"
)

// WhistleError is the structured error every package in this module
// returns instead of a bare error string.
type WhistleError struct {
	Code      Code
	Message   string
	Details   map[string]interface{}
	Timestamp time.Time
	File      string
	Line      int
	Cause     error
}

// Error implements the error interface.
func (e *WhistleError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *WhistleError) Unwrap() error {
	return e.Cause
}

// WithDetail attaches a structured detail to the error.
func (e *WhistleError) WithDetail(key string, value interface{}) *WhistleError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithCause attaches an underlying cause.
func (e *WhistleError) WithCause(cause error) *WhistleError {
	e.Cause = cause
	return e
}

// New creates a WhistleError, capturing the caller's file/line.
func New(code Code, message string) *WhistleError {
	_, file, line, _ := runtime.Caller(1)
	return &WhistleError{
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
		File:      file,
		Line:      line,
	}
}

// Newf creates a WhistleError with a formatted message.
func Newf(code Code, format string, args ...interface{}) *WhistleError {
	_, file, line, _ := runtime.Caller(1)
	return &WhistleError{
		Code:      code,
		Message:   fmt.Sprintf(format, args...),
		Timestamp: time.Now(),
		File:      file,
		Line:      line,
	}
}

// Wrap wraps an existing error with a WhistleError.
func Wrap(err error, code Code, message string) *WhistleError {
	if err == nil {
		return nil
	}
	_, file, line, _ := runtime.Caller(1)
	return &WhistleError{
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
		File:      file,
		Line:      line,
		Cause:     err,
	}
}

// Wrapf wraps an existing error with a formatted message.
func Wrapf(err error, code Code, format string, args ...interface{}) *WhistleError {
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

// Is reports whether err carries the given Code.
func Is(err error, code Code) bool {
	var we *WhistleError
	if As(err, &we) {
		return we.Code == code
	}
	return false
}

// As finds the first *WhistleError in err's chain and assigns it to target.
func As(err error, target interface{}) bool {
	if err == nil {
		return false
	}
	if we, ok := err.(*WhistleError); ok {
		if targetPtr, ok := target.(**WhistleError); ok {
			*targetPtr = we
			return true
		}
	}
	if unwrapper, ok := err.(interface{ Unwrap() error }); ok {
		return As(unwrapper.Unwrap(), target)
	}
	return false
}

// GetCode extracts the Code from an error, or "" if it carries none.
func GetCode(err error) Code {
	var we *WhistleError
	if As(err, &we) {
		return we.Code
	}
	return ""
}

// GetDetails extracts the structured details from an error, if any.
func GetDetails(err error) map[string]interface{} {
	var we *WhistleError
	if As(err, &we) {
		return we.Details
	}
	return nil
}

// IsFatal reports whether code should terminate the process per §7.
func IsFatal(code Code) bool {
	switch code {
	case OutboundOverflowFatal, HaltedBySymbolFailure:
		return true
	default:
		return false
	}
}

// IsValidationRejection reports whether code is reported as a
// Lifecycle::Rejected event rather than propagated as an error value.
func IsValidationRejection(code Code) bool {
	switch code {
	case InvalidPriceDomain, InvalidTickSize, InvalidQty, ArenaFull,
		MarketColdStart, PostOnlyCross, OutsideBand, UnknownOrder,
		DuplicateOrderId:
		return true
	default:
		return false
	}
}

// IsCancelReason reports whether code is used as a Lifecycle::Cancelled
// reason rather than a Lifecycle::Rejected one.
func IsCancelReason(code Code) bool {
	switch code {
	case IocResidual, MarketNoLiquidity, SymbolEvicting, SelfMatchPrevented:
		return true
	default:
		return false
	}
}
