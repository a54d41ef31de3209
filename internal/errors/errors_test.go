package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCapturesCallerFileAndLine(t *testing.T) {
	err := New(InvalidQty, "qty must be positive")
	assert.Equal(t, InvalidQty, err.Code)
	assert.Equal(t, "qty must be positive", err.Message)
	assert.Contains(t, err.File, "errors_test.go")
	assert.NotZero(t, err.Line)
	assert.False(t, err.Timestamp.IsZero())
}

func TestNewfFormatsMessage(t *testing.T) {
	err := Newf(UnknownOrder, "order %d not found", 42)
	assert.Equal(t, "order 42 not found", err.Message)
}

func TestErrorStringIncludesCauseWhenWrapped(t *testing.T) {
	cause := fmt.Errorf("socket closed")
	err := Wrap(cause, QueueBackpressure, "enqueue failed")
	assert.Contains(t, err.Error(), "QUEUE_BACKPRESSURE")
	assert.Contains(t, err.Error(), "enqueue failed")
	assert.Contains(t, err.Error(), "socket closed")
}

func TestErrorStringOmitsCauseWhenAbsent(t *testing.T) {
	err := New(ArenaFull, "no free slots")
	assert.Equal(t, "ARENA_FULL: no free slots", err.Error())
}

func TestWrapReturnsNilForNilError(t *testing.T) {
	assert.Nil(t, Wrap(nil, ArenaFull, "irrelevant"))
}

func TestWrapfFormatsMessageAroundCause(t *testing.T) {
	cause := fmt.Errorf("timeout")
	err := Wrapf(cause, TickNotReady, "tick %d not ready", 7)
	assert.Equal(t, "tick 7 not ready", err.Message)
	assert.Equal(t, cause, err.Cause)
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := fmt.Errorf("root cause")
	err := Wrap(cause, ArenaFull, "msg")
	assert.Equal(t, cause, err.Unwrap())
}

func TestWithDetailAttachesStructuredContext(t *testing.T) {
	err := New(OutsideBand, "price rejected").WithDetail("price", 150).WithDetail("band", "percent")
	assert.Equal(t, 150, err.Details["price"])
	assert.Equal(t, "percent", err.Details["band"])
}

func TestWithCauseAttachesUnderlyingError(t *testing.T) {
	cause := fmt.Errorf("inner")
	err := New(ArenaFull, "outer").WithCause(cause)
	assert.Equal(t, cause, err.Cause)
}

func TestIsMatchesCodeThroughDirectError(t *testing.T) {
	err := New(DuplicateOrderId, "dup")
	assert.True(t, Is(err, DuplicateOrderId))
	assert.False(t, Is(err, ArenaFull))
}

func TestIsMatchesCodeThroughWrappedChain(t *testing.T) {
	inner := New(SymbolInactive, "inactive")
	outer := Wrap(inner, SymbolCapacity, "capacity check failed")
	assert.True(t, Is(outer, SymbolCapacity))
}

func TestIsFalseForPlainError(t *testing.T) {
	assert.False(t, Is(fmt.Errorf("plain"), ArenaFull))
}

func TestAsReturnsFalseForNilError(t *testing.T) {
	var target *WhistleError
	assert.False(t, As(nil, &target))
}

func TestGetCodeReturnsEmptyForNonWhistleError(t *testing.T) {
	assert.Equal(t, Code(""), GetCode(fmt.Errorf("plain")))
}

func TestGetCodeExtractsCodeFromWhistleError(t *testing.T) {
	err := New(MarketColdStart, "no reference price yet")
	assert.Equal(t, MarketColdStart, GetCode(err))
}

func TestGetDetailsReturnsNilWhenAbsent(t *testing.T) {
	err := New(ArenaFull, "no free slots")
	assert.Nil(t, GetDetails(err))
}

func TestGetDetailsReturnsAttachedMap(t *testing.T) {
	err := New(ArenaFull, "no free slots").WithDetail("capacity", 65536)
	require.NotNil(t, GetDetails(err))
	assert.Equal(t, 65536, GetDetails(err)["capacity"])
}

func TestIsFatalOnlyForOverflowAndHaltCodes(t *testing.T) {
	assert.True(t, IsFatal(OutboundOverflowFatal))
	assert.True(t, IsFatal(HaltedBySymbolFailure))
	assert.False(t, IsFatal(ArenaFull))
	assert.False(t, IsFatal(QueueBackpressure))
}

func TestIsValidationRejectionCoversTheRejectedTaxonomy(t *testing.T) {
	rejected := []Code{
		InvalidPriceDomain, InvalidTickSize, InvalidQty, ArenaFull,
		MarketColdStart, PostOnlyCross, OutsideBand, UnknownOrder,
		DuplicateOrderId,
	}
	for _, c := range rejected {
		assert.True(t, IsValidationRejection(c), "%s should be a validation rejection", c)
	}
	assert.False(t, IsValidationRejection(IocResidual))
	assert.False(t, IsValidationRejection(TickNotReady))
}

func TestIsCancelReasonCoversTheCancelTaxonomy(t *testing.T) {
	cancelled := []Code{IocResidual, MarketNoLiquidity, SymbolEvicting, SelfMatchPrevented}
	for _, c := range cancelled {
		assert.True(t, IsCancelReason(c), "%s should be a cancel reason", c)
	}
	assert.False(t, IsCancelReason(ArenaFull))
}
