package domain

import "errors"

// Error is a typed failure with a stable machine-readable code. Message is
// safe to hand to callers; internal detail travels in the wrapping chain and
// never crosses the service boundary.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Message }

// Is matches errors by code so that a wrapped Validation reason still
// satisfies errors.Is(err, ErrTradeValidation).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrNotFound             = &Error{Code: "NOT_FOUND", Message: "not found"}
	ErrAlreadyExists        = &Error{Code: "ALREADY_EXISTS", Message: "already exists"}
	ErrInsufficientBalance  = &Error{Code: "INSUFFICIENT_BALANCE", Message: "insufficient balance"}
	ErrAccountSuspended     = &Error{Code: "ACCOUNT_SUSPENDED", Message: "account is not active"}
	ErrRiskLimitExceeded    = &Error{Code: "RISK_LIMIT_EXCEEDED", Message: "risk limit exceeded"}
	ErrDailyLossLimit       = &Error{Code: "DAILY_LOSS_EXCEEDED", Message: "daily loss limit exceeded"}
	ErrTradeValidation      = &Error{Code: "TRADE_VALIDATION_ERROR", Message: "trade validation failed"}
	ErrMarketData           = &Error{Code: "MARKET_DATA_ERROR", Message: "market data unavailable or invalid"}
	ErrExternalSyncMismatch = &Error{Code: "EXTERNAL_SYNC_MISMATCH", Message: "external ledger disagrees with computed pnl"}
	ErrInvalidAccountKind   = &Error{Code: "INVALID_ACCOUNT_KIND", Message: "operation not allowed for this account kind"}
	ErrLockHeld             = &Error{Code: "LOCK_HELD", Message: "lock already held"}
)

// CodeOf returns the stable code of the first *Error in err's chain, or
// "INTERNAL_ERROR" when the failure is not a typed domain error.
func CodeOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return "INTERNAL_ERROR"
}

// WithMessage returns a new error carrying e's code with a specific reason.
// errors.Is against the sentinel still matches.
func (e *Error) WithMessage(msg string) *Error {
	return &Error{Code: e.Code, Message: msg}
}

// Validation wraps ErrTradeValidation with a human-readable reason while
// keeping the stable code reachable through errors.As.
func Validation(reason string) error {
	return ErrTradeValidation.WithMessage(reason)
}

// IsValidation reports whether err carries the trade-validation code.
func IsValidation(err error) bool {
	return CodeOf(err) == ErrTradeValidation.Code
}
