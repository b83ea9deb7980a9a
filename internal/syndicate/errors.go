package syndicate

import "errors"

// Sentinel errors callers can branch on with errors.Is. Blocking outcomes
// are also surfaced on the evaluation itself; these errors exist for
// callers that prefer error flow over inspecting the consensus.
var (
	ErrValidationBlocked   = errors.New("transaction blocked by validation")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrCreditLimitExceeded = errors.New("credit limit exceeded")
	ErrBlacklisted         = errors.New("supplier blacklisted")
	ErrSettlementFailed    = errors.New("settlement failed")
	ErrCancelled           = errors.New("transaction cancelled")
	ErrUnknownAgent        = errors.New("unknown agent")
	ErrInternal            = errors.New("internal error")
)
