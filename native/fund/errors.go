package fund

import "errors"

// Error classes. Failures of a fund operation match one of these through
// errors.Is; a reconciliation failure whose halt could not be recorded also
// carries the storage error. Wiring faults such as a nil backend or store are
// returned unclassified.
var (
	// ErrValidation covers bad input: unknown assets, zero amounts,
	// unauthorised callers, insufficient holdings or shares. Nothing was
	// mutated.
	ErrValidation = errors.New("fund: validation failed")
	// ErrExternalCall covers vault and exchange failures, including missing
	// routes and insufficient liquidity. The enclosing operation was discarded.
	ErrExternalCall = errors.New("fund: external call failed")
	// ErrInvariantViolation reports a ledger that disagrees with the vault or a
	// share supply that disagrees with investor positions.
	ErrInvariantViolation = errors.New("fund: invariant violation")
	// ErrArithmeticOverflow reports checked arithmetic that would wrap.
	ErrArithmeticOverflow = errors.New("fund: arithmetic overflow")
	// ErrNotFound reports an unknown fund.
	ErrNotFound = errors.New("fund: not found")
)

var (
	ErrZeroAmount          = errors.New("fund: amount must be positive")
	ErrUnsupportedAsset    = errors.New("fund: asset not supported")
	ErrUnsupportedBase     = errors.New("fund: base currency not supported")
	ErrUnauthorized        = errors.New("fund: caller is not the fund trader")
	ErrInsufficientHolding = errors.New("fund: insufficient holdings")
	ErrInsufficientShares  = errors.New("fund: insufficient shares")
	ErrSameAsset           = errors.New("fund: order must convert between two assets")
	ErrNoSharesIssued      = errors.New("fund: deposit too small to issue shares")
	ErrNoPayout            = errors.New("fund: redemption too small to pay out")
	ErrWorthlessFund       = errors.New("fund: fund has shares outstanding but no value")
	ErrFundHalted          = errors.New("fund: halted pending reconciliation")
	ErrInvalidAddress      = errors.New("fund: address required")
)
