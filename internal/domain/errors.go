package domain

import "errors"

// Validation errors: rejected before any state is read or written.
var (
	ErrZeroAmount         = errors.New("zero amount")
	ErrInvalidExpiry      = errors.New("invalid expiry")
	ErrQuotePairForbidden = errors.New("yield claim cannot be quoted against a yield claim")
	ErrNotYieldClaim      = errors.New("token is not a yield claim")
	ErrInvalidToken       = errors.New("token not part of market")
	ErrSwapTooLarge       = errors.New("swap exceeds reserve ratio limit")
	ErrInvalidParams      = errors.New("invalid parameters")
)

// State errors: rejected after existence or state checks.
var (
	ErrNotFound            = errors.New("not found")
	ErrAlreadyExists       = errors.New("already exists")
	ErrExistingMarket      = errors.New("market already exists")
	ErrIncompatibleFactory = errors.New("factory not valid for forge")
	ErrMarketLocked        = errors.New("market locked")
	ErrNotYetExpired       = errors.New("not yet expired")
	ErrAlreadyExpired      = errors.New("already expired")
	ErrAlreadyBootstrapped = errors.New("market already bootstrapped")
	ErrNotBootstrapped     = errors.New("market not bootstrapped")
	ErrPaused              = errors.New("paused")
	ErrReentrancy          = errors.New("reentrant call")
	ErrDeadlineExceeded    = errors.New("deadline exceeded")
	ErrLockHeld            = errors.New("lock already held")
)

// Authorization errors.
var (
	ErrUnauthorized = errors.New("unauthorized")
)

// Slippage errors: the would-be result was computed and rejected.
var (
	ErrInsufficientOutput = errors.New("output below minimum")
	ErrExcessiveInput     = errors.New("input above maximum")
)

// External transfer errors.
var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrTransferFailed        = errors.New("transfer failed")
)

// Infrastructure errors raised by the outer surfaces.
var (
	ErrRateLimited   = errors.New("rate limited")
	ErrSigningFailed = errors.New("signing failed")
	ErrContextDone   = errors.New("context cancelled")
)

// ErrorKind groups errors for callers that decide whether to retry.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindValidation
	KindState
	KindAuthorization
	KindSlippage
	KindExternalTransfer
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindState:
		return "state"
	case KindAuthorization:
		return "authorization"
	case KindSlippage:
		return "slippage"
	case KindExternalTransfer:
		return "external_transfer"
	default:
		return "unknown"
	}
}

var errorKinds = []struct {
	err  error
	kind ErrorKind
}{
	{ErrZeroAmount, KindValidation},
	{ErrInvalidExpiry, KindValidation},
	{ErrQuotePairForbidden, KindValidation},
	{ErrNotYieldClaim, KindValidation},
	{ErrInvalidToken, KindValidation},
	{ErrSwapTooLarge, KindValidation},
	{ErrInvalidParams, KindValidation},
	{ErrNotFound, KindState},
	{ErrAlreadyExists, KindState},
	{ErrExistingMarket, KindState},
	{ErrIncompatibleFactory, KindState},
	{ErrMarketLocked, KindState},
	{ErrNotYetExpired, KindState},
	{ErrAlreadyExpired, KindState},
	{ErrAlreadyBootstrapped, KindState},
	{ErrNotBootstrapped, KindState},
	{ErrPaused, KindState},
	{ErrReentrancy, KindState},
	{ErrDeadlineExceeded, KindState},
	{ErrLockHeld, KindState},
	{ErrUnauthorized, KindAuthorization},
	{ErrInsufficientOutput, KindSlippage},
	{ErrExcessiveInput, KindSlippage},
	{ErrInsufficientBalance, KindExternalTransfer},
	{ErrInsufficientAllowance, KindExternalTransfer},
	{ErrTransferFailed, KindExternalTransfer},
}

// KindOf classifies err by the first known sentinel in its chain.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindUnknown
}
