package protocol

import "errors"

var (
	// ErrPaused rejects every mutating operation while the protocol is
	// paused. Read operations stay available.
	ErrPaused = errors.New("protocol paused")

	// ErrMutationInProgress is the reentrancy-violation condition: a
	// mutating operation was attempted while the guard is held. The call
	// fails immediately instead of blocking or deadlocking.
	ErrMutationInProgress = errors.New("mutation already in progress")

	// ErrNotAdmin rejects privileged operations from non-administrators.
	ErrNotAdmin = errors.New("caller is not the administrator")

	// ErrLoanAmountOutOfBounds rejects borrow amounts outside the
	// configured min/max.
	ErrLoanAmountOutOfBounds = errors.New("loan amount out of bounds")

	// ErrUndercollateralized rejects borrows below the minimum collateral
	// ratio.
	ErrUndercollateralized = errors.New("insufficient collateral")

	// ErrUtilizationTooHigh rejects borrows that would push utilization
	// past the configured maximum.
	ErrUtilizationTooHigh = errors.New("utilization above maximum")

	// ErrHealthFactorTooHigh rejects liquidation of a healthy loan. The
	// boundary is strict: a loan exactly at the threshold is not
	// liquidatable.
	ErrHealthFactorTooHigh = errors.New("health factor not below threshold")
)
