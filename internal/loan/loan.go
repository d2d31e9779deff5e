package loan

import (
	"time"

	"github.com/google/uuid"

	"github.com/marwinsteiner/lendflow/internal/fixedpoint"
)

// Status is the loan lifecycle state. ACTIVE is the only non-terminal
// state; REPAID and LIQUIDATED are terminal and mutually exclusive.
type Status int32

const (
	StatusActive Status = iota
	StatusRepaid
	StatusLiquidated
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "ACTIVE"
	case StatusRepaid:
		return "REPAID"
	case StatusLiquidated:
		return "LIQUIDATED"
	default:
		return "UNKNOWN"
	}
}

// Loan is a fixed-term collateralized loan. Terms are frozen at
// origination; only Status changes afterwards, and only once. Finalized
// loans are retained as immutable historical records.
type Loan struct {
	ID         uint64    `json:"id"`
	Borrower   uuid.UUID `json:"borrower"`
	Principal  int64     `json:"principal"`  // smallest USDC unit
	Collateral int64     `json:"collateral"` // smallest collateral-asset unit
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`

	// InterestRate is the annualized rate (ppm) snapshot at origination.
	InterestRate int64 `json:"interest_rate"`

	Status Status `json:"status"`
}

// AccruedInterest accrues linearly over the elapsed fraction of the term,
// capped at the full-term amount. No compounding beyond term, no
// early-repayment discount below the prorated amount. Rounds up: interest
// owed to the pool is never understated.
func (l *Loan) AccruedInterest(now time.Time) int64 {
	elapsed := int64(now.Sub(l.StartTime) / time.Second)
	term := int64(l.EndTime.Sub(l.StartTime) / time.Second)
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed > term {
		elapsed = term
	}

	return fixedpoint.MulMulDiv(
		l.Principal,
		l.InterestRate,
		elapsed,
		fixedpoint.ScalePPM*fixedpoint.SecondsPerYear,
		fixedpoint.RoundUp,
	)
}

// Owed is principal plus accrued interest at the given time.
func (l *Loan) Owed(now time.Time) int64 {
	return l.Principal + l.AccruedInterest(now)
}
