package query

import (
	"time"

	"github.com/google/uuid"

	"github.com/marwinsteiner/lendflow/internal/risk"
)

// PoolStatus is the pool overview for API queries. AsOfSequence pins the
// response to the committed event it was derived from.
type PoolStatus struct {
	TotalDeposits      int64 `json:"total_deposits"`
	TotalShares        int64 `json:"total_shares"`
	TotalBorrowed      int64 `json:"total_borrowed"`
	AvailableLiquidity int64 `json:"available_liquidity"`
	Reserve            int64 `json:"reserve"`
	ShortfallTotal     int64 `json:"shortfall_total"`

	UtilizationRate int64 `json:"utilization_rate"` // ppm
	CurrentRate     int64 `json:"current_rate"`     // annualized ppm quote at current utilization

	Paused       bool            `json:"paused"`
	Params       risk.Parameters `json:"params"`
	AsOfSequence int64           `json:"as_of_sequence"`
}

// LoanStatus is one loan with its derived valuation fields.
type LoanStatus struct {
	ID           uint64    `json:"id"`
	Borrower     uuid.UUID `json:"borrower"`
	Principal    int64     `json:"principal"`
	Collateral   int64     `json:"collateral"`
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
	InterestRate int64     `json:"interest_rate"`
	Status       string    `json:"status"`

	AccruedInterest int64 `json:"accrued_interest"`
	TotalOwed       int64 `json:"total_owed"`
	AsOfSequence    int64 `json:"as_of_sequence"`
}

// LoanHealth is the liquidation-relevant view of one loan.
type LoanHealth struct {
	LoanID               uint64 `json:"loan_id"`
	CollateralValue      int64  `json:"collateral_value"`
	Principal            int64  `json:"principal"`
	HealthFactor         int64  `json:"health_factor"` // ppm; max int64 when nothing is owed
	LiquidationThreshold int64  `json:"liquidation_threshold"`
	Liquidatable         bool   `json:"liquidatable"`
	Price                int64  `json:"price"`
	AsOfSequence         int64  `json:"as_of_sequence"`
}
