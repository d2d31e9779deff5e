package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/marwinsteiner/lendflow/internal/risk"
)

// Type discriminator for event payloads.
type Type int32

const (
	TypeUnknown Type = iota
	TypeDeposited
	TypeWithdrew
	TypeYieldDistributed
	TypeLoanOpened
	TypeLoanRepaid
	TypeLoanLiquidated
	TypeReserveShortfall
	TypeRiskParamsUpdated
	TypePauseChanged
)

func (t Type) String() string {
	switch t {
	case TypeDeposited:
		return "Deposited"
	case TypeWithdrew:
		return "Withdrew"
	case TypeYieldDistributed:
		return "YieldDistributed"
	case TypeLoanOpened:
		return "LoanOpened"
	case TypeLoanRepaid:
		return "LoanRepaid"
	case TypeLoanLiquidated:
		return "LoanLiquidated"
	case TypeReserveShortfall:
		return "ReserveShortfall"
	case TypeRiskParamsUpdated:
		return "RiskParamsUpdated"
	case TypePauseChanged:
		return "PauseChanged"
	default:
		return "Unknown"
	}
}

// Payload is implemented by every event body.
type Payload interface {
	EventType() Type
}

// Envelope wraps every durable event record. Sequence is the global
// monotonic counter assigned by the controller; the event log is ordered
// by it.
type Envelope struct {
	Sequence  int64     `json:"sequence"`
	Type      Type      `json:"type"`
	Actor     uuid.UUID `json:"actor"`
	LoanID    uint64    `json:"loan_id,omitempty"` // 0 for pool-level events
	Timestamp time.Time `json:"timestamp"`
	Payload   Payload   `json:"payload"`
}

// Deposited records a successful pool deposit.
type Deposited struct {
	Account      uuid.UUID `json:"account"`
	Amount       int64     `json:"amount"`
	SharesMinted int64     `json:"shares_minted"`
}

func (Deposited) EventType() Type { return TypeDeposited }

// Withdrew records a successful pool withdrawal.
type Withdrew struct {
	Account        uuid.UUID `json:"account"`
	SharesBurned   int64     `json:"shares_burned"`
	AmountReturned int64     `json:"amount_returned"`
}

func (Withdrew) EventType() Type { return TypeWithdrew }

// YieldDistributed records an explicit yield distribution.
type YieldDistributed struct {
	Amount       int64 `json:"amount"`
	ToDepositors int64 `json:"to_depositors"`
	ToReserve    int64 `json:"to_reserve"`
}

func (YieldDistributed) EventType() Type { return TypeYieldDistributed }

// LoanOpened records loan origination. The full terms are carried so the
// loan can be rebuilt from the log alone.
type LoanOpened struct {
	LoanID       uint64    `json:"loan_id"`
	Borrower     uuid.UUID `json:"borrower"`
	Principal    int64     `json:"principal"`
	Collateral   int64     `json:"collateral"`
	InterestRate int64     `json:"interest_rate"`
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
}

func (LoanOpened) EventType() Type { return TypeLoanOpened }

// LoanRepaid records full repayment and collateral release. The yield
// split of the interest is carried so replay applies the split decided at
// commit time, not one recomputed under a later reserve factor.
type LoanRepaid struct {
	LoanID             uint64    `json:"loan_id"`
	Borrower           uuid.UUID `json:"borrower"`
	Principal          int64     `json:"principal"`
	InterestPaid       int64     `json:"interest_paid"`
	YieldToDepositors  int64     `json:"yield_to_depositors"`
	YieldToReserve     int64     `json:"yield_to_reserve"`
	CollateralReleased int64     `json:"collateral_released"`
}

func (LoanRepaid) EventType() Type { return TypeLoanRepaid }

// LoanLiquidated records a completed liquidation.
type LoanLiquidated struct {
	LoanID             uint64    `json:"loan_id"`
	Borrower           uuid.UUID `json:"borrower"`
	Liquidator         uuid.UUID `json:"liquidator"`
	Principal          int64     `json:"principal"`
	InterestPaid       int64     `json:"interest_paid"`
	YieldToDepositors  int64     `json:"yield_to_depositors"`
	YieldToReserve     int64     `json:"yield_to_reserve"`
	CollateralSeized   int64     `json:"collateral_seized"`
	CollateralReturned int64     `json:"collateral_returned"`
	HealthFactor       int64     `json:"health_factor"`
}

func (LoanLiquidated) EventType() Type { return TypeLoanLiquidated }

// ReserveShortfall records the part of a liquidation the collateral could
// not cover. Emitted alongside LoanLiquidated, never swallowed.
type ReserveShortfall struct {
	LoanID uint64 `json:"loan_id"`
	Amount int64  `json:"amount"`
}

func (ReserveShortfall) EventType() Type { return TypeReserveShortfall }

// RiskParamsUpdated records a privileged parameter change.
type RiskParamsUpdated struct {
	Params risk.Parameters `json:"params"`
}

func (RiskParamsUpdated) EventType() Type { return TypeRiskParamsUpdated }

// PauseChanged records a pause/unpause.
type PauseChanged struct {
	Paused bool `json:"paused"`
}

func (PauseChanged) EventType() Type { return TypePauseChanged }

// UnmarshalPayload decodes a stored payload by type, for event-log replay.
func UnmarshalPayload(t Type, data []byte) (Payload, error) {
	var target Payload
	switch t {
	case TypeDeposited:
		target = &Deposited{}
	case TypeWithdrew:
		target = &Withdrew{}
	case TypeYieldDistributed:
		target = &YieldDistributed{}
	case TypeLoanOpened:
		target = &LoanOpened{}
	case TypeLoanRepaid:
		target = &LoanRepaid{}
	case TypeLoanLiquidated:
		target = &LoanLiquidated{}
	case TypeReserveShortfall:
		target = &ReserveShortfall{}
	case TypeRiskParamsUpdated:
		target = &RiskParamsUpdated{}
	case TypePauseChanged:
		target = &PauseChanged{}
	default:
		return nil, fmt.Errorf("unknown event type: %d", t)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", t, err)
	}
	return target, nil
}
