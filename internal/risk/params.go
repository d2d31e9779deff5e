package risk

import (
	"errors"
	"fmt"
	"sync"

	"github.com/marwinsteiner/lendflow/internal/fixedpoint"
)

// ErrInvalidParameters wraps every parameter validation failure.
var ErrInvalidParameters = errors.New("invalid risk parameters")

// Parameters are the process-wide risk settings. All fractions are
// ppm-scaled (1_000_000 = 100%). Changeable only through the privileged
// controller operation.
type Parameters struct {
	MinCollateralRatio   int64 `json:"min_collateral_ratio"`  // e.g. 1_500_000 = 150%
	LiquidationThreshold int64 `json:"liquidation_threshold"` // e.g. 1_300_000 = 130%
	LiquidationBonus     int64 `json:"liquidation_bonus"`     // e.g. 50_000 = 5%
	MaxUtilization       int64 `json:"max_utilization"`       // e.g. 900_000 = 90%

	// Interest model: rate = BaseRate + utilization * UtilizationFactor.
	BaseRate          int64 `json:"base_rate"`          // ppm, annualized
	UtilizationFactor int64 `json:"utilization_factor"` // ppm slope

	// Loan size bounds (smallest USDC unit).
	MinLoanAmount int64 `json:"min_loan_amount"`
	MaxLoanAmount int64 `json:"max_loan_amount"`
}

// DefaultParameters returns the launch configuration.
func DefaultParameters() Parameters {
	return Parameters{
		MinCollateralRatio:   1_500_000,                         // 150%
		LiquidationThreshold: 1_300_000,                         // 130%
		LiquidationBonus:     50_000,                            // 5%
		MaxUtilization:       900_000,                           // 90%
		BaseRate:             20_000,                            // 2%
		UtilizationFactor:    100_000,                           // +10% at full utilization
		MinLoanAmount:        100 * fixedpoint.ScaleUSDC,        // 100 USDC
		MaxLoanAmount:        1_000_000 * fixedpoint.ScaleUSDC, // 1M USDC
	}
}

// Validate checks parameter ranges. The collateral ratio must sit above
// the liquidation threshold or every new loan would be born liquidatable.
func (p Parameters) Validate() error {
	if p.LiquidationThreshold <= fixedpoint.ScalePPM {
		return fmt.Errorf("liquidation_threshold must be > %d (100%%), got %d",
			fixedpoint.ScalePPM, p.LiquidationThreshold)
	}
	if p.MinCollateralRatio <= p.LiquidationThreshold {
		return fmt.Errorf("min_collateral_ratio (%d) must be > liquidation_threshold (%d)",
			p.MinCollateralRatio, p.LiquidationThreshold)
	}
	if p.LiquidationBonus < 0 || p.LiquidationBonus >= fixedpoint.ScalePPM {
		return fmt.Errorf("liquidation_bonus must be in [0, %d), got %d",
			fixedpoint.ScalePPM, p.LiquidationBonus)
	}
	if p.MaxUtilization <= 0 || p.MaxUtilization > fixedpoint.ScalePPM {
		return fmt.Errorf("max_utilization must be in (0, %d], got %d",
			fixedpoint.ScalePPM, p.MaxUtilization)
	}
	if p.BaseRate < 0 {
		return fmt.Errorf("base_rate must be >= 0, got %d", p.BaseRate)
	}
	if p.UtilizationFactor < 0 {
		return fmt.Errorf("utilization_factor must be >= 0, got %d", p.UtilizationFactor)
	}
	if p.MinLoanAmount <= 0 {
		return fmt.Errorf("min_loan_amount must be > 0, got %d", p.MinLoanAmount)
	}
	if p.MaxLoanAmount < p.MinLoanAmount {
		return fmt.Errorf("max_loan_amount (%d) must be >= min_loan_amount (%d)",
			p.MaxLoanAmount, p.MinLoanAmount)
	}
	return nil
}

// ParamStore holds the current parameters. Writes happen only under the
// controller's mutation guard; the lock covers reads from the query side.
type ParamStore struct {
	mu     sync.RWMutex
	params Parameters
}

func NewParamStore(params Parameters) (*ParamStore, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParameters, err)
	}
	return &ParamStore{params: params}, nil
}

func (s *ParamStore) Get() Parameters {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.params
}

func (s *ParamStore) Update(params Parameters) error {
	if err := params.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParameters, err)
	}
	s.mu.Lock()
	s.params = params
	s.mu.Unlock()
	return nil
}
