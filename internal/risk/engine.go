package risk

import (
	"math"

	"github.com/marwinsteiner/lendflow/internal/fixedpoint"
	"github.com/marwinsteiner/lendflow/internal/oracle"
)

// HealthFactorInfinite marks a loan with zero principal owed: treated as
// always safe.
const HealthFactorInfinite int64 = math.MaxInt64

// Engine computes health factors and utilization-based interest rates.
// It holds no mutable state of its own beyond the shared parameter store.
type Engine struct {
	params *ParamStore
	oracle oracle.Oracle
}

func NewEngine(params *ParamStore, orc oracle.Oracle) *Engine {
	return &Engine{params: params, oracle: orc}
}

// UtilizationRate returns totalBorrowed/totalDeposits in ppm, 0 for an
// empty pool.
func (e *Engine) UtilizationRate(totalBorrowed, totalDeposits int64) int64 {
	if totalDeposits == 0 {
		return 0
	}
	return fixedpoint.MulDiv(totalBorrowed, fixedpoint.ScalePPM, totalDeposits, fixedpoint.RoundDown)
}

// InterestRate returns the annualized rate (ppm) at the given utilization.
// Piecewise-linear: base + utilization * factor. The result is snapshot at
// origination and held fixed for the loan's term.
func (e *Engine) InterestRate(utilization int64) int64 {
	p := e.params.Get()
	return p.BaseRate + fixedpoint.MulDiv(utilization, p.UtilizationFactor, fixedpoint.ScalePPM, fixedpoint.RoundDown)
}

// CollateralValue reads the oracle and values collateralAmount in smallest
// USDC units. The price read must succeed before any dependent mutation.
func (e *Engine) CollateralValue(asset oracle.Asset, collateralAmount int64) (int64, error) {
	snap, err := e.oracle.Price(asset)
	if err != nil {
		return 0, err
	}
	return ValueAt(collateralAmount, snap.Price), nil
}

// ValueAt converts collateral units to USDC value at a known price.
// Rounds down: collateral is never over-valued.
func ValueAt(collateralAmount, price int64) int64 {
	return fixedpoint.MulDiv(collateralAmount, price, fixedpoint.ScalePPM, fixedpoint.RoundDown)
}

// CollateralAt converts a USDC value back to collateral units at a known
// price, rounding down so a payout never exceeds the value it covers.
func CollateralAt(value, price int64) int64 {
	return fixedpoint.MulDiv(value, fixedpoint.ScalePPM, price, fixedpoint.RoundDown)
}

// HealthFactor is collateralValue/principalOwed in ppm. Undefined (safe)
// when nothing is owed.
func (e *Engine) HealthFactor(collateralValue, principalOwed int64) int64 {
	if principalOwed == 0 {
		return HealthFactorInfinite
	}
	return fixedpoint.MulDiv(collateralValue, fixedpoint.ScalePPM, principalOwed, fixedpoint.RoundDown)
}

// RequiresLiquidation applies the strict-less-than boundary: a loan
// exactly at the threshold is not liquidatable.
func (e *Engine) RequiresLiquidation(healthFactor int64) bool {
	return healthFactor < e.params.Get().LiquidationThreshold
}

// RequiredCollateralValue is the minimum collateral value for a principal
// at the configured ratio. Rounds up: the requirement is never understated.
func (e *Engine) RequiredCollateralValue(principal int64) int64 {
	return fixedpoint.MulDiv(principal, e.params.Get().MinCollateralRatio, fixedpoint.ScalePPM, fixedpoint.RoundUp)
}
