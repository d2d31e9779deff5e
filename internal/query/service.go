// Package query serves the read side. Everything is answered from the
// controller's committed view plus a point-in-time oracle read, so
// queries never contend with mutations and never observe partial state.
package query

import (
	"time"

	"github.com/marwinsteiner/lendflow/internal/liquidation"
	"github.com/marwinsteiner/lendflow/internal/loan"
	"github.com/marwinsteiner/lendflow/internal/oracle"
	"github.com/marwinsteiner/lendflow/internal/protocol"
	"github.com/marwinsteiner/lendflow/internal/risk"
)

// Viewer is the read surface of the protocol controller.
type Viewer interface {
	View() *protocol.View
}

type Service struct {
	viewer  Viewer
	engine  *risk.Engine
	oracle  oracle.Oracle
	asset   oracle.Asset
	scanner *liquidation.Scanner
	now     func() time.Time
}

func NewService(viewer Viewer, engine *risk.Engine, orc oracle.Oracle, asset oracle.Asset, scanner *liquidation.Scanner, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{
		viewer:  viewer,
		engine:  engine,
		oracle:  orc,
		asset:   asset,
		scanner: scanner,
		now:     now,
	}
}

// PoolStatus returns the pool aggregates with a rate quote at current
// utilization.
func (s *Service) PoolStatus() PoolStatus {
	v := s.viewer.View()
	util := s.engine.UtilizationRate(v.Pool.TotalBorrowed, v.Pool.TotalDeposits)
	return PoolStatus{
		TotalDeposits:      v.Pool.TotalDeposits,
		TotalShares:        v.Pool.TotalShares,
		TotalBorrowed:      v.Pool.TotalBorrowed,
		AvailableLiquidity: v.Pool.TotalDeposits - v.Pool.TotalBorrowed,
		Reserve:            v.Pool.Reserve,
		ShortfallTotal:     v.Pool.ShortfallTotal,
		UtilizationRate:    util,
		CurrentRate:        s.engine.InterestRate(util),
		Paused:             v.Paused,
		Params:             v.Params,
		AsOfSequence:       v.Sequence,
	}
}

// Loans returns all loans in creation order, optionally filtered to
// ACTIVE only.
func (s *Service) Loans(activeOnly bool) []LoanStatus {
	v := s.viewer.View()
	now := s.now()

	out := make([]LoanStatus, 0, len(v.Loans))
	for i := range v.Loans {
		l := &v.Loans[i]
		if activeOnly && l.Status != loan.StatusActive {
			continue
		}
		out = append(out, s.loanStatus(l, now, v.Sequence))
	}
	return out
}

// Loan returns one loan by ID.
func (s *Service) Loan(id uint64) (LoanStatus, error) {
	v := s.viewer.View()
	l, ok := v.Loan(id)
	if !ok {
		return LoanStatus{}, loan.ErrLoanNotFound
	}
	return s.loanStatus(&l, s.now(), v.Sequence), nil
}

// LoanHealth values one loan's collateral at the current price and
// reports whether it is liquidatable. Fails when the price is stale or
// unavailable; health is never computed from a guessed price.
func (s *Service) LoanHealth(id uint64) (LoanHealth, error) {
	v := s.viewer.View()
	l, ok := v.Loan(id)
	if !ok {
		return LoanHealth{}, loan.ErrLoanNotFound
	}

	snap, err := s.oracle.Price(s.asset)
	if err != nil {
		return LoanHealth{}, err
	}

	value := risk.ValueAt(l.Collateral, snap.Price)
	hf := s.engine.HealthFactor(value, l.Principal)
	return LoanHealth{
		LoanID:               l.ID,
		CollateralValue:      value,
		Principal:            l.Principal,
		HealthFactor:         hf,
		LiquidationThreshold: v.Params.LiquidationThreshold,
		Liquidatable:         l.Status == loan.StatusActive && s.engine.RequiresLiquidation(hf),
		Price:                snap.Price,
		AsOfSequence:         v.Sequence,
	}, nil
}

// Liquidatable runs a scan and returns the candidates at the current
// price.
func (s *Service) Liquidatable() ([]liquidation.Candidate, error) {
	return s.scanner.Scan()
}

func (s *Service) loanStatus(l *loan.Loan, now time.Time, seq int64) LoanStatus {
	// Terminal loans owe nothing; accrual only applies while ACTIVE.
	var interest, owed int64
	if l.Status == loan.StatusActive {
		interest = l.AccruedInterest(now)
		owed = l.Principal + interest
	}
	return LoanStatus{
		ID:              l.ID,
		Borrower:        l.Borrower,
		Principal:       l.Principal,
		Collateral:      l.Collateral,
		StartTime:       l.StartTime,
		EndTime:         l.EndTime,
		InterestRate:    l.InterestRate,
		Status:          l.Status.String(),
		AccruedInterest: interest,
		TotalOwed:       owed,
		AsOfSequence:    seq,
	}
}
