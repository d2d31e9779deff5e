// Package liquidation scans the loan book for positions eligible for
// liquidation. The scanner only identifies candidates; executing a
// liquidation goes through the protocol controller like any other
// mutation.
package liquidation

import (
	"iter"
	"time"

	"github.com/rs/zerolog"

	"github.com/marwinsteiner/lendflow/internal/loan"
	"github.com/marwinsteiner/lendflow/internal/observability"
	"github.com/marwinsteiner/lendflow/internal/oracle"
	"github.com/marwinsteiner/lendflow/internal/risk"
)

// Source supplies the loans to scan. The controller's committed view
// satisfies it, so scans never contend with mutations.
type Source interface {
	Loans() []loan.Loan
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func() []loan.Loan

func (f SourceFunc) Loans() []loan.Loan { return f() }

// Scanner evaluates every ACTIVE loan against the current price. Results
// are point-in-time: a price update between scan and liquidation can make
// a reported candidate healthy again, which the controller re-checks.
type Scanner struct {
	source  Source
	engine  *risk.Engine
	oracle  oracle.Oracle
	asset   oracle.Asset
	log     zerolog.Logger
	metrics *observability.Metrics
}

func NewScanner(source Source, engine *risk.Engine, orc oracle.Oracle, asset oracle.Asset, log zerolog.Logger, metrics *observability.Metrics) *Scanner {
	return &Scanner{
		source:  source,
		engine:  engine,
		oracle:  orc,
		asset:   asset,
		log:     log,
		metrics: metrics,
	}
}

// Candidate is one liquidatable loan with its health factor at scan time.
type Candidate struct {
	LoanID       uint64 `json:"loan_id"`
	HealthFactor int64  `json:"health_factor"`
}

// Scan returns the liquidatable loans in creation order. One oracle read
// covers the whole pass, so every loan is judged against the same price.
func (s *Scanner) Scan() ([]Candidate, error) {
	start := time.Now()

	snap, err := s.oracle.Price(s.asset)
	if err != nil {
		return nil, err
	}

	var out []Candidate
	for _, l := range s.source.Loans() {
		if l.Status != loan.StatusActive {
			continue
		}
		hf := s.engine.HealthFactor(risk.ValueAt(l.Collateral, snap.Price), l.Principal)
		if s.engine.RequiresLiquidation(hf) {
			out = append(out, Candidate{LoanID: l.ID, HealthFactor: hf})
		}
	}

	if s.metrics != nil {
		s.metrics.LiquidatableScan.Observe(time.Since(start).Seconds())
	}
	if len(out) > 0 {
		s.log.Info().Int("candidates", len(out)).Int64("price", snap.Price).
			Msg("liquidatable loans found")
	}
	return out, nil
}

// LiquidatableIDs iterates the IDs of liquidatable loans. Each call runs
// a fresh scan against the price at call time.
func (s *Scanner) LiquidatableIDs() iter.Seq[uint64] {
	return func(yield func(uint64) bool) {
		candidates, err := s.Scan()
		if err != nil {
			return
		}
		for _, c := range candidates {
			if !yield(c.LoanID) {
				return
			}
		}
	}
}
