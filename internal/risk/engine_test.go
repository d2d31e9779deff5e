package risk_test

import (
	"testing"
	"time"

	"github.com/marwinsteiner/lendflow/internal/oracle"
	"github.com/marwinsteiner/lendflow/internal/risk"
)

func newTestEngine(t *testing.T, price int64) *risk.Engine {
	t.Helper()
	store, err := risk.NewParamStore(risk.DefaultParameters())
	if err != nil {
		t.Fatalf("param store: %v", err)
	}
	now := time.UnixMicro(1_000_000_000)
	feed := oracle.NewFeed(time.Minute, func() time.Time { return now })
	if price > 0 {
		if err := feed.Update(oracle.PriceSnapshot{Asset: oracle.AssetETH, Price: price, Timestamp: now}); err != nil {
			t.Fatalf("feed update: %v", err)
		}
	}
	return risk.NewEngine(store, feed)
}

func TestUtilizationRate(t *testing.T) {
	e := newTestEngine(t, 0)

	cases := []struct {
		name               string
		borrowed, deposits int64
		want               int64
	}{
		{"empty pool", 0, 0, 0},
		{"nothing borrowed", 0, 1_000_000_000, 0},
		{"half utilized", 500_000_000, 1_000_000_000, 500_000},
		{"fully utilized", 1_000_000_000, 1_000_000_000, 1_000_000},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := e.UtilizationRate(tc.borrowed, tc.deposits); got != tc.want {
				t.Errorf("got %d, want %d", got, tc.want)
			}
		})
	}
}

func TestInterestRate_Linear(t *testing.T) {
	e := newTestEngine(t, 0)

	// Defaults: base 2%, slope 10%.
	if got := e.InterestRate(0); got != 20_000 {
		t.Errorf("at 0%% utilization: got %d, want 20_000", got)
	}
	if got := e.InterestRate(500_000); got != 70_000 {
		t.Errorf("at 50%% utilization: got %d, want 70_000", got)
	}
	if got := e.InterestRate(1_000_000); got != 120_000 {
		t.Errorf("at 100%% utilization: got %d, want 120_000", got)
	}
}

func TestCollateralValue_OneETHAt2000(t *testing.T) {
	e := newTestEngine(t, 2_000_000_000)

	// 1 ETH at $2,000 is worth 2,000 USDC.
	value, err := e.CollateralValue(oracle.AssetETH, 1_000_000)
	if err != nil {
		t.Fatalf("collateral value: %v", err)
	}
	if value != 2_000_000_000 {
		t.Errorf("got %d, want 2_000_000_000", value)
	}
}

func TestCollateralValue_OracleFailure(t *testing.T) {
	e := newTestEngine(t, 0) // no reading installed

	if _, err := e.CollateralValue(oracle.AssetETH, 1_000_000); err == nil {
		t.Error("expected error when oracle has no reading")
	}
}

func TestHealthFactor(t *testing.T) {
	e := newTestEngine(t, 0)

	// $1,200 collateral against 1,000 USDC owed: 120%.
	if got := e.HealthFactor(1_200_000_000, 1_000_000_000); got != 1_200_000 {
		t.Errorf("got %d, want 1_200_000", got)
	}
	if got := e.HealthFactor(1_200_000_000, 0); got != risk.HealthFactorInfinite {
		t.Errorf("zero principal: got %d, want infinite", got)
	}
}

func TestRequiresLiquidation_StrictBoundary(t *testing.T) {
	e := newTestEngine(t, 0)

	// Exactly at the 130% threshold: NOT liquidatable.
	if e.RequiresLiquidation(1_300_000) {
		t.Error("health factor == threshold must not be liquidatable")
	}
	// One ppm below: liquidatable.
	if !e.RequiresLiquidation(1_299_999) {
		t.Error("health factor == threshold-1 must be liquidatable")
	}
}

func TestParameters_Validate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*risk.Parameters)
		ok     bool
	}{
		{"defaults", func(p *risk.Parameters) {}, true},
		{"ratio below threshold", func(p *risk.Parameters) { p.MinCollateralRatio = p.LiquidationThreshold }, false},
		{"threshold at 100%", func(p *risk.Parameters) { p.LiquidationThreshold = 1_000_000 }, false},
		{"bonus at 100%", func(p *risk.Parameters) { p.LiquidationBonus = 1_000_000 }, false},
		{"zero max utilization", func(p *risk.Parameters) { p.MaxUtilization = 0 }, false},
		{"max loan below min", func(p *risk.Parameters) { p.MaxLoanAmount = p.MinLoanAmount - 1 }, false},
		{"negative base rate", func(p *risk.Parameters) { p.BaseRate = -1 }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := risk.DefaultParameters()
			tc.mutate(&p)
			err := p.Validate()
			if tc.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tc.ok && err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
