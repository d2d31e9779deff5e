package query

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/marwinsteiner/lendflow/internal/fixedpoint"
	"github.com/marwinsteiner/lendflow/internal/liquidation"
	"github.com/marwinsteiner/lendflow/internal/loan"
	"github.com/marwinsteiner/lendflow/internal/oracle"
	"github.com/marwinsteiner/lendflow/internal/pool"
	"github.com/marwinsteiner/lendflow/internal/protocol"
	"github.com/marwinsteiner/lendflow/internal/risk"
)

type stubOracle struct {
	price int64
	err   error
}

func (s *stubOracle) Price(asset oracle.Asset) (oracle.PriceSnapshot, error) {
	if s.err != nil {
		return oracle.PriceSnapshot{}, s.err
	}
	return oracle.PriceSnapshot{Asset: asset, Price: s.price, Timestamp: time.Now()}, nil
}

type fixture struct {
	svc   *Service
	c     *protocol.Controller
	orc   *stubOracle
	admin uuid.UUID
	at    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f := &fixture{
		orc:   &stubOracle{price: 2_000 * fixedpoint.ScalePPM},
		admin: uuid.New(),
		at:    at,
	}
	now := func() time.Time { return f.at }

	store, err := risk.NewParamStore(risk.DefaultParameters())
	if err != nil {
		t.Fatalf("param store: %v", err)
	}
	engine := risk.NewEngine(store, f.orc)

	f.c = protocol.NewController(
		pool.New(100_000, 10_000_000*fixedpoint.ScaleUSDC),
		loan.NewBook(),
		store,
		engine,
		f.orc,
		protocol.Config{
			Admin:           f.admin,
			CollateralAsset: oracle.AssetETH,
			TermDuration:    30 * 24 * time.Hour,
			Now:             now,
			Logger:          zerolog.Nop(),
		},
	)

	scanner := liquidation.NewScanner(
		liquidation.SourceFunc(func() []loan.Loan { return f.c.View().Loans }),
		engine, f.orc, oracle.AssetETH, zerolog.Nop(), nil,
	)
	f.svc = NewService(f.c, engine, f.orc, oracle.AssetETH, scanner, now)
	return f
}

func TestPoolStatus(t *testing.T) {
	f := newFixture(t)
	if _, err := f.c.Deposit(uuid.New(), 10_000*fixedpoint.ScaleUSDC); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := f.c.Borrow(uuid.New(), 1_000*fixedpoint.ScaleUSDC, fixedpoint.ScaleAsset); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	got := f.svc.PoolStatus()
	if got.TotalDeposits != 10_000*fixedpoint.ScaleUSDC {
		t.Fatalf("deposits = %d", got.TotalDeposits)
	}
	if got.AvailableLiquidity != 9_000*fixedpoint.ScaleUSDC {
		t.Fatalf("available = %d", got.AvailableLiquidity)
	}
	if got.UtilizationRate != 100_000 {
		t.Fatalf("utilization = %d, want 100000", got.UtilizationRate)
	}
	// Quote at 10% utilization: 2% base + 10% * 10% slope = 3%.
	if got.CurrentRate != 30_000 {
		t.Fatalf("rate = %d, want 30000", got.CurrentRate)
	}
	if got.AsOfSequence != 2 {
		t.Fatalf("as_of_sequence = %d, want 2", got.AsOfSequence)
	}
}

func TestLoansAndDetail(t *testing.T) {
	f := newFixture(t)
	if _, err := f.c.Deposit(uuid.New(), 10_000*fixedpoint.ScaleUSDC); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	borrower := uuid.New()
	id1, err := f.c.Borrow(borrower, 1_000*fixedpoint.ScaleUSDC, fixedpoint.ScaleAsset)
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}
	id2, err := f.c.Borrow(borrower, 500*fixedpoint.ScaleUSDC, fixedpoint.ScaleAsset)
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if _, err := f.c.Repay(borrower, id1); err != nil {
		t.Fatalf("repay: %v", err)
	}

	all := f.svc.Loans(false)
	if len(all) != 2 {
		t.Fatalf("all loans = %d, want 2", len(all))
	}
	active := f.svc.Loans(true)
	if len(active) != 1 || active[0].ID != id2 {
		t.Fatalf("active loans = %+v, want just loan %d", active, id2)
	}

	repaid, err := f.svc.Loan(id1)
	if err != nil {
		t.Fatalf("loan detail: %v", err)
	}
	if repaid.Status != "REPAID" || repaid.TotalOwed != 0 {
		t.Fatalf("repaid loan = %+v, want REPAID owing 0", repaid)
	}

	// Interest accrues on the active loan as time passes.
	f.at = f.at.Add(15 * 24 * time.Hour)
	detail, err := f.svc.Loan(id2)
	if err != nil {
		t.Fatalf("loan detail: %v", err)
	}
	if detail.AccruedInterest <= 0 {
		t.Fatalf("accrued interest = %d, want > 0", detail.AccruedInterest)
	}
	if detail.TotalOwed != detail.Principal+detail.AccruedInterest {
		t.Fatalf("owed = %d, want principal+interest", detail.TotalOwed)
	}

	if _, err := f.svc.Loan(999); !errors.Is(err, loan.ErrLoanNotFound) {
		t.Fatalf("unknown loan err = %v", err)
	}
}

func TestLoanHealth(t *testing.T) {
	f := newFixture(t)
	if _, err := f.c.Deposit(uuid.New(), 10_000*fixedpoint.ScaleUSDC); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	id, err := f.c.Borrow(uuid.New(), 1_000*fixedpoint.ScaleUSDC, fixedpoint.ScaleAsset)
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}

	h, err := f.svc.LoanHealth(id)
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if h.HealthFactor != 2_000_000 || h.Liquidatable {
		t.Fatalf("health = %+v, want HF 2000000 not liquidatable", h)
	}

	f.orc.price = 1_200 * fixedpoint.ScalePPM
	h, err = f.svc.LoanHealth(id)
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if h.HealthFactor != 1_200_000 || !h.Liquidatable {
		t.Fatalf("health = %+v, want HF 1200000 liquidatable", h)
	}

	// Health is never computed from a stale price.
	f.orc.err = oracle.ErrStalePrice
	if _, err := f.svc.LoanHealth(id); !errors.Is(err, oracle.ErrStalePrice) {
		t.Fatalf("stale health err = %v", err)
	}
}

func TestLiquidatable(t *testing.T) {
	f := newFixture(t)
	if _, err := f.c.Deposit(uuid.New(), 10_000*fixedpoint.ScaleUSDC); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	id, err := f.c.Borrow(uuid.New(), 1_000*fixedpoint.ScaleUSDC, fixedpoint.ScaleAsset)
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}

	got, err := f.svc.Liquidatable()
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("healthy book reported %+v", got)
	}

	f.orc.price = 1_000 * fixedpoint.ScalePPM
	got, err = f.svc.Liquidatable()
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(got) != 1 || got[0].LoanID != id {
		t.Fatalf("candidates = %+v, want loan %d", got, id)
	}
}
