package liquidation

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/marwinsteiner/lendflow/internal/fixedpoint"
	"github.com/marwinsteiner/lendflow/internal/loan"
	"github.com/marwinsteiner/lendflow/internal/oracle"
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

func testLoan(id uint64, principal, collateral int64, status loan.Status) loan.Loan {
	return loan.Loan{
		ID:         id,
		Borrower:   uuid.New(),
		Principal:  principal,
		Collateral: collateral,
		Status:     status,
	}
}

func newScanner(t *testing.T, loans []loan.Loan, orc oracle.Oracle) *Scanner {
	t.Helper()
	store, err := risk.NewParamStore(risk.DefaultParameters())
	if err != nil {
		t.Fatalf("param store: %v", err)
	}
	source := SourceFunc(func() []loan.Loan { return loans })
	return NewScanner(source, risk.NewEngine(store, orc), orc, oracle.AssetETH, zerolog.Nop(), nil)
}

func TestScanFindsUnderwaterLoans(t *testing.T) {
	// At $1000/ETH, 1 ETH covers a $1000 principal at health factor 1.0.
	orc := &stubOracle{price: 1_000 * fixedpoint.ScalePPM}
	loans := []loan.Loan{
		// HF 2.0: safe.
		testLoan(1, 500*fixedpoint.ScaleUSDC, fixedpoint.ScaleAsset, loan.StatusActive),
		// HF 1.0: liquidatable.
		testLoan(2, 1_000*fixedpoint.ScaleUSDC, fixedpoint.ScaleAsset, loan.StatusActive),
		// Underwater but already terminal: skipped.
		testLoan(3, 1_000*fixedpoint.ScaleUSDC, fixedpoint.ScaleAsset, loan.StatusLiquidated),
		// HF 1.25: liquidatable.
		testLoan(4, 800*fixedpoint.ScaleUSDC, fixedpoint.ScaleAsset, loan.StatusActive),
	}

	got, err := newScanner(t, loans, orc).Scan()
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("found %d candidates, want 2: %+v", len(got), got)
	}
	if got[0].LoanID != 2 || got[1].LoanID != 4 {
		t.Fatalf("candidates = %+v, want loans 2 and 4 in order", got)
	}
	if got[0].HealthFactor != 1_000_000 {
		t.Fatalf("loan 2 health factor = %d, want 1000000", got[0].HealthFactor)
	}
	if got[1].HealthFactor != 1_250_000 {
		t.Fatalf("loan 4 health factor = %d, want 1250000", got[1].HealthFactor)
	}
}

func TestScanStrictThresholdBoundary(t *testing.T) {
	// 1 ETH at $1300 against $1000: health factor exactly at the 1.3
	// threshold. Not liquidatable; one price unit lower is.
	orc := &stubOracle{price: 1_300 * fixedpoint.ScalePPM}
	loans := []loan.Loan{
		testLoan(1, 1_000*fixedpoint.ScaleUSDC, fixedpoint.ScaleAsset, loan.StatusActive),
	}
	s := newScanner(t, loans, orc)

	got, err := s.Scan()
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("loan exactly at threshold reported liquidatable: %+v", got)
	}

	orc.price--
	got, err = s.Scan()
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("loan below threshold not reported: %+v", got)
	}
}

func TestScanOracleFailure(t *testing.T) {
	orc := &stubOracle{err: oracle.ErrStalePrice}
	loans := []loan.Loan{
		testLoan(1, 1_000*fixedpoint.ScaleUSDC, fixedpoint.ScaleAsset, loan.StatusActive),
	}

	if _, err := newScanner(t, loans, orc).Scan(); !errors.Is(err, oracle.ErrStalePrice) {
		t.Fatalf("err = %v, want ErrStalePrice", err)
	}
}

func TestLiquidatableIDsReflectsCurrentPrice(t *testing.T) {
	orc := &stubOracle{price: 2_000 * fixedpoint.ScalePPM}
	loans := []loan.Loan{
		testLoan(1, 1_000*fixedpoint.ScaleUSDC, fixedpoint.ScaleAsset, loan.StatusActive),
		testLoan(2, 1_500*fixedpoint.ScaleUSDC, 2*fixedpoint.ScaleAsset, loan.StatusActive),
	}
	s := newScanner(t, loans, orc)

	var ids []uint64
	for id := range s.LiquidatableIDs() {
		ids = append(ids, id)
	}
	if len(ids) != 0 {
		t.Fatalf("healthy book yielded %v", ids)
	}

	// Price collapse: each later iteration re-scans at the new price.
	orc.price = 1_000 * fixedpoint.ScalePPM
	for id := range s.LiquidatableIDs() {
		ids = append(ids, id)
	}
	if len(ids) != 1 || ids[0] != 1 {
		t.Fatalf("ids = %v, want [1]", ids)
	}
}
