package pool

import (
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/marwinsteiner/lendflow/internal/fixedpoint"
)

var (
	// ErrZeroAmount rejects zero or negative amounts before any state is
	// touched.
	ErrZeroAmount = errors.New("amount must be positive")

	// ErrDepositTooLarge rejects deposits above the configured cap.
	ErrDepositTooLarge = errors.New("deposit exceeds maximum")

	// ErrAmountOverflow rejects amounts that would overflow the aggregate.
	ErrAmountOverflow = errors.New("amount overflows pool aggregate")

	// ErrInsufficientShares is returned when a withdrawal asks for more
	// shares than the account holds.
	ErrInsufficientShares = errors.New("insufficient shares")

	// ErrInsufficientLiquidity is returned when honoring a withdrawal or
	// borrow would dip into funds currently lent out.
	ErrInsufficientLiquidity = errors.New("insufficient pool liquidity")
)

// Stats is a point-in-time copy of the pool aggregates.
type Stats struct {
	TotalDeposits  int64 `json:"total_deposits"`
	TotalShares    int64 `json:"total_shares"`
	TotalBorrowed  int64 `json:"total_borrowed"`
	Reserve        int64 `json:"reserve"`
	ShortfallTotal int64 `json:"shortfall_total"`
}

// Pool owns the aggregate deposited/borrowed balances and the depositor
// share ledger. It is mutated only under the controller's guard.
//
// Invariants: totalBorrowed <= totalDeposits; totalShares == 0 iff
// totalDeposits == 0. ValidateInvariants panics on violation: an
// unbalanced pool is a programming error, not a caller error.
type Pool struct {
	totalDeposits int64
	totalShares   int64
	totalBorrowed int64

	// reserve holds the protocol's cut of yield. Not withdrawable by
	// depositors; liquidation shortfalls are recorded against it.
	reserve        int64
	shortfallTotal int64

	reserveFactor int64 // ppm
	maxDeposit    int64

	shares map[uuid.UUID]int64
}

func New(reserveFactor, maxDeposit int64) *Pool {
	return &Pool{
		reserveFactor: reserveFactor,
		maxDeposit:    maxDeposit,
		shares:        make(map[uuid.UUID]int64),
	}
}

// Deposit credits shares for amount. Share math truncates toward the
// protocol: a depositor can only ever mint at most the pro-rata share of
// what they put in, which closes the share-inflation attack on an empty
// or near-empty pool.
func (p *Pool) Deposit(account uuid.UUID, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, ErrZeroAmount
	}
	if amount > p.maxDeposit {
		return 0, fmt.Errorf("%w: %d > %d", ErrDepositTooLarge, amount, p.maxDeposit)
	}
	if p.totalDeposits > math.MaxInt64-amount {
		return 0, ErrAmountOverflow
	}

	var minted int64
	if p.totalShares == 0 {
		minted = amount
	} else {
		minted = fixedpoint.MulDiv(amount, p.totalShares, p.totalDeposits, fixedpoint.RoundDown)
	}
	if minted <= 0 {
		// Deposit too small to mint a single share at the current share
		// value; accepting it would donate the amount to existing holders.
		return 0, ErrZeroAmount
	}

	p.totalDeposits += amount
	p.totalShares += minted
	p.shares[account] += minted

	return minted, nil
}

// Withdraw burns shares and returns the proportional USDC owed. Proceeds
// round down (never in the depositor's favor). Liquidity currently lent
// out cannot be withdrawn.
func (p *Pool) Withdraw(account uuid.UUID, shares int64) (int64, error) {
	if shares <= 0 {
		return 0, ErrZeroAmount
	}
	held := p.shares[account]
	if held < shares {
		return 0, fmt.Errorf("%w: have %d, want %d", ErrInsufficientShares, held, shares)
	}

	owed := fixedpoint.MulDiv(shares, p.totalDeposits, p.totalShares, fixedpoint.RoundDown)
	if p.totalDeposits-owed < p.totalBorrowed {
		return 0, fmt.Errorf("%w: withdrawal of %d would leave %d against %d borrowed",
			ErrInsufficientLiquidity, owed, p.totalDeposits-owed, p.totalBorrowed)
	}

	p.totalDeposits -= owed
	p.totalShares -= shares
	if held == shares {
		delete(p.shares, account)
	} else {
		p.shares[account] = held - shares
	}

	return owed, nil
}

// DistributeYield splits yield between the reserve and the depositors.
// The reserve cut rounds up (protocol-favoring); the remainder raises the
// share value implicitly, without minting new shares. With no shares
// outstanding the whole amount goes to the reserve, preserving the
// shares-iff-deposits invariant.
func (p *Pool) DistributeYield(amount int64) (toDepositors, toReserve int64, err error) {
	if amount <= 0 {
		return 0, 0, ErrZeroAmount
	}
	if p.totalDeposits > math.MaxInt64-amount {
		return 0, 0, ErrAmountOverflow
	}

	toReserve = fixedpoint.MulDiv(amount, p.reserveFactor, fixedpoint.ScalePPM, fixedpoint.RoundUp)
	toDepositors = amount - toReserve

	if p.totalShares == 0 {
		toReserve = amount
		toDepositors = 0
	}

	p.reserve += toReserve
	p.totalDeposits += toDepositors

	return toDepositors, toReserve, nil
}

// ApplyYieldSplit credits a yield split that was already decided when the
// event was committed, bypassing the current reserve factor. Event-log
// replay uses it so a reserve-factor change between runs cannot shift
// balances away from the history depositors transacted against.
func (p *Pool) ApplyYieldSplit(toDepositors, toReserve int64) error {
	if toDepositors < 0 || toReserve < 0 {
		return ErrZeroAmount
	}
	if p.totalDeposits > math.MaxInt64-toDepositors {
		return ErrAmountOverflow
	}
	if p.totalShares == 0 && toDepositors > 0 {
		return fmt.Errorf("%w: yield to depositors with no shares outstanding", ErrZeroAmount)
	}
	p.reserve += toReserve
	p.totalDeposits += toDepositors
	return nil
}

// Lend marks principal as borrowed. The caller has already validated loan
// terms; this only guards the liquidity invariant.
func (p *Pool) Lend(principal int64) error {
	if principal <= 0 {
		return ErrZeroAmount
	}
	if p.AvailableLiquidity() < principal {
		return fmt.Errorf("%w: available %d, requested %d",
			ErrInsufficientLiquidity, p.AvailableLiquidity(), principal)
	}
	p.totalBorrowed += principal
	return nil
}

// Settle returns principal to the pool and distributes the interest paid
// on top of it as yield. Used by both repay and liquidate.
func (p *Pool) Settle(principal, interest int64) (toDepositors, toReserve int64) {
	if principal > p.totalBorrowed {
		panic(fmt.Sprintf("FATAL: settling %d against %d borrowed", principal, p.totalBorrowed))
	}
	p.totalBorrowed -= principal

	if interest > 0 {
		toDepositors, toReserve, _ = p.DistributeYield(interest)
	}
	return toDepositors, toReserve
}

// RecordShortfall books a liquidation shortfall against the reserve. The
// reserve may go negative; the cumulative total is surfaced, never
// silently absorbed.
func (p *Pool) RecordShortfall(amount int64) {
	p.reserve -= amount
	p.shortfallTotal += amount
}

// AvailableLiquidity is the USDC not currently lent out.
func (p *Pool) AvailableLiquidity() int64 {
	return p.totalDeposits - p.totalBorrowed
}

// SharesOf returns the share balance of one account.
func (p *Pool) SharesOf(account uuid.UUID) int64 {
	return p.shares[account]
}

// ShareValue converts a share balance to its current USDC value,
// rounding down.
func (p *Pool) ShareValue(shares int64) int64 {
	if p.totalShares == 0 {
		return 0
	}
	return fixedpoint.MulDiv(shares, p.totalDeposits, p.totalShares, fixedpoint.RoundDown)
}

// Stats copies the aggregates.
func (p *Pool) Stats() Stats {
	return Stats{
		TotalDeposits:  p.totalDeposits,
		TotalShares:    p.totalShares,
		TotalBorrowed:  p.totalBorrowed,
		Reserve:        p.reserve,
		ShortfallTotal: p.shortfallTotal,
	}
}

// ValidateInvariants panics if the aggregate invariants are violated.
// Called by the controller after every mutation.
func (p *Pool) ValidateInvariants() {
	if p.totalBorrowed > p.totalDeposits {
		panic(fmt.Sprintf("FATAL: totalBorrowed %d > totalDeposits %d", p.totalBorrowed, p.totalDeposits))
	}
	if (p.totalShares == 0) != (p.totalDeposits == 0) {
		panic(fmt.Sprintf("FATAL: shares/deposits mismatch: shares=%d deposits=%d", p.totalShares, p.totalDeposits))
	}
	if p.totalDeposits < 0 || p.totalShares < 0 || p.totalBorrowed < 0 {
		panic(fmt.Sprintf("FATAL: negative aggregate: deposits=%d shares=%d borrowed=%d",
			p.totalDeposits, p.totalShares, p.totalBorrowed))
	}
}
