package protocol

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/marwinsteiner/lendflow/internal/event"
	"github.com/marwinsteiner/lendflow/internal/fixedpoint"
	"github.com/marwinsteiner/lendflow/internal/loan"
	"github.com/marwinsteiner/lendflow/internal/observability"
	"github.com/marwinsteiner/lendflow/internal/oracle"
	"github.com/marwinsteiner/lendflow/internal/pool"
	"github.com/marwinsteiner/lendflow/internal/risk"
)

// View is the committed read-side state. Mutations publish a fresh View
// only after the full Pool+LoanBook change has been applied, so readers
// never observe a transiently inconsistent intermediate state and never
// touch the mutation guard.
type View struct {
	Sequence int64
	Paused   bool
	Pool     pool.Stats
	Params   risk.Parameters
	Loans    []loan.Loan
}

// Loan looks up one loan in the committed view.
func (v *View) Loan(id uint64) (loan.Loan, bool) {
	for _, l := range v.Loans {
		if l.ID == id {
			return l, true
		}
	}
	return loan.Loan{}, false
}

// Config wires a Controller.
type Config struct {
	Admin           uuid.UUID
	CollateralAsset oracle.Asset
	TermDuration    time.Duration

	// Now is the clock for loan terms and event timestamps. Injectable so
	// tests drive time explicitly.
	Now func() time.Time

	// PersistChan receives every committed event (blocking send; the
	// controller stalls rather than lose a durable record). Nil disables
	// persistence (tests).
	PersistChan chan<- event.Envelope

	// PublishChan receives committed events for outbound publishing
	// (non-blocking send, dropped on full; consumers can rebuild from
	// the event log).
	PublishChan chan<- event.Envelope

	Logger  zerolog.Logger
	Metrics *observability.Metrics
}

// Controller is the façade enforcing global invariants around all
// state-mutating operations: pause state, access control, and the
// single-writer mutation guard. Everything routes through it; the Pool
// and LoanBook are never touched except under the guard.
type Controller struct {
	mu sync.Mutex // the mutation guard; TryLock, never a blocking Lock

	admin uuid.UUID
	asset oracle.Asset
	term  time.Duration
	now   func() time.Time

	paused bool
	pool   *pool.Pool
	book   *loan.Book
	params *risk.ParamStore
	engine *risk.Engine
	oracle oracle.Oracle

	sequence int64
	view     atomic.Pointer[View]

	persistChan chan<- event.Envelope
	publishChan chan<- event.Envelope
	log         zerolog.Logger
	metrics     *observability.Metrics
}

func NewController(p *pool.Pool, b *loan.Book, params *risk.ParamStore, eng *risk.Engine, orc oracle.Oracle, cfg Config) *Controller {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	c := &Controller{
		admin:       cfg.Admin,
		asset:       cfg.CollateralAsset,
		term:        cfg.TermDuration,
		now:         cfg.Now,
		pool:        p,
		book:        b,
		params:      params,
		engine:      eng,
		oracle:      orc,
		persistChan: cfg.PersistChan,
		publishChan: cfg.PublishChan,
		log:         cfg.Logger,
		metrics:     cfg.Metrics,
	}
	c.publishView()
	return c
}

// --- Operation surface ---

// Deposit credits pool shares for amount. Returns shares minted.
func (c *Controller) Deposit(account uuid.UUID, amount int64) (int64, error) {
	const op = "deposit"
	start := time.Now()

	if !c.mu.TryLock() {
		return 0, c.reject(op, ErrMutationInProgress)
	}
	defer c.mu.Unlock()

	if c.paused {
		return 0, c.reject(op, ErrPaused)
	}

	minted, err := c.pool.Deposit(account, amount)
	if err != nil {
		return 0, c.reject(op, err)
	}

	c.commit(op, start, account, envelopeFor(account, 0, event.Deposited{
		Account:      account,
		Amount:       amount,
		SharesMinted: minted,
	}))
	return minted, nil
}

// Withdraw burns shares and returns the USDC amount owed.
func (c *Controller) Withdraw(account uuid.UUID, shares int64) (int64, error) {
	const op = "withdraw"
	start := time.Now()

	if !c.mu.TryLock() {
		return 0, c.reject(op, ErrMutationInProgress)
	}
	defer c.mu.Unlock()

	if c.paused {
		return 0, c.reject(op, ErrPaused)
	}

	owed, err := c.pool.Withdraw(account, shares)
	if err != nil {
		return 0, c.reject(op, err)
	}

	c.commit(op, start, account, envelopeFor(account, 0, event.Withdrew{
		Account:        account,
		SharesBurned:   shares,
		AmountReturned: owed,
	}))
	return owed, nil
}

// DistributeYield splits yield between the reserve and the depositors.
// Privileged: yield enters from outside the repay path only through the
// administrator.
func (c *Controller) DistributeYield(actor uuid.UUID, amount int64) (toDepositors, toReserve int64, err error) {
	const op = "distribute_yield"
	start := time.Now()

	if !c.mu.TryLock() {
		return 0, 0, c.reject(op, ErrMutationInProgress)
	}
	defer c.mu.Unlock()

	if actor != c.admin {
		return 0, 0, c.reject(op, ErrNotAdmin)
	}
	if c.paused {
		return 0, 0, c.reject(op, ErrPaused)
	}

	toDepositors, toReserve, err = c.pool.DistributeYield(amount)
	if err != nil {
		return 0, 0, c.reject(op, err)
	}

	c.commit(op, start, actor, envelopeFor(actor, 0, event.YieldDistributed{
		Amount:       amount,
		ToDepositors: toDepositors,
		ToReserve:    toReserve,
	}))
	return toDepositors, toReserve, nil
}

// Borrow originates a fixed-term loan against posted collateral and
// returns the new loan ID. The interest rate is the utilization-based
// rate at origination, held fixed for the term.
func (c *Controller) Borrow(borrower uuid.UUID, principal, collateral int64) (uint64, error) {
	const op = "borrow"
	start := time.Now()

	if !c.mu.TryLock() {
		return 0, c.reject(op, ErrMutationInProgress)
	}
	defer c.mu.Unlock()

	if c.paused {
		return 0, c.reject(op, ErrPaused)
	}

	p := c.params.Get()
	if principal < p.MinLoanAmount || principal > p.MaxLoanAmount {
		return 0, c.reject(op, fmt.Errorf("%w: %d outside [%d, %d]",
			ErrLoanAmountOutOfBounds, principal, p.MinLoanAmount, p.MaxLoanAmount))
	}
	if collateral <= 0 {
		return 0, c.reject(op, pool.ErrZeroAmount)
	}

	// The one external call: the price read must succeed before any state
	// is written.
	collateralValue, err := c.engine.CollateralValue(c.asset, collateral)
	if err != nil {
		return 0, c.reject(op, err)
	}
	if required := c.engine.RequiredCollateralValue(principal); collateralValue < required {
		return 0, c.reject(op, fmt.Errorf("%w: value %d below required %d",
			ErrUndercollateralized, collateralValue, required))
	}

	stats := c.pool.Stats()
	postUtilization := c.engine.UtilizationRate(stats.TotalBorrowed+principal, stats.TotalDeposits)
	if stats.TotalDeposits == 0 || postUtilization > p.MaxUtilization {
		return 0, c.reject(op, fmt.Errorf("%w: %d ppm > %d ppm",
			ErrUtilizationTooHigh, postUtilization, p.MaxUtilization))
	}

	// Rate snapshot at pre-borrow utilization.
	rate := c.engine.InterestRate(c.engine.UtilizationRate(stats.TotalBorrowed, stats.TotalDeposits))

	if err := c.pool.Lend(principal); err != nil {
		return 0, c.reject(op, err)
	}
	l := c.book.Open(borrower, principal, collateral, rate, c.now(), c.term)

	c.commit(op, start, borrower, envelopeFor(borrower, l.ID, event.LoanOpened{
		LoanID:       l.ID,
		Borrower:     borrower,
		Principal:    l.Principal,
		Collateral:   l.Collateral,
		InterestRate: l.InterestRate,
		StartTime:    l.StartTime,
		EndTime:      l.EndTime,
	}))
	if c.metrics != nil {
		c.metrics.LoansOpened.Inc()
	}
	return l.ID, nil
}

// Repay settles an ACTIVE loan: the payer owes principal plus linearly
// accrued interest, collateral is released back to the borrower. Returns
// the amount paid.
func (c *Controller) Repay(payer uuid.UUID, loanID uint64) (int64, error) {
	const op = "repay"
	start := time.Now()

	if !c.mu.TryLock() {
		return 0, c.reject(op, ErrMutationInProgress)
	}
	defer c.mu.Unlock()

	if c.paused {
		return 0, c.reject(op, ErrPaused)
	}

	l, err := c.book.Get(loanID)
	if err != nil {
		return 0, c.reject(op, err)
	}
	if l.Status != loan.StatusActive {
		return 0, c.reject(op, fmt.Errorf("%w: loan %d is %s", loan.ErrLoanNotActive, loanID, l.Status))
	}

	interest := l.AccruedInterest(c.now())
	owed := l.Principal + interest

	toDepositors, toReserve := c.pool.Settle(l.Principal, interest)
	if err := c.book.MarkRepaid(loanID); err != nil {
		panic(fmt.Sprintf("FATAL: repay finalize after active check: %v", err))
	}

	c.commit(op, start, payer, envelopeFor(payer, loanID, event.LoanRepaid{
		LoanID:             loanID,
		Borrower:           l.Borrower,
		Principal:          l.Principal,
		InterestPaid:       interest,
		YieldToDepositors:  toDepositors,
		YieldToReserve:     toReserve,
		CollateralReleased: l.Collateral,
	}))
	if c.metrics != nil {
		c.metrics.LoansRepaid.Inc()
	}
	return owed, nil
}

// Liquidate settles an undercollateralized ACTIVE loan. The liquidator
// pays principal plus accrued interest and receives collateral worth the
// repay amount plus the liquidation bonus, capped at the locked
// collateral; the remainder goes back to the borrower. A shortfall
// (collateral worth less than the repay amount) is recorded against the
// pool reserve and surfaced as its own event. Returns collateral seized.
func (c *Controller) Liquidate(liquidator uuid.UUID, loanID uint64) (int64, error) {
	const op = "liquidate"
	start := time.Now()

	if !c.mu.TryLock() {
		return 0, c.reject(op, ErrMutationInProgress)
	}
	defer c.mu.Unlock()

	if c.paused {
		return 0, c.reject(op, ErrPaused)
	}

	l, err := c.book.Get(loanID)
	if err != nil {
		return 0, c.reject(op, err)
	}
	if l.Status != loan.StatusActive {
		return 0, c.reject(op, fmt.Errorf("%w: loan %d is %s", loan.ErrLoanNotActive, loanID, l.Status))
	}

	snap, err := c.oracle.Price(c.asset)
	if err != nil {
		return 0, c.reject(op, err)
	}
	collateralValue := risk.ValueAt(l.Collateral, snap.Price)

	healthFactor := c.engine.HealthFactor(collateralValue, l.Principal)
	if !c.engine.RequiresLiquidation(healthFactor) {
		return 0, c.reject(op, fmt.Errorf("%w: %d ppm at threshold %d ppm",
			ErrHealthFactorTooHigh, healthFactor, c.params.Get().LiquidationThreshold))
	}

	interest := l.AccruedInterest(c.now())
	repayAmount := l.Principal + interest

	// Bonus is carved from the locked collateral and hard-capped by it;
	// the liquidator can never receive more than was locked.
	bonus := c.params.Get().LiquidationBonus
	seizeValue := fixedpoint.MulDiv(repayAmount, fixedpoint.ScalePPM+bonus, fixedpoint.ScalePPM, fixedpoint.RoundDown)
	seized := risk.CollateralAt(seizeValue, snap.Price)
	if seized > l.Collateral {
		seized = l.Collateral
	}
	returned := l.Collateral - seized

	var shortfall int64
	if collateralValue < repayAmount {
		shortfall = repayAmount - collateralValue
	}

	toDepositors, toReserve := c.pool.Settle(l.Principal, interest)
	if shortfall > 0 {
		c.pool.RecordShortfall(shortfall)
	}
	if err := c.book.MarkLiquidated(loanID); err != nil {
		panic(fmt.Sprintf("FATAL: liquidate finalize after active check: %v", err))
	}

	envs := []event.Envelope{envelopeFor(liquidator, loanID, event.LoanLiquidated{
		LoanID:             loanID,
		Borrower:           l.Borrower,
		Liquidator:         liquidator,
		Principal:          l.Principal,
		InterestPaid:       interest,
		YieldToDepositors:  toDepositors,
		YieldToReserve:     toReserve,
		CollateralSeized:   seized,
		CollateralReturned: returned,
		HealthFactor:       healthFactor,
	})}
	if shortfall > 0 {
		envs = append(envs, envelopeFor(liquidator, loanID, event.ReserveShortfall{
			LoanID: loanID,
			Amount: shortfall,
		}))
		if c.metrics != nil {
			c.metrics.ShortfallTotal.Add(float64(shortfall))
		}
		c.log.Warn().Uint64("loan_id", loanID).Int64("shortfall", shortfall).
			Msg("liquidation shortfall recorded against reserve")
	}

	c.commit(op, start, liquidator, envs...)
	if c.metrics != nil {
		c.metrics.LoansLiquidated.Inc()
	}
	return seized, nil
}

// SetPaused flips the pause state. Administrator only; works while
// paused (that is the point).
func (c *Controller) SetPaused(actor uuid.UUID, paused bool) error {
	const op = "set_paused"
	start := time.Now()

	if !c.mu.TryLock() {
		return c.reject(op, ErrMutationInProgress)
	}
	defer c.mu.Unlock()

	if actor != c.admin {
		return c.reject(op, ErrNotAdmin)
	}

	c.paused = paused
	c.commit(op, start, actor, envelopeFor(actor, 0, event.PauseChanged{Paused: paused}))
	return nil
}

// SetRiskParameters replaces the risk parameters. Administrator only.
func (c *Controller) SetRiskParameters(actor uuid.UUID, params risk.Parameters) error {
	const op = "set_risk_parameters"
	start := time.Now()

	if !c.mu.TryLock() {
		return c.reject(op, ErrMutationInProgress)
	}
	defer c.mu.Unlock()

	if actor != c.admin {
		return c.reject(op, ErrNotAdmin)
	}
	if err := c.params.Update(params); err != nil {
		return c.reject(op, err)
	}

	c.commit(op, start, actor, envelopeFor(actor, 0, event.RiskParamsUpdated{Params: params}))
	return nil
}

// --- Read side ---

// View returns the last committed state. Never blocks on the guard.
func (c *Controller) View() *View {
	return c.view.Load()
}

// --- Internals ---

func envelopeFor(actor uuid.UUID, loanID uint64, payload event.Payload) event.Envelope {
	return event.Envelope{
		Type:    payload.EventType(),
		Actor:   actor,
		LoanID:  loanID,
		Payload: payload,
	}
}

// commit finishes a successful mutation: validates invariants, assigns
// event sequences, publishes the new read view, and emits the durable
// records. Called with the guard held.
func (c *Controller) commit(op string, start time.Time, actor uuid.UUID, envs ...event.Envelope) {
	c.pool.ValidateInvariants()

	ts := c.now()
	for i := range envs {
		c.sequence++
		envs[i].Sequence = c.sequence
		envs[i].Timestamp = ts
	}

	c.publishView()
	c.recordPoolMetrics()

	for _, env := range envs {
		// Durable record: blocking send, the controller stalls until the
		// persistence worker drains rather than lose an event.
		if c.persistChan != nil {
			c.persistChan <- env
		}

		// Outbound: non-blocking, dropped on full.
		if c.publishChan != nil {
			select {
			case c.publishChan <- env:
			default:
				if c.metrics != nil {
					c.metrics.PublishDrops.Inc()
				}
			}
		}

		c.log.Info().
			Str("op", op).
			Int64("sequence", env.Sequence).
			Str("event", env.Type.String()).
			Str("actor", actor.String()).
			Uint64("loan_id", env.LoanID).
			Msg("operation committed")
	}

	if c.metrics != nil {
		c.metrics.OpsApplied.WithLabelValues(op).Inc()
		c.metrics.OpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
		c.metrics.EventSequence.Set(float64(c.sequence))
	}
}

// reject classifies and records a failed operation. No state was mutated.
func (c *Controller) reject(op string, err error) error {
	if c.metrics != nil {
		c.metrics.OpsRejected.WithLabelValues(op, rejectionReason(err)).Inc()
	}
	c.log.Debug().Str("op", op).Err(err).Msg("operation rejected")
	return err
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrMutationInProgress):
		return "reentrancy"
	case errors.Is(err, ErrPaused):
		return "paused"
	case errors.Is(err, ErrNotAdmin):
		return "access"
	case errors.Is(err, oracle.ErrStalePrice), errors.Is(err, oracle.ErrUnavailable):
		return "oracle"
	case errors.Is(err, pool.ErrZeroAmount), errors.Is(err, pool.ErrDepositTooLarge),
		errors.Is(err, pool.ErrAmountOverflow), errors.Is(err, ErrLoanAmountOutOfBounds),
		errors.Is(err, risk.ErrInvalidParameters):
		return "validation"
	default:
		return "precondition"
	}
}

// publishView snapshots Pool+LoanBook into a fresh read view. Called with
// the guard held (or during single-threaded startup).
func (c *Controller) publishView() {
	v := &View{
		Sequence: c.sequence,
		Paused:   c.paused,
		Pool:     c.pool.Stats(),
		Params:   c.params.Get(),
		Loans:    c.book.Loans(),
	}
	c.view.Store(v)
}

func (c *Controller) recordPoolMetrics() {
	if c.metrics == nil {
		return
	}
	stats := c.pool.Stats()
	c.metrics.PoolDeposits.Set(float64(stats.TotalDeposits))
	c.metrics.PoolBorrowed.Set(float64(stats.TotalBorrowed))
	c.metrics.PoolShares.Set(float64(stats.TotalShares))
	c.metrics.PoolReserve.Set(float64(stats.Reserve))
	c.metrics.PoolUtilization.Set(float64(c.engine.UtilizationRate(stats.TotalBorrowed, stats.TotalDeposits)))
}
