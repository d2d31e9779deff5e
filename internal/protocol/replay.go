package protocol

import (
	"fmt"

	"github.com/marwinsteiner/lendflow/internal/event"
	"github.com/marwinsteiner/lendflow/internal/loan"
)

// Replay applies one event from the durable log during startup. Events
// carry the full outcome of the original operation, so replay re-runs the
// deterministic mutators without re-validating against the oracle or the
// risk parameters of the time; yield splits are applied straight from the
// log, since the reserve factor may have changed since the event was
// committed. Must be called before the controller is exposed to traffic,
// in strictly ascending sequence order.
func (c *Controller) Replay(env event.Envelope) error {
	if env.Sequence <= c.sequence {
		return fmt.Errorf("replay out of order: sequence %d after %d", env.Sequence, c.sequence)
	}

	switch p := env.Payload.(type) {
	case *event.Deposited:
		minted, err := c.pool.Deposit(p.Account, p.Amount)
		if err != nil {
			return fmt.Errorf("replay seq %d deposit: %w", env.Sequence, err)
		}
		if minted != p.SharesMinted {
			return fmt.Errorf("replay seq %d deposit: minted %d, log says %d", env.Sequence, minted, p.SharesMinted)
		}

	case *event.Withdrew:
		returned, err := c.pool.Withdraw(p.Account, p.SharesBurned)
		if err != nil {
			return fmt.Errorf("replay seq %d withdraw: %w", env.Sequence, err)
		}
		if returned != p.AmountReturned {
			return fmt.Errorf("replay seq %d withdraw: returned %d, log says %d", env.Sequence, returned, p.AmountReturned)
		}

	case *event.YieldDistributed:
		if p.ToDepositors+p.ToReserve != p.Amount {
			return fmt.Errorf("replay seq %d yield: split %d+%d != amount %d",
				env.Sequence, p.ToDepositors, p.ToReserve, p.Amount)
		}
		if err := c.pool.ApplyYieldSplit(p.ToDepositors, p.ToReserve); err != nil {
			return fmt.Errorf("replay seq %d yield: %w", env.Sequence, err)
		}

	case *event.LoanOpened:
		if err := c.pool.Lend(p.Principal); err != nil {
			return fmt.Errorf("replay seq %d loan open: %w", env.Sequence, err)
		}
		c.book.Restore(loan.Loan{
			ID:           p.LoanID,
			Borrower:     p.Borrower,
			Principal:    p.Principal,
			Collateral:   p.Collateral,
			StartTime:    p.StartTime,
			EndTime:      p.EndTime,
			InterestRate: p.InterestRate,
			Status:       loan.StatusActive,
		})

	case *event.LoanRepaid:
		if p.YieldToDepositors+p.YieldToReserve != p.InterestPaid {
			return fmt.Errorf("replay seq %d repay: split %d+%d != interest %d",
				env.Sequence, p.YieldToDepositors, p.YieldToReserve, p.InterestPaid)
		}
		c.pool.Settle(p.Principal, 0)
		if err := c.pool.ApplyYieldSplit(p.YieldToDepositors, p.YieldToReserve); err != nil {
			return fmt.Errorf("replay seq %d repay: %w", env.Sequence, err)
		}
		if err := c.book.MarkRepaid(p.LoanID); err != nil {
			return fmt.Errorf("replay seq %d repay: %w", env.Sequence, err)
		}

	case *event.LoanLiquidated:
		if p.YieldToDepositors+p.YieldToReserve != p.InterestPaid {
			return fmt.Errorf("replay seq %d liquidate: split %d+%d != interest %d",
				env.Sequence, p.YieldToDepositors, p.YieldToReserve, p.InterestPaid)
		}
		c.pool.Settle(p.Principal, 0)
		if err := c.pool.ApplyYieldSplit(p.YieldToDepositors, p.YieldToReserve); err != nil {
			return fmt.Errorf("replay seq %d liquidate: %w", env.Sequence, err)
		}
		if err := c.book.MarkLiquidated(p.LoanID); err != nil {
			return fmt.Errorf("replay seq %d liquidate: %w", env.Sequence, err)
		}

	case *event.ReserveShortfall:
		c.pool.RecordShortfall(p.Amount)

	case *event.RiskParamsUpdated:
		if err := c.params.Update(p.Params); err != nil {
			return fmt.Errorf("replay seq %d risk params: %w", env.Sequence, err)
		}

	case *event.PauseChanged:
		c.paused = p.Paused

	default:
		return fmt.Errorf("replay seq %d: unhandled payload %T", env.Sequence, env.Payload)
	}

	c.sequence = env.Sequence
	return nil
}

// FinishReplay validates the rebuilt state and publishes the first read
// view. Call once after the last Replay.
func (c *Controller) FinishReplay() {
	c.pool.ValidateInvariants()
	c.publishView()
	c.recordPoolMetrics()
	if c.metrics != nil {
		c.metrics.EventSequence.Set(float64(c.sequence))
	}
	c.log.Info().Int64("sequence", c.sequence).Msg("event replay complete")
}
