package loan

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrLoanNotFound is returned for unknown loan identifiers.
	ErrLoanNotFound = errors.New("loan not found")

	// ErrLoanNotActive is returned when repay or liquidate targets a loan
	// already in a terminal state.
	ErrLoanNotActive = errors.New("loan not active")
)

// Book owns the set of outstanding loans and their status transitions.
// Loan identifiers come from a monotonic sequence counter, never from
// borrower/time/amount hashing; two identical borrow calls in the same
// instant still get distinct IDs. Mutated only under the controller's
// guard.
type Book struct {
	nextID uint64
	loans  map[uint64]*Loan
	order  []uint64 // creation order, for stable listings
}

func NewBook() *Book {
	return &Book{
		nextID: 1,
		loans:  make(map[uint64]*Loan),
	}
}

// Open creates an ACTIVE loan with the next sequence ID. Term validation
// belongs to the controller; the book only owns identity and lifecycle.
func (b *Book) Open(borrower uuid.UUID, principal, collateral, interestRate int64, start time.Time, term time.Duration) *Loan {
	l := &Loan{
		ID:           b.nextID,
		Borrower:     borrower,
		Principal:    principal,
		Collateral:   collateral,
		StartTime:    start,
		EndTime:      start.Add(term),
		InterestRate: interestRate,
		Status:       StatusActive,
	}
	b.nextID++
	b.loans[l.ID] = l
	b.order = append(b.order, l.ID)
	return l
}

// Get returns the loan for internal use. Callers outside the guard must
// copy before exposing.
func (b *Book) Get(id uint64) (*Loan, error) {
	l, ok := b.loans[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrLoanNotFound, id)
	}
	return l, nil
}

// MarkRepaid transitions ACTIVE -> REPAID.
func (b *Book) MarkRepaid(id uint64) error {
	return b.finalize(id, StatusRepaid)
}

// MarkLiquidated transitions ACTIVE -> LIQUIDATED.
func (b *Book) MarkLiquidated(id uint64) error {
	return b.finalize(id, StatusLiquidated)
}

func (b *Book) finalize(id uint64, terminal Status) error {
	l, ok := b.loans[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrLoanNotFound, id)
	}
	if l.Status != StatusActive {
		return fmt.Errorf("%w: loan %d is %s", ErrLoanNotActive, id, l.Status)
	}
	l.Status = terminal
	return nil
}

// Loans returns copies of all loans in creation order.
func (b *Book) Loans() []Loan {
	out := make([]Loan, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, *b.loans[id])
	}
	return out
}

// ActiveIDs returns the identifiers of all ACTIVE loans in creation order.
func (b *Book) ActiveIDs() []uint64 {
	var out []uint64
	for _, id := range b.order {
		if b.loans[id].Status == StatusActive {
			out = append(out, id)
		}
	}
	return out
}

// Restore re-inserts a loan during event-log replay, preserving its
// original ID and advancing the sequence counter past it.
func (b *Book) Restore(l Loan) {
	cp := l
	b.loans[cp.ID] = &cp
	b.order = append(b.order, cp.ID)
	if cp.ID >= b.nextID {
		b.nextID = cp.ID + 1
	}
}
