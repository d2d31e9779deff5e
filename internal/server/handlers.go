package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/marwinsteiner/lendflow/internal/liquidation"
	"github.com/marwinsteiner/lendflow/internal/loan"
	"github.com/marwinsteiner/lendflow/internal/oracle"
	"github.com/marwinsteiner/lendflow/internal/pool"
	"github.com/marwinsteiner/lendflow/internal/protocol"
	"github.com/marwinsteiner/lendflow/internal/risk"
)

type errorResponse struct {
	Error string `json:"error"`
}

// --- Pool ---

type depositRequest struct {
	Account uuid.UUID `json:"account"`
	Amount  int64     `json:"amount"`
}

type depositResponse struct {
	SharesMinted int64 `json:"shares_minted"`
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if !s.decode(w, r, &req) {
		return
	}
	minted, err := s.controller.Deposit(req.Account, req.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, depositResponse{SharesMinted: minted})
}

type withdrawRequest struct {
	Account uuid.UUID `json:"account"`
	Shares  int64     `json:"shares"`
}

type withdrawResponse struct {
	AmountReturned int64 `json:"amount_returned"`
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if !s.decode(w, r, &req) {
		return
	}
	returned, err := s.controller.Withdraw(req.Account, req.Shares)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, withdrawResponse{AmountReturned: returned})
}

type yieldRequest struct {
	Actor  uuid.UUID `json:"actor"`
	Amount int64     `json:"amount"`
}

type yieldResponse struct {
	ToDepositors int64 `json:"to_depositors"`
	ToReserve    int64 `json:"to_reserve"`
}

func (s *Server) handleDistributeYield(w http.ResponseWriter, r *http.Request) {
	var req yieldRequest
	if !s.decode(w, r, &req) {
		return
	}
	toDepositors, toReserve, err := s.controller.DistributeYield(req.Actor, req.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, yieldResponse{ToDepositors: toDepositors, ToReserve: toReserve})
}

func (s *Server) handlePoolStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.query.PoolStatus())
}

// --- Loans ---

type borrowRequest struct {
	Borrower   uuid.UUID `json:"borrower"`
	Principal  int64     `json:"principal"`
	Collateral int64     `json:"collateral"`
}

type borrowResponse struct {
	LoanID uint64 `json:"loan_id"`
}

func (s *Server) handleBorrow(w http.ResponseWriter, r *http.Request) {
	var req borrowRequest
	if !s.decode(w, r, &req) {
		return
	}
	id, err := s.controller.Borrow(req.Borrower, req.Principal, req.Collateral)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, borrowResponse{LoanID: id})
}

type repayRequest struct {
	Payer uuid.UUID `json:"payer"`
}

type repayResponse struct {
	AmountPaid int64 `json:"amount_paid"`
}

func (s *Server) handleRepay(w http.ResponseWriter, r *http.Request) {
	id, ok := s.loanID(w, r)
	if !ok {
		return
	}
	var req repayRequest
	if !s.decode(w, r, &req) {
		return
	}
	paid, err := s.controller.Repay(req.Payer, id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, repayResponse{AmountPaid: paid})
}

type liquidateRequest struct {
	Liquidator uuid.UUID `json:"liquidator"`
}

type liquidateResponse struct {
	CollateralSeized int64 `json:"collateral_seized"`
}

func (s *Server) handleLiquidate(w http.ResponseWriter, r *http.Request) {
	id, ok := s.loanID(w, r)
	if !ok {
		return
	}
	var req liquidateRequest
	if !s.decode(w, r, &req) {
		return
	}
	seized, err := s.controller.Liquidate(req.Liquidator, id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, liquidateResponse{CollateralSeized: seized})
}

func (s *Server) handleListLoans(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"
	s.writeJSON(w, http.StatusOK, s.query.Loans(activeOnly))
}

func (s *Server) handleGetLoan(w http.ResponseWriter, r *http.Request) {
	id, ok := s.loanID(w, r)
	if !ok {
		return
	}
	status, err := s.query.Loan(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleLoanHealth(w http.ResponseWriter, r *http.Request) {
	id, ok := s.loanID(w, r)
	if !ok {
		return
	}
	health, err := s.query.LoanHealth(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, health)
}

func (s *Server) handleLiquidatable(w http.ResponseWriter, r *http.Request) {
	candidates, err := s.query.Liquidatable()
	if err != nil {
		s.writeError(w, err)
		return
	}
	if candidates == nil {
		candidates = []liquidation.Candidate{}
	}
	s.writeJSON(w, http.StatusOK, candidates)
}

// --- Admin ---

type pauseRequest struct {
	Actor  uuid.UUID `json:"actor"`
	Paused bool      `json:"paused"`
}

func (s *Server) handleSetPaused(w http.ResponseWriter, r *http.Request) {
	var req pauseRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.controller.SetPaused(req.Actor, req.Paused); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"paused": req.Paused})
}

type riskParamsRequest struct {
	Actor  uuid.UUID       `json:"actor"`
	Params risk.Parameters `json:"params"`
}

func (s *Server) handleSetRiskParams(w http.ResponseWriter, r *http.Request) {
	var req riskParamsRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.controller.SetRiskParameters(req.Actor, req.Params); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, req.Params)
}

// --- Helpers ---

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return false
	}
	return true
}

func (s *Server) loanID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "loanID"), 10, 64)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid loan id"})
		return 0, false
	}
	return id, true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("encode response")
	}
}

// writeError maps an operation error to a status code by category.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, pool.ErrZeroAmount),
		errors.Is(err, pool.ErrDepositTooLarge),
		errors.Is(err, pool.ErrAmountOverflow),
		errors.Is(err, protocol.ErrLoanAmountOutOfBounds),
		errors.Is(err, risk.ErrInvalidParameters):
		status = http.StatusBadRequest

	case errors.Is(err, loan.ErrLoanNotFound):
		status = http.StatusNotFound

	case errors.Is(err, pool.ErrInsufficientShares),
		errors.Is(err, pool.ErrInsufficientLiquidity),
		errors.Is(err, protocol.ErrUndercollateralized),
		errors.Is(err, protocol.ErrUtilizationTooHigh),
		errors.Is(err, protocol.ErrHealthFactorTooHigh),
		errors.Is(err, loan.ErrLoanNotActive):
		status = http.StatusConflict

	case errors.Is(err, protocol.ErrNotAdmin):
		status = http.StatusForbidden

	case errors.Is(err, protocol.ErrMutationInProgress):
		status = http.StatusLocked

	case errors.Is(err, protocol.ErrPaused),
		errors.Is(err, oracle.ErrUnavailable),
		errors.Is(err, oracle.ErrStalePrice):
		status = http.StatusServiceUnavailable
	}

	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}
