package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"chargehub/backend/services/ocpp-server/internal/billing"
	"chargehub/backend/services/ocpp-server/internal/models"
)

// AccountLedger is the wallet surface used by operators.
type AccountLedger interface {
	Reconcile(ctx context.Context, accountID int64) (*billing.Reconciliation, error)
	Entries(ctx context.Context, accountID int64) ([]models.LedgerEntry, error)
	Credit(ctx context.Context, accountID int64, amount decimal.Decimal, method models.PaymentMethod, sessionID *int64) (*models.LedgerEntry, error)
}

// AccountsHandlers serves wallet admin endpoints.
type AccountsHandlers struct {
	ledger AccountLedger
	logger *zap.Logger
}

// NewAccountsHandlers returns handler.
func NewAccountsHandlers(ledger AccountLedger, logger *zap.Logger) *AccountsHandlers {
	return &AccountsHandlers{ledger: ledger, logger: logger}
}

// Balance handles GET /admin/accounts/:id/balance.
func (h *AccountsHandlers) Balance(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, ok := int64Param(ps, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid account id")
		return
	}
	rec, err := h.ledger.Reconcile(r.Context(), id)
	if err != nil {
		h.logger.Error("reconcile failed", zap.Int64("account_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load balance")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Entries handles GET /admin/accounts/:id/entries.
func (h *AccountsHandlers) Entries(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, ok := int64Param(ps, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid account id")
		return
	}
	entries, err := h.ledger.Entries(r.Context(), id)
	if err != nil {
		h.logger.Error("list entries failed", zap.Int64("account_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list entries")
		return
	}
	if entries == nil {
		entries = []models.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

type creditRequest struct {
	Amount decimal.Decimal      `json:"amount"`
	Method models.PaymentMethod `json:"method,omitempty"`
}

// Credit handles POST /admin/accounts/:id/credit. The default method is a taxed top-up.
func (h *AccountsHandlers) Credit(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, ok := int64Param(ps, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid account id")
		return
	}
	var req creditRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	switch req.Method {
	case "":
		req.Method = models.MethodTopUp
	case models.MethodTopUp, models.MethodAdjustment, models.MethodRefund:
	default:
		writeError(w, http.StatusBadRequest, "unsupported credit method")
		return
	}

	entry, err := h.ledger.Credit(r.Context(), id, req.Amount, req.Method, nil)
	if errors.Is(err, billing.ErrInvalidAmount) {
		writeError(w, http.StatusBadRequest, "amount must be positive")
		return
	}
	if err != nil {
		h.logger.Error("credit failed", zap.Int64("account_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to credit account")
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}
