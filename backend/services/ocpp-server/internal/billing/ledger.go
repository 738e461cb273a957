package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"chargehub/backend/services/ocpp-server/internal/models"
)

var (
	// ErrInsufficientBalance is returned when a debit exceeds the locked balance.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrInvalidAmount is returned for zero or negative amounts.
	ErrInvalidAmount = errors.New("amount must be positive")
)

// Store provides exclusive per-account access to wallets and their entries.
//
// WithWallet loads (creating when absent) the account wallet under an exclusive lock that
// spans the whole callback. When fn returns a non-nil entry, the mutated wallet balance and
// the entry are persisted atomically. A non-nil error discards every change.
type Store interface {
	WithWallet(ctx context.Context, accountID int64, fn func(w *models.Wallet) (*models.LedgerEntry, error)) error
	Wallet(ctx context.Context, accountID int64) (*models.Wallet, error)
	Entries(ctx context.Context, accountID int64) ([]models.LedgerEntry, error)
}

// Ledger owns account balances. Every mutation is serialized per account by the store.
type Ledger struct {
	store  Store
	taxes  TaxRates
	logger *zap.Logger
	now    func() time.Time
}

// NewLedger wires the ledger to its store and tax rate provider.
func NewLedger(store Store, taxes TaxRates, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		store:  store,
		taxes:  taxes,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Balance returns the current balance; unknown accounts have zero.
func (l *Ledger) Balance(ctx context.Context, accountID int64) (decimal.Decimal, error) {
	w, err := l.store.Wallet(ctx, accountID)
	if errors.Is(err, models.ErrNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("load wallet: %w", err)
	}
	return w.Balance, nil
}

// HasSufficient reports whether the balance covers amount. The answer is advisory;
// Debit re-checks under the account lock.
func (l *Ledger) HasSufficient(ctx context.Context, accountID int64, amount decimal.Decimal) (bool, error) {
	balance, err := l.Balance(ctx, accountID)
	if err != nil {
		return false, err
	}
	return balance.GreaterThanOrEqual(amount), nil
}

// Debit withdraws amount, failing with ErrInsufficientBalance when the locked balance is short.
func (l *Ledger) Debit(ctx context.Context, accountID int64, amount decimal.Decimal, method models.PaymentMethod, sessionID *int64) (*models.LedgerEntry, error) {
	amount = RoundMoney(amount)
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	var result *models.LedgerEntry
	err := l.store.WithWallet(ctx, accountID, func(w *models.Wallet) (*models.LedgerEntry, error) {
		if w.Balance.LessThan(amount) {
			return nil, ErrInsufficientBalance
		}
		w.Balance = w.Balance.Sub(amount)
		result = l.entry(accountID, models.EntryDebit, method, amount.Neg(), sessionID)
		result.Gross = amount
		return result, nil
	})
	if err != nil {
		if errors.Is(err, ErrInsufficientBalance) {
			l.logger.Info("debit rejected",
				zap.Int64("account_id", accountID),
				zap.String("amount", amount.String()),
				zap.String("method", string(method)),
			)
			return nil, err
		}
		return nil, fmt.Errorf("debit account %d: %w", accountID, err)
	}

	l.logger.Debug("account debited",
		zap.Int64("account_id", accountID),
		zap.String("amount", amount.String()),
		zap.String("method", string(method)),
	)
	return result, nil
}

// Credit deposits amount. Top-ups are split into GST, PST and the net credited amount;
// every other method credits the full amount with zero tax.
func (l *Ledger) Credit(ctx context.Context, accountID int64, amount decimal.Decimal, method models.PaymentMethod, sessionID *int64) (*models.LedgerEntry, error) {
	amount = RoundMoney(amount)
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	split := TaxSplit{Gross: amount, Net: amount}
	if method == models.MethodTopUp {
		gst, pst, err := l.taxes.Rates(ctx)
		if err != nil {
			return nil, fmt.Errorf("load tax rates: %w", err)
		}
		split = SplitTax(amount, gst, pst)
	}

	var result *models.LedgerEntry
	err := l.store.WithWallet(ctx, accountID, func(w *models.Wallet) (*models.LedgerEntry, error) {
		w.Balance = w.Balance.Add(split.Net)
		result = l.entry(accountID, models.EntryCredit, method, split.Net, sessionID)
		result.Gross = split.Gross
		result.GST = split.GST
		result.PST = split.PST
		return result, nil
	})
	if err != nil {
		return nil, fmt.Errorf("credit account %d: %w", accountID, err)
	}

	l.logger.Debug("account credited",
		zap.Int64("account_id", accountID),
		zap.String("gross", split.Gross.String()),
		zap.String("net", split.Net.String()),
		zap.String("method", string(method)),
	)
	return result, nil
}

// Entries returns the account history, oldest first.
func (l *Ledger) Entries(ctx context.Context, accountID int64) ([]models.LedgerEntry, error) {
	return l.store.Entries(ctx, accountID)
}

// Reconciliation compares the stored balance against the fold of successful entries.
type Reconciliation struct {
	AccountID int64           `json:"accountId"`
	Balance   decimal.Decimal `json:"balance"`
	EntrySum  decimal.Decimal `json:"entrySum"`
	Entries   int             `json:"entries"`
	Balanced  bool            `json:"balanced"`
}

// Reconcile folds the successful entries of an account and compares with its balance.
func (l *Ledger) Reconcile(ctx context.Context, accountID int64) (*Reconciliation, error) {
	balance, err := l.Balance(ctx, accountID)
	if err != nil {
		return nil, err
	}
	entries, err := l.store.Entries(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("load entries: %w", err)
	}

	sum := decimal.Zero
	for _, e := range entries {
		if e.Status == models.EntrySuccess {
			sum = sum.Add(e.Amount)
		}
	}

	rec := &Reconciliation{
		AccountID: accountID,
		Balance:   balance,
		EntrySum:  sum,
		Entries:   len(entries),
		Balanced:  sum.Equal(balance),
	}
	if !rec.Balanced {
		l.logger.Warn("ledger out of balance",
			zap.Int64("account_id", accountID),
			zap.String("balance", balance.String()),
			zap.String("entry_sum", sum.String()),
		)
	}
	return rec, nil
}

func (l *Ledger) entry(accountID int64, typ models.EntryType, method models.PaymentMethod, amount decimal.Decimal, sessionID *int64) *models.LedgerEntry {
	return &models.LedgerEntry{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Type:      typ,
		Method:    method,
		Status:    models.EntrySuccess,
		Amount:    amount,
		SessionID: sessionID,
		CreatedAt: l.now(),
	}
}

// RoundMoney rounds to two decimal places.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
