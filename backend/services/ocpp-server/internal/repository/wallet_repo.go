package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"chargehub/backend/services/ocpp-server/internal/models"
)

// WalletRepository stores balances and the ledger. Mutations lock the wallet row with
// SELECT ... FOR UPDATE for the whole read-check-write.
type WalletRepository struct {
	db *sql.DB
}

// NewWalletRepository returns repository.
func NewWalletRepository(db *sql.DB) *WalletRepository {
	return &WalletRepository{db: db}
}

// WithWallet runs fn inside a transaction holding the account row lock.
func (r *WalletRepository) WithWallet(ctx context.Context, accountID int64, fn func(w *models.Wallet) (*models.LedgerEntry, error)) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	const ensure = `
		INSERT INTO wallets (account_id, balance, updated_at)
		VALUES ($1, 0, NOW())
		ON CONFLICT (account_id) DO NOTHING
	`
	if _, err := tx.ExecContext(ctx, ensure, accountID); err != nil {
		return fmt.Errorf("ensure wallet: %w", err)
	}

	var w models.Wallet
	err = tx.QueryRowContext(ctx,
		`SELECT account_id, balance, updated_at FROM wallets WHERE account_id = $1 FOR UPDATE`,
		accountID,
	).Scan(&w.AccountID, &w.Balance, &w.UpdatedAt)
	if err != nil {
		return fmt.Errorf("lock wallet: %w", err)
	}

	entry, err := fn(&w)
	if err != nil {
		return err
	}
	if entry == nil {
		return tx.Commit()
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE wallets SET balance = $2, updated_at = NOW() WHERE account_id = $1`,
		accountID, w.Balance,
	); err != nil {
		return fmt.Errorf("update balance: %w", err)
	}

	const insert = `
		INSERT INTO ledger_entries (id, account_id, type, method, status, amount, gross, gst, pst, session_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	if _, err := tx.ExecContext(ctx, insert,
		entry.ID,
		entry.AccountID,
		string(entry.Type),
		string(entry.Method),
		string(entry.Status),
		entry.Amount,
		entry.Gross,
		entry.GST,
		entry.PST,
		entry.SessionID,
		entry.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}

	return tx.Commit()
}

// Wallet reads a balance without locking.
func (r *WalletRepository) Wallet(ctx context.Context, accountID int64) (*models.Wallet, error) {
	var w models.Wallet
	err := r.db.QueryRowContext(ctx,
		`SELECT account_id, balance, updated_at FROM wallets WHERE account_id = $1`, accountID,
	).Scan(&w.AccountID, &w.Balance, &w.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// Entries lists an account's ledger, oldest first.
func (r *WalletRepository) Entries(ctx context.Context, accountID int64) ([]models.LedgerEntry, error) {
	const query = `
		SELECT id, account_id, type, method, status, amount, gross, gst, pst, session_id, created_at
		FROM ledger_entries
		WHERE account_id = $1
		ORDER BY created_at, id
	`
	rows, err := r.db.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(
			&e.ID,
			&e.AccountID,
			&e.Type,
			&e.Method,
			&e.Status,
			&e.Amount,
			&e.Gross,
			&e.GST,
			&e.PST,
			&e.SessionID,
			&e.CreatedAt,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
