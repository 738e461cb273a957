package repository

import (
	"context"
	"database/sql"

	"chargehub/backend/services/ocpp-server/internal/models"
)

// RevenueRepository appends settled session revenue.
type RevenueRepository struct {
	db *sql.DB
}

// NewRevenueRepository returns repository.
func NewRevenueRepository(db *sql.DB) *RevenueRepository {
	return &RevenueRepository{db: db}
}

// Record inserts a revenue row; a second record for the same session is ignored.
func (r *RevenueRepository) Record(ctx context.Context, rev models.Revenue) error {
	const query = `
		INSERT INTO revenues (session_id, account_id, charge_point_id, station_id, funding_source, energy_kwh, amount, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (session_id) DO NOTHING
	`
	_, err := r.db.ExecContext(ctx, query,
		rev.SessionID,
		rev.AccountID,
		rev.ChargePointID,
		rev.StationID,
		string(rev.Funding),
		rev.EnergyKWh,
		rev.Amount,
		rev.Status,
		rev.CreatedAt,
	)
	return err
}

// NotificationRepository is the outbox for user-facing notifications.
type NotificationRepository struct {
	db *sql.DB
}

// NewNotificationRepository returns repository.
func NewNotificationRepository(db *sql.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Insert queues a notification for delivery by the notification service.
func (r *NotificationRepository) Insert(ctx context.Context, accountID int64, title, message string) error {
	const query = `
		INSERT INTO notifications (account_id, title, message)
		VALUES ($1, $2, $3)
	`
	_, err := r.db.ExecContext(ctx, query, accountID, title, message)
	return err
}
