package repository

import (
	"context"
	"database/sql"
	"errors"

	"chargehub/backend/services/ocpp-server/internal/models"
)

// ReservationRepository reads and links prepaid reservations. Creation and payment belong
// to the order flow and are not handled here.
type ReservationRepository struct {
	db *sql.DB
}

// NewReservationRepository returns repository.
func NewReservationRepository(db *sql.DB) *ReservationRepository {
	return &ReservationRepository{db: db}
}

const reservationColumns = `id, account_id, charge_point_id, kind, status, duration_minutes, selected_kwh, amount, session_id, created_at, updated_at`

func scanReservation(row interface{ Scan(...any) error }) (*models.Reservation, error) {
	var res models.Reservation
	err := row.Scan(
		&res.ID,
		&res.AccountID,
		&res.ChargePointID,
		&res.Kind,
		&res.Status,
		&res.DurationMinutes,
		&res.SelectedKWh,
		&res.Amount,
		&res.SessionID,
		&res.CreatedAt,
		&res.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// Get loads a reservation by id.
func (r *ReservationRepository) Get(ctx context.Context, id int64) (*models.Reservation, error) {
	return scanReservation(r.db.QueryRowContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE id = $1`, id))
}

// LatestPaidUnlinked returns the most recent PAID reservation on a charge point that no
// session has claimed yet.
func (r *ReservationRepository) LatestPaidUnlinked(ctx context.Context, chargePointID string) (*models.Reservation, error) {
	query := `SELECT ` + reservationColumns + `
		FROM reservations
		WHERE charge_point_id = $1 AND status = 'PAID' AND session_id IS NULL
		ORDER BY created_at DESC, id DESC
		LIMIT 1`
	return scanReservation(r.db.QueryRowContext(ctx, query, chargePointID))
}

// Link claims a reservation for a session. Only one session can ever win.
func (r *ReservationRepository) Link(ctx context.Context, reservationID, sessionID int64) (bool, error) {
	const query = `
		UPDATE reservations
		SET session_id = $2,
		    updated_at = NOW()
		WHERE id = $1 AND status = 'PAID' AND session_id IS NULL
	`
	return execCAS(ctx, r.db, query, reservationID, sessionID)
}

// Transition moves a reservation between statuses if it is still in from.
func (r *ReservationRepository) Transition(ctx context.Context, id int64, from, to models.ReservationStatus) (bool, error) {
	const query = `
		UPDATE reservations
		SET status = $3,
		    updated_at = NOW()
		WHERE id = $1 AND status = $2
	`
	return execCAS(ctx, r.db, query, id, string(from), string(to))
}
