package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/shopspring/decimal"

	"chargehub/backend/services/ocpp-server/internal/models"
)

// SessionRepository handles persistence of charging sessions. Funding details of prepaid
// sessions are joined from the linked reservation.
type SessionRepository struct {
	db *sql.DB
}

// NewSessionRepository returns repository.
func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

const sessionSelect = `
	SELECT s.id, s.charge_point_id, s.connector_id, s.account_id, s.funding_source,
	       COALESCE(s.card_number, ''), s.reservation_id, s.status, s.transaction_number,
	       s.meter_start_kwh, s.energy_kwh, s.cost, s.start_time, s.end_time, s.stop_reason,
	       s.created_at, s.updated_at,
	       COALESCE(r.duration_minutes, 0), COALESCE(r.selected_kwh, 0), COALESCE(r.amount, 0)
	FROM charging_sessions s
	LEFT JOIN reservations r ON r.id = s.reservation_id
`

func scanSession(row interface{ Scan(...any) error }) (*models.Session, error) {
	var (
		s             models.Session
		source        string
		cardNumber    string
		reservationID *int64
		duration      int
		selectedKWh   decimal.Decimal
		amount        decimal.Decimal
	)
	err := row.Scan(
		&s.ID,
		&s.ChargePointID,
		&s.ConnectorID,
		&s.AccountID,
		&source,
		&cardNumber,
		&reservationID,
		&s.Status,
		&s.TransactionNumber,
		&s.MeterStartKWh,
		&s.EnergyKWh,
		&s.Cost,
		&s.StartTime,
		&s.EndTime,
		&s.StopReason,
		&s.CreatedAt,
		&s.UpdatedAt,
		&duration,
		&selectedKWh,
		&amount,
	)
	if err != nil {
		return nil, err
	}

	s.Funding = models.Funding{Source: models.FundingSource(source)}
	switch s.Funding.Source {
	case models.FundingCard:
		s.Funding.Card = &models.CardFunding{CardNumber: cardNumber}
	case models.FundingPlan:
		s.Funding.Plan = &models.PlanFunding{DurationMinutes: duration, PrepaidAmount: amount}
		if reservationID != nil {
			s.Funding.Plan.ReservationID = *reservationID
		}
	case models.FundingEnergyPackage:
		s.Funding.Package = &models.PackageFunding{SelectedKWh: selectedKWh, PrepaidAmount: amount}
		if reservationID != nil {
			s.Funding.Package.ReservationID = *reservationID
		}
	}
	return &s, nil
}

// Create inserts a session and fills its id and timestamps.
func (r *SessionRepository) Create(ctx context.Context, s *models.Session) error {
	const query = `
		INSERT INTO charging_sessions (
			charge_point_id, connector_id, account_id, funding_source, card_number, reservation_id,
			status, transaction_number, meter_start_kwh, energy_kwh, cost, start_time, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), NOW())
		RETURNING id, created_at, updated_at
	`
	var (
		cardNumber    *string
		reservationID *int64
	)
	if s.Funding.Card != nil {
		cardNumber = &s.Funding.Card.CardNumber
	}
	if id := s.Funding.ReservationID(); id != 0 {
		reservationID = &id
	}
	return r.db.QueryRowContext(ctx, query,
		s.ChargePointID,
		s.ConnectorID,
		s.AccountID,
		string(s.Funding.Source),
		cardNumber,
		reservationID,
		string(s.Status),
		s.TransactionNumber,
		s.MeterStartKWh,
		s.EnergyKWh,
		s.Cost,
		s.StartTime,
	).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
}

// Get loads a session by id.
func (r *SessionRepository) Get(ctx context.Context, id int64) (*models.Session, error) {
	s, err := scanSession(r.db.QueryRowContext(ctx, sessionSelect+` WHERE s.id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	return s, err
}

// FindOpen returns the newest initiated or active session on a charge point.
func (r *SessionRepository) FindOpen(ctx context.Context, chargePointID string) (*models.Session, error) {
	query := sessionSelect + `
		WHERE s.charge_point_id = $1 AND s.status IN ('initiated', 'active')
		ORDER BY s.created_at DESC, s.id DESC
		LIMIT 1
	`
	s, err := scanSession(r.db.QueryRowContext(ctx, query, chargePointID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	return s, err
}

// ListActive returns active sessions, newest first.
func (r *SessionRepository) ListActive(ctx context.Context, limit int) ([]models.Session, error) {
	if limit <= 0 {
		limit = 50
	}
	query := sessionSelect + `
		WHERE s.status = 'active'
		ORDER BY s.start_time DESC
		LIMIT $1
	`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

// Activate moves an initiated session to active.
func (r *SessionRepository) Activate(ctx context.Context, id int64, a models.Activation) (bool, error) {
	const query = `
		UPDATE charging_sessions
		SET status = 'active',
		    start_time = $2,
		    meter_start_kwh = $3,
		    transaction_number = $4,
		    connector_id = CASE WHEN $5 > 0 THEN $5 ELSE connector_id END,
		    updated_at = NOW()
		WHERE id = $1 AND status = 'initiated'
	`
	return execCAS(ctx, r.db, query, id, a.StartTime, a.MeterStartKWh, a.TransactionNumber, a.ConnectorID)
}

// RecordProgress advances energy and cost of an active session; energy never decreases.
func (r *SessionRepository) RecordProgress(ctx context.Context, id int64, energyKWh, cost decimal.Decimal) (bool, error) {
	const query = `
		UPDATE charging_sessions
		SET energy_kwh = $2,
		    cost = $3,
		    updated_at = NOW()
		WHERE id = $1 AND status = 'active' AND energy_kwh <= $2
	`
	return execCAS(ctx, r.db, query, id, energyKWh, cost)
}

// Finish writes the terminal state if the session is still in status from.
func (r *SessionRepository) Finish(ctx context.Context, id int64, from models.SessionStatus, c models.Completion) (bool, error) {
	if !from.CanTransitionTo(c.Status) {
		return false, nil
	}
	const query = `
		UPDATE charging_sessions
		SET status = $3,
		    end_time = $4,
		    energy_kwh = $5,
		    cost = $6,
		    stop_reason = $7,
		    updated_at = NOW()
		WHERE id = $1 AND status = $2
	`
	return execCAS(ctx, r.db, query, id, string(from), string(c.Status), c.EndTime, c.EnergyKWh, c.Cost, c.StopReason)
}
