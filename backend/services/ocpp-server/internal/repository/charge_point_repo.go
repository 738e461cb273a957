package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"chargehub/backend/services/ocpp-server/internal/models"
)

// ChargePointRepository manages charge point persistence.
type ChargePointRepository struct {
	db *sql.DB
}

// NewChargePointRepository returns repository.
func NewChargePointRepository(db *sql.DB) *ChargePointRepository {
	return &ChargePointRepository{db: db}
}

const chargePointColumns = `id, station_id, vendor, model, firmware_version, rate_per_kwh, occupied, available, last_heartbeat, updated_at`

func scanChargePoint(row interface{ Scan(...any) error }) (*models.ChargePoint, error) {
	var cp models.ChargePoint
	err := row.Scan(
		&cp.ID,
		&cp.StationID,
		&cp.Vendor,
		&cp.Model,
		&cp.FirmwareVersion,
		&cp.RatePerKWh,
		&cp.Occupied,
		&cp.Available,
		&cp.LastHeartbeat,
		&cp.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &cp, nil
}

// Get loads a charge point by identity.
func (r *ChargePointRepository) Get(ctx context.Context, id string) (*models.ChargePoint, error) {
	query := `SELECT ` + chargePointColumns + ` FROM charge_points WHERE id = $1`
	cp, err := scanChargePoint(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	return cp, err
}

// List returns all charge points.
func (r *ChargePointRepository) List(ctx context.Context) ([]models.ChargePoint, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+chargePointColumns+` FROM charge_points ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ChargePoint
	for rows.Next() {
		cp, err := scanChargePoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *cp)
	}
	return out, rows.Err()
}

// RecordBoot stores boot metadata, creating the charge point when unknown.
func (r *ChargePointRepository) RecordBoot(ctx context.Context, id string, info models.BootInfo) error {
	const query = `
		INSERT INTO charge_points (id, station_id, vendor, model, firmware_version, last_heartbeat, updated_at)
		VALUES ($1, $1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			vendor = EXCLUDED.vendor,
			model = EXCLUDED.model,
			firmware_version = EXCLUDED.firmware_version,
			last_heartbeat = NOW(),
			updated_at = NOW()
	`
	_, err := r.db.ExecContext(ctx, query, id, info.Vendor, info.Model, info.FirmwareVersion)
	return err
}

// RecordHeartbeat bumps last_heartbeat; unknown ids are ignored.
func (r *ChargePointRepository) RecordHeartbeat(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE charge_points SET last_heartbeat = $2 WHERE id = $1`, id, at)
	return err
}

// SetOccupancy writes both occupancy flags.
func (r *ChargePointRepository) SetOccupancy(ctx context.Context, id string, occupied, available bool) error {
	const query = `
		UPDATE charge_points
		SET occupied = $2,
		    available = $3,
		    updated_at = NOW()
		WHERE id = $1
	`
	return execOne(ctx, r.db, query, id, occupied, available)
}

// SetAvailability writes the availability flag only.
func (r *ChargePointRepository) SetAvailability(ctx context.Context, id string, available bool) error {
	const query = `
		UPDATE charge_points
		SET available = $2,
		    updated_at = NOW()
		WHERE id = $1
	`
	return execOne(ctx, r.db, query, id, available)
}

// CardRepository resolves loyalty cards.
type CardRepository struct {
	db *sql.DB
}

// NewCardRepository returns repository.
func NewCardRepository(db *sql.DB) *CardRepository {
	return &CardRepository{db: db}
}

// Card loads a card by number.
func (r *CardRepository) Card(ctx context.Context, number string) (*models.Card, error) {
	var c models.Card
	err := r.db.QueryRowContext(ctx,
		`SELECT number, account_id, active FROM cards WHERE number = $1`, number,
	).Scan(&c.Number, &c.AccountID, &c.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// execOne runs an update that must touch exactly one row.
func execOne(ctx context.Context, db execer, query string, args ...any) error {
	ok, err := execCAS(ctx, db, query, args...)
	if err != nil {
		return err
	}
	if !ok {
		return models.ErrNotFound
	}
	return nil
}

// execCAS runs a guarded update and reports whether any row matched the guard.
func execCAS(ctx context.Context, db execer, query string, args ...any) (bool, error) {
	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}
