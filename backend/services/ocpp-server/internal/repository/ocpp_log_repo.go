package repository

import (
	"context"
	"database/sql"

	"chargehub/backend/services/ocpp-server/internal/models"
)

// OCPPLogRepository stores raw OCPP frames in both directions.
type OCPPLogRepository struct {
	db *sql.DB
}

// NewOCPPLogRepository ctor.
func NewOCPPLogRepository(db *sql.DB) *OCPPLogRepository {
	return &OCPPLogRepository{db: db}
}

// Save stores log entry.
func (r *OCPPLogRepository) Save(ctx context.Context, stationID, direction, messageType string, payload []byte) error {
	const query = `
		INSERT INTO ocpp_messages (station_id, direction, message_type, payload)
		VALUES ($1, $2, $3, $4)
	`
	_, err := r.db.ExecContext(ctx, query, stationID, direction, messageType, string(payload))
	return err
}

// Recent returns the latest frames of a station, newest first.
func (r *OCPPLogRepository) Recent(ctx context.Context, stationID string, limit int) ([]models.OCPPMessage, error) {
	const query = `
		SELECT station_id, direction, message_type, payload, created_at
		FROM ocpp_messages
		WHERE station_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, stationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.OCPPMessage
	for rows.Next() {
		var m models.OCPPMessage
		if err := rows.Scan(&m.StationID, &m.Direction, &m.MessageType, &m.Payload, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
