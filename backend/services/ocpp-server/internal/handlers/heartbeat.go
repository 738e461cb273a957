package handlers

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"chargehub/backend/services/ocpp-server/internal/ocpp"
	"chargehub/backend/services/ocpp-server/internal/ocpp/protocol"
)

// NewHeartbeatHandler returns ack with current time.
func NewHeartbeatHandler(registry ChargePointRegistry, logger *zap.Logger) ocpp.HandlerFunc {
	return func(ctx context.Context, stationID string, payload json.RawMessage) (interface{}, error) {
		now := time.Now().UTC()
		if err := registry.RecordHeartbeat(ctx, stationID, now); err != nil {
			logger.Debug("heartbeat not persisted", zap.String("station_id", stationID), zap.Error(err))
		}
		return protocol.HeartbeatResponse{CurrentTime: now}, nil
	}
}
