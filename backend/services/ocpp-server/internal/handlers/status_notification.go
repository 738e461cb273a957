package handlers

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"chargehub/backend/services/ocpp-server/internal/models"
	"chargehub/backend/services/ocpp-server/internal/ocpp"
	"chargehub/backend/services/ocpp-server/internal/ocpp/protocol"
	"chargehub/backend/services/ocpp-server/internal/service"
)

// NewStatusNotificationHandler mirrors connector status onto charge point flags.
func NewStatusNotificationHandler(registry ChargePointRegistry, state *service.StationState, logger *zap.Logger) ocpp.HandlerFunc {
	return func(ctx context.Context, stationID string, payload json.RawMessage) (interface{}, error) {
		req, err := ocpp.Decode[protocol.StatusNotificationRequest](payload)
		if err != nil {
			return nil, err
		}

		if req.ConnectorID == 0 {
			state.UpdateStation(stationID, req.Status)
		} else {
			state.UpdateConnector(stationID, req.ConnectorID, req.Status, req.ErrorCode)
		}

		switch req.Status {
		case protocol.ConnectorAvailable:
			err = registry.SetOccupancy(ctx, stationID, false, true)
		case protocol.ConnectorOccupied, protocol.ConnectorCharging:
			err = registry.SetOccupancy(ctx, stationID, true, false)
		case protocol.ConnectorUnavailable, protocol.ConnectorFaulted:
			err = registry.SetAvailability(ctx, stationID, false)
		}
		if err != nil && !errors.Is(err, models.ErrNotFound) {
			logger.Warn("status not persisted",
				zap.String("station_id", stationID),
				zap.String("status", req.Status),
				zap.Error(err),
			)
		}

		return protocol.StatusNotificationResponse{}, nil
	}
}
