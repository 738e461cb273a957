package handlers

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"chargehub/backend/services/ocpp-server/internal/models"
	"chargehub/backend/services/ocpp-server/internal/ocpp"
	"chargehub/backend/services/ocpp-server/internal/ocpp/protocol"
	"chargehub/backend/services/ocpp-server/internal/service"
)

// NewBootNotificationHandler records boot metadata and accepts the charge point.
func NewBootNotificationHandler(registry ChargePointRegistry, state *service.StationState, interval time.Duration, logger *zap.Logger) ocpp.HandlerFunc {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return func(ctx context.Context, stationID string, payload json.RawMessage) (interface{}, error) {
		req, err := ocpp.Decode[protocol.BootNotificationRequest](payload)
		if err != nil {
			return nil, err
		}

		if err := registry.RecordBoot(ctx, stationID, models.BootInfo{
			Vendor:          req.ChargePointVendor,
			Model:           req.ChargePointModel,
			FirmwareVersion: req.FirmwareVersion,
		}); err != nil {
			logger.Error("failed to record boot", zap.String("station_id", stationID), zap.Error(err))
			return nil, err
		}

		state.RecordBoot(stationID, req.ChargePointVendor, req.ChargePointModel)
		state.UpdateStation(stationID, protocol.ConnectorAvailable)

		return protocol.BootNotificationResponse{
			CurrentTime: time.Now().UTC(),
			Interval:    int(interval / time.Second),
			Status:      protocol.RegistrationAccepted,
		}, nil
	}
}
