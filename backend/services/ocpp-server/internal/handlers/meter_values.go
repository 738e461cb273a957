package handlers

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"chargehub/backend/services/ocpp-server/internal/ocpp"
	"chargehub/backend/services/ocpp-server/internal/ocpp/protocol"
	"chargehub/backend/services/ocpp-server/internal/service"
	"chargehub/backend/services/ocpp-server/internal/sessions"
)

// NewMeterValuesHandler forwards energy register samples to the metering path. Metering
// failures are logged and the sample is still acknowledged.
func NewMeterValuesHandler(settler Settler, txStore *service.TransactionStore, logger *zap.Logger) ocpp.HandlerFunc {
	return func(ctx context.Context, stationID string, payload json.RawMessage) (interface{}, error) {
		req, err := ocpp.Decode[protocol.MeterValuesRequest](payload)
		if err != nil {
			return nil, err
		}
		if req.TransactionID == nil {
			return protocol.MeterValuesResponse{}, nil
		}

		reading, ok := protocol.EnergyRegisterKWh(req.MeterValue)
		if !ok {
			return protocol.MeterValuesResponse{}, nil
		}

		txCtx, ok := txStore.Get(*req.TransactionID)
		if !ok {
			logger.Warn("meter values for unmapped transaction",
				zap.String("station_id", stationID),
				zap.Int("transaction_id", *req.TransactionID),
			)
			return protocol.MeterValuesResponse{}, nil
		}
		res, err := settler.Meter(ctx, stationID, txCtx.SessionID, reading)
		switch {
		case errors.Is(err, sessions.ErrSessionNotFound):
			logger.Warn("meter values for unknown session",
				zap.String("station_id", stationID),
				zap.Int("transaction_id", *req.TransactionID),
			)
		case err != nil:
			logger.Error("metering failed",
				zap.String("station_id", stationID),
				zap.Int64("session_id", txCtx.SessionID),
				zap.Error(err),
			)
		case res.Settlement != nil:
			logger.Info("session auto-stopped by metering",
				zap.String("station_id", stationID),
				zap.Int64("session_id", txCtx.SessionID),
				zap.Bool("insufficient_balance", res.InsufficientBalance),
			)
		}

		return protocol.MeterValuesResponse{}, nil
	}
}
