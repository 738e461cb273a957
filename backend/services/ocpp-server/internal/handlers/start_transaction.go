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

// NewStartTransactionHandler resolves funding and mints a transaction number.
func NewStartTransactionHandler(resolver Starter, txStore *service.TransactionStore, state *service.StationState, logger *zap.Logger) ocpp.HandlerFunc {
	return func(ctx context.Context, stationID string, payload json.RawMessage) (interface{}, error) {
		req, err := ocpp.Decode[protocol.StartTransactionRequest](payload)
		if err != nil {
			return nil, err
		}
		connectorID := req.ConnectorID
		if connectorID <= 0 {
			connectorID = 1
		}

		txNumber := txStore.Next()
		session, err := resolver.Start(ctx, sessions.StartRequest{
			ChargePointID:     stationID,
			ConnectorID:       connectorID,
			IDTag:             req.IdTag,
			MeterStartWh:      req.MeterStart,
			TransactionNumber: txNumber,
		})
		if err != nil {
			if errors.Is(err, sessions.ErrNoPaymentMethod) || errors.Is(err, sessions.ErrUnknownChargePoint) {
				return nil, ocpp.NewError(ocpp.ErrorInternal, sessions.ErrNoPaymentMethod.Error())
			}
			logger.Error("start transaction failed", zap.String("station_id", stationID), zap.Error(err))
			return nil, err
		}

		// a resumed or pre-authorized session keeps the number it already carries
		if session.TransactionNumber != 0 {
			txNumber = session.TransactionNumber
		}
		txStore.Set(txNumber, service.TransactionContext{
			SessionID:     session.ID,
			ChargePointID: stationID,
			ConnectorID:   connectorID,
			MeterStartWh:  req.MeterStart,
		})
		state.UpdateConnector(stationID, connectorID, protocol.ConnectorCharging, "")

		logger.Info("transaction started",
			zap.String("station_id", stationID),
			zap.Int("transaction_id", txNumber),
			zap.Int64("session_id", session.ID),
			zap.String("funding", string(session.Funding.Source)),
		)

		return protocol.StartTransactionResponse{
			TransactionID: txNumber,
			IdTagInfo:     protocol.IdTagInfo{Status: protocol.AuthorizationAccepted},
		}, nil
	}
}
