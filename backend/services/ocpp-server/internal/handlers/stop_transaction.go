package handlers

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"chargehub/backend/services/ocpp-server/internal/ocpp"
	"chargehub/backend/services/ocpp-server/internal/ocpp/protocol"
	"chargehub/backend/services/ocpp-server/internal/service"
	"chargehub/backend/services/ocpp-server/internal/sessions"
)

// NewStopTransactionHandler finalizes the session behind a transaction number.
func NewStopTransactionHandler(settler Settler, txStore *service.TransactionStore, state *service.StationState, logger *zap.Logger) ocpp.HandlerFunc {
	return func(ctx context.Context, stationID string, payload json.RawMessage) (interface{}, error) {
		req, err := ocpp.Decode[protocol.StopTransactionRequest](payload)
		if err != nil {
			return nil, err
		}

		txCtx, mapped := txStore.Resolve(req.TransactionID)
		log := logger.With(
			zap.String("station_id", stationID),
			zap.Int("transaction_id", req.TransactionID),
			zap.Int64("session_id", txCtx.SessionID),
		)
		if !mapped {
			log.Warn("no transaction mapping, using transaction number as session id")
		}

		final := decimal.New(req.MeterStop, -3)
		if mapped && req.MeterStop >= txCtx.MeterStartWh {
			log.Debug("stop meter delta", zap.Int64("energy_wh", req.MeterStop-txCtx.MeterStartWh))
		}

		settlement, err := settler.Stop(ctx, txCtx.SessionID, sessions.StopRequest{
			ChargePointID:   stationID,
			Trigger:         sessions.TriggerDevice,
			Reason:          req.Reason,
			FinalReadingKWh: &final,
		})
		switch {
		case errors.Is(err, sessions.ErrSessionNotFound):
			log.Warn("stop for unknown session acknowledged")
		case err != nil:
			log.Error("stop transaction failed", zap.Error(err))
			return nil, err
		default:
			log.Info("transaction stopped",
				zap.String("cost", settlement.Cost.String()),
				zap.Bool("already_settled", settlement.AlreadySettled),
			)
		}

		// a mapping owned by another charge point stays in place
		if !mapped || txCtx.ChargePointID == stationID {
			txStore.Delete(req.TransactionID)
			if txCtx.ConnectorID > 0 {
				state.UpdateConnector(stationID, txCtx.ConnectorID, protocol.ConnectorFinishing, "")
			}
		}

		return protocol.StopTransactionResponse{
			IdTagInfo: &protocol.IdTagInfo{Status: protocol.AuthorizationAccepted},
		}, nil
	}
}
