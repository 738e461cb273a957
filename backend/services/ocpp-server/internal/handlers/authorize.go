package handlers

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"chargehub/backend/services/ocpp-server/internal/models"
	"chargehub/backend/services/ocpp-server/internal/ocpp"
	"chargehub/backend/services/ocpp-server/internal/ocpp/protocol"
)

// NewAuthorizeHandler accepts active cards and rejects everything else.
func NewAuthorizeHandler(cards CardDirectory, logger *zap.Logger) ocpp.HandlerFunc {
	return func(ctx context.Context, stationID string, payload json.RawMessage) (interface{}, error) {
		req, err := ocpp.Decode[protocol.AuthorizeRequest](payload)
		if err != nil {
			return nil, err
		}
		if req.IdTag == "" {
			return nil, ocpp.NewError(ocpp.ErrorProtocol, "idTag is required")
		}

		status := protocol.AuthorizationInvalid
		card, err := cards.Card(ctx, req.IdTag)
		switch {
		case err == nil && card.Active:
			status = protocol.AuthorizationAccepted
		case err != nil && !errors.Is(err, models.ErrNotFound):
			logger.Error("card lookup failed", zap.String("station_id", stationID), zap.Error(err))
			return nil, err
		}

		return protocol.AuthorizeResponse{IdTagInfo: protocol.IdTagInfo{Status: status}}, nil
	}
}
