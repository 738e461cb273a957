package handlers

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"chargehub/backend/services/ocpp-server/internal/models"
	"chargehub/backend/services/ocpp-server/internal/ocpp"
	"chargehub/backend/services/ocpp-server/internal/ocpp/protocol"
	"chargehub/backend/services/ocpp-server/internal/service"
	"chargehub/backend/services/ocpp-server/internal/sessions"
)

// ChargePointRegistry records what charge points report about themselves.
type ChargePointRegistry interface {
	RecordBoot(ctx context.Context, id string, info models.BootInfo) error
	RecordHeartbeat(ctx context.Context, id string, at time.Time) error
	SetOccupancy(ctx context.Context, id string, occupied, available bool) error
	SetAvailability(ctx context.Context, id string, available bool) error
}

// CardDirectory resolves loyalty cards.
type CardDirectory interface {
	Card(ctx context.Context, number string) (*models.Card, error)
}

// Starter resolves funding for a StartTransaction.
type Starter interface {
	Start(ctx context.Context, req sessions.StartRequest) (*models.Session, error)
}

// Settler meters and finalizes sessions.
type Settler interface {
	Meter(ctx context.Context, chargePointID string, sessionID int64, readingKWh decimal.Decimal) (*sessions.MeterResult, error)
	Stop(ctx context.Context, sessionID int64, req sessions.StopRequest) (*sessions.Settlement, error)
}

// Deps bundles handler dependencies.
type Deps struct {
	ChargePoints      ChargePointRegistry
	Cards             CardDirectory
	Resolver          Starter
	Settler           Settler
	Transactions      *service.TransactionStore
	State             *service.StationState
	HeartbeatInterval time.Duration
	Logger            *zap.Logger
}

// Register attaches every supported action to the router.
func Register(router *ocpp.Router, deps Deps) {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	router.Register(protocol.ActionBootNotification, NewBootNotificationHandler(deps.ChargePoints, deps.State, deps.HeartbeatInterval, logger))
	router.Register(protocol.ActionHeartbeat, NewHeartbeatHandler(deps.ChargePoints, logger))
	router.Register(protocol.ActionAuthorize, NewAuthorizeHandler(deps.Cards, logger))
	router.Register(protocol.ActionStatusNotification, NewStatusNotificationHandler(deps.ChargePoints, deps.State, logger))
	router.Register(protocol.ActionStartTransaction, NewStartTransactionHandler(deps.Resolver, deps.Transactions, deps.State, logger))
	router.Register(protocol.ActionStopTransaction, NewStopTransactionHandler(deps.Settler, deps.Transactions, deps.State, logger))
	router.Register(protocol.ActionMeterValues, NewMeterValuesHandler(deps.Settler, deps.Transactions, logger))
}
