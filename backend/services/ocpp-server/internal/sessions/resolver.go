package sessions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"chargehub/backend/services/ocpp-server/internal/models"
)

// StartRequest is a StartTransaction as seen by the resolver.
type StartRequest struct {
	ChargePointID     string
	ConnectorID       int
	IDTag             string
	MeterStartWh      int64
	TransactionNumber int
}

func (r StartRequest) meterStartKWh() decimal.Decimal {
	return decimal.New(r.MeterStartWh, -3)
}

// Resolver decides which funding source owns a StartTransaction. Sources are tried in
// order: card, open session on the charge point, paid reservation.
type Resolver struct {
	cfg  Config
	deps Deps
}

// NewResolver builds a resolver.
func NewResolver(cfg Config, deps Deps) *Resolver {
	return &Resolver{cfg: cfg, deps: deps.withDefaults()}
}

// Start resolves funding and returns the active session, or ErrNoPaymentMethod when no
// source claims the request. A rejected request creates no session and leaves the charge
// point untouched.
func (r *Resolver) Start(ctx context.Context, req StartRequest) (*models.Session, error) {
	logger := r.deps.Logger.With(
		zap.String("station_id", req.ChargePointID),
		zap.Int("transaction_id", req.TransactionNumber),
	)

	cp, err := r.deps.ChargePoints.Get(ctx, req.ChargePointID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, ErrUnknownChargePoint
	}
	if err != nil {
		return nil, fmt.Errorf("load charge point: %w", err)
	}

	flows := []struct {
		name string
		fn   func(context.Context, *models.ChargePoint, StartRequest) (*models.Session, error)
	}{
		{"card", r.fromCard},
		{"open session", r.fromOpen},
		{"reservation", r.fromReservation},
	}

	var session *models.Session
	for _, flow := range flows {
		session, err = flow.fn(ctx, cp, req)
		if err != nil {
			return nil, fmt.Errorf("%s flow: %w", flow.name, err)
		}
		if session != nil {
			logger.Info("transaction resolved",
				zap.String("flow", flow.name),
				zap.Int64("session_id", session.ID),
				zap.String("funding", string(session.Funding.Source)),
			)
			break
		}
	}
	if session == nil {
		logger.Info("start transaction rejected", zap.String("id_tag", req.IDTag))
		return nil, ErrNoPaymentMethod
	}

	if err := r.deps.ChargePoints.SetOccupancy(ctx, cp.ID, true, false); err != nil {
		logger.Error("mark charge point occupied", zap.Error(err))
	}
	if r.deps.Cache != nil {
		if err := r.deps.Cache.Save(ctx, session); err != nil {
			logger.Warn("cache active session", zap.Error(err))
		}
	}
	return session, nil
}

func (r *Resolver) fromCard(ctx context.Context, cp *models.ChargePoint, req StartRequest) (*models.Session, error) {
	if req.IDTag == "" || r.deps.Cards == nil {
		return nil, nil
	}

	card, err := r.deps.Cards.Card(ctx, req.IDTag)
	if errors.Is(err, models.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !card.Active {
		r.deps.Logger.Info("card inactive", zap.String("id_tag", req.IDTag))
		return nil, nil
	}

	ok, err := r.deps.Ledger.HasSufficient(ctx, card.AccountID, r.cfg.MinCardBalance)
	if err != nil {
		return nil, err
	}
	if !ok {
		r.deps.Logger.Info("card balance below floor",
			zap.Int64("account_id", card.AccountID),
			zap.String("floor", r.cfg.MinCardBalance.String()),
		)
		r.deps.Notifier.NotifyUser(ctx, card.AccountID, "Charging not started",
			fmt.Sprintf("Your balance is below the %s %s minimum.", r.cfg.MinCardBalance.StringFixed(2), r.cfg.Currency))
		return nil, nil
	}

	now := r.deps.Now()
	account := card.AccountID
	session := &models.Session{
		ChargePointID:     cp.ID,
		ConnectorID:       req.ConnectorID,
		AccountID:         &account,
		Funding:           models.CardFunded(card.Number),
		Status:            models.SessionActive,
		TransactionNumber: req.TransactionNumber,
		MeterStartKWh:     req.meterStartKWh(),
		EnergyKWh:         decimal.Zero,
		Cost:              decimal.Zero,
		StartTime:         &now,
	}
	if err := r.deps.Sessions.Create(ctx, session); err != nil {
		return nil, err
	}

	r.deps.Notifier.NotifyAdmins(ctx, "Card session started",
		fmt.Sprintf("Session %d started on %s with card %s (account %d).", session.ID, cp.ID, card.Number, account))
	return session, nil
}

// fromOpen promotes a pre-authorized session. An already active session is returned as is
// and keeps its transaction number.
func (r *Resolver) fromOpen(ctx context.Context, cp *models.ChargePoint, req StartRequest) (*models.Session, error) {
	session, err := r.deps.Sessions.FindOpen(ctx, cp.ID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if session.Status == models.SessionActive {
		return session, nil
	}

	activated, err := r.deps.Sessions.Activate(ctx, session.ID, models.Activation{
		StartTime:         r.deps.Now(),
		MeterStartKWh:     req.meterStartKWh(),
		TransactionNumber: req.TransactionNumber,
		ConnectorID:       req.ConnectorID,
	})
	if err != nil {
		return nil, err
	}
	if !activated {
		// lost the race to another StartTransaction for the same session
		return nil, nil
	}
	return r.deps.Sessions.Get(ctx, session.ID)
}

func (r *Resolver) fromReservation(ctx context.Context, cp *models.ChargePoint, req StartRequest) (*models.Session, error) {
	if r.deps.Reservations == nil {
		return nil, nil
	}
	res, err := r.deps.Reservations.LatestPaidUnlinked(ctx, cp.ID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	session := NewSessionFromReservation(res, req, r.deps.Now())
	if err := r.deps.Sessions.Create(ctx, session); err != nil {
		return nil, err
	}

	linked, err := r.deps.Reservations.Link(ctx, res.ID, session.ID)
	if err != nil || !linked {
		if _, ferr := r.deps.Sessions.Finish(ctx, session.ID, models.SessionActive, models.Completion{
			Status:     models.SessionFailed,
			EndTime:    r.deps.Now(),
			EnergyKWh:  decimal.Zero,
			Cost:       decimal.Zero,
			StopReason: "reservation already linked",
		}); ferr != nil {
			r.deps.Logger.Error("fail orphan session", zap.Int64("session_id", session.ID), zap.Error(ferr))
		}
		return nil, err
	}

	if delay, ok := AutoStopDelay(session.Funding, r.cfg.DeliveryRateKWhPerMinute); ok {
		r.deps.Scheduler.Schedule(session.ID, delay, string(session.Funding.Source))
	}
	r.deps.Notifier.NotifyUser(ctx, res.AccountID, "Charging started",
		fmt.Sprintf("Session %d started on %s.", session.ID, cp.ID))
	return session, nil
}

// NewSessionFromReservation builds an active session funded by a paid reservation.
func NewSessionFromReservation(res *models.Reservation, req StartRequest, now time.Time) *models.Session {
	account := res.AccountID
	return &models.Session{
		ChargePointID:     res.ChargePointID,
		ConnectorID:       req.ConnectorID,
		AccountID:         &account,
		Funding:           res.Funding(),
		Status:            models.SessionActive,
		TransactionNumber: req.TransactionNumber,
		MeterStartKWh:     req.meterStartKWh(),
		EnergyKWh:         decimal.Zero,
		Cost:              decimal.Zero,
		StartTime:         &now,
	}
}
