package sessions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"chargehub/backend/services/ocpp-server/internal/billing"
	"chargehub/backend/services/ocpp-server/internal/models"
	"chargehub/backend/services/ocpp-server/internal/scheduler"
)

// StopTrigger identifies what ended a session.
type StopTrigger string

const (
	TriggerDevice        StopTrigger = "device"
	TriggerManual        StopTrigger = "manual"
	TriggerScheduled     StopTrigger = "scheduled"
	TriggerEnergyReached StopTrigger = "energy_reached"
	TriggerLowBalance    StopTrigger = "low_balance"
)

// SystemInitiated reports whether the charge point must be told to stop.
func (t StopTrigger) SystemInitiated() bool {
	return t != TriggerDevice
}

// StopRequest describes a stop. FinalReadingKWh is the absolute meter register reading
// reported with the stop, if any. When ChargePointID is set the session must belong to it.
type StopRequest struct {
	ChargePointID   string
	Trigger         StopTrigger
	Reason          string
	FinalReadingKWh *decimal.Decimal
}

// Settlement is the outcome of finalizing a session. AlreadySettled is set when another
// caller finalized first; Session then carries the stored result.
type Settlement struct {
	Session           *models.Session `json:"session"`
	EnergyKWh         decimal.Decimal `json:"energyKwh"`
	Cost              decimal.Decimal `json:"cost"`
	Refund            decimal.Decimal `json:"refund"`
	ExtraDebit        decimal.Decimal `json:"extraDebit"`
	ExtraDebitApplied bool            `json:"extraDebitApplied"`
	AlreadySettled    bool            `json:"alreadySettled"`
}

// Finalizer closes sessions, settles money, and meters card sessions. All work on one
// session is serialized through a per-session lock; the store's compare-and-set on the
// active status guarantees a single settlement across processes.
type Finalizer struct {
	cfg   Config
	deps  Deps
	locks *keyedMutex
}

// NewFinalizer builds a finalizer.
func NewFinalizer(cfg Config, deps Deps) *Finalizer {
	return &Finalizer{cfg: cfg, deps: deps.withDefaults(), locks: newKeyedMutex()}
}

// Stop finalizes a session. Stopping a session that is already terminal returns its stored
// settlement without side effects. An initiated session that never started is marked failed.
func (f *Finalizer) Stop(ctx context.Context, sessionID int64, req StopRequest) (*Settlement, error) {
	unlock := f.locks.Lock(sessionID)
	defer unlock()
	return f.stopLocked(ctx, sessionID, req)
}

// AutoStop is the scheduler callback.
func (f *Finalizer) AutoStop(ctx context.Context, task scheduler.Task) {
	st, err := f.Stop(ctx, task.SessionID, StopRequest{Trigger: TriggerScheduled, Reason: task.Reason})
	if err != nil {
		f.deps.Logger.Error("auto-stop failed", zap.Int64("session_id", task.SessionID), zap.Error(err))
		return
	}
	if st.AlreadySettled {
		f.deps.Logger.Debug("auto-stop skipped, session already settled", zap.Int64("session_id", task.SessionID))
	}
}

func (f *Finalizer) stopLocked(ctx context.Context, sessionID int64, req StopRequest) (*Settlement, error) {
	session, err := f.loadOwned(ctx, sessionID, req.ChargePointID)
	if err != nil {
		return nil, err
	}
	logger := f.deps.Logger.With(
		zap.Int64("session_id", session.ID),
		zap.String("station_id", session.ChargePointID),
		zap.String("trigger", string(req.Trigger)),
	)

	switch session.Status {
	case models.SessionCompleted, models.SessionFailed:
		return settled(session), nil
	case models.SessionInitiated:
		return f.abandon(ctx, session, req)
	}

	cp, err := f.chargePoint(ctx, session.ChargePointID)
	if err != nil {
		return nil, err
	}

	if session.Funding.Source == models.FundingCard && req.FinalReadingKWh != nil {
		res, err := f.meterCard(ctx, session, cp, *req.FinalReadingKWh)
		if err != nil {
			logger.Error("final metering failed", zap.Error(err))
		} else if res.InsufficientBalance {
			logger.Warn("final reading exceeds balance, settling recorded usage")
			f.deps.Notifier.NotifyAdmins(ctx, "Unbilled energy",
				fmt.Sprintf("Session %d ended with %s kWh that could not be charged.", session.ID, res.DeltaKWh.String()))
		}
	}

	now := f.deps.Now()
	energy, cost := f.actualUsage(session, cp, now)
	reason := req.Reason
	if reason == "" {
		reason = string(req.Trigger)
	}

	won, err := f.deps.Sessions.Finish(ctx, session.ID, models.SessionActive, models.Completion{
		Status:     models.SessionCompleted,
		EndTime:    now,
		EnergyKWh:  energy,
		Cost:       cost,
		StopReason: reason,
	})
	if err != nil {
		return nil, fmt.Errorf("finish session: %w", err)
	}
	if !won {
		current, err := f.load(ctx, session.ID)
		if err != nil {
			return nil, err
		}
		return settled(current), nil
	}

	f.deps.Scheduler.Cancel(session.ID)

	st := &Settlement{EnergyKWh: energy, Cost: cost}
	if session.Funding.Source == models.FundingPlan && session.Funding.Plan != nil {
		f.reconcilePlan(ctx, session, st, logger)
	}
	if id := session.Funding.ReservationID(); id != 0 {
		if _, err := f.deps.Reservations.Transition(ctx, id, models.ReservationPaid, models.ReservationFinalized); err != nil {
			logger.Error("finalize reservation", zap.Int64("reservation_id", id), zap.Error(err))
		}
	}

	if err := f.deps.ChargePoints.SetOccupancy(ctx, cp.ID, false, true); err != nil {
		logger.Error("release charge point", zap.Error(err))
	}

	if err := f.deps.Revenue.Record(ctx, models.Revenue{
		SessionID:     session.ID,
		AccountID:     session.Account(),
		ChargePointID: cp.ID,
		StationID:     cp.StationID,
		Funding:       session.Funding.Source,
		EnergyKWh:     energy,
		Amount:        cost,
		Status:        models.RevenueSuccess,
		CreatedAt:     now,
	}); err != nil {
		logger.Error("record revenue", zap.Error(err))
	}

	if f.deps.Cache != nil {
		if err := f.deps.Cache.Delete(ctx, session.TransactionNumber); err != nil {
			logger.Warn("evict active session", zap.Error(err))
		}
	}

	if req.Trigger.SystemInitiated() && f.deps.RemoteStop != nil {
		if err := f.deps.RemoteStop.RemoteStop(ctx, cp.ID, session.TransactionNumber); err != nil {
			logger.Warn("remote stop not delivered", zap.Error(err))
		}
	}

	if account := session.Account(); account != 0 {
		f.deps.Notifier.NotifyUser(ctx, account, "Charging complete",
			fmt.Sprintf("Session %d used %s kWh for %s %s.", session.ID, energy.StringFixed(3), cost.StringFixed(2), f.cfg.Currency))
	}
	f.deps.Notifier.NotifyAdmins(ctx, "Session settled",
		fmt.Sprintf("Session %d on %s settled at %s %s (%s).", session.ID, cp.ID, cost.StringFixed(2), f.cfg.Currency, reason))

	final, err := f.load(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	st.Session = final
	logger.Info("session finalized",
		zap.String("energy_kwh", energy.String()),
		zap.String("cost", cost.String()),
		zap.String("refund", st.Refund.String()),
		zap.String("extra_debit", st.ExtraDebit.String()),
	)
	return st, nil
}

// actualUsage computes settled energy and cost for the funding variant.
func (f *Finalizer) actualUsage(s *models.Session, cp *models.ChargePoint, now time.Time) (decimal.Decimal, decimal.Decimal) {
	switch s.Funding.Source {
	case models.FundingEnergyPackage:
		if s.Funding.Package == nil {
			return s.EnergyKWh, s.Cost
		}
		kwh := s.Funding.Package.SelectedKWh
		return kwh, billing.RoundMoney(kwh.Mul(cp.RatePerKWh))
	case models.FundingPlan:
		var minutes decimal.Decimal
		if s.StartTime != nil && now.After(*s.StartTime) {
			minutes = decimal.NewFromFloat(now.Sub(*s.StartTime).Minutes())
		}
		kwh := minutes.Mul(f.cfg.DeliveryRateKWhPerMinute).Round(3)
		return kwh, billing.RoundMoney(kwh.Mul(cp.RatePerKWh))
	default:
		return s.EnergyKWh, s.Cost
	}
}

// reconcilePlan refunds an underspent plan or debits the overage. Exactly one fires.
func (f *Finalizer) reconcilePlan(ctx context.Context, s *models.Session, st *Settlement, logger *zap.Logger) {
	account := s.Account()
	diff := s.Funding.Plan.PrepaidAmount.Sub(st.Cost)
	sessionID := s.ID

	switch {
	case diff.IsPositive():
		if _, err := f.deps.Ledger.Credit(ctx, account, diff, models.MethodRefund, &sessionID); err != nil {
			logger.Error("plan refund failed", zap.Int64("account_id", account), zap.Error(err))
			return
		}
		st.Refund = diff
	case diff.IsNegative():
		owed := diff.Neg()
		st.ExtraDebit = owed
		_, err := f.deps.Ledger.Debit(ctx, account, owed, models.MethodExtraCharge, &sessionID)
		if err != nil {
			logger.Warn("plan overage not collected", zap.Int64("account_id", account), zap.Error(err))
			if errors.Is(err, billing.ErrInsufficientBalance) {
				f.deps.Notifier.NotifyAdmins(ctx, "Overage not collected",
					fmt.Sprintf("Session %d owes %s %s but account %d has insufficient balance.", s.ID, owed.StringFixed(2), f.cfg.Currency, account))
			}
			return
		}
		st.ExtraDebitApplied = true
	}
}

func (f *Finalizer) abandon(ctx context.Context, s *models.Session, req StopRequest) (*Settlement, error) {
	reason := req.Reason
	if reason == "" {
		reason = "stopped before start"
	}
	won, err := f.deps.Sessions.Finish(ctx, s.ID, models.SessionInitiated, models.Completion{
		Status:     models.SessionFailed,
		EndTime:    f.deps.Now(),
		EnergyKWh:  decimal.Zero,
		Cost:       decimal.Zero,
		StopReason: reason,
	})
	if err != nil {
		return nil, fmt.Errorf("fail session: %w", err)
	}
	current, err := f.load(ctx, s.ID)
	if err != nil {
		return nil, err
	}
	st := settled(current)
	st.AlreadySettled = !won
	return st, nil
}

func (f *Finalizer) load(ctx context.Context, id int64) (*models.Session, error) {
	s, err := f.deps.Sessions.Get(ctx, id)
	if errors.Is(err, models.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session %d: %w", id, err)
	}
	return s, nil
}

// loadOwned hides sessions of other charge points behind ErrSessionNotFound.
func (f *Finalizer) loadOwned(ctx context.Context, id int64, chargePointID string) (*models.Session, error) {
	s, err := f.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if chargePointID != "" && s.ChargePointID != chargePointID {
		f.deps.Logger.Warn("session belongs to another charge point",
			zap.Int64("session_id", id),
			zap.String("station_id", chargePointID),
			zap.String("owner", s.ChargePointID),
		)
		return nil, ErrSessionNotFound
	}
	return s, nil
}

func (f *Finalizer) chargePoint(ctx context.Context, id string) (*models.ChargePoint, error) {
	cp, err := f.deps.ChargePoints.Get(ctx, id)
	if errors.Is(err, models.ErrNotFound) {
		return nil, ErrUnknownChargePoint
	}
	if err != nil {
		return nil, fmt.Errorf("load charge point: %w", err)
	}
	return cp, nil
}

func settled(s *models.Session) *Settlement {
	return &Settlement{
		Session:        s,
		EnergyKWh:      s.EnergyKWh,
		Cost:           s.Cost,
		AlreadySettled: true,
	}
}
