package sessions

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"chargehub/backend/services/ocpp-server/internal/billing"
	"chargehub/backend/services/ocpp-server/internal/models"
)

// MeterResult describes what a meter sample did to a session.
type MeterResult struct {
	SessionID           int64           `json:"sessionId"`
	EnergyKWh           decimal.Decimal `json:"energyKwh"`
	DeltaKWh            decimal.Decimal `json:"deltaKwh"`
	Charged             decimal.Decimal `json:"charged"`
	Ignored             bool            `json:"ignored"`
	InsufficientBalance bool            `json:"insufficientBalance"`
	Settlement          *Settlement     `json:"settlement,omitempty"`
}

// Meter applies an absolute energy register reading (kWh) to an active session.
//
// Card sessions are billed incrementally: the cost of the energy since the last accepted
// sample is debited, and a sample the wallet cannot cover stops the session instead.
// Package sessions stop once the selected energy is reached. Samples that do not advance
// the recorded energy are ignored. A non-empty chargePointID must own the session.
func (f *Finalizer) Meter(ctx context.Context, chargePointID string, sessionID int64, readingKWh decimal.Decimal) (*MeterResult, error) {
	unlock := f.locks.Lock(sessionID)
	defer unlock()

	session, err := f.loadOwned(ctx, sessionID, chargePointID)
	if err != nil {
		return nil, err
	}
	if session.Status != models.SessionActive {
		return &MeterResult{SessionID: sessionID, EnergyKWh: session.EnergyKWh, Ignored: true}, nil
	}
	cp, err := f.chargePoint(ctx, session.ChargePointID)
	if err != nil {
		return nil, err
	}

	switch session.Funding.Source {
	case models.FundingCard:
		res, err := f.meterCard(ctx, session, cp, readingKWh)
		if err != nil || !res.InsufficientBalance {
			return res, err
		}
		account := session.Account()
		f.deps.Logger.Info("balance exhausted, stopping session",
			zap.Int64("session_id", session.ID),
			zap.Int64("account_id", account),
		)
		f.deps.Notifier.NotifyUser(ctx, account, "Low balance",
			fmt.Sprintf("Session %d was stopped because your balance is too low.", session.ID))
		st, err := f.stopLocked(ctx, session.ID, StopRequest{Trigger: TriggerLowBalance, Reason: "insufficient balance"})
		if err != nil {
			return res, err
		}
		res.Settlement = st
		return res, nil

	case models.FundingEnergyPackage, models.FundingPlan:
		res, err := f.recordEnergy(ctx, session, readingKWh)
		if err != nil || res.Ignored {
			return res, err
		}
		pkg := session.Funding.Package
		if pkg != nil && res.EnergyKWh.GreaterThanOrEqual(pkg.SelectedKWh) {
			st, err := f.stopLocked(ctx, session.ID, StopRequest{Trigger: TriggerEnergyReached, Reason: "energy package consumed"})
			if err != nil {
				return res, err
			}
			res.Settlement = st
		}
		return res, nil
	}

	return &MeterResult{SessionID: sessionID, Ignored: true}, nil
}

// meterCard bills a card session up to the reading. The running cost is always derived from
// cumulative energy so rounding never drifts across samples. The session passed in is
// updated in place when the sample is accepted.
func (f *Finalizer) meterCard(ctx context.Context, s *models.Session, cp *models.ChargePoint, readingKWh decimal.Decimal) (*MeterResult, error) {
	energy := readingKWh.Sub(s.MeterStartKWh)
	delta := energy.Sub(s.EnergyKWh)
	res := &MeterResult{SessionID: s.ID, EnergyKWh: s.EnergyKWh, DeltaKWh: delta}
	if !delta.IsPositive() {
		res.Ignored = true
		return res, nil
	}

	total := billing.RoundMoney(energy.Mul(cp.RatePerKWh))
	increment := total.Sub(s.Cost)
	if increment.IsPositive() {
		sessionID := s.ID
		_, err := f.deps.Ledger.Debit(ctx, s.Account(), increment, models.MethodCard, &sessionID)
		if errors.Is(err, billing.ErrInsufficientBalance) {
			res.InsufficientBalance = true
			return res, nil
		}
		if err != nil {
			return nil, fmt.Errorf("debit metering increment: %w", err)
		}
		res.Charged = increment
	} else {
		total = s.Cost
	}

	if _, err := f.deps.Sessions.RecordProgress(ctx, s.ID, energy, total); err != nil {
		return nil, fmt.Errorf("record progress: %w", err)
	}
	s.EnergyKWh = energy
	s.Cost = total
	res.EnergyKWh = energy

	f.deps.Logger.Debug("card session metered",
		zap.Int64("session_id", s.ID),
		zap.String("delta_kwh", delta.String()),
		zap.String("charged", res.Charged.String()),
	)
	return res, nil
}

// recordEnergy advances the observed energy of a prepaid session; cost is settled later.
func (f *Finalizer) recordEnergy(ctx context.Context, s *models.Session, readingKWh decimal.Decimal) (*MeterResult, error) {
	energy := readingKWh.Sub(s.MeterStartKWh)
	res := &MeterResult{SessionID: s.ID, EnergyKWh: s.EnergyKWh, DeltaKWh: energy.Sub(s.EnergyKWh)}
	if !res.DeltaKWh.IsPositive() {
		res.Ignored = true
		return res, nil
	}
	if _, err := f.deps.Sessions.RecordProgress(ctx, s.ID, energy, s.Cost); err != nil {
		return nil, fmt.Errorf("record progress: %w", err)
	}
	s.EnergyKWh = energy
	res.EnergyKWh = energy
	return res, nil
}
