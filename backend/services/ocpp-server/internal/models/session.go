package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// FundingSource identifies what pays for a charging session.
type FundingSource string

const (
	FundingCard          FundingSource = "CARD"
	FundingPlan          FundingSource = "PLAN"
	FundingEnergyPackage FundingSource = "ENERGY_PACKAGE"
)

// Funding is a tagged variant: exactly one of Card, Plan or Package is set
// according to Source.
type Funding struct {
	Source  FundingSource   `json:"source"`
	Card    *CardFunding    `json:"card,omitempty"`
	Plan    *PlanFunding    `json:"plan,omitempty"`
	Package *PackageFunding `json:"package,omitempty"`
}

// CardFunding settles incrementally against the card owner's wallet.
type CardFunding struct {
	CardNumber string `json:"cardNumber"`
}

// PlanFunding is a prepaid time window; energy is computed on settlement.
type PlanFunding struct {
	ReservationID   int64           `json:"reservationId"`
	DurationMinutes int             `json:"durationMinutes"`
	PrepaidAmount   decimal.Decimal `json:"prepaidAmount"`
}

// PackageFunding is a prepaid fixed amount of energy.
type PackageFunding struct {
	ReservationID int64           `json:"reservationId"`
	SelectedKWh   decimal.Decimal `json:"selectedKwh"`
	PrepaidAmount decimal.Decimal `json:"prepaidAmount"`
}

// CardFunded builds a card variant.
func CardFunded(cardNumber string) Funding {
	return Funding{Source: FundingCard, Card: &CardFunding{CardNumber: cardNumber}}
}

// ReservationID returns the backing reservation for prepaid variants, or zero.
func (f Funding) ReservationID() int64 {
	switch f.Source {
	case FundingPlan:
		if f.Plan != nil {
			return f.Plan.ReservationID
		}
	case FundingEnergyPackage:
		if f.Package != nil {
			return f.Package.ReservationID
		}
	}
	return 0
}

// Prepaid reports whether the variant was paid before the session started.
func (f Funding) Prepaid() bool {
	return f.Source == FundingPlan || f.Source == FundingEnergyPackage
}

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	SessionInitiated SessionStatus = "initiated"
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
)

// CanTransitionTo reports whether next is a legal successor. Terminal states have none.
func (s SessionStatus) CanTransitionTo(next SessionStatus) bool {
	switch s {
	case SessionInitiated:
		return next == SessionActive || next == SessionFailed
	case SessionActive:
		return next == SessionCompleted || next == SessionFailed
	default:
		return false
	}
}

// Terminal reports whether no further transitions are possible.
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionFailed
}

// Session is one charging episode on a charge point.
type Session struct {
	ID                int64           `db:"id" json:"id"`
	ChargePointID     string          `db:"charge_point_id" json:"chargePointId"`
	ConnectorID       int             `db:"connector_id" json:"connectorId"`
	AccountID         *int64          `db:"account_id" json:"accountId,omitempty"`
	Funding           Funding         `json:"funding"`
	Status            SessionStatus   `db:"status" json:"status"`
	TransactionNumber int             `db:"transaction_number" json:"transactionNumber"`
	MeterStartKWh     decimal.Decimal `db:"meter_start_kwh" json:"meterStartKwh"`
	EnergyKWh         decimal.Decimal `db:"energy_kwh" json:"energyKwh"`
	Cost              decimal.Decimal `db:"cost" json:"cost"`
	StartTime         *time.Time      `db:"start_time" json:"startTime,omitempty"`
	EndTime           *time.Time      `db:"end_time" json:"endTime,omitempty"`
	StopReason        string          `db:"stop_reason" json:"stopReason,omitempty"`
	CreatedAt         time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updatedAt"`
}

// Account returns the owning account or zero when none is bound.
func (s *Session) Account() int64 {
	if s.AccountID == nil {
		return 0
	}
	return *s.AccountID
}

// Activation carries the values written when a session becomes active.
type Activation struct {
	StartTime         time.Time
	MeterStartKWh     decimal.Decimal
	TransactionNumber int
	ConnectorID       int
}

// Completion carries the terminal values written when a session is settled.
type Completion struct {
	Status     SessionStatus
	EndTime    time.Time
	EnergyKWh  decimal.Decimal
	Cost       decimal.Decimal
	StopReason string
}
