package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ReservationStatus tracks the payment lifecycle of a prepaid reservation.
type ReservationStatus string

const (
	ReservationPending   ReservationStatus = "PENDING"
	ReservationPaid      ReservationStatus = "PAID"
	ReservationFinalized ReservationStatus = "FINALIZED"
	ReservationRefunded  ReservationStatus = "REFUNDED"
)

// Reservation is a prepaid claim on a specific charge point.
type Reservation struct {
	ID              int64             `db:"id" json:"id"`
	AccountID       int64             `db:"account_id" json:"accountId"`
	ChargePointID   string            `db:"charge_point_id" json:"chargePointId"`
	Kind            FundingSource     `db:"kind" json:"kind"`
	Status          ReservationStatus `db:"status" json:"status"`
	DurationMinutes int               `db:"duration_minutes" json:"durationMinutes,omitempty"`
	SelectedKWh     decimal.Decimal   `db:"selected_kwh" json:"selectedKwh"`
	Amount          decimal.Decimal   `db:"amount" json:"amount"`
	SessionID       *int64            `db:"session_id" json:"sessionId,omitempty"`
	CreatedAt       time.Time         `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time         `db:"updated_at" json:"updatedAt"`
}

// Funding projects the reservation onto the session funding variant.
func (r *Reservation) Funding() Funding {
	if r.Kind == FundingEnergyPackage {
		return Funding{
			Source: FundingEnergyPackage,
			Package: &PackageFunding{
				ReservationID: r.ID,
				SelectedKWh:   r.SelectedKWh,
				PrepaidAmount: r.Amount,
			},
		}
	}
	return Funding{
		Source: FundingPlan,
		Plan: &PlanFunding{
			ReservationID:   r.ID,
			DurationMinutes: r.DurationMinutes,
			PrepaidAmount:   r.Amount,
		},
	}
}
