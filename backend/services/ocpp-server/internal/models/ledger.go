package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// EntryType is the direction of a ledger entry.
type EntryType string

const (
	EntryCredit EntryType = "credit"
	EntryDebit  EntryType = "debit"
)

// EntryStatus marks whether an entry affected the balance.
type EntryStatus string

const (
	EntrySuccess EntryStatus = "success"
	EntryFailed  EntryStatus = "failed"
)

// PaymentMethod labels why money moved.
type PaymentMethod string

const (
	MethodCard          PaymentMethod = "card"
	MethodPlan          PaymentMethod = "plan"
	MethodEnergyPackage PaymentMethod = "energy_package"
	MethodTopUp         PaymentMethod = "topup"
	MethodRefund        PaymentMethod = "refund"
	MethodExtraCharge   PaymentMethod = "extra_charge"
	MethodAdjustment    PaymentMethod = "adjustment"
)

// Wallet is the stored balance for an account.
type Wallet struct {
	AccountID int64           `db:"account_id" json:"accountId"`
	Balance   decimal.Decimal `db:"balance" json:"balance"`
	UpdatedAt time.Time       `db:"updated_at" json:"updatedAt"`
}

// LedgerEntry is an append-only record of a wallet movement. Amount is signed:
// positive for credits, negative for debits. Tax fields are populated for top-ups only.
type LedgerEntry struct {
	ID        string          `db:"id" json:"id"`
	AccountID int64           `db:"account_id" json:"accountId"`
	Type      EntryType       `db:"type" json:"type"`
	Method    PaymentMethod   `db:"method" json:"method"`
	Status    EntryStatus     `db:"status" json:"status"`
	Amount    decimal.Decimal `db:"amount" json:"amount"`
	Gross     decimal.Decimal `db:"gross" json:"gross"`
	GST       decimal.Decimal `db:"gst" json:"gst"`
	PST       decimal.Decimal `db:"pst" json:"pst"`
	SessionID *int64          `db:"session_id" json:"sessionId,omitempty"`
	CreatedAt time.Time       `db:"created_at" json:"createdAt"`
}

// RevenueSuccess is the status of a revenue row written for a settled session.
const RevenueSuccess = "success"

// Revenue records the settled cost of a completed session.
type Revenue struct {
	SessionID     int64           `json:"sessionId"`
	AccountID     int64           `json:"accountId"`
	ChargePointID string          `json:"chargePointId"`
	StationID     string          `json:"stationId"`
	Funding       FundingSource   `json:"funding"`
	EnergyKWh     decimal.Decimal `json:"energyKwh"`
	Amount        decimal.Decimal `json:"amount"`
	Status        string          `json:"status"`
	CreatedAt     time.Time       `json:"createdAt"`
}
