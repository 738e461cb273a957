package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ChargePoint is a physical charger addressed by its OCPP identity.
type ChargePoint struct {
	ID              string          `db:"id" json:"id"`
	StationID       string          `db:"station_id" json:"stationId"`
	Vendor          string          `db:"vendor" json:"vendor"`
	Model           string          `db:"model" json:"model"`
	FirmwareVersion string          `db:"firmware_version" json:"firmwareVersion"`
	RatePerKWh      decimal.Decimal `db:"rate_per_kwh" json:"ratePerKwh"`
	Occupied        bool            `db:"occupied" json:"occupied"`
	Available       bool            `db:"available" json:"available"`
	LastHeartbeat   time.Time       `db:"last_heartbeat" json:"lastHeartbeat"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updatedAt"`
}

// BootInfo is the descriptive metadata a charger reports on boot.
type BootInfo struct {
	Vendor          string
	Model           string
	FirmwareVersion string
}

// Card is an RFID identifier bound to a wallet account.
type Card struct {
	Number    string `db:"number" json:"number"`
	AccountID int64  `db:"account_id" json:"accountId"`
	Active    bool   `db:"active" json:"active"`
}
