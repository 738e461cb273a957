package sessions

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"chargehub/backend/services/ocpp-server/internal/models"
)

var (
	// ErrNoPaymentMethod means no funding source could claim a StartTransaction.
	ErrNoPaymentMethod = errors.New("no valid payment method")
	// ErrSessionNotFound is returned when a referenced session does not exist.
	ErrSessionNotFound = errors.New("session not found")
	// ErrUnknownChargePoint is returned when a charge point is not registered.
	ErrUnknownChargePoint = errors.New("unknown charge point")
)

// SessionStore persists sessions. Activate, RecordProgress and Finish are compare-and-set
// operations that report whether the row was changed.
type SessionStore interface {
	Create(ctx context.Context, s *models.Session) error
	Get(ctx context.Context, id int64) (*models.Session, error)
	FindOpen(ctx context.Context, chargePointID string) (*models.Session, error)
	Activate(ctx context.Context, id int64, a models.Activation) (bool, error)
	RecordProgress(ctx context.Context, id int64, energyKWh, cost decimal.Decimal) (bool, error)
	Finish(ctx context.Context, id int64, from models.SessionStatus, c models.Completion) (bool, error)
}

// ReservationStore reads and links prepaid reservations.
type ReservationStore interface {
	Get(ctx context.Context, id int64) (*models.Reservation, error)
	LatestPaidUnlinked(ctx context.Context, chargePointID string) (*models.Reservation, error)
	Link(ctx context.Context, reservationID, sessionID int64) (bool, error)
	Transition(ctx context.Context, id int64, from, to models.ReservationStatus) (bool, error)
}

// ChargePointStore reads charge points and flips their occupancy flags.
type ChargePointStore interface {
	Get(ctx context.Context, id string) (*models.ChargePoint, error)
	SetOccupancy(ctx context.Context, id string, occupied, available bool) error
}

// CardDirectory resolves loyalty cards.
type CardDirectory interface {
	Card(ctx context.Context, number string) (*models.Card, error)
}

// Ledger is the subset of the wallet ledger used by session settlement.
type Ledger interface {
	HasSufficient(ctx context.Context, accountID int64, amount decimal.Decimal) (bool, error)
	Debit(ctx context.Context, accountID int64, amount decimal.Decimal, method models.PaymentMethod, sessionID *int64) (*models.LedgerEntry, error)
	Credit(ctx context.Context, accountID int64, amount decimal.Decimal, method models.PaymentMethod, sessionID *int64) (*models.LedgerEntry, error)
}

// AutoStopScheduler arranges and cancels one-shot auto-stops.
type AutoStopScheduler interface {
	Schedule(sessionID int64, delayMinutes int, reason string)
	Cancel(sessionID int64) bool
}

// Notifier delivers fire-and-forget messages. Implementations must not block.
type Notifier interface {
	NotifyUser(ctx context.Context, accountID int64, title, message string)
	NotifyAdmins(ctx context.Context, title, message string)
}

// RevenueSink appends settled session facts.
type RevenueSink interface {
	Record(ctx context.Context, rev models.Revenue) error
}

// RemoteStopper asks a charge point to end a transaction it is still dispensing.
type RemoteStopper interface {
	RemoteStop(ctx context.Context, chargePointID string, transactionNumber int) error
}

// ActiveSessionCache mirrors active sessions for fast lookups by transaction number.
type ActiveSessionCache interface {
	Save(ctx context.Context, s *models.Session) error
	Delete(ctx context.Context, transactionNumber int) error
}

// Config holds the business constants shared by the resolver and finalizer.
type Config struct {
	MinCardBalance           decimal.Decimal
	DeliveryRateKWhPerMinute decimal.Decimal
	Currency                 string
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		MinCardBalance:           decimal.NewFromInt(10),
		DeliveryRateKWhPerMinute: decimal.RequireFromString("0.075"),
		Currency:                 "CAD",
	}
}

// Deps bundles the collaborators. Optional ones (Scheduler, Notifier, Revenue, RemoteStop,
// Cache) may be nil.
type Deps struct {
	Sessions     SessionStore
	Reservations ReservationStore
	ChargePoints ChargePointStore
	Cards        CardDirectory
	Ledger       Ledger
	Scheduler    AutoStopScheduler
	Notifier     Notifier
	Revenue      RevenueSink
	RemoteStop   RemoteStopper
	Cache        ActiveSessionCache
	Logger       *zap.Logger
	Now          func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Scheduler == nil {
		d.Scheduler = nopScheduler{}
	}
	if d.Notifier == nil {
		d.Notifier = nopNotifier{}
	}
	if d.Revenue == nil {
		d.Revenue = nopRevenue{}
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Now == nil {
		d.Now = func() time.Time { return time.Now().UTC() }
	}
	return d
}

type nopScheduler struct{}

func (nopScheduler) Schedule(int64, int, string) {}
func (nopScheduler) Cancel(int64) bool         { return false }

type nopNotifier struct{}

func (nopNotifier) NotifyUser(context.Context, int64, string, string) {}
func (nopNotifier) NotifyAdmins(context.Context, string, string)      {}

type nopRevenue struct{}

func (nopRevenue) Record(context.Context, models.Revenue) error { return nil }

// AutoStopDelay returns the minutes after which a prepaid session must be stopped:
// the plan duration, or the package energy divided by the delivery rate rounded up.
func AutoStopDelay(f models.Funding, deliveryRate decimal.Decimal) (int, bool) {
	switch f.Source {
	case models.FundingPlan:
		if f.Plan == nil {
			return 0, false
		}
		return f.Plan.DurationMinutes, true
	case models.FundingEnergyPackage:
		if f.Package == nil || !deliveryRate.IsPositive() {
			return 0, false
		}
		return int(f.Package.SelectedKWh.Div(deliveryRate).Ceil().IntPart()), true
	}
	return 0, false
}
