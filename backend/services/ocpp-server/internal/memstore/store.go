// Package memstore is an in-process implementation of every persistence port, used by the
// memory storage driver and by tests.
package memstore

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"chargehub/backend/services/ocpp-server/internal/models"
)

// Store keeps all records behind a single mutex. Wallet mutations additionally hold a
// per-account lock for the duration of the caller's read-check-write callback.
type Store struct {
	mu sync.Mutex

	chargePoints map[string]models.ChargePoint
	cards        map[string]models.Card
	sessions     map[int64]models.Session
	reservations map[int64]models.Reservation
	wallets      map[int64]models.Wallet
	entries      map[int64][]models.LedgerEntry
	revenues     []models.Revenue
	messages     []models.OCPPMessage

	accountLocks map[int64]*sync.Mutex

	nextSessionID     int64
	nextReservationID int64
	now               func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{
		chargePoints: make(map[string]models.ChargePoint),
		cards:        make(map[string]models.Card),
		sessions:     make(map[int64]models.Session),
		reservations: make(map[int64]models.Reservation),
		wallets:      make(map[int64]models.Wallet),
		entries:      make(map[int64][]models.LedgerEntry),
		accountLocks: make(map[int64]*sync.Mutex),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// PutChargePoint inserts or replaces a charge point.
func (s *Store) PutChargePoint(cp models.ChargePoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chargePoints[cp.ID] = cp
}

// PutCard inserts or replaces a card.
func (s *Store) PutCard(card models.Card) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cards[card.Number] = card
}

// PutReservation stores r, assigning an id when r.ID is zero.
func (s *Store) PutReservation(r models.Reservation) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == 0 {
		s.nextReservationID++
		r.ID = s.nextReservationID
	} else if r.ID > s.nextReservationID {
		s.nextReservationID = r.ID
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}
	r.UpdatedAt = r.CreatedAt
	s.reservations[r.ID] = r
	return r.ID
}

// ChargePoints is the charge point view of the store.
type ChargePoints struct{ s *Store }

// ChargePoints returns the charge point view.
func (s *Store) ChargePoints() ChargePoints { return ChargePoints{s: s} }

func (v ChargePoints) Get(ctx context.Context, id string) (*models.ChargePoint, error) {
	s := v.s
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.chargePoints[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &cp, nil
}

func (v ChargePoints) SetOccupancy(ctx context.Context, id string, occupied, available bool) error {
	return v.s.updateChargePoint(id, func(cp *models.ChargePoint) {
		cp.Occupied = occupied
		cp.Available = available
	})
}

func (v ChargePoints) SetAvailability(ctx context.Context, id string, available bool) error {
	return v.s.updateChargePoint(id, func(cp *models.ChargePoint) {
		cp.Available = available
	})
}

func (v ChargePoints) RecordBoot(ctx context.Context, id string, info models.BootInfo) error {
	s := v.s
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.chargePoints[id]
	if !ok {
		cp = models.ChargePoint{ID: id, StationID: id}
	}
	cp.Vendor = info.Vendor
	cp.Model = info.Model
	cp.FirmwareVersion = info.FirmwareVersion
	cp.LastHeartbeat = s.now()
	cp.UpdatedAt = cp.LastHeartbeat
	s.chargePoints[id] = cp
	return nil
}

func (v ChargePoints) RecordHeartbeat(ctx context.Context, id string, at time.Time) error {
	err := v.s.updateChargePoint(id, func(cp *models.ChargePoint) {
		cp.LastHeartbeat = at
	})
	if errors.Is(err, models.ErrNotFound) {
		return nil
	}
	return err
}

func (s *Store) updateChargePoint(id string, fn func(cp *models.ChargePoint)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.chargePoints[id]
	if !ok {
		return models.ErrNotFound
	}
	fn(&cp)
	cp.UpdatedAt = s.now()
	s.chargePoints[id] = cp
	return nil
}

// List returns every charge point ordered by id.
func (v ChargePoints) List(ctx context.Context) ([]models.ChargePoint, error) {
	s := v.s
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ChargePoint, 0, len(s.chargePoints))
	for _, cp := range s.chargePoints {
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) Card(ctx context.Context, number string) (*models.Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	card, ok := s.cards[number]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &card, nil
}

// ---- wallets ----

func (s *Store) accountLock(accountID int64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.accountLocks[accountID]
	if !ok {
		l = &sync.Mutex{}
		s.accountLocks[accountID] = l
	}
	return l
}

func (s *Store) WithWallet(ctx context.Context, accountID int64, fn func(w *models.Wallet) (*models.LedgerEntry, error)) error {
	lock := s.accountLock(accountID)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	w, ok := s.wallets[accountID]
	s.mu.Unlock()
	if !ok {
		w = models.Wallet{AccountID: accountID, Balance: decimal.Zero}
	}

	entry, err := fn(&w)
	if err != nil || entry == nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	w.UpdatedAt = s.now()
	s.wallets[accountID] = w
	s.entries[accountID] = append(s.entries[accountID], *entry)
	return nil
}

func (s *Store) Wallet(ctx context.Context, accountID int64) (*models.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[accountID]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &w, nil
}

func (s *Store) Entries(ctx context.Context, accountID int64) ([]models.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.LedgerEntry, len(s.entries[accountID]))
	copy(out, s.entries[accountID])
	return out, nil
}

// ---- revenue and message log ----

func (s *Store) Record(ctx context.Context, rev models.Revenue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revenues = append(s.revenues, rev)
	return nil
}

// Revenues returns recorded revenue rows.
func (s *Store) Revenues() []models.Revenue {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Revenue, len(s.revenues))
	copy(out, s.revenues)
	return out
}

// Save appends a logged OCPP frame.
func (s *Store) Save(ctx context.Context, stationID, direction, messageType string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, models.OCPPMessage{
		StationID:   stationID,
		Direction:   direction,
		MessageType: messageType,
		Payload:     string(payload),
		CreatedAt:   s.now(),
	})
	return nil
}

// Recent returns the latest frames of a station, newest first.
func (s *Store) Recent(ctx context.Context, stationID string, limit int) ([]models.OCPPMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.OCPPMessage
	for i := len(s.messages) - 1; i >= 0 && len(out) < limit; i-- {
		if s.messages[i].StationID == stationID {
			out = append(out, s.messages[i])
		}
	}
	return out, nil
}

func sortByCreated(items []models.Reservation) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID > items[j].ID
		}
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
}
