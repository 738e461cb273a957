package memstore

import (
	"context"

	"github.com/shopspring/decimal"

	"chargehub/backend/services/ocpp-server/internal/models"
)

// Sessions is the session view of the store.
type Sessions struct{ s *Store }

// Sessions returns the session view.
func (s *Store) Sessions() Sessions { return Sessions{s: s} }

func (v Sessions) Create(ctx context.Context, session *models.Session) error {
	s := v.s
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSessionID++
	session.ID = s.nextSessionID
	now := s.now()
	session.CreatedAt = now
	session.UpdatedAt = now
	s.sessions[session.ID] = *session
	return nil
}

func (v Sessions) Get(ctx context.Context, id int64) (*models.Session, error) {
	s := v.s
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &session, nil
}

func (v Sessions) FindOpen(ctx context.Context, chargePointID string) (*models.Session, error) {
	s := v.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var found *models.Session
	for _, session := range s.sessions {
		if session.ChargePointID != chargePointID {
			continue
		}
		if session.Status != models.SessionInitiated && session.Status != models.SessionActive {
			continue
		}
		if found == nil || session.ID > found.ID {
			cp := session
			found = &cp
		}
	}
	if found == nil {
		return nil, models.ErrNotFound
	}
	return found, nil
}

func (v Sessions) Activate(ctx context.Context, id int64, a models.Activation) (bool, error) {
	return v.update(id, func(session *models.Session) bool {
		if session.Status != models.SessionInitiated {
			return false
		}
		start := a.StartTime
		session.Status = models.SessionActive
		session.StartTime = &start
		session.MeterStartKWh = a.MeterStartKWh
		session.TransactionNumber = a.TransactionNumber
		if a.ConnectorID != 0 {
			session.ConnectorID = a.ConnectorID
		}
		return true
	})
}

func (v Sessions) RecordProgress(ctx context.Context, id int64, energyKWh, cost decimal.Decimal) (bool, error) {
	return v.update(id, func(session *models.Session) bool {
		if session.Status != models.SessionActive || energyKWh.LessThan(session.EnergyKWh) {
			return false
		}
		session.EnergyKWh = energyKWh
		session.Cost = cost
		return true
	})
}

func (v Sessions) Finish(ctx context.Context, id int64, from models.SessionStatus, c models.Completion) (bool, error) {
	return v.update(id, func(session *models.Session) bool {
		if session.Status != from || !from.CanTransitionTo(c.Status) {
			return false
		}
		end := c.EndTime
		session.Status = c.Status
		session.EndTime = &end
		session.EnergyKWh = c.EnergyKWh
		session.Cost = c.Cost
		session.StopReason = c.StopReason
		return true
	})
}

func (v Sessions) update(id int64, fn func(session *models.Session) bool) (bool, error) {
	s := v.s
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return false, models.ErrNotFound
	}
	if !fn(&session) {
		return false, nil
	}
	session.UpdatedAt = s.now()
	s.sessions[id] = session
	return true, nil
}

// Reservations is the reservation view of the store.
type Reservations struct{ s *Store }

// Reservations returns the reservation view.
func (s *Store) Reservations() Reservations { return Reservations{s: s} }

func (v Reservations) Get(ctx context.Context, id int64) (*models.Reservation, error) {
	s := v.s
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reservations[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &r, nil
}

func (v Reservations) LatestPaidUnlinked(ctx context.Context, chargePointID string) (*models.Reservation, error) {
	s := v.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var candidates []models.Reservation
	for _, r := range s.reservations {
		if r.ChargePointID == chargePointID && r.Status == models.ReservationPaid && r.SessionID == nil {
			candidates = append(candidates, r)
		}
	}
	if len(candidates) == 0 {
		return nil, models.ErrNotFound
	}
	sortByCreated(candidates)
	return &candidates[0], nil
}

func (v Reservations) Link(ctx context.Context, reservationID, sessionID int64) (bool, error) {
	return v.update(reservationID, func(r *models.Reservation) bool {
		if r.Status != models.ReservationPaid || r.SessionID != nil {
			return false
		}
		id := sessionID
		r.SessionID = &id
		return true
	})
}

func (v Reservations) Transition(ctx context.Context, id int64, from, to models.ReservationStatus) (bool, error) {
	return v.update(id, func(r *models.Reservation) bool {
		if r.Status != from {
			return false
		}
		r.Status = to
		return true
	})
}

func (v Reservations) update(id int64, fn func(r *models.Reservation) bool) (bool, error) {
	s := v.s
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reservations[id]
	if !ok {
		return false, models.ErrNotFound
	}
	if !fn(&r) {
		return false, nil
	}
	r.UpdatedAt = s.now()
	s.reservations[id] = r
	return true, nil
}

// PutSession stores a session as-is, assigning an id when it has none.
func (s *Store) PutSession(session models.Session) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session.ID == 0 {
		s.nextSessionID++
		session.ID = s.nextSessionID
	} else if session.ID > s.nextSessionID {
		s.nextSessionID = session.ID
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = s.now()
	}
	session.UpdatedAt = session.CreatedAt
	s.sessions[session.ID] = session
	return session.ID
}
