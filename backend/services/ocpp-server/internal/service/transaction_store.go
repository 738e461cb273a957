package service

import (
	"sync"
	"sync/atomic"
	"time"
)

// TransactionContext keeps runtime info for a transaction.
type TransactionContext struct {
	SessionID     int64
	ChargePointID string
	ConnectorID   int
	MeterStartWh  int64
}

// TransactionStore maps protocol transaction numbers to sessions. It lives for the process
// lifetime only; after a restart devices are resolved through the identity fallback.
type TransactionStore struct {
	mu        sync.RWMutex
	data      map[int]TransactionContext
	bySession map[int64]int
	counter   atomic.Int64
}

// NewTransactionStore returns initialized store. Numbers are seeded from the clock so a
// restarted process does not reissue recent numbers.
func NewTransactionStore() *TransactionStore {
	s := &TransactionStore{
		data:      make(map[int]TransactionContext),
		bySession: make(map[int64]int),
	}
	s.counter.Store(time.Now().Unix() % 1_000_000_000)
	return s
}

// Next mints a fresh transaction number.
func (s *TransactionStore) Next() int {
	return int(s.counter.Add(1) % (1 << 31))
}

// Set stores context for transaction.
func (s *TransactionStore) Set(txID int, ctx TransactionContext) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.data[txID]; ok {
		delete(s.bySession, prev.SessionID)
	}
	s.data[txID] = ctx
	s.bySession[ctx.SessionID] = txID
}

// Get returns context and bool.
func (s *TransactionStore) Get(txID int) (TransactionContext, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ctx, ok := s.data[txID]
	return ctx, ok
}

// BySession returns the transaction number mapped to a session.
func (s *TransactionStore) BySession(sessionID int64) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.bySession[sessionID]
	return tx, ok
}

// Resolve maps a transaction number to a session id, falling back to treating the number
// itself as the session id when no mapping exists.
func (s *TransactionStore) Resolve(txID int) (TransactionContext, bool) {
	if ctx, ok := s.Get(txID); ok {
		return ctx, true
	}
	return TransactionContext{SessionID: int64(txID)}, false
}

// Delete removes transaction context.
func (s *TransactionStore) Delete(txID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ctx, ok := s.data[txID]; ok {
		if s.bySession[ctx.SessionID] == txID {
			delete(s.bySession, ctx.SessionID)
		}
		delete(s.data, txID)
	}
}

// Len returns the number of open transactions.
func (s *TransactionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
