package service

import (
	"sync"
	"testing"
)

func TestTransactionStoreLifecycle(t *testing.T) {
	s := NewTransactionStore()
	tx := s.Next()
	s.Set(tx, TransactionContext{SessionID: 12, ChargePointID: "CP-1", MeterStartWh: 1000})

	ctx, ok := s.Resolve(tx)
	if !ok || ctx.SessionID != 12 || ctx.MeterStartWh != 1000 {
		t.Fatalf("unexpected context %+v ok=%v", ctx, ok)
	}
	if got, ok := s.BySession(12); !ok || got != tx {
		t.Fatalf("reverse lookup failed: %d %v", got, ok)
	}

	s.Delete(tx)
	if _, ok := s.Get(tx); ok {
		t.Fatalf("expected mapping removed")
	}
	if _, ok := s.BySession(12); ok {
		t.Fatalf("expected reverse mapping removed")
	}
}

func TestTransactionStoreResolveFallsBackToIdentity(t *testing.T) {
	s := NewTransactionStore()
	ctx, ok := s.Resolve(77)
	if ok {
		t.Fatalf("fallback must report a missing mapping")
	}
	if ctx.SessionID != 77 {
		t.Fatalf("expected identity fallback, got %d", ctx.SessionID)
	}
}

func TestTransactionStoreNextIsUnique(t *testing.T) {
	s := NewTransactionStore()
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[int]bool)
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n := s.Next()
			mu.Lock()
			defer mu.Unlock()
			if seen[n] {
				t.Errorf("duplicate transaction number %d", n)
			}
			seen[n] = true
		}()
	}
	wg.Wait()
}

func TestStationStateSnapshotIsCopy(t *testing.T) {
	s := NewStationState()
	s.UpdateStation("CP-1", "Available")
	s.UpdateConnector("CP-1", 1, "Charging", "NoError")

	snap := s.Snapshot()
	snap["CP-1"].Connectors[1] = ConnectorState{Status: "Faulted"}

	st, _ := s.Get("CP-1")
	if st.Connectors[1].Status != "Charging" {
		t.Fatalf("snapshot mutation leaked into state")
	}
}
