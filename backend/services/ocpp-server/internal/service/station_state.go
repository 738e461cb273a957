package service

import (
	"sync"
	"time"
)

// ConnectorState holds the last reported connector status.
type ConnectorState struct {
	Status    string    `json:"status"`
	ErrorCode string    `json:"errorCode,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// StationRuntimeState keeps runtime info per charge point.
type StationRuntimeState struct {
	Status     string                 `json:"status"`
	Vendor     string                 `json:"vendor,omitempty"`
	Model      string                 `json:"model,omitempty"`
	BootedAt   time.Time              `json:"bootedAt,omitempty"`
	Connectors map[int]ConnectorState `json:"connectors"`
}

// StationState keeps track of in-memory charge point data for quick lookups.
type StationState struct {
	mu       sync.RWMutex
	stations map[string]*StationRuntimeState
	now      func() time.Time
}

// NewStationState returns state store.
func NewStationState() *StationState {
	return &StationState{
		stations: make(map[string]*StationRuntimeState),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *StationState) station(id string) *StationRuntimeState {
	state, ok := s.stations[id]
	if !ok {
		state = &StationRuntimeState{Connectors: make(map[int]ConnectorState)}
		s.stations[id] = state
	}
	return state
}

// RecordBoot stores boot metadata.
func (s *StationState) RecordBoot(stationID, vendor, model string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.station(stationID)
	state.Vendor = vendor
	state.Model = model
	state.BootedAt = s.now()
}

// UpdateStation updates station status.
func (s *StationState) UpdateStation(stationID, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.station(stationID).Status = status
}

// UpdateConnector updates connector-level status.
func (s *StationState) UpdateConnector(stationID string, connectorID int, status, errorCode string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.station(stationID).Connectors[connectorID] = ConnectorState{
		Status:    status,
		ErrorCode: errorCode,
		UpdatedAt: s.now(),
	}
}

// Get returns a copy of one station's state.
func (s *StationState) Get(stationID string) (StationRuntimeState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.stations[stationID]
	if !ok {
		return StationRuntimeState{}, false
	}
	return copyState(st), true
}

// Snapshot returns a copy of current state map.
func (s *StationState) Snapshot() map[string]StationRuntimeState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make(map[string]StationRuntimeState, len(s.stations))
	for id, st := range s.stations {
		result[id] = copyState(st)
	}
	return result
}

func copyState(st *StationRuntimeState) StationRuntimeState {
	out := *st
	out.Connectors = make(map[int]ConnectorState, len(st.Connectors))
	for cid, conn := range st.Connectors {
		out.Connectors[cid] = conn
	}
	return out
}
